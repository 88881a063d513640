package state

import (
	"math"

	rdx "github.com/gxo-labs/rdx/pkg/rdx/v1"
	"github.com/gxo-labs/rdx/pkg/rdx/v1/store"
)

// PathAction is implemented by every action that targets one document path.
type PathAction interface {
	TargetPath() string
}

// SetValue stores Value at Path.
type SetValue struct {
	Path  string
	Value interface{}
}

// DeleteValue removes Path.
type DeleteValue struct {
	Path string
}

// Increment adds By to the number at Path. A missing value counts as zero;
// a non-numeric value is left alone.
type Increment struct {
	Path string
	By   float64
}

// AppendValue appends Value to the list at Path, creating the list when
// Path is missing. A non-list value is left alone.
type AppendValue struct {
	Path  string
	Value interface{}
}

// Batch groups actions. It has no reducer; the batch middleware expands it
// into one dispatch per contained action.
type Batch struct {
	Actions []rdx.Action
}

// Exec requests a command run. It has no reducer; the exec middleware runs
// the command and stores the outcome at Path with a follow-up SetValue.
type Exec struct {
	Path        string
	Command     string
	Args        []string
	WorkingDir  string
	Environment map[string]string
}

func (a SetValue) TargetPath() string    { return a.Path }
func (a DeleteValue) TargetPath() string { return a.Path }
func (a Increment) TargetPath() string   { return a.Path }
func (a AppendValue) TargetPath() string { return a.Path }
func (a Exec) TargetPath() string        { return a.Path }

// Reducer returns the reducer for all document actions.
func Reducer() store.Reducer[Document] {
	return store.Combine(
		store.On(reduceSet),
		store.On(reduceDelete),
		store.On(reduceIncrement),
		store.On(reduceAppend),
	)
}

func reduceSet(d Document, a SetValue) Document {
	return d.Set(a.Path, a.Value)
}

func reduceDelete(d Document, a DeleteValue) Document {
	return d.Delete(a.Path)
}

func reduceIncrement(d Document, a Increment) Document {
	parts, ok := SplitPath(a.Path)
	if !ok {
		return d
	}
	current, exists := d.lookup(parts)
	if !exists {
		return d.with(parts, number(a.By))
	}
	switch n := current.(type) {
	case int:
		if isWhole(a.By) {
			return d.with(parts, n+int(a.By))
		}
	case int64:
		if isWhole(a.By) {
			return d.with(parts, n+int64(a.By))
		}
	}
	f, ok := toFloat(current)
	if !ok {
		return d
	}
	return d.with(parts, number(f+a.By))
}

func reduceAppend(d Document, a AppendValue) Document {
	parts, ok := SplitPath(a.Path)
	if !ok {
		return d
	}
	current, exists := d.lookup(parts)
	if !exists {
		return d.Set(a.Path, []interface{}{a.Value})
	}
	list, ok := current.([]interface{})
	if !ok {
		return d
	}
	next := make([]interface{}, len(list), len(list)+1)
	copy(next, list)
	return d.Set(a.Path, append(next, a.Value))
}

func isWhole(f float64) bool {
	return f == math.Trunc(f) && math.Abs(f) < 1<<53
}

// number keeps whole results as int so documents stay readable.
func number(f float64) interface{} {
	if isWhole(f) {
		return int(f)
	}
	return f
}

// Summary is a projection of a Document listing its top-level keys.
type Summary struct {
	Size int
	Keys []string
}

// SummaryMapper projects a Document onto its Summary.
func SummaryMapper() rdx.Mapper {
	return store.NewMapper("document-summary", func(d Document) (Summary, bool) {
		return Summary{Size: d.Len(), Keys: d.Keys()}, true
	})
}
