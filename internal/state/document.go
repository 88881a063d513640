// Package state defines the document state driven by scenario files: a
// nested map addressed by dotted paths, the actions that change it, and the
// reducer that applies them.
package state

import (
	"maps"
	"reflect"
	"slices"
	"strings"

	"github.com/gxo-labs/rdx/internal/util"
)

// Document is an immutable nested map. Every write returns a new Document
// that shares untouched subtrees with the old one; values handed in or out
// are deep-copied, so no caller can mutate a Document in place.
type Document struct {
	data map[string]interface{}
}

// NewDocument copies data into a new Document.
func NewDocument(data map[string]interface{}) Document {
	if data == nil {
		return Document{data: map[string]interface{}{}}
	}
	return Document{data: util.DeepCopy(data).(map[string]interface{})}
}

// SplitPath splits a dotted path into its segments. It reports false for an
// empty path or one with an empty segment.
func SplitPath(path string) ([]string, bool) {
	if path == "" {
		return nil, false
	}
	parts := strings.Split(path, ".")
	for _, p := range parts {
		if p == "" {
			return nil, false
		}
	}
	return parts, true
}

func (d Document) lookup(parts []string) (interface{}, bool) {
	var cur interface{} = d.data
	for _, p := range parts {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		if cur, ok = m[p]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// Get returns a copy of the value at path.
func (d Document) Get(path string) (interface{}, bool) {
	parts, ok := SplitPath(path)
	if !ok {
		return nil, false
	}
	v, ok := d.lookup(parts)
	if !ok {
		return nil, false
	}
	return util.DeepCopy(v), true
}

// Number returns the value at path as a float64 if it is numeric.
func (d Document) Number(path string) (float64, bool) {
	parts, ok := SplitPath(path)
	if !ok {
		return 0, false
	}
	v, ok := d.lookup(parts)
	if !ok {
		return 0, false
	}
	return toFloat(v)
}

// Set returns a Document with value stored at path. Missing intermediate maps
// are created and non-map intermediates are replaced. An invalid path
// returns d unchanged.
func (d Document) Set(path string, value interface{}) Document {
	parts, ok := SplitPath(path)
	if !ok {
		return d
	}
	return d.with(parts, util.DeepCopy(value))
}

func (d Document) with(parts []string, value interface{}) Document {
	root := maps.Clone(d.data)
	if root == nil {
		root = map[string]interface{}{}
	}
	cur := root
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]interface{})
		if ok {
			next = maps.Clone(next)
		} else {
			next = map[string]interface{}{}
		}
		cur[p] = next
		cur = next
	}
	cur[parts[len(parts)-1]] = value
	return Document{data: root}
}

// Delete returns a Document without the value at path. Emptied parent maps
// are kept. If path does not exist, d is returned.
func (d Document) Delete(path string) Document {
	parts, ok := SplitPath(path)
	if !ok {
		return d
	}
	if _, exists := d.lookup(parts); !exists {
		return d
	}
	root := maps.Clone(d.data)
	cur := root
	for _, p := range parts[:len(parts)-1] {
		next := maps.Clone(cur[p].(map[string]interface{}))
		cur[p] = next
		cur = next
	}
	delete(cur, parts[len(parts)-1])
	return Document{data: root}
}

// All returns a deep copy of the whole document.
func (d Document) All() map[string]interface{} {
	if d.data == nil {
		return map[string]interface{}{}
	}
	return util.DeepCopy(d.data).(map[string]interface{})
}

// Keys returns the sorted top-level keys.
func (d Document) Keys() []string {
	return slices.Sorted(maps.Keys(d.data))
}

// Len returns the number of top-level keys.
func (d Document) Len() int { return len(d.data) }

// Equal reports whether both documents hold the same values.
func (d Document) Equal(other Document) bool {
	if len(d.data) == 0 && len(other.data) == 0 {
		return true
	}
	return reflect.DeepEqual(d.data, other.data)
}

// MarshalYAML encodes the document as its underlying mapping.
func (d Document) MarshalYAML() (interface{}, error) {
	return d.All(), nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}
