// Package secrets resolves secret values from the host environment and masks
// them wherever they would otherwise end up in the document or the logs.
package secrets

import (
	"os"
	"slices"
	"strings"
	"sync"

	gxoerrors "github.com/gxo-labs/rdx/pkg/rdx/v1/errors"
)

// Placeholder replaces every occurrence of a tracked value.
const Placeholder = "[REDACTED]"

// Tracker remembers secret values so that output containing them can be
// masked. It is safe for concurrent use.
type Tracker struct {
	mu     sync.RWMutex
	values map[string]struct{}
}

func NewTracker() *Tracker {
	return &Tracker{values: make(map[string]struct{})}
}

// Add marks value as secret. Empty strings are ignored.
func (t *Tracker) Add(value string) {
	if value == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.values[value] = struct{}{}
}

// Len reports how many distinct values are tracked.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.values)
}

// Contains reports whether input contains any tracked value as a substring.
func (t *Tracker) Contains(input string) bool {
	if input == "" {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	for v := range t.values {
		if strings.Contains(input, v) {
			return true
		}
	}
	return false
}

// Mask replaces every tracked value in input with Placeholder. Longer values
// are replaced first so a secret that contains another is masked whole.
func (t *Tracker) Mask(input string) string {
	if input == "" {
		return input
	}
	t.mu.RLock()
	ordered := make([]string, 0, len(t.values))
	for v := range t.values {
		ordered = append(ordered, v)
	}
	t.mu.RUnlock()
	slices.SortFunc(ordered, func(a, b string) int { return len(b) - len(a) })

	for _, v := range ordered {
		input = strings.ReplaceAll(input, v, Placeholder)
	}
	return input
}

// ResolveEnv looks up each name in the host environment, tracks the values
// and returns them keyed by name. A missing variable is a ValidationError.
func (t *Tracker) ResolveEnv(names []string) (map[string]string, error) {
	out := make(map[string]string, len(names))
	for _, name := range names {
		value, found := os.LookupEnv(name)
		if !found {
			return nil, gxoerrors.NewValidationError("secret environment variable '"+name+"' is not set", nil)
		}
		t.Add(value)
		out[name] = value
	}
	return out, nil
}
