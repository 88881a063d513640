package config

import (
	"fmt"
	"regexp"
	"time"

	gxoerrors "github.com/gxo-labs/rdx/pkg/rdx/v1/errors"
)

// Pre-compiled regex for middleware type names.
var middlewareTypeRegex = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// Pre-compiled regex for scenario names. Allows dots for versioned names.
var scenarioNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// Pre-compiled regex for dotted document paths.
var pathRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+(\.[a-zA-Z0-9_-]+)*$`)

// ValidPath reports whether path is a well-formed dotted document path.
func ValidPath(path string) bool {
	return pathRegex.MatchString(path)
}

// ValidateScenario performs the checks the JSON schema cannot express and
// returns every problem found.
func ValidateScenario(s *Scenario) []error {
	var errs []error
	// add records a problem and keeps going; the caller reports them together.
	add := func(format string, args ...interface{}) {
		errs = append(errs, gxoerrors.NewValidationError(fmt.Sprintf(format, args...), nil))
	}

	// --- Scenario level ---
	// An empty name is allowed; the runner substitutes a default.
	if s.Name != "" && !scenarioNameRegex.MatchString(s.Name) {
		add("name '%s' contains invalid characters (allowed: alphanumeric, underscore, hyphen, dot)", s.Name)
	}
	if len(s.Actions) == 0 {
		add("scenario must contain at least one action in 'actions' list")
	}

	// --- Middleware ---
	// Only the name shape is checked here. Whether the type is registered is
	// decided by the runner's registry at build time.
	for i, mw := range s.Middleware {
		if !middlewareTypeRegex.MatchString(mw.Type) {
			add("middleware %d: type '%s' is not a valid middleware name", i, mw.Type)
		}
	}

	// --- Actions (recursive for batches) ---
	for i := range s.Actions {
		errs = append(errs, validateAction(fmt.Sprintf("action %d", i), &s.Actions[i])...)
	}

	// --- Watch and expect paths ---
	seenWatch := make(map[string]struct{}, len(s.Watch))
	for _, path := range s.Watch {
		if !ValidPath(path) {
			add("watch: '%s' is not a valid path", path)
			continue
		}
		if _, dup := seenWatch[path]; dup {
			add("watch: duplicate path '%s'", path)
		}
		seenWatch[path] = struct{}{}
	}

	for path := range s.Expect {
		if !ValidPath(path) {
			add("expect: '%s' is not a valid path", path)
		}
	}

	// --- Settle timeout ---
	// Empty means DefaultSettleTimeout.
	if s.SettleTimeout != "" {
		d, err := time.ParseDuration(s.SettleTimeout)
		if err != nil {
			add("invalid format for 'settle_timeout': %v", err)
		} else if d <= 0 {
			add("'settle_timeout' must be positive")
		}
	}

	return errs
}

// validateAction checks the field combination of one action. display is the
// position used in messages ("action 2", "action 2.0" inside a batch).
func validateAction(display string, a *ActionSpec) []error {
	var errs []error
	add := func(format string, args ...interface{}) {
		errs = append(errs, gxoerrors.NewValidationError(display+": "+fmt.Sprintf(format, args...), nil))
	}

	// Every action except batch targets a document path.
	needsPath := a.Type != ActionBatch
	if needsPath && !ValidPath(a.Path) {
		if a.Path == "" {
			add("'path' is required for '%s'", a.Type)
		} else {
			add("'%s' is not a valid path", a.Path)
		}
	}
	if !needsPath && a.Path != "" {
		add("'path' is not allowed for '%s'", a.Type)
	}
	// Fields that belong to a different action type are rejected rather than
	// ignored.
	if a.Value != nil && a.Type != ActionSet && a.Type != ActionAppend {
		add("'value' is only allowed for 'set' and 'append'")
	}
	if a.By != nil && a.Type != ActionIncrement {
		add("'by' is only allowed for 'increment'")
	}
	if a.Type != ActionExec && (a.Command != "" || len(a.Args) > 0 || a.WorkingDir != "" || len(a.Environment) > 0) {
		add("'command', 'args', 'working_dir' and 'environment' are only allowed for 'exec'")
	}
	if a.Type == ActionExec && a.Command == "" {
		add("'command' is required for 'exec'")
	}
	if a.Type != ActionBatch && len(a.Actions) > 0 {
		add("'actions' is only allowed for 'batch'")
	}
	if a.Type == ActionBatch {
		if len(a.Actions) == 0 {
			add("'batch' must contain at least one action")
		}
		// Nested actions get their own prefix so messages point at them.
		for i := range a.Actions {
			errs = append(errs, validateAction(fmt.Sprintf("%s.%d", display, i), &a.Actions[i])...)
		}
	}
	return errs
}
