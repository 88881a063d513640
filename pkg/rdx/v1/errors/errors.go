package errors

import (
	"errors"
	"fmt"
)

// --- rdx Core Error Types ---

// ErrNoProjection is reported when a subscriber's substate type can neither be
// produced by a registered mapper nor matched directly against the store state.
var ErrNoProjection = errors.New("no projection for substate type")

// ConfigError represents an error encountered while building a store, loading
// a scenario file, or applying store options.
type ConfigError struct {
	Message string
	Cause   error
}

func NewConfigError(message string, cause error) *ConfigError {
	return &ConfigError{Message: message, Cause: cause}
}
func (e *ConfigError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("configuration error: %s", e.Message)
}
func (e *ConfigError) Unwrap() error { return e.Cause }

// ValidationError indicates that some input (scenario structure, schema
// version, middleware parameters, subscriber types) failed validation checks.
type ValidationError struct {
	Message string
	Cause   error
}

func NewValidationError(message string, cause error) *ValidationError {
	return &ValidationError{Message: message, Cause: cause}
}
func (e *ValidationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("validation error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}
func (e *ValidationError) Unwrap() error { return e.Cause }

// MapperConflictError is returned when two mappers target the same substate
// type on one store. It is always detected at construction time.
type MapperConflictError struct {
	Target    string // Go type name of the projected substate
	Existing  string // name of the mapper registered first
	Duplicate string // name of the rejected mapper
}

func NewMapperConflictError(target, existing, duplicate string) *MapperConflictError {
	return &MapperConflictError{Target: target, Existing: existing, Duplicate: duplicate}
}
func (e *MapperConflictError) Error() string {
	return fmt.Sprintf("mapper '%s' conflicts with mapper '%s' for substate type %s", e.Duplicate, e.Existing, e.Target)
}

// ChainMisuseError signals a programming error in a middleware, such as
// invoking the same continuation more than once during one dispatch.
type ChainMisuseError struct {
	Store      string
	ActionType string
	Reason     string
}

func NewChainMisuseError(store, actionType, reason string) *ChainMisuseError {
	return &ChainMisuseError{Store: store, ActionType: actionType, Reason: reason}
}
func (e *ChainMisuseError) Error() string {
	return fmt.Sprintf("middleware chain misuse in store '%s' (action %s): %s", e.Store, e.ActionType, e.Reason)
}

// MiddlewareNotFoundError indicates that a middleware type named in a scenario
// could not be found in the plugin registry.
type MiddlewareNotFoundError struct {
	Name string
}

func NewMiddlewareNotFoundError(name string) *MiddlewareNotFoundError {
	return &MiddlewareNotFoundError{Name: name}
}
func (e *MiddlewareNotFoundError) Error() string {
	return fmt.Sprintf("middleware not found: %s", e.Name)
}

// MiddlewareError describes a failed side effect performed by a middleware.
// The chain never mediates these; middleware translate them into follow-up
// actions and may use this type to carry the failure.
type MiddlewareError struct {
	Middleware string
	Cause      error
}

func NewMiddlewareError(middleware string, cause error) *MiddlewareError {
	return &MiddlewareError{Middleware: middleware, Cause: cause}
}
func (e *MiddlewareError) Error() string {
	if e.Middleware == "" {
		return fmt.Sprintf("middleware side effect failed: %v", e.Cause)
	}
	return fmt.Sprintf("middleware '%s' side effect failed: %v", e.Middleware, e.Cause)
}
func (e *MiddlewareError) Unwrap() error { return e.Cause }

// IsChainMisuse checks if an error is a ChainMisuseError using errors.As.
func IsChainMisuse(err error) bool {
	var misuse *ChainMisuseError
	return errors.As(err, &misuse)
}
