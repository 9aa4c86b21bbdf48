package plugin

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrPluginNotFound is returned when the requested kind is not registered.
type ErrPluginNotFound struct {
	Name string
}

func (e ErrPluginNotFound) Error() string {
	return fmt.Sprintf("kind '%s' is not registered", e.Name)
}

// ErrCircularDependency is returned when kinds depend on each other.
type ErrCircularDependency struct {
	Cycle []string
}

func (e ErrCircularDependency) Error() string {
	if len(e.Cycle) == 0 {
		return "circular plugin dependency detected"
	}
	return "circular plugin dependency detected: " + strings.Join(append(append([]string{}, e.Cycle...), e.Cycle[0]), " -> ")
}

// ErrVersionConflict records dependents whose constraint rejects a kind's version.
type ErrVersionConflict struct {
	Plugin        string
	ActualVersion string
	RequiredBy    map[string]string
}

func (e ErrVersionConflict) Error() string {
	conflicts := make([]string, 0, len(e.RequiredBy))
	for dependent, constraint := range e.RequiredBy {
		conflicts = append(conflicts, fmt.Sprintf("%s requires %s", dependent, constraint))
	}
	sort.Strings(conflicts)
	return fmt.Sprintf("version conflict for kind '%s' (actual %s): %s", e.Plugin, e.ActualVersion, strings.Join(conflicts, "; "))
}

// ErrUndeclaredDependency is returned when a kind reaches for a kind it did
// not list in its metadata.
type ErrUndeclaredDependency struct {
	Caller     string
	Dependency string
}

func (e ErrUndeclaredDependency) Error() string {
	return fmt.Sprintf("kind '%s' accessed undeclared dependency '%s'", e.Caller, e.Dependency)
}

// ErrMissingDependency is returned when a declared dependency is not registered.
type ErrMissingDependency struct {
	Plugin     string
	Dependency string
}

func (e ErrMissingDependency) Error() string {
	return fmt.Sprintf("kind '%s' depends on '%s' which is not registered", e.Plugin, e.Dependency)
}

// ResourceError is implemented by errors scoped to one manifest resource.
type ResourceError interface {
	error
	StepID() string
	Unwrap() error
}

// ValidationError wraps a parameter or desired-state problem.
type ValidationError struct {
	ID  string
	Err error
}

func NewValidationError(resourceID string, err error) *ValidationError {
	return &ValidationError{ID: resourceID, Err: err}
}

func (e *ValidationError) Error() string  { return scoped("validation error", e.ID, e.Err) }
func (e *ValidationError) StepID() string { return e.ID }
func (e *ValidationError) Unwrap() error  { return e.Err }

// ExecutionError wraps a failed remote mutation.
type ExecutionError struct {
	ID  string
	Err error
}

func NewExecutionError(resourceID string, err error) *ExecutionError {
	return &ExecutionError{ID: resourceID, Err: err}
}

func (e *ExecutionError) Error() string  { return scoped("execution error", e.ID, e.Err) }
func (e *ExecutionError) StepID() string { return e.ID }
func (e *ExecutionError) Unwrap() error  { return e.Err }

// StateError wraps a failure to read the remote state.
type StateError struct {
	ID  string
	Err error
}

func NewStateError(resourceID string, err error) *StateError {
	return &StateError{ID: resourceID, Err: err}
}

func (e *StateError) Error() string  { return scoped("state error", e.ID, e.Err) }
func (e *StateError) StepID() string { return e.ID }
func (e *StateError) Unwrap() error  { return e.Err }

func scoped(prefix, id string, err error) string {
	if err == nil {
		return prefix + " in resource " + id
	}
	return prefix + " in resource " + id + ": " + err.Error()
}

// AsResourceError extracts the resource-scoped error from a chain.
func AsResourceError(err error) (ResourceError, bool) {
	var re ResourceError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
