package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

// ParseError represents a manifest parsing failure with optional line metadata.
type ParseError struct {
	Path    string
	Line    int
	Message string
	Err     error
}

// NewParseError constructs a ParseError.
func NewParseError(path string, line int, err error) error {
	message := ""
	if err != nil {
		message = err.Error()
	}
	return &ParseError{Path: path, Line: line, Message: message, Err: err}
}

func (e *ParseError) Error() string {
	if e == nil {
		return ""
	}

	if e.Line > 0 {
		return fmt.Sprintf("parse error: %s:%d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("parse error: %s: %s", e.Path, e.Message)
}

// Unwrap exposes the underlying error.
func (e *ParseError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ValidationError reports a desired state that is incomplete or
// self-contradictory. It is always raised before any remote call.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

// NewValidationError constructs a ValidationError.
func NewValidationError(field, message string, err error) error {
	return &ValidationError{Field: field, Message: message, Err: err}
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Field != "" {
		return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// Unwrap exposes the underlying error.
func (e *ValidationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// AuthenticationError signals that no usable credential could be resolved.
type AuthenticationError struct {
	Source  string
	Message string
}

// NewAuthenticationError constructs an AuthenticationError.
func NewAuthenticationError(source, message string) error {
	return &AuthenticationError{Source: source, Message: message}
}

func (e *AuthenticationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Source != "" {
		return fmt.Sprintf("authentication error (%s): %s", e.Source, e.Message)
	}
	return fmt.Sprintf("authentication error: %s", e.Message)
}

// NotFoundError reports that a referenced resource (parent, project,
// pipeline, user, ...) could not be resolved.
type NotFoundError struct {
	Kind    string
	Name    string
	Message string
}

// NewNotFoundError constructs a NotFoundError.
func NewNotFoundError(kind, name, message string) error {
	return &NotFoundError{Kind: kind, Name: name, Message: message}
}

func (e *NotFoundError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("%s %q not found", e.Kind, e.Name)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// RemoteCallError wraps a rejected or failed request against the remote API.
// StatusCode is zero for transport failures.
type RemoteCallError struct {
	Operation  string
	Resource   string
	StatusCode int
	Message    string
	Err        error
}

// NewRemoteCallError constructs a RemoteCallError.
func NewRemoteCallError(operation, resource string, status int, message string, err error) error {
	return &RemoteCallError{Operation: operation, Resource: resource, StatusCode: status, Message: message, Err: err}
}

func (e *RemoteCallError) Error() string {
	if e == nil {
		return ""
	}
	target := e.Operation
	if e.Resource != "" {
		target = fmt.Sprintf("%s %s", e.Operation, e.Resource)
	}
	if e.StatusCode == 0 {
		if e.Err != nil {
			return fmt.Sprintf("remote call failed: %s: %v", target, e.Err)
		}
		return fmt.Sprintf("remote call failed: %s: %s", target, e.Message)
	}
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("remote call failed: %s: %d %s", target, e.StatusCode, msg)
}

// Unwrap exposes the transport error, if any.
func (e *RemoteCallError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// TimeoutError reports that a bounded poll exceeded its deadline.
type TimeoutError struct {
	Operation string
	Resource  string
	Timeout   time.Duration
}

// NewTimeoutError constructs a TimeoutError.
func NewTimeoutError(operation, resource string, timeout time.Duration) error {
	return &TimeoutError{Operation: operation, Resource: resource, Timeout: timeout}
}

func (e *TimeoutError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("timed out after %s waiting for %s %s", e.Timeout, e.Operation, e.Resource)
}

// ExecutionError represents a runtime failure while reconciling a resource.
type ExecutionError struct {
	StepID string
	Err    error
}

// NewExecutionError constructs an ExecutionError.
func NewExecutionError(stepID string, err error) error {
	return &ExecutionError{StepID: stepID, Err: err}
}

func (e *ExecutionError) Error() string {
	if e == nil {
		return ""
	}
	if e.StepID != "" {
		return fmt.Sprintf("execution error on resource %s: %v", e.StepID, e.Err)
	}
	return fmt.Sprintf("execution error: %v", e.Err)
}

// Unwrap exposes the root error.
func (e *ExecutionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// PluginError indicates issues within kind registration or wiring.
type PluginError struct {
	Plugin  string
	Message string
	Err     error
}

// NewPluginError constructs a PluginError for the given kind.
func NewPluginError(plugin string, err error) error {
	message := ""
	if err != nil {
		message = err.Error()
	}
	return &PluginError{Plugin: plugin, Message: message, Err: err}
}

func (e *PluginError) Error() string {
	if e == nil {
		return ""
	}
	if e.Plugin != "" {
		return fmt.Sprintf("plugin error [%s]: %s", e.Plugin, e.Message)
	}
	return fmt.Sprintf("plugin error: %s", e.Message)
}

// Unwrap exposes the underlying error.
func (e *PluginError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound reports whether err is a NotFoundError or a 404 RemoteCallError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	if stderrors.As(err, &nf) {
		return true
	}
	var rc *RemoteCallError
	return stderrors.As(err, &rc) && rc.StatusCode == http.StatusNotFound
}
