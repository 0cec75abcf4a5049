// Package errors defines the structured error taxonomy of the S2S trust layer.
// Every error carries a kind code, the HTTP status an edge handler should map it
// to, and correlation metadata (request id, target identity, offending setting).
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/turtacn/s2s/pkg/constants"
)

// ================================================================================
// Base Error Interface
// ================================================================================

// S2SError represents a structured error with additional metadata
type S2SError interface {
	error

	// Code returns the taxonomy kind
	Code() constants.ErrorCode

	// HTTPStatus returns the HTTP status an edge handler should surface
	HTTPStatus() int

	// Description returns a human-readable description of the kind
	Description() string

	// Unwrap returns the underlying error for error chain support
	Unwrap() error

	// WithCause returns a copy carrying cause
	WithCause(cause error) S2SError

	// WithMetadata returns a copy carrying an additional metadata entry
	WithMetadata(key string, value interface{}) S2SError

	// Metadata returns all metadata
	Metadata() map[string]interface{}
}

// ================================================================================
// Base Error Implementation
// ================================================================================

// baseError is the internal implementation of S2SError.
// Values are never mutated after construction; the With* builders copy, so a
// single error fanned out to many single-flight waiters is safe to decorate.
type baseError struct {
	code        constants.ErrorCode
	httpStatus  int
	description string
	message     string
	cause       error
	metadata    map[string]interface{}
	sentinel    bool
}

// Error implements the error interface
func (e *baseError) Error() string {
	msg := e.message
	if msg == "" {
		msg = e.description
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, msg)
}

// Code returns the taxonomy kind
func (e *baseError) Code() constants.ErrorCode {
	return e.code
}

// HTTPStatus returns the HTTP status code
func (e *baseError) HTTPStatus() int {
	return e.httpStatus
}

// Description returns the error description
func (e *baseError) Description() string {
	return e.description
}

// Unwrap returns the underlying cause error
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is matches kind sentinels so callers can write errors.Is(err, ErrSigning).
func (e *baseError) Is(target error) bool {
	t, ok := target.(*baseError)
	if !ok || !t.sentinel {
		return false
	}
	return t.code == e.code
}

func (e *baseError) clone() *baseError {
	c := *e
	c.sentinel = false
	c.metadata = make(map[string]interface{}, len(e.metadata)+1)
	for k, v := range e.metadata {
		c.metadata[k] = v
	}
	return &c
}

// WithCause adds a cause error to the error chain
func (e *baseError) WithCause(cause error) S2SError {
	c := e.clone()
	c.cause = cause
	return c
}

// WithMetadata adds additional context metadata
func (e *baseError) WithMetadata(key string, value interface{}) S2SError {
	c := e.clone()
	c.metadata[key] = value
	return c
}

// Metadata returns a copy of all metadata
func (e *baseError) Metadata() map[string]interface{} {
	out := make(map[string]interface{}, len(e.metadata))
	for k, v := range e.metadata {
		out[k] = v
	}
	return out
}

// ================================================================================
// Kind Sentinels
// ================================================================================

func sentinel(code constants.ErrorCode) *baseError {
	return &baseError{code: code, httpStatus: statusFor(code), description: descriptionFor(code), sentinel: true}
}

var (
	// ErrConfiguration matches any ConfigurationError
	ErrConfiguration error = sentinel(constants.ErrCodeConfiguration)
	// ErrInvalidRequest matches any InvalidRequestError
	ErrInvalidRequest error = sentinel(constants.ErrCodeInvalidRequest)
	// ErrResolution matches any ResolutionError
	ErrResolution error = sentinel(constants.ErrCodeResolution)
	// ErrSigning matches any SigningError
	ErrSigning error = sentinel(constants.ErrCodeSigning)
	// ErrTransport matches any TransportError
	ErrTransport error = sentinel(constants.ErrCodeTransport)
	// ErrPolicyBlocked matches any PolicyBlockedError
	ErrPolicyBlocked error = sentinel(constants.ErrCodePolicyBlocked)
)

func statusFor(code constants.ErrorCode) int {
	switch code {
	case constants.ErrCodeInvalidRequest:
		return http.StatusBadRequest
	case constants.ErrCodeResolution:
		return http.StatusNotFound
	case constants.ErrCodeTransport:
		return http.StatusBadGateway
	case constants.ErrCodePolicyBlocked:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func descriptionFor(code constants.ErrorCode) string {
	switch code {
	case constants.ErrCodeConfiguration:
		return "A required trust-layer setting is missing or invalid."
	case constants.ErrCodeInvalidRequest:
		return "The token or dispatch request is malformed."
	case constants.ErrCodeResolution:
		return "The target service could not be resolved."
	case constants.ErrCodeSigning:
		return "The signing authority failed to issue a token."
	case constants.ErrCodeTransport:
		return "The outbound service-to-service call failed."
	case constants.ErrCodePolicyBlocked:
		return "Service-to-service calls are administratively disabled."
	default:
		return "Unexpected trust-layer failure."
	}
}

// ================================================================================
// Error Constructors
// ================================================================================

// NewError creates a new S2SError of the given kind
func NewError(code constants.ErrorCode, message string) S2SError {
	return &baseError{
		code:        code,
		httpStatus:  statusFor(code),
		description: descriptionFor(code),
		message:     message,
		metadata:    make(map[string]interface{}),
	}
}

// Configuration reports a missing or invalid required setting.
func Configuration(setting string, reason string) S2SError {
	return NewError(constants.ErrCodeConfiguration, fmt.Sprintf("setting %q: %s", setting, reason)).
		WithMetadata("setting", setting)
}

// InvalidRequest reports a malformed caller request.
func InvalidRequest(field string, reason string) S2SError {
	return NewError(constants.ErrCodeInvalidRequest, fmt.Sprintf("%s: %s", field, reason)).
		WithMetadata("field", field)
}

// Resolution reports that env/slug/version could not be resolved to a target.
func Resolution(env, slug, version string, cause error) S2SError {
	e := NewError(constants.ErrCodeResolution, fmt.Sprintf("cannot resolve %s@%s in %s", slug, version, env)).
		WithMetadata("env", env).
		WithMetadata("slug", slug).
		WithMetadata("version", version)
	if cause != nil {
		e = e.WithCause(cause)
	}
	return e
}

// Signing reports a failed or empty remote signature for kid.
func Signing(kid string, message string, cause error) S2SError {
	e := NewError(constants.ErrCodeSigning, message).WithMetadata("kid", kid)
	if cause != nil {
		e = e.WithCause(cause)
	}
	return e
}

// Transport reports a network or timeout failure on an outbound call.
func Transport(message string, cause error) S2SError {
	e := NewError(constants.ErrCodeTransport, message)
	if cause != nil {
		e = e.WithCause(cause)
	}
	return e
}

// PolicyBlocked reports an outbound call refused by administrative policy.
func PolicyBlocked(message string) S2SError {
	return NewError(constants.ErrCodePolicyBlocked, message)
}

// ================================================================================
// Error Inspection Utilities
// ================================================================================

// AsS2SError finds the first S2SError in err's chain.
func AsS2SError(err error) (S2SError, bool) {
	var s2sErr S2SError
	if stderrors.As(err, &s2sErr) {
		return s2sErr, true
	}
	return nil, false
}

// KindOf returns the taxonomy kind of err, or "" for foreign errors.
func KindOf(err error) constants.ErrorCode {
	if s2sErr, ok := AsS2SError(err); ok {
		return s2sErr.Code()
	}
	return ""
}

// HTTPStatusOf maps err to the status an edge handler should return.
func HTTPStatusOf(err error) int {
	if s2sErr, ok := AsS2SError(err); ok {
		return s2sErr.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// Annotate decorates the S2SError in err's chain with metadata, leaving
// foreign errors wrapped as-is. The original value is not modified.
func Annotate(err error, kv map[string]interface{}) error {
	s2sErr, ok := AsS2SError(err)
	if !ok {
		return err
	}
	for k, v := range kv {
		s2sErr = s2sErr.WithMetadata(k, v)
	}
	return s2sErr
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

// ================================================================================
// Error Response Builder
// ================================================================================

// ErrorResponse represents the JSON structure for error responses
type ErrorResponse struct {
	Error            string                 `json:"error"`
	ErrorDescription string                 `json:"error_description"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// ToErrorResponse converts any error to an ErrorResponse
func ToErrorResponse(err error) *ErrorResponse {
	if s2sErr, ok := AsS2SError(err); ok {
		return &ErrorResponse{
			Error:            string(s2sErr.Code()),
			ErrorDescription: s2sErr.Description(),
			Metadata:         s2sErr.Metadata(),
		}
	}
	return &ErrorResponse{
		Error:            "server_error",
		ErrorDescription: "An unexpected error occurred",
	}
}
