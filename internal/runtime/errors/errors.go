package errors

import (
	sterrors "errors"
	"fmt"
	"time"
)

// ErrInvalidInput marks caller mistakes. Worker executions that fail with an
// error matching it answer with status 400.
var ErrInvalidInput = sterrors.New("eventmesh: invalid input")

var (
	ErrConfigRequired   = sterrors.New("eventmesh: configuration is required")
	ErrLoggerRequired   = sterrors.New("eventmesh: logger is required")
	ErrPlatformStopped  = sterrors.New("eventmesh: platform is stopped")
	ErrRouteNotFound    = sterrors.New("eventmesh: route not found")
	ErrTimeout          = sterrors.New("eventmesh: request timeout")
	ErrNotConnected     = sterrors.New("eventmesh: connector is not connected")
	ErrPayloadTooLarge  = sterrors.New("eventmesh: payload exceeds transport limit")
	ErrInboxClosed      = sterrors.New("eventmesh: inbox is closed")
	ErrCorruptedQueue   = sterrors.New("eventmesh: corrupted queue")
	ErrQueueDirRequired = sterrors.New("eventmesh: queue directory and id are required")
	ErrRouteFailed      = sterrors.New("eventmesh: overflow queue of route failed")
	ErrStreamClosed     = sterrors.New("eventmesh: object stream is closed")
)

// Validation failures. Each one wraps ErrInvalidInput.
var (
	ErrInvalidRoute     = invalid("invalid route name")
	ErrInvalidInstances = invalid("invalid number of instances")
	ErrInvalidTimeout   = invalid("timeout must be positive")
	ErrFunctionRequired = invalid("function is required")
	ErrSelfLoop         = invalid("route and reply_to must not be the same")
	ErrEmptyRequest     = invalid("at least one event is required")
	ErrRouteRequired    = invalid("route is required")
	ErrStreamPayload    = invalid("stream payload must be a map, string, bytes, bool or number")
)

type validationError struct {
	msg string
}

func invalid(msg string) error {
	return &validationError{msg: msg}
}

func (e *validationError) Error() string { return "eventmesh: " + e.msg }

func (e *validationError) Unwrap() error { return ErrInvalidInput }

// AppError is returned by user functions to answer with a specific status.
type AppError struct {
	Status  int
	Message string
}

// NewAppError builds an AppError.
func NewAppError(status int, message string) *AppError {
	return &AppError{Status: status, Message: message}
}

func (e *AppError) Error() string {
	return fmt.Sprintf("(%d) %s", e.Status, e.Message)
}

// TimeoutError reports an RPC that did not complete in time. Expected and
// Actual count the replies of a parallel request; they are both 1 and 0 for a
// single request.
type TimeoutError struct {
	Route    string
	Timeout  time.Duration
	Expected int
	Actual   int
}

func (e *TimeoutError) Error() string {
	if e.Route != "" {
		return fmt.Sprintf("Route %s timeout for %s", e.Route, e.Timeout)
	}
	return fmt.Sprintf("Requests timeout for %s. Expect: %d responses, actual: %d", e.Timeout, e.Expected, e.Actual)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// CorruptedQueueError is returned when a disk segment has invalid framing.
type CorruptedQueueError struct {
	Queue string
}

func (e *CorruptedQueueError) Error() string {
	return "Corrupted queue for " + e.Queue
}

func (e *CorruptedQueueError) Is(target error) bool { return target == ErrCorruptedQueue }

// ConfigValidationError wraps the joined result of Config.Validate.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "eventmesh: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error { return e.Err }

// NewConfigValidationError returns nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}

// RouteNotFound wraps ErrRouteNotFound with the route name.
func RouteNotFound(route string) error {
	return fmt.Errorf("%w: %s", ErrRouteNotFound, route)
}

// StatusOf maps an execution error to a response status.
func StatusOf(err error) int {
	var appErr *AppError
	switch {
	case err == nil:
		return 200
	case sterrors.As(err, &appErr):
		return appErr.Status
	case sterrors.Is(err, ErrInvalidInput):
		return 400
	default:
		return 500
	}
}

// MessageOf returns the message carried in an error response.
func MessageOf(err error) string {
	var appErr *AppError
	if sterrors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
