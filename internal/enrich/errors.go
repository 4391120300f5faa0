package enrich

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

type ErrorType int

const (
	ErrAvailability ErrorType = iota
	ErrInitialization
	ErrGeneration
	ErrNotInitialized
	ErrResetFailed
	ErrTimeout
	ErrUnknown
)

func (t ErrorType) String() string {
	switch t {
	case ErrAvailability:
		return "Availability"
	case ErrInitialization:
		return "Initialization"
	case ErrGeneration:
		return "Generation"
	case ErrNotInitialized:
		return "NotInitialized"
	case ErrResetFailed:
		return "ResetFailed"
	case ErrTimeout:
		return "Timeout"
	default:
		return "Unknown"
	}
}

var (
	ErrSessionNotInitialized = errors.New("session not initialized")
	ErrSessionResetFailed    = errors.New("failed to reset session")
)

type Error struct {
	Type    ErrorType
	Message string
	Context map[string]any
	Cause   error
}

func NewError(errorType ErrorType, message string) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
	}
}

func NewErrorWithCause(errorType ErrorType, message string, cause error) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
		Cause:   cause,
	}
}

func (e *Error) Error() string {
	parts := []string{fmt.Sprintf("[%s] %s", e.Type, e.Message)}

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ctxParts := make([]string, 0, len(keys))
		for _, k := range keys {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, "context: "+strings.Join(ctxParts, ", "))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " | ")
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) WithContext(key string, value any) *Error {
	e.Context[key] = value
	return e
}

func IsErrorType(err error, errorType ErrorType) bool {
	var enrichErr *Error
	if errors.As(err, &enrichErr) {
		return enrichErr.Type == errorType
	}
	return false
}
