// Package errors defines the structured error type shared by the element
// model, the document store and the sync engine.
//
// Every failure the editing core can produce is an *EditorError carrying a
// stable Code. Codes travel over the wire inside conflict and error
// messages, so peers can rebuild the same error value with FromCode.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeStructure  ErrorType = "structure"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeTransport  ErrorType = "transport"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeStorage    ErrorType = "storage"
	ErrorTypeInternal   ErrorType = "internal"
)

// EditorError is a structured error type with context.
type EditorError struct {
	Type        ErrorType
	Code        string
	Message     string
	Cause       error
	Context     map[string]interface{}
	ElementID   string
	PageID      string
	Recoverable bool
}

// Error implements the error interface.
func (e *EditorError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}
	if e.PageID != "" {
		parts = append(parts, "page:"+e.PageID)
	}
	if e.ElementID != "" {
		parts = append(parts, "element:"+e.ElementID)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")
	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *EditorError) Unwrap() error {
	return e.Cause
}

// Is reports whether target carries the same Type and Code, so a detailed
// error matches the bare sentinel of its code.
func (e *EditorError) Is(target error) bool {
	var t *EditorError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *EditorError) WithContext(key string, value interface{}) *EditorError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithElement records the element the error concerns.
func (e *EditorError) WithElement(id string) *EditorError {
	e.ElementID = id

	return e
}

// WithPage records the page the error concerns.
func (e *EditorError) WithPage(id string) *EditorError {
	e.PageID = id

	return e
}

// Is and As re-export the standard helpers so callers that import this
// package as "errors" do not need a second import.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target interface{}) bool { return errors.As(err, target) }

// New returns a plain error, as errors.New does.
func New(text string) error { return errors.New(text) }

// Join returns an error wrapping errs, as errors.Join does.
func Join(errs ...error) error { return errors.Join(errs...) }

// Wrap wraps an error with additional context, keeping the element and
// page of an existing EditorError.
func Wrap(err error, errType ErrorType, code, message string) *EditorError {
	if err == nil {
		return nil
	}

	var ee *EditorError
	if errors.As(err, &ee) {
		return &EditorError{
			Type:        errType,
			Code:        code,
			Message:     message,
			Cause:       ee,
			Context:     ee.Context,
			ElementID:   ee.ElementID,
			PageID:      ee.PageID,
			Recoverable: ee.Recoverable,
		}
	}

	return &EditorError{
		Type:        errType,
		Code:        code,
		Message:     message,
		Cause:       err,
		Recoverable: errType == ErrorTypeValidation || errType == ErrorTypeStructure,
	}
}

// Code extracts the code of the outermost EditorError in err's chain.
func Code(err error) string {
	var ee *EditorError
	if errors.As(err, &ee) {
		return ee.Code
	}

	return ""
}

// IsRecoverable checks if an error is recoverable.
func IsRecoverable(err error) bool {
	var ee *EditorError
	if errors.As(err, &ee) {
		return ee.Recoverable
	}

	return false
}

// IsStructural reports whether err is an invariant violation that was
// rejected before touching the tree.
func IsStructural(err error) bool {
	var ee *EditorError
	if errors.As(err, &ee) {
		return ee.Type == ErrorTypeStructure || ee.Type == ErrorTypeValidation
	}

	return false
}

// ErrorHandler provides centralized error handling.
type ErrorHandler struct {
	logger Logger
}

// Logger interface for error logging.
type Logger interface {
	Error(ctx context.Context, err error, msg string, fields ...interface{})
	Warn(ctx context.Context, err error, msg string, fields ...interface{})
}

// NewErrorHandler creates a new error handler.
func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Handle logs err at a level that depends on its type. Structural and
// conflict errors are expected during collaboration and log as warnings.
func (h *ErrorHandler) Handle(ctx context.Context, err error) {
	if err == nil || h.logger == nil {
		return
	}

	var ee *EditorError
	if !errors.As(err, &ee) {
		h.logger.Error(ctx, err, "Unhandled error occurred")
		return
	}

	switch ee.Type {
	case ErrorTypeValidation, ErrorTypeStructure:
		h.logger.Warn(ctx, err, "Operation rejected",
			"code", ee.Code,
			"element", ee.ElementID,
			"page", ee.PageID)
	case ErrorTypeConflict:
		h.logger.Warn(ctx, err, "Operation superseded",
			"code", ee.Code,
			"element", ee.ElementID)
	default:
		h.logger.Error(ctx, err, "Error occurred",
			"type", ee.Type,
			"code", ee.Code,
			"page", ee.PageID)
	}
}
