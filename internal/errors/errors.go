package errors

import "fmt"

// Error codes of the editing core. They are part of the wire protocol.
const (
	ErrCodeInvalidDescription = "ERR_INVALID_ELEMENT_DESCRIPTION"
	ErrCodeCycleDetected      = "ERR_CYCLE_DETECTED"
	ErrCodeInvalidParent      = "ERR_INVALID_PARENT"
	ErrCodeDuplicateID        = "ERR_DUPLICATE_ID"
	ErrCodeNotFound           = "ERR_NOT_FOUND"
	ErrCodeNotEmpty           = "ERR_NOT_EMPTY"
	ErrCodeSuperseded         = "ERR_SUPERSEDED"
	ErrCodePageUnavailable    = "ERR_PAGE_UNAVAILABLE"
	ErrCodeDisconnected       = "ERR_DISCONNECTED"
	ErrCodeConfigInvalid      = "ERR_CONFIG_INVALID"
	ErrCodeStorage            = "ERR_STORAGE"
	ErrCodeProtocol           = "ERR_PROTOCOL"
	ErrCodeInternalError      = "ERR_INTERNAL"
)

// Sentinels for errors.Is. Detailed errors built by the constructors below
// match the sentinel of the same code.
var (
	ErrInvalidDescription = &EditorError{Type: ErrorTypeValidation, Code: ErrCodeInvalidDescription, Message: "invalid element description"}
	ErrCycleDetected      = &EditorError{Type: ErrorTypeStructure, Code: ErrCodeCycleDetected, Message: "cycle detected"}
	ErrInvalidParent      = &EditorError{Type: ErrorTypeStructure, Code: ErrCodeInvalidParent, Message: "invalid parent"}
	ErrDuplicateID        = &EditorError{Type: ErrorTypeStructure, Code: ErrCodeDuplicateID, Message: "duplicate id"}
	ErrNotFound           = &EditorError{Type: ErrorTypeStructure, Code: ErrCodeNotFound, Message: "element not found"}
	ErrNotEmpty           = &EditorError{Type: ErrorTypeStructure, Code: ErrCodeNotEmpty, Message: "element has children"}
	ErrSuperseded         = &EditorError{Type: ErrorTypeConflict, Code: ErrCodeSuperseded, Message: "operation superseded"}
	ErrPageUnavailable    = &EditorError{Type: ErrorTypeTransport, Code: ErrCodePageUnavailable, Message: "page unavailable"}
	ErrDisconnected       = &EditorError{Type: ErrorTypeTransport, Code: ErrCodeDisconnected, Message: "disconnected"}
)

// NewInvalidDescription reports an element description that cannot be
// materialized.
func NewInvalidDescription(format string, args ...interface{}) *EditorError {
	return &EditorError{
		Type:        ErrorTypeValidation,
		Code:        ErrCodeInvalidDescription,
		Message:     fmt.Sprintf(format, args...),
		Recoverable: true,
	}
}

// NewCycleDetected reports a placement under one of the element's own
// descendants.
func NewCycleDetected(id, parentID string) *EditorError {
	return &EditorError{
		Type:        ErrorTypeStructure,
		Code:        ErrCodeCycleDetected,
		Message:     fmt.Sprintf("parent %q is a descendant of the element", parentID),
		ElementID:   id,
		Recoverable: true,
	}
}

// NewInvalidParent reports a missing, non-container or incompatible parent.
func NewInvalidParent(id, parentID, reason string) *EditorError {
	return &EditorError{
		Type:        ErrorTypeStructure,
		Code:        ErrCodeInvalidParent,
		Message:     fmt.Sprintf("parent %q: %s", parentID, reason),
		ElementID:   id,
		Recoverable: true,
	}
}

// NewDuplicateID reports an insert whose id already exists on the page.
func NewDuplicateID(id string) *EditorError {
	return &EditorError{
		Type:        ErrorTypeStructure,
		Code:        ErrCodeDuplicateID,
		Message:     "id already exists",
		ElementID:   id,
		Recoverable: true,
	}
}

// NewNotFound reports a lookup of an unknown element.
func NewNotFound(id string) *EditorError {
	return &EditorError{
		Type:        ErrorTypeStructure,
		Code:        ErrCodeNotFound,
		Message:     "element not found",
		ElementID:   id,
		Recoverable: true,
	}
}

// NewNotEmpty reports a non-cascading delete of an element with children.
func NewNotEmpty(id string, children int) *EditorError {
	return &EditorError{
		Type:        ErrorTypeStructure,
		Code:        ErrCodeNotEmpty,
		Message:     fmt.Sprintf("element has %d children", children),
		ElementID:   id,
		Recoverable: true,
	}
}

// NewSuperseded reports a structural operation that lost the tie-break.
func NewSuperseded(id, reason string) *EditorError {
	return &EditorError{
		Type:        ErrorTypeConflict,
		Code:        ErrCodeSuperseded,
		Message:     reason,
		ElementID:   id,
		Recoverable: true,
	}
}

// NewPageUnavailable reports a deleted or unknown page.
func NewPageUnavailable(pageID string) *EditorError {
	return &EditorError{
		Type:        ErrorTypeTransport,
		Code:        ErrCodePageUnavailable,
		Message:     "page no longer available",
		PageID:      pageID,
		Recoverable: false,
	}
}

// NewDisconnected reports a transport that exhausted its retries.
func NewDisconnected(cause error) *EditorError {
	return &EditorError{
		Type:        ErrorTypeTransport,
		Code:        ErrCodeDisconnected,
		Message:     "connection retries exhausted",
		Cause:       cause,
		Recoverable: false,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(message string) *EditorError {
	return &EditorError{
		Type:    ErrorTypeConfig,
		Code:    ErrCodeConfigInvalid,
		Message: message,
	}
}

// NewStorageError wraps a persistence failure.
func NewStorageError(message string, cause error) *EditorError {
	return &EditorError{
		Type:    ErrorTypeStorage,
		Code:    ErrCodeStorage,
		Message: message,
		Cause:   cause,
	}
}

// NewProtocolError reports a malformed or unexpected wire message.
func NewProtocolError(message string) *EditorError {
	return &EditorError{
		Type:        ErrorTypeTransport,
		Code:        ErrCodeProtocol,
		Message:     message,
		Recoverable: true,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(message string, cause error) *EditorError {
	return &EditorError{
		Type:    ErrorTypeInternal,
		Code:    ErrCodeInternalError,
		Message: message,
		Cause:   cause,
	}
}

// FromCode rebuilds an error received over the wire. Unknown codes map to
// a protocol error so they still surface.
func FromCode(code, message string) *EditorError {
	var base *EditorError
	switch code {
	case ErrCodeInvalidDescription:
		base = ErrInvalidDescription
	case ErrCodeCycleDetected:
		base = ErrCycleDetected
	case ErrCodeInvalidParent:
		base = ErrInvalidParent
	case ErrCodeDuplicateID:
		base = ErrDuplicateID
	case ErrCodeNotFound:
		base = ErrNotFound
	case ErrCodeNotEmpty:
		base = ErrNotEmpty
	case ErrCodeSuperseded:
		base = ErrSuperseded
	case ErrCodePageUnavailable:
		base = ErrPageUnavailable
	case ErrCodeDisconnected:
		base = ErrDisconnected
	default:
		return NewProtocolError(fmt.Sprintf("unknown error code %q: %s", code, message))
	}

	if message == "" {
		message = base.Message
	}

	return &EditorError{
		Type:        base.Type,
		Code:        base.Code,
		Message:     message,
		Recoverable: base.Type != ErrorTypeTransport,
	}
}
