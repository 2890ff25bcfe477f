package schemas

import "fmt"

// ErrorCode is the closed taxonomy of action failures. Using a named type keeps
// ad hoc strings out of places that expect a code.
type ErrorCode string

const (
	// ErrCodeValidation marks a malformed action. It is never retried.
	ErrCodeValidation ErrorCode = "VALIDATION_ERROR"
	ErrCodeTimeout    ErrorCode = "TIMEOUT"

	// -- Environment --
	ErrCodeTabNotFound     ErrorCode = "TAB_NOT_FOUND"
	ErrCodeFrameNotFound   ErrorCode = "FRAME_NOT_FOUND"
	ErrCodeTargetNotFound  ErrorCode = "TARGET_NOT_FOUND"
	ErrCodeElementHidden   ErrorCode = "ELEMENT_NOT_VISIBLE"
	ErrCodeNavigation      ErrorCode = "NAVIGATION_FAILED"
	ErrCodeNetworkRequest  ErrorCode = "NETWORK_REQUEST_FAILED"
	ErrCodeDownload        ErrorCode = "DOWNLOAD_FAILED"
	ErrCodeAssertionFailed ErrorCode = "ASSERTION_FAILED"
	ErrCodeScriptFailed    ErrorCode = "SCRIPT_FAILED"

	ErrCodeUnknown ErrorCode = "UNKNOWN"
)

// knownCodes backs IsKnown.
var knownCodes = map[ErrorCode]struct{}{
	ErrCodeValidation:      {},
	ErrCodeTimeout:         {},
	ErrCodeTabNotFound:     {},
	ErrCodeFrameNotFound:   {},
	ErrCodeTargetNotFound:  {},
	ErrCodeElementHidden:   {},
	ErrCodeNavigation:      {},
	ErrCodeNetworkRequest:  {},
	ErrCodeDownload:        {},
	ErrCodeAssertionFailed: {},
	ErrCodeScriptFailed:    {},
	ErrCodeUnknown:         {},
}

// IsKnown reports whether c belongs to the taxonomy.
func (c ErrorCode) IsKnown() bool {
	_, ok := knownCodes[c]
	return ok
}

// ActionError is a coded failure. It implements error so handlers can return
// it directly and have the code survive wrapping.
type ActionError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// NewActionError builds a coded error with a formatted message.
func NewActionError(code ErrorCode, format string, args ...interface{}) *ActionError {
	return &ActionError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *ActionError) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
