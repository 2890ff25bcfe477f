// internal/actions/errors.go
package actions

import (
	"context"
	"errors"
	"strings"

	"github.com/xkilldash9x/scalpel-replay/api/schemas"
	"github.com/xkilldash9x/scalpel-replay/internal/selector"
)

const defaultFailureMessage = "Action failed"

// NormalizeError maps any error onto the closed code taxonomy. Coded errors
// keep their code; everything else becomes UNKNOWN with the best message we
// have.
func NormalizeError(err error) *schemas.ActionError {
	if err == nil {
		return nil
	}
	var coded *schemas.ActionError
	if errors.As(err, &coded) && coded != nil {
		out := *coded
		if !out.Code.IsKnown() {
			out.Code = schemas.ErrCodeUnknown
		}
		if out.Message == "" {
			out.Message = err.Error()
		}
		return &out
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &schemas.ActionError{Code: schemas.ErrCodeTimeout, Message: err.Error()}
	case errors.Is(err, selector.ErrNotFound):
		return &schemas.ActionError{Code: schemas.ErrCodeTargetNotFound, Message: err.Error()}
	case errors.Is(err, schemas.ErrTabNotFound):
		return &schemas.ActionError{Code: schemas.ErrCodeTabNotFound, Message: err.Error()}
	case errors.Is(err, schemas.ErrFrameNotFound):
		return &schemas.ActionError{Code: schemas.ErrCodeFrameNotFound, Message: err.Error()}
	}
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		msg = defaultFailureMessage
	}
	return &schemas.ActionError{Code: schemas.ErrCodeUnknown, Message: msg}
}

// -- Result Helpers --

func success() *schemas.ActionExecutionResult {
	return &schemas.ActionExecutionResult{Status: schemas.StatusSuccess}
}

func failure(code schemas.ErrorCode, format string, args ...interface{}) schemas.ActionExecutionResult {
	return schemas.ActionExecutionResult{
		Status: schemas.StatusFailed,
		Error:  schemas.NewActionError(code, format, args...),
	}
}

// settle turns a handler's return values into a well-formed result. A failure
// without an error becomes UNKNOWN so callers never see an ambiguous failure.
func settle(res *schemas.ActionExecutionResult, err error) schemas.ActionExecutionResult {
	if err != nil {
		out := schemas.ActionExecutionResult{Status: schemas.StatusFailed, Error: NormalizeError(err)}
		if res != nil {
			out.NextLabel = res.NextLabel
		}
		return out
	}
	if res == nil {
		return schemas.ActionExecutionResult{Status: schemas.StatusSuccess}
	}
	out := *res
	if out.Status == "" {
		out.Status = schemas.StatusSuccess
		if out.Error != nil {
			out.Status = schemas.StatusFailed
		}
	}
	if out.Status == schemas.StatusFailed {
		if out.Error == nil {
			out.Error = &schemas.ActionError{Code: schemas.ErrCodeUnknown, Message: defaultFailureMessage}
		} else {
			out.Error = NormalizeError(out.Error)
		}
	}
	return out
}
