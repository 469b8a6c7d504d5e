package recovery

import (
	"errors"
	"fmt"

	"github.com/seekwell/apply-cli/internal/model"
)

// PipelineError is a failure that already carries an explicit category and
// severity import. Collaborator wrappers and the data bridge raise these so
// classification does not have to guess from the message.
type PipelineError struct {
	Category model.Category
	Severity model.Severity
	Stage    model.Stage
	Msg      string
	Err      error
	Context  map[string]string
}

func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// NewError creates a PipelineError with an explicit category and severity.
func NewError(category model.Category, severity model.Severity, msg string) *PipelineError {
	return &PipelineError{Category: category, Severity: severity, Msg: msg}
}

// WrapError wraps err with an explicit category and severity.
func WrapError(err error, category model.Category, severity model.Severity, msg string) *PipelineError {
	return &PipelineError{Category: category, Severity: severity, Msg: msg, Err: err}
}

// NewValidationError creates the distinguished validation error raised by
// the data bridge. Validation failures default to the skip strategy.
func NewValidationError(stage model.Stage, msg string) *PipelineError {
	return &PipelineError{
		Category: model.CategoryValidation,
		Severity: model.SeverityLow,
		Stage:    stage,
		Msg:      msg,
	}
}

// AsPipelineError extracts a PipelineError from err's chain, if present.
func AsPipelineError(err error) (*PipelineError, bool) {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
