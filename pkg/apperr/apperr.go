package apperr

import (
	"errors"
	"fmt"
)

const (
	MetaReason    = "reason"
	MetaStage     = "stage"
	MetaField     = "field"
	MetaPlanID    = "plan_id"
	MetaStepID    = "step_id"
	MetaAction    = "action"
	MetaSelector  = "selector"
	MetaCandidate = "candidate"
	MetaURL       = "url"
	MetaAttempts  = "attempts"

	StagePreparation = "preparation"
	StageBrowser     = "browser"
	StageResolution  = "resolution"
	StageExecution   = "execution"
	StageScreenshot  = "screenshot"
	StageNavigation  = "navigation"
	StageInteraction = "interaction"
	StageWait        = "wait"

	CodeInternal        = "internal"
	CodeInvalidArgument = "invalid-argument"
	CodeTimeout         = "timeout"
	CodeBrowserLaunch   = "browser-launch"
	CodeBrowserNotReady = "browser-not-ready"
	CodeElementNotFound = "element-not-found"
	CodeActionParameter = "action-parameter"
	CodeNavigation      = "navigation"
	CodePlanExecution   = "plan-execution-failed"
)

type Error struct {
	Op       string
	Code     string
	Err      error
	Metadata map[string]any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}

	return e.Op
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Wrap(op, code string, err error, metadata map[string]any) error {
	if metadata == nil {
		metadata = make(map[string]any)
	}

	return &Error{
		Op:       op,
		Code:     code,
		Err:      err,
		Metadata: metadata,
	}
}

func WrapWithReason(op, code string, err error, reason string) error {
	return Wrap(op, code, err, map[string]any{
		MetaReason: reason,
	})
}

func WrapErrorWithReason(op, code, reason string) error {
	return Wrap(op, code, errors.New(reason), map[string]any{
		MetaReason: reason,
	})
}

func ParamError(op, field string, err error) error {
	return Wrap(op, CodeActionParameter, err, map[string]any{
		MetaField:  field,
		MetaReason: "missing_parameter",
	})
}

func ElementNotFound(op string, err error, candidate string) error {
	return Wrap(op, CodeElementNotFound, err, map[string]any{
		MetaReason:    "element_not_found",
		MetaCandidate: candidate,
	})
}

// Code reports the stable classification code carried by err, or
// CodeInternal for errors produced outside this package. The code is
// observability metadata; nothing branches on it except the retry predicate.
func Code(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}

	return CodeInternal
}

func IsCode(err error, code string) bool {
	return err != nil && Code(err) == code
}
