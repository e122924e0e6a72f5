package pipeline

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest       = errors.New("invalid swap request")
	ErrScreeningRejected    = errors.New("screening rejected")
	ErrScreeningUnavailable = errors.New("screening unavailable")
	ErrQuoteFailed          = errors.New("quote failed")
	ErrSwapFailed           = errors.New("swap failed")
	ErrDeliveryFailed       = errors.New("delivery failed")
	ErrPrivacyUnavailable   = errors.New("privacy stage unavailable")
)

// StageError is the fatal error of a run, tagged with the stage that raised it.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageErr(stage Stage, kind, cause error) *StageError {
	if cause == nil {
		return &StageError{Stage: stage, Err: kind}
	}
	if kind == nil || errors.Is(cause, kind) {
		return &StageError{Stage: stage, Err: cause}
	}
	return &StageError{Stage: stage, Err: fmt.Errorf("%w: %w", kind, cause)}
}
