package alarms

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates a missing alarm record.
var ErrNotFound = errors.New("alarm: not found")

// ErrInvalidCondition indicates a condition that cannot be evaluated.
var ErrInvalidCondition = errors.New("alarm: invalid condition")

// EvaluationError reports a failed evaluation of one alarm.
type EvaluationError struct {
	AlarmID string
	Err     error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("alarm %s: evaluation failed: %v", e.AlarmID, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}
