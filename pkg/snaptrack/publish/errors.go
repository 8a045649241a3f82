package publish

import (
	"errors"
	"fmt"
)

// Stage names the step of a publish cycle that failed.
type Stage string

// Publish cycle stages in execution order.
const (
	StageLock   Stage = "lock"
	StageDetect Stage = "detect"
	StageStage  Stage = "stage"
	StageCommit Stage = "commit"
	StagePush   Stage = "push"
	StageSave   Stage = "save"
)

// ErrNothingStaged means every changed path failed to stage, or staging
// left the index unchanged.
var ErrNothingStaged = errors.New("no files staged")

// Error reports a failed publish cycle. The manifest is unchanged whenever
// Stage is not StageSave.
type Error struct {
	Stage  Stage
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("publish %s: %s", e.Stage, e.Reason)
	}
	return fmt.Sprintf("publish %s: %s: %v", e.Stage, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func fail(stage Stage, reason string, err error) *Error {
	return &Error{Stage: stage, Reason: reason, Err: err}
}
