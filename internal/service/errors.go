package service

import "fmt"

// Stage identifies which pipeline stage failed. The HTTP layer uses it to
// keep operator-visible errors attributable; validation failures never reach
// this taxonomy because they are rejected before any side effect.
type Stage string

const (
	StageStaging      Stage = "staging"
	StageLedger       Stage = "ledger"
	StageProvisioning Stage = "provisioning"
	StageDispatch     Stage = "dispatch"
)

// StageError wraps a failure with the stage it occurred in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageErr(stage Stage, err error) error {
	return &StageError{Stage: stage, Err: err}
}
