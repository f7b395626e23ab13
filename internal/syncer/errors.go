package syncer

import "errors"

// Steps of a run that can fail it. A failed run returns a *StepError whose
// Step is one of these, so errors.Is(err, ErrDeliver) and the like hold.
var (
	ErrFetchTasks   = errors.New("fetch tasks")
	ErrListSessions = errors.New("list sessions")
	ErrReadSession  = errors.New("read session")
	ErrDeliver      = errors.New("deliver activity")
	ErrSaveState    = errors.New("save state")
)

// StepError names the step that aborted a run.
type StepError struct {
	Step error
	Err  error
}

func (e *StepError) Error() string {
	return e.Step.Error() + ": " + e.Err.Error()
}

// Unwrap exposes both the step sentinel and the cause.
func (e *StepError) Unwrap() []error {
	return []error{e.Step, e.Err}
}

func stepError(step, err error) error {
	return &StepError{Step: step, Err: err}
}
