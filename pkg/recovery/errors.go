package recovery

import "fmt"

// ErrorKind classifies why a recovery operation failed.
type ErrorKind string

const (
	// StageFatal means a stage couldn't even be attempted: a required
	// node role or ISO set was entirely absent from the environment or
	// backup.
	StageFatal ErrorKind = "stage_fatal"
	// StageFailed means a stage was attempted but at least one dispatched
	// job reported failure.
	StageFailed ErrorKind = "stage_failed"
	// Cancelled means the recovery was stopped by Executor.Cancel before
	// a stage began.
	Cancelled ErrorKind = "cancelled"
)

// cancelError reports that a recovery stopped due to cancellation rather
// than a stage failure, distinguishing the two for callers that branch on
// ErrorKind instead of matching message text.
type cancelError struct {
	Stage StageName
}

func (e *cancelError) Error() string {
	return fmt.Sprintf("recovery: cancelled before stage %s", e.Stage)
}

func (e *cancelError) Kind() ErrorKind { return Cancelled }
