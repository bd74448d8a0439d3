package worker

import "time"

// Status is the terminal outcome of one agent invocation.
type Status string

const (
	StatusSucceeded   Status = "succeeded"
	StatusFailed      Status = "failed"
	StatusSpawnFailed Status = "spawn_failed"
	StatusTimedOut    Status = "timed_out"
	StatusCancelled   Status = "cancelled"
)

// Failure reasons with fixed text.
const (
	ReasonTimeout   = "timeout"
	ReasonFailed    = "Agent failed"
	ReasonCancelled = "cancelled"
)

// Result is the outcome of one invocation: Success carries Text, every other
// status carries Reason.
type Result struct {
	Status   Status
	Text     string
	Reason   string
	ExitCode int
	Stderr   string
	Duration time.Duration
}

// Success builds a successful result.
func Success(text string) Result {
	return Result{Status: StatusSucceeded, Text: text}
}

// Failure builds a failed result with the given status and reason.
func Failure(status Status, reason string) Result {
	return Result{Status: status, Reason: reason, ExitCode: -1}
}

// Cancelled is the result for requests abandoned during shutdown.
func Cancelled() Result {
	return Failure(StatusCancelled, ReasonCancelled)
}

// OK reports whether the invocation succeeded.
func (r Result) OK() bool {
	return r.Status == StatusSucceeded
}
