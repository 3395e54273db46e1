package script

import "time"

// Exit codes reserved for runs that never produced a real process exit.
const (
	ExitTimeout   = -1 // execution exceeded its deadline
	ExitSpawnFail = -2 // the process could not be started
)

// ExecutionResult is the normalized record of one script run.
// It is immutable once created; every consumer works on copies.
type ExecutionResult struct {
	ExitCode  int           `json:"exit_code"`
	Stdout    string        `json:"stdout"`
	Stderr    string        `json:"stderr"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// Success reports whether the run exited cleanly.
func (r ExecutionResult) Success() bool {
	return r.ExitCode == 0
}

// TimedOut reports whether the run was cut off at its deadline.
func (r ExecutionResult) TimedOut() bool {
	return r.ExitCode == ExitTimeout
}
