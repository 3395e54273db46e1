package healing

import "errors"

// Fatal error kinds surfaced to callers of Heal. Everything else that goes
// wrong during a session is absorbed into the attempt record or the
// termination reason so callers always get a complete Result.
var (
	// ErrInvalidConfiguration is returned at construction time for a bad
	// attempt budget or non-positive timeouts.
	ErrInvalidConfiguration = errors.New("invalid healing configuration")

	// ErrAlreadyHealthy is returned by Heal when the baseline execution
	// already succeeded; no attempts are made.
	ErrAlreadyHealthy = errors.New("baseline execution already succeeded")
)

// Sentinel errors used by repair-service implementations to signal
// non-exceptional conditions the healer records rather than propagates.
var (
	// ErrNoFixAvailable means the repair service ran but declined to
	// propose a patch. Recorded as a failed attempt, not a service error.
	ErrNoFixAvailable = errors.New("no fix proposed")

	// ErrRepairUnavailable means the repair backend cannot be reached at
	// all (e.g. the CLI is not installed). When hit before any attempt
	// completes, the session terminates as Unrecoverable.
	ErrRepairUnavailable = errors.New("repair service unavailable")
)
