package healing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mendtool/mend/internal/script"
)

// ScriptRunner executes the script under repair.
type ScriptRunner interface {
	Run(ctx context.Context, path string, opts script.RunOpts) (script.ExecutionResult, error)
}

// RepairService proposes fixes for a failing script given the accumulated
// session context. Implementations return ErrNoFixAvailable when they decline
// to propose a change and ErrRepairUnavailable when the backend cannot be
// reached at all.
type RepairService interface {
	ProposeFix(ctx context.Context, c Context) (Patch, error)
}

// ChangeHandle represents an applied change that can be rolled back.
type ChangeHandle interface {
	Revert(ctx context.Context) error
}

// PatchApplier applies a proposed patch to the working tree and returns a
// handle for rolling it back.
type PatchApplier interface {
	Apply(ctx context.Context, ref ScriptRef, p Patch) (ChangeHandle, error)
}

// Config is the per-session healing budget and tuning.
type Config struct {
	MaxAttempts    int
	AttemptTimeout time.Duration
	TotalTimeout   time.Duration

	// RevertOnFailure rolls back a patch whose re-run classifies as
	// NewFailure or Regressed, so later attempts start from the best known
	// tree rather than a worse one.
	RevertOnFailure bool

	BackoffBase time.Duration
	BackoffCap  time.Duration

	MinOutputRatio       float64
	ImprovementThreshold float64
	RegressionFactor     float64

	MaxContextBytes int

	// Hints are operator-provided notes passed to the repair service
	// verbatim with every proposal request.
	Hints []string
}

// TerminationReason says why a healing session ended.
type TerminationReason string

const (
	TerminationSuccess           TerminationReason = "success"
	TerminationAttemptsExhausted TerminationReason = "attempts_exhausted"
	TerminationTotalTimeout      TerminationReason = "total_timeout"
	TerminationPerAttemptTimeout TerminationReason = "per_attempt_timeout"
	TerminationUnrecoverable     TerminationReason = "unrecoverable"
	TerminationCancelled         TerminationReason = "cancelled"
)

// Result is the complete outcome of one healing session.
type Result struct {
	Reason   TerminationReason      `json:"reason"`
	State    LoopState              `json:"state"`
	Baseline script.ExecutionResult `json:"baseline"`
	Final    *script.ExecutionResult `json:"final,omitempty"`
	Attempts []Attempt              `json:"attempts"`
	Elapsed  time.Duration          `json:"elapsed"`
}

// Healed reports whether the session ended with the script repaired.
func (r Result) Healed() bool { return r.Reason == TerminationSuccess }

// Healer drives the run/fix/re-run cycle for one script.
type Healer struct {
	runner  ScriptRunner
	repair  RepairService
	applier PatchApplier
	cfg     Config
	log     *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error // injectable for tests
}

// NewHealer wires a healer from its collaborators. A nil logger defaults to
// a no-op logger.
func NewHealer(runner ScriptRunner, repair RepairService, applier PatchApplier, cfg Config, log *zap.Logger) (*Healer, error) {
	if runner == nil || repair == nil || applier == nil {
		return nil, fmt.Errorf("%w: runner, repair service, and patch applier are all required", ErrInvalidConfiguration)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Healer{
		runner:  runner,
		repair:  repair,
		applier: applier,
		cfg:     cfg,
		log:     log,
		sleep:   sleepCtx,
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Heal runs the full healing session for the given script. The baseline run
// must fail; a healthy script returns ErrAlreadyHealthy with no attempts
// made. Attempt-level failures (no fix, apply errors, unchanged re-runs) are
// absorbed into the Result; only configuration problems and a healthy
// baseline surface as errors.
func (h *Healer) Heal(ctx context.Context, ref ScriptRef) (Result, error) {
	loop, err := NewLoop(h.cfg.MaxAttempts, h.cfg.AttemptTimeout, h.cfg.TotalTimeout)
	if err != nil {
		return Result{}, err
	}

	baseline, err := h.runner.Run(ctx, ref.Path, script.RunOpts{
		WorkingDir: ref.WorkingDir,
		Env:        ref.Env,
		Timeout:    h.cfg.AttemptTimeout,
	})
	if err != nil {
		return Result{}, fmt.Errorf("baseline run failed: %w", err)
	}
	if baseline.Success() {
		return Result{Baseline: baseline, State: StateIdle}, ErrAlreadyHealthy
	}

	h.log.Info("healing session started",
		zap.String("script", ref.Path),
		zap.Int("exit_code", baseline.ExitCode),
		zap.Int("max_attempts", h.cfg.MaxAttempts))

	builder := NewContextBuilder(ref, baseline, h.cfg.MaxContextBytes)
	for _, hint := range h.cfg.Hints {
		builder.AddHint(hint)
	}
	verifier := NewVerifier(VerifierConfig{
		MinOutputRatio:       h.cfg.MinOutputRatio,
		ImprovementThreshold: h.cfg.ImprovementThreshold,
		RegressionFactor:     h.cfg.RegressionFactor,
	})

	previous := baseline
	var final *script.ExecutionResult
	lastTimedOut := false
	repairDown := false

	for {
		slot, ok := loop.Next()
		if !ok {
			break
		}

		if err := h.sleep(ctx, Delay(slot.Attempt, h.cfg.BackoffBase, h.cfg.BackoffCap)); err != nil {
			loop.Cancel()
			break
		}
		if ctx.Err() != nil {
			loop.Cancel()
			break
		}

		attempt, status := h.runAttempt(ctx, slot, ref, builder, verifier, previous)
		switch status {
		case attemptCancelled:
			loop.Cancel()
		case attemptRepairUnavailable:
			repairDown = true
			loop.Cancel()
		default:
			builder.AddAttempt(attempt)
			lastTimedOut = attempt.TimedOut
			// A reverted patch restores the pre-attempt tree, so its run
			// result must not become the next comparison baseline.
			if attempt.Result != nil && !attempt.Reverted {
				previous = *attempt.Result
				final = attempt.Result
			}
			if attempt.Verification.Outcome == OutcomeResolved {
				loop.MarkSuccess()
			}
		}
		if loop.State().terminal() {
			break
		}
	}

	result := Result{
		State:    loop.State(),
		Baseline: baseline,
		Final:    final,
		Attempts: builder.Attempts(),
		Elapsed:  loop.Elapsed(),
	}
	result.Reason = h.terminationReason(loop.State(), lastTimedOut, repairDown)

	h.log.Info("healing session finished",
		zap.String("script", ref.Path),
		zap.String("reason", string(result.Reason)),
		zap.Int("attempts", len(result.Attempts)),
		zap.Duration("elapsed", result.Elapsed))

	return result, nil
}

type attemptStatus int

const (
	attemptRecorded attemptStatus = iota
	attemptCancelled
	attemptRepairUnavailable
)

// runAttempt executes one iteration inside its slot deadline: ask for a fix,
// apply it, re-run, classify. Everything that goes wrong inside the attempt
// is folded into the returned record.
func (h *Healer) runAttempt(ctx context.Context, slot Slot, ref ScriptRef, builder *ContextBuilder, verifier *Verifier, previous script.ExecutionResult) (attempt Attempt, status attemptStatus) {
	attempt = Attempt{Number: slot.Attempt, StartedAt: time.Now().UTC()}
	defer func() { attempt.Duration = time.Since(attempt.StartedAt) }()

	attemptCtx, cancel := context.WithDeadline(ctx, slot.Deadline)
	defer cancel()

	patch, err := h.repair.ProposeFix(attemptCtx, builder.Snapshot())
	if err != nil {
		switch {
		case errors.Is(err, ErrRepairUnavailable):
			h.log.Error("repair service unavailable", zap.Error(err))
			return attempt, attemptRepairUnavailable
		case errors.Is(err, ErrNoFixAvailable):
			attempt.Verification = Verification{
				Outcome:    OutcomeUnchanged,
				Similarity: 1,
				Rationale:  "no fix proposed",
			}
			return attempt, attemptRecorded
		case attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil:
			attempt.TimedOut = true
			attempt.Verification = Verification{
				Outcome:   OutcomeTimedOut,
				Rationale: "fix proposal exceeded the attempt deadline",
			}
			return attempt, attemptRecorded
		case ctx.Err() != nil:
			return attempt, attemptCancelled
		default:
			attempt.Verification = Verification{
				Outcome:   OutcomeNewFailure,
				Rationale: fmt.Sprintf("repair service error: %v", err),
			}
			return attempt, attemptRecorded
		}
	}
	attempt.Patch = patch

	handle, err := h.applier.Apply(attemptCtx, ref, patch)
	if err != nil {
		if ctx.Err() != nil {
			return attempt, attemptCancelled
		}
		attempt.Verification = Verification{
			Outcome:   OutcomeNewFailure,
			Rationale: fmt.Sprintf("patch failed to apply: %v", err),
		}
		return attempt, attemptRecorded
	}

	remaining := time.Until(slot.Deadline)
	result, err := h.runner.Run(attemptCtx, ref.Path, script.RunOpts{
		WorkingDir: ref.WorkingDir,
		Env:        ref.Env,
		Timeout:    remaining,
	})
	if err != nil {
		if ctx.Err() != nil {
			return attempt, attemptCancelled
		}
		attempt.Verification = Verification{
			Outcome:   OutcomeNewFailure,
			Rationale: fmt.Sprintf("re-run failed to start: %v", err),
		}
		return attempt, attemptRecorded
	}
	attempt.Result = &result
	if result.TimedOut() {
		attempt.TimedOut = true
	}

	attempt.Verification = verifier.Verify(previous, result)
	h.log.Info("attempt classified",
		zap.Int("attempt", slot.Attempt),
		zap.String("outcome", string(attempt.Verification.Outcome)),
		zap.Float64("similarity", attempt.Verification.Similarity))

	if h.cfg.RevertOnFailure && harmful(attempt.Verification.Outcome) {
		if err := handle.Revert(ctx); err != nil {
			h.log.Warn("revert failed, keeping patched tree", zap.Error(err))
		} else {
			attempt.Reverted = true
			h.log.Info("reverted harmful patch", zap.Int("attempt", slot.Attempt))
		}
	}

	return attempt, attemptRecorded
}

// harmful reports whether an outcome left the tree worse than before.
func harmful(o Outcome) bool {
	return o == OutcomeNewFailure || o == OutcomeRegressed
}

// terminationReason maps the loop's final state to a session-level reason.
func (h *Healer) terminationReason(state LoopState, lastTimedOut, repairDown bool) TerminationReason {
	switch state {
	case StateSucceeded:
		return TerminationSuccess
	case StateTimedOut:
		return TerminationTotalTimeout
	case StateExhausted:
		if lastTimedOut {
			return TerminationPerAttemptTimeout
		}
		return TerminationAttemptsExhausted
	case StateCancelled:
		if repairDown {
			return TerminationUnrecoverable
		}
		return TerminationCancelled
	}
	return TerminationCancelled
}
