package healing

import (
	"fmt"
	"strings"
	"time"

	"github.com/mendtool/mend/internal/script"
)

// ScriptRef identifies the script under repair without carrying its content.
// Repair backends load the file themselves when building prompts.
type ScriptRef struct {
	Path       string   `json:"path"`
	WorkingDir string   `json:"working_dir,omitempty"`
	Env        []string `json:"-"` // KEY=VALUE entries for runs, never serialized
}

// Patch is a proposed change from the repair service: a unified diff plus a
// short summary of what it intends to change.
type Patch struct {
	Diff         string   `json:"diff,omitempty"`
	Summary      string   `json:"summary,omitempty"`
	FilesChanged []string `json:"files_changed,omitempty"`
}

// Attempt is the full record of one iteration: the patch tried, the re-run
// result, and the verdict. A per-attempt timeout during fix proposal leaves
// Result nil and sets TimedOut.
type Attempt struct {
	Number       int                     `json:"number"`
	Patch        Patch                   `json:"patch"`
	Result       *script.ExecutionResult `json:"result,omitempty"`
	Verification Verification            `json:"verification"`
	TimedOut     bool                    `json:"timed_out,omitempty"`
	Reverted     bool                    `json:"reverted,omitempty"`
	StartedAt    time.Time               `json:"started_at"`
	Duration     time.Duration           `json:"duration"`
}

// Context is everything the repair service sees when asked for the next fix:
// the script reference, the baseline failure, all prior attempts, and any
// operator hints. It grows monotonically across a session; entries are never
// reordered or rewritten, only truncated for size.
type Context struct {
	Script   ScriptRef              `json:"script"`
	Baseline script.ExecutionResult `json:"baseline"`
	Attempts []Attempt              `json:"attempts"`
	Hints    []string               `json:"hints,omitempty"`
}

// LatestFailure returns the most recent failing execution: the last attempt
// with a recorded result, or the baseline when no attempt has run yet.
func (c *Context) LatestFailure() script.ExecutionResult {
	for i := len(c.Attempts) - 1; i >= 0; i-- {
		if c.Attempts[i].Result != nil {
			return *c.Attempts[i].Result
		}
	}
	return c.Baseline
}

// ContextBuilder accumulates the session context and enforces a byte ceiling
// when rendering it for the repair service.
type ContextBuilder struct {
	ctx      Context
	maxBytes int
}

const defaultMaxContextBytes = 64 * 1024

// NewContextBuilder seeds a builder with the script reference and the
// baseline failure. maxBytes <= 0 takes the default ceiling.
func NewContextBuilder(ref ScriptRef, baseline script.ExecutionResult, maxBytes int) *ContextBuilder {
	if maxBytes <= 0 {
		maxBytes = defaultMaxContextBytes
	}
	return &ContextBuilder{
		ctx:      Context{Script: ref, Baseline: baseline},
		maxBytes: maxBytes,
	}
}

// AddAttempt appends an attempt record. Records are append-only.
func (b *ContextBuilder) AddAttempt(a Attempt) {
	b.ctx.Attempts = append(b.ctx.Attempts, a)
}

// AddHint appends an operator hint shown to the repair service verbatim.
func (b *ContextBuilder) AddHint(hint string) {
	if hint == "" {
		return
	}
	b.ctx.Hints = append(b.ctx.Hints, hint)
}

// Attempts returns the recorded attempts in order.
func (b *ContextBuilder) Attempts() []Attempt { return b.ctx.Attempts }

// Snapshot returns the current context, truncated to fit the byte ceiling.
// Truncation drops the middle of old attempt outputs first; the baseline and
// the most recent attempt keep their output intact as long as possible.
func (b *ContextBuilder) Snapshot() Context {
	snap := b.ctx
	snap.Attempts = make([]Attempt, len(b.ctx.Attempts))
	copy(snap.Attempts, b.ctx.Attempts)

	if b.size(snap) <= b.maxBytes {
		return snap
	}

	// Shrink oldest-first, sparing the final attempt.
	for i := 0; i < len(snap.Attempts)-1 && b.size(snap) > b.maxBytes; i++ {
		a := snap.Attempts[i]
		if a.Result != nil {
			trimmed := *a.Result
			trimmed.Stdout = truncateMiddle(trimmed.Stdout, 512)
			trimmed.Stderr = truncateMiddle(trimmed.Stderr, 1024)
			a.Result = &trimmed
		}
		a.Patch.Diff = truncateMiddle(a.Patch.Diff, 1024)
		snap.Attempts[i] = a
	}

	// Still over: shrink the baseline stdout, keeping its stderr.
	if b.size(snap) > b.maxBytes {
		snap.Baseline.Stdout = truncateMiddle(snap.Baseline.Stdout, 1024)
	}
	if b.size(snap) > b.maxBytes {
		snap.Baseline.Stderr = truncateMiddle(snap.Baseline.Stderr, 4096)
	}

	return snap
}

// size estimates the rendered byte weight of a context.
func (b *ContextBuilder) size(c Context) int {
	n := len(c.Baseline.Stdout) + len(c.Baseline.Stderr)
	for _, a := range c.Attempts {
		n += len(a.Patch.Diff) + len(a.Patch.Summary)
		if a.Result != nil {
			n += len(a.Result.Stdout) + len(a.Result.Stderr)
		}
		n += len(a.Verification.Rationale)
	}
	for _, h := range c.Hints {
		n += len(h)
	}
	return n
}

// truncateMiddle keeps the head and tail of s within max bytes, replacing the
// middle with an elision marker. The marker notes how much was cut.
func truncateMiddle(s string, max int) string {
	if len(s) <= max || max <= 0 {
		return s
	}
	half := max / 2
	cut := len(s) - max
	return s[:half] + fmt.Sprintf("\n... [%d bytes elided] ...\n", cut) + s[len(s)-half:]
}

// Summarize renders a one-line digest per attempt, oldest first. Used for
// logs and notifications rather than repair prompts.
func Summarize(attempts []Attempt) string {
	if len(attempts) == 0 {
		return "no attempts"
	}
	var sb strings.Builder
	for _, a := range attempts {
		if a.TimedOut {
			fmt.Fprintf(&sb, "attempt %d: timed out\n", a.Number)
			continue
		}
		fmt.Fprintf(&sb, "attempt %d: %s (similarity %.2f)\n", a.Number, a.Verification.Outcome, a.Verification.Similarity)
	}
	return strings.TrimRight(sb.String(), "\n")
}
