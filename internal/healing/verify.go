package healing

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/mendtool/mend/internal/script"
)

// Outcome classifies what a re-run after a patch means relative to the
// previous failure.
type Outcome string

const (
	// OutcomeResolved: the script succeeded and the previous failure
	// signature is gone. The only outcome that ends the loop early.
	OutcomeResolved Outcome = "resolved"
	// OutcomeImproved: still failing with the same error class, but part
	// of the failure signature cleared. Used for context hints only.
	OutcomeImproved Outcome = "improved"
	// OutcomeUnchanged: the failure signature is equivalent to before.
	OutcomeUnchanged Outcome = "unchanged"
	// OutcomeRegressed: same signature but secondary symptoms worsened.
	// Treated as Unchanged for loop control; flagged in the rationale.
	OutcomeRegressed Outcome = "regressed"
	// OutcomeNewFailure: the failure signature differs structurally; the
	// patch introduced a distinct defect.
	OutcomeNewFailure Outcome = "new_failure"
	// OutcomeTimedOut: the attempt hit its deadline before a re-run could
	// be classified. Set by the healer, never by the verifier.
	OutcomeTimedOut Outcome = "timed_out"
)

// Verification is the verdict on one before/after pair of executions.
// Computed fresh each iteration and never mutated.
type Verification struct {
	Outcome    Outcome `json:"outcome"`
	Similarity float64 `json:"similarity"` // [0,1] between the failure signatures
	Rationale  string  `json:"rationale"`
}

// VerifierConfig tunes the comparison thresholds. Zero values take the
// package defaults.
type VerifierConfig struct {
	// MinOutputRatio guards against "succeeded for the wrong reason": a
	// successful re-run whose stdout shrinks below this fraction of the
	// pre-fix output is treated as a new defect.
	MinOutputRatio float64
	// ImprovementThreshold is the minimum signature similarity for a
	// shrinking failure to count as Improved rather than NewFailure noise.
	ImprovementThreshold float64
	// RegressionFactor flags a Regressed outcome when the run duration
	// grows beyond previous*factor with an identical signature.
	RegressionFactor float64
}

const (
	defaultMinOutputRatio       = 0.08
	defaultImprovementThreshold = 0.3
	defaultRegressionFactor     = 2.0
)

func (c VerifierConfig) withDefaults() VerifierConfig {
	if c.MinOutputRatio <= 0 {
		c.MinOutputRatio = defaultMinOutputRatio
	}
	if c.ImprovementThreshold <= 0 {
		c.ImprovementThreshold = defaultImprovementThreshold
	}
	if c.RegressionFactor <= 0 {
		c.RegressionFactor = defaultRegressionFactor
	}
	return c
}

// Verifier decides whether a new execution represents genuine repair
// relative to the prior one. Classification is a pure function of the two
// recorded results: no wall clock, no randomness.
type Verifier struct {
	cfg VerifierConfig
}

// NewVerifier creates a Verifier, filling unset thresholds with defaults.
func NewVerifier(cfg VerifierConfig) *Verifier {
	return &Verifier{cfg: cfg.withDefaults()}
}

// Verify classifies current against previous.
func (v *Verifier) Verify(previous, current script.ExecutionResult) Verification {
	prevSig := extractSignature(previous)
	curSig := extractSignature(current)
	sim := signatureSimilarity(previous, current)

	if current.Success() {
		return v.verifySuccess(previous, current, prevSig, sim)
	}

	if !prevSig.sameClass(curSig) {
		return Verification{
			Outcome:    OutcomeNewFailure,
			Similarity: sim,
			Rationale: fmt.Sprintf("failure signature changed structurally: %s -> %s",
				prevSig.describe(), curSig.describe()),
		}
	}

	missing, added := prevSig.patternDiff(curSig)
	switch {
	case len(missing) > 0 && len(added) == 0 && sim >= v.cfg.ImprovementThreshold:
		return Verification{
			Outcome:    OutcomeImproved,
			Similarity: sim,
			Rationale: fmt.Sprintf("same error class %q but cleared: %s",
				prevSig.describe(), strings.Join(missing, ", ")),
		}
	case len(added) > 0:
		return Verification{
			Outcome:    OutcomeRegressed,
			Similarity: sim,
			Rationale: fmt.Sprintf("same error class %q with new symptoms: %s",
				prevSig.describe(), strings.Join(added, ", ")),
		}
	}

	if previous.Duration > 0 && float64(current.Duration) > float64(previous.Duration)*v.cfg.RegressionFactor {
		return Verification{
			Outcome:    OutcomeRegressed,
			Similarity: sim,
			Rationale: fmt.Sprintf("identical failure signature but run duration grew from %s to %s",
				previous.Duration, current.Duration),
		}
	}

	return Verification{
		Outcome:    OutcomeUnchanged,
		Similarity: sim,
		Rationale:  fmt.Sprintf("failure signature unchanged (%s)", prevSig.describe()),
	}
}

// verifySuccess applies the guards that a clean exit alone does not satisfy:
// the old failure signature must be gone and the run must still have done a
// comparable amount of work.
func (v *Verifier) verifySuccess(previous, current script.ExecutionResult, prevSig failureSignature, sim float64) Verification {
	if prevSig.class != "" && strings.Contains(normalizeOutput(current.Stderr), prevSig.class) {
		return Verification{
			Outcome:    OutcomeUnchanged,
			Similarity: sim,
			Rationale: fmt.Sprintf("exit 0 but stderr still exhibits the previous failure signature %q",
				prevSig.class),
		}
	}

	if ratio, ok := outputCoverage(previous, current); ok && ratio < v.cfg.MinOutputRatio {
		return Verification{
			Outcome:    OutcomeNewFailure,
			Similarity: sim,
			Rationale: fmt.Sprintf("exit 0 but stdout shrank to %.0f%% of the previous run; the fix may bypass the failing workload instead of repairing it",
				ratio*100),
		}
	}

	return Verification{
		Outcome:    OutcomeResolved,
		Similarity: sim,
		Rationale:  "script succeeded and the previous failure signature is no longer present",
	}
}

// outputCoverage returns current stdout length as a fraction of previous
// stdout length. The second return is false when the previous run produced
// no stdout to compare against.
func outputCoverage(previous, current script.ExecutionResult) (float64, bool) {
	prevLen := len(previous.Stdout)
	if prevLen == 0 {
		return 0, false
	}
	return float64(len(current.Stdout)) / float64(prevLen), true
}

// failureSignature is the structural identity of a failure: the primary
// error class, the normalized first stderr line, the exit code, and the set
// of error patterns found in the output.
type failureSignature struct {
	class     string
	firstLine string
	exitCode  int
	patterns  map[string]bool
}

func (s failureSignature) describe() string {
	if s.class != "" {
		return s.class
	}
	if s.firstLine != "" {
		return s.firstLine
	}
	return fmt.Sprintf("exit %d", s.exitCode)
}

// sameClass reports whether two signatures belong to the same failure class:
// matching primary error class when both have one, otherwise matching
// first-line token, otherwise matching exit code.
func (s failureSignature) sameClass(other failureSignature) bool {
	if s.class != "" || other.class != "" {
		return s.class == other.class
	}
	if s.firstLine != "" || other.firstLine != "" {
		return firstToken(s.firstLine) == firstToken(other.firstLine)
	}
	return s.exitCode == other.exitCode
}

// patternDiff returns patterns present before but gone now (missing) and
// patterns new to the current signature (added), both sorted.
func (s failureSignature) patternDiff(other failureSignature) (missing, added []string) {
	for p := range s.patterns {
		if !other.patterns[p] {
			missing = append(missing, p)
		}
	}
	for p := range other.patterns {
		if !s.patterns[p] {
			added = append(added, p)
		}
	}
	sort.Strings(missing)
	sort.Strings(added)
	return missing, added
}

var (
	classRe    = regexp.MustCompile(`\b([A-Z][a-z]+(?:[A-Z][a-z]+)*(?:Error|Exception))\b`)
	keywordRe  = regexp.MustCompile(`\b(ERROR|FATAL|CRITICAL|FAILED|FAILURE|Exception|error|failed)\b`)
	httpCodeRe = regexp.MustCompile(`\b([45]\d{2})\b`)

	// Normalization of run-varying noise so two runs of the same failure
	// compare equal: timestamps, absolute paths, pids, addresses, ports.
	timestampRe  = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:\d{2})?`)
	epochRe      = regexp.MustCompile(`\b\d{10,13}\b`)
	unixPathRe   = regexp.MustCompile(`/(?:home|Users|usr|opt|tmp|var)/[^\s:,]+`)
	pidRe        = regexp.MustCompile(`(?i)\bpid[:\s=]+\d+`)
	processRe    = regexp.MustCompile(`(?i)\bprocess\s+\d+`)
	addrRe       = regexp.MustCompile(`0x[0-9a-fA-F]+`)
	portRe       = regexp.MustCompile(`:(\d{2,5})\b`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// phrasePatterns are lowercase substrings that identify well-known failure
// modes independent of exact wording.
var phrasePatterns = map[string]string{
	"not found":          "not_found",
	"permission denied":  "permission_denied",
	"connection refused": "connection_refused",
	"timeout":            "timeout",
	"no such file":       "file_missing",
	"cannot connect":     "connection_failed",
}

// extractSignature derives the failure signature from a result's output.
func extractSignature(r script.ExecutionResult) failureSignature {
	combined := r.Stderr
	if combined == "" {
		combined = r.Stdout
	}

	sig := failureSignature{
		exitCode: r.ExitCode,
		patterns: make(map[string]bool),
	}

	if m := classRe.FindString(combined); m != "" {
		sig.class = m
	}
	for _, m := range classRe.FindAllString(combined, -1) {
		sig.patterns[m] = true
	}
	for _, m := range keywordRe.FindAllString(combined, -1) {
		sig.patterns[strings.ToUpper(m)] = true
	}
	for _, m := range httpCodeRe.FindAllString(combined, -1) {
		sig.patterns["HTTP_"+m] = true
	}
	lower := strings.ToLower(combined)
	for phrase, name := range phrasePatterns {
		if strings.Contains(lower, phrase) {
			sig.patterns[name] = true
		}
	}

	for _, line := range strings.Split(normalizeOutput(r.Stderr), "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			sig.firstLine = trimmed
			break
		}
	}

	return sig
}

// normalizeOutput strips run-varying noise so that signatures from separate
// runs of the same failure compare equal.
func normalizeOutput(out string) string {
	if out == "" {
		return ""
	}
	out = timestampRe.ReplaceAllString(out, "[TS]")
	out = epochRe.ReplaceAllString(out, "[TS]")
	out = unixPathRe.ReplaceAllString(out, "[PATH]")
	out = pidRe.ReplaceAllString(out, "pid=[PID]")
	out = processRe.ReplaceAllString(out, "process [PID]")
	out = addrRe.ReplaceAllString(out, "[ADDR]")
	out = portRe.ReplaceAllString(out, ":[PORT]")
	out = whitespaceRe.ReplaceAllString(out, " ")
	return strings.TrimSpace(out)
}

// signatureSimilarity computes a normalized [0,1] similarity between the
// failure outputs of two runs, weighted toward stderr where errors live.
func signatureSimilarity(previous, current script.ExecutionResult) float64 {
	stderrSim := tokenSimilarity(normalizeOutput(previous.Stderr), normalizeOutput(current.Stderr))
	stdoutSim := tokenSimilarity(normalizeOutput(previous.Stdout), normalizeOutput(current.Stdout))
	return stderrSim*0.7 + stdoutSim*0.3
}

// tokenSimilarity is a Dice coefficient over whitespace tokens: twice the
// multiset intersection size over the total token count. Identical texts
// score 1, disjoint texts 0, and two empty texts count as identical.
func tokenSimilarity(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}

	countA := tokenCounts(a)
	countB := tokenCounts(b)

	common := 0
	totalA := 0
	totalB := 0
	for tok, n := range countA {
		totalA += n
		if m := countB[tok]; m > 0 {
			if m < n {
				common += m
			} else {
				common += n
			}
		}
	}
	for _, n := range countB {
		totalB += n
	}

	return 2 * float64(common) / float64(totalA+totalB)
}

func tokenCounts(s string) map[string]int {
	counts := make(map[string]int)
	for _, tok := range strings.Fields(s) {
		counts[tok]++
	}
	return counts
}

func firstToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return strings.TrimRight(fields[0], ":")
}
