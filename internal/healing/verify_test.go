package healing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mendtool/mend/internal/script"
)

func failing(stderr string) script.ExecutionResult {
	return script.ExecutionResult{ExitCode: 1, Stderr: stderr, Duration: time.Second}
}

func TestVerifyResolved(t *testing.T) {
	v := NewVerifier(VerifierConfig{})
	prev := script.ExecutionResult{ExitCode: 1, Stdout: "processing 120 rows", Stderr: "ValueError: bad input"}
	cur := script.ExecutionResult{ExitCode: 0, Stdout: "processing 120 rows\ndone"}

	got := v.Verify(prev, cur)
	assert.Equal(t, OutcomeResolved, got.Outcome)
}

func TestVerifyExitZeroButSignatureStillPresent(t *testing.T) {
	v := NewVerifier(VerifierConfig{})
	prev := failing("ValueError: bad input at row 7")
	cur := script.ExecutionResult{ExitCode: 0, Stdout: "ok", Stderr: "caught ValueError: bad input, continuing"}

	got := v.Verify(prev, cur)
	assert.Equal(t, OutcomeUnchanged, got.Outcome)
}

func TestVerifyExitZeroButOutputCollapsed(t *testing.T) {
	v := NewVerifier(VerifierConfig{MinOutputRatio: 0.1})
	prev := script.ExecutionResult{
		ExitCode: 1,
		Stdout:   "line\nline\nline\nline\nline\nline\nline\nline\nline\nline\n",
		Stderr:   "TypeError: boom",
	}
	cur := script.ExecutionResult{ExitCode: 0, Stdout: "ok"}

	got := v.Verify(prev, cur)
	assert.Equal(t, OutcomeNewFailure, got.Outcome)
}

func TestVerifyUnchangedIgnoresRunVaryingNoise(t *testing.T) {
	v := NewVerifier(VerifierConfig{})
	prev := failing("2026-01-15 09:00:01 ERROR ValueError: missing column in /home/ci/data/in.csv pid: 4411")
	cur := failing("2026-01-15 09:03:27 ERROR ValueError: missing column in /home/ci/data/in.csv pid: 9022")

	got := v.Verify(prev, cur)
	assert.Equal(t, OutcomeUnchanged, got.Outcome)
	assert.InDelta(t, 1.0, got.Similarity, 0.01)
}

func TestVerifyNewFailureOnDifferentClass(t *testing.T) {
	v := NewVerifier(VerifierConfig{})
	prev := failing("ValueError: bad input")
	cur := failing("KeyError: 'name'")

	got := v.Verify(prev, cur)
	assert.Equal(t, OutcomeNewFailure, got.Outcome)
}

func TestVerifyImprovedWhenPatternsShrink(t *testing.T) {
	v := NewVerifier(VerifierConfig{})
	prev := failing("ValueError: bad input\nconnection refused while uploading\nERROR giving up")
	cur := failing("ValueError: bad input\nERROR giving up")

	got := v.Verify(prev, cur)
	assert.Equal(t, OutcomeImproved, got.Outcome)
	assert.Contains(t, got.Rationale, "connection_refused")
}

func TestVerifyRegressedWhenSymptomsAdded(t *testing.T) {
	v := NewVerifier(VerifierConfig{})
	prev := failing("ValueError: bad input")
	cur := failing("ValueError: bad input\npermission denied writing cache")

	got := v.Verify(prev, cur)
	assert.Equal(t, OutcomeRegressed, got.Outcome)
}

func TestVerifyRegressedOnDurationBlowup(t *testing.T) {
	v := NewVerifier(VerifierConfig{RegressionFactor: 2})
	prev := failing("ValueError: bad input")
	cur := failing("ValueError: bad input")
	cur.Duration = 5 * time.Second

	got := v.Verify(prev, cur)
	assert.Equal(t, OutcomeRegressed, got.Outcome)
	assert.Contains(t, got.Rationale, "duration")
}

func TestVerifyDeterministic(t *testing.T) {
	v := NewVerifier(VerifierConfig{})
	prev := failing("ValueError: one\nconnection refused\ntimeout talking to db")
	cur := failing("ValueError: one\ntimeout talking to db")

	first := v.Verify(prev, cur)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, v.Verify(prev, cur))
	}
}

func TestVerifySimilarityBounds(t *testing.T) {
	v := NewVerifier(VerifierConfig{})
	cases := []struct {
		name string
		prev script.ExecutionResult
		cur  script.ExecutionResult
	}{
		{"identical", failing("same text here"), failing("same text here")},
		{"disjoint", failing("alpha beta gamma"), failing("delta epsilon zeta")},
		{"empty previous", script.ExecutionResult{ExitCode: 1}, failing("something")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := v.Verify(tc.prev, tc.cur)
			assert.GreaterOrEqual(t, got.Similarity, 0.0)
			assert.LessOrEqual(t, got.Similarity, 1.0)
		})
	}
}

func TestNormalizeOutput(t *testing.T) {
	in := "2026-01-15T09:00:01Z error at /home/user/app/run.py pid: 1234 addr 0xdeadbeef port :8080"
	got := normalizeOutput(in)

	assert.NotContains(t, got, "2026-01-15")
	assert.NotContains(t, got, "/home/user")
	assert.NotContains(t, got, "1234")
	assert.NotContains(t, got, "0xdeadbeef")
	assert.NotContains(t, got, "8080")
}

func TestTokenSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, tokenSimilarity("", ""))
	assert.Equal(t, 0.0, tokenSimilarity("a b c", ""))
	assert.Equal(t, 1.0, tokenSimilarity("a b c", "a b c"))
	assert.Equal(t, 0.0, tokenSimilarity("a b", "c d"))
	assert.InDelta(t, 0.5, tokenSimilarity("a b c d", "a b x y"), 0.001)
}
