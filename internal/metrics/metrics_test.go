package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mendtool/mend/internal/healing"
)

func TestObserveSessionExposed(t *testing.T) {
	m := New()
	m.ObserveSession("etl", healing.Result{
		Reason:  healing.TerminationSuccess,
		Elapsed: 42 * time.Second,
		Attempts: []healing.Attempt{
			{Number: 1, Verification: healing.Verification{Outcome: healing.OutcomeUnchanged}},
			{Number: 2, TimedOut: true, Verification: healing.Verification{Outcome: healing.OutcomeTimedOut}},
			{Number: 3, Verification: healing.Verification{Outcome: healing.OutcomeResolved}},
		},
	})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()

	assert.Contains(t, body, `mend_sessions_total{reason="success",script="etl"} 1`)
	assert.Contains(t, body, `mend_attempts_total{outcome="unchanged",script="etl"} 1`)
	assert.Contains(t, body, `mend_attempts_total{outcome="timed_out",script="etl"} 1`)
	assert.Contains(t, body, `mend_attempts_total{outcome="resolved",script="etl"} 1`)
	assert.Contains(t, body, "mend_session_duration_seconds")
}

func TestSeparateRegistries(t *testing.T) {
	a := New()
	b := New()
	a.ObserveSession("etl", healing.Result{Reason: healing.TerminationCancelled})

	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.NotContains(t, rec.Body.String(), `reason="cancelled"`)
}
