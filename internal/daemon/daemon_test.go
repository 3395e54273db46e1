package daemon

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mendtool/mend/internal/config"
	"github.com/mendtool/mend/internal/metrics"
)

func testConfig(scripts ...config.Script) *config.Config {
	return &config.Config{Scripts: scripts}
}

func TestRegisterSchedules(t *testing.T) {
	d := New(testConfig(
		config.Script{Name: "etl", Path: "etl.py", Schedule: "*/5 * * * *"},
		config.Script{Name: "adhoc", Path: "adhoc.py"},
		config.Script{Name: "report", Path: "report.py", Schedule: "0 6 * * *"},
	), func(ctx context.Context, s config.Script) {}, nil, nil)

	n, err := d.register(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRegisterRejectsBadSchedule(t *testing.T) {
	d := New(testConfig(
		config.Script{Name: "etl", Path: "etl.py", Schedule: "not a cron"},
	), func(ctx context.Context, s config.Script) {}, nil, nil)

	_, err := d.register(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "etl")
}

func TestRunFailsWithoutSchedules(t *testing.T) {
	d := New(testConfig(config.Script{Name: "adhoc", Path: "adhoc.py"}),
		func(ctx context.Context, s config.Script) {}, nil, nil)

	err := d.Run(context.Background())
	assert.Error(t, err)
}

func TestRunOneSkipsOverlap(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	block := make(chan struct{})
	started := make(chan struct{})

	d := New(testConfig(), func(ctx context.Context, s config.Script) {
		mu.Lock()
		calls++
		mu.Unlock()
		started <- struct{}{}
		<-block
	}, nil, nil)

	script := config.Script{Name: "etl", Path: "etl.py"}
	go d.runOne(context.Background(), script)
	<-started

	// Second trigger while the first is in flight is dropped.
	d.runOne(context.Background(), script)
	close(block)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestRunOneAfterRelease(t *testing.T) {
	calls := 0
	d := New(testConfig(), func(ctx context.Context, s config.Script) { calls++ }, nil, nil)

	script := config.Script{Name: "etl", Path: "etl.py"}
	d.runOne(context.Background(), script)
	d.runOne(context.Background(), script)
	assert.Equal(t, 2, calls)
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics = config.Metrics{Enabled: true, Listen: ":0"}
	d := New(cfg, func(ctx context.Context, s config.Script) {}, metrics.New(), nil)

	srv := d.buildServer()

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	cfg := testConfig(config.Script{Name: "etl", Path: "etl.py", Schedule: "@every 1h"})
	d := New(cfg, func(ctx context.Context, s config.Script) {}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not stop on cancel")
	}
}
