// Package daemon runs mend as a long-lived supervisor: scheduled healing
// runs per script plus a small HTTP surface for metrics and liveness.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mendtool/mend/internal/config"
	"github.com/mendtool/mend/internal/metrics"
)

// HealFunc runs one supervised execution (and healing session if needed)
// for a configured script.
type HealFunc func(ctx context.Context, s config.Script)

// Daemon schedules healing runs and serves the metrics endpoint.
type Daemon struct {
	cfg     *config.Config
	heal    HealFunc
	metrics *metrics.Metrics
	log     *zap.Logger

	cron *cron.Cron
	srv  *http.Server

	mu      sync.Mutex
	running map[string]bool
}

// New builds a daemon. metrics may be nil when the endpoint is disabled.
func New(cfg *config.Config, heal HealFunc, m *metrics.Metrics, log *zap.Logger) *Daemon {
	if log == nil {
		log = zap.NewNop()
	}
	return &Daemon{
		cfg:     cfg,
		heal:    heal,
		metrics: m,
		log:     log,
		cron:    cron.New(),
		running: make(map[string]bool),
	}
}

// Run registers all scheduled scripts, starts the scheduler and the HTTP
// server, and blocks until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	scheduled, err := d.register(ctx)
	if err != nil {
		return err
	}
	if scheduled == 0 {
		return errors.New("no scripts with a schedule; nothing to supervise")
	}

	d.cron.Start()
	d.log.Info("daemon started", zap.Int("scheduled_scripts", scheduled))

	var srvErr chan error
	if d.cfg.Metrics.Enabled && d.metrics != nil {
		srvErr = make(chan error, 1)
		d.srv = d.buildServer()
		go func() {
			if err := d.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				srvErr <- err
			}
		}()
		d.log.Info("metrics endpoint listening", zap.String("addr", d.cfg.Metrics.Listen))
	}

	select {
	case <-ctx.Done():
	case err := <-srvErr:
		return fmt.Errorf("metrics server: %w", err)
	}

	stopCtx := d.cron.Stop()
	<-stopCtx.Done()
	if d.srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.srv.Shutdown(shutdownCtx)
	}
	d.log.Info("daemon stopped")
	return nil
}

// register adds a cron entry per scheduled script and returns how many were
// registered. An invalid cron expression fails the whole startup.
func (d *Daemon) register(ctx context.Context) (int, error) {
	scheduled := 0
	for _, s := range d.cfg.Scripts {
		if s.Schedule == "" {
			continue
		}
		script := s
		_, err := d.cron.AddFunc(script.Schedule, func() {
			d.runOne(ctx, script)
		})
		if err != nil {
			return 0, fmt.Errorf("invalid schedule %q for script %q: %w", script.Schedule, script.Name, err)
		}
		d.log.Info("script scheduled",
			zap.String("script", script.Name),
			zap.String("schedule", script.Schedule))
		scheduled++
	}
	return scheduled, nil
}

// runOne executes one scheduled healing run, skipping if a run for the same
// script is still in flight.
func (d *Daemon) runOne(ctx context.Context, s config.Script) {
	if !d.tryAcquire(s.Name) {
		d.log.Warn("previous run still in progress, skipping", zap.String("script", s.Name))
		return
	}
	defer d.release(s.Name)

	if ctx.Err() != nil {
		return
	}
	d.heal(ctx, s)
}

func (d *Daemon) tryAcquire(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running[name] {
		return false
	}
	d.running[name] = true
	return true
}

func (d *Daemon) release(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.running, name)
}

func (d *Daemon) buildServer() *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", d.metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &http.Server{
		Addr:              d.cfg.Metrics.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
