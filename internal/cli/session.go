package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/mendtool/mend/internal/config"
	"github.com/mendtool/mend/internal/gitops"
	"github.com/mendtool/mend/internal/healing"
	"github.com/mendtool/mend/internal/history"
	"github.com/mendtool/mend/internal/metrics"
	"github.com/mendtool/mend/internal/notify"
	"github.com/mendtool/mend/internal/patch"
	"github.com/mendtool/mend/internal/redact"
	"github.com/mendtool/mend/internal/repair"
	"github.com/mendtool/mend/internal/script"
)

const timeRounding = time.Second

// sessionOutcome is what one supervised run produced, for printing and
// delivery.
type sessionOutcome struct {
	Result healing.Result
	PRURL  string
}

// buildRedactor constructs the redactor from the security config.
func buildRedactor(cfg config.Security) (*redact.Redactor, error) {
	r, err := redact.New(cfg.RedactPatterns)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// scriptDir is the directory a session's git operations run in.
func scriptDir(sc config.Script) string {
	if sc.WorkingDir != "" {
		return sc.WorkingDir
	}
	return filepath.Dir(sc.Path)
}

// runSession drives one full supervised run for a script: baseline, healing
// loop, git publication, history, and notifications.
func runSession(ctx context.Context, cfg *config.Config, sc config.Script, m *metrics.Metrics, log *zap.Logger) (sessionOutcome, error) {
	redactor, err := buildRedactor(cfg.Security)
	if err != nil {
		return sessionOutcome{}, err
	}

	runner := script.NewRunner(&script.ExecRunner{}, log)
	gitRunner := &patch.ExecGit{}

	var applier healing.PatchApplier = patch.Keep{}
	var differ repair.Differ
	if cfg.Git.Enabled || cfg.Healing.RevertOnFailure {
		g := patch.NewGit(gitRunner, log)
		applier = g
		differ = g
	}

	repairClient := repair.NewClient(&repair.ExecRunner{}, differ, repair.Options{
		Command:      cfg.Repair.Command,
		Model:        cfg.Repair.Model,
		AllowedTools: cfg.Repair.AllowedTools,
		ExtraFlags:   cfg.Repair.ExtraFlags,
	}, redactor, log)

	healer, err := healing.NewHealer(runner, repairClient, applier, healing.Config{
		MaxAttempts:          cfg.Healing.MaxAttempts,
		AttemptTimeout:       cfg.Healing.AttemptTimeout.Std(),
		TotalTimeout:         cfg.Healing.TotalTimeout.Std(),
		RevertOnFailure:      cfg.Healing.RevertOnFailure,
		BackoffBase:          cfg.Healing.BackoffBase.Std(),
		BackoffCap:           cfg.Healing.BackoffCap.Std(),
		MinOutputRatio:       cfg.Healing.MinOutputRatio,
		ImprovementThreshold: cfg.Healing.ImprovementThreshold,
		RegressionFactor:     cfg.Healing.RegressionFactor,
		MaxContextBytes:      cfg.Healing.MaxContextBytes,
		Hints:                sc.Hints,
	}, log)
	if err != nil {
		return sessionOutcome{}, err
	}

	dir := scriptDir(sc)
	var gitSession *gitops.Session
	var workflow *gitops.Workflow
	if cfg.Git.Enabled {
		workflow = gitops.NewWorkflow(gitRunner, &gitops.ExecGh{}, cfg.Git, log)
		gitSession, err = workflow.Begin(ctx, dir, sc.Name)
		if err != nil {
			return sessionOutcome{}, fmt.Errorf("start git session: %w", err)
		}
	}

	started := time.Now().UTC()
	result, healErr := healer.Heal(ctx, healing.ScriptRef{
		Path:       sc.Path,
		WorkingDir: sc.WorkingDir,
		Env:        sc.Env,
	})

	outcome := sessionOutcome{Result: result}
	if healErr != nil {
		if gitSession != nil {
			if rbErr := workflow.Rollback(ctx, gitSession); rbErr != nil {
				log.Warn("git rollback failed", zap.Error(rbErr))
			}
		}
		return outcome, healErr
	}

	if gitSession != nil {
		outcome.PRURL = finishGitSession(ctx, workflow, gitSession, sc, result, log)
	}

	deliver(ctx, cfg, sc, outcome, started, m, redactor, log)
	return outcome, nil
}

// finishGitSession commits and publishes a successful fix, or rolls the
// branch back after a failed session. Git trouble never fails the session.
func finishGitSession(ctx context.Context, workflow *gitops.Workflow, s *gitops.Session, sc config.Script, result healing.Result, log *zap.Logger) string {
	if !result.Healed() {
		if err := workflow.Rollback(ctx, s); err != nil {
			log.Warn("git rollback failed", zap.Error(err))
		}
		return ""
	}

	message := fmt.Sprintf("mend: fix %s", sc.Name)
	if err := workflow.Commit(ctx, s, message); err != nil {
		log.Warn("could not commit fix", zap.Error(err))
		return ""
	}

	title := fmt.Sprintf("mend: fix %s after %d attempt(s)", sc.Name, len(result.Attempts))
	body := fmt.Sprintf("Automated fix for `%s`.\n\n```\n%s\n```", sc.Path, healing.Summarize(result.Attempts))
	prURL, err := workflow.Publish(ctx, s, title, body)
	if err != nil {
		log.Warn("could not publish fix", zap.Error(err))
	}
	if err := workflow.Finish(ctx, s); err != nil {
		log.Warn("could not return to original branch", zap.Error(err))
	}
	return prURL
}

// deliver archives the session and notifies the configured channels.
func deliver(ctx context.Context, cfg *config.Config, sc config.Script, outcome sessionOutcome, started time.Time, m *metrics.Metrics, redactor *redact.Redactor, log *zap.Logger) {
	result := outcome.Result

	if cfg.History.Enabled {
		if store, err := history.Open(ctx, cfg.History.DSN, log); err != nil {
			log.Warn("history unavailable", zap.Error(err))
		} else {
			defer store.Close()
			rec := history.NewRecord(sc.Name, result, started)
			rec.PRURL = outcome.PRURL
			if err := store.Save(ctx, rec); err != nil {
				log.Warn("could not archive session", zap.Error(err))
			}
			if _, err := store.Prune(ctx, cfg.History.RetentionDays); err != nil {
				log.Warn("could not prune history", zap.Error(err))
			}
		}
	}

	if m != nil {
		m.ObserveSession(sc.Name, result)
	}

	dispatcher := notify.NewDispatcher(cfg.Notifications, redactor, log)
	dispatcher.Dispatch(ctx, notify.Event{
		Script:    sc.Name,
		Reason:    result.Reason,
		Attempts:  len(result.Attempts),
		Elapsed:   result.Elapsed,
		Summary:   healing.Summarize(result.Attempts),
		PRURL:     outcome.PRURL,
		Timestamp: started,
	})
}

// findScript resolves a script by name from the config, with a helpful error.
func findScript(cfg *config.Config, name string) (config.Script, error) {
	sc, ok := cfg.FindScript(name)
	if !ok {
		names := make([]string, 0, len(cfg.Scripts))
		for _, s := range cfg.Scripts {
			names = append(names, s.Name)
		}
		return config.Script{}, fmt.Errorf("unknown script %q (configured: %v)", name, names)
	}
	return sc, nil
}

// isAlreadyHealthy reports whether a heal error just means there was nothing
// to fix.
func isAlreadyHealthy(err error) bool {
	return errors.Is(err, healing.ErrAlreadyHealthy)
}
