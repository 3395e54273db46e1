// Package gitops isolates healing changes on their own branch and publishes
// successful fixes as pull requests.
package gitops

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mendtool/mend/internal/config"
	"github.com/mendtool/mend/internal/patch"
)

// GhRunner provides gh command execution. Interface for testing.
type GhRunner interface {
	RunGh(ctx context.Context, dir string, args ...string) (string, error)
}

// ExecGh runs gh commands via exec.
type ExecGh struct{}

func (r *ExecGh) RunGh(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "gh", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return strings.TrimSpace(string(out)), fmt.Errorf("gh %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Session tracks the branch state of one healing run.
type Session struct {
	Branch     string
	PrevBranch string
	Dir        string
}

// Workflow manages branch isolation for healing sessions.
type Workflow struct {
	git patch.GitRunner
	gh  GhRunner
	cfg config.Git
	log *zap.Logger

	now func() time.Time
}

// NewWorkflow creates a workflow. A nil logger defaults to a no-op logger.
func NewWorkflow(git patch.GitRunner, gh GhRunner, cfg config.Git, log *zap.Logger) *Workflow {
	if log == nil {
		log = zap.NewNop()
	}
	return &Workflow{git: git, gh: gh, cfg: cfg, log: log, now: time.Now}
}

var branchSafeRe = regexp.MustCompile(`[^a-zA-Z0-9._/-]+`)

// Begin records the current branch and switches to a fresh healing branch
// named <prefix><script>-<timestamp>.
func (w *Workflow) Begin(ctx context.Context, dir, scriptName string) (*Session, error) {
	prev, err := w.git.RunGit(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return nil, fmt.Errorf("resolve current branch: %w", err)
	}

	name := branchSafeRe.ReplaceAllString(scriptName, "-")
	branch := fmt.Sprintf("%s%s-%s", w.cfg.BranchPrefix, name, w.now().UTC().Format("20060102-150405"))
	if strings.HasPrefix(branch, "-") {
		return nil, fmt.Errorf("invalid branch name %q", branch)
	}

	if _, err := w.git.RunGit(ctx, dir, "checkout", "-b", branch); err != nil {
		return nil, fmt.Errorf("create healing branch: %w", err)
	}

	w.log.Info("healing branch created",
		zap.String("branch", branch),
		zap.String("from", prev))
	return &Session{Branch: branch, PrevBranch: prev, Dir: dir}, nil
}

// Commit stages and commits everything in the session's working tree.
func (w *Workflow) Commit(ctx context.Context, s *Session, message string) error {
	if _, err := w.git.RunGit(ctx, s.Dir, "add", "-A"); err != nil {
		return fmt.Errorf("stage changes: %w", err)
	}
	if _, err := w.git.RunGit(ctx, s.Dir, "commit", "-m", message); err != nil {
		return fmt.Errorf("commit changes: %w", err)
	}
	return nil
}

// Publish pushes the healing branch and opens a pull request when configured.
// Returns the PR URL, or empty when PR creation is disabled.
func (w *Workflow) Publish(ctx context.Context, s *Session, title, body string) (string, error) {
	if !w.cfg.Push {
		return "", nil
	}
	if _, err := w.git.RunGit(ctx, s.Dir, "push", "-u", w.cfg.Remote, s.Branch); err != nil {
		return "", fmt.Errorf("push healing branch: %w", err)
	}

	if !w.cfg.CreatePR {
		return "", nil
	}
	if existing, err := w.findPR(ctx, s); err == nil && existing != "" {
		return existing, nil
	}

	out, err := w.gh.RunGh(ctx, s.Dir, "pr", "create",
		"--title", title,
		"--body", body,
		"--head", s.Branch,
		"--base", w.cfg.PRBase)
	if err != nil {
		return "", fmt.Errorf("create PR: %w", err)
	}
	return out, nil
}

// findPR checks whether a PR already exists for the session branch.
func (w *Workflow) findPR(ctx context.Context, s *Session) (string, error) {
	out, err := w.gh.RunGh(ctx, s.Dir, "pr", "list", "--head", s.Branch, "--json", "url", "--limit", "1")
	if err != nil {
		return "", err
	}
	var prs []struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal([]byte(out), &prs); err != nil || len(prs) == 0 {
		return "", err
	}
	return prs[0].URL, nil
}

// Rollback returns to the original branch and deletes the healing branch,
// discarding any uncommitted leftovers first.
func (w *Workflow) Rollback(ctx context.Context, s *Session) error {
	if _, err := w.git.RunGit(ctx, s.Dir, "checkout", "--", "."); err != nil {
		w.log.Warn("could not discard leftovers", zap.Error(err))
	}
	if _, err := w.git.RunGit(ctx, s.Dir, "checkout", s.PrevBranch); err != nil {
		return fmt.Errorf("return to %s: %w", s.PrevBranch, err)
	}
	if _, err := w.git.RunGit(ctx, s.Dir, "branch", "-D", s.Branch); err != nil {
		return fmt.Errorf("delete healing branch: %w", err)
	}
	return nil
}

// Finish returns to the original branch, keeping the healing branch and its
// commits for review.
func (w *Workflow) Finish(ctx context.Context, s *Session) error {
	if _, err := w.git.RunGit(ctx, s.Dir, "checkout", s.PrevBranch); err != nil {
		return fmt.Errorf("return to %s: %w", s.PrevBranch, err)
	}
	return nil
}
