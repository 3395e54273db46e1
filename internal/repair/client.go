// Package repair asks an agentic CLI to fix a failing script. The backend
// edits files in the working tree directly; the client captures the resulting
// diff so the change can be recorded and rolled back.
package repair

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/mendtool/mend/internal/healing"
	"github.com/mendtool/mend/internal/redact"
)

// CmdRunner provides command execution. Interface for testing.
type CmdRunner interface {
	Run(ctx context.Context, dir string, name string, args ...string) (string, error)
}

// Differ captures the working tree changes the backend made.
type Differ interface {
	Diff(ctx context.Context, dir string) (string, error)
	ChangedFiles(ctx context.Context, dir string) ([]string, error)
}

// ExecRunner runs commands via exec.
type ExecRunner struct{}

func (r *ExecRunner) Run(ctx context.Context, dir string, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return strings.TrimSpace(string(out)), fmt.Errorf("%s: %s: %w", name, strings.TrimSpace(string(out)), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Options configures the repair backend invocation.
type Options struct {
	Command      string   // CLI binary, e.g. "claude"
	Model        string
	AllowedTools []string
	ExtraFlags   []string
}

// Client implements the repair service on top of an agentic CLI.
type Client struct {
	runner   CmdRunner
	differ   Differ
	opts     Options
	redactor *redact.Redactor
	log      *zap.Logger

	lookPath func(string) (string, error) // injectable for tests
}

// NewClient builds a repair client. differ may be nil, in which case patches
// carry only the backend's summary. A nil logger defaults to a no-op logger.
func NewClient(runner CmdRunner, differ Differ, opts Options, redactor *redact.Redactor, log *zap.Logger) *Client {
	if opts.Command == "" {
		opts.Command = "claude"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		runner:   runner,
		differ:   differ,
		opts:     opts,
		redactor: redactor,
		log:      log,
		lookPath: exec.LookPath,
	}
}

// Available reports whether the backend CLI is installed.
func (c *Client) Available() bool {
	_, err := c.lookPath(c.opts.Command)
	return err == nil
}

// ProposeFix renders the healing prompt, runs the backend in the script's
// working tree, and returns the captured change.
func (c *Client) ProposeFix(ctx context.Context, hc healing.Context) (healing.Patch, error) {
	if !c.Available() {
		return healing.Patch{}, fmt.Errorf("%w: %q not found in PATH", healing.ErrRepairUnavailable, c.opts.Command)
	}

	promptText, err := BuildPrompt(hc)
	if err != nil {
		return healing.Patch{}, fmt.Errorf("build repair prompt: %w", err)
	}
	if c.redactor != nil {
		promptText = c.redactor.Scrub(promptText)
	}

	args := []string{"-p", promptText}
	if c.opts.Model != "" {
		args = append(args, "--model", c.opts.Model)
	}
	if len(c.opts.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(c.opts.AllowedTools, ","))
	}
	args = append(args, c.opts.ExtraFlags...)

	c.log.Debug("invoking repair backend",
		zap.String("command", c.opts.Command),
		zap.Int("prompt_bytes", len(promptText)))

	out, runErr := c.runner.Run(ctx, hc.Script.WorkingDir, c.opts.Command, args...)
	if outcomeErr := classifyOutput(out, runErr); outcomeErr != nil {
		return healing.Patch{}, outcomeErr
	}

	patch := healing.Patch{Summary: summarize(out)}
	if c.differ != nil {
		diff, err := c.differ.Diff(ctx, hc.Script.WorkingDir)
		if err != nil {
			c.log.Warn("could not capture change diff", zap.Error(err))
		} else {
			patch.Diff = diff
		}
		if files, err := c.differ.ChangedFiles(ctx, hc.Script.WorkingDir); err == nil {
			patch.FilesChanged = files
		}
		if patch.Diff == "" && len(patch.FilesChanged) == 0 {
			return healing.Patch{}, fmt.Errorf("%w: backend made no changes", healing.ErrNoFixAvailable)
		}
	}
	return patch, nil
}
