// Package patch captures and rolls back the working tree changes a repair
// backend makes.
package patch

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/mendtool/mend/internal/healing"
)

// GitRunner provides git command execution. Interface for testing.
type GitRunner interface {
	RunGit(ctx context.Context, dir string, args ...string) (string, error)
}

// ExecGit implements GitRunner using exec.Command.
type ExecGit struct{}

func (g *ExecGit) RunGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return strings.TrimSpace(string(out)), fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Git captures and reverts changes in a git working tree. It implements both
// the change-capture side used by the repair client and the applier side used
// by the healer.
type Git struct {
	git GitRunner
	log *zap.Logger
}

// NewGit creates a git-backed patch handler. A nil logger defaults to a
// no-op logger.
func NewGit(git GitRunner, log *zap.Logger) *Git {
	if log == nil {
		log = zap.NewNop()
	}
	return &Git{git: git, log: log}
}

// Diff returns the uncommitted changes in dir, including staged ones.
func (g *Git) Diff(ctx context.Context, dir string) (string, error) {
	return g.git.RunGit(ctx, dir, "diff", "HEAD")
}

// ChangedFiles lists paths with uncommitted modifications, including
// untracked files.
func (g *Git) ChangedFiles(ctx context.Context, dir string) ([]string, error) {
	out, err := g.git.RunGit(ctx, dir, "status", "--porcelain")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 4 {
			continue
		}
		path := strings.TrimSpace(line[3:])
		// Renames show as "old -> new"; the new path is what changed.
		if _, after, ok := strings.Cut(path, " -> "); ok {
			path = after
		}
		files = append(files, path)
	}
	return files, nil
}

// Apply acknowledges a change the backend already made in the working tree
// and returns a handle that can roll it back. The tree must be a git
// repository for rollback to work.
func (g *Git) Apply(ctx context.Context, ref healing.ScriptRef, p healing.Patch) (healing.ChangeHandle, error) {
	if _, err := g.git.RunGit(ctx, ref.WorkingDir, "rev-parse", "--git-dir"); err != nil {
		return nil, fmt.Errorf("not a git repository: %w", err)
	}
	return &gitHandle{
		git:   g.git,
		log:   g.log,
		dir:   ref.WorkingDir,
		patch: p,
	}, nil
}

type gitHandle struct {
	git   GitRunner
	log   *zap.Logger
	dir   string
	patch healing.Patch
}

// Revert undoes the captured change: tracked modifications are reverse
// applied from the diff, untracked additions are removed.
func (h *gitHandle) Revert(ctx context.Context) error {
	if h.patch.Diff != "" {
		tmp, err := os.CreateTemp("", "mend-revert-*.diff")
		if err != nil {
			return fmt.Errorf("stage revert diff: %w", err)
		}
		defer os.Remove(tmp.Name())
		if _, err := tmp.WriteString(h.patch.Diff + "\n"); err != nil {
			tmp.Close()
			return fmt.Errorf("stage revert diff: %w", err)
		}
		tmp.Close()

		if _, err := h.git.RunGit(ctx, h.dir, "apply", "--reverse", "--whitespace=nowarn", tmp.Name()); err != nil {
			return fmt.Errorf("reverse apply: %w", err)
		}
	}

	// Untracked files added by the backend are not in the diff.
	out, err := h.git.RunGit(ctx, h.dir, "status", "--porcelain")
	if err != nil {
		return nil
	}
	for _, line := range strings.Split(out, "\n") {
		if !strings.HasPrefix(line, "??") {
			continue
		}
		path := strings.TrimSpace(line[2:])
		if contains(h.patch.FilesChanged, path) {
			if _, err := h.git.RunGit(ctx, h.dir, "clean", "-f", "--", path); err != nil {
				h.log.Warn("could not remove added file", zap.String("path", path), zap.Error(err))
			}
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Keep is a patch applier for trees without git: changes are acknowledged
// as-is and rollback is a no-op.
type Keep struct{}

func (Keep) Apply(ctx context.Context, ref healing.ScriptRef, p healing.Patch) (healing.ChangeHandle, error) {
	return keepHandle{}, nil
}

type keepHandle struct{}

func (keepHandle) Revert(ctx context.Context) error { return nil }
