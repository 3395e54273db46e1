package gitops

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mendtool/mend/internal/config"
)

type fakeGit struct {
	responses map[string]string
	errOn     string
	calls     []string
}

func (f *fakeGit) RunGit(ctx context.Context, dir string, args ...string) (string, error) {
	key := strings.Join(args, " ")
	f.calls = append(f.calls, key)
	if f.errOn != "" && strings.HasPrefix(key, f.errOn) {
		return "", errors.New("git failed")
	}
	return f.responses[key], nil
}

type fakeGh struct {
	responses map[string]string
	calls     []string
}

func (f *fakeGh) RunGh(ctx context.Context, dir string, args ...string) (string, error) {
	key := strings.Join(args, " ")
	f.calls = append(f.calls, key)
	return f.responses[key], nil
}

func called(calls []string, prefix string) bool {
	for _, c := range calls {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

func testWorkflow(git *fakeGit, gh *fakeGh, cfg config.Git) *Workflow {
	w := NewWorkflow(git, gh, cfg, nil)
	w.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return w
}

func TestBeginCreatesBranch(t *testing.T) {
	git := &fakeGit{responses: map[string]string{"rev-parse --abbrev-ref HEAD": "main"}}
	w := testWorkflow(git, &fakeGh{}, config.Git{BranchPrefix: "mend/"})

	s, err := w.Begin(context.Background(), "/repo", "etl job")
	require.NoError(t, err)

	assert.Equal(t, "main", s.PrevBranch)
	assert.Equal(t, "mend/etl-job-20260301-120000", s.Branch)
	assert.True(t, called(git.calls, "checkout -b mend/etl-job-20260301-120000"))
}

func TestCommit(t *testing.T) {
	git := &fakeGit{responses: map[string]string{}}
	w := testWorkflow(git, &fakeGh{}, config.Git{})
	s := &Session{Branch: "mend/etl-x", PrevBranch: "main", Dir: "/repo"}

	require.NoError(t, w.Commit(context.Background(), s, "mend: fix etl"))
	assert.True(t, called(git.calls, "add -A"))
	assert.True(t, called(git.calls, "commit -m mend: fix etl"))
}

func TestPublishPushOnly(t *testing.T) {
	git := &fakeGit{responses: map[string]string{}}
	gh := &fakeGh{}
	w := testWorkflow(git, gh, config.Git{Push: true, Remote: "origin"})
	s := &Session{Branch: "mend/etl-x", Dir: "/repo"}

	url, err := w.Publish(context.Background(), s, "t", "b")
	require.NoError(t, err)
	assert.Empty(t, url)
	assert.True(t, called(git.calls, "push -u origin mend/etl-x"))
	assert.Empty(t, gh.calls)
}

func TestPublishCreatesPR(t *testing.T) {
	git := &fakeGit{responses: map[string]string{}}
	gh := &fakeGh{responses: map[string]string{
		"pr list --head mend/etl-x --json url --limit 1": "[]",
		"pr create --title fix etl --body details --head mend/etl-x --base main": "https://github.com/acme/repo/pull/7",
	}}
	w := testWorkflow(git, gh, config.Git{Push: true, CreatePR: true, Remote: "origin", PRBase: "main"})
	s := &Session{Branch: "mend/etl-x", Dir: "/repo"}

	url, err := w.Publish(context.Background(), s, "fix etl", "details")
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/acme/repo/pull/7", url)
}

func TestPublishReusesExistingPR(t *testing.T) {
	git := &fakeGit{responses: map[string]string{}}
	gh := &fakeGh{responses: map[string]string{
		"pr list --head mend/etl-x --json url --limit 1": `[{"url":"https://github.com/acme/repo/pull/3"}]`,
	}}
	w := testWorkflow(git, gh, config.Git{Push: true, CreatePR: true, Remote: "origin", PRBase: "main"})
	s := &Session{Branch: "mend/etl-x", Dir: "/repo"}

	url, err := w.Publish(context.Background(), s, "t", "b")
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/acme/repo/pull/3", url)
	assert.False(t, called(gh.calls, "pr create"))
}

func TestPublishDisabled(t *testing.T) {
	git := &fakeGit{responses: map[string]string{}}
	w := testWorkflow(git, &fakeGh{}, config.Git{})
	s := &Session{Branch: "mend/etl-x", Dir: "/repo"}

	url, err := w.Publish(context.Background(), s, "t", "b")
	require.NoError(t, err)
	assert.Empty(t, url)
	assert.Empty(t, git.calls)
}

func TestRollback(t *testing.T) {
	git := &fakeGit{responses: map[string]string{}}
	w := testWorkflow(git, &fakeGh{}, config.Git{})
	s := &Session{Branch: "mend/etl-x", PrevBranch: "main", Dir: "/repo"}

	require.NoError(t, w.Rollback(context.Background(), s))
	assert.True(t, called(git.calls, "checkout main"))
	assert.True(t, called(git.calls, "branch -D mend/etl-x"))
}

func TestFinishKeepsBranch(t *testing.T) {
	git := &fakeGit{responses: map[string]string{}}
	w := testWorkflow(git, &fakeGh{}, config.Git{})
	s := &Session{Branch: "mend/etl-x", PrevBranch: "main", Dir: "/repo"}

	require.NoError(t, w.Finish(context.Background(), s))
	assert.True(t, called(git.calls, "checkout main"))
	assert.False(t, called(git.calls, "branch -D"))
}
