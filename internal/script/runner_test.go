package script

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCommand struct {
	stdout   string
	stderr   string
	exitCode int
	err      error
	blockCtx bool // wait for ctx cancellation before returning

	gotDir  string
	gotArgv []string
	gotEnv  []string
}

func (f *fakeCommand) Run(ctx context.Context, dir string, argv []string, env []string) (string, string, int, error) {
	f.gotDir = dir
	f.gotArgv = argv
	f.gotEnv = env
	if f.blockCtx {
		<-ctx.Done()
	}
	return f.stdout, f.stderr, f.exitCode, f.err
}

func writeScript(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestRunCapturesResult(t *testing.T) {
	path := writeScript(t, "job.py", "print('hi')\n")
	fake := &fakeCommand{stdout: "hi\n", stderr: "warn\n", exitCode: 3}
	r := NewRunner(fake, nil)

	result, err := r.Run(context.Background(), path, RunOpts{})
	require.NoError(t, err)

	assert.Equal(t, 3, result.ExitCode)
	assert.Equal(t, "hi\n", result.Stdout)
	assert.Equal(t, "warn\n", result.Stderr)
	assert.False(t, result.Success())
	assert.False(t, result.Timestamp.IsZero())
	assert.Equal(t, []string{"python3", path}, fake.gotArgv)
	assert.Equal(t, filepath.Dir(path), fake.gotDir)
}

func TestRunExitZeroIsSuccess(t *testing.T) {
	path := writeScript(t, "job.sh", "true\n")
	r := NewRunner(&fakeCommand{exitCode: 0}, nil)

	result, err := r.Run(context.Background(), path, RunOpts{})
	require.NoError(t, err)
	assert.True(t, result.Success())
}

func TestRunTimeout(t *testing.T) {
	path := writeScript(t, "slow.sh", "sleep 60\n")
	fake := &fakeCommand{stdout: "partial", blockCtx: true}
	r := NewRunner(fake, nil)

	result, err := r.Run(context.Background(), path, RunOpts{Timeout: 20 * time.Millisecond})
	require.NoError(t, err)

	assert.Equal(t, ExitTimeout, result.ExitCode)
	assert.True(t, result.TimedOut())
	assert.Contains(t, result.Stderr, "[TIMEOUT]")
	assert.Equal(t, "partial", result.Stdout)
}

func TestRunSpawnFailure(t *testing.T) {
	path := writeScript(t, "job.py", "print('hi')\n")
	fake := &fakeCommand{err: errors.New("executable file not found")}
	r := NewRunner(fake, nil)

	result, err := r.Run(context.Background(), path, RunOpts{})
	require.NoError(t, err)

	assert.Equal(t, ExitSpawnFail, result.ExitCode)
	assert.Contains(t, result.Stderr, "[EXECUTION ERROR]")
}

func TestRunMissingScript(t *testing.T) {
	r := NewRunner(&fakeCommand{}, nil)
	_, err := r.Run(context.Background(), filepath.Join(t.TempDir(), "nope.py"), RunOpts{})
	assert.Error(t, err)
}

func TestRunDirectoryPath(t *testing.T) {
	r := NewRunner(&fakeCommand{}, nil)
	_, err := r.Run(context.Background(), t.TempDir(), RunOpts{})
	assert.Error(t, err)
}

func TestRunWorkingDirAndEnv(t *testing.T) {
	path := writeScript(t, "job.py", "pass\n")
	dir := t.TempDir()
	fake := &fakeCommand{}
	r := NewRunner(fake, nil)

	_, err := r.Run(context.Background(), path, RunOpts{
		WorkingDir: dir,
		Env:        []string{"MEND_TEST=1"},
	})
	require.NoError(t, err)
	assert.Equal(t, dir, fake.gotDir)
	assert.Equal(t, []string{"MEND_TEST=1"}, fake.gotEnv)
}

func TestInterpreterByExtension(t *testing.T) {
	cases := map[string][]string{
		"job.py":   {"python3"},
		"job.sh":   {"bash"},
		"job.bash": {"bash"},
		"job.js":   {"node"},
		"job.rb":   {"ruby"},
		"job.pl":   {"perl"},
	}
	for name, want := range cases {
		path := writeScript(t, name, "")
		got, err := Interpreter(path)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
}

func TestInterpreterByShebang(t *testing.T) {
	cases := []struct {
		shebang string
		want    []string
	}{
		{"#!/usr/bin/env python3", []string{"python3"}},
		{"#!/bin/bash", []string{"bash"}},
		{"#!/bin/sh", []string{"bash"}},
		{"#!/usr/bin/env node", []string{"node"}},
	}
	for _, tc := range cases {
		path := writeScript(t, "job", tc.shebang+"\necho hi\n")
		got, err := Interpreter(path)
		require.NoError(t, err, tc.shebang)
		assert.Equal(t, tc.want, got, tc.shebang)
	}
}

func TestInterpreterExecutableBit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tool")
	require.NoError(t, os.WriteFile(path, []byte("binary-ish"), 0o755))

	got, err := Interpreter(path)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestInterpreterUnknown(t *testing.T) {
	path := writeScript(t, "data.txt", "not a script")
	_, err := Interpreter(path)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "cannot determine"))
}
