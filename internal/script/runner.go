package script

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// CommandRunner abstracts process execution for testability.
type CommandRunner interface {
	Run(ctx context.Context, dir string, argv []string, env []string) (stdout string, stderr string, exitCode int, err error)
}

// ExecRunner implements CommandRunner by spawning real processes.
type ExecRunner struct{}

func (e *ExecRunner) Run(ctx context.Context, dir string, argv []string, env []string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}

	var stdoutBuf, stderrBuf strings.Builder
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return stdoutBuf.String(), stderrBuf.String(), ExitSpawnFail, fmt.Errorf("exec: %w", err)
		}
	}
	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// Runner executes scripts and captures normalized results.
type Runner struct {
	cmd CommandRunner
	log *zap.Logger
}

// NewRunner creates a Runner. A nil logger defaults to a no-op logger.
func NewRunner(cmd CommandRunner, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{cmd: cmd, log: log}
}

// RunOpts configures a single script run.
type RunOpts struct {
	WorkingDir string
	Env        []string // extra KEY=VALUE entries merged over the ambient environment
	Timeout    time.Duration
}

// Run executes the script at path and returns its result. Non-zero exit codes
// are data, not errors; only an unusable script path yields an error. A run
// that exceeds the timeout is returned with ExitTimeout and a marker line
// appended to stderr.
func (r *Runner) Run(ctx context.Context, path string, opts RunOpts) (ExecutionResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return ExecutionResult{}, fmt.Errorf("script not found: %w", err)
	}
	if info.IsDir() {
		return ExecutionResult{}, fmt.Errorf("script path %q is a directory", path)
	}

	interpreter, err := Interpreter(path)
	if err != nil {
		return ExecutionResult{}, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return ExecutionResult{}, fmt.Errorf("resolve script path: %w", err)
	}
	argv := append(interpreter, abs)

	dir := opts.WorkingDir
	if dir == "" {
		dir = filepath.Dir(abs)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	r.log.Debug("running script",
		zap.String("script", abs),
		zap.Duration("timeout", timeout))

	start := time.Now()
	timestamp := time.Now().UTC()
	stdout, stderr, exitCode, runErr := r.cmd.Run(runCtx, dir, argv, opts.Env)
	duration := time.Since(start)

	if runCtx.Err() == context.DeadlineExceeded {
		return ExecutionResult{
			ExitCode:  ExitTimeout,
			Stdout:    stdout,
			Stderr:    stderr + fmt.Sprintf("\n[TIMEOUT] execution exceeded %s", timeout),
			Duration:  duration,
			Timestamp: timestamp,
		}, nil
	}
	if runErr != nil {
		return ExecutionResult{
			ExitCode:  ExitSpawnFail,
			Stdout:    "",
			Stderr:    fmt.Sprintf("[EXECUTION ERROR] %v", runErr),
			Duration:  duration,
			Timestamp: timestamp,
		}, nil
	}

	return ExecutionResult{
		ExitCode:  exitCode,
		Stdout:    stdout,
		Stderr:    stderr,
		Duration:  duration,
		Timestamp: timestamp,
	}, nil
}

// extensionInterpreters maps script extensions to interpreter argv prefixes.
var extensionInterpreters = map[string][]string{
	".py":   {"python3"},
	".sh":   {"bash"},
	".bash": {"bash"},
	".js":   {"node"},
	".mjs":  {"node"},
	".rb":   {"ruby"},
	".pl":   {"perl"},
	".php":  {"php"},
}

// Interpreter determines the command prefix needed to run a script, checking
// the extension first, then the shebang line, then executable permission
// (which needs no prefix at all).
func Interpreter(path string) ([]string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if argv, ok := extensionInterpreters[ext]; ok {
		return argv, nil
	}

	if argv := shebangInterpreter(path); argv != nil {
		return argv, nil
	}

	if info, err := os.Stat(path); err == nil && info.Mode()&0o111 != 0 {
		return nil, nil
	}

	return nil, fmt.Errorf("cannot determine how to run %q: no recognized extension, shebang, or executable bit", path)
}

// shebangInterpreter reads the first line of a script and maps a shebang to an
// interpreter, or returns nil if there is none.
func shebangInterpreter(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return nil
	}
	first := strings.TrimSpace(scanner.Text())
	if !strings.HasPrefix(first, "#!") {
		return nil
	}
	shebang := first[2:]

	switch {
	case strings.Contains(shebang, "python"):
		return []string{"python3"}
	case strings.Contains(shebang, "bash"), strings.HasSuffix(shebang, "/sh"):
		return []string{"bash"}
	case strings.Contains(shebang, "node"):
		return []string{"node"}
	case strings.Contains(shebang, "ruby"):
		return []string{"ruby"}
	case strings.Contains(shebang, "perl"):
		return []string{"perl"}
	case strings.Contains(shebang, "php"):
		return []string{"php"}
	}
	return nil
}
