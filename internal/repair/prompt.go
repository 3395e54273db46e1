package repair

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/mendtool/mend/internal/healing"
	"github.com/mendtool/mend/internal/prompt"
)

const maxScriptBytes = 32 * 1024

// BuildPrompt renders the healing prompt for the current session context.
func BuildPrompt(hc healing.Context) (string, error) {
	tmpl, err := prompt.LoadTemplate("heal.md", hc.Script.WorkingDir)
	if err != nil {
		return "", err
	}
	latest := hc.LatestFailure()
	return prompt.Render(tmpl, prompt.Vars{
		"script_path":     hc.Script.Path,
		"working_dir":     hc.Script.WorkingDir,
		"script_content":  readScript(hc.Script.Path),
		"exit_code":       strconv.Itoa(latest.ExitCode),
		"stderr":          latest.Stderr,
		"stdout":          latest.Stdout,
		"attempt_history": attemptHistory(hc.Attempts),
		"hints":           hintList(hc.Hints),
	})
}

// BuildDiagnosePrompt renders the read-only diagnosis prompt.
func BuildDiagnosePrompt(hc healing.Context) (string, error) {
	tmpl, err := prompt.LoadTemplate("diagnose.md", hc.Script.WorkingDir)
	if err != nil {
		return "", err
	}
	latest := hc.LatestFailure()
	return prompt.Render(tmpl, prompt.Vars{
		"script_path":    hc.Script.Path,
		"script_content": readScript(hc.Script.Path),
		"exit_code":      strconv.Itoa(latest.ExitCode),
		"stderr":         latest.Stderr,
		"stdout":         latest.Stdout,
	})
}

func readScript(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Sprintf("(could not read script: %v)", err)
	}
	if len(data) > maxScriptBytes {
		return string(data[:maxScriptBytes]) + "\n... (truncated)"
	}
	return string(data)
}

// attemptHistory renders prior attempts for the prompt: what was tried and
// what the re-run showed, oldest first.
func attemptHistory(attempts []healing.Attempt) string {
	if len(attempts) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, a := range attempts {
		fmt.Fprintf(&sb, "### Attempt %d\n", a.Number)
		if a.Patch.Summary != "" {
			fmt.Fprintf(&sb, "Change: %s\n", a.Patch.Summary)
		}
		if len(a.Patch.FilesChanged) > 0 {
			fmt.Fprintf(&sb, "Files: %s\n", strings.Join(a.Patch.FilesChanged, ", "))
		}
		if a.TimedOut {
			sb.WriteString("Result: timed out\n\n")
			continue
		}
		fmt.Fprintf(&sb, "Result: %s (%s)\n", a.Verification.Outcome, a.Verification.Rationale)
		if a.Result != nil && a.Result.Stderr != "" {
			fmt.Fprintf(&sb, "stderr:\n```\n%s\n```\n", a.Result.Stderr)
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func hintList(hints []string) string {
	if len(hints) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, h := range hints {
		fmt.Fprintf(&sb, "- %s\n", h)
	}
	return strings.TrimRight(sb.String(), "\n")
}
