package repair

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mendtool/mend/internal/healing"
)

// Backend output markers. The healing prompt instructs the backend to emit
// NO_FIX_AVAILABLE when it cannot help; the rest are conditions the CLI
// itself reports.
var (
	unavailablePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)invalid api key`),
		regexp.MustCompile(`(?i)please run /login`),
		regexp.MustCompile(`(?i)not logged in`),
		regexp.MustCompile(`(?i)authentication[_ ]?(error|failed)`),
		regexp.MustCompile(`(?i)rate limit`),
		regexp.MustCompile(`(?i)overloaded`),
		regexp.MustCompile(`(?i)credit balance is too low`),
	}
	noFixPatterns = []*regexp.Regexp{
		regexp.MustCompile(`NO_FIX_AVAILABLE`),
		regexp.MustCompile(`(?i)no changes were made`),
		regexp.MustCompile(`(?i)i cannot (determine|identify) a fix`),
	}
)

// classifyOutput maps backend output and exit error to the sentinel errors
// the healer understands. A nil return means the backend ran and claims to
// have made a change.
func classifyOutput(out string, runErr error) error {
	for _, re := range unavailablePatterns {
		if re.MatchString(out) {
			return fmt.Errorf("%w: %s", healing.ErrRepairUnavailable, firstLine(out))
		}
	}
	for _, re := range noFixPatterns {
		if re.MatchString(out) {
			return healing.ErrNoFixAvailable
		}
	}
	if runErr != nil {
		return fmt.Errorf("repair backend failed: %w", runErr)
	}
	return nil
}

// summarize extracts the backend's closing statement: the last non-empty
// line, capped to a sane length for logs and notifications.
func summarize(out string) string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if len(line) > 200 {
			line = line[:200] + "..."
		}
		return line
	}
	return ""
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return s
}
