// Package redact scrubs secrets from text before it leaves the process in
// repair prompts, notifications, or history records.
package redact

import (
	"fmt"
	"regexp"
	"strings"
)

const placeholder = "[REDACTED]"

// defaultPatterns cover common credential shapes: cloud keys, tokens,
// passwords in URLs and assignments, private key blocks.
var defaultPatterns = []*regexp.Regexp{
	// key=value style assignments for sensitive names
	regexp.MustCompile(`(?i)\b(password|passwd|secret|token|api[_-]?key|access[_-]?key|auth)\s*[=:]\s*\S+`),
	// credentials embedded in URLs
	regexp.MustCompile(`://[^/\s:@]+:[^/\s@]+@`),
	// AWS access key IDs
	regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
	// GitHub tokens
	regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,}\b`),
	// Slack tokens
	regexp.MustCompile(`\bxox[baprs]-[A-Za-z0-9-]{10,}\b`),
	// Bearer headers
	regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/-]+=*`),
	// PEM private key blocks
	regexp.MustCompile(`(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?-----END [A-Z ]*PRIVATE KEY-----`),
}

// Redactor replaces secret-shaped substrings with a placeholder.
type Redactor struct {
	patterns []*regexp.Regexp
	literals []string
}

// New builds a Redactor from the default patterns plus any extra regular
// expressions. Invalid extras are rejected.
func New(extra []string) (*Redactor, error) {
	r := &Redactor{patterns: append([]*regexp.Regexp(nil), defaultPatterns...)}
	for _, p := range extra {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redact pattern %q: %w", p, err)
		}
		r.patterns = append(r.patterns, re)
	}
	return r, nil
}

// AddLiteral registers an exact string to scrub, typically a secret value
// pulled from the environment.
func (r *Redactor) AddLiteral(secret string) {
	if len(secret) < 4 {
		return
	}
	r.literals = append(r.literals, secret)
}

// Scrub returns text with all secret-shaped substrings replaced.
func (r *Redactor) Scrub(text string) string {
	if text == "" {
		return text
	}
	for _, lit := range r.literals {
		text = strings.ReplaceAll(text, lit, placeholder)
	}
	for _, re := range r.patterns {
		text = re.ReplaceAllString(text, placeholder)
	}
	return text
}

// ScrubEnv redacts the value part of KEY=VALUE entries whose key looks
// sensitive, leaving other entries intact.
func (r *Redactor) ScrubEnv(env []string) []string {
	if len(env) == 0 {
		return env
	}
	out := make([]string, len(env))
	for i, e := range env {
		key, _, ok := strings.Cut(e, "=")
		if ok && sensitiveKey(key) {
			out[i] = key + "=" + placeholder
			continue
		}
		out[i] = r.Scrub(e)
	}
	return out
}

var sensitiveKeyRe = regexp.MustCompile(`(?i)(password|passwd|secret|token|key|credential|auth)`)

func sensitiveKey(key string) bool {
	return sensitiveKeyRe.MatchString(key)
}
