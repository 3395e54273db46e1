package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks a Config for structural and semantic errors. It returns a
// slice of all validation errors found (empty if valid).
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError

	if err := validate.Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				errs = append(errs, ValidationError{
					Field:   yamlPath(fe.Namespace()),
					Message: tagMessage(fe),
				})
			}
		} else {
			errs = append(errs, ValidationError{Field: "config", Message: err.Error()})
		}
	}

	// Script names must be unique; they key history records and log fields.
	seen := make(map[string]bool)
	for i, s := range cfg.Scripts {
		if s.Name == "" {
			continue
		}
		if seen[s.Name] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("scripts[%d].name", i),
				Message: fmt.Sprintf("duplicate script name %q", s.Name),
			})
		}
		seen[s.Name] = true
	}

	if cfg.Healing.TotalTimeout < cfg.Healing.AttemptTimeout {
		errs = append(errs, ValidationError{
			Field:   "healing.total_timeout",
			Message: "must be at least healing.attempt_timeout",
		})
	}
	if cfg.Healing.BackoffCap != 0 && cfg.Healing.BackoffCap < cfg.Healing.BackoffBase {
		errs = append(errs, ValidationError{
			Field:   "healing.backoff_cap",
			Message: "must be at least healing.backoff_base",
		})
	}

	if cfg.History.Enabled && cfg.History.DSN == "" {
		errs = append(errs, ValidationError{
			Field:   "history.dsn",
			Message: "is required when history is enabled",
		})
	}

	if cfg.Git.CreatePR && !cfg.Git.Enabled {
		errs = append(errs, ValidationError{
			Field:   "git.create_pr",
			Message: "requires git.enabled",
		})
	}
	if cfg.Git.CreatePR && !cfg.Git.Push {
		errs = append(errs, ValidationError{
			Field:   "git.create_pr",
			Message: "requires git.push",
		})
	}

	return errs
}

// yamlPath converts a validator namespace like "Config.Scripts[0].Name" into
// the snake_case path users see in their YAML.
func yamlPath(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:] // drop the root struct name
	}
	for i, p := range parts {
		idx := ""
		if b := strings.IndexByte(p, '['); b >= 0 {
			idx = p[b:]
			p = p[:b]
		}
		parts[i] = snakeCase(p) + idx
	}
	return strings.Join(parts, ".")
}

func snakeCase(s string) string {
	var sb strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if r < 'A' || r > 'Z' {
			sb.WriteRune(r)
			continue
		}
		prevLower := i > 0 && (runes[i-1] < 'A' || runes[i-1] > 'Z')
		nextLower := i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z'
		if i > 0 && (prevLower || nextLower) {
			sb.WriteByte('_')
		}
		sb.WriteRune(r + ('a' - 'A'))
	}
	return sb.String()
}

// tagMessage renders a human-readable message for a failed validation tag.
func tagMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "min":
		if fe.Kind().String() == "slice" {
			return "at least one entry is required"
		}
		return "is required"
	case "url":
		return "must be a valid URL"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	}
	return fmt.Sprintf("failed %q validation", fe.Tag())
}
