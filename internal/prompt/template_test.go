package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRenderVariables(t *testing.T) {
	out, err := Render("fix {{path}} exit {{code}}", Vars{"path": "job.py", "code": "1"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out != "fix job.py exit 1" {
		t.Errorf("got %q", out)
	}
}

func TestRenderMissingVariable(t *testing.T) {
	_, err := Render("fix {{path}}", Vars{})
	if err == nil || !strings.Contains(err.Error(), "path") {
		t.Errorf("expected missing variable error, got %v", err)
	}
}

func TestRenderConditionalIncluded(t *testing.T) {
	tmpl := "start{{#if extra}} extra={{extra}}{{/if}} end"
	out, err := Render(tmpl, Vars{"extra": "yes"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out != "start extra=yes end" {
		t.Errorf("got %q", out)
	}
}

func TestRenderConditionalExcluded(t *testing.T) {
	tmpl := "start{{#if extra}} extra={{extra}}{{/if}} end"
	for _, vars := range []Vars{{}, {"extra": ""}} {
		out, err := Render(tmpl, vars)
		if err != nil {
			t.Fatalf("render: %v", err)
		}
		if out != "start end" {
			t.Errorf("got %q", out)
		}
	}
}

func TestRenderNestedConditionals(t *testing.T) {
	tmpl := "{{#if a}}A{{#if b}}B{{/if}}{{/if}}"
	out, err := Render(tmpl, Vars{"a": "1"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out != "A" {
		t.Errorf("got %q", out)
	}

	out, err = Render(tmpl, Vars{"a": "1", "b": "1"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out != "AB" {
		t.Errorf("got %q", out)
	}
}

func TestRenderMalformedConditionals(t *testing.T) {
	if _, err := Render("{{#if a}}open", Vars{"a": "1"}); err == nil {
		t.Error("expected error for unclosed block")
	}
	if _, err := Render("close{{/if}}", nil); err == nil {
		t.Error("expected error for dangling close")
	}
}

func TestLoadTemplateBuiltin(t *testing.T) {
	content, err := LoadTemplate("heal.md", "")
	if err != nil {
		t.Fatalf("load builtin: %v", err)
	}
	if !strings.Contains(content, "{{script_path}}") {
		t.Error("builtin heal template missing script_path variable")
	}
}

func TestLoadTemplateProjectOverride(t *testing.T) {
	dir := t.TempDir()
	override := filepath.Join(dir, ".mend", "templates")
	if err := os.MkdirAll(override, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(override, "heal.md"), []byte("custom {{script_path}}"), 0o644); err != nil {
		t.Fatal(err)
	}

	content, err := LoadTemplate("heal.md", dir)
	if err != nil {
		t.Fatalf("load override: %v", err)
	}
	if content != "custom {{script_path}}" {
		t.Errorf("got %q", content)
	}
}

func TestLoadTemplateUnknown(t *testing.T) {
	if _, err := LoadTemplate("nope.md", ""); err == nil {
		t.Error("expected error for unknown template")
	}
}

func TestBuiltinTemplatesRender(t *testing.T) {
	vars := Vars{
		"script_path":    "job.py",
		"script_content": "print('x')",
		"exit_code":      "1",
		"stderr":         "ValueError",
		"stdout":         "",
		"working_dir":    "",
		"attempt_history": "",
		"hints":          "",
	}
	for name := range builtinTemplates {
		if _, err := Render(builtinTemplates[name], vars); err != nil {
			t.Errorf("builtin %s does not render: %v", name, err)
		}
	}
}
