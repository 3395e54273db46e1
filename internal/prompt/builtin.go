package prompt

// builtinTemplates maps template filename to content.
var builtinTemplates = map[string]string{
	"heal.md":     healTemplate,
	"diagnose.md": diagnoseTemplate,
}

const healTemplate = `# Fix a failing script

The script below fails when run. Diagnose the failure and fix the script
(or the files it depends on) so that it runs successfully.

## Script
Path: {{script_path}}
{{#if working_dir}}
Working directory: {{working_dir}}
{{/if}}

` + "```" + `
{{script_content}}
` + "```" + `

## Failure
Exit code: {{exit_code}}

### stderr
` + "```" + `
{{stderr}}
` + "```" + `
{{#if stdout}}

### stdout
` + "```" + `
{{stdout}}
` + "```" + `
{{/if}}
{{#if attempt_history}}

## Previous fix attempts
Earlier fixes did not resolve the failure. Do not repeat them.

{{attempt_history}}
{{/if}}
{{#if hints}}

## Operator hints
{{hints}}
{{/if}}

## Instructions
1. Read the error output carefully and identify the root cause
2. Edit the script (or its inputs) to fix the root cause, not the symptom
3. Keep the change minimal; do not restructure working code
4. Do not suppress errors or wrap the failure in a try/except equivalent
5. When you are done, state in one line what you changed

If you cannot determine a fix, respond with exactly: NO_FIX_AVAILABLE
`

const diagnoseTemplate = `# Diagnose a failing script

The script below fails when run. Explain the most likely root cause.
Do NOT modify any files.

## Script
Path: {{script_path}}

` + "```" + `
{{script_content}}
` + "```" + `

## Failure
Exit code: {{exit_code}}

### stderr
` + "```" + `
{{stderr}}
` + "```" + `
{{#if stdout}}

### stdout
` + "```" + `
{{stdout}}
` + "```" + `
{{/if}}

## Instructions
Respond with a short diagnosis: the root cause, the evidence for it, and
the change you would make. Plain text, no file edits.
`
