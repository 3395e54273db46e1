package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mendtool/mend/internal/healing"
	"github.com/mendtool/mend/internal/repair"
	"github.com/mendtool/mend/internal/script"
)

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose <script>",
	Short: "Run a failing script and explain the failure without fixing it",
	Long: `diagnose runs the named script, and if it fails, asks the repair
backend for a read-only root cause analysis. No files are modified.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log, err := buildLogger(cfg.Logging)
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		sc, err := findScript(cfg, args[0])
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		runner := script.NewRunner(&script.ExecRunner{}, log)
		result, err := runner.Run(ctx, sc.Path, script.RunOpts{
			WorkingDir: sc.WorkingDir,
			Env:        sc.Env,
			Timeout:    sc.Timeout.Std(),
		})
		if err != nil {
			return err
		}
		if result.Success() {
			cmd.Printf("%s is healthy, nothing to diagnose\n", sc.Name)
			return nil
		}

		redactor, err := buildRedactor(cfg.Security)
		if err != nil {
			return err
		}

		hc := healing.Context{
			Script:   healing.ScriptRef{Path: sc.Path, WorkingDir: sc.WorkingDir},
			Baseline: result,
		}
		promptText, err := repair.BuildDiagnosePrompt(hc)
		if err != nil {
			return err
		}
		promptText = redactor.Scrub(promptText)

		execRunner := &repair.ExecRunner{}
		out, err := execRunner.Run(ctx, sc.WorkingDir, cfg.Repair.Command, "-p", promptText)
		if err != nil {
			return fmt.Errorf("diagnosis failed: %w", err)
		}

		cmd.Printf("exit code %d\n\n%s\n", result.ExitCode, out)
		return nil
	},
}
