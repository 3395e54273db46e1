package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mendtool/mend/internal/script"
)

var runCmd = &cobra.Command{
	Use:   "run <script>",
	Short: "Run a script once without healing",
	Long: `run executes the named script and reports its result. No repair is
attempted; use this to check what mend sees when it runs your script.`,
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

		if result.Stdout != "" {
			cmd.Print(result.Stdout)
		}
		if result.Stderr != "" {
			fmt.Fprint(cmd.ErrOrStderr(), result.Stderr)
		}
		cmd.Printf("\nexit code %d in %s\n", result.ExitCode, result.Duration.Round(timeRounding))

		if !result.Success() {
			return fmt.Errorf("%s failed with exit code %d", sc.Name, result.ExitCode)
		}
		return nil
	},
}
