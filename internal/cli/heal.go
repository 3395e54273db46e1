package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var healCmd = &cobra.Command{
	Use:   "heal <script>",
	Short: "Run a script and heal it if it fails",
	Long: `heal executes the named script from the config. If the baseline run
fails, it starts a healing session: ask the repair backend for a fix,
re-run, verify, and repeat within the attempt and time budget.

Exits 0 when the script is healthy (or was healed), 1 otherwise.`,
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

		outcome, err := runSession(ctx, cfg, sc, nil, log)
		if isAlreadyHealthy(err) {
			cmd.Printf("%s is already healthy, nothing to do\n", sc.Name)
			return nil
		}
		if err != nil {
			return err
		}

		result := outcome.Result
		cmd.Printf("%s: %s after %d attempt(s) in %s\n",
			sc.Name, result.Reason, len(result.Attempts), result.Elapsed.Round(timeRounding))
		if outcome.PRURL != "" {
			cmd.Printf("PR: %s\n", outcome.PRURL)
		}
		if !result.Healed() {
			log.Warn("script not healed",
				zap.String("script", sc.Name),
				zap.String("reason", string(result.Reason)))
			return fmt.Errorf("%s could not be healed (%s)", sc.Name, result.Reason)
		}
		return nil
	},
}
