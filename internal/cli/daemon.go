package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mendtool/mend/internal/config"
	"github.com/mendtool/mend/internal/daemon"
	"github.com/mendtool/mend/internal/metrics"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Supervise scheduled scripts continuously",
	Long: `daemon runs mend as a long-lived process. Every script with a cron
schedule in the config is executed on that schedule and healed when it
fails. When metrics are enabled, Prometheus metrics and a health check
are served over HTTP.`,
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

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		m := metrics.New()
		heal := func(ctx context.Context, sc config.Script) {
			if _, err := runSession(ctx, cfg, sc, m, log); err != nil && !isAlreadyHealthy(err) {
				log.Error("scheduled run failed",
					zap.String("script", sc.Name),
					zap.Error(err))
			}
		}

		return daemon.New(cfg, heal, m, log).Run(ctx)
	},
}
