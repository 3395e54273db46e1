package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mendtool/mend/internal/history"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Query archived healing sessions",
}

var historyListCmd = &cobra.Command{
	Use:   "list [script]",
	Short: "List recent healing sessions",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, log, err := openHistory(cmd)
		if err != nil {
			return err
		}
		defer store.Close()
		defer func() { _ = log.Sync() }()

		script := ""
		if len(args) == 1 {
			script = args[0]
		}

		records, err := store.Recent(cmd.Context(), script, historyLimit)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			cmd.Println("no sessions recorded")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTARTED\tSCRIPT\tREASON\tATTEMPTS\tELAPSED\tPR")
		for _, r := range records {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
				shortID(r.ID),
				r.StartedAt.Format("2006-01-02 15:04"),
				r.Script, r.Reason, r.Attempts,
				r.Elapsed.Round(timeRounding), r.PRURL)
		}
		return w.Flush()
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one session including its attempt history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, log, err := openHistory(cmd)
		if err != nil {
			return err
		}
		defer store.Close()
		defer func() { _ = log.Sync() }()

		r, err := store.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		cmd.Printf("Session:  %s\n", r.ID)
		cmd.Printf("Script:   %s\n", r.Script)
		cmd.Printf("Started:  %s\n", r.StartedAt.Format("2006-01-02 15:04:05"))
		cmd.Printf("Reason:   %s\n", r.Reason)
		cmd.Printf("Attempts: %d\n", r.Attempts)
		cmd.Printf("Elapsed:  %s\n", r.Elapsed.Round(timeRounding))
		if r.PRURL != "" {
			cmd.Printf("PR:       %s\n", r.PRURL)
		}
		if r.Summary != "" {
			cmd.Printf("Summary:  %s\n", r.Summary)
		}
		for _, a := range r.Detail {
			cmd.Printf("\nAttempt %d", a.Number)
			if a.TimedOut {
				cmd.Print(" (timed out)")
			}
			if a.Reverted {
				cmd.Print(" (reverted)")
			}
			cmd.Println()
			if a.Patch.Summary != "" {
				cmd.Printf("  patch: %s\n", a.Patch.Summary)
			}
			if a.Verification.Outcome != "" {
				cmd.Printf("  outcome: %s (%s)\n", a.Verification.Outcome, a.Verification.Rationale)
			}
			if a.Result != nil {
				cmd.Printf("  exit %d after %s\n", a.Result.ExitCode, a.Result.Duration.Round(timeRounding))
			}
		}
		return nil
	},
}

func openHistory(cmd *cobra.Command) (*history.Store, *zap.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if !cfg.History.Enabled {
		return nil, nil, fmt.Errorf("history is not enabled in the config")
	}
	log, err := buildLogger(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	store, err := history.Open(cmd.Context(), cfg.History.DSN, log)
	if err != nil {
		_ = log.Sync()
		return nil, nil, err
	}
	return store, log, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	historyListCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum sessions to list")
	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)
}
