package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Bagheerabaloo/jarvis/internal/lifecycle"
	"github.com/Bagheerabaloo/jarvis/internal/logging"
)

var gcDryRun bool

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Delete stored conversations selected by the gc policy",
	RunE:  runGC,
}

func init() {
	gcCmd.Flags().BoolVar(&gcDryRun, "dry-run", false, "list the selected conversations without deleting them")
	rootCmd.AddCommand(gcCmd)
}

func runGC(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logging.New(cfg.Log.Debug)
	defer func() { _ = log.Sync() }()

	st, err := openStore(cmd.Context(), cfg, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	report, err := lifecycle.CollectGarbage(cmd.Context(), st, time.Now(), gcPolicy(cfg), gcDryRun, log)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, k := range report.Selected {
		fmt.Fprintf(out, "  chat %d conversation %d\n", k.ChatID, k.ID)
	}
	if gcDryRun {
		fmt.Fprintf(out, "%d scanned, %d would be deleted\n", report.Scanned, len(report.Selected))
		return nil
	}
	fmt.Fprintf(out, "%d scanned, %d deleted\n", report.Scanned, report.Deleted)
	return nil
}
