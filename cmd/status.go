package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Bagheerabaloo/jarvis/internal/config"
	"github.com/Bagheerabaloo/jarvis/internal/logging"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and stored state",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	path := configPath
	if path == "" {
		path = config.GetConfigPath()
	}

	fmt.Fprintf(out, "%s status\n\n", cfg.App.Name)
	fmt.Fprintf(out, "Config: %s\n", path)
	if cfg.Telegram.Token != "" {
		fmt.Fprintln(out, "Telegram: token set")
	} else {
		fmt.Fprintln(out, "Telegram: no token")
	}
	fmt.Fprintf(out, "Store: %s, conversations in %s\n", cfg.Store.Driver, cfg.Store.Conversations)
	if cfg.Dispatch.Checkpoint != "" {
		fmt.Fprintf(out, "Checkpoint: %s\n", cfg.Dispatch.Checkpoint)
	}

	log := logging.New(cfg.Log.Debug)
	st, err := openStore(cmd.Context(), cfg, log)
	if err != nil {
		fmt.Fprintf(out, "\nStore unavailable: %v\n", err)
		return nil
	}
	defer st.Close()

	ctx := cmd.Context()
	actors, err := st.ListActors(ctx)
	if err != nil {
		return err
	}
	chats, err := st.ListChats(ctx)
	if err != nil {
		return err
	}
	headers, err := st.ListConversationHeaders(ctx)
	if err != nil {
		return err
	}
	admins := 0
	for _, a := range actors {
		if a.IsAdmin {
			admins++
		}
	}
	fmt.Fprintf(out, "\nActors: %d (%d admin)\n", len(actors), admins)
	fmt.Fprintf(out, "Chats: %d\n", len(chats))
	fmt.Fprintf(out, "Stored conversations: %d\n", len(headers))
	return nil
}
