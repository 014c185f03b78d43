package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Bagheerabaloo/jarvis/internal/config"
	"github.com/Bagheerabaloo/jarvis/internal/functions"
	"github.com/Bagheerabaloo/jarvis/internal/registry"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config and commands.yaml",
	RunE:  runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	path := configPath
	if path == "" {
		path = config.GetConfigPath()
	}

	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(out, "Config already exists at %s\n", path)
	} else {
		if err := config.Save(config.DefaultConfig(), path); err != nil {
			return fmt.Errorf("creating config: %w", err)
		}
		fmt.Fprintf(out, "Created config at %s\n", path)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	// serve resolves the commands file against the working directory too
	if commands := cfg.Store.CommandsFile; commands != "" {
		if _, err := os.Stat(commands); os.IsNotExist(err) {
			reg := registry.New(nil)
			if err := functions.Register(reg); err != nil {
				return err
			}
			if err := registry.SaveCommandSpecs(commands, reg.Specs()); err != nil {
				return fmt.Errorf("creating commands file: %w", err)
			}
			fmt.Fprintf(out, "Created %s\n", commands)
		}
	}

	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintf(out, "  1. Set telegram.token and store.dsn in %s (or JARVIS_TELEGRAM_TOKEN)\n", path)
	fmt.Fprintln(out, "  2. Run: jarvis serve")
	return nil
}
