package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/energizer-project/rconnect/internal/config"
	"github.com/energizer-project/rconnect/internal/rcon"
)

func setupCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "setup",
		Aliases: []string{"add"},
		Short:   "Add a server profile interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Load without validation: the wizard is how an empty config gets fixed.
			cfg, err := config.Load(flags.configDir)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if err := config.RunSetupWizard(cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved to %s\n", cfg.Path())
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <server>",
		Short: "Remove a server profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flags.configDir)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if !cfg.RemoveServer(args[0]) {
				return fmt.Errorf("no server profile named %q", args[0])
			}
			return cfg.Save()
		},
	})
	return cmd
}

func gamesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "games",
		Short: "List supported game ids and their protocols",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			for _, g := range rcon.Games() {
				p, _ := rcon.Lookup(g)
				fmt.Fprintf(out, "  %-20s %-10s probe: %s\n", g, p.Family, strings.TrimSpace(p.Verifier.Command))
			}
		},
	}
}
