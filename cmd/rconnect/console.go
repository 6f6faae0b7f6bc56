package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/energizer-project/rconnect/internal/cli"
	"github.com/energizer-project/rconnect/internal/db"
	"github.com/energizer-project/rconnect/internal/events"
	"github.com/energizer-project/rconnect/internal/pool"
)

func consoleCmd(flags *globalFlags) *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   "console",
		Short: "Open an interactive console over the configured servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			bus := events.NewEventBus()
			defer bus.Stop()

			var history cli.History
			if audit := cfg.GetAudit(); audit.Enabled {
				auditLog, err := db.NewAuditLog(audit.Path)
				if err != nil {
					log.Warn().Err(err).Msg("audit log unavailable")
				} else {
					stop := auditLog.Attach(bus)
					defer auditLog.Close()
					defer stop()
					history = auditLog
				}
			}

			// Sessions end before the audit log detaches, so their end events are recorded.
			p := pool.New(cfg, bus, poolOptions(cfg))
			defer p.Close()

			console := cli.NewCLI(p, history, bus, os.Stdin, cmd.OutOrStdout())
			if server != "" {
				if err := console.Use(server); err != nil {
					return err
				}
			}
			return console.Start(ctx)
		},
	}

	cmd.Flags().StringVarP(&server, "server", "s", "", "server profile to select on start")
	return cmd
}
