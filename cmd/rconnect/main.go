// rconnect - multi-protocol RCON client, console and gateway.
//
// rconnect speaks Valve Source RCON, BattlEye, session-keyed UDP, telnet and
// WebRcon behind one connect/send/end API. It can run a single command, open
// an interactive console or serve a REST gateway over a pool of configured
// servers, auditing every command and publishing events over MQTT.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/energizer-project/rconnect/internal/config"
	"github.com/energizer-project/rconnect/internal/util"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

const banner = `
                                       _
  _ __ ___ ___  _ __  _ __   ___  ___| |_
 | '__/ __/ _ \| '_ \| '_ \ / _ \/ __| __|
 | | | (_| (_) | | | | | | |  __/ (__| |_
 |_|  \___\___/|_| |_|_| |_|\___|\___|\__|  %s
`

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configDir string
	logLevel  string
}

func main() {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "rconnect",
		Short: "Multi-protocol RCON client and gateway",
		Long: `rconnect talks to game servers over their remote console protocols:
Valve Source RCON, BattlEye, SCUM session UDP, 7 Days to Die telnet and
Rust WebRcon. Servers are configured once as named profiles.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logCfg := util.DefaultLogConfig()
			logCfg.Directory = ""
			if flags.logLevel != "" {
				logCfg.Level = flags.logLevel
			}
			return util.InitLogger(logCfg)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&flags.configDir, "config", "c", config.DefaultConfigDir, "configuration directory")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "warn", "log level (trace, debug, info, warn, error)")

	rootCmd.AddCommand(
		execCmd(flags),
		consoleCmd(flags),
		serveCmd(flags),
		checkCmd(flags),
		setupCmd(flags),
		gamesCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// loadConfig loads and validates the configuration, logging warnings.
func loadConfig(flags *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		return nil, fmt.Errorf("configuration in %s is invalid", cfg.Path())
	}
	return cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
