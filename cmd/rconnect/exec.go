package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/energizer-project/rconnect/internal/config"
	"github.com/energizer-project/rconnect/internal/rcon"
)

// targetFlags select a server either by profile name or ad hoc.
type targetFlags struct {
	server   string
	game     string
	host     string
	port     int
	password string
	secure   bool
	timeout  time.Duration
}

func (t *targetFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&t.server, "server", "s", "", "configured server profile")
	cmd.Flags().StringVarP(&t.game, "game", "g", "", "game id for an ad-hoc target (see 'rconnect games')")
	cmd.Flags().StringVarP(&t.host, "host", "H", "", "host for an ad-hoc target")
	cmd.Flags().IntVarP(&t.port, "port", "P", 0, "port for an ad-hoc target")
	cmd.Flags().StringVarP(&t.password, "password", "p", "", "RCON password for an ad-hoc target")
	cmd.Flags().BoolVar(&t.secure, "tls", false, "use TLS (wss:// for WebRcon)")
	cmd.Flags().DurationVarP(&t.timeout, "timeout", "t", 0, "connect and command timeout")
}

// options resolves the target to client options.
func (t *targetFlags) options(flags *globalFlags) (rcon.Options, error) {
	var opts rcon.Options
	switch {
	case t.host != "":
		opts = rcon.Options{
			Host:     t.host,
			Port:     t.port,
			Password: t.password,
			Game:     t.game,
			Secure:   t.secure,
		}
		if opts.Port == 0 {
			opts.Port = config.DefaultPort(t.game)
		}
	case t.server != "":
		cfg, err := loadConfig(flags)
		if err != nil {
			return opts, err
		}
		p, ok := cfg.Server(t.server)
		if !ok {
			return opts, fmt.Errorf("no server profile named %q", t.server)
		}
		opts = p.Options(nil)
	default:
		return opts, fmt.Errorf("either --server or --host is required")
	}
	if t.timeout > 0 {
		opts.Timeout = t.timeout
	}
	return opts, nil
}

func execCmd(flags *globalFlags) *cobra.Command {
	target := &targetFlags{}

	cmd := &cobra.Command{
		Use:   "exec [flags] <command...>",
		Short: "Run one command and print the reply",
		Example: `  rconnect exec -s main status
  rconnect exec -g rust -H 10.0.0.5 -p secret serverinfo`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := target.options(flags)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			client, err := rcon.New(opts)
			if err != nil {
				return err
			}
			defer client.End()

			if err := client.Connect(ctx); err != nil {
				return err
			}
			resp, err := client.Send(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.TrimRight(resp, "\r\n"))
			return nil
		},
	}
	target.register(cmd)
	return cmd
}
