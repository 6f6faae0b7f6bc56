package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/energizer-project/rconnect/internal/config"
	"github.com/energizer-project/rconnect/internal/rcon"
)

type checkResult struct {
	profile config.ServerProfile
	elapsed time.Duration
	err     error
}

func checkCmd(flags *globalFlags) *cobra.Command {
	target := &targetFlags{}

	cmd := &cobra.Command{
		Use:   "check [server...]",
		Short: "Connect, authenticate and run the verification probe",
		Long: `check opens a session, runs the game's verification command and ends the
session. Without arguments every configured server is checked; --host
checks an ad-hoc target instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			var profiles []config.ServerProfile
			if target.host != "" {
				opts, err := target.options(flags)
				if err != nil {
					return err
				}
				profiles = append(profiles, config.ServerProfile{
					Name: opts.Addr(), Game: opts.Game, Host: opts.Host, Port: opts.Port,
					Password: opts.Password, Secure: opts.Secure, TimeoutSec: int(opts.Timeout / time.Second),
				})
			} else {
				cfg, err := loadConfig(flags)
				if err != nil {
					return err
				}
				if len(args) == 0 {
					profiles = cfg.GetServers()
				}
				for _, name := range args {
					p, ok := cfg.Server(name)
					if !ok {
						return fmt.Errorf("no server profile named %q", name)
					}
					profiles = append(profiles, p)
				}
			}
			if len(profiles) == 0 {
				return fmt.Errorf("no servers configured, run 'rconnect setup' first")
			}

			results := runChecks(ctx, profiles)
			failed := printChecks(cmd, results)
			if failed > 0 {
				return fmt.Errorf("%d of %d checks failed", failed, len(results))
			}
			return nil
		},
	}
	target.register(cmd)
	return cmd
}

func runChecks(ctx context.Context, profiles []config.ServerProfile) []checkResult {
	results := make([]checkResult, len(profiles))
	var wg sync.WaitGroup
	for i, p := range profiles {
		i, p := i, p
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			_, err := rcon.Check(ctx, p.Options(nil))
			results[i] = checkResult{profile: p, elapsed: time.Since(start), err: err}
		}()
	}
	wg.Wait()
	return results
}

func printChecks(cmd *cobra.Command, results []checkResult) int {
	tw := tablewriter.NewWriter(cmd.OutOrStdout())
	tw.SetHeader([]string{"Server", "Game", "Address", "Result", "Time"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	failed := 0
	for _, r := range results {
		result := "OK"
		if r.err != nil {
			failed++
			result = "FAIL: " + strings.TrimSpace(r.err.Error())
		}
		opts := r.profile.Options(nil)
		tw.Append([]string{
			r.profile.Name,
			r.profile.Game,
			opts.Addr(),
			result,
			r.elapsed.Round(time.Millisecond).String(),
		})
	}
	tw.Render()
	return failed
}
