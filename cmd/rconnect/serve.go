package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/energizer-project/rconnect/internal/api"
	"github.com/energizer-project/rconnect/internal/config"
	"github.com/energizer-project/rconnect/internal/connector"
	"github.com/energizer-project/rconnect/internal/db"
	"github.com/energizer-project/rconnect/internal/events"
	"github.com/energizer-project/rconnect/internal/health"
	"github.com/energizer-project/rconnect/internal/metrics"
	"github.com/energizer-project/rconnect/internal/pool"
	"github.com/energizer-project/rconnect/internal/scheduler"
	"github.com/energizer-project/rconnect/internal/telemetry"
	"github.com/energizer-project/rconnect/internal/util"
)

func serveCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the REST gateway, health checks, schedules and telemetry",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}

			// Re-initialize logger with config-based settings
			lc := cfg.GetLogging()
			logCfg := util.LogConfig{
				Level:      lc.Level,
				Directory:  lc.Directory,
				MaxSizeMB:  lc.MaxSizeMB,
				MaxBackups: lc.MaxBackups,
				Console:    true,
			}
			if cmd.Flags().Changed("log-level") {
				logCfg.Level = flags.logLevel
			}
			if err := util.InitLogger(logCfg); err != nil {
				log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
			}

			ctx, cancel := signalContext()
			defer cancel()
			return serve(ctx, cfg)
		},
	}
}

func poolOptions(cfg *config.Config) pool.Options {
	hc := cfg.GetHealth()
	return pool.Options{
		Backoff:    time.Duration(hc.BackoffSec) * time.Second,
		MaxBackoff: time.Duration(hc.MaxBackoffSec) * time.Second,
	}
}

// serve runs every long-lived component until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config) error {
	fmt.Printf(banner, version)
	fmt.Println()

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("version", version).
		Str("commit", commit).
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Int("cores", sysInfo.CPUCores).
		Int("servers", len(cfg.GetServers())).
		Msg("starting rconnect")

	eventBus := events.NewEventBus()
	p := pool.New(cfg, eventBus, poolOptions(cfg))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	m.SetBuildInfo(version)
	m.Attach(eventBus)

	var auditLog *db.AuditLog
	if audit := cfg.GetAudit(); audit.Enabled {
		var err error
		auditLog, err = db.NewAuditLog(audit.Path)
		if err != nil {
			return fmt.Errorf("failed to open audit log: %w", err)
		}
	}

	var wg sync.WaitGroup
	start := func(name string, fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Str("component", name).Msg("starting")
			fn(ctx)
		}()
	}

	var stopAudit func()
	var history api.History
	var pruner scheduler.Pruner
	if auditLog != nil {
		stopAudit = auditLog.Attach(eventBus)
		history = auditLog
		pruner = auditLog
	}

	start("health", health.NewManager(cfg, eventBus, p).Start)
	start("scheduler", scheduler.NewScheduler(cfg, p, pruner).Start)

	if alerts := cfg.GetAlerts(); alerts.Enabled {
		notifier := connector.NewWebhookNotifier(alerts, eventBus)
		notifier.Attach()
		defer notifier.Detach()
	}

	if mqttCfg := cfg.GetMQTT(); mqttCfg.Enabled {
		mqttHandler, err := telemetry.NewMQTTHandler(mqttCfg, eventBus, version)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		} else {
			start("mqtt", func(ctx context.Context) {
				if err := mqttHandler.Start(ctx); err != nil {
					log.Warn().Err(err).Msg("MQTT telemetry failed")
				}
			})
		}
	}

	if gw := cfg.GetGateway(); gw.Enabled {
		if !config.IsPortAvailable(gw.Port) {
			log.Warn().Int("port", gw.Port).Msg("gateway port is in use, will keep retrying")
		}
		gateway := api.NewServer(cfg, eventBus, p, version)
		gateway.SetDependencies(history, reg)
		start("gateway", func(ctx context.Context) {
			if err := startWithRetry(ctx, "gateway", gateway.Start, 5); err != nil {
				log.Error().Err(err).Msg("gateway failed after retries")
			}
		})
	}

	<-ctx.Done()
	log.Info().Msg("initiating graceful shutdown...")
	eventBus.Emit(context.Background(), events.New(events.EventShutdown, "main", nil))

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out after 30 seconds")
	}

	// Ending the sessions emits their end events, so the audit log stops after.
	p.Close()
	if stopAudit != nil {
		stopAudit()
	}
	eventBus.Stop()
	if auditLog != nil {
		auditLog.Close()
	}
	log.Info().Msg("rconnect stopped")
	return nil
}

// startWithRetry retries startFn, typically a listener bind, a few times.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = startFn(ctx)
		if lastErr == nil {
			return nil
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("start failed, retrying in 3s...")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(3 * time.Second):
			}
		}
	}
	return lastErr
}
