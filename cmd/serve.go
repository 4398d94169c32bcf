package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/hazard-risk/internal/config"
	"github.com/sells-group/hazard-risk/internal/monitoring"
	"github.com/sells-group/hazard-risk/internal/server"
	"github.com/sells-group/hazard-risk/internal/telemetry"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the assessment API with background health monitoring",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry)
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(sctx); err != nil {
				zap.L().Warn("telemetry shutdown failed", zap.Error(err))
			}
		}()

		notifiers := buildNotifiers(cfg)
		defer closeNotifiers(notifiers)

		eng, err := newEngine(ctx, cfg, engineOptions{Monitor: cfg.Monitoring.Enabled, Notifiers: notifiers})
		if err != nil {
			return err
		}
		defer eng.Close()

		eng.runJanitor(ctx, cfg.Cache.SweepInterval)

		if eng.Monitor != nil {
			events := eng.Monitor.Subscribe(64)
			go eng.Manager.Watch(ctx, events)
			go eng.Monitor.Run(ctx)
		}

		if cfgFile != "" {
			err := config.Watch(ctx, cfgFile, logLevel, func(c *config.Config) {
				zap.L().Info("config reloaded", zap.String("log_level", c.Log.Level))
			})
			if err != nil {
				zap.L().Warn("config watch unavailable", zap.Error(err))
			}
		}

		srvCfg := cfg.Server
		if servePort != 0 {
			srvCfg.Port = servePort
		}
		srv := server.New(srvCfg, eng.Manager, eng.Registry)

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()

		select {
		case err := <-errCh:
			if err != nil {
				return eris.Wrap(err, "server listen")
			}
			return nil
		case <-ctx.Done():
		}

		zap.L().Info("shutting down server")
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			return eris.Wrap(err, "server shutdown")
		}
		return nil
	},
}

// buildNotifiers returns the configured webhook and Kafka sinks.
func buildNotifiers(c *config.Config) []monitoring.Notifier {
	var out []monitoring.Notifier
	if c.Monitoring.WebhookURL != "" {
		out = append(out, monitoring.NewAlerter(c.Monitoring.WebhookURL, nil))
	}
	if len(c.Kafka.Brokers) > 0 {
		out = append(out, monitoring.NewEventPublisher(c.Kafka.Brokers, c.Kafka.Topic))
	}
	return out
}

func closeNotifiers(ns []monitoring.Notifier) {
	for _, n := range ns {
		if p, ok := n.(*monitoring.EventPublisher); ok {
			if err := p.Close(); err != nil {
				zap.L().Warn("close event publisher", zap.Error(err))
			}
		}
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
