package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jkaninda/ideaflow/internal/config"
	"github.com/jkaninda/ideaflow/internal/gateway"
	"github.com/jkaninda/ideaflow/internal/gateway/httpapi"
	"github.com/jkaninda/ideaflow/internal/gateway/ws"
	"github.com/jkaninda/ideaflow/internal/ratelimit"
	"github.com/jkaninda/ideaflow/internal/scheduler"
)

var listenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and the live session channel",
	RunE:  runServe,
}

func init() {
	// Registered on both root and serve so `ideaflow --addr :9090` works too.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&listenAddr, "addr", "", "override HTTP listen address (e.g. :8080)")
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.HTTP.ListenAddr = listenAddr
	}

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sc, err := initShared(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	// Live session channel.
	wsServer := ws.NewServer(ws.RelayAttacher{Relay: sc.Relay}, gateway.NewAuthenticator(cfg.HTTP.APIKeys), ws.Config{
		HeartbeatInterval:  cfg.WebSocket.HeartbeatInterval(),
		InteractionTimeout: cfg.WebSocket.InteractionTimeout(),
		RateLimit:          rateLimit(cfg.WebSocket.RateLimit),
	}, logger)
	if sc.Obs.Metrics != nil {
		wsServer.WithMetrics(sc.Obs.Metrics)
	}

	// Session maintenance.
	if cfg.Maintenance.Enabled() {
		maint, err := scheduler.New(sc.Store.Conversations(), cfg.Maintenance, logger)
		if err != nil {
			return err
		}
		maint.WithLiveChecker(wsServer)
		if sc.Obs.Metrics != nil {
			maint.WithMetrics(scheduler.NewMetrics(sc.Obs.Metrics.Registry))
		}
		stopMaint, err := maint.Start(ctx)
		if err != nil {
			return err
		}
		defer stopMaint()
	}

	api := httpapi.NewGateway(httpConfig(cfg, sc), httpapi.Services{
		Catalog:  sc.Store.Catalog(),
		Resolver: sc.Resolver,
		Starter:  sc.Conversations,
		Sessions: sc.Store.Conversations(),
		Audit:    sc.Auditor,
	}, logger).WithHandler(cfg.WebSocket.WSPath(), wsServer.Handler())

	gateways := []gateway.Gateway{api}
	logger.Info("starting ideaflow",
		slog.String("addr", cfg.HTTP.Addr()),
		slog.String("ws_path", cfg.WebSocket.WSPath()),
		slog.String("storage", sc.Store.Driver()),
	)

	errs := make(chan error, len(gateways))
	for _, gw := range gateways {
		go func(g gateway.Gateway) {
			errs <- g.Start(ctx)
		}(gw)
	}

	// Wait for signal or first gateway error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil {
			logger.Error("gateway exited with error", slog.String("error", err.Error()))
		}
	}

	// Graceful shutdown with deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for i := len(gateways) - 1; i >= 0; i-- {
		if err := gateways[i].Stop(shutdownCtx); err != nil {
			logger.Error("stopping gateway", slog.String("error", err.Error()))
		}
	}
	return nil
}

func httpConfig(cfg *config.Config, sc *SharedComponents) httpapi.Config {
	hc := httpapi.Config{
		ListenAddr:     cfg.HTTP.Addr(),
		EnableDocs:     cfg.HTTP.EnableDocs,
		APIKeys:        cfg.HTTP.APIKeys,
		MaxRequestSize: cfg.HTTP.MaxBodyBytes(),
		RateLimit:      rateLimit(cfg.HTTP.RateLimit),
		HealthChecker:  sc.Obs.Health,
		Metrics:        sc.Obs.Metrics,
		Tracer:         sc.Obs.TracerOrNil(),
	}
	if sc.Obs.Metrics != nil {
		hc.MetricsRegistry = sc.Obs.Metrics.Registry
		hc.MetricsPath = cfg.Observability.Metrics.MetricsPath()
	}
	return hc
}

func rateLimit(rl config.RateLimitConfig) ratelimit.Config {
	return ratelimit.Config{
		RequestsPerMinute: rl.RequestsPerMinute,
		BurstSize:         rl.BurstSize,
	}
}
