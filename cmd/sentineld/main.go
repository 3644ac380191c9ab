package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/avcs-dna/sentinel/internal/actuator"
	"github.com/avcs-dna/sentinel/internal/api"
	"github.com/avcs-dna/sentinel/internal/auth"
	"github.com/avcs-dna/sentinel/internal/config"
	"github.com/avcs-dna/sentinel/internal/engine"
	"github.com/avcs-dna/sentinel/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("sentineld starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	slog.Info("config loaded",
		"http_port", cfg.Engine.HTTPPort,
		"assets", len(cfg.Assets),
		"workers", cfg.Engine.Workers,
		"tick", cfg.Engine.Tick,
		"auth_mode", cfg.Auth.Mode,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	eng, err := engine.New(cfg, actuator.New(cfg.Actuator))
	if err != nil {
		slog.Error("failed to build engine", "err", err)
		os.Exit(1)
	}
	go eng.Run(ctx)

	// Evaluation tick loop: close due windows and drain the backlog.
	go func() {
		ticker := time.NewTicker(cfg.Engine.Tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				res := eng.EvaluateTick(ctx, t)
				if len(res.Commands) > 0 {
					slog.Debug("tick complete",
						"records", len(res.Records),
						"commands", len(res.Commands),
					)
				}
			}
		}
	}()

	// Watch config file for hot-reload. The engine quiesces evaluation and
	// swaps assets, thresholds and the calibration snapshot in one step.
	go func() {
		if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			if err := eng.Reload(updated); err != nil {
				slog.Error("reload rejected — keeping previous config", "err", err)
			}
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	// WebSocket hub — broadcasts fleet snapshots to dashboard clients.
	hub := ws.New(eng, cfg.Engine.Broadcast)
	go hub.Run(ctx)

	// Combined HTTP server: REST API + WebSocket hub + Prometheus metrics.
	httpMux := http.NewServeMux()
	httpMux.Handle("/api/", auth.APIKeyMiddleware(
		cfg.Auth.Mode, cfg.Auth.Header, cfg.Auth.Key, api.New(eng)))
	httpMux.Handle("/ws", hub)
	httpMux.Handle("/metrics", promhttp.Handler())

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Engine.HTTPPort),
		Handler: httpMux,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Engine.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("sentineld shutting down")
	httpSrv.Shutdown(context.Background()) //nolint:errcheck
}
