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

	"github.com/clinicops/sentinel/internal/api"
	"github.com/clinicops/sentinel/internal/config"
	"github.com/clinicops/sentinel/internal/monitor"
	"github.com/clinicops/sentinel/internal/ws"
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
		"http_port", cfg.HTTP.Port,
		"alert_rules", len(cfg.Alerts.Rules),
		"business_rules", len(cfg.Business.Rules),
		"integrations", len(cfg.Breakers.Integrations),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	mon := monitor.New(cfg)
	go mon.Run(ctx)

	// Hot reload - rule changes take effect without a restart.
	go func() {
		if err := config.Watch(ctx, *configPath, func(next *config.Config) {
			mon.Reload(next)
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	// Live overview feed for dashboards.
	hub := ws.New(mon, cfg.HTTP.BroadcastInterval)
	go hub.Run(ctx)

	httpMux := http.NewServeMux()
	httpMux.Handle("/api/", api.New(mon))
	httpMux.Handle("/ws/stream", hub)

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler: httpMux,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.HTTP.Port)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("sentineld shutting down")
	httpSrv.Shutdown(context.Background()) //nolint:errcheck
}
