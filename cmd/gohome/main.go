package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/joshp123/gohome-medtrum/internal/config"
	"github.com/joshp123/gohome-medtrum/internal/core"
	"github.com/joshp123/gohome-medtrum/internal/logger"
	"github.com/joshp123/gohome-medtrum/internal/plugins"
	"github.com/joshp123/gohome-medtrum/internal/router"
	"github.com/joshp123/gohome-medtrum/internal/server"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", envOrDefault("GOHOME_CONFIG", config.DefaultPath), "path to config.yaml")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "gohome: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := logger.New(cfg.Log.Level)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	enabled := config.EnabledPlugins(cfg)
	compiled := plugins.Compiled(cfg, log)
	if err := core.ValidateEnabledPlugins(compiled, enabled, false); err != nil {
		return err
	}
	active := core.FilterPlugins(compiled, enabled, false)
	if err := core.ValidatePlugins(active); err != nil {
		return err
	}
	defer func() {
		if err := core.ClosePlugins(active); err != nil {
			log.Warn("plugin shutdown", zap.Error(err))
		}
	}()
	for _, p := range active {
		log.Info("plugin loaded", zap.String("plugin", p.ID()), zap.String("health", string(p.Health())))
	}

	if err := core.WriteDashboards(cfg.Core.DashboardDir, active); err != nil {
		log.Warn("write dashboards", zap.Error(err))
	}

	grpcServer, err := server.NewGRPCServer(cfg.Core.GRPCAddr, log.Named("grpc"))
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	if err := router.RegisterPlugins(grpcServer.Server, active); err != nil {
		return err
	}

	metricsRegistry, err := core.MetricsRegistry(active)
	if err != nil {
		return err
	}
	metricsRegistry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "gohome_build_info",
		Help: "Build information",
	}, func() float64 { return 1 }))

	httpMux := http.NewServeMux()
	httpMux.Handle("/health", server.HealthHandler(active))
	httpMux.Handle("/metrics", server.MetricsHandler(metricsRegistry, log.Named("metrics")))
	httpMux.Handle("/dashboards/", server.DashboardsHandler(core.DashboardsMap(active)))
	for _, p := range active {
		if registrant, ok := p.(core.HTTPRegistrant); ok {
			registrant.RegisterHTTP(httpMux)
		}
	}
	httpServer := server.NewHTTPServer(cfg.Core.HTTPAddr, httpMux)

	errCh := make(chan error, 2)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil {
			errCh <- fmt.Errorf("http serve: %w", err)
		}
	}()
	go func() {
		if err := grpcServer.Serve(); err != nil {
			errCh <- fmt.Errorf("grpc serve: %w", err)
		}
	}()
	log.Info("gohome started", zap.String("grpc_addr", cfg.Core.GRPCAddr), zap.String("http_addr", cfg.Core.HTTPAddr))

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case serveErr = <-errCh:
		log.Error("server failed", zap.Error(serveErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	grpcServer.Stop(shutdownCtx)
	return serveErr
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
