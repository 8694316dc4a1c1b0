package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bansync/internal/configlink"
	"bansync/internal/guildconfig"
	"bansync/internal/platform/auditsink"
	"bansync/internal/platform/config"
	"bansync/internal/platform/httpserver"
	"bansync/internal/platform/logger"
	"bansync/internal/platform/metrics"
	"bansync/internal/platform/middleware"
	audit "bansync/pkg/platform/audit"
)

// main serves the per-community config form behind signed links and keeps the
// server lifecycle small. Business logic lives in internal packages.
func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	signer, err := configlink.NewSigner(cfg.Server.SigningKey, cfg.Server.PublicURL,
		configlink.WithTTL(cfg.Server.LinkTTL))
	if err != nil {
		return fmt.Errorf("config links: %w", err)
	}
	store, err := guildconfig.NewFileStore(cfg.Server.ConfigDir, cfg.Server.GuildsFile)
	if err != nil {
		return err
	}
	auditor, closeAudit, err := auditsink.Open(ctx, cfg.Audit, log)
	if err != nil {
		return err
	}
	defer closeAudit()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	handler := guildconfig.NewHandler(store, log,
		guildconfig.WithMetrics(metrics.New(reg)),
		guildconfig.WithAuditPublisher(auditor),
	)
	rejected := func(ctx context.Context, communityID, reason string) {
		audit.LogAudit(ctx, log, auditor, audit.Event{
			Action:      string(audit.EventConfigLinkRejected),
			CommunityID: communityID,
			Reason:      reason,
		})
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(log))
	r.Use(chimiddleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	handler.Register(r, middleware.RequireConfigLink(signer, guildconfig.CommunityParam, rejected, log))

	srv := httpserver.New(cfg.Server.Addr, r)
	errCh := make(chan error, 1)
	go func() {
		log.Info("starting config server", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}
