package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hotelops/reconciler/internal/api"
	"github.com/hotelops/reconciler/internal/config"
	"github.com/hotelops/reconciler/internal/fees"
	"github.com/hotelops/reconciler/internal/folio"
	"github.com/hotelops/reconciler/internal/ingestion"
	"github.com/hotelops/reconciler/internal/logging"
	"github.com/hotelops/reconciler/internal/reconciliation"
	"github.com/hotelops/reconciler/internal/repository"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("server failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	log.Info("initializing database", zap.String("path", cfg.DBPath))
	db, err := repository.InitDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("init db: %w", err)
	}
	defer db.Close()

	store := repository.NewStore(db)
	ingestionSvc := ingestion.NewService(store, log.Named("ingestion"))
	services := api.Services{
		Ingestion: ingestionSvc,
		Reconciliation: reconciliation.NewService(store, reconciliation.Config{
			WindowDays: cfg.MatchWindowDays,
			MinScore:   cfg.MatchMinScore,
		}, log.Named("reconciliation")),
		Folios: folio.NewService(store, log.Named("folio")),
		Fees:   fees.NewService(store, log.Named("fees")),
	}

	if cfg.SeedPath != "" {
		if err := seedPayments(ctx, ingestionSvc, cfg.SeedPath, log); err != nil {
			log.Warn("seeding payments failed", zap.String("path", cfg.SeedPath), zap.Error(err))
		}
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           api.NewRouter(services, log.Named("api")),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", srv.Addr), zap.String("api_base", "/api/v1"))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// seedPayments loads a payments export so the matcher has candidates on a
// fresh database. Payments already present are skipped.
func seedPayments(ctx context.Context, svc *ingestion.Service, path string, log *zap.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	inserted, skipped, err := svc.ImportPayments(ctx, data, "")
	if err != nil {
		return err
	}
	log.Info("seeded payments", zap.String("path", path), zap.Int("inserted", inserted), zap.Int("skipped", skipped))
	return nil
}
