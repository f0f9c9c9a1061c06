// Command worker periodically runs reference auto-matching for the configured
// tenants.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/hotelops/reconciler/internal/config"
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

	if len(cfg.AutoMatchTenants) == 0 {
		log.Fatal("no tenants configured; set AUTOMATCH_TENANTS")
	}

	db, err := repository.InitDB(cfg.DBPath)
	if err != nil {
		log.Fatal("init db", zap.Error(err))
	}
	defer db.Close()

	recon := reconciliation.NewService(repository.NewStore(db), reconciliation.Config{
		WindowDays: cfg.MatchWindowDays,
		MinScore:   cfg.MatchMinScore,
	}, log.Named("reconciliation"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := gocron.NewScheduler()
	if err != nil {
		log.Fatal("create scheduler", zap.Error(err))
	}

	for _, tenantID := range cfg.AutoMatchTenants {
		_, err := s.NewJob(
			gocron.DurationJob(cfg.AutoMatchInterval),
			gocron.NewTask(func() { runAutoMatch(ctx, recon, tenantID, log) }),
			gocron.WithName("automatch-"+tenantID),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithStartAt(gocron.WithStartImmediately()),
		)
		if err != nil {
			log.Fatal("register job", zap.String("tenant_id", tenantID), zap.Error(err))
		}
	}

	s.Start()
	log.Info("auto-match worker started",
		zap.Strings("tenants", cfg.AutoMatchTenants),
		zap.Duration("interval", cfg.AutoMatchInterval),
	)

	<-ctx.Done()
	if err := s.Shutdown(); err != nil {
		log.Error("scheduler shutdown", zap.Error(err))
	}
	log.Info("auto-match worker stopped")
}

func runAutoMatch(ctx context.Context, recon *reconciliation.Service, tenantID string, log *zap.Logger) {
	if ctx.Err() != nil {
		return
	}
	res, err := recon.AutoMatch(ctx, tenantID, "system")
	if err != nil {
		log.Error("auto-match failed", zap.String("tenant_id", tenantID), zap.Error(err))
		return
	}
	log.Info("auto-match run",
		zap.String("tenant_id", tenantID),
		zap.Int("examined", res.Examined),
		zap.Int("matched", res.Matched),
		zap.Int("failed", res.Failed),
	)
}
