package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/aradsms/smsrelay/internal/platform/config"
	"github.com/aradsms/smsrelay/internal/platform/database"
	"github.com/aradsms/smsrelay/internal/platform/logger"
	relayhttp "github.com/aradsms/smsrelay/internal/relay_service/adapters/http"
	"github.com/aradsms/smsrelay/internal/relay_service/app"
	"github.com/aradsms/smsrelay/internal/relay_service/gateway"
	"github.com/aradsms/smsrelay/internal/relay_service/repository/relaydb"
	"github.com/aradsms/smsrelay/internal/relay_service/scheduler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logLevel := cfg.LogLevel
	if cfg.FullLog {
		logLevel = "debug"
	}
	appLogger := logger.New(logLevel)
	appLogger.Info("SMS relay service starting...", "service_name", cfg.ServiceName, "log_level", logLevel)

	store := config.NewStore(cfg)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(rootCtx, cfg.DB.Provider, cfg.DB.ConnectionString, appLogger)
	if err != nil {
		appLogger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	appLogger.Info("Successfully connected to database", "provider", cfg.DB.Provider)

	gw := gateway.NewClient(store, appLogger, nil)

	outboxRepo := relaydb.NewOutboxRepository(db, store, appLogger)
	inboxRepo := relaydb.NewInboxRepository(db, store, appLogger)
	whitelistRepo := relaydb.NewWhitelistRepository(db, store, appLogger)
	archiveRepo := relaydb.NewArchiveRepository(db, store, appLogger)

	alertState := app.NewAlertState()
	relaySvc := app.NewRelayService(store, gw, outboxRepo, whitelistRepo, alertState, appLogger)
	dlrSvc := app.NewDLRService(store, gw, outboxRepo, alertState, appLogger)
	moSvc := app.NewMOService(store, gw, inboxRepo, alertState, appLogger)
	archiveSvc := app.NewArchiveService(store, archiveRepo, alertState, appLogger)
	alertSvc := app.NewAlertService(store, gw, outboxRepo, alertState, appLogger)

	if !gw.UsingAPIKey() {
		if err := gw.Authenticate(rootCtx); err != nil {
			// The send loop refreshes the token on its own; startup
			// proceeds with a warning.
			appLogger.Warn("Initial token fetch failed", "error", err)
		}
	}

	// One catch-up pass before the timers start, so a long outage does
	// not wait a full interval to drain.
	runStartupPass(rootCtx, appLogger, dlrSvc, moSvc, alertSvc)

	sched := scheduler.New(appLogger)
	sched.Register(scheduler.Job{Name: "read_and_post", Interval: time.Second, Run: relaySvc.ReadAndPost})
	sched.Register(scheduler.Job{Name: "archive", Interval: time.Second, Run: archiveSvc.Run})
	sched.Register(scheduler.Job{Name: "error_alert", Interval: time.Second, Run: alertSvc.CheckErrors})
	if cfg.Message.DLRIntervalMinutes > 0 {
		sched.Register(scheduler.Job{
			Name:     "dlr_poll",
			Interval: time.Duration(cfg.Message.DLRIntervalMinutes) * time.Minute,
			Align:    true,
			Run:      dlrSvc.Poll,
		})
	}
	if cfg.Message.MOIntervalMinutes > 0 {
		sched.Register(scheduler.Job{
			Name:     "mo_poll",
			Interval: time.Duration(cfg.Message.MOIntervalMinutes) * time.Minute,
			Align:    true,
			Run:      moSvc.Poll,
		})
	}
	if cfg.Alert.IntervalMinutes > 0 {
		sched.Register(scheduler.Job{
			Name:     "queue_depth_alert",
			Interval: time.Duration(cfg.Alert.IntervalMinutes) * time.Minute,
			Run:      alertSvc.CheckQueueDepth,
		})
	}
	sched.Register(scheduler.Job{Name: "config_reload", Interval: time.Minute, Run: func(ctx context.Context) error {
		return store.Reload()
	}})

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      relayhttp.NewRouter(store, outboxRepo, inboxRepo, appLogger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		appLogger.Info("HTTP server listening", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Run(rootCtx)
	}()

	<-rootCtx.Done()
	appLogger.Info("Shutdown signal received, stopping...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("HTTP server shutdown failed", "error", err)
	}

	wg.Wait()
	appLogger.Info("SMS relay service stopped")
}

// runStartupPass drains deliveries and inbound messages once and checks
// the queue depth, logging rather than failing on errors.
func runStartupPass(ctx context.Context, log *slog.Logger, dlr *app.DLRService, mo *app.MOService, alerts *app.AlertService) {
	if err := dlr.Poll(ctx); err != nil {
		log.Warn("Startup delivery poll failed", "error", err)
	}
	if err := mo.Poll(ctx); err != nil {
		log.Warn("Startup inbound poll failed", "error", err)
	}
	if err := alerts.CheckQueueDepth(ctx); err != nil {
		log.Warn("Startup queue depth check failed", "error", err)
	}
}
