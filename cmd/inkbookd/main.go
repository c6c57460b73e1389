package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"inkbook/internal/cache"
	"inkbook/internal/clock"
	"inkbook/internal/config"
	"inkbook/internal/content"
	"inkbook/internal/database"
	"inkbook/internal/handler"
	"inkbook/internal/logging"
	"inkbook/internal/person"
	"inkbook/internal/remote"
	"inkbook/internal/server"
	"inkbook/internal/store"
	"inkbook/internal/syncd"
	"inkbook/internal/syncengine"
	ws "inkbook/internal/websocket"
)

func main() {
	configPath := flag.String("config", "inkbook.yaml", "path to config file")
	flag.Parse()

	if env := os.Getenv("INKBOOK_CONFIG"); env != "" {
		*configPath = env
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := logging.Setup(cfg.Log.Level, cfg.Log.File)

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	clk := clock.System{}

	books := store.NewBookStore(db, clk)
	events := store.NewEventStore(db, clk)
	notes := store.NewNoteStore(db, clk)
	drawings := store.NewDrawingStore(db, clk)
	policy := store.NewPolicyStore(db)
	syncState := store.NewSyncStateStore(db)

	// The config file is the source of truth for the cache policy limits;
	// the stored row follows it on every boot. The cleanup timestamp is
	// the store's own bookkeeping and is carried across restarts.
	if err := policy.Configure(int64(cfg.Cache.MaxSizeMB), cfg.Cache.DurationDays, cfg.Cache.AutoCleanup); err != nil {
		log.Fatalf("failed to apply cache policy: %v", err)
	}

	rc := remote.NewClient(cfg.ServerURL, remote.Credentials{
		DeviceID:    cfg.DeviceID,
		DeviceToken: cfg.DeviceToken,
	})

	cm := cache.NewManager(notes, drawings, policy, clk, logger.With("component", "cache"))
	if err := cm.StartupCleanup(); err != nil {
		logger.Warn("startup cache cleanup failed", "error", err)
	}

	sharing := person.NewService(notes, cfg.DeviceID, clk, logger.With("component", "person"))
	svc := content.NewService(notes, drawings, rc, cm, sharing, logger.With("component", "content"))
	engine := syncengine.New(events, notes, drawings, syncState, rc, logger.With("component", "sync"))

	hub := ws.NewHub(logger.With("component", "websocket"))

	coordinator := syncd.NewCoordinator(engine, rc, sharing, cm, syncd.Config{
		ActiveBookID:    cfg.ActiveBook,
		SettleDelay:     cfg.Sync.SettleDelayDuration(),
		SyncSchedule:    cfg.Sync.Schedule,
		CleanupSchedule: cfg.Sync.CleanupSchedule,
	}, func(s syncd.Status) {
		hub.Broadcast(ws.StatusMessage(s.Offline, s.Syncing))
	}, logger.With("component", "syncd"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := coordinator.Start(ctx); err != nil {
		log.Fatalf("failed to start sync coordinator: %v", err)
	}
	defer coordinator.Stop()

	bookH := handler.NewBookHandler(books, logger.With("component", "books"))
	eventH := handler.NewEventHandler(events, sharing, logger.With("component", "events"))
	contentH := handler.NewContentHandler(svc, sharing, events, logger.With("component", "notes"))

	srv := server.New(hub, coordinator, syncState, bookH, eventH, contentH, logger)

	httpServer := &http.Server{
		Addr:         cfg.StatusListen,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("inkbook daemon listening", "addr", cfg.StatusListen, "db", cfg.DBPath)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("shutdown error: %v", err)
	}
}
