package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"inkwell/api/internal/app"
	"inkwell/api/internal/bus"
	"inkwell/api/internal/client"
	"inkwell/api/internal/config"
	"inkwell/api/internal/content"
	"inkwell/api/internal/revisions"
	"inkwell/api/internal/search"
	"inkwell/api/internal/store"
	"inkwell/api/internal/watch"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	if err := os.MkdirAll(cfg.RevisionsDir, 0o755); err != nil {
		log.Fatalf("failed to create revisions dir: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	revisionService := revisions.New(cfg.RevisionsDir)

	eventBus := bus.New()
	if strings.TrimSpace(cfg.RedisURL) != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("invalid REDIS_URL: %v", err)
		}
		redisClient := redis.NewClient(opts)
		defer redisClient.Close()
		eventBus = bus.NewWithRedis(redisClient)
		log.Printf("Mirroring change events to redis channel %s", eventBus.Channel())
	}
	defer eventBus.Close()

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}

	dispatcher := watch.NewDispatcher(eventBus)

	var detector *watch.Detector
	switch {
	case strings.TrimSpace(cfg.SnapshotURL) != "":
		source := client.New(cfg.SnapshotURL, cfg.SnapshotToken, nil)
		detector = watch.NewDetector(cfg.SiteID, source, dispatcher, content.Fingerprint)
	case strings.TrimSpace(cfg.WatchCollection) != "":
		source := app.NewStoreSource(dataStore, cfg.SiteID, cfg.WatchCollection)
		detector = watch.NewDetector(cfg.SiteID, source, dispatcher, content.Fingerprint)
	default:
		log.Printf("No snapshot source configured, change detection disabled")
	}
	if detector != nil {
		detector.SetPollInterval(cfg.PollInterval)
		detector.SetFetchTimeout(cfg.FetchTimeout)
	}

	var searcher search.Searcher
	if meiliClient != nil {
		searcher = meiliClient
	}

	service := app.New(cfg, dataStore, revisionService, searcher, dispatcher, detector, eventBus)

	if meiliClient != nil {
		dispatcher.Register(search.Revalidator(meiliClient, service.SearchSource()))
		if detector != nil {
			detector.Start()
		}
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Inkwell API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	if detector != nil {
		detector.Stop()
	}
}
