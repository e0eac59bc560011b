package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hermescore/internal/auth"
	"hermescore/internal/collect"
	"hermescore/internal/config"
	"hermescore/internal/crash"
	"hermescore/internal/db"
	"hermescore/internal/httpserver"
	"hermescore/internal/ingest"
	"hermescore/internal/logging"
	"hermescore/internal/metrics"
	"hermescore/internal/settings"
	"hermescore/internal/store"
)

func main() {
	ctx := context.Background()
	logger := logging.New()

	cfg := config.Load()

	database, err := db.Open(cfg.DataDir, logger)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer database.Close()

	cacheStore, err := store.New(database)
	if err != nil {
		log.Fatalf("init cache store: %v", err)
	}
	pool := store.NewImportedPool()

	userStore := auth.NewStore(database)
	if err := userStore.SeedFromFile(ctx, cfg.UsersPath); err != nil {
		log.Fatalf("seed users: %v", err)
	}
	authSvc := auth.NewService(userStore, cfg.JWTSecret)

	settingsSvc := settings.NewService(cacheStore)
	m := metrics.New()

	hostOS := collect.HostOS()
	collector := collect.ForHost()
	importer := crash.NewImporter(hostOS)

	coordinator := ingest.NewCoordinator(
		collector, hostOS, cacheStore, settingsSvc, importer, m, logger, cfg.CollectTimeout)

	logger.Info("host detected", "os", hostOS, "version", collect.HostOSVersion(ctx))

	if settingsSvc.IngestProfile().AutoSyncOnStartup {
		go func() {
			res, err := coordinator.Refresh(ctx)
			if err != nil {
				logger.Error("startup sync failed", "err", err)
				return
			}
			logger.Info("startup sync complete", "collected", res.Collected, "warnings", len(res.Warnings))
		}()
	}

	handler := httpserver.NewRouter(
		logger, authSvc, cacheStore, pool, coordinator, settingsSvc, m, cfg.ImportAPIKey)
	server := httpserver.New(cfg.HTTPAddr, handler, logger)

	go func() {
		if err := server.Start(); err != nil {
			log.Fatalf("http server: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
