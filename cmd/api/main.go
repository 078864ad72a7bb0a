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

	"atelier/api/internal/app"
	"atelier/api/internal/archive"
	"atelier/api/internal/artifact"
	"atelier/api/internal/collab"
	"atelier/api/internal/config"
	"atelier/api/internal/invite"
	"atelier/api/internal/search"
	"atelier/api/internal/store"
	"atelier/api/internal/ws"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	var dataStore collab.Store
	var searchService *search.Service

	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("database connection failed: %v", err)
		}
		defer db.Close()

		if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
			log.Fatalf("migrations failed: %v", err)
		}

		dataStore = store.NewPostgresStore(db)

		pgfts := search.NewPgFTS(db)
		var meiliClient *search.Meili
		if strings.TrimSpace(cfg.MeiliURL) != "" {
			meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
			defer meiliClient.Close()
		}
		searchService = search.NewService(meiliClient, pgfts)
	} else {
		log.Printf("DATABASE_URL not set, using in-memory session store")
		dataStore = store.NewMemoryStore()
	}

	if err := os.MkdirAll(cfg.ArtifactsDir, 0o755); err != nil {
		log.Fatalf("failed to create artifacts dir: %v", err)
	}
	artifactService := artifact.New(cfg.ArtifactsDir)

	var inviteStore *invite.RedisStore
	if strings.TrimSpace(cfg.RedisURL) != "" {
		var err error
		inviteStore, err = invite.NewRedisStore(cfg.RedisURL, cfg.InviteTTL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer inviteStore.Close()
	}

	var archiver *archive.Uploader
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		var err error
		archiver, err = archive.NewUploader(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("minio connection failed: %v", err)
		}
		if err := archiver.EnsureBucket(ctx); err != nil {
			log.Printf("WARNING: minio bucket check failed: %v", err)
		}
	}

	hub := collab.NewHub(dataStore, cfg.AutoSaveDebounce)
	defer hub.Shutdown()

	service := app.New(cfg, dataStore, hub, inviteStore, searchService, artifactService, archiver)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	httpServer.SetCollabHandler(ws.NewHandler(service))

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Atelier API listening on %s", cfg.Addr)
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
}
