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

	"collabtext/config"
	"collabtext/internal/api"
	"collabtext/internal/auth"
	"collabtext/internal/editor"
	"collabtext/internal/presence"
	"collabtext/internal/store"
)

func main() {
	var configPath = flag.String("config", "", "Path to config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Durable document store
	var docStore store.DocumentStore
	if cfg.PostgresDSN != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("Failed to connect to document store: %v", err)
		}
		docStore = pg
	} else {
		log.Println("No postgres_dsn configured, using in-memory document store")
		docStore = store.NewMemoryStore()
	}
	defer docStore.Close()

	// Ephemeral presence store
	var pres presence.Registry
	if cfg.RedisAddr != "" {
		redis, err := presence.NewRedisRegistry(cfg.RedisAddr, cfg.PresenceTTL)
		if err != nil {
			log.Fatalf("Failed to connect to presence store: %v", err)
		}
		defer redis.Close()
		pres = redis
	} else {
		log.Println("No redis_addr configured, using in-memory presence registry")
		mem := presence.NewMemoryRegistry(cfg.PresenceTTL)
		defer mem.Close()
		pres = mem
	}

	tokens := auth.NewTokenService(cfg.JWTSecret, cfg.TokenLifetime)

	service := editor.NewService(editor.ServiceConfig{
		Authority: editor.AuthorityConfig{
			TailWindow:      cfg.TailWindow,
			PersistOps:      cfg.PersistOps,
			PersistInterval: cfg.PersistInterval,
		},
		CursorCoalesce: cfg.CursorCoalesce,
	}, docStore, pres, tokens)
	service.Start()

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: api.NewRouter(service, docStore, tokens),
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		service.Shutdown()
		server.Close()
	}()

	log.Printf("collab-server listening on %s", cfg.ListenAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed to start: %v", err)
	}
}
