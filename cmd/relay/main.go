package main

import (
	"log"
	"os"

	"syncverse/internal/config"
	"syncverse/internal/database"
	"syncverse/internal/identity"
	"syncverse/internal/presence"
	"syncverse/internal/relay"
	"syncverse/internal/server"
)

func main() {
	cfg := config.Load()

	var opts server.Options

	// Persistent identities are optional; the relay serves guests
	// without a database.
	if cfg.Database.DSN != "" || os.Getenv("DB_HOST") != "" {
		db, err := database.Connect(cfg.Database.DSN)
		if err != nil {
			log.Printf("⚠️ Database unavailable, running without persistent identities: %v", err)
		} else {
			defer database.Close(db)
			if err := database.Ping(db); err != nil {
				log.Printf("⚠️ Database ping failed: %v", err)
			} else {
				log.Printf("✅ Database connected successfully")
				opts.Store = identity.NewStore(db)
			}
		}
	}

	if cfg.Redis.Addr != "" {
		hostname, _ := os.Hostname()
		opts.Presence = presence.NewManager(
			cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, hostname, cfg.Redis.TTL)
		defer opts.Presence.Close()
		log.Printf("✅ Presence store connected (%s)", cfg.Redis.Addr)
	}

	hub := relay.NewHub(relay.HubOptions{
		SnapshotDir:   os.Getenv("SNAPSHOT_DIR"),
		SnapshotEvery: cfg.Sync.SnapshotEvery,
	})

	srv := server.New(cfg, hub, opts)
	srv.SetupMiddleware()
	srv.SetupRoutes()

	if err := srv.Start(); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}
