package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"project-host/internal/db"
	"project-host/internal/server"
	"project-host/internal/store"
)

func main() {
	host := getenvDefault("PH_HOST", "localhost")
	port, err := strconv.Atoi(getenvDefault("PH_PORT", "8000"))
	if err != nil {
		log.Printf("service=project-host msg=%q err=%v", "invalid PH_PORT", err)
		os.Exit(1)
	}
	useTLS := getenvDefault("PH_TLS", "") == "1"
	contentRoot := getenvDefault("PH_CONTENT_ROOT", "html")

	// Database
	dsn := getenvDefault("DATABASE_URL", "")
	dbConn, err := db.Open(dsn)
	if err != nil {
		log.Printf("service=project-host msg=%q err=%v", "db_connect_failed", err)
		os.Exit(1)
	}
	defer func() { _ = dbConn.Close() }()

	log.Printf("service=project-host msg=%q", "running_migrations")
	if err := db.RunMigrations(dbConn); err != nil {
		log.Printf("service=project-host msg=%q err=%v", "migration_failed", err)
		os.Exit(1)
	}
	log.Printf("service=project-host msg=%q", "migrations_complete")

	// Optional object-storage mirror.
	mirror, err := server.NewMirrorFromEnv()
	if err != nil {
		log.Printf("service=project-host msg=%q err=%v", "mirror_config_invalid", err)
		os.Exit(1)
	}
	if mirror != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := mirror.EnsureBucket(ctx); err != nil {
			cancel()
			log.Printf("service=project-host msg=%q err=%v", "mirror_bucket_failed", err)
			os.Exit(1)
		}
		cancel()
	}

	srv := server.New(server.Config{
		Host:        host,
		Port:        port,
		UseTLS:      useTLS,
		CertFile:    getenvDefault("PH_TLS_CERT", ""),
		KeyFile:     getenvDefault("PH_TLS_KEY", ""),
		ContentRoot: contentRoot,
		Store:       store.New(dbConn),
		Mirror:      mirror,
	})

	if err := srv.Start(); err != nil {
		log.Printf("service=project-host msg=%q err=%v", "start_failed", err)
		os.Exit(1)
	}

	// Block until a shutdown signal, then stop gracefully.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("service=project-host msg=%q signal=%s", "shutting_down", sig.String())
	if err := srv.Stop(); err != nil {
		log.Printf("service=project-host msg=%q err=%v", "shutdown_error", err)
		os.Exit(1)
	}
	log.Printf("service=project-host msg=%q", "shutdown_complete")
}

// getenvDefault reads an environment variable and returns a default value if not set.
func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}
