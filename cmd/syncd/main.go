package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gitsync/gitsync/internal/controller"
	"github.com/gitsync/gitsync/internal/credentials"
	"github.com/gitsync/gitsync/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	dataDir := os.Getenv("GITSYNC_DATA_DIR")
	if dataDir == "" {
		dataDir = "./data"
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		logger.Error("Failed to create data dir", "dir", dataDir, "error", err)
		os.Exit(1)
	}

	var dbStore store.Store
	var err error

	if os.Getenv("DB_TYPE") == "postgres" {
		connString := os.Getenv("DB_CONNECTION_STRING")
		if connString == "" {
			logger.Error("DB_CONNECTION_STRING is required for postgres")
			os.Exit(1)
		}
		dbStore, err = store.NewPostgresStore(context.Background(), connString)
	} else {
		dbStore, err = store.NewSQLiteStore(filepath.Join(dataDir, "gitsync.db"))
	}
	if err != nil {
		logger.Error("Failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer dbStore.Close()

	credentialService, err := credentials.NewServiceFromEnv(filepath.Join(dataDir, "encryption.key"))
	if err != nil {
		logger.Error("Failed to initialize credential encryption", "error", err)
		os.Exit(1)
	}
	logger.Info("Credential encryption ready", "source", credentialService.KeySource())

	registry := controller.NewRegistry(dbStore, credentialService, dataDir, logger)
	if err := registry.Load(context.Background()); err != nil {
		logger.Error("Failed to load repositories", "error", err)
		os.Exit(1)
	}

	handler := controller.NewHandler(registry, dbStore, logger)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Mount("/", handler.Routes())

	addr := os.Getenv("GITSYNC_LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	logger.Info("Starting sync daemon", "addr", addr, "data_dir", dataDir)
	if err := http.ListenAndServe(addr, r); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}
