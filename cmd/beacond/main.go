// beacond is the visitor telemetry collection daemon.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/beaconlabs/beacon/internal/config"
	"github.com/beaconlabs/beacon/internal/location"
	"github.com/beaconlabs/beacon/internal/logging"
	"github.com/beaconlabs/beacon/internal/server"
	"github.com/beaconlabs/beacon/internal/storage"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	// CLI flags
	cfgPath := flag.String("config", "config.yaml", "config file path")
	listen := flag.String("listen", "", "listen address (overrides config)")
	backend := flag.String("backend", "", "storage backend: file, duckdb, mongodb (overrides config)")
	dataDir := flag.String("data-dir", "", "file backend data directory (overrides config)")
	dbPath := flag.String("db", "", "duckdb database path (overrides config)")
	mongoURI := flag.String("mongo-uri", "", "mongodb connection string (or BEACON_MONGO_URI env)")
	logJSON := flag.Bool("log-json", false, "emit JSON logs")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (overrides config)")
	flag.Parse()

	// Load config
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("No config file found, using defaults")
			cfg = config.DefaultConfig()
		} else {
			log.Fatalf("Load config: %v", err)
		}
	}

	// CLI overrides
	if *listen != "" {
		cfg.Server.Listen = *listen
	}
	if *backend != "" {
		cfg.Storage.Backend = *backend
	}
	if *dataDir != "" {
		cfg.Storage.File.Dir = *dataDir
	}
	if *dbPath != "" {
		cfg.Storage.DuckDB.Path = *dbPath
	}
	if *mongoURI != "" {
		cfg.Storage.MongoDB.URI = *mongoURI
	}
	if *logJSON {
		cfg.Log.JSON = true
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	logging.Init(cfg.Log.Level, cfg.Log.JSON)
	logger := logging.Component("beacond")
	logger.Info("starting", "version", Version, "backend", cfg.Storage.Backend)

	// =========================================================================
	// Storage engine
	// =========================================================================

	engine, err := storage.Open(&cfg.Storage)
	if err != nil {
		logger.Error("open storage", "error", err)
		os.Exit(1)
	}

	initCtx, cancelInit := context.WithTimeout(context.Background(), cfg.Storage.QueryTimeout)
	err = engine.Initialize(initCtx)
	cancelInit()
	if err != nil {
		logger.Error("initialize storage", "error", err)
		os.Exit(1)
	}

	// =========================================================================
	// Location pipeline
	// =========================================================================

	resolver := location.NewResolver(location.Config{
		LookupURL:     cfg.Location.LookupURL,
		LookupTimeout: cfg.Location.LookupTimeout,
	})

	// =========================================================================
	// Server, signal handling, run
	// =========================================================================

	srv := server.New(cfg, engine, resolver)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		engine.Close()
		os.Exit(1)
	}

	if err := engine.Close(); err != nil {
		logger.Warn("storage close", "error", err)
	}
	logger.Info("stopped")
}
