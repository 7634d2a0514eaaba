// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// elementstored serves the element store REST surface over a
// configurable storage provider.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/juju/clock"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo/v2"
	"github.com/juju/lumberjack/v2"

	"github.com/omc-ai/elementStore-sub001/apiserver"
	"github.com/omc-ai/elementStore-sub001/core/object"
	"github.com/omc-ai/elementStore-sub001/internal/broadcast"
	"github.com/omc-ai/elementStore-sub001/internal/engine"
	"github.com/omc-ai/elementStore-sub001/internal/export"
	"github.com/omc-ai/elementStore-sub001/internal/genesis"
	"github.com/omc-ai/elementStore-sub001/internal/registry"
	"github.com/omc-ai/elementStore-sub001/internal/storage"
)

var logger = loggo.GetLogger("elementstore.cmd")

const version = "1.0.0"

const (
	exitOK = iota
	exitConfig
	exitStorage
	exitGenesis
)

type config struct {
	addr        string
	dataRoot    string
	storageType string
	storageURL  string
	database    string
	username    string
	password    string
	hubURL      string
	seedDir     string
	logFile     string
	logConfig   string
}

func envOr(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

func defaultConfig() config {
	return config{
		addr:        envOr("ELEMENTSTORE_ADDR", ":8080"),
		dataRoot:    envOr("ELEMENTSTORE_DATA_ROOT", "data"),
		storageType: envOr("ELEMENTSTORE_STORAGE", "local"),
		storageURL:  envOr("ELEMENTSTORE_STORAGE_URL", storageURLFromEnv()),
		database:    envOr("ELEMENTSTORE_DATABASE", "elementstore"),
		username:    os.Getenv("ELEMENTSTORE_USERNAME"),
		password:    os.Getenv("ELEMENTSTORE_PASSWORD"),
		hubURL:      os.Getenv("ELEMENTSTORE_HUB_URL"),
		seedDir:     os.Getenv("ELEMENTSTORE_SEED_DIR"),
	}
}

// storageURLFromEnv keeps the provider-specific URL variables working
// alongside the generic one.
func storageURLFromEnv() string {
	if url := os.Getenv("ELEMENTSTORE_MONGO_URL"); url != "" {
		return url
	}
	return os.Getenv("ELEMENTSTORE_COUCH_URL")
}

func registerFlags(f *gnuflag.FlagSet, cfg *config) {
	f.StringVar(&cfg.addr, "addr", cfg.addr, "address to listen on")
	f.StringVar(&cfg.dataRoot, "data-root", cfg.dataRoot, "data directory for the filesystem provider and exports")
	f.StringVar(&cfg.storageType, "storage", cfg.storageType, "storage provider: local, json, mongo, couchdb or rest")
	f.StringVar(&cfg.storageURL, "storage-url", cfg.storageURL, "connection URL for network providers")
	f.StringVar(&cfg.database, "database", cfg.database, "database name for the mongo provider")
	f.StringVar(&cfg.username, "username", cfg.username, "credentials for network providers")
	f.StringVar(&cfg.password, "password", cfg.password, "credentials for network providers")
	f.StringVar(&cfg.hubURL, "hub-url", cfg.hubURL, "change hub base URL; empty disables forwarding")
	f.StringVar(&cfg.seedDir, "seed-dir", cfg.seedDir, "directory overriding the embedded genesis seed")
	f.StringVar(&cfg.logFile, "log-file", cfg.logFile, "log to this file as well as stderr")
	f.StringVar(&cfg.logConfig, "logging-config", cfg.logConfig, "loggo configuration string")
}

func setupLogging(cfg config) error {
	if cfg.logFile != "" {
		writer := loggo.NewSimpleWriter(&lumberjack.Logger{
			Filename:   cfg.logFile,
			MaxSize:    100,
			MaxBackups: 2,
		}, loggo.DefaultFormatter)
		if err := loggo.RegisterWriter("logfile", writer); err != nil {
			return err
		}
	}
	if cfg.logConfig != "" {
		return loggo.ConfigureLoggers(cfg.logConfig)
	}
	return loggo.ConfigureLoggers("<root>=INFO")
}

func main() {
	os.Exit(Main(os.Args))
}

// Main wires the process together. Split from main for tests.
func Main(args []string) int {
	cfg := defaultConfig()
	f := gnuflag.NewFlagSetWithFlagKnownAs(filepath.Base(args[0]), gnuflag.ContinueOnError, "option")
	registerFlags(f, &cfg)
	if err := f.Parse(true, args[1:]); err != nil {
		if err == gnuflag.ErrHelp {
			return exitOK
		}
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}
	if err := setupLogging(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		return exitConfig
	}

	provider, err := storage.NewProvider(storage.ProviderConfig{
		Type:     object.StorageType(cfg.storageType),
		DataRoot: cfg.dataRoot,
		URL:      cfg.storageURL,
		Database: cfg.database,
		Username: cfg.username,
		Password: cfg.password,
	}, clock.WallClock)
	if err != nil {
		logger.Errorf("initializing storage: %v", err)
		return exitStorage
	}
	defer provider.Close()

	reg := registry.New(provider)
	loader := genesis.New(provider, reg, clock.WallClock, cfg.seedDir)
	if err := loader.Seed(context.Background()); err != nil {
		logger.Errorf("applying genesis seed: %v", err)
		return exitGenesis
	}

	emitter := broadcast.NewEmitter(cfg.hubURL)
	defer emitter.Close()
	model, err := engine.New(engine.Config{
		Store:    provider,
		Registry: reg,
		Emitter:  emitter,
		Clock:    clock.WallClock,
		Seeder:   loader,
	})
	if err != nil {
		logger.Errorf("building engine: %v", err)
		return exitConfig
	}

	server, err := apiserver.New(apiserver.Config{
		Model:   model,
		Genesis: loader,
		Export:  export.New(provider, reg, clock.WallClock, cfg.dataRoot),
		Version: version,
	})
	if err != nil {
		logger.Errorf("building API server: %v", err)
		return exitConfig
	}

	logger.Infof("elementstore %s serving on %s (storage %s)", version, cfg.addr, cfg.storageType)
	if err := http.ListenAndServe(cfg.addr, server); err != nil {
		logger.Errorf("server stopped: %v", err)
		return exitStorage
	}
	return exitOK
}
