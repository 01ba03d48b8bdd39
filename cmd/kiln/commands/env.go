// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/kiln/cmd/kiln/cli"
	"github.com/bureau-foundation/kiln/lib/block"
	"github.com/bureau-foundation/kiln/lib/blockhash"
	"github.com/bureau-foundation/kiln/lib/blockstore"
	"github.com/bureau-foundation/kiln/lib/clock"
	"github.com/bureau-foundation/kiln/lib/config"
	"github.com/bureau-foundation/kiln/lib/dedup"
	"github.com/bureau-foundation/kiln/lib/memstore"
	"github.com/bureau-foundation/kiln/lib/section"
)

// globals holds the flags every leaf command accepts.
type globals struct {
	configPath string
	dbPath     string
	root       string
	memory     bool
	verbose    bool
	json       bool
}

func (g *globals) register(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&g.configPath, "config", "", "path to kiln.yaml (default: $KILN_CONFIG, then built-in defaults)")
	flagSet.StringVar(&g.dbPath, "db", "", "database file (overrides storage.path)")
	flagSet.StringVar(&g.root, "root", "", "directory document IDs are relative to (overrides paths.documents; default: working directory)")
	flagSet.BoolVar(&g.memory, "memory", false, "use an in-memory store discarded on exit")
	flagSet.BoolVarP(&g.verbose, "verbose", "v", false, "log at debug level")
	flagSet.BoolVar(&g.json, "json", false, "output as JSON")
}

// loadConfig resolves the configuration: --config, then KILN_CONFIG,
// then defaults. --db replaces the storage path and --root the
// document root.
func (g *globals) loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	switch {
	case g.configPath != "":
		cfg, err = config.LoadFile(g.configPath)
	case os.Getenv("KILN_CONFIG") != "":
		cfg, err = config.Load()
	default:
		cfg = config.Default()
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if g.dbPath != "" {
		cfg.Storage.Path = g.dbPath
	}
	if g.root != "" {
		cfg.Paths.Documents = g.root
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (g *globals) logger(cfg *config.Config) *slog.Logger {
	level, _ := cfg.Logging.SlogLevel()
	if g.verbose {
		level = slog.LevelDebug
	}
	return cli.NewCommandLogger(level, cfg.Logging.Format)
}

// environment is everything a command needs to read or write blocks.
type environment struct {
	config   *config.Config
	logger   *slog.Logger
	hasher   *blockhash.ContentHasher
	sections section.Config
	limits   block.Limits

	// store is the dedup backing store: the SQLite store, or a memstore
	// under --memory.
	store dedup.Store

	// database is nil under --memory.
	database *blockstore.Store
}

// open loads configuration and opens the backing store.
func (g *globals) open(command string) (*environment, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, err
	}
	logger := g.logger(cfg).With("command", command)

	hasher, err := cfg.Hasher()
	if err != nil {
		return nil, err
	}
	sections, err := cfg.SectionConfig()
	if err != nil {
		return nil, err
	}

	env := &environment{
		config:   cfg,
		logger:   logger,
		hasher:   hasher,
		sections: sections,
		limits:   cfg.BlockLimits(),
	}

	if g.memory {
		env.store = memstore.New()
		logger.Debug("using in-memory store")
		return env, nil
	}

	compression, err := cfg.CompressionTag()
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsurePaths(); err != nil {
		return nil, err
	}
	database, err := blockstore.Open(blockstore.Config{
		Path:        cfg.Storage.Path,
		PoolSize:    cfg.Storage.PoolSize,
		Compression: compression,
		Clock:       clock.Real(),
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	env.store = database
	env.database = database
	return env, nil
}

// Close releases the database, if any.
func (e *environment) Close() error {
	if e.database == nil {
		return nil
	}
	return e.database.Close()
}

func (e *environment) detector() *dedup.Detector {
	return dedup.NewDetector(e.store, e.config.DetectorOptions(e.logger))
}

var errNeedsDatabase = errors.New("this command reads persisted trees and cannot run with --memory")

func (e *environment) requireDatabase() (*blockstore.Store, error) {
	if e.database == nil {
		return nil, errNeedsDatabase
	}
	return e.database, nil
}
