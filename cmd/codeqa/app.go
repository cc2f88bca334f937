package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/dshills/codeqa/internal/answer"
	"github.com/dshills/codeqa/internal/config"
	"github.com/dshills/codeqa/internal/embedder"
	"github.com/dshills/codeqa/internal/ingest"
	"github.com/dshills/codeqa/internal/lexical"
	"github.com/dshills/codeqa/internal/llm"
	"github.com/dshills/codeqa/internal/searcher"
	"github.com/dshills/codeqa/internal/semantic"
	"github.com/dshills/codeqa/internal/storage"
)

// app holds the wired components for one command
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *storage.SQLiteStorage
	embedder embedder.Embedder
	project  *storage.Project
	search   *searcher.Searcher
	answers  *answer.Service
	importer *ingest.Importer
}

// loadConfig reads the config file and applies CLI flag overrides
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if p := c.String("project"); p != "" {
		cfg.Storage.Project = p
	}
	return cfg, nil
}

// openApp opens storage and builds every component. Logs go to stderr so stdout
// stays free for command output and the MCP protocol.
func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger, err := config.NewLogger(cfg.Log, os.Stderr)
	if err != nil {
		return nil, err
	}

	store, err := storage.NewSQLiteStorage(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.Storage.DBPath, err)
	}

	project, err := storage.EnsureProject(ctx, store, cfg.Storage.Project)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	emb, err := embedder.New(cfg.EmbedderConfig())
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	var semOpts []semantic.Option
	if cfg.Search.MinRelevance > 0 {
		semOpts = append(semOpts, semantic.WithMinRelevance(cfg.Search.MinRelevance))
	}
	search := searcher.New(
		lexical.New(store, project.ID),
		semantic.New(store, emb, project.ID, semOpts...),
		searcher.WithLogger(logger),
		searcher.WithCacheSize(cfg.Search.CacheSize),
		searcher.WithCacheTTL(time.Duration(cfg.Search.CacheTTL)),
	)

	answers := answer.New(search, llm.New(cfg.LLMConfig(logger)), answer.Config{
		Limit:    cfg.Search.Limit,
		Language: cfg.LLM.Language,
		Logger:   logger,
	})

	logger.Debug("components ready",
		slog.String("db", cfg.Storage.DBPath),
		slog.String("project", project.Name),
		slog.String("embedder", emb.Provider()+"/"+emb.Model()),
		slog.String("llm_model", cfg.LLM.Model),
		slog.String("build_mode", storage.BuildMode))

	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		embedder: emb,
		project:  project,
		search:   search,
		answers:  answers,
		importer: ingest.New(store, emb, logger),
	}, nil
}

func (a *app) Close() error {
	_ = a.embedder.Close()
	return a.store.Close()
}

// withApp loads config, wires the app and runs fn
func withApp(c *cli.Context, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx := c.Context
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			a.logger.Warn("close", slog.String("error", err.Error()))
		}
	}()
	return fn(ctx, a)
}
