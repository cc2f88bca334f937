package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/dshills/codeqa/internal/httpapi"
	"github.com/dshills/codeqa/internal/ingest"
	"github.com/dshills/codeqa/internal/mcp"
	"github.com/dshills/codeqa/internal/searcher"
)

func serveCommand(c *cli.Context) error {
	return withApp(c, func(ctx context.Context, a *app) error {
		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()

		addr := a.cfg.Server.Addr
		if c.IsSet("addr") {
			addr = c.String("addr")
		}

		api := httpapi.New(httpapi.Config{
			Search:    a.search,
			Answers:   a.answers,
			Files:     a.store,
			ProjectID: a.project.ID,
			Limit:     a.cfg.Search.Limit,
			StaticDir: a.cfg.Server.StaticDir,
			Logger:    a.logger,
		})
		return api.Run(ctx, addr, time.Duration(a.cfg.Server.ShutdownTimeout))
	})
}

func mcpCommand(c *cli.Context) error {
	return withApp(c, func(ctx context.Context, a *app) error {
		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()

		a.logger.Info("MCP server ready, listening on stdio",
			slog.String("version", version),
			slog.String("project", a.project.Name))

		server := mcp.NewServer(mcp.Deps{
			Search:   a.search,
			Answers:  a.answers,
			Store:    a.store,
			Importer: a.importer,
			Project:  a.project,
			Logger:   a.logger,
		})
		err := server.Serve(ctx, os.Stdin, os.Stdout)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
}

func searchCommand(c *cli.Context) error {
	if c.NArg() < 1 {
		return errors.New("usage: codeqa search <query>")
	}
	query := strings.Join(c.Args().Slice(), " ")

	return withApp(c, func(ctx context.Context, a *app) error {
		limit := a.cfg.Search.Limit
		if c.IsSet("limit") {
			limit = c.Int("limit")
		}

		resp, err := a.search.Search(ctx, searcher.SearchRequest{
			Query:       query,
			Limit:       limit,
			FilePattern: c.String("file-pattern"),
		})
		if err != nil {
			return err
		}
		if resp.Degraded {
			a.logger.Warn("lexical evidence unavailable, results are in semantic order")
		}

		enc := json.NewEncoder(c.App.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"result": resp.Results})
	})
}

func askCommand(c *cli.Context) error {
	if c.NArg() < 1 {
		return errors.New("usage: codeqa ask <question>")
	}
	question := strings.Join(c.Args().Slice(), " ")

	return withApp(c, func(ctx context.Context, a *app) error {
		if c.Bool("stream") {
			return a.answers.AnswerStream(ctx, question, c.App.Writer, nil)
		}
		resp, err := a.answers.Answer(ctx, question)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(c.App.Writer, resp.Content())
		return err
	})
}

func importCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("usage: codeqa import <dump.jsonl>")
	}
	path, err := filepath.Abs(c.Args().First())
	if err != nil {
		return fmt.Errorf("resolve %s: %w", c.Args().First(), err)
	}

	return withApp(c, func(ctx context.Context, a *app) error {
		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()

		stats, err := a.importer.ImportFile(ctx, a.project.Name, path, &ingest.Config{
			BatchSize: c.Int("batch-size"),
			Workers:   c.Int("workers"),
		})
		if err != nil {
			return err
		}

		w := c.App.Writer
		fmt.Fprintf(w, "Imported %s into project %q in %s\n", path, a.project.Name, stats.Duration.Round(time.Millisecond))
		fmt.Fprintf(w, "  files:      %d imported, %d unchanged\n", stats.FilesImported, stats.FilesSkipped)
		fmt.Fprintf(w, "  snippets:   %d\n", stats.SnippetsImported)
		fmt.Fprintf(w, "  symbols:    %d\n", stats.SymbolsImported)
		fmt.Fprintf(w, "  embeddings: %d provided, %d generated\n", stats.EmbeddingsProvided, stats.EmbeddingsGenerated)
		if stats.RecordsFailed > 0 {
			fmt.Fprintf(w, "  failed:     %d records\n", stats.RecordsFailed)
			for _, msg := range stats.ErrorMessages {
				fmt.Fprintf(w, "    %s\n", msg)
			}
		}
		return nil
	})
}
