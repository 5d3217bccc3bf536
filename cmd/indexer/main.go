// Command indexer builds the index from an archive listing once, writes the
// snapshot the search service restores from, and optionally answers a
// single query.
//
// Usage:
//
//	go run ./cmd/indexer [-config configs/development.yaml] [-query lombok,README.md] [-top 10] [-no-snapshot] <data.ndjson> [limit]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Adithya-Monish-Kumar-K/zip-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/zip-search/internal/indexer/snapshot"
	"github.com/Adithya-Monish-Kumar-K/zip-search/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/zip-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/zip-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/zip-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/zip-search/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	envPath := flag.String("env", ".env", "path to env variables file")
	query := flag.String("query", "", "comma or space separated terms to search after building")
	top := flag.Int("top", 10, "matches to print for -query, 0 for all")
	noSnapshot := flag.Bool("no-snapshot", false, "skip writing the snapshot")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <data_filename> [limit]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load env file: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if flag.NArg() > 0 {
		cfg.Index.SourcePath = flag.Arg(0)
	}
	if flag.NArg() > 1 {
		limit, err := strconv.Atoi(flag.Arg(1))
		if err != nil || limit < 0 {
			fmt.Fprintf(os.Stderr, "limit must be a non-negative integer, got %q\n", flag.Arg(1))
			os.Exit(2)
		}
		cfg.Index.Limit = limit
	}
	if err := cfg.Validate(); err != nil {
		flag.Usage()
		fmt.Fprintf(os.Stderr, "\n%v\n", err)
		os.Exit(2)
	}
	if *top < 0 {
		fmt.Fprintln(os.Stderr, "-top must not be negative")
		os.Exit(2)
	}

	logger.SetupWriter(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	idx, err := ingestion.BuildFromFile(ctx, cfg.Index.SourcePath, cfg.Index.Limit)
	if err != nil {
		slog.Error("index build failed", "error", err)
		os.Exit(1)
	}
	stats := idx.Stats()
	fmt.Fprintf(os.Stderr, "loaded data for %d docs, %d terms, %d term-docid pairs, in %.2fs\n",
		stats.Docs, stats.Terms, stats.TermDocPairs, time.Since(start).Seconds())

	if !*noSnapshot {
		if err := writeSnapshot(ctx, cfg.Snapshot, idx); err != nil {
			slog.Error("writing snapshot failed", "error", err)
			os.Exit(1)
		}
	}

	if *query == "" {
		return
	}
	terms := parser.Parse(*query)
	searchStart := time.Now()
	result := executor.SearchTop(idx, terms, *top)
	slog.Info("query answered",
		"terms", terms,
		"total", result.Total,
		"duration_us", time.Since(searchStart).Microseconds(),
	)
	for _, m := range result.Matches {
		fmt.Printf("%.4f\t%s\n", m.Score, m.Document)
	}
	if len(result.Matches) < result.Total {
		fmt.Printf("... %d more\n", result.Total-len(result.Matches))
	}
}

func writeSnapshot(ctx context.Context, cfg config.SnapshotConfig, idx *index.InvertedIndex) error {
	store, err := snapshot.NewStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	start := time.Now()
	size, err := snapshot.Persist(ctx, store, idx)
	if err != nil {
		return err
	}
	slog.Info("snapshot written",
		"location", store.Location(),
		"bytes", size,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}
