// Package indexer owns the serving index. It restores the index from a
// snapshot or rebuilds it from the archive listing, and swaps each new
// generation in atomically while searches keep reading the previous one.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/zip-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/zip-search/internal/indexer/snapshot"
	"github.com/Adithya-Monish-Kumar-K/zip-search/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/zip-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/zip-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/zip-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/zip-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/zip-search/pkg/tracing"
)

// Origin says where a generation's index came from.
type Origin string

const (
	OriginSnapshot Origin = "snapshot"
	OriginRebuild  Origin = "rebuild"
)

// Generation is one immutable index together with when and how it began
// serving. Number increases by one with every swap and restarts with the
// process; Fingerprint names the index content and is stable across
// processes, so anything shared between replicas keys on it.
type Generation struct {
	Index       *index.InvertedIndex
	Number      uint64
	Fingerprint string
	Origin      Origin
	LoadedAt    time.Time
}

// BuildRecord describes one completed load or rebuild.
type BuildRecord struct {
	Generation    uint64        `json:"generation"`
	Fingerprint   string        `json:"fingerprint"`
	Origin        Origin        `json:"origin"`
	Source        string        `json:"source"`
	Stats         index.Stats   `json:"stats"`
	SnapshotBytes int           `json:"snapshot_bytes"`
	SnapshotError string        `json:"snapshot_error,omitempty"`
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration_ns"`
}

// BuildRecorder persists build history.
type BuildRecorder interface {
	RecordBuild(ctx context.Context, rec BuildRecord) error
}

// Notifier announces that a new generation is serving.
type Notifier interface {
	IndexReplaced(ctx context.Context, rec BuildRecord) error
}

// Status is the engine state reported over HTTP.
type Status struct {
	Ready       bool        `json:"ready"`
	Generation  uint64      `json:"generation"`
	Fingerprint string      `json:"fingerprint,omitempty"`
	Origin      Origin      `json:"origin,omitempty"`
	LoadedAt    *time.Time  `json:"loaded_at,omitempty"`
	Stats       index.Stats `json:"stats"`
}

type Engine struct {
	cfg      config.IndexConfig
	store    snapshot.Store
	metrics  *metrics.Metrics
	recorder BuildRecorder
	notifier Notifier
	source   func(ctx context.Context) (*index.InvertedIndex, error)

	current    atomic.Pointer[Generation]
	installMu  sync.Mutex
	generation uint64
	group      singleflight.Group

	runMu  sync.RWMutex
	runCtx context.Context

	logger *slog.Logger
}

// NewEngine returns an engine with no index loaded. m may be nil.
func NewEngine(cfg config.IndexConfig, store snapshot.Store, m *metrics.Metrics) *Engine {
	e := &Engine{
		cfg:     cfg,
		store:   store,
		metrics: m,
		logger:  slog.Default().With("component", "indexer"),
	}
	e.source = func(ctx context.Context) (*index.InvertedIndex, error) {
		return ingestion.BuildFromFile(ctx, cfg.SourcePath, cfg.Limit)
	}
	return e
}

// SetBuildRecorder and SetNotifier must be called before Start.
func (e *Engine) SetBuildRecorder(r BuildRecorder) { e.recorder = r }

func (e *Engine) SetNotifier(n Notifier) { e.notifier = n }

// Start loads the first generation. Unless the config forces a rebuild it
// tries the snapshot first and falls back to ingesting the listing, which
// also rewrites the snapshot. ctx bounds every later rebuild as well.
func (e *Engine) Start(ctx context.Context) error {
	e.runMu.Lock()
	e.runCtx = ctx
	e.runMu.Unlock()

	if !e.cfg.RebuildOnStart {
		err := e.restore(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, apperrors.ErrNotFound) {
			e.logger.Info("no snapshot found, building from listing", "location", e.store.Location())
		} else {
			e.logger.Warn("snapshot unusable, building from listing",
				"location", e.store.Location(),
				"error", err,
			)
		}
	}
	_, err := e.Rebuild(ctx)
	return err
}

func (e *Engine) restore(ctx context.Context) error {
	start := time.Now()
	data, err := e.store.Load(ctx)
	if err != nil {
		e.observeSnapshot("load", err, 0)
		return err
	}
	idx, err := snapshot.Decode(data)
	if err != nil {
		e.observeSnapshot("load", err, 0)
		e.observeBuild(OriginSnapshot, err)
		return fmt.Errorf("decoding snapshot %s: %w", e.store.Location(), err)
	}
	e.observeSnapshot("load", nil, len(data))

	// A rebuild requested while the snapshot was loading is newer.
	gen, ok := e.install(idx, OriginSnapshot, true)
	if !ok {
		e.logger.Info("snapshot discarded, a rebuild finished first",
			"location", e.store.Location(),
			"generation", e.current.Load().Number,
		)
		return nil
	}
	rec := BuildRecord{
		Generation:    gen.Number,
		Fingerprint:   gen.Fingerprint,
		Origin:        OriginSnapshot,
		Source:        e.store.Location(),
		Stats:         idx.Stats(),
		SnapshotBytes: len(data),
		StartedAt:     start,
		Duration:      time.Since(start),
	}
	e.observeBuild(OriginSnapshot, nil)
	e.logger.Info("index restored from snapshot",
		"location", rec.Source,
		"generation", rec.Generation,
		"docs", rec.Stats.Docs,
		"terms", rec.Stats.Terms,
		"bytes", rec.SnapshotBytes,
		"duration_ms", rec.Duration.Milliseconds(),
	)
	e.announce(ctx, rec)
	return nil
}

// Rebuild ingests the listing into a fresh index, swaps it in and rewrites
// the snapshot. Concurrent callers share one pass. The pass runs under the
// context given to Start, so a caller that gives up early does not abort it.
// A snapshot write failure is logged and reported in the record; the new
// index still serves.
func (e *Engine) Rebuild(ctx context.Context) (BuildRecord, error) {
	ch := e.group.DoChan("rebuild", func() (interface{}, error) {
		return e.rebuild(e.buildContext(ctx))
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return BuildRecord{}, res.Err
		}
		return res.Val.(BuildRecord), nil
	case <-ctx.Done():
		return BuildRecord{}, fmt.Errorf("waiting for rebuild: %w", ctx.Err())
	}
}

func (e *Engine) buildContext(fallback context.Context) context.Context {
	e.runMu.RLock()
	defer e.runMu.RUnlock()
	if e.runCtx != nil {
		return e.runCtx
	}
	return context.WithoutCancel(fallback)
}

func (e *Engine) rebuild(ctx context.Context) (rec BuildRecord, err error) {
	start := time.Now()
	ctx, span := tracing.Start(ctx, "index.rebuild")
	defer func() {
		span.End(err)
		span.Log(ctx, e.logger)
	}()
	e.logger.Info("index rebuild started", "source", e.cfg.SourcePath, "limit", e.cfg.Limit, "trace_id", span.TraceID)

	ingestCtx, ingest := tracing.Start(ctx, "ingest")
	idx, err := e.source(ingestCtx)
	ingest.End(err)
	if err != nil {
		e.observeBuild(OriginRebuild, err)
		e.logger.Error("index rebuild failed", "source", e.cfg.SourcePath, "error", err)
		return BuildRecord{}, fmt.Errorf("rebuilding index: %w", err)
	}
	buildTime := time.Since(start)

	ingest.SetAttr("docs", idx.Stats().Docs)

	gen, _ := e.install(idx, OriginRebuild, false)
	rec = BuildRecord{
		Generation:  gen.Number,
		Fingerprint: gen.Fingerprint,
		Origin:      OriginRebuild,
		Source:      e.cfg.SourcePath,
		Stats:       idx.Stats(),
		StartedAt:   start,
	}

	saveCtx, save := tracing.Start(ctx, "snapshot.save")
	size, saveErr := snapshot.Persist(saveCtx, e.store, idx)
	save.SetAttr("bytes", size)
	save.End(saveErr)
	e.observeSnapshot("save", saveErr, size)
	if saveErr != nil {
		rec.SnapshotError = saveErr.Error()
		e.logger.Error("writing snapshot failed, serving unpersisted index",
			"location", e.store.Location(),
			"error", saveErr,
		)
	}
	rec.SnapshotBytes = size
	rec.Duration = time.Since(start)

	e.observeBuild(OriginRebuild, nil)
	if e.metrics != nil {
		e.metrics.IndexBuildDuration.Observe(buildTime.Seconds())
	}
	e.logger.Info("index rebuilt",
		"generation", rec.Generation,
		"docs", rec.Stats.Docs,
		"terms", rec.Stats.Terms,
		"term_doc_pairs", rec.Stats.TermDocPairs,
		"snapshot_bytes", rec.SnapshotBytes,
		"build_ms", buildTime.Milliseconds(),
		"duration_ms", rec.Duration.Milliseconds(),
	)
	announceCtx, announce := tracing.Start(ctx, "announce")
	e.announce(announceCtx, rec)
	announce.End(nil)
	return rec, nil
}

// install swaps idx in as the next generation. With onlyFirst set it
// installs nothing once any generation is serving and reports false.
func (e *Engine) install(idx *index.InvertedIndex, origin Origin, onlyFirst bool) (*Generation, bool) {
	fingerprint := idx.Fingerprint()

	e.installMu.Lock()
	defer e.installMu.Unlock()
	if onlyFirst && e.current.Load() != nil {
		return nil, false
	}
	e.generation++
	gen := &Generation{
		Index:       idx,
		Number:      e.generation,
		Fingerprint: fingerprint,
		Origin:      origin,
		LoadedAt:    time.Now().UTC(),
	}
	e.current.Store(gen)
	if e.metrics != nil {
		stats := idx.Stats()
		e.metrics.IndexGeneration.Set(float64(gen.Number))
		e.metrics.IndexDocuments.Set(float64(stats.Docs))
		e.metrics.IndexTerms.Set(float64(stats.Terms))
	}
	return gen, true
}

// announce hands rec to the recorder and notifier. Their failures are
// logged only.
func (e *Engine) announce(ctx context.Context, rec BuildRecord) {
	if e.recorder != nil {
		if err := e.recorder.RecordBuild(ctx, rec); err != nil {
			e.logger.Warn("recording build failed", "generation", rec.Generation, "error", err)
		}
	}
	if e.notifier != nil {
		if err := e.notifier.IndexReplaced(ctx, rec); err != nil {
			e.logger.Warn("announcing new index failed", "generation", rec.Generation, "error", err)
		}
	}
}

// Current returns the serving generation, or nil before the first load.
func (e *Engine) Current() *Generation {
	return e.current.Load()
}

// Search runs a query against this generation. limit 0 returns every match.
func (g *Generation) Search(terms []string, limit int) (*executor.SearchResult, error) {
	if limit < 0 {
		return nil, fmt.Errorf("limit %d: %w", limit, apperrors.ErrArgument)
	}
	return executor.SearchTop(g.Index, terms, limit), nil
}

// Search runs a query against the serving generation and reports which
// generation answered.
func (e *Engine) Search(ctx context.Context, terms []string, limit int) (*executor.SearchResult, uint64, error) {
	gen := e.current.Load()
	if gen == nil {
		return nil, 0, apperrors.ErrNotReady
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	result, err := gen.Search(terms, limit)
	if err != nil {
		return nil, 0, err
	}
	return result, gen.Number, nil
}

// Status describes the serving generation.
func (e *Engine) Status() Status {
	gen := e.current.Load()
	if gen == nil {
		return Status{}
	}
	loadedAt := gen.LoadedAt
	return Status{
		Ready:       true,
		Generation:  gen.Number,
		Fingerprint: gen.Fingerprint,
		Origin:      gen.Origin,
		LoadedAt:    &loadedAt,
		Stats:       gen.Index.Stats(),
	}
}

// Warmup runs one query and logs the top matches, so a misbuilt index shows
// up in the start-up log.
func (e *Engine) Warmup(ctx context.Context, terms []string) {
	if len(terms) == 0 {
		return
	}
	start := time.Now()
	result, _, err := e.Search(ctx, terms, 5)
	if err != nil {
		e.logger.Warn("warmup query failed", "terms", terms, "error", err)
		return
	}
	top := make([]string, 0, len(result.Matches))
	for _, m := range result.Matches {
		top = append(top, fmt.Sprintf("%s (%.3f)", m.Document, m.Score))
	}
	e.logger.Info("warmup query",
		"terms", terms,
		"total", result.Total,
		"top", top,
		"duration_us", time.Since(start).Microseconds(),
	)
}

// Close releases the snapshot store.
func (e *Engine) Close() error {
	return e.store.Close()
}

func (e *Engine) observeBuild(origin Origin, err error) {
	if e.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	e.metrics.IndexBuildsTotal.WithLabelValues(string(origin), status).Inc()
}

func (e *Engine) observeSnapshot(op string, err error, size int) {
	if e.metrics == nil {
		return
	}
	status := "ok"
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		status = "missing"
	case err != nil:
		status = "error"
	default:
		e.metrics.SnapshotBytes.Set(float64(size))
	}
	e.metrics.SnapshotOpsTotal.WithLabelValues(op, status).Inc()
}
