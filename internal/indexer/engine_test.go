package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Adithya-Monish-Kumar-K/zip-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/zip-search/internal/indexer/snapshot"
	"github.com/Adithya-Monish-Kumar-K/zip-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/zip-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/zip-search/pkg/metrics"
)

const listing = `{"name": "lombok-1.18.30.zip", "files": ["lombok/launch/Main.class", "AUTHORS", "README.md"]}
{"name": "guava-32.zip", "files": ["com/google/common/base/Strings.class", "README.md"]}
{"name": "empty.zip", "files": []}
`

type recorder struct {
	mu   sync.Mutex
	recs []BuildRecord
}

func (r *recorder) RecordBuild(_ context.Context, rec BuildRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
	return nil
}

func (r *recorder) IndexReplaced(ctx context.Context, rec BuildRecord) error {
	return r.RecordBuild(ctx, rec)
}

func (r *recorder) all() []BuildRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]BuildRecord(nil), r.recs...)
}

func setup(t *testing.T) (config.IndexConfig, *snapshot.FileStore) {
	t.Helper()
	dir := t.TempDir()
	src := filepath.Join(dir, "listing.ndjson")
	if err := os.WriteFile(src, []byte(listing), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := config.IndexConfig{SourcePath: src}
	return cfg, snapshot.NewFileStore(filepath.Join(dir, "index.zsx"))
}

func TestSearchBeforeStartNotReady(t *testing.T) {
	cfg, store := setup(t)
	e := NewEngine(cfg, store, nil)
	if _, _, err := e.Search(context.Background(), []string{"lombok"}, 0); !errors.Is(err, apperrors.ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	if e.Status().Ready {
		t.Fatal("status reports ready before Start")
	}
}

func TestStartBuildsThenRestores(t *testing.T) {
	cfg, store := setup(t)
	ctx := context.Background()

	first := NewEngine(cfg, store, nil)
	if err := first.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := first.Current().Origin; got != OriginRebuild {
		t.Fatalf("first origin = %s, want rebuild", got)
	}
	if _, err := os.Stat(store.Location()); err != nil {
		t.Fatalf("snapshot not written: %v", err)
	}

	second := NewEngine(cfg, store, nil)
	if err := second.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := second.Current().Origin; got != OriginSnapshot {
		t.Fatalf("second origin = %s, want snapshot", got)
	}

	terms := []string{"lombok", "AUTHORS", "README.md"}
	a, _, err := first.Search(ctx, terms, 0)
	if err != nil {
		t.Fatal(err)
	}
	b, _, err := second.Search(ctx, terms, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("restored index answers differently:\n built    %+v\n restored %+v", a, b)
	}
	if a.Total != 2 || a.Matches[0].Document != "lombok-1.18.30.zip" || a.Matches[0].Score != 1 {
		t.Fatalf("unexpected result %+v", a)
	}
}

func TestStartRebuildsOnCorruptSnapshot(t *testing.T) {
	cfg, store := setup(t)
	if err := os.WriteFile(store.Location(), []byte("not a snapshot"), 0o644); err != nil {
		t.Fatal(err)
	}
	e := NewEngine(cfg, store, nil)
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if e.Current().Origin != OriginRebuild {
		t.Fatalf("origin = %s, want rebuild", e.Current().Origin)
	}
	if _, err := snapshot.Restore(context.Background(), store); err != nil {
		t.Fatalf("snapshot not rewritten: %v", err)
	}
}

func TestStartForcedRebuildIgnoresSnapshot(t *testing.T) {
	cfg, store := setup(t)
	ctx := context.Background()
	if err := NewEngine(cfg, store, nil).Start(ctx); err != nil {
		t.Fatal(err)
	}
	cfg.RebuildOnStart = true
	e := NewEngine(cfg, store, nil)
	if err := e.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if e.Current().Origin != OriginRebuild {
		t.Fatalf("origin = %s, want rebuild", e.Current().Origin)
	}
}

func TestStartFailsWithoutSnapshotOrListing(t *testing.T) {
	_, store := setup(t)
	cfg := config.IndexConfig{SourcePath: filepath.Join(t.TempDir(), "missing.ndjson")}
	e := NewEngine(cfg, store, nil)
	err := e.Start(context.Background())
	if !errors.Is(err, apperrors.ErrIO) {
		t.Fatalf("expected ErrIO, got %v", err)
	}
	if e.Current() != nil {
		t.Fatal("engine serving after failed start")
	}
}

func TestRebuildFailureKeepsServingGeneration(t *testing.T) {
	cfg, store := setup(t)
	e := NewEngine(cfg, store, nil)
	ctx := context.Background()
	if err := e.Start(ctx); err != nil {
		t.Fatal(err)
	}
	before := e.Current()

	e.source = func(context.Context) (*index.InvertedIndex, error) {
		return nil, apperrors.ErrParse
	}
	if _, err := e.Rebuild(ctx); !errors.Is(err, apperrors.ErrParse) {
		t.Fatalf("expected ErrParse, got %v", err)
	}
	if e.Current() != before {
		t.Fatal("failed rebuild replaced the serving generation")
	}
}

func TestRebuildSwapsGenerationAndNotifies(t *testing.T) {
	cfg, store := setup(t)
	rec := &recorder{}
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	e := NewEngine(cfg, store, m)
	e.SetBuildRecorder(rec)
	ctx := context.Background()
	if err := e.Start(ctx); err != nil {
		t.Fatal(err)
	}
	old := e.Current()

	b := index.NewBuilder()
	b.Add("only.zip", []string{"x/y"})
	next := b.Finish()
	e.source = func(context.Context) (*index.InvertedIndex, error) { return next, nil }

	got, err := e.Rebuild(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.Generation != old.Number+1 || e.Current().Index != next {
		t.Fatalf("generation %d not swapped in", got.Generation)
	}
	if got.SnapshotBytes == 0 || got.SnapshotError != "" {
		t.Fatalf("snapshot not persisted: %+v", got)
	}

	// the old generation is untouched for readers that still hold it
	if old.Index.Stats().Docs != 3 {
		t.Fatalf("old generation mutated: %+v", old.Index.Stats())
	}

	recs := rec.all()
	if len(recs) != 2 || recs[1].Generation != got.Generation {
		t.Fatalf("recorded builds = %+v", recs)
	}
	if v := testutil.ToFloat64(m.IndexGeneration); v != float64(got.Generation) {
		t.Fatalf("generation gauge = %v", v)
	}
	if v := testutil.ToFloat64(m.IndexBuildsTotal.WithLabelValues("rebuild", "ok")); v != 2 {
		t.Fatalf("rebuild counter = %v, want 2", v)
	}
	if v := testutil.ToFloat64(m.IndexDocuments); v != 1 {
		t.Fatalf("documents gauge = %v, want 1", v)
	}
}

func TestConcurrentRebuildsSharePass(t *testing.T) {
	cfg, store := setup(t)
	e := NewEngine(cfg, store, nil)

	release := make(chan struct{})
	var calls atomic.Int32
	e.source = func(context.Context) (*index.InvertedIndex, error) {
		calls.Add(1)
		<-release
		return index.NewBuilder().Finish(), nil
	}

	const callers = 4
	var started, done sync.WaitGroup
	gens := make([]uint64, callers)
	for i := 0; i < callers; i++ {
		started.Add(1)
		done.Add(1)
		go func(i int) {
			defer done.Done()
			started.Done()
			rec, err := e.Rebuild(context.Background())
			if err != nil {
				t.Errorf("Rebuild: %v", err)
				return
			}
			gens[i] = rec.Generation
		}(i)
	}
	started.Wait()
	time.Sleep(50 * time.Millisecond)
	close(release)
	done.Wait()

	if n := calls.Load(); n != 1 {
		t.Fatalf("source ran %d times, want 1", n)
	}
	for _, g := range gens {
		if g != 1 {
			t.Fatalf("generations = %v, want all 1", gens)
		}
	}
}

func TestRebuildCallerMayGiveUp(t *testing.T) {
	cfg, store := setup(t)
	e := NewEngine(cfg, store, nil)
	release := make(chan struct{})
	e.source = func(context.Context) (*index.InvertedIndex, error) {
		<-release
		return index.NewBuilder().Finish(), nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Rebuild(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	close(release)

	deadline := time.Now().Add(2 * time.Second)
	for e.Current() == nil && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if e.Current() == nil {
		t.Fatal("abandoned rebuild never completed")
	}
}

func TestSearchArguments(t *testing.T) {
	cfg, store := setup(t)
	e := NewEngine(cfg, store, nil)
	ctx := context.Background()
	if err := e.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if _, _, err := e.Search(ctx, []string{"README.md"}, -1); !errors.Is(err, apperrors.ErrArgument) {
		t.Fatalf("expected ErrArgument, got %v", err)
	}
	res, gen, err := e.Search(ctx, []string{"README.md"}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if gen != 1 || res.Total != 2 || len(res.Matches) != 1 {
		t.Fatalf("Search = %+v gen %d", res, gen)
	}
	if res.Matches[0].Document != "lombok-1.18.30.zip" {
		t.Fatalf("tie not broken by ingestion order: %+v", res.Matches)
	}
}

type slowStore struct {
	snapshot.Store
	loading chan struct{}
	release chan struct{}
}

func (s *slowStore) Load(ctx context.Context) ([]byte, error) {
	close(s.loading)
	<-s.release
	return s.Store.Load(ctx)
}

func TestRestoreDoesNotReplaceNewerRebuild(t *testing.T) {
	cfg, files := setup(t)
	ctx := context.Background()
	if err := NewEngine(cfg, files, nil).Start(ctx); err != nil {
		t.Fatal(err)
	}

	store := &slowStore{Store: files, loading: make(chan struct{}), release: make(chan struct{})}
	e := NewEngine(cfg, store, nil)
	b := index.NewBuilder()
	b.Add("fresh.zip", []string{"x/y"})
	fresh := b.Finish()
	e.source = func(context.Context) (*index.InvertedIndex, error) { return fresh, nil }

	started := make(chan error, 1)
	go func() { started <- e.Start(ctx) }()
	<-store.loading

	if _, err := e.Rebuild(ctx); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	close(store.release)
	if err := <-started; err != nil {
		t.Fatalf("Start: %v", err)
	}

	gen := e.Current()
	if gen.Index != fresh || gen.Origin != OriginRebuild || gen.Number != 1 {
		t.Fatalf("serving %s generation %d, want the rebuilt index", gen.Origin, gen.Number)
	}
}

func TestFingerprintSurvivesSnapshot(t *testing.T) {
	cfg, store := setup(t)
	ctx := context.Background()
	built := NewEngine(cfg, store, nil)
	if err := built.Start(ctx); err != nil {
		t.Fatal(err)
	}
	restored := NewEngine(cfg, store, nil)
	if err := restored.Start(ctx); err != nil {
		t.Fatal(err)
	}
	a, b := built.Current(), restored.Current()
	if b.Origin != OriginSnapshot || a.Fingerprint == "" || a.Fingerprint != b.Fingerprint {
		t.Fatalf("fingerprints %q (%s) and %q (%s)", a.Fingerprint, a.Origin, b.Fingerprint, b.Origin)
	}
}
