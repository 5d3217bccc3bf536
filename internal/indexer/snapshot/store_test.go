package snapshot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/zip-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/zip-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/zip-search/pkg/errors"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	bolt, err := OpenBoltStore(filepath.Join(dir, "bolt", "index.db"), "snapshots")
	if err != nil {
		t.Fatalf("OpenBoltStore: %v", err)
	}
	t.Cleanup(func() { bolt.Close() })
	return map[string]Store{
		"file": NewFileStore(filepath.Join(dir, "file", "index.zsx")),
		"bolt": bolt,
	}
}

func TestStoreMissingSnapshot(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := Restore(context.Background(), s)
			if !errors.Is(err, apperrors.ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestStorePersistRestore(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			want := sampleIndex()
			size, err := Persist(ctx, s, want)
			if err != nil {
				t.Fatalf("Persist: %v", err)
			}
			if size <= HeaderSize+FooterSize {
				t.Errorf("size = %d", size)
			}
			got, err := Restore(ctx, s)
			if err != nil {
				t.Fatalf("Restore: %v", err)
			}
			assertIndexEqual(t, got, want)
		})
	}
}

func TestStoreSaveReplacesWholesale(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := Persist(ctx, s, sampleIndex()); err != nil {
				t.Fatal(err)
			}
			empty := index.NewBuilder().Finish()
			if _, err := Persist(ctx, s, empty); err != nil {
				t.Fatal(err)
			}
			got, err := Restore(ctx, s)
			if err != nil {
				t.Fatal(err)
			}
			assertIndexEqual(t, got, empty)
		})
	}
}

func TestFileStoreLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(filepath.Join(dir, "index.zsx"))
	if _, err := Persist(context.Background(), s, sampleIndex()); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "index.zsx" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("directory holds %v", names)
	}
}

func TestFileStoreCorruptSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.zsx")
	if err := os.WriteFile(path, []byte("not a snapshot"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Restore(context.Background(), NewFileStore(path))
	if !errors.Is(err, apperrors.ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestNewStore(t *testing.T) {
	dir := t.TempDir()
	fileStore, err := NewStore(config.SnapshotConfig{Backend: "file", Path: filepath.Join(dir, "a.zsx")})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := fileStore.(*FileStore); !ok {
		t.Errorf("file backend returned %T", fileStore)
	}
	boltStore, err := NewStore(config.SnapshotConfig{Backend: "bolt", Path: filepath.Join(dir, "b.db"), BoltBucket: "snap"})
	if err != nil {
		t.Fatal(err)
	}
	defer boltStore.Close()
	if _, ok := boltStore.(*BoltStore); !ok {
		t.Errorf("bolt backend returned %T", boltStore)
	}
	if _, err := NewStore(config.SnapshotConfig{Backend: "s3"}); !errors.Is(err, apperrors.ErrArgument) {
		t.Errorf("expected ErrArgument, got %v", err)
	}
}
