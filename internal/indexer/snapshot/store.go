package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/Adithya-Monish-Kumar-K/zip-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/zip-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/zip-search/pkg/errors"
)

// Store holds the single current snapshot blob. Save replaces it wholesale.
type Store interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
	Location() string
	Close() error
}

// NewStore opens the backend named by cfg.Backend.
func NewStore(cfg config.SnapshotConfig) (Store, error) {
	switch cfg.Backend {
	case "", "file":
		return NewFileStore(cfg.Path), nil
	case "bolt":
		return OpenBoltStore(cfg.Path, cfg.BoltBucket)
	default:
		return nil, fmt.Errorf("unknown snapshot backend %q: %w", cfg.Backend, apperrors.ErrArgument)
	}
}

// Restore loads and decodes the current snapshot.
func Restore(ctx context.Context, s Store) (*index.InvertedIndex, error) {
	data, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	idx, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decoding snapshot %s: %w", s.Location(), err)
	}
	return idx, nil
}

// Persist encodes idx and replaces the stored snapshot, returning the blob
// size in bytes.
func Persist(ctx context.Context, s Store, idx *index.InvertedIndex) (int, error) {
	data, err := Encode(idx)
	if err != nil {
		return 0, fmt.Errorf("encoding snapshot: %w", err)
	}
	if err := s.Save(ctx, data); err != nil {
		return 0, err
	}
	return len(data), nil
}

// FileStore keeps the snapshot in one file at a fixed path.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Location() string {
	return s.path
}

func (s *FileStore) Load(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("snapshot %s: %w", s.path, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("reading snapshot %s: %v: %w", s.path, err, apperrors.ErrIO)
	}
	return data, nil
}

// Save writes to a temporary file beside the target and renames it into
// place, so readers see either the old or the new snapshot.
func (s *FileStore) Save(ctx context.Context, data []byte) (err error) {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating snapshot directory: %v: %w", err, apperrors.ErrIO)
	}
	tmpPath := fmt.Sprintf("%s.%d.tmp", s.path, time.Now().UnixNano())
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp snapshot file: %v: %w", err, apperrors.ErrIO)
	}
	defer func() {
		f.Close()
		if err != nil {
			os.Remove(tmpPath)
		}
	}()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("writing snapshot: %v: %w", err, apperrors.ErrIO)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing snapshot file: %v: %w", err, apperrors.ErrIO)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing snapshot file: %v: %w", err, apperrors.ErrIO)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("renaming snapshot file: %v: %w", err, apperrors.ErrIO)
	}
	return nil
}

func (s *FileStore) Close() error {
	return nil
}

var currentKey = []byte("current")

// BoltStore keeps the snapshot under one key of a bbolt bucket. Save runs
// in a single read-write transaction.
type BoltStore struct {
	db     *bolt.DB
	bucket []byte
}

func OpenBoltStore(path, bucket string) (*BoltStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bolt bucket name is empty: %w", apperrors.ErrArgument)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating snapshot directory: %v: %w", err, apperrors.ErrIO)
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt snapshot store %s: %v: %w", path, err, apperrors.ErrIO)
	}
	return &BoltStore{db: db, bucket: []byte(bucket)}, nil
}

func (s *BoltStore) Location() string {
	return s.db.Path() + "#" + string(s.bucket)
}

func (s *BoltStore) Load(ctx context.Context) ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return nil
		}
		if v := b.Get(currentKey); v != nil {
			// v is only valid inside the transaction.
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading bolt snapshot: %v: %w", err, apperrors.ErrIO)
	}
	if data == nil {
		return nil, fmt.Errorf("snapshot %s: %w", s.Location(), apperrors.ErrNotFound)
	}
	return data, nil
}

func (s *BoltStore) Save(ctx context.Context, data []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(s.bucket)
		if err != nil {
			return err
		}
		return b.Put(currentKey, data)
	})
	if err != nil {
		return fmt.Errorf("writing bolt snapshot: %v: %w", err, apperrors.ErrIO)
	}
	return nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
