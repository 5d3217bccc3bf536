// Package ingestion streams archive listings, one JSON record per line,
// into the index builder.
package ingestion

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/Adithya-Monish-Kumar-K/zip-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/zip-search/internal/ingestion/validator"
	apperrors "github.com/Adithya-Monish-Kumar-K/zip-search/pkg/errors"
)

const (
	initialLineBuffer = 1 << 20
	maxLineSize       = 64 << 20
)

// Reader is an index.RecordSource over newline-delimited JSON.
type Reader struct {
	scanner *bufio.Scanner
	line    int
}

func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, initialLineBuffer), maxLineSize)
	return &Reader{scanner: scanner}
}

// Next returns the next record, io.EOF after the last one, or an error
// naming the offending line. Every line must hold a record, so a blank line
// is a parse error and a record limit counts lines.
func (r *Reader) Next() (index.Record, error) {
	if r.scanner.Scan() {
		r.line++
		line := bytes.TrimSpace(r.scanner.Bytes())
		if len(line) == 0 {
			return index.Record{}, fmt.Errorf("line %d: empty record: %w", r.line, apperrors.ErrParse)
		}
		rec, err := validator.ValidateRecord(line)
		if err != nil {
			return index.Record{}, fmt.Errorf("line %d: %w", r.line, err)
		}
		return rec, nil
	}
	if err := r.scanner.Err(); err != nil {
		if err == bufio.ErrTooLong {
			return index.Record{}, fmt.Errorf("line %d exceeds %d bytes: %w", r.line+1, maxLineSize, apperrors.ErrParse)
		}
		return index.Record{}, fmt.Errorf("reading line %d: %v: %w", r.line+1, err, apperrors.ErrIO)
	}
	return index.Record{}, io.EOF
}

// Line is the number of lines consumed so far.
func (r *Reader) Line() int {
	return r.line
}

// FileSource is a Reader that owns its file handle.
type FileSource struct {
	*Reader
	file *os.File
}

func OpenFile(path string) (*FileSource, error) {
	if path == "" {
		return nil, fmt.Errorf("source path is empty: %w", apperrors.ErrArgument)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening source %s: %v: %w", path, err, apperrors.ErrIO)
	}
	return &FileSource{Reader: NewReader(f), file: f}, nil
}

func (s *FileSource) Close() error {
	return s.file.Close()
}

// BuildFromFile runs one ingestion pass over the listing at path. The file
// is closed on every return path.
func BuildFromFile(ctx context.Context, path string, limit int) (*index.InvertedIndex, error) {
	start := time.Now()
	src, err := OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	idx, err := index.Build(ctx, src, limit)
	if err != nil {
		return nil, fmt.Errorf("ingesting %s: %w", path, err)
	}
	stats := idx.Stats()
	slog.Default().With("component", "ingestion").Info("listing ingested",
		"source", path,
		"docs", stats.Docs,
		"terms", stats.Terms,
		"term_doc_pairs", stats.TermDocPairs,
		"lines", src.Line(),
		"duration_s", fmt.Sprintf("%.2f", time.Since(start).Seconds()),
	)
	return idx, nil
}
