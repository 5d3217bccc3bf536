// Package index holds the in-memory inverted index over archive listings:
// term to posting list, per-term IDF, and the document-id table.
package index

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/Adithya-Monish-Kumar-K/zip-search/internal/indexer/tokenizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/zip-search/pkg/errors"
)

// Record is one archive listing: the archive name and the paths of the
// entries inside it.
type Record struct {
	Name  string   `json:"name"`
	Files []string `json:"files"`
}

// RecordSource yields records until it returns io.EOF.
type RecordSource interface {
	Next() (Record, error)
}

// Builder accumulates postings for one ingestion pass. It is not safe for
// concurrent use and is discarded after Finish.
type Builder struct {
	postings map[Term]PostingList
	docs     *DocTable
	finished bool
}

func NewBuilder() *Builder {
	return &Builder{
		postings: make(map[Term]PostingList),
		docs:     NewDocTable(0),
	}
}

// Add assigns the next DocID to name and records it against every segment
// of every path.
func (b *Builder) Add(name string, paths []string) DocID {
	if b.finished {
		panic("index: Add called after Finish")
	}
	id := b.docs.Assign(name)
	for _, path := range paths {
		tokenizer.Each(path, func(term string) {
			b.appendPosting(term, id)
		})
	}
	return id
}

// appendPosting skips id only when it equals the list's last element, so
// the list is not a set. Within one Add call this suppresses every repeat.
func (b *Builder) appendPosting(term Term, id DocID) {
	list := b.postings[term]
	if n := len(list); n > 0 && list[n-1] == id {
		return
	}
	b.postings[term] = append(list, id)
}

// Finish computes IDF over the complete postings and returns the index.
func (b *Builder) Finish() *InvertedIndex {
	b.finished = true
	docCount := b.docs.Len()
	return &InvertedIndex{
		Postings: b.postings,
		IDF:      ComputeIDF(b.postings, docCount),
		DocCount: docCount,
		Docs:     b.docs,
	}
}

// ComputeIDF returns ln((N - df + 0.5) / (df + 0.5)) for every term, where N
// is docCount and df is the posting list length.
func ComputeIDF(postings map[Term]PostingList, docCount int) map[Term]float64 {
	n := float64(docCount)
	idf := make(map[Term]float64, len(postings))
	for term, list := range postings {
		df := float64(len(list))
		idf[term] = math.Log((n - df + 0.5) / (df + 0.5))
	}
	return idf
}

// Build drains src into a new index, reading at most limit records when
// limit is positive. Any error from src aborts the pass and no index is
// returned.
func Build(ctx context.Context, src RecordSource, limit int) (*InvertedIndex, error) {
	if limit < 0 {
		return nil, fmt.Errorf("record limit %d: %w", limit, apperrors.ErrArgument)
	}
	b := NewBuilder()
	for limit == 0 || b.docs.Len() < limit {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("building index: %w", err)
		}
		rec, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("building index after %d records: %w", b.docs.Len(), err)
		}
		b.Add(rec.Name, rec.Files)
	}
	return b.Finish(), nil
}
