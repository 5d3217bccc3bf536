package executor

import (
	"fmt"
	"reflect"
	"sync"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/zip-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/zip-search/internal/searcher/ranker"
)

func twoDocIndex() *index.InvertedIndex {
	b := index.NewBuilder()
	b.Add("A", []string{"a/b", "a/c"})
	b.Add("B", []string{"a/b"})
	return b.Finish()
}

func TestSearchSharedSegment(t *testing.T) {
	got := Search(twoDocIndex(), []string{"a"})
	want := &SearchResult{
		Matches: []ranker.SearchMatch{{Document: "A", Score: 1}, {Document: "B", Score: 1}},
		Total:   2,
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Search(a) = %+v, want %+v", got, want)
	}
}

func TestSearchSelectiveSegment(t *testing.T) {
	got := Search(twoDocIndex(), []string{"c"})
	want := &SearchResult{
		Matches: []ranker.SearchMatch{{Document: "A", Score: 1}},
		Total:   1,
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Search(c) = %+v, want %+v", got, want)
	}

	got = Search(twoDocIndex(), []string{"b"})
	if got.Total != 2 {
		t.Fatalf("Search(b) total = %d, want 2", got.Total)
	}
}

func TestSearchEmptyTerms(t *testing.T) {
	for _, terms := range [][]string{nil, {}} {
		got := Search(twoDocIndex(), terms)
		if got.Total != 0 || len(got.Matches) != 0 {
			t.Fatalf("Search(%v) = %+v, want empty", terms, got)
		}
		if got.Matches == nil {
			t.Fatal("Matches must be an empty slice, not nil")
		}
	}
}

func TestSearchUnknownTerms(t *testing.T) {
	idx := twoDocIndex()
	got := Search(idx, []string{"zzz", "c"})
	want := []ranker.SearchMatch{{Document: "A", Score: 0.5}}
	if !reflect.DeepEqual(got.Matches, want) || got.Total != 1 {
		t.Fatalf("Search = %+v, want %v", got, want)
	}

	got = Search(idx, []string{"zzz", "yyy"})
	if got.Total != 0 || len(got.Matches) != 0 {
		t.Fatalf("all-unknown query returned %+v", got)
	}
}

func TestSearchPartialScores(t *testing.T) {
	b := index.NewBuilder()
	b.Add("lombok.zip", []string{"lombok/AUTHORS", "README.md"})
	b.Add("guava.zip", []string{"README.md"})
	b.Add("empty.zip", nil)
	idx := b.Finish()

	got := Search(idx, []string{"lombok", "AUTHORS", "README.md"})
	want := []ranker.SearchMatch{
		{Document: "lombok.zip", Score: 1},
		{Document: "guava.zip", Score: 1.0 / 3.0},
	}
	if !reflect.DeepEqual(got.Matches, want) {
		t.Fatalf("matches = %+v, want %+v", got.Matches, want)
	}
}

func TestSearchTieBreakByIngestionOrder(t *testing.T) {
	b := index.NewBuilder()
	for _, name := range []string{"z.zip", "m.zip", "a.zip"} {
		b.Add(name, []string{"common/x"})
	}
	idx := b.Finish()
	for i := 0; i < 20; i++ {
		got := Search(idx, []string{"common"})
		names := make([]string, 0, len(got.Matches))
		for _, m := range got.Matches {
			names = append(names, m.Document)
		}
		if !reflect.DeepEqual(names, []string{"z.zip", "m.zip", "a.zip"}) {
			t.Fatalf("tie order = %v, want ingestion order", names)
		}
	}
}

func TestSearchRepeatedTermCountsTwice(t *testing.T) {
	got := Search(twoDocIndex(), []string{"c", "c"})
	if len(got.Matches) != 1 || got.Matches[0].Score != 1 {
		t.Fatalf("matches = %+v", got.Matches)
	}
}

func TestSearchCountsNonAdjacentDuplicatePostings(t *testing.T) {
	idx := &index.InvertedIndex{
		Postings: map[index.Term]index.PostingList{"t": {0, 1, 0}},
		IDF:      map[index.Term]float64{"t": 0},
		DocCount: 2,
		Docs:     index.DocTableFromNames([]string{"first", "second"}),
	}
	got := Search(idx, []string{"t"})
	want := []ranker.SearchMatch{{Document: "first", Score: 2}, {Document: "second", Score: 1}}
	if !reflect.DeepEqual(got.Matches, want) {
		t.Fatalf("matches = %+v, want %+v", got.Matches, want)
	}
}

func TestSearchListsDuplicateNamesSeparately(t *testing.T) {
	b := index.NewBuilder()
	b.Add("dup.zip", []string{"a/x"})
	b.Add("other.zip", []string{"b"})
	b.Add("dup.zip", []string{"a/y"})
	got := Search(b.Finish(), []string{"a"})
	want := &SearchResult{
		Matches: []ranker.SearchMatch{{Document: "dup.zip", Score: 1}, {Document: "dup.zip", Score: 1}},
		Total:   2,
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Search(a) = %+v, want %+v", got, want)
	}
}

func TestSearchTopKeepsTotal(t *testing.T) {
	b := index.NewBuilder()
	for i := 0; i < 50; i++ {
		paths := []string{"shared/x"}
		if i%10 == 0 {
			paths = append(paths, "rare/y")
		}
		b.Add(fmt.Sprintf("doc-%02d", i), paths)
	}
	idx := b.Finish()

	full := Search(idx, []string{"shared", "rare"})
	top := SearchTop(idx, []string{"shared", "rare"}, 7)
	if top.Total != full.Total || full.Total != 50 {
		t.Fatalf("totals = %d / %d, want 50", top.Total, full.Total)
	}
	if !reflect.DeepEqual(top.Matches, full.Matches[:7]) {
		t.Fatalf("top 7 = %+v, want prefix %+v", top.Matches, full.Matches[:7])
	}
}

func TestSearchConcurrentReaders(t *testing.T) {
	idx := twoDocIndex()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if got := Search(idx, []string{"a", "c"}); got.Total != 2 {
					t.Errorf("total = %d", got.Total)
					return
				}
			}
		}()
	}
	wg.Wait()
}
