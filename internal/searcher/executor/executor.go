// Package executor answers term queries against an immutable index.
package executor

import (
	"github.com/Adithya-Monish-Kumar-K/zip-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/zip-search/internal/searcher/ranker"
)

// SearchResult is the ranked match list plus the number of matching
// archives. Total counts every match even when Matches was truncated.
type SearchResult struct {
	Matches []ranker.SearchMatch `json:"matches"`
	Total   int                  `json:"total"`
}

// Search counts, for every archive, how many posting entries of the query
// terms point at it and ranks archives by count / len(terms). Unknown terms
// contribute nothing. An empty term list yields an empty result.
//
// Matches are per document, not per name: archives ingested twice under the
// same name are separate documents and can each appear in the result.
//
// Search only reads idx and is safe to call concurrently.
func Search(idx *index.InvertedIndex, terms []string) *SearchResult {
	return SearchTop(idx, terms, 0)
}

// SearchTop is Search keeping only the best limit matches when limit > 0.
func SearchTop(idx *index.InvertedIndex, terms []string, limit int) *SearchResult {
	if len(terms) == 0 {
		return &SearchResult{Matches: []ranker.SearchMatch{}}
	}
	counts := Count(idx, terms)
	scored := ranker.Score(counts, len(terms))
	total := len(scored)
	ordered := ranker.Order(scored, limit)
	return &SearchResult{
		Matches: ranker.Resolve(ordered, idx.Docs),
		Total:   total,
	}
}

// Count tallies posting entries per document. A document listed twice in
// one posting list is counted twice.
func Count(idx *index.InvertedIndex, terms []string) map[index.DocID]int {
	counts := make(map[index.DocID]int)
	for _, term := range terms {
		for _, id := range idx.Lookup(term) {
			counts[id]++
		}
	}
	return counts
}
