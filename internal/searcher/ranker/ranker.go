// Package ranker turns per-document match counts into scored, ordered
// search matches.
package ranker

import (
	"sort"

	"github.com/Adithya-Monish-Kumar-K/zip-search/internal/indexer/index"
)

// SearchMatch is one archive in a result list.
type SearchMatch struct {
	Document string  `json:"document"`
	Score    float64 `json:"score"`
}

// Scored pairs a match with the id it was resolved from; the id is the
// tie-breaker for equal scores.
type Scored struct {
	DocID index.DocID
	Score float64
}

// Score divides each count by the number of query terms. A document that
// matches every term once scores 1.0. numTerms must be positive.
func Score(counts map[index.DocID]int, numTerms int) []Scored {
	scored := make([]Scored, 0, len(counts))
	for id, n := range counts {
		if n == 0 {
			continue
		}
		scored = append(scored, Scored{
			DocID: id,
			Score: float64(n) / float64(numTerms),
		})
	}
	return scored
}

// before orders by score descending, then by ascending DocID, i.e. the
// earlier-ingested archive wins a tie.
func before(a, b Scored) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.DocID < b.DocID
}

// Order sorts scored in place. With limit > 0 only the best limit entries
// are kept, selected with a bounded heap instead of a full sort.
func Order(scored []Scored, limit int) []Scored {
	if limit > 0 && limit < len(scored) {
		return topK(scored, limit)
	}
	sort.Slice(scored, func(i, j int) bool {
		return before(scored[i], scored[j])
	})
	return scored
}

// Resolve maps ordered ids to their archive names.
func Resolve(scored []Scored, docs *index.DocTable) []SearchMatch {
	matches := make([]SearchMatch, 0, len(scored))
	for _, s := range scored {
		name, _ := docs.Name(s.DocID)
		matches = append(matches, SearchMatch{Document: name, Score: s.Score})
	}
	return matches
}
