package index

// Term is one path segment of an archive entry.
type Term = string

// DocID is the dense handle assigned to an archive in ingestion order,
// starting at 0.
type DocID uint32

// PostingList holds the documents recorded against one term in append
// order. Only adjacent duplicates are suppressed.
type PostingList []DocID

// InvertedIndex is the immutable result of one ingestion pass. Nothing
// mutates it after Builder.Finish or snapshot decoding returns it, so any
// number of goroutines may read it without locking.
type InvertedIndex struct {
	Postings map[Term]PostingList
	IDF      map[Term]float64
	DocCount int
	Docs     *DocTable
}

// Stats summarises an index for start-up logging and the stats endpoint.
type Stats struct {
	Docs         int `json:"docs"`
	Terms        int `json:"terms"`
	TermDocPairs int `json:"term_doc_pairs"`
}

// Empty returns an index with no documents.
func Empty() *InvertedIndex {
	return &InvertedIndex{
		Postings: make(map[Term]PostingList),
		IDF:      make(map[Term]float64),
		Docs:     NewDocTable(0),
	}
}

// Lookup returns the posting list for term, or nil when the term is absent.
func (x *InvertedIndex) Lookup(term Term) PostingList {
	return x.Postings[term]
}

// Name resolves a document id to the archive name it was ingested under.
func (x *InvertedIndex) Name(id DocID) (string, bool) {
	return x.Docs.Name(id)
}

func (x *InvertedIndex) Stats() Stats {
	pairs := 0
	for _, postings := range x.Postings {
		pairs += len(postings)
	}
	return Stats{
		Docs:         x.DocCount,
		Terms:        len(x.Postings),
		TermDocPairs: pairs,
	}
}
