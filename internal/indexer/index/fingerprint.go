package index

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"sort"
)

// Fingerprint identifies the content of x: two indices built from the same
// listing share a fingerprint across processes and restarts, while any
// difference in names, postings or weights changes it. Build time plays no
// part.
func (x *InvertedIndex) Fingerprint() string {
	h := sha256.New()
	var scratch []byte
	writeString := func(s string) {
		scratch = binary.AppendUvarint(scratch[:0], uint64(len(s)))
		h.Write(scratch)
		h.Write([]byte(s))
	}

	names := x.Docs.Names()
	scratch = binary.AppendUvarint(scratch[:0], uint64(len(names)))
	h.Write(scratch)
	for _, name := range names {
		writeString(name)
	}

	terms := make([]string, 0, len(x.Postings))
	for term := range x.Postings {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	for _, term := range terms {
		writeString(term)
		postings := x.Postings[term]
		scratch = binary.LittleEndian.AppendUint64(scratch[:0], math.Float64bits(x.IDF[term]))
		scratch = binary.AppendUvarint(scratch, uint64(len(postings)))
		for _, id := range postings {
			scratch = binary.AppendUvarint(scratch, uint64(id))
		}
		h.Write(scratch)
	}
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}
