// Package snapshot serialises a built index into one self-contained binary
// blob and restores it, so a restart can skip re-ingesting the listing.
package snapshot

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"
	"sort"
	"time"

	"github.com/Adithya-Monish-Kumar-K/zip-search/internal/indexer/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/zip-search/pkg/errors"
)

// MagicBytes identifies a snapshot blob ("ZSXP"). It opens the header and
// closes the footer.
const (
	MagicBytes    uint32 = 0x5A535850
	FormatVersion uint32 = 1
	HeaderSize    int    = 32
	FooterSize    int    = 8
)

// Header is the fixed-size prefix of every snapshot.
type Header struct {
	Magic     uint32
	Version   uint32
	DocCount  uint32
	TermCount uint32
	CreatedAt int64
	BodyLen   uint64
}

// Encode writes idx as header, body and footer. The body holds the document
// names in id order followed by the terms in sorted order, each with its
// IDF bits and delta-encoded postings.
func Encode(idx *index.InvertedIndex) ([]byte, error) {
	if idx.DocCount != idx.Docs.Len() {
		return nil, fmt.Errorf("doc count %d disagrees with id table of %d: %w", idx.DocCount, idx.Docs.Len(), apperrors.ErrArgument)
	}
	if uint64(idx.DocCount) > math.MaxUint32 || uint64(len(idx.Postings)) > math.MaxUint32 {
		return nil, fmt.Errorf("index too large for format version %d: %w", FormatVersion, apperrors.ErrArgument)
	}
	if len(idx.IDF) != len(idx.Postings) {
		return nil, fmt.Errorf("idf has %d terms, postings %d: %w", len(idx.IDF), len(idx.Postings), apperrors.ErrArgument)
	}

	terms := make([]string, 0, len(idx.Postings))
	for term := range idx.Postings {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	buf := make([]byte, HeaderSize, HeaderSize+estimateBody(idx))
	for _, name := range idx.Docs.Names() {
		buf = appendString(buf, name)
	}
	for _, term := range terms {
		idf, ok := idx.IDF[term]
		if !ok {
			return nil, fmt.Errorf("term %q has postings but no idf: %w", term, apperrors.ErrArgument)
		}
		buf = appendString(buf, term)
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(idf))
		postings := idx.Postings[term]
		buf = binary.AppendUvarint(buf, uint64(len(postings)))
		var prev int64
		for _, id := range postings {
			buf = binary.AppendVarint(buf, int64(id)-prev)
			prev = int64(id)
		}
	}

	header := Header{
		Magic:     MagicBytes,
		Version:   FormatVersion,
		DocCount:  uint32(idx.DocCount),
		TermCount: uint32(len(terms)),
		CreatedAt: time.Now().Unix(),
		BodyLen:   uint64(len(buf) - HeaderSize),
	}
	putHeader(buf[:HeaderSize], header)

	checksum := crc32.ChecksumIEEE(buf)
	buf = binary.LittleEndian.AppendUint32(buf, checksum)
	buf = binary.LittleEndian.AppendUint32(buf, MagicBytes)
	return buf, nil
}

// Decode restores an index written by Encode. Every structural problem is
// reported as ErrCorrupt and no partial index is returned.
func Decode(data []byte) (*index.InvertedIndex, error) {
	header, err := ReadHeader(data)
	if err != nil {
		return nil, err
	}
	// Compare before adding so a huge BodyLen cannot wrap the sum.
	if header.BodyLen > uint64(len(data)) || uint64(len(data)) != uint64(HeaderSize)+header.BodyLen+uint64(FooterSize) {
		return nil, corruptf("blob is %d bytes, header declares body of %d", len(data), header.BodyLen)
	}
	footer := data[len(data)-FooterSize:]
	if binary.LittleEndian.Uint32(footer[4:8]) != MagicBytes {
		return nil, corruptf("bad footer magic %x", binary.LittleEndian.Uint32(footer[4:8]))
	}
	want := binary.LittleEndian.Uint32(footer[0:4])
	if got := crc32.ChecksumIEEE(data[:len(data)-FooterSize]); got != want {
		return nil, corruptf("checksum mismatch: stored %08x, computed %08x", want, got)
	}

	d := &decoder{buf: data[HeaderSize : len(data)-FooterSize]}
	docCount := int(header.DocCount)
	if docCount > len(d.buf) {
		return nil, corruptf("doc count %d exceeds body size", docCount)
	}
	names := make([]string, 0, docCount)
	for i := 0; i < docCount; i++ {
		names = append(names, d.string())
	}

	termCount := int(header.TermCount)
	if termCount > len(d.buf) {
		return nil, corruptf("term count %d exceeds body size", termCount)
	}
	postings := make(map[index.Term]index.PostingList, termCount)
	idf := make(map[index.Term]float64, termCount)
	prevTerm := ""
	for i := 0; i < termCount && d.err == nil; i++ {
		term := d.string()
		if i > 0 && term <= prevTerm {
			return nil, corruptf("term %q out of order after %q", term, prevTerm)
		}
		prevTerm = term
		weight := math.Float64frombits(d.uint64())
		if math.IsNaN(weight) || math.IsInf(weight, 0) {
			return nil, corruptf("non-finite idf for term %q", term)
		}
		n := d.uvarint()
		if n > uint64(d.remaining()) {
			return nil, corruptf("term %q declares %d postings in %d bytes", term, n, d.remaining())
		}
		list := make(index.PostingList, 0, n)
		var prev int64
		for j := uint64(0); j < n && d.err == nil; j++ {
			id := prev + d.varint()
			if id < 0 || id >= int64(docCount) {
				return nil, corruptf("term %q references doc %d of %d", term, id, docCount)
			}
			list = append(list, index.DocID(id))
			prev = id
		}
		postings[term] = list
		idf[term] = weight
	}
	if d.err != nil {
		return nil, d.err
	}
	if d.remaining() != 0 {
		return nil, corruptf("%d trailing bytes after last term", d.remaining())
	}

	return &index.InvertedIndex{
		Postings: postings,
		IDF:      idf,
		DocCount: docCount,
		Docs:     index.DocTableFromNames(names),
	}, nil
}

// ReadHeader validates and returns the fixed header without decoding the
// body.
func ReadHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize+FooterSize {
		return Header{}, corruptf("blob of %d bytes is shorter than header and footer", len(data))
	}
	h := Header{
		Magic:     binary.LittleEndian.Uint32(data[0:4]),
		Version:   binary.LittleEndian.Uint32(data[4:8]),
		DocCount:  binary.LittleEndian.Uint32(data[8:12]),
		TermCount: binary.LittleEndian.Uint32(data[12:16]),
		CreatedAt: int64(binary.LittleEndian.Uint64(data[16:24])),
		BodyLen:   binary.LittleEndian.Uint64(data[24:32]),
	}
	if h.Magic != MagicBytes {
		return Header{}, corruptf("bad magic bytes %x", h.Magic)
	}
	if h.Version != FormatVersion {
		return Header{}, corruptf("unsupported format version %d", h.Version)
	}
	return h, nil
}

func putHeader(b []byte, h Header) {
	binary.LittleEndian.PutUint32(b[0:4], h.Magic)
	binary.LittleEndian.PutUint32(b[4:8], h.Version)
	binary.LittleEndian.PutUint32(b[8:12], h.DocCount)
	binary.LittleEndian.PutUint32(b[12:16], h.TermCount)
	binary.LittleEndian.PutUint64(b[16:24], uint64(h.CreatedAt))
	binary.LittleEndian.PutUint64(b[24:32], h.BodyLen)
}

func appendString(buf []byte, s string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

func estimateBody(idx *index.InvertedIndex) int {
	size := 0
	for _, name := range idx.Docs.Names() {
		size += len(name) + 1
	}
	for term, postings := range idx.Postings {
		size += len(term) + 10 + len(postings)*2
	}
	return size
}

func corruptf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), apperrors.ErrCorrupt)
}

// decoder reads from buf and latches the first error; later reads return
// zero values.
type decoder struct {
	buf []byte
	off int
	err error
}

func (d *decoder) remaining() int {
	return len(d.buf) - d.off
}

func (d *decoder) fail(what string) {
	if d.err == nil {
		d.err = corruptf("truncated %s at body offset %d", what, d.off)
	}
}

func (d *decoder) uvarint() uint64 {
	if d.err != nil {
		return 0
	}
	v, n := binary.Uvarint(d.buf[d.off:])
	if n <= 0 {
		d.fail("uvarint")
		return 0
	}
	d.off += n
	return v
}

func (d *decoder) varint() int64 {
	if d.err != nil {
		return 0
	}
	v, n := binary.Varint(d.buf[d.off:])
	if n <= 0 {
		d.fail("varint")
		return 0
	}
	d.off += n
	return v
}

func (d *decoder) uint64() uint64 {
	if d.err != nil {
		return 0
	}
	if d.remaining() < 8 {
		d.fail("uint64")
		return 0
	}
	v := binary.LittleEndian.Uint64(d.buf[d.off:])
	d.off += 8
	return v
}

func (d *decoder) string() string {
	n := d.uvarint()
	if d.err != nil {
		return ""
	}
	if n > uint64(d.remaining()) {
		d.fail("string")
		return ""
	}
	s := string(d.buf[d.off : d.off+int(n)])
	d.off += int(n)
	return s
}
