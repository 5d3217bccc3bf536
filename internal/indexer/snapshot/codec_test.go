package snapshot

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"math"
	"reflect"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/zip-search/internal/indexer/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/zip-search/pkg/errors"
)

func sampleIndex() *index.InvertedIndex {
	b := index.NewBuilder()
	b.Add("lombok-1.18.30.zip", []string{"lombok/launch/Main.class", "AUTHORS", "README.md"})
	b.Add("guava-32.zip", []string{"com/google/common/base/Strings.class", "README.md"})
	b.Add("", []string{"/leading", "a//b"})
	b.Add("guava-32.zip", []string{"LICENSE"})
	return b.Finish()
}

func assertIndexEqual(t *testing.T, got, want *index.InvertedIndex) {
	t.Helper()
	if got.DocCount != want.DocCount {
		t.Fatalf("DocCount = %d, want %d", got.DocCount, want.DocCount)
	}
	if !reflect.DeepEqual(got.Docs.Names(), want.Docs.Names()) {
		t.Fatalf("names = %q, want %q", got.Docs.Names(), want.Docs.Names())
	}
	if got.Docs.NextID() != want.Docs.NextID() {
		t.Fatalf("next id = %d, want %d", got.Docs.NextID(), want.Docs.NextID())
	}
	if !reflect.DeepEqual(got.Postings, want.Postings) {
		t.Fatalf("postings = %v, want %v", got.Postings, want.Postings)
	}
	if len(got.IDF) != len(want.IDF) {
		t.Fatalf("idf has %d terms, want %d", len(got.IDF), len(want.IDF))
	}
	for term, w := range want.IDF {
		g, ok := got.IDF[term]
		if !ok || math.Float64bits(g) != math.Float64bits(w) {
			t.Fatalf("idf[%q] = %v, want %v", term, g, w)
		}
	}
}

func TestRoundTripEmpty(t *testing.T) {
	want := index.NewBuilder().Finish()
	data, err := Encode(want)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(data) != HeaderSize+FooterSize {
		t.Errorf("empty snapshot is %d bytes, want %d", len(data), HeaderSize+FooterSize)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	assertIndexEqual(t, got, want)
	if !reflect.DeepEqual(got, want) {
		t.Errorf("decoded empty index differs: %+v vs %+v", got, want)
	}
}

func TestRoundTripMultiDocument(t *testing.T) {
	want := sampleIndex()
	data, err := Encode(want)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	assertIndexEqual(t, got, want)
}

func TestRoundTripUnsortedPostings(t *testing.T) {
	want := &index.InvertedIndex{
		Postings: map[index.Term]index.PostingList{"t": {2, 0, 1, 0}},
		IDF:      map[index.Term]float64{"t": -1.25},
		DocCount: 3,
		Docs:     index.DocTableFromNames([]string{"a", "b", "c"}),
	}
	data, err := Encode(want)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	assertIndexEqual(t, got, want)
}

func TestEncodeIsDeterministicApartFromTimestamp(t *testing.T) {
	idx := sampleIndex()
	a, _ := Encode(idx)
	b, _ := Encode(idx)
	if len(a) != len(b) {
		t.Fatalf("lengths differ: %d vs %d", len(a), len(b))
	}
	if !reflect.DeepEqual(a[HeaderSize:len(a)-FooterSize], b[HeaderSize:len(b)-FooterSize]) {
		t.Fatal("bodies differ between encodes")
	}
}

func TestEncodeRejectsInconsistentIndex(t *testing.T) {
	idx := sampleIndex()
	idx.DocCount++
	if _, err := Encode(idx); !errors.Is(err, apperrors.ErrArgument) {
		t.Fatalf("expected ErrArgument, got %v", err)
	}
}

// reseal recomputes the checksum after a test has tampered with the body so
// that the structural checks, not the CRC, are exercised.
func reseal(data []byte) []byte {
	n := len(data) - FooterSize
	binary.LittleEndian.PutUint32(data[n:], crc32.ChecksumIEEE(data[:n]))
	return data
}

func TestDecodeRejectsCorruption(t *testing.T) {
	good, err := Encode(sampleIndex())
	if err != nil {
		t.Fatal(err)
	}
	clone := func() []byte { return append([]byte(nil), good...) }

	tests := []struct {
		name string
		data []byte
	}{
		{"nil", nil},
		{"short", good[:HeaderSize]},
		{"truncated", good[:len(good)-1]},
		{"trailing byte", append(clone(), 0)},
		{"bad magic", func() []byte { d := clone(); d[0] ^= 0xff; return d }()},
		{"bad version", func() []byte { d := clone(); binary.LittleEndian.PutUint32(d[4:8], 99); return d }()},
		{"bad footer magic", func() []byte { d := clone(); d[len(d)-1] ^= 0xff; return d }()},
		{"flipped body bit", func() []byte { d := clone(); d[HeaderSize+3] ^= 0x01; return d }()},
		{"doc count too large", func() []byte {
			d := clone()
			binary.LittleEndian.PutUint32(d[8:12], 1<<30)
			return reseal(d)
		}()},
		{"term count too small", func() []byte {
			d := clone()
			binary.LittleEndian.PutUint32(d[12:16], 1)
			return reseal(d)
		}()},
		{"body length near max", func() []byte {
			d := clone()
			binary.LittleEndian.PutUint64(d[24:32], math.MaxUint64-uint64(HeaderSize))
			return reseal(d)
		}()},
		{"body length max", func() []byte {
			d := clone()
			binary.LittleEndian.PutUint64(d[24:32], math.MaxUint64)
			return reseal(d)
		}()},
		{"term count too large", func() []byte {
			d := clone()
			n := binary.LittleEndian.Uint32(d[12:16])
			binary.LittleEndian.PutUint32(d[12:16], n+1)
			return reseal(d)
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, err := Decode(tt.data)
			if idx != nil {
				t.Fatal("index returned for corrupt input")
			}
			if !errors.Is(err, apperrors.ErrCorrupt) {
				t.Fatalf("expected ErrCorrupt, got %v", err)
			}
			if !errors.Is(err, apperrors.ErrParse) {
				t.Fatalf("corruption should also be a parse error, got %v", err)
			}
		})
	}
}

func TestDecodeRejectsNonFiniteIDF(t *testing.T) {
	idx := &index.InvertedIndex{
		Postings: map[index.Term]index.PostingList{"t": {0}},
		IDF:      map[index.Term]float64{"t": math.Inf(1)},
		DocCount: 1,
		Docs:     index.DocTableFromNames([]string{"a"}),
	}
	data, err := Encode(idx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Decode(data); !errors.Is(err, apperrors.ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestDecodeRejectsOutOfRangeDocID(t *testing.T) {
	idx := &index.InvertedIndex{
		Postings: map[index.Term]index.PostingList{"t": {5}},
		IDF:      map[index.Term]float64{"t": 0},
		DocCount: 1,
		Docs:     index.DocTableFromNames([]string{"a"}),
	}
	data, err := Encode(idx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Decode(data); !errors.Is(err, apperrors.ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}
