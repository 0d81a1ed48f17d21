package record

import (
	"bytes"
	"io"
	"testing"

	"github.com/clui951/storemy-wal/pkg/primitives"
)

func encodeDecode(t *testing.T, r Record) Record {
	t.Helper()
	data, err := Encode(r)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, n, err := Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if n != len(data) {
		t.Fatalf("Decode consumed %d bytes, encoded %d", n, len(data))
	}
	return got
}

func TestEncodeDecodeBegin(t *testing.T) {
	r := Record{Kind: KindBegin, TID: 42, Start: 8}
	got := encodeDecode(t, r)
	if got.Kind != KindBegin || got.TID != 42 || got.Start != 8 {
		t.Fatalf("roundtrip mismatch: %+v", got)
	}
}

func TestEncodeDecodeUpdate(t *testing.T) {
	r := Record{
		Kind: KindUpdate,
		TID:  7,
		Before: PageImage{
			PageTag: "pg", IDTag: "id", IDInts: []int32{1, 2}, Data: []byte("before"),
		},
		After: PageImage{
			PageTag: "pg", IDTag: "id", IDInts: []int32{1, 2}, Data: []byte("after!"),
		},
		Start: 16,
	}
	got := encodeDecode(t, r)
	if got.Kind != KindUpdate || got.TID != 7 {
		t.Fatalf("roundtrip mismatch: %+v", got)
	}
	if string(got.Before.Data) != "before" || string(got.After.Data) != "after!" {
		t.Fatalf("page image mismatch: %+v", got)
	}
	if len(got.Before.IDInts) != 2 || got.Before.IDInts[0] != 1 || got.Before.IDInts[1] != 2 {
		t.Fatalf("id ints mismatch: %v", got.Before.IDInts)
	}
}

func TestEncodeDecodeCheckpoint(t *testing.T) {
	r := Record{
		Kind: KindCheckpoint,
		Entries: []CheckpointEntry{
			{TID: 1, FirstLogRecord: 8},
			{TID: 2, FirstLogRecord: 40},
		},
		Start: 100,
	}
	got := encodeDecode(t, r)
	if len(got.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got.Entries))
	}
	if got.Entries[0].TID != 1 || got.Entries[0].FirstLogRecord != 8 {
		t.Fatalf("entry 0 mismatch: %+v", got.Entries[0])
	}
}

func TestDecodeTruncatedRecordIsCorrupt(t *testing.T) {
	r := Record{Kind: KindCommit, TID: 1, Start: 8}
	data, err := Encode(r)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	_, _, err = Decode(bytes.NewReader(data[:len(data)-3]))
	if err == nil {
		t.Fatal("expected error decoding truncated record")
	}
}

func TestDecodeEmptyReturnsEOF(t *testing.T) {
	_, _, err := Decode(bytes.NewReader(nil))
	if err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestEncodeTrailingStartMatchesRecordStart(t *testing.T) {
	r := Record{Kind: KindAbort, TID: 5, Start: primitives.Offset(123)}
	data, err := Encode(r)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	// invariant 2: a record's final 8 bytes are its own start offset.
	trailing := data[len(data)-8:]
	var v int64
	for _, b := range trailing {
		v = v<<8 | int64(b)
	}
	if primitives.Offset(v) != r.Start {
		t.Fatalf("trailing start %d != record start %d", v, r.Start)
	}
}
