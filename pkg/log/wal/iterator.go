package wal

import (
	"io"
	"os"

	"github.com/clui951/storemy-wal/pkg/dberror"
	"github.com/clui951/storemy-wal/pkg/log/record"
	"github.com/clui951/storemy-wal/pkg/primitives"
)

// ForwardIterator reads records in file order starting at a given offset.
type ForwardIterator struct {
	f   *os.File
	pos primitives.Offset
	end primitives.Offset
}

// NewForwardIterator positions a reader at start and stops once it would
// read past end.
func NewForwardIterator(f *os.File, start, end primitives.Offset) (*ForwardIterator, error) {
	if _, err := f.Seek(int64(start), io.SeekStart); err != nil {
		return nil, dberror.IoFailure("seek", err)
	}
	return &ForwardIterator{f: f, pos: start, end: end}, nil
}

// Next returns the next record (its Start field carries its offset), or
// io.EOF once pos reaches end.
func (it *ForwardIterator) Next() (record.Record, error) {
	if it.pos >= it.end {
		return record.Record{}, io.EOF
	}
	rec, n, err := record.Decode(it.f)
	if err != nil {
		return record.Record{}, err
	}
	it.pos += primitives.Offset(n)
	return rec, nil
}

// BackwardIterator walks the log from the end toward the start by
// following each record's trailing start offset, exploiting invariant 2
// (every record ends with its own beginning offset) so the file can be
// read without a forward index.
type BackwardIterator struct {
	f     *os.File
	pos   primitives.Offset
	floor primitives.Offset
}

// NewBackwardIterator begins walking backward from `end`, refusing to
// cross below `floor` (normally primitives.HeaderSize).
func NewBackwardIterator(f *os.File, end, floor primitives.Offset) *BackwardIterator {
	return &BackwardIterator{f: f, pos: end, floor: floor}
}

// Next reads the record immediately preceding the iterator's current
// position and rewinds to just before it, or returns io.EOF once the
// floor is reached.
func (it *BackwardIterator) Next() (record.Record, error) {
	if it.pos <= it.floor {
		return record.Record{}, io.EOF
	}

	// The 8 bytes immediately before it.pos are the start offset of the
	// record ending there.
	startBuf := make([]byte, 8)
	if _, err := it.f.ReadAt(startBuf, int64(it.pos)-8); err != nil {
		return record.Record{}, dberror.CorruptLog("truncated trailing start offset", err)
	}
	start := primitives.Offset(beU64(startBuf))
	if start < it.floor || start >= it.pos {
		return record.Record{}, dberror.CorruptLog("trailing start offset out of range", nil)
	}

	iter, err := NewForwardIterator(it.f, start, it.pos)
	if err != nil {
		return record.Record{}, err
	}
	rec, err := iter.Next()
	if err != nil {
		return record.Record{}, err
	}
	it.pos = start
	return rec, nil
}

func beU64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}
