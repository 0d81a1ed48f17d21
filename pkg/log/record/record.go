// Package record defines the on-disk log-record format: the binary layout
// byte for byte, and the Go types that the WAL and recovery packages pass
// around once a record has been parsed.
package record

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/clui951/storemy-wal/pkg/dberror"
	"github.com/clui951/storemy-wal/pkg/primitives"
)

// Kind tags a log record's type. Values match the wire format exactly;
// they are not an iota enumeration because the numbering is a durable
// on-disk contract.
type Kind int32

const (
	KindAbort      Kind = 1
	KindCommit     Kind = 2
	KindUpdate     Kind = 3
	KindBegin      Kind = 4
	KindCheckpoint Kind = 5
)

func (k Kind) String() string {
	switch k {
	case KindAbort:
		return "ABORT"
	case KindCommit:
		return "COMMIT"
	case KindUpdate:
		return "UPDATE"
	case KindBegin:
		return "BEGIN"
	case KindCheckpoint:
		return "CHECKPOINT"
	default:
		return fmt.Sprintf("KIND(%d)", int32(k))
	}
}

// CheckpointEntry names one transaction live at checkpoint time and the
// file offset of its BEGIN record.
type CheckpointEntry struct {
	TID            int64
	FirstLogRecord primitives.Offset
}

// PageImage is the serialized form of a single page, carrying enough
// type information for the PageStore's registry to reconstruct both the
// page id and the page from raw bytes.
type PageImage struct {
	PageTag string
	IDTag   string
	IDInts  []int32
	Data    []byte
}

// Record is a single parsed log record. Which fields are meaningful
// depends on Kind: TID is empty for CHECKPOINT, Before/After only apply
// to UPDATE, Entries only to CHECKPOINT.
type Record struct {
	Kind    Kind
	TID     int64
	Before  PageImage
	After   PageImage
	Entries []CheckpointEntry

	// Start is this record's own beginning offset in the file. It is
	// populated on read, and must be supplied by the caller on write
	// (the writer knows the current cursor; the record format does not
	// self-assign it).
	Start primitives.Offset
}

// Encode serializes r, trailing it with its own start offset as required
// by the on-disk format, and returns the bytes ready to append to the log.
func Encode(r Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, int32(r.Kind)); err != nil {
		return nil, err
	}

	switch r.Kind {
	case KindBegin, KindCommit, KindAbort:
		if err := binary.Write(&buf, binary.BigEndian, r.TID); err != nil {
			return nil, err
		}
	case KindUpdate:
		if err := binary.Write(&buf, binary.BigEndian, r.TID); err != nil {
			return nil, err
		}
		if err := writePageImage(&buf, r.Before); err != nil {
			return nil, err
		}
		if err := writePageImage(&buf, r.After); err != nil {
			return nil, err
		}
	case KindCheckpoint:
		if err := binary.Write(&buf, binary.BigEndian, int64(-1)); err != nil {
			return nil, err
		}
		if err := binary.Write(&buf, binary.BigEndian, int32(len(r.Entries))); err != nil {
			return nil, err
		}
		for _, e := range r.Entries {
			if err := binary.Write(&buf, binary.BigEndian, e.TID); err != nil {
				return nil, err
			}
			if err := binary.Write(&buf, binary.BigEndian, int64(e.FirstLogRecord)); err != nil {
				return nil, err
			}
		}
	default:
		return nil, dberror.CorruptLog(fmt.Sprintf("unknown record kind %d", r.Kind), nil)
	}

	if err := binary.Write(&buf, binary.BigEndian, int64(r.Start)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writePageImage(buf *bytes.Buffer, img PageImage) error {
	if err := writeUTF(buf, img.PageTag); err != nil {
		return err
	}
	if err := writeUTF(buf, img.IDTag); err != nil {
		return err
	}
	if err := binary.Write(buf, binary.BigEndian, int32(len(img.IDInts))); err != nil {
		return err
	}
	for _, v := range img.IDInts {
		if err := binary.Write(buf, binary.BigEndian, v); err != nil {
			return err
		}
	}
	if err := binary.Write(buf, binary.BigEndian, int32(len(img.Data))); err != nil {
		return err
	}
	_, err := buf.Write(img.Data)
	return err
}

func writeUTF(buf *bytes.Buffer, s string) error {
	if len(s) > 0xFFFF {
		return fmt.Errorf("record: utf string too long (%d bytes)", len(s))
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(s))); err != nil {
		return err
	}
	_, err := buf.WriteString(s)
	return err
}

// Decode reads exactly one record starting at the reader's current
// position. On success, r.Start equals the trailing start offset found in
// the stream, not the caller's notion of "where we started reading" -
// callers that need to verify invariant 2 (file[end-8:end] == start)
// should compare that against the offset they began reading from.
func Decode(r io.Reader) (Record, int, error) {
	var rec Record
	n := 0

	kindBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, kindBuf); err != nil {
		if err == io.EOF {
			return Record{}, 0, io.EOF
		}
		return Record{}, 0, dberror.CorruptLog("truncated record kind", err)
	}
	n += 4
	rec.Kind = Kind(int32(binary.BigEndian.Uint32(kindBuf)))

	readInt64 := func() (int64, error) {
		b := make([]byte, 8)
		if _, err := io.ReadFull(r, b); err != nil {
			return 0, dberror.CorruptLog("truncated record body", err)
		}
		n += 8
		return int64(binary.BigEndian.Uint64(b)), nil
	}
	readInt32 := func() (int32, error) {
		b := make([]byte, 4)
		if _, err := io.ReadFull(r, b); err != nil {
			return 0, dberror.CorruptLog("truncated record body", err)
		}
		n += 4
		return int32(binary.BigEndian.Uint32(b)), nil
	}

	switch rec.Kind {
	case KindBegin, KindCommit, KindAbort:
		tid, err := readInt64()
		if err != nil {
			return Record{}, 0, err
		}
		rec.TID = tid
	case KindUpdate:
		tid, err := readInt64()
		if err != nil {
			return Record{}, 0, err
		}
		rec.TID = tid
		before, m, err := readPageImage(r)
		if err != nil {
			return Record{}, 0, err
		}
		n += m
		rec.Before = before
		after, m2, err := readPageImage(r)
		if err != nil {
			return Record{}, 0, err
		}
		n += m2
		rec.After = after
	case KindCheckpoint:
		if _, err := readInt64(); err != nil { // placeholder tid, always -1
			return Record{}, 0, err
		}
		count, err := readInt32()
		if err != nil {
			return Record{}, 0, err
		}
		if count < 0 {
			return Record{}, 0, dberror.CorruptLog(fmt.Sprintf("negative checkpoint count %d", count), nil)
		}
		rec.Entries = make([]CheckpointEntry, count)
		for i := range rec.Entries {
			tid, err := readInt64()
			if err != nil {
				return Record{}, 0, err
			}
			off, err := readInt64()
			if err != nil {
				return Record{}, 0, err
			}
			rec.Entries[i] = CheckpointEntry{TID: tid, FirstLogRecord: primitives.Offset(off)}
		}
	default:
		return Record{}, 0, dberror.CorruptLog(fmt.Sprintf("unknown record kind tag %d", rec.Kind), nil)
	}

	start, err := readInt64()
	if err != nil {
		return Record{}, 0, err
	}
	rec.Start = primitives.Offset(start)

	return rec, n, nil
}

func readPageImage(r io.Reader) (PageImage, int, error) {
	n := 0
	pageTag, m, err := readUTF(r)
	if err != nil {
		return PageImage{}, 0, err
	}
	n += m

	idTag, m, err := readUTF(r)
	if err != nil {
		return PageImage{}, 0, err
	}
	n += m

	countBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, countBuf); err != nil {
		return PageImage{}, 0, dberror.CorruptLog("truncated page-id int count", err)
	}
	n += 4
	count := int32(binary.BigEndian.Uint32(countBuf))
	if count < 0 {
		return PageImage{}, 0, dberror.CorruptLog(fmt.Sprintf("negative page-id int count %d", count), nil)
	}

	ids := make([]int32, count)
	for i := range ids {
		b := make([]byte, 4)
		if _, err := io.ReadFull(r, b); err != nil {
			return PageImage{}, 0, dberror.CorruptLog("truncated page-id int", err)
		}
		n += 4
		ids[i] = int32(binary.BigEndian.Uint32(b))
	}

	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return PageImage{}, 0, dberror.CorruptLog("truncated page data length", err)
	}
	n += 4
	dataLen := int32(binary.BigEndian.Uint32(lenBuf))
	if dataLen < 0 {
		return PageImage{}, 0, dberror.CorruptLog(fmt.Sprintf("negative page data length %d", dataLen), nil)
	}

	data := make([]byte, dataLen)
	if _, err := io.ReadFull(r, data); err != nil {
		return PageImage{}, 0, dberror.CorruptLog("truncated page data", err)
	}
	n += int(dataLen)

	return PageImage{PageTag: pageTag, IDTag: idTag, IDInts: ids, Data: data}, n, nil
}

func readUTF(r io.Reader) (string, int, error) {
	lenBuf := make([]byte, 2)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return "", 0, dberror.CorruptLog("truncated utf length", err)
	}
	l := binary.BigEndian.Uint16(lenBuf)
	data := make([]byte, l)
	if l > 0 {
		if _, err := io.ReadFull(r, data); err != nil {
			return "", 0, dberror.CorruptLog("truncated utf bytes", err)
		}
	}
	return string(data), 2 + int(l), nil
}
