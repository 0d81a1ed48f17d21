package memory

import (
	"fmt"
	"hash/fnv"

	"github.com/clui951/storemy-wal/pkg/primitives"
)

// SimplePageID identifies a page by file and page number, the same two
// integers a real heap-file page id would carry.
type SimplePageID struct {
	File primitives.FileID
	Page primitives.PageNumber
}

const simplePageIDTag = "storemy.SimplePageID"

func (id SimplePageID) Serialize() []int32 {
	return []int32{int32(id.File), int32(id.Page)}
}

func (id SimplePageID) Equals(other primitives.PageID) bool {
	o, ok := other.(SimplePageID)
	if !ok {
		return false
	}
	return id == o
}

func (id SimplePageID) HashCode() primitives.HashCode {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d:%d", id.File, id.Page)
	return primitives.HashCode(h.Sum64())
}

func (id SimplePageID) String() string {
	return fmt.Sprintf("SimplePageID(%d,%d)", id.File, id.Page)
}

func (id SimplePageID) TypeTag() string { return simplePageIDTag }

// reconstructSimplePageID is registered under simplePageIDTag.
func reconstructSimplePageID(ints []int32) (primitives.PageID, error) {
	if len(ints) != 2 {
		return nil, fmt.Errorf("memory: SimplePageID expects 2 ints, got %d", len(ints))
	}
	return SimplePageID{File: primitives.FileID(ints[0]), Page: primitives.PageNumber(ints[1])}, nil
}

// SimplePage is an opaque byte page of whatever length it was built with,
// the smallest Page implementation that can drive the WAL's tests.
type SimplePage struct {
	id   SimplePageID
	data []byte
}

const simplePageTag = "storemy.SimplePage"

// NewSimplePage wraps data as the page identified by id. data is copied so
// callers may reuse their buffer.
func NewSimplePage(id SimplePageID, data []byte) *SimplePage {
	cp := make([]byte, len(data))
	copy(cp, data)
	return &SimplePage{id: id, data: cp}
}

func (p *SimplePage) ID() primitives.PageID { return p.id }
func (p *SimplePage) Bytes() []byte         { return p.data }
func (p *SimplePage) TypeTag() string       { return simplePageTag }

func reconstructSimplePage(id primitives.PageID, data []byte) (primitives.Page, error) {
	sid, ok := id.(SimplePageID)
	if !ok {
		return nil, fmt.Errorf("memory: SimplePage requires a SimplePageID, got %T", id)
	}
	return NewSimplePage(sid, data), nil
}

// RegisterSimplePageType wires SimplePageID/SimplePage into a registry;
// call it once per registry unless a caller brings its own page types.
// The page reconstructor is registered under the page's own tag (the one
// written to the log) and under the id's tag, which is the key
// SimplePageStore uses to rebuild a page from an id and raw bytes.
func RegisterSimplePageType(r *TypeRegistry) {
	r.RegisterPageID(simplePageIDTag, reconstructSimplePageID)
	r.RegisterPage(simplePageTag, reconstructSimplePage)
	r.RegisterPage(simplePageIDTag, reconstructSimplePage)
}
