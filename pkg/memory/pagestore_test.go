package memory

import (
	"testing"

	"github.com/clui951/storemy-wal/pkg/primitives"
)

func newTestStore() *SimplePageStore {
	r := NewTypeRegistry()
	RegisterSimplePageType(r)
	return NewSimplePageStore(r)
}

func TestWriteThenLoadPage(t *testing.T) {
	s := newTestStore()
	id := SimplePageID{File: 1, Page: 1}

	if err := s.WritePage(id, []byte{1, 2, 3}); err != nil {
		t.Fatalf("WritePage: %v", err)
	}

	page, err := s.LoadPage(id)
	if err != nil {
		t.Fatalf("LoadPage: %v", err)
	}
	if string(page.Bytes()) != string([]byte{1, 2, 3}) {
		t.Fatalf("unexpected page bytes: %v", page.Bytes())
	}
}

func TestLoadPageMissingFails(t *testing.T) {
	s := newTestStore()
	id := SimplePageID{File: 1, Page: 9}
	if _, err := s.LoadPage(id); err == nil {
		t.Fatal("expected error loading page never written")
	}
}

func TestDiscardCachedFallsBackToDisk(t *testing.T) {
	s := newTestStore()
	id := SimplePageID{File: 1, Page: 1}

	if err := s.WritePage(id, []byte{1}); err != nil {
		t.Fatalf("WritePage: %v", err)
	}
	if err := s.FlushAllDirty(); err != nil {
		t.Fatalf("FlushAllDirty: %v", err)
	}
	if err := s.WritePage(id, []byte{2}); err != nil {
		t.Fatalf("WritePage: %v", err)
	}

	s.DiscardCached(id)

	page, err := s.LoadPage(id)
	if err != nil {
		t.Fatalf("LoadPage after discard: %v", err)
	}
	if string(page.Bytes()) != string([]byte{1}) {
		t.Fatalf("expected disk image {1}, got %v", page.Bytes())
	}
}

func TestFlushAllDirtyClearsDirtyBit(t *testing.T) {
	s := newTestStore()
	id := SimplePageID{File: 2, Page: 5}

	if err := s.WritePage(id, []byte{9, 9}); err != nil {
		t.Fatalf("WritePage: %v", err)
	}
	if err := s.FlushAllDirty(); err != nil {
		t.Fatalf("FlushAllDirty: %v", err)
	}

	h := id.HashCode()
	cp, ok := s.cache[h]
	if !ok {
		t.Fatal("expected page to remain cached after flush")
	}
	if cp.dirty {
		t.Fatal("expected dirty bit cleared after flush")
	}
	if string(s.disk[h]) != string([]byte{9, 9}) {
		t.Fatalf("unexpected disk image: %v", s.disk[h])
	}
}

func TestReconstructRoundTrip(t *testing.T) {
	s := newTestStore()
	id := SimplePageID{File: 3, Page: 4}

	gotID, err := s.ReconstructPageID(id.TypeTag(), id.Serialize())
	if err != nil {
		t.Fatalf("ReconstructPageID: %v", err)
	}
	if !gotID.Equals(id) {
		t.Fatalf("reconstructed id %v != original %v", gotID, id)
	}

	page, err := s.ReconstructPage(NewSimplePage(id, []byte{7}).TypeTag(), gotID, []byte{7})
	if err != nil {
		t.Fatalf("ReconstructPage: %v", err)
	}
	if string(page.Bytes()) != string([]byte{7}) {
		t.Fatalf("unexpected bytes: %v", page.Bytes())
	}
}

func TestReconstructUnknownTagIsCorrupt(t *testing.T) {
	s := newTestStore()
	if _, err := s.ReconstructPageID("bogus.tag", []int32{1, 2}); err == nil {
		t.Fatal("expected error for unregistered page-id tag")
	}
}

func TestSimplePageIDHashCodeStable(t *testing.T) {
	a := SimplePageID{File: 1, Page: 2}
	b := SimplePageID{File: 1, Page: 2}
	if a.HashCode() != b.HashCode() {
		t.Fatal("equal ids must hash equally")
	}
	c := SimplePageID{File: 1, Page: 3}
	if a.HashCode() == c.HashCode() {
		t.Fatal("distinct ids should not collide in this small test")
	}
}

var _ primitives.PageID = SimplePageID{}
