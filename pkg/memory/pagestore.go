// Package memory implements the PageStore capability the WAL consumes: a
// cache of pages keyed by an opaque PageID, backed by a type-tag registry
// that replaces the reflective class lookup of the original design (see
// the spec's "Reflective page reconstruction" design note).
package memory

import (
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/clui951/storemy-wal/pkg/dberror"
	"github.com/clui951/storemy-wal/pkg/primitives"
)

// IDReconstructor rebuilds a PageID from the integer vector logged for it.
type IDReconstructor func(ints []int32) (primitives.PageID, error)

// PageReconstructor rebuilds a Page from its id and raw bytes.
type PageReconstructor func(id primitives.PageID, data []byte) (primitives.Page, error)

// TypeRegistry maps the stable string tags written to the log back to the
// closures that know how to rebuild the corresponding concrete types. A
// PageStore owns one registry and populates it at startup, once per
// concrete page type it manages.
type TypeRegistry struct {
	mu    sync.RWMutex
	ids   map[string]IDReconstructor
	pages map[string]PageReconstructor
}

// NewTypeRegistry returns an empty registry.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{
		ids:   make(map[string]IDReconstructor),
		pages: make(map[string]PageReconstructor),
	}
}

// RegisterPageID associates a PageID type tag with its reconstructor.
func (r *TypeRegistry) RegisterPageID(tag string, fn IDReconstructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids[tag] = fn
}

// RegisterPage associates a Page type tag with its reconstructor.
func (r *TypeRegistry) RegisterPage(tag string, fn PageReconstructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pages[tag] = fn
}

func (r *TypeRegistry) reconstructID(tag string, ints []int32) (primitives.PageID, error) {
	r.mu.RLock()
	fn, ok := r.ids[tag]
	r.mu.RUnlock()
	if !ok {
		return nil, dberror.CorruptLog(fmt.Sprintf("no page-id type registered for tag %q", tag), nil)
	}
	return fn(ints)
}

func (r *TypeRegistry) reconstructPage(tag string, id primitives.PageID, data []byte) (primitives.Page, error) {
	r.mu.RLock()
	fn, ok := r.pages[tag]
	r.mu.RUnlock()
	if !ok {
		return nil, dberror.CorruptLog(fmt.Sprintf("no page type registered for tag %q", tag), nil)
	}
	return fn(id, data)
}

// PageStore is the capability the WAL depends on: it treats pages as
// opaque byte blobs keyed by an opaque PageID, loading and installing them
// through this interface. Lock/Unlock acquire and release the "pool
// mutex" the concurrency model requires callers to acquire before the
// WAL's own log mutex.
type PageStore interface {
	LoadPage(id primitives.PageID) (primitives.Page, error)
	WritePage(id primitives.PageID, data []byte) error
	DiscardCached(id primitives.PageID)
	FlushAllDirty() error
	ReconstructPageID(tag string, ints []int32) (primitives.PageID, error)
	ReconstructPage(pageTag string, id primitives.PageID, data []byte) (primitives.Page, error)
	Lock()
	Unlock()
}

// SimplePageStore is a minimal, fully in-memory PageStore: pages live in a
// map keyed by HashCode, "disk" is a second map standing in for the table
// files, and FlushAllDirty copies cached pages into it. It exists to drive
// the WAL's tests and the end-to-end scenarios in the spec; it is not a
// buffer pool with eviction.
type SimplePageStore struct {
	Mu sync.Mutex

	registry *TypeRegistry

	cache map[primitives.HashCode]cachedPage
	disk  map[primitives.HashCode][]byte
}

type cachedPage struct {
	id    primitives.PageID
	page  primitives.Page
	dirty bool
}

// NewSimplePageStore constructs a page store backed by the given registry.
func NewSimplePageStore(registry *TypeRegistry) *SimplePageStore {
	return &SimplePageStore{
		registry: registry,
		cache:    make(map[primitives.HashCode]cachedPage),
		disk:     make(map[primitives.HashCode][]byte),
	}
}

func (s *SimplePageStore) Lock()   { s.Mu.Lock() }
func (s *SimplePageStore) Unlock() { s.Mu.Unlock() }

// LoadPage returns the cached page for id, falling back to the disk image.
func (s *SimplePageStore) LoadPage(id primitives.PageID) (primitives.Page, error) {
	h := id.HashCode()
	if cp, ok := s.cache[h]; ok {
		return cp.page, nil
	}
	data, ok := s.disk[h]
	if !ok {
		return nil, fmt.Errorf("memory: no page for id %s", id)
	}
	page, err := s.registry.reconstructPage(id.TypeTag(), id, data)
	if err != nil {
		return nil, err
	}
	s.cache[h] = cachedPage{id: id, page: page, dirty: false}
	return page, nil
}

// WritePage installs bytes as the current image of id, marking it dirty so
// a later FlushAllDirty pushes it to the simulated table file.
func (s *SimplePageStore) WritePage(id primitives.PageID, data []byte) error {
	page, err := s.registry.reconstructPage(id.TypeTag(), id, data)
	if err != nil {
		return err
	}
	h := id.HashCode()
	s.cache[h] = cachedPage{id: id, page: page, dirty: true}
	return nil
}

// DiscardCached drops any cached copy of id without touching its disk
// image, per Rollback's "discard the after-image before installing the
// before-image" step.
func (s *SimplePageStore) DiscardCached(id primitives.PageID) {
	delete(s.cache, id.HashCode())
}

// FlushAllDirty pushes every dirty cached page to the simulated table
// file, concurrently and bounded, then clears the dirty bits.
func (s *SimplePageStore) FlushAllDirty() error {
	var dirty []primitives.HashCode
	for h, cp := range s.cache {
		if cp.dirty {
			dirty = append(dirty, h)
		}
	}

	g := new(errgroup.Group)
	g.SetLimit(4)
	var mu sync.Mutex
	for _, h := range dirty {
		h := h
		g.Go(func() error {
			mu.Lock()
			cp := s.cache[h]
			mu.Unlock()

			mu.Lock()
			s.disk[h] = cp.page.Bytes()
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, h := range dirty {
		cp := s.cache[h]
		cp.dirty = false
		s.cache[h] = cp
	}
	return nil
}

// ReconstructPageID rebuilds a PageID from its logged integer vector.
func (s *SimplePageStore) ReconstructPageID(tag string, ints []int32) (primitives.PageID, error) {
	return s.registry.reconstructID(tag, ints)
}

// ReconstructPage rebuilds a Page from its logged id and bytes.
func (s *SimplePageStore) ReconstructPage(pageTag string, id primitives.PageID, data []byte) (primitives.Page, error) {
	return s.registry.reconstructPage(pageTag, id, data)
}
