package tree

import (
	"sync"
	"sync/atomic"
)

// Handle shares a Tree between one writer and any number of readers. Apply
// serializes writers and publishes the new root once the update is complete;
// readers load the published root without taking a lock, so they only ever
// see the tree between updates and never hold up the writer.
type Handle struct {
	mu   sync.Mutex // serializes Apply
	tree *Tree

	current atomic.Pointer[published]
}

// published is an immutable root and the version it reflects.
type published struct {
	root    *Entry
	version uint64
}

// NewHandle wraps t. The caller must not use t directly afterwards.
func NewHandle(t *Tree) *Handle {
	h := &Handle{tree: t}
	h.current.Store(&published{root: t.root})
	return h
}

// Apply performs one update: an upsert when u.Entry is set, a delete
// otherwise. It returns the tree version after the update; failed updates
// leave the version unchanged.
func (h *Handle) Apply(u Update) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	version := h.current.Load().version
	var err error
	if u.Entry != nil {
		err = h.tree.Upsert(u.Path, u.Entry)
	} else {
		err = h.tree.Delete(u.Path)
	}
	if err != nil {
		return version, err
	}
	version++
	h.current.Store(&published{root: h.tree.root, version: version})
	return version, nil
}

// view returns a read-only tree over the latest published root.
func (h *Handle) view() (*Tree, uint64) {
	p := h.current.Load()
	return &Tree{root: p.root, rootPath: h.tree.rootPath}, p.version
}

// Read calls fn with the latest published tree. fn must not modify anything
// it reaches through t. The view stays consistent for as long as fn runs,
// whatever the writer does meanwhile.
func (h *Handle) Read(fn func(t *Tree)) {
	t, _ := h.view()
	fn(t)
}

// Snapshot returns a deep copy of the root and the version it reflects.
func (h *Handle) Snapshot() (*Entry, uint64) {
	p := h.current.Load()
	return p.root.Clone(), p.version
}

// Lookup returns a copy of the entry at p.
func (h *Handle) Lookup(p Path) (*Entry, error) {
	e, _, err := h.LookupAt(p)
	return e, err
}

// LookupAt is Lookup that also returns the version the copy reflects.
func (h *Handle) LookupAt(p Path) (*Entry, uint64, error) {
	t, version := h.view()
	e, err := t.Lookup(p)
	if err != nil {
		return nil, version, err
	}
	return e.Clone(), version, nil
}

// Version returns the number of updates applied so far.
func (h *Handle) Version() uint64 {
	return h.current.Load().version
}

// RootPath returns the path the tree mirrors.
func (h *Handle) RootPath() string {
	return h.tree.rootPath
}

// Count returns the number of files and directories currently mirrored.
func (h *Handle) Count() (files, dirs int) {
	return Count(h.current.Load().root)
}

// Find runs the file finder against the current tree.
func (h *Handle) Find(query string, limit int) []Match {
	return Find(h.current.Load().root, query, limit)
}
