// Package handle interns room and contact names into small refcounted
// integer tokens, the way a real IRC connection manager hands out handles
// to everything above the wire layer so it never has to compare strings.
package handle

import (
	"fmt"
	"sync"
)

// Kind distinguishes room handles from contact handles. The two kinds are
// interned into separate namespaces, so a room and a contact can share the
// same name without colliding.
type Kind int

const (
	KindRoom Kind = iota
	KindContact
)

// Handle is an opaque non-zero integer token. Zero is never issued and
// means "no handle" to callers that need a sentinel.
type Handle uint32

// Registry interns names to handles and back, refcounting each handle so
// the last release frees its entry; handle values are never reissued. A
// Registry is safe for concurrent use,
// though the channel core above it is single-threaded per spec.
type Registry struct {
	mu    sync.Mutex
	byKey map[key]Handle
	byID  map[Handle]entry
	next  Handle
}

type key struct {
	kind Kind
	name string
}

type entry struct {
	kind string
	name string
	refs int
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byKey: make(map[key]Handle),
		byID:  make(map[Handle]entry),
	}
}

// Ref returns the handle for name, interning it and setting its refcount to
// 1 if this is the first reference; otherwise it bumps the existing
// refcount. Callers must pair every Ref with a Release.
func (r *Registry) Ref(kind Kind, name string) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{kind, name}
	if h, ok := r.byKey[k]; ok {
		e := r.byID[h]
		e.refs++
		r.byID[h] = e
		return h
	}

	r.next++
	h := r.next
	r.byKey[k] = h
	r.byID[h] = entry{kind: kindLabel(kind), name: name, refs: 1}
	return h
}

// Release drops one reference on h, freeing its interning slot once the
// refcount reaches zero. Releasing a handle that isn't held, or has already
// hit zero, is a no-op.
func (r *Registry) Release(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[h]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(r.byID, h)
		delete(r.byKey, key{kindOf(e.kind), e.name})
		return
	}
	r.byID[h] = e
}

// NameOf resolves h back to the name it was interned from.
func (r *Registry) NameOf(h Handle) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[h]
	if !ok {
		return "", false
	}
	return e.name, true
}

// HandleOf looks up an already-interned handle without taking a reference.
// It's used for comparisons (e.g. "is this nick our self-handle") where the
// caller doesn't want to own a new reference.
func (r *Registry) HandleOf(kind Kind, name string) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.byKey[key{kind, name}]
	return h, ok
}

func kindLabel(k Kind) string {
	if k == KindRoom {
		return "room"
	}
	return "contact"
}

func kindOf(label string) Kind {
	if label == "room" {
		return KindRoom
	}
	return KindContact
}

// Ref is an owning guard over a handle: it increments the registry's
// refcount on construction and must be released exactly once. Membership
// sets and the channel's own room/self handles are held this way so a
// handle is never dropped while something still names it.
type Ref struct {
	reg      *Registry
	h        Handle
	released bool
}

// NewRef interns name and wraps the resulting handle in an owning guard.
func NewRef(reg *Registry, kind Kind, name string) *Ref {
	return &Ref{reg: reg, h: reg.Ref(kind, name)}
}

// RefHandle wraps an already-held handle, taking an additional reference on
// it. Used when a handle resolved elsewhere (e.g. from a NAMES batch) needs
// to be placed into a membership set, which owns its own reference.
func RefHandle(reg *Registry, h Handle) *Ref {
	reg.mu.Lock()
	if e, ok := reg.byID[h]; ok {
		e.refs++
		reg.byID[h] = e
	}
	reg.mu.Unlock()
	return &Ref{reg: reg, h: h}
}

// Handle returns the underlying token.
func (r *Ref) Handle() Handle {
	if r == nil {
		return 0
	}
	return r.h
}

// Release drops the guard's reference. Safe to call more than once.
func (r *Ref) Release() {
	if r == nil || r.released {
		return
	}
	r.released = true
	r.reg.Release(r.h)
}

// String renders a handle for debug logging.
func (h Handle) String() string {
	return fmt.Sprintf("#%d", uint32(h))
}
