// Package membership implements the three disjoint-by-convention contact
// sets a MUC channel tracks (current, local-pending, remote-pending) and
// the batched set algebra used to change them.
package membership

import "github.com/dalnet/ircmuc/internal/handle"

// Reason mirrors the session-bus change-reason vocabulary attached to a
// members-changed event.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonInvited
	ReasonKicked
	ReasonError
)

// Sets holds the three membership sets. Construct one with New; the zero
// value has nil maps and ChangeSets cannot add to it.
type Sets struct {
	current       map[handle.Handle]struct{}
	localPending  map[handle.Handle]struct{}
	remotePending map[handle.Handle]struct{}
}

// New returns an empty set of sets.
func New() *Sets {
	return &Sets{
		current:       make(map[handle.Handle]struct{}),
		localPending:  make(map[handle.Handle]struct{}),
		remotePending: make(map[handle.Handle]struct{}),
	}
}

// Diff is the result of a batched change: four disjoint handle lists ready
// to hand to a members-changed event.
type Diff struct {
	Added         []handle.Handle
	Removed       []handle.Handle
	LocalPending  []handle.Handle
	RemotePending []handle.Handle
	Actor         handle.Handle
	Reason        Reason
}

// Empty reports whether the diff carries no changes at all, in which case
// callers should suppress the members-changed emission entirely.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.LocalPending) == 0 && len(d.RemotePending) == 0
}

func (s *Sets) Current() []handle.Handle       { return keys(s.current) }
func (s *Sets) LocalPending() []handle.Handle  { return keys(s.localPending) }
func (s *Sets) RemotePending() []handle.Handle { return keys(s.remotePending) }

// InCurrent, InLocalPending and InRemotePending report set membership.
func (s *Sets) InCurrent(h handle.Handle) bool       { _, ok := s.current[h]; return ok }
func (s *Sets) InLocalPending(h handle.Handle) bool  { _, ok := s.localPending[h]; return ok }
func (s *Sets) InRemotePending(h handle.Handle) bool { _, ok := s.remotePending[h]; return ok }

// ChangeSets applies all six deltas atomically and returns the single net
// Diff that should drive one members-changed emission. Per spec, a handle
// that is removed from one set but re-added (to current, local-pending, or
// remote-pending) within the same call never appears in Diff.Removed: this
// prevents spurious flapping when a server event moves a handle between
// sets in one logical step.
func (s *Sets) ChangeSets(
	addCurrent, removeCurrent,
	addLocal, removeLocal,
	addRemote, removeRemote []handle.Handle,
	actor handle.Handle, reason Reason,
) Diff {
	addedSet := toSet(addCurrent, addLocal, addRemote)
	removedSet := toSet(removeCurrent, removeLocal, removeRemote)

	for _, h := range addCurrent {
		s.current[h] = struct{}{}
		delete(s.localPending, h)
		delete(s.remotePending, h)
	}
	for _, h := range addLocal {
		s.localPending[h] = struct{}{}
		delete(s.current, h)
		delete(s.remotePending, h)
	}
	for _, h := range addRemote {
		s.remotePending[h] = struct{}{}
		delete(s.current, h)
		delete(s.localPending, h)
	}
	for _, h := range removeCurrent {
		delete(s.current, h)
	}
	for _, h := range removeLocal {
		delete(s.localPending, h)
	}
	for _, h := range removeRemote {
		delete(s.remotePending, h)
	}

	var removed []handle.Handle
	for h := range removedSet {
		if _, reAdded := addedSet[h]; reAdded {
			continue
		}
		// Also suppress a removal if the handle now sits in any set,
		// which happens when overlapping add/remove deltas target the
		// same handle from different sets in one call.
		if s.InCurrent(h) || s.InLocalPending(h) || s.InRemotePending(h) {
			continue
		}
		removed = append(removed, h)
	}

	return Diff{
		Added:         dedupe(addCurrent),
		Removed:       removed,
		LocalPending:  dedupe(addLocal),
		RemotePending: dedupe(addRemote),
		Actor:         actor,
		Reason:        reason,
	}
}

func toSet(lists ...[]handle.Handle) map[handle.Handle]struct{} {
	out := make(map[handle.Handle]struct{})
	for _, l := range lists {
		for _, h := range l {
			out[h] = struct{}{}
		}
	}
	return out
}

func dedupe(hs []handle.Handle) []handle.Handle {
	if len(hs) == 0 {
		return nil
	}
	seen := make(map[handle.Handle]struct{}, len(hs))
	out := make([]handle.Handle, 0, len(hs))
	for _, h := range hs {
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	return out
}

func keys(m map[handle.Handle]struct{}) []handle.Handle {
	out := make([]handle.Handle, 0, len(m))
	for h := range m {
		out = append(out, h)
	}
	return out
}
