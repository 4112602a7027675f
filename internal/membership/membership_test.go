package membership

import (
	"reflect"
	"sort"
	"testing"

	"github.com/dalnet/ircmuc/internal/handle"
)

func sorted(hs []handle.Handle) []handle.Handle {
	out := append([]handle.Handle(nil), hs...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func TestChangeSetsBasicAdd(t *testing.T) {
	s := New()
	diff := s.ChangeSets([]handle.Handle{1, 2}, nil, nil, nil, nil, nil, 0, ReasonNone)
	if !reflect.DeepEqual(sorted(diff.Added), []handle.Handle{1, 2}) {
		t.Fatalf("Added = %v", diff.Added)
	}
	if len(diff.Removed) != 0 {
		t.Fatalf("Removed = %v, want empty", diff.Removed)
	}
	if !s.InCurrent(1) || !s.InCurrent(2) {
		t.Fatalf("expected 1 and 2 in current")
	}
}

func TestChangeSetsSuppressesReAddedRemovals(t *testing.T) {
	s := New()
	s.ChangeSets([]handle.Handle{5}, nil, nil, nil, nil, nil, 0, ReasonNone)

	// Handle 5 is removed from current but simultaneously re-added to
	// remote-pending (e.g. server moved it between sets in one event);
	// it must not appear as "removed".
	diff := s.ChangeSets(nil, []handle.Handle{5}, nil, nil, []handle.Handle{5}, nil, 0, ReasonNone)
	if len(diff.Removed) != 0 {
		t.Fatalf("Removed = %v, want empty (handle moved to remote-pending)", diff.Removed)
	}
	if !s.InRemotePending(5) {
		t.Fatalf("expected handle 5 in remote-pending")
	}
	if s.InCurrent(5) {
		t.Fatalf("handle 5 should no longer be current")
	}
}

func TestChangeSetsDisjointAfterEveryCall(t *testing.T) {
	s := New()
	s.ChangeSets([]handle.Handle{1}, nil, nil, nil, nil, nil, 0, ReasonNone)
	s.ChangeSets(nil, nil, []handle.Handle{1}, nil, nil, nil, 0, ReasonNone)

	if s.InCurrent(1) {
		t.Fatalf("handle should have moved out of current")
	}
	if !s.InLocalPending(1) {
		t.Fatalf("handle should be local-pending")
	}
}

func TestChangeSetsActualRemoval(t *testing.T) {
	s := New()
	s.ChangeSets([]handle.Handle{9}, nil, nil, nil, nil, nil, 0, ReasonNone)
	diff := s.ChangeSets(nil, []handle.Handle{9}, nil, nil, nil, nil, 7, ReasonKicked)
	if !reflect.DeepEqual(diff.Removed, []handle.Handle{9}) {
		t.Fatalf("Removed = %v, want [9]", diff.Removed)
	}
	if diff.Actor != 7 || diff.Reason != ReasonKicked {
		t.Fatalf("actor/reason not carried through: %+v", diff)
	}
}
