package pending

import (
	"errors"
	"testing"
)

func TestReceiveAssignsMonotonicIDs(t *testing.T) {
	q := NewQueue()
	m0 := q.Receive(1, TypeNormal, "hi", 100)
	m1 := q.Receive(1, TypeNormal, "there", 101)
	if m0.ID != 0 || m1.ID != 1 {
		t.Fatalf("ids = %d, %d, want 0, 1", m0.ID, m1.ID)
	}
	if q.Len() != 2 {
		t.Fatalf("Len = %d, want 2", q.Len())
	}
}

func TestAcknowledgePartialFailure(t *testing.T) {
	q := NewQueue()
	q.Receive(1, TypeNormal, "a", 0) // id 0
	q.Receive(1, TypeNormal, "b", 0) // id 1
	q.Receive(1, TypeNormal, "c", 0) // id 2

	err := q.Acknowledge([]uint{1, 5})
	if err == nil {
		t.Fatalf("expected error for unknown id 5")
	}
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}

	remaining := q.List(false)
	if len(remaining) != 2 {
		t.Fatalf("expected id 1 to have been removed before the failure, got %+v", remaining)
	}
	for _, m := range remaining {
		if m.ID == 1 {
			t.Fatalf("id 1 should have been removed despite the overall failure")
		}
	}
}

func TestListWithClear(t *testing.T) {
	q := NewQueue()
	q.Receive(1, TypeNormal, "a", 0)
	q.Receive(1, TypeNormal, "b", 0)

	msgs := q.List(true)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages returned")
	}
	if q.Len() != 0 {
		t.Fatalf("expected queue cleared, Len = %d", q.Len())
	}
}
