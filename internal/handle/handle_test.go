package handle

import "testing"

func TestRegistryInternsAndRefcounts(t *testing.T) {
	reg := NewRegistry()

	h1 := reg.Ref(KindContact, "alice")
	h2 := reg.Ref(KindContact, "alice")
	if h1 != h2 {
		t.Fatalf("expected same handle for repeated interning, got %v and %v", h1, h2)
	}

	name, ok := reg.NameOf(h1)
	if !ok || name != "alice" {
		t.Fatalf("NameOf(%v) = %q, %v", h1, name, ok)
	}

	reg.Release(h1)
	if _, ok := reg.NameOf(h1); !ok {
		t.Fatalf("handle released too early: still one outstanding ref")
	}

	reg.Release(h2)
	if _, ok := reg.NameOf(h1); ok {
		t.Fatalf("handle should be freed once all refs are released")
	}
}

func TestRegistryDistinctKinds(t *testing.T) {
	reg := NewRegistry()
	room := reg.Ref(KindRoom, "#test")
	contact := reg.Ref(KindContact, "#test")
	if room == contact {
		t.Fatalf("room and contact handles for the same name should not collide")
	}
}

func TestRefRelease(t *testing.T) {
	reg := NewRegistry()
	r := NewRef(reg, KindContact, "bob")
	h := r.Handle()
	if _, ok := reg.NameOf(h); !ok {
		t.Fatalf("expected handle to be live")
	}
	r.Release()
	r.Release() // double release is a no-op
	if _, ok := reg.NameOf(h); ok {
		t.Fatalf("expected handle to be freed after Release")
	}
}

func TestHandleOfWithoutTakingReference(t *testing.T) {
	reg := NewRegistry()
	r := NewRef(reg, KindContact, "carol")
	defer r.Release()

	h, ok := reg.HandleOf(KindContact, "carol")
	if !ok || h != r.Handle() {
		t.Fatalf("HandleOf mismatch: %v, %v", h, ok)
	}
	if _, ok := reg.HandleOf(KindContact, "dave"); ok {
		t.Fatalf("expected HandleOf for unknown name to fail")
	}
}
