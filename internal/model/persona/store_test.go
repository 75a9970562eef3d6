package persona

import "testing"

func TestMemoryStoreFindByID(t *testing.T) {
	store := NewMemoryStore(Seed())

	p, ok := store.FindByID("tutor")
	if !ok || p.Name != "Patient tutor" {
		t.Fatalf("FindByID(tutor) = %+v, %v", p, ok)
	}

	if _, ok := store.FindByID("missing"); ok {
		t.Fatal("expected missing persona")
	}
}

func TestMemoryStoreListIsACopy(t *testing.T) {
	store := NewMemoryStore(Seed())
	list := store.List()
	list[0].Name = "changed"

	if store.List()[0].Name == "changed" {
		t.Fatal("List must return a copy")
	}
}

func TestResolve(t *testing.T) {
	store := NewMemoryStore(Seed())

	p, ok := Resolve(store, "unknown", "")
	if ok || p.ID != DefaultID {
		t.Fatalf("expected fallback to %s, got %+v (found=%v)", DefaultID, p, ok)
	}
	if p.Preamble != "" {
		t.Fatalf("default persona should have no preamble, got %q", p.Preamble)
	}

	p, ok = Resolve(store, "concise", "Speak like a pirate.")
	if !ok || p.ID != "concise" || p.Preamble != "Speak like a pirate." {
		t.Fatalf("unexpected override result: %+v", p)
	}
}
