package persona

// Store exposes persona retrieval.
type Store interface {
	List() []Persona
	FindByID(id string) (Persona, bool)
}

// MemoryStore implements Store with an in-memory slice.
type MemoryStore struct {
	items []Persona
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied personas.
func NewMemoryStore(items []Persona) *MemoryStore {
	return &MemoryStore{items: append([]Persona(nil), items...)}
}

// List returns the known personas.
func (s *MemoryStore) List() []Persona {
	return append([]Persona(nil), s.items...)
}

// FindByID looks up a persona by identifier.
func (s *MemoryStore) FindByID(id string) (Persona, bool) {
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return Persona{}, false
}

// Resolve returns the persona with the given id, falling back to DefaultID, and
// applies a non-empty preamble override.
func Resolve(store Store, id, preambleOverride string) (Persona, bool) {
	p, ok := store.FindByID(id)
	if !ok {
		p, _ = store.FindByID(DefaultID)
	}
	if preambleOverride != "" {
		p.Preamble = preambleOverride
	}
	return p, ok
}
