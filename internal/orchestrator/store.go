package orchestrator

// DefaultHistorySize is the number of boosts an InMemoryStore keeps.
const DefaultHistorySize = 500

// Store is the persistence abstraction for the boost history.
// The Repository uses Store for all reads and writes; callers of Repository
// do not need to know which Store is used.
type Store interface {
	Get(eventID string) (BoostRecord, bool)
	// Put inserts rec, evicting the oldest record when the store is full.
	Put(rec BoostRecord)
	// List returns the records oldest first.
	List() []BoostRecord
}

// InMemoryStore is a bounded in-memory implementation of Store.
type InMemoryStore struct {
	capacity int
	order    []string
	records  map[string]BoostRecord
}

// NewInMemoryStore returns an empty store keeping at most capacity records.
// If capacity <= 0, DefaultHistorySize is used.
func NewInMemoryStore(capacity int) *InMemoryStore {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &InMemoryStore{
		capacity: capacity,
		records:  make(map[string]BoostRecord, capacity),
	}
}

// Get implements Store.Get.
func (s *InMemoryStore) Get(eventID string) (BoostRecord, bool) {
	rec, ok := s.records[eventID]
	return rec, ok
}

// Put implements Store.Put. Putting a known event ID replaces the record in
// place.
func (s *InMemoryStore) Put(rec BoostRecord) {
	if _, ok := s.records[rec.EventID]; ok {
		s.records[rec.EventID] = rec
		return
	}
	if len(s.order) >= s.capacity {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.records, oldest)
	}
	s.order = append(s.order, rec.EventID)
	s.records[rec.EventID] = rec
}

// List implements Store.List.
func (s *InMemoryStore) List() []BoostRecord {
	out := make([]BoostRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id])
	}
	return out
}
