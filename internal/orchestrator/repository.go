package orchestrator

import (
	"errors"
	"sync"
)

// Repository defines the concurrency-safe contract for the boost history.
type Repository interface {
	// Record stores the outcome of one receipt. Each event ID is recorded
	// once; a second Record for the same ID returns ErrAlreadyRecorded and
	// leaves the history untouched.
	Record(rec BoostRecord) error

	// Recent returns at most limit records, newest first. A limit <= 0
	// returns everything the store holds.
	Recent(limit int) []BoostRecord

	// Totals returns counters over every record since startup.
	Totals() Totals
}

var (
	// ErrMissingEventID is returned when a record has no event ID.
	ErrMissingEventID = errors.New("boost record without event id")

	// ErrAlreadyRecorded is returned when the event ID is already in the
	// history.
	ErrAlreadyRecorded = errors.New("boost already recorded")
)

// InMemoryRepository is a concurrency-safe implementation of Repository.
// It uses a Store for persistence; by default that is an InMemoryStore.
type InMemoryRepository struct {
	mu     sync.RWMutex
	store  Store
	totals Totals
}

// NewInMemoryRepository constructs a repository over a default in-memory
// store of the given capacity.
func NewInMemoryRepository(capacity int) *InMemoryRepository {
	return NewInMemoryRepositoryWithStore(NewInMemoryStore(capacity))
}

// NewInMemoryRepositoryWithStore constructs a repository that uses the given Store.
// Useful for testing or for plugging in a different persistence backend.
func NewInMemoryRepositoryWithStore(store Store) *InMemoryRepository {
	return &InMemoryRepository{store: store}
}

// Record implements Repository.Record.
func (r *InMemoryRepository) Record(rec BoostRecord) error {
	if rec.EventID == "" {
		return ErrMissingEventID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.store.Get(rec.EventID); exists {
		return ErrAlreadyRecorded
	}
	r.store.Put(rec)

	r.totals.Boosts++
	switch rec.Outcome {
	case OutcomeTriggered:
		r.totals.Triggered++
	case OutcomeUnconfirmed:
		r.totals.Unconfirmed++
	}
	r.totals.AmountMsat += rec.AmountMsat
	return nil
}

// Recent implements Repository.Recent.
func (r *InMemoryRepository) Recent(limit int) []BoostRecord {
	r.mu.RLock()
	all := r.store.List()
	r.mu.RUnlock()

	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}
	out := make([]BoostRecord, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out
}

// Totals implements Repository.Totals.
func (r *InMemoryRepository) Totals() Totals {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.totals
}
