// ABOUTME: In-memory registry of live conversation records keyed by conversation id
// ABOUTME: Safe for concurrent use by webhook handlers and background sweeps

package conversation

import (
	"sort"
	"sync"
	"time"
)

// Registry owns the set of live conversation records.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*Record
	now     func() time.Time
}

// NewRegistry creates an empty registry. A nil clock uses time.Now.
func NewRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		records: make(map[string]*Record),
		now:     now,
	}
}

// Create stores a fresh record for id, replacing any previous one.
func (r *Registry) Create(id, address string) (*Record, error) {
	if id == "" || address == "" {
		return nil, ErrDuplicateOrInvalidInput
	}
	rec := newRecord(id, address, r.now)

	r.mu.Lock()
	r.records[id] = rec
	r.mu.Unlock()
	return rec, nil
}

// GetOrCreate returns the record for id, creating it atomically if absent.
// created is true only for the caller that inserted it.
func (r *Registry) GetOrCreate(id, address string) (rec *Record, created bool, err error) {
	if id == "" || address == "" {
		return nil, false, ErrDuplicateOrInvalidInput
	}

	r.mu.RLock()
	rec, ok := r.records[id]
	r.mu.RUnlock()
	if ok {
		return rec, false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[id]; ok {
		return rec, false, nil
	}
	rec = newRecord(id, address, r.now)
	r.records[id] = rec
	return rec, true, nil
}

// Get returns the record for id and whether it exists.
func (r *Registry) Get(id string) (*Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	return rec, ok
}

// Delete removes the record for id, if any.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	delete(r.records, id)
	r.mu.Unlock()
}

// Remove deletes id only while it still maps to rec, so a record created
// after rec was looked up is never removed by mistake.
func (r *Registry) Remove(rec *Record) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.records[rec.ID()]; ok && cur == rec {
		delete(r.records, rec.ID())
		return true
	}
	return false
}

// All returns the live records ordered by start time.
func (r *Registry) All() []*Record {
	r.mu.RLock()
	out := make([]*Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		si, sj := out[i].StartTime(), out[j].StartTime()
		if si.Equal(sj) {
			return out[i].ID() < out[j].ID()
		}
		return si.Before(sj)
	})
	return out
}

// Count returns the number of live records.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}
