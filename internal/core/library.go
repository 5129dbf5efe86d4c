package core

import (
	"context"
	"sort"
	"strings"
	"sync"

	"bibstat/pkg/domain"
)

// LibraryResolver looks up library records in the external registry.
type LibraryResolver interface {
	Resolve(ctx context.Context, sigel string) (domain.LibraryRecord, error)
}

// StaticRegistry is an in-process LibraryResolver keyed by sigel.
type StaticRegistry struct {
	mu      sync.RWMutex
	records map[string]domain.LibraryRecord
}

// NewStaticRegistry seeds a registry with records.
func NewStaticRegistry(records ...domain.LibraryRecord) *StaticRegistry {
	r := &StaticRegistry{records: make(map[string]domain.LibraryRecord, len(records))}
	for _, rec := range records {
		r.Add(rec)
	}
	return r
}

// Add inserts or replaces a record.
func (r *StaticRegistry) Add(rec domain.LibraryRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[strings.TrimSpace(rec.Sigel)] = rec
}

// Resolve implements LibraryResolver.
func (r *StaticRegistry) Resolve(_ context.Context, sigel string) (domain.LibraryRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[strings.TrimSpace(sigel)]
	if !ok {
		return domain.LibraryRecord{}, domain.NotFoundError{Entity: domain.EntityLibrary, ID: sigel}
	}
	return rec, nil
}

// Sigels lists the registered sigels in order.
func (r *StaticRegistry) Sigels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.records))
	for sigel := range r.records {
		out = append(out, sigel)
	}
	sort.Strings(out)
	return out
}
