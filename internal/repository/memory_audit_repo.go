package repository

import (
	"context"
	"sort"
	"sync"

	"storefront-auth/internal/model"
)

// MemoryAuditRepository keeps the audit trail in process memory, newest last.
type MemoryAuditRepository struct {
	mu      sync.RWMutex
	entries []model.AuditEntry
}

func NewMemoryAuditRepository() *MemoryAuditRepository {
	return &MemoryAuditRepository{}
}

func (r *MemoryAuditRepository) Append(_ context.Context, entry model.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = append(r.entries, entry)
	return nil
}

func (r *MemoryAuditRepository) Query(_ context.Context, query model.AuditQuery) ([]model.AuditEntry, int, error) {
	r.mu.RLock()
	matched := make([]model.AuditEntry, 0, len(r.entries))
	for _, e := range r.entries {
		if query.Type != "" && e.Type != query.Type {
			continue
		}
		if query.SubjectID != "" && e.SubjectID != query.SubjectID {
			continue
		}
		if !query.From.IsZero() && e.OccurredAt.Before(query.From) {
			continue
		}
		if !query.To.IsZero() && e.OccurredAt.After(query.To) {
			continue
		}
		matched = append(matched, e)
	}
	r.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].OccurredAt.After(matched[j].OccurredAt)
	})

	total := len(matched)
	start := min((query.Page-1)*query.Limit, total)
	end := min(start+query.Limit, total)
	return matched[start:end], total, nil
}
