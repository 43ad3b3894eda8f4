// Package memory is the in-process run ledger used when no database is
// configured. It keeps the most recent runs per user up to a fixed cap.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	domain "github.com/bryanwahyu/sans-pilot/internal/domain/runs"
)

// DefaultCapacity bounds the records kept per user.
const DefaultCapacity = 500

type RunRepository struct {
	mu       sync.RWMutex
	byUser   map[string][]*domain.Record
	capacity int
}

func NewRunRepository(capacity int) *RunRepository {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &RunRepository{byUser: make(map[string][]*domain.Record), capacity: capacity}
}

func (r *RunRepository) Save(_ context.Context, rec *domain.Record) error {
	if rec.ID == "" {
		rec.ID = domain.RecordID(uuid.NewString())
	}
	cp := *rec

	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.byUser[cp.UserID]
	for i, existing := range list {
		if existing.ID == cp.ID {
			list[i] = &cp
			return nil
		}
	}
	list = append(list, &cp)
	if len(list) > r.capacity {
		list = list[len(list)-r.capacity:]
	}
	r.byUser[cp.UserID] = list
	return nil
}

func (r *RunRepository) Latest(_ context.Context, userID string, limit int) ([]*domain.Record, error) {
	if limit <= 0 {
		limit = 20
	}
	r.mu.RLock()
	list := r.byUser[userID]
	out := make([]*domain.Record, 0, len(list))
	for _, rec := range list {
		cp := *rec
		out = append(out, &cp)
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].RunToken > out[j].RunToken
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *RunRepository) Ping(context.Context) error { return nil }
