// Package memory provides an in-memory implementation of transport.RunStore
// for testing and lightweight deployments. Runs are stored in memory and
// lost when the process restarts. Optional LRU eviction limits memory usage.
package memory

import (
	"container/list"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/arenabench/agentbox/pkg/api"
	"github.com/arenabench/agentbox/pkg/storage"
	"github.com/arenabench/agentbox/pkg/transport"
)

// entry holds a stored run and its metadata.
type entry struct {
	rec       *api.RunRecord
	tenantID  string
	deletedAt *time.Time
	lruElem   *list.Element // position in LRU list
}

// Store is an in-memory RunStore with optional LRU eviction.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	lruList *list.List // front = most recently used, back = least recently used
	maxSize int        // 0 = unlimited
}

// Ensure Store implements transport.RunStore at compile time.
var _ transport.RunStore = (*Store)(nil)

// New creates a new in-memory store. If maxSize is 0, the store grows
// without limit. If maxSize > 0, the oldest entry is evicted when the
// limit is reached.
func New(maxSize int) *Store {
	return &Store{
		entries: make(map[string]*entry),
		lruList: list.New(),
		maxSize: maxSize,
	}
}

// SaveRun persists a run record in memory.
func (s *Store) SaveRun(ctx context.Context, rec *api.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[rec.ID]; exists {
		return storage.ErrConflict
	}

	tenantID := storage.GetTenant(ctx)

	// Evict if at capacity.
	if s.maxSize > 0 && len(s.entries) >= s.maxSize {
		s.evictOldest()
	}

	elem := s.lruList.PushFront(rec.ID)
	s.entries[rec.ID] = &entry{
		rec:      rec,
		tenantID: tenantID,
		lruElem:  elem,
	}

	return nil
}

// GetRun retrieves a run by ID. Returns ErrNotFound if the run does not
// exist or has been soft-deleted. Scoped by tenant when a tenant is
// present in the context.
func (s *Store) GetRun(ctx context.Context, id string) (*api.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok || e.deletedAt != nil {
		return nil, storage.ErrNotFound
	}

	// Tenant scoping.
	tenantID := storage.GetTenant(ctx)
	if tenantID != "" && e.tenantID != tenantID {
		return nil, storage.ErrNotFound
	}

	return e.rec, nil
}

// DeleteRun soft-deletes a run. The record stays in memory so ledger
// totals remain stable, but it disappears from reads and listings.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || e.deletedAt != nil {
		return storage.ErrNotFound
	}

	// Tenant scoping.
	tenantID := storage.GetTenant(ctx)
	if tenantID != "" && e.tenantID != tenantID {
		return storage.ErrNotFound
	}

	now := time.Now()
	e.deletedAt = &now
	return nil
}

// HealthCheck always returns nil for the in-memory store.
func (s *Store) HealthCheck(_ context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

// ListRuns returns a paginated list of stored runs filtered by tenant
// and optionally by agent and status, with cursor-based pagination.
func (s *Store) ListRuns(ctx context.Context, opts transport.ListOptions) (*api.RunList, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tenantID := storage.GetTenant(ctx)

	// Collect matching entries.
	var matches []*api.RunRecord
	for _, e := range s.entries {
		if e.deletedAt != nil {
			continue
		}
		if tenantID != "" && e.tenantID != tenantID {
			continue
		}
		if opts.Agent != "" && e.rec.Agent != opts.Agent {
			continue
		}
		if opts.Status != "" && e.rec.Status != opts.Status {
			continue
		}
		matches = append(matches, e.rec)
	}

	// Sort by created. Default is desc (newest first).
	asc := opts.Order == "asc"
	sort.Slice(matches, func(i, j int) bool {
		if asc {
			if matches[i].Created != matches[j].Created {
				return matches[i].Created < matches[j].Created
			}
			return matches[i].ID < matches[j].ID
		}
		if matches[i].Created != matches[j].Created {
			return matches[i].Created > matches[j].Created
		}
		return matches[i].ID > matches[j].ID
	})

	// Apply cursor-based pagination.
	if opts.After != "" {
		idx := -1
		for i, r := range matches {
			if r.ID == opts.After {
				idx = i
				break
			}
		}
		if idx >= 0 {
			matches = matches[idx+1:]
		} else {
			matches = nil
		}
	} else if opts.Before != "" {
		idx := -1
		for i, r := range matches {
			if r.ID == opts.Before {
				idx = i
				break
			}
		}
		if idx > 0 {
			matches = matches[:idx]
		} else {
			matches = nil
		}
	}

	// Apply limit.
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	hasMore := len(matches) > limit
	if hasMore {
		matches = matches[:limit]
	}

	result := &api.RunList{
		Object:  "list",
		Data:    make([]api.RunRecord, 0, len(matches)),
		HasMore: hasMore,
	}
	for _, r := range matches {
		result.Data = append(result.Data, *r)
	}
	if len(result.Data) > 0 {
		result.FirstID = result.Data[0].ID
		result.LastID = result.Data[len(result.Data)-1].ID
	}

	return result, nil
}

// evictOldest removes the least recently used entry.
// Must be called with s.mu held.
func (s *Store) evictOldest() {
	back := s.lruList.Back()
	if back == nil {
		return
	}

	id := back.Value.(string)
	s.lruList.Remove(back)
	delete(s.entries, id)
}
