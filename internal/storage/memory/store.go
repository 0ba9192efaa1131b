// Package memory keeps request logs in process memory.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/containerd/errdefs"

	"github.com/tjfontaine/reqpipe/internal/core/domain"
	"github.com/tjfontaine/reqpipe/internal/core/ports"
)

// DefaultMaxEntries bounds the store when New is given no limit.
const DefaultMaxEntries = 10000

// Store is an in-memory implementation of RequestLogStore. The oldest
// entries are evicted once the limit is reached.
type Store struct {
	mu      sync.RWMutex
	max     int
	order   []string
	entries map[string]*domain.RequestLog
}

var _ ports.RequestLogStore = (*Store)(nil)

// New creates a new in-memory store holding at most maxEntries entries.
func New(maxEntries int) *Store {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Store{
		max:     maxEntries,
		entries: make(map[string]*domain.RequestLog),
	}
}

func (s *Store) SaveRequestLog(ctx context.Context, entry *domain.RequestLog) error {
	if entry == nil || entry.ID == "" {
		return fmt.Errorf("%w: request log requires an id", domain.ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[entry.ID]; exists {
		return fmt.Errorf("request log %s: %w", entry.ID, errdefs.ErrAlreadyExists)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	cp := *entry
	s.entries[entry.ID] = &cp
	s.order = append(s.order, entry.ID)

	for len(s.order) > s.max {
		delete(s.entries, s.order[0])
		s.order = s.order[1:]
	}
	return nil
}

func (s *Store) GetRequestLog(ctx context.Context, id string) (*domain.RequestLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.entries[id]
	if !exists {
		return nil, fmt.Errorf("request log %s: %w", id, errdefs.ErrNotFound)
	}
	cp := *entry
	return &cp, nil
}

func (s *Store) ListRequestLogs(ctx context.Context, opts ports.ListOptions) ([]*domain.RequestLog, error) {
	if opts.Limit <= 0 {
		opts.Limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.RequestLog
	for _, id := range slices.Backward(s.order) {
		e := s.entries[id]
		if opts.FailedOnly && e.Error == "" {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}

	// Insertion order, newest first.
	start := opts.Offset
	if start >= len(result) {
		return []*domain.RequestLog{}, nil
	}
	end := min(start+opts.Limit, len(result))
	return result[start:end], nil
}

func (s *Store) Close() error {
	return nil
}
