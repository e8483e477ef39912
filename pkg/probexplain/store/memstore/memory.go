package memstore

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/cognicore/probexplain/pkg/probexplain/internalerr"
	"github.com/cognicore/probexplain/pkg/probexplain/store"
)

// Store is an in-memory implementation of store.Store for tests and
// one-shot CLI runs.
type Store struct {
	mu       sync.RWMutex
	seq      int64
	runs     map[string]entry
	networks map[string]store.Network
}

type entry struct {
	seq int64
	run store.Run
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		runs:     make(map[string]entry),
		networks: make(map[string]store.Network),
	}
}

// Close implements store.Store.
func (s *Store) Close() error { return nil }

// SaveRun inserts or replaces a run, keyed by ID.
func (s *Store) SaveRun(ctx context.Context, r store.Run) error {
	if r.ID == "" {
		return fmt.Errorf("%w: run without id", internalerr.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	seq := s.seq
	if old, ok := s.runs[r.ID]; ok {
		seq = old.seq
	}
	s.runs[r.ID] = entry{seq: seq, run: copyRun(r)}
	return nil
}

// GetRun returns a run by ID.
func (s *Store) GetRun(ctx context.Context, id string) (store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.runs[id]
	if !ok {
		return store.Run{}, fmt.Errorf("%w: run %s", internalerr.ErrNotFound, id)
	}
	return copyRun(e.run), nil
}

// ListRuns returns matching runs, newest first.
func (s *Store) ListRuns(ctx context.Context, f store.Filter) ([]store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := f.Limit
	if limit <= 0 {
		limit = store.DefaultLimit
	}

	var matched []entry
	for _, e := range s.runs {
		if f.Algorithm != "" && e.run.Algorithm != f.Algorithm {
			continue
		}
		if f.Network != "" && e.run.Network != f.Network {
			continue
		}
		matched = append(matched, e)
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.run.CreatedAt.Equal(b.run.CreatedAt) {
			return a.run.CreatedAt.After(b.run.CreatedAt)
		}
		return a.seq > b.seq
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]store.Run, len(matched))
	for i, e := range matched {
		out[i] = copyRun(e.run)
	}
	return out, nil
}

// UpsertNetwork stores a network definition, keyed by name.
func (s *Store) UpsertNetwork(ctx context.Context, n store.Network) error {
	if n.Name == "" {
		return fmt.Errorf("%w: network without name", internalerr.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n.Source = slices.Clone(n.Source)
	s.networks[n.Name] = n
	return nil
}

// GetNetwork returns a network definition by name.
func (s *Store) GetNetwork(ctx context.Context, name string) (store.Network, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.networks[name]
	if !ok {
		return store.Network{}, false, nil
	}
	n.Source = slices.Clone(n.Source)
	return n, true, nil
}

func copyRun(r store.Run) store.Run {
	r.Targets = slices.Clone(r.Targets)
	r.Evidence = maps.Clone(r.Evidence)
	r.Payload = slices.Clone(r.Payload)
	return r
}
