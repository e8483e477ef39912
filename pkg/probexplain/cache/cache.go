// Package cache memoizes posterior, MAP and likelihood queries against one
// model instance.
//
// Entries are tagged with the model epoch they were computed at. A lookup
// that finds an entry from an older epoch treats it as absent and drops it,
// so parameter or evidence changes are never served stale. Concurrent misses
// on the same key and epoch share one delegation to the model.
package cache

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/cognicore/probexplain/pkg/probexplain/internalerr"
	"github.com/cognicore/probexplain/pkg/probexplain/model"
)

// Kind is the type of a cached query.
type Kind int

const (
	KindPosterior Kind = iota + 1
	KindMAP
	KindLogLikelihood
)

func (k Kind) String() string {
	switch k {
	case KindPosterior:
		return "posterior"
	case KindMAP:
		return "map"
	case KindLogLikelihood:
		return "loglik"
	default:
		return "unknown"
	}
}

// Query is the cache key. Targets and Evidence are canonical encodings, so
// two queries over the same target set and evidence mapping compare equal
// whatever order they were written in.
type Query struct {
	Model    string
	Kind     Kind
	Targets  string
	Evidence string
}

func (q Query) String() string {
	return fmt.Sprintf("%s|%s|%s|%s", q.Model, q.Kind, q.Targets, q.Evidence)
}

type entry struct {
	epoch uint64
	value any
}

// mapResult is the cached value of a MAP query.
type mapResult struct {
	assignment model.Assignment
	prob       float64
}

// Options configures a Cache.
type Options struct {
	// Capacity bounds the number of entries with LRU eviction. Zero means
	// unbounded.
	Capacity int
	Logger   *zap.Logger
}

// Cache memoizes queries for a single model.
type Cache struct {
	id    string
	model model.Model
	log   *zap.Logger

	mu      sync.Mutex
	entries map[Query]entry
	bounded *lru.Cache[Query, entry]
	flight  singleflight.Group

	hits        atomic.Uint64
	misses      atomic.Uint64
	delegations atomic.Uint64
	coalesced   atomic.Uint64
	stale       atomic.Uint64
}

// New returns an empty cache for m.
func New(m model.Model, opts Options) (*Cache, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil model", internalerr.ErrInvalidInput)
	}
	if opts.Capacity < 0 {
		return nil, fmt.Errorf("%w: negative cache capacity %d", internalerr.ErrInvalidConfig, opts.Capacity)
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	c := &Cache{
		id:    ulid.Make().String(),
		model: m,
	}
	c.log = log.With(zap.String("cache", c.id))
	if opts.Capacity > 0 {
		b, err := lru.New[Query, entry](opts.Capacity)
		if err != nil {
			return nil, err
		}
		c.bounded = b
	} else {
		c.entries = make(map[Query]entry)
	}
	return c, nil
}

// ID identifies the model instance this cache belongs to.
func (c *Cache) ID() string { return c.id }

// Model returns the cached model.
func (c *Cache) Model() model.Model { return c.model }

// Posterior returns P(targets | e), from the cache when possible. The
// distribution lists the targets sorted by name.
func (c *Cache) Posterior(targets []string, e model.Evidence) (model.Distribution, error) {
	d, _, err := c.posterior(targets, e)
	return d, err
}

// MAP returns the most probable assignment to targets given e.
func (c *Cache) MAP(targets []string, e model.Evidence) (model.Assignment, float64, error) {
	a, p, _, err := c.mapQuery(targets, e)
	return a, p, err
}

// LogLikelihood returns log P(e).
func (c *Cache) LogLikelihood(e model.Evidence) (float64, error) {
	ll, _, err := c.logLikelihood(e)
	return ll, err
}

func (c *Cache) posterior(targets []string, e model.Evidence) (model.Distribution, bool, error) {
	v, hit, err := c.lookup(c.key(KindPosterior, targets, e), func() (any, error) {
		return c.model.Posterior(canonicalTargets(targets), e)
	})
	if err != nil {
		return model.Distribution{}, hit, err
	}
	return v.(model.Distribution).Clone(), hit, nil
}

func (c *Cache) mapQuery(targets []string, e model.Evidence) (model.Assignment, float64, bool, error) {
	v, hit, err := c.lookup(c.key(KindMAP, targets, e), func() (any, error) {
		a, p, err := c.model.MAP(canonicalTargets(targets), e)
		if err != nil {
			return nil, err
		}
		return mapResult{assignment: a, prob: p}, nil
	})
	if err != nil {
		return nil, 0, hit, err
	}
	r := v.(mapResult)
	return r.assignment.Clone(), r.prob, hit, nil
}

func (c *Cache) logLikelihood(e model.Evidence) (float64, bool, error) {
	v, hit, err := c.lookup(c.key(KindLogLikelihood, nil, e), func() (any, error) {
		return c.model.LogLikelihood(e)
	})
	if err != nil {
		return 0, hit, err
	}
	return v.(float64), hit, nil
}

func (c *Cache) key(kind Kind, targets []string, e model.Evidence) Query {
	return Query{
		Model:    c.id,
		Kind:     kind,
		Targets:  strings.Join(canonicalTargets(targets), "\x1f"),
		Evidence: e.Key(),
	}
}

// canonicalTargets sorts and deduplicates target names. Delegations always
// use this order, so a cached distribution lists its variables sorted.
func canonicalTargets(targets []string) []string {
	out := slices.Clone(targets)
	slices.Sort(out)
	return slices.Compact(out)
}

// lookup returns the value for q at the current epoch. hit reports whether
// it came from the store without waiting on a computation.
func (c *Cache) lookup(q Query, compute func() (any, error)) (value any, hit bool, err error) {
	epoch := c.model.Epoch()
	if v, ok := c.get(q, epoch); ok {
		c.hits.Add(1)
		return v, true, nil
	}
	c.misses.Add(1)

	flightKey := fmt.Sprintf("%s@%d", q, epoch)
	v, err, shared := c.flight.Do(flightKey, func() (any, error) {
		// A flight for this key may have finished just before ours started.
		if v, ok := c.get(q, epoch); ok {
			return v, nil
		}
		c.delegations.Add(1)
		v, err := compute()
		if err != nil {
			c.log.Debug("delegation failed", zap.Stringer("query", q), zap.Error(err))
			return nil, err
		}
		if now := c.model.Epoch(); now == epoch {
			c.put(q, entry{epoch: epoch, value: v})
		} else {
			c.log.Debug("model changed during delegation, not caching",
				zap.Stringer("query", q), zap.Uint64("epoch", epoch), zap.Uint64("now", now))
		}
		return v, nil
	})
	if shared {
		c.coalesced.Add(1)
	}
	return v, false, err
}

func (c *Cache) get(q Query, epoch uint64) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var (
		e  entry
		ok bool
	)
	if c.bounded != nil {
		e, ok = c.bounded.Get(q)
	} else {
		e, ok = c.entries[q]
	}
	if !ok {
		return nil, false
	}
	if e.epoch != epoch {
		c.remove(q)
		c.stale.Add(1)
		c.log.Debug("stale entry dropped", zap.Stringer("query", q),
			zap.Uint64("entry_epoch", e.epoch), zap.Uint64("epoch", epoch))
		return nil, false
	}
	return e.value, true
}

func (c *Cache) put(q Query, e entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bounded != nil {
		c.bounded.Add(q, e)
		return
	}
	c.entries[q] = e
}

func (c *Cache) remove(q Query) {
	if c.bounded != nil {
		c.bounded.Remove(q)
		return
	}
	delete(c.entries, q)
}

// Len returns the number of stored entries, stale ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bounded != nil {
		return c.bounded.Len()
	}
	return len(c.entries)
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bounded != nil {
		c.bounded.Purge()
		return
	}
	clear(c.entries)
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits        uint64 `json:"hits"`
	Misses      uint64 `json:"misses"`
	Delegations uint64 `json:"delegations"`
	Coalesced   uint64 `json:"coalesced"`
	Stale       uint64 `json:"stale"`
	Entries     int    `json:"entries"`
}

// HitRatio returns hits over lookups, or zero before the first lookup.
func (s Stats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Stats returns the current counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Delegations: c.delegations.Load(),
		Coalesced:   c.coalesced.Load(),
		Stale:       c.stale.Load(),
		Entries:     c.Len(),
	}
}
