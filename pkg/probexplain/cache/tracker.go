package cache

import (
	"sync/atomic"

	"github.com/cognicore/probexplain/pkg/probexplain/model"
)

// Tracker is a view of a Cache that counts its own queries and hits. Each
// algorithm invocation takes one, so its provenance reflects only the work
// it did even while other callers share the cache.
type Tracker struct {
	c       *Cache
	queries atomic.Uint64
	hits    atomic.Uint64
}

// Track returns a fresh Tracker over c.
func (c *Cache) Track() *Tracker {
	return &Tracker{c: c}
}

func (t *Tracker) Posterior(targets []string, e model.Evidence) (model.Distribution, error) {
	d, hit, err := t.c.posterior(targets, e)
	t.count(hit)
	return d, err
}

func (t *Tracker) MAP(targets []string, e model.Evidence) (model.Assignment, float64, error) {
	a, p, hit, err := t.c.mapQuery(targets, e)
	t.count(hit)
	return a, p, err
}

func (t *Tracker) LogLikelihood(e model.Evidence) (float64, error) {
	ll, hit, err := t.c.logLikelihood(e)
	t.count(hit)
	return ll, err
}

func (t *Tracker) count(hit bool) {
	t.queries.Add(1)
	if hit {
		t.hits.Add(1)
	}
}

// Queries returns the number of lookups made through t.
func (t *Tracker) Queries() uint64 { return t.queries.Load() }

// Hits returns how many of those were answered from the cache.
func (t *Tracker) Hits() uint64 { return t.hits.Load() }
