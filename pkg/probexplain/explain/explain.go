// Package explain implements explanation algorithms for Bayesian networks
// against the model contract. Every query goes through the model's query
// cache and every temporary change to the model goes through a scope stack,
// so the algorithms work unchanged on any backend.
package explain

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/cognicore/probexplain/pkg/probexplain/cache"
	"github.com/cognicore/probexplain/pkg/probexplain/internalerr"
	"github.com/cognicore/probexplain/pkg/probexplain/model"
	"github.com/cognicore/probexplain/pkg/probexplain/scope"
)

// DefaultWorkers bounds the defeaters fan-out when Options.Workers is zero.
const DefaultWorkers = 4

// Options configures an Explainer.
type Options struct {
	// Cache is the query cache of the model. When nil a new one is built
	// with CacheCapacity.
	Cache         *cache.Cache
	CacheCapacity int
	// Stack is shared with other callers that scope the same model. When
	// nil the Explainer owns a fresh one.
	Stack      *scope.Stack
	Divergence Divergence
	Workers    int
	Logger     *zap.Logger
}

// Explainer runs explanation algorithms over one model.
type Explainer struct {
	model      model.Model
	cache      *cache.Cache
	stack      *scope.Stack
	divergence Divergence
	workers    int
	log        *zap.Logger
}

// New returns an Explainer for m.
func New(m model.Model, opts Options) (*Explainer, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil model", internalerr.ErrInvalidInput)
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	c := opts.Cache
	if c == nil {
		var err error
		c, err = cache.New(m, cache.Options{Capacity: opts.CacheCapacity, Logger: log})
		if err != nil {
			return nil, err
		}
	} else if c.Model() != m {
		return nil, fmt.Errorf("%w: cache belongs to a different model", internalerr.ErrInvalidConfig)
	}

	div := opts.Divergence
	if div == "" {
		div = KL
	}
	if _, err := div.fn(); err != nil {
		return nil, err
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	stack := opts.Stack
	if stack == nil {
		stack = scope.New(m)
	}

	return &Explainer{
		model:      m,
		cache:      c,
		stack:      stack,
		divergence: div,
		workers:    workers,
		log:        log.Named("explain"),
	}, nil
}

// Model returns the explained model.
func (x *Explainer) Model() model.Model { return x.model }

// Cache returns the query cache.
func (x *Explainer) Cache() *cache.Cache { return x.cache }

// Stack returns the scope stack.
func (x *Explainer) Stack() *scope.Stack { return x.stack }

// run carries the state of one algorithm invocation.
type run struct {
	ctx context.Context
	x   *Explainer
	q   *cache.Tracker
}

func (r *run) withContext(ctx context.Context) *run {
	return &run{ctx: ctx, x: r.x, q: r.q}
}

func (r *run) posterior(targets []string, e model.Evidence) (model.Distribution, error) {
	if err := r.ctx.Err(); err != nil {
		return model.Distribution{}, err
	}
	return r.q.Posterior(targets, e)
}

func (r *run) mapQuery(targets []string, e model.Evidence) (model.Assignment, float64, error) {
	if err := r.ctx.Err(); err != nil {
		return nil, 0, err
	}
	return r.q.MAP(targets, e)
}

// invoke runs fn as one algorithm invocation. The scope depth on return must
// equal the depth on entry: frames fn left open are unwound and reported as
// ErrUnreleasedScope.
func (x *Explainer) invoke(ctx context.Context, alg Algorithm, targets []string, e model.Evidence,
	fn func(r *run, res *Result) error) (res *Result, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	depth := x.stack.Depth()
	r := &run{ctx: ctx, x: x, q: x.cache.Track()}
	res = &Result{
		ID:        ulid.Make().String(),
		Algorithm: alg,
		Targets:   slices.Clone(targets),
		Evidence:  e,
	}
	start := time.Now()

	defer func() {
		rec := recover()
		if open := x.stack.Depth() - depth; open > 0 {
			uerr := x.stack.Unwind(depth)
			err = errors.Join(
				fmt.Errorf("%w: %s left %d scope(s) open", internalerr.ErrUnreleasedScope, alg, open),
				uerr, err)
		}
		if rec != nil {
			panic(rec)
		}

		res.Provenance = Provenance{
			Queries:   r.q.Queries(),
			CacheHits: r.q.Hits(),
			Duration:  time.Since(start),
			StartedAt: start.UTC(),
		}
		if res.Provenance.Queries > 0 {
			res.Provenance.HitRatio = float64(res.Provenance.CacheHits) / float64(res.Provenance.Queries)
		}
		fields := []zap.Field{
			zap.String("id", res.ID),
			zap.String("algorithm", string(alg)),
			zap.Strings("targets", res.Targets),
			zap.Stringer("evidence", e),
			zap.Uint64("queries", res.Provenance.Queries),
			zap.Uint64("cache_hits", res.Provenance.CacheHits),
			zap.Duration("duration", res.Provenance.Duration),
		}
		if err != nil {
			if internalerr.IsDefect(err) {
				x.log.Error("explanation aborted by scope defect", append(fields, zap.Error(err))...)
			} else {
				x.log.Debug("explanation failed", append(fields, zap.Error(err))...)
			}
			res = nil
			return
		}
		x.log.Debug("explanation finished", fields...)
	}()

	err = fn(r, res)
	return res, err
}

// effective returns the evidence queries actually condition on: the
// model's own evidence state overridden by e.
func (x *Explainer) effective(e model.Evidence) model.Evidence {
	return x.model.Evidence().Merge(e)
}

// checkVars verifies that every name is a model variable.
func (x *Explainer) checkVars(names []string) error {
	for _, n := range names {
		if _, err := x.model.DomainOf(n); err != nil {
			return err
		}
	}
	return nil
}
