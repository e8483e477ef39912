// Package base holds the bookkeeping shared by the reference backends:
// structure queries, parameter snapshots, evidence state, the validity
// epoch and sequential sampling. Backends embed Core and add inference.
package base

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
	mrand "math/rand/v2"
	"sync"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/cognicore/probexplain/pkg/probexplain/internalerr"
	"github.com/cognicore/probexplain/pkg/probexplain/model"
	"github.com/cognicore/probexplain/pkg/probexplain/network"
)

// Options configures a backend.
type Options struct {
	// Seed fixes the sampling source. Zero draws a random seed.
	Seed   uint64
	Logger *zap.Logger
}

// Core implements the non-inference part of model.Model.
type Core struct {
	model.EpochCounter

	name     string
	log      *zap.Logger
	mu       sync.RWMutex
	graph    *network.Graph
	evidence model.Evidence

	rngMu sync.Mutex
	rng   *mrand.Rand
}

// NewCore copies g so that parameter changes never leak into the caller's
// graph.
func NewCore(name string, g *network.Graph, opts Options) *Core {
	seed := opts.Seed
	if seed == 0 {
		var b [8]byte
		_, _ = rand.Read(b[:])
		seed = binary.LittleEndian.Uint64(b[:])
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Core{
		name:  name,
		log:   log.With(zap.String("backend", name), zap.String("network", g.Name)),
		graph: g.Clone(),
		rng:   mrand.New(mrand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Name returns the backend name.
func (c *Core) Name() string { return c.name }

// Logger returns the backend's logger.
func (c *Core) Logger() *zap.Logger { return c.log }

func (c *Core) Variables() []model.Variable {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.Variable, len(c.graph.Vars))
	for i, v := range c.graph.Vars {
		out[i] = v.Clone()
	}
	return out
}

func (c *Core) ParentsOf(v string) ([]model.Variable, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.graph.Index(v)
	if !ok {
		return nil, &model.UnknownVariableError{Name: v}
	}
	return c.vars(c.graph.Parents[i]), nil
}

func (c *Core) ChildrenOf(v string) ([]model.Variable, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.graph.Index(v)
	if !ok {
		return nil, &model.UnknownVariableError{Name: v}
	}
	return c.vars(c.graph.Children[i]), nil
}

func (c *Core) vars(idx []int) []model.Variable {
	out := make([]model.Variable, len(idx))
	for k, i := range idx {
		out[k] = c.graph.Vars[i].Clone()
	}
	return out
}

func (c *Core) DomainOf(v string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.graph.Index(v)
	if !ok {
		return nil, &model.UnknownVariableError{Name: v}
	}
	return c.graph.Vars[i].Clone().States, nil
}

func (c *Core) Parameters(v string) (model.Parameters, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.graph.Index(v)
	if !ok {
		return model.Parameters{}, &model.UnknownVariableError{Name: v}
	}
	return c.graph.Params[i].Clone(), nil
}

func (c *Core) SetParameters(v string, p model.Parameters) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, ok := c.graph.Index(v)
	if !ok {
		return &model.UnknownVariableError{Name: v}
	}
	if !c.graph.Params[i].SameShape(p) {
		return fmt.Errorf("%w: parameters for %q do not match its table shape", internalerr.ErrInvalidInput, v)
	}
	if err := p.Validate(); err != nil {
		return err
	}
	c.graph.Params[i] = p.Clone()
	epoch := c.Bump()
	c.log.Debug("parameters replaced", zap.String("variable", v), zap.Uint64("epoch", epoch))
	return nil
}

func (c *Core) Evidence() model.Evidence {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.evidence
}

func (c *Core) SetEvidence(e model.Evidence) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.resolve(e); err != nil {
		return err
	}
	c.evidence = e
	epoch := c.Bump()
	c.log.Debug("evidence set", zap.Stringer("evidence", e), zap.Uint64("epoch", epoch))
	return nil
}

func (c *Core) ClearEvidence() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evidence = model.Evidence{}
	c.Bump()
}

// Query is the resolved input of one inference call.
type Query struct {
	Graph *network.Graph
	// Fixed holds the observed state index of every variable, -1 if free.
	Fixed    []int
	Evidence model.Evidence
}

// Free returns the unobserved variables in declaration order.
func (q Query) Free() []int {
	out := make([]int, 0, len(q.Fixed))
	for i, s := range q.Fixed {
		if s < 0 {
			out = append(out, i)
		}
	}
	return out
}

// Targets resolves target names to indices.
func (q Query) Targets(targets []string) ([]int, error) {
	idx := make([]int, len(targets))
	seen := make(map[int]struct{}, len(targets))
	for k, name := range targets {
		i, ok := q.Graph.Index(name)
		if !ok {
			return nil, &model.UnknownVariableError{Name: name}
		}
		if _, dup := seen[i]; dup {
			return nil, fmt.Errorf("%w: target %q listed twice", internalerr.ErrInvalidInput, name)
		}
		seen[i] = struct{}{}
		idx[k] = i
	}
	return idx, nil
}

// Inconsistent builds the error for zero-probability evidence.
func (q Query) Inconsistent() error {
	return &model.InconsistentEvidenceError{Evidence: q.Evidence}
}

// Do runs fn with the model state read-locked. The effective evidence is the
// model's evidence overridden by e.
func (c *Core) Do(e model.Evidence, fn func(q Query) error) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, err := c.resolve(c.evidence.Merge(e))
	if err != nil {
		return err
	}
	return fn(q)
}

func (c *Core) resolve(e model.Evidence) (Query, error) {
	fixed := make([]int, len(c.graph.Vars))
	for i := range fixed {
		fixed[i] = -1
	}
	for _, name := range e.Vars() {
		i, ok := c.graph.Index(name)
		if !ok {
			return Query{}, &model.UnknownVariableError{Name: name}
		}
		state, _ := e.Get(name)
		s := c.graph.Vars[i].StateIndex(state)
		if s < 0 {
			return Query{}, fmt.Errorf("%w: %q is not a state of %q", internalerr.ErrInvalidInput, state, name)
		}
		fixed[i] = s
	}
	return Query{Graph: c.graph, Fixed: fixed, Evidence: e}, nil
}

// Row returns the table row of variable i for the parent states in s.
func Row(g *network.Graph, i int, s []int) int {
	row := 0
	for k, p := range g.Parents[i] {
		row = row*len(g.Params[i].ParentStates[k]) + s[p]
	}
	return row
}

// Joint returns the probability of a complete assignment s.
func Joint(g *network.Graph, s []int) float64 {
	p := 1.0
	for i := range g.Vars {
		p *= g.Params[i].Table[Row(g, i, s)][s[i]]
		if p == 0 {
			return 0
		}
	}
	return p
}

// TargetVars returns the variables behind target indices.
func TargetVars(g *network.Graph, idx []int) []model.Variable {
	out := make([]model.Variable, len(idx))
	for k, i := range idx {
		out[k] = g.Vars[i].Clone()
	}
	return out
}

// Normalize divides table by its sum and reports the sum. A zero sum means
// the evidence is inconsistent and leaves the table untouched.
func Normalize(table []float64) float64 {
	total := floats.Sum(table)
	if total <= 0 || math.IsNaN(total) {
		return 0
	}
	floats.Scale(1/total, table)
	return total
}

// Marginal computes P(X_i | fixed) for sampling. Backends supply it.
type Marginal func(q Query, i int) ([]float64, error)

// SampleWith draws n assignments by fixing free variables one at a time in
// topological order, each from its posterior given everything fixed so far.
// The result is an exact draw from the conditional joint distribution.
func (c *Core) SampleWith(n int, e model.Evidence, marginal Marginal) ([]model.Assignment, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: sample size %d is negative", internalerr.ErrInvalidInput, n)
	}
	out := make([]model.Assignment, 0, n)
	err := c.Do(e, func(q Query) error {
		if n > 0 {
			// Fail on inconsistent evidence before drawing.
			if _, err := marginal(q, q.Graph.Order[0]); err != nil {
				return err
			}
		}
		for k := 0; k < n; k++ {
			fixed := append([]int(nil), q.Fixed...)
			for _, i := range q.Graph.Order {
				if fixed[i] >= 0 {
					continue
				}
				dist, err := marginal(Query{Graph: q.Graph, Fixed: fixed, Evidence: q.Evidence}, i)
				if err != nil {
					return err
				}
				fixed[i] = c.draw(dist)
			}
			a := make(model.Assignment, len(fixed))
			for i, s := range fixed {
				a[q.Graph.Vars[i].Name] = q.Graph.Vars[i].States[s]
			}
			out = append(out, a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Core) draw(weights []float64) int {
	c.rngMu.Lock()
	defer c.rngMu.Unlock()
	return int(distuv.NewCategorical(weights, c.rng).Rand())
}
