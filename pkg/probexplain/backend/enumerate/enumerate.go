// Package enumerate is a reference backend that answers every query by
// summing the full joint distribution over all assignments consistent with
// the evidence. It is exponential in the number of free variables and is
// meant for small networks and for cross-checking other backends.
package enumerate

import (
	"math"

	"github.com/cognicore/probexplain/pkg/probexplain/backend/base"
	"github.com/cognicore/probexplain/pkg/probexplain/model"
	"github.com/cognicore/probexplain/pkg/probexplain/network"
)

// Name identifies this backend.
const Name = "enumerate"

// Model implements model.Model by exhaustive enumeration.
type Model struct {
	*base.Core
}

var _ model.Model = (*Model)(nil)

// New builds an enumeration backend over a copy of g.
func New(g *network.Graph, opts base.Options) *Model {
	return &Model{Core: base.NewCore(Name, g, opts)}
}

// Posterior sums the joint table into the target table and normalizes it.
func (m *Model) Posterior(targets []string, e model.Evidence) (model.Distribution, error) {
	var out model.Distribution
	err := m.Do(e, func(q base.Query) error {
		idx, err := q.Targets(targets)
		if err != nil {
			return err
		}
		table := targetTable(q, idx)
		if base.Normalize(table) == 0 {
			return q.Inconsistent()
		}
		out, err = model.NewDistribution(base.TargetVars(q.Graph, idx), table)
		return err
	})
	return out, err
}

// MAP returns the first maximum of the target table in table order, so ties
// go to the earliest states of the earliest targets.
func (m *Model) MAP(targets []string, e model.Evidence) (model.Assignment, float64, error) {
	d, err := m.Posterior(targets, e)
	if err != nil {
		return nil, 0, err
	}
	a, p := d.Mode()
	return a, p, nil
}

// LogLikelihood returns log P(e).
func (m *Model) LogLikelihood(e model.Evidence) (float64, error) {
	var ll float64
	err := m.Do(e, func(q base.Query) error {
		total := 0.0
		each(q, func(_ []int, p float64) { total += p })
		if total == 0 {
			return q.Inconsistent()
		}
		ll = math.Log(total)
		return nil
	})
	return ll, err
}

// Sample draws exact conditional samples.
func (m *Model) Sample(n int, e model.Evidence) ([]model.Assignment, error) {
	return m.SampleWith(n, e, func(q base.Query, i int) ([]float64, error) {
		table := targetTable(q, []int{i})
		if base.Normalize(table) == 0 {
			return nil, q.Inconsistent()
		}
		return table, nil
	})
}

// targetTable accumulates unnormalized joint mass into a row-major table
// over idx.
func targetTable(q base.Query, idx []int) []float64 {
	size := 1
	for _, i := range idx {
		size *= len(q.Graph.Vars[i].States)
	}
	table := make([]float64, size)
	each(q, func(s []int, p float64) {
		k := 0
		for _, i := range idx {
			k = k*len(q.Graph.Vars[i].States) + s[i]
		}
		table[k] += p
	})
	return table
}

// each visits every complete assignment consistent with q.Fixed with its
// joint probability. Free variables advance like an odometer, last
// declared fastest.
func each(q base.Query, visit func(s []int, p float64)) {
	g := q.Graph
	s := make([]int, len(g.Vars))
	free := q.Free()
	for i, st := range q.Fixed {
		if st >= 0 {
			s[i] = st
		}
	}
	for {
		if p := base.Joint(g, s); p > 0 {
			visit(s, p)
		}
		k := len(free) - 1
		for ; k >= 0; k-- {
			i := free[k]
			s[i]++
			if s[i] < len(g.Vars[i].States) {
				break
			}
			s[i] = 0
		}
		if k < 0 {
			return
		}
	}
}
