// Package varelim is a reference backend based on variable elimination.
// Posteriors sum out every non-target variable; MAP sums out non-targets,
// then max-eliminates the targets and recovers the assignment by traceback.
//
// MAP ties are broken during traceback: each eliminated target takes its
// lowest-index state among the maximizers given the targets eliminated
// after it. This can differ from other backends on exact ties.
package varelim

import (
	"math"
	"slices"

	"github.com/cognicore/probexplain/pkg/probexplain/backend/base"
	"github.com/cognicore/probexplain/pkg/probexplain/model"
	"github.com/cognicore/probexplain/pkg/probexplain/network"
)

// Name identifies this backend.
const Name = "varelim"

// Model implements model.Model with variable elimination.
type Model struct {
	*base.Core
}

var _ model.Model = (*Model)(nil)

// New builds a variable elimination backend over a copy of g.
func New(g *network.Graph, opts base.Options) *Model {
	return &Model{Core: base.NewCore(Name, g, opts)}
}

func (m *Model) Posterior(targets []string, e model.Evidence) (model.Distribution, error) {
	var out model.Distribution
	err := m.Do(e, func(q base.Query) error {
		idx, err := q.Targets(targets)
		if err != nil {
			return err
		}
		table := posteriorTable(q, idx)
		if base.Normalize(table) == 0 {
			return q.Inconsistent()
		}
		out, err = model.NewDistribution(base.TargetVars(q.Graph, idx), table)
		return err
	})
	return out, err
}

func (m *Model) MAP(targets []string, e model.Evidence) (model.Assignment, float64, error) {
	var (
		assignment model.Assignment
		prob       float64
	)
	err := m.Do(e, func(q base.Query) error {
		idx, err := q.Targets(targets)
		if err != nil {
			return err
		}
		pe := reduce(q, nil).vals[0]
		if pe == 0 {
			return q.Inconsistent()
		}

		free := make([]int, 0, len(idx))
		for _, i := range idx {
			if q.Fixed[i] < 0 {
				free = append(free, i)
			}
		}
		factors := sumOut(q, factorsOf(q), free)

		type trace struct {
			v     int
			scope *factor
			arg   []int
		}
		traces := make([]trace, 0, len(free))
		for _, v := range order(q.Graph, factors, free) {
			var out *factor
			var arg []int
			factors, out, arg = eliminateVar(factors, v, true)
			traces = append(traces, trace{v: v, scope: out, arg: arg})
		}
		best := multiplyAll(factors).vals[0]

		s := slices.Clone(q.Fixed)
		for k := len(traces) - 1; k >= 0; k-- {
			tr := traces[k]
			s[tr.v] = tr.arg[tr.scope.offset(s)]
		}
		assignment = make(model.Assignment, len(idx))
		for _, i := range idx {
			assignment[q.Graph.Vars[i].Name] = q.Graph.Vars[i].States[s[i]]
		}
		prob = best / pe
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return assignment, prob, nil
}

func (m *Model) LogLikelihood(e model.Evidence) (float64, error) {
	var ll float64
	err := m.Do(e, func(q base.Query) error {
		pe := reduce(q, nil).vals[0]
		if pe == 0 {
			return q.Inconsistent()
		}
		ll = math.Log(pe)
		return nil
	})
	return ll, err
}

func (m *Model) Sample(n int, e model.Evidence) ([]model.Assignment, error) {
	return m.SampleWith(n, e, func(q base.Query, i int) ([]float64, error) {
		table := posteriorTable(q, []int{i})
		if base.Normalize(table) == 0 {
			return nil, q.Inconsistent()
		}
		return table, nil
	})
}

// posteriorTable returns the unnormalized table over idx, with observed
// targets contributing mass only at their observed state.
func posteriorTable(q base.Query, idx []int) []float64 {
	free := make([]int, 0, len(idx))
	card := make([]int, len(idx))
	for k, i := range idx {
		card[k] = len(q.Graph.Vars[i].States)
		if q.Fixed[i] < 0 {
			free = append(free, i)
		}
	}
	f := reduce(q, free)

	table := make([]float64, product(card))
	s := slices.Clone(q.Fixed)
	st := make([]int, len(idx))
	for k := range table {
		consistent := true
		for j, i := range idx {
			if q.Fixed[i] >= 0 {
				consistent = consistent && q.Fixed[i] == st[j]
				continue
			}
			s[i] = st[j]
		}
		if consistent {
			table[k] = f.lookup(s)
		}
		advance(st, card)
	}
	return table
}

// reduce sums out every free variable not in keep and multiplies the rest
// into one factor.
func reduce(q base.Query, keep []int) *factor {
	return multiplyAll(sumOut(q, factorsOf(q), keep))
}

func factorsOf(q base.Query) []*factor {
	out := make([]*factor, len(q.Graph.Vars))
	for i := range q.Graph.Vars {
		out[i] = cptFactor(q, i)
	}
	return out
}

func sumOut(q base.Query, factors []*factor, keep []int) []*factor {
	var elim []int
	for _, v := range q.Free() {
		if !slices.Contains(keep, v) {
			elim = append(elim, v)
		}
	}
	for _, v := range order(q.Graph, factors, elim) {
		factors, _, _ = eliminateVar(factors, v, false)
	}
	return factors
}

// eliminateVar multiplies the factors mentioning v, eliminates v from the
// product and returns the new factor list with the resulting factor.
func eliminateVar(factors []*factor, v int, maximize bool) ([]*factor, *factor, []int) {
	var with, rest []*factor
	for _, f := range factors {
		if f.has(v) {
			with = append(with, f)
		} else {
			rest = append(rest, f)
		}
	}
	out, arg := eliminate(multiplyAll(with), v, maximize)
	return append(rest, out), out, arg
}

func multiplyAll(factors []*factor) *factor {
	acc := &factor{vals: []float64{1}}
	for _, f := range factors {
		acc = multiply(acc, f)
	}
	return acc
}
