package explain

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"gonum.org/v1/gonum/stat"

	"github.com/cognicore/probexplain/pkg/probexplain/internalerr"
	"github.com/cognicore/probexplain/pkg/probexplain/model"
)

// Divergence names the distance used to score blanket influence.
type Divergence string

const (
	KL        Divergence = "kl"
	JS        Divergence = "js"
	Hellinger Divergence = "hellinger"
)

// ParseDivergence validates a divergence name.
func ParseDivergence(s string) (Divergence, error) {
	d := Divergence(s)
	if _, err := d.fn(); err != nil {
		return "", err
	}
	return d, nil
}

func (d Divergence) fn() (func(p, q []float64) float64, error) {
	switch d {
	case KL:
		return stat.KullbackLeibler, nil
	case JS:
		return stat.JensenShannon, nil
	case Hellinger:
		return stat.Hellinger, nil
	default:
		return nil, fmt.Errorf("%w: unknown divergence %q", internalerr.ErrInvalidConfig, string(d))
	}
}

// BlanketOptions tunes MarkovBlanket.
type BlanketOptions struct {
	// Divergence overrides the Explainer's divergence for this call.
	Divergence Divergence
}

type member struct {
	name string
	role Role
}

// blanket returns the Markov blanket of v: parents, children and the
// children's other parents, each listed once under its first role.
func (x *Explainer) blanket(v string) ([]member, error) {
	var out []member
	seen := map[string]bool{v: true}
	add := func(vars []model.Variable, role Role) {
		for _, u := range vars {
			if seen[u.Name] {
				continue
			}
			seen[u.Name] = true
			out = append(out, member{name: u.Name, role: role})
		}
	}

	parents, err := x.model.ParentsOf(v)
	if err != nil {
		return nil, err
	}
	add(parents, RoleParent)
	children, err := x.model.ChildrenOf(v)
	if err != nil {
		return nil, err
	}
	add(children, RoleChild)
	for _, c := range children {
		spouses, err := x.model.ParentsOf(c.Name)
		if err != nil {
			return nil, err
		}
		add(spouses, RoleSpouse)
	}
	return out, nil
}

// MarkovBlanket ranks the Markov blanket of target by influence on its
// posterior under e.
//
// An observed blanket variable u scores D(P(target|e) || P(target|e\u)). An
// unobserved one scores the expected divergence
// sum_s P(u=s|e) D(P(target|e,u=s) || P(target|e)), which is the conditional
// mutual information when D is KL. Ranking is by influence descending, ties
// by variable name.
func (x *Explainer) MarkovBlanket(ctx context.Context, target string, e model.Evidence, opts BlanketOptions) (*Result, error) {
	div := opts.Divergence
	if div == "" {
		div = x.divergence
	}
	return x.invoke(ctx, AlgorithmMarkovBlanket, []string{target}, e, func(r *run, res *Result) error {
		d, err := div.fn()
		if err != nil {
			return err
		}
		members, err := x.blanket(target)
		if err != nil {
			return err
		}
		if x.effective(e).Has(target) {
			return fmt.Errorf("%w: target %q is observed", internalerr.ErrInvalidInput, target)
		}
		own := x.model.Evidence()
		for _, m := range members {
			if own.Has(m.name) && !e.Has(m.name) {
				return fmt.Errorf("%w: %q is fixed by the model's evidence state and cannot be withdrawn",
					internalerr.ErrInvalidInput, m.name)
			}
		}

		base, err := r.posterior([]string{target}, e)
		if err != nil {
			return err
		}

		ranking := make([]Influence, 0, len(members))
		for _, m := range members {
			inf := Influence{Variable: m.name, Role: m.role}
			if s, ok := e.Get(m.name); ok {
				without, err := r.posterior([]string{target}, e.Without(m.name))
				if err != nil {
					return err
				}
				inf.Observed = true
				inf.State = s
				inf.Influence = d(base.Probs, without.Probs)
			} else {
				pu, err := r.posterior([]string{m.name}, e)
				if err != nil {
					return err
				}
				states := pu.Vars[0].States
				for i, w := range pu.Probs {
					if w <= 0 {
						continue
					}
					cond, err := r.posterior([]string{target}, e.With(m.name, states[i]))
					if err != nil {
						return err
					}
					inf.Influence += w * d(cond.Probs, base.Probs)
				}
			}
			ranking = append(ranking, inf)
		}

		slices.SortStableFunc(ranking, func(a, b Influence) int {
			if c := cmp.Compare(b.Influence, a.Influence); c != 0 {
				return c
			}
			return cmp.Compare(a.Variable, b.Variable)
		})
		res.Ranking = ranking
		return nil
	})
}
