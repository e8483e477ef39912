package varelim

import (
	"slices"

	"github.com/cognicore/probexplain/pkg/probexplain/backend/base"
	"github.com/cognicore/probexplain/pkg/probexplain/network"
)

// factor is a table over variable indices, row-major with the last variable
// varying fastest.
type factor struct {
	vars []int
	card []int
	vals []float64
}

func (f *factor) has(v int) bool { return slices.Contains(f.vars, v) }

// cptFactor builds the factor of variable i with every observed variable
// reduced away.
func cptFactor(q base.Query, i int) *factor {
	g := q.Graph
	family := append(slices.Clone(g.Parents[i]), i)
	f := &factor{}
	for _, v := range family {
		if q.Fixed[v] < 0 {
			f.vars = append(f.vars, v)
			f.card = append(f.card, len(g.Vars[v].States))
		}
	}
	f.vals = make([]float64, product(f.card))

	s := slices.Clone(q.Fixed)
	st := make([]int, len(f.vars))
	for k := range f.vals {
		for j, v := range f.vars {
			s[v] = st[j]
		}
		f.vals[k] = g.Params[i].Table[base.Row(g, i, s)][s[i]]
		advance(st, f.card)
	}
	return f
}

// multiply returns the product of a and b over the union of their scopes.
func multiply(a, b *factor) *factor {
	vars := slices.Clone(a.vars)
	card := slices.Clone(a.card)
	for k, v := range b.vars {
		if !slices.Contains(vars, v) {
			vars = append(vars, v)
			card = append(card, b.card[k])
		}
	}
	out := &factor{vars: vars, card: card, vals: make([]float64, product(card))}
	pa := positions(a, vars)
	pb := positions(b, vars)
	sa := strides(a.card)
	sb := strides(b.card)

	st := make([]int, len(vars))
	for k := range out.vals {
		ia, ib := 0, 0
		for j, p := range pa {
			ia += st[p] * sa[j]
		}
		for j, p := range pb {
			ib += st[p] * sb[j]
		}
		out.vals[k] = a.vals[ia] * b.vals[ib]
		advance(st, card)
	}
	return out
}

// eliminate removes v from f by summing, or by maximizing when maximize is set.
// For max elimination it also returns, per remaining assignment, the state
// of v that attained the maximum (first one on ties).
func eliminate(f *factor, v int, maximize bool) (*factor, []int) {
	pos := slices.Index(f.vars, v)
	out := &factor{
		vars: slices.Delete(slices.Clone(f.vars), pos, pos+1),
		card: slices.Delete(slices.Clone(f.card), pos, pos+1),
	}
	out.vals = make([]float64, product(out.card))
	var arg []int
	if maximize {
		arg = make([]int, len(out.vals))
		for k := range out.vals {
			out.vals[k] = -1
		}
	}

	outStride := strides(out.card)
	st := make([]int, len(f.vars))
	for _, val := range f.vals {
		o := 0
		j := 0
		for d := range f.vars {
			if d == pos {
				continue
			}
			o += st[d] * outStride[j]
			j++
		}
		if maximize {
			if val > out.vals[o] {
				out.vals[o] = val
				arg[o] = st[pos]
			}
		} else {
			out.vals[o] += val
		}
		advance(st, f.card)
	}
	return out, arg
}

// lookup returns the value of f at the states in s, indexed by variable.
func (f *factor) lookup(s []int) float64 {
	return f.vals[f.offset(s)]
}

func (f *factor) offset(s []int) int {
	st := strides(f.card)
	k := 0
	for j, v := range f.vars {
		k += s[v] * st[j]
	}
	return k
}

func positions(f *factor, vars []int) []int {
	out := make([]int, len(f.vars))
	for j, v := range f.vars {
		out[j] = slices.Index(vars, v)
	}
	return out
}

func strides(card []int) []int {
	s := make([]int, len(card))
	acc := 1
	for i := len(card) - 1; i >= 0; i-- {
		s[i] = acc
		acc *= card[i]
	}
	return s
}

func product(card []int) int {
	n := 1
	for _, c := range card {
		n *= c
	}
	return n
}

// advance increments st like an odometer over card, last position fastest.
func advance(st, card []int) {
	for k := len(st) - 1; k >= 0; k-- {
		st[k]++
		if st[k] < card[k] {
			return
		}
		st[k] = 0
	}
}

// order picks an elimination order greedily: at each step the variable whose
// elimination creates the smallest factor, lowest index on ties.
func order(g *network.Graph, factors []*factor, elim []int) []int {
	scopes := make([][]int, len(factors))
	for k, f := range factors {
		scopes[k] = slices.Clone(f.vars)
	}
	remaining := slices.Clone(elim)
	slices.Sort(remaining)
	out := make([]int, 0, len(remaining))
	for len(remaining) > 0 {
		best, bestCost := -1, 0
		for r, v := range remaining {
			cost := 1
			for _, u := range merged(scopes, v) {
				if u != v {
					cost *= len(g.Vars[u].States)
				}
			}
			if best < 0 || cost < bestCost {
				best, bestCost = r, cost
			}
		}
		v := remaining[best]
		remaining = slices.Delete(remaining, best, best+1)
		out = append(out, v)

		next := merged(scopes, v)
		next = slices.DeleteFunc(next, func(u int) bool { return u == v })
		kept := scopes[:0]
		for _, sc := range scopes {
			if !slices.Contains(sc, v) {
				kept = append(kept, sc)
			}
		}
		scopes = append(kept, next)
	}
	return out
}

func merged(scopes [][]int, v int) []int {
	var out []int
	for _, sc := range scopes {
		if !slices.Contains(sc, v) {
			continue
		}
		for _, u := range sc {
			if !slices.Contains(out, u) {
				out = append(out, u)
			}
		}
	}
	return out
}
