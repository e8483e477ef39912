package model

import (
	"fmt"
	"slices"

	"github.com/cognicore/probexplain/pkg/probexplain/internalerr"
)

// Distribution is a joint probability table over an ordered list of
// discrete variables. Probs is row-major over the variables' domains with
// the last variable varying fastest.
type Distribution struct {
	Vars   []Variable `json:"vars"`
	Probs  []float64  `json:"probs"`
	stride []int
}

// NewDistribution builds a distribution and checks that the table size
// matches the product of the domain sizes.
func NewDistribution(vars []Variable, probs []float64) (Distribution, error) {
	size := 1
	for _, v := range vars {
		if len(v.States) == 0 {
			return Distribution{}, fmt.Errorf("%w: variable %q has no states", internalerr.ErrInvalidInput, v.Name)
		}
		size *= len(v.States)
	}
	if len(probs) != size {
		return Distribution{}, fmt.Errorf("%w: table has %d entries, want %d", internalerr.ErrInvalidInput, len(probs), size)
	}
	d := Distribution{Vars: vars, Probs: probs}
	d.stride = strides(vars)
	return d, nil
}

func strides(vars []Variable) []int {
	s := make([]int, len(vars))
	acc := 1
	for i := len(vars) - 1; i >= 0; i-- {
		s[i] = acc
		acc *= len(vars[i].States)
	}
	return s
}

// Len returns the number of joint states.
func (d Distribution) Len() int { return len(d.Probs) }

// Names returns the variable names in table order.
func (d Distribution) Names() []string { return Names(d.Vars) }

// Assignment decodes table index i into a joint assignment.
func (d Distribution) Assignment(i int) Assignment {
	st := d.strides()
	a := make(Assignment, len(d.Vars))
	for k, v := range d.Vars {
		a[v.Name] = v.States[(i/st[k])%len(v.States)]
	}
	return a
}

// Index encodes an assignment covering every variable of d.
func (d Distribution) Index(a Assignment) (int, error) {
	st := d.strides()
	idx := 0
	for k, v := range d.Vars {
		s, ok := a[v.Name]
		if !ok {
			return 0, fmt.Errorf("%w: assignment misses %q", internalerr.ErrInvalidInput, v.Name)
		}
		j := v.StateIndex(s)
		if j < 0 {
			return 0, fmt.Errorf("%w: %q is not a state of %q", internalerr.ErrInvalidInput, s, v.Name)
		}
		idx += j * st[k]
	}
	return idx, nil
}

// Prob returns the probability of a joint assignment.
func (d Distribution) Prob(a Assignment) (float64, error) {
	i, err := d.Index(a)
	if err != nil {
		return 0, err
	}
	return d.Probs[i], nil
}

// Marginal sums the table down to one variable.
func (d Distribution) Marginal(name string) ([]float64, error) {
	k := slices.IndexFunc(d.Vars, func(v Variable) bool { return v.Name == name })
	if k < 0 {
		return nil, &UnknownVariableError{Name: name}
	}
	st := d.strides()
	n := len(d.Vars[k].States)
	out := make([]float64, n)
	for i, p := range d.Probs {
		out[(i/st[k])%n] += p
	}
	return out, nil
}

// Mode returns the most probable joint state. The first maximum in table
// order wins.
func (d Distribution) Mode() (Assignment, float64) {
	best := -1
	for i, p := range d.Probs {
		if best < 0 || p > d.Probs[best] {
			best = i
		}
	}
	if best < 0 {
		return Assignment{}, 0
	}
	return d.Assignment(best), d.Probs[best]
}

// Clone returns a deep copy.
func (d Distribution) Clone() Distribution {
	vars := make([]Variable, len(d.Vars))
	for i, v := range d.Vars {
		vars[i] = v.Clone()
	}
	return Distribution{
		Vars:   vars,
		Probs:  slices.Clone(d.Probs),
		stride: slices.Clone(d.stride),
	}
}

func (d Distribution) strides() []int {
	if len(d.stride) == len(d.Vars) {
		return d.stride
	}
	return strides(d.Vars)
}
