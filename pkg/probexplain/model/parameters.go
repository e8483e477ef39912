package model

import (
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"

	"github.com/cognicore/probexplain/pkg/probexplain/internalerr"
)

// RowTolerance is how far a probability row may drift from summing to one.
const RowTolerance = 1e-9

// Parameters is a backend-neutral conditional probability table.
//
// Table holds one row per parent configuration, row-major over Parents with
// the last parent varying fastest. Each row is a distribution over States.
type Parameters struct {
	Variable     string      `json:"variable"`
	States       []string    `json:"states"`
	Parents      []string    `json:"parents,omitempty"`
	ParentStates [][]string  `json:"parent_states,omitempty"`
	Table        [][]float64 `json:"table"`
}

// Rows returns the number of parent configurations.
func (p Parameters) Rows() int {
	n := 1
	for _, ps := range p.ParentStates {
		n *= len(ps)
	}
	return n
}

// Clone returns a deep copy.
func (p Parameters) Clone() Parameters {
	out := Parameters{
		Variable: p.Variable,
		States:   slices.Clone(p.States),
		Parents:  slices.Clone(p.Parents),
	}
	if p.ParentStates != nil {
		out.ParentStates = make([][]string, len(p.ParentStates))
		for i, ps := range p.ParentStates {
			out.ParentStates[i] = slices.Clone(ps)
		}
	}
	out.Table = make([][]float64, len(p.Table))
	for i, row := range p.Table {
		out.Table[i] = slices.Clone(row)
	}
	return out
}

// Validate checks the table shape and that every row is a distribution.
func (p Parameters) Validate() error {
	if len(p.States) == 0 {
		return fmt.Errorf("%w: %q has no states", internalerr.ErrInvalidInput, p.Variable)
	}
	if len(p.Parents) != len(p.ParentStates) {
		return fmt.Errorf("%w: %q lists %d parents but %d parent domains",
			internalerr.ErrInvalidInput, p.Variable, len(p.Parents), len(p.ParentStates))
	}
	if len(p.Table) != p.Rows() {
		return fmt.Errorf("%w: %q has %d rows, want %d", internalerr.ErrInvalidInput, p.Variable, len(p.Table), p.Rows())
	}
	for i, row := range p.Table {
		if len(row) != len(p.States) {
			return fmt.Errorf("%w: %q row %d has %d entries, want %d",
				internalerr.ErrInvalidInput, p.Variable, i, len(row), len(p.States))
		}
		for _, x := range row {
			if x < 0 || x > 1 || math.IsNaN(x) {
				return fmt.Errorf("%w: %q row %d has entry %v outside [0,1]", internalerr.ErrInvalidInput, p.Variable, i, x)
			}
		}
		if sum := floats.Sum(row); math.Abs(sum-1) > RowTolerance {
			return fmt.Errorf("%w: %q row %d sums to %v", internalerr.ErrInvalidInput, p.Variable, i, sum)
		}
	}
	return nil
}

// SameShape reports whether q describes the same variable, states and
// parents as p.
func (p Parameters) SameShape(q Parameters) bool {
	if p.Variable != q.Variable || !slices.Equal(p.States, q.States) || !slices.Equal(p.Parents, q.Parents) {
		return false
	}
	return slices.EqualFunc(p.ParentStates, q.ParentStates, func(a, b []string) bool { return slices.Equal(a, b) })
}

// RowIndex returns the table row for a parent configuration.
func (p Parameters) RowIndex(parents Assignment) (int, error) {
	idx := 0
	for i, name := range p.Parents {
		s, ok := parents[name]
		if !ok {
			return 0, fmt.Errorf("%w: parent %q unassigned", internalerr.ErrInvalidInput, name)
		}
		j := slices.Index(p.ParentStates[i], s)
		if j < 0 {
			return 0, fmt.Errorf("%w: %q is not a state of %q", internalerr.ErrInvalidInput, s, name)
		}
		idx = idx*len(p.ParentStates[i]) + j
	}
	return idx, nil
}

// RowAssignment decodes a row index into its parent configuration.
func (p Parameters) RowAssignment(row int) Assignment {
	a := make(Assignment, len(p.Parents))
	for i := len(p.Parents) - 1; i >= 0; i-- {
		n := len(p.ParentStates[i])
		a[p.Parents[i]] = p.ParentStates[i][row%n]
		row /= n
	}
	return a
}

// Covary returns a copy of p with Table[row][col] set to value and the rest
// of the row rescaled proportionally so it still sums to one. When the other
// entries are all zero the remaining mass is shared evenly. A single-state
// row cannot move and is returned unchanged.
func (p Parameters) Covary(row, col int, value float64) (Parameters, error) {
	if row < 0 || row >= len(p.Table) || col < 0 || col >= len(p.States) {
		return Parameters{}, fmt.Errorf("%w: entry (%d,%d) out of range", internalerr.ErrInvalidInput, row, col)
	}
	if math.IsNaN(value) || value < 0 || value > 1 {
		return Parameters{}, fmt.Errorf("%w: value %v outside [0,1]", internalerr.ErrInvalidInput, value)
	}
	out := p.Clone()
	r := out.Table[row]
	if len(r) == 1 {
		return out, nil
	}
	rest := 1 - r[col]
	remaining := 1 - value
	for j := range r {
		if j == col {
			continue
		}
		switch {
		case rest > 0:
			r[j] = r[j] / rest * remaining
		case len(r) > 1:
			r[j] = remaining / float64(len(r)-1)
		}
	}
	r[col] = value
	return out, nil
}
