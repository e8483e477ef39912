package model

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognicore/probexplain/pkg/probexplain/internalerr"
)

func TestEvidenceIsImmutable(t *testing.T) {
	src := map[string]string{"A": "t"}
	e := NewEvidence(src)
	src["A"] = "f"

	got, _ := e.Get("A")
	assert.Equal(t, "t", got, "evidence must copy its input")

	e2 := e.With("B", "f")
	assert.False(t, e.Has("B"), "With must not modify the receiver")
	assert.True(t, e2.Has("B"))

	e3 := e2.Without("A")
	assert.True(t, e2.Has("A"))
	assert.False(t, e3.Has("A"))

	m := e.Map()
	m["A"] = "x"
	got, _ = e.Get("A")
	assert.Equal(t, "t", got)
}

func TestEvidenceKeyIsOrderIndependent(t *testing.T) {
	a := NewEvidence(map[string]string{"X": "1", "Y": "2", "Z": "3"})
	b := Evidence{}.With("Z", "3").With("X", "1").With("Y", "2")

	assert.Equal(t, a.Key(), b.Key())
	assert.True(t, a.Equal(b))
	assert.NotEqual(t, a.Key(), a.With("X", "2").Key())
	assert.Equal(t, "", Evidence{}.Key())
}

func TestEvidenceKeyEscapesSeparators(t *testing.T) {
	a := NewEvidence(map[string]string{"a": "b,c=d"})
	b := NewEvidence(map[string]string{"a": "b", "c": "d"})
	assert.NotEqual(t, a.Key(), b.Key())
}

func TestEvidenceMergeOverrides(t *testing.T) {
	base := NewEvidence(map[string]string{"A": "t", "B": "t"})
	merged := base.Merge(NewEvidence(map[string]string{"B": "f", "C": "t"}))

	assert.Equal(t, map[string]string{"A": "t", "B": "f", "C": "t"}, merged.Map())
	b, _ := base.Get("B")
	assert.Equal(t, "t", b)
}

func TestEvidenceJSON(t *testing.T) {
	e := NewEvidence(map[string]string{"Rain": "yes"})
	data, err := json.Marshal(e)
	require.NoError(t, err)
	assert.JSONEq(t, `{"Rain":"yes"}`, string(data))

	var back Evidence
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, e.Equal(back))

	data, err = json.Marshal(Evidence{})
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))
}

func binary(name string) Variable {
	return Variable{Name: name, States: []string{"t", "f"}}
}

func TestDistributionIndexing(t *testing.T) {
	d, err := NewDistribution([]Variable{binary("A"), binary("B")}, []float64{0.1, 0.2, 0.3, 0.4})
	require.NoError(t, err)

	p, err := d.Prob(Assignment{"A": "f", "B": "t"})
	require.NoError(t, err)
	assert.Equal(t, 0.3, p)

	assert.Equal(t, Assignment{"A": "t", "B": "f"}, d.Assignment(1))

	ma, err := d.Marginal("A")
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.3, 0.7}, ma, 1e-12)

	mb, err := d.Marginal("B")
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.4, 0.6}, mb, 1e-12)

	_, err = d.Marginal("C")
	assert.True(t, errors.Is(err, internalerr.ErrUnknownVariable))

	mode, pm := d.Mode()
	assert.Equal(t, Assignment{"A": "f", "B": "f"}, mode)
	assert.Equal(t, 0.4, pm)
}

func TestDistributionRejectsBadShape(t *testing.T) {
	_, err := NewDistribution([]Variable{binary("A")}, []float64{1})
	assert.ErrorIs(t, err, internalerr.ErrInvalidInput)
}

func TestDistributionCloneIsDeep(t *testing.T) {
	d, err := NewDistribution([]Variable{binary("A")}, []float64{0.5, 0.5})
	require.NoError(t, err)
	c := d.Clone()
	c.Probs[0] = 1
	c.Vars[0].States[0] = "x"
	assert.Equal(t, 0.5, d.Probs[0])
	assert.Equal(t, "t", d.Vars[0].States[0])
}

func twoParentTable() Parameters {
	return Parameters{
		Variable:     "C",
		States:       []string{"t", "f"},
		Parents:      []string{"A", "B"},
		ParentStates: [][]string{{"t", "f"}, {"t", "f"}},
		Table: [][]float64{
			{0.9, 0.1},
			{0.6, 0.4},
			{0.3, 0.7},
			{0.0, 1.0},
		},
	}
}

func TestParametersRowIndexing(t *testing.T) {
	p := twoParentTable()
	require.NoError(t, p.Validate())

	row, err := p.RowIndex(Assignment{"A": "f", "B": "t"})
	require.NoError(t, err)
	assert.Equal(t, 2, row)
	assert.Equal(t, Assignment{"A": "f", "B": "t"}, p.RowAssignment(2))

	for r := 0; r < p.Rows(); r++ {
		got, err := p.RowIndex(p.RowAssignment(r))
		require.NoError(t, err)
		assert.Equal(t, r, got)
	}
}

func TestParametersValidate(t *testing.T) {
	p := twoParentTable()
	p.Table[1] = []float64{0.5, 0.4}
	assert.ErrorIs(t, p.Validate(), internalerr.ErrInvalidInput)

	p = twoParentTable()
	p.Table = p.Table[:3]
	assert.ErrorIs(t, p.Validate(), internalerr.ErrInvalidInput)
}

func TestParametersCovary(t *testing.T) {
	p := Parameters{
		Variable: "X",
		States:   []string{"a", "b", "c"},
		Table:    [][]float64{{0.5, 0.3, 0.2}},
	}

	q, err := p.Covary(0, 0, 0.6)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.6, 0.24, 0.16}, q.Table[0], 1e-12)
	assert.Equal(t, 0.5, p.Table[0][0], "covary must not touch the receiver")
	require.NoError(t, q.Validate())

	full := Parameters{Variable: "Y", States: []string{"a", "b", "c"}, Table: [][]float64{{1, 0, 0}}}
	q, err = full.Covary(0, 0, 0.4)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.4, 0.3, 0.3}, q.Table[0], 1e-12)

	one := Parameters{Variable: "Z", States: []string{"on"}, Table: [][]float64{{1}}}
	q, err = one.Covary(0, 0, 0.7)
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1}}, q.Table)
	require.NoError(t, q.Validate())

	_, err = p.Covary(0, 0, 1.5)
	assert.ErrorIs(t, err, internalerr.ErrInvalidInput)
	_, err = p.Covary(3, 0, 0.5)
	assert.ErrorIs(t, err, internalerr.ErrInvalidInput)
}

func TestAdapterErrorMatchesKindAndCause(t *testing.T) {
	cause := errors.New("library exploded")
	err := error(&AdapterError{Backend: "x", Op: "posterior", Err: cause})
	assert.ErrorIs(t, err, internalerr.ErrAdapterFailure)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "library exploded")
}

func TestEpochCounter(t *testing.T) {
	var c EpochCounter
	assert.Equal(t, uint64(0), c.Epoch())
	assert.Equal(t, uint64(1), c.Bump())
	assert.Equal(t, uint64(1), c.Epoch())
}
