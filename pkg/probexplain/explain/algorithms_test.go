package explain

import (
	"context"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"

	"github.com/cognicore/probexplain/pkg/probexplain/backend/base"
	"github.com/cognicore/probexplain/pkg/probexplain/backend/enumerate"
	"github.com/cognicore/probexplain/pkg/probexplain/internalerr"
	"github.com/cognicore/probexplain/pkg/probexplain/model"
)

func rankedNames(r []Influence) []string {
	out := make([]string, len(r))
	for i, inf := range r {
		out[i] = inf.Variable
	}
	return out
}

func TestMarkovBlanketOfChainMiddle(t *testing.T) {
	x := chain(t)
	ctx := context.Background()

	res, err := x.MarkovBlanket(ctx, "B", model.Evidence{}, BlanketOptions{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"A", "C"}, rankedNames(res.Ranking))
	assert.NotContains(t, rankedNames(res.Ranking), "D")
	for _, inf := range res.Ranking {
		assert.Greater(t, inf.Influence, 0.0, inf.Variable)
		assert.False(t, inf.Observed)
	}
	assert.GreaterOrEqual(t, res.Ranking[0].Influence, res.Ranking[1].Influence)

	again, err := x.MarkovBlanket(ctx, "B", model.Evidence{}, BlanketOptions{})
	require.NoError(t, err)
	if diff := cmp.Diff(res.Ranking, again.Ranking); diff != "" {
		t.Fatalf("ranking changed between runs (-first +second):\n%s", diff)
	}
}

func TestMarkovBlanketRoles(t *testing.T) {
	x := newExplainer(t, enumerate.New(parseGraph(t, threeBinary), base.Options{}))
	res, err := x.MarkovBlanket(context.Background(), "Y", model.Evidence{}, BlanketOptions{})
	require.NoError(t, err)

	roles := map[string]Role{}
	for _, inf := range res.Ranking {
		roles[inf.Variable] = inf.Role
	}
	// X is Y's parent and also a co-parent of Z; the first role wins.
	assert.Equal(t, map[string]Role{"X": RoleParent, "Z": RoleChild}, roles)
}

func TestMarkovBlanketObservedVariable(t *testing.T) {
	x := chain(t)
	res, err := x.MarkovBlanket(context.Background(), "B", ev("A", "t"), BlanketOptions{})
	require.NoError(t, err)

	var a Influence
	for _, inf := range res.Ranking {
		if inf.Variable == "A" {
			a = inf
		}
	}
	require.True(t, a.Observed)
	assert.Equal(t, "t", a.State)
	want := stat.KullbackLeibler([]float64{0.9, 0.1}, []float64{0.41, 0.59})
	assert.InDelta(t, want, a.Influence, 1e-9)
}

func TestMarkovBlanketDivergences(t *testing.T) {
	x := chain(t)
	for _, d := range []Divergence{KL, JS, Hellinger} {
		res, err := x.MarkovBlanket(context.Background(), "B", ev("C", "f"), BlanketOptions{Divergence: d})
		require.NoError(t, err, d)
		require.Len(t, res.Ranking, 2)
		for _, inf := range res.Ranking {
			assert.GreaterOrEqual(t, inf.Influence, 0.0)
		}
	}

	_, err := x.MarkovBlanket(context.Background(), "B", model.Evidence{}, BlanketOptions{Divergence: "cosine"})
	assert.ErrorIs(t, err, internalerr.ErrInvalidConfig)

	d, err := ParseDivergence("js")
	require.NoError(t, err)
	assert.Equal(t, JS, d)
}

func TestMarkovBlanketRejects(t *testing.T) {
	x := chain(t)
	ctx := context.Background()

	_, err := x.MarkovBlanket(ctx, "B", ev("B", "t"), BlanketOptions{})
	assert.ErrorIs(t, err, internalerr.ErrInvalidInput)
	_, err = x.MarkovBlanket(ctx, "Q", model.Evidence{}, BlanketOptions{})
	assert.ErrorIs(t, err, internalerr.ErrUnknownVariable)

	require.NoError(t, x.Model().SetEvidence(ev("A", "t")))
	_, err = x.MarkovBlanket(ctx, "B", model.Evidence{}, BlanketOptions{})
	assert.ErrorIs(t, err, internalerr.ErrInvalidInput)
}

func TestMarkovBlanketRejectsTargetFixedByModel(t *testing.T) {
	x := chain(t)
	require.NoError(t, x.Model().SetEvidence(ev("B", "t")))

	res, err := x.MarkovBlanket(context.Background(), "B", model.Evidence{}, BlanketOptions{})
	assert.ErrorIs(t, err, internalerr.ErrInvalidInput)
	assert.Nil(t, res)

	_, err = x.MapIndependence(context.Background(), []string{"B"}, []string{"A"}, model.Evidence{})
	assert.ErrorIs(t, err, internalerr.ErrInvalidInput)
	assert.Equal(t, 0, x.Stack().Depth())
}

func TestSensitivityOfChainRoot(t *testing.T) {
	x := chain(t)
	orig, err := x.Model().Parameters("A")
	require.NoError(t, err)

	res, err := x.Sensitivity(context.Background(), SensitivityRequest{Parameter: "A", Target: "B", Delta: 0.1})
	require.NoError(t, err)
	require.Len(t, res.Sensitivity, 2)

	up := res.Sensitivity[0]
	assert.Equal(t, "t", up.State)
	assert.InDelta(t, 0.3, up.Original, 1e-12)
	assert.InDelta(t, 0.4, up.Perturbed, 1e-12)
	assert.InDeltaSlice(t, []float64{0.41, 0.59}, up.Before, 1e-9)
	assert.InDeltaSlice(t, []float64{0.48, 0.52}, up.After, 1e-9)
	assert.InDelta(t, 0.07, up.MaxAbsChange, 1e-9)
	assert.InDelta(t, 0.14, up.L1, 1e-9)
	// The baseline mode of B is f.
	assert.InDelta(t, -0.7, up.Slope, 1e-9)
	assert.False(t, up.MAPChanged)

	down := res.Sensitivity[1]
	assert.Equal(t, "f", down.State)
	assert.InDeltaSlice(t, []float64{0.34, 0.66}, down.After, 1e-9)
	assert.InDelta(t, 0.7, down.Slope, 1e-9)

	require.NotNil(t, res.Summary)
	assert.Equal(t, 2, res.Summary.Entries)
	assert.InDelta(t, 0.07, res.Summary.Mean, 1e-9)
	assert.InDelta(t, 0.07, res.Summary.Max, 1e-9)
	assert.InDelta(t, 0, res.Summary.StdDev, 1e-9)
	assert.Equal(t, 0, res.Summary.MAPChanges)

	after, err := x.Model().Parameters("A")
	require.NoError(t, err)
	assert.Equal(t, orig.Table, after.Table)
	assert.Equal(t, 0, x.Stack().Depth())
}

func TestSensitivityDetectsMAPFlip(t *testing.T) {
	x := chain(t)
	res, err := x.Sensitivity(context.Background(), SensitivityRequest{Parameter: "A", Target: "A", Delta: 0.5})
	require.NoError(t, err)

	// P(A=t) raised to 0.8 makes A=t,B=t,C=t,D=t the most probable state.
	assert.True(t, res.Sensitivity[0].MAPChanged)
	assert.Equal(t, "t", res.Sensitivity[0].MAP["A"])
	assert.InDelta(t, 1.0, res.Sensitivity[1].Perturbed, 1e-12, "clamped")
	assert.Equal(t, 1, res.Summary.MAPChanges)
	assert.Equal(t, 0, res.Summary.MostSensitive)
}

func TestSensitivityRowsWithParents(t *testing.T) {
	x := chain(t)
	res, err := x.Sensitivity(context.Background(), SensitivityRequest{
		Parameter: "C", Target: "B", Delta: -0.05, Evidence: ev("C", "t"),
	})
	require.NoError(t, err)
	require.Len(t, res.Sensitivity, 4)
	assert.Equal(t, model.Assignment{"B": "t"}, res.Sensitivity[0].Parents)
	assert.Equal(t, model.Assignment{"B": "f"}, res.Sensitivity[2].Parents)
	for _, en := range res.Sensitivity {
		assert.False(t, en.Inconsistent)
		assert.InDelta(t, 1, en.After[0]+en.After[1], 1e-9)
	}
}

func TestSensitivityRejectsBadRequest(t *testing.T) {
	x := chain(t)
	ctx := context.Background()
	for _, delta := range []float64{0, math.NaN(), math.Inf(1)} {
		_, err := x.Sensitivity(ctx, SensitivityRequest{Parameter: "A", Target: "B", Delta: delta})
		assert.ErrorIs(t, err, internalerr.ErrInvalidInput)
	}
	_, err := x.Sensitivity(ctx, SensitivityRequest{Parameter: "Q", Target: "B", Delta: 0.1})
	assert.ErrorIs(t, err, internalerr.ErrUnknownVariable)
	assert.Equal(t, 0, x.Stack().Depth())
}

func TestSensitivityReportsImpossiblePerturbation(t *testing.T) {
	x := chain(t)
	res, err := x.Sensitivity(context.Background(), SensitivityRequest{
		Parameter: "A", Target: "B", Delta: -1, Evidence: ev("A", "t"),
	})
	require.NoError(t, err)
	require.Len(t, res.Sensitivity, 2)

	// P(A=t) clamped to zero contradicts the evidence A=t.
	gone := res.Sensitivity[0]
	assert.True(t, gone.Inconsistent)
	assert.InDelta(t, 0, gone.Perturbed, 1e-12)
	assert.Nil(t, gone.After)

	kept := res.Sensitivity[1]
	assert.False(t, kept.Inconsistent)
	assert.InDeltaSlice(t, kept.Before, kept.After, 1e-9)

	assert.Equal(t, 1, res.Summary.Entries)
	assert.Equal(t, 1, res.Summary.MostSensitive)
	assert.Equal(t, 0, x.Stack().Depth())

	after, err := x.Model().Parameters("A")
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0.3, 0.7}}, after.Table)
}

const singleState = `
name: constant
variables:
  - name: X
    states: [on]
    cpt: [[1.0]]
  - name: Y
    states: [t, f]
    parents: [X]
    cpt: [[0.4, 0.6]]
`

func TestSensitivityOfSingleStateVariable(t *testing.T) {
	x := newExplainer(t, enumerate.New(parseGraph(t, singleState), base.Options{}))
	res, err := x.Sensitivity(context.Background(), SensitivityRequest{Parameter: "X", Target: "Y", Delta: 0.1})
	require.NoError(t, err)
	require.Len(t, res.Sensitivity, 1)

	en := res.Sensitivity[0]
	assert.False(t, en.Inconsistent)
	assert.InDelta(t, 1, en.Perturbed, 1e-12)
	assert.InDelta(t, 0, en.MaxAbsChange, 1e-12)
	assert.InDelta(t, 0, en.Slope, 1e-12)
	assert.False(t, en.MAPChanged)
}

func TestMapIndependence(t *testing.T) {
	x := chain(t)
	ctx := context.Background()

	res, err := x.MapIndependence(ctx, []string{"A"}, []string{"D"}, model.Evidence{})
	require.NoError(t, err)
	ind := res.Independence
	require.NotNil(t, ind)
	assert.True(t, ind.Independent)
	assert.Equal(t, model.Assignment{"A": "f"}, ind.Hypothesis)
	assert.InDelta(t, 0.7, ind.Probability, 1e-12)
	assert.Equal(t, 2, ind.Checked)

	res, err = x.MapIndependence(ctx, []string{"A"}, []string{"B"}, model.Evidence{})
	require.NoError(t, err)
	ind = res.Independence
	assert.False(t, ind.Independent)
	assert.Equal(t, model.Assignment{"B": "t"}, ind.Altering)
	assert.Equal(t, model.Assignment{"A": "t"}, ind.AlteredTo)
}

func TestMapIndependenceSkipsImpossibleObservations(t *testing.T) {
	x := newExplainer(t, enumerate.New(loadGraph(t, "asia.yaml"), base.Options{}))
	res, err := x.MapIndependence(context.Background(), []string{"smoke"}, []string{"lung", "either"},
		ev("tub", "no", "bronc", "yes"))
	require.NoError(t, err)

	ind := res.Independence
	// With tub ruled out, either equals lung, so two of the four joint
	// observations are impossible.
	assert.Equal(t, 2, ind.Skipped)
	assert.Equal(t, 2, ind.Checked)
	assert.True(t, ind.Independent)
	assert.Equal(t, model.Assignment{"smoke": "yes"}, ind.Hypothesis)
}

func TestMapIndependenceRejectsOverlap(t *testing.T) {
	x := chain(t)
	ctx := context.Background()

	_, err := x.MapIndependence(ctx, []string{"A"}, []string{"A"}, model.Evidence{})
	assert.ErrorIs(t, err, internalerr.ErrInvalidInput)
	_, err = x.MapIndependence(ctx, []string{"A"}, []string{"C"}, ev("C", "t"))
	assert.ErrorIs(t, err, internalerr.ErrInvalidInput)
	_, err = x.MapIndependence(ctx, []string{"A"}, nil, model.Evidence{})
	assert.ErrorIs(t, err, internalerr.ErrInvalidInput)
	_, err = x.MapIndependence(ctx, []string{"A"}, []string{"B", "B"}, model.Evidence{})
	assert.ErrorIs(t, err, internalerr.ErrInvalidInput)
}

func TestDefeatersOfChainRoot(t *testing.T) {
	x := chain(t)
	res, err := x.Defeaters(context.Background(), []string{"A"}, model.Evidence{}, DefeaterOptions{Depth: 2})
	require.NoError(t, err)

	d := res.Defeaters
	require.NotNil(t, d)
	assert.Equal(t, []string{"B", "C", "D"}, d.Candidates)
	assert.Equal(t, [][]string{{"B"}, {"C"}}, d.Relevant)
	assert.Equal(t, [][]string{{"D"}}, d.Irrelevant)
	// Every pair contains B or C and is skipped.
	assert.Equal(t, 3, d.Evaluated)
	assert.Equal(t, model.Assignment{"A": "f"}, d.Hypothesis)
}

func TestDefeatersExplicitCandidates(t *testing.T) {
	x := chain(t)
	res, err := x.Defeaters(context.Background(), []string{"B"}, ev("C", "f"),
		DefeaterOptions{Candidates: []string{"D"}})
	require.NoError(t, err)
	assert.Empty(t, res.Defeaters.Relevant)
	assert.Equal(t, [][]string{{"D"}}, res.Defeaters.Irrelevant)

	_, err = x.Defeaters(context.Background(), []string{"B"}, ev("C", "f"),
		DefeaterOptions{Candidates: []string{"C"}})
	assert.ErrorIs(t, err, internalerr.ErrInvalidInput)
}

func TestDefeatersSubsetLimit(t *testing.T) {
	x := newExplainer(t, enumerate.New(loadGraph(t, "asia.yaml"), base.Options{}))
	_, err := x.Defeaters(context.Background(), []string{"lung"}, model.Evidence{}, DefeaterOptions{MaxSubsets: 10})
	assert.ErrorIs(t, err, internalerr.ErrInvalidInput)
	assert.Equal(t, 0, x.Stack().Depth())
}

func TestDefeatersMatchesSerialEvaluation(t *testing.T) {
	g := loadGraph(t, "asia.yaml")
	ctx := context.Background()
	e := ev("dysp", "yes")
	opts := DefeaterOptions{Depth: 2}

	serial, err := New(enumerate.New(g, base.Options{}), Options{Workers: 1})
	require.NoError(t, err)
	parallel, err := New(enumerate.New(g, base.Options{}), Options{Workers: 8})
	require.NoError(t, err)

	a, err := serial.Defeaters(ctx, []string{"bronc"}, e, opts)
	require.NoError(t, err)
	b, err := parallel.Defeaters(ctx, []string{"bronc"}, e, opts)
	require.NoError(t, err)
	if diff := cmp.Diff(a.Defeaters, b.Defeaters); diff != "" {
		t.Fatalf("parallel search differs (-serial +parallel):\n%s", diff)
	}
}

func TestCombinatorics(t *testing.T) {
	var got [][]int
	eachCombination(4, 2, func(c []int) {
		got = append(got, append([]int(nil), c...))
	})
	assert.Equal(t, [][]int{{0, 1}, {0, 2}, {0, 3}, {1, 2}, {1, 3}, {2, 3}}, got)
	assert.Equal(t, 4+6, countSubsets(4, 2))
	assert.Equal(t, 15, countSubsets(4, 4))
	assert.True(t, isSubset([]int{1, 3}, []int{0, 1, 2, 3}))
	assert.False(t, isSubset([]int{1, 4}, []int{0, 1, 2, 3}))
}
