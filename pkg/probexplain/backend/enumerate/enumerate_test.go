package enumerate

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognicore/probexplain/pkg/probexplain/backend/base"
	"github.com/cognicore/probexplain/pkg/probexplain/internalerr"
	"github.com/cognicore/probexplain/pkg/probexplain/model"
	"github.com/cognicore/probexplain/pkg/probexplain/network"
)

const rainYAML = `
name: rain
variables:
  - name: Rain
    states: [t, f]
    cpt: [[0.2, 0.8]]
  - name: Sprinkler
    states: [t, f]
    parents: [Rain]
    cpt: [[0.01, 0.99], [0.4, 0.6]]
  - name: Wet
    states: [t, f]
    parents: [Sprinkler, Rain]
    cpt: [[0.99, 0.01], [0.9, 0.1], [0.8, 0.2], [0.0, 1.0]]
`

func newRain(t *testing.T) *Model {
	t.Helper()
	n, err := network.Parse([]byte(rainYAML))
	require.NoError(t, err)
	g, err := network.Compile(n)
	require.NoError(t, err)
	return New(g, base.Options{Seed: 7})
}

func ev(kv ...string) model.Evidence {
	m := make(map[string]string)
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i]] = kv[i+1]
	}
	return model.NewEvidence(m)
}

func TestPosteriorRainGivenWet(t *testing.T) {
	m := newRain(t)

	d, err := m.Posterior([]string{"Rain"}, ev("Wet", "t"))
	require.NoError(t, err)

	// P(R=t, W=t) = 0.2*(0.01*0.99 + 0.99*0.8)
	// P(R=f, W=t) = 0.8*(0.4*0.9 + 0.6*0)
	prt := 0.2 * (0.01*0.99 + 0.99*0.8)
	prf := 0.8 * (0.4 * 0.9)
	want := prt / (prt + prf)

	p, err := d.Prob(model.Assignment{"Rain": "t"})
	require.NoError(t, err)
	assert.InDelta(t, want, p, 1e-12)
}

func TestPosteriorOfObservedVariableIsPointMass(t *testing.T) {
	m := newRain(t)
	d, err := m.Posterior([]string{"Rain"}, ev("Rain", "f"))
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1}, d.Probs)
}

func TestMAPEmptyEvidence(t *testing.T) {
	m := newRain(t)
	a, p, err := m.MAP([]string{"Rain", "Sprinkler", "Wet"}, model.Evidence{})
	require.NoError(t, err)
	assert.Equal(t, model.Assignment{"Rain": "f", "Sprinkler": "f", "Wet": "f"}, a)
	assert.InDelta(t, 0.8*0.6*1.0, p, 1e-12)
}

func TestLogLikelihood(t *testing.T) {
	m := newRain(t)
	ll, err := m.LogLikelihood(ev("Rain", "t"))
	require.NoError(t, err)
	assert.InDelta(t, math.Log(0.2), ll, 1e-12)

	ll, err = m.LogLikelihood(model.Evidence{})
	require.NoError(t, err)
	assert.InDelta(t, 0, ll, 1e-12)
}

func TestZeroProbabilityEvidence(t *testing.T) {
	m := newRain(t)
	// Wet is never true without sprinkler and rain.
	bad := ev("Sprinkler", "f", "Rain", "f", "Wet", "t")

	_, err := m.Posterior([]string{"Wet"}, bad)
	var ie *model.InconsistentEvidenceError
	assert.True(t, errors.As(err, &ie))
	assert.ErrorIs(t, err, internalerr.ErrInconsistentEvidence)

	_, _, err = m.MAP([]string{"Wet"}, bad)
	assert.ErrorIs(t, err, internalerr.ErrInconsistentEvidence)

	_, err = m.LogLikelihood(bad)
	assert.ErrorIs(t, err, internalerr.ErrInconsistentEvidence)

	_, err = m.Sample(3, bad)
	assert.ErrorIs(t, err, internalerr.ErrInconsistentEvidence)
}

func TestUnknownNames(t *testing.T) {
	m := newRain(t)

	_, err := m.ParentsOf("Snow")
	assert.ErrorIs(t, err, internalerr.ErrUnknownVariable)
	_, err = m.ChildrenOf("Snow")
	assert.ErrorIs(t, err, internalerr.ErrUnknownVariable)
	_, err = m.DomainOf("Snow")
	assert.ErrorIs(t, err, internalerr.ErrUnknownVariable)
	_, err = m.Posterior([]string{"Snow"}, model.Evidence{})
	assert.ErrorIs(t, err, internalerr.ErrUnknownVariable)
	_, err = m.Posterior([]string{"Rain"}, ev("Snow", "t"))
	assert.ErrorIs(t, err, internalerr.ErrUnknownVariable)
	_, err = m.Posterior([]string{"Rain"}, ev("Wet", "maybe"))
	assert.ErrorIs(t, err, internalerr.ErrInvalidInput)
}

func TestStructure(t *testing.T) {
	m := newRain(t)

	parents, err := m.ParentsOf("Wet")
	require.NoError(t, err)
	assert.Equal(t, []string{"Sprinkler", "Rain"}, model.Names(parents))

	children, err := m.ChildrenOf("Rain")
	require.NoError(t, err)
	assert.Equal(t, []string{"Sprinkler", "Wet"}, model.Names(children))

	dom, err := m.DomainOf("Rain")
	require.NoError(t, err)
	assert.Equal(t, []string{"t", "f"}, dom)
}

func TestModelEvidenceStateAppliesToQueries(t *testing.T) {
	m := newRain(t)
	before := m.Epoch()

	require.NoError(t, m.SetEvidence(ev("Rain", "t")))
	assert.Greater(t, m.Epoch(), before)

	d, err := m.Posterior([]string{"Sprinkler"}, model.Evidence{})
	require.NoError(t, err)
	assert.InDelta(t, 0.01, d.Probs[0], 1e-12)

	// Explicit evidence overrides the model's state.
	d, err = m.Posterior([]string{"Sprinkler"}, ev("Rain", "f"))
	require.NoError(t, err)
	assert.InDelta(t, 0.4, d.Probs[0], 1e-12)

	epoch := m.Epoch()
	m.ClearEvidence()
	assert.Greater(t, m.Epoch(), epoch)
	assert.True(t, m.Evidence().IsEmpty())

	assert.ErrorIs(t, m.SetEvidence(ev("Nope", "t")), internalerr.ErrUnknownVariable)
}

func TestSetParameters(t *testing.T) {
	m := newRain(t)
	p, err := m.Parameters("Rain")
	require.NoError(t, err)

	p.Table[0] = []float64{0.9, 0.1}
	before := m.Epoch()
	require.NoError(t, m.SetParameters("Rain", p))
	assert.Greater(t, m.Epoch(), before)

	d, err := m.Posterior([]string{"Rain"}, model.Evidence{})
	require.NoError(t, err)
	assert.InDelta(t, 0.9, d.Probs[0], 1e-12)

	bad := p.Clone()
	bad.Table[0] = []float64{0.9, 0.2}
	assert.ErrorIs(t, m.SetParameters("Rain", bad), internalerr.ErrInvalidInput)

	wrong, err := m.Parameters("Sprinkler")
	require.NoError(t, err)
	assert.ErrorIs(t, m.SetParameters("Rain", wrong), internalerr.ErrInvalidInput)
}

func TestParametersAreSnapshots(t *testing.T) {
	m := newRain(t)
	p, err := m.Parameters("Rain")
	require.NoError(t, err)
	p.Table[0][0] = 1

	again, err := m.Parameters("Rain")
	require.NoError(t, err)
	assert.Equal(t, 0.2, again.Table[0][0])
}

func TestSampleRespectsEvidence(t *testing.T) {
	m := newRain(t)

	samples, err := m.Sample(200, ev("Wet", "t"))
	require.NoError(t, err)
	require.Len(t, samples, 200)
	for _, s := range samples {
		assert.Equal(t, "t", s["Wet"])
		// Wet=t is impossible with both causes off.
		assert.False(t, s["Rain"] == "f" && s["Sprinkler"] == "f")
	}

	none, err := m.Sample(0, model.Evidence{})
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = m.Sample(-1, model.Evidence{})
	assert.ErrorIs(t, err, internalerr.ErrInvalidInput)
}

func TestSampleFrequencies(t *testing.T) {
	m := newRain(t)
	const n = 4000
	samples, err := m.Sample(n, model.Evidence{})
	require.NoError(t, err)

	rain := 0
	for _, s := range samples {
		if s["Rain"] == "t" {
			rain++
		}
	}
	assert.InDelta(t, 0.2, float64(rain)/n, 0.05)
}
