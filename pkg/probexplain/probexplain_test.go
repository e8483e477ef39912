package probexplain

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognicore/probexplain/pkg/probexplain/backend/base"
	"github.com/cognicore/probexplain/pkg/probexplain/config"
	"github.com/cognicore/probexplain/pkg/probexplain/explain"
	"github.com/cognicore/probexplain/pkg/probexplain/internalerr"
	"github.com/cognicore/probexplain/pkg/probexplain/model"
	"github.com/cognicore/probexplain/pkg/probexplain/network"
	"github.com/cognicore/probexplain/pkg/probexplain/store"
	"github.com/cognicore/probexplain/pkg/probexplain/store/memstore"
)

func chainNetwork(t *testing.T) (*network.Network, []byte) {
	t.Helper()
	src, err := os.ReadFile(filepath.Join("..", "..", "networks", "chain.yaml"))
	require.NoError(t, err)
	n, err := network.Parse(src)
	require.NoError(t, err)
	return n, src
}

func TestBackends(t *testing.T) {
	assert.Equal(t, []string{"enumerate", "varelim"}, Backends())

	n, _ := chainNetwork(t)
	g, err := network.Compile(n)
	require.NoError(t, err)
	_, err = NewModel("junction-tree", g, base.Options{})
	assert.ErrorIs(t, err, internalerr.ErrInvalidConfig)
}

func TestOpenRequiresNetwork(t *testing.T) {
	_, err := Open(context.Background(), Options{})
	assert.ErrorIs(t, err, internalerr.ErrInvalidConfig)
}

func TestSessionRunsAndRecords(t *testing.T) {
	ctx := context.Background()
	n, src := chainNetwork(t)
	st := memstore.New()

	for _, backend := range Backends() {
		t.Run(backend, func(t *testing.T) {
			s, err := Open(ctx, Options{Network: n, Source: src, Backend: backend, Store: st})
			require.NoError(t, err)
			assert.Equal(t, "chain", s.Network())
			assert.Equal(t, backend, s.Backend())

			res, err := s.Run(ctx, func(ctx context.Context, x *explain.Explainer) (*explain.Result, error) {
				return x.MAP(ctx, model.NewEvidence(map[string]string{"C": "t"}))
			})
			require.NoError(t, err)

			run, err := st.GetRun(ctx, res.ID)
			require.NoError(t, err)
			assert.Equal(t, "map", run.Algorithm)
			assert.Equal(t, backend, run.Backend)
			assert.Equal(t, map[string]string{"C": "t"}, run.Evidence)

			var decoded explain.Result
			require.NoError(t, json.Unmarshal(run.Payload, &decoded))
			assert.Equal(t, res.Assignment, decoded.Assignment)
			assert.True(t, res.Evidence.Equal(decoded.Evidence))
		})
	}

	net, found, err := st.GetNetwork(ctx, "chain")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 4, net.Variables)
	assert.Equal(t, src, net.Source)

	s, err := Open(ctx, Options{Network: n, Store: st})
	require.NoError(t, err)
	history, err := s.History(ctx, store.Filter{Algorithm: "map"})
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestFailedRunIsNotRecorded(t *testing.T) {
	ctx := context.Background()
	n, _ := chainNetwork(t)
	st := memstore.New()
	s, err := Open(ctx, Options{Network: n, Store: st})
	require.NoError(t, err)

	_, err = s.Run(ctx, func(ctx context.Context, x *explain.Explainer) (*explain.Result, error) {
		return x.Posterior(ctx, []string{"Nope"}, model.Evidence{})
	})
	assert.ErrorIs(t, err, internalerr.ErrUnknownVariable)

	runs, err := st.ListRuns(ctx, store.Filter{})
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestSessionWithoutStore(t *testing.T) {
	ctx := context.Background()
	n, _ := chainNetwork(t)
	s, err := Open(ctx, Options{Network: n, Seed: 3})
	require.NoError(t, err)
	defer s.Close()

	res, err := s.Run(ctx, func(ctx context.Context, x *explain.Explainer) (*explain.Result, error) {
		return x.Posterior(ctx, []string{"A"}, model.Evidence{})
	})
	require.NoError(t, err)
	assert.Len(t, res.Posterior, 2)

	history, err := s.History(ctx, store.Filter{})
	require.NoError(t, err)
	assert.Empty(t, history)

	samples, err := s.Sample(5, model.NewEvidence(map[string]string{"B": "t"}))
	require.NoError(t, err)
	require.Len(t, samples, 5)
	for _, a := range samples {
		assert.Equal(t, "t", a["B"])
	}
}

func TestOptionsFromConfigAndSQLiteLedger(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	comp, err := (&config.Loader{
		NetworkPath: filepath.Join("..", "..", "networks", "sprinkler.yaml"),
		EnvFile:     filepath.Join(dir, "none.env"),
	}).Load()
	require.NoError(t, err)
	comp.Config.Backend = "enumerate"

	st, err := OpenStore(ctx, filepath.Join(dir, "ledger.db"))
	require.NoError(t, err)
	opts := OptionsFromConfig(comp)
	opts.Store = st
	assert.Equal(t, explain.KL, opts.Divergence)

	s, err := Open(ctx, opts)
	require.NoError(t, err)
	defer s.Close()

	res, err := s.Run(ctx, func(ctx context.Context, x *explain.Explainer) (*explain.Result, error) {
		return x.MarkovBlanket(ctx, "Rain", model.Evidence{}, explain.BlanketOptions{})
	})
	require.NoError(t, err)

	runs, err := s.History(ctx, store.Filter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, res.ID, runs[0].ID)
	assert.Equal(t, "sprinkler", runs[0].Network)
	assert.Equal(t, "enumerate", runs[0].Backend)
}
