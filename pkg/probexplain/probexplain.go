// Package probexplain wires a network, a backend, the explanation layer and
// the result ledger into one session.
package probexplain

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/cognicore/probexplain/pkg/probexplain/backend/base"
	"github.com/cognicore/probexplain/pkg/probexplain/backend/enumerate"
	"github.com/cognicore/probexplain/pkg/probexplain/backend/varelim"
	"github.com/cognicore/probexplain/pkg/probexplain/config"
	"github.com/cognicore/probexplain/pkg/probexplain/explain"
	"github.com/cognicore/probexplain/pkg/probexplain/internalerr"
	"github.com/cognicore/probexplain/pkg/probexplain/model"
	"github.com/cognicore/probexplain/pkg/probexplain/network"
	"github.com/cognicore/probexplain/pkg/probexplain/store"
	"github.com/cognicore/probexplain/pkg/probexplain/store/memstore"
	"github.com/cognicore/probexplain/pkg/probexplain/store/sqlite"
)

// BackendFactory builds a model for a compiled network
type BackendFactory func(g *network.Graph, opts base.Options) model.Model

var backends = map[string]BackendFactory{
	enumerate.Name: func(g *network.Graph, opts base.Options) model.Model { return enumerate.New(g, opts) },
	varelim.Name:   func(g *network.Graph, opts base.Options) model.Model { return varelim.New(g, opts) },
}

// Backends lists the registered backend names
func Backends() []string {
	names := make([]string, 0, len(backends))
	for n := range backends {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NewModel builds the named backend over g
func NewModel(name string, g *network.Graph, opts base.Options) (model.Model, error) {
	f, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown backend %q (have %v)", internalerr.ErrInvalidConfig, name, Backends())
	}
	return f(g, opts), nil
}

// Options configures a Session
type Options struct {
	Network       *network.Network
	Source        []byte // raw network document, recorded in the ledger
	Backend       string
	Seed          uint64
	CacheCapacity int
	Divergence    explain.Divergence
	Workers       int
	Store         store.Store // nil disables recording
	Logger        *zap.Logger
}

// OptionsFromConfig fills Options from a loaded configuration
func OptionsFromConfig(comp *config.Components) Options {
	c := comp.Config
	return Options{
		Network:       comp.Network,
		Source:        comp.Source,
		Backend:       c.Backend,
		Seed:          c.Seed,
		CacheCapacity: c.Cache.Capacity,
		Divergence:    explain.Divergence(c.Explain.Divergence),
		Workers:       c.Explain.Workers,
	}
}

// OpenStore opens the sqlite ledger at path, or an in-memory one when path
// is empty
func OpenStore(ctx context.Context, path string) (store.Store, error) {
	if path == "" {
		return memstore.New(), nil
	}
	return sqlite.OpenSQLite(ctx, path)
}

// Session is one network loaded into one backend
type Session struct {
	network   string
	backend   string
	model     model.Model
	explainer *explain.Explainer
	store     store.Store
	log       *zap.Logger
}

// Open compiles the network, builds the backend and registers the network
// in the ledger
func Open(ctx context.Context, opts Options) (*Session, error) {
	if opts.Network == nil {
		return nil, fmt.Errorf("%w: no network", internalerr.ErrInvalidConfig)
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Backend == "" {
		opts.Backend = varelim.Name
	}

	g, err := network.Compile(opts.Network)
	if err != nil {
		return nil, err
	}
	m, err := NewModel(opts.Backend, g, base.Options{Seed: opts.Seed, Logger: log})
	if err != nil {
		return nil, err
	}
	x, err := explain.New(m, explain.Options{
		CacheCapacity: opts.CacheCapacity,
		Divergence:    opts.Divergence,
		Workers:       opts.Workers,
		Logger:        log,
	})
	if err != nil {
		return nil, err
	}

	s := &Session{
		network:   g.Name,
		backend:   opts.Backend,
		model:     m,
		explainer: x,
		store:     opts.Store,
		log:       log,
	}
	if s.store != nil {
		err := s.store.UpsertNetwork(ctx, store.Network{
			Name:      g.Name,
			Variables: len(g.Vars),
			Source:    opts.Source,
		})
		if err != nil {
			return nil, fmt.Errorf("record network: %w", err)
		}
	}
	log.Info("session opened",
		zap.String("network", g.Name),
		zap.String("backend", opts.Backend),
		zap.Int("variables", len(g.Vars)))
	return s, nil
}

// Close cleanly shuts down the session and its ledger
func (s *Session) Close() error {
	if s.store == nil {
		return nil
	}
	return s.store.Close()
}

// Network returns the network name.
func (s *Session) Network() string { return s.network }

// Backend returns the backend name.
func (s *Session) Backend() string { return s.backend }

func (s *Session) Model() model.Model { return s.model }

func (s *Session) Explainer() *explain.Explainer { return s.explainer }

// Run executes one explanation and records its result
func (s *Session) Run(ctx context.Context, fn func(ctx context.Context, x *explain.Explainer) (*explain.Result, error)) (*explain.Result, error) {
	res, err := fn(ctx, s.explainer)
	if err != nil {
		return nil, err
	}
	if err := s.Record(ctx, res); err != nil {
		return res, err
	}
	return res, nil
}

// Record stores res in the ledger. It is a no-op without a store.
func (s *Session) Record(ctx context.Context, res *explain.Result) error {
	if s.store == nil || res == nil {
		return nil
	}
	payload, err := json.Marshal(res)
	if err != nil {
		return err
	}
	err = s.store.SaveRun(ctx, store.Run{
		ID:        res.ID,
		Algorithm: string(res.Algorithm),
		Network:   s.network,
		Backend:   s.backend,
		Targets:   res.Targets,
		Evidence:  res.Evidence.Map(),
		Queries:   res.Provenance.Queries,
		CacheHits: res.Provenance.CacheHits,
		Duration:  res.Provenance.Duration,
		CreatedAt: res.Provenance.StartedAt,
		Payload:   payload,
	})
	if err != nil {
		return fmt.Errorf("record run %s: %w", res.ID, err)
	}
	s.log.Debug("run recorded", zap.String("id", res.ID), zap.String("algorithm", string(res.Algorithm)))
	return nil
}

// History lists recorded runs for this session's network
func (s *Session) History(ctx context.Context, f store.Filter) ([]store.Run, error) {
	if s.store == nil {
		return nil, nil
	}
	if f.Network == "" {
		f.Network = s.network
	}
	return s.store.ListRuns(ctx, f)
}

// Sample draws n joint assignments conditioned on e
func (s *Session) Sample(n int, e model.Evidence) ([]model.Assignment, error) {
	return s.model.Sample(n, e)
}
