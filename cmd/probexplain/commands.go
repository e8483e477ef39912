package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cognicore/probexplain/pkg/probexplain"
	"github.com/cognicore/probexplain/pkg/probexplain/explain"
	"github.com/cognicore/probexplain/pkg/probexplain/model"
	"github.com/cognicore/probexplain/pkg/probexplain/store"
)

// explainFunc runs one algorithm on an open session.
type explainFunc func(ctx context.Context, x *explain.Explainer, e model.Evidence) (*explain.Result, error)

// runExplain opens a session, runs fn with the --evidence flag, records
// the result and prints it.
func (a *app) runExplain(cmd *cobra.Command, fn explainFunc) error {
	e, err := a.evidenceFlag()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	s, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := s.Run(ctx, func(ctx context.Context, x *explain.Explainer) (*explain.Result, error) {
		return fn(ctx, x, e)
	})
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), res)
}

type variableInfo struct {
	Name     string   `json:"name"`
	States   []string `json:"states"`
	Parents  []string `json:"parents,omitempty"`
	Children []string `json:"children,omitempty"`
}

func (a *app) variablesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "variables",
		Short: "List the network's variables with their states and neighbours",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			m := s.Model()
			var out []variableInfo
			for _, v := range m.Variables() {
				parents, err := m.ParentsOf(v.Name)
				if err != nil {
					return err
				}
				children, err := m.ChildrenOf(v.Name)
				if err != nil {
					return err
				}
				out = append(out, variableInfo{
					Name:     v.Name,
					States:   v.States,
					Parents:  model.Names(parents),
					Children: model.Names(children),
				})
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
}

func (a *app) posteriorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "posterior TARGET...",
		Short: "Joint posterior of the targets given the evidence",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runExplain(cmd, func(ctx context.Context, x *explain.Explainer, e model.Evidence) (*explain.Result, error) {
				return x.Posterior(ctx, args, e)
			})
		},
	}
}

func (a *app) mapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "map",
		Short: "Most probable assignment of every unobserved variable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runExplain(cmd, func(ctx context.Context, x *explain.Explainer, e model.Evidence) (*explain.Result, error) {
				return x.MAP(ctx, e)
			})
		},
	}
}

func (a *app) blanketCmd() *cobra.Command {
	var divergence string
	cmd := &cobra.Command{
		Use:   "blanket TARGET",
		Short: "Rank the Markov blanket of a variable by influence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts explain.BlanketOptions
			if divergence != "" {
				d, err := explain.ParseDivergence(divergence)
				if err != nil {
					return err
				}
				opts.Divergence = d
			}
			return a.runExplain(cmd, func(ctx context.Context, x *explain.Explainer, e model.Evidence) (*explain.Result, error) {
				return x.MarkovBlanket(ctx, args[0], e, opts)
			})
		},
	}
	cmd.Flags().StringVar(&divergence, "divergence", "", "kl, js or hellinger (default from config)")
	return cmd
}

func (a *app) sensitivityCmd() *cobra.Command {
	var delta float64
	cmd := &cobra.Command{
		Use:   "sensitivity PARAMETER TARGET",
		Short: "Perturb each CPT entry of PARAMETER and watch TARGET",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("delta") {
				delta = a.cfg.Explain.SensitivityDelta
			}
			return a.runExplain(cmd, func(ctx context.Context, x *explain.Explainer, e model.Evidence) (*explain.Result, error) {
				return x.Sensitivity(ctx, explain.SensitivityRequest{
					Parameter: args[0],
					Target:    args[1],
					Delta:     delta,
					Evidence:  e,
				})
			})
		},
	}
	cmd.Flags().Float64Var(&delta, "delta", 0, "perturbation added to each entry (default from config)")
	return cmd
}

func (a *app) independenceCmd() *cobra.Command {
	var relevant string
	cmd := &cobra.Command{
		Use:   "independence TARGET...",
		Short: "Test whether the MAP of the targets survives observing --relevant",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rel := parseList(relevant)
			if len(rel) == 0 {
				return fmt.Errorf("--relevant is required")
			}
			return a.runExplain(cmd, func(ctx context.Context, x *explain.Explainer, e model.Evidence) (*explain.Result, error) {
				return x.MapIndependence(ctx, args, rel, e)
			})
		},
	}
	cmd.Flags().StringVar(&relevant, "relevant", "", "comma separated variables to observe")
	return cmd
}

func (a *app) defeatersCmd() *cobra.Command {
	var (
		depth      int
		candidates string
	)
	cmd := &cobra.Command{
		Use:   "defeaters TARGET...",
		Short: "Search for observation sets that overturn the MAP of the targets",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("depth") {
				depth = a.cfg.Explain.DefeaterDepth
			}
			opts := explain.DefeaterOptions{
				Depth:      depth,
				Candidates: parseList(candidates),
				MaxSubsets: a.cfg.Explain.MaxSubsets,
			}
			return a.runExplain(cmd, func(ctx context.Context, x *explain.Explainer, e model.Evidence) (*explain.Result, error) {
				return x.Defeaters(ctx, args, e, opts)
			})
		},
	}
	cmd.Flags().IntVar(&depth, "depth", 0, "largest subset size, 0 for all (default from config)")
	cmd.Flags().StringVar(&candidates, "candidates", "", "comma separated variables to draw subsets from")
	return cmd
}

func (a *app) sampleCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Draw joint samples conditioned on the evidence",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.evidenceFlag()
			if err != nil {
				return err
			}
			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			samples, err := s.Sample(n, e)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), samples)
		},
	}
	cmd.Flags().IntVar(&n, "count", 10, "number of samples")
	return cmd
}

type historyEntry struct {
	ID        string            `json:"id"`
	Algorithm string            `json:"algorithm"`
	Network   string            `json:"network"`
	Backend   string            `json:"backend"`
	Targets   []string          `json:"targets,omitempty"`
	Evidence  map[string]string `json:"evidence,omitempty"`
	Queries   uint64            `json:"queries"`
	CacheHits uint64            `json:"cache_hits"`
	Duration  string            `json:"duration"`
	CreatedAt time.Time         `json:"created_at"`
}

func (a *app) historyCmd() *cobra.Command {
	var (
		algorithm string
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List runs recorded in the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.DB == "" {
				return fmt.Errorf("history needs a ledger: pass --db")
			}
			ctx := cmd.Context()
			st, err := probexplain.OpenStore(ctx, a.cfg.DB)
			if err != nil {
				return err
			}
			defer st.Close()

			f := store.Filter{Algorithm: algorithm, Limit: limit}
			if a.comp.Network != nil {
				f.Network = a.comp.Network.Name
			}
			runs, err := st.ListRuns(ctx, f)
			if err != nil {
				return err
			}
			out := make([]historyEntry, 0, len(runs))
			for _, r := range runs {
				out = append(out, historyEntry{
					ID:        r.ID,
					Algorithm: r.Algorithm,
					Network:   r.Network,
					Backend:   r.Backend,
					Targets:   r.Targets,
					Evidence:  r.Evidence,
					Queries:   r.Queries,
					CacheHits: r.CacheHits,
					Duration:  r.Duration.String(),
					CreatedAt: r.CreatedAt,
				})
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&algorithm, "algorithm", "", "only runs of this algorithm")
	cmd.Flags().IntVar(&limit, "limit", store.DefaultLimit, "maximum runs to list")
	return cmd
}
