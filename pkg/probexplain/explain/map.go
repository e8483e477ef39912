package explain

import (
	"context"
	"fmt"

	"github.com/cognicore/probexplain/pkg/probexplain/internalerr"
	"github.com/cognicore/probexplain/pkg/probexplain/model"
)

// MAP explains e by the most probable joint assignment to every variable it
// leaves unobserved.
func (x *Explainer) MAP(ctx context.Context, e model.Evidence) (*Result, error) {
	targets := model.NonEvidence(x.model, x.effective(e))
	return x.invoke(ctx, AlgorithmMAP, targets, e, func(r *run, res *Result) error {
		if len(targets) == 0 {
			return fmt.Errorf("%w: every variable is observed", internalerr.ErrInvalidInput)
		}
		a, p, err := r.mapQuery(targets, e)
		if err != nil {
			return err
		}
		res.Assignment = a
		res.Probability = p
		return nil
	})
}

// Posterior reports the joint posterior of targets given e, one row per
// joint state.
func (x *Explainer) Posterior(ctx context.Context, targets []string, e model.Evidence) (*Result, error) {
	return x.invoke(ctx, AlgorithmPosterior, targets, e, func(r *run, res *Result) error {
		if len(targets) == 0 {
			return fmt.Errorf("%w: no targets", internalerr.ErrInvalidInput)
		}
		d, err := r.posterior(targets, e)
		if err != nil {
			return err
		}
		res.Targets = d.Names()
		res.Posterior = make([]PosteriorRow, d.Len())
		for i, p := range d.Probs {
			res.Posterior[i] = PosteriorRow{Assignment: d.Assignment(i), Probability: p}
		}
		return nil
	})
}
