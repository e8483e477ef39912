package explain

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/floats"

	"github.com/cognicore/probexplain/pkg/probexplain/internalerr"
	"github.com/cognicore/probexplain/pkg/probexplain/model"
)

// SensitivityRequest names the CPT to perturb and the posterior to watch.
type SensitivityRequest struct {
	Parameter string
	Target    string
	Delta     float64
	Evidence  model.Evidence
}

// Sensitivity perturbs every entry of the CPT of req.Parameter by req.Delta
// in turn, with the rest of its row covaried, and reports how the posterior
// of req.Target and the MAP assignment of the unobserved variables respond.
// Each perturbation is applied in a parameter scope and restored before the
// next one.
func (x *Explainer) Sensitivity(ctx context.Context, req SensitivityRequest) (*Result, error) {
	e := req.Evidence
	return x.invoke(ctx, AlgorithmSensitivity, []string{req.Target}, e, func(r *run, res *Result) error {
		if req.Delta == 0 || math.IsNaN(req.Delta) || math.IsInf(req.Delta, 0) {
			return fmt.Errorf("%w: delta must be nonzero and finite, got %v", internalerr.ErrInvalidInput, req.Delta)
		}
		if err := x.checkVars([]string{req.Parameter, req.Target}); err != nil {
			return err
		}
		params, err := x.model.Parameters(req.Parameter)
		if err != nil {
			return err
		}

		hidden := model.NonEvidence(x.model, x.effective(e))
		before, err := r.posterior([]string{req.Target}, e)
		if err != nil {
			return err
		}
		baseMAP, _, err := r.mapQuery(hidden, e)
		if err != nil {
			return err
		}
		mode := floats.MaxIdx(before.Probs)

		for row := range params.Table {
			for col, state := range params.States {
				entry, err := x.perturb(r, req, params, row, col, hidden, before.Probs, mode, baseMAP)
				if err != nil {
					return err
				}
				entry.State = state
				res.Sensitivity = append(res.Sensitivity, entry)
			}
		}
		res.Summary, err = summarize(res.Sensitivity)
		return err
	})
}

func (x *Explainer) perturb(r *run, req SensitivityRequest, params model.Parameters, row, col int,
	hidden []string, before []float64, mode int, baseMAP model.Assignment) (SensitivityEntry, error) {
	original := params.Table[row][col]
	value := math.Min(1, math.Max(0, original+req.Delta))
	entry := SensitivityEntry{
		Row:       row,
		Original:  original,
		Perturbed: value,
		Before:    before,
	}
	if len(params.Parents) > 0 {
		entry.Parents = params.RowAssignment(row)
	}

	changed, err := params.Covary(row, col, value)
	if err != nil {
		return entry, err
	}
	value = changed.Table[row][col]
	entry.Perturbed = value
	err = x.stack.WithParameters(req.Parameter, changed, func() error {
		after, err := r.posterior([]string{req.Target}, req.Evidence)
		if err != nil {
			return err
		}
		a, _, err := r.mapQuery(hidden, req.Evidence)
		if err != nil {
			return err
		}
		entry.After = after.Probs
		entry.MAP = a
		return nil
	})
	if errors.Is(err, internalerr.ErrInconsistentEvidence) && !internalerr.IsDefect(err) {
		entry.Inconsistent = true
		return entry, nil
	}
	if err != nil {
		return entry, err
	}

	entry.MaxAbsChange = floats.Distance(entry.After, before, math.Inf(1))
	entry.L1 = floats.Distance(entry.After, before, 1)
	if dp := value - original; dp != 0 {
		entry.Slope = (entry.After[mode] - before[mode]) / dp
	}
	entry.MAPChanged = !entry.MAP.Equal(baseMAP)
	return entry, nil
}

func summarize(entries []SensitivityEntry) (*SensitivitySummary, error) {
	sum := &SensitivitySummary{MostSensitive: -1}
	var changes stats.Float64Data
	for i, en := range entries {
		if en.Inconsistent {
			continue
		}
		if en.MAPChanged {
			sum.MAPChanges++
		}
		if sum.MostSensitive < 0 || en.MaxAbsChange > entries[sum.MostSensitive].MaxAbsChange {
			sum.MostSensitive = i
		}
		changes = append(changes, en.MaxAbsChange)
	}
	sum.Entries = len(changes)
	if len(changes) == 0 {
		return sum, nil
	}

	var err error
	if sum.Mean, err = stats.Mean(changes); err != nil {
		return nil, err
	}
	if sum.Max, err = stats.Max(changes); err != nil {
		return nil, err
	}
	if sum.StdDev, err = stats.StandardDeviation(changes); err != nil {
		return nil, err
	}
	if sum.Median, err = stats.Median(changes); err != nil {
		return nil, err
	}
	return sum, nil
}
