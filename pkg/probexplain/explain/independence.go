package explain

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/cognicore/probexplain/pkg/probexplain/internalerr"
	"github.com/cognicore/probexplain/pkg/probexplain/model"
)

// DefaultMaxSubsets caps the subsets Defeaters evaluates when
// DefeaterOptions.MaxSubsets is zero.
const DefaultMaxSubsets = 4096

// MapIndependence tests whether the MAP assignment h of targets under e
// survives every consistent joint observation r of the variables in
// relevant, that is whether MAP(targets | e, r) = h for all r with
// P(r | e) > 0. The first r that changes the hypothesis is reported.
func (x *Explainer) MapIndependence(ctx context.Context, targets, relevant []string, e model.Evidence) (*Result, error) {
	return x.invoke(ctx, AlgorithmMapIndependence, targets, e, func(r *run, res *Result) error {
		if err := x.checkHypothesis(targets, e); err != nil {
			return err
		}
		if err := x.checkCandidates(targets, relevant, e); err != nil {
			return err
		}
		if len(relevant) == 0 {
			return fmt.Errorf("%w: empty relevance set", internalerr.ErrInvalidInput)
		}
		h, p, err := r.mapQuery(targets, e)
		if err != nil {
			return err
		}
		ind, err := x.independence(r, targets, relevant, e, h)
		if err != nil {
			return err
		}
		ind.Probability = p
		res.Independence = ind
		return nil
	})
}

// independence runs the test against a known hypothesis h.
func (x *Explainer) independence(r *run, targets, relevant []string, e model.Evidence, h model.Assignment) (*Independence, error) {
	domains := make([][]string, len(relevant))
	for i, v := range relevant {
		d, err := x.model.DomainOf(v)
		if err != nil {
			return nil, err
		}
		domains[i] = d
	}

	ind := &Independence{
		Relevant:    slices.Clone(relevant),
		Independent: true,
		Hypothesis:  h,
	}
	idx := make([]int, len(relevant))
	for {
		obs := e
		for i, v := range relevant {
			obs = obs.With(v, domains[i][idx[i]])
		}
		a, _, err := r.mapQuery(targets, obs)
		switch {
		case errors.Is(err, internalerr.ErrInconsistentEvidence):
			ind.Skipped++
		case err != nil:
			return nil, err
		default:
			ind.Checked++
			if !a.Equal(h) {
				ind.Independent = false
				ind.Altering = make(model.Assignment, len(relevant))
				for i, v := range relevant {
					ind.Altering[v] = domains[i][idx[i]]
				}
				ind.AlteredTo = a
				return ind, nil
			}
		}
		if !next(idx, domains) {
			return ind, nil
		}
	}
}

// next advances a mixed-radix counter, last position fastest.
func next(idx []int, domains [][]string) bool {
	for i := len(idx) - 1; i >= 0; i-- {
		idx[i]++
		if idx[i] < len(domains[i]) {
			return true
		}
		idx[i] = 0
	}
	return false
}

func (x *Explainer) checkHypothesis(targets []string, e model.Evidence) error {
	if len(targets) == 0 {
		return fmt.Errorf("%w: no targets", internalerr.ErrInvalidInput)
	}
	if err := x.checkVars(targets); err != nil {
		return err
	}
	eff := x.effective(e)
	for _, t := range targets {
		if eff.Has(t) {
			return fmt.Errorf("%w: target %q is observed", internalerr.ErrInvalidInput, t)
		}
	}
	return nil
}

func (x *Explainer) checkCandidates(targets, candidates []string, e model.Evidence) error {
	if err := x.checkVars(candidates); err != nil {
		return err
	}
	eff := x.effective(e)
	seen := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		switch {
		case slices.Contains(targets, c):
			return fmt.Errorf("%w: %q is a target", internalerr.ErrInvalidInput, c)
		case eff.Has(c):
			return fmt.Errorf("%w: %q is observed", internalerr.ErrInvalidInput, c)
		case seen[c]:
			return fmt.Errorf("%w: %q listed twice", internalerr.ErrInvalidInput, c)
		}
		seen[c] = true
	}
	return nil
}

// DefeaterOptions tunes Defeaters.
type DefeaterOptions struct {
	// Depth is the largest subset size examined. Zero examines all sizes.
	Depth int
	// Candidates restricts the variables subsets are drawn from. Empty
	// means every variable that is neither a target nor observed.
	Candidates []string
	// MaxSubsets refuses searches that would examine more subsets.
	MaxSubsets int
}

// Defeaters searches subsets of the candidate variables, smallest first,
// for those whose observation can overturn the MAP hypothesis of targets.
// It reports the minimal relevant subsets and the maximal irrelevant ones.
// A superset of a relevant subset is relevant and is not evaluated.
func (x *Explainer) Defeaters(ctx context.Context, targets []string, e model.Evidence, opts DefeaterOptions) (*Result, error) {
	return x.invoke(ctx, AlgorithmDefeaters, targets, e, func(r *run, res *Result) error {
		if err := x.checkHypothesis(targets, e); err != nil {
			return err
		}
		candidates := opts.Candidates
		if len(candidates) == 0 {
			eff := x.effective(e)
			for _, v := range model.NonEvidence(x.model, eff) {
				if !slices.Contains(targets, v) {
					candidates = append(candidates, v)
				}
			}
		} else if err := x.checkCandidates(targets, candidates, e); err != nil {
			return err
		}

		depth := opts.Depth
		if depth <= 0 || depth > len(candidates) {
			depth = len(candidates)
		}
		limit := opts.MaxSubsets
		if limit <= 0 {
			limit = DefaultMaxSubsets
		}
		if total := countSubsets(len(candidates), depth); total > limit {
			return fmt.Errorf("%w: %d candidate subsets up to size %d exceed the limit of %d",
				internalerr.ErrInvalidInput, total, depth, limit)
		}

		h, p, err := r.mapQuery(targets, e)
		if err != nil {
			return err
		}
		sets := &DefeaterSets{
			Hypothesis:  h,
			Probability: p,
			Candidates:  slices.Clone(candidates),
			Depth:       depth,
			Relevant:    [][]string{},
			Irrelevant:  [][]string{},
		}

		var relevant, irrelevant [][]int
		for k := 1; k <= depth; k++ {
			var batch [][]int
			eachCombination(len(candidates), k, func(c []int) {
				if !supersetOfAny(c, relevant) {
					batch = append(batch, slices.Clone(c))
				}
			})
			if len(batch) == 0 {
				break
			}

			dependent, err := x.evaluate(r, targets, candidates, e, h, batch)
			if err != nil {
				return err
			}
			sets.Evaluated += len(batch)
			for i, c := range batch {
				if dependent[i] {
					relevant = append(relevant, c)
				} else {
					irrelevant = append(irrelevant, c)
				}
			}
		}

		for _, c := range relevant {
			sets.Relevant = append(sets.Relevant, names(c, candidates))
		}
		for i, c := range irrelevant {
			maximal := true
			for j, d := range irrelevant {
				if i != j && len(d) > len(c) && isSubset(c, d) {
					maximal = false
					break
				}
			}
			if maximal {
				sets.Irrelevant = append(sets.Irrelevant, names(c, candidates))
			}
		}
		sortSets(sets.Relevant)
		sortSets(sets.Irrelevant)
		res.Defeaters = sets
		return nil
	})
}

// evaluate tests a batch of subsets concurrently. Only cached read queries
// run inside the group.
func (x *Explainer) evaluate(r *run, targets, candidates []string, e model.Evidence, h model.Assignment,
	batch [][]int) ([]bool, error) {
	dependent := make([]bool, len(batch))
	g, gctx := errgroup.WithContext(r.ctx)
	g.SetLimit(x.workers)
	wr := r.withContext(gctx)

	for i, c := range batch {
		g.Go(func() error {
			ind, err := x.independence(wr, targets, names(c, candidates), e, h)
			if err != nil {
				return err
			}
			dependent[i] = !ind.Independent
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return dependent, nil
}

// countSubsets returns the number of non-empty subsets of n items with at
// most k members, saturating once it passes the int range.
func countSubsets(n, k int) int {
	total, c := 0, 1
	for i := 1; i <= k; i++ {
		c = c * (n - i + 1) / i
		total += c
		if total < 0 || c < 0 {
			return int(^uint(0) >> 1)
		}
	}
	return total
}

// eachCombination calls fn with every k-subset of [0,n) in lexicographic
// order. fn must not retain its argument.
func eachCombination(n, k int, fn func([]int)) {
	if k > n || k <= 0 {
		return
	}
	c := make([]int, k)
	for i := range c {
		c[i] = i
	}
	for {
		fn(c)
		i := k - 1
		for i >= 0 && c[i] == n-k+i {
			i--
		}
		if i < 0 {
			return
		}
		c[i]++
		for j := i + 1; j < k; j++ {
			c[j] = c[j-1] + 1
		}
	}
}

// isSubset reports whether sorted a is contained in sorted b.
func isSubset(a, b []int) bool {
	j := 0
	for _, v := range a {
		for j < len(b) && b[j] < v {
			j++
		}
		if j == len(b) || b[j] != v {
			return false
		}
	}
	return true
}

func supersetOfAny(c []int, sets [][]int) bool {
	for _, s := range sets {
		if isSubset(s, c) {
			return true
		}
	}
	return false
}

func names(c []int, candidates []string) []string {
	out := make([]string, len(c))
	for i, j := range c {
		out[i] = candidates[j]
	}
	return out
}

func sortSets(sets [][]string) {
	for _, s := range sets {
		slices.Sort(s)
	}
	slices.SortFunc(sets, func(a, b []string) int {
		if len(a) != len(b) {
			return len(a) - len(b)
		}
		return slices.Compare(a, b)
	})
}
