package explain

import (
	"time"

	"github.com/cognicore/probexplain/pkg/probexplain/model"
)

// Algorithm identifies the algorithm that produced a Result.
type Algorithm string

const (
	AlgorithmMAP             Algorithm = "map"
	AlgorithmPosterior       Algorithm = "posterior"
	AlgorithmMarkovBlanket   Algorithm = "markov_blanket"
	AlgorithmSensitivity     Algorithm = "sensitivity"
	AlgorithmMapIndependence Algorithm = "map_independence"
	AlgorithmDefeaters       Algorithm = "defeaters"
)

// Result is the structured outcome of one explanation. Only the payload
// fields of the producing algorithm are set.
type Result struct {
	ID        string         `json:"id"`
	Algorithm Algorithm      `json:"algorithm"`
	Targets   []string       `json:"targets,omitempty"`
	Evidence  model.Evidence `json:"evidence"`

	Assignment   model.Assignment    `json:"assignment,omitempty"`
	Probability  float64             `json:"probability,omitempty"`
	Posterior    []PosteriorRow      `json:"posterior,omitempty"`
	Ranking      []Influence         `json:"ranking,omitempty"`
	Sensitivity  []SensitivityEntry  `json:"sensitivity,omitempty"`
	Summary      *SensitivitySummary `json:"summary,omitempty"`
	Independence *Independence       `json:"independence,omitempty"`
	Defeaters    *DefeaterSets       `json:"defeaters,omitempty"`

	Provenance Provenance `json:"provenance"`
}

// Provenance records the query work behind a Result.
type Provenance struct {
	Queries   uint64        `json:"queries"`
	CacheHits uint64        `json:"cache_hits"`
	HitRatio  float64       `json:"hit_ratio"`
	Duration  time.Duration `json:"duration"`
	StartedAt time.Time     `json:"started_at"`
}

// PosteriorRow is one joint state of the targets and its probability.
type PosteriorRow struct {
	Assignment  model.Assignment `json:"assignment"`
	Probability float64          `json:"probability"`
}

// Role is how a blanket variable relates to the target.
type Role string

const (
	RoleParent Role = "parent"
	RoleChild  Role = "child"
	RoleSpouse Role = "spouse"
)

// Influence is the effect of one Markov blanket variable on the target.
type Influence struct {
	Variable  string  `json:"variable"`
	Role      Role    `json:"role"`
	Observed  bool    `json:"observed"`
	State     string  `json:"state,omitempty"`
	Influence float64 `json:"influence"`
}

// SensitivityEntry reports the effect of perturbing one CPT entry.
type SensitivityEntry struct {
	Row          int              `json:"row"`
	Parents      model.Assignment `json:"parents,omitempty"`
	State        string           `json:"state"`
	Original     float64          `json:"original"`
	Perturbed    float64          `json:"perturbed"`
	Before       []float64        `json:"before"`
	After        []float64        `json:"after,omitempty"`
	MaxAbsChange float64          `json:"max_abs_change"`
	L1           float64          `json:"l1"`
	Slope        float64          `json:"slope"`
	MAPChanged   bool             `json:"map_changed"`
	MAP          model.Assignment `json:"map,omitempty"`
	// Inconsistent is set when the perturbed model gives the evidence zero
	// probability. No posterior is reported for such an entry.
	Inconsistent bool `json:"inconsistent,omitempty"`
}

// SensitivitySummary aggregates the max-abs changes of all consistent
// entries.
type SensitivitySummary struct {
	Entries       int     `json:"entries"`
	Mean          float64 `json:"mean"`
	Max           float64 `json:"max"`
	StdDev        float64 `json:"std_dev"`
	Median        float64 `json:"median"`
	MAPChanges    int     `json:"map_changes"`
	MostSensitive int     `json:"most_sensitive"`
}

// Independence is the outcome of a MAP independence test.
type Independence struct {
	Relevant    []string         `json:"relevant"`
	Independent bool             `json:"independent"`
	Hypothesis  model.Assignment `json:"hypothesis"`
	Probability float64          `json:"probability"`
	Checked     int              `json:"checked"`
	Skipped     int              `json:"skipped"`
	Altering    model.Assignment `json:"altering,omitempty"`
	AlteredTo   model.Assignment `json:"altered_to,omitempty"`
}

// DefeaterSets lists the candidate subsets that can and cannot change the
// MAP hypothesis.
type DefeaterSets struct {
	Hypothesis  model.Assignment `json:"hypothesis"`
	Probability float64          `json:"probability"`
	Candidates  []string         `json:"candidates"`
	Depth       int              `json:"depth"`
	Evaluated   int              `json:"evaluated"`
	Relevant    [][]string       `json:"relevant"`
	Irrelevant  [][]string       `json:"irrelevant"`
}
