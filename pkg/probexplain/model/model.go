// Package model defines the capability set every probabilistic model backend
// must provide so that explanation algorithms can run against it without
// knowing which library computes the answers.
//
// A backend owns its underlying network object. Callers only see the
// contract: structure queries, a read-only parameter snapshot, evidence
// state, and posterior/MAP/likelihood/sampling queries.
package model

import "sync/atomic"

// Model is the contract a concrete backend implements.
//
// Every query operation combines the model's current evidence with the
// explicit evidence argument; explicit assignments win for the same variable.
// All operations except Sample are deterministic for fixed parameters and
// evidence.
type Model interface {
	// Variables returns every variable in declaration order.
	Variables() []Variable

	// ParentsOf returns the parents of v in the order of its parameter table.
	ParentsOf(v string) ([]Variable, error)

	// ChildrenOf returns the children of v in declaration order.
	ChildrenOf(v string) ([]Variable, error)

	// DomainOf returns the ordered states of v.
	DomainOf(v string) ([]string, error)

	// Parameters returns a snapshot of v's conditional probability table.
	Parameters(v string) (Parameters, error)

	// SetParameters replaces v's table. It advances the epoch.
	SetParameters(v string, p Parameters) error

	// Evidence returns the model's current evidence state.
	Evidence() Evidence

	// SetEvidence replaces the model's evidence state. It advances the epoch.
	SetEvidence(e Evidence) error

	// ClearEvidence empties the evidence state. It advances the epoch.
	ClearEvidence()

	// Posterior computes P(targets | evidence).
	Posterior(targets []string, e Evidence) (Distribution, error)

	// MAP returns the most probable joint assignment to targets and its
	// posterior probability. Ties are broken by the backend's own order.
	MAP(targets []string, e Evidence) (Assignment, float64, error)

	// LogLikelihood returns log P(evidence).
	LogLikelihood(e Evidence) (float64, error)

	// Sample draws n joint assignments conditioned on evidence. The
	// randomness source belongs to the backend.
	Sample(n int, e Evidence) ([]Assignment, error)

	// Epoch identifies the current parameter and evidence state. It grows
	// whenever either changes.
	Epoch() uint64
}

// EpochCounter is an embeddable validity epoch for backends.
type EpochCounter struct {
	n atomic.Uint64
}

// Epoch returns the current epoch.
func (c *EpochCounter) Epoch() uint64 { return c.n.Load() }

// Bump advances the epoch and returns the new value.
func (c *EpochCounter) Bump() uint64 { return c.n.Add(1) }

// NonEvidence returns the names of the variables not assigned by e, in
// declaration order.
func NonEvidence(m Model, e Evidence) []string {
	vars := m.Variables()
	out := make([]string, 0, len(vars))
	for _, v := range vars {
		if e.Has(v.Name) {
			continue
		}
		out = append(out, v.Name)
	}
	return out
}
