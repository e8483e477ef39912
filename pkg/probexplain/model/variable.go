package model

import "slices"

// Kind distinguishes finite-domain variables from continuous ones.
type Kind int

const (
	Discrete Kind = iota
	Continuous
)

func (k Kind) String() string {
	switch k {
	case Discrete:
		return "discrete"
	case Continuous:
		return "continuous"
	default:
		return "unknown"
	}
}

// Variable is a named random variable. States is the ordered domain of a
// discrete variable and is empty for continuous ones.
type Variable struct {
	Name   string   `json:"name" yaml:"name"`
	Kind   Kind     `json:"kind" yaml:"-"`
	States []string `json:"states,omitempty" yaml:"states"`
}

// StateIndex returns the position of state in the domain, or -1.
func (v Variable) StateIndex(state string) int {
	return slices.Index(v.States, state)
}

// Clone returns a copy that shares no memory with v.
func (v Variable) Clone() Variable {
	v.States = slices.Clone(v.States)
	return v
}

// Names returns the variable names in order.
func Names(vars []Variable) []string {
	out := make([]string, len(vars))
	for i, v := range vars {
		out[i] = v.Name
	}
	return out
}
