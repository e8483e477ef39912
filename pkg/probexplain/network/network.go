// Package network describes a discrete Bayesian network independently of any
// inference backend: variables, their ordered states, their parents and
// their conditional probability tables.
package network

import (
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/cognicore/probexplain/pkg/probexplain/internalerr"
	"github.com/cognicore/probexplain/pkg/probexplain/model"
)

// Network is the file representation of a Bayesian network.
type Network struct {
	Name      string `yaml:"name"`
	Variables []Node `yaml:"variables"`
}

// Node is one variable with its table. CPT rows follow the parent
// configurations in row-major order, last parent varying fastest.
type Node struct {
	Name    string      `yaml:"name"`
	States  []string    `yaml:"states"`
	Parents []string    `yaml:"parents,omitempty"`
	CPT     [][]float64 `yaml:"cpt"`
}

// Parse decodes a YAML network and validates it.
func Parse(data []byte) (*Network, error) {
	var n Network
	if err := yaml.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", internalerr.ErrInvalidConfig, err)
	}
	if err := n.Validate(); err != nil {
		return nil, err
	}
	return &n, nil
}

// Load reads and parses a YAML network file.
func Load(path string) (*Network, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	n, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return n, nil
}

// Validate checks names, parents, acyclicity and every table.
func (n *Network) Validate() error {
	_, err := Compile(n)
	return err
}

// Graph is a validated network with integer indices for backends.
type Graph struct {
	Name     string
	Vars     []model.Variable
	Params   []model.Parameters
	Parents  [][]int
	Children [][]int
	Order    []int
	index    map[string]int
}

// Compile validates n and builds its indexed form.
func Compile(n *Network) (*Graph, error) {
	if len(n.Variables) == 0 {
		return nil, fmt.Errorf("%w: network %q has no variables", internalerr.ErrInvalidConfig, n.Name)
	}
	g := &Graph{
		Name:     n.Name,
		Vars:     make([]model.Variable, len(n.Variables)),
		Params:   make([]model.Parameters, len(n.Variables)),
		Parents:  make([][]int, len(n.Variables)),
		Children: make([][]int, len(n.Variables)),
		index:    make(map[string]int, len(n.Variables)),
	}
	for i, node := range n.Variables {
		if node.Name == "" {
			return nil, fmt.Errorf("%w: variable %d has no name", internalerr.ErrInvalidConfig, i)
		}
		if _, dup := g.index[node.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate variable %q", internalerr.ErrInvalidConfig, node.Name)
		}
		if len(node.States) == 0 {
			return nil, fmt.Errorf("%w: variable %q has no states", internalerr.ErrInvalidConfig, node.Name)
		}
		if hasDuplicates(node.States) {
			return nil, fmt.Errorf("%w: variable %q repeats a state", internalerr.ErrInvalidConfig, node.Name)
		}
		g.index[node.Name] = i
		g.Vars[i] = model.Variable{Name: node.Name, Kind: model.Discrete, States: slices.Clone(node.States)}
	}

	for i, node := range n.Variables {
		if hasDuplicates(node.Parents) {
			return nil, fmt.Errorf("%w: variable %q repeats a parent", internalerr.ErrInvalidConfig, node.Name)
		}
		p := model.Parameters{
			Variable:     node.Name,
			States:       slices.Clone(node.States),
			Parents:      slices.Clone(node.Parents),
			ParentStates: make([][]string, len(node.Parents)),
			Table:        make([][]float64, len(node.CPT)),
		}
		for k, parent := range node.Parents {
			j, ok := g.index[parent]
			if !ok {
				return nil, fmt.Errorf("%w: variable %q has unknown parent %q", internalerr.ErrInvalidConfig, node.Name, parent)
			}
			if j == i {
				return nil, fmt.Errorf("%w: variable %q is its own parent", internalerr.ErrInvalidConfig, node.Name)
			}
			g.Parents[i] = append(g.Parents[i], j)
			g.Children[j] = append(g.Children[j], i)
			p.ParentStates[k] = slices.Clone(g.Vars[j].States)
		}
		for r, row := range node.CPT {
			p.Table[r] = slices.Clone(row)
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", internalerr.ErrInvalidConfig, err)
		}
		g.Params[i] = p
	}
	for i := range g.Children {
		slices.Sort(g.Children[i])
	}

	order, err := g.topological()
	if err != nil {
		return nil, err
	}
	g.Order = order
	return g, nil
}

// topological orders variables parents-first with Kahn's algorithm, taking
// the lowest declaration index among ready variables.
func (g *Graph) topological() ([]int, error) {
	indeg := make([]int, len(g.Vars))
	for i := range g.Vars {
		indeg[i] = len(g.Parents[i])
	}
	var ready []int
	for i, d := range indeg {
		if d == 0 {
			ready = append(ready, i)
		}
	}
	order := make([]int, 0, len(g.Vars))
	for len(ready) > 0 {
		slices.Sort(ready)
		v := ready[0]
		ready = ready[1:]
		order = append(order, v)
		for _, c := range g.Children[v] {
			indeg[c]--
			if indeg[c] == 0 {
				ready = append(ready, c)
			}
		}
	}
	if len(order) != len(g.Vars) {
		return nil, fmt.Errorf("%w: network %q contains a cycle", internalerr.ErrInvalidConfig, g.Name)
	}
	return order, nil
}

// Index returns the position of a variable.
func (g *Graph) Index(name string) (int, bool) {
	i, ok := g.index[name]
	return i, ok
}

// Clone returns a copy whose parameter tables can be changed independently.
func (g *Graph) Clone() *Graph {
	out := &Graph{
		Name:     g.Name,
		Vars:     make([]model.Variable, len(g.Vars)),
		Params:   make([]model.Parameters, len(g.Params)),
		Parents:  g.Parents,
		Children: g.Children,
		Order:    g.Order,
		index:    g.index,
	}
	for i := range g.Vars {
		out.Vars[i] = g.Vars[i].Clone()
		out.Params[i] = g.Params[i].Clone()
	}
	return out
}

func hasDuplicates(xs []string) bool {
	seen := make(map[string]struct{}, len(xs))
	for _, x := range xs {
		if _, ok := seen[x]; ok {
			return true
		}
		seen[x] = struct{}{}
	}
	return false
}
