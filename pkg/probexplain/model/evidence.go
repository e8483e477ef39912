package model

import (
	"encoding/json"
	"maps"
	"slices"
	"strings"
)

// Evidence is an immutable assignment of states to a subset of variables.
// The zero value is the empty evidence.
type Evidence struct {
	m map[string]string
}

// NewEvidence copies assignments into a new Evidence value.
func NewEvidence(assignments map[string]string) Evidence {
	if len(assignments) == 0 {
		return Evidence{}
	}
	return Evidence{m: maps.Clone(assignments)}
}

// Len returns the number of assigned variables.
func (e Evidence) Len() int { return len(e.m) }

// IsEmpty reports whether e assigns nothing.
func (e Evidence) IsEmpty() bool { return len(e.m) == 0 }

// Get returns the state assigned to v.
func (e Evidence) Get(v string) (string, bool) {
	s, ok := e.m[v]
	return s, ok
}

// Has reports whether v is assigned.
func (e Evidence) Has(v string) bool {
	_, ok := e.m[v]
	return ok
}

// Vars returns the assigned variable names, sorted.
func (e Evidence) Vars() []string {
	return slices.Sorted(maps.Keys(e.m))
}

// Map returns a copy of the assignments.
func (e Evidence) Map() map[string]string {
	return maps.Clone(e.m)
}

// With returns a new Evidence with v set to state.
func (e Evidence) With(v, state string) Evidence {
	m := make(map[string]string, len(e.m)+1)
	maps.Copy(m, e.m)
	m[v] = state
	return Evidence{m: m}
}

// Without returns a new Evidence with v unassigned.
func (e Evidence) Without(v string) Evidence {
	if !e.Has(v) {
		return e
	}
	m := maps.Clone(e.m)
	delete(m, v)
	return Evidence{m: m}
}

// Merge returns e overridden by other.
func (e Evidence) Merge(other Evidence) Evidence {
	if other.IsEmpty() {
		return e
	}
	if e.IsEmpty() {
		return other
	}
	m := make(map[string]string, len(e.m)+len(other.m))
	maps.Copy(m, e.m)
	maps.Copy(m, other.m)
	return Evidence{m: m}
}

// Equal compares two evidence values as mappings.
func (e Evidence) Equal(other Evidence) bool {
	return maps.Equal(e.m, other.m)
}

// Key is an order-independent canonical encoding of e.
func (e Evidence) Key() string {
	return canonicalKey(e.m)
}

func (e Evidence) String() string {
	if e.IsEmpty() {
		return "{}"
	}
	return "{" + e.Key() + "}"
}

func (e Evidence) MarshalJSON() ([]byte, error) {
	if e.m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(e.m)
}

func (e *Evidence) UnmarshalJSON(data []byte) error {
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*e = NewEvidence(m)
	return nil
}

// Assignment is a joint assignment of states to variables.
type Assignment map[string]string

// Key is an order-independent canonical encoding of a.
func (a Assignment) Key() string {
	return canonicalKey(a)
}

// Equal compares two assignments as mappings.
func (a Assignment) Equal(other Assignment) bool {
	return maps.Equal(a, other)
}

// Clone returns a copy of a.
func (a Assignment) Clone() Assignment {
	return maps.Clone(a)
}

// Evidence converts a into evidence.
func (a Assignment) Evidence() Evidence {
	return NewEvidence(a)
}

// canonicalKey encodes a mapping as sorted name=state pairs. Names and
// states are length-prefixed so that separators inside them cannot collide.
func canonicalKey(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	var b strings.Builder
	for i, k := range slices.Sorted(maps.Keys(m)) {
		if i > 0 {
			b.WriteByte(',')
		}
		writeQuoted(&b, k)
		b.WriteByte('=')
		writeQuoted(&b, m[k])
	}
	return b.String()
}

func writeQuoted(b *strings.Builder, s string) {
	if strings.ContainsAny(s, ",=\"") {
		b.WriteString(quote(s))
		return
	}
	b.WriteString(s)
}

func quote(s string) string {
	out, _ := json.Marshal(s)
	return string(out)
}
