package main

import (
	"fmt"
	"strings"

	"github.com/cognicore/probexplain/pkg/probexplain/model"
)

// parseEvidence reads "var=state,var=state". Blank input is empty evidence.
func parseEvidence(s string) (model.Evidence, error) {
	m := make(map[string]string)
	for _, pair := range parseList(s) {
		name, state, ok := strings.Cut(pair, "=")
		name, state = strings.TrimSpace(name), strings.TrimSpace(state)
		if !ok || name == "" || state == "" {
			return model.Evidence{}, fmt.Errorf("bad evidence %q: want var=state", pair)
		}
		if prev, dup := m[name]; dup && prev != state {
			return model.Evidence{}, fmt.Errorf("conflicting evidence for %s: %s and %s", name, prev, state)
		}
		m[name] = state
	}
	return model.NewEvidence(m), nil
}

func parseList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
