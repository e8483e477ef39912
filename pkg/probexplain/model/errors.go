package model

import (
	"fmt"

	"github.com/cognicore/probexplain/pkg/probexplain/internalerr"
)

// UnknownVariableError names a variable that is not part of the model.
type UnknownVariableError struct {
	Name string
}

func (e *UnknownVariableError) Error() string {
	return fmt.Sprintf("unknown variable %q", e.Name)
}

func (e *UnknownVariableError) Unwrap() error { return internalerr.ErrUnknownVariable }

// InconsistentEvidenceError reports evidence with zero probability.
type InconsistentEvidenceError struct {
	Evidence Evidence
}

func (e *InconsistentEvidenceError) Error() string {
	return fmt.Sprintf("evidence %s has zero probability", e.Evidence)
}

func (e *InconsistentEvidenceError) Unwrap() error { return internalerr.ErrInconsistentEvidence }

// AdapterError wraps a backend failure that maps to no other kind.
type AdapterError struct {
	Backend string
	Op      string
	Err     error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Backend, e.Op, e.Err)
}

// Unwrap exposes both the failure kind and the original error.
func (e *AdapterError) Unwrap() []error {
	return []error{internalerr.ErrAdapterFailure, e.Err}
}
