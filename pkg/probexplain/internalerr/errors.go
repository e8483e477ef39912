package internalerr

import "errors"

// Error kinds reported by the model contract, the query cache and the
// explanation algorithms. Match them with errors.Is.
var (
	ErrUnknownVariable      = errors.New("unknown variable")
	ErrInconsistentEvidence = errors.New("inconsistent evidence")
	ErrScopeMismatch        = errors.New("scope mismatch")
	ErrUnreleasedScope      = errors.New("unreleased scope")
	ErrAdapterFailure       = errors.New("adapter failure")
	ErrInvalidInput         = errors.New("invalid input")
	ErrInvalidConfig        = errors.New("invalid configuration")
	ErrNotFound             = errors.New("not found")
)

// IsDefect reports whether err is a scoping discipline violation. Those are
// programming defects in caller code and are never retried.
func IsDefect(err error) bool {
	return errors.Is(err, ErrScopeMismatch) || errors.Is(err, ErrUnreleasedScope)
}
