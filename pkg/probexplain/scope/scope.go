// Package scope lets callers temporarily constrain a model, either with
// extra evidence or with replaced parameters, and restore it afterwards.
// Frames nest strictly: only the most recent push may be popped.
package scope

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cognicore/probexplain/pkg/probexplain/internalerr"
	"github.com/cognicore/probexplain/pkg/probexplain/model"
)

// Handle identifies one pushed frame.
type Handle struct {
	id    uint64
	depth int
}

// Depth returns the stack depth right after the push.
func (h Handle) Depth() int { return h.depth }

type frameKind int

const (
	evidenceFrame frameKind = iota
	parameterFrame
)

type frame struct {
	id       uint64
	kind     frameKind
	evidence model.Evidence
	variable string
	params   model.Parameters
}

// Stack tracks the frames pushed onto one model.
type Stack struct {
	mu     sync.Mutex
	m      model.Model
	frames []frame
	nextID uint64
}

// New returns an empty stack over m.
func New(m model.Model) *Stack {
	return &Stack{m: m}
}

// Depth returns the number of open frames. Zero is the base state.
func (s *Stack) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

// PushEvidence merges e into the model's current evidence. Assignments in e
// override earlier ones for the same variable.
func (s *Stack) PushEvidence(e model.Evidence) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.m.Evidence()
	if err := s.m.SetEvidence(prev.Merge(e)); err != nil {
		return Handle{}, err
	}
	return s.push(frame{kind: evidenceFrame, evidence: prev}), nil
}

// PushParameters replaces v's parameters and remembers the old table.
func (s *Stack) PushParameters(v string, p model.Parameters) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, err := s.m.Parameters(v)
	if err != nil {
		return Handle{}, err
	}
	if err := s.m.SetParameters(v, p); err != nil {
		return Handle{}, err
	}
	return s.push(frame{kind: parameterFrame, variable: v, params: prev}), nil
}

func (s *Stack) push(f frame) Handle {
	s.nextID++
	f.id = s.nextID
	s.frames = append(s.frames, f)
	return Handle{id: f.id, depth: len(s.frames)}
}

// Pop restores the state saved by h. h must be the most recent open frame.
func (s *Stack) Pop(h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.frames) == 0 {
		return fmt.Errorf("%w: pop with no open scope", internalerr.ErrScopeMismatch)
	}
	top := s.frames[len(s.frames)-1]
	if h.id != top.id {
		return fmt.Errorf("%w: handle at depth %d is not the innermost scope (depth %d)",
			internalerr.ErrScopeMismatch, h.depth, len(s.frames))
	}
	if err := s.restore(top); err != nil {
		return err
	}
	s.frames = s.frames[:len(s.frames)-1]
	return nil
}

// Unwind pops frames until depth remain. It keeps going after a failed
// restore and returns every failure joined.
func (s *Stack) Unwind(depth int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for len(s.frames) > depth {
		top := s.frames[len(s.frames)-1]
		if err := s.restore(top); err != nil {
			errs = append(errs, err)
		}
		s.frames = s.frames[:len(s.frames)-1]
	}
	return errors.Join(errs...)
}

func (s *Stack) restore(f frame) error {
	switch f.kind {
	case parameterFrame:
		return s.m.SetParameters(f.variable, f.params)
	default:
		if f.evidence.IsEmpty() {
			s.m.ClearEvidence()
			return nil
		}
		return s.m.SetEvidence(f.evidence)
	}
}

// WithEvidence runs fn inside an evidence scope and always pops it, also
// when fn fails or panics.
func (s *Stack) WithEvidence(e model.Evidence, fn func() error) (err error) {
	h, err := s.PushEvidence(e)
	if err != nil {
		return err
	}
	defer func() {
		if perr := s.Pop(h); perr != nil {
			err = errors.Join(err, perr)
		}
	}()
	return fn()
}

// WithParameters runs fn with v's parameters replaced by p and always
// restores them.
func (s *Stack) WithParameters(v string, p model.Parameters, fn func() error) (err error) {
	h, err := s.PushParameters(v, p)
	if err != nil {
		return err
	}
	defer func() {
		if perr := s.Pop(h); perr != nil {
			err = errors.Join(err, perr)
		}
	}()
	return fn()
}
