// Package confirm asks an external decision provider whether a duplicate may
// be deleted.
//
// The worker blocks inside Confirm until a decision arrives or the run's
// context is cancelled, whichever happens first.
package confirm

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ErrCancelled is returned when the decision provider cancels the whole run
var ErrCancelled = fmt.Errorf("cancelled by user: %w", context.Canceled)

// Decision is the answer for one duplicate
type Decision int

const (
	Skip Decision = iota
	Delete
	// SkipAll and DeleteAll also ask for the answer to be applied to every
	// later duplicate of the run
	SkipAll
	DeleteAll
)

// Base strips the apply-to-all part of d
func (d Decision) Base() Decision {
	switch d {
	case DeleteAll:
		return Delete
	case SkipAll:
		return Skip
	}
	return d
}

// All reports whether d applies to all later duplicates
func (d Decision) All() bool {
	return d == DeleteAll || d == SkipAll
}

func (d Decision) String() string {
	switch d {
	case Skip:
		return "skip"
	case Delete:
		return "delete"
	case SkipAll:
		return "skip all"
	case DeleteAll:
		return "delete all"
	default:
		return fmt.Sprintf("Decision(%d)", int(d))
	}
}

// Request describes one duplicate awaiting a decision
type Request struct {
	Path      string
	MatchPath string
	Checksum  string
	Size      int64
	ModTime   time.Time
	Hidden    bool
	ReadOnly  bool
}

// Confirmer decides whether a duplicate is deleted. A non-nil error means
// the run was cancelled while waiting.
type Confirmer interface {
	Confirm(ctx context.Context, req Request) (Decision, error)
}

// Func adapts a function to the Confirmer interface
type Func func(ctx context.Context, req Request) (Decision, error)

// Confirm calls f
func (f Func) Confirm(ctx context.Context, req Request) (Decision, error) {
	return f(ctx, req)
}

// Auto always answers with the same decision without asking anyone
type Auto Decision

// Confirm returns the fixed decision
func (a Auto) Confirm(ctx context.Context, req Request) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Skip, err
	}
	return Decision(a), nil
}

// Sticky wraps a Confirmer with an "apply to all" flag. Once the flag is set
// and an answer has been given, later calls return that answer without
// asking the wrapped Confirmer.
type Sticky struct {
	next Confirmer

	mu       sync.Mutex
	applyAll bool
	recorded bool
	answer   Decision
}

// NewSticky wraps next
func NewSticky(next Confirmer) *Sticky {
	return &Sticky{next: next}
}

// SetApplyToAll sets the flag. Clearing it forgets the recorded answer.
func (s *Sticky) SetApplyToAll(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyAll = v
	if !v {
		s.recorded = false
	}
}

// ApplyToAll reports the flag
func (s *Sticky) ApplyToAll() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyAll
}

// Reset clears the flag and the recorded answer. Called at the start of a run.
func (s *Sticky) Reset() {
	s.SetApplyToAll(false)
}

// Confirm returns the recorded answer or asks the wrapped Confirmer. An
// answer of SkipAll or DeleteAll sets the flag.
func (s *Sticky) Confirm(ctx context.Context, req Request) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Skip, err
	}

	s.mu.Lock()
	if s.applyAll && s.recorded {
		answer := s.answer
		s.mu.Unlock()
		return answer, nil
	}
	s.mu.Unlock()

	d, err := s.next.Confirm(ctx, req)
	if err != nil {
		return Skip, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if d.All() {
		s.applyAll = true
	}
	if s.applyAll {
		s.answer = d.Base()
		s.recorded = true
	}
	return d.Base(), nil
}
