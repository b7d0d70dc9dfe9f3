package session

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/crmarques/reconctl/debugctx"
	"github.com/crmarques/reconctl/faults"
	"github.com/crmarques/reconctl/reconciler"
)

// Session holds one editing session of a kind: the snapshot the working set was
// built from and the working set itself. Edits never reach the server until
// Commit.
type Session[R any] struct {
	kind      reconciler.Kind[R]
	snapshot  *Snapshot[R]
	onRefresh func([]R)

	mu         sync.Mutex
	original   []R
	entries    []reconciler.Entry[R]
	loaded     bool
	committing bool
}

type Option[R any] func(*Session[R])

// OnRefresh registers a callback receiving the refetched snapshot after every
// Commit that reached the apply stage.
func OnRefresh[R any](fn func([]R)) Option[R] {
	return func(s *Session[R]) {
		s.onRefresh = fn
	}
}

func New[R any](kind reconciler.Kind[R], snapshot *Snapshot[R], opts ...Option[R]) *Session[R] {
	s := &Session[R]{kind: kind, snapshot: snapshot}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *Session[R]) Kind() reconciler.Kind[R] {
	return s.kind
}

// Load fetches the snapshot and rebuilds the working set with one entry per
// record, discarding pending edits.
func (s *Session[R]) Load(ctx context.Context) error {
	records, err := s.snapshot.Get(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.committing {
		return errCommitting(s.kind)
	}
	s.original = records
	s.entries = reconciler.EntriesFor(s.original)
	s.loaded = true
	return nil
}

// Original returns a copy of the snapshot the working set is diffed against.
func (s *Session[R]) Original() []R {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.original)
}

func (s *Session[R]) Entries() []reconciler.Entry[R] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.entries)
}

// Bind replaces the working set with entries built from the loaded snapshot.
// Entries returned by bind must point into the slice it receives.
func (s *Session[R]) Bind(bind func(original []R) ([]reconciler.Entry[R], error)) error {
	return s.edit(func(original []R, _ []reconciler.Entry[R]) ([]reconciler.Entry[R], error) {
		return bind(original)
	})
}

// Add appends a locally created entry.
func (s *Session[R]) Add(value R) error {
	return s.edit(func(_ []R, entries []reconciler.Entry[R]) ([]reconciler.Entry[R], error) {
		identity := s.kind.Identity(value)
		if strings.TrimSpace(identity) == "" {
			return nil, faults.NewValidationError(fmt.Sprintf("%s entry has an empty identity", s.kind.Name()), nil)
		}
		if indexOf(s.kind, entries, identity) >= 0 {
			return nil, faults.NewValidationError(fmt.Sprintf("%s %q already exists in the working set", s.kind.Name(), identity), nil)
		}
		return append(entries, reconciler.New(value)), nil
	})
}

func (s *Session[R]) Remove(identity string) error {
	return s.edit(func(_ []R, entries []reconciler.Entry[R]) ([]reconciler.Entry[R], error) {
		idx := indexOf(s.kind, entries, identity)
		if idx < 0 {
			return nil, notInWorkingSet(s.kind, identity)
		}
		return slices.Delete(entries, idx, idx+1), nil
	})
}

// Replace sets the value of the entry currently identified by identity.
func (s *Session[R]) Replace(identity string, value R) error {
	return s.Update(identity, func(current *R) error {
		*current = value
		return nil
	})
}

// Update edits the entry currently identified by identity in place. The
// working set is left untouched when mutate fails.
func (s *Session[R]) Update(identity string, mutate func(value *R) error) error {
	return s.edit(func(_ []R, entries []reconciler.Entry[R]) ([]reconciler.Entry[R], error) {
		idx := indexOf(s.kind, entries, identity)
		if idx < 0 {
			return nil, notInWorkingSet(s.kind, identity)
		}
		value := entries[idx].Value
		if err := mutate(&value); err != nil {
			return nil, err
		}
		entries[idx].Value = value
		return entries, nil
	})
}

func (s *Session[R]) Plan() (reconciler.Plan[R], error) {
	original, entries, err := s.view()
	if err != nil {
		return reconciler.Plan[R]{}, err
	}
	return reconciler.Diff(s.kind, original, entries)
}

// Steps returns the remote calls Commit would issue, in order.
func (s *Session[R]) Steps() ([]reconciler.Step, error) {
	original, entries, err := s.view()
	if err != nil {
		return nil, err
	}
	steps, _, err := reconciler.Prepare(s.kind, original, entries)
	return steps, err
}

func (s *Session[R]) HasChanges() (bool, error) {
	original, entries, err := s.view()
	if err != nil {
		return false, err
	}
	return reconciler.HasChanges(s.kind, original, entries)
}

// Commit freezes the working set, applies it, then refetches the snapshot and
// rebuilds the working set from it. The refresh runs whenever apply was
// attempted, including after partial failure or cancellation. The returned
// error is set when no plan could be computed or the refetch failed.
func (s *Session[R]) Commit(ctx context.Context, opts ...reconciler.ApplyOption) (reconciler.Result, error) {
	s.mu.Lock()
	if !s.loaded {
		s.mu.Unlock()
		return reconciler.Result{}, notLoaded(s.kind)
	}
	if s.committing {
		s.mu.Unlock()
		return reconciler.Result{}, errCommitting(s.kind)
	}
	s.committing = true
	original := s.original
	entries := slices.Clone(s.entries)
	s.mu.Unlock()

	result, err := reconciler.Apply(ctx, s.kind, original, entries, opts...)

	s.mu.Lock()
	s.committing = false
	s.mu.Unlock()
	if err != nil {
		return reconciler.Result{}, err
	}

	s.snapshot.Invalidate()
	if err := s.Load(context.WithoutCancel(ctx)); err != nil {
		return result, fmt.Errorf("refresh %s after apply: %w", s.kind.Name(), err)
	}
	debugctx.Printf(ctx, "session: %s refreshed after run %s", s.kind.Name(), result.RunID)
	if s.onRefresh != nil {
		s.onRefresh(s.Original())
	}
	return result, nil
}

func (s *Session[R]) edit(fn func(original []R, entries []reconciler.Entry[R]) ([]reconciler.Entry[R], error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return notLoaded(s.kind)
	}
	if s.committing {
		return errCommitting(s.kind)
	}
	next, err := fn(s.original, slices.Clone(s.entries))
	if err != nil {
		return err
	}
	s.entries = next
	return nil
}

func (s *Session[R]) view() ([]R, []reconciler.Entry[R], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return nil, nil, notLoaded(s.kind)
	}
	return s.original, slices.Clone(s.entries), nil
}

func indexOf[R any](kind reconciler.Kind[R], entries []reconciler.Entry[R], identity string) int {
	return slices.IndexFunc(entries, func(entry reconciler.Entry[R]) bool {
		return kind.Identity(entry.Value) == identity
	})
}

func notInWorkingSet[R any](kind reconciler.Kind[R], identity string) error {
	return faults.NewNotFoundError(fmt.Sprintf("%s %q is not in the working set", kind.Name(), identity), nil)
}

func notLoaded[R any](kind reconciler.Kind[R]) error {
	return faults.NewTypedError(faults.PreconditionError, fmt.Sprintf("%s session has not been loaded", kind.Name()), nil)
}

func errCommitting[R any](kind reconciler.Kind[R]) error {
	return faults.NewTypedError(faults.PreconditionError, fmt.Sprintf("%s session is committing; edits are frozen", kind.Name()), nil)
}
