package reconciler

import (
	"context"

	"github.com/crmarques/reconctl/resource"
)

type MatchMode int

const (
	// MatchByIdentity binds an entry to the snapshot record sharing its
	// identity key. Used when the key cannot change once created.
	MatchByIdentity MatchMode = iota
	// MatchByReference binds an entry to the exact snapshot record it was
	// built from. Used when the identity key is itself editable.
	MatchByReference
)

// Kind adapts one resource kind to the generic diff and apply engine.
type Kind[R any] interface {
	Name() resource.Kind
	Identity(record R) string
	Match() MatchMode
	Protected(record R) bool
	Differs(original R, desired R) bool

	Add(ctx context.Context, desired R) error
	Remove(ctx context.Context, original R) error
	Update(ctx context.Context, original R, desired R) error
}

// Validator is implemented by kinds with working-set invariants beyond
// identity uniqueness.
type Validator[R any] interface {
	ValidateWorkingSet(workingSet []Entry[R]) error
}

// StepPlanner is implemented by kinds whose remote calls do not map one to
// one onto plan items.
type StepPlanner[R any] interface {
	PlanSteps(plan Plan[R]) []Step
}

// Entry is the editable local view of one resource. Original is nil for
// entries created locally that do not exist remotely yet.
type Entry[R any] struct {
	Original *R
	Value    R
}

func Backed[R any](original *R) Entry[R] {
	return Entry[R]{Original: original, Value: *original}
}

func New[R any](value R) Entry[R] {
	return Entry[R]{Value: value}
}

func (e Entry[R]) IsNew() bool {
	return e.Original == nil
}

// EntriesFor builds one backed entry per snapshot record. Entries point into
// original, so the same slice must be handed to Diff.
func EntriesFor[R any](original []R) []Entry[R] {
	entries := make([]Entry[R], 0, len(original))
	for idx := range original {
		entries = append(entries, Backed(&original[idx]))
	}
	return entries
}

type Change[R any] struct {
	Original R
	Desired  R
}

type Plan[R any] struct {
	Kind      resource.Kind
	Remove    []R
	Add       []R
	Update    []Change[R]
	Unchanged []Change[R]
	// Protected holds snapshot records skipped because the server marked them
	// immutable, whether or not the working set still references them.
	Protected []R
}

func (p Plan[R]) Empty() bool {
	return len(p.Remove) == 0 && len(p.Add) == 0 && len(p.Update) == 0
}

func (p Plan[R]) Len() int {
	return len(p.Remove) + len(p.Add) + len(p.Update)
}

// Originals returns every snapshot record the plan accounts for.
func (p Plan[R]) Originals() []R {
	records := make([]R, 0, len(p.Remove)+len(p.Update)+len(p.Unchanged)+len(p.Protected))
	records = append(records, p.Remove...)
	for _, change := range p.Update {
		records = append(records, change.Original)
	}
	for _, change := range p.Unchanged {
		records = append(records, change.Original)
	}
	return append(records, p.Protected...)
}

// Desired returns the desired value of every editable entry in the plan.
func (p Plan[R]) Desired() []R {
	values := make([]R, 0, len(p.Add)+len(p.Update)+len(p.Unchanged))
	for _, change := range p.Unchanged {
		values = append(values, change.Desired)
	}
	for _, change := range p.Update {
		values = append(values, change.Desired)
	}
	return append(values, p.Add...)
}
