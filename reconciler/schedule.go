package reconciler

import (
	"context"
	"fmt"

	"github.com/crmarques/reconctl/faults"
	"github.com/crmarques/reconctl/resource"
)

type Operation string

const (
	OperationRemove    Operation = "remove"
	OperationUpdate    Operation = "update"
	OperationAdd       Operation = "add"
	OperationSetPush   Operation = "set-push"
	OperationClearPush Operation = "clear-push"
)

// Step is one remote call in an apply run.
type Step struct {
	Kind      resource.Kind
	Operation Operation
	Identity  string
	run       func(ctx context.Context) error
}

func NewStep(kind resource.Kind, operation Operation, identity string, run func(ctx context.Context) error) Step {
	return Step{Kind: kind, Operation: operation, Identity: identity, run: run}
}

func (s Step) String() string {
	return fmt.Sprintf("%s %s %s", s.Operation, s.Kind, s.Identity)
}

func (s Step) execute(ctx context.Context) error {
	if s.run == nil {
		return faults.NewInternalError(fmt.Sprintf("step %s has no remote binding", s), nil)
	}
	return s.run(ctx)
}

func RemoveStep[R any](kind Kind[R], original R) Step {
	identity := kind.Identity(original)
	return NewStep(kind.Name(), OperationRemove, identity, func(ctx context.Context) error {
		if kind.Protected(original) {
			return protectedError(kind.Name(), identity, OperationRemove)
		}
		return kind.Remove(ctx, original)
	})
}

func UpdateStep[R any](kind Kind[R], change Change[R]) Step {
	identity := kind.Identity(change.Original)
	return NewStep(kind.Name(), OperationUpdate, identity, func(ctx context.Context) error {
		if kind.Protected(change.Original) {
			return protectedError(kind.Name(), identity, OperationUpdate)
		}
		return kind.Update(ctx, change.Original, change.Desired)
	})
}

func AddStep[R any](kind Kind[R], desired R) Step {
	return NewStep(kind.Name(), OperationAdd, kind.Identity(desired), func(ctx context.Context) error {
		return kind.Add(ctx, desired)
	})
}

// DefaultSteps orders the plan as removals, updates, then additions.
func DefaultSteps[R any](kind Kind[R], plan Plan[R]) []Step {
	steps := make([]Step, 0, plan.Len())
	for _, original := range plan.Remove {
		steps = append(steps, RemoveStep(kind, original))
	}
	for _, change := range plan.Update {
		steps = append(steps, UpdateStep(kind, change))
	}
	for _, desired := range plan.Add {
		steps = append(steps, AddStep(kind, desired))
	}
	return steps
}

func Schedule[R any](kind Kind[R], plan Plan[R]) []Step {
	if planner, ok := kind.(StepPlanner[R]); ok {
		return planner.PlanSteps(plan)
	}
	return DefaultSteps(kind, plan)
}

// HasChanges reports whether applying the working set would issue at least
// one remote call. It runs the same diff and schedule Apply runs.
func HasChanges[R any](kind Kind[R], original []R, workingSet []Entry[R]) (bool, error) {
	steps, _, err := Prepare(kind, original, workingSet)
	if err != nil {
		return false, err
	}
	return len(steps) > 0, nil
}

// Prepare computes the plan and its step schedule.
func Prepare[R any](kind Kind[R], original []R, workingSet []Entry[R]) ([]Step, Plan[R], error) {
	plan, err := Diff(kind, original, workingSet)
	if err != nil {
		return nil, Plan[R]{}, err
	}
	return Schedule(kind, plan), plan, nil
}

func protectedError(kind resource.Kind, identity string, operation Operation) error {
	return faults.NewTypedError(
		faults.PreconditionError,
		fmt.Sprintf("%s %q is protected and cannot be handled by %s", kind, identity, operation),
		nil,
	)
}
