package reconcile

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/crmarques/reconctl/internal/cli/common"
	"github.com/crmarques/reconctl/reconciler"
	"github.com/crmarques/reconctl/resource"
	"github.com/crmarques/reconctl/session"
)

// staged is a loaded session whose working set has been edited and is ready
// to be planned and committed.
type staged interface {
	Kind() resource.Kind
	HasChanges() (bool, error)
	WritePlan(w io.Writer) error
	Probe(ctx context.Context) error
	Commit(ctx context.Context, opts ...reconciler.ApplyOption) (reconciler.Result, error)
}

type stagedSession[R any] struct {
	spec    kindSpec[R]
	session *session.Session[R]
	deps    common.CommandDependencies
}

func stage[R any](ctx context.Context, spec kindSpec[R], deps common.CommandDependencies, edit func(*session.Session[R]) error) (*stagedSession[R], error) {
	srv, err := common.RequireServer(deps)
	if err != nil {
		return nil, err
	}

	current := spec.newSession(srv)
	if err := current.Load(ctx); err != nil {
		return nil, err
	}
	if edit != nil {
		if err := edit(current); err != nil {
			return nil, err
		}
	}
	return &stagedSession[R]{spec: spec, session: current, deps: deps}, nil
}

func stageDocument[R any](ctx context.Context, spec kindSpec[R], deps common.CommandDependencies, document session.Document) (*stagedSession[R], error) {
	if !document.Has(spec.name) {
		return nil, common.ValidationError(fmt.Sprintf("desired state has no %s section", spec.name), nil)
	}
	return stage(ctx, spec, deps, func(current *session.Session[R]) error {
		return current.Bind(spec.bind(document))
	})
}

func (s *stagedSession[R]) Kind() resource.Kind {
	return s.spec.name
}

func (s *stagedSession[R]) HasChanges() (bool, error) {
	return s.session.HasChanges()
}

func (s *stagedSession[R]) WritePlan(w io.Writer) error {
	plan, err := s.session.Plan()
	if err != nil {
		return err
	}
	steps, err := s.session.Steps()
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "%s: %s\n", s.spec.name, planSummary(s.session.Kind(), plan, steps)); err != nil {
		return err
	}
	for _, step := range steps {
		if _, err := fmt.Fprintf(w, "  %s %s\n", operationMarker(step.Operation), step.Identity); err != nil {
			return err
		}
	}
	kind := s.session.Kind()
	for _, record := range plan.Protected {
		if _, err := fmt.Fprintf(w, "  ! %s (protected, skipped)\n", kind.Identity(record)); err != nil {
			return err
		}
	}
	return nil
}

// Probe checks every record the plan would add.
func (s *stagedSession[R]) Probe(ctx context.Context) error {
	if s.spec.probe == nil {
		return nil
	}
	plan, err := s.session.Plan()
	if err != nil {
		return err
	}
	kind := s.session.Kind()
	for _, desired := range plan.Add {
		if err := s.spec.probe(ctx, s.deps, desired); err != nil {
			return fmt.Errorf("probe %s %q: %w", s.spec.name, kind.Identity(desired), err)
		}
	}
	return nil
}

func (s *stagedSession[R]) Commit(ctx context.Context, opts ...reconciler.ApplyOption) (reconciler.Result, error) {
	return s.session.Commit(ctx, opts...)
}

// planSummary counts a change as an update only when it schedules an update
// call. Other scheduled operations are counted by name.
func planSummary[R any](kind reconciler.Kind[R], plan reconciler.Plan[R], steps []reconciler.Step) string {
	updating := make(map[string]bool, len(steps))
	others := make(map[reconciler.Operation]int)
	var order []reconciler.Operation
	for _, step := range steps {
		switch step.Operation {
		case reconciler.OperationUpdate:
			updating[step.Identity] = true
		case reconciler.OperationRemove, reconciler.OperationAdd:
		default:
			if others[step.Operation] == 0 {
				order = append(order, step.Operation)
			}
			others[step.Operation]++
		}
	}
	updates := 0
	for _, change := range plan.Update {
		if updating[kind.Identity(change.Original)] {
			updates++
		}
	}

	summary := fmt.Sprintf("%d to remove, %d to update, %d to add, %d unchanged", len(plan.Remove), updates, len(plan.Add), len(plan.Unchanged))
	for _, operation := range order {
		summary += fmt.Sprintf(", %d %s", others[operation], operation)
	}
	return summary
}

func operationMarker(operation reconciler.Operation) string {
	switch operation {
	case reconciler.OperationRemove:
		return "-"
	case reconciler.OperationAdd:
		return "+"
	case reconciler.OperationUpdate:
		return "~"
	default:
		return "* " + strings.TrimSpace(string(operation))
	}
}
