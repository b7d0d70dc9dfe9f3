package kinds

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/crmarques/reconctl/faults"
	"github.com/crmarques/reconctl/reconciler"
	"github.com/crmarques/reconctl/resource"
	"github.com/crmarques/reconctl/server"
)

var (
	_ reconciler.Kind[resource.Link]        = (*Links)(nil)
	_ reconciler.Validator[resource.Link]   = (*Links)(nil)
	_ reconciler.StepPlanner[resource.Link] = (*Links)(nil)
)

// parkSuffix names the temporary variable used to break a cycle of renames.
const parkSuffix = "_RECONCTL_SWAP"

// Links reconciles the environment-variable links of one source project.
// The variable name is both part of the identity and editable, so entries
// are matched to the snapshot by reference.
type Links struct {
	service server.LinkService
}

func NewLinks(service server.LinkService) *Links {
	return &Links{service: service}
}

func (k *Links) Name() resource.Kind {
	return resource.KindLinks
}

func (k *Links) Identity(record resource.Link) string {
	return record.Key()
}

func (k *Links) Match() reconciler.MatchMode {
	return reconciler.MatchByReference
}

func (k *Links) Protected(resource.Link) bool {
	return false
}

func (k *Links) Differs(original resource.Link, desired resource.Link) bool {
	return original.Name != desired.Name
}

func (k *Links) Add(ctx context.Context, desired resource.Link) error {
	return k.service.AddLink(ctx, desired)
}

func (k *Links) Remove(ctx context.Context, original resource.Link) error {
	return k.service.RemoveLink(ctx, original.Target, original.Name)
}

func (k *Links) Update(ctx context.Context, original resource.Link, desired resource.Link) error {
	return k.service.RenameLink(ctx, original.Target, original.Name, desired.Name)
}

// PlanSteps orders renames so none lands on a name another rename has not
// yet vacated. A cycle of renames is broken by first moving one link to a
// free temporary name.
func (k *Links) PlanSteps(plan reconciler.Plan[resource.Link]) []reconciler.Step {
	steps := make([]reconciler.Step, 0, plan.Len()+1)
	for _, original := range plan.Remove {
		steps = append(steps, reconciler.RemoveStep[resource.Link](k, original))
	}

	taken := make(map[string]bool, plan.Len()*2)
	for _, link := range slices.Concat(plan.Originals(), plan.Desired()) {
		taken[link.Key()] = true
	}
	pending := slices.Clone(plan.Update)
	for len(pending) > 0 {
		vacating := make(map[string]bool, len(pending))
		for _, change := range pending {
			vacating[change.Original.Key()] = true
		}
		blocked := pending[:0:0]
		for _, change := range pending {
			if vacating[change.Desired.Key()] {
				blocked = append(blocked, change)
				continue
			}
			steps = append(steps, reconciler.UpdateStep[resource.Link](k, change))
		}
		if len(blocked) == len(pending) {
			parked := blocked[0].Original
			parked.Name = freeName(parked, taken)
			taken[parked.Key()] = true
			steps = append(steps, reconciler.UpdateStep[resource.Link](k, reconciler.Change[resource.Link]{
				Original: blocked[0].Original,
				Desired:  parked,
			}))
			blocked[0].Original = parked
		}
		pending = blocked
	}

	for _, desired := range plan.Add {
		steps = append(steps, reconciler.AddStep[resource.Link](k, desired))
	}
	return steps
}

func freeName(link resource.Link, taken map[string]bool) string {
	name := link.Name + parkSuffix
	for i := 1; taken[resource.LinkKey(link.Target, name)]; i++ {
		name = fmt.Sprintf("%s%s_%d", link.Name, parkSuffix, i)
	}
	return name
}

func (k *Links) ValidateWorkingSet(workingSet []reconciler.Entry[resource.Link]) error {
	for _, entry := range workingSet {
		if strings.TrimSpace(entry.Value.Target) == "" {
			return faults.NewValidationError(fmt.Sprintf("link %q has no target", entry.Value.Name), nil)
		}
		if strings.TrimSpace(entry.Value.Name) == "" {
			return faults.NewValidationError(fmt.Sprintf("link to %q has no environment variable name", entry.Value.Target), nil)
		}
		if entry.Original != nil && entry.Original.Target != entry.Value.Target {
			return faults.NewValidationError(
				fmt.Sprintf("link %q cannot move from target %q to %q", entry.Original.Name, entry.Original.Target, entry.Value.Target),
				nil,
			)
		}
	}
	return nil
}
