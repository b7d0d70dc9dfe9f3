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
	_ reconciler.Kind[resource.Registry]        = (*Registries)(nil)
	_ reconciler.Validator[resource.Registry]   = (*Registries)(nil)
	_ reconciler.StepPlanner[resource.Registry] = (*Registries)(nil)
)

// Registries reconciles container-image registries. Registries have no
// in-place update: changed credentials are sent again through AddRegistry,
// and the push designation is managed by dedicated calls scheduled around
// the add and remove phases.
type Registries struct {
	service server.RegistryService
}

func NewRegistries(service server.RegistryService) *Registries {
	return &Registries{service: service}
}

func (k *Registries) Name() resource.Kind {
	return resource.KindRegistries
}

func (k *Registries) Identity(record resource.Registry) string {
	return record.Key()
}

func (k *Registries) Match() reconciler.MatchMode {
	return reconciler.MatchByIdentity
}

func (k *Registries) Protected(resource.Registry) bool {
	return false
}

func (k *Registries) Differs(original resource.Registry, desired resource.Registry) bool {
	if credentialsChanged(desired) {
		return true
	}
	if original.Push != desired.Push {
		return true
	}
	return desired.Push && original.Namespace != desired.Namespace
}

func (k *Registries) Add(ctx context.Context, desired resource.Registry) error {
	return k.service.AddRegistry(ctx, credentialsOnly(desired))
}

func (k *Registries) Remove(ctx context.Context, original resource.Registry) error {
	return k.service.RemoveRegistry(ctx, original.Address)
}

func (k *Registries) Update(ctx context.Context, _ resource.Registry, desired resource.Registry) error {
	return k.service.AddRegistry(ctx, credentialsOnly(desired))
}

func (k *Registries) ValidateWorkingSet(workingSet []reconciler.Entry[resource.Registry]) error {
	push := make([]string, 0, 1)
	for _, entry := range workingSet {
		if entry.Value.Push {
			push = append(push, entry.Value.Address)
		}
		if entry.IsNew() && strings.TrimSpace(entry.Value.Password) == "" && strings.TrimSpace(entry.Value.Username) != "" {
			return faults.NewValidationError(fmt.Sprintf("registry %q needs a password for user %q", entry.Value.Address, entry.Value.Username), nil)
		}
	}
	if len(push) > 1 {
		return faults.NewValidationError(
			fmt.Sprintf("only one push registry is allowed, got %s", strings.Join(push, ", ")),
			nil,
		)
	}
	return nil
}

// PlanSteps clears the designation of a push registry before it is removed,
// and moves the designation after additions so a newly added registry can
// receive it. Every push registry of the snapshot other than the desired one
// is cleared, so a snapshot carrying several designations converges to one.
func (k *Registries) PlanSteps(plan reconciler.Plan[resource.Registry]) []reconciler.Step {
	priors := pushRegistries(plan.Originals())
	next, hasNext := pushRegistry(plan.Desired())

	steps := make([]reconciler.Step, 0, plan.Len()+len(priors)+1)
	removed := make(map[string]bool, len(plan.Remove))
	for _, original := range plan.Remove {
		if original.Push {
			steps = append(steps, k.clearPushStep(original.Address))
		}
		steps = append(steps, reconciler.RemoveStep[resource.Registry](k, original))
		removed[original.Address] = true
	}
	for _, change := range plan.Update {
		if credentialsChanged(change.Desired) {
			steps = append(steps, reconciler.UpdateStep[resource.Registry](k, change))
		}
	}
	for _, desired := range plan.Add {
		steps = append(steps, reconciler.AddStep[resource.Registry](k, desired))
	}

	if hasNext && !slices.ContainsFunc(priors, func(prior resource.Registry) bool {
		return prior.Address == next.Address && prior.Namespace == next.Namespace
	}) {
		steps = append(steps, k.setPushStep(next))
	}
	for _, prior := range priors {
		if removed[prior.Address] || (hasNext && prior.Address == next.Address) {
			continue
		}
		steps = append(steps, k.clearPushStep(prior.Address))
	}

	return steps
}

func (k *Registries) setPushStep(registry resource.Registry) reconciler.Step {
	return reconciler.NewStep(k.Name(), reconciler.OperationSetPush, registry.Address, func(ctx context.Context) error {
		return k.service.SetPushRegistry(ctx, registry.Address, registry.Namespace)
	})
}

func (k *Registries) clearPushStep(address string) reconciler.Step {
	return reconciler.NewStep(k.Name(), reconciler.OperationClearPush, address, func(ctx context.Context) error {
		return k.service.ClearPushRegistry(ctx, address)
	})
}

// pushRegistries returns every designated registry in address order.
func pushRegistries(registries []resource.Registry) []resource.Registry {
	found := make([]resource.Registry, 0, 1)
	for _, registry := range registries {
		if registry.Push {
			found = append(found, registry)
		}
	}
	slices.SortFunc(found, func(a, b resource.Registry) int { return strings.Compare(a.Address, b.Address) })
	return found
}

func pushRegistry(registries []resource.Registry) (resource.Registry, bool) {
	found := pushRegistries(registries)
	if len(found) == 0 {
		return resource.Registry{}, false
	}
	return found[0], true
}

func credentialsChanged(desired resource.Registry) bool {
	return desired.Password != ""
}

func credentialsOnly(registry resource.Registry) resource.Registry {
	return resource.Registry{
		Address:  registry.Address,
		Username: registry.Username,
		Password: registry.Password,
	}
}
