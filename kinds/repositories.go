package kinds

import (
	"context"

	"github.com/crmarques/reconctl/faults"
	"github.com/crmarques/reconctl/reconciler"
	"github.com/crmarques/reconctl/resource"
	"github.com/crmarques/reconctl/server"
)

var (
	_ reconciler.Kind[resource.Repository]      = (*Repositories)(nil)
	_ reconciler.Validator[resource.Repository] = (*Repositories)(nil)
)

type Repositories struct {
	service server.RepositoryService
}

func NewRepositories(service server.RepositoryService) *Repositories {
	return &Repositories{service: service}
}

func (k *Repositories) Name() resource.Kind {
	return resource.KindRepositories
}

func (k *Repositories) Identity(record resource.Repository) string {
	return record.Key()
}

func (k *Repositories) Match() reconciler.MatchMode {
	return reconciler.MatchByIdentity
}

func (k *Repositories) Protected(record resource.Repository) bool {
	return record.Protected
}

func (k *Repositories) Differs(original resource.Repository, desired resource.Repository) bool {
	return original.Enabled != desired.Enabled
}

func (k *Repositories) Add(ctx context.Context, desired resource.Repository) error {
	desired.Protected = false
	return k.service.AddRepository(ctx, desired)
}

func (k *Repositories) Remove(ctx context.Context, original resource.Repository) error {
	return k.service.RemoveRepository(ctx, original.URL)
}

func (k *Repositories) Update(ctx context.Context, original resource.Repository, desired resource.Repository) error {
	return k.service.SetRepositoryEnabled(ctx, original.URL, desired.Enabled)
}

func (k *Repositories) ValidateWorkingSet(workingSet []reconciler.Entry[resource.Repository]) error {
	for _, entry := range workingSet {
		if entry.IsNew() && entry.Value.Protected {
			return faults.NewValidationError("repository "+entry.Value.URL+" cannot be created as protected", nil)
		}
	}
	return nil
}
