package server

import (
	"context"

	"github.com/crmarques/reconctl/resource"
)

// LinkService manages the links of one source project.
type LinkService interface {
	ListLinks(ctx context.Context) ([]resource.Link, error)
	AddLink(ctx context.Context, link resource.Link) error
	RemoveLink(ctx context.Context, target string, name string) error
	RenameLink(ctx context.Context, target string, oldName string, newName string) error
}

type RegistryService interface {
	ListRegistries(ctx context.Context) ([]resource.Registry, error)
	// AddRegistry creates the registry or replaces its stored credentials.
	AddRegistry(ctx context.Context, registry resource.Registry) error
	RemoveRegistry(ctx context.Context, address string) error
	SetPushRegistry(ctx context.Context, address string, namespace string) error
	// ClearPushRegistry drops the push designation only while address holds it.
	ClearPushRegistry(ctx context.Context, address string) error
}

type RepositoryService interface {
	ListRepositories(ctx context.Context) ([]resource.Repository, error)
	AddRepository(ctx context.Context, repository resource.Repository) error
	RemoveRepository(ctx context.Context, url string) error
	SetRepositoryEnabled(ctx context.Context, url string, enabled bool) error
}

type ResourceServer interface {
	LinkService
	RegistryService
	RepositoryService
}

// RepositoryProber is an optional capability that checks a repository URL is
// reachable before it is added.
type RepositoryProber interface {
	ProbeRepository(ctx context.Context, url string) error
}

// RegistryProber checks a registry answers the OCI distribution API, using
// the registry credentials when they are set.
type RegistryProber interface {
	ProbeRegistry(ctx context.Context, registry resource.Registry) error
}

// Composite assembles a ResourceServer from per-kind services so a kind can be
// served by a different backend than the others.
type Composite struct {
	LinkService
	RegistryService
	RepositoryService
}

var _ ResourceServer = Composite{}
