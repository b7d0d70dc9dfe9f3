package session

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/crmarques/reconctl/resource"
	"github.com/crmarques/reconctl/server"
)

// Snapshots holds one fetched list per kind.
type Snapshots struct {
	Links        []resource.Link
	Registries   []resource.Registry
	Repositories []resource.Repository
}

func (s Snapshots) Count(kind resource.Kind) int {
	switch kind {
	case resource.KindLinks:
		return len(s.Links)
	case resource.KindRegistries:
		return len(s.Registries)
	case resource.KindRepositories:
		return len(s.Repositories)
	default:
		return 0
	}
}

// LoadAll fetches every kind concurrently. The first failure cancels the
// remaining fetches.
func LoadAll(ctx context.Context, srv server.ResourceServer) (Snapshots, error) {
	var snapshots Snapshots
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		links, err := srv.ListLinks(groupCtx)
		snapshots.Links = links
		return err
	})
	group.Go(func() error {
		registries, err := srv.ListRegistries(groupCtx)
		snapshots.Registries = registries
		return err
	})
	group.Go(func() error {
		repositories, err := srv.ListRepositories(groupCtx)
		snapshots.Repositories = repositories
		return err
	})

	if err := group.Wait(); err != nil {
		return Snapshots{}, err
	}
	return snapshots, nil
}
