package http

import (
	"context"
	"net/http"

	"github.com/crmarques/reconctl/resource"
)

func (g *Gateway) linksQuery() map[string]string {
	if g.project == "" {
		return nil
	}
	return map[string]string{"project": g.project}
}

func (g *Gateway) ListLinks(ctx context.Context) ([]resource.Link, error) {
	body, err := g.execute(ctx, requestSpec{method: http.MethodGet, path: "links", query: g.linksQuery()})
	if err != nil {
		return nil, err
	}
	return decodeList[resource.Link](ctx, body, g.listJQ.Links)
}

func (g *Gateway) AddLink(ctx context.Context, link resource.Link) error {
	_, err := g.execute(ctx, requestSpec{method: http.MethodPost, path: "links", query: g.linksQuery(), body: link})
	return err
}

func (g *Gateway) RemoveLink(ctx context.Context, target string, name string) error {
	_, err := g.execute(ctx, requestSpec{
		method: http.MethodDelete,
		path:   "links/" + segment(target) + "/" + segment(name),
		query:  g.linksQuery(),
	})
	return err
}

func (g *Gateway) RenameLink(ctx context.Context, target string, oldName string, newName string) error {
	_, err := g.execute(ctx, requestSpec{
		method: http.MethodPut,
		path:   "links/" + segment(target) + "/" + segment(oldName),
		query:  g.linksQuery(),
		body:   map[string]string{"name": newName},
	})
	return err
}

func (g *Gateway) ListRegistries(ctx context.Context) ([]resource.Registry, error) {
	body, err := g.execute(ctx, requestSpec{method: http.MethodGet, path: "registries"})
	if err != nil {
		return nil, err
	}
	registries, err := decodeList[resource.Registry](ctx, body, g.listJQ.Registries)
	if err != nil {
		return nil, err
	}
	for idx := range registries {
		registries[idx].Password = ""
	}
	return registries, nil
}

func (g *Gateway) AddRegistry(ctx context.Context, registry resource.Registry) error {
	_, err := g.execute(ctx, requestSpec{method: http.MethodPost, path: "registries", body: registry})
	return err
}

func (g *Gateway) RemoveRegistry(ctx context.Context, address string) error {
	_, err := g.execute(ctx, requestSpec{method: http.MethodDelete, path: "registries/" + segment(address)})
	return err
}

func (g *Gateway) SetPushRegistry(ctx context.Context, address string, namespace string) error {
	_, err := g.execute(ctx, requestSpec{
		method: http.MethodPut,
		path:   "registries/push",
		body:   map[string]string{"address": address, "namespace": namespace},
	})
	return err
}

func (g *Gateway) ClearPushRegistry(ctx context.Context, address string) error {
	_, err := g.execute(ctx, requestSpec{method: http.MethodDelete, path: "registries/push/" + segment(address)})
	return err
}

func (g *Gateway) ListRepositories(ctx context.Context) ([]resource.Repository, error) {
	body, err := g.execute(ctx, requestSpec{method: http.MethodGet, path: "repositories"})
	if err != nil {
		return nil, err
	}
	return decodeList[resource.Repository](ctx, body, g.listJQ.Repositories)
}

func (g *Gateway) AddRepository(ctx context.Context, repository resource.Repository) error {
	repository.Protected = false
	_, err := g.execute(ctx, requestSpec{method: http.MethodPost, path: "repositories", body: repository})
	return err
}

func (g *Gateway) RemoveRepository(ctx context.Context, url string) error {
	_, err := g.execute(ctx, requestSpec{
		method: http.MethodDelete,
		path:   "repositories",
		query:  map[string]string{"url": url},
	})
	return err
}

func (g *Gateway) SetRepositoryEnabled(ctx context.Context, url string, enabled bool) error {
	_, err := g.execute(ctx, requestSpec{
		method: http.MethodPatch,
		path:   "repositories",
		query:  map[string]string{"url": url},
		body:   map[string]bool{"enabled": enabled},
	})
	return err
}
