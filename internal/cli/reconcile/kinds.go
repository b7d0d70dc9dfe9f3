package reconcile

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/crmarques/reconctl/internal/cli/common"
	"github.com/crmarques/reconctl/kinds"
	"github.com/crmarques/reconctl/reconciler"
	"github.com/crmarques/reconctl/resource"
	"github.com/crmarques/reconctl/server"
	"github.com/crmarques/reconctl/session"
)

// kindSpec binds one kind to its server calls, desired-state section and
// text rendering.
type kindSpec[R any] struct {
	name    resource.Kind
	short   string
	newKind func(server.ResourceServer) reconciler.Kind[R]
	fetch   func(server.ResourceServer) session.Fetcher[R]
	bind    func(session.Document) func([]R) ([]reconciler.Entry[R], error)
	columns string
	row     func(R) string
	probe   func(context.Context, common.CommandDependencies, R) error
}

var linksSpec = kindSpec[resource.Link]{
	name:  resource.KindLinks,
	short: "Manage environment-variable links to other projects",
	newKind: func(srv server.ResourceServer) reconciler.Kind[resource.Link] {
		return kinds.NewLinks(srv)
	},
	fetch: func(srv server.ResourceServer) session.Fetcher[resource.Link] {
		return srv.ListLinks
	},
	bind: func(document session.Document) func([]resource.Link) ([]reconciler.Entry[resource.Link], error) {
		return func(original []resource.Link) ([]reconciler.Entry[resource.Link], error) {
			return session.BindLinks(original, document.Links)
		}
	},
	columns: "TARGET\tNAME",
	row: func(link resource.Link) string {
		return link.Target + "\t" + link.Name
	},
}

var registriesSpec = kindSpec[resource.Registry]{
	name:  resource.KindRegistries,
	short: "Manage container image registries",
	newKind: func(srv server.ResourceServer) reconciler.Kind[resource.Registry] {
		return kinds.NewRegistries(srv)
	},
	fetch: func(srv server.ResourceServer) session.Fetcher[resource.Registry] {
		return srv.ListRegistries
	},
	bind: func(document session.Document) func([]resource.Registry) ([]reconciler.Entry[resource.Registry], error) {
		return func(original []resource.Registry) ([]reconciler.Entry[resource.Registry], error) {
			return session.BindRegistries(original, document.Registries)
		}
	},
	columns: "ADDRESS\tUSERNAME\tPUSH\tNAMESPACE",
	row: func(registry resource.Registry) string {
		push := ""
		if registry.Push {
			push = "yes"
		}
		return registry.Address + "\t" + registry.Username + "\t" + push + "\t" + registry.Namespace
	},
	probe: func(ctx context.Context, deps common.CommandDependencies, registry resource.Registry) error {
		if deps.RegistryProber == nil {
			return common.ValidationError("registry probing is not enabled for this context", nil)
		}
		return deps.RegistryProber.ProbeRegistry(ctx, registry)
	},
}

var repositoriesSpec = kindSpec[resource.Repository]{
	name:  resource.KindRepositories,
	short: "Manage template and project repositories",
	newKind: func(srv server.ResourceServer) reconciler.Kind[resource.Repository] {
		return kinds.NewRepositories(srv)
	},
	fetch: func(srv server.ResourceServer) session.Fetcher[resource.Repository] {
		return srv.ListRepositories
	},
	bind: func(document session.Document) func([]resource.Repository) ([]reconciler.Entry[resource.Repository], error) {
		return func(original []resource.Repository) ([]reconciler.Entry[resource.Repository], error) {
			return session.BindRepositories(original, document.Repositories)
		}
	},
	columns: "URL\tNAME\tENABLED\tPROTECTED",
	row: func(repository resource.Repository) string {
		return fmt.Sprintf("%s\t%s\t%t\t%t", repository.URL, repository.Name, repository.Enabled, repository.Protected)
	},
	probe: func(ctx context.Context, deps common.CommandDependencies, repository resource.Repository) error {
		if deps.RepositoryProber == nil {
			return common.ValidationError("repository probing is not enabled for this context", nil)
		}
		return deps.RepositoryProber.ProbeRepository(ctx, repository.URL)
	},
}

func (s kindSpec[R]) newSession(srv server.ResourceServer) *session.Session[R] {
	return session.New(s.newKind(srv), session.NewSnapshot(s.fetch(srv)))
}

func (s kindSpec[R]) renderTable(w io.Writer, records []R) error {
	writer := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if _, err := fmt.Fprintln(writer, s.columns); err != nil {
		return err
	}
	for _, record := range records {
		if _, err := fmt.Fprintln(writer, s.row(record)); err != nil {
			return err
		}
	}
	return writer.Flush()
}
