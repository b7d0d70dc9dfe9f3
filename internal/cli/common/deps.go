package common

import (
	"context"

	"go.opentelemetry.io/otel/trace"

	"github.com/crmarques/reconctl/config"
	"github.com/crmarques/reconctl/journal"
	"github.com/crmarques/reconctl/reconciler"
	"github.com/crmarques/reconctl/server"
)

// Telemetry is the per-run metrics and tracing sink built for the selected
// context.
type Telemetry interface {
	Metrics() *reconciler.Metrics
	Tracer() trace.Tracer
	Observer() func(reconciler.Step, error)
	Flush(ctx context.Context) error
}

type CommandDependencies struct {
	Contexts         config.ContextService
	Server           server.ResourceServer
	Journal          journal.Store
	RepositoryProber server.RepositoryProber
	RegistryProber   server.RegistryProber
	Telemetry        Telemetry
}

func RequireContexts(deps CommandDependencies) (config.ContextService, error) {
	if deps.Contexts == nil {
		return nil, ValidationError("context service is not configured", nil)
	}
	return deps.Contexts, nil
}

func RequireServer(deps CommandDependencies) (server.ResourceServer, error) {
	if deps.Server == nil {
		return nil, ValidationError("resource server is not configured", nil)
	}
	return deps.Server, nil
}

func RequireJournal(deps CommandDependencies) (journal.Store, error) {
	if deps.Journal == nil {
		return nil, ValidationError("apply journal is not configured", nil)
	}
	return deps.Journal, nil
}
