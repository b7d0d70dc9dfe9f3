package core

import (
	"context"

	"github.com/crmarques/reconctl/config"
	"github.com/crmarques/reconctl/faults"
	configfile "github.com/crmarques/reconctl/internal/providers/config/file"
	sqlitejournal "github.com/crmarques/reconctl/internal/providers/journal/sqlite"
	"github.com/crmarques/reconctl/internal/providers/probe"
	"github.com/crmarques/reconctl/journal"
)

func NewContextService(opts BootstrapConfig) config.ContextService {
	return configfile.NewFileContextService(opts.ContextCatalogPath)
}

// NewRuntime resolves the selected context and builds its backends. The
// caller owns the runtime and must Close it.
func NewRuntime(ctx context.Context, opts BootstrapConfig, selection config.ContextSelection) (*Runtime, error) {
	contexts := NewContextService(opts)
	resolved, err := contexts.ResolveContext(ctx, selection)
	if err != nil {
		return nil, err
	}
	return NewRuntimeForContext(ctx, contexts, resolved)
}

func NewRuntimeForContext(ctx context.Context, contexts config.ContextService, resolved config.Context) (*Runtime, error) {
	runtime := &Runtime{Contexts: contexts, Context: resolved, Journal: journal.Discard{}}

	srv, closers, err := buildServer(resolved)
	if err != nil {
		return nil, err
	}
	runtime.Server = srv
	runtime.closers = append(runtime.closers, closers...)

	if resolved.Journal != nil {
		store, err := sqlitejournal.Open(resolved.Journal.Path)
		if err != nil {
			_ = runtime.Close(ctx)
			return nil, err
		}
		runtime.Journal = store
		runtime.closers = append(runtime.closers, store.Close)
	}

	if resolved.Probe != nil && (resolved.Probe.Repositories || resolved.Probe.Registries) {
		prober, err := probe.New(*resolved.Probe)
		if err != nil {
			_ = runtime.Close(ctx)
			return nil, err
		}
		if resolved.Probe.Repositories {
			runtime.RepositoryProber = prober
		}
		if resolved.Probe.Registries {
			runtime.RegistryProber = prober
		}
	}

	telemetry, err := NewTelemetry(ctx, resolved.Telemetry)
	if err != nil {
		_ = runtime.Close(ctx)
		return nil, err
	}
	runtime.Telemetry = telemetry

	if runtime.Server == nil {
		_ = runtime.Close(ctx)
		return nil, faults.NewInternalError("context resolved without a server", nil)
	}
	return runtime, nil
}
