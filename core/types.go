package core

import (
	"context"
	"errors"

	"github.com/crmarques/reconctl/config"
	"github.com/crmarques/reconctl/journal"
	"github.com/crmarques/reconctl/server"
)

// Runtime is everything a command needs to work against one context.
type Runtime struct {
	Contexts         config.ContextService
	Context          config.Context
	Server           server.ResourceServer
	Journal          journal.Store
	RepositoryProber server.RepositoryProber
	RegistryProber   server.RegistryProber
	Telemetry        *Telemetry

	closers []func() error
}

type BootstrapConfig struct {
	ContextCatalogPath string
}

// Close flushes telemetry and releases backend connections.
func (r *Runtime) Close(ctx context.Context) error {
	if r == nil {
		return nil
	}
	var errs []error
	if r.Telemetry != nil {
		errs = append(errs, r.Telemetry.Shutdown(ctx))
	}
	for idx := len(r.closers) - 1; idx >= 0; idx-- {
		errs = append(errs, r.closers[idx]())
	}
	return errors.Join(errs...)
}
