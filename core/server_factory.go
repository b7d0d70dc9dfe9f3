package core

import (
	"bytes"
	"errors"
	"io"
	"os"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/crmarques/reconctl/config"
	"github.com/crmarques/reconctl/faults"
	httpserver "github.com/crmarques/reconctl/internal/providers/server/http"
	kubeserver "github.com/crmarques/reconctl/internal/providers/server/kube"
	memoryserver "github.com/crmarques/reconctl/internal/providers/server/memory"
	redisserver "github.com/crmarques/reconctl/internal/providers/server/redis"
	"github.com/crmarques/reconctl/server"
)

// buildServer returns the backend of a context, with registries served from
// Kubernetes when the context asks for it.
func buildServer(cfg config.Context) (server.ResourceServer, []func() error, error) {
	var (
		base    server.ResourceServer
		closers []func() error
	)

	switch {
	case cfg.Server.HTTP != nil:
		gateway, err := httpserver.NewGateway(*cfg.Server.HTTP, httpserver.WithLinksProject(cfg.Links.Project))
		if err != nil {
			return nil, nil, err
		}
		base = gateway
	case cfg.Server.Redis != nil:
		srv, err := redisserver.NewServer(*cfg.Server.Redis, redisserver.WithLinksProject(cfg.Links.Project))
		if err != nil {
			return nil, nil, err
		}
		base = srv
		closers = append(closers, srv.Close)
	case cfg.Server.Memory != nil:
		seed, err := loadMemorySeed(cfg.Server.Memory.SeedFile)
		if err != nil {
			return nil, nil, err
		}
		base = memoryserver.NewServer(seed)
	default:
		return nil, nil, faults.NewValidationError("context server must define http, redis, or memory", nil)
	}

	if cfg.Registries == nil {
		return base, closers, nil
	}
	registries, err := kubeserver.NewRegistriesFromConfig(*cfg.Registries)
	if err != nil {
		for _, closeFn := range closers {
			_ = closeFn()
		}
		return nil, nil, err
	}
	return server.Composite{
		LinkService:       base,
		RegistryService:   registries,
		RepositoryService: base,
	}, closers, nil
}

func loadMemorySeed(path string) (memoryserver.Seed, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return memoryserver.Seed{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return memoryserver.Seed{}, faults.NewNotFoundError("server.memory.seed-file "+path+" not found", err)
		}
		return memoryserver.Seed{}, faults.NewInternalError("failed to read server.memory.seed-file", err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	var seed memoryserver.Seed
	if err := decoder.Decode(&seed); err != nil && !errors.Is(err, io.EOF) {
		return memoryserver.Seed{}, faults.NewValidationError("server.memory.seed-file is invalid", err)
	}
	return seed, nil
}
