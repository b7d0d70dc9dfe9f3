package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/crmarques/reconctl/faults"
	"github.com/crmarques/reconctl/resource"
	"github.com/crmarques/reconctl/server"
)

var _ server.ResourceServer = (*Server)(nil)

// Seed is the initial content of an in-memory server.
type Seed struct {
	Links        []resource.Link       `yaml:"links,omitempty"`
	Registries   []resource.Registry   `yaml:"registries,omitempty"`
	Repositories []resource.Repository `yaml:"repositories,omitempty"`
}

// Server keeps every kind in process memory.
type Server struct {
	mu           sync.RWMutex
	links        map[string]resource.Link
	registries   map[string]resource.Registry
	repositories map[string]resource.Repository
	push         *pushDesignation
}

type pushDesignation struct {
	address   string
	namespace string
}

func NewServer(seed Seed) *Server {
	srv := &Server{
		links:        make(map[string]resource.Link, len(seed.Links)),
		registries:   make(map[string]resource.Registry, len(seed.Registries)),
		repositories: make(map[string]resource.Repository, len(seed.Repositories)),
	}
	for _, link := range seed.Links {
		srv.links[link.Key()] = link
	}
	for _, registry := range seed.Registries {
		if registry.Push {
			srv.push = &pushDesignation{address: registry.Address, namespace: registry.Namespace}
		}
		registry.Push = false
		registry.Namespace = ""
		srv.registries[registry.Key()] = registry
	}
	for _, repository := range seed.Repositories {
		srv.repositories[repository.Key()] = repository
	}
	return srv
}

func (s *Server) ListLinks(ctx context.Context) ([]resource.Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	links := make([]resource.Link, 0, len(s.links))
	for _, link := range s.links {
		links = append(links, link)
	}
	slices.SortFunc(links, func(a, b resource.Link) int { return strings.Compare(a.Key(), b.Key()) })
	return links, nil
}

func (s *Server) AddLink(_ context.Context, link resource.Link) error {
	if strings.TrimSpace(link.Target) == "" || strings.TrimSpace(link.Name) == "" {
		return faults.NewValidationError("link target and name are required", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.links[link.Key()]; exists {
		return faults.NewConflictError(fmt.Sprintf("link %s already exists", link.Key()), nil)
	}
	s.links[link.Key()] = link
	return nil
}

func (s *Server) RemoveLink(_ context.Context, target string, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := resource.LinkKey(target, name)
	if _, exists := s.links[key]; !exists {
		return faults.NewNotFoundError(fmt.Sprintf("link %s not found", key), nil)
	}
	delete(s.links, key)
	return nil
}

func (s *Server) RenameLink(_ context.Context, target string, oldName string, newName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldKey := resource.LinkKey(target, oldName)
	link, exists := s.links[oldKey]
	if !exists {
		return faults.NewNotFoundError(fmt.Sprintf("link %s not found", oldKey), nil)
	}
	newKey := resource.LinkKey(target, newName)
	if _, taken := s.links[newKey]; taken && newKey != oldKey {
		return faults.NewConflictError(fmt.Sprintf("link %s already exists", newKey), nil)
	}
	delete(s.links, oldKey)
	link.Name = newName
	s.links[newKey] = link
	return nil
}

// ListRegistries never returns passwords.
func (s *Server) ListRegistries(ctx context.Context) ([]resource.Registry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	registries := make([]resource.Registry, 0, len(s.registries))
	for _, registry := range s.registries {
		registry.Password = ""
		if s.push != nil && s.push.address == registry.Address {
			registry.Push = true
			registry.Namespace = s.push.namespace
		}
		registries = append(registries, registry)
	}
	slices.SortFunc(registries, func(a, b resource.Registry) int { return strings.Compare(a.Address, b.Address) })
	return registries, nil
}

func (s *Server) AddRegistry(_ context.Context, registry resource.Registry) error {
	if strings.TrimSpace(registry.Address) == "" {
		return faults.NewValidationError("registry address is required", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.registries[registry.Key()] = resource.Registry{
		Address:  registry.Address,
		Username: registry.Username,
		Password: registry.Password,
	}
	return nil
}

func (s *Server) RemoveRegistry(_ context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.registries[address]; !exists {
		return faults.NewNotFoundError(fmt.Sprintf("registry %s not found", address), nil)
	}
	delete(s.registries, address)
	if s.push != nil && s.push.address == address {
		s.push = nil
	}
	return nil
}

func (s *Server) SetPushRegistry(_ context.Context, address string, namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.registries[address]; !exists {
		return faults.NewNotFoundError(fmt.Sprintf("registry %s not found", address), nil)
	}
	s.push = &pushDesignation{address: address, namespace: namespace}
	return nil
}

func (s *Server) ClearPushRegistry(_ context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.push != nil && s.push.address == address {
		s.push = nil
	}
	return nil
}

// PushRegistry returns the designated push registry address, if any.
func (s *Server) PushRegistry() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.push == nil {
		return "", false
	}
	return s.push.address, true
}

func (s *Server) ListRepositories(ctx context.Context) ([]resource.Repository, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	repositories := make([]resource.Repository, 0, len(s.repositories))
	for _, repository := range s.repositories {
		repositories = append(repositories, repository)
	}
	slices.SortFunc(repositories, func(a, b resource.Repository) int { return strings.Compare(a.URL, b.URL) })
	return repositories, nil
}

func (s *Server) AddRepository(_ context.Context, repository resource.Repository) error {
	if strings.TrimSpace(repository.URL) == "" {
		return faults.NewValidationError("repository url is required", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.repositories[repository.Key()]; exists {
		return faults.NewConflictError(fmt.Sprintf("repository %s already exists", repository.URL), nil)
	}
	repository.Protected = false
	s.repositories[repository.Key()] = repository
	return nil
}

func (s *Server) RemoveRepository(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	repository, err := s.mutableRepository(url)
	if err != nil {
		return err
	}
	delete(s.repositories, repository.URL)
	return nil
}

func (s *Server) SetRepositoryEnabled(_ context.Context, url string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	repository, err := s.mutableRepository(url)
	if err != nil {
		return err
	}
	repository.Enabled = enabled
	s.repositories[repository.URL] = repository
	return nil
}

func (s *Server) mutableRepository(url string) (resource.Repository, error) {
	repository, exists := s.repositories[url]
	if !exists {
		return resource.Repository{}, faults.NewNotFoundError(fmt.Sprintf("repository %s not found", url), nil)
	}
	if repository.Protected {
		return resource.Repository{}, faults.NewConflictError(fmt.Sprintf("repository %s is protected", url), nil)
	}
	return repository, nil
}
