package kinds

import (
	"context"
	"fmt"
	"sync"

	"github.com/crmarques/reconctl/resource"
	"github.com/crmarques/reconctl/server"
)

type recordingServer struct {
	mu     sync.Mutex
	calls  []string
	failOn map[string]error
	// links receives link calls after they are recorded, when set.
	links server.LinkService
}

func newRecordingServer() *recordingServer {
	return &recordingServer{failOn: map[string]error{}}
}

func (s *recordingServer) record(format string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := fmt.Sprintf(format, args...)
	s.calls = append(s.calls, entry)
	return s.failOn[entry]
}

func (s *recordingServer) recorded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *recordingServer) ListLinks(context.Context) ([]resource.Link, error) { return nil, nil }

func (s *recordingServer) AddLink(ctx context.Context, link resource.Link) error {
	if err := s.record("add-link %s", link.Key()); err != nil || s.links == nil {
		return err
	}
	return s.links.AddLink(ctx, link)
}

func (s *recordingServer) RemoveLink(ctx context.Context, target string, name string) error {
	if err := s.record("remove-link %s", resource.LinkKey(target, name)); err != nil || s.links == nil {
		return err
	}
	return s.links.RemoveLink(ctx, target, name)
}

func (s *recordingServer) RenameLink(ctx context.Context, target string, oldName string, newName string) error {
	if err := s.record("rename-link %s -> %s", resource.LinkKey(target, oldName), newName); err != nil || s.links == nil {
		return err
	}
	return s.links.RenameLink(ctx, target, oldName, newName)
}

func (s *recordingServer) ListRegistries(context.Context) ([]resource.Registry, error) {
	return nil, nil
}

func (s *recordingServer) AddRegistry(_ context.Context, registry resource.Registry) error {
	return s.record("add-registry %s user=%s push=%t", registry.Address, registry.Username, registry.Push)
}

func (s *recordingServer) RemoveRegistry(_ context.Context, address string) error {
	return s.record("remove-registry %s", address)
}

func (s *recordingServer) SetPushRegistry(_ context.Context, address string, namespace string) error {
	return s.record("set-push %s ns=%s", address, namespace)
}

func (s *recordingServer) ClearPushRegistry(_ context.Context, address string) error {
	return s.record("clear-push %s", address)
}

func (s *recordingServer) ListRepositories(context.Context) ([]resource.Repository, error) {
	return nil, nil
}

func (s *recordingServer) AddRepository(_ context.Context, repository resource.Repository) error {
	return s.record("add-repository %s enabled=%t protected=%t", repository.URL, repository.Enabled, repository.Protected)
}

func (s *recordingServer) RemoveRepository(_ context.Context, url string) error {
	return s.record("remove-repository %s", url)
}

func (s *recordingServer) SetRepositoryEnabled(_ context.Context, url string, enabled bool) error {
	return s.record("enable-repository %s enabled=%t", url, enabled)
}
