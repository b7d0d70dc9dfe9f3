package session

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/crmarques/reconctl/faults"
	"github.com/crmarques/reconctl/internal/providers/server/memory"
	"github.com/crmarques/reconctl/kinds"
	"github.com/crmarques/reconctl/reconciler"
	"github.com/crmarques/reconctl/resource"
)

func newRepositorySession(t *testing.T, srv *memory.Server, opts ...Option[resource.Repository]) *Session[resource.Repository] {
	t.Helper()

	s := New[resource.Repository](kinds.NewRepositories(srv), NewSnapshot(srv.ListRepositories), opts...)
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	return s
}

func TestSnapshotSharesFetchAndInvalidates(t *testing.T) {
	t.Parallel()

	var fetches atomic.Int32
	release := make(chan struct{})
	snapshot := NewSnapshot(func(context.Context) ([]string, error) {
		fetches.Add(1)
		<-release
		return []string{"a"}, nil
	})

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := snapshot.Get(context.Background()); err != nil {
				t.Errorf("Get returned error: %v", err)
			}
		}()
	}
	close(release)
	wg.Wait()

	if _, err := snapshot.Get(context.Background()); err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	cached := fetches.Load()
	if cached < 1 || cached > 5 {
		t.Fatalf("unexpected fetch count %d", cached)
	}

	snapshot.Invalidate()
	if snapshot.Generation() != 1 {
		t.Fatalf("expected generation 1, got %d", snapshot.Generation())
	}
	if _, err := snapshot.Get(context.Background()); err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if fetches.Load() != cached+1 {
		t.Fatalf("expected a refetch after invalidation, got %d fetches", fetches.Load())
	}
}

func TestSnapshotFetchOutlivesCanceledCaller(t *testing.T) {
	t.Parallel()

	var fetches atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	snapshot := NewSnapshot(func(ctx context.Context) ([]string, error) {
		fetches.Add(1)
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return []string{"a"}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := snapshot.Get(ctx)
		first <- err
	}()
	<-started

	type outcome struct {
		records []string
		err     error
	}
	second := make(chan outcome, 1)
	go func() {
		records, err := snapshot.Get(context.Background())
		second <- outcome{records: records, err: err}
	}()

	cancel()
	if err := <-first; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected the canceled caller to stop waiting, got %v", err)
	}
	close(release)

	got := <-second
	if got.err != nil || !reflect.DeepEqual(got.records, []string{"a"}) {
		t.Fatalf("expected the waiting caller to receive the records, got %v %v", got.records, got.err)
	}
	if fetches.Load() != 1 {
		t.Fatalf("expected one shared fetch, got %d", fetches.Load())
	}
}

func TestSnapshotDoesNotCacheFailures(t *testing.T) {
	t.Parallel()

	calls := 0
	snapshot := NewSnapshot(func(context.Context) ([]int, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("unavailable")
		}
		return []int{1}, nil
	})

	if _, err := snapshot.Get(context.Background()); err == nil {
		t.Fatal("expected first fetch to fail")
	}
	records, err := snapshot.Get(context.Background())
	if err != nil || len(records) != 1 {
		t.Fatalf("expected retry to succeed, got %v %v", records, err)
	}
}

func TestSessionEditsStayLocalUntilCommit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	srv := memory.NewServer(memory.Seed{Repositories: []resource.Repository{
		{URL: "A", Enabled: true},
		{URL: "B", Enabled: false, Protected: true},
	}})

	var refreshed []resource.Repository
	s := newRepositorySession(t, srv, OnRefresh(func(records []resource.Repository) {
		refreshed = records
	}))

	if changed, err := s.HasChanges(); err != nil || changed {
		t.Fatalf("expected fresh session without changes, got %t %v", changed, err)
	}
	if err := SetEnabled(s, "A", false); err != nil {
		t.Fatalf("SetEnabled returned error: %v", err)
	}
	if err := SetEnabled(s, "B", true); !faults.IsCategory(err, faults.PreconditionError) {
		t.Fatalf("expected protected repository to refuse edit, got %v", err)
	}
	if err := s.Add(resource.Repository{URL: "C", Enabled: true}); err != nil {
		t.Fatalf("Add returned error: %v", err)
	}
	if err := s.Add(resource.Repository{URL: "C"}); !faults.IsCategory(err, faults.ValidationError) {
		t.Fatalf("expected duplicate add to fail, got %v", err)
	}
	if err := s.Remove("B"); err != nil {
		t.Fatalf("Remove returned error: %v", err)
	}

	remote, _ := srv.ListRepositories(ctx)
	if !remote[0].Enabled || len(remote) != 2 {
		t.Fatalf("expected no remote effect before commit, got %#v", remote)
	}

	steps, err := s.Steps()
	if err != nil {
		t.Fatalf("Steps returned error: %v", err)
	}
	var rendered []string
	for _, step := range steps {
		rendered = append(rendered, step.String())
	}
	want := []string{"update repositories A", "add repositories C"}
	if !reflect.DeepEqual(rendered, want) {
		t.Fatalf("unexpected steps %v", rendered)
	}

	result, err := s.Commit(ctx)
	if err != nil {
		t.Fatalf("Commit returned error: %v", err)
	}
	if result.Status != reconciler.StatusSucceeded || result.Attempted != 2 {
		t.Fatalf("unexpected result %#v", result)
	}

	wantRemote := []resource.Repository{
		{URL: "A", Enabled: false},
		{URL: "B", Enabled: false, Protected: true},
		{URL: "C", Enabled: true},
	}
	if !reflect.DeepEqual(refreshed, wantRemote) {
		t.Fatalf("unexpected refreshed snapshot %#v", refreshed)
	}
	if !reflect.DeepEqual(s.Original(), wantRemote) {
		t.Fatalf("expected session to reload from refreshed snapshot, got %#v", s.Original())
	}
	if changed, err := s.HasChanges(); err != nil || changed {
		t.Fatalf("expected no changes after commit, got %t %v", changed, err)
	}
}

func TestSessionRequiresLoad(t *testing.T) {
	t.Parallel()

	srv := memory.NewServer(memory.Seed{})
	s := New[resource.Repository](kinds.NewRepositories(srv), NewSnapshot(srv.ListRepositories))

	if err := s.Add(resource.Repository{URL: "A"}); !faults.IsCategory(err, faults.PreconditionError) {
		t.Fatalf("expected precondition error, got %v", err)
	}
	if _, err := s.Commit(context.Background()); !faults.IsCategory(err, faults.PreconditionError) {
		t.Fatalf("expected precondition error, got %v", err)
	}
}

func TestSessionFreezesEditsDuringCommit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	srv := memory.NewServer(memory.Seed{})
	s := newRepositorySession(t, srv)
	if err := s.Add(resource.Repository{URL: "A"}); err != nil {
		t.Fatalf("Add returned error: %v", err)
	}

	var editErr error
	observer := func(reconciler.Step, error) {
		editErr = s.Add(resource.Repository{URL: "late"})
	}
	if _, err := s.Commit(ctx, reconciler.WithObserver(observer)); err != nil {
		t.Fatalf("Commit returned error: %v", err)
	}
	if !faults.IsCategory(editErr, faults.PreconditionError) {
		t.Fatalf("expected edit during commit to be refused, got %v", editErr)
	}
	if err := s.Add(resource.Repository{URL: "after"}); err != nil {
		t.Fatalf("expected edits to resume after commit, got %v", err)
	}
}

func TestSessionRefreshesAfterPartialFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	srv := memory.NewServer(memory.Seed{Repositories: []resource.Repository{{URL: "A", Enabled: true}}})
	s := newRepositorySession(t, srv)

	if err := s.Remove("A"); err != nil {
		t.Fatalf("Remove returned error: %v", err)
	}
	if err := s.Add(resource.Repository{URL: "B"}); err != nil {
		t.Fatalf("Add returned error: %v", err)
	}
	if err := srv.RemoveRepository(ctx, "A"); err != nil {
		t.Fatalf("RemoveRepository returned error: %v", err)
	}

	result, err := s.Commit(ctx)
	if err != nil {
		t.Fatalf("Commit returned error: %v", err)
	}
	if result.Status != reconciler.StatusFailed || len(result.Failures) != 1 {
		t.Fatalf("expected one failure, got %#v", result)
	}
	if reconciler.FailureCategory(result.Failures[0]) != faults.NotFoundError {
		t.Fatalf("unexpected failure %v", result.Failures[0])
	}
	if got := s.Original(); len(got) != 1 || got[0].URL != "B" {
		t.Fatalf("expected refreshed snapshot to hold B, got %#v", got)
	}
}

func TestRenameLinkAndDesignatePush(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	srv := memory.NewServer(memory.Seed{
		Links:      []resource.Link{{Target: "backend", Name: "API_URL"}},
		Registries: []resource.Registry{{Address: "x", Push: true}, {Address: "y"}},
	})

	links := New[resource.Link](kinds.NewLinks(srv), NewSnapshot(srv.ListLinks))
	if err := links.Load(ctx); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if err := RenameLink(links, "backend", "API_URL", "BACKEND_URL"); err != nil {
		t.Fatalf("RenameLink returned error: %v", err)
	}
	plan, err := links.Plan()
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}
	if len(plan.Update) != 1 || len(plan.Add) != 0 || len(plan.Remove) != 0 {
		t.Fatalf("expected a rename, got %#v", plan)
	}

	registries := New[resource.Registry](kinds.NewRegistries(srv), NewSnapshot(srv.ListRegistries))
	if err := registries.Load(ctx); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if err := DesignatePush(registries, "y", "team"); err != nil {
		t.Fatalf("DesignatePush returned error: %v", err)
	}
	if _, err := registries.Commit(ctx); err != nil {
		t.Fatalf("Commit returned error: %v", err)
	}
	if address, ok := srv.PushRegistry(); !ok || address != "y" {
		t.Fatalf("expected y to be push registry, got %q %t", address, ok)
	}
	for _, registry := range registries.Original() {
		if registry.Push != (registry.Address == "y") {
			t.Fatalf("unexpected push flag on %#v", registry)
		}
	}
}
