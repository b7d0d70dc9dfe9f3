package cli

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/crmarques/reconctl/faults"
	"github.com/crmarques/reconctl/internal/cli/testkit"
	configfile "github.com/crmarques/reconctl/internal/providers/config/file"
	memoryserver "github.com/crmarques/reconctl/internal/providers/server/memory"
	"github.com/crmarques/reconctl/reconciler"
	"github.com/crmarques/reconctl/resource"
)

type fakePrompter struct {
	interactive bool
	answer      bool
	asked       int
}

func (p *fakePrompter) IsInteractive(*cobra.Command) bool { return p.interactive }

func (p *fakePrompter) Confirm(*cobra.Command, string, bool) (bool, error) {
	p.asked++
	return p.answer, nil
}

type recordingJournal struct {
	mu   sync.Mutex
	runs []reconciler.Result
}

func (j *recordingJournal) Record(_ context.Context, result reconciler.Result) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.runs = append(j.runs, result)
	return nil
}

func (j *recordingJournal) Recent(_ context.Context, limit int) ([]reconciler.Result, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	runs := make([]reconciler.Result, 0, len(j.runs))
	for idx := len(j.runs) - 1; idx >= 0 && len(runs) < limit; idx-- {
		runs = append(runs, j.runs[idx])
	}
	return runs, nil
}

func (j *recordingJournal) Close() error { return nil }

func (j *recordingJournal) kinds() []resource.Kind {
	j.mu.Lock()
	defer j.mu.Unlock()
	kinds := make([]resource.Kind, 0, len(j.runs))
	for _, run := range j.runs {
		kinds = append(kinds, run.Kind)
	}
	return kinds
}

type fakeTelemetry struct {
	metrics *reconciler.Metrics
	flushes int
	calls   int
}

func newFakeTelemetry(t *testing.T) *fakeTelemetry {
	t.Helper()

	metrics, err := reconciler.NewMetrics(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewMetrics returned error: %v", err)
	}
	return &fakeTelemetry{metrics: metrics}
}

func (f *fakeTelemetry) Metrics() *reconciler.Metrics { return f.metrics }

func (f *fakeTelemetry) Tracer() trace.Tracer { return noop.NewTracerProvider().Tracer("test") }

func (f *fakeTelemetry) Observer() func(reconciler.Step, error) {
	return func(reconciler.Step, error) { f.calls++ }
}

func (f *fakeTelemetry) Flush(context.Context) error {
	f.flushes++
	return nil
}

// failingServer rejects adding one link name.
type failingServer struct {
	*memoryserver.Server
	rejectName string
}

func (s failingServer) AddLink(ctx context.Context, link resource.Link) error {
	if link.Name == s.rejectName {
		return faults.NewConflictError("link "+link.Name+" is reserved", nil)
	}
	return s.Server.AddLink(ctx, link)
}

func seededServer() *memoryserver.Server {
	return memoryserver.NewServer(memoryserver.Seed{
		Links: []resource.Link{
			{Target: "backend", Name: "API_URL"},
			{Target: "billing", Name: "BILLING_URL"},
		},
		Registries: []resource.Registry{
			{Address: "old.io", Username: "ci", Push: true, Namespace: "team"},
		},
		Repositories: []resource.Repository{
			{Name: "builtin", URL: "https://git.example.com/builtin.git", Enabled: true, Protected: true},
			{Name: "community", URL: "https://git.example.com/community.git", Enabled: false},
		},
	})
}

func writeDesired(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "desired.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write desired state: %v", err)
	}
	return path
}

const noOpLinks = `
links:
  - target: backend
    name: API_URL
  - target: billing
    name: BILLING_URL
`

const convergedState = `
registries:
  - address: new.io
    username: bot
    password: s3cret
    push: true
    namespace: apps
repositories:
  - url: https://git.example.com/community.git
    enabled: true
  - name: extra
    url: https://git.example.com/extra.git
    enabled: true
links:
  - target: backend
    name: BACKEND_URL
    renamed-from: API_URL
  - target: search
    name: SEARCH_URL
`

func TestPlanPrintsNoChangesForMatchingState(t *testing.T) {
	t.Parallel()

	srv := seededServer()
	root := newRootCommand(Dependencies{Server: srv}, &fakePrompter{})

	output, err := testkit.ExecuteCommandForTest(root, "", "links", "plan", "-f", writeDesired(t, noOpLinks))
	if err != nil {
		t.Fatalf("plan returned error: %v", err)
	}
	if strings.TrimSpace(output) != "no changes" {
		t.Fatalf("expected no changes, got %q", output)
	}
}

func TestPlanReadsDesiredStateFromStdin(t *testing.T) {
	t.Parallel()

	root := newRootCommand(Dependencies{Server: seededServer()}, &fakePrompter{})
	output, err := testkit.ExecuteCommandForTest(root, "links:\n  - target: backend\n    name: API_URL\n", "links", "plan", "-f", "-")
	if err != nil {
		t.Fatalf("plan returned error: %v", err)
	}
	if !strings.Contains(output, "links: 1 to remove, 0 to update, 0 to add, 1 unchanged") {
		t.Fatalf("unexpected plan summary %q", output)
	}
	if !strings.Contains(output, "- billing/BILLING_URL") {
		t.Fatalf("expected removal line, got %q", output)
	}
}

func TestPlanCountsDesignationChangesApartFromUpdates(t *testing.T) {
	t.Parallel()

	desired := "registries:\n  - address: old.io\n    username: ci\n    push: true\n    namespace: other\n"
	root := newRootCommand(Dependencies{Server: seededServer()}, &fakePrompter{})
	output, err := testkit.ExecuteCommandForTest(root, "", "registries", "plan", "-f", writeDesired(t, desired))
	if err != nil {
		t.Fatalf("plan returned error: %v", err)
	}
	if !strings.Contains(output, "registries: 0 to remove, 0 to update, 0 to add, 0 unchanged, 1 set-push") {
		t.Fatalf("unexpected plan summary %q", output)
	}
}

func TestApplyConvergesMemoryServer(t *testing.T) {
	t.Parallel()

	srv := seededServer()
	journal := &recordingJournal{}
	telemetry := newFakeTelemetry(t)
	root := newRootCommand(Dependencies{Server: srv, Journal: journal, Telemetry: telemetry}, &fakePrompter{})
	desired := writeDesired(t, convergedState)

	output, stderr, err := testkit.ExecuteCommandForTestWithStreams(root, "", "apply", "--yes", "-f", desired)
	if err != nil {
		t.Fatalf("apply returned error: %v\nstderr: %s", err, stderr)
	}
	if !strings.Contains(output, "registries: 1 to remove") {
		t.Fatalf("expected registries plan in output, got %q", output)
	}
	if !strings.Contains(stderr, "links: 3/3") {
		t.Fatalf("expected progress on stderr, got %q", stderr)
	}

	ctx := context.Background()
	links, _ := srv.ListLinks(ctx)
	wantLinks := []resource.Link{{Target: "backend", Name: "BACKEND_URL"}, {Target: "search", Name: "SEARCH_URL"}}
	if !reflect.DeepEqual(links, wantLinks) {
		t.Fatalf("unexpected links %#v", links)
	}
	registries, _ := srv.ListRegistries(ctx)
	wantRegistries := []resource.Registry{{Address: "new.io", Username: "bot", Push: true, Namespace: "apps"}}
	if !reflect.DeepEqual(registries, wantRegistries) {
		t.Fatalf("unexpected registries %#v", registries)
	}
	repositories, _ := srv.ListRepositories(ctx)
	if len(repositories) != 3 {
		t.Fatalf("expected protected, community and extra repositories, got %#v", repositories)
	}
	for _, repository := range repositories {
		if !repository.Enabled {
			t.Fatalf("expected every repository enabled, got %#v", repository)
		}
	}

	if got, want := journal.kinds(), []resource.Kind{resource.KindRegistries, resource.KindRepositories, resource.KindLinks}; !reflect.DeepEqual(got, want) {
		t.Fatalf("expected runs in apply order %v, got %v", want, got)
	}
	if telemetry.flushes != 1 {
		t.Fatalf("expected one telemetry flush, got %d", telemetry.flushes)
	}
	if telemetry.calls == 0 {
		t.Fatal("expected remote calls to be observed")
	}

	root = newRootCommand(Dependencies{Server: srv}, &fakePrompter{})
	output, err = testkit.ExecuteCommandForTest(root, "", "plan", "-f", writeDesired(t, strings.ReplaceAll(convergedState, "    renamed-from: API_URL\n", "")))
	if err != nil {
		t.Fatalf("plan returned error: %v", err)
	}
	if !strings.Contains(output, "registries: 0 to remove, 1 to update") {
		t.Fatalf("expected only the credential re-send, got %q", output)
	}
}

func TestApplyRequiresConfirmation(t *testing.T) {
	t.Parallel()

	desired := writeDesired(t, "links: []\n")

	t.Run("non_interactive", func(t *testing.T) {
		t.Parallel()

		srv := seededServer()
		root := newRootCommand(Dependencies{Server: srv}, &fakePrompter{})
		_, err := testkit.ExecuteCommandForTest(root, "", "links", "apply", "-f", desired)
		if !faults.IsCategory(err, faults.ValidationError) {
			t.Fatalf("expected validation error, got %v", err)
		}
		if links, _ := srv.ListLinks(context.Background()); len(links) != 2 {
			t.Fatalf("expected links untouched, got %#v", links)
		}
	})

	t.Run("declined", func(t *testing.T) {
		t.Parallel()

		srv := seededServer()
		prompter := &fakePrompter{interactive: true, answer: false}
		root := newRootCommand(Dependencies{Server: srv}, prompter)
		_, stderr, err := testkit.ExecuteCommandForTestWithStreams(root, "", "links", "apply", "-f", desired)
		if err != nil {
			t.Fatalf("apply returned error: %v", err)
		}
		if prompter.asked != 1 || !strings.Contains(stderr, "apply aborted") {
			t.Fatalf("expected one declined prompt, asked=%d stderr=%q", prompter.asked, stderr)
		}
		if links, _ := srv.ListLinks(context.Background()); len(links) != 2 {
			t.Fatalf("expected links untouched, got %#v", links)
		}
	})

	t.Run("confirmed", func(t *testing.T) {
		t.Parallel()

		srv := seededServer()
		root := newRootCommand(Dependencies{Server: srv}, &fakePrompter{interactive: true, answer: true})
		if _, err := testkit.ExecuteCommandForTest(root, "", "links", "apply", "-f", desired); err != nil {
			t.Fatalf("apply returned error: %v", err)
		}
		if links, _ := srv.ListLinks(context.Background()); len(links) != 0 {
			t.Fatalf("expected every link removed, got %#v", links)
		}
	})
}

func TestApplyPartialFailure(t *testing.T) {
	t.Parallel()

	srv := failingServer{Server: seededServer(), rejectName: "RESERVED"}
	journal := &recordingJournal{}
	root := newRootCommand(Dependencies{Server: srv, Journal: journal}, &fakePrompter{})
	desired := writeDesired(t, `
links:
  - target: backend
    name: RESERVED
  - target: backend
    name: OTHER
`)

	output, err := testkit.ExecuteCommandForTest(root, "", "--output", "json", "links", "apply", "--yes", "-f", desired)
	if !reconciler.IsPartialFailure(err) {
		t.Fatalf("expected partial failure, got %v", err)
	}
	if ExitCodeForError(err) != ExitCodePartialFailure {
		t.Fatalf("expected partial failure exit code, got %d", ExitCodeForError(err))
	}

	jsonStart := strings.Index(output, "[")
	if jsonStart < 0 {
		t.Fatalf("expected json results in output, got %q", output)
	}
	var results []reconciler.Result
	if err := json.Unmarshal([]byte(output[jsonStart:]), &results); err != nil {
		t.Fatalf("failed to decode results: %v", err)
	}
	if len(results) != 1 || results[0].Status != reconciler.StatusFailed || len(results[0].Failures) != 1 {
		t.Fatalf("unexpected results %#v", results)
	}
	if results[0].Failures[0].Identity != "backend/RESERVED" {
		t.Fatalf("unexpected failure %#v", results[0].Failures[0])
	}

	links, _ := srv.ListLinks(context.Background())
	if len(links) != 1 || links[0].Name != "OTHER" {
		t.Fatalf("expected the remaining steps to run, got %#v", links)
	}
	if len(journal.runs) != 1 {
		t.Fatalf("expected the failed run to be recorded, got %d", len(journal.runs))
	}
}

type rejectingProber struct {
	probed []string
}

func (p *rejectingProber) ProbeRepository(_ context.Context, url string) error {
	p.probed = append(p.probed, url)
	return faults.NewNotFoundError("repository "+url+" not found", nil)
}

func TestApplyProbeRejectsUnreachableRepository(t *testing.T) {
	t.Parallel()

	srv := seededServer()
	prober := &rejectingProber{}
	root := newRootCommand(Dependencies{Server: srv, RepositoryProber: prober}, &fakePrompter{})
	desired := writeDesired(t, `
repositories:
  - url: https://git.example.com/community.git
  - url: https://git.example.com/missing.git
    enabled: true
`)

	_, err := testkit.ExecuteCommandForTest(root, "", "repositories", "apply", "--yes", "--probe", "-f", desired)
	if !faults.IsCategory(err, faults.NotFoundError) {
		t.Fatalf("expected not found error from probe, got %v", err)
	}
	if !reflect.DeepEqual(prober.probed, []string{"https://git.example.com/missing.git"}) {
		t.Fatalf("expected only the new repository probed, got %v", prober.probed)
	}
	if repositories, _ := srv.ListRepositories(context.Background()); len(repositories) != 2 {
		t.Fatalf("expected nothing applied after failed probe, got %#v", repositories)
	}
}

func TestEditCommands(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name  string
		args  []string
		check func(t *testing.T, srv *memoryserver.Server)
	}{
		{
			name: "rename_link",
			args: []string{"links", "rename", "backend", "API_URL", "BACKEND_URL", "--yes"},
			check: func(t *testing.T, srv *memoryserver.Server) {
				links, _ := srv.ListLinks(context.Background())
				if links[0].Name != "BACKEND_URL" {
					t.Fatalf("expected renamed link, got %#v", links)
				}
			},
		},
		{
			name: "enable_repository",
			args: []string{"repositories", "enable", "https://git.example.com/community.git", "--yes"},
			check: func(t *testing.T, srv *memoryserver.Server) {
				repositories, _ := srv.ListRepositories(context.Background())
				for _, repository := range repositories {
					if !repository.Enabled {
						t.Fatalf("expected repository enabled, got %#v", repository)
					}
				}
			},
		},
		{
			name: "clear_push",
			args: []string{"registries", "clear-push", "--yes"},
			check: func(t *testing.T, srv *memoryserver.Server) {
				if address, ok := srv.PushRegistry(); ok {
					t.Fatalf("expected no push registry, got %q", address)
				}
			},
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			srv := seededServer()
			root := newRootCommand(Dependencies{Server: srv}, &fakePrompter{})
			if _, err := testkit.ExecuteCommandForTest(root, "", testCase.args...); err != nil {
				t.Fatalf("command returned error: %v", err)
			}
			testCase.check(t, srv)
		})
	}
}

func TestDisableProtectedRepositoryIsRefused(t *testing.T) {
	t.Parallel()

	root := newRootCommand(Dependencies{Server: seededServer()}, &fakePrompter{})
	_, err := testkit.ExecuteCommandForTest(root, "", "repositories", "disable", "https://git.example.com/builtin.git", "--yes")
	if !faults.IsCategory(err, faults.PreconditionError) {
		t.Fatalf("expected precondition error, got %v", err)
	}
}

func TestListAndStatus(t *testing.T) {
	t.Parallel()

	srv := seededServer()

	root := newRootCommand(Dependencies{Server: srv}, &fakePrompter{})
	output, err := testkit.ExecuteCommandForTest(root, "", "--output", "json", "registries", "list")
	if err != nil {
		t.Fatalf("list returned error: %v", err)
	}
	var registries []resource.Registry
	if err := json.Unmarshal([]byte(output), &registries); err != nil {
		t.Fatalf("failed to decode registries: %v", err)
	}
	if len(registries) != 1 || !registries[0].Push {
		t.Fatalf("unexpected registries %#v", registries)
	}

	root = newRootCommand(Dependencies{Server: srv}, &fakePrompter{})
	output, err = testkit.ExecuteCommandForTest(root, "", "links", "list")
	if err != nil {
		t.Fatalf("list returned error: %v", err)
	}
	if !strings.HasPrefix(output, "TARGET") || !strings.Contains(output, "BILLING_URL") {
		t.Fatalf("unexpected table %q", output)
	}

	root = newRootCommand(Dependencies{Server: srv}, &fakePrompter{})
	output, err = testkit.ExecuteCommandForTest(root, "", "status")
	if err != nil {
		t.Fatalf("status returned error: %v", err)
	}
	for _, want := range []string{"registries    1", "repositories  2", "links         2", "push registry old.io"} {
		if !strings.Contains(output, want) {
			t.Fatalf("expected %q in status output %q", want, output)
		}
	}
}

func TestHistory(t *testing.T) {
	t.Parallel()

	journal := &recordingJournal{}
	for _, kind := range []resource.Kind{resource.KindRegistries, resource.KindLinks} {
		_ = journal.Record(context.Background(), reconciler.Result{RunID: "run-" + string(kind), Kind: kind, Status: reconciler.StatusSucceeded})
	}

	root := newRootCommand(Dependencies{Journal: journal}, &fakePrompter{})
	output, err := testkit.ExecuteCommandForTest(root, "", "history", "--limit", "1")
	if err != nil {
		t.Fatalf("history returned error: %v", err)
	}
	if !strings.Contains(output, "run-links") || strings.Contains(output, "run-registries") {
		t.Fatalf("expected only the newest run, got %q", output)
	}

	root = newRootCommand(Dependencies{Journal: journal}, &fakePrompter{})
	if _, err := testkit.ExecuteCommandForTest(root, "", "history", "--limit", "0"); !faults.IsCategory(err, faults.ValidationError) {
		t.Fatalf("expected validation error for zero limit, got %v", err)
	}
}

func TestContextCommands(t *testing.T) {
	t.Parallel()

	catalog := filepath.Join(t.TempDir(), "contexts.yaml")
	content := "contexts:\n  - name: dev\n    server:\n      memory: {}\n  - name: prod\n    server:\n      memory: {}\ncurrent-ctx: dev\n"
	if err := os.WriteFile(catalog, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write catalog: %v", err)
	}
	deps := Dependencies{Contexts: configfile.NewFileContextService(catalog)}

	output, err := testkit.ExecuteCommandForTest(newRootCommand(deps, &fakePrompter{}), "", "context", "list")
	if err != nil {
		t.Fatalf("context list returned error: %v", err)
	}
	if output != "* dev\n  prod\n" {
		t.Fatalf("unexpected context list %q", output)
	}

	if _, err := testkit.ExecuteCommandForTest(newRootCommand(deps, &fakePrompter{}), "", "context", "use", "prod"); err != nil {
		t.Fatalf("context use returned error: %v", err)
	}
	output, err = testkit.ExecuteCommandForTest(newRootCommand(deps, &fakePrompter{}), "", "context", "current", "--output", "text")
	if err != nil {
		t.Fatalf("context current returned error: %v", err)
	}
	if strings.TrimSpace(output) != "prod" {
		t.Fatalf("expected prod to be current, got %q", output)
	}

	_, err = testkit.ExecuteCommandForTest(newRootCommand(deps, &fakePrompter{}), "", "context", "use", "staging")
	if !faults.IsCategory(err, faults.NotFoundError) {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestCommandsWithoutServerFailValidation(t *testing.T) {
	t.Parallel()

	_, err := testkit.ExecuteCommandForTest(newRootCommand(Dependencies{}, &fakePrompter{}), "", "links", "list")
	if !faults.IsCategory(err, faults.ValidationError) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if errors.Is(err, reconciler.ErrCanceled) {
		t.Fatal("unexpected cancellation")
	}
}

func TestRegisteredCommandPaths(t *testing.T) {
	t.Parallel()

	root := NewRootCommand(Dependencies{})
	registered := map[string]bool{}
	for _, path := range testkit.RegisteredPaths(root, nil) {
		registered[testkit.JoinPath(path)] = true
	}
	for _, want := range []string{
		"links list", "links plan", "links apply", "links rename",
		"registries list", "registries plan", "registries apply", "registries push", "registries clear-push",
		"repositories list", "repositories plan", "repositories apply", "repositories enable", "repositories disable",
		"apply", "plan", "status", "history", "context list", "context current", "context use", "version",
	} {
		if !registered[want] {
			t.Fatalf("expected command %q to be registered", want)
		}
	}
}
