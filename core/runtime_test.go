package core

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/crmarques/reconctl/config"
	"github.com/crmarques/reconctl/faults"
	"github.com/crmarques/reconctl/journal"
	"github.com/crmarques/reconctl/reconciler"
	"github.com/crmarques/reconctl/resource"
	"github.com/crmarques/reconctl/server"
	"github.com/crmarques/reconctl/session"
)

func writeFile(t *testing.T, name string, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestNewRuntimeMemoryContext(t *testing.T) {
	t.Parallel()

	seed := writeFile(t, "seed.yaml", `
registries:
  - address: registry.example.com
    username: ci
repositories:
  - url: https://git.example.com/templates.git
    enabled: true
    protected: true
`)
	catalog := writeFile(t, "contexts.yaml", `
contexts:
  - name: local
    server:
      memory:
        seed-file: `+seed+`
current-ctx: local
`)

	runtime, err := NewRuntime(context.Background(), BootstrapConfig{ContextCatalogPath: catalog}, config.ContextSelection{})
	if err != nil {
		t.Fatalf("NewRuntime returned error: %v", err)
	}
	t.Cleanup(func() {
		if err := runtime.Close(context.Background()); err != nil {
			t.Errorf("Close returned error: %v", err)
		}
	})

	if runtime.Context.Name != "local" {
		t.Fatalf("expected context local, got %q", runtime.Context.Name)
	}
	if _, ok := runtime.Journal.(journal.Discard); !ok {
		t.Fatalf("expected discarding journal without journal config, got %T", runtime.Journal)
	}
	if runtime.RepositoryProber != nil || runtime.RegistryProber != nil {
		t.Fatal("expected probers to stay disabled")
	}

	snapshots, err := session.LoadAll(context.Background(), runtime.Server)
	if err != nil {
		t.Fatalf("LoadAll returned error: %v", err)
	}
	if snapshots.Count(resource.KindRegistries) != 1 || snapshots.Count(resource.KindRepositories) != 1 {
		t.Fatalf("expected seeded records, got %#v", snapshots)
	}
}

func TestNewRuntimeWiresJournalProbesAndRedis(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	dir := t.TempDir()
	catalog := writeFile(t, "contexts.yaml", `
contexts:
  - name: shared
    server:
      redis:
        address: `+mr.Addr()+`
    links:
      project: storefront
    probe:
      registries: true
    journal:
      path: `+filepath.Join(dir, "journal.db")+`
    telemetry:
      metrics-textfile: `+filepath.Join(dir, "reconctl.prom")+`
current-ctx: shared
`)

	ctx := context.Background()
	runtime, err := NewRuntime(ctx, BootstrapConfig{ContextCatalogPath: catalog}, config.ContextSelection{Name: "shared"})
	if err != nil {
		t.Fatalf("NewRuntime returned error: %v", err)
	}
	defer func() {
		if err := runtime.Close(ctx); err != nil {
			t.Fatalf("Close returned error: %v", err)
		}
	}()

	if runtime.RegistryProber == nil || runtime.RepositoryProber != nil {
		t.Fatalf("expected only the registry prober, got %#v / %#v", runtime.RegistryProber, runtime.RepositoryProber)
	}
	if err := runtime.Server.AddLink(ctx, resource.Link{Target: "billing", Name: "BILLING_URL"}); err != nil {
		t.Fatalf("AddLink returned error: %v", err)
	}
	if !mr.Exists("reconctl:links:storefront") {
		t.Fatalf("expected link hash for project storefront, got keys %v", mr.Keys())
	}

	result := reconciler.Result{RunID: "run-1", Kind: resource.KindLinks, Status: reconciler.StatusSucceeded, Total: 1, Attempted: 1}
	if err := runtime.Journal.Record(ctx, result); err != nil {
		t.Fatalf("Record returned error: %v", err)
	}
	recent, err := runtime.Journal.Recent(ctx, 5)
	if err != nil || len(recent) != 1 {
		t.Fatalf("expected recorded run, got %v / %v", recent, err)
	}

	if err := runtime.Telemetry.Flush(ctx); err != nil {
		t.Fatalf("Flush returned error: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "reconctl.prom"))
	if err != nil {
		t.Fatalf("expected metrics textfile: %v", err)
	}
	if !strings.Contains(string(data), "go_goroutines") {
		t.Fatalf("expected go collector metrics in textfile, got %q", string(data))
	}
}

func TestNewRuntimeErrors(t *testing.T) {
	t.Parallel()

	missingSeed := writeFile(t, "contexts.yaml", `
contexts:
  - name: local
    server:
      memory:
        seed-file: /nonexistent/seed.yaml
current-ctx: local
`)
	badSeedFile := writeFile(t, "seed.yaml", "registries:\n  - address: a.io\n    colour: red\n")
	badSeed := writeFile(t, "contexts.yaml", `
contexts:
  - name: local
    server:
      memory:
        seed-file: `+badSeedFile+`
current-ctx: local
`)

	tests := []struct {
		name      string
		catalog   string
		selection config.ContextSelection
		category  faults.ErrorCategory
	}{
		{name: "unknown_context", catalog: missingSeed, selection: config.ContextSelection{Name: "prod"}, category: faults.NotFoundError},
		{name: "missing_seed_file", catalog: missingSeed, category: faults.NotFoundError},
		{name: "unknown_seed_field", catalog: badSeed, category: faults.ValidationError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := NewRuntime(context.Background(), BootstrapConfig{ContextCatalogPath: tt.catalog}, tt.selection)
			if !faults.IsCategory(err, tt.category) {
				t.Fatalf("expected %s, got %v", tt.category, err)
			}
		})
	}
}

func TestBuildServerRegistriesOverride(t *testing.T) {
	t.Parallel()

	kubeconfig := writeFile(t, "kubeconfig", `
apiVersion: v1
kind: Config
clusters:
  - name: test
    cluster:
      server: https://127.0.0.1:6443
contexts:
  - name: test
    context:
      cluster: test
      user: test
current-context: test
users:
  - name: test
    user:
      token: abc
`)

	srv, closers, err := buildServer(config.Context{
		Name:       "mixed",
		Server:     config.Server{Memory: &config.MemoryServer{}},
		Registries: &config.KubeRegistries{Kubeconfig: kubeconfig, Namespace: "platform"},
	})
	if err != nil {
		t.Fatalf("buildServer returned error: %v", err)
	}
	if len(closers) != 0 {
		t.Fatalf("expected no closers for memory server, got %d", len(closers))
	}
	composite, ok := srv.(server.Composite)
	if !ok {
		t.Fatalf("expected composite server, got %T", srv)
	}
	if any(composite.LinkService) != any(composite.RepositoryService) {
		t.Fatal("expected links and repositories to share the base server")
	}
}

func TestBuildServerRequiresBackend(t *testing.T) {
	t.Parallel()

	_, _, err := buildServer(config.Context{Name: "empty"})
	if !faults.IsCategory(err, faults.ValidationError) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
