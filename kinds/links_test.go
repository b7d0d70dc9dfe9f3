package kinds

import (
	"context"
	"reflect"
	"testing"

	"github.com/crmarques/reconctl/faults"
	"github.com/crmarques/reconctl/internal/providers/server/memory"
	"github.com/crmarques/reconctl/reconciler"
	"github.com/crmarques/reconctl/resource"
)

func TestLinksRenameIsOneCall(t *testing.T) {
	t.Parallel()

	original := []resource.Link{
		{Target: "backend", Name: "API_URL"},
		{Target: "cache", Name: "REDIS_URL"},
	}
	workingSet := reconciler.EntriesFor(original)
	workingSet[0].Value.Name = "BACKEND_URL"
	workingSet = append(workingSet[:1], reconciler.New(resource.Link{Target: "queue", Name: "AMQP_URL"}))

	server := newRecordingServer()
	result, err := reconciler.Apply[resource.Link](context.Background(), NewLinks(server), original, workingSet)
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if result.Err() != nil {
		t.Fatalf("unexpected failure %v", result.Err())
	}

	want := []string{
		"remove-link cache/REDIS_URL",
		"rename-link backend/API_URL -> BACKEND_URL",
		"add-link queue/AMQP_URL",
	}
	if got := server.recorded(); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected calls %#v", got)
	}
}

func TestLinksRenamesConverge(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		original []resource.Link
		renames  map[string]string
		want     []resource.Link
		calls    []string
	}{
		{
			name:     "chain",
			original: []resource.Link{{Target: "t", Name: "A"}, {Target: "t", Name: "B"}},
			renames:  map[string]string{"A": "B", "B": "C"},
			want:     []resource.Link{{Target: "t", Name: "B"}, {Target: "t", Name: "C"}},
			calls:    []string{"rename-link t/B -> C", "rename-link t/A -> B"},
		},
		{
			name:     "swap",
			original: []resource.Link{{Target: "t", Name: "A"}, {Target: "t", Name: "B"}},
			renames:  map[string]string{"A": "B", "B": "A"},
			want:     []resource.Link{{Target: "t", Name: "A"}, {Target: "t", Name: "B"}},
			calls: []string{
				"rename-link t/A -> A_RECONCTL_SWAP",
				"rename-link t/B -> A",
				"rename-link t/A_RECONCTL_SWAP -> B",
			},
		},
		{
			name: "rotation_with_taken_temporary_name",
			original: []resource.Link{
				{Target: "t", Name: "A"},
				{Target: "t", Name: "A_RECONCTL_SWAP"},
				{Target: "t", Name: "B"},
				{Target: "t", Name: "C"},
			},
			renames: map[string]string{"A": "B", "B": "C", "C": "A"},
			want: []resource.Link{
				{Target: "t", Name: "A"},
				{Target: "t", Name: "A_RECONCTL_SWAP"},
				{Target: "t", Name: "B"},
				{Target: "t", Name: "C"},
			},
			calls: []string{
				"rename-link t/A -> A_RECONCTL_SWAP_1",
				"rename-link t/C -> A",
				"rename-link t/B -> C",
				"rename-link t/A_RECONCTL_SWAP_1 -> B",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			workingSet := reconciler.EntriesFor(tt.original)
			for i := range workingSet {
				if name, ok := tt.renames[workingSet[i].Value.Name]; ok {
					workingSet[i].Value.Name = name
				}
			}

			store := memory.NewServer(memory.Seed{Links: tt.original})
			recorder := newRecordingServer()
			recorder.links = store

			result, err := reconciler.Apply[resource.Link](context.Background(), NewLinks(recorder), tt.original, workingSet)
			if err != nil {
				t.Fatalf("Apply returned error: %v", err)
			}
			if result.Err() != nil {
				t.Fatalf("unexpected failure %v", result.Err())
			}
			if got := recorder.recorded(); !reflect.DeepEqual(got, tt.calls) {
				t.Fatalf("unexpected calls %#v", got)
			}

			got, err := store.ListLinks(context.Background())
			if err != nil {
				t.Fatalf("ListLinks returned error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("expected links %#v, got %#v", tt.want, got)
			}
		})
	}
}

func TestLinksValidation(t *testing.T) {
	t.Parallel()

	original := []resource.Link{{Target: "backend", Name: "API_URL"}}

	tests := []struct {
		name  string
		entry reconciler.Entry[resource.Link]
	}{
		{
			name:  "empty_name",
			entry: reconciler.New(resource.Link{Target: "backend"}),
		},
		{
			name:  "empty_target",
			entry: reconciler.New(resource.Link{Name: "X"}),
		},
		{
			name:  "moved_target",
			entry: reconciler.Entry[resource.Link]{Original: &original[0], Value: resource.Link{Target: "frontend", Name: "API_URL"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := reconciler.Diff[resource.Link](NewLinks(newRecordingServer()), original, []reconciler.Entry[resource.Link]{tt.entry})
			if !faults.IsCategory(err, faults.ValidationError) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}
