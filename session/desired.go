package session

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/crmarques/reconctl/faults"
	"github.com/crmarques/reconctl/reconciler"
	"github.com/crmarques/reconctl/resource"
)

// LinkSpec is a link in a desired-state file. RenamedFrom names the variable a
// fetched link currently has when the file renames it.
type LinkSpec struct {
	Target      string `json:"target" yaml:"target"`
	Name        string `json:"name" yaml:"name"`
	RenamedFrom string `json:"renamed-from,omitempty" yaml:"renamed-from,omitempty"`
}

// Document is a desired-state file. A kind absent from the file is left
// alone; a kind present with an empty list removes every record of it.
type Document struct {
	Links        []LinkSpec            `yaml:"links"`
	Registries   []resource.Registry   `yaml:"registries"`
	Repositories []resource.Repository `yaml:"repositories"`

	present map[resource.Kind]bool
}

// Has reports whether the file declared kind.
func (d Document) Has(kind resource.Kind) bool {
	return d.present[kind]
}

// Kinds lists the declared kinds in apply order.
func (d Document) Kinds() []resource.Kind {
	kinds := make([]resource.Kind, 0, len(d.present))
	for _, kind := range resource.Kinds() {
		if d.present[kind] {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

func ReadDocument(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Document{}, faults.NewNotFoundError(fmt.Sprintf("desired state file %q not found", path), err)
		}
		return Document{}, faults.NewInternalError(fmt.Sprintf("failed to read desired state file %q", path), err)
	}
	return DecodeDocument(bytes.NewReader(data))
}

func DecodeDocument(reader io.Reader) (Document, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return Document{}, faults.NewInternalError("failed to read desired state", err)
	}

	var document Document
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&document); err != nil {
		if errors.Is(err, io.EOF) {
			return Document{present: map[resource.Kind]bool{}}, nil
		}
		return Document{}, faults.NewValidationError("invalid desired state", err)
	}

	var keys map[string]yaml.Node
	if err := yaml.Unmarshal(data, &keys); err != nil {
		return Document{}, faults.NewValidationError("invalid desired state", err)
	}
	document.present = make(map[resource.Kind]bool, len(keys))
	for key := range keys {
		if kind, ok := resource.ParseKind(key); ok {
			document.present[kind] = true
		}
	}
	return document, nil
}

// BindLinks builds a links working set. An entry binds to the fetched link it
// renames, or to the fetched link with the same target and name.
func BindLinks(original []resource.Link, specs []LinkSpec) ([]reconciler.Entry[resource.Link], error) {
	index := make(map[string]int, len(original))
	for idx, link := range original {
		index[link.Key()] = idx
	}

	entries := make([]reconciler.Entry[resource.Link], 0, len(specs))
	for _, spec := range specs {
		value := resource.Link{Target: strings.TrimSpace(spec.Target), Name: strings.TrimSpace(spec.Name)}

		if from := strings.TrimSpace(spec.RenamedFrom); from != "" {
			idx, ok := index[resource.LinkKey(value.Target, from)]
			if !ok {
				return nil, faults.NewValidationError(
					fmt.Sprintf("link %s is renamed from %q, which does not exist", value.Key(), from),
					nil,
				)
			}
			entries = append(entries, reconciler.Entry[resource.Link]{Original: &original[idx], Value: value})
			continue
		}

		if idx, ok := index[value.Key()]; ok {
			entries = append(entries, reconciler.Backed(&original[idx]))
			continue
		}
		entries = append(entries, reconciler.New(value))
	}
	return entries, nil
}

// BindRegistries builds a registries working set matched by address. A
// fetched registry keeps its username when the file omits one.
func BindRegistries(original []resource.Registry, specs []resource.Registry) ([]reconciler.Entry[resource.Registry], error) {
	index := make(map[string]int, len(original))
	for idx, registry := range original {
		index[registry.Key()] = idx
	}

	entries := make([]reconciler.Entry[resource.Registry], 0, len(specs))
	for _, spec := range specs {
		spec.Address = strings.TrimSpace(spec.Address)
		idx, ok := index[spec.Key()]
		if !ok {
			entries = append(entries, reconciler.New(spec))
			continue
		}
		if spec.Username == "" {
			spec.Username = original[idx].Username
		}
		entries = append(entries, reconciler.Entry[resource.Registry]{Original: &original[idx], Value: spec})
	}
	return entries, nil
}

// BindRepositories builds a repositories working set matched by URL.
// Protected repositories are server-owned: they are kept whether or not the
// file lists them, and the file cannot change them.
func BindRepositories(original []resource.Repository, specs []resource.Repository) ([]reconciler.Entry[resource.Repository], error) {
	index := make(map[string]int, len(original))
	for idx, repository := range original {
		index[repository.Key()] = idx
	}

	bound := make(map[int]bool, len(specs))
	entries := make([]reconciler.Entry[resource.Repository], 0, len(specs))
	for _, spec := range specs {
		spec.URL = strings.TrimSpace(spec.URL)
		idx, ok := index[spec.Key()]
		if !ok {
			entries = append(entries, reconciler.New(spec))
			continue
		}
		bound[idx] = true
		if original[idx].Protected {
			entries = append(entries, reconciler.Backed(&original[idx]))
			continue
		}
		spec.Protected = false
		if spec.Name == "" {
			spec.Name = original[idx].Name
		}
		entries = append(entries, reconciler.Entry[resource.Repository]{Original: &original[idx], Value: spec})
	}

	for idx := range original {
		if original[idx].Protected && !bound[idx] {
			entries = append(entries, reconciler.Backed(&original[idx]))
		}
	}
	return entries, nil
}
