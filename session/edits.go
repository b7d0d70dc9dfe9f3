package session

import (
	"fmt"
	"strings"

	"github.com/crmarques/reconctl/faults"
	"github.com/crmarques/reconctl/reconciler"
	"github.com/crmarques/reconctl/resource"
)

// RenameLink changes the environment variable name of a link in the working
// set. Renaming a fetched link is sent as one rename call.
func RenameLink(s *Session[resource.Link], target string, oldName string, newName string) error {
	if strings.TrimSpace(newName) == "" {
		return faults.NewValidationError("link name must not be empty", nil)
	}
	return s.Update(resource.LinkKey(target, oldName), func(link *resource.Link) error {
		link.Name = newName
		return nil
	})
}

// SetEnabled toggles a repository. Protected repositories refuse the edit.
func SetEnabled(s *Session[resource.Repository], url string, enabled bool) error {
	return s.edit(func(_ []resource.Repository, entries []reconciler.Entry[resource.Repository]) ([]reconciler.Entry[resource.Repository], error) {
		idx := indexOf(s.kind, entries, url)
		if idx < 0 {
			return nil, notInWorkingSet(s.kind, url)
		}
		if entries[idx].Original != nil && entries[idx].Original.Protected {
			return nil, faults.NewTypedError(
				faults.PreconditionError,
				fmt.Sprintf("repository %q is protected", url),
				nil,
			)
		}
		entries[idx].Value.Enabled = enabled
		return entries, nil
	})
}

// DesignatePush marks address as the push registry and unmarks every other
// registry in the working set.
func DesignatePush(s *Session[resource.Registry], address string, namespace string) error {
	return s.edit(func(_ []resource.Registry, entries []reconciler.Entry[resource.Registry]) ([]reconciler.Entry[resource.Registry], error) {
		idx := indexOf(s.kind, entries, address)
		if idx < 0 {
			return nil, notInWorkingSet(s.kind, address)
		}
		for i := range entries {
			entries[i].Value.Push = i == idx
			if i == idx {
				entries[i].Value.Namespace = namespace
			}
		}
		return entries, nil
	})
}

// ClearPush removes the push designation from every registry.
func ClearPush(s *Session[resource.Registry]) error {
	return s.edit(func(_ []resource.Registry, entries []reconciler.Entry[resource.Registry]) ([]reconciler.Entry[resource.Registry], error) {
		for i := range entries {
			entries[i].Value.Push = false
		}
		return entries, nil
	})
}
