package resource

import "strings"

type Kind string

const (
	KindLinks        Kind = "links"
	KindRegistries   Kind = "registries"
	KindRepositories Kind = "repositories"
)

// Kinds lists every kind in the order a full apply visits them.
func Kinds() []Kind {
	return []Kind{KindRegistries, KindRepositories, KindLinks}
}

func ParseKind(value string) (Kind, bool) {
	switch Kind(strings.ToLower(strings.TrimSpace(value))) {
	case KindLinks, "link":
		return KindLinks, true
	case KindRegistries, "registry":
		return KindRegistries, true
	case KindRepositories, "repository", "repos":
		return KindRepositories, true
	default:
		return "", false
	}
}

// Link binds the source project to a target project through an environment
// variable. Target is fixed once the link exists; Name may be renamed.
type Link struct {
	Target string `json:"target" yaml:"target"`
	Name   string `json:"name" yaml:"name"`
}

func (l Link) Key() string {
	return LinkKey(l.Target, l.Name)
}

func LinkKey(target string, name string) string {
	return target + "/" + name
}

// Registry is a container-image registry. Password is never part of a fetched
// snapshot; it is set only when the credentials were entered locally.
type Registry struct {
	Address   string `json:"address" yaml:"address"`
	Username  string `json:"username,omitempty" yaml:"username,omitempty"`
	Password  string `json:"password,omitempty" yaml:"password,omitempty"`
	Push      bool   `json:"push,omitempty" yaml:"push,omitempty"`
	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty"`
}

func (r Registry) Key() string {
	return r.Address
}

// Repository is a template or project repository. Protected repositories are
// marked by the server and cannot be removed or edited.
type Repository struct {
	Name      string `json:"name,omitempty" yaml:"name,omitempty"`
	URL       string `json:"url" yaml:"url"`
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Protected bool   `json:"protected,omitempty" yaml:"protected,omitempty"`
}

func (r Repository) Key() string {
	return r.URL
}
