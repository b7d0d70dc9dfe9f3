package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/crmarques/reconctl/config"
	"github.com/crmarques/reconctl/faults"
	"github.com/crmarques/reconctl/internal/providers/shared/tlsconfig"
	"github.com/crmarques/reconctl/resource"
	"github.com/crmarques/reconctl/server"
)

var _ server.ResourceServer = (*Server)(nil)

const (
	defaultProject = "default"
	maxTxAttempts  = 5
)

// Server stores every kind in Redis hashes keyed by record identity, with
// JSON-encoded values. The push designation lives in its own string key.
type Server struct {
	client  *goredis.Client
	prefix  string
	project string
}

type Option func(*Server)

// WithLinksProject scopes links to one source project.
func WithLinksProject(project string) Option {
	return func(s *Server) {
		if strings.TrimSpace(project) != "" {
			s.project = strings.TrimSpace(project)
		}
	}
}

func NewServer(cfg config.RedisServer, opts ...Option) (*Server, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, faults.NewValidationError("server.redis.address is required", nil)
	}
	if cfg.DB < 0 {
		return nil, faults.NewValidationError("server.redis.db must not be negative", nil)
	}
	tlsConfig, err := tlsconfig.Build(cfg.TLS, "server.redis")
	if err != nil {
		return nil, err
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:      strings.TrimSpace(cfg.Address),
		Username:  cfg.Username,
		Password:  cfg.Password,
		DB:        cfg.DB,
		TLSConfig: tlsConfig,
	})
	return NewServerWithClient(client, cfg.Prefix, opts...), nil
}

// NewServerWithClient wraps an existing client. An empty prefix falls back to
// config.DefaultRedisPrefix.
func NewServerWithClient(client *goredis.Client, prefix string, opts ...Option) *Server {
	if strings.TrimSpace(prefix) == "" {
		prefix = config.DefaultRedisPrefix
	}
	srv := &Server{client: client, prefix: strings.TrimSpace(prefix), project: defaultProject}
	for _, opt := range opts {
		if opt != nil {
			opt(srv)
		}
	}
	return srv
}

func (s *Server) Close() error {
	return s.client.Close()
}

func (s *Server) Ping(ctx context.Context) error {
	return classify(s.client.Ping(ctx).Err(), "redis ping failed")
}

func (s *Server) linksKey() string        { return s.prefix + ":links:" + s.project }
func (s *Server) registriesKey() string   { return s.prefix + ":registries" }
func (s *Server) pushKey() string         { return s.prefix + ":registries:push" }
func (s *Server) repositoriesKey() string { return s.prefix + ":repositories" }

func (s *Server) ListLinks(ctx context.Context) ([]resource.Link, error) {
	links, err := listHash[resource.Link](ctx, s.client, s.linksKey())
	if err != nil {
		return nil, err
	}
	slices.SortFunc(links, func(a, b resource.Link) int { return strings.Compare(a.Key(), b.Key()) })
	return links, nil
}

func (s *Server) AddLink(ctx context.Context, link resource.Link) error {
	if strings.TrimSpace(link.Target) == "" || strings.TrimSpace(link.Name) == "" {
		return faults.NewValidationError("link target and name are required", nil)
	}
	return s.insert(ctx, s.linksKey(), link.Key(), link, "link")
}

func (s *Server) RemoveLink(ctx context.Context, target string, name string) error {
	key := resource.LinkKey(target, name)
	removed, err := s.client.HDel(ctx, s.linksKey(), key).Result()
	if err != nil {
		return classify(err, "failed to remove link "+key)
	}
	if removed == 0 {
		return faults.NewNotFoundError(fmt.Sprintf("link %s not found", key), nil)
	}
	return nil
}

func (s *Server) RenameLink(ctx context.Context, target string, oldName string, newName string) error {
	hash := s.linksKey()
	oldKey := resource.LinkKey(target, oldName)
	newKey := resource.LinkKey(target, newName)

	return s.watch(ctx, func(tx *goredis.Tx) error {
		var link resource.Link
		if err := getField(ctx, tx, hash, oldKey, &link); err != nil {
			if errors.Is(err, goredis.Nil) {
				return faults.NewNotFoundError(fmt.Sprintf("link %s not found", oldKey), nil)
			}
			return err
		}
		if newKey != oldKey {
			taken, err := tx.HExists(ctx, hash, newKey).Result()
			if err != nil {
				return classify(err, "failed to read link "+newKey)
			}
			if taken {
				return faults.NewConflictError(fmt.Sprintf("link %s already exists", newKey), nil)
			}
		}
		link.Name = newName
		encoded, err := json.Marshal(link)
		if err != nil {
			return faults.NewInternalError("failed to encode link", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HDel(ctx, hash, oldKey)
			pipe.HSet(ctx, hash, newKey, encoded)
			return nil
		})
		return err
	}, hash)
}

// ListRegistries never returns passwords.
func (s *Server) ListRegistries(ctx context.Context) ([]resource.Registry, error) {
	registries, err := listHash[resource.Registry](ctx, s.client, s.registriesKey())
	if err != nil {
		return nil, err
	}
	push, found, err := s.readPush(ctx, s.client)
	if err != nil {
		return nil, err
	}
	for idx := range registries {
		registries[idx].Password = ""
		registries[idx].Push = false
		registries[idx].Namespace = ""
		if found && push.Address == registries[idx].Address {
			registries[idx].Push = true
			registries[idx].Namespace = push.Namespace
		}
	}
	slices.SortFunc(registries, func(a, b resource.Registry) int { return strings.Compare(a.Address, b.Address) })
	return registries, nil
}

func (s *Server) AddRegistry(ctx context.Context, registry resource.Registry) error {
	if strings.TrimSpace(registry.Address) == "" {
		return faults.NewValidationError("registry address is required", nil)
	}
	encoded, err := json.Marshal(resource.Registry{
		Address:  registry.Address,
		Username: registry.Username,
		Password: registry.Password,
	})
	if err != nil {
		return faults.NewInternalError("failed to encode registry", err)
	}
	return classify(s.client.HSet(ctx, s.registriesKey(), registry.Address, encoded).Err(), "failed to store registry "+registry.Address)
}

func (s *Server) RemoveRegistry(ctx context.Context, address string) error {
	hash := s.registriesKey()
	return s.watch(ctx, func(tx *goredis.Tx) error {
		exists, err := tx.HExists(ctx, hash, address).Result()
		if err != nil {
			return classify(err, "failed to read registry "+address)
		}
		if !exists {
			return faults.NewNotFoundError(fmt.Sprintf("registry %s not found", address), nil)
		}
		push, found, err := s.readPush(ctx, tx)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HDel(ctx, hash, address)
			if found && push.Address == address {
				pipe.Del(ctx, s.pushKey())
			}
			return nil
		})
		return err
	}, hash, s.pushKey())
}

func (s *Server) SetPushRegistry(ctx context.Context, address string, namespace string) error {
	hash := s.registriesKey()
	encoded, err := json.Marshal(pushDesignation{Address: address, Namespace: namespace})
	if err != nil {
		return faults.NewInternalError("failed to encode push designation", err)
	}
	return s.watch(ctx, func(tx *goredis.Tx) error {
		exists, err := tx.HExists(ctx, hash, address).Result()
		if err != nil {
			return classify(err, "failed to read registry "+address)
		}
		if !exists {
			return faults.NewNotFoundError(fmt.Sprintf("registry %s not found", address), nil)
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, s.pushKey(), encoded, 0)
			return nil
		})
		return err
	}, hash)
}

func (s *Server) ClearPushRegistry(ctx context.Context, address string) error {
	return s.watch(ctx, func(tx *goredis.Tx) error {
		push, found, err := s.readPush(ctx, tx)
		if err != nil {
			return err
		}
		if !found || push.Address != address {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Del(ctx, s.pushKey())
			return nil
		})
		return err
	}, s.pushKey())
}

func (s *Server) ListRepositories(ctx context.Context) ([]resource.Repository, error) {
	repositories, err := listHash[resource.Repository](ctx, s.client, s.repositoriesKey())
	if err != nil {
		return nil, err
	}
	slices.SortFunc(repositories, func(a, b resource.Repository) int { return strings.Compare(a.URL, b.URL) })
	return repositories, nil
}

func (s *Server) AddRepository(ctx context.Context, repository resource.Repository) error {
	if strings.TrimSpace(repository.URL) == "" {
		return faults.NewValidationError("repository url is required", nil)
	}
	repository.Protected = false
	return s.insert(ctx, s.repositoriesKey(), repository.URL, repository, "repository")
}

func (s *Server) RemoveRepository(ctx context.Context, url string) error {
	return s.mutateRepository(ctx, url, func(pipe goredis.Pipeliner, _ resource.Repository) error {
		pipe.HDel(ctx, s.repositoriesKey(), url)
		return nil
	})
}

func (s *Server) SetRepositoryEnabled(ctx context.Context, url string, enabled bool) error {
	return s.mutateRepository(ctx, url, func(pipe goredis.Pipeliner, repository resource.Repository) error {
		repository.Enabled = enabled
		encoded, err := json.Marshal(repository)
		if err != nil {
			return faults.NewInternalError("failed to encode repository", err)
		}
		pipe.HSet(ctx, s.repositoriesKey(), url, encoded)
		return nil
	})
}

// mutateRepository runs change against an existing, unprotected repository.
func (s *Server) mutateRepository(
	ctx context.Context,
	url string,
	change func(pipe goredis.Pipeliner, repository resource.Repository) error,
) error {
	hash := s.repositoriesKey()
	return s.watch(ctx, func(tx *goredis.Tx) error {
		var repository resource.Repository
		if err := getField(ctx, tx, hash, url, &repository); err != nil {
			if errors.Is(err, goredis.Nil) {
				return faults.NewNotFoundError(fmt.Sprintf("repository %s not found", url), nil)
			}
			return err
		}
		if repository.Protected {
			return faults.NewConflictError(fmt.Sprintf("repository %s is protected", url), nil)
		}
		_, err := tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			return change(pipe, repository)
		})
		return err
	}, hash)
}

func (s *Server) insert(ctx context.Context, hash string, field string, value any, noun string) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return faults.NewInternalError("failed to encode "+noun, err)
	}
	created, err := s.client.HSetNX(ctx, hash, field, encoded).Result()
	if err != nil {
		return classify(err, fmt.Sprintf("failed to store %s %s", noun, field))
	}
	if !created {
		return faults.NewConflictError(fmt.Sprintf("%s %s already exists", noun, field), nil)
	}
	return nil
}

// watch runs fn in an optimistic transaction, retrying when a watched key
// changed before EXEC.
func (s *Server) watch(ctx context.Context, fn func(tx *goredis.Tx) error, keys ...string) error {
	for range maxTxAttempts {
		err := s.client.Watch(ctx, fn, keys...)
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		return classify(err, "redis transaction failed")
	}
	return faults.NewConflictError("redis transaction kept conflicting with concurrent writers", goredis.TxFailedErr)
}

// hashReader is the read side shared by *goredis.Client and *goredis.Tx.
type hashReader interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	HGet(ctx context.Context, key string, field string) *goredis.StringCmd
	HGetAll(ctx context.Context, key string) *goredis.MapStringStringCmd
}

type pushDesignation struct {
	Address   string `json:"address"`
	Namespace string `json:"namespace,omitempty"`
}

func (s *Server) readPush(ctx context.Context, client hashReader) (pushDesignation, bool, error) {
	raw, err := client.Get(ctx, s.pushKey()).Bytes()
	if errors.Is(err, goredis.Nil) {
		return pushDesignation{}, false, nil
	}
	if err != nil {
		return pushDesignation{}, false, classify(err, "failed to read push registry")
	}
	var push pushDesignation
	if err := json.Unmarshal(raw, &push); err != nil {
		return pushDesignation{}, false, faults.NewInternalError("stored push registry is not valid JSON", err)
	}
	return push, true, nil
}

func listHash[R any](ctx context.Context, client hashReader, hash string) ([]R, error) {
	values, err := client.HGetAll(ctx, hash).Result()
	if err != nil {
		return nil, classify(err, "failed to list "+hash)
	}
	records := make([]R, 0, len(values))
	for field, raw := range values {
		var record R
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			return nil, server.NewListPayloadShapeError(fmt.Sprintf("%s field %q is not a valid record", hash, field), err)
		}
		records = append(records, record)
	}
	return records, nil
}

// getField decodes one hash field; a missing field returns goredis.Nil.
func getField(ctx context.Context, client hashReader, hash string, field string, target any) error {
	raw, err := client.HGet(ctx, hash, field).Bytes()
	if errors.Is(err, goredis.Nil) {
		return err
	}
	if err != nil {
		return classify(err, fmt.Sprintf("failed to read %s field %s", hash, field))
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return faults.NewInternalError(fmt.Sprintf("%s field %q is not valid JSON", hash, field), err)
	}
	return nil
}

// classify keeps typed errors and reports everything else as a transport
// failure.
func classify(err error, message string) error {
	if err == nil {
		return nil
	}
	if _, ok := faults.CategoryOf(err); ok {
		return err
	}
	return faults.NewTransportError(message, err)
}
