package probe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gogit "github.com/go-git/go-git/v5"
	gitcfg "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/transport"
	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"github.com/go-git/go-git/v5/storage/memory"
	"golang.org/x/crypto/ssh"
	"oras.land/oras-go/v2/errdef"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/errcode"

	"github.com/crmarques/reconctl/config"
	"github.com/crmarques/reconctl/debugctx"
	"github.com/crmarques/reconctl/faults"
	"github.com/crmarques/reconctl/resource"
	"github.com/crmarques/reconctl/server"
)

var (
	_ server.RepositoryProber = (*Prober)(nil)
	_ server.RegistryProber   = (*Prober)(nil)
)

// Prober checks that repositories and registries are reachable before they
// are added.
type Prober struct {
	timeout   time.Duration
	plainHTTP bool
	ssh       *config.ProbeSSH
}

func New(cfg config.Probe) (*Prober, error) {
	timeout := 10 * time.Second
	if value := strings.TrimSpace(cfg.Timeout); value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil || parsed <= 0 {
			return nil, faults.NewValidationError("probe.timeout must be a positive duration", err)
		}
		timeout = parsed
	}
	if cfg.SSH != nil && strings.TrimSpace(cfg.SSH.PrivateKeyFile) == "" {
		return nil, faults.NewValidationError("probe.ssh.private-key-file is required", nil)
	}
	return &Prober{timeout: timeout, plainHTTP: cfg.PlainHTTP, ssh: cfg.SSH}, nil
}

// ProbeRepository lists the remote refs of a git repository. An empty
// repository counts as reachable.
func (p *Prober) ProbeRepository(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	authMethod, err := p.authFor(url)
	if err != nil {
		return err
	}
	gitRemote := gogit.NewRemote(memory.NewStorage(), &gitcfg.RemoteConfig{
		Name: gogit.DefaultRemoteName,
		URLs: []string{url},
	})
	_, err = gitRemote.ListContext(ctx, &gogit.ListOptions{Auth: authMethod})
	debugctx.Logger(ctx).V(debugctx.DebugLevel).Info("probed repository", "url", url, "error", errString(err))

	switch {
	case err == nil, errors.Is(err, transport.ErrEmptyRemoteRepository):
		return nil
	case errors.Is(err, transport.ErrRepositoryNotFound):
		return faults.NewNotFoundError(fmt.Sprintf("repository %s not found", url), err)
	case errors.Is(err, transport.ErrAuthenticationRequired), errors.Is(err, transport.ErrAuthorizationFailed):
		return faults.NewTypedError(faults.AuthError, fmt.Sprintf("repository %s requires authentication", url), err)
	case errors.Is(err, transport.ErrInvalidAuthMethod):
		return faults.NewValidationError(fmt.Sprintf("repository %s rejected the auth method", url), err)
	default:
		return faults.NewTransportError(fmt.Sprintf("repository %s is unreachable", url), err)
	}
}

// authFor returns public-key auth for ssh URLs when a key is configured, and
// nil otherwise.
func (p *Prober) authFor(url string) (transport.AuthMethod, error) {
	if p.ssh == nil {
		return nil, nil
	}
	endpoint, err := transport.NewEndpoint(url)
	if err != nil {
		return nil, faults.NewValidationError(fmt.Sprintf("repository url %q is invalid", url), err)
	}
	if endpoint.Protocol != "ssh" {
		return nil, nil
	}

	user := strings.TrimSpace(p.ssh.User)
	if user == "" {
		user = endpoint.User
	}
	if user == "" {
		user = gitssh.DefaultUsername
	}
	keys, err := gitssh.NewPublicKeysFromFile(user, p.ssh.PrivateKeyFile, p.ssh.Passphrase)
	if err != nil {
		return nil, faults.NewValidationError("failed to load probe.ssh.private-key-file", err)
	}

	switch {
	case p.ssh.InsecureIgnoreHostKey:
		keys.HostKeyCallback = ssh.InsecureIgnoreHostKey()
	case strings.TrimSpace(p.ssh.KnownHostsFile) != "":
		callback, err := gitssh.NewKnownHostsCallback(p.ssh.KnownHostsFile)
		if err != nil {
			return nil, faults.NewValidationError("failed to load probe.ssh.known-hosts-file", err)
		}
		keys.HostKeyCallback = callback
	}
	return keys, nil
}

// ProbeRegistry pings the /v2/ endpoint of a registry.
func (p *Prober) ProbeRegistry(ctx context.Context, registry resource.Registry) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	target, err := remote.NewRegistry(registry.Address)
	if err != nil {
		return faults.NewValidationError(fmt.Sprintf("registry address %q is invalid", registry.Address), err)
	}
	target.PlainHTTP = p.plainHTTP
	client := &auth.Client{
		Client: &http.Client{},
		Cache:  auth.NewCache(),
	}
	client.SetUserAgent("reconctl")
	if registry.Username != "" || registry.Password != "" {
		client.Credential = auth.StaticCredential(target.Reference.Host(), auth.Credential{
			Username: registry.Username,
			Password: registry.Password,
		})
	}
	target.Client = client

	err = target.Ping(ctx)
	debugctx.Logger(ctx).V(debugctx.DebugLevel).Info("probed registry", "address", registry.Address, "error", errString(err))
	if err == nil {
		return nil
	}

	var response *errcode.ErrorResponse
	switch {
	case errors.As(err, &response) && (response.StatusCode == http.StatusUnauthorized || response.StatusCode == http.StatusForbidden):
		return faults.NewTypedError(faults.AuthError, fmt.Sprintf("registry %s rejected the credentials", registry.Address), err)
	case errors.Is(err, errdef.ErrNotFound):
		return faults.NewNotFoundError(fmt.Sprintf("registry %s does not serve the distribution API", registry.Address), err)
	default:
		return faults.NewTransportError(fmt.Sprintf("registry %s is unreachable", registry.Address), err)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
