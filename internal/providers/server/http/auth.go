package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/crmarques/reconctl/config"
)

// tokenExpirySkew renews an OAuth2 token this long before the server expires it.
const tokenExpirySkew = 30 * time.Second

type requestDoer func(ctx context.Context, purpose string, request *http.Request) (*http.Response, error)

// authorizer adds credentials to an outgoing request. do sends any
// request the authorizer itself needs, such as a token exchange.
type authorizer interface {
	authorize(ctx context.Context, request *http.Request, do requestDoer) error
}

// tokenInvalidator is implemented by authorizers holding a cached credential
// the server may reject before it expires.
type tokenInvalidator interface {
	invalidate()
}

type noAuth struct{}

func (noAuth) authorize(context.Context, *http.Request, requestDoer) error { return nil }

type basicAuth struct {
	username string
	password string
}

func (a basicAuth) authorize(_ context.Context, request *http.Request, _ requestDoer) error {
	request.SetBasicAuth(a.username, a.password)
	return nil
}

// headerAuth sets one fixed header. Bearer tokens and custom API key
// headers are both this.
type headerAuth struct {
	header string
	value  string
}

func (a headerAuth) authorize(_ context.Context, request *http.Request, _ requestDoer) error {
	request.Header.Set(a.header, a.value)
	return nil
}

func newAuthorizer(cfg *config.HTTPAuth) (authorizer, error) {
	if cfg == nil {
		return noAuth{}, nil
	}

	modes := 0
	for _, set := range []bool{cfg.OAuth2 != nil, cfg.BasicAuth != nil, cfg.BearerToken != nil, cfg.CustomHeader != nil} {
		if set {
			modes++
		}
	}
	if modes != 1 {
		return nil, validationError("server.http.auth must define exactly one auth mode", nil)
	}

	switch {
	case cfg.OAuth2 != nil:
		return newOAuth2Source(*cfg.OAuth2)
	case cfg.BasicAuth != nil:
		if cfg.BasicAuth.Username == "" || cfg.BasicAuth.Password == "" {
			return nil, validationError("server.http.auth.basic-auth requires username and password", nil)
		}
		return basicAuth{username: cfg.BasicAuth.Username, password: cfg.BasicAuth.Password}, nil
	case cfg.BearerToken != nil:
		if cfg.BearerToken.Token == "" {
			return nil, validationError("server.http.auth.bearer-token.token is required", nil)
		}
		return headerAuth{header: "Authorization", value: "Bearer " + cfg.BearerToken.Token}, nil
	default:
		if cfg.CustomHeader.Header == "" || cfg.CustomHeader.Token == "" {
			return nil, validationError("server.http.auth.custom-header requires header and token", nil)
		}
		return headerAuth{header: cfg.CustomHeader.Header, value: cfg.CustomHeader.Token}, nil
	}
}

// oauth2Source exchanges client credentials for a bearer token and caches
// it until shortly before expiry. Concurrent refreshes share one exchange.
type oauth2Source struct {
	cfg config.OAuth2
	now func() time.Time

	refresh singleflight.Group

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func newOAuth2Source(cfg config.OAuth2) (*oauth2Source, error) {
	for _, required := range []string{cfg.TokenURL, cfg.GrantType, cfg.ClientID, cfg.ClientSecret} {
		if strings.TrimSpace(required) == "" {
			return nil, validationError("server.http.auth.oauth2 requires token-url, grant-type, client-id, client-secret", nil)
		}
	}
	if strings.TrimSpace(cfg.GrantType) != config.OAuthClientCreds {
		return nil, validationError("server.http.auth.oauth2.grant-type supports only client_credentials", nil)
	}
	tokenURL, err := url.Parse(cfg.TokenURL)
	if err != nil || tokenURL.Scheme == "" || tokenURL.Host == "" {
		return nil, validationError("server.http.auth.oauth2.token-url is invalid", err)
	}
	return &oauth2Source{cfg: cfg, now: time.Now}, nil
}

func (s *oauth2Source) authorize(ctx context.Context, request *http.Request, do requestDoer) error {
	token, err := s.currentToken(ctx, do)
	if err != nil {
		return err
	}
	request.Header.Set("Authorization", "Bearer "+token)
	return nil
}

func (s *oauth2Source) invalidate() {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
}

func (s *oauth2Source) cached() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" || !s.now().Before(s.expiresAt.Add(-tokenExpirySkew)) {
		return "", false
	}
	return s.token, true
}

func (s *oauth2Source) currentToken(ctx context.Context, do requestDoer) (string, error) {
	if token, ok := s.cached(); ok {
		return token, nil
	}

	// The exchange outlives a canceled caller so the others waiting on it
	// still receive the token.
	results := s.refresh.DoChan("token", func() (any, error) {
		return s.exchange(context.WithoutCancel(ctx), do)
	})
	select {
	case <-ctx.Done():
		return "", transportError("oauth2 token request canceled", ctx.Err())
	case result := <-results:
		if result.Err != nil {
			return "", result.Err
		}
		return result.Val.(string), nil
	}
}

func (s *oauth2Source) exchange(ctx context.Context, do requestDoer) (string, error) {
	form := url.Values{}
	form.Set("grant_type", s.cfg.GrantType)
	form.Set("client_id", s.cfg.ClientID)
	form.Set("client_secret", s.cfg.ClientSecret)
	if scope := strings.TrimSpace(s.cfg.Scope); scope != "" {
		form.Set("scope", scope)
	}
	if audience := strings.TrimSpace(s.cfg.Audience); audience != "" {
		form.Set("audience", audience)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", internalError("failed to create oauth2 token request", err)
	}
	request.Header.Set("Accept", defaultMediaType)
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	response, err := do(ctx, "oauth2-token", request)
	if err != nil {
		return "", transportError("oauth2 token request failed", err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if err != nil {
		return "", transportError("failed to read oauth2 token response", err)
	}
	if response.StatusCode >= http.StatusBadRequest {
		return "", authError(
			fmt.Sprintf("oauth2 token request failed with status %d: %s", response.StatusCode, summarizeBody(body)),
			nil,
		)
	}

	var grant struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &grant); err != nil {
		return "", authError("oauth2 token response is not valid JSON", err)
	}
	if strings.TrimSpace(grant.AccessToken) == "" {
		return "", authError("oauth2 token response does not include access_token", nil)
	}

	lifetime := time.Hour
	if grant.ExpiresIn > 0 {
		lifetime = time.Duration(grant.ExpiresIn) * time.Second
	}

	s.mu.Lock()
	s.token = grant.AccessToken
	s.expiresAt = s.now().Add(lifetime)
	s.mu.Unlock()

	return grant.AccessToken, nil
}
