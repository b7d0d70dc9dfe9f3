package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/crmarques/reconctl/config"
	"github.com/crmarques/reconctl/faults"
	"github.com/crmarques/reconctl/resource"
	"github.com/crmarques/reconctl/server"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Body   string
}

type fakeAPI struct {
	mu       sync.Mutex
	requests []recordedRequest
	headers  []http.Header
}

func (f *fakeAPI) record(r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, recordedRequest{
		Method: r.Method,
		Path:   r.URL.EscapedPath(),
		Query:  r.URL.RawQuery,
		Body:   string(body),
	})
	f.headers = append(f.headers, r.Header.Clone())
}

func (f *fakeAPI) recorded() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest(nil), f.requests...)
}

func newFakeAPI(t *testing.T, routes map[string]string) (*fakeAPI, *httptest.Server) {
	t.Helper()

	api := &fakeAPI{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		api.record(r)
		if body, ok := routes[r.Method+" "+r.URL.Path]; ok {
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, body)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return api, srv
}

func newTestGateway(t *testing.T, cfg config.HTTPServer, opts ...GatewayOption) *Gateway {
	t.Helper()

	gateway, err := NewGateway(cfg, opts...)
	if err != nil {
		t.Fatalf("NewGateway returned error: %v", err)
	}
	return gateway
}

func TestNewGatewayValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  config.HTTPServer
	}{
		{name: "missing_base_url", cfg: config.HTTPServer{}},
		{name: "unsupported_scheme", cfg: config.HTTPServer{BaseURL: "ftp://example.com"}},
		{
			name: "oauth2_grant_type_not_supported",
			cfg: config.HTTPServer{
				BaseURL: "https://example.com",
				Auth: &config.HTTPAuth{OAuth2: &config.OAuth2{
					TokenURL:     "https://example.com/oauth/token",
					GrantType:    "password",
					ClientID:     "id",
					ClientSecret: "secret",
				}},
			},
		},
		{
			name: "tls_client_pair_must_be_complete",
			cfg: config.HTTPServer{
				BaseURL: "https://example.com",
				TLS:     &config.TLS{ClientCertFile: "/tmp/only-cert.pem"},
			},
		},
		{
			name: "negative_rate",
			cfg:  config.HTTPServer{BaseURL: "https://example.com", RequestsPerSecond: -1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := NewGateway(tt.cfg)
			if !faults.IsCategory(err, faults.ValidationError) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestLinkRoutes(t *testing.T) {
	t.Parallel()

	api, srv := newFakeAPI(t, map[string]string{
		"GET /api/links": `[{"target":"backend","name":"API_URL"}]`,
	})
	gateway := newTestGateway(t, config.HTTPServer{BaseURL: srv.URL + "/api"}, WithLinksProject("storefront"))
	ctx := context.Background()

	links, err := gateway.ListLinks(ctx)
	if err != nil {
		t.Fatalf("ListLinks returned error: %v", err)
	}
	if !reflect.DeepEqual(links, []resource.Link{{Target: "backend", Name: "API_URL"}}) {
		t.Fatalf("unexpected links %#v", links)
	}
	if err := gateway.AddLink(ctx, resource.Link{Target: "cache", Name: "REDIS_URL"}); err != nil {
		t.Fatalf("AddLink returned error: %v", err)
	}
	if err := gateway.RenameLink(ctx, "backend", "API_URL", "BACKEND_URL"); err != nil {
		t.Fatalf("RenameLink returned error: %v", err)
	}
	if err := gateway.RemoveLink(ctx, "team/api", "OLD"); err != nil {
		t.Fatalf("RemoveLink returned error: %v", err)
	}

	want := []recordedRequest{
		{Method: http.MethodGet, Path: "/api/links", Query: "project=storefront"},
		{Method: http.MethodPost, Path: "/api/links", Query: "project=storefront", Body: `{"target":"cache","name":"REDIS_URL"}`},
		{Method: http.MethodPut, Path: "/api/links/backend/API_URL", Query: "project=storefront", Body: `{"name":"BACKEND_URL"}`},
		{Method: http.MethodDelete, Path: "/api/links/team%2Fapi/OLD", Query: "project=storefront"},
	}
	if got := api.recorded(); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected requests\n got: %#v\nwant: %#v", got, want)
	}
}

func TestRegistryRoutesApplyListJQ(t *testing.T) {
	t.Parallel()

	api, srv := newFakeAPI(t, map[string]string{
		"GET /registries": `{"data":{"registries":[{"address":"quay.io","username":"bob","password":"leaked","push":true,"namespace":"team"}]}}`,
	})
	gateway := newTestGateway(t, config.HTTPServer{
		BaseURL: srv.URL,
		ListJQ:  &config.ListJQ{Registries: ".data.registries"},
	})
	ctx := context.Background()

	registries, err := gateway.ListRegistries(ctx)
	if err != nil {
		t.Fatalf("ListRegistries returned error: %v", err)
	}
	want := []resource.Registry{{Address: "quay.io", Username: "bob", Push: true, Namespace: "team"}}
	if !reflect.DeepEqual(registries, want) {
		t.Fatalf("unexpected registries %#v", registries)
	}

	if err := gateway.SetPushRegistry(ctx, "localhost:5000", "ops"); err != nil {
		t.Fatalf("SetPushRegistry returned error: %v", err)
	}
	if err := gateway.ClearPushRegistry(ctx, "quay.io"); err != nil {
		t.Fatalf("ClearPushRegistry returned error: %v", err)
	}
	if err := gateway.RemoveRegistry(ctx, "quay.io"); err != nil {
		t.Fatalf("RemoveRegistry returned error: %v", err)
	}

	got := api.recorded()[1:]
	wantRequests := []recordedRequest{
		{Method: http.MethodPut, Path: "/registries/push", Body: `{"address":"localhost:5000","namespace":"ops"}`},
		{Method: http.MethodDelete, Path: "/registries/push/quay.io"},
		{Method: http.MethodDelete, Path: "/registries/quay.io"},
	}
	if !reflect.DeepEqual(got, wantRequests) {
		t.Fatalf("unexpected requests %#v", got)
	}
}

func TestRepositoryRoutes(t *testing.T) {
	t.Parallel()

	api, srv := newFakeAPI(t, map[string]string{
		"GET /repositories": `{"items":[{"url":"https://git.example.com/a.git","enabled":true,"protected":true}]}`,
	})
	gateway := newTestGateway(t, config.HTTPServer{BaseURL: srv.URL})
	ctx := context.Background()

	repositories, err := gateway.ListRepositories(ctx)
	if err != nil {
		t.Fatalf("ListRepositories returned error: %v", err)
	}
	if len(repositories) != 1 || !repositories[0].Protected {
		t.Fatalf("unexpected repositories %#v", repositories)
	}
	if err := gateway.SetRepositoryEnabled(ctx, "https://git.example.com/a.git", false); err != nil {
		t.Fatalf("SetRepositoryEnabled returned error: %v", err)
	}
	if err := gateway.RemoveRepository(ctx, "https://git.example.com/b.git"); err != nil {
		t.Fatalf("RemoveRepository returned error: %v", err)
	}

	got := api.recorded()[1:]
	want := []recordedRequest{
		{Method: http.MethodPatch, Path: "/repositories", Query: "url=https%3A%2F%2Fgit.example.com%2Fa.git", Body: `{"enabled":false}`},
		{Method: http.MethodDelete, Path: "/repositories", Query: "url=https%3A%2F%2Fgit.example.com%2Fb.git"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected requests %#v", got)
	}
}

func TestStatusClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status   int
		category faults.ErrorCategory
	}{
		{status: http.StatusBadRequest, category: faults.ValidationError},
		{status: http.StatusUnprocessableEntity, category: faults.ValidationError},
		{status: http.StatusUnauthorized, category: faults.AuthError},
		{status: http.StatusForbidden, category: faults.AuthError},
		{status: http.StatusNotFound, category: faults.NotFoundError},
		{status: http.StatusConflict, category: faults.ConflictError},
		{status: http.StatusBadGateway, category: faults.TransportError},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			t.Cleanup(srv.Close)

			gateway := newTestGateway(t, config.HTTPServer{BaseURL: srv.URL})
			err := gateway.RemoveRegistry(context.Background(), "quay.io")
			if !faults.IsCategory(err, tt.category) {
				t.Fatalf("expected %s, got %v", tt.category, err)
			}
		})
	}
}

func TestListShapeErrors(t *testing.T) {
	t.Parallel()

	_, srv := newFakeAPI(t, map[string]string{
		"GET /links":        `{"a":[],"b":[]}`,
		"GET /repositories": `"text"`,
	})
	gateway := newTestGateway(t, config.HTTPServer{BaseURL: srv.URL})

	if _, err := gateway.ListLinks(context.Background()); !server.IsListPayloadShapeError(err) {
		t.Fatalf("expected ambiguous list error, got %v", err)
	}
	if _, err := gateway.ListRepositories(context.Background()); !server.IsListPayloadShapeError(err) {
		t.Fatalf("expected shape error, got %v", err)
	}
}

func TestRequestsCarryAuthHeadersAndRequestID(t *testing.T) {
	t.Parallel()

	api, srv := newFakeAPI(t, nil)
	gateway := newTestGateway(t, config.HTTPServer{
		BaseURL:        srv.URL,
		DefaultHeaders: map[string]string{"X-Tenant": "acme"},
		Auth:           &config.HTTPAuth{CustomHeader: &config.HeaderTokenAuth{Header: "X-Api-Key", Token: "k"}},
	})

	for range 2 {
		if err := gateway.RemoveRegistry(context.Background(), "quay.io"); err != nil {
			t.Fatalf("RemoveRegistry returned error: %v", err)
		}
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	first, second := api.headers[0], api.headers[1]
	if first.Get("X-Api-Key") != "k" || first.Get("X-Tenant") != "acme" {
		t.Fatalf("unexpected headers %v", first)
	}
	if first.Get(requestIDHeader) == "" || first.Get(requestIDHeader) == second.Get(requestIDHeader) {
		t.Fatalf("expected distinct request ids, got %q and %q", first.Get(requestIDHeader), second.Get(requestIDHeader))
	}
}

func TestOAuth2TokenIsCached(t *testing.T) {
	t.Parallel()

	var tokenCalls atomic.Int32
	var authorized atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/token" {
			tokenCalls.Add(1)
			if err := r.ParseForm(); err != nil || r.Form.Get("grant_type") != config.OAuthClientCreds {
				http.Error(w, "bad form", http.StatusBadRequest)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "tok", "expires_in": 3600})
			return
		}
		if r.Header.Get("Authorization") == "Bearer tok" {
			authorized.Add(1)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	gateway := newTestGateway(t, config.HTTPServer{
		BaseURL: srv.URL,
		Auth: &config.HTTPAuth{OAuth2: &config.OAuth2{
			TokenURL:     srv.URL + "/token",
			GrantType:    config.OAuthClientCreds,
			ClientID:     "id",
			ClientSecret: "secret",
		}},
	})

	for range 3 {
		if err := gateway.ClearPushRegistry(context.Background(), "x"); err != nil {
			t.Fatalf("ClearPushRegistry returned error: %v", err)
		}
	}
	if tokenCalls.Load() != 1 || authorized.Load() != 3 {
		t.Fatalf("expected one token call and three authorized calls, got %d and %d", tokenCalls.Load(), authorized.Load())
	}
}

func TestNewLimiter(t *testing.T) {
	t.Parallel()

	if newLimiter(0, 5) != nil {
		t.Fatal("expected no limiter without a rate")
	}
	limiter := newLimiter(2, 0)
	if limiter == nil || limiter.Burst() != 1 || float64(limiter.Limit()) != 2 {
		t.Fatalf("unexpected limiter %#v", limiter)
	}
}

func TestCanceledContextStopsThrottledRequest(t *testing.T) {
	t.Parallel()

	api, srv := newFakeAPI(t, nil)
	gateway := newTestGateway(t, config.HTTPServer{BaseURL: srv.URL, RequestsPerSecond: 0.001, Burst: 1})

	if err := gateway.RemoveRegistry(context.Background(), "a"); err != nil {
		t.Fatalf("first request returned error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := gateway.RemoveRegistry(ctx, "b")
	if !faults.IsCategory(err, faults.TransportError) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if len(api.recorded()) != 1 {
		t.Fatalf("expected the throttled request not to be sent, got %d", len(api.recorded()))
	}
}
