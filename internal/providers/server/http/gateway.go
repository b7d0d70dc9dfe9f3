package http

import (
	"crypto/tls"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/crmarques/reconctl/config"
	"github.com/crmarques/reconctl/internal/providers/shared/tlsconfig"
	"github.com/crmarques/reconctl/server"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	defaultMediaType   = "application/json"
	requestIDHeader    = "X-Request-ID"
)

var _ server.ResourceServer = (*Gateway)(nil)

// Gateway serves every kind from a REST API.
type Gateway struct {
	baseURL        *url.URL
	defaultHeaders map[string]string
	auth           authorizer
	client         *http.Client
	tlsDebug       tlsDebugInfo
	limiter        *rate.Limiter
	listJQ         config.ListJQ
	project        string
}

type GatewayOption func(*Gateway)

// WithLinksProject scopes link routes to one source project.
func WithLinksProject(project string) GatewayOption {
	return func(g *Gateway) {
		g.project = strings.TrimSpace(project)
	}
}

func WithHTTPClient(client *http.Client) GatewayOption {
	return func(g *Gateway) {
		if client != nil {
			g.client = client
		}
	}
}

func NewGateway(cfg config.HTTPServer, opts ...GatewayOption) (*Gateway, error) {
	baseURL, err := parseBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	auth, err := newAuthorizer(cfg.Auth)
	if err != nil {
		return nil, err
	}

	tlsConfig, err := buildTLSConfig(cfg.TLS)
	if err != nil {
		return nil, err
	}

	if cfg.RequestsPerSecond < 0 || cfg.Burst < 0 {
		return nil, validationError("server.http.requests-per-second and burst must not be negative", nil)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsConfig

	gateway := &Gateway{
		baseURL:        baseURL,
		defaultHeaders: cloneStringMap(cfg.DefaultHeaders),
		auth:           auth,
		client: &http.Client{
			Timeout:   defaultHTTPTimeout,
			Transport: transport,
		},
		tlsDebug: newTLSDebugInfo(cfg.TLS),
		limiter:  newLimiter(cfg.RequestsPerSecond, cfg.Burst),
	}
	if cfg.ListJQ != nil {
		gateway.listJQ = *cfg.ListJQ
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(gateway)
	}
	return gateway, nil
}

// newLimiter returns nil when requests are not throttled.
func newLimiter(requestsPerSecond float64, burst int) *rate.Limiter {
	if requestsPerSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
}

func parseBaseURL(raw string) (*url.URL, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, validationError("server.http.base-url is required", nil)
	}

	parsed, err := url.Parse(value)
	if err != nil {
		return nil, validationError("server.http.base-url is invalid", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, validationError("server.http.base-url must use http or https", nil)
	}
	if parsed.Host == "" {
		return nil, validationError("server.http.base-url host is required", nil)
	}

	if parsed.Path == "" {
		parsed.Path = "/"
	}

	return parsed, nil
}

func buildTLSConfig(tlsSettings *config.TLS) (*tls.Config, error) {
	return tlsconfig.Build(tlsSettings, "server.http")
}

func cloneStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}

	cloned := make(map[string]string, len(values))
	for key, value := range values {
		cloned[key] = value
	}
	return cloned
}
