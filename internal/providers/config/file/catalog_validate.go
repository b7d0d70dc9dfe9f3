package file

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/crmarques/reconctl/config"
)

func validateCatalog(contextCatalog config.ContextCatalog) error {
	if len(contextCatalog.Contexts) == 0 {
		if contextCatalog.CurrentCtx != "" {
			return validationError("current-ctx must be empty when contexts list is empty", nil)
		}
		return nil
	}

	seen := map[string]struct{}{}
	for _, item := range contextCatalog.Contexts {
		if item.Name == "" {
			return validationError("context name must not be empty", nil)
		}
		if _, exists := seen[item.Name]; exists {
			return validationError(fmt.Sprintf("duplicate context name %q", item.Name), nil)
		}
		seen[item.Name] = struct{}{}

		if err := validateConfig(item); err != nil {
			return fmt.Errorf("context %q: %w", item.Name, err)
		}
	}

	if contextCatalog.CurrentCtx == "" {
		return validationError("current-ctx must be set when contexts are defined", nil)
	}
	if _, exists := seen[contextCatalog.CurrentCtx]; !exists {
		return validationError(fmt.Sprintf("current-ctx %q does not match any context", contextCatalog.CurrentCtx), nil)
	}

	return nil
}

func validateConfig(cfg config.Context) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return validationError("context name must not be empty", nil)
	}
	if err := validateServer(cfg.Server); err != nil {
		return err
	}
	if cfg.Registries != nil && strings.TrimSpace(cfg.Registries.Namespace) == "" {
		return validationError("registries.namespace is required", nil)
	}
	if cfg.Probe != nil && cfg.Probe.SSH != nil {
		if strings.TrimSpace(cfg.Probe.SSH.PrivateKeyFile) == "" {
			return validationError("probe.ssh.private-key-file is required", nil)
		}
		if cfg.Probe.SSH.InsecureIgnoreHostKey && strings.TrimSpace(cfg.Probe.SSH.KnownHostsFile) != "" {
			return validationError("probe.ssh.known-hosts-file and probe.ssh.insecure-ignore-host-key are mutually exclusive", nil)
		}
	}
	if cfg.Probe != nil && cfg.Probe.Timeout != "" {
		if timeout, err := time.ParseDuration(cfg.Probe.Timeout); err != nil || timeout <= 0 {
			return validationError("probe.timeout must be a positive duration", err)
		}
	}
	if cfg.Journal != nil && strings.TrimSpace(cfg.Journal.Path) == "" {
		return validationError("journal.path is required", nil)
	}
	return nil
}

func validateServer(server config.Server) error {
	if countSet(server.HTTP != nil, server.Redis != nil, server.Memory != nil) != 1 {
		return validationError("server must define exactly one of http, redis, memory", nil)
	}
	if server.HTTP != nil {
		return validateHTTPServer(server.HTTP)
	}
	if server.Redis != nil && strings.TrimSpace(server.Redis.Address) == "" {
		return validationError("server.redis.address is required", nil)
	}
	return nil
}

func validateHTTPServer(httpServer *config.HTTPServer) error {
	if httpServer.BaseURL == "" {
		return validationError("server.http.base-url is required", nil)
	}
	parsed, err := url.Parse(httpServer.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return validationError("server.http.base-url must be an absolute url", err)
	}
	if httpServer.RequestsPerSecond < 0 || httpServer.Burst < 0 {
		return validationError("server.http.requests-per-second and burst must not be negative", nil)
	}
	if httpServer.Auth == nil {
		return nil
	}

	auth := httpServer.Auth
	if countSet(auth.OAuth2 != nil, auth.BasicAuth != nil, auth.BearerToken != nil, auth.CustomHeader != nil) != 1 {
		return validationError("server.http.auth must define exactly one of oauth2, basic-auth, bearer-token, custom-header", nil)
	}
	if auth.OAuth2 != nil {
		oauth := auth.OAuth2
		if oauth.TokenURL == "" || oauth.GrantType == "" || oauth.ClientID == "" || oauth.ClientSecret == "" {
			return validationError("server.http.auth.oauth2 requires token-url, grant-type, client-id, client-secret", nil)
		}
		if oauth.GrantType != config.OAuthClientCreds {
			return validationError(fmt.Sprintf("server.http.auth.oauth2.grant-type %q is not supported", oauth.GrantType), nil)
		}
	}
	if auth.BasicAuth != nil && (auth.BasicAuth.Username == "" || auth.BasicAuth.Password == "") {
		return validationError("server.http.auth.basic-auth requires username and password", nil)
	}
	if auth.BearerToken != nil && auth.BearerToken.Token == "" {
		return validationError("server.http.auth.bearer-token.token is required", nil)
	}
	if auth.CustomHeader != nil && (auth.CustomHeader.Header == "" || auth.CustomHeader.Token == "") {
		return validationError("server.http.auth.custom-header requires header and token", nil)
	}
	return nil
}

func applyConfigDefaults(cfg config.Context) config.Context {
	if cfg.Server.Redis != nil && cfg.Server.Redis.Prefix == "" {
		redis := *cfg.Server.Redis
		redis.Prefix = config.DefaultRedisPrefix
		cfg.Server.Redis = &redis
	}
	if cfg.Probe != nil && cfg.Probe.Timeout == "" {
		probe := *cfg.Probe
		probe.Timeout = config.DefaultProbeTimeout
		cfg.Probe = &probe
	}
	return cfg
}

func applyOverrides(cfg config.Context, overrides map[string]string) (config.Context, error) {
	for _, key := range sortedOverrideKeys(overrides) {
		value := overrides[key]
		switch key {
		case "server.http.base-url":
			if cfg.Server.HTTP == nil {
				return config.Context{}, validationError("override server.http.base-url requires server.http to be configured", nil)
			}
			httpServer := *cfg.Server.HTTP
			httpServer.BaseURL = value
			cfg.Server.HTTP = &httpServer
		case "server.redis.address":
			if cfg.Server.Redis == nil {
				return config.Context{}, validationError("override server.redis.address requires server.redis to be configured", nil)
			}
			redis := *cfg.Server.Redis
			redis.Address = value
			cfg.Server.Redis = &redis
		case "links.project":
			cfg.Links.Project = value
		case "journal.path":
			cfg.Journal = &config.Journal{Path: value}
		case "telemetry.metrics-textfile":
			telemetry := config.Telemetry{}
			if cfg.Telemetry != nil {
				telemetry = *cfg.Telemetry
			}
			telemetry.MetricsTextfile = value
			cfg.Telemetry = &telemetry
		default:
			return config.Context{}, unknownOverrideError(key)
		}
	}

	return cfg, nil
}

func sortedOverrideKeys(overrides map[string]string) []string {
	keys := make([]string, 0, len(overrides))
	for key := range overrides {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func countSet(values ...bool) int {
	count := 0
	for _, value := range values {
		if value {
			count++
		}
	}
	return count
}
