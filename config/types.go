package config

type ContextSelection struct {
	Name      string
	Overrides map[string]string
}

const (
	ContextFileEnvVar         = "RECONCTL_CONTEXTS_FILE"
	DefaultContextCatalogPath = "~/.reconctl/contexts.yaml"
	OAuthClientCreds          = "client_credentials"
	DefaultRedisPrefix        = "reconctl"
	DefaultProbeTimeout       = "10s"
)

type ContextCatalog struct {
	Contexts   []Context `yaml:"contexts"`
	CurrentCtx string    `yaml:"current-ctx"`
}

type Context struct {
	Name       string          `yaml:"name"`
	Server     Server          `yaml:"server"`
	Registries *KubeRegistries `yaml:"registries,omitempty"`
	Links      Links           `yaml:"links,omitempty"`
	Probe      *Probe          `yaml:"probe,omitempty"`
	Journal    *Journal        `yaml:"journal,omitempty"`
	Telemetry  *Telemetry      `yaml:"telemetry,omitempty"`
}

// Server selects the backend serving every kind. Exactly one is set.
type Server struct {
	HTTP   *HTTPServer   `yaml:"http,omitempty"`
	Redis  *RedisServer  `yaml:"redis,omitempty"`
	Memory *MemoryServer `yaml:"memory,omitempty"`
}

type HTTPServer struct {
	BaseURL           string            `yaml:"base-url"`
	DefaultHeaders    map[string]string `yaml:"default-headers,omitempty"`
	Auth              *HTTPAuth         `yaml:"auth,omitempty"`
	TLS               *TLS              `yaml:"tls,omitempty"`
	RequestsPerSecond float64           `yaml:"requests-per-second,omitempty"`
	Burst             int               `yaml:"burst,omitempty"`
	ListJQ            *ListJQ           `yaml:"list-jq,omitempty"`
}

// ListJQ holds per-kind jq expressions extracting the record array from a
// list response.
type ListJQ struct {
	Links        string `yaml:"links,omitempty"`
	Registries   string `yaml:"registries,omitempty"`
	Repositories string `yaml:"repositories,omitempty"`
}

type HTTPAuth struct {
	OAuth2       *OAuth2          `yaml:"oauth2,omitempty"`
	BasicAuth    *BasicAuth       `yaml:"basic-auth,omitempty"`
	BearerToken  *BearerTokenAuth `yaml:"bearer-token,omitempty"`
	CustomHeader *HeaderTokenAuth `yaml:"custom-header,omitempty"`
}

type OAuth2 struct {
	TokenURL     string `yaml:"token-url"`
	GrantType    string `yaml:"grant-type"`
	ClientID     string `yaml:"client-id"`
	ClientSecret string `yaml:"client-secret"`
	Scope        string `yaml:"scope,omitempty"`
	Audience     string `yaml:"audience,omitempty"`
}

type BasicAuth struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type BearerTokenAuth struct {
	Token string `yaml:"token"`
}

type HeaderTokenAuth struct {
	Header string `yaml:"header"`
	Token  string `yaml:"token"`
}

type RedisServer struct {
	Address  string `yaml:"address"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
	TLS      *TLS   `yaml:"tls,omitempty"`
}

type MemoryServer struct {
	SeedFile string `yaml:"seed-file,omitempty"`
}

// KubeRegistries serves registries from Kubernetes secrets instead of the
// context server.
type KubeRegistries struct {
	Kubeconfig  string `yaml:"kubeconfig,omitempty"`
	KubeContext string `yaml:"kube-context,omitempty"`
	Namespace   string `yaml:"namespace"`
}

type Links struct {
	Project string `yaml:"project,omitempty"`
}

type Probe struct {
	Repositories bool      `yaml:"repositories,omitempty"`
	Registries   bool      `yaml:"registries,omitempty"`
	PlainHTTP    bool      `yaml:"plain-http,omitempty"`
	Timeout      string    `yaml:"timeout,omitempty"`
	SSH          *ProbeSSH `yaml:"ssh,omitempty"`
}

// ProbeSSH authenticates repository probes of ssh URLs with a private key.
type ProbeSSH struct {
	User                  string `yaml:"user,omitempty"`
	PrivateKeyFile        string `yaml:"private-key-file"`
	Passphrase            string `yaml:"passphrase,omitempty"`
	KnownHostsFile        string `yaml:"known-hosts-file,omitempty"`
	InsecureIgnoreHostKey bool   `yaml:"insecure-ignore-host-key,omitempty"`
}

type Journal struct {
	Path string `yaml:"path"`
}

type Telemetry struct {
	MetricsTextfile string `yaml:"metrics-textfile,omitempty"`
	OTLPEndpoint    string `yaml:"otlp-endpoint,omitempty"`
	OTLPInsecure    bool   `yaml:"otlp-insecure,omitempty"`
}

type TLS struct {
	CACertFile         string `yaml:"ca-cert-file,omitempty"`
	ClientCertFile     string `yaml:"client-cert-file,omitempty"`
	ClientKeyFile      string `yaml:"client-key-file,omitempty"`
	InsecureSkipVerify bool   `yaml:"insecure-skip-verify,omitempty"`
}
