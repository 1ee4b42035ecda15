// Package config provides configuration management for trafegodns.
package config

import "time"

// OperationMode selects where hostnames are discovered.
type OperationMode string

const (
	// ModeTraefik polls the Traefik API for router rules.
	ModeTraefik OperationMode = "traefik"
	// ModeDirect reads hostnames from container labels only.
	ModeDirect OperationMode = "direct"
)

// Config holds all configuration for trafegodns.
type Config struct {
	// LabelPrefix is the prefix for container labels (default: "trafegodns")
	LabelPrefix string `mapstructure:"label_prefix"`

	// LogLevel is the logging level (debug, info, warn, error)
	LogLevel string `mapstructure:"log_level"`

	// LogFormat is the logging format (json, text)
	LogFormat string `mapstructure:"log_format"`

	// Mode is the operation mode (traefik, direct)
	Mode OperationMode `mapstructure:"mode"`

	// DataDir is the directory for the ownership ledger and policy files
	DataDir string `mapstructure:"data_dir"`

	// PollInterval is the interval for polling Traefik and Docker
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// CacheRefreshInterval is the horizon after which provider record caches
	// are considered stale
	CacheRefreshInterval time.Duration `mapstructure:"cache_refresh_interval"`

	// APITimeout bounds each provider API operation
	APITimeout time.Duration `mapstructure:"api_timeout"`

	// CleanupOrphaned enables deletion of owned records no longer desired
	CleanupOrphaned bool `mapstructure:"cleanup_orphaned"`

	// Defaults for records that do not specify fields explicitly
	Defaults DefaultsConfig `mapstructure:"defaults"`

	// IPResolver configuration for public IP lookups
	IPResolver IPResolverConfig `mapstructure:"ip_resolver"`

	// Traefik API configuration
	Traefik TraefikConfig `mapstructure:"traefik"`

	// Docker configuration
	Docker DockerConfig `mapstructure:"docker"`

	// Providers configuration
	Providers ProvidersConfig `mapstructure:"providers"`

	// Tunnel is the Cloudflare Tunnel ingress configuration
	Tunnel TunnelConfig `mapstructure:"tunnel"`

	// Api configuration (HTTP API server)
	Api ApiConfig `mapstructure:"api"`
}

// DefaultsConfig holds per-record defaults.
type DefaultsConfig struct {
	// RecordType is the type used when labels do not name one
	RecordType string `mapstructure:"record_type"`

	// TTL is the default TTL in seconds (1 = provider automatic)
	TTL int `mapstructure:"ttl"`

	// Proxied is the default Cloudflare proxy flag
	Proxied bool `mapstructure:"proxied"`

	// Content is the default record content. Empty means the public IP is
	// resolved at reconciliation time for A/AAAA records.
	Content string `mapstructure:"content"`
}

// IPResolverConfig holds public IP resolution configuration.
type IPResolverConfig struct {
	// CacheTTL is how long resolved addresses are memoized
	CacheTTL time.Duration `mapstructure:"cache_ttl"`

	// StaticIPv4 pins the IPv4 answer, skipping the probes
	StaticIPv4 string `mapstructure:"static_ipv4"`

	// StaticIPv6 pins the IPv6 answer, skipping the probes
	StaticIPv6 string `mapstructure:"static_ipv6"`
}

// TraefikConfig holds Traefik API access configuration.
type TraefikConfig struct {
	// APIURL is the Traefik API base URL (e.g. http://traefik:8080)
	APIURL string `mapstructure:"api_url"`

	// Username and Password enable basic auth on the API
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// DockerConfig holds Docker provider configuration.
type DockerConfig struct {
	// Endpoint is the Docker endpoint (unix://, tcp://, ssh://)
	Endpoint string `mapstructure:"endpoint"`

	// FilterLabel is the label to filter containers (optional)
	FilterLabel string `mapstructure:"filter_label"`

	// SSH configuration for ssh:// endpoint
	SSH SSHConfig `mapstructure:"ssh"`

	// TLS configuration for tcp:// endpoint with TLS
	TLS TLSConfig `mapstructure:"tls"`
}

// SSHConfig holds SSH connection configuration.
type SSHConfig struct {
	// Key is the path to SSH private key
	Key string `mapstructure:"key"`

	// KeyPassphrase is the passphrase for the SSH key
	KeyPassphrase string `mapstructure:"key_passphrase"`
}

// TLSConfig holds TLS configuration.
type TLSConfig struct {
	// CA is the path to the CA certificate
	CA string `mapstructure:"ca"`

	// Cert is the path to client certificate
	Cert string `mapstructure:"cert"`

	// Key is the path to client key
	Key string `mapstructure:"key"`
}

// ProvidersConfig holds the per-provider credential blocks. A provider is
// active when its block carries credentials.
type ProvidersConfig struct {
	Cloudflare   CloudflareConfig   `mapstructure:"cloudflare"`
	Route53      Route53Config      `mapstructure:"route53"`
	DigitalOcean DigitalOceanConfig `mapstructure:"digitalocean"`
	Pihole       PiholeConfig       `mapstructure:"pihole"`
	Unifi        UnifiConfig        `mapstructure:"unifi"`
}

// CloudflareConfig holds Cloudflare API configuration.
type CloudflareConfig struct {
	// APIToken is the Cloudflare API token
	APIToken string `mapstructure:"api_token"`

	// Zone is the DNS zone to manage
	Zone string `mapstructure:"zone"`

	// AccountID is the Cloudflare account ID (required for tunnels)
	AccountID string `mapstructure:"account_id"`
}

// Route53Config holds AWS Route53 configuration.
type Route53Config struct {
	// AccessKey and SecretKey are static AWS credentials. When empty the
	// default AWS credential chain is used.
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`

	// Region is the AWS region for API calls
	Region string `mapstructure:"region"`

	// Zone is the hosted zone name
	Zone string `mapstructure:"zone"`

	// ZoneID is the hosted zone ID; discovered from Zone when empty
	ZoneID string `mapstructure:"zone_id"`
}

// DigitalOceanConfig holds DigitalOcean DNS configuration.
type DigitalOceanConfig struct {
	// Token is the DigitalOcean API token
	Token string `mapstructure:"token"`

	// Zone is the domain to manage
	Zone string `mapstructure:"zone"`
}

// PiholeConfig holds Pi-hole local DNS configuration.
type PiholeConfig struct {
	// URL is the Pi-hole base URL
	URL string `mapstructure:"url"`

	// Password is the Pi-hole admin password
	Password string `mapstructure:"password"`
}

// UnifiConfig holds UniFi controller static DNS configuration.
type UnifiConfig struct {
	// URL is the controller base URL
	URL string `mapstructure:"url"`

	// APIKey is the controller API key
	APIKey string `mapstructure:"api_key"`

	// Site is the UniFi site name
	Site string `mapstructure:"site"`

	// SettleDelay is the wait between delete and create during updates
	SettleDelay time.Duration `mapstructure:"settle_delay"`

	// SkipTLSVerify disables certificate verification for self-signed
	// controllers
	SkipTLSVerify bool `mapstructure:"skip_tls_verify"`
}

// TunnelConfig holds Cloudflare Tunnel ingress configuration.
type TunnelConfig struct {
	// Enabled controls whether tunnel ingress reconciliation runs
	Enabled bool `mapstructure:"enabled"`

	// TunnelID is the Cloudflare Tunnel ID
	TunnelID string `mapstructure:"tunnel_id"`
}

// ApiConfig holds HTTP API server configuration.
type ApiConfig struct {
	// Enabled controls whether the API server is enabled
	Enabled bool `mapstructure:"enabled"`

	// Address is the listen address
	Address string `mapstructure:"address"`

	// Token is the optional Bearer token for API authentication.
	// If empty, no authentication is required.
	Token string `mapstructure:"token"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		LabelPrefix:          "trafegodns",
		LogLevel:             "info",
		LogFormat:            "text",
		Mode:                 ModeTraefik,
		DataDir:              "/app/data",
		PollInterval:         time.Minute,
		CacheRefreshInterval: time.Hour,
		APITimeout:           time.Minute,
		CleanupOrphaned:      false,
		Defaults: DefaultsConfig{
			RecordType: "A",
			TTL:        1,
			Proxied:    true,
		},
		IPResolver: IPResolverConfig{
			CacheTTL: time.Minute,
		},
		Traefik: TraefikConfig{
			APIURL: "http://traefik:8080",
		},
		Docker: DockerConfig{
			Endpoint: "unix:///var/run/docker.sock",
		},
		Providers: ProvidersConfig{
			Route53: Route53Config{Region: "us-east-1"},
			Pihole:  PiholeConfig{},
			Unifi:   UnifiConfig{Site: "default", SettleDelay: 100 * time.Millisecond},
		},
		Api: ApiConfig{
			Enabled: true,
			Address: ":8080",
		},
	}
}
