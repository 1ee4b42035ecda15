package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// EnvPrefix is the environment variable prefix
	EnvPrefix = "TRAFEGODNS"

	// DefaultConfigName is the default config file name
	DefaultConfigName = "trafegodns"
)

// Load loads configuration from environment variables and config file.
// Config file resolution priority: CLI flag > ENV > default search paths.
// Value priority: Environment variables > Config file > Defaults.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()
	v := viper.New()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, cfg)

	if err := resolveConfigFile(v, configPath); err != nil {
		return nil, err
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setDefaults sets default values in viper.
func setDefaults(v *viper.Viper, cfg *Config) {
	// Core
	v.SetDefault("label_prefix", cfg.LabelPrefix)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_format", cfg.LogFormat)
	v.SetDefault("mode", cfg.Mode)
	v.SetDefault("data_dir", cfg.DataDir)
	v.SetDefault("poll_interval", cfg.PollInterval)
	v.SetDefault("cache_refresh_interval", cfg.CacheRefreshInterval)
	v.SetDefault("api_timeout", cfg.APITimeout)
	v.SetDefault("cleanup_orphaned", cfg.CleanupOrphaned)

	// Record defaults
	v.SetDefault("defaults.record_type", cfg.Defaults.RecordType)
	v.SetDefault("defaults.ttl", cfg.Defaults.TTL)
	v.SetDefault("defaults.proxied", cfg.Defaults.Proxied)
	v.SetDefault("defaults.content", cfg.Defaults.Content)

	// IP resolver
	v.SetDefault("ip_resolver.cache_ttl", cfg.IPResolver.CacheTTL)
	v.SetDefault("ip_resolver.static_ipv4", cfg.IPResolver.StaticIPv4)
	v.SetDefault("ip_resolver.static_ipv6", cfg.IPResolver.StaticIPv6)

	// Traefik
	v.SetDefault("traefik.api_url", cfg.Traefik.APIURL)
	v.SetDefault("traefik.username", cfg.Traefik.Username)
	v.SetDefault("traefik.password", cfg.Traefik.Password)

	// Docker
	v.SetDefault("docker.endpoint", cfg.Docker.Endpoint)
	v.SetDefault("docker.filter_label", cfg.Docker.FilterLabel)
	v.SetDefault("docker.ssh.key", cfg.Docker.SSH.Key)
	v.SetDefault("docker.ssh.key_passphrase", cfg.Docker.SSH.KeyPassphrase)
	v.SetDefault("docker.tls.cert", cfg.Docker.TLS.Cert)
	v.SetDefault("docker.tls.key", cfg.Docker.TLS.Key)

	// Providers
	v.SetDefault("providers.cloudflare.api_token", cfg.Providers.Cloudflare.APIToken)
	v.SetDefault("providers.cloudflare.zone", cfg.Providers.Cloudflare.Zone)
	v.SetDefault("providers.cloudflare.account_id", cfg.Providers.Cloudflare.AccountID)
	v.SetDefault("providers.route53.access_key", cfg.Providers.Route53.AccessKey)
	v.SetDefault("providers.route53.secret_key", cfg.Providers.Route53.SecretKey)
	v.SetDefault("providers.route53.region", cfg.Providers.Route53.Region)
	v.SetDefault("providers.route53.zone", cfg.Providers.Route53.Zone)
	v.SetDefault("providers.route53.zone_id", cfg.Providers.Route53.ZoneID)
	v.SetDefault("providers.digitalocean.token", cfg.Providers.DigitalOcean.Token)
	v.SetDefault("providers.digitalocean.zone", cfg.Providers.DigitalOcean.Zone)
	v.SetDefault("providers.pihole.url", cfg.Providers.Pihole.URL)
	v.SetDefault("providers.pihole.password", cfg.Providers.Pihole.Password)
	v.SetDefault("providers.unifi.url", cfg.Providers.Unifi.URL)
	v.SetDefault("providers.unifi.api_key", cfg.Providers.Unifi.APIKey)
	v.SetDefault("providers.unifi.site", cfg.Providers.Unifi.Site)
	v.SetDefault("providers.unifi.settle_delay", cfg.Providers.Unifi.SettleDelay)
	v.SetDefault("providers.unifi.skip_tls_verify", cfg.Providers.Unifi.SkipTLSVerify)

	// Tunnel
	v.SetDefault("tunnel.enabled", cfg.Tunnel.Enabled)
	v.SetDefault("tunnel.tunnel_id", cfg.Tunnel.TunnelID)

	// API server
	v.SetDefault("api.enabled", cfg.Api.Enabled)
	v.SetDefault("api.address", cfg.Api.Address)
	v.SetDefault("api.token", cfg.Api.Token)
}

// validate validates the configuration, normalizing recoverable values and
// rejecting the rest.
func validate(cfg *Config) error {
	if cfg.Mode != ModeTraefik && cfg.Mode != ModeDirect {
		cfg.Mode = ModeTraefik
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[cfg.LogLevel] {
		cfg.LogLevel = "info"
	}

	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		cfg.LogFormat = "text"
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	if cfg.CacheRefreshInterval <= 0 {
		cfg.CacheRefreshInterval = time.Hour
	}
	if cfg.APITimeout <= 0 {
		cfg.APITimeout = time.Minute
	}
	if cfg.Providers.Unifi.SettleDelay < 100*time.Millisecond {
		cfg.Providers.Unifi.SettleDelay = 100 * time.Millisecond
	}

	switch cfg.Defaults.RecordType {
	case "A", "AAAA", "CNAME":
	default:
		return &ValidationError{Field: "defaults.record_type", Message: "must be A, AAAA or CNAME"}
	}
	if cfg.Defaults.RecordType == "CNAME" && cfg.Defaults.Content == "" {
		return &ValidationError{Field: "defaults.content", Message: "required when defaults.record_type is CNAME"}
	}

	if !cfg.HasAnyProvider() {
		return &ValidationError{
			Field:   "providers",
			Message: "at least one provider must be configured",
		}
	}

	if cfg.Tunnel.Enabled {
		if cfg.Tunnel.TunnelID == "" {
			return &ValidationError{Field: "tunnel.tunnel_id", Message: "required when tunnel is enabled"}
		}
		if cfg.Providers.Cloudflare.APIToken == "" || cfg.Providers.Cloudflare.AccountID == "" {
			return &ValidationError{
				Field:   "providers.cloudflare",
				Message: "api_token and account_id are required when tunnel is enabled",
			}
		}
	}

	return nil
}

// HasAnyProvider reports whether at least one provider block carries
// credentials.
func (c *Config) HasAnyProvider() bool {
	return c.Providers.Cloudflare.APIToken != "" ||
		c.Providers.Route53.Zone != "" ||
		c.Providers.DigitalOcean.Token != "" ||
		c.Providers.Pihole.URL != "" ||
		c.Providers.Unifi.URL != ""
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "config validation error: " + e.Field + ": " + e.Message
}

// resolveConfigFile resolves and loads the config file into viper.
// Priority: explicit path (CLI flag) > TRAFEGODNS_CONFIG env > default search paths.
func resolveConfigFile(v *viper.Viper, configPath string) error {
	if configPath != "" {
		v.SetConfigFile(configPath)
		return v.ReadInConfig()
	}

	if envPath := os.Getenv(EnvPrefix + "_CONFIG"); envPath != "" {
		v.SetConfigFile(envPath)
		return v.ReadInConfig()
	}

	// Default search paths: ./trafegodns.yaml, /etc/trafegodns/trafegodns.yaml.
	// Note: Do NOT call v.SetConfigType() here. When configType is set,
	// viper also matches extensionless files (e.g. the binary itself at
	// /app/trafegodns in Docker). Without it, viper only matches files
	// with known extensions (.yaml, .yml, .json, etc.) which is what we want.
	v.SetConfigName(DefaultConfigName)
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/trafegodns")

	if err := v.ReadInConfig(); err != nil {
		// Not finding a config file in default paths is fine;
		// the application can run purely from env vars and defaults.
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return err
	}
	return nil
}
