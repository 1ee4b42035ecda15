package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("TRAFEGODNS_PROVIDERS_CLOUDFLARE_API_TOKEN", "token")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.LabelPrefix != "trafegodns" {
		t.Errorf("label prefix = %q", cfg.LabelPrefix)
	}
	if cfg.Mode != ModeTraefik {
		t.Errorf("mode = %q, want traefik", cfg.Mode)
	}
	if cfg.PollInterval != time.Minute {
		t.Errorf("poll interval = %v", cfg.PollInterval)
	}
	if cfg.CacheRefreshInterval != time.Hour {
		t.Errorf("cache refresh interval = %v", cfg.CacheRefreshInterval)
	}
	if !cfg.Defaults.Proxied {
		t.Error("default proxied = false, want true")
	}
	if cfg.CleanupOrphaned {
		t.Error("cleanup must default to off")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TRAFEGODNS_PROVIDERS_CLOUDFLARE_API_TOKEN", "token")
	t.Setenv("TRAFEGODNS_MODE", "direct")
	t.Setenv("TRAFEGODNS_POLL_INTERVAL", "30s")
	t.Setenv("TRAFEGODNS_CLEANUP_ORPHANED", "true")
	t.Setenv("TRAFEGODNS_DEFAULTS_RECORD_TYPE", "AAAA")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Mode != ModeDirect {
		t.Errorf("mode = %q, want direct", cfg.Mode)
	}
	if cfg.PollInterval != 30*time.Second {
		t.Errorf("poll interval = %v, want 30s", cfg.PollInterval)
	}
	if !cfg.CleanupOrphaned {
		t.Error("cleanup override lost")
	}
	if cfg.Defaults.RecordType != "AAAA" {
		t.Errorf("record type = %q", cfg.Defaults.RecordType)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trafegodns.yaml")
	content := `
mode: direct
providers:
  pihole:
    url: http://pihole.local
    password: secret
defaults:
  record_type: A
  ttl: 300
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Mode != ModeDirect {
		t.Errorf("mode = %q", cfg.Mode)
	}
	if cfg.Providers.Pihole.URL != "http://pihole.local" {
		t.Errorf("pihole url = %q", cfg.Providers.Pihole.URL)
	}
	if cfg.Defaults.TTL != 300 {
		t.Errorf("ttl = %d", cfg.Defaults.TTL)
	}
}

func TestLoad_RequiresProvider(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Error("Load accepted configuration with no provider")
	}
}

func TestLoad_CNAMEDefaultNeedsContent(t *testing.T) {
	t.Setenv("TRAFEGODNS_PROVIDERS_CLOUDFLARE_API_TOKEN", "token")
	t.Setenv("TRAFEGODNS_DEFAULTS_RECORD_TYPE", "CNAME")

	if _, err := Load(""); err == nil {
		t.Error("CNAME default without content accepted")
	}

	t.Setenv("TRAFEGODNS_DEFAULTS_CONTENT", "origin.example.com")
	if _, err := Load(""); err != nil {
		t.Errorf("CNAME default with content rejected: %v", err)
	}
}

func TestLoad_TunnelRequiresCloudflare(t *testing.T) {
	t.Setenv("TRAFEGODNS_PROVIDERS_PIHOLE_URL", "http://pihole.local")
	t.Setenv("TRAFEGODNS_TUNNEL_ENABLED", "true")
	t.Setenv("TRAFEGODNS_TUNNEL_TUNNEL_ID", "tunnel-1")

	if _, err := Load(""); err == nil {
		t.Error("tunnel without cloudflare credentials accepted")
	}
}

func TestLoad_UnifiSettleDelayFloor(t *testing.T) {
	t.Setenv("TRAFEGODNS_PROVIDERS_CLOUDFLARE_API_TOKEN", "token")
	t.Setenv("TRAFEGODNS_PROVIDERS_UNIFI_SETTLE_DELAY", "10ms")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers.Unifi.SettleDelay < 100*time.Millisecond {
		t.Errorf("settle delay = %v, want >= 100ms", cfg.Providers.Unifi.SettleDelay)
	}
}
