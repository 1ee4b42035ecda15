// Package ipresolver resolves the host's public IPv4 and IPv6 addresses by
// probing a list of plain-text IP echo services, memoizing results in a TTL
// cache so a reconciliation burst costs at most one HTTP round trip per
// address family.
package ipresolver

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog/log"
)

var defaultV4Services = []string{
	"https://api.ipify.org",
	"https://ifconfig.me/ip",
	"https://icanhazip.com",
}

var defaultV6Services = []string{
	"https://api6.ipify.org",
	"https://icanhazip.com",
}

const (
	cacheKeyV4 = "public-ipv4"
	cacheKeyV6 = "public-ipv6"
)

// Resolver looks up public IPs with a memoization window.
type Resolver struct {
	client     *http.Client
	v4Services []string
	v6Services []string
	cache      *ttlcache.Cache[string, string]
	overrideV4 string
	overrideV6 string
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithHTTPClient replaces the probe client.
func WithHTTPClient(client *http.Client) Option {
	return func(r *Resolver) { r.client = client }
}

// WithServices replaces the probe service lists.
func WithServices(v4, v6 []string) Option {
	return func(r *Resolver) {
		if len(v4) > 0 {
			r.v4Services = v4
		}
		if len(v6) > 0 {
			r.v6Services = v6
		}
	}
}

// WithStaticIPs pins the answers, bypassing the probes. Useful for hosts
// behind static addresses and for tests.
func WithStaticIPs(v4, v6 string) Option {
	return func(r *Resolver) {
		r.overrideV4 = v4
		r.overrideV6 = v6
	}
}

// New creates a resolver whose answers stay cached for ttl.
func New(ttl time.Duration, opts ...Option) *Resolver {
	if ttl <= 0 {
		ttl = time.Minute
	}
	r := &Resolver{
		client:     &http.Client{Timeout: 5 * time.Second},
		v4Services: defaultV4Services,
		v6Services: defaultV6Services,
		cache: ttlcache.New[string, string](
			ttlcache.WithTTL[string, string](ttl),
			ttlcache.WithDisableTouchOnHit[string, string](),
		),
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.cache.Start()
	return r
}

// Close stops the cache janitor.
func (r *Resolver) Close() {
	r.cache.Stop()
}

// PublicIPv4 returns the host's public IPv4 address.
func (r *Resolver) PublicIPv4(ctx context.Context) (string, error) {
	if r.overrideV4 != "" {
		return r.overrideV4, nil
	}
	return r.lookup(ctx, cacheKeyV4, r.v4Services, func(ip net.IP) bool {
		return ip.To4() != nil
	})
}

// PublicIPv6 returns the host's public IPv6 address.
func (r *Resolver) PublicIPv6(ctx context.Context) (string, error) {
	if r.overrideV6 != "" {
		return r.overrideV6, nil
	}
	return r.lookup(ctx, cacheKeyV6, r.v6Services, func(ip net.IP) bool {
		return ip.To4() == nil
	})
}

func (r *Resolver) lookup(ctx context.Context, key string, services []string, accept func(net.IP) bool) (string, error) {
	if item := r.cache.Get(key); item != nil {
		return item.Value(), nil
	}

	var lastErr error
	for _, service := range services {
		ip, err := r.probe(ctx, service)
		if err != nil {
			lastErr = err
			log.Debug().Err(err).Str("service", service).Msg("Public IP probe failed")
			continue
		}
		parsed := net.ParseIP(ip)
		if parsed == nil || !accept(parsed) {
			lastErr = fmt.Errorf("service %s returned unusable address %q", service, ip)
			continue
		}
		r.cache.Set(key, ip, ttlcache.DefaultTTL)
		return ip, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no public IP services configured")
	}
	return "", fmt.Errorf("failed to resolve public IP: %w", lastErr)
}

func (r *Resolver) probe(ctx context.Context, service string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, service, nil)
	if err != nil {
		return "", err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("service %s returned status %d", service, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}
