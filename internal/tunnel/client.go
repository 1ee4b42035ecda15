// Package tunnel reconciles a Cloudflare Tunnel's ingress-rule list with the
// hostnames opted into tunneling via container labels. It shares the
// ownership ledger and policy store with the DNS reconcilers and feeds them
// the companion CNAME records.
package tunnel

import (
	"context"
	"fmt"

	cf "github.com/cloudflare/cloudflare-go/v6"
	"github.com/cloudflare/cloudflare-go/v6/zero_trust"

	"github.com/trafegodns/trafegodns/internal/types"
)

// ConfigClient reads and atomically replaces a tunnel's ingress list.
type ConfigClient interface {
	// FetchIngress returns the ordered ingress rules, including the trailing
	// catch-all.
	FetchIngress(ctx context.Context, tunnelID string) ([]types.IngressRule, error)

	// ReplaceIngress replaces the full ingress list in one call.
	ReplaceIngress(ctx context.Context, tunnelID string, rules []types.IngressRule) error
}

// CloudflareConfigClient implements ConfigClient on the Cloudflare API.
type CloudflareConfigClient struct {
	api       *cf.Client
	accountID string
}

// NewCloudflareConfigClient wraps an existing API client.
func NewCloudflareConfigClient(api *cf.Client, accountID string) *CloudflareConfigClient {
	return &CloudflareConfigClient{api: api, accountID: accountID}
}

// FetchIngress reads the tunnel's current ingress configuration.
func (c *CloudflareConfigClient) FetchIngress(ctx context.Context, tunnelID string) ([]types.IngressRule, error) {
	if c.accountID == "" {
		return nil, fmt.Errorf("account ID is required for tunnel operations")
	}

	result, err := c.api.ZeroTrust.Tunnels.Cloudflared.Configurations.Get(ctx, tunnelID, zero_trust.TunnelCloudflaredConfigurationGetParams{
		AccountID: cf.F(c.accountID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get tunnel configuration: %w", err)
	}

	rules := make([]types.IngressRule, 0, len(result.Config.Ingress))
	for _, ing := range result.Config.Ingress {
		rules = append(rules, types.IngressRule{
			Hostname: ing.Hostname,
			Service:  ing.Service,
			Path:     ing.Path,
		})
	}
	return rules, nil
}

// ReplaceIngress writes the full ingress list. A missing catch-all tail is
// appended so the tunnel never ends on a hostname rule.
func (c *CloudflareConfigClient) ReplaceIngress(ctx context.Context, tunnelID string, rules []types.IngressRule) error {
	if c.accountID == "" {
		return fmt.Errorf("account ID is required for tunnel operations")
	}

	params := make([]zero_trust.TunnelCloudflaredConfigurationUpdateParamsConfigIngress, 0, len(rules)+1)
	for _, rule := range rules {
		ing := zero_trust.TunnelCloudflaredConfigurationUpdateParamsConfigIngress{
			Service: cf.F(rule.Service),
		}
		if rule.Hostname != "" {
			ing.Hostname = cf.F(rule.Hostname)
		}
		if rule.Path != "" {
			ing.Path = cf.F(rule.Path)
		}
		params = append(params, ing)
	}

	if len(rules) == 0 || !rules[len(rules)-1].IsCatchAll() {
		params = append(params, zero_trust.TunnelCloudflaredConfigurationUpdateParamsConfigIngress{
			Service: cf.F(types.CatchAllService),
		})
	}

	_, err := c.api.ZeroTrust.Tunnels.Cloudflared.Configurations.Update(ctx, tunnelID, zero_trust.TunnelCloudflaredConfigurationUpdateParams{
		AccountID: cf.F(c.accountID),
		Config: cf.F(zero_trust.TunnelCloudflaredConfigurationUpdateParamsConfig{
			Ingress: cf.F(params),
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to update tunnel configuration: %w", err)
	}
	return nil
}
