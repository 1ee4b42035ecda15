package types

// IngressRule is one entry of a Cloudflare Tunnel's ordered ingress list.
type IngressRule struct {
	Hostname string `json:"hostname,omitempty"`
	Service  string `json:"service"`
	Path     string `json:"path,omitempty"`
}

// CatchAllService is the service of the mandatory trailing ingress rule.
const CatchAllService = "http_status:404"

// IsCatchAll reports whether the rule is the trailing catch-all.
func (r IngressRule) IsCatchAll() bool {
	return r.Hostname == "" && r.Path == ""
}

// TunnelDesired is a hostname opted into tunneling via labels.
type TunnelDesired struct {
	Hostname string `json:"hostname"`
	Service  string `json:"service"`
	Path     string `json:"path,omitempty"`
	SourceID string `json:"source_id,omitempty"`
}

// TunnelEndpoint returns the CNAME target for a tunnel ID.
func TunnelEndpoint(tunnelID string) string {
	return tunnelID + ".cfargotunnel.com"
}
