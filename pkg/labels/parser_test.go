package labels

import (
	"testing"

	"github.com/trafegodns/trafegodns/internal/types"
)

func testParser() *Parser {
	return NewParser("trafegodns", "cloudflare", Defaults{
		RecordType: types.TypeA,
		TTL:        300,
		Proxied:    false,
	})
}

func TestParse_ExplicitRecord(t *testing.T) {
	parser := testParser()

	result := parser.Parse(map[string]string{
		"trafegodns.cloudflare.app.example.com.type":    "CNAME",
		"trafegodns.cloudflare.app.example.com.content": "origin.example.com",
		"trafegodns.cloudflare.app.example.com.ttl":     "120",
		"trafegodns.cloudflare.app.example.com.proxied": "true",
	}, "container-1")

	if len(result.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", result.Errors)
	}
	if len(result.Records) != 1 {
		t.Fatalf("got %d records, want 1", len(result.Records))
	}

	record := result.Records[0]
	if record.Type != types.TypeCNAME {
		t.Errorf("type = %q, want CNAME", record.Type)
	}
	if record.Name != "app.example.com" {
		t.Errorf("name = %q", record.Name)
	}
	if record.Content != "origin.example.com" {
		t.Errorf("content = %q", record.Content)
	}
	if record.TTL != 120 {
		t.Errorf("ttl = %d, want 120", record.TTL)
	}
	if !record.Proxied {
		t.Error("proxied = false, want true")
	}
	if record.Source != types.SourceContainer {
		t.Errorf("source = %q, want container", record.Source)
	}
	if record.SourceID != "container-1" {
		t.Errorf("sourceID = %q", record.SourceID)
	}
}

func TestParse_ImplicitRecordNeedsIPLookup(t *testing.T) {
	parser := testParser()

	result := parser.Parse(map[string]string{
		"trafegodns.cloudflare.web.example.com.proxied": "true",
	}, "container-1")

	if len(result.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", result.Errors)
	}
	if len(result.Records) != 1 {
		t.Fatalf("got %d records, want 1", len(result.Records))
	}

	record := result.Records[0]
	if record.Type != types.TypeA {
		t.Errorf("type = %q, want default A", record.Type)
	}
	if !record.NeedsIPLookup {
		t.Error("implicit A record without content must need IP lookup")
	}
	if record.TTL != 300 {
		t.Errorf("ttl = %d, want default 300", record.TTL)
	}
}

func TestParse_OtherProviderIgnored(t *testing.T) {
	parser := testParser()

	result := parser.Parse(map[string]string{
		"trafegodns.route53.app.example.com.type":    "A",
		"trafegodns.route53.app.example.com.content": "203.0.113.1",
	}, "container-1")

	if len(result.Records) != 0 {
		t.Errorf("records for another provider leaked: %v", result.Records)
	}
	if len(result.Errors) != 0 {
		t.Errorf("unexpected errors: %v", result.Errors)
	}
}

func TestParse_UnrelatedLabelsIgnored(t *testing.T) {
	parser := testParser()

	result := parser.Parse(map[string]string{
		"traefik.http.routers.web.rule":      "Host(`web.example.com`)",
		"com.docker.compose.service":         "web",
		"trafegodnsx.cloudflare.a.b.content": "ignored, different prefix",
	}, "container-1")

	if len(result.Records) != 0 || len(result.Errors) != 0 {
		t.Errorf("unrelated labels produced output: %+v", result)
	}
}

func TestParse_HostnameNormalization(t *testing.T) {
	parser := testParser()

	result := parser.Parse(map[string]string{
		"trafegodns.cloudflare.App.Example.COM..content": "203.0.113.1",
	}, "container-1")

	if len(result.Records) != 1 {
		t.Fatalf("got %d records, want 1 (errors: %v)", len(result.Records), result.Errors)
	}
	if result.Records[0].Name != "app.example.com" {
		t.Errorf("name = %q, want normalized app.example.com", result.Records[0].Name)
	}
}

func TestParse_WildcardHostnames(t *testing.T) {
	parser := testParser()

	// Leading wildcard is allowed.
	result := parser.Parse(map[string]string{
		"trafegodns.cloudflare.*.example.com.content": "203.0.113.1",
	}, "container-1")
	if len(result.Records) != 1 {
		t.Fatalf("leading wildcard rejected: %v", result.Errors)
	}
	if result.Records[0].Name != "*.example.com" {
		t.Errorf("name = %q", result.Records[0].Name)
	}

	// Mid-name wildcard is not.
	result = parser.Parse(map[string]string{
		"trafegodns.cloudflare.host*.example.com.content": "203.0.113.1",
	}, "container-1")
	if len(result.Records) != 0 || len(result.Errors) == 0 {
		t.Error("mid-name wildcard accepted")
	}
}

func TestParse_InvalidTypeRejected(t *testing.T) {
	parser := testParser()

	result := parser.Parse(map[string]string{
		"trafegodns.cloudflare.app.example.com.type":    "PTR",
		"trafegodns.cloudflare.app.example.com.content": "1.113.0.203.in-addr.arpa",
	}, "container-1")

	if len(result.Records) != 0 {
		t.Errorf("invalid type produced a record: %v", result.Records)
	}
	if len(result.Errors) != 1 {
		t.Errorf("got %d errors, want 1", len(result.Errors))
	}
}

func TestParse_NonAddressTypeRequiresContent(t *testing.T) {
	parser := testParser()

	result := parser.Parse(map[string]string{
		"trafegodns.cloudflare.alias.example.com.type": "CNAME",
	}, "container-1")

	if len(result.Records) != 0 || len(result.Errors) == 0 {
		t.Error("CNAME without content accepted")
	}
}

func TestParse_MXRecordWithPriority(t *testing.T) {
	parser := testParser()

	result := parser.Parse(map[string]string{
		"trafegodns.cloudflare.example.com.type":     "MX",
		"trafegodns.cloudflare.example.com.content":  "mail.example.com",
		"trafegodns.cloudflare.example.com.priority": "10",
	}, "container-1")

	if len(result.Records) != 1 {
		t.Fatalf("got %d records (errors: %v)", len(result.Records), result.Errors)
	}
	if result.Records[0].Priority != 10 {
		t.Errorf("priority = %d, want 10", result.Records[0].Priority)
	}
}

func TestParse_TunnelFields(t *testing.T) {
	parser := testParser()

	result := parser.Parse(map[string]string{
		"trafegodns.cloudflare.app.example.com.tunnel": "http://web:8080",
		"trafegodns.cloudflare.app.example.com.path":   "/api",
	}, "container-1")

	if len(result.Tunnels) != 1 {
		t.Fatalf("got %d tunnels, want 1 (errors: %v)", len(result.Tunnels), result.Errors)
	}
	tunnel := result.Tunnels[0]
	if tunnel.Hostname != "app.example.com" {
		t.Errorf("hostname = %q", tunnel.Hostname)
	}
	if tunnel.Service != "http://web:8080" {
		t.Errorf("service = %q", tunnel.Service)
	}
	if tunnel.Path != "/api" {
		t.Errorf("path = %q", tunnel.Path)
	}
}

func TestParse_TunnelPathWithoutService(t *testing.T) {
	parser := testParser()

	result := parser.Parse(map[string]string{
		"trafegodns.cloudflare.app.example.com.path": "/api",
	}, "container-1")

	if len(result.Tunnels) != 0 || len(result.Errors) == 0 {
		t.Error("path without tunnel service accepted")
	}
}

func TestParse_UnknownFieldReported(t *testing.T) {
	parser := testParser()

	result := parser.Parse(map[string]string{
		"trafegodns.cloudflare.app.example.com.colour": "blue",
	}, "container-1")

	if len(result.Errors) != 1 {
		t.Errorf("got %d errors, want 1", len(result.Errors))
	}
}

func TestDedupe_ConflictingContentDropsAll(t *testing.T) {
	a := types.DesiredRecord{Record: types.Record{Type: types.TypeA, Name: "app.example.com", Content: "203.0.113.1"}}
	b := types.DesiredRecord{Record: types.Record{Type: types.TypeA, Name: "app.example.com", Content: "203.0.113.2"}}
	c := types.DesiredRecord{Record: types.Record{Type: types.TypeA, Name: "other.example.com", Content: "203.0.113.3"}}

	var errs []error
	out := Dedupe([]types.DesiredRecord{a, b, c}, &errs)

	if len(out) != 1 || out[0].Name != "other.example.com" {
		t.Errorf("Dedupe = %+v, want only other.example.com", out)
	}
	if len(errs) != 1 {
		t.Errorf("got %d conflict errors, want 1", len(errs))
	}
}

func TestDedupe_IdenticalDuplicatesCollapse(t *testing.T) {
	a := types.DesiredRecord{Record: types.Record{Type: types.TypeA, Name: "app.example.com", Content: "203.0.113.1"}}

	out := Dedupe([]types.DesiredRecord{a, a}, nil)
	if len(out) != 1 {
		t.Errorf("got %d records, want 1", len(out))
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	parser := testParser()

	tests := []struct {
		name   string
		record types.DesiredRecord
	}{
		{
			name: "basic A record",
			record: types.DesiredRecord{
				Record: types.Record{
					Type: types.TypeA, Name: "app.example.com",
					Content: "203.0.113.1", TTL: 300,
				},
				Source: types.SourceContainer, SourceID: "container-1",
			},
		},
		{
			name: "proxied CNAME",
			record: types.DesiredRecord{
				Record: types.Record{
					Type: types.TypeCNAME, Name: "www.example.com",
					Content: "app.example.com", TTL: 300, Proxied: true,
				},
				Source: types.SourceContainer, SourceID: "container-1",
			},
		},
		{
			name: "SRV with aux fields",
			record: types.DesiredRecord{
				Record: types.Record{
					Type: types.TypeSRV, Name: "_sip._tcp.example.com",
					Content: "sip.example.com", TTL: 300,
					Priority: 10, Weight: 5, Port: 5060,
				},
				Source: types.SourceContainer, SourceID: "container-1",
			},
		},
		{
			name: "implicit A needing IP lookup",
			record: types.DesiredRecord{
				Record: types.Record{
					Type: types.TypeA, Name: "auto.example.com", TTL: 300,
				},
				Source: types.SourceContainer, SourceID: "container-1",
				NeedsIPLookup: true,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := Serialize("trafegodns", "cloudflare", tt.record)
			result := parser.Parse(encoded, "container-1")

			if len(result.Errors) != 0 {
				t.Fatalf("round-trip errors: %v", result.Errors)
			}
			if len(result.Records) != 1 {
				t.Fatalf("got %d records, want 1", len(result.Records))
			}
			if result.Records[0] != tt.record {
				t.Errorf("round trip mismatch:\n got %+v\nwant %+v", result.Records[0], tt.record)
			}
		})
	}
}
