// Package labels maps container label maps onto desired DNS records.
//
// The label grammar is
//
//	<prefix>.<provider>.<hostname>.<field>=<value>
//
// where prefix defaults to "trafegodns", provider names the DNS backend the
// record is destined for, hostname is the fully qualified name (it may
// contain dots), and field is one of type, content, ttl, proxied, priority,
// weight, port, flags, tag, tunnel, path.
package labels

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/miekg/dns"

	"github.com/trafegodns/trafegodns/internal/types"
)

// DefaultPrefix is the default generic label prefix.
const DefaultPrefix = "trafegodns"

// Known field names. A trailing label segment outside this set is treated as
// part of the hostname only when a known field follows; otherwise the label
// is reported as an error.
var recordFields = map[string]bool{
	"type":     true,
	"content":  true,
	"ttl":      true,
	"proxied":  true,
	"priority": true,
	"weight":   true,
	"port":     true,
	"flags":    true,
	"tag":      true,
}

var tunnelFields = map[string]bool{
	"tunnel": true,
	"path":   true,
}

// Defaults supplies values for fields the labels leave unset.
type Defaults struct {
	RecordType types.RecordType
	TTL        int
	Proxied    bool
	// Content is the default record content. Empty means "resolve the public
	// IP at reconciliation time" for A/AAAA records.
	Content string
}

// Parser extracts desired records for one provider from container labels.
type Parser struct {
	prefix   string
	provider string
	defaults Defaults
}

// NewParser creates a parser for the given label prefix and provider name.
func NewParser(prefix, provider string, defaults Defaults) *Parser {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if defaults.RecordType == "" {
		defaults.RecordType = types.TypeA
	}
	return &Parser{prefix: prefix, provider: provider, defaults: defaults}
}

// Result holds the parse outcome. Conflicting duplicate hostnames are
// reported in Errors and excluded from Records; the rest of the set is kept.
type Result struct {
	Records []types.DesiredRecord
	Tunnels []types.TunnelDesired
	Errors  []error
}

// Parse maps a container's label map to desired records for the parser's
// provider. sourceID is the container ID recorded as provenance.
func (p *Parser) Parse(labelMap map[string]string, sourceID string) *Result {
	result := &Result{}

	records := make(map[string]map[string]string) // hostname -> field -> value
	tunnels := make(map[string]map[string]string)

	for key, value := range labelMap {
		if !strings.HasPrefix(key, p.prefix+".") {
			continue
		}
		rest := strings.TrimPrefix(key, p.prefix+".")

		segments := strings.Split(rest, ".")
		if len(segments) < 3 {
			result.Errors = append(result.Errors, fmt.Errorf("label %q: expected <provider>.<hostname>.<field>", key))
			continue
		}
		providerName := segments[0]
		field := segments[len(segments)-1]
		hostname := strings.Join(segments[1:len(segments)-1], ".")

		if providerName != p.provider {
			continue
		}

		switch {
		case recordFields[field]:
			if records[hostname] == nil {
				records[hostname] = make(map[string]string)
			}
			records[hostname][field] = value
		case tunnelFields[field]:
			if tunnels[hostname] == nil {
				tunnels[hostname] = make(map[string]string)
			}
			tunnels[hostname][field] = value
		default:
			result.Errors = append(result.Errors, fmt.Errorf("label %q: unknown field %q", key, field))
		}
	}

	for hostname, fields := range records {
		record, err := p.buildRecord(hostname, fields, sourceID)
		if err != nil {
			result.Errors = append(result.Errors, err)
			continue
		}
		result.Records = append(result.Records, record)
	}

	for hostname, fields := range tunnels {
		normalized, err := NormalizeHostname(hostname)
		if err != nil {
			result.Errors = append(result.Errors, err)
			continue
		}
		service := fields["tunnel"]
		if service == "" {
			result.Errors = append(result.Errors, fmt.Errorf("tunnel hostname %q: missing service", hostname))
			continue
		}
		result.Tunnels = append(result.Tunnels, types.TunnelDesired{
			Hostname: normalized,
			Service:  service,
			Path:     fields["path"],
			SourceID: sourceID,
		})
	}

	result.Records = Dedupe(result.Records, &result.Errors)
	return result
}

func (p *Parser) buildRecord(hostname string, fields map[string]string, sourceID string) (types.DesiredRecord, error) {
	normalized, err := NormalizeHostname(hostname)
	if err != nil {
		return types.DesiredRecord{}, err
	}

	record := types.DesiredRecord{
		Record: types.Record{
			Type:    p.defaults.RecordType,
			Name:    normalized,
			Content: p.defaults.Content,
			TTL:     p.defaults.TTL,
			Proxied: p.defaults.Proxied,
		},
		Source:   types.SourceContainer,
		SourceID: sourceID,
	}

	for field, value := range fields {
		switch field {
		case "type":
			record.Type = types.RecordType(strings.ToUpper(strings.TrimSpace(value)))
		case "content":
			record.Content = value
		case "ttl":
			record.TTL = parseInt(value, record.TTL)
		case "proxied":
			record.Proxied = parseBool(value, record.Proxied)
		case "priority":
			record.Priority = parseInt(value, 0)
		case "weight":
			record.Weight = parseInt(value, 0)
		case "port":
			record.Port = parseInt(value, 0)
		case "flags":
			record.Flags = parseInt(value, 0)
		case "tag":
			record.Tag = value
		}
	}

	switch record.Type {
	case types.TypeA, types.TypeAAAA, types.TypeCNAME, types.TypeTXT,
		types.TypeMX, types.TypeNS, types.TypeSRV, types.TypeCAA:
	default:
		return types.DesiredRecord{}, fmt.Errorf("hostname %q: invalid record type %q", normalized, record.Type)
	}

	if record.Content == "" {
		switch record.Type {
		case types.TypeA, types.TypeAAAA:
			record.NeedsIPLookup = true
		default:
			return types.DesiredRecord{}, fmt.Errorf("hostname %q: %s record requires content", normalized, record.Type)
		}
	}

	return record, nil
}

// NormalizeHostname trims the trailing dot, lowercases, and validates a
// hostname. '*' is rejected except as a leading "*." wildcard.
func NormalizeHostname(hostname string) (string, error) {
	normalized := types.CanonicalName(strings.TrimSpace(hostname))
	if normalized == "" {
		return "", fmt.Errorf("empty hostname")
	}

	check := normalized
	if rest, ok := strings.CutPrefix(normalized, "*."); ok {
		check = rest
	}
	if strings.Contains(check, "*") {
		return "", fmt.Errorf("hostname %q: wildcard only allowed as leading *.", hostname)
	}
	if _, ok := dns.IsDomainName(check); !ok {
		return "", fmt.Errorf("hostname %q: not a valid DNS name", hostname)
	}
	return normalized, nil
}

// Dedupe removes exact duplicates and drops identity collisions with
// conflicting content, appending a conflict error for each dropped pair.
func Dedupe(records []types.DesiredRecord, errs *[]error) []types.DesiredRecord {
	byIdentity := make(map[string][]types.DesiredRecord)
	var order []string
	for _, r := range records {
		key := r.IdentityKey()
		if _, seen := byIdentity[key]; !seen {
			order = append(order, key)
		}
		byIdentity[key] = append(byIdentity[key], r)
	}

	var out []types.DesiredRecord
	for _, key := range order {
		group := byIdentity[key]
		keep := group[0]
		conflict := false
		for _, other := range group[1:] {
			if other.Content != keep.Content {
				conflict = true
				break
			}
		}
		if conflict {
			if errs != nil {
				*errs = append(*errs, fmt.Errorf("hostname %q (%s): conflicting label content, all variants dropped", keep.Name, keep.Type))
			}
			continue
		}
		out = append(out, keep)
	}
	return out
}

// Serialize renders a desired record back into the canonical label encoding.
// It is the inverse of Parse for records expressible as labels.
func Serialize(prefix, provider string, d types.DesiredRecord) map[string]string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	base := prefix + "." + provider + "." + d.Name + "."

	out := map[string]string{
		base + "type": string(d.Type),
	}
	if !d.NeedsIPLookup && d.Content != "" {
		out[base+"content"] = d.Content
	}
	if d.TTL != 0 {
		out[base+"ttl"] = strconv.Itoa(d.TTL)
	}
	if d.Proxied {
		out[base+"proxied"] = "true"
	}
	if d.Priority != 0 {
		out[base+"priority"] = strconv.Itoa(d.Priority)
	}
	if d.Weight != 0 {
		out[base+"weight"] = strconv.Itoa(d.Weight)
	}
	if d.Port != 0 {
		out[base+"port"] = strconv.Itoa(d.Port)
	}
	if d.Flags != 0 {
		out[base+"flags"] = strconv.Itoa(d.Flags)
	}
	if d.Tag != "" {
		out[base+"tag"] = d.Tag
	}
	return out
}

func parseBool(s string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return def
	}
}

func parseInt(s string, def int) int {
	if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
		return i
	}
	return def
}
