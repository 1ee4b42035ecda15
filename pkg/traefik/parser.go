// Package traefik extracts hostnames from Traefik router rules and maps them
// onto desired DNS records.
package traefik

import (
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/trafegodns/trafegodns/internal/types"
	"github.com/trafegodns/trafegodns/pkg/labels"
)

// hostRegex matches Host(`a`) and Host(`a`, `b`) patterns in router rules,
// capturing everything between the parentheses.
var hostRegex = regexp.MustCompile(`Host\(([^)]*)\)`)

// hostRegexpRegex matches HostRegexp(...) matchers, which cannot yield a
// concrete hostname and are skipped with a warning.
var hostRegexpRegex = regexp.MustCompile(`HostRegexp\(`)

// backtickLiteral captures one backtick-quoted literal.
var backtickLiteral = regexp.MustCompile("`([^`]*)`")

const (
	routerLabelPrefix = "traefik.http.routers."
	routerRuleSuffix  = ".rule"
)

// ExtractHostnames returns the deduplicated hostnames named by Host()
// matchers in a router rule, in order of appearance. HostRegexp matchers are
// skipped.
func ExtractHostnames(routerName, rule string) []string {
	if hostRegexpRegex.MatchString(rule) {
		log.Warn().
			Str("router", routerName).
			Str("rule", rule).
			Msg("HostRegexp matcher cannot be resolved to a hostname, skipping")
	}

	seen := make(map[string]struct{})
	var hosts []string

	for _, match := range hostRegex.FindAllStringSubmatch(rule, -1) {
		for _, literal := range backtickLiteral.FindAllStringSubmatch(match[1], -1) {
			hostname := strings.TrimSpace(literal[1])
			if hostname == "" {
				continue
			}
			if _, ok := seen[hostname]; ok {
				continue
			}
			seen[hostname] = struct{}{}
			hosts = append(hosts, hostname)
		}
	}
	return hosts
}

// RouterName extracts the router name from a container label key of the form
// "traefik.http.routers.<name>.rule", or "" for any other key.
func RouterName(key string) string {
	if !strings.HasPrefix(key, routerLabelPrefix) || !strings.HasSuffix(key, routerRuleSuffix) {
		return ""
	}
	name := strings.TrimSuffix(strings.TrimPrefix(key, routerLabelPrefix), routerRuleSuffix)
	return name
}

// RecordsFromRouters maps polled routers onto desired records using the
// parser defaults: default type, TTL and proxied flag, with A/AAAA records
// deferring content to the public IP lookup when no default content is set.
// Invalid hostnames are logged and skipped.
func RecordsFromRouters(routers []types.RouterInput, defaults labels.Defaults) []types.DesiredRecord {
	var out []types.DesiredRecord
	for _, router := range routers {
		for _, hostname := range ExtractHostnames(router.Name, router.Rule) {
			record, ok := buildRecord(hostname, router.Name, defaults)
			if !ok {
				continue
			}
			out = append(out, record)
		}
	}
	return out
}

// RecordsFromLabels maps a container's Traefik router rule labels onto
// desired records. Used in traefik operation mode when rules are read from
// container labels rather than the Traefik API.
func RecordsFromLabels(labelMap map[string]string, defaults labels.Defaults) []types.DesiredRecord {
	var out []types.DesiredRecord
	for key, rule := range labelMap {
		routerName := RouterName(key)
		if routerName == "" {
			continue
		}
		for _, hostname := range ExtractHostnames(routerName, rule) {
			record, ok := buildRecord(hostname, routerName, defaults)
			if !ok {
				continue
			}
			out = append(out, record)
		}
	}
	return out
}

func buildRecord(hostname, routerName string, defaults labels.Defaults) (types.DesiredRecord, bool) {
	normalized, err := labels.NormalizeHostname(hostname)
	if err != nil {
		log.Warn().
			Err(err).
			Str("router", routerName).
			Str("hostname", hostname).
			Msg("Skipping invalid hostname from router rule")
		return types.DesiredRecord{}, false
	}

	recordType := defaults.RecordType
	if recordType == "" {
		recordType = types.TypeA
	}

	record := types.DesiredRecord{
		Record: types.Record{
			Type:    recordType,
			Name:    normalized,
			Content: defaults.Content,
			TTL:     defaults.TTL,
			Proxied: defaults.Proxied,
		},
		Source:   types.SourceTraefik,
		SourceID: routerName,
	}
	if record.Content == "" {
		switch record.Type {
		case types.TypeA, types.TypeAAAA:
			record.NeedsIPLookup = true
		default:
			log.Warn().
				Str("router", routerName).
				Str("hostname", normalized).
				Str("type", string(record.Type)).
				Msg("Default record type requires default content, skipping")
			return types.DesiredRecord{}, false
		}
	}
	return record, true
}
