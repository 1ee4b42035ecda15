// Package types provides common type definitions for trafegodns.
package types

import (
	"strings"
)

// RecordType represents a DNS record type.
type RecordType string

const (
	TypeA     RecordType = "A"
	TypeAAAA  RecordType = "AAAA"
	TypeCNAME RecordType = "CNAME"
	TypeTXT   RecordType = "TXT"
	TypeMX    RecordType = "MX"
	TypeNS    RecordType = "NS"
	TypeSRV   RecordType = "SRV"
	TypeCAA   RecordType = "CAA"
)

// Source identifies where a desired record came from.
type Source string

const (
	// SourceManaged is a record pinned in configuration; it is part of the
	// desired set on every cycle regardless of container or router state.
	SourceManaged Source = "managed"
	// SourceTraefik is a record derived from a Traefik router rule.
	SourceTraefik Source = "traefik"
	// SourceContainer is a record derived from container labels.
	SourceContainer Source = "container"
)

// Record represents a DNS record at a provider.
//
// Identity is (Type, Name); Name is fully qualified and compared
// case-insensitively. ExternalID is the provider-assigned opaque ID when the
// provider has stable IDs; adapters for providers without stable IDs
// synthesize one.
type Record struct {
	ExternalID string     `json:"external_id,omitempty"`
	Type       RecordType `json:"type"`
	Name       string     `json:"name"`
	Content    string     `json:"content"`

	// TTL in seconds; 0 or 1 means provider "auto".
	TTL int `json:"ttl"`

	// Proxied is only meaningful for A/AAAA/CNAME at providers that support
	// origin proxying.
	Proxied bool `json:"proxied,omitempty"`

	// Priority applies to MX and SRV records.
	Priority int `json:"priority,omitempty"`

	// Weight and Port apply to SRV records.
	Weight int `json:"weight,omitempty"`
	Port   int `json:"port,omitempty"`

	// Flags and Tag apply to CAA records.
	Flags int    `json:"flags,omitempty"`
	Tag   string `json:"tag,omitempty"`

	// Comment is carried on providers that support it (Cloudflare), where it
	// doubles as the ownership marker.
	Comment string `json:"comment,omitempty"`
}

// DesiredRecord is a Record plus provenance.
type DesiredRecord struct {
	Record

	// Source is where this record came from.
	Source Source `json:"source"`

	// SourceID is the container ID or router name that produced the record.
	SourceID string `json:"source_id,omitempty"`

	// NeedsIPLookup marks an A/AAAA record whose content must be resolved
	// from the public-IP resolver at reconciliation time.
	NeedsIPLookup bool `json:"needs_ip_lookup,omitempty"`
}

// CanonicalName lowercases a hostname and strips the trailing dot.
func CanonicalName(name string) string {
	return strings.ToLower(strings.TrimSuffix(name, "."))
}

// Key returns the stable cache key for a record: the external ID when
// present, otherwise type|name|content.
func (r Record) Key() string {
	if r.ExternalID != "" {
		return r.ExternalID
	}
	return string(r.Type) + "|" + CanonicalName(r.Name) + "|" + r.Content
}

// IdentityKey returns the (type, name) identity used for diffing.
func (r Record) IdentityKey() string {
	return string(r.Type) + "|" + CanonicalName(r.Name)
}

// IsHostnameContent reports whether the record content is itself a hostname
// and therefore compared case-insensitively.
func (r Record) IsHostnameContent() bool {
	switch r.Type {
	case TypeCNAME, TypeMX, TypeNS, TypeSRV:
		return true
	}
	return false
}

// IsWildcard reports whether the record name is a wildcard ("*.example.com").
func (r Record) IsWildcard() bool {
	return strings.HasPrefix(r.Name, "*.")
}

// SourceRank orders sources for tie-breaking when two desired records collide
// on identity: managed wins over traefik, traefik over container.
func SourceRank(s Source) int {
	switch s {
	case SourceManaged:
		return 0
	case SourceTraefik:
		return 1
	case SourceContainer:
		return 2
	}
	return 3
}

// InZone reports whether a hostname belongs to a zone. The zone "all"
// (Pi-hole) accepts every hostname.
func InZone(name, zone string) bool {
	if zone == "" || zone == "all" {
		return true
	}
	name = CanonicalName(name)
	zone = CanonicalName(zone)
	return name == zone || strings.HasSuffix(name, "."+zone)
}
