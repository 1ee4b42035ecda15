package provider

import (
	"strings"

	"github.com/trafegodns/trafegodns/internal/types"
)

// RecordsEqual reports whether an existing record already satisfies a desired
// record, i.e. the row is a noop.
//
// Rules: same type, same canonicalized name, same content (lowercased for
// hostname-targeting types), same TTL unless either side is proxied (the
// provider forces TTL to auto), same proxied flag when the provider supports
// proxying, and equal type-specific auxiliary fields. A proxied flip alone is
// an update even when content and TTL match.
func RecordsEqual(existing, desired types.Record, caps Capabilities) bool {
	if existing.Type != desired.Type {
		return false
	}
	if types.CanonicalName(existing.Name) != types.CanonicalName(desired.Name) {
		return false
	}
	if !contentEqual(existing, desired) {
		return false
	}

	if caps.Proxied {
		if existing.Proxied != desired.Proxied {
			return false
		}
		// Proxied records have their TTL forced to auto; skip TTL comparison.
		if !existing.Proxied && !desired.Proxied && !ttlEqual(existing.TTL, desired.TTL) {
			return false
		}
	} else if !ttlEqual(existing.TTL, desired.TTL) {
		return false
	}

	switch existing.Type {
	case types.TypeMX:
		if existing.Priority != desired.Priority {
			return false
		}
	case types.TypeSRV:
		if existing.Priority != desired.Priority ||
			existing.Weight != desired.Weight ||
			existing.Port != desired.Port {
			return false
		}
	case types.TypeCAA:
		if existing.Flags != desired.Flags || existing.Tag != desired.Tag {
			return false
		}
	}

	return true
}

func contentEqual(a, b types.Record) bool {
	if a.IsHostnameContent() {
		return types.CanonicalName(a.Content) == types.CanonicalName(b.Content)
	}
	return a.Content == b.Content
}

// ttlEqual treats 0 and 1 both as "auto".
func ttlEqual(a, b int) bool {
	return normalizeTTL(a) == normalizeTTL(b)
}

func normalizeTTL(ttl int) int {
	if ttl <= 1 {
		return 1
	}
	return ttl
}

// ClampTTL fits a TTL into the provider's bounds; auto values pass through.
func ClampTTL(ttl int, caps Capabilities) int {
	if ttl <= 1 {
		return ttl
	}
	if caps.TTLMin > 0 && ttl < caps.TTLMin {
		return caps.TTLMin
	}
	if caps.TTLMax > 0 && ttl > caps.TTLMax {
		return caps.TTLMax
	}
	return ttl
}

// SanitizeForProvider drops fields the provider does not understand, most
// importantly the proxied flag everywhere except Cloudflare.
func SanitizeForProvider(d types.DesiredRecord, caps Capabilities) types.DesiredRecord {
	if !caps.Proxied {
		d.Proxied = false
	}
	if !caps.SupportsOwnershipMarker {
		d.Comment = ""
	}
	d.Name = types.CanonicalName(d.Name)
	if d.IsHostnameContent() {
		d.Content = strings.ToLower(strings.TrimSuffix(d.Content, "."))
	}
	d.TTL = ClampTTL(d.TTL, caps)
	return d
}
