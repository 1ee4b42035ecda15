// Package policy holds the hostname policy lists: preserved hostnames that
// the engine must never touch, and managed hostnames that are always part of
// the desired set.
package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/miekg/dns"
	"github.com/rs/zerolog/log"

	"github.com/trafegodns/trafegodns/internal/provider"
	"github.com/trafegodns/trafegodns/internal/types"
)

const (
	preservedFile = "preserved.json"
	managedFile   = "managed.json"
)

// Store persists the preserved patterns and managed hostnames as JSON files
// under <dataDir>/policy, rewritten atomically on every mutation. Reads are
// lock-cheap; writes briefly serialize all readers.
type Store struct {
	dir string

	mu        sync.RWMutex
	preserved []string
	managed   []types.DesiredRecord
}

// NewStore loads (or creates) the policy files under dir.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create policy directory: %w", err)
	}

	s := &Store{dir: dir}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	if err := readJSON(filepath.Join(s.dir, preservedFile), &s.preserved); err != nil {
		return fmt.Errorf("failed to load preserved hostnames: %w", err)
	}
	if err := readJSON(filepath.Join(s.dir, managedFile), &s.managed); err != nil {
		return fmt.Errorf("failed to load managed hostnames: %w", err)
	}

	log.Debug().
		Int("preserved", len(s.preserved)).
		Int("managed", len(s.managed)).
		Msg("Policy store loaded")
	return nil
}

// PreservedHostnames returns the preserved patterns.
func (s *Store) PreservedHostnames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.preserved...)
}

// AddPreservedHostname validates and persists a pattern: either a literal
// FQDN or "*.suffix" with a valid DNS-name suffix.
func (s *Store) AddPreservedHostname(pattern string) error {
	pattern = types.CanonicalName(strings.TrimSpace(pattern))
	if err := validatePattern(pattern); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.preserved {
		if existing == pattern {
			return fmt.Errorf("preserved hostname %q: %w", pattern, provider.ErrConflict)
		}
	}
	s.preserved = append(s.preserved, pattern)
	return writeJSON(filepath.Join(s.dir, preservedFile), s.preserved)
}

// RemovePreservedHostname deletes a pattern.
func (s *Store) RemovePreservedHostname(pattern string) error {
	pattern = types.CanonicalName(strings.TrimSpace(pattern))

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.preserved {
		if existing == pattern {
			s.preserved = append(s.preserved[:i], s.preserved[i+1:]...)
			return writeJSON(filepath.Join(s.dir, preservedFile), s.preserved)
		}
	}
	return fmt.Errorf("preserved hostname %q: %w", pattern, provider.ErrNotFound)
}

// ShouldPreserve reports whether any pattern matches the hostname. Literal
// patterns match exactly (case-insensitive); "*.suffix" matches any hostname
// ending in ".suffix" but not the bare suffix itself.
func (s *Store) ShouldPreserve(hostname string) bool {
	hostname = types.CanonicalName(hostname)

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, pattern := range s.preserved {
		if matchPattern(pattern, hostname) {
			return true
		}
	}
	return false
}

// ManagedHostnames returns the managed records.
func (s *Store) ManagedHostnames() []types.DesiredRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.DesiredRecord, len(s.managed))
	copy(out, s.managed)
	for i := range out {
		out[i].Source = types.SourceManaged
	}
	return out
}

// AddManagedHostname validates and persists a record.
func (s *Store) AddManagedHostname(record types.DesiredRecord) error {
	record.Name = types.CanonicalName(record.Name)
	record.Source = types.SourceManaged
	if record.Name == "" || !validDNSName(strings.TrimPrefix(record.Name, "*.")) {
		return fmt.Errorf("managed hostname %q: %w", record.Name, provider.ErrValidation)
	}
	if record.Type == "" {
		return fmt.Errorf("managed hostname %q: missing record type: %w", record.Name, provider.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.managed {
		if existing.IdentityKey() == record.IdentityKey() {
			return fmt.Errorf("managed hostname %q: %w", record.Name, provider.ErrConflict)
		}
	}
	s.managed = append(s.managed, record)
	return writeJSON(filepath.Join(s.dir, managedFile), s.managed)
}

// RemoveManagedHostname deletes all managed records for a hostname.
func (s *Store) RemoveManagedHostname(hostname string) error {
	hostname = types.CanonicalName(hostname)

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.managed[:0]
	removed := false
	for _, existing := range s.managed {
		if types.CanonicalName(existing.Name) == hostname {
			removed = true
			continue
		}
		kept = append(kept, existing)
	}
	if !removed {
		return fmt.Errorf("managed hostname %q: %w", hostname, provider.ErrNotFound)
	}
	s.managed = kept
	return writeJSON(filepath.Join(s.dir, managedFile), s.managed)
}

func matchPattern(pattern, hostname string) bool {
	if suffix, ok := strings.CutPrefix(pattern, "*."); ok {
		return strings.HasSuffix(hostname, "."+suffix)
	}
	return pattern == hostname
}

func validatePattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("empty pattern: %w", provider.ErrValidation)
	}
	if suffix, ok := strings.CutPrefix(pattern, "*."); ok {
		if !validDNSName(suffix) {
			return fmt.Errorf("wildcard pattern %q: invalid suffix: %w", pattern, provider.ErrValidation)
		}
		return nil
	}
	if strings.Contains(pattern, "*") {
		return fmt.Errorf("pattern %q: wildcard only allowed as leading *.: %w", pattern, provider.ErrValidation)
	}
	if !validDNSName(pattern) {
		return fmt.Errorf("pattern %q: not a valid DNS name: %w", pattern, provider.ErrValidation)
	}
	return nil
}

func validDNSName(name string) bool {
	if name == "" {
		return false
	}
	_, ok := dns.IsDomainName(name)
	return ok
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// writeJSON rewrites the file atomically: write to a temp file in the same
// directory, then rename over the target.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".policy-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
