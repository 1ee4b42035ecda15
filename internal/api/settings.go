package api

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/trafegodns/trafegodns/internal/types"
)

// Settings holds the runtime-mutable operational switches. The reconcilers
// read them through closures so a toggle takes effect on the next cycle.
type Settings struct {
	path string // empty means in-memory only

	mu             sync.RWMutex
	cleanupEnabled bool
	mode           types.OperationMode
}

type persistedSettings struct {
	CleanupEnabled bool   `json:"cleanup_enabled"`
	Mode           string `json:"mode"`
}

// NewSettings seeds in-memory runtime settings from static configuration.
func NewSettings(cleanupEnabled bool, mode types.OperationMode) *Settings {
	return &Settings{cleanupEnabled: cleanupEnabled, mode: mode}
}

// NewPersistentSettings seeds the settings and overlays any values persisted
// at path from a previous run. API-driven changes are written back so they
// survive restarts.
func NewPersistentSettings(path string, cleanupEnabled bool, mode types.OperationMode) (*Settings, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	s := &Settings{path: path, cleanupEnabled: cleanupEnabled, mode: mode}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}

	var persisted persistedSettings
	if err := json.Unmarshal(data, &persisted); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Ignoring corrupt runtime settings file")
		return s, nil
	}

	s.cleanupEnabled = persisted.CleanupEnabled
	switch m := types.OperationMode(persisted.Mode); m {
	case types.ModeTraefik, types.ModeDirect:
		s.mode = m
	}
	return s, nil
}

// CleanupEnabled reports whether orphan cleanup is on.
func (s *Settings) CleanupEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cleanupEnabled
}

// SetCleanupEnabled toggles orphan cleanup.
func (s *Settings) SetCleanupEnabled(enabled bool) {
	s.mu.Lock()
	s.cleanupEnabled = enabled
	s.save()
	s.mu.Unlock()
}

// Mode returns the active operation mode.
func (s *Settings) Mode() types.OperationMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// SetMode records a mode switch.
func (s *Settings) SetMode(mode types.OperationMode) {
	s.mu.Lock()
	s.mode = mode
	s.save()
	s.mu.Unlock()
}

// save persists the current values atomically. Caller holds the lock.
func (s *Settings) save() {
	if s.path == "" {
		return
	}

	data, err := json.MarshalIndent(persistedSettings{
		CleanupEnabled: s.cleanupEnabled,
		Mode:           string(s.mode),
	}, "", "  ")
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode runtime settings")
		return
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".settings-*")
	if err != nil {
		log.Error().Err(err).Msg("Failed to persist runtime settings")
		return
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		log.Error().Err(err).Msg("Failed to persist runtime settings")
		return
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		log.Error().Err(err).Msg("Failed to persist runtime settings")
		return
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		log.Error().Err(err).Msg("Failed to persist runtime settings")
	}
}
