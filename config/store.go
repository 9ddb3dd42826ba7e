package config

import (
	"os"
	"sync"
)

// Store adapts a loaded Config to the core Settings interface. Reads go
// through the in-memory state; mutations are written through to the
// configuration file synchronously so they survive restarts.
type Store struct {
	mu   sync.RWMutex
	cfg  *Config
	path string
}

// NewStore wraps cfg, persisting mutations to path. An empty path selects
// the default location.
func NewStore(cfg *Config, path string) *Store {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Store{cfg: cfg, path: path}
}

// Config returns a copy of the current configuration
func (s *Store) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.clone()
}

// Path returns the backing configuration file location
func (s *Store) Path() string {
	if s.path == "" {
		return DefaultPath()
	}
	return s.path
}

// Reload re-reads the configuration file, replacing the in-memory state.
// The previous state is kept when the file fails to load.
func (s *Store) Reload() error {
	cfg, err := Load(s.Path())
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	return nil
}

// ProviderEnabled implements the core Settings interface
func (s *Store) ProviderEnabled(providerID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Providers[providerID].Enabled
}

// SetProviderEnabled implements the core Settings interface
func (s *Store) SetProviderEnabled(providerID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.Providers == nil {
		s.cfg.Providers = make(map[string]ProviderConfig)
	}
	p := s.cfg.Providers[providerID]
	p.Enabled = enabled
	s.cfg.Providers[providerID] = p
	return s.save()
}

// Secret implements the core Settings interface. Values pass through
// os.ExpandEnv so the file can reference environment variables instead of
// holding credentials directly; a value that expands to empty counts as
// absent.
func (s *Store) Secret(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.cfg.Secrets[name]
	if !ok {
		return "", false
	}
	value = os.ExpandEnv(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// SetSecret implements the core Settings interface
func (s *Store) SetSecret(name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.Secrets == nil {
		s.cfg.Secrets = make(map[string]string)
	}
	s.cfg.Secrets[name] = value
	return s.save()
}

// DeleteSecret implements the core Settings interface
func (s *Store) DeleteSecret(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cfg.Secrets[name]; !ok {
		return nil
	}
	delete(s.cfg.Secrets, name)
	return s.save()
}

// ProviderOption implements the core Settings interface
func (s *Store) ProviderOption(providerID, key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Providers[providerID].Options[key]
}

// save persists the current state. Callers hold the write lock.
func (s *Store) save() error {
	return Save(s.cfg, s.path)
}
