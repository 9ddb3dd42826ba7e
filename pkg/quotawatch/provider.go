package quotawatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// RefreshState is a provider's last observed refresh outcome.
type RefreshState int

const (
	// RefreshIdle means no refresh has been attempted yet
	RefreshIdle RefreshState = iota
	// RefreshSyncing means a refresh is in flight
	RefreshSyncing
	// RefreshSucceeded means the last refresh produced a snapshot
	RefreshSucceeded
	// RefreshFailed means the last refresh reported a probe error
	RefreshFailed
)

// String returns the lowercase name of the refresh state
func (s RefreshState) String() string {
	switch s {
	case RefreshIdle:
		return "idle"
	case RefreshSyncing:
		return "syncing"
	case RefreshSucceeded:
		return "succeeded"
	case RefreshFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ProviderConfig assembles a provider from its identity and collaborators.
type ProviderConfig struct {
	// ID is the stable identifier used in settings, events and storage.
	ID string

	// Name is the human-readable display name.
	Name string

	// CLICommand is the vendor CLI binary name, empty for API-only providers.
	CLICommand string

	// Probes maps each supported mode to its probe. At least one is required.
	Probes map[ProbeMode]Probe

	// DefaultMode is used when settings carry no probe_mode override. It
	// must be a key of Probes.
	DefaultMode ProbeMode

	// Settings is required; enablement and options are read through it.
	Settings Settings

	// Logger is optional and defaults to a no-op logger.
	Logger Logger
}

// Provider bundles one backend's identity with its probes and holds the
// latest refresh outcome. Enablement and per-provider options live in
// Settings and are read through on every access; only the snapshot, the
// last error and the syncing flag are held here.
type Provider struct {
	id         string
	name       string
	cliCommand string

	probes      map[ProbeMode]Probe
	defaultMode ProbeMode

	settings Settings
	logger   Logger

	mu       sync.RWMutex
	syncing  bool
	snapshot *Snapshot
	lastErr  error
}

// NewProvider creates a provider from the config.
func NewProvider(config ProviderConfig) (*Provider, error) {
	if config.ID == "" {
		return nil, errors.New("provider id is required")
	}
	if config.Settings == nil {
		return nil, errors.New("settings are required")
	}
	if len(config.Probes) == 0 {
		return nil, fmt.Errorf("provider %s has no probes", config.ID)
	}
	if _, ok := config.Probes[config.DefaultMode]; !ok {
		return nil, fmt.Errorf("provider %s default mode %q has no probe", config.ID, config.DefaultMode)
	}
	logger := config.Logger
	if logger == nil {
		logger = &NoopLogger{}
	}
	return &Provider{
		id:          config.ID,
		name:        config.Name,
		cliCommand:  config.CLICommand,
		probes:      config.Probes,
		defaultMode: config.DefaultMode,
		settings:    config.Settings,
		logger:      logger,
	}, nil
}

// ID returns the provider's stable identifier
func (p *Provider) ID() string { return p.id }

// Name returns the provider's display name
func (p *Provider) Name() string { return p.name }

// CLICommand returns the vendor CLI binary name, empty for API-only providers
func (p *Provider) CLICommand() string { return p.cliCommand }

// Enabled reads the enablement flag through settings
func (p *Provider) Enabled() bool {
	return p.settings.ProviderEnabled(p.id)
}

// SetEnabled persists the enablement flag through settings
func (p *Provider) SetEnabled(enabled bool) error {
	return p.settings.SetProviderEnabled(p.id, enabled)
}

// ActiveProbe resolves the probe selected by the probe_mode option, falling
// back to the default mode when the option is unset or names an unknown mode.
func (p *Provider) ActiveProbe() Probe {
	mode := ProbeMode(p.settings.ProviderOption(p.id, OptionProbeMode))
	if probe, ok := p.probes[mode]; ok {
		return probe
	}
	return p.probes[p.defaultMode]
}

// Available reports whether the active probe's prerequisites are satisfied
func (p *Provider) Available(ctx context.Context) bool {
	return p.ActiveProbe().Available(ctx)
}

// Refresh runs the active probe and records the outcome. On success the
// snapshot is replaced and any previous error cleared; on failure the last
// snapshot is kept, the error recorded and returned. The syncing flag
// brackets the whole call on every exit path.
func (p *Provider) Refresh(ctx context.Context) error {
	p.setSyncing(true)
	defer p.setSyncing(false)

	snapshot, err := p.ActiveProbe().Probe(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.lastErr = err
		return err
	}
	p.snapshot = snapshot
	p.lastErr = nil
	return nil
}

func (p *Provider) setSyncing(v bool) {
	p.mu.Lock()
	p.syncing = v
	p.mu.Unlock()
}

// State returns the provider's refresh state. A refresh in flight reports
// syncing even while a stale snapshot or error is still held.
func (p *Provider) State() RefreshState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	switch {
	case p.syncing:
		return RefreshSyncing
	case p.lastErr != nil:
		return RefreshFailed
	case p.snapshot != nil:
		return RefreshSucceeded
	default:
		return RefreshIdle
	}
}

// IsSyncing reports whether a refresh is in flight
func (p *Provider) IsSyncing() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.syncing
}

// Snapshot returns a copy of the latest snapshot, nil before the first
// successful refresh. A failed refresh keeps the previous snapshot.
func (p *Provider) Snapshot() *Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshot.Clone()
}

// LastError returns the error recorded by the most recent refresh, nil
// after a success
func (p *Provider) LastError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastErr
}
