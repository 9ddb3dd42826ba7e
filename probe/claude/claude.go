// Package claude probes Claude Code quota state, either directly from the
// OAuth usage endpoint or by scraping the CLI's /usage screen.
package claude

import (
	"time"

	"github.com/mihaimyh/quotawatch/pkg/quotawatch"
)

const (
	// ID is the provider's stable identifier
	ID = "claude"
	// Name is the provider's display name
	Name = "Claude Code"

	defaultBinary   = "claude"
	defaultTokenEnv = "CLAUDE_CODE_OAUTH_TOKEN"
	secretName      = "claude_oauth_token"

	defaultTimeout = 30 * time.Second
)

// Deps carries the collaborators shared by the provider's probes.
type Deps struct {
	HTTP     quotawatch.HTTPClient
	Runner   quotawatch.ProcessRunner
	Locator  quotawatch.BinaryLocator
	Settings quotawatch.Settings
	Logger   quotawatch.Logger

	// Timeout bounds a single probe. Zero means 30s.
	Timeout time.Duration
}

func (d *Deps) fill() {
	if d.Logger == nil {
		d.Logger = &quotawatch.NoopLogger{}
	}
	if d.Timeout <= 0 {
		d.Timeout = defaultTimeout
	}
}

// New assembles the Claude Code provider with its API and CLI probes. The
// API probe is the default mode; the probe_mode option switches to the CLI.
func New(deps Deps) (*quotawatch.Provider, error) {
	deps.fill()
	return quotawatch.NewProvider(quotawatch.ProviderConfig{
		ID:         ID,
		Name:       Name,
		CLICommand: defaultBinary,
		Probes: map[quotawatch.ProbeMode]quotawatch.Probe{
			quotawatch.ProbeModeAPI: NewAPIProbe(deps),
			quotawatch.ProbeModeCLI: NewCLIProbe(deps),
		},
		DefaultMode: quotawatch.ProbeModeAPI,
		Settings:    deps.Settings,
		Logger:      deps.Logger,
	})
}
