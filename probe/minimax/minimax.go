// Package minimax probes the MiniMax coding-plan usage API.
package minimax

import (
	"time"

	"github.com/mihaimyh/quotawatch/pkg/quotawatch"
)

const (
	// ID is the provider's stable identifier
	ID = "minimax"
	// Name is the provider's display name
	Name = "MiniMax"

	defaultTokenEnv = "MINIMAX_API_KEY"
	secretName      = "minimax_api_key"

	defaultTimeout = 30 * time.Second
)

// Deps carries the collaborators used by the provider's probe.
type Deps struct {
	HTTP     quotawatch.HTTPClient
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

// New assembles the MiniMax provider. The coding plan has no CLI surface, so
// the API probe is the only mode.
func New(deps Deps) (*quotawatch.Provider, error) {
	deps.fill()
	return quotawatch.NewProvider(quotawatch.ProviderConfig{
		ID:   ID,
		Name: Name,
		Probes: map[quotawatch.ProbeMode]quotawatch.Probe{
			quotawatch.ProbeModeAPI: NewAPIProbe(deps),
		},
		DefaultMode: quotawatch.ProbeModeAPI,
		Settings:    deps.Settings,
		Logger:      deps.Logger,
	})
}
