package quotawatch

// Option keys understood by providers and probes.
const (
	// OptionProbeMode overrides a provider's default probe mode ("api" or "cli")
	OptionProbeMode = "probe_mode"
	// OptionRegion selects a backend region for providers with per-region endpoints
	OptionRegion = "region"
	// OptionTokenEnv overrides the environment variable consulted for a credential
	OptionTokenEnv = "token_env"
	// OptionBinary overrides the CLI binary name or path
	OptionBinary = "binary"
	// OptionGroupID carries a backend account group identifier
	OptionGroupID = "group_id"
)

// Settings is the persisted configuration collaborator. It is the single
// source of truth for enablement flags, credentials and per-provider
// options; callers read through it on every access rather than caching.
// Setters persist synchronously and report persistence failures.
type Settings interface {
	// ProviderEnabled reports whether the provider is enabled.
	ProviderEnabled(providerID string) bool

	// SetProviderEnabled persists the provider's enabled flag.
	SetProviderEnabled(providerID string, enabled bool) error

	// Secret returns a stored credential. ok is false when the secret is
	// absent or empty.
	Secret(name string) (value string, ok bool)

	// SetSecret persists a credential.
	SetSecret(name, value string) error

	// DeleteSecret removes a credential. Deleting an absent secret is not
	// an error.
	DeleteSecret(name string) error

	// ProviderOption returns a per-provider option value, empty when unset.
	ProviderOption(providerID, key string) string
}
