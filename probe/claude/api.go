package claude

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/tidwall/gjson"

	"github.com/mihaimyh/quotawatch/pkg/quotawatch"
)

const (
	defaultBaseURL = "https://api.anthropic.com"
	usagePath      = "/api/oauth/usage"

	// The usage endpoint only answers OAuth-scoped requests that look like
	// Claude Code itself.
	oauthBetaHeader = "oauth-2025-04-20"
	userAgent       = "claude-code/2.0.32"
)

// APIProbe reads quota state from the Claude OAuth usage endpoint, using the
// same token Claude Code stores at login.
type APIProbe struct {
	http     quotawatch.HTTPClient
	settings quotawatch.Settings
	logger   quotawatch.Logger
	timeout  time.Duration

	baseURL string
	now     func() time.Time
}

// NewAPIProbe creates the API probe from the provider deps.
func NewAPIProbe(deps Deps) *APIProbe {
	deps.fill()
	return &APIProbe{
		http:     deps.HTTP,
		settings: deps.Settings,
		logger:   deps.Logger,
		timeout:  deps.Timeout,
		baseURL:  defaultBaseURL,
		now:      time.Now,
	}
}

// token resolves the OAuth token: the environment variable wins over the
// stored secret, so a shell override always takes effect.
func (p *APIProbe) token() (string, bool) {
	envName := p.settings.ProviderOption(ID, quotawatch.OptionTokenEnv)
	if envName == "" {
		envName = defaultTokenEnv
	}
	if v := os.Getenv(envName); v != "" {
		return v, true
	}
	return p.settings.Secret(secretName)
}

// Available reports whether a token is configured. No network call is made.
func (p *APIProbe) Available(_ context.Context) bool {
	_, ok := p.token()
	return ok
}

// Probe fetches and parses the usage buckets.
func (p *APIProbe) Probe(ctx context.Context) (*quotawatch.Snapshot, error) {
	token, ok := p.token()
	if !ok {
		return nil, quotawatch.ErrAuthenticationRequired
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	header.Set("User-Agent", userAgent)
	header.Set("anthropic-beta", oauthBetaHeader)
	header.Set("Accept", "application/json")

	resp, err := p.http.Get(ctx, quotawatch.HTTPRequest{
		URL:     p.baseURL + usagePath,
		Header:  header,
		Timeout: p.timeout,
	})
	if err != nil {
		return nil, quotawatch.TranslateHTTPError(err)
	}
	if err := quotawatch.CheckHTTPStatus(resp); err != nil {
		return nil, err
	}
	return p.parse(resp.Body)
}

// parse extracts the session, weekly and Opus buckets. Each bucket reports
// utilization as a used percentage from 0 to 100 and an optional ISO reset
// timestamp. Absent or malformed buckets are skipped individually.
func (p *APIProbe) parse(body []byte) (*quotawatch.Snapshot, error) {
	if !gjson.ValidBytes(body) {
		return nil, quotawatch.ParseFailed("response is not valid json")
	}
	root := gjson.ParseBytes(body)

	buckets := []struct {
		path string
		kind quotawatch.QuotaKind
	}{
		{"five_hour", quotawatch.SessionKind()},
		{"seven_day", quotawatch.WeeklyKind()},
		{"seven_day_opus", quotawatch.ModelKind("Opus")},
	}

	now := p.now()
	snapshot := &quotawatch.Snapshot{ProviderID: ID, CapturedAt: now}
	for _, b := range buckets {
		bucket := root.Get(b.path)
		if !bucket.IsObject() {
			continue
		}
		util := bucket.Get("utilization")
		if !util.Exists() {
			continue
		}
		q := quotawatch.Quota{
			ProviderID:       ID,
			Kind:             b.kind,
			PercentRemaining: 100 - util.Float(),
		}
		if raw := bucket.Get("resets_at").String(); raw != "" {
			if at, err := time.Parse(time.RFC3339, raw); err == nil {
				reset := at
				q.ResetsAt = &reset
				if until := at.Sub(now); until > 0 {
					q.ResetText = "Resets in " + quotawatch.FormatResetIn(until)
				}
			}
		}
		snapshot.Quotas = append(snapshot.Quotas, q)
	}
	if len(snapshot.Quotas) == 0 {
		return nil, quotawatch.ErrNoData
	}
	return snapshot, nil
}
