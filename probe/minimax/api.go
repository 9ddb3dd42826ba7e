package minimax

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/mihaimyh/quotawatch/pkg/quotawatch"
)

const (
	intlBaseURL = "https://api.minimax.io"
	cnBaseURL   = "https://api.minimaxi.com"

	remainsPath   = "/v1/api/openplatform/coding_plan/remains"
	subscribePath = "/v1/api/openplatform/coding_plan/current_subscribe"

	regionCN = "cn"

	statusAuthFailed          = 1004
	statusInsufficientBalance = 1008
)

// remainsResponse is the coding_plan/remains payload.
type remainsResponse struct {
	ModelRemains []modelRemain `json:"model_remains"`
	BaseResp     baseResp      `json:"base_resp"`
}

type modelRemain struct {
	StartTime                 int64 `json:"start_time"`
	EndTime                   int64 `json:"end_time"`
	CurrentIntervalTotalCount int   `json:"current_interval_total_count"`
	// Mislabeled upstream: this field carries the interval's REMAINING
	// request count, not the used one.
	CurrentIntervalUsageCount int    `json:"current_interval_usage_count"`
	ModelName                 string `json:"model_name"`
}

type baseResp struct {
	StatusCode int    `json:"status_code"`
	StatusMsg  string `json:"status_msg"`
}

func (b baseResp) err() error {
	switch b.StatusCode {
	case 0:
		return nil
	case statusAuthFailed:
		return quotawatch.ErrAuthenticationRequired
	case statusInsufficientBalance:
		return quotawatch.ErrSubscriptionRequired
	default:
		return quotawatch.ExecutionFailed("api status %d: %s", b.StatusCode, b.StatusMsg)
	}
}

type subscribeResponse struct {
	CurrentSubscribe currentSubscribe `json:"current_subscribe"`
	BaseResp         baseResp         `json:"base_resp"`
}

type currentSubscribe struct {
	CurrentSubscribeTitle string `json:"current_subscribe_title"`
}

// APIProbe reads per-model interval usage from the MiniMax open platform.
type APIProbe struct {
	http     quotawatch.HTTPClient
	settings quotawatch.Settings
	logger   quotawatch.Logger
	timeout  time.Duration

	// baseURL overrides region resolution when non-empty. Tests point it
	// at a local server.
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
		now:      time.Now,
	}
}

// token resolves the API key: the environment variable wins over the stored
// secret, so a shell override always takes effect.
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

func (p *APIProbe) base() string {
	if p.baseURL != "" {
		return p.baseURL
	}
	if p.settings.ProviderOption(ID, quotawatch.OptionRegion) == regionCN {
		return cnBaseURL
	}
	return intlBaseURL
}

// Available reports whether an API key is configured. No network call is
// made.
func (p *APIProbe) Available(_ context.Context) bool {
	_, ok := p.token()
	return ok
}

// Probe fetches the remains payload and, best effort, the subscription tier.
func (p *APIProbe) Probe(ctx context.Context) (*quotawatch.Snapshot, error) {
	token, ok := p.token()
	if !ok {
		return nil, quotawatch.ErrAuthenticationRequired
	}

	base := p.base()
	body, err := p.get(ctx, token, base+remainsPath)
	if err != nil {
		return nil, err
	}
	snapshot, err := p.parseRemains(body)
	if err != nil {
		return nil, err
	}

	// The tier is cosmetic; a failed subscription lookup never fails the
	// probe.
	if body, err := p.get(ctx, token, base+subscribePath); err == nil {
		snapshot.AccountTier = parseTier(body)
	} else {
		p.logger.Debug("minimax subscription lookup failed", quotawatch.Field{Key: "error", Value: err})
	}
	return snapshot, nil
}

func (p *APIProbe) get(ctx context.Context, token, rawURL string) ([]byte, error) {
	if gid := p.settings.ProviderOption(ID, quotawatch.OptionGroupID); gid != "" {
		rawURL += "?GroupId=" + url.QueryEscape(gid)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	header.Set("Accept", "application/json")

	resp, err := p.http.Get(ctx, quotawatch.HTTPRequest{
		URL:     rawURL,
		Header:  header,
		Timeout: p.timeout,
	})
	if err != nil {
		return nil, quotawatch.TranslateHTTPError(err)
	}
	if err := quotawatch.CheckHTTPStatus(resp); err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (p *APIProbe) parseRemains(body []byte) (*quotawatch.Snapshot, error) {
	var remains remainsResponse
	if err := json.Unmarshal(body, &remains); err != nil {
		return nil, quotawatch.ParseFailed("decode remains response: %v", err)
	}
	if err := remains.BaseResp.err(); err != nil {
		return nil, err
	}
	if len(remains.ModelRemains) == 0 {
		return nil, quotawatch.ErrNoData
	}

	snapshot := &quotawatch.Snapshot{ProviderID: ID, CapturedAt: p.now()}
	for _, r := range remains.ModelRemains {
		snapshot.Quotas = append(snapshot.Quotas, quotaFromRemain(r))
	}
	return snapshot, nil
}

// quotaFromRemain converts one model row, correcting the swapped usage field
// and clamping it into the interval's total.
func quotaFromRemain(r modelRemain) quotawatch.Quota {
	q := quotawatch.Quota{
		ProviderID: ID,
		Kind:       quotawatch.ModelKind(r.ModelName),
	}
	if r.EndTime > 0 {
		reset := time.UnixMilli(r.EndTime)
		q.ResetsAt = &reset
	}

	total := r.CurrentIntervalTotalCount
	if total <= 0 {
		q.PercentRemaining = 100
		q.ResetText = "Unlimited"
		return q
	}

	remaining := r.CurrentIntervalUsageCount
	if remaining < 0 {
		remaining = 0
	}
	if remaining > total {
		remaining = total
	}
	q.PercentRemaining = float64(remaining) * 100 / float64(total)
	q.ResetText = fmt.Sprintf("%d/%d requests", total-remaining, total)
	return q
}

func parseTier(body []byte) string {
	var sub subscribeResponse
	if err := json.Unmarshal(body, &sub); err != nil {
		return ""
	}
	if sub.BaseResp.StatusCode != 0 {
		return ""
	}
	return sub.CurrentSubscribe.CurrentSubscribeTitle
}
