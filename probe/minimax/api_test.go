package minimax

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/quotawatch/pkg/quotawatch"
)

// settingsStub is a minimal in-memory Settings implementation
type settingsStub struct {
	enabled map[string]bool
	secrets map[string]string
	options map[string]string
}

func newSettingsStub() *settingsStub {
	return &settingsStub{
		enabled: make(map[string]bool),
		secrets: make(map[string]string),
		options: make(map[string]string),
	}
}

func (s *settingsStub) ProviderEnabled(id string) bool { return s.enabled[id] }

func (s *settingsStub) SetProviderEnabled(id string, v bool) error {
	s.enabled[id] = v
	return nil
}

func (s *settingsStub) Secret(name string) (string, bool) {
	v, ok := s.secrets[name]
	return v, ok && v != ""
}

func (s *settingsStub) SetSecret(name, value string) error {
	s.secrets[name] = value
	return nil
}

func (s *settingsStub) DeleteSecret(name string) error {
	delete(s.secrets, name)
	return nil
}

func (s *settingsStub) ProviderOption(id, key string) string { return s.options[id+"/"+key] }

func newTestAPIProbe(settings quotawatch.Settings, serverURL string) *APIProbe {
	p := NewAPIProbe(Deps{
		HTTP:     quotawatch.NewHTTPClient(5 * time.Second),
		Settings: settings,
	})
	p.baseURL = serverURL
	return p
}

// remainsHandler serves canned bodies per endpoint path.
func remainsHandler(remainsBody, subscribeBody string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case remainsPath:
			fmt.Fprint(w, remainsBody)
		case subscribePath:
			fmt.Fprint(w, subscribeBody)
		default:
			http.NotFound(w, r)
		}
	}
}

func TestAPIProbeCorrectsSwappedUsageField(t *testing.T) {
	const endTime = int64(1735689600000)

	remains := fmt.Sprintf(`{
		"model_remains": [{
			"start_time": 1735084800000,
			"end_time": %d,
			"current_interval_total_count": 1500,
			"current_interval_usage_count": 255,
			"model_name": "MiniMax-M2"
		}],
		"base_resp": {"status_code": 0, "status_msg": "success"}
	}`, endTime)
	subscribe := `{
		"current_subscribe": {"current_subscribe_title": "Coding Plan Pro"},
		"base_resp": {"status_code": 0}
	}`

	var sawAuth atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawAuth.Store(r.Header.Get("Authorization"))
		remainsHandler(remains, subscribe)(w, r)
	}))
	defer server.Close()

	settings := newSettingsStub()
	settings.secrets[secretName] = "mx-key"
	probe := newTestAPIProbe(settings, server.URL)

	require.True(t, probe.Available(context.Background()))
	snapshot, err := probe.Probe(context.Background())
	require.NoError(t, err)
	require.Len(t, snapshot.Quotas, 1)

	// usage_count holds the remaining requests, so 255 of 1500 means 17%
	// left with 1245 consumed.
	q := snapshot.Quotas[0]
	assert.Equal(t, quotawatch.ModelKind("MiniMax-M2"), q.Kind)
	assert.InDelta(t, 17.0, q.PercentRemaining, 1e-9)
	assert.Equal(t, "1245/1500 requests", q.ResetText)
	require.NotNil(t, q.ResetsAt)
	assert.True(t, q.ResetsAt.Equal(time.UnixMilli(endTime)))
	assert.Equal(t, quotawatch.StatusCritical, q.Status())

	assert.Equal(t, "Bearer mx-key", sawAuth.Load())
	assert.Equal(t, "Coding Plan Pro", snapshot.AccountTier)
}

func TestAPIProbeClampsRemaining(t *testing.T) {
	remains := `{
		"model_remains": [
			{"current_interval_total_count": 1500, "current_interval_usage_count": 2000, "model_name": "MiniMax-M2"},
			{"current_interval_total_count": 1500, "current_interval_usage_count": -5, "model_name": "MiniMax-M2-Lite"},
			{"current_interval_total_count": 0, "current_interval_usage_count": 40, "model_name": "MiniMax-Text"}
		],
		"base_resp": {"status_code": 0}
	}`

	server := httptest.NewServer(remainsHandler(remains, `{"base_resp": {"status_code": 0}}`))
	defer server.Close()

	settings := newSettingsStub()
	settings.secrets[secretName] = "mx-key"
	probe := newTestAPIProbe(settings, server.URL)

	snapshot, err := probe.Probe(context.Background())
	require.NoError(t, err)
	require.Len(t, snapshot.Quotas, 3)

	assert.Equal(t, 100.0, snapshot.Quotas[0].PercentRemaining)
	assert.Equal(t, "0/1500 requests", snapshot.Quotas[0].ResetText)

	assert.Equal(t, 0.0, snapshot.Quotas[1].PercentRemaining)
	assert.Equal(t, "1500/1500 requests", snapshot.Quotas[1].ResetText)
	assert.Nil(t, snapshot.Quotas[1].ResetsAt)

	assert.Equal(t, 100.0, snapshot.Quotas[2].PercentRemaining)
	assert.Equal(t, "Unlimited", snapshot.Quotas[2].ResetText)
}

func TestAPIProbeBaseRespErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{
			name: "auth failed",
			body: `{"base_resp": {"status_code": 1004, "status_msg": "login fail"}}`,
			want: quotawatch.ErrAuthenticationRequired,
		},
		{
			name: "insufficient balance",
			body: `{"base_resp": {"status_code": 1008, "status_msg": "insufficient balance"}}`,
			want: quotawatch.ErrSubscriptionRequired,
		},
		{
			name: "other api error",
			body: `{"base_resp": {"status_code": 1013, "status_msg": "internal error"}}`,
			want: quotawatch.ErrExecutionFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(remainsHandler(tt.body, `{}`))
			defer server.Close()

			settings := newSettingsStub()
			settings.secrets[secretName] = "mx-key"
			probe := newTestAPIProbe(settings, server.URL)

			_, err := probe.Probe(context.Background())
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestAPIProbeMalformedBody(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{name: "invalid json", body: `{"model_remains": [`, want: quotawatch.ErrParseFailed},
		{name: "empty object", body: `{}`, want: quotawatch.ErrNoData},
		{name: "no rows", body: `{"model_remains": [], "base_resp": {"status_code": 0}}`, want: quotawatch.ErrNoData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(remainsHandler(tt.body, `{}`))
			defer server.Close()

			settings := newSettingsStub()
			settings.secrets[secretName] = "mx-key"
			probe := newTestAPIProbe(settings, server.URL)

			_, err := probe.Probe(context.Background())
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestAPIProbeSubscriptionFailureIsNonFatal(t *testing.T) {
	remains := `{
		"model_remains": [{"current_interval_total_count": 100, "current_interval_usage_count": 80, "model_name": "MiniMax-M2"}],
		"base_resp": {"status_code": 0}
	}`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == subscribePath {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, remains)
	}))
	defer server.Close()

	settings := newSettingsStub()
	settings.secrets[secretName] = "mx-key"
	probe := newTestAPIProbe(settings, server.URL)

	snapshot, err := probe.Probe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "", snapshot.AccountTier)
	assert.Equal(t, 80.0, snapshot.Quotas[0].PercentRemaining)
}

func TestAPIProbeGroupIDParam(t *testing.T) {
	var sawGroup atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == remainsPath {
			sawGroup.Store(r.URL.Query().Get("GroupId"))
		}
		remainsHandler(
			`{"model_remains": [{"current_interval_total_count": 10, "current_interval_usage_count": 5, "model_name": "M2"}], "base_resp": {"status_code": 0}}`,
			`{}`,
		)(w, r)
	}))
	defer server.Close()

	settings := newSettingsStub()
	settings.secrets[secretName] = "mx-key"
	settings.options[ID+"/"+quotawatch.OptionGroupID] = "1868544027663"
	probe := newTestAPIProbe(settings, server.URL)

	_, err := probe.Probe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1868544027663", sawGroup.Load())
}

func TestAPIProbeRegionSelection(t *testing.T) {
	settings := newSettingsStub()
	probe := NewAPIProbe(Deps{HTTP: quotawatch.NewHTTPClient(time.Second), Settings: settings})

	assert.Equal(t, intlBaseURL, probe.base())

	settings.options[ID+"/"+quotawatch.OptionRegion] = "cn"
	assert.Equal(t, cnBaseURL, probe.base())

	probe.baseURL = "http://127.0.0.1:9"
	assert.Equal(t, "http://127.0.0.1:9", probe.base())
}

func TestAPIProbeWithoutToken(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	t.Setenv(defaultTokenEnv, "")
	probe := newTestAPIProbe(newSettingsStub(), server.URL)

	assert.False(t, probe.Available(context.Background()))
	_, err := probe.Probe(context.Background())
	assert.True(t, errors.Is(err, quotawatch.ErrAuthenticationRequired))
	assert.Equal(t, int32(0), calls.Load(), "no network call without a credential")
}

func TestAPIProbeEnvOverridesSecret(t *testing.T) {
	var sawAuth atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawAuth.Store(r.Header.Get("Authorization"))
		remainsHandler(
			`{"model_remains": [{"current_interval_total_count": 10, "current_interval_usage_count": 5, "model_name": "M2"}], "base_resp": {"status_code": 0}}`,
			`{}`,
		)(w, r)
	}))
	defer server.Close()

	settings := newSettingsStub()
	settings.secrets[secretName] = "stored-key"
	t.Setenv(defaultTokenEnv, "env-key")

	probe := newTestAPIProbe(settings, server.URL)
	_, err := probe.Probe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer env-key", sawAuth.Load())
}

func TestProviderAssembly(t *testing.T) {
	settings := newSettingsStub()
	settings.enabled[ID] = true

	provider, err := New(Deps{HTTP: quotawatch.NewHTTPClient(time.Second), Settings: settings})
	require.NoError(t, err)
	assert.Equal(t, ID, provider.ID())
	assert.Equal(t, Name, provider.Name())
	assert.True(t, provider.Enabled())
}
