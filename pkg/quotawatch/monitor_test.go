package quotawatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type alertCall struct {
	providerID string
	previous   Status
	current    Status
}

// recordingAlerter captures status-transition notifications
type recordingAlerter struct {
	mu    sync.Mutex
	calls []alertCall
}

func (a *recordingAlerter) Alert(_ context.Context, providerID string, previous, current Status) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, alertCall{providerID, previous, current})
}

func (a *recordingAlerter) all() []alertCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]alertCall, len(a.calls))
	copy(out, a.calls)
	return out
}

// recordingHistory captures appended snapshots
type recordingHistory struct {
	mu       sync.Mutex
	appended []*Snapshot
	err      error
}

func (h *recordingHistory) Append(_ context.Context, snapshot *Snapshot) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return h.err
	}
	h.appended = append(h.appended, snapshot)
	return nil
}

func (h *recordingHistory) Recent(_ context.Context, providerID string, limit int) ([]*Snapshot, error) {
	return nil, nil
}

func (h *recordingHistory) Prune(_ context.Context, before time.Time) error { return nil }

func (h *recordingHistory) Close() error { return nil }

func (h *recordingHistory) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.appended)
}

type monitorFixture struct {
	settings *mockSettings
	probes   map[string]*stubProbe
	repo     *Repository
	alerter  *recordingAlerter
	monitor  *Monitor
}

func newMonitorFixture(t *testing.T, ids ...string) *monitorFixture {
	t.Helper()
	f := &monitorFixture{
		settings: newMockSettings(),
		probes:   make(map[string]*stubProbe),
		alerter:  &recordingAlerter{},
	}
	providers := make([]*Provider, 0, len(ids))
	for _, id := range ids {
		f.settings.enabled[id] = true
		probe := &stubProbe{available: true, snapshot: snapshotWithPercent(id, 100)}
		f.probes[id] = probe
		providers = append(providers, newTestProvider(t, id, probe, f.settings))
	}
	repo, err := NewRepository(providers...)
	require.NoError(t, err)
	f.repo = repo

	monitor, err := NewMonitor(MonitorConfig{
		Repository: repo,
		Settings:   f.settings,
		Alerter:    f.alerter,
	})
	require.NoError(t, err)
	f.monitor = monitor
	return f
}

func TestNewMonitorValidation(t *testing.T) {
	_, err := NewMonitor(MonitorConfig{Settings: newMockSettings()})
	assert.Error(t, err, "missing repository")

	repo, err := NewRepository()
	require.NoError(t, err)
	_, err = NewMonitor(MonitorConfig{Repository: repo})
	assert.Error(t, err, "missing settings")
}

func TestRefreshAllContainsFailures(t *testing.T) {
	f := newMonitorFixture(t, "claude", "codex")
	f.probes["codex"].set(nil, ErrAuthenticationRequired)
	_, events := f.monitor.Subscribe()

	f.monitor.RefreshAll(context.Background())

	claude, _ := f.repo.Get("claude")
	codex, _ := f.repo.Get("codex")
	assert.Equal(t, RefreshSucceeded, claude.State(), "healthy provider unaffected by sibling failure")
	assert.Equal(t, RefreshFailed, codex.State())
	assert.Equal(t, ErrAuthenticationRequired, codex.LastError())

	select {
	case ev := <-events:
		assert.Equal(t, EventError, ev.Kind)
		assert.Equal(t, "codex", ev.ProviderID)
		assert.Equal(t, "authentication_required", ev.ErrorCode)
	case <-time.After(time.Second):
		t.Fatal("expected an error event")
	}
}

func TestRefreshAllSkipsUnavailableAndDisabled(t *testing.T) {
	f := newMonitorFixture(t, "claude", "codex", "minimax")
	f.probes["codex"].available = false
	f.settings.enabled["minimax"] = false

	f.monitor.RefreshAll(context.Background())

	assert.Equal(t, 1, f.probes["claude"].callCount())
	assert.Equal(t, 0, f.probes["codex"].callCount(), "unavailable providers are skipped")
	assert.Equal(t, 0, f.probes["minimax"].callCount(), "disabled providers are skipped")
}

func TestRefreshOthers(t *testing.T) {
	f := newMonitorFixture(t, "claude", "codex", "minimax")

	f.monitor.RefreshOthers(context.Background(), "codex")

	assert.Equal(t, 1, f.probes["claude"].callCount())
	assert.Equal(t, 0, f.probes["codex"].callCount())
	assert.Equal(t, 1, f.probes["minimax"].callCount())
}

func TestRefreshSingleProvider(t *testing.T) {
	f := newMonitorFixture(t, "claude", "codex")

	require.NoError(t, f.monitor.Refresh(context.Background(), "claude"))
	assert.Equal(t, 1, f.probes["claude"].callCount())
	assert.Equal(t, 0, f.probes["codex"].callCount())

	// Probe failures stay contained even on the single-provider path
	f.probes["claude"].set(nil, ErrTimeout)
	require.NoError(t, f.monitor.Refresh(context.Background(), "claude"))

	assert.Error(t, f.monitor.Refresh(context.Background(), "ghost"))
}

func TestAlertsFireOncePerTransition(t *testing.T) {
	f := newMonitorFixture(t, "claude")
	ctx := context.Background()

	// First refresh lands on healthy: no transition, no alert
	f.monitor.RefreshAll(ctx)
	assert.Empty(t, f.alerter.all())

	// Drop to warning: one alert
	f.probes["claude"].set(snapshotWithPercent("claude", 45), nil)
	f.monitor.RefreshAll(ctx)
	require.Len(t, f.alerter.all(), 1)
	assert.Equal(t, alertCall{"claude", StatusHealthy, StatusWarning}, f.alerter.all()[0])

	// Same status again: no second alert
	f.monitor.RefreshAll(ctx)
	assert.Len(t, f.alerter.all(), 1)

	// Worsen to critical, then recover: both transitions alert
	f.probes["claude"].set(snapshotWithPercent("claude", 5), nil)
	f.monitor.RefreshAll(ctx)
	f.probes["claude"].set(snapshotWithPercent("claude", 90), nil)
	f.monitor.RefreshAll(ctx)

	calls := f.alerter.all()
	require.Len(t, calls, 3)
	assert.Equal(t, alertCall{"claude", StatusWarning, StatusCritical}, calls[1])
	assert.Equal(t, alertCall{"claude", StatusCritical, StatusHealthy}, calls[2])
}

func TestAlertOnFirstRefreshBelowHealthy(t *testing.T) {
	f := newMonitorFixture(t, "claude")
	f.probes["claude"].set(snapshotWithPercent("claude", 10), nil)

	f.monitor.RefreshAll(context.Background())

	calls := f.alerter.all()
	require.Len(t, calls, 1, "unseen providers count as healthy, so the first refresh can alert")
	assert.Equal(t, alertCall{"claude", StatusHealthy, StatusCritical}, calls[0])
}

func TestFailedRefreshDoesNotTouchStatus(t *testing.T) {
	f := newMonitorFixture(t, "claude")
	ctx := context.Background()

	f.probes["claude"].set(snapshotWithPercent("claude", 45), nil)
	f.monitor.RefreshAll(ctx)
	require.Len(t, f.alerter.all(), 1)

	f.probes["claude"].set(nil, ErrTimeout)
	f.monitor.RefreshAll(ctx)
	f.probes["claude"].set(snapshotWithPercent("claude", 45), nil)
	f.monitor.RefreshAll(ctx)

	assert.Len(t, f.alerter.all(), 1, "failures must not fabricate status transitions")
}

func TestSelectionDefaultsToFirstEnabled(t *testing.T) {
	f := newMonitorFixture(t, "claude", "codex")
	assert.Equal(t, []string{"claude"}, f.monitor.SelectedProviderIDs())
}

func TestSelectProvider(t *testing.T) {
	f := newMonitorFixture(t, "claude", "codex")

	f.monitor.SelectProvider("codex")
	assert.Equal(t, []string{"codex"}, f.monitor.SelectedProviderIDs())

	// Unknown and disabled providers are ignored
	f.monitor.SelectProvider("ghost")
	assert.Equal(t, []string{"codex"}, f.monitor.SelectedProviderIDs())

	f.settings.enabled["claude"] = false
	f.monitor.SelectProvider("claude")
	assert.Equal(t, []string{"codex"}, f.monitor.SelectedProviderIDs())
}

func TestToggleProviderSelection(t *testing.T) {
	f := newMonitorFixture(t, "claude", "codex", "minimax")

	f.monitor.ToggleProviderSelection("codex")
	assert.Equal(t, []string{"claude", "codex"}, f.monitor.SelectedProviderIDs())

	f.monitor.ToggleProviderSelection("codex")
	assert.Equal(t, []string{"claude"}, f.monitor.SelectedProviderIDs())

	// Deselecting the sole selected provider is a no-op
	f.monitor.ToggleProviderSelection("claude")
	assert.Equal(t, []string{"claude"}, f.monitor.SelectedProviderIDs())

	// Disabled providers cannot join the selection
	f.settings.enabled["minimax"] = false
	f.monitor.ToggleProviderSelection("minimax")
	assert.Equal(t, []string{"claude"}, f.monitor.SelectedProviderIDs())
}

func TestDisablingSelectedProviderReselects(t *testing.T) {
	f := newMonitorFixture(t, "claude", "codex")

	f.monitor.SelectProvider("codex")
	require.NoError(t, f.monitor.SetProviderEnabled("codex", false))
	assert.Equal(t, []string{"claude"}, f.monitor.SelectedProviderIDs(),
		"selection falls back to the first enabled provider")

	require.NoError(t, f.monitor.SetProviderEnabled("claude", false))
	assert.Empty(t, f.monitor.SelectedProviderIDs(), "no enabled providers leaves an empty selection")

	require.NoError(t, f.monitor.SetProviderEnabled("codex", true))
	assert.Equal(t, []string{"codex"}, f.monitor.SelectedProviderIDs(),
		"re-enabling fills the empty selection")

	assert.Error(t, f.monitor.SetProviderEnabled("ghost", true))
}

func TestAggregates(t *testing.T) {
	f := newMonitorFixture(t, "claude", "codex")
	ctx := context.Background()

	assert.Equal(t, StatusHealthy, f.monitor.OverallStatus(), "no data reads as healthy")
	assert.Nil(t, f.monitor.LowestQuota())

	f.probes["claude"].set(snapshotWithPercent("claude", 60), nil)
	f.probes["codex"].set(snapshotWithPercent("codex", 12), nil)
	f.monitor.RefreshAll(ctx)

	assert.Equal(t, StatusCritical, f.monitor.OverallStatus())

	lowest := f.monitor.LowestQuota()
	require.NotNil(t, lowest)
	assert.Equal(t, "codex", lowest.ProviderID)
	assert.Equal(t, 12.0, lowest.PercentRemaining)

	f.monitor.SelectProvider("claude")
	assert.Equal(t, StatusHealthy, f.monitor.SelectedStatus())
	f.monitor.ToggleProviderSelection("codex")
	assert.Equal(t, StatusCritical, f.monitor.SelectedStatus())

	// Disabled providers drop out of the aggregates
	require.NoError(t, f.monitor.SetProviderEnabled("codex", false))
	assert.Equal(t, StatusHealthy, f.monitor.OverallStatus())
}

func TestHistoryAppendOnSuccess(t *testing.T) {
	f := newMonitorFixture(t, "claude", "codex")
	history := &recordingHistory{}
	monitor, err := NewMonitor(MonitorConfig{
		Repository: f.repo,
		Settings:   f.settings,
		History:    history,
	})
	require.NoError(t, err)

	f.probes["codex"].set(nil, ErrTimeout)
	monitor.RefreshAll(context.Background())
	assert.Equal(t, 1, history.count(), "only successful refreshes are recorded")

	// History failures are contained like probe failures
	history.err = ErrExecutionFailed
	monitor.RefreshAll(context.Background())
	claude, _ := f.repo.Get("claude")
	assert.Equal(t, RefreshSucceeded, claude.State())
}

func TestStartMonitoringValidation(t *testing.T) {
	f := newMonitorFixture(t, "claude")
	assert.Error(t, f.monitor.StartMonitoring(0))
	assert.Error(t, f.monitor.StartMonitoring(-time.Second))
	assert.False(t, f.monitor.IsMonitoring())
}

func TestMonitoringLoop(t *testing.T) {
	f := newMonitorFixture(t, "claude")
	_, events := f.monitor.Subscribe()

	require.NoError(t, f.monitor.StartMonitoring(20*time.Millisecond))
	assert.True(t, f.monitor.IsMonitoring())

	select {
	case ev := <-events:
		assert.Equal(t, EventRefreshed, ev.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a refreshed event from the loop")
	}

	f.monitor.StopMonitoring()
	assert.False(t, f.monitor.IsMonitoring())

	// The loop has fully exited: no refreshes happen after Stop returns
	calls := f.probes["claude"].callCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, f.probes["claude"].callCount())
	assert.GreaterOrEqual(t, calls, 1)

	// Stopping again is safe
	f.monitor.StopMonitoring()
}

func TestStartMonitoringReplacesLoop(t *testing.T) {
	f := newMonitorFixture(t, "claude")

	require.NoError(t, f.monitor.StartMonitoring(time.Hour))
	require.NoError(t, f.monitor.StartMonitoring(time.Hour))
	assert.True(t, f.monitor.IsMonitoring())

	f.monitor.StopMonitoring()
	assert.False(t, f.monitor.IsMonitoring(), "a single stop ends the only live loop")
}
