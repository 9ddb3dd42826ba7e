package quotawatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// MonitorConfig assembles a monitor from its collaborators. Repository and
// Settings are required; everything else defaults to a no-op.
type MonitorConfig struct {
	Repository *Repository
	Settings   Settings

	// Alerter receives status-transition notifications. Optional.
	Alerter Alerter

	// History, when set, receives a snapshot after every successful refresh.
	History HistoryStore

	Logger  Logger
	Metrics Metrics

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Monitor orchestrates providers: it fans refreshes out concurrently,
// tracks status transitions, manages the selected-provider set and runs the
// polling loop. One provider's failure never disturbs the others; failures
// surface as error events, log lines and metrics instead of return values.
type Monitor struct {
	repo     *Repository
	settings Settings
	alerter  Alerter
	history  HistoryStore
	logger   Logger
	metrics  Metrics
	events   *Broadcaster
	now      func() time.Time

	mu         sync.Mutex
	lastStatus map[string]Status
	selected   []string
	cancelPoll context.CancelFunc
	pollDone   chan struct{}
}

// NewMonitor creates a monitor and reconciles the initial selection from
// the currently enabled providers.
func NewMonitor(config MonitorConfig) (*Monitor, error) {
	if config.Repository == nil {
		return nil, errors.New("repository is required")
	}
	if config.Settings == nil {
		return nil, errors.New("settings are required")
	}

	// Set defaults
	if config.Logger == nil {
		config.Logger = &NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	m := &Monitor{
		repo:       config.Repository,
		settings:   config.Settings,
		alerter:    config.Alerter,
		history:    config.History,
		logger:     config.Logger,
		metrics:    config.Metrics,
		events:     NewBroadcaster(),
		now:        config.Now,
		lastStatus: make(map[string]Status),
	}
	m.mu.Lock()
	m.reconcileSelectionLocked()
	m.mu.Unlock()
	return m, nil
}

// Subscribe registers an event subscriber with the monitor's broadcaster.
func (m *Monitor) Subscribe() (string, <-chan Event) {
	return m.events.Subscribe()
}

// Unsubscribe removes an event subscriber.
func (m *Monitor) Unsubscribe(id string) {
	m.events.Unsubscribe(id)
}

// RefreshAll refreshes every enabled and available provider concurrently
// and returns when all refreshes have completed. Individual failures are
// contained: they produce error events, never a return value.
func (m *Monitor) RefreshAll(ctx context.Context) {
	m.refreshFanout(ctx, "")
}

// RefreshOthers refreshes every enabled and available provider except the
// named one, concurrently, returning when all have completed.
func (m *Monitor) RefreshOthers(ctx context.Context, exceptID string) {
	m.refreshFanout(ctx, exceptID)
}

// Refresh refreshes a single provider. The returned error only reports an
// unknown provider ID; probe failures are contained exactly as in
// RefreshAll.
func (m *Monitor) Refresh(ctx context.Context, providerID string) error {
	p, ok := m.repo.Get(providerID)
	if !ok {
		return fmt.Errorf("unknown provider %q", providerID)
	}
	m.refreshOne(ctx, p)
	return nil
}

func (m *Monitor) refreshFanout(ctx context.Context, exceptID string) {
	var g errgroup.Group
	for _, p := range m.repo.Enabled() {
		if p.ID() == exceptID {
			continue
		}
		if !p.Available(ctx) {
			m.logger.Debug("provider unavailable, skipping", Field{Key: "provider", Value: p.ID()})
			continue
		}
		g.Go(func() error {
			m.refreshOne(ctx, p)
			return nil
		})
	}
	// Workers never return errors; Wait is only the join point.
	_ = g.Wait()
}

func (m *Monitor) refreshOne(ctx context.Context, p *Provider) {
	start := m.now()
	err := p.Refresh(ctx)
	m.metrics.RecordRefresh(p.ID(), m.now().Sub(start), err)

	if err != nil {
		m.logger.Warn("provider refresh failed",
			Field{Key: "provider", Value: p.ID()},
			Field{Key: "error", Value: err.Error()},
			Field{Key: "code", Value: ErrorCode(err)})
		m.events.Publish(Event{
			Kind:       EventError,
			ProviderID: p.ID(),
			ErrorCode:  ErrorCode(err),
			Err:        err,
			At:         m.now(),
		})
		return
	}

	snapshot := p.Snapshot()
	for _, q := range snapshot.Quotas {
		m.metrics.SetPercentRemaining(p.ID(), q.Kind.String(), q.PercentRemaining)
	}
	m.logger.Debug("provider refreshed",
		Field{Key: "provider", Value: p.ID()},
		Field{Key: "status", Value: snapshot.OverallStatus().String()})
	m.noteStatus(ctx, p.ID(), snapshot.OverallStatus())
	m.appendHistory(ctx, snapshot)
}

// noteStatus compares the provider's fresh status against the last recorded
// one and alerts on change. Providers never seen before count as healthy, so
// a first refresh straight into warning or worse alerts immediately.
func (m *Monitor) noteStatus(ctx context.Context, providerID string, current Status) {
	m.mu.Lock()
	previous, seen := m.lastStatus[providerID]
	if !seen {
		previous = StatusHealthy
	}
	m.lastStatus[providerID] = current
	m.mu.Unlock()

	if current == previous {
		return
	}
	m.metrics.RecordStatusTransition(providerID, previous, current)
	m.logger.Info("provider status changed",
		Field{Key: "provider", Value: providerID},
		Field{Key: "from", Value: previous.String()},
		Field{Key: "to", Value: current.String()})
	if m.alerter != nil {
		m.alerter.Alert(ctx, providerID, previous, current)
	}
}

func (m *Monitor) appendHistory(ctx context.Context, snapshot *Snapshot) {
	if m.history == nil {
		return
	}
	start := m.now()
	err := m.history.Append(ctx, snapshot)
	m.metrics.RecordHistoryOperation("append", m.now().Sub(start), err)
	if err != nil {
		m.logger.Warn("history append failed",
			Field{Key: "provider", Value: snapshot.ProviderID},
			Field{Key: "error", Value: err.Error()})
	}
}

// SelectedProviderIDs returns the selected provider IDs in selection order.
func (m *Monitor) SelectedProviderIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.selected))
	copy(out, m.selected)
	return out
}

// SelectProvider replaces the selection with the single named provider.
// Unknown or disabled providers are ignored.
func (m *Monitor) SelectProvider(providerID string) {
	p, ok := m.repo.Get(providerID)
	if !ok || !p.Enabled() {
		return
	}
	m.mu.Lock()
	m.selected = []string{providerID}
	m.mu.Unlock()
}

// ToggleProviderSelection adds the provider to the selection or removes it.
// Unknown and disabled providers are ignored, and removing the sole selected
// provider is a no-op so the selection never empties while providers remain
// enabled.
func (m *Monitor) ToggleProviderSelection(providerID string) {
	p, ok := m.repo.Get(providerID)
	if !ok || !p.Enabled() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, id := range m.selected {
		if id == providerID {
			if len(m.selected) == 1 {
				return
			}
			m.selected = append(m.selected[:i], m.selected[i+1:]...)
			return
		}
	}
	m.selected = append(m.selected, providerID)
}

// SetProviderEnabled persists the provider's enabled flag and reconciles
// the selection: disabling a selected provider drops it, and if the
// selection empties the first enabled provider in repository order is
// selected instead.
func (m *Monitor) SetProviderEnabled(providerID string, enabled bool) error {
	p, ok := m.repo.Get(providerID)
	if !ok {
		return fmt.Errorf("unknown provider %q", providerID)
	}
	if err := p.SetEnabled(enabled); err != nil {
		return err
	}
	m.mu.Lock()
	m.reconcileSelectionLocked()
	m.mu.Unlock()
	return nil
}

// reconcileSelectionLocked drops disabled providers from the selection and
// falls back to the first enabled provider when the selection is empty.
// Callers hold m.mu.
func (m *Monitor) reconcileSelectionLocked() {
	enabled := m.repo.Enabled()
	isEnabled := make(map[string]bool, len(enabled))
	for _, p := range enabled {
		isEnabled[p.ID()] = true
	}

	kept := m.selected[:0]
	for _, id := range m.selected {
		if isEnabled[id] {
			kept = append(kept, id)
		}
	}
	m.selected = kept
	if len(m.selected) == 0 && len(enabled) > 0 {
		m.selected = []string{enabled[0].ID()}
	}
}

// OverallStatus aggregates the worst status across enabled providers that
// hold a snapshot. With no data it reports healthy.
func (m *Monitor) OverallStatus() Status {
	worst := StatusHealthy
	for _, p := range m.repo.Enabled() {
		if snapshot := p.Snapshot(); snapshot != nil {
			worst = worst.Worse(snapshot.OverallStatus())
		}
	}
	return worst
}

// SelectedStatus aggregates the worst status across the selected providers
// that hold a snapshot.
func (m *Monitor) SelectedStatus() Status {
	worst := StatusHealthy
	for _, id := range m.SelectedProviderIDs() {
		p, ok := m.repo.Get(id)
		if !ok {
			continue
		}
		if snapshot := p.Snapshot(); snapshot != nil {
			worst = worst.Worse(snapshot.OverallStatus())
		}
	}
	return worst
}

// LowestQuota returns the quota with the least remaining percentage across
// enabled providers, nil when no provider holds a snapshot.
func (m *Monitor) LowestQuota() *Quota {
	var lowest *Quota
	for _, p := range m.repo.Enabled() {
		snapshot := p.Snapshot()
		if snapshot == nil {
			continue
		}
		if q := snapshot.LowestQuota(); q != nil {
			if lowest == nil || q.Less(*lowest) {
				lowest = q
			}
		}
	}
	return lowest
}

// StartMonitoring begins the polling loop: an immediate refresh of all
// providers, then one every interval. A previous loop is stopped first, so
// at most one loop runs at a time.
func (m *Monitor) StartMonitoring(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %v", interval)
	}
	m.StopMonitoring()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.mu.Lock()
	m.cancelPoll = cancel
	m.pollDone = done
	m.mu.Unlock()

	m.logger.Info("monitoring started", Field{Key: "interval", Value: interval.String()})
	go m.pollLoop(ctx, interval, done)
	return nil
}

// StopMonitoring cancels the polling loop and waits for it to exit. It is
// safe to call when no loop is running.
func (m *Monitor) StopMonitoring() {
	m.mu.Lock()
	cancel, done := m.cancelPoll, m.pollDone
	m.cancelPoll, m.pollDone = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	m.logger.Info("monitoring stopped")
}

// IsMonitoring reports whether a polling loop is running.
func (m *Monitor) IsMonitoring() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelPoll != nil
}

func (m *Monitor) pollLoop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	for {
		cycleStart := m.now()
		m.refreshFanout(ctx, "")
		m.metrics.RecordPollCycle(m.now().Sub(cycleStart))
		m.events.Publish(Event{Kind: EventRefreshed, At: m.now()})

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
