// Package codex probes Codex CLI quota state by driving the REPL and
// scraping its /status screen. Codex has no usage API, so the CLI session is
// the only source.
package codex

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mihaimyh/quotawatch/pkg/quotawatch"
)

const (
	// ID is the provider's stable identifier
	ID = "codex"
	// Name is the provider's display name
	Name = "Codex CLI"

	defaultBinary  = "codex"
	defaultTimeout = 45 * time.Second
)

// Deps carries the probe's collaborators.
type Deps struct {
	Runner   quotawatch.ProcessRunner
	Locator  quotawatch.BinaryLocator
	Settings quotawatch.Settings
	Logger   quotawatch.Logger

	// Timeout bounds a single probe. Zero means 45s; the Codex REPL is
	// slow to paint its first screen.
	Timeout time.Duration
}

// New assembles the Codex provider around its single CLI probe.
func New(deps Deps) (*quotawatch.Provider, error) {
	if deps.Logger == nil {
		deps.Logger = &quotawatch.NoopLogger{}
	}
	return quotawatch.NewProvider(quotawatch.ProviderConfig{
		ID:         ID,
		Name:       Name,
		CLICommand: defaultBinary,
		Probes: map[quotawatch.ProbeMode]quotawatch.Probe{
			quotawatch.ProbeModeCLI: NewProbe(deps),
		},
		DefaultMode: quotawatch.ProbeModeCLI,
		Settings:    deps.Settings,
		Logger:      deps.Logger,
	})
}

// Probe drives the codex REPL through its trust and update prompts, asks for
// /status and scrapes the answer.
type Probe struct {
	runner   quotawatch.ProcessRunner
	locator  quotawatch.BinaryLocator
	settings quotawatch.Settings
	logger   quotawatch.Logger
	timeout  time.Duration
	now      func() time.Time
}

// NewProbe creates the CLI probe.
func NewProbe(deps Deps) *Probe {
	if deps.Logger == nil {
		deps.Logger = &quotawatch.NoopLogger{}
	}
	if deps.Timeout <= 0 {
		deps.Timeout = defaultTimeout
	}
	return &Probe{
		runner:   deps.Runner,
		locator:  deps.Locator,
		settings: deps.Settings,
		logger:   deps.Logger,
		timeout:  deps.Timeout,
		now:      time.Now,
	}
}

func (p *Probe) binary() string {
	if b := p.settings.ProviderOption(ID, quotawatch.OptionBinary); b != "" {
		return b
	}
	return defaultBinary
}

// Available reports whether the binary resolves on the PATH.
func (p *Probe) Available(_ context.Context) bool {
	_, ok := p.locator.Locate(p.binary())
	return ok
}

// Probe runs the REPL session and parses the status screen.
func (p *Probe) Probe(ctx context.Context) (*quotawatch.Snapshot, error) {
	path, ok := p.locator.Locate(p.binary())
	if !ok {
		return nil, quotawatch.ErrBinaryNotFound
	}

	out, exitCode, err := p.runner.Run(ctx, quotawatch.Command{
		Binary:  path,
		Timeout: p.timeout,
		Script: quotawatch.InteractiveScript{
			Steps: []quotawatch.PromptResponse{
				{Prompt: "allow codex to work in this folder", Send: "2\r"},
				{Prompt: "press enter to continue", Send: "\r"},
				{Prompt: "to get started", Send: "/status\r"},
			},
			WaitFor: "% used",
			Exit:    "/quit\r",
		},
	})
	if err != nil {
		if errors.Is(err, quotawatch.ErrTimeout) {
			if snapshot, perr := p.parse(out, 0); perr == nil {
				return snapshot, nil
			}
		}
		return nil, err
	}
	return p.parse(out, exitCode)
}

var (
	percentRe   = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%`)
	leftWordsRe = regexp.MustCompile(`(?i)\b(remaining|left|available)\b`)
	usedWordsRe = regexp.MustCompile(`(?i)\b(used|consumed|spent|utilized)\b`)
	limitLineRe = regexp.MustCompile(`(?i)\b([0-9]+[a-z]?|weekly|monthly|daily)\s+limit\b`)
	resetRe     = regexp.MustCompile(`(?i)\((resets[^)]*)\)`)
	emailRe     = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	planRe      = regexp.MustCompile(`(?i)\bplan\s*[:=]?\s*(plus|pro|team|business|enterprise|free)\b`)
)

func (p *Probe) parse(out []byte, exitCode int) (*quotawatch.Snapshot, error) {
	clean := quotawatch.StripInvisibles(quotawatch.StripANSI(string(out)))
	if err := screenError(clean); err != nil {
		return nil, err
	}

	snapshot := &quotawatch.Snapshot{ProviderID: ID, CapturedAt: p.now()}
	for _, line := range strings.Split(clean, "\n") {
		trim := strings.TrimSpace(line)
		if trim == "" {
			continue
		}
		if q, ok := p.parseLine(trim); ok {
			snapshot.Quotas = append(snapshot.Quotas, q)
		}
	}
	snapshot.AccountEmail = emailRe.FindString(clean)
	if m := planRe.FindStringSubmatch(clean); m != nil {
		snapshot.AccountTier = quotawatch.CapitalizeFirst(strings.ToLower(m[1]))
	}

	if len(snapshot.Quotas) == 0 {
		if exitCode != 0 {
			return nil, quotawatch.ExecutionFailed("codex exited with status %d", exitCode)
		}
		return nil, quotawatch.ParseFailed("no usage lines in status screen")
	}
	return snapshot, nil
}

// parseLine reads one "<window> limit ... N% used/left" row. The percent's
// direction comes from context words on the same line, the way the screen
// phrases vary between releases.
func (p *Probe) parseLine(line string) (quotawatch.Quota, bool) {
	limit := limitLineRe.FindStringSubmatch(line)
	if limit == nil {
		return quotawatch.Quota{}, false
	}
	percents := percentRe.FindStringSubmatch(line)
	if percents == nil {
		return quotawatch.Quota{}, false
	}
	value, err := strconv.ParseFloat(percents[1], 64)
	if err != nil {
		return quotawatch.Quota{}, false
	}

	remaining := value
	if !leftWordsRe.MatchString(line) && usedWordsRe.MatchString(line) {
		remaining = 100 - value
	}

	q := quotawatch.Quota{
		ProviderID:       ID,
		Kind:             kindForWindow(limit[1]),
		PercentRemaining: remaining,
	}
	if m := resetRe.FindStringSubmatch(line); m != nil {
		phrase := strings.TrimSpace(m[1])
		q.ResetText = quotawatch.CapitalizeFirst(phrase)
		if d, ok := quotawatch.ParseRelativeReset(phrase); ok {
			at := p.now().Add(d)
			q.ResetsAt = &at
		}
	}
	return q, true
}

// kindForWindow maps the window word before "limit". The 5h window is the
// session; anything that is neither that nor weekly stays a labeled time
// limit.
func kindForWindow(window string) quotawatch.QuotaKind {
	w := strings.ToLower(window)
	switch w {
	case "5h":
		return quotawatch.SessionKind()
	case "weekly":
		return quotawatch.WeeklyKind()
	default:
		return quotawatch.TimeLimitKind(w)
	}
}

// screenError recognizes the blocking screens codex shows instead of status.
func screenError(clean string) error {
	lower := strings.ToLower(clean)
	switch {
	case strings.Contains(lower, "update available") && strings.Contains(lower, "codex update"),
		strings.Contains(lower, "please update codex"):
		return quotawatch.ErrUpdateRequired
	case strings.Contains(lower, "sign in with chatgpt"),
		strings.Contains(lower, "log in with chatgpt"):
		return quotawatch.ErrAuthenticationRequired
	case strings.Contains(lower, "session expired"),
		strings.Contains(lower, "token has expired"):
		return quotawatch.ErrSessionExpired
	case strings.Contains(lower, "requires a paid plan"),
		strings.Contains(lower, "upgrade to a paid plan"),
		strings.Contains(lower, "not included in your plan"):
		return quotawatch.ErrSubscriptionRequired
	case strings.Contains(lower, "allow codex to work in this folder") && !percentRe.MatchString(clean):
		// The trust prompt was painted and the session never got past it.
		return quotawatch.ErrFolderTrustRequired
	}
	return nil
}
