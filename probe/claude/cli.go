package claude

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mihaimyh/quotawatch/pkg/quotawatch"
)

// CLIProbe captures the /usage screen of the claude binary by driving an
// interactive session. It is the fallback for setups where no OAuth token is
// reachable but the CLI itself is logged in.
type CLIProbe struct {
	runner   quotawatch.ProcessRunner
	locator  quotawatch.BinaryLocator
	settings quotawatch.Settings
	logger   quotawatch.Logger
	timeout  time.Duration
	now      func() time.Time
}

// NewCLIProbe creates the CLI probe from the provider deps.
func NewCLIProbe(deps Deps) *CLIProbe {
	deps.fill()
	return &CLIProbe{
		runner:   deps.Runner,
		locator:  deps.Locator,
		settings: deps.Settings,
		logger:   deps.Logger,
		timeout:  deps.Timeout,
		now:      time.Now,
	}
}

func (p *CLIProbe) binary() string {
	if b := p.settings.ProviderOption(ID, quotawatch.OptionBinary); b != "" {
		return b
	}
	return defaultBinary
}

// Available reports whether the binary resolves on the PATH.
func (p *CLIProbe) Available(_ context.Context) bool {
	_, ok := p.locator.Locate(p.binary())
	return ok
}

// Probe runs the CLI, requests the usage screen and scrapes it.
func (p *CLIProbe) Probe(ctx context.Context) (*quotawatch.Snapshot, error) {
	path, ok := p.locator.Locate(p.binary())
	if !ok {
		return nil, quotawatch.ErrBinaryNotFound
	}

	out, exitCode, err := p.runner.Run(ctx, quotawatch.Command{
		Binary:  path,
		Timeout: p.timeout,
		Script: quotawatch.InteractiveScript{
			Steps: []quotawatch.PromptResponse{
				{Prompt: "do you trust the files in this folder", Send: "1\r"},
				{Prompt: "? for shortcuts", Send: "/usage\r"},
			},
			WaitFor: "resets",
			Exit:    "\x1b/exit\r",
		},
	})
	if err != nil {
		// A slow screen can still have painted everything we need.
		if errors.Is(err, quotawatch.ErrTimeout) {
			if snapshot, perr := p.parse(out, 0); perr == nil {
				return snapshot, nil
			}
		}
		return nil, err
	}
	return p.parse(out, exitCode)
}

// usageLineRe matches lines of the form
//
//	Weekly limit ━━━━━━━━━━ 100% left (resets in 6d 23h 22m)
//
// capturing the label, the percentage and its direction word. The bar glyphs
// between label and percentage vary by terminal width and version.
var (
	usageLineRe  = regexp.MustCompile(`(?i)^\s*(.+?)\s+[█▁▂▃▮▯━─░▓▒·.\s]*(\d+(?:\.\d+)?)%\s*(left|used|remaining)\b`)
	resetParenRe = regexp.MustCompile(`(?i)\((resets[^)]*)\)`)
)

func (p *CLIProbe) parse(out []byte, exitCode int) (*quotawatch.Snapshot, error) {
	clean := quotawatch.StripInvisibles(quotawatch.StripANSI(string(out)))
	lower := strings.ToLower(clean)
	switch {
	case strings.Contains(lower, "please run /login"), strings.Contains(lower, "invalid api key"):
		return nil, quotawatch.ErrAuthenticationRequired
	case strings.Contains(lower, "session expired"), strings.Contains(lower, "oauth token has expired"):
		return nil, quotawatch.ErrSessionExpired
	}

	snapshot := &quotawatch.Snapshot{ProviderID: ID, CapturedAt: p.now()}
	for _, line := range strings.Split(clean, "\n") {
		if q, ok := p.parseLine(line); ok {
			snapshot.Quotas = append(snapshot.Quotas, q)
		}
	}
	if len(snapshot.Quotas) == 0 {
		if exitCode != 0 {
			return nil, quotawatch.ExecutionFailed("claude exited with status %d", exitCode)
		}
		return nil, quotawatch.ParseFailed("no usage lines in screen output")
	}
	return snapshot, nil
}

func (p *CLIProbe) parseLine(line string) (quotawatch.Quota, bool) {
	m := usageLineRe.FindStringSubmatch(line)
	if m == nil {
		return quotawatch.Quota{}, false
	}
	value, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return quotawatch.Quota{}, false
	}

	remaining := value
	if strings.EqualFold(m[3], "used") {
		remaining = 100 - value
	}
	q := quotawatch.Quota{
		ProviderID:       ID,
		Kind:             kindForLabel(m[1]),
		PercentRemaining: remaining,
	}
	if rm := resetParenRe.FindStringSubmatch(line); rm != nil {
		phrase := strings.TrimSpace(rm[1])
		q.ResetText = quotawatch.CapitalizeFirst(phrase)
		if d, ok := quotawatch.ParseRelativeReset(phrase); ok {
			at := p.now().Add(d)
			q.ResetsAt = &at
		}
	}
	return q, true
}

// kindForLabel classifies a screen label. Model names take precedence over
// the week words so "Current week (Opus)" stays model-specific; labels that
// match nothing become labeled time limits.
func kindForLabel(label string) quotawatch.QuotaKind {
	trimmed := strings.TrimSpace(strings.Trim(label, " \t│┃|·—–-"))
	l := strings.ToLower(trimmed)
	switch {
	case strings.Contains(l, "opus"):
		return quotawatch.ModelKind("Opus")
	case strings.Contains(l, "sonnet"):
		return quotawatch.ModelKind("Sonnet")
	case strings.Contains(l, "haiku"):
		return quotawatch.ModelKind("Haiku")
	case strings.Contains(l, "session"):
		return quotawatch.SessionKind()
	case strings.Contains(l, "week"):
		return quotawatch.WeeklyKind()
	default:
		return quotawatch.TimeLimitKind(trimmed)
	}
}
