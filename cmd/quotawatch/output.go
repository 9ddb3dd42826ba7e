package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/mihaimyh/quotawatch/pkg/quotawatch"
)

var (
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	healthyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("40"))
	warningStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	criticalStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	depletedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// providerReport is one provider's row in status output.
type providerReport struct {
	ID        string               `json:"id"`
	Name      string               `json:"name"`
	Enabled   bool                 `json:"enabled"`
	Selected  bool                 `json:"selected"`
	State     string               `json:"state"`
	Status    string               `json:"status,omitempty"`
	ErrorCode string               `json:"error_code,omitempty"`
	Error     string               `json:"error,omitempty"`
	Snapshot  *quotawatch.Snapshot `json:"snapshot,omitempty"`
}

// statusReport is the full status output of one refresh.
type statusReport struct {
	Overall   string           `json:"overall"`
	Selected  string           `json:"selected"`
	Providers []providerReport `json:"providers"`
}

func buildReport(monitor *quotawatch.Monitor, repo *quotawatch.Repository) statusReport {
	selected := make(map[string]bool)
	for _, id := range monitor.SelectedProviderIDs() {
		selected[id] = true
	}

	report := statusReport{
		Overall:  monitor.OverallStatus().String(),
		Selected: monitor.SelectedStatus().String(),
	}
	for _, p := range repo.All() {
		row := providerReport{
			ID:       p.ID(),
			Name:     p.Name(),
			Enabled:  p.Enabled(),
			Selected: selected[p.ID()],
			State:    p.State().String(),
			Snapshot: p.Snapshot(),
		}
		if row.Snapshot != nil {
			row.Status = row.Snapshot.OverallStatus().String()
		}
		if err := p.LastError(); err != nil {
			row.Error = err.Error()
			row.ErrorCode = quotawatch.ErrorCode(err)
		}
		report.Providers = append(report.Providers, row)
	}
	return report
}

func printJSON(data interface{}) error {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data to JSON: %w", err)
	}
	fmt.Println(string(b))
	return nil
}

func printStatusTable(report statusReport) {
	cellStyle := lipgloss.NewStyle().Padding(0, 1)

	t := table.New().
		Border(lipgloss.ASCIIBorder()).
		BorderRow(true).
		StyleFunc(func(row, col int) lipgloss.Style {
			return cellStyle
		}).
		Headers("PROVIDER", "STATUS", "USAGE")

	for _, p := range report.Providers {
		t.Row(
			formatProviderCell(p),
			formatStatusCell(p),
			formatUsageCell(p),
		)
	}

	fmt.Println("AI Assistant Quotas")
	fmt.Println(t)
	fmt.Printf("Overall: %s\n", renderStatus(report.Overall))
}

func formatProviderCell(p providerReport) string {
	lines := []string{p.Name}
	if p.Snapshot != nil && p.Snapshot.AccountEmail != "" {
		account := p.Snapshot.AccountEmail
		if p.Snapshot.AccountTier != "" {
			account += " (" + p.Snapshot.AccountTier + ")"
		}
		lines = append(lines, dimStyle.Render(account))
	}
	if !p.Enabled {
		lines = append(lines, dimStyle.Render("disabled"))
	}
	return strings.Join(lines, "\n")
}

func formatStatusCell(p providerReport) string {
	if p.Error != "" {
		return errorStyle.Render("error") + "\n" + dimStyle.Render(p.ErrorCode)
	}
	if p.Snapshot == nil {
		return dimStyle.Render(p.State)
	}
	return renderStatus(p.Status)
}

func formatUsageCell(p providerReport) string {
	if p.Error != "" {
		return p.Error
	}
	if p.Snapshot == nil || len(p.Snapshot.Quotas) == 0 {
		return "N/A"
	}
	var parts []string
	for _, q := range p.Snapshot.Quotas {
		parts = append(parts, formatQuota(q))
	}
	return strings.Join(parts, "\n")
}

func formatQuota(q quotawatch.Quota) string {
	used := q.DisplayPercentUsed()
	line := fmt.Sprintf("%s %s %.1f%% used", q.Kind.String(), progressBar(used), used)

	reset := q.ResetText
	if reset == "" && q.ResetsAt != nil {
		remaining := time.Until(*q.ResetsAt)
		if remaining > 0 {
			reset = "resets in " + formatDuration(remaining)
		} else {
			reset = "resets soon"
		}
	}
	if reset != "" {
		line += "\n" + dimStyle.Render("  "+reset)
	}
	return line
}

func renderStatus(status string) string {
	switch status {
	case "healthy":
		return healthyStyle.Render(status)
	case "warning":
		return warningStyle.Render(status)
	case "critical":
		return criticalStyle.Render(status)
	case "depleted":
		return depletedStyle.Render(status)
	default:
		return status
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	if hours == 0 {
		return fmt.Sprintf("%dd", days)
	}
	return fmt.Sprintf("%dd%dh", days, hours)
}

// progressBar renders percent as a ten-slot bar. The bar is clamped even
// though the numeric display is not, so overdrawn quotas show a full bar
// next to a figure above 100.
func progressBar(percent float64) string {
	width := 10

	if percent < 0 || percent != percent {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	filled := int((percent / 100) * float64(width))
	empty := width - filled

	return fmt.Sprintf("[%s%s]",
		strings.Repeat("#", filled),
		strings.Repeat("-", empty),
	)
}
