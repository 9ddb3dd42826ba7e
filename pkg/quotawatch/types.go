package quotawatch

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the severity band derived from a quota's remaining percentage.
// Values are ordered by severity so the worst of two statuses is the larger one.
type Status int

const (
	// StatusHealthy means at least half of the quota remains
	StatusHealthy Status = iota
	// StatusWarning means less than half of the quota remains
	StatusWarning
	// StatusCritical means less than a fifth of the quota remains
	StatusCritical
	// StatusDepleted means the quota is exhausted or overdrawn
	StatusDepleted
)

const (
	warningBelowPercent  = 50.0
	criticalBelowPercent = 20.0
)

// StatusForPercent maps a remaining percentage to its severity band.
// Band edges belong to the less severe side: exactly 20 is warning and
// exactly 50 is healthy. Zero and negative values are depleted.
func StatusForPercent(percentRemaining float64) Status {
	switch {
	case percentRemaining <= 0:
		return StatusDepleted
	case percentRemaining < criticalBelowPercent:
		return StatusCritical
	case percentRemaining < warningBelowPercent:
		return StatusWarning
	default:
		return StatusHealthy
	}
}

// String returns the lowercase name of the status
func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusWarning:
		return "warning"
	case StatusCritical:
		return "critical"
	case StatusDepleted:
		return "depleted"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Worse returns the more severe of the two statuses
func (s Status) Worse(other Status) Status {
	if other > s {
		return other
	}
	return s
}

// MarshalJSON encodes the status as its string name
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a status from its string name
func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "healthy":
		*s = StatusHealthy
	case "warning":
		*s = StatusWarning
	case "critical":
		*s = StatusCritical
	case "depleted":
		*s = StatusDepleted
	default:
		return fmt.Errorf("unknown status %q", name)
	}
	return nil
}

type kindClass string

const (
	kindSession   kindClass = "session"
	kindWeekly    kindClass = "weekly"
	kindModel     kindClass = "model"
	kindTimeLimit kindClass = "time_limit"
)

// QuotaKind identifies which allowance a quota tracks. Session and weekly
// kinds carry no label; model and time-limit kinds carry the backend's label
// (a model name such as "Opus", or a window such as "5h").
type QuotaKind struct {
	class kindClass
	label string
}

// SessionKind is the rolling session allowance
func SessionKind() QuotaKind { return QuotaKind{class: kindSession} }

// WeeklyKind is the weekly allowance
func WeeklyKind() QuotaKind { return QuotaKind{class: kindWeekly} }

// ModelKind is a per-model allowance labeled with the model name
func ModelKind(label string) QuotaKind { return QuotaKind{class: kindModel, label: label} }

// TimeLimitKind is a labeled time-window allowance that is neither the
// session nor the weekly one
func TimeLimitKind(label string) QuotaKind { return QuotaKind{class: kindTimeLimit, label: label} }

// IsSession reports whether the kind is the session allowance
func (k QuotaKind) IsSession() bool { return k.class == kindSession }

// IsWeekly reports whether the kind is the weekly allowance
func (k QuotaKind) IsWeekly() bool { return k.class == kindWeekly }

// Label returns the model or window label, empty for session and weekly kinds
func (k QuotaKind) Label() string { return k.label }

// String returns a short display name such as "session" or "model:Opus"
func (k QuotaKind) String() string {
	if k.label == "" {
		return string(k.class)
	}
	return string(k.class) + ":" + k.label
}

type kindJSON struct {
	Class kindClass `json:"class"`
	Label string    `json:"label,omitempty"`
}

// MarshalJSON encodes the kind with its class and optional label
func (k QuotaKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(kindJSON{Class: k.class, Label: k.label})
}

// UnmarshalJSON decodes a kind from its class and optional label
func (k *QuotaKind) UnmarshalJSON(data []byte) error {
	var v kindJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch v.Class {
	case kindSession, kindWeekly, kindModel, kindTimeLimit:
		k.class, k.label = v.Class, v.Label
	default:
		return fmt.Errorf("unknown quota kind %q", v.Class)
	}
	return nil
}

// Quota is one tracked allowance of a provider at a point in time.
// PercentRemaining is stored exactly as reported: negative values mean the
// allowance is overdrawn and values above 100 are preserved.
type Quota struct {
	ProviderID       string     `json:"provider_id"`
	Kind             QuotaKind  `json:"kind"`
	PercentRemaining float64    `json:"percent_remaining"`
	ResetsAt         *time.Time `json:"resets_at,omitempty"`
	ResetText        string     `json:"reset_text,omitempty"`
}

// Status returns the severity band for this quota
func (q Quota) Status() Status {
	return StatusForPercent(q.PercentRemaining)
}

// DisplayPercentUsed returns the used percentage for display, the complement
// of the remaining percentage. It is deliberately unclamped so overdrawn
// quotas show above 100 and over-reported ones below 0.
func (q Quota) DisplayPercentUsed() float64 {
	return 100 - q.PercentRemaining
}

// Less orders quotas by remaining percentage, least first
func (q Quota) Less(other Quota) bool {
	return q.PercentRemaining < other.PercentRemaining
}

// Snapshot is one provider's complete quota picture captured by a probe
type Snapshot struct {
	ProviderID   string    `json:"provider_id"`
	Quotas       []Quota   `json:"quotas"`
	CapturedAt   time.Time `json:"captured_at"`
	AccountEmail string    `json:"account_email,omitempty"`
	AccountTier  string    `json:"account_tier,omitempty"`
}

// OverallStatus returns the worst status across the snapshot's quotas,
// healthy when the snapshot holds none
func (s *Snapshot) OverallStatus() Status {
	worst := StatusHealthy
	for _, q := range s.Quotas {
		worst = worst.Worse(q.Status())
	}
	return worst
}

// LowestQuota returns the quota with the least remaining percentage, nil
// when the snapshot holds none. Ties keep the earlier quota.
func (s *Snapshot) LowestQuota() *Quota {
	var lowest *Quota
	for i := range s.Quotas {
		if lowest == nil || s.Quotas[i].Less(*lowest) {
			lowest = &s.Quotas[i]
		}
	}
	return lowest
}

// Clone returns a deep copy of the snapshot
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := *s
	out.Quotas = make([]Quota, len(s.Quotas))
	copy(out.Quotas, s.Quotas)
	for i := range out.Quotas {
		if t := s.Quotas[i].ResetsAt; t != nil {
			reset := *t
			out.Quotas[i].ResetsAt = &reset
		}
	}
	return &out
}
