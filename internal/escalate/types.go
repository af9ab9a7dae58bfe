package escalate

import (
	"context"
	"time"

	"safetynotify/internal/event"
)

// ObligationKind is a tracked time-bound duty.
type ObligationKind string

const (
	ObligationInvestigation ObligationKind = "investigation"
	ObligationMaintenance   ObligationKind = "maintenance"
)

// Kinds lists every tracked obligation kind, in sweep order.
var Kinds = []ObligationKind{ObligationInvestigation, ObligationMaintenance}

// Obligation is one open time-bound duty with its escalation state.
// The level is monotonic: 0 (nothing fired) through the highest
// configured escalation; a reached level is never re-fired.
type Obligation struct {
	ID     string
	Tenant string
	Kind   ObligationKind
	Ref    string // human reference, e.g. the investigation number
	Site   string

	AssigneeID string
	Severity   event.Severity // priority class selecting the SLA row

	StartedAt  time.Time
	TargetDate time.Time // zero until computed and persisted once

	WarningSentAt   time.Time
	EscalationLevel int
}

// SLA is the threshold set for one priority class.
type SLA struct {
	TargetDays                int
	WarningDaysBefore         int
	EscalationDaysAfter       int
	SecondEscalationDaysAfter int // 0 = second escalation not configured
}

// Store is the persistence surface the scheduler relies on. Warning and
// level updates are compare-and-set so overlapping sweeps cannot
// double-dispatch.
type Store interface {
	ListOpenObligations(ctx context.Context, kind ObligationKind) ([]Obligation, error)

	// SetObligationTarget persists a computed target date; it only
	// writes when no target is stored yet.
	SetObligationTarget(ctx context.Context, id string, target time.Time) error

	// MarkWarningSent returns false when a warning was already recorded.
	MarkWarningSent(ctx context.Context, id string, at time.Time) (bool, error)

	// AdvanceEscalation moves level from exactly `from` to `to`;
	// it returns false when the stored level no longer matches.
	AdvanceEscalation(ctx context.Context, id string, from, to int) (bool, error)
}
