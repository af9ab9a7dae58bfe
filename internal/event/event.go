package event

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind identifies why a notification is being raised.
type Kind string

const (
	KindIncidentCreated      Kind = "incident_created"
	KindInvestigationOverdue Kind = "investigation_overdue"
	KindMaintenanceOverdue   Kind = "maintenance_overdue"
	KindEmergencyAlert       Kind = "emergency_alert"
)

func (k Kind) Valid() bool {
	switch k {
	case KindIncidentCreated, KindInvestigationOverdue, KindMaintenanceOverdue, KindEmergencyAlert:
		return true
	}
	return false
}

// Severity is the canonical ordinal scale, 1..5.
//
// Upstream modules report severity either as a number or as a qualitative
// label; ParseSeverity folds both onto this scale.
type Severity int

const (
	SeverityNegligible Severity = 1
	SeverityLow        Severity = 2
	SeverityMedium     Severity = 3
	SeverityMajor      Severity = 4
	SeverityCritical   Severity = 5

	// SeveritySerious is the tier at and above which chat channels open up
	// for all stakeholders (the noise-reduction gate).
	SeveritySerious = SeverityMajor

	// SeverityEmergencyFloor is the minimum effective severity when the
	// emergency-response-plan override is set.
	SeverityEmergencyFloor = SeverityMajor
)

func (s Severity) Valid() bool { return s >= SeverityNegligible && s <= SeverityCritical }

func (s Severity) String() string {
	switch s {
	case SeverityNegligible:
		return "negligible"
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityMajor:
		return "major"
	case SeverityCritical:
		return "critical"
	}
	return "unknown"
}

// ParseSeverity maps a qualitative label or an ordinal digit onto the
// scale. Unknown input comes back as SeverityMedium so an unrecognized
// upstream vocabulary never silently drops to the lowest tier.
func ParseSeverity(label string) Severity {
	s := strings.ToLower(strings.TrimSpace(label))
	if n, err := strconv.Atoi(s); err == nil {
		if sev := Severity(n); sev.Valid() {
			return sev
		}
		return SeverityMedium
	}
	switch s {
	case "negligible", "minor":
		return SeverityNegligible
	case "low":
		return SeverityLow
	case "medium", "moderate":
		return SeverityMedium
	case "high", "major", "serious":
		return SeverityMajor
	case "critical", "severe", "catastrophic":
		return SeverityCritical
	default:
		return SeverityMedium
	}
}

// SeverityLabel decodes the severity field of intake payloads, which
// producers send either as a JSON number (the ordinal) or as a string.
type SeverityLabel string

func (l *SeverityLabel) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*l = SeverityLabel(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("severity: want string or number, got %s", b)
	}
	*l = SeverityLabel(n.String())
	return nil
}

// Severity folds the label onto the canonical scale.
func (l SeverityLabel) Severity() Severity { return ParseSeverity(string(l)) }

// Event is an immutable fact requiring notification.
// It is created by the originating module and read-only here.
type Event struct {
	ID       string         `json:"id"`
	Kind     Kind           `json:"kind"`
	Severity Severity       `json:"severity"`
	Tenant   string         `json:"tenant"`
	Site     string         `json:"site,omitempty"`
	Title    string         `json:"title,omitempty"`
	Detail   map[string]any `json:"detail,omitempty"`

	// HasInjury marks incidents involving a person; it widens first-aider
	// channel eligibility below the serious tier.
	HasInjury bool `json:"has_injury,omitempty"`

	// EmergencyOverride is set when an emergency response plan is active.
	EmergencyOverride bool `json:"emergency_override,omitempty"`

	OccurredAt time.Time `json:"occurred_at,omitempty"`
}

// EffectiveSeverity returns the severity after clamping to the valid scale
// and applying the emergency floor.
func (e Event) EffectiveSeverity() Severity {
	s := e.Severity
	if s < SeverityNegligible {
		s = SeverityNegligible
	}
	if s > SeverityCritical {
		s = SeverityCritical
	}
	if e.EmergencyOverride && s < SeverityEmergencyFloor {
		s = SeverityEmergencyFloor
	}
	return s
}
