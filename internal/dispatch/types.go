package dispatch

import (
	"context"
	"time"

	"safetynotify/internal/channel"
	"safetynotify/internal/delivery"
	"safetynotify/internal/event"
)

// Audience selects who a dispatch request is aimed at. The default is
// the tenant's stakeholder matrix; the escalation scheduler narrows to
// the assignee (warnings) or widens to the managerial tier (escalations).
type Audience int

const (
	AudienceMatrix Audience = iota
	AudienceAssignee
	AudienceManagers
)

// Attachment is a media payload sent as a follow-up after the primary
// text message succeeds.
type Attachment struct {
	URL     string
	Caption string
}

// Request is one logical "notify about event E" instruction.
type Request struct {
	Event event.Event

	// Level is the escalation level: 0 = first notice, 1.. = successive
	// escalations. It selects the message framing.
	Level int

	Audience   Audience
	AssigneeID string // required for AudienceAssignee

	// Template optionally overrides the catalog message.
	Template string

	Attachments []Attachment
}

// Attempt statuses mirror the aggregate counters.
type AttemptStatus string

const (
	AttemptSent    AttemptStatus = "sent"
	AttemptFailed  AttemptStatus = "failed"
	AttemptSkipped AttemptStatus = "skipped"
)

// Skip and failure reasons surfaced in attempt detail.
const (
	ReasonAlreadySent   = "already_sent"
	ReasonNoAddress     = "no_address"
	ReasonLockedByPeer  = "locked_by_peer"
	ReasonNotConfigured = "not_configured"
)

// Attempt is the per-(recipient, channel) outcome detail.
type Attempt struct {
	RecipientID       string          `json:"recipient_id"`
	Channel           channel.Channel `json:"channel"`
	Provider          string          `json:"provider,omitempty"`
	Status            AttemptStatus   `json:"status"`
	Reason            string          `json:"reason,omitempty"`
	ProviderMessageID string          `json:"provider_message_id,omitempty"`
}

// Result aggregates one dispatch run. A failure for one recipient never
// aborts the rest; callers always get the full per-attempt picture.
type Result struct {
	Sent    int       `json:"sent"`
	Failed  int       `json:"failed"`
	Skipped int       `json:"skipped"`
	Detail  []Attempt `json:"detail"`
}

func (r *Result) add(a Attempt) {
	switch a.Status {
	case AttemptSent:
		r.Sent++
	case AttemptFailed:
		r.Failed++
	case AttemptSkipped:
		r.Skipped++
	}
	r.Detail = append(r.Detail, a)
}

// Store is the slice of persistence the coordinator needs.
type Store interface {
	CreateDelivery(ctx context.Context, rec *delivery.Record) error
	HasSuccessfulDelivery(ctx context.Context, eventID, recipientID string, ch channel.Channel) (bool, error)
}

// Locker guards one idempotency key across replicas. The zero-config
// deployment uses NopLocker.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// NopLocker always grants the lock (single-replica deployments).
type NopLocker struct{}

func (NopLocker) TryLock(context.Context, string, time.Duration) (bool, error) { return true, nil }
func (NopLocker) Unlock(context.Context, string) error                         { return nil }
