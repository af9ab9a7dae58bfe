// Package delivery holds the durable delivery-tracking model: the
// append-only DeliveryRecord and its strictly forward-moving status
// lattice.
package delivery

import (
	"time"

	"safetynotify/internal/channel"
	"safetynotify/internal/event"
)

// Status is the unified delivery status across all providers.
type Status string

const (
	StatusPending    Status = "pending"
	StatusSent       Status = "sent"
	StatusDelivered  Status = "delivered"
	StatusRead       Status = "read"
	StatusFailed     Status = "failed"
	StatusBounced    Status = "bounced"
	StatusComplained Status = "complained"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSent, StatusDelivered, StatusRead,
		StatusFailed, StatusBounced, StatusComplained:
		return true
	}
	return false
}

// Terminal reports whether the status ends the record's lifecycle.
func (s Status) Terminal() bool {
	switch s {
	case StatusRead, StatusFailed, StatusBounced, StatusComplained:
		return true
	}
	return false
}

// rank orders the happy path; failure states are handled separately.
func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return -1
}

// WebhookEvent is one raw provider callback appended to the record's
// audit trail, kept verbatim for compliance.
type WebhookEvent struct {
	Provider   string    `json:"provider"`
	ReceivedAt time.Time `json:"received_at"`
	Raw        string    `json:"raw"`
}

// WebhookLog is the sanitized request-level audit entry written for every
// inbound webhook, whether or not status processing succeeded.
type WebhookLog struct {
	ID          string
	Provider    string
	ContentType string
	Body        string
	ReceivedAt  time.Time
	Processed   bool
	Note        string
}

// Record tracks one send attempt's lifecycle. Created when the send is
// attempted; thereafter mutated only through Advance; never deleted.
type Record struct {
	ID        string
	Tenant    string
	EventID   string
	EventKind event.Kind

	RecipientID string
	Channel     channel.Channel
	Provider    string

	// ProviderMessageID is unique per provider and is the sole join key
	// for asynchronous status updates.
	ProviderMessageID string
	ToAddress         string

	Status  Status
	IsFinal bool

	CreatedAt   time.Time
	SentAt      time.Time
	DeliveredAt time.Time
	ReadAt      time.Time
	FailedAt    time.Time

	ErrorCode    string
	ErrorMessage string
	Meta         map[string]string

	Webhooks []WebhookEvent
}

// Advance moves the record forward through the status lattice.
// It returns false (and leaves the record untouched) when the transition
// would be a regression or a replay; re-applying a terminal status is a
// no-op, never an error.
func (r *Record) Advance(to Status, at time.Time) bool {
	if !to.Valid() {
		return false
	}
	if r.Status.Terminal() {
		return false
	}
	if to == r.Status {
		return false
	}

	if !to.Terminal() || to == StatusRead {
		// Happy-path move must strictly increase rank.
		if to.rank() <= r.Status.rank() {
			return false
		}
	}

	r.Status = to
	switch to {
	case StatusSent:
		r.SentAt = at
	case StatusDelivered:
		r.DeliveredAt = at
	case StatusRead:
		if r.DeliveredAt.IsZero() {
			// Read implies delivered even when the intermediate
			// callback was lost or arrived out of order.
			r.DeliveredAt = at
		}
		r.ReadAt = at
	case StatusFailed, StatusBounced, StatusComplained:
		r.FailedAt = at
	}
	if to.Terminal() {
		r.IsFinal = true
	}
	return true
}
