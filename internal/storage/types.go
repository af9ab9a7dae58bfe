package storage

import (
	"context"
	"errors"
	"time"

	"safetynotify/internal/channel"
	"safetynotify/internal/delivery"
	"safetynotify/internal/escalate"
)

var (
	ErrDisabled = errors.New("storage disabled")

	// ErrNotFound is returned when a delivery record lookup by provider
	// message id misses. Webhook processing treats it as non-fatal.
	ErrNotFound = errors.New("record not found")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (the production driver)
//   - "memory": in-process store (tests, throwaway runs)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API for delivery tracking and escalation
// state. Delivery records are append-only: they are created once and
// then only advanced through the status lattice, never deleted.
type Store interface {
	CreateDelivery(ctx context.Context, rec *delivery.Record) error

	// HasSuccessfulDelivery is the dispatch idempotency check for one
	// (event, recipient, channel) key.
	HasSuccessfulDelivery(ctx context.Context, eventID, recipientID string, ch channel.Channel) (bool, error)

	// UpdateDeliveryStatus joins an asynchronous provider callback onto
	// its record by provider message id, appends the raw webhook event
	// to the record's audit trail, and advances the status lattice.
	// It returns ErrNotFound when no record matches, and applied=false
	// when the transition was a replay or regression.
	UpdateDeliveryStatus(ctx context.Context, providerMessageID string, to delivery.Status, at time.Time, raw delivery.WebhookEvent) (applied bool, err error)

	// AppendDeliveryEvent adds a raw provider callback to the record's
	// audit trail without touching its status. ErrNotFound when no
	// record carries the message id.
	AppendDeliveryEvent(ctx context.Context, providerMessageID string, raw delivery.WebhookEvent) error

	ListDeliveriesByEvent(ctx context.Context, eventID string) ([]delivery.Record, error)
	ListDeliveriesByRecipient(ctx context.Context, recipientID string) ([]delivery.Record, error)

	// AppendWebhookLog records the sanitized inbound request for audit,
	// independent of whether status processing succeeded.
	AppendWebhookLog(ctx context.Context, entry delivery.WebhookLog) error

	// Obligation persistence used by the escalation scheduler.
	escalate.Store
	CreateObligation(ctx context.Context, ob escalate.Obligation) error

	// CloseObligation takes the obligation out of the sweep. Closing an
	// already closed or unknown id returns ErrNotFound.
	CloseObligation(ctx context.Context, id string, at time.Time) error

	Ping(ctx context.Context) error
	Close() error
}
