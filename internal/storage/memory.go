package storage

import (
	"context"
	"sync"
	"time"

	"safetynotify/internal/channel"
	"safetynotify/internal/delivery"
	"safetynotify/internal/escalate"
)

// Memory is the dependency-free store used by tests and throwaway runs.
// It applies the same lattice and compare-and-set rules as the sqlite
// driver.
type Memory struct {
	mu sync.Mutex

	deliveries  []*delivery.Record
	byMessageID map[string]*delivery.Record
	logs        []delivery.WebhookLog
	obligations map[string]*escalate.Obligation
	closed      map[string]time.Time
}

func NewMemory() *Memory {
	return &Memory{
		byMessageID: map[string]*delivery.Record{},
		obligations: map[string]*escalate.Obligation{},
		closed:      map[string]time.Time{},
	}
}

func (m *Memory) Close() error               { return nil }
func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) CreateDelivery(_ context.Context, rec *delivery.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	cp := *rec
	m.deliveries = append(m.deliveries, &cp)
	if cp.ProviderMessageID != "" {
		m.byMessageID[cp.ProviderMessageID] = &cp
	}
	return nil
}

func (m *Memory) HasSuccessfulDelivery(_ context.Context, eventID, recipientID string, ch channel.Channel) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.deliveries {
		if r.EventID == eventID && r.RecipientID == recipientID && r.Channel == ch {
			switch r.Status {
			case delivery.StatusSent, delivery.StatusDelivered, delivery.StatusRead:
				return true, nil
			}
		}
	}
	return false, nil
}

func (m *Memory) UpdateDeliveryStatus(_ context.Context, providerMessageID string, to delivery.Status, at time.Time, raw delivery.WebhookEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byMessageID[providerMessageID]
	if !ok {
		return false, ErrNotFound
	}
	rec.Webhooks = append(rec.Webhooks, raw)
	return rec.Advance(to, at), nil
}

func (m *Memory) AppendDeliveryEvent(_ context.Context, providerMessageID string, raw delivery.WebhookEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byMessageID[providerMessageID]
	if !ok {
		return ErrNotFound
	}
	rec.Webhooks = append(rec.Webhooks, raw)
	return nil
}

func (m *Memory) ListDeliveriesByEvent(_ context.Context, eventID string) ([]delivery.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []delivery.Record
	for _, r := range m.deliveries {
		if r.EventID == eventID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *Memory) ListDeliveriesByRecipient(_ context.Context, recipientID string) ([]delivery.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []delivery.Record
	for _, r := range m.deliveries {
		if r.RecipientID == recipientID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *Memory) AppendWebhookLog(_ context.Context, entry delivery.WebhookLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.ReceivedAt.IsZero() {
		entry.ReceivedAt = time.Now()
	}
	m.logs = append(m.logs, entry)
	return nil
}

// WebhookLogs returns a copy of the request audit log (test helper).
func (m *Memory) WebhookLogs() []delivery.WebhookLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]delivery.WebhookLog(nil), m.logs...)
}

func (m *Memory) CreateObligation(_ context.Context, ob escalate.Obligation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ob.StartedAt.IsZero() {
		ob.StartedAt = time.Now()
	}
	cp := ob
	m.obligations[ob.ID] = &cp
	return nil
}

func (m *Memory) ListOpenObligations(_ context.Context, kind escalate.ObligationKind) ([]escalate.Obligation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []escalate.Obligation
	for _, ob := range m.obligations {
		if ob.Kind != kind {
			continue
		}
		if _, done := m.closed[ob.ID]; done {
			continue
		}
		out = append(out, *ob)
	}
	return out, nil
}

func (m *Memory) CloseObligation(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.obligations[id]; !ok {
		return ErrNotFound
	}
	if _, done := m.closed[id]; done {
		return ErrNotFound
	}
	m.closed[id] = at
	return nil
}

func (m *Memory) SetObligationTarget(_ context.Context, id string, target time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ob, ok := m.obligations[id]; ok && ob.TargetDate.IsZero() {
		ob.TargetDate = target
	}
	return nil
}

func (m *Memory) MarkWarningSent(_ context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ob, ok := m.obligations[id]
	if !ok || !ob.WarningSentAt.IsZero() {
		return false, nil
	}
	ob.WarningSentAt = at
	return true, nil
}

func (m *Memory) AdvanceEscalation(_ context.Context, id string, from, to int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ob, ok := m.obligations[id]
	if !ok || ob.EscalationLevel != from {
		return false, nil
	}
	ob.EscalationLevel = to
	return true, nil
}
