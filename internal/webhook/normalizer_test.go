package webhook

import (
	"context"
	"strconv"
	"testing"
	"time"

	"safetynotify/internal/delivery"
	"safetynotify/internal/event"
	"safetynotify/internal/storage"
	"safetynotify/pkg/logx"
)

func seedDelivery(t *testing.T, store *storage.Memory, msgID, provider string) {
	t.Helper()
	err := store.CreateDelivery(context.Background(), &delivery.Record{
		ID:                "d-" + msgID,
		EventID:           "ev-1",
		EventKind:         event.KindIncidentCreated,
		RecipientID:       "p1",
		Provider:          provider,
		ProviderMessageID: msgID,
		Status:            delivery.StatusSent,
		CreatedAt:         time.Now(),
		SentAt:            time.Now(),
	})
	if err != nil {
		t.Fatalf("seed delivery: %v", err)
	}
}

func findRecord(t *testing.T, store *storage.Memory, msgID string) delivery.Record {
	t.Helper()
	recs, err := store.ListDeliveriesByEvent(context.Background(), "ev-1")
	if err != nil {
		t.Fatalf("list deliveries: %v", err)
	}
	for _, r := range recs {
		if r.ProviderMessageID == msgID {
			return r
		}
	}
	t.Fatalf("no record with message id %q", msgID)
	return delivery.Record{}
}

func TestProcessTwilioDelivered(t *testing.T) {
	t.Parallel()

	store := storage.NewMemory()
	seedDelivery(t, store, "SM123", "twilio")
	p := NewProcessor(store, logx.Nop())

	body := "MessageSid=SM123&MessageStatus=delivered&To=whatsapp%3A%2B628123&AccountSid=AC9"
	out := p.Process(context.Background(), "application/x-www-form-urlencoded", []byte(body))

	if out.Provider != ProviderTwilio {
		t.Fatalf("provider = %q, want twilio", out.Provider)
	}
	if !out.Processed || out.Status != delivery.StatusDelivered {
		t.Fatalf("outcome = %+v, want processed delivered", out)
	}
	rec := findRecord(t, store, "SM123")
	if rec.Status != delivery.StatusDelivered || rec.DeliveredAt.IsZero() {
		t.Errorf("record = %+v, want delivered with timestamp", rec)
	}
	if len(rec.Webhooks) != 1 || rec.Webhooks[0].Provider != ProviderTwilio {
		t.Errorf("webhook trail = %+v, want one twilio entry", rec.Webhooks)
	}
}

func TestProcessTwilioReplayIgnored(t *testing.T) {
	t.Parallel()

	store := storage.NewMemory()
	seedDelivery(t, store, "SM200", "twilio")
	p := NewProcessor(store, logx.Nop())

	body := []byte("MessageSid=SM200&MessageStatus=delivered")
	first := p.Process(context.Background(), "application/x-www-form-urlencoded", body)
	if !first.Processed {
		t.Fatalf("first callback not processed: %+v", first)
	}
	rec := findRecord(t, store, "SM200")
	deliveredAt := rec.DeliveredAt

	second := p.Process(context.Background(), "application/x-www-form-urlencoded", body)
	if second.Processed {
		t.Fatalf("replay was processed: %+v", second)
	}
	rec = findRecord(t, store, "SM200")
	if !rec.DeliveredAt.Equal(deliveredAt) {
		t.Error("replay changed the delivered timestamp")
	}
	// Both callbacks stay on the audit trail even though only the first
	// advanced the record.
	if len(rec.Webhooks) != 2 {
		t.Errorf("webhook trail has %d entries, want 2", len(rec.Webhooks))
	}
}

func TestProcessWAHAAck(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		ack        int
		wantStatus delivery.Status
		processed  bool
	}{
		{"server ack is replay of sent", 1, delivery.StatusSent, false},
		{"device ack delivers", 2, delivery.StatusDelivered, true},
		{"read ack", 3, delivery.StatusRead, true},
		{"played implies read", 4, delivery.StatusRead, true},
		{"error ack fails", -1, delivery.StatusFailed, true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			store := storage.NewMemory()
			seedDelivery(t, store, "true_628123@c.us_ABC", "waha")
			p := NewProcessor(store, logx.Nop())

			body := `{"session":"default","event":"message.ack","payload":{"id":{"_serialized":"true_628123@c.us_ABC"},"ack":` + strconv.Itoa(tc.ack) + `}}`
			out := p.Process(context.Background(), "application/json", []byte(body))

			if out.Provider != ProviderWAHA {
				t.Fatalf("provider = %q, want waha", out.Provider)
			}
			if out.Processed != tc.processed {
				t.Fatalf("processed = %v, want %v (%+v)", out.Processed, tc.processed, out)
			}
			if tc.processed {
				rec := findRecord(t, store, "true_628123@c.us_ABC")
				if rec.Status != tc.wantStatus {
					t.Errorf("record status = %q, want %q", rec.Status, tc.wantStatus)
				}
			}
		})
	}
}

func TestProcessResendLifecycle(t *testing.T) {
	t.Parallel()

	store := storage.NewMemory()
	seedDelivery(t, store, "re-9f1", "resend")
	p := NewProcessor(store, logx.Nop())

	out := p.Process(context.Background(), "application/json",
		[]byte(`{"type":"email.bounced","created_at":"2026-08-30T10:00:00Z","data":{"email_id":"re-9f1","to":["ayu@example.com"]}}`))
	if out.Provider != ProviderResend || !out.Processed || out.Status != delivery.StatusBounced {
		t.Fatalf("outcome = %+v, want processed resend bounce", out)
	}

	rec := findRecord(t, store, "re-9f1")
	if !rec.IsFinal || rec.Status != delivery.StatusBounced {
		t.Fatalf("record = %+v, want final bounced", rec)
	}

	// Terminal is sticky: a late "delivered" must not resurrect it.
	late := p.Process(context.Background(), "application/json",
		[]byte(`{"type":"email.delivered","data":{"email_id":"re-9f1"}}`))
	if late.Processed {
		t.Fatalf("late delivered after bounce was processed: %+v", late)
	}
}

func TestProcessGenericPush(t *testing.T) {
	t.Parallel()

	store := storage.NewMemory()
	seedDelivery(t, store, "push-55", "push")
	p := NewProcessor(store, logx.Nop())

	out := p.Process(context.Background(), "application/json",
		[]byte(`{"messageId":"push-55","status":"delivered"}`))
	if out.Provider != ProviderGeneric || !out.Processed {
		t.Fatalf("outcome = %+v, want processed generic", out)
	}
}

func TestProcessUnknownStatusLeavesRecordAlone(t *testing.T) {
	t.Parallel()

	store := storage.NewMemory()
	seedDelivery(t, store, "push-77", "push")
	p := NewProcessor(store, logx.Nop())

	out := p.Process(context.Background(), "application/json",
		[]byte(`{"messageId":"push-77","status":"throttled"}`))
	if out.Processed {
		t.Fatalf("unknown status was processed: %+v", out)
	}
	rec := findRecord(t, store, "push-77")
	if rec.Status != delivery.StatusSent {
		t.Errorf("record status = %q, want untouched sent", rec.Status)
	}
	// The callback still lands on the record's audit trail.
	if len(rec.Webhooks) != 1 || rec.Webhooks[0].Raw == "" {
		t.Errorf("webhook trail = %+v, want the raw unmapped event", rec.Webhooks)
	}
}

func TestProcessUnknownMessageIDIsNonFatal(t *testing.T) {
	t.Parallel()

	store := storage.NewMemory()
	p := NewProcessor(store, logx.Nop())

	out := p.Process(context.Background(), "application/x-www-form-urlencoded",
		[]byte("MessageSid=SM404&MessageStatus=delivered"))
	if out.Processed {
		t.Fatalf("orphan callback was processed: %+v", out)
	}
	if out.Provider != ProviderTwilio {
		t.Errorf("provider = %q, want twilio even for orphans", out.Provider)
	}
}

func TestProcessUnrecognizedPayloadStillAudited(t *testing.T) {
	t.Parallel()

	store := storage.NewMemory()
	p := NewProcessor(store, logx.Nop())

	out := p.Process(context.Background(), "application/json", []byte(`{"hello":"world"}`))
	if out.Provider != "" || out.Processed {
		t.Fatalf("outcome = %+v, want unidentified and unprocessed", out)
	}

	logs := store.WebhookLogs()
	if len(logs) != 1 {
		t.Fatalf("audit log has %d entries, want 1", len(logs))
	}
	if logs[0].Processed {
		t.Error("audit entry marked processed")
	}
}
