package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"safetynotify/internal/delivery"
	"safetynotify/internal/dispatch"
	"safetynotify/internal/escalate"
	"safetynotify/internal/event"
	"safetynotify/internal/storage"
	"safetynotify/internal/webhook"
	"safetynotify/pkg/logx"
)

type stubDispatcher struct {
	last dispatch.Request
	res  dispatch.Result
}

func (d *stubDispatcher) Dispatch(_ context.Context, req dispatch.Request) (dispatch.Result, error) {
	d.last = req
	return d.res, nil
}

func newTestServer(t *testing.T) (*Server, *storage.Memory, *stubDispatcher) {
	t.Helper()
	store := storage.NewMemory()
	disp := &stubDispatcher{res: dispatch.Result{Sent: 1}}
	srv := NewServer(Config{}, webhook.NewProcessor(store, logx.Nop()), disp, store, logx.Nop())
	return srv, store, disp
}

func do(t *testing.T, srv *Server, method, target, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return m
}

func TestWebhookAlwaysAnswersOK(t *testing.T) {
	t.Parallel()

	srv, store, _ := newTestServer(t)
	err := store.CreateDelivery(context.Background(), &delivery.Record{
		ID: "d1", EventID: "ev-1", RecipientID: "p1",
		ProviderMessageID: "SM1", Status: delivery.StatusSent,
		SentAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	cases := []struct {
		name          string
		contentType   string
		body          string
		wantProcessed bool
	}{
		{"twilio delivered", "application/x-www-form-urlencoded", "MessageSid=SM1&MessageStatus=delivered", true},
		{"orphan message id", "application/x-www-form-urlencoded", "MessageSid=SM404&MessageStatus=delivered", false},
		{"garbage", "application/json", `{"what":"ever"}`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(t, srv, http.MethodPost, "/webhook", tc.contentType, tc.body)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", w.Code)
			}
			resp := decode(t, w)
			if resp["processed"] != tc.wantProcessed {
				t.Errorf("processed = %v, want %v (%v)", resp["processed"], tc.wantProcessed, resp)
			}
		})
	}
}

func TestPostEventDispatches(t *testing.T) {
	t.Parallel()

	srv, _, disp := newTestServer(t)
	body := `{
		"kind": "incident_created",
		"severity": "high",
		"tenant": "acme",
		"site": "plant-1",
		"title": "Chemical spill",
		"has_injury": true,
		"attachments": [{"url": "https://cdn.example.com/spill.jpg", "caption": "spill area"}]
	}`
	w := do(t, srv, http.MethodPost, "/events", "application/json", body)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", w.Code, w.Body.String())
	}

	got := disp.last
	if got.Event.Kind != event.KindIncidentCreated {
		t.Errorf("kind = %q", got.Event.Kind)
	}
	if got.Event.Severity != event.SeverityMajor {
		t.Errorf("severity = %v, want major (mapped from high)", got.Event.Severity)
	}
	if !got.Event.HasInjury {
		t.Error("has_injury not carried")
	}
	if got.Event.ID == "" {
		t.Error("event id not generated")
	}
	if len(got.Attachments) != 1 || got.Attachments[0].URL != "https://cdn.example.com/spill.jpg" {
		t.Errorf("attachments = %+v", got.Attachments)
	}

	resp := decode(t, w)
	if resp["event_id"] == "" {
		t.Error("response missing event_id")
	}
}

func TestPostEventAcceptsOrdinalSeverity(t *testing.T) {
	t.Parallel()

	srv, _, disp := newTestServer(t)
	body := `{"kind":"incident_created","severity":4,"tenant":"acme","title":"x"}`
	w := do(t, srv, http.MethodPost, "/events", "application/json", body)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", w.Code, w.Body.String())
	}
	if disp.last.Event.Severity != event.SeverityMajor {
		t.Errorf("severity = %v, want major (ordinal 4)", disp.last.Event.Severity)
	}
}

func TestPostEventRejectsBadInput(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t)

	cases := []struct {
		name string
		body string
	}{
		{"missing title", `{"kind":"incident_created","tenant":"acme"}`},
		{"unknown kind", `{"kind":"meteor_strike","tenant":"acme","title":"x"}`},
		{"not json", `kind=incident_created`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(t, srv, http.MethodPost, "/events", "application/json", tc.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestGetDeliveries(t *testing.T) {
	t.Parallel()

	srv, store, _ := newTestServer(t)
	now := time.Now()
	seed := []*delivery.Record{
		{ID: "d1", EventID: "ev-1", RecipientID: "p1", Status: delivery.StatusSent, SentAt: now},
		{ID: "d2", EventID: "ev-1", RecipientID: "p2", Status: delivery.StatusFailed, FailedAt: now, IsFinal: true},
		{ID: "d3", EventID: "ev-2", RecipientID: "p1", Status: delivery.StatusDelivered, SentAt: now, DeliveredAt: now},
	}
	for _, r := range seed {
		if err := store.CreateDelivery(context.Background(), r); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	w := do(t, srv, http.MethodGet, "/deliveries?event_id=ev-1", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if resp := decode(t, w); resp["count"] != float64(2) {
		t.Errorf("event query count = %v, want 2", resp["count"])
	}

	w = do(t, srv, http.MethodGet, "/deliveries?recipient_id=p1", "", "")
	if resp := decode(t, w); resp["count"] != float64(2) {
		t.Errorf("recipient query count = %v, want 2", resp["count"])
	}

	w = do(t, srv, http.MethodGet, "/deliveries", "", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("bare query status = %d, want 400", w.Code)
	}
}

func TestGetDeliveriesOmitsZeroTimestamps(t *testing.T) {
	t.Parallel()

	srv, store, _ := newTestServer(t)
	err := store.CreateDelivery(context.Background(), &delivery.Record{
		ID: "d1", EventID: "ev-1", RecipientID: "p1",
		Status: delivery.StatusSent, SentAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	w := do(t, srv, http.MethodGet, "/deliveries?event_id=ev-1", "", "")
	body := w.Body.String()
	if strings.Contains(body, "delivered_at") || strings.Contains(body, "failed_at") {
		t.Errorf("zero timestamps leaked into response: %s", body)
	}
	if !strings.Contains(body, "sent_at") {
		t.Errorf("sent_at missing from response: %s", body)
	}
}

func TestGetDeliveriesCarriesWebhookTrail(t *testing.T) {
	t.Parallel()

	srv, store, _ := newTestServer(t)
	err := store.CreateDelivery(context.Background(), &delivery.Record{
		ID: "d1", EventID: "ev-1", RecipientID: "p1",
		Provider: "twilio", ProviderMessageID: "SM123",
		Status: delivery.StatusSent, SentAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	raw := "MessageSid=SM123&MessageStatus=delivered"
	if w := do(t, srv, http.MethodPost, "/webhook", "application/x-www-form-urlencoded", raw); w.Code != http.StatusOK {
		t.Fatalf("webhook status = %d", w.Code)
	}

	w := do(t, srv, http.MethodGet, "/deliveries?event_id=ev-1", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Deliveries []struct {
			Status       string                  `json:"status"`
			WebhookCount int                     `json:"webhook_count"`
			Webhooks     []delivery.WebhookEvent `json:"webhooks"`
		} `json:"deliveries"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Deliveries) != 1 {
		t.Fatalf("deliveries = %+v", resp.Deliveries)
	}
	d := resp.Deliveries[0]
	if d.Status != string(delivery.StatusDelivered) {
		t.Errorf("status = %q, want delivered", d.Status)
	}
	if d.WebhookCount != 1 || len(d.Webhooks) != 1 {
		t.Fatalf("webhook trail = count %d, events %+v", d.WebhookCount, d.Webhooks)
	}
	if d.Webhooks[0].Provider != "twilio" || d.Webhooks[0].Raw != raw {
		t.Errorf("raw event = %+v, want verbatim twilio payload", d.Webhooks[0])
	}
}

func TestObligationLifecycle(t *testing.T) {
	t.Parallel()

	srv, store, _ := newTestServer(t)
	body := `{
		"tenant": "acme",
		"kind": "investigation",
		"ref": "INV-2026-014",
		"assignee_id": "p1",
		"severity": "high"
	}`
	w := do(t, srv, http.MethodPost, "/obligations", "application/json", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", w.Code, w.Body.String())
	}
	id, _ := decode(t, w)["id"].(string)
	if id == "" {
		t.Fatal("response missing obligation id")
	}

	open, err := store.ListOpenObligations(context.Background(), escalate.ObligationInvestigation)
	if err != nil {
		t.Fatalf("ListOpenObligations: %v", err)
	}
	if len(open) != 1 || open[0].Severity != event.SeverityMajor {
		t.Fatalf("open obligations = %+v", open)
	}

	w = do(t, srv, http.MethodPost, "/obligations/"+id+"/close", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("close status = %d: %s", w.Code, w.Body.String())
	}
	open, _ = store.ListOpenObligations(context.Background(), escalate.ObligationInvestigation)
	if len(open) != 0 {
		t.Errorf("obligation still open after close: %+v", open)
	}

	// Double close and unknown ids both 404.
	if w = do(t, srv, http.MethodPost, "/obligations/"+id+"/close", "", ""); w.Code != http.StatusNotFound {
		t.Errorf("double close status = %d, want 404", w.Code)
	}
	if w = do(t, srv, http.MethodPost, "/obligations/nope/close", "", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown close status = %d, want 404", w.Code)
	}
}

func TestCreateObligationRejectsBadKind(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t)
	body := `{"tenant":"acme","kind":"vacation","ref":"X","assignee_id":"p1"}`
	if w := do(t, srv, http.MethodPost, "/obligations", "application/json", body); w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t)
	w := do(t, srv, http.MethodGet, "/healthz", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if resp := decode(t, w); resp["status"] != "ok" {
		t.Errorf("status field = %v", resp["status"])
	}
}
