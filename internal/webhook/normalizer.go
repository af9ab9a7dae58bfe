// Package webhook turns provider status callbacks into status lattice
// advances on the matching delivery record. Providers do not identify
// themselves; the payload shape is fingerprinted instead.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"safetynotify/internal/delivery"
	"safetynotify/internal/storage"
	"safetynotify/pkg/logx"
)

const maxLoggedBody = 8 << 10

// Store is the slice of persistence the processor needs.
type Store interface {
	UpdateDeliveryStatus(ctx context.Context, providerMessageID string, to delivery.Status, at time.Time, raw delivery.WebhookEvent) (bool, error)
	AppendDeliveryEvent(ctx context.Context, providerMessageID string, raw delivery.WebhookEvent) error
	AppendWebhookLog(ctx context.Context, entry delivery.WebhookLog) error
}

// Outcome summarizes one processed callback. Provider is "" when the
// payload matched no known shape.
type Outcome struct {
	Provider  string
	MessageID string
	Status    delivery.Status
	Processed bool
	Note      string
}

type Processor struct {
	store Store
	log   logx.Logger
	now   func() time.Time
}

func NewProcessor(store Store, log logx.Logger) *Processor {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Processor{store: store, log: log, now: time.Now}
}

// Process identifies the sender, normalizes its status vocabulary and
// applies the update. It never returns an error for bad payloads:
// providers retry on non-2xx, and a malformed callback will not get
// better on the third attempt. Every request is written to the audit
// log regardless of outcome.
func (p *Processor) Process(ctx context.Context, contentType string, body []byte) Outcome {
	out := p.process(ctx, contentType, body)

	entry := delivery.WebhookLog{
		ID:          uuid.NewString(),
		Provider:    out.Provider,
		ContentType: contentType,
		Body:        clip(string(body), maxLoggedBody),
		ReceivedAt:  p.now(),
		Processed:   out.Processed,
		Note:        out.Note,
	}
	if err := p.store.AppendWebhookLog(ctx, entry); err != nil {
		p.log.Error("webhook audit log write failed", logx.Err(err))
	}
	return out
}

func (p *Processor) process(ctx context.Context, contentType string, body []byte) Outcome {
	upd, ok := fingerprint(contentType, body)
	if !ok {
		p.log.Warn("webhook payload matched no known provider",
			logx.String("content_type", contentType),
			logx.Int("bytes", len(body)))
		return Outcome{Note: "unrecognized payload"}
	}

	out := Outcome{Provider: upd.provider, MessageID: upd.messageID}
	if upd.messageID == "" {
		out.Note = "missing message id"
		return out
	}

	raw := delivery.WebhookEvent{
		Provider:   upd.provider,
		ReceivedAt: p.now(),
		Raw:        clip(string(body), maxLoggedBody),
	}

	status, ok := upd.normalize()
	if !ok {
		// Unknown vocabulary from a known provider: the status is not
		// applied, but the raw event still joins the record's trail.
		p.log.Info("webhook status not in provider vocabulary",
			logx.String("provider", upd.provider),
			logx.String("status", upd.rawStatus))
		out.Note = fmt.Sprintf("unmapped status %q", upd.rawStatus)
		if err := p.store.AppendDeliveryEvent(ctx, upd.messageID, raw); err != nil && !errors.Is(err, storage.ErrNotFound) {
			p.log.Warn("webhook trail append failed",
				logx.String("message_id", upd.messageID),
				logx.Err(err))
		}
		return out
	}
	out.Status = status
	applied, err := p.store.UpdateDeliveryStatus(ctx, upd.messageID, status, p.now(), raw)
	if err != nil {
		// Includes ErrNotFound: webhooks can outrun the record insert or
		// belong to messages sent outside this system.
		p.log.Warn("webhook status update not applied",
			logx.String("provider", upd.provider),
			logx.String("message_id", upd.messageID),
			logx.Err(err))
		out.Note = err.Error()
		return out
	}
	if !applied {
		out.Note = "replay or out-of-order, ignored"
		return out
	}
	out.Processed = true
	return out
}

// update is the provider-agnostic intermediate form.
type update struct {
	provider  string
	messageID string
	rawStatus string
	ack       int  // waha only
	hasAck    bool // waha only
}

func (u update) normalize() (delivery.Status, bool) {
	switch u.provider {
	case ProviderTwilio:
		s, ok := twilioStatuses[strings.ToLower(u.rawStatus)]
		return s, ok
	case ProviderWAHA:
		if !u.hasAck {
			return "", false
		}
		s, ok := wahaAcks[u.ack]
		return s, ok
	case ProviderResend:
		s, ok := resendTypes[strings.ToLower(u.rawStatus)]
		return s, ok
	default:
		s := delivery.Status(strings.ToLower(u.rawStatus))
		return s, s.Valid()
	}
}

const (
	ProviderTwilio  = "twilio"
	ProviderWAHA    = "waha"
	ProviderResend  = "resend"
	ProviderGeneric = "generic"
)

// twilioStatuses maps Twilio's MessageStatus vocabulary. Pre-send
// states (queued, accepted, sending) are deliberately absent: the
// record was already created as sent, there is nothing to advance to.
var twilioStatuses = map[string]delivery.Status{
	"sent":        delivery.StatusSent,
	"delivered":   delivery.StatusDelivered,
	"read":        delivery.StatusRead,
	"failed":      delivery.StatusFailed,
	"undelivered": delivery.StatusFailed,
}

// wahaAcks maps WAHA's numeric ack levels. 4 is "played", reported for
// voice notes; it implies read.
var wahaAcks = map[int]delivery.Status{
	-1: delivery.StatusFailed,
	1:  delivery.StatusSent,
	2:  delivery.StatusDelivered,
	3:  delivery.StatusRead,
	4:  delivery.StatusRead,
}

var resendTypes = map[string]delivery.Status{
	"email.sent":       delivery.StatusSent,
	"email.delivered":  delivery.StatusDelivered,
	"email.opened":     delivery.StatusRead,
	"email.bounced":    delivery.StatusBounced,
	"email.complained": delivery.StatusComplained,
	"email.failed":     delivery.StatusFailed,
}

// fingerprint identifies the sending provider from the payload shape.
// Order matters: Twilio is the only form-encoded sender; among the
// JSON shapes WAHA's session+event envelope and Resend's type prefix
// are checked before falling back to the generic contract.
func fingerprint(contentType string, body []byte) (update, bool) {
	if isForm(contentType) {
		if u, ok := parseTwilio(body); ok {
			return u, true
		}
		return update{}, false
	}
	if u, ok := parseWAHA(body); ok {
		return u, true
	}
	if u, ok := parseResend(body); ok {
		return u, true
	}
	if u, ok := parseGeneric(body); ok {
		return u, true
	}
	return update{}, false
}

func isForm(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/x-www-form-urlencoded"
}

func parseTwilio(body []byte) (update, bool) {
	vals, err := url.ParseQuery(string(body))
	if err != nil {
		return update{}, false
	}
	sid := vals.Get("MessageSid")
	status := vals.Get("MessageStatus")
	if sid == "" || status == "" {
		return update{}, false
	}
	return update{provider: ProviderTwilio, messageID: sid, rawStatus: status}, true
}

// wahaEnvelope is WAHA's event wrapper. The message id lives under
// payload.id either as a plain string or as a {_serialized} object,
// mirroring what the send API returns.
type wahaEnvelope struct {
	Session string `json:"session"`
	Event   string `json:"event"`
	Payload struct {
		ID  json.RawMessage `json:"id"`
		Ack *int            `json:"ack"`
	} `json:"payload"`
}

func parseWAHA(body []byte) (update, bool) {
	var env wahaEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return update{}, false
	}
	if env.Session == "" || env.Event == "" {
		return update{}, false
	}
	u := update{provider: ProviderWAHA, messageID: wahaMessageID(env.Payload.ID)}
	if env.Payload.Ack != nil {
		u.ack = *env.Payload.Ack
		u.hasAck = true
		u.rawStatus = fmt.Sprintf("ack:%d", u.ack)
	}
	return u, true
}

func wahaMessageID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Serialized string `json:"_serialized"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Serialized
	}
	return ""
}

type resendEnvelope struct {
	Type string `json:"type"`
	Data struct {
		EmailID string `json:"email_id"`
	} `json:"data"`
}

func parseResend(body []byte) (update, bool) {
	var env resendEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return update{}, false
	}
	if !strings.HasPrefix(env.Type, "email.") {
		return update{}, false
	}
	return update{provider: ProviderResend, messageID: env.Data.EmailID, rawStatus: env.Type}, true
}

type genericEnvelope struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

func parseGeneric(body []byte) (update, bool) {
	var env genericEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return update{}, false
	}
	if env.MessageID == "" || env.Status == "" {
		return update{}, false
	}
	return update{provider: ProviderGeneric, messageID: env.MessageID, rawStatus: env.Status}, true
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
