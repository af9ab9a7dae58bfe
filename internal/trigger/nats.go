// Package trigger feeds externally published safety events into the
// dispatcher. The NATS subject tree mirrors the event kinds, so
// producers publish to safety.events.<kind> and the subscriber listens
// on the wildcard.
package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"safetynotify/internal/dispatch"
	"safetynotify/internal/event"
	"safetynotify/pkg/logx"
)

type NatsConfig struct {
	URL     string
	Subject string
	Queue   string

	ConnectTimeout  time.Duration
	DispatchTimeout time.Duration
}

func (c NatsConfig) withDefaults() NatsConfig {
	if c.Subject == "" {
		c.Subject = "safety.events.>"
	}
	if c.Queue == "" {
		c.Queue = "safetynotify"
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = 2 * time.Minute
	}
	return c
}

func (c NatsConfig) Configured() bool { return c.URL != "" }

// Dispatcher is the downstream the subscriber hands decoded events to.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) (dispatch.Result, error)
}

// eventMessage is the published wire shape.
type eventMessage struct {
	ID                string              `json:"id"`
	Kind              string              `json:"kind"`
	Severity          event.SeverityLabel `json:"severity"`
	Tenant            string              `json:"tenant"`
	Site              string              `json:"site"`
	Title             string              `json:"title"`
	Detail            map[string]any      `json:"detail"`
	HasInjury         bool                `json:"has_injury"`
	EmergencyOverride bool                `json:"emergency_override"`
	OccurredAt        time.Time           `json:"occurred_at"`
	Attachments       []struct {
		URL     string `json:"url"`
		Caption string `json:"caption"`
	} `json:"attachments"`
}

// NatsSubscriber consumes published safety events and dispatches them.
// It joins a queue group so multiple replicas split the stream instead
// of duplicating sends.
type NatsSubscriber struct {
	cfg        NatsConfig
	dispatcher Dispatcher
	log        logx.Logger

	conn *nats.Conn
	sub  *nats.Subscription
}

func NewNatsSubscriber(cfg NatsConfig, dispatcher Dispatcher, log logx.Logger) *NatsSubscriber {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &NatsSubscriber{cfg: cfg.withDefaults(), dispatcher: dispatcher, log: log}
}

func (s *NatsSubscriber) Start() error {
	conn, err := nats.Connect(s.cfg.URL,
		nats.Timeout(s.cfg.ConnectTimeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			s.log.Warn("nats disconnected", logx.Err(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			s.log.Info("nats reconnected", logx.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return fmt.Errorf("trigger: connect nats %q: %w", s.cfg.URL, err)
	}
	s.conn = conn

	sub, err := conn.QueueSubscribe(s.cfg.Subject, s.cfg.Queue, s.handle)
	if err != nil {
		conn.Close()
		return fmt.Errorf("trigger: subscribe %q: %w", s.cfg.Subject, err)
	}
	s.sub = sub
	s.log.Info("nats event intake started",
		logx.String("subject", s.cfg.Subject),
		logx.String("queue", s.cfg.Queue))
	return nil
}

func (s *NatsSubscriber) Stop() {
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	if s.conn != nil {
		s.conn.Close()
	}
}

func (s *NatsSubscriber) handle(msg *nats.Msg) {
	req, err := decodeEvent(msg.Data)
	if err != nil {
		// A malformed message stays malformed; dropping beats redelivery.
		s.log.Warn("event message dropped",
			logx.String("subject", msg.Subject),
			logx.Err(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.DispatchTimeout)
	defer cancel()
	res, err := s.dispatcher.Dispatch(ctx, req)
	if err != nil {
		s.log.Error("event dispatch failed",
			logx.String("event", req.Event.ID),
			logx.Err(err))
		return
	}
	s.log.Info("published event dispatched",
		logx.String("event", req.Event.ID),
		logx.String("kind", string(req.Event.Kind)),
		logx.Int("sent", res.Sent),
		logx.Int("failed", res.Failed),
		logx.Int("skipped", res.Skipped))
}

func decodeEvent(data []byte) (dispatch.Request, error) {
	var in eventMessage
	if err := json.Unmarshal(data, &in); err != nil {
		return dispatch.Request{}, fmt.Errorf("decode event: %w", err)
	}
	kind := event.Kind(in.Kind)
	if !kind.Valid() {
		return dispatch.Request{}, fmt.Errorf("unknown event kind %q", in.Kind)
	}
	if in.Tenant == "" || in.Title == "" {
		return dispatch.Request{}, fmt.Errorf("event missing tenant or title")
	}

	ev := event.Event{
		ID:                in.ID,
		Kind:              kind,
		Severity:          in.Severity.Severity(),
		Tenant:            in.Tenant,
		Site:              in.Site,
		Title:             in.Title,
		Detail:            in.Detail,
		HasInjury:         in.HasInjury,
		EmergencyOverride: in.EmergencyOverride,
		OccurredAt:        in.OccurredAt,
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}

	req := dispatch.Request{Event: ev}
	for _, a := range in.Attachments {
		if a.URL == "" {
			continue
		}
		req.Attachments = append(req.Attachments, dispatch.Attachment{URL: a.URL, Caption: a.Caption})
	}
	return req, nil
}
