// Package httpapi exposes the engine's HTTP surface: provider webhook
// intake, event submission, and delivery queries.
package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"safetynotify/internal/delivery"
	"safetynotify/internal/dispatch"
	"safetynotify/internal/escalate"
	"safetynotify/internal/event"
	"safetynotify/internal/webhook"
	"safetynotify/pkg/logx"
)

const maxWebhookBody = 512 << 10

// Store is the persistence slice the API serves from.
type Store interface {
	ListDeliveriesByEvent(ctx context.Context, eventID string) ([]delivery.Record, error)
	ListDeliveriesByRecipient(ctx context.Context, recipientID string) ([]delivery.Record, error)
	CreateObligation(ctx context.Context, ob escalate.Obligation) error
	CloseObligation(ctx context.Context, id string, at time.Time) error
	Ping(ctx context.Context) error
}

// Dispatcher accepts submitted events.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) (dispatch.Result, error)
}

type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 15 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
	return c
}

type Server struct {
	cfg        Config
	processor  *webhook.Processor
	dispatcher Dispatcher
	store      Store
	log        logx.Logger
	httpSrv    *http.Server
}

func NewServer(cfg Config, processor *webhook.Processor, dispatcher Dispatcher, store Store, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{
		cfg:        cfg.withDefaults(),
		processor:  processor,
		dispatcher: dispatcher,
		store:      store,
		log:        log,
	}
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.POST("/webhook", s.handleWebhook)
	r.POST("/events", s.handleEvent)
	r.POST("/obligations", s.handleCreateObligation)
	r.POST("/obligations/:id/close", s.handleCloseObligation)
	r.GET("/deliveries", s.handleDeliveries)
	r.GET("/healthz", s.handleHealthz)

	s.httpSrv = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      r,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }

func (s *Server) Start() error {
	s.log.Info("http server listening", logx.String("addr", s.cfg.Addr))
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// handleWebhook always answers 200: providers retry on anything else
// and a payload this service cannot parse will not parse on retry
// either. The outcome is reported in the body instead.
func (s *Server) handleWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "processed": false, "message": "unreadable body"})
		return
	}

	out := s.processor.Process(c.Request.Context(), c.ContentType(), body)
	resp := gin.H{
		"success":   true,
		"provider":  out.Provider,
		"processed": out.Processed,
	}
	if out.Note != "" {
		resp["message"] = out.Note
	}
	c.JSON(http.StatusOK, resp)
}

// eventPayload is the submission shape for POST /events.
type eventPayload struct {
	ID                string              `json:"id"`
	Kind              string              `json:"kind" binding:"required"`
	Severity          event.SeverityLabel `json:"severity"`
	Tenant            string              `json:"tenant" binding:"required"`
	Site              string              `json:"site"`
	Title             string              `json:"title" binding:"required"`
	Detail            map[string]any      `json:"detail"`
	HasInjury         bool                `json:"has_injury"`
	EmergencyOverride bool                `json:"emergency_override"`
	OccurredAt        time.Time           `json:"occurred_at"`
	Attachments       []struct {
		URL     string `json:"url" binding:"required"`
		Caption string `json:"caption"`
	} `json:"attachments"`
}

func (s *Server) handleEvent(c *gin.Context) {
	var in eventPayload
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	kind := event.Kind(in.Kind)
	if !kind.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "unknown event kind"})
		return
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
		req.Attachments = append(req.Attachments, dispatch.Attachment{URL: a.URL, Caption: a.Caption})
	}

	res, err := s.dispatcher.Dispatch(c.Request.Context(), req)
	if err != nil {
		s.log.Error("event dispatch failed", logx.String("event", ev.ID), logx.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"success": true, "event_id": ev.ID, "result": res})
}

// obligationPayload registers a tracked duty. The target date is not
// accepted here: the scheduler computes and pins it from the SLA.
type obligationPayload struct {
	ID         string              `json:"id"`
	Tenant     string              `json:"tenant" binding:"required"`
	Kind       string              `json:"kind" binding:"required"`
	Ref        string              `json:"ref" binding:"required"`
	Site       string              `json:"site"`
	AssigneeID string              `json:"assignee_id" binding:"required"`
	Severity   event.SeverityLabel `json:"severity"`
	StartedAt  time.Time           `json:"started_at"`
}

func (s *Server) handleCreateObligation(c *gin.Context) {
	var in obligationPayload
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	kind := escalate.ObligationKind(in.Kind)
	switch kind {
	case escalate.ObligationInvestigation, escalate.ObligationMaintenance:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "unknown obligation kind"})
		return
	}

	ob := escalate.Obligation{
		ID:         in.ID,
		Tenant:     in.Tenant,
		Kind:       kind,
		Ref:        in.Ref,
		Site:       in.Site,
		AssigneeID: in.AssigneeID,
		Severity:   in.Severity.Severity(),
		StartedAt:  in.StartedAt,
	}
	if ob.ID == "" {
		ob.ID = uuid.NewString()
	}
	if ob.StartedAt.IsZero() {
		ob.StartedAt = time.Now()
	}
	if err := s.store.CreateObligation(c.Request.Context(), ob); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "id": ob.ID})
}

func (s *Server) handleCloseObligation(c *gin.Context) {
	err := s.store.CloseObligation(c.Request.Context(), c.Param("id"), time.Now())
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleDeliveries(c *gin.Context) {
	eventID := c.Query("event_id")
	recipientID := c.Query("recipient_id")

	var (
		recs []delivery.Record
		err  error
	)
	switch {
	case eventID != "":
		recs, err = s.store.ListDeliveriesByEvent(c.Request.Context(), eventID)
	case recipientID != "":
		recs, err = s.store.ListDeliveriesByRecipient(c.Request.Context(), recipientID)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "event_id or recipient_id required"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "count": len(recs), "deliveries": toDeliveryViews(recs)})
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "storage": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// deliveryView is the wire shape of one record; zero timestamps are
// omitted rather than rendered as 0001-01-01.
type deliveryView struct {
	ID                string     `json:"id"`
	EventID           string     `json:"event_id"`
	EventKind         string     `json:"event_kind"`
	RecipientID       string     `json:"recipient_id"`
	Channel           string     `json:"channel"`
	Provider          string     `json:"provider,omitempty"`
	ProviderMessageID string     `json:"provider_message_id,omitempty"`
	Status            string     `json:"status"`
	IsFinal           bool       `json:"is_final"`
	CreatedAt         time.Time  `json:"created_at"`
	SentAt            *time.Time `json:"sent_at,omitempty"`
	DeliveredAt       *time.Time `json:"delivered_at,omitempty"`
	ReadAt            *time.Time `json:"read_at,omitempty"`
	FailedAt          *time.Time `json:"failed_at,omitempty"`
	ErrorMessage      string     `json:"error_message,omitempty"`
	WebhookCount      int        `json:"webhook_count"`
	// Webhooks carries the raw provider callbacks verbatim; the audit
	// trail must be readable here, not just counted.
	Webhooks []delivery.WebhookEvent `json:"webhooks,omitempty"`
}

func toDeliveryViews(recs []delivery.Record) []deliveryView {
	out := make([]deliveryView, 0, len(recs))
	for _, r := range recs {
		out = append(out, deliveryView{
			ID:                r.ID,
			EventID:           r.EventID,
			EventKind:         string(r.EventKind),
			RecipientID:       r.RecipientID,
			Channel:           string(r.Channel),
			Provider:          r.Provider,
			ProviderMessageID: r.ProviderMessageID,
			Status:            string(r.Status),
			IsFinal:           r.IsFinal,
			CreatedAt:         r.CreatedAt,
			SentAt:            optTime(r.SentAt),
			DeliveredAt:       optTime(r.DeliveredAt),
			ReadAt:            optTime(r.ReadAt),
			FailedAt:          optTime(r.FailedAt),
			ErrorMessage:      r.ErrorMessage,
			WebhookCount:      len(r.Webhooks),
			Webhooks:          r.Webhooks,
		})
	}
	return out
}

func optTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
