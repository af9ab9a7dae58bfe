// Package dispatch orchestrates one event's notification fan-out:
// resolve recipients, compose bodies, route to a provider, send, and
// record the outcome. It is the unit of idempotency: at most one
// successful send per (event, recipient, channel).
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"safetynotify/internal/channel"
	"safetynotify/internal/compose"
	"safetynotify/internal/delivery"
	"safetynotify/internal/event"
	"safetynotify/internal/recipient"
	"safetynotify/pkg/logx"
)

type Config struct {
	SendTimeout     time.Duration
	RatePerSec      int
	AttachmentDelay time.Duration
	LockTTL         time.Duration
}

func (c Config) withDefaults() Config {
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 5
	}
	if c.AttachmentDelay <= 0 {
		c.AttachmentDelay = 500 * time.Millisecond
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 30 * time.Second
	}
	return c
}

type Coordinator struct {
	cfg      Config
	resolver *recipient.Resolver
	dir      recipient.Directory
	composer *compose.Composer
	router   *channel.Router
	store    Store
	locker   Locker
	log      logx.Logger

	// Per-provider limiters so a burst on WhatsApp does not starve email.
	lmu      sync.Mutex
	limiters map[string]*rate.Limiter
}

func New(cfg Config, resolver *recipient.Resolver, dir recipient.Directory, composer *compose.Composer, router *channel.Router, store Store, locker Locker, log logx.Logger) *Coordinator {
	if locker == nil {
		locker = NopLocker{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Coordinator{
		cfg:      cfg.withDefaults(),
		resolver: resolver,
		dir:      dir,
		composer: composer,
		router:   router,
		store:    store,
		locker:   locker,
		log:      log,
		limiters: map[string]*rate.Limiter{},
	}
}

// Dispatch notifies everyone the request resolves to. Sends to distinct
// (recipient, channel) pairs run in parallel; within one pair the
// primary message and its attachments stay sequential.
func (c *Coordinator) Dispatch(ctx context.Context, req Request) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !req.Event.Kind.Valid() {
		return Result{}, fmt.Errorf("dispatch: invalid event kind %q", req.Event.Kind)
	}

	targets, err := c.resolveTargets(ctx, req)
	if err != nil {
		return Result{}, err
	}

	var (
		mu  sync.Mutex
		res Result
		wg  sync.WaitGroup
	)
	for _, tgt := range targets {
		for _, ch := range tgt.Channels {
			wg.Add(1)
			go func(rec recipient.Recipient, ch channel.Channel) {
				defer wg.Done()
				a := c.sendOne(ctx, req, rec, ch)
				mu.Lock()
				res.add(a)
				mu.Unlock()
			}(tgt.Recipient, ch)
		}
	}
	wg.Wait()

	sort.Slice(res.Detail, func(i, j int) bool {
		if res.Detail[i].RecipientID != res.Detail[j].RecipientID {
			return res.Detail[i].RecipientID < res.Detail[j].RecipientID
		}
		return res.Detail[i].Channel < res.Detail[j].Channel
	})

	c.log.Info("dispatch complete",
		logx.String("event", req.Event.ID),
		logx.String("kind", string(req.Event.Kind)),
		logx.Int("level", req.Level),
		logx.Int("sent", res.Sent),
		logx.Int("failed", res.Failed),
		logx.Int("skipped", res.Skipped))
	return res, nil
}

func (c *Coordinator) resolveTargets(ctx context.Context, req Request) ([]recipient.Target, error) {
	switch req.Audience {
	case AudienceAssignee:
		rec, err := c.dir.PersonByID(ctx, req.Event.Tenant, req.AssigneeID)
		if err != nil {
			return nil, fmt.Errorf("assignee %q: %w", req.AssigneeID, err)
		}
		return []recipient.Target{{Recipient: rec, Channels: directChannels(req.Event, rec)}}, nil
	case AudienceManagers:
		roles := []recipient.Role{recipient.RoleManager}
		if req.Level >= 2 {
			roles = append(roles, recipient.RoleAdmin)
		}
		seen := map[string]bool{}
		var targets []recipient.Target
		for _, role := range roles {
			people, err := c.dir.PeopleByRole(ctx, req.Event.Tenant, role)
			if err != nil {
				return nil, fmt.Errorf("expand role %q: %w", role, err)
			}
			for _, p := range people {
				if seen[p.ID] {
					continue
				}
				seen[p.ID] = true
				targets = append(targets, recipient.Target{Recipient: p, Channels: directChannels(req.Event, p)})
			}
		}
		sort.Slice(targets, func(i, j int) bool { return targets[i].Recipient.ID < targets[j].Recipient.ID })
		return targets, nil
	default:
		return c.resolver.Resolve(ctx, req.Event)
	}
}

// directChannels picks channels for a directly-addressed recipient:
// whatever they have an address for, with the chat gate still applied.
func directChannels(ev event.Event, rec recipient.Recipient) []channel.Channel {
	var out []channel.Channel
	for _, ch := range []channel.Channel{channel.Email, channel.Push, channel.Telegram, channel.WhatsApp} {
		if rec.AddressFor(ch) == "" {
			continue
		}
		if ch.IsChat() && !recipient.ChatAllowed(ev, rec) {
			continue
		}
		out = append(out, ch)
	}
	return out
}

func (c *Coordinator) sendOne(ctx context.Context, req Request, rec recipient.Recipient, ch channel.Channel) Attempt {
	a := Attempt{RecipientID: rec.ID, Channel: ch}

	to := rec.AddressFor(ch)
	if to == "" {
		// Not a dispatch failure: the matrix asked for a channel the
		// recipient has no address on.
		a.Status, a.Reason = AttemptSkipped, ReasonNoAddress
		return a
	}

	key := idempotencyKey(req.Event.ID, rec.ID, ch)
	ok, err := c.locker.TryLock(ctx, key, c.cfg.LockTTL)
	if err != nil {
		c.log.Warn("dispatch lock unavailable, proceeding unlocked", logx.Err(err))
	} else if !ok {
		a.Status, a.Reason = AttemptSkipped, ReasonLockedByPeer
		return a
	} else {
		defer func() { _ = c.locker.Unlock(context.Background(), key) }()
	}

	done, err := c.store.HasSuccessfulDelivery(ctx, req.Event.ID, rec.ID, ch)
	if err != nil {
		a.Status, a.Reason = AttemptFailed, fmt.Sprintf("idempotency check: %v", err)
		return a
	}
	if done {
		a.Status, a.Reason = AttemptSkipped, ReasonAlreadySent
		return a
	}

	adapter, err := c.router.Resolve(ch)
	if err != nil {
		a.Status = AttemptFailed
		if errors.Is(err, channel.ErrNotConfigured) {
			a.Reason = ReasonNotConfigured
		} else {
			a.Reason = err.Error()
		}
		c.record(ctx, req, rec, ch, "", "", to, delivery.StatusFailed, a.Reason, nil)
		return a
	}
	a.Provider = adapter.Provider()

	body := c.composer.Render(compose.Input{
		Template: req.Template,
		Key:      compose.TemplateKey(req.Event.Kind, req.Level),
		Vars:     composeVars(req.Event, req.Level),
		Language: rec.Language,
		Channel:  ch,
	})

	if err := c.wait(ctx, a.Provider); err != nil {
		a.Status, a.Reason = AttemptFailed, err.Error()
		return a
	}

	sendCtx, cancel := context.WithTimeout(ctx, c.cfg.SendTimeout)
	msgID, err := adapter.Send(sendCtx, to, body)
	cancel()
	if err != nil {
		// Timed-out or rejected sends fail this pair only.
		a.Status, a.Reason = AttemptFailed, err.Error()
		c.record(ctx, req, rec, ch, a.Provider, "", to, delivery.StatusFailed, err.Error(), nil)
		return a
	}

	a.Status = AttemptSent
	a.ProviderMessageID = msgID
	c.record(ctx, req, rec, ch, a.Provider, msgID, to, delivery.StatusSent, "", nil)

	// Attachments ride behind the primary notice; a failed attachment
	// does not demote the attempt, the notice itself was delivered.
	if len(req.Attachments) > 0 {
		c.sendAttachments(ctx, req, rec, ch, adapter, to)
	}
	return a
}

func (c *Coordinator) sendAttachments(ctx context.Context, req Request, rec recipient.Recipient, ch channel.Channel, adapter channel.Adapter, to string) {
	media, ok := adapter.(channel.MediaSender)
	if !ok {
		c.log.Debug("adapter cannot send media, attachments skipped",
			logx.String("provider", adapter.Provider()),
			logx.Int("attachments", len(req.Attachments)))
		return
	}
	for i, att := range req.Attachments {
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.AttachmentDelay):
		}
		sendCtx, cancel := context.WithTimeout(ctx, c.cfg.SendTimeout)
		msgID, err := media.SendMedia(sendCtx, to, att.Caption, att.URL)
		cancel()
		meta := map[string]string{"attachment": strconv.Itoa(i + 1), "url": att.URL}
		if err != nil {
			c.log.Warn("attachment send failed",
				logx.String("recipient", rec.ID),
				logx.String("channel", string(ch)),
				logx.Err(err))
			c.record(ctx, req, rec, ch, adapter.Provider(), "", to, delivery.StatusFailed, err.Error(), meta)
			continue
		}
		c.record(ctx, req, rec, ch, adapter.Provider(), msgID, to, delivery.StatusSent, "", meta)
	}
}

func (c *Coordinator) record(ctx context.Context, req Request, rec recipient.Recipient, ch channel.Channel, provider, msgID, to string, status delivery.Status, errMsg string, meta map[string]string) {
	now := time.Now()
	d := &delivery.Record{
		ID:                uuid.NewString(),
		Tenant:            req.Event.Tenant,
		EventID:           req.Event.ID,
		EventKind:         req.Event.Kind,
		RecipientID:       rec.ID,
		Channel:           ch,
		Provider:          provider,
		ProviderMessageID: msgID,
		ToAddress:         to,
		Status:            status,
		CreatedAt:         now,
		Meta:              meta,
	}
	switch status {
	case delivery.StatusSent:
		d.SentAt = now
	case delivery.StatusFailed:
		d.FailedAt = now
		d.IsFinal = true
		d.ErrorMessage = errMsg
		if errMsg == ReasonNotConfigured {
			d.ErrorCode = ReasonNotConfigured
		}
	}
	if err := c.store.CreateDelivery(ctx, d); err != nil {
		c.log.Error("delivery record write failed",
			logx.String("event", req.Event.ID),
			logx.String("recipient", rec.ID),
			logx.Err(err))
	}
}

func (c *Coordinator) wait(ctx context.Context, provider string) error {
	c.lmu.Lock()
	lim, ok := c.limiters[provider]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(c.cfg.RatePerSec), c.cfg.RatePerSec)
		c.limiters[provider] = lim
	}
	c.lmu.Unlock()
	return lim.Wait(ctx)
}

func idempotencyKey(eventID, recipientID string, ch channel.Channel) string {
	return eventID + "|" + recipientID + "|" + string(ch)
}

// composeVars flattens event data into the composer's variable map.
func composeVars(ev event.Event, level int) map[string]string {
	vars := map[string]string{
		"title":    ev.Title,
		"site":     ev.Site,
		"tenant":   ev.Tenant,
		"severity": ev.EffectiveSeverity().String(),
		"level":    strconv.Itoa(level),
	}
	for k, v := range ev.Detail {
		switch val := v.(type) {
		case string:
			vars[k] = val
		case int:
			vars[k] = strconv.Itoa(val)
		case int64:
			vars[k] = strconv.FormatInt(val, 10)
		case float64:
			vars[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			vars[k] = strconv.FormatBool(val)
		}
	}
	return vars
}
