package escalate

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"safetynotify/internal/dispatch"
	"safetynotify/internal/event"
	"safetynotify/pkg/logx"
)

// Dispatcher sends the notifications a sweep decides on.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) (dispatch.Result, error)
}

type Config struct {
	// Schedule is a standard 5-field cron spec for the sweep.
	Schedule     string
	SweepTimeout time.Duration

	// Policies keys SLA rows by priority class; Default covers severities
	// without a row.
	Policies map[event.Severity]SLA
	Default  SLA
}

func (c Config) withDefaults() Config {
	if c.Schedule == "" {
		c.Schedule = "*/15 * * * *"
	}
	if c.SweepTimeout <= 0 {
		c.SweepTimeout = 5 * time.Minute
	}
	if c.Default == (SLA{}) {
		c.Default = SLA{
			TargetDays:                14,
			WarningDaysBefore:         3,
			EscalationDaysAfter:       1,
			SecondEscalationDaysAfter: 7,
		}
	}
	return c
}

func (c Config) sla(sev event.Severity) SLA {
	if s, ok := c.Policies[sev]; ok {
		return s
	}
	return c.Default
}

// Scheduler sweeps open obligations on a cron schedule and fires
// deadline warnings and escalations. All state transitions go through
// the store's compare-and-set operations, so concurrent sweeps (or a
// second replica) cannot double-send.
type Scheduler struct {
	cfg        Config
	store      Store
	dispatcher Dispatcher
	log        logx.Logger

	cron     *cron.Cron
	sweeping atomic.Bool
	now      func() time.Time
}

func NewScheduler(cfg Config, store Store, dispatcher Dispatcher, log logx.Logger) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{
		cfg:        cfg.withDefaults(),
		store:      store,
		dispatcher: dispatcher,
		log:        log,
		cron:       cron.New(),
		now:        time.Now,
	}
}

func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc(s.cfg.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SweepTimeout)
		defer cancel()
		if err := s.Sweep(ctx); err != nil {
			s.log.Error("escalation sweep failed", logx.Err(err))
		}
	})
	if err != nil {
		return fmt.Errorf("escalate: bad schedule %q: %w", s.cfg.Schedule, err)
	}
	s.cron.Start()
	s.log.Info("escalation scheduler started", logx.String("schedule", s.cfg.Schedule))
	return nil
}

// Stop halts the cron and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Sweep walks every open obligation once. A sweep already in flight
// makes this a no-op rather than a queue-up.
func (s *Scheduler) Sweep(ctx context.Context) error {
	if !s.sweeping.CompareAndSwap(false, true) {
		s.log.Debug("sweep already running, skipped")
		return nil
	}
	defer s.sweeping.Store(false)

	var firstErr error
	for _, kind := range Kinds {
		if err := s.sweepKind(ctx, kind); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Scheduler) sweepKind(ctx context.Context, kind ObligationKind) error {
	obs, err := s.store.ListOpenObligations(ctx, kind)
	if err != nil {
		return fmt.Errorf("list open %s obligations: %w", kind, err)
	}
	for _, ob := range obs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.process(ctx, ob); err != nil {
			// One stuck obligation must not block the rest of the sweep.
			s.log.Error("obligation sweep failed",
				logx.String("kind", string(kind)),
				logx.String("obligation", ob.ID),
				logx.Err(err))
		}
	}
	return nil
}

func (s *Scheduler) process(ctx context.Context, ob Obligation) error {
	sla := s.cfg.sla(ob.Severity)
	now := s.now()

	if ob.TargetDate.IsZero() {
		// Computed once from the start date and then pinned, so a later
		// SLA change never moves an obligation's deadline.
		ob.TargetDate = ob.StartedAt.AddDate(0, 0, sla.TargetDays)
		if err := s.store.SetObligationTarget(ctx, ob.ID, ob.TargetDate); err != nil {
			return fmt.Errorf("persist target date: %w", err)
		}
	}

	daysLeft := daysUntil(now, ob.TargetDate)

	// Warning fires only inside the pre-deadline window. Once the
	// obligation is overdue the warning is moot; escalation takes over.
	// Notify before the compare-and-set: a failed dispatch leaves the
	// warning unconsumed for the next sweep, and the per-level event id
	// makes a retried dispatch a no-op for anyone already reached.
	if ob.WarningSentAt.IsZero() && daysLeft > 0 && daysLeft <= sla.WarningDaysBefore {
		if err := s.notify(ctx, ob, 0, daysLeft); err != nil {
			return err
		}
		ok, err := s.store.MarkWarningSent(ctx, ob.ID, now)
		if err != nil {
			return fmt.Errorf("mark warning sent: %w", err)
		}
		if !ok {
			s.log.Warn("deadline warning already marked by a peer",
				logx.String("obligation", ob.ID))
		}
	}

	overdue := -daysLeft
	want := ob.EscalationLevel
	switch {
	case sla.SecondEscalationDaysAfter > 0 && overdue >= sla.SecondEscalationDaysAfter:
		want = 2
	case overdue >= sla.EscalationDaysAfter && overdue > 0:
		want = 1
	}

	// Levels advance one step per transition so each tier gets its own
	// notification even when a sweep finds the obligation long overdue.
	// As with the warning, each level commits only after its dispatch
	// succeeded; a dispatch error stops the climb and the next sweep
	// picks the level up again.
	for lvl := ob.EscalationLevel + 1; lvl <= want; lvl++ {
		if err := s.notify(ctx, ob, lvl, daysLeft); err != nil {
			return err
		}
		ok, err := s.store.AdvanceEscalation(ctx, ob.ID, lvl-1, lvl)
		if err != nil {
			return fmt.Errorf("advance to level %d: %w", lvl, err)
		}
		if !ok {
			// A peer got there first; its dispatch covered this level.
			break
		}
		ob.EscalationLevel = lvl
	}
	return nil
}

func (s *Scheduler) notify(ctx context.Context, ob Obligation, level, daysLeft int) error {
	ev := event.Event{
		// Per-level id keeps the dispatch idempotency key stable across
		// repeated sweeps of the same state.
		ID:       fmt.Sprintf("%s:%s:l%d", ob.Kind, ob.ID, level),
		Kind:     obligationEventKind(ob.Kind),
		Severity: ob.Severity,
		Tenant:   ob.Tenant,
		Site:     ob.Site,
		Title:    fmt.Sprintf("%s %s", obligationTitle(ob.Kind), ob.Ref),
		Detail: map[string]any{
			"ref":         ob.Ref,
			"target_date": ob.TargetDate.Format("2006-01-02"),
		},
		OccurredAt: s.now(),
	}
	if daysLeft > 0 {
		ev.Detail["days_left"] = daysLeft
	} else {
		ev.Detail["days_overdue"] = -daysLeft
	}

	req := dispatch.Request{Event: ev, Level: level}
	if level == 0 {
		req.Audience = dispatch.AudienceAssignee
		req.AssigneeID = ob.AssigneeID
	} else {
		req.Audience = dispatch.AudienceManagers
	}

	res, err := s.dispatcher.Dispatch(ctx, req)
	if err != nil {
		return fmt.Errorf("dispatch level %d: %w", level, err)
	}
	s.log.Info("obligation notification dispatched",
		logx.String("kind", string(ob.Kind)),
		logx.String("obligation", ob.ID),
		logx.Int("level", level),
		logx.Int("sent", res.Sent),
		logx.Int("failed", res.Failed))
	return nil
}

func obligationEventKind(k ObligationKind) event.Kind {
	if k == ObligationMaintenance {
		return event.KindMaintenanceOverdue
	}
	return event.KindInvestigationOverdue
}

func obligationTitle(k ObligationKind) string {
	if k == ObligationMaintenance {
		return "Maintenance work order"
	}
	return "Incident investigation"
}

// daysUntil counts whole days from now to the target, rounding up so a
// deadline 2.5 days out reads as 3 days left and one missed by half a
// day reads as 0, not -1.
func daysUntil(now, target time.Time) int {
	return int(math.Ceil(target.Sub(now).Hours() / 24))
}
