package escalate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"safetynotify/internal/dispatch"
	"safetynotify/internal/event"
	"safetynotify/pkg/logx"
)

// memStore mirrors the production store's compare-and-set rules.
type memStore struct {
	mu  sync.Mutex
	obs map[string]*Obligation
}

func newMemStore(obs ...Obligation) *memStore {
	s := &memStore{obs: map[string]*Obligation{}}
	for _, ob := range obs {
		cp := ob
		s.obs[ob.ID] = &cp
	}
	return s
}

func (s *memStore) ListOpenObligations(_ context.Context, kind ObligationKind) ([]Obligation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Obligation
	for _, ob := range s.obs {
		if ob.Kind == kind {
			out = append(out, *ob)
		}
	}
	return out, nil
}

func (s *memStore) SetObligationTarget(_ context.Context, id string, target time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ob, ok := s.obs[id]; ok && ob.TargetDate.IsZero() {
		ob.TargetDate = target
	}
	return nil
}

func (s *memStore) MarkWarningSent(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ob, ok := s.obs[id]
	if !ok || !ob.WarningSentAt.IsZero() {
		return false, nil
	}
	ob.WarningSentAt = at
	return true, nil
}

func (s *memStore) AdvanceEscalation(_ context.Context, id string, from, to int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ob, ok := s.obs[id]
	if !ok || ob.EscalationLevel != from {
		return false, nil
	}
	ob.EscalationLevel = to
	return true, nil
}

func (s *memStore) get(t *testing.T, id string) Obligation {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	ob, ok := s.obs[id]
	if !ok {
		t.Fatalf("obligation %q not in store", id)
	}
	return *ob
}

type fakeDispatcher struct {
	mu   sync.Mutex
	err  error
	reqs []dispatch.Request
}

func (d *fakeDispatcher) Dispatch(_ context.Context, req dispatch.Request) (dispatch.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return dispatch.Result{}, d.err
	}
	d.reqs = append(d.reqs, req)
	return dispatch.Result{Sent: 1}, nil
}

func (d *fakeDispatcher) setErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func (d *fakeDispatcher) requests() []dispatch.Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]dispatch.Request(nil), d.reqs...)
}

func testScheduler(store Store, disp Dispatcher, now time.Time) *Scheduler {
	s := NewScheduler(Config{
		Default: SLA{
			TargetDays:                14,
			WarningDaysBefore:         3,
			EscalationDaysAfter:       1,
			SecondEscalationDaysAfter: 7,
		},
	}, store, disp, logx.Nop())
	s.now = func() time.Time { return now }
	return s
}

func investigation(id string, started time.Time) Obligation {
	return Obligation{
		ID:         id,
		Tenant:     "acme",
		Kind:       ObligationInvestigation,
		Ref:        "INV-" + id,
		Site:       "plant-1",
		AssigneeID: "p1",
		Severity:   event.SeverityMajor,
		StartedAt:  started,
	}
}

func TestSweepComputesTargetOnce(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	store := newMemStore(investigation("ob-1", now))
	s := testScheduler(store, &fakeDispatcher{}, now)

	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	ob := store.get(t, "ob-1")
	want := now.AddDate(0, 0, 14)
	if !ob.TargetDate.Equal(want) {
		t.Fatalf("target date = %v, want %v", ob.TargetDate, want)
	}

	// A tighter policy later must not move the pinned deadline.
	s.cfg.Default.TargetDays = 7
	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("second Sweep: %v", err)
	}
	if got := store.get(t, "ob-1").TargetDate; !got.Equal(want) {
		t.Errorf("target date moved to %v after policy change", got)
	}
}

func TestSweepWarnsOnceInsideWindow(t *testing.T) {
	t.Parallel()

	started := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	now := started.AddDate(0, 0, 12) // 2 days before the 14-day target
	store := newMemStore(investigation("ob-2", started))
	disp := &fakeDispatcher{}
	s := testScheduler(store, disp, now)

	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	reqs := disp.requests()
	if len(reqs) != 1 {
		t.Fatalf("got %d dispatches, want 1 warning: %+v", len(reqs), reqs)
	}
	if reqs[0].Audience != dispatch.AudienceAssignee || reqs[0].AssigneeID != "p1" {
		t.Errorf("warning request = %+v, want assignee audience", reqs[0])
	}
	if reqs[0].Event.Kind != event.KindInvestigationOverdue || reqs[0].Level != 0 {
		t.Errorf("warning event = %+v level %d", reqs[0].Event, reqs[0].Level)
	}

	// Second sweep of the same state fires nothing.
	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("second Sweep: %v", err)
	}
	if got := len(disp.requests()); got != 1 {
		t.Errorf("after second sweep got %d dispatches, want still 1", got)
	}
}

func TestSweepSkipsWarningOutsideWindow(t *testing.T) {
	t.Parallel()

	started := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		now  time.Time
	}{
		{"too early", started.AddDate(0, 0, 5)},
		{"due today", started.AddDate(0, 0, 14)},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			store := newMemStore(investigation("ob-3", started))
			disp := &fakeDispatcher{}
			s := testScheduler(store, disp, tc.now)
			if err := s.Sweep(context.Background()); err != nil {
				t.Fatalf("Sweep: %v", err)
			}
			if got := len(disp.requests()); got != 0 {
				t.Errorf("got %d dispatches, want 0: %+v", got, disp.requests())
			}
			if !store.get(t, "ob-3").WarningSentAt.IsZero() {
				t.Error("warning marked sent outside the window")
			}
		})
	}
}

func TestSweepEscalatesOverdue(t *testing.T) {
	t.Parallel()

	started := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	now := started.AddDate(0, 0, 16) // 2 days past the 14-day target
	store := newMemStore(investigation("ob-4", started))
	disp := &fakeDispatcher{}
	s := testScheduler(store, disp, now)

	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	reqs := disp.requests()
	if len(reqs) != 1 {
		t.Fatalf("got %d dispatches, want 1 escalation: %+v", len(reqs), reqs)
	}
	if reqs[0].Level != 1 || reqs[0].Audience != dispatch.AudienceManagers {
		t.Errorf("escalation request = level %d audience %d", reqs[0].Level, reqs[0].Audience)
	}
	if got := store.get(t, "ob-4").EscalationLevel; got != 1 {
		t.Errorf("stored level = %d, want 1", got)
	}

	// No warning fires once overdue.
	if !store.get(t, "ob-4").WarningSentAt.IsZero() {
		t.Error("warning fired for an already overdue obligation")
	}
}

func TestSweepStepsThroughMissedLevels(t *testing.T) {
	t.Parallel()

	started := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	now := started.AddDate(0, 0, 25) // 11 days past target, beyond both thresholds
	store := newMemStore(investigation("ob-5", started))
	disp := &fakeDispatcher{}
	s := testScheduler(store, disp, now)

	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	reqs := disp.requests()
	if len(reqs) != 2 {
		t.Fatalf("got %d dispatches, want levels 1 and 2: %+v", len(reqs), reqs)
	}
	if reqs[0].Level != 1 || reqs[1].Level != 2 {
		t.Errorf("levels = %d,%d, want 1,2", reqs[0].Level, reqs[1].Level)
	}
	if reqs[0].Event.ID == reqs[1].Event.ID {
		t.Error("levels share an event id, idempotency keys would collide")
	}
	if got := store.get(t, "ob-5").EscalationLevel; got != 2 {
		t.Errorf("stored level = %d, want 2", got)
	}

	// Replay sweep: levels are monotonic, nothing re-fires.
	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("replay Sweep: %v", err)
	}
	if got := len(disp.requests()); got != 2 {
		t.Errorf("after replay got %d dispatches, want still 2", got)
	}
}

func TestSweepRetriesAfterDispatchFailure(t *testing.T) {
	t.Parallel()

	started := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	disp := &fakeDispatcher{}
	disp.setErr(errors.New("directory unavailable"))

	// Warning window: a failed dispatch must not consume the warning.
	store := newMemStore(investigation("ob-w", started))
	s := testScheduler(store, disp, started.AddDate(0, 0, 12))
	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if !store.get(t, "ob-w").WarningSentAt.IsZero() {
		t.Fatal("warning marked sent although dispatch failed")
	}

	disp.setErr(nil)
	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("retry Sweep: %v", err)
	}
	if store.get(t, "ob-w").WarningSentAt.IsZero() {
		t.Error("warning not sent once dispatch recovered")
	}
	if got := len(disp.requests()); got != 1 {
		t.Errorf("got %d dispatches, want 1", got)
	}

	// Overdue: a failed dispatch must not consume the level either.
	disp.setErr(errors.New("directory unavailable"))
	store = newMemStore(investigation("ob-e", started))
	s = testScheduler(store, disp, started.AddDate(0, 0, 16))
	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if got := store.get(t, "ob-e").EscalationLevel; got != 0 {
		t.Fatalf("stored level = %d after failed dispatch, want 0", got)
	}

	disp.setErr(nil)
	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("retry Sweep: %v", err)
	}
	if got := store.get(t, "ob-e").EscalationLevel; got != 1 {
		t.Errorf("stored level = %d after recovery, want 1", got)
	}
}

func TestSweepUsesSeverityPolicy(t *testing.T) {
	t.Parallel()

	started := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	ob := investigation("ob-6", started)
	ob.Severity = event.SeverityCritical
	store := newMemStore(ob)
	disp := &fakeDispatcher{}

	now := started.AddDate(0, 0, 6) // inside the critical 7-day target's window
	s := testScheduler(store, disp, now)
	s.cfg.Policies = map[event.Severity]SLA{
		event.SeverityCritical: {TargetDays: 7, WarningDaysBefore: 2, EscalationDaysAfter: 1},
	}

	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if got := store.get(t, "ob-6").TargetDate; !got.Equal(started.AddDate(0, 0, 7)) {
		t.Fatalf("critical target = %v, want 7 days out", got)
	}
	if got := len(disp.requests()); got != 1 {
		t.Errorf("got %d dispatches, want 1 warning under the critical policy", got)
	}
}

func TestSweepMaintenanceKind(t *testing.T) {
	t.Parallel()

	started := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	ob := investigation("ob-7", started)
	ob.Kind = ObligationMaintenance
	ob.Ref = "WO-88"
	store := newMemStore(ob)
	disp := &fakeDispatcher{}
	s := testScheduler(store, disp, started.AddDate(0, 0, 16))

	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	reqs := disp.requests()
	if len(reqs) != 1 {
		t.Fatalf("got %d dispatches, want 1: %+v", len(reqs), reqs)
	}
	if reqs[0].Event.Kind != event.KindMaintenanceOverdue {
		t.Errorf("event kind = %q, want maintenance_overdue", reqs[0].Event.Kind)
	}
	if ref := reqs[0].Event.Detail["ref"]; ref != "WO-88" {
		t.Errorf("event ref = %v, want WO-88", ref)
	}
}
