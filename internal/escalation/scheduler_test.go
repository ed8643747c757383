package escalation_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/safewatch/internal/escalation"
	"github.com/gyaneshwarpardhi/safewatch/internal/geo"
	"github.com/gyaneshwarpardhi/safewatch/internal/identity"
	"github.com/gyaneshwarpardhi/safewatch/internal/notify"
	"github.com/gyaneshwarpardhi/safewatch/internal/safety"
	"github.com/gyaneshwarpardhi/safewatch/internal/safety/safetytest"
	"github.com/gyaneshwarpardhi/safewatch/internal/sos"
	"github.com/gyaneshwarpardhi/safewatch/internal/store/memory"
)

var t0 = time.Date(2026, 7, 4, 23, 0, 0, 0, time.UTC)

type dispatches struct {
	mu   sync.Mutex
	recs []safety.EscalationRecord
}

func (d *dispatches) Dispatch(_ context.Context, _ *safety.Event, rec safety.EscalationRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recs = append(d.recs, rec)
	return nil
}

func (d *dispatches) levels() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]int, len(d.recs))
	for i, r := range d.recs {
		out[i] = r.Level
	}
	return out
}

type fixture struct {
	store *memory.Store
	clock *safetytest.Clock
	mgr   *sos.Manager
	sched *escalation.Scheduler
	disp  *dispatches
}

func newFixture(policy escalation.Policy) *fixture {
	d := &dispatches{}
	f := newFixtureWith(policy, d)
	f.disp = d
	return f
}

func newFixtureWith(policy escalation.Policy, d safety.Dispatcher) *fixture {
	f := &fixture{store: memory.New(), clock: safetytest.NewClock(t0)}
	f.mgr = sos.NewManager(f.store, sos.WithClock(f.clock))
	f.sched = escalation.NewScheduler(f.store, f.mgr,
		escalation.WithClock(f.clock),
		escalation.WithDispatcher(d),
		escalation.WithPolicy(policy),
	)
	return f
}

// slowDispatcher holds every delivery until release is closed.
type slowDispatcher struct {
	entered chan struct{}
	release chan struct{}
	count   atomic.Int32
}

func newSlowDispatcher() *slowDispatcher {
	return &slowDispatcher{entered: make(chan struct{}, 16), release: make(chan struct{})}
}

func (d *slowDispatcher) Dispatch(context.Context, *safety.Event, safety.EscalationRecord) error {
	select {
	case d.entered <- struct{}{}:
	default:
	}
	<-d.release
	d.count.Add(1)
	return nil
}

func (f *fixture) trigger(t *testing.T, user string) *safety.Event {
	t.Helper()
	ctx := identity.WithIdentity(context.Background(), identity.Identity{UserID: user})
	ev, err := f.mgr.Trigger(ctx, sos.TriggerRequest{Mode: safety.ModeButton, Location: geo.Point{Lat: 1, Lng: 1}})
	require.NoError(t, err)
	return ev
}

func TestEscalate_ClimbsLadder(t *testing.T) {
	f := newFixture(escalation.DefaultPolicy())
	ctx := context.Background()
	ev := f.trigger(t, "u1")

	want := []safety.Target{safety.TargetPolice, safety.TargetEmergencyServices, safety.TargetEmbassy}
	for i, target := range want {
		rec, err := f.sched.Escalate(ctx, ev.ID)
		require.NoError(t, err)
		assert.Equal(t, i+1, rec.Level)
		assert.Equal(t, target, rec.Target)
		assert.Equal(t, safety.DispatchPending, rec.Status)
	}

	_, err := f.sched.Escalate(ctx, ev.ID)
	assert.ErrorIs(t, err, safety.ErrMaxEscalationReached)

	stored, err := f.mgr.Get(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, safety.MaxEscalationLevel, stored.EscalationLevel)

	recs, err := f.sched.Ladder(ctx, ev.ID)
	require.NoError(t, err)
	assert.Len(t, recs, 4)
	assert.Equal(t, []int{1, 2, 3}, f.disp.levels())
}

func TestEscalate_ConcurrentNeverExceedsMax(t *testing.T) {
	f := newFixture(escalation.DefaultPolicy())
	ev := f.trigger(t, "u1")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.sched.Escalate(context.Background(), ev.ID)
		}()
	}
	wg.Wait()

	recs, err := f.sched.Ladder(context.Background(), ev.ID)
	require.NoError(t, err)
	assert.Len(t, recs, 4)
	for i, r := range recs {
		assert.Equal(t, i, r.Level)
	}
}

func TestEscalate_TerminalEvent(t *testing.T) {
	f := newFixture(escalation.DefaultPolicy())
	ctx := context.Background()
	ev := f.trigger(t, "u1")

	_, err := f.sched.MarkSafe(ctx, ev.ID)
	require.NoError(t, err)

	_, err = f.sched.Escalate(ctx, ev.ID)
	assert.ErrorIs(t, err, safety.ErrInvalidTransition)

	_, err = f.sched.MarkSafe(ctx, ev.ID)
	assert.ErrorIs(t, err, safety.ErrInvalidTransition)

	_, err = f.sched.Escalate(ctx, "missing")
	assert.ErrorIs(t, err, safety.ErrNotFound)
}

func TestEscalate_SlowDispatchDoesNotHoldEventLock(t *testing.T) {
	d := newSlowDispatcher()
	f := newFixtureWith(escalation.DefaultPolicy(), d)
	ctx := context.Background()
	ev := f.trigger(t, "u1")

	escalated := make(chan error, 1)
	go func() {
		_, err := f.sched.Escalate(ctx, ev.ID)
		escalated <- err
	}()
	select {
	case <-d.entered:
	case <-time.After(time.Second):
		t.Fatal("dispatcher never called")
	}

	safe := make(chan error, 1)
	go func() {
		_, err := f.sched.MarkSafe(ctx, ev.ID)
		safe <- err
	}()
	select {
	case err := <-safe:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("MarkSafe waited on an in-flight dispatch")
	}

	close(d.release)
	require.NoError(t, <-escalated)
	assert.Equal(t, int32(1), d.count.Load())
}

func TestMarkSafe_AtAnyLevel(t *testing.T) {
	f := newFixture(escalation.DefaultPolicy())
	ctx := context.Background()
	ev := f.trigger(t, "u1")
	for i := 0; i < 2; i++ {
		_, err := f.sched.Escalate(ctx, ev.ID)
		require.NoError(t, err)
	}
	got, err := f.sched.MarkSafe(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, safety.StatusResolved, got.Status)
}

func TestSweep_FollowsDelays(t *testing.T) {
	f := newFixture(escalation.DefaultPolicy())
	ctx := context.Background()
	ev := f.trigger(t, "u1")

	n, err := f.sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	f.clock.Set(t0.Add(2 * time.Minute))
	n, err = f.sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = f.sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "second sweep at the same instant writes nothing")

	f.clock.Set(t0.Add(11 * time.Minute))
	n, err = f.sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "catches up one record per level")

	recs, err := f.sched.Ladder(ctx, ev.ID)
	require.NoError(t, err)
	assert.Len(t, recs, 4)

	f.clock.Advance(time.Hour)
	n, err = f.sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSweep_QueuedDispatchDoesNotStall(t *testing.T) {
	d := newSlowDispatcher()
	q := notify.NewQueue(context.Background(), d, 2, 32, nil)
	f := newFixtureWith(escalation.DefaultPolicy(), q)
	ctx := context.Background()
	var ids []string
	for _, u := range []string{"u1", "u2", "u3"} {
		ids = append(ids, f.trigger(t, u).ID)
	}

	f.clock.Set(t0.Add(11 * time.Minute))
	done := make(chan int, 1)
	go func() {
		n, err := f.sched.Sweep(ctx)
		assert.NoError(t, err)
		done <- n
	}()
	select {
	case n := <-done:
		assert.Equal(t, 9, n)
	case <-time.After(time.Second):
		t.Fatal("sweep waited on dispatch")
	}

	// Another event can be closed while its notifications are in flight.
	got, err := f.sched.MarkSafe(ctx, ids[2])
	require.NoError(t, err)
	assert.Equal(t, safety.StatusResolved, got.Status)

	close(d.release)
	q.Close()
	assert.Equal(t, int32(9), d.count.Load())
}

func TestSweep_StopOnAcknowledge(t *testing.T) {
	f := newFixture(escalation.DefaultPolicy())
	ctx := context.Background()
	ev := f.trigger(t, "u1")
	officer := identity.WithIdentity(ctx, identity.Identity{UserID: "officer", Role: identity.RoleOfficer})
	_, err := f.mgr.Acknowledge(officer, ev.ID, "officer")
	require.NoError(t, err)

	f.clock.Set(t0.Add(30 * time.Minute))
	n, err := f.sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	p := escalation.DefaultPolicy()
	p.StopOnAcknowledge = false
	f.sched.SetPolicy(p)
	n, err = f.sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestSweep_Disabled(t *testing.T) {
	p := escalation.DefaultPolicy()
	p.AutoAdvance = false
	f := newFixture(p)
	f.trigger(t, "u1")
	f.clock.Advance(time.Hour)

	n, err := f.sched.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// Manual escalation stays available.
	active, _ := f.store.ListActiveEvents(context.Background())
	_, err = f.sched.Escalate(context.Background(), active[0].ID)
	assert.NoError(t, err)
}

func TestSweep_AfterManualEscalationDoesNotDuplicate(t *testing.T) {
	f := newFixture(escalation.DefaultPolicy())
	ctx := context.Background()
	ev := f.trigger(t, "u1")
	_, err := f.sched.Escalate(ctx, ev.ID)
	require.NoError(t, err)

	f.clock.Set(t0.Add(3 * time.Minute))
	n, err := f.sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "level 1 already reached manually")
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newFixture(escalation.DefaultPolicy())
	f.trigger(t, "u1")
	f.clock.Advance(20 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.sched.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return len(f.disp.levels()) == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestPolicy(t *testing.T) {
	p := escalation.DefaultPolicy()
	require.NoError(t, p.Validate())

	ev := &safety.Event{Status: safety.StatusTriggered, CreatedAt: t0}
	tests := []struct {
		elapsed time.Duration
		want    int
	}{
		{0, 0},
		{119 * time.Second, 0},
		{2 * time.Minute, 1},
		{5 * time.Minute, 2},
		{9 * time.Minute, 2},
		{10 * time.Minute, 3},
		{time.Hour, 3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Due(ev, t0.Add(tt.elapsed)), "elapsed %s", tt.elapsed)
	}

	ev.EscalationLevel = 3
	assert.Equal(t, 3, p.Due(ev, t0), "never below current level")

	bad := p
	bad.Delays[2] = time.Minute
	assert.Error(t, bad.Validate())
	bad = p
	bad.Delays[0] = time.Second
	assert.Error(t, bad.Validate())

	assert.Equal(t, safety.TargetEmbassy, escalation.TargetFor(3))
	assert.Equal(t, safety.Target(""), escalation.TargetFor(4))
}
