package scheduler

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/okpulse/dogfeeder-bot/internal/store"
)

type fakeNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (f *fakeNotifier) Broadcast(text string, _ ...interface{}) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, text)
	return 1, nil
}

func (f *fakeNotifier) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

func setup(t *testing.T, catchUp bool) (*Service, *fakeNotifier, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	f := &fakeNotifier{}
	svc, err := New(st, f, zap.NewNop(), catchUp)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	t.Cleanup(func() { _ = svc.Cleanup() })
	return svc, f, st
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestCreateScheduleRejectsPast(t *testing.T) {
	svc, _, st := setup(t, true)
	u, _ := st.GetOrCreateUser(1, "a")

	for _, at := range []time.Time{time.Now().Add(-time.Minute), time.Now()} {
		if _, err := svc.CreateSchedule(at, u.ID); err == nil {
			t.Errorf("CreateSchedule(%v) expected error", at)
		}
	}

	total, _ := st.CountScheduledFeedings()
	if total != 0 {
		t.Errorf("rejected schedule persisted a row: total = %d", total)
	}
	stats, _ := svc.Stats()
	if stats.RunningTimers != 0 {
		t.Errorf("rejected schedule armed a timer: %d", stats.RunningTimers)
	}
}

func TestScheduleFires(t *testing.T) {
	svc, f, st := setup(t, true)
	u, _ := st.GetOrCreateUser(1, "alice")
	st.SetSetting(store.SettingFoodAmount, "25")

	sf, err := svc.CreateSchedule(time.Now().Add(150*time.Millisecond), u.ID)
	if err != nil {
		t.Fatalf("create schedule: %v", err)
	}

	if !waitFor(t, 3*time.Second, func() bool {
		n, _ := st.CountFeedings()
		return n == 1
	}) {
		t.Fatal("scheduled feeding never fired")
	}

	feeding, _ := st.GetLastFeeding()
	if feeding.UserID != u.ID {
		t.Errorf("feeding attributed to %d, want creator %d", feeding.UserID, u.ID)
	}
	if feeding.Amount != 25 || feeding.FoodType != store.FoodDry {
		t.Errorf("feeding used %s/%dг, want configured defaults dry/25г", feeding.FoodType, feeding.Amount)
	}

	got, _ := st.GetScheduledFeeding(sf.ID)
	if got.Status != store.ScheduleFired {
		t.Errorf("status = %s, want fired", got.Status)
	}
	if !waitFor(t, time.Second, func() bool { return f.total() == 1 }) {
		t.Errorf("broadcasts = %d, want 1", f.total())
	}

	stats, _ := svc.Stats()
	if stats.ActiveSchedules != 0 || stats.TotalSchedules != 1 || stats.RunningTimers != 0 {
		t.Errorf("stats = %+v", stats)
	}

	// the handle is gone: cancelling the fired id reports failure
	ok, err := svc.CancelSchedule(sf.ID)
	if err != nil || ok {
		t.Errorf("cancel of fired schedule = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestCancelScheduleStopsFiring(t *testing.T) {
	svc, _, st := setup(t, true)
	first, _ := st.GetOrCreateUser(1, "a")
	second, _ := st.GetOrCreateUser(2, "b")

	sfA, err := svc.CreateSchedule(time.Now().Add(150*time.Millisecond), first.ID)
	if err != nil {
		t.Fatalf("schedule A: %v", err)
	}
	if _, err := svc.CreateSchedule(time.Now().Add(300*time.Millisecond), second.ID); err != nil {
		t.Fatalf("schedule B: %v", err)
	}

	ok, err := svc.CancelSchedule(sfA.ID)
	if err != nil || !ok {
		t.Fatalf("cancel = (%v, %v), want (true, nil)", ok, err)
	}

	if !waitFor(t, 3*time.Second, func() bool {
		n, _ := st.CountFeedings()
		return n >= 1
	}) {
		t.Fatal("schedule B never fired")
	}
	time.Sleep(300 * time.Millisecond)

	n, _ := st.CountFeedings()
	if n != 1 {
		t.Fatalf("feedings = %d, want exactly 1", n)
	}
	feeding, _ := st.GetLastFeeding()
	if feeding.UserID != second.ID {
		t.Errorf("feeding attributed to %d, want %d (the surviving schedule's creator)", feeding.UserID, second.ID)
	}

	got, _ := st.GetScheduledFeeding(sfA.ID)
	if got.Status != store.ScheduleCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}
}

func TestCancelUnknownIsFailureNoop(t *testing.T) {
	svc, _, st := setup(t, true)
	u, _ := st.GetOrCreateUser(1, "a")
	keep, err := svc.CreateSchedule(time.Now().Add(time.Hour), u.ID)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	ok, err := svc.CancelSchedule(99999)
	if err != nil || ok {
		t.Errorf("cancel unknown = (%v, %v), want (false, nil)", ok, err)
	}

	got, _ := st.GetScheduledFeeding(keep.ID)
	if got.Status != store.ScheduleActive {
		t.Errorf("unrelated schedule mutated: %s", got.Status)
	}
	stats, _ := svc.Stats()
	if stats.RunningTimers != 1 {
		t.Errorf("running timers = %d, want 1", stats.RunningTimers)
	}
}

func TestStatsCounts(t *testing.T) {
	svc, _, st := setup(t, true)
	u, _ := st.GetOrCreateUser(1, "a")

	a, _ := svc.CreateSchedule(time.Now().Add(time.Hour), u.ID)
	svc.CreateSchedule(time.Now().Add(2*time.Hour), u.ID)
	svc.CreateSchedule(time.Now().Add(3*time.Hour), u.ID)
	svc.CancelSchedule(a.ID)

	stats, err := svc.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.ActiveSchedules != 2 {
		t.Errorf("active = %d, want 2", stats.ActiveSchedules)
	}
	if stats.TotalSchedules != 3 {
		t.Errorf("total = %d, want 3", stats.TotalSchedules)
	}
	if stats.RunningTimers != 2 {
		t.Errorf("running = %d, want 2", stats.RunningTimers)
	}
	if stats.Next == nil || stats.Next.ScheduledAt.After(time.Now().Add(2*time.Hour+time.Minute)) {
		t.Errorf("next = %+v, want the soonest active schedule", stats.Next)
	}
}

func TestNextScheduledFeedingOrder(t *testing.T) {
	svc, _, st := setup(t, true)
	u, _ := st.GetOrCreateUser(1, "a")

	svc.CreateSchedule(time.Now().Add(2*time.Hour), u.ID)
	soon, _ := svc.CreateSchedule(time.Now().Add(time.Hour), u.ID)

	next, err := svc.NextScheduledFeeding()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if next == nil || next.ID != soon.ID {
		t.Errorf("next = %+v, want id %d", next, soon.ID)
	}
}

func TestInitializeRearmsAndCatchesUp(t *testing.T) {
	svc, f, st := setup(t, true)
	u, _ := st.GetOrCreateUser(1, "a")

	// rows persisted by a previous process: one future, one past-due
	future, _ := st.CreateScheduledFeeding(time.Now().Add(time.Hour), u.ID)
	past, _ := st.CreateScheduledFeeding(time.Now().Add(-time.Hour), u.ID)

	if err := svc.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	// past-due row fired immediately
	gotPast, _ := st.GetScheduledFeeding(past.ID)
	if gotPast.Status != store.ScheduleFired {
		t.Errorf("past-due status = %s, want fired", gotPast.Status)
	}
	n, _ := st.CountFeedings()
	if n != 1 {
		t.Errorf("feedings = %d, want 1", n)
	}
	if f.total() != 1 {
		t.Errorf("broadcasts = %d, want 1", f.total())
	}

	// future row armed, untouched
	gotFuture, _ := st.GetScheduledFeeding(future.ID)
	if gotFuture.Status != store.ScheduleActive {
		t.Errorf("future status = %s, want active", gotFuture.Status)
	}
	stats, _ := svc.Stats()
	if stats.RunningTimers != 1 {
		t.Errorf("running timers = %d, want 1", stats.RunningTimers)
	}
}

func TestInitializeSkipsPastDueWithoutCatchUp(t *testing.T) {
	svc, f, st := setup(t, false)
	u, _ := st.GetOrCreateUser(1, "a")
	past, _ := st.CreateScheduledFeeding(time.Now().Add(-time.Hour), u.ID)

	if err := svc.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	got, _ := st.GetScheduledFeeding(past.ID)
	if got.Status != store.ScheduleActive {
		t.Errorf("status = %s, want active (left for manual handling)", got.Status)
	}
	n, _ := st.CountFeedings()
	if n != 0 {
		t.Errorf("feedings = %d, want 0", n)
	}
	if f.total() != 0 {
		t.Errorf("broadcasts = %d, want 0", f.total())
	}
}

func TestScheduleInsideCurrentSecondFires(t *testing.T) {
	svc, f, st := setup(t, true)
	u, _ := st.GetOrCreateUser(1, "alice")

	// rows store times at second granularity, so a sub-second offset
	// reads back at or before the current wall-clock second
	sf, err := svc.CreateSchedule(time.Now().Add(300*time.Millisecond), u.ID)
	if err != nil {
		t.Fatalf("create schedule: %v", err)
	}

	if !waitFor(t, 3*time.Second, func() bool {
		got, _ := st.GetScheduledFeeding(sf.ID)
		return got.Status == store.ScheduleFired
	}) {
		got, _ := st.GetScheduledFeeding(sf.ID)
		t.Fatalf("status = %s, want fired", got.Status)
	}
	if n, _ := st.CountFeedings(); n != 1 {
		t.Errorf("feedings = %d, want 1", n)
	}
	if !waitFor(t, time.Second, func() bool { return f.total() == 1 }) {
		t.Errorf("broadcasts = %d, want 1", f.total())
	}
}
