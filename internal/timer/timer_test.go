package timer

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
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

func (f *fakeNotifier) count(text string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.msgs {
		if m == text {
			n++
		}
	}
	return n
}

func (f *fakeNotifier) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

func newTestService(t *testing.T) (*Service, *fakeNotifier) {
	t.Helper()
	f := &fakeNotifier{}
	s, err := New(f, zap.NewNop())
	if err != nil {
		t.Fatalf("new timer service: %v", err)
	}
	t.Cleanup(func() { _ = s.Shutdown() })
	return s, f
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

func TestStartFeedingTimer(t *testing.T) {
	s, _ := newTestService(t)

	before := time.Now()
	if err := s.StartFeedingTimer(15, time.Time{}); err != nil {
		t.Fatalf("start: %v", err)
	}

	info := s.NextFeedingInfo()
	if !info.Active {
		t.Error("timer should be active")
	}
	if info.IntervalMinutes != 15 {
		t.Errorf("interval = %d, want 15", info.IntervalMinutes)
	}
	if info.Time == nil {
		t.Fatal("next feeding time must be set while active")
	}
	diff := info.Time.Sub(before)
	if diff < 14*time.Minute || diff > 16*time.Minute {
		t.Errorf("next feeding in %v, want ~15m", diff)
	}
}

func TestStartUsesStoredIntervalByDefault(t *testing.T) {
	s, _ := newTestService(t)

	if got := s.CurrentInterval(); got != DefaultIntervalMinutes {
		t.Fatalf("default interval = %d, want %d", got, DefaultIntervalMinutes)
	}
	if err := s.StartFeedingTimer(0, time.Time{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	info := s.NextFeedingInfo()
	if info.IntervalMinutes != DefaultIntervalMinutes {
		t.Errorf("interval = %d, want %d", info.IntervalMinutes, DefaultIntervalMinutes)
	}
	diff := time.Until(*info.Time)
	if diff < 209*time.Minute || diff > 211*time.Minute {
		t.Errorf("next feeding in %v, want ~210m", diff)
	}
}

func TestStopAllTimers(t *testing.T) {
	s, _ := newTestService(t)

	if err := s.StartFeedingTimer(30, time.Time{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	s.StopAllTimers()

	info := s.NextFeedingInfo()
	if info.Active {
		t.Error("timer should be inactive after stop")
	}
	if info.Time != nil {
		t.Errorf("next feeding time = %v, want nil", info.Time)
	}

	// stopping from Idle is a no-op
	s.StopAllTimers()
	if s.IsTimerActive() {
		t.Error("still inactive after double stop")
	}
}

func TestUpdateIntervalWhileInactive(t *testing.T) {
	s, _ := newTestService(t)

	if err := s.UpdateInterval(60); err != nil {
		t.Fatalf("update: %v", err)
	}
	if s.IsTimerActive() {
		t.Error("updating the interval must not activate the timer")
	}
	if got := s.CurrentInterval(); got != 60 {
		t.Errorf("interval = %d, want 60", got)
	}
}

func TestUpdateIntervalWhileActiveRestartsFromNow(t *testing.T) {
	s, _ := newTestService(t)

	if err := s.StartFeedingTimer(100, time.Time{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	before := time.Now()
	if err := s.UpdateInterval(30); err != nil {
		t.Fatalf("update: %v", err)
	}

	info := s.NextFeedingInfo()
	if !info.Active {
		t.Fatal("timer should remain active")
	}
	diff := info.Time.Sub(before)
	if diff < 29*time.Minute || diff > 31*time.Minute {
		t.Errorf("next feeding in %v, want ~30m measured from the update", diff)
	}
}

func TestUpdateIntervalRejectsNonPositive(t *testing.T) {
	s, _ := newTestService(t)
	for _, m := range []int{0, -5} {
		if err := s.UpdateInterval(m); err == nil {
			t.Errorf("UpdateInterval(%d) expected error", m)
		}
	}
	if got := s.CurrentInterval(); got != DefaultIntervalMinutes {
		t.Errorf("interval changed on invalid input: %d", got)
	}
}

func TestDeadlineFiresOnceThenReminds(t *testing.T) {
	s, f := newTestService(t)
	s.reminderEvery = 50 * time.Millisecond

	if err := s.start(80*time.Millisecond, time.Time{}); err != nil {
		t.Fatalf("start: %v", err)
	}

	if !waitFor(t, 3*time.Second, func() bool { return f.count(msgFeedingDue) == 1 }) {
		t.Fatalf("feeding-due broadcast not observed, msgs=%v", f.msgs)
	}
	if !waitFor(t, 3*time.Second, func() bool { return f.count(msgStillNotFed) >= 2 }) {
		t.Fatalf("overdue reminders not repeating, msgs=%v", f.msgs)
	}

	s.StopAllTimers()
	settled := f.total()
	time.Sleep(300 * time.Millisecond)
	// one tick may have been in flight during the stop
	if f.total() > settled+1 {
		t.Errorf("broadcasts after stop: %d -> %d", settled, f.total())
	}
	if f.count(msgFeedingDue) != 1 {
		t.Errorf("feeding-due fired %d times, want exactly 1", f.count(msgFeedingDue))
	}
}

func TestRestartSupersedesPreviousCountdown(t *testing.T) {
	s, f := newTestService(t)
	s.reminderEvery = time.Hour // keep reminders out of the way

	if err := s.start(60*time.Millisecond, time.Time{}); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if err := s.start(60*time.Millisecond, time.Time{}); err != nil {
		t.Fatalf("second start: %v", err)
	}

	if !waitFor(t, 3*time.Second, func() bool { return f.count(msgFeedingDue) >= 1 }) {
		t.Fatalf("deadline never fired")
	}
	time.Sleep(200 * time.Millisecond)
	if got := f.count(msgFeedingDue); got != 1 {
		t.Errorf("feeding-due fired %d times, want exactly 1", got)
	}
}

func TestStopBeforeDeadlineSilencesIt(t *testing.T) {
	s, f := newTestService(t)

	if err := s.start(100*time.Millisecond, time.Time{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	s.StopAllTimers()

	time.Sleep(300 * time.Millisecond)
	if f.total() != 0 {
		t.Errorf("broadcasts after stop: %v", f.msgs)
	}
}

func TestPastReferenceFiresImmediately(t *testing.T) {
	s, f := newTestService(t)
	s.reminderEvery = time.Hour

	// corrected feeding time so far back the deadline already passed
	if err := s.start(30*time.Minute, time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !s.IsTimerActive() {
		t.Error("timer should be active")
	}
	if !waitFor(t, 3*time.Second, func() bool { return f.count(msgFeedingDue) == 1 }) {
		t.Fatalf("immediate deadline not observed")
	}
}
