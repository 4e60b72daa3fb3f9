package timer

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/okpulse/dogfeeder-bot/internal/ops"
)

// DefaultIntervalMinutes is the automatic reminder interval used until the
// household configures another one (3.5 hours).
const DefaultIntervalMinutes = 210

// defaultReminderEvery is the overdue re-broadcast cadence.
const defaultReminderEvery = 10 * time.Minute

const (
	tagDeadline = "feeding:deadline"
	tagReminder = "feeding:reminder"
)

const (
	msgFeedingDue  = "🔔 Пора покормить собаку!"
	msgStillNotFed = "🔔 Напоминание: собаку все еще нужно покормить!"
)

// Notifier delivers a broadcast to every opted-in user. Per-recipient
// failures are handled inside the notifier; only recipient-list lookup
// errors come back.
type Notifier interface {
	Broadcast(text string, opts ...interface{}) (int, error)
}

// Info is a snapshot of the automatic reminder countdown.
type Info struct {
	Time            *time.Time
	Active          bool
	IntervalMinutes int
}

// Service owns the single automatic "next feeding" countdown and its
// repeating overdue reminder. State lives only in memory: a restart comes
// back inactive with the default interval.
type Service struct {
	sched    gocron.Scheduler
	notifier Notifier
	log      *zap.Logger

	reminderEvery time.Duration

	mu              sync.Mutex
	next            *time.Time
	active          bool
	intervalMinutes int
	gen             uint64 // cancellation token: bumped on every re-arm/stop
}

func New(notifier Notifier, log *zap.Logger) (*Service, error) {
	sched, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("create timer scheduler: %w", err)
	}
	sched.Start()
	return &Service{
		sched:           sched,
		notifier:        notifier,
		log:             log,
		reminderEvery:   defaultReminderEvery,
		intervalMinutes: DefaultIntervalMinutes,
	}, nil
}

// StartFeedingTimer (re)arms the countdown. A non-positive intervalMinutes
// falls back to the current interval; an explicit value becomes the new
// current interval. A zero reference means "now"; a corrected feeding time
// may be passed to count from it instead. Each call fully supersedes the
// previous countdown and sends nothing itself.
func (s *Service) StartFeedingTimer(intervalMinutes int, reference time.Time) error {
	s.mu.Lock()
	if intervalMinutes > 0 {
		s.intervalMinutes = intervalMinutes
	} else {
		intervalMinutes = s.intervalMinutes
	}
	s.mu.Unlock()
	return s.start(time.Duration(intervalMinutes)*time.Minute, reference)
}

func (s *Service) start(interval time.Duration, reference time.Time) error {
	if reference.IsZero() {
		reference = time.Now()
	}
	next := reference.Add(interval).UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	// supersede any pending countdown before arming the new one
	s.sched.RemoveByTags(tagDeadline, tagReminder)
	s.next = nil
	s.active = false
	s.gen++
	gen := s.gen

	if !next.After(time.Now()) {
		// corrected reference already put us past the deadline
		s.next = &next
		s.active = true
		go s.onDeadline(gen)
		return nil
	}

	_, err := s.sched.NewJob(
		gocron.OneTimeJob(gocron.OneTimeJobStartDateTime(next)),
		gocron.NewTask(s.onDeadline, gen),
		gocron.WithTags(tagDeadline),
	)
	if err != nil {
		return fmt.Errorf("arm feeding deadline: %w", err)
	}
	s.next = &next
	s.active = true
	s.log.Info("feeding timer armed",
		zap.Time("next_feeding", next),
		zap.Duration("interval", interval))
	return nil
}

// UpdateInterval stores a new default interval. A running countdown is
// restarted with the new interval measured from now; elapsed time is
// deliberately not preserved.
func (s *Service) UpdateInterval(minutes int) error {
	if minutes <= 0 {
		return fmt.Errorf("интервал должен быть положительным, получено %d", minutes)
	}
	s.mu.Lock()
	s.intervalMinutes = minutes
	active := s.active
	s.mu.Unlock()

	s.log.Info("feeding interval updated", zap.Int("minutes", minutes))
	if active {
		return s.start(time.Duration(minutes)*time.Minute, time.Time{})
	}
	return nil
}

// StopAllTimers cancels the countdown and any overdue reminder, from any
// state.
func (s *Service) StopAllTimers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sched.RemoveByTags(tagDeadline, tagReminder)
	s.active = false
	s.next = nil
	s.gen++
	s.log.Info("all feeding timers stopped")
}

// NextFeedingInfo is a pure read, safe from any goroutine.
func (s *Service) NextFeedingInfo() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{Time: s.next, Active: s.active, IntervalMinutes: s.intervalMinutes}
}

func (s *Service) IsTimerActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Service) CurrentInterval() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.intervalMinutes
}

// Notifications exposes the notifier for callers that need a direct
// broadcast (settings-change announcements and the like).
func (s *Service) Notifications() Notifier {
	return s.notifier
}

// Shutdown stops the underlying scheduler so pending jobs do not outlive
// the process.
func (s *Service) Shutdown() error {
	return s.sched.Shutdown()
}

// onDeadline runs when the countdown expires: broadcast once, then keep
// reminding at the fixed cadence until a feeding is logged or the timers
// are stopped. gen is the countdown generation that armed this job; a
// stale generation means the countdown was superseded.
func (s *Service) onDeadline(gen uint64) {
	s.mu.Lock()
	if !s.active || s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	ops.RemindersSent.Inc()
	if _, err := s.notifier.Broadcast(msgFeedingDue); err != nil {
		s.log.Error("feeding-due broadcast failed", zap.Error(err))
	}
	s.armReminder(gen)
}

func (s *Service) armReminder(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active || s.gen != gen {
		return
	}
	_, err := s.sched.NewJob(
		gocron.DurationJob(s.reminderEvery),
		gocron.NewTask(s.onReminderTick, gen),
		gocron.WithTags(tagReminder),
	)
	if err != nil {
		s.log.Error("arm overdue reminder failed", zap.Error(err))
		return
	}
	s.log.Info("overdue reminder armed", zap.Duration("every", s.reminderEvery))
}

func (s *Service) onReminderTick(gen uint64) {
	s.mu.Lock()
	stale := !s.active || s.gen != gen
	s.mu.Unlock()
	if stale {
		// stopped or superseded while a tick was in flight
		s.sched.RemoveByTags(tagReminder)
		return
	}
	ops.RemindersSent.Inc()
	if _, err := s.notifier.Broadcast(msgStillNotFed); err != nil {
		s.log.Error("overdue broadcast failed", zap.Error(err))
	}
}
