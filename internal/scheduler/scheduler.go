package scheduler

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/okpulse/dogfeeder-bot/internal/ops"
	"github.com/okpulse/dogfeeder-bot/internal/store"
)

// Notifier delivers a broadcast to every opted-in user.
type Notifier interface {
	Broadcast(text string, opts ...interface{}) (int, error)
}

// Service maintains one independent countdown per active scheduled
// feeding. The persisted rows are the source of truth; timers are
// re-armed from them on every start. Firing a schedule records a feeding
// and notifies, but deliberately does not touch the automatic reminder
// countdown.
type Service struct {
	sched    gocron.Scheduler
	st       *store.Store
	notifier Notifier
	log      *zap.Logger

	// catchUpPastDue: fire schedules that came due while the process was
	// down, instead of leaving them active but unarmed.
	catchUpPastDue bool

	mu    sync.Mutex
	armed map[int64]struct{}
}

func New(st *store.Store, notifier Notifier, log *zap.Logger, catchUpPastDue bool) (*Service, error) {
	sched, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("create feeding scheduler: %w", err)
	}
	sched.Start()
	return &Service{
		sched:          sched,
		st:             st,
		notifier:       notifier,
		log:            log,
		catchUpPastDue: catchUpPastDue,
		armed:          make(map[int64]struct{}),
	}, nil
}

func scheduleTag(id int64) string { return "schedule:" + strconv.FormatInt(id, 10) }

// Initialize re-arms a countdown for every persisted active schedule.
// Past-due rows are fired immediately when catch-up is enabled, otherwise
// they stay active but unarmed until cancelled.
func (s *Service) Initialize() error {
	rows, err := s.st.ActiveScheduledFeedings()
	if err != nil {
		return fmt.Errorf("load active schedules: %w", err)
	}
	now := time.Now()
	armed, caughtUp := 0, 0
	for _, sf := range rows {
		if sf.ScheduledAt.After(now) {
			if err := s.arm(sf); err != nil {
				s.log.Error("arm schedule failed", zap.Int64("id", sf.ID), zap.Error(err))
				continue
			}
			armed++
			continue
		}
		if s.catchUpPastDue {
			s.onFire(sf.ID)
			caughtUp++
		} else {
			s.log.Warn("past-due schedule left unarmed", zap.Int64("id", sf.ID), zap.Time("scheduled_at", sf.ScheduledAt))
		}
	}
	s.log.Info("scheduler initialized", zap.Int("armed", armed), zap.Int("caught_up", caughtUp), zap.Int("total_active", len(rows)))
	return nil
}

// CreateSchedule validates, persists and arms a new one-off feeding.
func (s *Service) CreateSchedule(at time.Time, creatorID int64) (store.ScheduledFeeding, error) {
	if !at.After(time.Now()) {
		return store.ScheduledFeeding{}, fmt.Errorf("время кормления должно быть в будущем")
	}
	sf, err := s.st.CreateScheduledFeeding(at, creatorID)
	if err != nil {
		return store.ScheduledFeeding{}, err
	}
	if err := s.arm(sf); err != nil {
		// keep the invariant "active row == armed timer": roll the row back
		if _, cerr := s.st.MarkScheduleCancelled(sf.ID); cerr != nil {
			s.log.Error("rollback of unarmed schedule failed", zap.Int64("id", sf.ID), zap.Error(cerr))
		}
		return store.ScheduledFeeding{}, err
	}
	s.log.Info("feeding scheduled",
		zap.Int64("id", sf.ID),
		zap.Time("at", sf.ScheduledAt),
		zap.Int64("creator", creatorID))
	return sf, nil
}

func (s *Service) arm(sf store.ScheduledFeeding) error {
	// row times carry second granularity, so a schedule validated against
	// the wall clock can come back up to a second in the past; gocron
	// rejects past one-time jobs, fire such rows directly instead
	if !sf.ScheduledAt.After(time.Now()) {
		s.mu.Lock()
		s.armed[sf.ID] = struct{}{}
		s.mu.Unlock()
		go s.onFire(sf.ID)
		return nil
	}
	_, err := s.sched.NewJob(
		gocron.OneTimeJob(gocron.OneTimeJobStartDateTime(sf.ScheduledAt)),
		gocron.NewTask(s.onFire, sf.ID),
		gocron.WithTags(scheduleTag(sf.ID)),
	)
	if err != nil {
		return fmt.Errorf("arm schedule %d: %w", sf.ID, err)
	}
	s.mu.Lock()
	s.armed[sf.ID] = struct{}{}
	s.mu.Unlock()
	return nil
}

// onFire records the feeding, flips the row to fired and broadcasts. The
// fired transition is a compare-and-set on the active status, so a
// schedule can never produce two feedings.
func (s *Service) onFire(id int64) {
	s.mu.Lock()
	delete(s.armed, id)
	s.mu.Unlock()

	sf, err := s.st.GetScheduledFeeding(id)
	if err != nil {
		s.log.Error("fired schedule not found", zap.Int64("id", id), zap.Error(err))
		return
	}
	ok, err := s.st.MarkScheduleFired(id)
	if err != nil {
		s.log.Error("mark schedule fired failed", zap.Int64("id", id), zap.Error(err))
		return
	}
	if !ok {
		// cancelled (or already fired) before the timer went off
		return
	}

	foodType, amount := s.defaultFood()
	feeding, err := s.st.CreateFeeding(sf.UserID, foodType, amount)
	if err != nil {
		s.log.Error("record scheduled feeding failed", zap.Int64("id", id), zap.Error(err))
		return
	}
	ops.SchedulesFired.Inc()
	ops.FeedingsLogged.Inc()

	creatorName := "пользователь"
	if u, err := s.st.GetUserByID(sf.UserID); err == nil && u.Username != "" {
		creatorName = u.Username
	}
	ftText := "сухой"
	if foodType == store.FoodWet {
		ftText = "влажный"
	}
	msg := fmt.Sprintf("⏰ Запланированное кормление выполнено!\n🍽️ %s корм, %dг\n👤 Запланировал: %s",
		ftText, amount, creatorName)
	if _, err := s.notifier.Broadcast(msg); err != nil {
		s.log.Error("scheduled feeding broadcast failed", zap.Int64("id", id), zap.Error(err))
	}

	s.log.Info("scheduled feeding fired",
		zap.Int64("schedule_id", id),
		zap.Int64("feeding_id", feeding.ID),
		zap.Int64("creator", sf.UserID))
}

// CancelSchedule disarms and cancels an active schedule. A non-existent
// or already fired/cancelled id reports failure without an error and
// leaves every other schedule untouched.
func (s *Service) CancelSchedule(id int64) (bool, error) {
	ok, err := s.st.MarkScheduleCancelled(id)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	s.sched.RemoveByTags(scheduleTag(id))
	s.mu.Lock()
	delete(s.armed, id)
	s.mu.Unlock()
	s.log.Info("schedule cancelled", zap.Int64("id", id))
	return true, nil
}

// ActiveScheduledFeedings returns active schedules sorted by time, ties
// broken by id.
func (s *Service) ActiveScheduledFeedings() ([]store.ScheduledFeeding, error) {
	return s.st.ActiveScheduledFeedings()
}

// NextScheduledFeeding returns the soonest active schedule or nil.
func (s *Service) NextScheduledFeeding() (*store.ScheduledFeeding, error) {
	rows, err := s.st.ActiveScheduledFeedings()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// Stats aggregates the scheduler state for the /scheduler admin command.
type Stats struct {
	ActiveSchedules int
	TotalSchedules  int
	RunningTimers   int
	Next            *store.ScheduledFeeding
}

func (s *Service) Stats() (Stats, error) {
	active, err := s.st.ActiveScheduledFeedings()
	if err != nil {
		return Stats{}, err
	}
	total, err := s.st.CountScheduledFeedings()
	if err != nil {
		return Stats{}, err
	}
	s.mu.Lock()
	running := len(s.armed)
	s.mu.Unlock()

	st := Stats{ActiveSchedules: len(active), TotalSchedules: total, RunningTimers: running}
	if len(active) > 0 {
		st.Next = &active[0]
	}
	return st, nil
}

// Cleanup cancels every armed timer without touching persisted state;
// active rows are re-armed by Initialize on the next start.
func (s *Service) Cleanup() error {
	s.mu.Lock()
	s.armed = make(map[int64]struct{})
	s.mu.Unlock()
	return s.sched.Shutdown()
}

func (s *Service) defaultFood() (string, int) {
	foodType, err := s.st.GetSetting(store.SettingFoodType)
	if err != nil || (foodType != store.FoodDry && foodType != store.FoodWet) {
		foodType = store.FoodDry
	}
	amount := 12
	if v, err := s.st.GetSetting(store.SettingFoodAmount); err == nil {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			amount = n
		}
	}
	return foodType, amount
}
