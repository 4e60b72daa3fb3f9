package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gopkg.in/telebot.v3"

	"github.com/okpulse/dogfeeder-bot/internal/ops"
	"github.com/okpulse/dogfeeder-bot/internal/store"
)

// Sender is the part of *telebot.Bot the notifier needs.
type Sender interface {
	Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error)
}

// Service delivers messages to household members. Per-recipient failures
// (blocked bot, deleted chat) are logged and skipped, never returned.
type Service struct {
	bot     Sender
	st      *store.Store
	log     *zap.Logger
	limiter *rate.Limiter
}

func New(bot Sender, st *store.Store, log *zap.Logger) *Service {
	return &Service{
		bot: bot,
		st:  st,
		log: log,
		// Telegram allows ~30 messages per second per bot
		limiter: rate.NewLimiter(rate.Limit(25), 5),
	}
}

// SendToUser delivers one message to one chat.
func (s *Service) SendToUser(tgID int64, text string, opts ...interface{}) error {
	_ = s.limiter.Wait(context.Background())
	if _, err := s.bot.Send(telebot.ChatID(tgID), text, opts...); err != nil {
		ops.MessageFailures.Inc()
		return fmt.Errorf("send to %d: %w", tgID, err)
	}
	ops.MessagesSent.Inc()
	return nil
}

// Broadcast sends text to every user with notifications enabled. The
// returned count is the number of successful deliveries; store errors are
// the only failures that propagate.
func (s *Service) Broadcast(text string, opts ...interface{}) (int, error) {
	return s.broadcast(0, text, opts...)
}

// BroadcastExcept behaves like Broadcast but skips one chat, so the user
// who performed an action is not echoed their own notification.
func (s *Service) BroadcastExcept(exceptTGID int64, text string, opts ...interface{}) (int, error) {
	return s.broadcast(exceptTGID, text, opts...)
}

func (s *Service) broadcast(exceptTGID int64, text string, opts ...interface{}) (int, error) {
	users, err := s.st.UsersWithNotifications()
	if err != nil {
		return 0, fmt.Errorf("broadcast recipients: %w", err)
	}
	sent := 0
	for _, u := range users {
		if exceptTGID != 0 && u.TGID == exceptTGID {
			continue
		}
		if err := s.SendToUser(u.TGID, text, opts...); err != nil {
			s.log.Warn("broadcast delivery failed", zap.Int64("tg_id", u.TGID), zap.Error(err))
			continue
		}
		sent++
	}
	return sent, nil
}

// Stats describes who receives broadcasts, for the /notifications command.
type Stats struct {
	TotalUsers    int
	Enabled       int
	Disabled      int
	EnabledNames  []string
	DisabledNames []string
}

func (s *Service) NotificationStats() (Stats, error) {
	users, err := s.st.GetAllUsers()
	if err != nil {
		return Stats{}, err
	}
	st := Stats{TotalUsers: len(users)}
	for _, u := range users {
		name := u.Username
		if name == "" {
			name = fmt.Sprintf("id %d", u.TGID)
		}
		if u.NotificationsEnabled {
			st.Enabled++
			st.EnabledNames = append(st.EnabledNames, name)
		} else {
			st.Disabled++
			st.DisabledNames = append(st.DisabledNames, name)
		}
	}
	return st, nil
}
