package bot

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/telebot.v3"

	"github.com/okpulse/dogfeeder-bot/internal/access"
	"github.com/okpulse/dogfeeder-bot/internal/notify"
	"github.com/okpulse/dogfeeder-bot/internal/ops"
	"github.com/okpulse/dogfeeder-bot/internal/scheduler"
	"github.com/okpulse/dogfeeder-bot/internal/store"
	"github.com/okpulse/dogfeeder-bot/internal/timeparse"
	"github.com/okpulse/dogfeeder-bot/internal/timer"
)

const historyPageSize = 5

// inputMode tracks what a user's next free-text message means.
type inputMode int

const (
	modeNone inputMode = iota
	modeInterval
	modeFood
	modeDetails
	modeSchedule
)

// App wires the Telegram surface to the services. All state the UI keeps
// is per-user input mode and the id of the user's last logged feeding.
type App struct {
	Bot    *telebot.Bot
	St     *store.Store
	Timer  *timer.Service
	Sch    *scheduler.Service
	Notify *notify.Service
	Access *access.List
	Log    *zap.Logger

	DefaultTZ string

	mu          sync.Mutex
	mode        map[int64]inputMode
	lastFeeding map[int64]int64 // tg id -> feeding id

	btnHistPage   telebot.Btn
	btnSchedClose telebot.Btn
}

func New(b *telebot.Bot, st *store.Store, tm *timer.Service, sch *scheduler.Service, nt *notify.Service, acl *access.List, log *zap.Logger, defaultTZ string) *App {
	return &App{
		Bot:         b,
		St:          st,
		Timer:       tm,
		Sch:         sch,
		Notify:      nt,
		Access:      acl,
		Log:         log,
		DefaultTZ:   defaultTZ,
		mode:        make(map[int64]inputMode),
		lastFeeding: make(map[int64]int64),
	}
}

func (a *App) SetupHandlers() {
	// access middleware: the bot is household-only
	a.Bot.Use(func(next telebot.HandlerFunc) telebot.HandlerFunc {
		return func(c telebot.Context) error {
			s := c.Sender()
			if s == nil {
				return nil
			}
			if !a.Access.IsAllowed(s.ID) {
				a.Log.Warn("access denied", zap.Int64("tg_id", s.ID), zap.String("username", s.Username))
				return c.Send(textAccessDenied)
			}
			return next(c)
		}
	})

	// inline buttons
	a.btnHistPage = telebot.Btn{Unique: "hist_page"}
	a.btnSchedClose = telebot.Btn{Unique: "sched_cancel"}
	a.Bot.Handle(&a.btnHistPage, a.cbHistoryPage)
	a.Bot.Handle(&a.btnSchedClose, a.cbCancelSchedule)

	// commands
	a.Bot.Handle("/start", a.handleStart)
	a.Bot.Handle("/home", a.handleHome)
	a.Bot.Handle("/status", a.handleStatus)
	a.Bot.Handle("/notifications", a.handleNotificationStats)
	a.Bot.Handle("/scheduler", a.handleSchedulerStats)
	a.Bot.Handle("/access", a.handleAccess)

	// main screen
	a.handleButton(btnFed, a.handleFed)
	a.handleButton(btnDetails, a.handleDetailsPrompt)
	a.handleButton(btnStopToday, a.handleStopToday)
	a.handleButton(btnOtherActions, func(c telebot.Context) error {
		return c.Send(textChooseAction, otherActionsKeyboard())
	})
	a.handleButton(btnHome, a.handleHome)

	// other actions
	a.handleButton(btnScheduleMenu, func(c telebot.Context) error {
		return c.Send("📅 Управление расписанием кормлений\n\n"+textChooseAction, scheduleKeyboard())
	})
	a.handleButton(btnHistory, func(c telebot.Context) error {
		return c.Send(textChooseAction, historyKeyboard())
	})
	a.handleButton(btnSettings, func(c telebot.Context) error {
		return c.Send(textChooseAction, settingsKeyboard())
	})

	// schedule management
	a.handleButton(btnScheduleNew, a.handleSchedulePrompt)
	a.handleButton(btnScheduleList, a.handleScheduleList)

	// history
	a.handleButton(btnHistoryToday, a.handleTodayHistory)
	a.handleButton(btnHistoryFull, func(c telebot.Context) error {
		return a.sendHistoryPage(c, 1, false)
	})

	// settings
	a.handleButton(btnInterval, a.handleIntervalPrompt)
	a.handleButton(btnFood, a.handleFoodPrompt)
	a.handleButton(btnNotifications, a.handleNotificationsScreen)
	a.handleButton(btnNotifyOn, func(c telebot.Context) error { return a.toggleNotifications(c, true) })
	a.handleButton(btnNotifyOff, func(c telebot.Context) error { return a.toggleNotifications(c, false) })

	// free text is meaningful only inside an input mode
	a.Bot.Handle(telebot.OnText, a.handleText)
}

// handleButton registers a handler for a reply-keyboard button by its text.
func (a *App) handleButton(text string, h telebot.HandlerFunc) {
	a.Bot.Handle(text, h)
}

func (a *App) setMode(tgID int64, m inputMode) {
	a.mu.Lock()
	a.mode[tgID] = m
	a.mu.Unlock()
}

func (a *App) currentMode(tgID int64) inputMode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mode[tgID]
}

// getOrCreateUser resolves the sender, creating the row lazily and pinning
// the default timezone on first contact.
func (a *App) getOrCreateUser(c telebot.Context) (store.User, error) {
	s := c.Sender()
	name := s.Username
	if name == "" {
		name = s.FirstName
	}
	u, err := a.St.GetOrCreateUser(s.ID, name)
	if err != nil {
		return store.User{}, err
	}
	if u.Timezone == nil {
		if err := a.St.SetTimezone(u.ID, a.DefaultTZ); err == nil {
			tz := a.DefaultTZ
			u.Timezone = &tz
		}
	}
	return u, nil
}

func (a *App) userLoc(u store.User) *time.Location {
	name := a.DefaultTZ
	if u.Timezone != nil && *u.Timezone != "" {
		name = *u.Timezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (a *App) defaultFood() (string, int) {
	foodType, err := a.St.GetSetting(store.SettingFoodType)
	if err != nil || (foodType != store.FoodDry && foodType != store.FoodWet) {
		foodType = store.FoodDry
	}
	amount := 12
	if v, err := a.St.GetSetting(store.SettingFoodAmount); err == nil {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			amount = n
		}
	}
	return foodType, amount
}

// --- commands ---

func (a *App) handleStart(c telebot.Context) error {
	u, err := a.getOrCreateUser(c)
	if err != nil {
		a.Log.Error("create user failed", zap.Error(err))
		return c.Send(textGenericError)
	}
	a.setMode(u.TGID, modeNone)
	a.Log.Info("user started the bot", zap.Int64("tg_id", u.TGID), zap.String("username", u.Username))
	return c.Send(textWelcome, mainKeyboard())
}

func (a *App) handleHome(c telebot.Context) error {
	a.setMode(c.Sender().ID, modeNone)
	return c.Send(textGoingHome, mainKeyboard())
}

func (a *App) handleStatus(c telebot.Context) error {
	u, err := a.getOrCreateUser(c)
	if err != nil {
		return c.Send(textGenericError)
	}
	info := a.Timer.NextFeedingInfo()

	var b strings.Builder
	b.WriteString("📊 Статус кормления:\n\n")

	if last, err := a.St.GetLastFeeding(); err == nil && last != nil {
		who := "Неизвестно"
		if lu, err := a.St.GetUserByID(last.UserID); err == nil {
			who = userDisplay(lu)
		}
		fmt.Fprintf(&b, "🍽️ Последнее кормление:\n   Время: %s\n   Кто: %s\n\n",
			timeparse.FormatDateTime(last.EffectiveTime(), u.Timezone, a.DefaultTZ), who)
	} else {
		b.WriteString("🍽️ Кормлений еще не было\n\n")
	}

	fmt.Fprintf(&b, "⏰ Интервал кормления: %s\n\n", timeparse.FormatInterval(info.IntervalMinutes))
	if info.Active && info.Time != nil {
		fmt.Fprintf(&b, "⏭️ Следующее кормление в %s\n", timeparse.FormatDateTime(*info.Time, u.Timezone, a.DefaultTZ))
	} else {
		b.WriteString("⏹️ Кормления приостановлены\n")
	}

	if next, err := a.Sch.NextScheduledFeeding(); err == nil && next != nil {
		creator := "Неизвестно"
		if cu, err := a.St.GetUserByID(next.UserID); err == nil {
			creator = userDisplay(cu)
		}
		fmt.Fprintf(&b, "\n📅 Запланированное кормление:\n   Время: %s\n   ID: %d\n   Создал: %s\n",
			timeparse.FormatDateTime(next.ScheduledAt, u.Timezone, a.DefaultTZ), next.ID, creator)
	}

	today, _ := a.St.CountTodayFeedings(a.userLoc(u))
	total, _ := a.St.CountFeedings()
	fmt.Fprintf(&b, "\n📊 Статистика:\n• Сегодня: %d кормлений\n• Всего: %d кормлений", today, total)
	return c.Send(b.String())
}

func (a *App) handleNotificationStats(c telebot.Context) error {
	stats, err := a.Notify.NotificationStats()
	if err != nil {
		a.Log.Error("notification stats failed", zap.Error(err))
		return c.Send(textGenericError)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📊 Статистика уведомлений:\n\n👥 Всего пользователей: %d\n\n", stats.TotalUsers)
	fmt.Fprintf(&b, "🔔 Уведомления включены: %d\n", stats.Enabled)
	for _, n := range stats.EnabledNames {
		fmt.Fprintf(&b, "  • %s\n", n)
	}
	fmt.Fprintf(&b, "\n🔕 Уведомления выключены: %d\n", stats.Disabled)
	for _, n := range stats.DisabledNames {
		fmt.Fprintf(&b, "  • %s\n", n)
	}
	return c.Send(b.String())
}

func (a *App) handleSchedulerStats(c telebot.Context) error {
	u, err := a.getOrCreateUser(c)
	if err != nil {
		return c.Send(textGenericError)
	}
	stats, err := a.Sch.Stats()
	if err != nil {
		a.Log.Error("scheduler stats failed", zap.Error(err))
		return c.Send(textGenericError)
	}
	var b strings.Builder
	b.WriteString("📅 Статистика планировщика:\n\n")
	fmt.Fprintf(&b, "📊 Активных кормлений: %d\n", stats.ActiveSchedules)
	fmt.Fprintf(&b, "📈 Всего кормлений: %d\n", stats.TotalSchedules)
	fmt.Fprintf(&b, "⏱️ Активных таймеров: %d\n\n", stats.RunningTimers)
	if stats.Next != nil {
		creator := "Неизвестно"
		if cu, err := a.St.GetUserByID(stats.Next.UserID); err == nil {
			creator = userDisplay(cu)
		}
		fmt.Fprintf(&b, "⏰ Следующее кормление:\n  📅 %s\n  🆔 ID: %d\n  👤 Создал: %s",
			timeparse.FormatDateTime(stats.Next.ScheduledAt, u.Timezone, a.DefaultTZ), stats.Next.ID, creator)
	} else {
		b.WriteString("⏰ Нет запланированных кормлений")
	}
	return c.Send(b.String())
}

func (a *App) handleAccess(c telebot.Context) error {
	args := strings.Fields(c.Message().Payload)
	if len(args) == 0 {
		ids := a.Access.IDs()
		var b strings.Builder
		fmt.Fprintf(&b, "🔐 Управление доступом:\n\n👥 Разрешенных пользователей: %d\n", len(ids))
		for _, id := range ids {
			fmt.Fprintf(&b, "  • %d\n", id)
		}
		b.WriteString("\n📖 Команды:\n• /access add <user_id>\n• /access remove <user_id>\n• /access reload")
		return c.Send(b.String())
	}

	cmd := args[0]
	var targetID int64
	if len(args) > 1 {
		targetID, _ = strconv.ParseInt(args[1], 10, 64)
	}

	switch cmd {
	case "add":
		if targetID == 0 {
			return c.Send("❌ Укажите корректный ID пользователя")
		}
		if err := a.Access.Add(targetID); err != nil {
			a.Log.Error("access add failed", zap.Error(err))
			return c.Send(textGenericError)
		}
		return c.Send(fmt.Sprintf("✅ Пользователь %d добавлен в список разрешенных", targetID))
	case "remove":
		if targetID == 0 {
			return c.Send("❌ Укажите корректный ID пользователя")
		}
		if targetID == c.Sender().ID {
			return c.Send("❌ Нельзя удалить самого себя из списка разрешенных")
		}
		if err := a.Access.Remove(targetID); err != nil {
			a.Log.Error("access remove failed", zap.Error(err))
			return c.Send(textGenericError)
		}
		return c.Send(fmt.Sprintf("✅ Пользователь %d удален из списка разрешенных", targetID))
	case "reload":
		if err := a.Access.Reload(); err != nil {
			return c.Send("❌ Не удалось перезагрузить список: " + err.Error())
		}
		return c.Send("✅ Список разрешенных пользователей перезагружен из файла")
	default:
		return c.Send("❌ Неизвестная команда. Используйте: add, remove, reload")
	}
}

// --- main screen ---

func (a *App) handleFed(c telebot.Context) error {
	u, err := a.getOrCreateUser(c)
	if err != nil {
		a.Log.Error("resolve user failed", zap.Error(err))
		return c.Send(textGenericError)
	}

	foodType, amount := a.defaultFood()
	f, err := a.St.CreateFeeding(u.ID, foodType, amount)
	if err != nil {
		a.Log.Error("record feeding failed", zap.Error(err))
		return c.Send("Произошла ошибка при записи кормления. Попробуйте еще раз.")
	}
	ops.FeedingsLogged.Inc()

	a.mu.Lock()
	a.lastFeeding[u.TGID] = f.ID
	a.mode[u.TGID] = modeNone
	a.mu.Unlock()

	if err := a.Timer.StartFeedingTimer(0, time.Time{}); err != nil {
		a.Log.Error("restart feeding timer failed", zap.Error(err))
	}
	info := a.Timer.NextFeedingInfo()
	nextAt := "неизвестно"
	if info.Time != nil {
		nextAt = timeparse.FormatDateTime(*info.Time, u.Timezone, a.DefaultTZ)
	}

	msg := feedingLoggedMessage(u, f, nextAt, info.IntervalMinutes, a.DefaultTZ)
	if _, err := a.Notify.BroadcastExcept(u.TGID, msg); err != nil {
		a.Log.Error("feeding broadcast failed", zap.Error(err))
	}
	a.Log.Info("feeding recorded", zap.Int64("feeding_id", f.ID), zap.String("by", userDisplay(u)))
	return c.Send(msg, mainKeyboard())
}

func (a *App) handleStopToday(c telebot.Context) error {
	u, err := a.getOrCreateUser(c)
	if err != nil {
		return c.Send(textGenericError)
	}
	a.Timer.StopAllTimers()

	msg := fmt.Sprintf("%s\nИнициатор: %s\n\nЧтобы возобновить кормления, нажмите \"%s\"",
		textFeedingStopped, userDisplay(u), btnFed)
	if _, err := a.Notify.Broadcast(msg); err != nil {
		a.Log.Error("stop broadcast failed", zap.Error(err))
	}
	a.Log.Info("feedings stopped for today", zap.String("by", userDisplay(u)))
	return c.Send(textGoingHome, mainKeyboard())
}

// --- feeding details ---

func (a *App) handleDetailsPrompt(c telebot.Context) error {
	tgID := c.Sender().ID
	a.mu.Lock()
	feedingID := a.lastFeeding[tgID]
	a.mu.Unlock()
	if feedingID == 0 {
		last, err := a.St.GetLastFeeding()
		if err != nil || last == nil {
			return c.Send("❌ Нет недавних кормлений для уточнения", mainKeyboard())
		}
		a.mu.Lock()
		a.lastFeeding[tgID] = last.ID
		a.mu.Unlock()
	}
	a.setMode(tgID, modeDetails)
	return c.Send("Опишите кормление: количество, тип корма, время и детали.\n\nПримеры:\n• "+
		strings.Join(timeparse.DetailsExamples(), "\n• "), homeKeyboard())
}

func (a *App) handleDetailsInput(c telebot.Context, text string) error {
	u, err := a.getOrCreateUser(c)
	if err != nil {
		return c.Send(textGenericError)
	}
	a.mu.Lock()
	feedingID := a.lastFeeding[u.TGID]
	a.mu.Unlock()
	if feedingID == 0 {
		a.setMode(u.TGID, modeNone)
		return c.Send("❌ Не найдено кормление для уточнения", mainKeyboard())
	}

	h, m, rest, hasTime := timeparse.ExtractTime(text)
	var parsed timeparse.FeedingDetails
	if rest != "" {
		parsed, err = timeparse.ParseFeedingDetails(rest)
		if err != nil {
			return c.Send("❌ "+err.Error()+"\n\nПопробуйте еще раз или используйте примеры выше.", homeKeyboard())
		}
	}

	var corrected *time.Time
	if hasTime {
		loc := a.userLoc(u)
		now := time.Now().In(loc)
		t := time.Date(now.Year(), now.Month(), now.Day(), h, m, 0, 0, loc).UTC()
		corrected = &t
	}

	var details *string
	if parsed.Details != "" {
		details = &parsed.Details
	}
	if err := a.St.UpdateFeedingDetails(feedingID, parsed.Amount, parsed.FoodType, details, corrected); err != nil {
		a.Log.Error("update feeding details failed", zap.Int64("feeding_id", feedingID), zap.Error(err))
		return c.Send("Произошла ошибка при сохранении деталей. Попробуйте еще раз.", homeKeyboard())
	}

	// a corrected feeding time moves the countdown's reference point
	if corrected != nil && a.Timer.IsTimerActive() {
		if err := a.Timer.StartFeedingTimer(a.Timer.CurrentInterval(), *corrected); err != nil {
			a.Log.Error("restart timer from corrected time failed", zap.Error(err))
		}
	}

	var b strings.Builder
	b.WriteString("📝 Детали кормления обновлены\n\n")
	if corrected != nil {
		fmt.Fprintf(&b, "⏰ Время: %s\n", timeparse.FormatDateTime(*corrected, u.Timezone, a.DefaultTZ))
	}
	if details != nil {
		fmt.Fprintf(&b, "📝 Детали: %s\n", *details)
	}
	fmt.Fprintf(&b, "👤 Кто: %s", userDisplay(u))

	if _, err := a.Notify.BroadcastExcept(u.TGID, b.String()); err != nil {
		a.Log.Error("details broadcast failed", zap.Error(err))
	}
	a.setMode(u.TGID, modeNone)
	return c.Send(b.String(), mainKeyboard())
}

// --- interval settings ---

func (a *App) handleIntervalPrompt(c telebot.Context) error {
	a.setMode(c.Sender().ID, modeInterval)
	return c.Send(fmt.Sprintf("⏰ Настройка интервала кормления\n\nТекущий интервал: %s\n\n"+
		"Введите новый интервал (от 1 минуты до 24 часов):\n\nПримеры форматов:\n• %s",
		timeparse.FormatInterval(a.Timer.CurrentInterval()),
		strings.Join(timeparse.IntervalExamples(), "\n• ")), homeKeyboard())
}

func (a *App) handleIntervalInput(c telebot.Context, text string) error {
	minutes, err := timeparse.ParseInterval(text)
	if err != nil {
		return c.Send("❌ "+err.Error()+"\n\nПопробуйте еще раз или используйте примеры выше.", homeKeyboard())
	}
	if err := a.Timer.UpdateInterval(minutes); err != nil {
		return c.Send("❌ "+err.Error(), homeKeyboard())
	}
	a.setMode(c.Sender().ID, modeNone)
	a.Log.Info("feeding interval changed", zap.Int("minutes", minutes), zap.Int64("by", c.Sender().ID))
	return c.Send(fmt.Sprintf("✅ Интервал обновлен\n\nНовый интервал: %s\n\nИзменения применены.",
		timeparse.FormatInterval(minutes)), settingsKeyboard())
}

// --- food settings ---

func (a *App) handleFoodPrompt(c telebot.Context) error {
	a.setMode(c.Sender().ID, modeFood)
	foodType, amount := a.defaultFood()
	return c.Send(fmt.Sprintf("🍽️ Настройки корма\n\nТекущие настройки: %s корм, %dг\n\n"+
		"Введите новые настройки:\n\nПримеры форматов:\n• 12г сухой\n• 15 г влажный",
		foodTypeRu(foodType), amount), homeKeyboard())
}

func (a *App) handleFoodInput(c telebot.Context, text string) error {
	u, err := a.getOrCreateUser(c)
	if err != nil {
		return c.Send(textGenericError)
	}
	parsed, err := timeparse.ParseFeedingDetails(text)
	if err != nil || (parsed.Amount == nil && parsed.FoodType == nil) {
		return c.Send("❌ Укажите количество (например, 12г) и/или тип корма (сухой/влажный).", homeKeyboard())
	}

	var updated []string
	if parsed.Amount != nil {
		if err := a.St.SetSetting(store.SettingFoodAmount, strconv.Itoa(*parsed.Amount)); err != nil {
			return c.Send(textGenericError)
		}
		updated = append(updated, fmt.Sprintf("количество: %dг", *parsed.Amount))
	}
	if parsed.FoodType != nil {
		if err := a.St.SetSetting(store.SettingFoodType, *parsed.FoodType); err != nil {
			return c.Send(textGenericError)
		}
		updated = append(updated, "тип: "+foodTypeRu(*parsed.FoodType))
	}

	msg := fmt.Sprintf("🍽️ Настройки корма изменены: %s\n👤 Изменил: %s", strings.Join(updated, ", "), userDisplay(u))
	if _, err := a.Notify.BroadcastExcept(u.TGID, msg); err != nil {
		a.Log.Error("food settings broadcast failed", zap.Error(err))
	}
	a.setMode(u.TGID, modeNone)
	a.Log.Info("food settings changed", zap.Strings("updated", updated), zap.String("by", userDisplay(u)))
	return c.Send("✅ Настройки корма обновлены\n\nНовые настройки: "+strings.Join(updated, ", "), settingsKeyboard())
}

// --- notification settings ---

func (a *App) handleNotificationsScreen(c telebot.Context) error {
	u, err := a.getOrCreateUser(c)
	if err != nil {
		return c.Send(textGenericError)
	}
	status, emoji := "Выключены", "🔕"
	if u.NotificationsEnabled {
		status, emoji = "Включены", "🔔"
	}
	msg := fmt.Sprintf("%s Настройки уведомлений\n\nТекущий статус: %s\n\n"+
		"Уведомления включают:\n• Сообщения о кормлении собаки\n• Напоминания \"Пора покормить!\"\n"+
		"• Изменения настроек корма\n• Остановку кормлений\n\n%s", emoji, status, textChooseAction)
	return c.Send(msg, notificationsKeyboard(u.NotificationsEnabled))
}

func (a *App) toggleNotifications(c telebot.Context, enabled bool) error {
	u, err := a.getOrCreateUser(c)
	if err != nil {
		return c.Send(textGenericError)
	}
	if err := a.St.SetNotifications(u.ID, enabled); err != nil {
		a.Log.Error("toggle notifications failed", zap.Error(err))
		return c.Send("❌ Ошибка сохранения настроек")
	}
	a.Log.Info("notifications toggled", zap.Bool("enabled", enabled), zap.String("user", userDisplay(u)))
	u.NotificationsEnabled = enabled
	status := "🔕 Уведомления выключены"
	if enabled {
		status = "🔔 Уведомления включены"
	}
	return c.Send(status, notificationsKeyboard(enabled))
}

// --- scheduled feedings ---

func (a *App) handleSchedulePrompt(c telebot.Context) error {
	a.setMode(c.Sender().ID, modeSchedule)
	return c.Send("📅 Когда покормить собачку?\n\nПримеры форматов:\n• "+
		strings.Join(timeparse.ScheduleExamples(), "\n• "), homeKeyboard())
}

func (a *App) handleScheduleInput(c telebot.Context, text string) error {
	u, err := a.getOrCreateUser(c)
	if err != nil {
		return c.Send(textGenericError)
	}
	at, err := timeparse.ParseScheduleTime(text, a.userLoc(u))
	if err != nil {
		return c.Send("❌ "+err.Error()+"\n\nПопробуйте еще раз или используйте примеры выше.", homeKeyboard())
	}
	sf, err := a.Sch.CreateSchedule(at, u.ID)
	if err != nil {
		return c.Send("❌ "+err.Error(), homeKeyboard())
	}
	a.setMode(u.TGID, modeNone)
	return c.Send(fmt.Sprintf("✅ Кормление запланировано\n\n📅 %s\n🆔 ID: %d",
		timeparse.FormatDateTime(sf.ScheduledAt, u.Timezone, a.DefaultTZ), sf.ID), scheduleKeyboard())
}

func (a *App) handleScheduleList(c telebot.Context) error {
	u, err := a.getOrCreateUser(c)
	if err != nil {
		return c.Send(textGenericError)
	}
	schedules, err := a.Sch.ActiveScheduledFeedings()
	if err != nil {
		a.Log.Error("list schedules failed", zap.Error(err))
		return c.Send(textGenericError)
	}
	if len(schedules) == 0 {
		return c.Send("📅 Нет запланированных кормлений", scheduleKeyboard())
	}
	if err := c.Send(fmt.Sprintf("📅 Запланированные кормления: %d", len(schedules))); err != nil {
		return err
	}
	for _, sf := range schedules {
		creator := "Неизвестно"
		if cu, err := a.St.GetUserByID(sf.UserID); err == nil {
			creator = userDisplay(cu)
		}
		mk := &telebot.ReplyMarkup{}
		cancel := mk.Data("❌ Отменить", a.btnSchedClose.Unique, strconv.FormatInt(sf.ID, 10))
		mk.Inline(mk.Row(cancel))
		text := fmt.Sprintf("📅 %s\n🆔 ID: %d\n👤 Создал: %s",
			timeparse.FormatDateTime(sf.ScheduledAt, u.Timezone, a.DefaultTZ), sf.ID, creator)
		if err := c.Send(text, mk); err != nil {
			a.Log.Warn("send schedule entry failed", zap.Error(err))
		}
	}
	return nil
}

func (a *App) cbCancelSchedule(c telebot.Context) error {
	id, err := strconv.ParseInt(strings.TrimSpace(c.Callback().Data), 10, 64)
	if err != nil {
		return c.Respond(&telebot.CallbackResponse{Text: "Ошибка"})
	}
	ok, err := a.Sch.CancelSchedule(id)
	if err != nil {
		a.Log.Error("cancel schedule failed", zap.Int64("id", id), zap.Error(err))
		return c.Respond(&telebot.CallbackResponse{Text: "Ошибка отмены"})
	}
	if !ok {
		return c.Respond(&telebot.CallbackResponse{Text: "Кормление уже выполнено или отменено"})
	}
	_ = c.Edit(fmt.Sprintf("❌ Кормление %d отменено", id))
	return c.Respond(&telebot.CallbackResponse{Text: "Отменено"})
}

// --- history ---

func (a *App) handleTodayHistory(c telebot.Context) error {
	u, err := a.getOrCreateUser(c)
	if err != nil {
		return c.Send(textGenericError)
	}
	feedings, err := a.St.TodayFeedings(a.userLoc(u))
	if err != nil {
		a.Log.Error("today history failed", zap.Error(err))
		return c.Send(textGenericError)
	}

	var b strings.Builder
	b.WriteString("📅 История кормлений за сегодня\n\n")
	if len(feedings) == 0 {
		b.WriteString("🍽️ Сегодня кормлений еще не было\n\nНажмите \"" + btnFed + "\" на главном экране, чтобы записать кормление.")
		return c.Send(b.String(), historyKeyboard())
	}

	fmt.Fprintf(&b, "📊 Всего кормлений: %d\n\n", len(feedings))
	users := a.usersByID()
	totalAmount := 0
	for i, f := range feedings {
		b.WriteString(feedingListEntry(i+1, f, users[f.UserID], a.DefaultTZ))
		b.WriteString("\n")
		totalAmount += f.Amount
	}
	fmt.Fprintf(&b, "📈 Общий объем: %dг", totalAmount)

	// gaps between consecutive feedings, newest first
	if len(feedings) > 1 {
		var gaps []string
		for i := 1; i < len(feedings); i++ {
			diff := int(feedings[i-1].EffectiveTime().Sub(feedings[i].EffectiveTime()).Minutes())
			if diff < 0 {
				diff = 0
			}
			gaps = append(gaps, timeparse.FormatInterval(diff))
		}
		fmt.Fprintf(&b, "\n⏱️ Интервалы: %s", strings.Join(gaps, ", "))
	}
	return c.Send(b.String(), historyKeyboard())
}

func (a *App) sendHistoryPage(c telebot.Context, page int, edit bool) error {
	total, err := a.St.CountFeedings()
	if err != nil {
		return c.Send(textGenericError)
	}
	totalPages := (total + historyPageSize - 1) / historyPageSize
	if totalPages == 0 {
		totalPages = 1
	}
	if page < 1 {
		page = 1
	}
	if page > totalPages {
		page = totalPages
	}

	feedings, err := a.St.FeedingsPage(page, historyPageSize)
	if err != nil {
		a.Log.Error("history page failed", zap.Int("page", page), zap.Error(err))
		return c.Send(textGenericError)
	}

	var b strings.Builder
	b.WriteString("📋 Полная история кормлений\n\n")
	fmt.Fprintf(&b, "📊 Всего записей: %d\n📄 Страница: %d из %d\n\n", total, page, totalPages)
	if len(feedings) == 0 {
		b.WriteString("Записей пока нет.")
	}
	users := a.usersByID()
	offset := (page - 1) * historyPageSize
	for i, f := range feedings {
		b.WriteString(feedingListEntry(offset+i+1, f, users[f.UserID], a.DefaultTZ))
		b.WriteString("\n")
	}

	mk := &telebot.ReplyMarkup{}
	var row []telebot.Btn
	if page > 1 {
		row = append(row, mk.Data("⬅️", a.btnHistPage.Unique, strconv.Itoa(page-1)))
	}
	if page < totalPages {
		row = append(row, mk.Data("➡️", a.btnHistPage.Unique, strconv.Itoa(page+1)))
	}
	if len(row) > 0 {
		mk.Inline(mk.Row(row...))
	}

	if edit {
		return c.Edit(b.String(), mk)
	}
	return c.Send(b.String(), mk)
}

func (a *App) cbHistoryPage(c telebot.Context) error {
	page, err := strconv.Atoi(strings.TrimSpace(c.Callback().Data))
	if err != nil {
		return c.Respond(&telebot.CallbackResponse{Text: "Ошибка"})
	}
	if err := a.sendHistoryPage(c, page, true); err != nil {
		a.Log.Warn("edit history page failed", zap.Error(err))
	}
	return c.Respond()
}

func (a *App) usersByID() map[int64]*store.User {
	out := make(map[int64]*store.User)
	users, err := a.St.GetAllUsers()
	if err != nil {
		return out
	}
	for i := range users {
		out[users[i].ID] = &users[i]
	}
	return out
}

// --- free text ---

func (a *App) handleText(c telebot.Context) error {
	text := strings.TrimSpace(c.Text())
	if text == "" || strings.HasPrefix(text, "/") {
		return nil
	}
	switch a.currentMode(c.Sender().ID) {
	case modeInterval:
		return a.handleIntervalInput(c, text)
	case modeFood:
		return a.handleFoodInput(c, text)
	case modeDetails:
		return a.handleDetailsInput(c, text)
	case modeSchedule:
		return a.handleScheduleInput(c, text)
	default:
		return c.Send(textUseButtons, mainKeyboard())
	}
}
