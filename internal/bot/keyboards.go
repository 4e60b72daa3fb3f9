package bot

import "gopkg.in/telebot.v3"

// Button labels. Reply-keyboard handlers are registered against these
// texts, so they live in one place.
const (
	btnFed          = "🍽️ Собачка поел"
	btnDetails      = "📝 Уточнить детали кормления"
	btnStopToday    = "⏹️ Завершить кормления на сегодня"
	btnOtherActions = "📦 Другие действия"

	btnScheduleMenu = "📅 Управление расписанием"
	btnHistory      = "📋 История кормлений"
	btnSettings     = "⚙️ Настройки"
	btnHome         = "🏠 На главную"

	btnScheduleNew  = "📅 Запланировать кормление"
	btnScheduleList = "📋 Просмотреть запланированные"

	btnHistoryToday = "📅 За сегодня"
	btnHistoryFull  = "📋 Вся история"

	btnInterval      = "⏰ Интервал кормления"
	btnFood          = "🍽️ Настройки корма"
	btnNotifications = "🔔 Уведомления"

	btnNotifyOn  = "🔔 Включить уведомления"
	btnNotifyOff = "🔕 Выключить уведомления"
)

func keyboard(rows ...[]string) *telebot.ReplyMarkup {
	mk := &telebot.ReplyMarkup{ResizeKeyboard: true}
	reply := make([]telebot.Row, 0, len(rows))
	for _, r := range rows {
		btns := make([]telebot.Btn, 0, len(r))
		for _, text := range r {
			btns = append(btns, mk.Text(text))
		}
		reply = append(reply, mk.Row(btns...))
	}
	mk.Reply(reply...)
	return mk
}

func mainKeyboard() *telebot.ReplyMarkup {
	return keyboard(
		[]string{btnFed},
		[]string{btnDetails},
		[]string{btnStopToday},
		[]string{btnOtherActions},
	)
}

func otherActionsKeyboard() *telebot.ReplyMarkup {
	return keyboard(
		[]string{btnScheduleMenu, btnHistory},
		[]string{btnSettings},
		[]string{btnHome},
	)
}

func scheduleKeyboard() *telebot.ReplyMarkup {
	return keyboard(
		[]string{btnScheduleNew},
		[]string{btnScheduleList},
		[]string{btnHome},
	)
}

func historyKeyboard() *telebot.ReplyMarkup {
	return keyboard(
		[]string{btnHistoryToday, btnHistoryFull},
		[]string{btnHome},
	)
}

func settingsKeyboard() *telebot.ReplyMarkup {
	return keyboard(
		[]string{btnInterval, btnFood},
		[]string{btnNotifications},
		[]string{btnHome},
	)
}

func notificationsKeyboard(enabled bool) *telebot.ReplyMarkup {
	toggle := btnNotifyOn
	if enabled {
		toggle = btnNotifyOff
	}
	return keyboard(
		[]string{toggle},
		[]string{btnHome},
	)
}

func homeKeyboard() *telebot.ReplyMarkup {
	return keyboard([]string{btnHome})
}
