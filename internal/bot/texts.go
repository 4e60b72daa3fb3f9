package bot

import (
	"fmt"
	"strings"

	"github.com/okpulse/dogfeeder-bot/internal/store"
	"github.com/okpulse/dogfeeder-bot/internal/timeparse"
)

const (
	textWelcome = "Привет! Я помогаю следить за кормлением собачки.\n" +
		"Нажмите \"🍽️ Собачка поел\" после кормления — я напомню, когда настанет время следующего."
	textGoingHome      = "Возвращаемся на главный экран"
	textChooseAction   = "Выберите действие:"
	textUseButtons     = "Используйте кнопки меню для навигации."
	textAccessDenied   = "🚫 Доступ запрещен\n\nЭтот бот доступен только для членов семьи.\nЕсли вы считаете, что это ошибка, обратитесь к администратору."
	textGenericError   = "Произошла ошибка. Попробуйте еще раз или используйте /start"
	textFeedingStopped = "⏹️ Кормления на сегодня завершены"
)

func foodTypeRu(ft string) string {
	if ft == store.FoodWet {
		return "влажный"
	}
	return "сухой"
}

func userDisplay(u store.User) string {
	if u.Username != "" {
		return u.Username
	}
	return fmt.Sprintf("id %d", u.TGID)
}

func feedingLoggedMessage(u store.User, f store.Feeding, nextAt string, intervalMinutes int, defaultTZ string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🍽️ Собачка поел!\n\n")
	fmt.Fprintf(&b, "⏰ Время: %s\n", timeparse.FormatDateTime(f.FedAt, u.Timezone, defaultTZ))
	fmt.Fprintf(&b, "👤 Кто: %s\n", userDisplay(u))
	fmt.Fprintf(&b, "🥣 %s корм, %dг\n\n", foodTypeRu(f.FoodType), f.Amount)
	fmt.Fprintf(&b, "⏭️ Следующее кормление в %s (интервал: %s)", nextAt, timeparse.FormatInterval(intervalMinutes))
	return b.String()
}

func feedingListEntry(i int, f store.Feeding, u *store.User, defaultTZ string) string {
	var tz *string
	name := "Неизвестно"
	if u != nil {
		tz = u.Timezone
		name = userDisplay(*u)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d. 🕐 %s\n", i, timeparse.FormatDateTime(f.EffectiveTime(), tz, defaultTZ))
	fmt.Fprintf(&b, "   👤 %s\n", name)
	fmt.Fprintf(&b, "   🥣 %s корм, %dг\n", foodTypeRu(f.FoodType), f.Amount)
	if f.Details != nil && *f.Details != "" {
		fmt.Fprintf(&b, "   📝 %s\n", *f.Details)
	}
	return b.String()
}
