package timeparse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/okpulse/dogfeeder-bot/internal/store"
)

const (
	MinIntervalMinutes = 1
	MaxIntervalMinutes = 24 * 60
)

var (
	hhmmRe   = regexp.MustCompile(`(\d{1,2}):(\d{2})`)
	// no \b after the units: Go's word boundary is ASCII-only and never
	// matches after a Cyrillic letter
	hoursRe  = regexp.MustCompile(`(?i)(\d+)\s*(часов|часа|час|ч|h)`)
	minsRe   = regexp.MustCompile(`(?i)(\d+)\s*(минуты|минут|мин|м|min|m)`)
	amountRe = regexp.MustCompile(`(?i)(\d+)\s*(граммов|грамм|гр|г|g)`)
	bareNum  = regexp.MustCompile(`^\d+$`)
)

// ParseInterval turns user input like "210", "3ч 30м", "2 часа" or "90 мин"
// into minutes. Allowed range is 1 minute to 24 hours.
func ParseInterval(text string) (int, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return 0, fmt.Errorf("пустой интервал")
	}

	var minutes int
	switch {
	case bareNum.MatchString(s):
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, fmt.Errorf("не удалось разобрать число %q", s)
		}
		minutes = n
	default:
		if m := hoursRe.FindStringSubmatch(s); m != nil {
			h, _ := strconv.Atoi(m[1])
			minutes += h * 60
		}
		if m := minsRe.FindStringSubmatch(s); m != nil {
			n, _ := strconv.Atoi(m[1])
			minutes += n
		}
		if minutes == 0 {
			return 0, fmt.Errorf("не удалось распознать интервал %q", text)
		}
	}

	if minutes < MinIntervalMinutes || minutes > MaxIntervalMinutes {
		return 0, fmt.Errorf("интервал должен быть от 1 минуты до 24 часов, получено %d мин", minutes)
	}
	return minutes, nil
}

// IntervalExamples lists accepted interval formats for the settings prompt.
func IntervalExamples() []string {
	return []string{"210", "3ч 30м", "2 часа", "90 мин"}
}

// ParseScheduleTime resolves user input into an absolute future time:
//
//	"18:30"         today at 18:30 local, or tomorrow if already passed
//	"завтра 09:00"  tomorrow at 09:00 local
//	"через 2ч 30м"  relative offset from now
//
// The result is UTC.
func ParseScheduleTime(text string, loc *time.Location) (time.Time, error) {
	s := strings.ToLower(strings.TrimSpace(text))
	if s == "" {
		return time.Time{}, fmt.Errorf("пустое время")
	}
	now := time.Now().In(loc)

	if strings.HasPrefix(s, "через") {
		minutes, err := ParseInterval(strings.TrimSpace(strings.TrimPrefix(s, "через")))
		if err != nil {
			return time.Time{}, err
		}
		return now.Add(time.Duration(minutes) * time.Minute).UTC(), nil
	}

	tomorrow := false
	if strings.HasPrefix(s, "завтра") {
		tomorrow = true
		s = strings.TrimSpace(strings.TrimPrefix(s, "завтра"))
	}

	h, m, ok := parseHHMM(s)
	if !ok {
		return time.Time{}, fmt.Errorf("не удалось распознать время %q, ожидается ЧЧ:ММ", text)
	}

	at := time.Date(now.Year(), now.Month(), now.Day(), h, m, 0, 0, loc)
	if tomorrow {
		at = at.AddDate(0, 0, 1)
	} else if !at.After(now) {
		// today's slot already passed, roll to tomorrow
		at = at.AddDate(0, 0, 1)
	}
	return at.UTC(), nil
}

// ScheduleExamples lists accepted schedule formats for the prompt.
func ScheduleExamples() []string {
	return []string{"18:30", "завтра 09:00", "через 2 часа", "через 45 мин"}
}

func parseHHMM(s string) (int, int, bool) {
	m := hhmmRe.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, false
	}
	h, _ := strconv.Atoi(m[1])
	min, _ := strconv.Atoi(m[2])
	if h > 23 || min > 59 {
		return 0, 0, false
	}
	return h, min, true
}

// FeedingDetails is the parsed form of a free-text feeding annotation.
type FeedingDetails struct {
	Amount   *int    // grams, when mentioned
	FoodType *string // store.FoodDry / store.FoodWet, when mentioned
	Details  string  // leftover free text
}

// ParseFeedingDetails extracts a portion size ("12г"), a food type
// ("сухой" / "влажный") and free text from an annotation.
func ParseFeedingDetails(text string) (FeedingDetails, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return FeedingDetails{}, fmt.Errorf("пустое сообщение")
	}
	var d FeedingDetails

	if m := amountRe.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n <= 0 {
			return d, fmt.Errorf("количество корма должно быть положительным")
		}
		d.Amount = &n
		s = strings.Replace(s, m[0], "", 1)
	}

	lower := strings.ToLower(s)
	switch {
	case strings.Contains(lower, "сух"):
		ft := store.FoodDry
		d.FoodType = &ft
	case strings.Contains(lower, "влаж"), strings.Contains(lower, "консерв"):
		ft := store.FoodWet
		d.FoodType = &ft
	}

	d.Details = strings.Join(strings.Fields(s), " ")
	return d, nil
}

// ExtractTime pulls an HH:MM token out of the text, returning the hour,
// minute and the text without the token. ok is false when no valid time
// is present. A time-only input leaves rest empty.
func ExtractTime(text string) (h, m int, rest string, ok bool) {
	h, m, ok = parseHHMM(text)
	if !ok {
		return 0, 0, text, false
	}
	rest = strings.TrimSpace(hhmmRe.ReplaceAllString(text, ""))
	return h, m, rest, true
}

// DetailsExamples lists accepted annotation formats.
func DetailsExamples() []string {
	return []string{"12г сухой", "15 г влажный, доел всё", "14:30 20г сухой"}
}

// FormatInterval renders minutes as "3 ч 30 мин".
func FormatInterval(minutes int) string {
	h := minutes / 60
	m := minutes % 60
	switch {
	case h == 0:
		return fmt.Sprintf("%d мин", m)
	case m == 0:
		return fmt.Sprintf("%d ч", h)
	default:
		return fmt.Sprintf("%d ч %d мин", h, m)
	}
}

// FormatDateTime renders a timestamp in the user's timezone, falling back
// to fallbackTZ and then UTC when the zone is unknown.
func FormatDateTime(t time.Time, tz *string, fallbackTZ string) string {
	name := fallbackTZ
	if tz != nil && *tz != "" {
		name = *tz
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		loc = time.UTC
	}
	return t.In(loc).Format("02.01.2006 15:04")
}
