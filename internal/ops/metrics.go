package ops

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FeedingsLogged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dogfeeder_feedings_logged_total",
		Help: "Feedings recorded, manual and scheduled.",
	})
	RemindersSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dogfeeder_reminders_sent_total",
		Help: "Feeding-due and overdue reminder broadcasts.",
	})
	SchedulesFired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dogfeeder_schedules_fired_total",
		Help: "One-off scheduled feedings that fired.",
	})
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dogfeeder_messages_sent_total",
		Help: "Telegram messages delivered.",
	})
	MessageFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dogfeeder_message_failures_total",
		Help: "Telegram messages that failed to deliver.",
	})
)
