package store

import (
	"database/sql"
	"time"
)

// Food types a feeding can be recorded with.
const (
	FoodDry = "dry"
	FoodWet = "wet"
)

// Schedule statuses. Fired and cancelled are terminal.
const (
	ScheduleActive    = "active"
	ScheduleFired     = "fired"
	ScheduleCancelled = "cancelled"
)

// Settings keys for the household's default portion.
const (
	SettingFoodType   = "default_food_type"
	SettingFoodAmount = "default_food_amount"
)

type User struct {
	ID                   int64   `db:"id"`
	TGID                 int64   `db:"tg_id"`
	Username             string  `db:"username"`
	NotificationsEnabled bool    `db:"notifications_enabled"`
	Timezone             *string `db:"timezone"`
	CreatedAt            time.Time
}

type Feeding struct {
	ID          int64
	UserID      int64
	FoodType    string
	Amount      int
	Details     *string
	FedAt       time.Time
	CorrectedAt *time.Time
}

type ScheduledFeeding struct {
	ID          int64
	UserID      int64
	ScheduledAt time.Time
	Status      string
	CreatedAt   time.Time
}

// EffectiveTime is the corrected feeding time when one was supplied,
// otherwise the creation time.
func (f Feeding) EffectiveTime() time.Time {
	if f.CorrectedAt != nil {
		return *f.CorrectedAt
	}
	return f.FedAt
}

// row types: the DB keeps all times as Unix seconds UTC.

type userRow struct {
	ID                   int64   `db:"id"`
	TGID                 int64   `db:"tg_id"`
	Username             string  `db:"username"`
	NotificationsEnabled bool    `db:"notifications_enabled"`
	Timezone             *string `db:"timezone"`
	CreatedAt            int64   `db:"created_at"`
}

func (r userRow) toUser() User {
	return User{
		ID:                   r.ID,
		TGID:                 r.TGID,
		Username:             r.Username,
		NotificationsEnabled: r.NotificationsEnabled,
		Timezone:             r.Timezone,
		CreatedAt:            time.Unix(r.CreatedAt, 0).UTC(),
	}
}

type feedingRow struct {
	ID          int64         `db:"id"`
	UserID      int64         `db:"user_id"`
	FoodType    string        `db:"food_type"`
	Amount      int           `db:"amount"`
	Details     *string       `db:"details"`
	FedAt       int64         `db:"fed_at"`
	CorrectedAt sql.NullInt64 `db:"corrected_at"`
}

func (r feedingRow) toFeeding() Feeding {
	return Feeding{
		ID:          r.ID,
		UserID:      r.UserID,
		FoodType:    r.FoodType,
		Amount:      r.Amount,
		Details:     r.Details,
		FedAt:       time.Unix(r.FedAt, 0).UTC(),
		CorrectedAt: fromNullUnix(r.CorrectedAt),
	}
}

type scheduleRow struct {
	ID          int64  `db:"id"`
	UserID      int64  `db:"user_id"`
	ScheduledAt int64  `db:"scheduled_at"`
	Status      string `db:"status"`
	CreatedAt   int64  `db:"created_at"`
}

func (r scheduleRow) toSchedule() ScheduledFeeding {
	return ScheduledFeeding{
		ID:          r.ID,
		UserID:      r.UserID,
		ScheduledAt: time.Unix(r.ScheduledAt, 0).UTC(),
		Status:      r.Status,
		CreatedAt:   time.Unix(r.CreatedAt, 0).UTC(),
	}
}

func fromNullUnix(ns sql.NullInt64) *time.Time {
	if !ns.Valid {
		return nil
	}
	t := time.Unix(ns.Int64, 0).UTC()
	return &t
}
