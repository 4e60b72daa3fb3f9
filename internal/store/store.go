package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Store wraps the SQLite database. It is the single source of truth for
// users, feedings, scheduled feedings and household settings.
type Store struct {
	DB *sqlx.DB
}

func Open(databaseURL string) (*Store, error) {
	db, err := sqlx.Open("sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout=5000&_pragma=foreign_keys(1)", databaseURL))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		return nil, err
	}
	if err := runMigrations(db); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

func (s *Store) Close() error { return s.DB.Close() }

// --- Users ---

const userCols = "id, tg_id, username, notifications_enabled, timezone, created_at"

func (s *Store) GetOrCreateUser(tgID int64, username string) (User, error) {
	u, err := s.GetUserByTGID(tgID)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, err
	}
	now := time.Now().UTC()
	res, err := s.DB.Exec("INSERT INTO users (tg_id, username, notifications_enabled, created_at) VALUES (?, ?, 1, ?)",
		tgID, username, now.Unix())
	if err != nil {
		return User{}, fmt.Errorf("create user: %w", err)
	}
	id, _ := res.LastInsertId()
	return User{ID: id, TGID: tgID, Username: username, NotificationsEnabled: true, CreatedAt: now}, nil
}

func (s *Store) GetUserByTGID(tgID int64) (User, error) {
	var r userRow
	if err := s.DB.Get(&r, "SELECT "+userCols+" FROM users WHERE tg_id = ?", tgID); err != nil {
		return User{}, err
	}
	return r.toUser(), nil
}

func (s *Store) GetUserByID(id int64) (User, error) {
	var r userRow
	if err := s.DB.Get(&r, "SELECT "+userCols+" FROM users WHERE id = ?", id); err != nil {
		return User{}, err
	}
	return r.toUser(), nil
}

func (s *Store) GetAllUsers() ([]User, error) {
	var rows []userRow
	if err := s.DB.Select(&rows, "SELECT "+userCols+" FROM users ORDER BY id"); err != nil {
		return nil, err
	}
	users := make([]User, 0, len(rows))
	for _, r := range rows {
		users = append(users, r.toUser())
	}
	return users, nil
}

// UsersWithNotifications returns users that opted in to broadcasts.
func (s *Store) UsersWithNotifications() ([]User, error) {
	var rows []userRow
	if err := s.DB.Select(&rows, "SELECT "+userCols+" FROM users WHERE notifications_enabled = 1 ORDER BY id"); err != nil {
		return nil, err
	}
	users := make([]User, 0, len(rows))
	for _, r := range rows {
		users = append(users, r.toUser())
	}
	return users, nil
}

func (s *Store) SetNotifications(userID int64, enabled bool) error {
	val := 0
	if enabled {
		val = 1
	}
	_, err := s.DB.Exec("UPDATE users SET notifications_enabled = ? WHERE id = ?", val, userID)
	return err
}

func (s *Store) SetTimezone(userID int64, tz string) error {
	_, err := s.DB.Exec("UPDATE users SET timezone = ? WHERE id = ?", tz, userID)
	return err
}

// DeleteUser removes a user together with their feedings and scheduled
// feedings (foreign keys cascade).
func (s *Store) DeleteUser(userID int64) error {
	res, err := s.DB.Exec("DELETE FROM users WHERE id = ?", userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// --- Feedings ---

const feedingCols = "id, user_id, food_type, amount, details, fed_at, corrected_at"

func (s *Store) CreateFeeding(userID int64, foodType string, amount int) (Feeding, error) {
	now := time.Now().UTC()
	res, err := s.DB.Exec("INSERT INTO feedings (user_id, food_type, amount, fed_at) VALUES (?, ?, ?, ?)",
		userID, foodType, amount, now.Unix())
	if err != nil {
		return Feeding{}, fmt.Errorf("create feeding: %w", err)
	}
	id, _ := res.LastInsertId()
	return Feeding{ID: id, UserID: userID, FoodType: foodType, Amount: amount, FedAt: now}, nil
}

// UpdateFeedingDetails attaches late-arriving details to a feeding. Nil
// arguments leave the corresponding column untouched.
func (s *Store) UpdateFeedingDetails(id int64, amount *int, foodType *string, details *string, correctedAt *time.Time) error {
	cur, err := s.GetFeeding(id)
	if err != nil {
		return err
	}
	if amount == nil {
		amount = &cur.Amount
	}
	if foodType == nil {
		foodType = &cur.FoodType
	}
	if details == nil {
		details = cur.Details
	}
	var corrected any
	if correctedAt != nil {
		corrected = correctedAt.UTC().Unix()
	} else if cur.CorrectedAt != nil {
		corrected = cur.CorrectedAt.Unix()
	}
	_, err = s.DB.Exec("UPDATE feedings SET amount = ?, food_type = ?, details = ?, corrected_at = ? WHERE id = ?",
		*amount, *foodType, details, corrected, id)
	return err
}

func (s *Store) GetFeeding(id int64) (Feeding, error) {
	var r feedingRow
	if err := s.DB.Get(&r, "SELECT "+feedingCols+" FROM feedings WHERE id = ?", id); err != nil {
		return Feeding{}, err
	}
	return r.toFeeding(), nil
}

// GetLastFeeding returns the most recent feeding or nil when none exist.
func (s *Store) GetLastFeeding() (*Feeding, error) {
	var r feedingRow
	err := s.DB.Get(&r, "SELECT "+feedingCols+" FROM feedings ORDER BY fed_at DESC, id DESC LIMIT 1")
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	f := r.toFeeding()
	return &f, nil
}

// TodayFeedings returns feedings recorded since midnight in loc, newest first.
func (s *Store) TodayFeedings(loc *time.Location) ([]Feeding, error) {
	start := startOfDay(time.Now().In(loc))
	var rows []feedingRow
	err := s.DB.Select(&rows, "SELECT "+feedingCols+" FROM feedings WHERE fed_at >= ? ORDER BY fed_at DESC, id DESC", start.Unix())
	if err != nil {
		return nil, err
	}
	out := make([]Feeding, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toFeeding())
	}
	return out, nil
}

// FeedingsPage returns one page of the full history, newest first. Pages
// are 1-based.
func (s *Store) FeedingsPage(page, limit int) ([]Feeding, error) {
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * limit
	var rows []feedingRow
	err := s.DB.Select(&rows, "SELECT "+feedingCols+" FROM feedings ORDER BY fed_at DESC, id DESC LIMIT ? OFFSET ?", limit, offset)
	if err != nil {
		return nil, err
	}
	out := make([]Feeding, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toFeeding())
	}
	return out, nil
}

func (s *Store) CountFeedings() (int, error) {
	var n int
	err := s.DB.Get(&n, "SELECT COUNT(1) FROM feedings")
	return n, err
}

func (s *Store) CountTodayFeedings(loc *time.Location) (int, error) {
	start := startOfDay(time.Now().In(loc))
	var n int
	err := s.DB.Get(&n, "SELECT COUNT(1) FROM feedings WHERE fed_at >= ?", start.Unix())
	return n, err
}

// --- Scheduled feedings ---

const scheduleCols = "id, user_id, scheduled_at, status, created_at"

func (s *Store) CreateScheduledFeeding(at time.Time, userID int64) (ScheduledFeeding, error) {
	now := time.Now().UTC()
	res, err := s.DB.Exec("INSERT INTO scheduled_feedings (user_id, scheduled_at, status, created_at) VALUES (?, ?, 'active', ?)",
		userID, at.UTC().Unix(), now.Unix())
	if err != nil {
		return ScheduledFeeding{}, fmt.Errorf("create scheduled feeding: %w", err)
	}
	id, _ := res.LastInsertId()
	return ScheduledFeeding{ID: id, UserID: userID, ScheduledAt: at.UTC().Truncate(time.Second), Status: ScheduleActive, CreatedAt: now}, nil
}

func (s *Store) GetScheduledFeeding(id int64) (ScheduledFeeding, error) {
	var r scheduleRow
	if err := s.DB.Get(&r, "SELECT "+scheduleCols+" FROM scheduled_feedings WHERE id = ?", id); err != nil {
		return ScheduledFeeding{}, err
	}
	return r.toSchedule(), nil
}

// ActiveScheduledFeedings returns active rows sorted by time, ties broken
// by id (insertion order).
func (s *Store) ActiveScheduledFeedings() ([]ScheduledFeeding, error) {
	var rows []scheduleRow
	err := s.DB.Select(&rows, "SELECT "+scheduleCols+" FROM scheduled_feedings WHERE status = 'active' ORDER BY scheduled_at, id")
	if err != nil {
		return nil, err
	}
	out := make([]ScheduledFeeding, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toSchedule())
	}
	return out, nil
}

func (s *Store) CountScheduledFeedings() (int, error) {
	var n int
	err := s.DB.Get(&n, "SELECT COUNT(1) FROM scheduled_feedings")
	return n, err
}

// MarkScheduleFired flips an active schedule to fired. Returns false when
// the row does not exist or is already terminal.
func (s *Store) MarkScheduleFired(id int64) (bool, error) {
	return s.transitionSchedule(id, ScheduleFired)
}

// MarkScheduleCancelled flips an active schedule to cancelled. Returns
// false when the row does not exist or is already terminal.
func (s *Store) MarkScheduleCancelled(id int64) (bool, error) {
	return s.transitionSchedule(id, ScheduleCancelled)
}

func (s *Store) transitionSchedule(id int64, status string) (bool, error) {
	res, err := s.DB.Exec("UPDATE scheduled_feedings SET status = ? WHERE id = ? AND status = 'active'", status, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// --- Settings ---

// GetSetting returns the stored value or "" when the key is absent.
func (s *Store) GetSetting(key string) (string, error) {
	var v string
	err := s.DB.Get(&v, "SELECT value FROM settings WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, err
}

func (s *Store) SetSetting(key, value string) error {
	_, err := s.DB.Exec("INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value", key, value)
	return err
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
