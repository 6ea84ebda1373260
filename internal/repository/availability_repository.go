package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/consult-booking/internal/model"
)

// AvailabilityRepo provides access to the availability_sets table.  A
// consultant has at most one active set per calendar date and one per
// weekday.  A date set takes precedence over the weekday set for that day;
// that rule lives in the slot resolver, not here.
type AvailabilityRepo struct {
	db *sql.DB
}

// NewAvailabilityRepo returns a new AvailabilityRepo bound to the provided database.
func NewAvailabilityRepo(db *sql.DB) *AvailabilityRepo { return &AvailabilityRepo{db: db} }

const availabilityColumns = `id, consultant_id, mode, DATE_FORMAT(on_date, '%Y-%m-%d'), day_of_week, windows, is_active, created_at, updated_at`

func scanAvailability(s rowScanner) (*model.AvailabilitySet, error) {
	var (
		set     model.AvailabilitySet
		date    sql.NullString
		weekday sql.NullInt64
		windows []byte
	)
	err := s.Scan(&set.ID, &set.ConsultantID, &set.Mode, &date, &weekday, &windows, &set.IsActive, &set.CreatedAt, &set.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if date.Valid {
		set.Date = &date.String
	}
	if weekday.Valid {
		d := int(weekday.Int64)
		set.DayOfWeek = &d
	}
	if err := json.Unmarshal(windows, &set.Windows); err != nil {
		return nil, fmt.Errorf("decode windows of availability %d: %w", set.ID, err)
	}
	return &set, nil
}

// ForDate returns the active set for a calendar date ("YYYY-MM-DD").
func (r *AvailabilityRepo) ForDate(ctx context.Context, consultantID uint64, date string) (*model.AvailabilitySet, error) {
	q := `SELECT ` + availabilityColumns + ` FROM availability_sets
          WHERE consultant_id = ? AND mode = 'date' AND on_date = ? AND is_active = 1 LIMIT 1`
	return scanAvailability(r.db.QueryRowContext(ctx, q, consultantID, date))
}

// ForWeekday returns the active recurring set for a weekday.
func (r *AvailabilityRepo) ForWeekday(ctx context.Context, consultantID uint64, weekday time.Weekday) (*model.AvailabilitySet, error) {
	q := `SELECT ` + availabilityColumns + ` FROM availability_sets
          WHERE consultant_id = ? AND mode = 'weekday' AND day_of_week = ? AND is_active = 1 LIMIT 1`
	return scanAvailability(r.db.QueryRowContext(ctx, q, consultantID, int(weekday)))
}

// ListByConsultant returns every active set, weekday sets first and then
// dated sets in calendar order.
func (r *AvailabilityRepo) ListByConsultant(ctx context.Context, consultantID uint64) ([]model.AvailabilitySet, error) {
	q := `SELECT ` + availabilityColumns + ` FROM availability_sets
          WHERE consultant_id = ? AND is_active = 1
          ORDER BY mode DESC, day_of_week, on_date`
	rows, err := r.db.QueryContext(ctx, q, consultantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.AvailabilitySet
	for rows.Next() {
		set, err := scanAvailability(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *set)
	}
	return out, rows.Err()
}

// Replace upserts set on its natural key.  The unique indexes on
// (consultant_id, on_date) and (consultant_id, day_of_week) make the
// insert collide with an existing record, which is then overwritten
// wholesale.  ID and timestamps are populated from the stored row.
func (r *AvailabilityRepo) Replace(ctx context.Context, set *model.AvailabilitySet) error {
	windows, err := json.Marshal(set.Windows)
	if err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	const q = `INSERT INTO availability_sets (consultant_id, mode, on_date, day_of_week, windows, is_active)
        VALUES (?, ?, ?, ?, ?, 1)
        ON DUPLICATE KEY UPDATE windows = VALUES(windows), is_active = 1`
	if _, err := tx.ExecContext(ctx, q, set.ConsultantID, string(set.Mode), set.Date, set.DayOfWeek, windows); err != nil {
		return translate(err)
	}
	var row *sql.Row
	if set.Mode == model.AvailabilityByDate {
		row = tx.QueryRowContext(ctx, `SELECT `+availabilityColumns+` FROM availability_sets
            WHERE consultant_id = ? AND on_date = ?`, set.ConsultantID, set.Date)
	} else {
		row = tx.QueryRowContext(ctx, `SELECT `+availabilityColumns+` FROM availability_sets
            WHERE consultant_id = ? AND day_of_week = ?`, set.ConsultantID, set.DayOfWeek)
	}
	stored, err := scanAvailability(row)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	*set = *stored
	return nil
}

// DeleteDatesBefore removes date-mode sets for days strictly before date.
func (r *AvailabilityRepo) DeleteDatesBefore(ctx context.Context, date string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM availability_sets WHERE mode = 'date' AND on_date < ?`, date)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
