package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/consult-booking/internal/model"
)

// ConsultantRepo reads consultant profiles.  Profiles are owned by another
// service, so this repository is read-only.
type ConsultantRepo struct {
	db *sql.DB
}

// NewConsultantRepo returns a new ConsultantRepo bound to the provided database.
func NewConsultantRepo(db *sql.DB) *ConsultantRepo { return &ConsultantRepo{db: db} }

const consultantColumns = `id, user_id, display_name, is_active, hourly_rate_cents, currency`

func scanConsultant(row *sql.Row) (*model.Consultant, error) {
	var c model.Consultant
	if err := row.Scan(&c.ID, &c.UserID, &c.DisplayName, &c.IsActive, &c.HourlyRateCents, &c.Currency); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// Resolve accepts either a profile id or a user id.  When ref matches both
// a profile id and some other consultant's user id, the profile id wins.
func (r *ConsultantRepo) Resolve(ctx context.Context, ref uint64) (*model.Consultant, error) {
	const q = `SELECT ` + consultantColumns + ` FROM consultants
        WHERE id = ? OR user_id = ?
        ORDER BY (id = ?) DESC
        LIMIT 1`
	return scanConsultant(r.db.QueryRowContext(ctx, q, ref, ref, ref))
}

// GetByID fetches a consultant by profile id.
func (r *ConsultantRepo) GetByID(ctx context.Context, id uint64) (*model.Consultant, error) {
	return scanConsultant(r.db.QueryRowContext(ctx, `SELECT `+consultantColumns+` FROM consultants WHERE id = ?`, id))
}

// GetByUserID fetches the consultant profile owned by a user account.
func (r *ConsultantRepo) GetByUserID(ctx context.Context, userID uint64) (*model.Consultant, error) {
	return scanConsultant(r.db.QueryRowContext(ctx, `SELECT `+consultantColumns+` FROM consultants WHERE user_id = ?`, userID))
}
