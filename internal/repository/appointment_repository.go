package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/consult-booking/internal/model"
)

// AppointmentRepo provides data access to the appointments table.  All
// timestamps are stored and compared in UTC.  Writes that take part in the
// booking flow go through InTx so they run under SERIALIZABLE isolation.
type AppointmentRepo struct {
	db *sql.DB
}

// NewAppointmentRepo returns a new AppointmentRepo bound to the provided database.
func NewAppointmentRepo(db *sql.DB) *AppointmentRepo { return &AppointmentRepo{db: db} }

// DB exposes the underlying handle for health checks.
func (r *AppointmentRepo) DB() *sql.DB { return r.db }

const appointmentColumns = `id, consultant_id, client_id, starts_at, duration_minutes, price_cents, currency,
       payment_status, status, payment_order_id, payment_id, refund_id, room_id, participants,
       max_participants, cancelled_by, cancelled_at, cancel_reason, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAppointment(s rowScanner) (*model.Appointment, error) {
	var (
		a            model.Appointment
		orderID      sql.NullString
		paymentID    sql.NullString
		refundID     sql.NullString
		participants []byte
		cancelledBy  sql.NullString
		cancelledAt  sql.NullTime
		reason       sql.NullString
	)
	err := s.Scan(&a.ID, &a.ConsultantID, &a.ClientID, &a.StartsAt, &a.DurationMinutes, &a.PriceCents,
		&a.Currency, &a.PaymentStatus, &a.Status, &orderID, &paymentID, &refundID, &a.RoomID,
		&participants, &a.MaxParticipants, &cancelledBy, &cancelledAt, &reason, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	a.StartsAt = a.StartsAt.UTC()
	if orderID.Valid {
		a.PaymentOrderID = &orderID.String
	}
	if paymentID.Valid {
		a.PaymentID = &paymentID.String
	}
	if refundID.Valid {
		a.RefundID = &refundID.String
	}
	if cancelledBy.Valid {
		by := model.CancelledBy(cancelledBy.String)
		a.CancelledBy = &by
	}
	if cancelledAt.Valid {
		at := cancelledAt.Time.UTC()
		a.CancelledAt = &at
	}
	if reason.Valid {
		a.CancelReason = &reason.String
	}
	if len(participants) > 0 {
		if err := json.Unmarshal(participants, &a.Participants); err != nil {
			return nil, fmt.Errorf("decode participants of appointment %d: %w", a.ID, err)
		}
	}
	return &a, nil
}

func scanAppointments(rows *sql.Rows) ([]model.Appointment, error) {
	defer rows.Close()
	var out []model.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// InTx runs fn inside a SERIALIZABLE transaction.  The transaction is
// committed only when fn returns nil.  Deadlocks, lock wait timeouts and
// unique violations are translated into ErrTxConflict and ErrDuplicateSlot
// so callers can classify them without importing the driver.
func (r *AppointmentRepo) InTx(ctx context.Context, fn func(tx AppointmentTx) error) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return translate(err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(&appointmentTx{tx: tx}); err != nil {
		return translate(err)
	}
	if err := tx.Commit(); err != nil {
		return translate(err)
	}
	committed = true
	return nil
}

// appointmentTx implements AppointmentTx on top of a *sql.Tx.
type appointmentTx struct {
	tx *sql.Tx
}

// ActiveInWindow selects the consultant's slot-occupying appointments that
// start inside [from, to].  FOR UPDATE takes next-key locks on the
// (consultant_id, starts_at) index range, so a concurrent booker scanning
// the same range blocks until this transaction finishes.
func (t *appointmentTx) ActiveInWindow(ctx context.Context, consultantID uint64, from, to time.Time) ([]model.Appointment, error) {
	q := `SELECT ` + appointmentColumns + `
          FROM appointments
          WHERE consultant_id = ?
            AND status = 'scheduled'
            AND payment_status IN ('paid','pending')
            AND starts_at BETWEEN ? AND ?
          ORDER BY starts_at
          FOR UPDATE`
	rows, err := t.tx.QueryContext(ctx, q, consultantID, from.UTC(), to.UTC())
	if err != nil {
		return nil, translate(err)
	}
	return scanAppointments(rows)
}

// Create inserts a new appointment within the transaction and populates
// the generated ID and timestamps on a.  created_at is written in UTC from
// a.CreatedAt (now when zero) rather than left to the server clock, because
// the reaper compares it against a UTC cutoff.
func (t *appointmentTx) Create(ctx context.Context, a *model.Appointment) error {
	participants, err := json.Marshal(a.Participants)
	if err != nil {
		return err
	}
	created := a.CreatedAt.UTC()
	if a.CreatedAt.IsZero() {
		created = time.Now().UTC()
	}
	const q = `INSERT INTO appointments
        (consultant_id, client_id, starts_at, duration_minutes, price_cents, currency,
         payment_status, status, payment_order_id, room_id, participants, max_participants,
         created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := t.tx.ExecContext(ctx, q,
		a.ConsultantID, a.ClientID, a.StartsAt.UTC(), a.DurationMinutes, a.PriceCents, a.Currency,
		string(a.PaymentStatus), string(a.Status), a.PaymentOrderID, a.RoomID, participants, a.MaxParticipants,
		created, created)
	if err != nil {
		return translate(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	// Query back the full row to populate timestamps and defaults
	row := t.tx.QueryRowContext(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = ?`, id)
	stored, err := scanAppointment(row)
	if err != nil {
		return err
	}
	*a = *stored
	return nil
}

// GetForUpdate loads one appointment and locks its row until commit.
func (t *appointmentTx) GetForUpdate(ctx context.Context, id uint64) (*model.Appointment, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = ? FOR UPDATE`, id)
	a, err := scanAppointment(row)
	if err != nil {
		return nil, translate(err)
	}
	return a, nil
}

// Update writes the mutable columns of a.
func (t *appointmentTx) Update(ctx context.Context, a *model.Appointment) error {
	const q = `UPDATE appointments
        SET payment_status = ?, status = ?, payment_id = ?, refund_id = ?,
            cancelled_by = ?, cancelled_at = ?, cancel_reason = ?, updated_at = ?
        WHERE id = ?`
	var cancelledBy *string
	if a.CancelledBy != nil {
		s := string(*a.CancelledBy)
		cancelledBy = &s
	}
	var cancelledAt *time.Time
	if a.CancelledAt != nil {
		at := a.CancelledAt.UTC()
		cancelledAt = &at
	}
	_, err := t.tx.ExecContext(ctx, q,
		string(a.PaymentStatus), string(a.Status), a.PaymentID, a.RefundID,
		cancelledBy, cancelledAt, a.CancelReason, time.Now().UTC(), a.ID)
	return translate(err)
}

// GetByID loads a single appointment outside of any transaction.
func (r *AppointmentRepo) GetByID(ctx context.Context, id uint64) (*model.Appointment, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = ?`, id)
	return scanAppointment(row)
}

// BookedBetween returns the consultant's scheduled and paid appointments
// overlapping [from, to).  Pending holds are not reported: they still
// block new bookings in the coordinator but are shown as open slots.
func (r *AppointmentRepo) BookedBetween(ctx context.Context, consultantID uint64, from, to time.Time) ([]model.Appointment, error) {
	q := `SELECT ` + appointmentColumns + `
          FROM appointments
          WHERE consultant_id = ?
            AND status = 'scheduled'
            AND payment_status = 'paid'
            AND starts_at < ?
            AND DATE_ADD(starts_at, INTERVAL duration_minutes MINUTE) > ?
          ORDER BY starts_at`
	rows, err := r.db.QueryContext(ctx, q, consultantID, to.UTC(), from.UTC())
	if err != nil {
		return nil, err
	}
	return scanAppointments(rows)
}

// ListByClient returns the client's appointments, newest first.
func (r *AppointmentRepo) ListByClient(ctx context.Context, clientID uint64, status model.BookingStatus) ([]model.Appointment, error) {
	return r.list(ctx, "client_id", clientID, status)
}

// ListByConsultant returns the consultant's appointments, newest first.
func (r *AppointmentRepo) ListByConsultant(ctx context.Context, consultantID uint64, status model.BookingStatus) ([]model.Appointment, error) {
	return r.list(ctx, "consultant_id", consultantID, status)
}

func (r *AppointmentRepo) list(ctx context.Context, column string, id uint64, status model.BookingStatus) ([]model.Appointment, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + appointmentColumns + ` FROM appointments WHERE ` + column + ` = ?`)
	args := []any{id}
	if status != "" {
		sb.WriteString(` AND status = ?`)
		args = append(args, string(status))
	}
	sb.WriteString(` ORDER BY starts_at DESC`)
	rows, err := r.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	return scanAppointments(rows)
}

// ExpireStalePending transitions unpaid holds created at or before
// createdBefore to failed/cancelled in one transaction and returns them in
// their new state.
func (r *AppointmentRepo) ExpireStalePending(ctx context.Context, createdBefore, now time.Time) ([]model.Appointment, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	q := `SELECT ` + appointmentColumns + `
          FROM appointments
          WHERE payment_status = 'pending' AND status = 'scheduled' AND created_at <= ?
          FOR UPDATE`
	rows, err := tx.QueryContext(ctx, q, createdBefore.UTC())
	if err != nil {
		return nil, translate(err)
	}
	stale, err := scanAppointments(rows)
	if err != nil {
		return nil, err
	}
	if len(stale) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(stale))
	args := make([]any, 0, len(stale)+4)
	args = append(args, string(model.CancelledBySystem), now.UTC(), ExpiredHoldReason, now.UTC())
	for i, a := range stale {
		placeholders[i] = "?"
		args = append(args, a.ID)
	}
	upd := `UPDATE appointments
        SET payment_status = 'failed', status = 'cancelled',
            cancelled_by = ?, cancelled_at = ?, cancel_reason = ?, updated_at = ?
        WHERE id IN (` + strings.Join(placeholders, ",") + `)`
	if _, err := tx.ExecContext(ctx, upd, args...); err != nil {
		return nil, translate(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, translate(err)
	}
	committed = true

	by := model.CancelledBySystem
	at := now.UTC()
	reason := ExpiredHoldReason
	for i := range stale {
		stale[i].PaymentStatus = model.PaymentFailed
		stale[i].Status = model.BookingCancelled
		stale[i].CancelledBy = &by
		stale[i].CancelledAt = &at
		stale[i].CancelReason = &reason
	}
	return stale, nil
}

// ExpiredHoldReason is recorded on appointments reaped for non-payment.
const ExpiredHoldReason = "payment window expired"
