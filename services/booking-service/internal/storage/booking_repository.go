package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/studiobook/libs/db"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/studiobook/services/booking-service/internal/outbox"
)

var ErrNotFound = errors.New("booking not found")

// BookingRepository owns the bookings table. Every write is a conditional
// update keyed by id plus the prior state it expects.
type BookingRepository struct {
	pool   *db.Pool
	outbox *outbox.Repository
	loc    *time.Location
}

func NewBookingRepository(pool *db.Pool, outboxRepo *outbox.Repository, loc *time.Location) *BookingRepository {
	return &BookingRepository{pool: pool, outbox: outboxRepo, loc: loc}
}

const bookingColumns = `
	id::text, booking_date, start_time, duration_hours::float8, customer_name, customer_email, status,
	deposit_paid, COALESCE(deposit_payment_id, ''), COALESCE(deposit_method, ''), deposit_paid_at,
	remaining_paid, COALESCE(remaining_payment_id, ''), COALESCE(remaining_method, ''), remaining_paid_at,
	COALESCE(calendar_event_id, ''), confirmation_sent_at, created_at, updated_at`

func (r *BookingRepository) scan(row pgx.Row) (model.Booking, error) {
	var b model.Booking
	var day time.Time
	var status, depositMethod, remainingMethod string
	err := row.Scan(
		&b.ID, &day, &b.StartTime, &b.DurationHours, &b.CustomerName, &b.CustomerEmail, &status,
		&b.Deposit.Paid, &b.Deposit.PaymentID, &depositMethod, &b.Deposit.PaidAt,
		&b.Remaining.Paid, &b.Remaining.PaymentID, &remainingMethod, &b.Remaining.PaidAt,
		&b.CalendarEventID, &b.ConfirmationSentAt, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Booking{}, ErrNotFound
		}
		return model.Booking{}, err
	}
	// DATE columns come back as UTC midnight; rebuild the day in the studio zone.
	y, m, d := day.Date()
	b.Date = time.Date(y, m, d, 0, 0, 0, 0, r.loc)
	b.Status = model.Status(status)
	b.Deposit.Method = model.Method(depositMethod)
	b.Remaining.Method = model.Method(remainingMethod)
	return b, nil
}

func (r *BookingRepository) Get(ctx context.Context, id string) (model.Booking, error) {
	return r.scan(r.pool.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id))
}

type legColumns struct {
	paid, paymentID, method, paidAt string
}

func columnsFor(leg model.Leg) (legColumns, error) {
	switch leg {
	case model.LegDeposit:
		return legColumns{"deposit_paid", "deposit_payment_id", "deposit_method", "deposit_paid_at"}, nil
	case model.LegRemaining:
		return legColumns{"remaining_paid", "remaining_payment_id", "remaining_method", "remaining_paid_at"}, nil
	}
	return legColumns{}, fmt.Errorf("unknown payment leg %q", leg)
}

// ApplyPayment stores next's leg fields and status only if the row is still in
// prevStatus with the leg unpaid. evt is written to the outbox in the same
// transaction. It returns false when another writer got there first.
func (r *BookingRepository) ApplyPayment(ctx context.Context, next model.Booking, leg model.Leg, prevStatus model.Status, evt outbox.Event) (bool, error) {
	cols, err := columnsFor(leg)
	if err != nil {
		return false, err
	}
	lp := next.LegPayment(leg)

	applied := false
	err = r.pool.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, fmt.Sprintf(`
			UPDATE bookings
			SET status = $2,
			    %[1]s = true,
			    %[2]s = $3,
			    %[3]s = $4,
			    %[4]s = $5,
			    updated_at = now()
			WHERE id = $1 AND status = $6 AND %[1]s = false
		`, cols.paid, cols.paymentID, cols.method, cols.paidAt),
			next.ID, string(next.Status), lp.PaymentID, string(lp.Method), lp.PaidAt, string(prevStatus))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		if err := r.outbox.Insert(ctx, tx, evt); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// Cancel moves the booking to cancelled if it is still in prevStatus.
func (r *BookingRepository) Cancel(ctx context.Context, id string, prevStatus model.Status, evt outbox.Event) (bool, error) {
	applied := false
	err := r.pool.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE bookings
			SET status = 'cancelled', updated_at = now()
			WHERE id = $1 AND status = $2
		`, id, string(prevStatus))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		if err := r.outbox.Insert(ctx, tx, evt); err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}

// ClaimCalendarSync leases the right to create the calendar event. It fails
// when the event already exists or another worker holds a live lease.
func (r *BookingRepository) ClaimCalendarSync(ctx context.Context, id string, lease time.Duration) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE bookings
		SET calendar_claimed_until = now() + make_interval(secs => $2)
		WHERE id = $1
		  AND status = 'confirmed'
		  AND calendar_event_id IS NULL
		  AND (calendar_claimed_until IS NULL OR calendar_claimed_until < now())
	`, id, lease.Seconds())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// SetCalendarEventID records the event id once, and only on a confirmed booking.
// It reports false when the id was not stored.
func (r *BookingRepository) SetCalendarEventID(ctx context.Context, id, eventID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE bookings
		SET calendar_event_id = $2, calendar_claimed_until = NULL, updated_at = now()
		WHERE id = $1 AND status = 'confirmed' AND calendar_event_id IS NULL
	`, id, eventID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *BookingRepository) ReleaseCalendarClaim(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `UPDATE bookings SET calendar_claimed_until = NULL WHERE id = $1`, id)
	return err
}

func (r *BookingRepository) ClaimConfirmation(ctx context.Context, id string, lease time.Duration) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE bookings
		SET confirmation_claimed_until = now() + make_interval(secs => $2)
		WHERE id = $1
		  AND status = 'confirmed'
		  AND confirmation_sent_at IS NULL
		  AND (confirmation_claimed_until IS NULL OR confirmation_claimed_until < now())
	`, id, lease.Seconds())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *BookingRepository) MarkConfirmationSent(ctx context.Context, id string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE bookings
		SET confirmation_sent_at = $2, confirmation_claimed_until = NULL, updated_at = now()
		WHERE id = $1 AND confirmation_sent_at IS NULL
	`, id, at)
	return err
}

func (r *BookingRepository) ReleaseConfirmationClaim(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `UPDATE bookings SET confirmation_claimed_until = NULL WHERE id = $1`, id)
	return err
}

// ListPendingSideEffects returns confirmed bookings still missing their
// calendar event or confirmation email, oldest first.
func (r *BookingRepository) ListPendingSideEffects(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id::text
		FROM bookings
		WHERE status = 'confirmed'
		  AND deposit_paid
		  AND (calendar_event_id IS NULL OR confirmation_sent_at IS NULL)
		ORDER BY updated_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
