package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// ReservationQueue is the per-book FIFO of holds. Order is reserved_at, then
// insertion id. Every transition is a conditional update on the source
// state, so Fulfilled and Expired entries never change again.
type ReservationQueue struct{}

// reservationRow mirrors the table; timestamps are stored as unix nanos.
type reservationRow struct {
	ID         int64             `db:"id"`
	MemberID   int64             `db:"member_id"`
	BookID     int64             `db:"book_id"`
	Status     ReservationStatus `db:"status"`
	ReservedAt int64             `db:"reserved_at"`
	ReadyUntil *int64            `db:"ready_until"`
	NotifiedAt *int64            `db:"notified_at"`
}

func (r reservationRow) toReservation() Reservation {
	return Reservation{
		ID:         r.ID,
		MemberID:   r.MemberID,
		BookID:     r.BookID,
		Status:     r.Status,
		ReservedAt: fromUnixNano(r.ReservedAt),
		ReadyUntil: fromNullUnixNano(r.ReadyUntil),
		NotifiedAt: fromNullUnixNano(r.NotifiedAt),
	}
}

const reservationColumns = `id, member_id, book_id, status, reserved_at, ready_until, notified_at`

// Enqueue appends a Waiting entry for the member.
func (ReservationQueue) Enqueue(ctx context.Context, e sqlx.ExecerContext, memberID, bookID int64, at time.Time) (int64, error) {
	res, err := e.ExecContext(ctx, `
        INSERT INTO reservations(member_id, book_id, status, reserved_at)
        VALUES(?,?,?,?)`, memberID, bookID, ReservationWaiting, unixNano(at))
	if err != nil {
		return 0, fmt.Errorf("create reservation: %w", err)
	}
	return res.LastInsertId()
}

// Find returns a reservation or a NotFound error.
func (ReservationQueue) Find(ctx context.Context, q sqlx.QueryerContext, id int64) (*Reservation, error) {
	var row reservationRow
	err := sqlx.GetContext(ctx, q, &row, `SELECT `+reservationColumns+` FROM reservations WHERE id=?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("reservation %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("find reservation: %w", err)
	}
	r := row.toReservation()
	return &r, nil
}

// Head returns the first active (Waiting or Ready) entry for bookID, or nil
// when the queue is empty.
func (ReservationQueue) Head(ctx context.Context, q sqlx.QueryerContext, bookID int64) (*Reservation, error) {
	var row reservationRow
	err := sqlx.GetContext(ctx, q, &row, `
        SELECT `+reservationColumns+` FROM reservations
        WHERE book_id=? AND status IN ('WAITING','READY')
        ORDER BY reserved_at ASC, id ASC
        LIMIT 1`, bookID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("first in queue: %w", err)
	}
	r := row.toReservation()
	return &r, nil
}

// Queue lists active entries for bookID in queue order.
func (ReservationQueue) Queue(ctx context.Context, q sqlx.QueryerContext, bookID int64) ([]Reservation, error) {
	return selectReservations(ctx, q, `
        SELECT `+reservationColumns+` FROM reservations
        WHERE book_id=? AND status IN ('WAITING','READY')
        ORDER BY reserved_at ASC, id ASC`, bookID)
}

// ByMember lists the member's active entries, oldest first.
func (ReservationQueue) ByMember(ctx context.Context, q sqlx.QueryerContext, memberID int64) ([]Reservation, error) {
	return selectReservations(ctx, q, `
        SELECT `+reservationColumns+` FROM reservations
        WHERE member_id=? AND status IN ('WAITING','READY')
        ORDER BY reserved_at ASC, id ASC`, memberID)
}

func selectReservations(ctx context.Context, q sqlx.QueryerContext, query string, arg int64) ([]Reservation, error) {
	var rows []reservationRow
	if err := sqlx.SelectContext(ctx, q, &rows, query, arg); err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	out := make([]Reservation, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toReservation())
	}
	return out, nil
}

// HasActive reports whether the member already holds a Waiting or Ready
// entry for bookID.
func (ReservationQueue) HasActive(ctx context.Context, q sqlx.QueryerContext, memberID, bookID int64) (bool, error) {
	var exists bool
	if err := sqlx.GetContext(ctx, q, &exists, `
        SELECT EXISTS(SELECT 1 FROM reservations
        WHERE book_id=? AND member_id=? AND status IN ('WAITING','READY'))`, bookID, memberID); err != nil {
		return false, fmt.Errorf("check reservation: %w", err)
	}
	return exists, nil
}

// OtherMemberActive reports whether anyone but memberID holds a Waiting or
// Ready entry for bookID.
func (ReservationQueue) OtherMemberActive(ctx context.Context, q sqlx.QueryerContext, bookID, memberID int64) (bool, error) {
	var exists bool
	if err := sqlx.GetContext(ctx, q, &exists, `
        SELECT EXISTS(SELECT 1 FROM reservations
        WHERE book_id=? AND member_id<>? AND status IN ('WAITING','READY'))`, bookID, memberID); err != nil {
		return false, fmt.Errorf("check other reservations: %w", err)
	}
	return exists, nil
}

// MarkReady promotes a Waiting entry and opens its hold window.
func (ReservationQueue) MarkReady(ctx context.Context, e sqlx.ExecerContext, id int64, now, readyUntil time.Time) (bool, error) {
	return transition(ctx, e, `
        UPDATE reservations SET status='READY', notified_at=?, ready_until=?
        WHERE id=? AND status='WAITING'`, unixNano(now), unixNano(readyUntil), id)
}

// MarkFulfilled closes an active entry after its member borrowed the book.
func (ReservationQueue) MarkFulfilled(ctx context.Context, e sqlx.ExecerContext, id int64) (bool, error) {
	return transition(ctx, e, `
        UPDATE reservations SET status='FULFILLED'
        WHERE id=? AND status IN ('WAITING','READY')`, id)
}

// ExpireReady moves every Ready entry whose hold ended before now to Expired
// and returns how many changed.
func (ReservationQueue) ExpireReady(ctx context.Context, e sqlx.ExecerContext, now time.Time) (int64, error) {
	res, err := e.ExecContext(ctx, `
        UPDATE reservations SET status='EXPIRED'
        WHERE status='READY' AND ready_until IS NOT NULL AND ready_until < ?`, unixNano(now))
	if err != nil {
		return 0, fmt.Errorf("expire ready reservations: %w", err)
	}
	return res.RowsAffected()
}

func transition(ctx context.Context, e sqlx.ExecerContext, query string, args ...any) (bool, error) {
	res, err := e.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("reservation transition: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
