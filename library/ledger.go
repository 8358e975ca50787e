package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// Ledger persists borrow records. A record with a return date is closed and
// the schema refuses further updates to it.
type Ledger struct{}

const borrowColumns = `id, member_id, book_id, branch_id, borrow_date, due_date, return_date, renewals_count, late_fee`

// Open inserts a new open loan.
func (Ledger) Open(ctx context.Context, e sqlx.ExecerContext, memberID, bookID, branchID int64, borrowed, due Date) (int64, error) {
	res, err := e.ExecContext(ctx, `
        INSERT INTO borrow_records(member_id, book_id, branch_id, borrow_date, due_date)
        VALUES(?,?,?,?,?)`, memberID, bookID, branchID, borrowed, due)
	if err != nil {
		return 0, fmt.Errorf("create borrow: %w", err)
	}
	return res.LastInsertId()
}

// Find returns a borrow record or a NotFound error.
func (Ledger) Find(ctx context.Context, q sqlx.QueryerContext, id int64) (*BorrowRecord, error) {
	var r BorrowRecord
	err := sqlx.GetContext(ctx, q, &r, `SELECT `+borrowColumns+` FROM borrow_records WHERE id=?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("borrow record %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("find borrow: %w", err)
	}
	return &r, nil
}

// LatestOpen returns the member's most recent open borrow of bookID.
func (Ledger) LatestOpen(ctx context.Context, q sqlx.QueryerContext, memberID, bookID int64) (*BorrowRecord, error) {
	var r BorrowRecord
	err := sqlx.GetContext(ctx, q, &r, `
        SELECT `+borrowColumns+` FROM borrow_records
        WHERE member_id=? AND book_id=? AND return_date IS NULL
        ORDER BY id DESC LIMIT 1`, memberID, bookID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("no active borrow of book %d for member %d", bookID, memberID)
	}
	if err != nil {
		return nil, fmt.Errorf("find open borrow: %w", err)
	}
	return &r, nil
}

// CountOpen counts the member's loans that are still out.
func (Ledger) CountOpen(ctx context.Context, q sqlx.QueryerContext, memberID int64) (int, error) {
	var n int
	if err := sqlx.GetContext(ctx, q, &n,
		`SELECT COUNT(*) FROM borrow_records WHERE member_id=? AND return_date IS NULL`, memberID); err != nil {
		return 0, fmt.Errorf("count open borrows: %w", err)
	}
	return n, nil
}

// HasOverdue reports whether any open loan of the member was due before today.
func (Ledger) HasOverdue(ctx context.Context, q sqlx.QueryerContext, memberID int64, today Date) (bool, error) {
	var exists bool
	if err := sqlx.GetContext(ctx, q, &exists, `
        SELECT EXISTS(SELECT 1 FROM borrow_records
        WHERE member_id=? AND return_date IS NULL AND due_date < ?)`, memberID, today); err != nil {
		return false, fmt.Errorf("check overdue: %w", err)
	}
	return exists, nil
}

// HasOpenLoanOf reports whether the member currently holds a copy of bookID.
func (Ledger) HasOpenLoanOf(ctx context.Context, q sqlx.QueryerContext, memberID, bookID int64) (bool, error) {
	var exists bool
	if err := sqlx.GetContext(ctx, q, &exists, `
        SELECT EXISTS(SELECT 1 FROM borrow_records
        WHERE member_id=? AND book_id=? AND return_date IS NULL)`, memberID, bookID); err != nil {
		return false, fmt.Errorf("check open loan: %w", err)
	}
	return exists, nil
}

// Renew moves the due date of an open, never-renewed loan. It reports false
// when the record was not in that state.
func (Ledger) Renew(ctx context.Context, e sqlx.ExecerContext, id int64, newDue Date) (bool, error) {
	res, err := e.ExecContext(ctx, `
        UPDATE borrow_records
        SET due_date=?, renewals_count = renewals_count + 1
        WHERE id=? AND return_date IS NULL AND renewals_count = 0`, newDue, id)
	if err != nil {
		return false, fmt.Errorf("renew borrow: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Close sets the return date and late fee of an open loan. It reports false
// when the loan was already closed.
func (Ledger) Close(ctx context.Context, e sqlx.ExecerContext, id int64, returned Date, lateFee decimal.Decimal) (bool, error) {
	res, err := e.ExecContext(ctx, `
        UPDATE borrow_records SET return_date=?, late_fee=?
        WHERE id=? AND return_date IS NULL`, returned, moneyText(lateFee), id)
	if err != nil {
		return false, fmt.Errorf("close borrow: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// History lists every loan of the member, newest first.
func (Ledger) History(ctx context.Context, q sqlx.QueryerContext, memberID int64) ([]HistoryEntry, error) {
	rows := []HistoryEntry{}
	err := sqlx.SelectContext(ctx, q, &rows, `
        SELECT br.id, br.member_id, br.book_id, br.branch_id, br.borrow_date, br.due_date,
               br.return_date, br.renewals_count, br.late_fee, b.title, b.isbn
        FROM borrow_records br
        JOIN books b ON b.id = br.book_id
        WHERE br.member_id = ?
        ORDER BY br.id DESC`, memberID)
	if err != nil {
		return nil, fmt.Errorf("borrow history: %w", err)
	}
	return rows, nil
}

// OverdueByBranch lists open loans at branchID that were due before today,
// oldest due date first.
func (Ledger) OverdueByBranch(ctx context.Context, q sqlx.QueryerContext, branchID int64, today Date) ([]OverdueLoan, error) {
	query, args, err := goqu.Dialect("sqlite3").
		From(goqu.T("borrow_records").As("br")).
		Join(goqu.T("members").As("m"), goqu.On(goqu.I("m.id").Eq(goqu.I("br.member_id")))).
		Join(goqu.T("books").As("b"), goqu.On(goqu.I("b.id").Eq(goqu.I("br.book_id")))).
		Select(
			goqu.I("br.id"), goqu.I("br.member_id"), goqu.I("m.full_name"),
			goqu.I("b.title"), goqu.I("br.borrow_date"), goqu.I("br.due_date"),
		).
		Where(
			goqu.I("br.branch_id").Eq(branchID),
			goqu.I("br.return_date").IsNull(),
			goqu.I("br.due_date").Lt(today.String()),
		).
		Order(goqu.I("br.due_date").Asc(), goqu.I("br.id").Asc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build overdue query: %w", err)
	}

	rows := []OverdueLoan{}
	if err := sqlx.SelectContext(ctx, q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("overdue by branch: %w", err)
	}
	return rows, nil
}

// TopBorrowed returns the most borrowed titles with a borrow date in
// [from, to], at most limit rows.
func (Ledger) TopBorrowed(ctx context.Context, q sqlx.QueryerContext, from, to Date, limit int) ([]TopBook, error) {
	rows := []TopBook{}
	err := sqlx.SelectContext(ctx, q, &rows, `
        SELECT b.title, b.isbn, COUNT(*) AS borrow_count
        FROM borrow_records br
        JOIN books b ON b.id = br.book_id
        WHERE br.borrow_date BETWEEN ? AND ?
        GROUP BY b.id
        ORDER BY borrow_count DESC, b.title ASC
        LIMIT ?`, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("top borrowed: %w", err)
	}
	return rows, nil
}
