package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// InventoryStore keeps per-branch copy counts. Counts only move through
// conditional updates, so the table constraint 0 <= available <= total is
// never the thing that stops a write.
type InventoryStore struct{}

// AvailableAt returns the available copies of bookID at branchID, zero when
// the branch does not stock the book.
func (InventoryStore) AvailableAt(ctx context.Context, q sqlx.QueryerContext, bookID, branchID int64) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, q, &n,
		`SELECT available_copies FROM branch_inventory WHERE book_id=? AND branch_id=?`, bookID, branchID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("available at branch: %w", err)
	}
	return n, nil
}

// TotalAvailable sums available copies of bookID across all branches.
func (InventoryStore) TotalAvailable(ctx context.Context, q sqlx.QueryerContext, bookID int64) (int, error) {
	var n int
	if err := sqlx.GetContext(ctx, q, &n,
		`SELECT COALESCE(SUM(available_copies),0) FROM branch_inventory WHERE book_id=?`, bookID); err != nil {
		return 0, fmt.Errorf("total available: %w", err)
	}
	return n, nil
}

// ByBook lists per-branch counts for bookID ordered by branch name.
func (InventoryStore) ByBook(ctx context.Context, q sqlx.QueryerContext, bookID int64) ([]BranchAvailability, error) {
	rows := []BranchAvailability{}
	err := sqlx.SelectContext(ctx, q, &rows, `
        SELECT br.id AS branch_id, br.name AS branch_name, br.location,
               bi.total_copies, bi.available_copies
        FROM branch_inventory bi
        JOIN branches br ON br.id = bi.branch_id
        WHERE bi.book_id = ?
        ORDER BY br.name`, bookID)
	if err != nil {
		return nil, fmt.Errorf("availability by branch: %w", err)
	}
	return rows, nil
}

// TakeCopy decrements available copies only while some remain. It reports
// false when the decrement matched no row, which a caller that read a
// positive count earlier must treat as "no copies" after a lost race.
func (InventoryStore) TakeCopy(ctx context.Context, e sqlx.ExecerContext, bookID, branchID int64) (bool, error) {
	res, err := e.ExecContext(ctx, `
        UPDATE branch_inventory
        SET available_copies = available_copies - 1
        WHERE book_id=? AND branch_id=? AND available_copies > 0`, bookID, branchID)
	if err != nil {
		return false, fmt.Errorf("take copy: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// PutBackCopy increments available copies, capped at total. It reports
// false when the count was already full.
func (InventoryStore) PutBackCopy(ctx context.Context, e sqlx.ExecerContext, bookID, branchID int64) (bool, error) {
	res, err := e.ExecContext(ctx, `
        UPDATE branch_inventory
        SET available_copies = available_copies + 1
        WHERE book_id=? AND branch_id=? AND available_copies < total_copies`, bookID, branchID)
	if err != nil {
		return false, fmt.Errorf("put back copy: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Stock adds copies of bookID to branchID, raising total and available
// together.
func (InventoryStore) Stock(ctx context.Context, e sqlx.ExecerContext, bookID, branchID int64, copies int) error {
	_, err := e.ExecContext(ctx, `
        INSERT INTO branch_inventory(book_id, branch_id, total_copies, available_copies)
        VALUES(?,?,?,?)
        ON CONFLICT(book_id, branch_id) DO UPDATE SET
            total_copies = total_copies + excluded.total_copies,
            available_copies = available_copies + excluded.available_copies`,
		bookID, branchID, copies, copies)
	if err != nil {
		return fmt.Errorf("stock copies: %w", err)
	}
	return nil
}
