package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// MemberStore persists members, their validity window and unpaid balance.
type MemberStore struct{}

const memberColumns = `id, member_type, full_name, email, phone, membership_start, membership_end, unpaid_balance`

// Create inserts a member with the given window and a zero balance.
func (MemberStore) Create(ctx context.Context, e sqlx.ExecerContext, role Role, name, email string, phone *string, start, end Date) (int64, error) {
	res, err := e.ExecContext(ctx, `
        INSERT INTO members(member_type, full_name, email, phone, membership_start, membership_end)
        VALUES(?,?,?,?,?,?)`, role, name, email, phone, start, end)
	if err != nil {
		return 0, fmt.Errorf("create member: %w", err)
	}
	return res.LastInsertId()
}

// Find returns the member or a NotFound error.
func (MemberStore) Find(ctx context.Context, q sqlx.QueryerContext, id int64) (*Member, error) {
	var m Member
	err := sqlx.GetContext(ctx, q, &m, `SELECT `+memberColumns+` FROM members WHERE id=?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("member %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("find member: %w", err)
	}
	return &m, nil
}

// SetMembershipEnd moves the end of the validity window.
func (MemberStore) SetMembershipEnd(ctx context.Context, e sqlx.ExecerContext, id int64, end Date) error {
	if _, err := e.ExecContext(ctx, `UPDATE members SET membership_end=? WHERE id=?`, end, id); err != nil {
		return fmt.Errorf("renew membership: %w", err)
	}
	return nil
}

// UpdateContact replaces email and phone.
func (MemberStore) UpdateContact(ctx context.Context, e sqlx.ExecerContext, id int64, email string, phone *string) error {
	res, err := e.ExecContext(ctx, `UPDATE members SET email=?, phone=? WHERE id=?`, email, phone, id)
	if err != nil {
		return fmt.Errorf("update contact: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return notFound("member %d not found", id)
	}
	return nil
}

// SetBalance stores a new unpaid balance. Callers compute it inside the same
// transaction that read the old one.
func (MemberStore) SetBalance(ctx context.Context, e sqlx.ExecerContext, id int64, balance decimal.Decimal) error {
	if balance.IsNegative() {
		balance = decimal.Zero
	}
	if _, err := e.ExecContext(ctx, `UPDATE members SET unpaid_balance=? WHERE id=?`, moneyText(balance), id); err != nil {
		return fmt.Errorf("set balance: %w", err)
	}
	return nil
}

// AddBalance adds amount to the member's unpaid balance.
func (s MemberStore) AddBalance(ctx context.Context, tx *sqlx.Tx, id int64, amount decimal.Decimal) (decimal.Decimal, error) {
	m, err := s.Find(ctx, tx, id)
	if err != nil {
		return decimal.Zero, err
	}
	balance := roundMoney(m.UnpaidBalance.Add(amount))
	return balance, s.SetBalance(ctx, tx, id, balance)
}

// SubtractBalance reduces the unpaid balance by amount, floored at zero.
func (s MemberStore) SubtractBalance(ctx context.Context, tx *sqlx.Tx, id int64, amount decimal.Decimal) (decimal.Decimal, error) {
	m, err := s.Find(ctx, tx, id)
	if err != nil {
		return decimal.Zero, err
	}
	balance := roundMoney(decimal.Max(m.UnpaidBalance.Sub(amount), decimal.Zero))
	return balance, s.SetBalance(ctx, tx, id, balance)
}
