package library

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// PaymentStore is the append-only payment journal. The schema rejects
// updates and deletes.
type PaymentStore struct{}

type paymentRow struct {
	ID        int64           `db:"id"`
	Reference string          `db:"reference"`
	MemberID  int64           `db:"member_id"`
	Amount    decimal.Decimal `db:"amount"`
	Note      *string         `db:"note"`
	PaidAt    int64           `db:"paid_at"`
}

// Record appends a payment with a fresh receipt reference.
func (PaymentStore) Record(ctx context.Context, e sqlx.ExecerContext, memberID int64, amount decimal.Decimal, note *string, at time.Time) (Payment, error) {
	p := Payment{
		Reference: uuid.NewString(),
		MemberID:  memberID,
		Amount:    roundMoney(amount),
		Note:      note,
		PaidAt:    at.UTC(),
	}
	res, err := e.ExecContext(ctx, `
        INSERT INTO payments(reference, member_id, amount, note, paid_at)
        VALUES(?,?,?,?,?)`, p.Reference, memberID, moneyText(amount), note, unixNano(at))
	if err != nil {
		return Payment{}, fmt.Errorf("record payment: %w", err)
	}
	if p.ID, err = res.LastInsertId(); err != nil {
		return Payment{}, err
	}
	return p, nil
}

// ByMember lists the member's payments, oldest first.
func (PaymentStore) ByMember(ctx context.Context, q sqlx.QueryerContext, memberID int64) ([]Payment, error) {
	var rows []paymentRow
	if err := sqlx.SelectContext(ctx, q, &rows, `
        SELECT id, reference, member_id, amount, note, paid_at
        FROM payments WHERE member_id=? ORDER BY id`, memberID); err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	out := make([]Payment, 0, len(rows))
	for _, r := range rows {
		out = append(out, Payment{
			ID:        r.ID,
			Reference: r.Reference,
			MemberID:  r.MemberID,
			Amount:    r.Amount,
			Note:      r.Note,
			PaidAt:    fromUnixNano(r.PaidAt),
		})
	}
	return out, nil
}
