package library

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// HoldWindow is how long a Ready reservation waits for its member.
const HoldWindow = 48 * time.Hour

// maxUnpaidBalance is the highest balance that still allows borrowing.
var maxUnpaidBalance = decimal.RequireFromString("10.00")

// Circulation applies the borrowing rules. Every operation takes the current
// moment explicitly and runs as one transaction: the reads that decide and
// the writes that record the decision commit or roll back together.
type Circulation struct {
	db           *Database
	inventory    InventoryStore
	members      MemberStore
	ledger       Ledger
	reservations ReservationQueue
	payments     PaymentStore
}

// NewCirculation returns a rules engine over db.
func NewCirculation(db *Database) *Circulation {
	return &Circulation{db: db}
}

// BorrowReceipt is the result of a successful borrow.
type BorrowReceipt struct {
	BorrowID             int64 `json:"borrow_id"`
	DueDate              Date  `json:"due_date"`
	FulfilledReservation int64 `json:"fulfilled_reservation_id,omitempty"`
}

// RenewalReceipt is the result of a successful renewal.
type RenewalReceipt struct {
	BorrowID   int64 `json:"borrow_id"`
	NewDueDate Date  `json:"new_due_date"`
}

// ReturnReceipt is the result of a return. AlreadyReturned marks the
// idempotent no-op case.
type ReturnReceipt struct {
	BorrowID        int64           `json:"borrow_id"`
	LateDays        int             `json:"late_days"`
	LateFee         decimal.Decimal `json:"late_fee"`
	AlreadyReturned bool            `json:"already_returned"`
	Notification    *Notification   `json:"notification,omitempty"`
}

// PaymentReceipt is the result of a fine payment.
type PaymentReceipt struct {
	Payment Payment         `json:"payment"`
	Balance decimal.Decimal `json:"balance"`
}

// ExpireHolds runs the reservation expiry sweep as of now.
func (c *Circulation) ExpireHolds(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := c.db.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		n, err = c.reservations.ExpireReady(ctx, tx, now)
		return err
	})
	return n, asResult("expire holds", err)
}

// Borrow lends one copy of bookID at branchID to memberID. The expiry sweep
// always runs first, in its own transaction. The rule checks then run in
// order, first failure wins, inside the transaction that records the loan.
func (c *Circulation) Borrow(ctx context.Context, now time.Time, memberID, bookID, branchID int64) (BorrowReceipt, error) {
	if _, err := c.ExpireHolds(ctx, now); err != nil {
		return BorrowReceipt{}, err
	}

	today := DateOf(now)
	var receipt BorrowReceipt
	err := c.db.withTx(ctx, func(tx *sqlx.Tx) error {
		member, priv, err := c.validMember(ctx, tx, memberID, today)
		if err != nil {
			return err
		}
		if member.UnpaidBalance.GreaterThan(maxUnpaidBalance) {
			return invalidState(reasonBalanceOverLimit)
		}
		overdue, err := c.ledger.HasOverdue(ctx, tx, memberID, today)
		if err != nil {
			return err
		}
		if overdue {
			return invalidState(reasonHasOverdue)
		}
		open, err := c.ledger.CountOpen(ctx, tx, memberID)
		if err != nil {
			return err
		}
		if open >= priv.BorrowLimit {
			return invalidState(reasonBorrowLimit)
		}

		book, err := findBook(ctx, tx, bookID)
		if err != nil {
			return err
		}
		if book.Status != BookActive {
			return invalidState(reasonBookWithdrawn)
		}
		head, err := c.reservations.Head(ctx, tx, bookID)
		if err != nil {
			return err
		}
		if head != nil && head.MemberID != memberID {
			return invalidState(reasonReservedForOther)
		}
		available, err := c.inventory.AvailableAt(ctx, tx, bookID, branchID)
		if err != nil {
			return err
		}
		if available < 1 {
			return invalidState(reasonNoCopies)
		}

		due := today.AddDays(priv.LoanDays)
		borrowID, err := c.ledger.Open(ctx, tx, memberID, bookID, branchID, today, due)
		if err != nil {
			return err
		}
		taken, err := c.inventory.TakeCopy(ctx, tx, bookID, branchID)
		if err != nil {
			return err
		}
		if !taken {
			return invalidState(reasonNoCopies)
		}
		receipt = BorrowReceipt{BorrowID: borrowID, DueDate: due}

		if head != nil {
			ok, err := c.reservations.MarkFulfilled(ctx, tx, head.ID)
			if err != nil {
				return err
			}
			if ok {
				receipt.FulfilledReservation = head.ID
			}
		}
		return nil
	})
	if err != nil {
		return BorrowReceipt{}, asResult("borrow", err)
	}
	return receipt, nil
}

// Renew extends the member's most recent open loan of bookID once, by the
// role's loan period counted from the current due date.
func (c *Circulation) Renew(ctx context.Context, now time.Time, memberID, bookID int64) (RenewalReceipt, error) {
	today := DateOf(now)
	var receipt RenewalReceipt
	err := c.db.withTx(ctx, func(tx *sqlx.Tx) error {
		member, err := c.members.Find(ctx, tx, memberID)
		if err != nil {
			return err
		}
		priv, err := privilegesOf(member)
		if err != nil {
			return err
		}
		record, err := c.ledger.LatestOpen(ctx, tx, memberID, bookID)
		if err != nil {
			return err
		}
		if record.Renewals >= 1 {
			return invalidState(reasonRenewalUsed)
		}
		if today.After(record.DueDate) {
			return invalidState(reasonRenewOverdue)
		}
		reserved, err := c.reservations.OtherMemberActive(ctx, tx, bookID, memberID)
		if err != nil {
			return err
		}
		if reserved {
			return invalidState(reasonRenewReserved)
		}

		newDue := record.DueDate.AddDays(priv.LoanDays)
		ok, err := c.ledger.Renew(ctx, tx, record.ID, newDue)
		if err != nil {
			return err
		}
		if !ok {
			return invalidState(reasonRenewalUsed)
		}
		receipt = RenewalReceipt{BorrowID: record.ID, NewDueDate: newDue}
		return nil
	})
	if err != nil {
		return RenewalReceipt{}, asResult("renew", err)
	}
	return receipt, nil
}

// Return closes a loan, charges any late fee and hands the freed copy to the
// head of the book's queue when that entry is still Waiting. Returning a
// closed loan succeeds without changing anything.
func (c *Circulation) Return(ctx context.Context, now time.Time, borrowID int64) (ReturnReceipt, error) {
	today := DateOf(now)
	receipt := ReturnReceipt{BorrowID: borrowID, LateFee: decimal.Zero}
	err := c.db.withTx(ctx, func(tx *sqlx.Tx) error {
		record, err := c.ledger.Find(ctx, tx, borrowID)
		if err != nil {
			return err
		}
		if !record.Open() {
			receipt.AlreadyReturned = true
			return nil
		}
		member, err := c.members.Find(ctx, tx, record.MemberID)
		if err != nil {
			return err
		}
		priv, err := privilegesOf(member)
		if err != nil {
			return err
		}

		lateDays := today.DaysSince(record.DueDate)
		lateFee := roundMoney(priv.LateFeePerDay.Mul(decimal.NewFromInt(int64(lateDays))))

		closed, err := c.ledger.Close(ctx, tx, record.ID, today, lateFee)
		if err != nil {
			return err
		}
		if !closed {
			receipt.AlreadyReturned = true
			return nil
		}
		if _, err := c.inventory.PutBackCopy(ctx, tx, record.BookID, record.BranchID); err != nil {
			return err
		}
		if lateFee.IsPositive() {
			if _, err := c.members.AddBalance(ctx, tx, member.ID, lateFee); err != nil {
				return err
			}
		}
		receipt.LateDays = lateDays
		receipt.LateFee = lateFee

		head, err := c.reservations.Head(ctx, tx, record.BookID)
		if err != nil {
			return err
		}
		if head == nil || head.Status != ReservationWaiting {
			return nil
		}
		readyUntil := now.Add(HoldWindow)
		promoted, err := c.reservations.MarkReady(ctx, tx, head.ID, now, readyUntil)
		if err != nil {
			return err
		}
		if promoted {
			receipt.Notification = &Notification{
				ReservationID: head.ID,
				MemberID:      head.MemberID,
				BookID:        head.BookID,
				ReadyUntil:    readyUntil.UTC(),
				Message: fmt.Sprintf("book %d is ready for member %d until %s",
					head.BookID, head.MemberID, readyUntil.Format(time.RFC3339)),
			}
		}
		return nil
	})
	if err != nil {
		return ReturnReceipt{}, asResult("return", err)
	}
	return receipt, nil
}

// Reserve queues memberID for bookID. Reservations are only taken while no
// branch has a copy available.
func (c *Circulation) Reserve(ctx context.Context, now time.Time, memberID, bookID int64) (int64, error) {
	today := DateOf(now)
	var id int64
	err := c.db.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, _, err := c.validMember(ctx, tx, memberID, today); err != nil {
			return err
		}
		book, err := findBook(ctx, tx, bookID)
		if err != nil {
			return err
		}
		if book.Status != BookActive {
			return invalidState(reasonBookWithdrawn)
		}
		available, err := c.inventory.TotalAvailable(ctx, tx, bookID)
		if err != nil {
			return err
		}
		if available > 0 {
			return invalidState(reasonBookAvailable)
		}
		dup, err := c.reservations.HasActive(ctx, tx, memberID, bookID)
		if err != nil {
			return err
		}
		if dup {
			return invalidState(reasonAlreadyReserved)
		}
		holding, err := c.ledger.HasOpenLoanOf(ctx, tx, memberID, bookID)
		if err != nil {
			return err
		}
		if holding {
			return invalidState(reasonAlreadyBorrowed)
		}

		id, err = c.reservations.Enqueue(ctx, tx, memberID, bookID, now)
		return err
	})
	if err != nil {
		return 0, asResult("reserve", err)
	}
	return id, nil
}

// PayFine records a payment and lowers the member's balance, never below
// zero.
func (c *Circulation) PayFine(ctx context.Context, now time.Time, memberID int64, amount decimal.Decimal, note *string) (PaymentReceipt, error) {
	amount = roundMoney(amount)
	if !amount.IsPositive() {
		return PaymentReceipt{}, invalidInput(reasonNonPositivePayment)
	}
	var receipt PaymentReceipt
	err := c.db.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := c.members.Find(ctx, tx, memberID); err != nil {
			return err
		}
		payment, err := c.payments.Record(ctx, tx, memberID, amount, note, now)
		if err != nil {
			return err
		}
		balance, err := c.members.SubtractBalance(ctx, tx, memberID, amount)
		if err != nil {
			return err
		}
		receipt = PaymentReceipt{Payment: payment, Balance: balance}
		return nil
	})
	if err != nil {
		return PaymentReceipt{}, asResult("pay fine", err)
	}
	return receipt, nil
}

// validMember loads the member and checks the membership covers today.
func (c *Circulation) validMember(ctx context.Context, q sqlx.QueryerContext, memberID int64, today Date) (*Member, Privileges, error) {
	member, err := c.members.Find(ctx, q, memberID)
	if err != nil {
		return nil, Privileges{}, err
	}
	if !member.ValidOn(today) {
		return nil, Privileges{}, invalidState(reasonMembershipExpired)
	}
	priv, err := privilegesOf(member)
	if err != nil {
		return nil, Privileges{}, err
	}
	return member, priv, nil
}

func privilegesOf(m *Member) (Privileges, error) {
	priv, ok := m.Role.Privileges()
	if !ok {
		return Privileges{}, fmt.Errorf("member %d has unknown role %q", m.ID, m.Role)
	}
	return priv, nil
}
