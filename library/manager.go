package library

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// LibraryManager is the entry point for callers. It owns the clock, checks
// input and logs outcomes. Rules live in Circulation.
type LibraryManager struct {
	db       *Database
	catalog  *Catalog
	circ     *Circulation
	members  MemberStore
	ledger   Ledger
	queue    ReservationQueue
	payments PaymentStore

	log         *zap.Logger
	now         func() time.Time
	validate    *validator.Validate
	busyTimeout time.Duration
}

// Option customises a LibraryManager.
type Option func(*LibraryManager)

// WithLogger sets the structured logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(lm *LibraryManager) { lm.log = l }
}

// WithClock replaces time.Now as the source of "now" and "today".
func WithClock(now func() time.Time) Option {
	return func(lm *LibraryManager) { lm.now = now }
}

// WithBusyTimeout sets how long a transaction waits for the write lock.
func WithBusyTimeout(d time.Duration) Option {
	return func(lm *LibraryManager) { lm.busyTimeout = d }
}

// NewLibraryManager opens (or creates) the SQLite database at dbPath.
func NewLibraryManager(dbPath string, opts ...Option) (*LibraryManager, error) {
	lm := &LibraryManager{
		log:      zap.NewNop(),
		now:      time.Now,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, opt := range opts {
		opt(lm)
	}

	db, err := NewDatabase(dbPath, lm.busyTimeout)
	if err != nil {
		return nil, err
	}
	lm.db = db
	lm.catalog = &Catalog{db: db}
	lm.circ = NewCirculation(db)
	return lm, nil
}

// Close closes the underlying database.
func (lm *LibraryManager) Close() error { return lm.db.Close() }

// ------------------ Catalog ------------------

func (lm *LibraryManager) AddBranch(ctx context.Context, name, location string) (int64, error) {
	if strings.TrimSpace(name) == "" {
		return 0, invalidInput("branch name is required")
	}
	id, err := lm.catalog.AddBranch(ctx, strings.TrimSpace(name), strings.TrimSpace(location))
	err = duplicate(err, "branch name already exists")
	return id, lm.outcome("add branch", asResult("add branch", err), zap.String("branch", name))
}

func (lm *LibraryManager) AddBook(ctx context.Context, nb NewBook) (int64, error) {
	if err := lm.validate.Struct(nb); err != nil {
		return 0, lm.outcome("add book", invalidInput(err.Error()), zap.String("isbn", nb.ISBN))
	}
	id, err := lm.catalog.AddBook(ctx, nb)
	err = duplicate(err, "isbn already catalogued")
	return id, lm.outcome("add book", asResult("add book", err), zap.String("isbn", nb.ISBN))
}

func (lm *LibraryManager) StockCopies(ctx context.Context, bookID, branchID int64, copies int) error {
	err := asResult("stock copies", lm.catalog.StockCopies(ctx, bookID, branchID, copies))
	return lm.outcome("stock copies", err,
		zap.Int64("book_id", bookID), zap.Int64("branch_id", branchID), zap.Int("copies", copies))
}

// WithdrawBook takes a title out of circulation. Open loans can still be
// returned; new borrows and reservations are refused.
func (lm *LibraryManager) WithdrawBook(ctx context.Context, bookID int64) error {
	err := asResult("withdraw book", lm.catalog.SetBookStatus(ctx, bookID, BookWithdrawn))
	return lm.outcome("withdraw book", err, zap.Int64("book_id", bookID))
}

// ReinstateBook returns a withdrawn title to circulation.
func (lm *LibraryManager) ReinstateBook(ctx context.Context, bookID int64) error {
	err := asResult("reinstate book", lm.catalog.SetBookStatus(ctx, bookID, BookActive))
	return lm.outcome("reinstate book", err, zap.Int64("book_id", bookID))
}

func (lm *LibraryManager) Branches(ctx context.Context) ([]Branch, error) {
	branches, err := lm.catalog.Branches(ctx)
	return branches, asResult("list branches", err)
}

func (lm *LibraryManager) GetBook(ctx context.Context, id int64) (*Book, error) {
	b, err := lm.catalog.GetBook(ctx, id)
	return b, asResult("get book", err)
}

func (lm *LibraryManager) SearchBooks(ctx context.Context, f BookFilter) ([]Book, error) {
	books, err := lm.catalog.SearchBooks(ctx, f)
	return books, asResult("search books", err)
}

func (lm *LibraryManager) Availability(ctx context.Context, bookID int64) ([]BranchAvailability, error) {
	rows, err := lm.catalog.Availability(ctx, bookID)
	return rows, asResult("availability", err)
}

// ------------------ Members ------------------

// Registration is the input for a new member.
type Registration struct {
	Name  string `validate:"required"`
	Email string `validate:"required,email"`
	Phone string `validate:"omitempty,max=32"`
}

func (lm *LibraryManager) RegisterStudent(ctx context.Context, r Registration) (int64, error) {
	return lm.register(ctx, RoleStudent, r)
}

func (lm *LibraryManager) RegisterFaculty(ctx context.Context, r Registration) (int64, error) {
	return lm.register(ctx, RoleFaculty, r)
}

func (lm *LibraryManager) register(ctx context.Context, role Role, r Registration) (int64, error) {
	r.Name, r.Email, r.Phone = strings.TrimSpace(r.Name), strings.TrimSpace(r.Email), strings.TrimSpace(r.Phone)
	if err := lm.validate.Struct(r); err != nil {
		return 0, lm.outcome("register member", invalidInput(err.Error()), zap.String("role", string(role)))
	}
	priv, _ := role.Privileges()
	start := DateOf(lm.now())
	id, err := lm.members.Create(ctx, lm.db.db, role, r.Name, r.Email, optional(r.Phone), start, start.AddDays(priv.MembershipDays))
	err = duplicate(err, "email already registered")
	return id, lm.outcome("register member", asResult("register member", err),
		zap.String("role", string(role)), zap.Int64("member_id", id))
}

func (lm *LibraryManager) GetMember(ctx context.Context, id int64) (*Member, error) {
	m, err := lm.members.Find(ctx, lm.db.db, id)
	return m, asResult("get member", err)
}

// RenewMembership restarts the member's window from today.
func (lm *LibraryManager) RenewMembership(ctx context.Context, memberID int64) (Date, error) {
	m, err := lm.members.Find(ctx, lm.db.db, memberID)
	if err != nil {
		return Date{}, lm.outcome("renew membership", asResult("renew membership", err), zap.Int64("member_id", memberID))
	}
	priv, err := privilegesOf(m)
	if err != nil {
		return Date{}, lm.outcome("renew membership", asResult("renew membership", err), zap.Int64("member_id", memberID))
	}
	newEnd := DateOf(lm.now()).AddDays(priv.MembershipDays)
	err = asResult("renew membership", lm.members.SetMembershipEnd(ctx, lm.db.db, memberID, newEnd))
	return newEnd, lm.outcome("renew membership", err, zap.Int64("member_id", memberID), zap.Stringer("new_end", newEnd))
}

// Contact is the input for a contact update.
type Contact struct {
	Email string `validate:"required,email"`
	Phone string `validate:"omitempty,max=32"`
}

func (lm *LibraryManager) UpdateContact(ctx context.Context, memberID int64, c Contact) error {
	c.Email, c.Phone = strings.TrimSpace(c.Email), strings.TrimSpace(c.Phone)
	if err := lm.validate.Struct(c); err != nil {
		return lm.outcome("update contact", invalidInput(err.Error()), zap.Int64("member_id", memberID))
	}
	err := lm.members.UpdateContact(ctx, lm.db.db, memberID, c.Email, optional(c.Phone))
	err = asResult("update contact", duplicate(err, "email already registered"))
	return lm.outcome("update contact", err, zap.Int64("member_id", memberID))
}

func (lm *LibraryManager) BorrowHistory(ctx context.Context, memberID int64) ([]HistoryEntry, error) {
	rows, err := lm.ledger.History(ctx, lm.db.db, memberID)
	return rows, asResult("borrow history", err)
}

func (lm *LibraryManager) MemberReservations(ctx context.Context, memberID int64) ([]Reservation, error) {
	rows, err := lm.queue.ByMember(ctx, lm.db.db, memberID)
	return rows, asResult("member reservations", err)
}

func (lm *LibraryManager) ReservationQueue(ctx context.Context, bookID int64) ([]Reservation, error) {
	rows, err := lm.queue.Queue(ctx, lm.db.db, bookID)
	return rows, asResult("reservation queue", err)
}

func (lm *LibraryManager) Payments(ctx context.Context, memberID int64) ([]Payment, error) {
	rows, err := lm.payments.ByMember(ctx, lm.db.db, memberID)
	return rows, asResult("list payments", err)
}

// ------------------ Circulation ------------------

func (lm *LibraryManager) BorrowBook(ctx context.Context, memberID, bookID, branchID int64) (BorrowReceipt, error) {
	r, err := lm.circ.Borrow(ctx, lm.now(), memberID, bookID, branchID)
	return r, lm.outcome("borrow", err,
		zap.Int64("member_id", memberID), zap.Int64("book_id", bookID), zap.Int64("branch_id", branchID),
		zap.Int64("borrow_id", r.BorrowID))
}

func (lm *LibraryManager) RenewBorrow(ctx context.Context, memberID, bookID int64) (RenewalReceipt, error) {
	r, err := lm.circ.Renew(ctx, lm.now(), memberID, bookID)
	return r, lm.outcome("renew borrow", err,
		zap.Int64("member_id", memberID), zap.Int64("book_id", bookID), zap.Int64("borrow_id", r.BorrowID))
}

func (lm *LibraryManager) ReturnBook(ctx context.Context, borrowID int64) (ReturnReceipt, error) {
	r, err := lm.circ.Return(ctx, lm.now(), borrowID)
	fields := []zap.Field{zap.Int64("borrow_id", borrowID), zap.Int("late_days", r.LateDays),
		zap.Stringer("late_fee", r.LateFee), zap.Bool("already_returned", r.AlreadyReturned)}
	if r.Notification != nil {
		fields = append(fields, zap.Int64("ready_reservation_id", r.Notification.ReservationID))
	}
	return r, lm.outcome("return", err, fields...)
}

func (lm *LibraryManager) ReserveBook(ctx context.Context, memberID, bookID int64) (int64, error) {
	id, err := lm.circ.Reserve(ctx, lm.now(), memberID, bookID)
	return id, lm.outcome("reserve", err,
		zap.Int64("member_id", memberID), zap.Int64("book_id", bookID), zap.Int64("reservation_id", id))
}

// PayFine records a payment. An empty note is stored as NULL.
func (lm *LibraryManager) PayFine(ctx context.Context, memberID int64, amount decimal.Decimal, note string) (PaymentReceipt, error) {
	r, err := lm.circ.PayFine(ctx, lm.now(), memberID, amount, optional(strings.TrimSpace(note)))
	return r, lm.outcome("pay fine", err,
		zap.Int64("member_id", memberID), zap.Stringer("amount", amount), zap.Stringer("balance", r.Balance))
}

// ExpireHolds runs the reservation expiry sweep now.
func (lm *LibraryManager) ExpireHolds(ctx context.Context) (int64, error) {
	n, err := lm.circ.ExpireHolds(ctx, lm.now())
	return n, lm.outcome("expire holds", err, zap.Int64("expired", n))
}

// ------------------ Reports ------------------

func (lm *LibraryManager) OverdueReportByBranch(ctx context.Context, branchID int64) ([]OverdueLoan, error) {
	rows, err := lm.ledger.OverdueByBranch(ctx, lm.db.db, branchID, DateOf(lm.now()))
	return rows, asResult("overdue report", err)
}

// TopBorrowedThisMonth returns the ten most borrowed titles of the current
// calendar month.
func (lm *LibraryManager) TopBorrowedThisMonth(ctx context.Context) ([]TopBook, error) {
	today := DateOf(lm.now())
	rows, err := lm.ledger.TopBorrowed(ctx, lm.db.db, today.FirstOfMonth(), today.LastOfMonth(), 10)
	return rows, asResult("top borrowed", err)
}

// ------------------ Utilities ------------------

// outcome logs the result of op and passes err through. Rule refusals are
// warnings; faults are errors.
func (lm *LibraryManager) outcome(op string, err error, fields ...zap.Field) error {
	switch KindOf(err) {
	case 0:
		if err == nil {
			lm.log.Info(op, fields...)
			return nil
		}
		lm.log.Error(op, append(fields, zap.Error(err))...)
	case KindFault:
		lm.log.Error(op, append(fields, zap.Error(err))...)
	default:
		lm.log.Warn(op, append(fields, zap.Stringer("kind", KindOf(err)), zap.Error(err))...)
	}
	return err
}

// duplicate turns a unique-constraint failure into an invalid-input error.
func duplicate(err error, msg string) error {
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return invalidInput(msg)
	}
	return err
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
