package library

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role tags a member with a fixed set of borrowing privileges.
type Role string

const (
	RoleStudent Role = "STUDENT"
	RoleFaculty Role = "FACULTY"
)

// Privileges is the capability set attached to a role.
type Privileges struct {
	BorrowLimit    int
	LoanDays       int
	LateFeePerDay  decimal.Decimal
	MembershipDays int
}

var rolePrivileges = map[Role]Privileges{
	RoleStudent: {BorrowLimit: 3, LoanDays: 14, LateFeePerDay: decimal.RequireFromString("0.50"), MembershipDays: 365},
	RoleFaculty: {BorrowLimit: 10, LoanDays: 30, LateFeePerDay: decimal.RequireFromString("0.25"), MembershipDays: 365 * 3},
}

// Privileges returns the capability set for r.
func (r Role) Privileges() (Privileges, bool) {
	p, ok := rolePrivileges[r]
	return p, ok
}

// BookStatus is the catalog lifecycle state of a title.
type BookStatus string

const (
	BookActive    BookStatus = "ACTIVE"
	BookWithdrawn BookStatus = "WITHDRAWN"
)

// Book is catalog metadata. Availability lives in BranchInventory.
type Book struct {
	ID       int64      `db:"id" json:"id"`
	ISBN     string     `db:"isbn" json:"isbn"`
	Title    string     `db:"title" json:"title"`
	Year     int        `db:"publication_year" json:"publication_year"`
	Category string     `db:"category" json:"category"`
	Status   BookStatus `db:"status" json:"status"`
}

// Branch is a physical library location.
type Branch struct {
	ID       int64  `db:"id" json:"id"`
	Name     string `db:"name" json:"name"`
	Location string `db:"location" json:"location"`
}

// BranchAvailability is one row of a book's per-branch inventory.
type BranchAvailability struct {
	BranchID   int64  `db:"branch_id" json:"branch_id"`
	BranchName string `db:"branch_name" json:"branch_name"`
	Location   string `db:"location" json:"location"`
	Total      int    `db:"total_copies" json:"total"`
	Available  int    `db:"available_copies" json:"available"`
}

// Member is a registered borrower.
type Member struct {
	ID              int64           `db:"id" json:"id"`
	Role            Role            `db:"member_type" json:"role"`
	Name            string          `db:"full_name" json:"name"`
	Email           string          `db:"email" json:"email"`
	Phone           *string         `db:"phone" json:"phone,omitempty"`
	MembershipStart Date            `db:"membership_start" json:"membership_start"`
	MembershipEnd   Date            `db:"membership_end" json:"membership_end"`
	UnpaidBalance   decimal.Decimal `db:"unpaid_balance" json:"unpaid_balance"`
}

// ValidOn reports whether the membership covers day (end date inclusive).
func (m *Member) ValidOn(day Date) bool {
	return !day.After(m.MembershipEnd)
}

// BorrowRecord is one loan of one copy. ReturnDate is nil while the loan is open.
type BorrowRecord struct {
	ID         int64           `db:"id" json:"id"`
	MemberID   int64           `db:"member_id" json:"member_id"`
	BookID     int64           `db:"book_id" json:"book_id"`
	BranchID   int64           `db:"branch_id" json:"branch_id"`
	BorrowDate Date            `db:"borrow_date" json:"borrow_date"`
	DueDate    Date            `db:"due_date" json:"due_date"`
	ReturnDate *Date           `db:"return_date" json:"return_date,omitempty"`
	Renewals   int             `db:"renewals_count" json:"renewals_count"`
	LateFee    decimal.Decimal `db:"late_fee" json:"late_fee"`
}

// Open reports whether the copy is still out.
func (r *BorrowRecord) Open() bool { return r.ReturnDate == nil }

// HistoryEntry is a borrow record joined with its title.
type HistoryEntry struct {
	BorrowRecord
	Title string `db:"title" json:"title"`
	ISBN  string `db:"isbn" json:"isbn"`
}

// ReservationStatus is a state of the per-book hold queue.
type ReservationStatus string

const (
	ReservationWaiting   ReservationStatus = "WAITING"
	ReservationReady     ReservationStatus = "READY"
	ReservationFulfilled ReservationStatus = "FULFILLED"
	ReservationExpired   ReservationStatus = "EXPIRED"
)

// Reservation is one entry in a book's hold queue.
type Reservation struct {
	ID         int64             `json:"id"`
	MemberID   int64             `json:"member_id"`
	BookID     int64             `json:"book_id"`
	Status     ReservationStatus `json:"status"`
	ReservedAt time.Time         `json:"reserved_at"`
	ReadyUntil *time.Time        `json:"ready_until,omitempty"`
	NotifiedAt *time.Time        `json:"notified_at,omitempty"`
}

// Payment is an append-only fine payment.
type Payment struct {
	ID        int64           `db:"id" json:"id"`
	Reference string          `db:"reference" json:"reference"`
	MemberID  int64           `db:"member_id" json:"member_id"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	Note      *string         `db:"note" json:"note,omitempty"`
	PaidAt    time.Time       `json:"paid_at"`
}

// Notification tells a waiting member their hold is ready. Delivery is the
// caller's job.
type Notification struct {
	ReservationID int64     `json:"reservation_id"`
	MemberID      int64     `json:"member_id"`
	BookID        int64     `json:"book_id"`
	ReadyUntil    time.Time `json:"ready_until"`
	Message       string    `json:"message"`
}

// OverdueLoan is a row of the per-branch overdue report.
type OverdueLoan struct {
	BorrowID   int64  `db:"id" json:"borrow_id"`
	MemberID   int64  `db:"member_id" json:"member_id"`
	MemberName string `db:"full_name" json:"member_name"`
	Title      string `db:"title" json:"title"`
	BorrowDate Date   `db:"borrow_date" json:"borrow_date"`
	DueDate    Date   `db:"due_date" json:"due_date"`
}

// TopBook is a row of the monthly popularity report.
type TopBook struct {
	Title       string `db:"title" json:"title"`
	ISBN        string `db:"isbn" json:"isbn"`
	BorrowCount int    `db:"borrow_count" json:"borrow_count"`
}
