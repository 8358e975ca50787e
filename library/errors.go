package library

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed operation.
type ErrorKind int

const (
	KindNotFound ErrorKind = iota + 1
	KindInvalidState
	KindInvalidInput
	KindFault
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindInvalidState:
		return "invalid state"
	case KindInvalidInput:
		return "invalid input"
	case KindFault:
		return "fault"
	default:
		return "unknown"
	}
}

// Error is the structured failure returned by every circulation operation.
// Faults carry the underlying store error in Err.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the kind sentinels, so errors.Is(err, ErrInvalidState) works
// for any invalid-state failure.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrInvalidState = &Error{Kind: KindInvalidState}
	ErrInvalidInput = &Error{Kind: KindInvalidInput}
	ErrFault        = &Error{Kind: KindFault}
)

// KindOf returns the kind of err, or 0 when err is nil or not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func notFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func invalidState(msg string) error {
	return &Error{Kind: KindInvalidState, Message: msg}
}

func invalidInput(msg string) error {
	return &Error{Kind: KindInvalidInput, Message: msg}
}

// asResult leaves kinded errors alone and wraps anything else as a fault.
func asResult(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: KindFault, Message: op, Err: err}
}

// Refusal messages.
const (
	reasonMembershipExpired   = "membership expired, renew first"
	reasonBalanceOverLimit    = "unpaid balance over 10.00, pay fines first"
	reasonHasOverdue          = "member has overdue books, return them first"
	reasonBorrowLimit         = "borrow limit reached"
	reasonReservedForOther    = "book is reserved for another member"
	reasonNoCopies            = "no available copies at this branch"
	reasonRenewalUsed         = "borrow can be renewed only once"
	reasonRenewOverdue        = "cannot renew an overdue borrow"
	reasonRenewReserved       = "another member reserved this book"
	reasonBookAvailable       = "book is available now, reservation not needed"
	reasonAlreadyReserved     = "member already has a reservation for this book"
	reasonAlreadyBorrowed     = "member already has this book checked out"
	reasonNonPositivePayment  = "amount must be greater than zero"
	reasonBookWithdrawn       = "book is withdrawn from circulation"
)
