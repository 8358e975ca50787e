package library

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// Date is a calendar day without time of day or zone. It is stored as
// YYYY-MM-DD text so SQL comparisons order correctly.
type Date struct {
	t time.Time
}

// DateOf returns the calendar day of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, m, d)
}

// NewDate builds a Date from its parts.
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses YYYY-MM-DD.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return Date{t: t}, nil
}

func (d Date) AddDays(n int) Date { return Date{t: d.t.AddDate(0, 0, n)} }
func (d Date) Before(o Date) bool { return d.t.Before(o.t) }
func (d Date) After(o Date) bool  { return d.t.After(o.t) }
func (d Date) Equal(o Date) bool  { return d.t.Equal(o.t) }
func (d Date) IsZero() bool       { return d.t.IsZero() }
func (d Date) String() string     { return d.t.Format(dateLayout) }
func (d Date) FirstOfMonth() Date { return NewDate(d.t.Year(), d.t.Month(), 1) }

// LastOfMonth returns the final day of d's month.
func (d Date) LastOfMonth() Date {
	return Date{t: d.FirstOfMonth().t.AddDate(0, 1, -1)}
}

// DaysSince is the whole number of days elapsed from o to d, floored, and
// zero when d is not after o.
func (d Date) DaysSince(o Date) int {
	elapsed := d.t.Sub(o.t)
	if elapsed <= 0 {
		return 0
	}
	return int(elapsed / (24 * time.Hour))
}

// Scan implements sql.Scanner.
func (d *Date) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return d.parse(v)
	case []byte:
		return d.parse(string(v))
	case time.Time:
		*d = DateOf(v.UTC())
		return nil
	case nil:
		*d = Date{}
		return nil
	default:
		return fmt.Errorf("cannot scan %T into Date", src)
	}
}

func (d *Date) parse(s string) error {
	if len(s) > len(dateLayout) {
		s = s[:len(dateLayout)]
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Value implements driver.Valuer.
func (d Date) Value() (driver.Value, error) {
	return d.String(), nil
}

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	return d.parse(string(b))
}

// roundMoney applies the two-place rounding used for every fee, balance and
// payment.
func roundMoney(v decimal.Decimal) decimal.Decimal {
	return v.Round(2)
}

func moneyText(v decimal.Decimal) string {
	return roundMoney(v).StringFixed(2)
}

func unixNano(t time.Time) int64 { return t.UTC().UnixNano() }

func fromUnixNano(n int64) time.Time { return time.Unix(0, n).UTC() }

func fromNullUnixNano(n *int64) *time.Time {
	if n == nil {
		return nil
	}
	t := fromUnixNano(*n)
	return &t
}
