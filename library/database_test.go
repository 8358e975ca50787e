package library

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempDB(t *testing.T) *Database {
	t.Helper()
	dir := t.TempDir()
	db, err := NewDatabase(filepath.Join(dir, "test.db"), 0)
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// at returns mid-morning UTC on the given day.
func at(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 10, 0, 0, 0, time.UTC)
}

// fixture is a store with two branches and helpers to add books and members.
type fixture struct {
	db      *Database
	circ    *Circulation
	catalog *Catalog
	branch1 int64
	branch2 int64
	isbn    int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := tempDB(t)
	f := &fixture{db: db, circ: NewCirculation(db), catalog: &Catalog{db: db}}
	ctx := context.Background()
	var err error
	f.branch1, err = f.catalog.AddBranch(ctx, "Central", "Main St")
	require.NoError(t, err)
	f.branch2, err = f.catalog.AddBranch(ctx, "Riverside", "River Rd")
	require.NoError(t, err)
	return f
}

// book catalogues a title and stocks it: copies[0] at branch1, copies[1] at branch2.
func (f *fixture) book(t *testing.T, title string, copies ...int) int64 {
	t.Helper()
	ctx := context.Background()
	f.isbn++
	id, err := f.catalog.AddBook(ctx, NewBook{
		ISBN:     fmt.Sprintf("978-0-00-%06d", f.isbn),
		Title:    title,
		Year:     2001,
		Category: "Computer Science",
		Authors:  []string{"Ada Writer"},
	})
	require.NoError(t, err)
	branches := []int64{f.branch1, f.branch2}
	for i, n := range copies {
		if n > 0 {
			require.NoError(t, f.catalog.StockCopies(ctx, id, branches[i], n))
		}
	}
	return id
}

// member registers a member whose window runs from start for the role's term.
func (f *fixture) member(t *testing.T, role Role, start Date) int64 {
	t.Helper()
	priv, _ := role.Privileges()
	f.isbn++
	email := fmt.Sprintf("member%d@example.org", f.isbn)
	id, err := MemberStore{}.Create(context.Background(), f.db.db, role, "Member", email, nil, start, start.AddDays(priv.MembershipDays))
	require.NoError(t, err)
	return id
}

func (f *fixture) available(t *testing.T, bookID, branchID int64) int {
	t.Helper()
	n, err := InventoryStore{}.AvailableAt(context.Background(), f.db.db, bookID, branchID)
	require.NoError(t, err)
	return n
}

func (f *fixture) getMember(t *testing.T, id int64) *Member {
	t.Helper()
	m, err := MemberStore{}.Find(context.Background(), f.db.db, id)
	require.NoError(t, err)
	return m
}

func (f *fixture) setBalance(t *testing.T, id int64, amount string) {
	t.Helper()
	require.NoError(t, MemberStore{}.SetBalance(context.Background(), f.db.db, id, decimal.RequireFromString(amount)))
}

func (f *fixture) countBorrows(t *testing.T) int {
	t.Helper()
	var n int
	require.NoError(t, f.db.db.Get(&n, `SELECT COUNT(*) FROM borrow_records`))
	return n
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lib.db")
	db, err := NewDatabase(path, time.Second)
	require.NoError(t, err)
	_, err = db.db.Exec(`INSERT INTO branches(name, location) VALUES('Central','')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = NewDatabase(path, time.Second)
	require.NoError(t, err)
	defer db.Close()
	var n int
	require.NoError(t, db.db.Get(&n, `SELECT COUNT(*) FROM branches`))
	assert.Equal(t, 1, n)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	db := tempDB(t)
	boom := errors.New("boom")
	err := db.withTx(context.Background(), func(tx *sqlx.Tx) error {
		if _, err := tx.Exec(`INSERT INTO branches(name) VALUES('Ghost')`); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var n int
	require.NoError(t, db.db.Get(&n, `SELECT COUNT(*) FROM branches`))
	assert.Zero(t, n)
}

func TestWithTxRollsBackOnPanic(t *testing.T) {
	db := tempDB(t)
	func() {
		defer func() { _ = recover() }()
		_ = db.withTx(context.Background(), func(tx *sqlx.Tx) error {
			if _, err := tx.Exec(`INSERT INTO branches(name) VALUES('Ghost')`); err != nil {
				return err
			}
			panic("fault mid-transaction")
		})
	}()

	var n int
	require.NoError(t, db.db.Get(&n, `SELECT COUNT(*) FROM branches`))
	assert.Zero(t, n)
}

func TestInventoryConstraintHolds(t *testing.T) {
	f := newFixture(t)
	book := f.book(t, "Constrained", 1)
	_, err := f.db.db.Exec(`UPDATE branch_inventory SET available_copies = 2 WHERE book_id=?`, book)
	assert.Error(t, err, "available above total must be rejected")
	_, err = f.db.db.Exec(`UPDATE branch_inventory SET available_copies = -1 WHERE book_id=?`, book)
	assert.Error(t, err, "negative availability must be rejected")
}

func TestPaymentsAreAppendOnly(t *testing.T) {
	f := newFixture(t)
	m := f.member(t, RoleStudent, NewDate(2024, 1, 1))
	_, err := PaymentStore{}.Record(context.Background(), f.db.db, m, decimal.RequireFromString("1.00"), nil, at(2024, 1, 2))
	require.NoError(t, err)

	_, err = f.db.db.Exec(`UPDATE payments SET amount='0.00'`)
	assert.Error(t, err)
	_, err = f.db.db.Exec(`DELETE FROM payments`)
	assert.Error(t, err)
}
