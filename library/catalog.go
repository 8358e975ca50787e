package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/jmoiron/sqlx"
)

// Catalog holds branches and titles. It is plain data access; none of the
// circulation rules live here.
type Catalog struct {
	db        *Database
	inventory InventoryStore
}

// NewBook is the input for cataloguing a title.
type NewBook struct {
	ISBN     string   `yaml:"isbn" validate:"required"`
	Title    string   `yaml:"title" validate:"required"`
	Year     int      `yaml:"year" validate:"gte=0"`
	Category string   `yaml:"category" validate:"required"`
	Authors  []string `yaml:"authors"`
}

// BookFilter narrows SearchBooks. Empty fields match everything; ISBN is an
// exact match, the rest are substring matches.
type BookFilter struct {
	Title    string
	Author   string
	ISBN     string
	Category string
}

// AddBranch creates a branch and returns its id.
func (c *Catalog) AddBranch(ctx context.Context, name, location string) (int64, error) {
	res, err := c.db.db.ExecContext(ctx, `INSERT INTO branches(name, location) VALUES(?,?)`, name, location)
	if err != nil {
		return 0, fmt.Errorf("add branch: %w", err)
	}
	return res.LastInsertId()
}

// Branches lists all branches by name.
func (c *Catalog) Branches(ctx context.Context) ([]Branch, error) {
	rows := []Branch{}
	if err := c.db.db.SelectContext(ctx, &rows, `SELECT id, name, location FROM branches ORDER BY name`); err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	return rows, nil
}

// AddBook catalogues a title with its category and authors in one
// transaction.
func (c *Catalog) AddBook(ctx context.Context, nb NewBook) (int64, error) {
	var id int64
	err := c.db.withTx(ctx, func(tx *sqlx.Tx) error {
		categoryID, err := upsertName(ctx, tx, "categories", nb.Category)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
            INSERT INTO books(isbn, title, publication_year, category_id, status)
            VALUES(?,?,?,?,?)`, nb.ISBN, nb.Title, nb.Year, categoryID, BookActive)
		if err != nil {
			return fmt.Errorf("add book: %w", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return err
		}
		for _, author := range nb.Authors {
			authorID, err := upsertName(ctx, tx, "authors", author)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO book_authors(book_id, author_id) VALUES(?,?)`, id, authorID); err != nil {
				return fmt.Errorf("link author: %w", err)
			}
		}
		return nil
	})
	return id, err
}

// upsertName returns the id of name in a (id, name UNIQUE) lookup table,
// inserting it when missing.
func upsertName(ctx context.Context, tx *sqlx.Tx, table, name string) (int64, error) {
	name = strings.TrimSpace(name)
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO `+table+`(name) VALUES(?)`, name); err != nil {
		return 0, fmt.Errorf("insert into %s: %w", table, err)
	}
	var id int64
	if err := tx.GetContext(ctx, &id, `SELECT id FROM `+table+` WHERE name=?`, name); err != nil {
		return 0, fmt.Errorf("lookup %s: %w", table, err)
	}
	return id, nil
}

// StockCopies adds copies of a book to a branch.
func (c *Catalog) StockCopies(ctx context.Context, bookID, branchID int64, copies int) error {
	if copies <= 0 {
		return invalidInput("copies must be greater than zero")
	}
	return c.db.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := findBook(ctx, tx, bookID); err != nil {
			return err
		}
		var exists bool
		if err := tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM branches WHERE id=?)`, branchID); err != nil {
			return fmt.Errorf("check branch: %w", err)
		}
		if !exists {
			return notFound("branch %d not found", branchID)
		}
		return c.inventory.Stock(ctx, tx, bookID, branchID, copies)
	})
}

// SetBookStatus moves a title in or out of circulation.
func (c *Catalog) SetBookStatus(ctx context.Context, id int64, status BookStatus) error {
	res, err := c.db.db.ExecContext(ctx, `UPDATE books SET status=? WHERE id=?`, status, id)
	if err != nil {
		return fmt.Errorf("set book status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound("book %d not found", id)
	}
	return nil
}

// GetBook returns one title.
func (c *Catalog) GetBook(ctx context.Context, id int64) (*Book, error) {
	return findBook(ctx, c.db.db, id)
}

func findBook(ctx context.Context, q sqlx.QueryerContext, id int64) (*Book, error) {
	var b Book
	err := sqlx.GetContext(ctx, q, &b, `
        SELECT b.id, b.isbn, b.title, b.publication_year, c.name AS category, b.status
        FROM books b JOIN categories c ON c.id = b.category_id
        WHERE b.id=?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("book %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("find book: %w", err)
	}
	return &b, nil
}

// SearchBooks filters the catalog and returns titles ordered by title.
func (c *Catalog) SearchBooks(ctx context.Context, f BookFilter) ([]Book, error) {
	ds := goqu.Dialect("sqlite3").
		From(goqu.T("books").As("b")).
		Join(goqu.T("categories").As("c"), goqu.On(goqu.I("c.id").Eq(goqu.I("b.category_id")))).
		LeftJoin(goqu.T("book_authors").As("ba"), goqu.On(goqu.I("ba.book_id").Eq(goqu.I("b.id")))).
		LeftJoin(goqu.T("authors").As("a"), goqu.On(goqu.I("a.id").Eq(goqu.I("ba.author_id")))).
		Select(
			goqu.I("b.id"), goqu.I("b.isbn"), goqu.I("b.title"), goqu.I("b.publication_year"),
			goqu.I("c.name").As("category"), goqu.I("b.status"),
		).
		GroupBy(goqu.I("b.id")).
		Order(goqu.I("b.title").Asc(), goqu.I("b.id").Asc()).
		Prepared(true)

	if t := strings.TrimSpace(f.Title); t != "" {
		ds = ds.Where(goqu.I("b.title").Like("%" + t + "%"))
	}
	if a := strings.TrimSpace(f.Author); a != "" {
		ds = ds.Where(goqu.I("a.name").Like("%" + a + "%"))
	}
	if isbn := strings.TrimSpace(f.ISBN); isbn != "" {
		ds = ds.Where(goqu.I("b.isbn").Eq(isbn))
	}
	if cat := strings.TrimSpace(f.Category); cat != "" {
		ds = ds.Where(goqu.I("c.name").Like("%" + cat + "%"))
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build search query: %w", err)
	}
	books := []Book{}
	if err := c.db.db.SelectContext(ctx, &books, query, args...); err != nil {
		return nil, fmt.Errorf("search books: %w", err)
	}
	return books, nil
}

// Availability lists per-branch copy counts for a book.
func (c *Catalog) Availability(ctx context.Context, bookID int64) ([]BranchAvailability, error) {
	if _, err := findBook(ctx, c.db.db, bookID); err != nil {
		return nil, err
	}
	return c.inventory.ByBook(ctx, c.db.db, bookID)
}
