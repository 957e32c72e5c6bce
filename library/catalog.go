package library

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/doug-martin/goqu/v9"
	"github.com/mattn/go-sqlite3"
)

// bookRow is the flat shape of a book joined with its author and category.
type bookRow struct {
	ID           int64  `db:"id"`
	Title        string `db:"title"`
	AuthorID     int64  `db:"author_id"`
	AuthorName   string `db:"author_name"`
	CategoryID   int64  `db:"category_id"`
	CategoryName string `db:"category_name"`
	ISBN         string `db:"isbn"`
	Quantity     int    `db:"quantity"`
	Description  string `db:"description"`
}

func (r *bookRow) book() *Book {
	return &Book{
		ID:          r.ID,
		Title:       r.Title,
		Author:      Author{ID: r.AuthorID, Name: r.AuthorName},
		Category:    Category{ID: r.CategoryID, Name: r.CategoryName},
		ISBN:        r.ISBN,
		Quantity:    r.Quantity,
		Description: r.Description,
	}
}

var bookColumns = []interface{}{
	goqu.I("b.id"),
	goqu.I("b.title"),
	goqu.I("b.author_id"),
	goqu.I("a.name").As("author_name"),
	goqu.I("b.category_id"),
	goqu.I("c.name").As("category_name"),
	goqu.I("b.isbn"),
	goqu.I("b.quantity"),
	goqu.I("b.description"),
}

// joinBookRefs joins the author and category of the books aliased "b".
func joinBookRefs(ds *goqu.SelectDataset) *goqu.SelectDataset {
	return ds.
		InnerJoin(goqu.T("authors").As("a"), goqu.On(goqu.I("a.id").Eq(goqu.I("b.author_id")))).
		InnerJoin(goqu.T("categories").As("c"), goqu.On(goqu.I("c.id").Eq(goqu.I("b.category_id"))))
}

func (d *Database) booksQuery() *goqu.SelectDataset {
	return joinBookRefs(d.dialect.From(goqu.T("books").As("b"))).
		Select(bookColumns...).
		Order(goqu.I("b.id").Asc())
}

func (d *Database) selectBooks(ctx context.Context, ds *goqu.SelectDataset) ([]*Book, error) {
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build book query: %w", err)
	}
	d.logger.Debug("select books", "query", query)

	var rows []bookRow
	if err := d.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select books: %w", err)
	}
	books := make([]*Book, 0, len(rows))
	for i := range rows {
		books = append(books, rows[i].book())
	}
	return books, nil
}

// SearchBooks matches query case-insensitively (Unicode lower-casing) against the title, the author
// name and the category name. An empty query matches every book. With
// availableOnly set, books without copies on hand are left out. Results are
// in insertion order and each book appears once.
func (d *Database) SearchBooks(ctx context.Context, query string, availableOnly bool) ([]*Book, error) {
	ds := d.booksQuery().Distinct()

	if q := foldCase(strings.TrimSpace(query)); q != "" {
		ds = ds.Where(goqu.Or(
			goqu.L("instr(casefold(b.title), ?) > 0", q),
			goqu.L("instr(casefold(a.name), ?) > 0", q),
			goqu.L("instr(casefold(c.name), ?) > 0", q),
		))
	}
	if availableOnly {
		ds = ds.Where(goqu.I("b.quantity").Gt(0))
	}
	return d.selectBooks(ctx, ds)
}

// GetAllBooks returns the whole catalog.
func (d *Database) GetAllBooks(ctx context.Context) ([]*Book, error) {
	return d.selectBooks(ctx, d.booksQuery())
}

func (d *Database) GetBook(ctx context.Context, id int64) (*Book, error) {
	books, err := d.selectBooks(ctx, d.booksQuery().Where(goqu.I("b.id").Eq(id)))
	if err != nil {
		return nil, err
	}
	if len(books) == 0 {
		return nil, fmt.Errorf("book %d: %w", id, ErrNotFound)
	}
	return books[0], nil
}

// ---------------------------------------------------------------------------
// Catalog management
// ---------------------------------------------------------------------------

func (d *Database) AddCategory(ctx context.Context, name string) (int64, error) {
	return d.insertNamed(ctx, "categories", name)
}

func (d *Database) AddAuthor(ctx context.Context, name string) (int64, error) {
	return d.insertNamed(ctx, "authors", name)
}

// EnsureCategory returns the id of the category called name, creating it if needed.
func (d *Database) EnsureCategory(ctx context.Context, name string) (int64, error) {
	return d.ensureNamed(ctx, "categories", name)
}

// EnsureAuthor returns the id of the author called name, creating it if needed.
func (d *Database) EnsureAuthor(ctx context.Context, name string) (int64, error) {
	return d.ensureNamed(ctx, "authors", name)
}

func (d *Database) insertNamed(ctx context.Context, table, name string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > 100 {
		v := &ValidationError{}
		v.Add("name", "Name is required and must be at most 100 characters.")
		return 0, v
	}
	res, err := d.db.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s(name) VALUES(?)`, table), name)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (d *Database) ensureNamed(ctx context.Context, table, name string) (int64, error) {
	var id int64
	err := d.db.GetContext(ctx, &id, fmt.Sprintf(`SELECT id FROM %s WHERE name=? ORDER BY id LIMIT 1`, table), strings.TrimSpace(name))
	if err == nil {
		return id, nil
	}
	if !noRows(err) {
		return 0, err
	}
	return d.insertNamed(ctx, table, name)
}

// AddBook inserts a catalog entry and returns its id.
func (d *Database) AddBook(ctx context.Context, nb NewBook) (int64, error) {
	nb.Title = strings.TrimSpace(nb.Title)
	nb.ISBN = strings.TrimSpace(nb.ISBN)

	v := &ValidationError{}
	if nb.Title == "" {
		v.Add("title", "This field is required.")
	} else if utf8.RuneCountInString(nb.Title) > 200 {
		v.Add("title", "Ensure this value has at most 200 characters.")
	}
	if nb.ISBN == "" {
		v.Add("isbn", "This field is required.")
	} else if utf8.RuneCountInString(nb.ISBN) > 13 {
		v.Add("isbn", "Ensure this value has at most 13 characters.")
	}
	if nb.Quantity < 0 {
		v.Add("quantity", "Ensure this value is greater than or equal to 0.")
	}
	if err := v.orNil(); err != nil {
		return 0, err
	}

	res, err := d.addBookStmt.ExecContext(ctx, nb.Title, nb.AuthorID, nb.CategoryID, nb.ISBN, nb.Quantity, nb.Description)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("isbn %s: %w", nb.ISBN, ErrDuplicateISBN)
		}
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey {
			return 0, fmt.Errorf("author %d or category %d: %w", nb.AuthorID, nb.CategoryID, ErrNotFound)
		}
		return 0, err
	}
	return res.LastInsertId()
}

// DeleteBook removes a book together with every loan of it.
func (d *Database) DeleteBook(ctx context.Context, id int64) error {
	res, err := d.db.ExecContext(ctx, `DELETE FROM books WHERE id=?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("book %d: %w", id, ErrNotFound)
	}
	return nil
}
