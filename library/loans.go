package library

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"
)

type loanRow struct {
	LoanID     int64        `db:"loan_id"`
	UserID     int64        `db:"user_id"`
	BorrowDate time.Time    `db:"borrow_date"`
	ReturnDate sql.NullTime `db:"return_date"`
	bookRow
}

func (r *loanRow) loan() *Loan {
	l := &Loan{
		ID:         r.LoanID,
		UserID:     r.UserID,
		Book:       r.bookRow.book(),
		BorrowDate: r.BorrowDate,
	}
	if r.ReturnDate.Valid {
		rd := r.ReturnDate.Time
		l.ReturnDate = &rd
	}
	return l
}

func (d *Database) loansQuery() *goqu.SelectDataset {
	cols := append([]interface{}{
		goqu.I("l.id").As("loan_id"),
		goqu.I("l.user_id"),
		goqu.I("l.borrow_date"),
		goqu.I("l.return_date"),
	}, bookColumns...)

	return joinBookRefs(d.dialect.From(goqu.T("borrowed_books").As("l")).
		InnerJoin(goqu.T("books").As("b"), goqu.On(goqu.I("b.id").Eq(goqu.I("l.book_id"))))).
		Select(cols...)
}

func (d *Database) selectLoans(ctx context.Context, q sqlx.QueryerContext, ds *goqu.SelectDataset) ([]*Loan, error) {
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build loan query: %w", err)
	}
	d.logger.Debug("select loans", "query", query)

	var rows []loanRow
	if err := sqlx.SelectContext(ctx, q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select loans: %w", err)
	}
	loans := make([]*Loan, 0, len(rows))
	for i := range rows {
		loans = append(loans, rows[i].loan())
	}
	return loans, nil
}

// ActiveLoansFor returns the loans userID has not returned yet, oldest first.
func (d *Database) ActiveLoansFor(ctx context.Context, userID int64) ([]*Loan, error) {
	return d.selectLoans(ctx, d.db, d.loansQuery().
		Where(goqu.I("l.user_id").Eq(userID), goqu.I("l.return_date").IsNull()).
		Order(goqu.I("l.borrow_date").Asc(), goqu.I("l.id").Asc()))
}

// LoanHistory returns every loan of userID, newest first.
func (d *Database) LoanHistory(ctx context.Context, userID int64) ([]*Loan, error) {
	return d.selectLoans(ctx, d.db, d.loansQuery().
		Where(goqu.I("l.user_id").Eq(userID)).
		Order(goqu.I("l.id").Desc()))
}

func (d *Database) getLoan(ctx context.Context, q sqlx.QueryerContext, loanID, userID int64) (*Loan, error) {
	loans, err := d.selectLoans(ctx, q, d.loansQuery().
		Where(goqu.I("l.id").Eq(loanID), goqu.I("l.user_id").Eq(userID)))
	if err != nil {
		return nil, err
	}
	if len(loans) == 0 {
		return nil, fmt.Errorf("loan %d: %w", loanID, ErrNotFound)
	}
	return loans[0], nil
}

// createLoan opens a loan dated today. Callers must already have taken a copy
// off the shelf in the same transaction.
func (d *Database) createLoan(ctx context.Context, tx sqlx.ExecerContext, userID, bookID int64) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO borrowed_books(user_id,book_id,borrow_date) VALUES(?,?,?)`, userID, bookID, d.today())
	if err != nil {
		return 0, fmt.Errorf("create loan: %w", err)
	}
	return res.LastInsertId()
}

// closeLoan stamps today's return date on an active loan owned by userID and
// returns the id of the borrowed book. Loans of other users are reported as
// not found; loans that are already closed are left untouched.
func (d *Database) closeLoan(ctx context.Context, tx *sqlx.Tx, loanID, userID int64) (int64, error) {
	var row struct {
		BookID     int64        `db:"book_id"`
		ReturnDate sql.NullTime `db:"return_date"`
	}
	err := tx.GetContext(ctx, &row, `SELECT book_id, return_date FROM borrowed_books WHERE id=? AND user_id=?`, loanID, userID)
	if noRows(err) {
		return 0, fmt.Errorf("loan %d: %w", loanID, ErrNotFound)
	}
	if err != nil {
		return 0, err
	}
	if row.ReturnDate.Valid {
		return 0, fmt.Errorf("loan %d: %w", loanID, ErrAlreadyReturned)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE borrowed_books SET return_date=? WHERE id=? AND return_date IS NULL`, d.today(), loanID); err != nil {
		return 0, fmt.Errorf("close loan: %w", err)
	}
	return row.BookID, nil
}
