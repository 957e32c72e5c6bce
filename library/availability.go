package library

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Borrow takes one copy of bookID off the shelf and opens a loan for userID.
//
// The stock check and the decrement are one conditional UPDATE inside a write
// transaction, so two users racing for the last copy cannot both win: the
// loser sees zero rows affected and gets ErrUnavailable. Nothing is written
// when the book is unknown or out of stock.
func (d *Database) Borrow(ctx context.Context, userID, bookID int64) (*Loan, error) {
	var loan *Loan
	err := d.inTx(ctx, "borrow", func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE books SET quantity = quantity - 1 WHERE id=? AND quantity > 0`, bookID)
		if err != nil {
			return fmt.Errorf("decrement quantity: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			var exists bool
			if err := tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM books WHERE id=?)`, bookID); err != nil {
				return err
			}
			if !exists {
				return fmt.Errorf("book %d: %w", bookID, ErrNotFound)
			}
			return fmt.Errorf("book %d: %w", bookID, ErrUnavailable)
		}

		loanID, err := d.createLoan(ctx, tx, userID, bookID)
		if err != nil {
			return err
		}
		loan, err = d.getLoan(ctx, tx, loanID, userID)
		return err
	})
	if err != nil {
		return nil, err
	}

	d.logger.Info("book borrowed", "loan_id", loan.ID, "book_id", bookID, "user_id", userID, "quantity_left", loan.Book.Quantity)
	return loan, nil
}

// Return closes loanID on behalf of userID and puts the copy back on the
// shelf. Closing and restocking commit together; a loan that was already
// returned is rejected, so the same copy is never counted twice.
func (d *Database) Return(ctx context.Context, userID, loanID int64) (*Loan, error) {
	var loan *Loan
	err := d.inTx(ctx, "return", func(tx *sqlx.Tx) error {
		bookID, err := d.closeLoan(ctx, tx, loanID, userID)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE books SET quantity = quantity + 1 WHERE id=?`, bookID); err != nil {
			return fmt.Errorf("increment quantity: %w", err)
		}
		loan, err = d.getLoan(ctx, tx, loanID, userID)
		return err
	})
	if err != nil {
		return nil, err
	}

	d.logger.Info("book returned", "loan_id", loan.ID, "book_id", loan.Book.ID, "user_id", userID, "quantity_left", loan.Book.Quantity)
	return loan, nil
}
