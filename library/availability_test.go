package library

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDuneScenario walks the last-copy case end to end.
func TestDuneScenario(t *testing.T) {
	clock := newTestClock()
	db := tempDB(t, WithClock(clock.Now))
	ctx := context.Background()
	alice := givenUser(t, db, "alice")
	bob := givenUser(t, db, "bob")
	bookID := givenBook(t, db, "Dune", "Frank Herbert", "Science Fiction", "1111111111111", 1)

	loan, err := db.Borrow(ctx, alice, bookID)
	require.NoError(t, err, "alice borrows")
	assert.True(t, loan.Active())
	assert.Equal(t, "2026-03-02", loan.BorrowDate.Format(dateLayout))
	assert.Equal(t, 0, loan.Book.Quantity)

	_, err = db.Borrow(ctx, bob, bookID)
	assert.ErrorIs(t, err, ErrUnavailable, "bob finds the shelf empty")
	book, _ := db.GetBook(ctx, bookID)
	assert.Equal(t, 0, book.Quantity)

	clock.Advance(72 * time.Hour)
	returned, err := db.Return(ctx, alice, loan.ID)
	require.NoError(t, err, "alice returns")
	require.NotNil(t, returned.ReturnDate)
	assert.Equal(t, "2026-03-05", returned.ReturnDate.Format(dateLayout))
	assert.Equal(t, 1, returned.Book.Quantity)

	active, err := db.ActiveLoansFor(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestBorrowUnavailableChangesNothing(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	alice := givenUser(t, db, "alice")
	bookID := givenBook(t, db, "Animal Farm", "George Orwell", "Satire", "9780451526342", 0)

	_, err := db.Borrow(ctx, alice, bookID)
	require.ErrorIs(t, err, ErrUnavailable)

	book, err := db.GetBook(ctx, bookID)
	require.NoError(t, err)
	assert.Equal(t, 0, book.Quantity)
	history, err := db.LoanHistory(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, history, "no loan may be created")
}

func TestBorrowUnknownBook(t *testing.T) {
	db := tempDB(t)
	alice := givenUser(t, db, "alice")

	_, err := db.Borrow(context.Background(), alice, 4242)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestActiveLoansAreScopedToUser(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	alice := givenUser(t, db, "alice")
	bob := givenUser(t, db, "bob")
	b1 := givenBook(t, db, "1984", "George Orwell", "Dystopia", "9780451524935", 2)
	b2 := givenBook(t, db, "Dune", "Frank Herbert", "Science Fiction", "9780441172719", 2)

	l1, err := db.Borrow(ctx, alice, b1)
	require.NoError(t, err)
	_, err = db.Borrow(ctx, alice, b2)
	require.NoError(t, err)
	_, err = db.Borrow(ctx, bob, b1)
	require.NoError(t, err)
	_, err = db.Return(ctx, alice, l1.ID)
	require.NoError(t, err)

	active, err := db.ActiveLoansFor(ctx, alice)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "Dune", active[0].Book.Title)
	assert.Equal(t, alice, active[0].UserID)

	history, err := db.LoanHistory(ctx, alice)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestLoanOfAnotherUser(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	alice := givenUser(t, db, "alice")
	bob := givenUser(t, db, "bob")
	bookID := givenBook(t, db, "Dune", "Frank Herbert", "Science Fiction", "1111111111111", 1)

	loan, err := db.Borrow(ctx, alice, bookID)
	require.NoError(t, err)

	_, err = closeOnly(t, db, loan.ID, bob)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = db.Return(ctx, bob, loan.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	book, _ := db.GetBook(ctx, bookID)
	assert.Equal(t, 0, book.Quantity, "stock untouched by a foreign return")
	active, _ := db.ActiveLoansFor(ctx, alice)
	assert.Len(t, active, 1)
}

func TestReturnTwiceIsRejected(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	alice := givenUser(t, db, "alice")
	bookID := givenBook(t, db, "Dune", "Frank Herbert", "Science Fiction", "1111111111111", 1)

	loan, err := db.Borrow(ctx, alice, bookID)
	require.NoError(t, err)
	_, err = db.Return(ctx, alice, loan.ID)
	require.NoError(t, err)

	_, err = db.Return(ctx, alice, loan.ID)
	assert.ErrorIs(t, err, ErrAlreadyReturned)
	_, err = closeOnly(t, db, loan.ID, alice)
	assert.ErrorIs(t, err, ErrAlreadyReturned)

	book, _ := db.GetBook(ctx, bookID)
	assert.Equal(t, 1, book.Quantity, "a second return must not restock")
}

func TestClosingLoanKeepsStock(t *testing.T) {
	clock := newTestClock()
	db := tempDB(t, WithClock(clock.Now))
	ctx := context.Background()
	alice := givenUser(t, db, "alice")
	bookID := givenBook(t, db, "Dune", "Frank Herbert", "Science Fiction", "1111111111111", 1)

	tx, err := db.db.BeginTxx(ctx, nil)
	require.NoError(t, err)
	loanID, err := db.createLoan(ctx, tx, alice, bookID)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	clock.Advance(24 * time.Hour)
	gotBookID, err := closeOnly(t, db, loanID, alice)
	require.NoError(t, err)
	assert.Equal(t, bookID, gotBookID)

	history, err := db.LoanHistory(ctx, alice)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.NotNil(t, history[0].ReturnDate)
	assert.Equal(t, "2026-03-03", history[0].ReturnDate.Format(dateLayout))
	assert.Equal(t, 1, history[0].Book.Quantity)
}

// closeOnly stamps a return date without restocking, committing on success.
func closeOnly(t *testing.T, db *Database, loanID, userID int64) (int64, error) {
	t.Helper()
	var bookID int64
	err := db.inTx(context.Background(), "close loan", func(tx *sqlx.Tx) error {
		var err error
		bookID, err = db.closeLoan(context.Background(), tx, loanID, userID)
		return err
	})
	return bookID, err
}

// TestConcurrentBorrowsNeverOversell races more borrowers than copies.
func TestConcurrentBorrowsNeverOversell(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	const copies, borrowers = 3, 12

	bookID := givenBook(t, db, "Dune", "Frank Herbert", "Science Fiction", "1111111111111", copies)
	users := make([]int64, borrowers)
	for i := range users {
		users[i] = givenUser(t, db, fmt.Sprintf("reader%d", i))
	}

	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		ok, refused int
	)
	for _, uid := range users {
		wg.Add(1)
		go func(uid int64) {
			defer wg.Done()
			_, err := db.Borrow(ctx, uid, bookID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case assert.ErrorIs(t, err, ErrUnavailable):
				refused++
			}
		}(uid)
	}
	wg.Wait()

	assert.Equal(t, copies, ok)
	assert.Equal(t, borrowers-copies, refused)
	book, err := db.GetBook(ctx, bookID)
	require.NoError(t, err)
	assert.Equal(t, 0, book.Quantity)
}

// TestRandomInterleavingsKeepStockConsistent mixes borrows and returns from
// several goroutines and checks quantity + active loans stays constant.
func TestRandomInterleavingsKeepStockConsistent(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	const copies, workers, steps = 2, 4, 15

	bookID := givenBook(t, db, "1984", "George Orwell", "Dystopia", "9780451524935", copies)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		uid := givenUser(t, db, fmt.Sprintf("worker%d", w))
		wg.Add(1)
		go func(uid int64, seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			var held []int64
			for i := 0; i < steps; i++ {
				if len(held) > 0 && rng.Intn(2) == 0 {
					loanID := held[len(held)-1]
					held = held[:len(held)-1]
					_, err := db.Return(ctx, uid, loanID)
					assert.NoError(t, err)
					// a stale double return must bounce
					_, err = db.Return(ctx, uid, loanID)
					assert.ErrorIs(t, err, ErrAlreadyReturned)
					continue
				}
				loan, err := db.Borrow(ctx, uid, bookID)
				if err != nil {
					assert.ErrorIs(t, err, ErrUnavailable)
					continue
				}
				assert.GreaterOrEqual(t, loan.Book.Quantity, 0)
				held = append(held, loan.ID)
			}
		}(uid, int64(w+1))
	}
	wg.Wait()

	book, err := db.GetBook(ctx, bookID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, book.Quantity, 0)

	var active int
	require.NoError(t, db.db.GetContext(ctx, &active, `SELECT COUNT(*) FROM borrowed_books WHERE book_id=? AND return_date IS NULL`, bookID))
	assert.Equal(t, copies, book.Quantity+active)
}
