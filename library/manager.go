package library

import (
	"context"
	"fmt"
	"time"
)

// LibraryManager is a thin façade over the Database, keeping web and CLI code simple.
type LibraryManager struct {
	db         *Database
	sessionTTL time.Duration
}

// NewLibraryManager opens (or creates) the SQLite database at dbPath.
func NewLibraryManager(dbPath string, sessionTTL time.Duration, opts ...Option) (*LibraryManager, error) {
	db, err := NewDatabase(dbPath, opts...)
	if err != nil {
		return nil, err
	}
	return &LibraryManager{db: db, sessionTTL: sessionTTL}, nil
}

// Close closes the underlying database.
func (lm *LibraryManager) Close() error { return lm.db.Close() }

// ------------------ Catalog ------------------

func (lm *LibraryManager) SearchBooks(ctx context.Context, q string, availableOnly bool) ([]*Book, error) {
	return lm.db.SearchBooks(ctx, q, availableOnly)
}

func (lm *LibraryManager) GetBook(ctx context.Context, id int64) (*Book, error) {
	return lm.db.GetBook(ctx, id)
}

func (lm *LibraryManager) GetAllBooks(ctx context.Context) ([]*Book, error) {
	return lm.db.GetAllBooks(ctx)
}

// AddBookByNames adds a book, creating its author and category on first use.
func (lm *LibraryManager) AddBookByNames(ctx context.Context, title, author, category, isbn string, quantity int, description string) (int64, error) {
	authorID, err := lm.db.EnsureAuthor(ctx, author)
	if err != nil {
		return 0, fmt.Errorf("author %q: %w", author, err)
	}
	categoryID, err := lm.db.EnsureCategory(ctx, category)
	if err != nil {
		return 0, fmt.Errorf("category %q: %w", category, err)
	}
	return lm.db.AddBook(ctx, NewBook{
		Title:       title,
		AuthorID:    authorID,
		CategoryID:  categoryID,
		ISBN:        isbn,
		Quantity:    quantity,
		Description: description,
	})
}

// ------------------ Circulation ------------------

func (lm *LibraryManager) ActiveLoansFor(ctx context.Context, userID int64) ([]*Loan, error) {
	return lm.db.ActiveLoansFor(ctx, userID)
}

func (lm *LibraryManager) LoanHistory(ctx context.Context, userID int64) ([]*Loan, error) {
	return lm.db.LoanHistory(ctx, userID)
}

func (lm *LibraryManager) Borrow(ctx context.Context, userID, bookID int64) (*Loan, error) {
	return lm.db.Borrow(ctx, userID, bookID)
}

func (lm *LibraryManager) Return(ctx context.Context, userID, loanID int64) (*Loan, error) {
	return lm.db.Return(ctx, userID, loanID)
}

// ------------------ Accounts ------------------

func (lm *LibraryManager) CreateUser(ctx context.Context, username, password1, password2 string) (int64, error) {
	return lm.db.CreateUser(ctx, username, password1, password2)
}

func (lm *LibraryManager) Authenticate(ctx context.Context, username, password string) (*User, error) {
	return lm.db.Authenticate(ctx, username, password)
}

func (lm *LibraryManager) GetUser(ctx context.Context, id int64) (*User, error) {
	return lm.db.GetUser(ctx, id)
}

// ------------------ Sessions ------------------

// StartSession opens an anonymous session.
func (lm *LibraryManager) StartSession(ctx context.Context) (*Session, error) {
	return lm.db.NewSession(ctx, 0, lm.sessionTTL)
}

func (lm *LibraryManager) GetSession(ctx context.Context, token string) (*Session, error) {
	return lm.db.GetSession(ctx, token)
}

// Login binds userID to a fresh session token, dropping the old one.
func (lm *LibraryManager) Login(ctx context.Context, oldToken string, userID int64) (*Session, error) {
	if _, err := lm.db.DeleteExpiredSessions(ctx); err != nil {
		return nil, err
	}
	return lm.db.RotateSession(ctx, oldToken, userID, lm.sessionTTL)
}

// Logout ends the session and hands back an anonymous one.
func (lm *LibraryManager) Logout(ctx context.Context, token string) (*Session, error) {
	return lm.db.RotateSession(ctx, token, 0, lm.sessionTTL)
}

func (lm *LibraryManager) AddFlash(ctx context.Context, token string, f Flash) error {
	return lm.db.AddFlash(ctx, token, f)
}

func (lm *LibraryManager) PopFlashes(ctx context.Context, token string) ([]Flash, error) {
	return lm.db.PopFlashes(ctx, token)
}

// ------------------ Utilities ------------------

// PrettyBook formats a book for lists.
func PrettyBook(b *Book) string {
	return fmt.Sprintf("%-5d %-30s %-25s %-15s %-13s %3d", b.ID, truncate(b.Title, 30), truncate(b.Author.Name, 25), truncate(b.Category.Name, 15), b.ISBN, b.Quantity)
}

func truncate(s string, maxLength int) string {
	r := []rune(s)
	if len(r) <= maxLength {
		return s
	}
	return string(r[:maxLength-3]) + "..."
}
