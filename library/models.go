package library

import "time"

// Category groups books on the shelves (fiction, history, ...).
type Category struct {
	ID   int64  `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}

// Author is referenced by many books.
type Author struct {
	ID   int64  `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}

// Book is a catalog title. Quantity counts the copies currently on hand and is
// only ever changed by Borrow and Return.
type Book struct {
	ID          int64    `json:"id"`
	Title       string   `json:"title"`
	Author      Author   `json:"author"`
	Category    Category `json:"category"`
	ISBN        string   `json:"isbn"`
	Quantity    int      `json:"quantity"`
	Description string   `json:"description,omitempty"`
}

// Available reports whether at least one copy can be borrowed.
func (b *Book) Available() bool { return b.Quantity > 0 }

// NewBook carries the fields needed to add a title to the catalog.
type NewBook struct {
	Title       string
	AuthorID    int64
	CategoryID  int64
	ISBN        string
	Quantity    int
	Description string
}

// Loan records one user holding one physical copy of a book.
// ReturnDate stays nil while the loan is active.
type Loan struct {
	ID         int64      `json:"id"`
	UserID     int64      `json:"user_id"`
	Book       *Book      `json:"book"`
	BorrowDate time.Time  `json:"borrow_date"`
	ReturnDate *time.Time `json:"return_date,omitempty"`
}

// Active reports whether the copy is still out.
func (l *Loan) Active() bool { return l.ReturnDate == nil }

// User is a registered account.
type User struct {
	ID           int64     `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	PasswordHash string    `db:"password_hash" json:"-"` // Don't serialize password hash
	DateJoined   time.Time `db:"date_joined" json:"date_joined"`
}

// Flash levels, mirrored as CSS classes by the templates.
const (
	FlashSuccess = "success"
	FlashInfo    = "info"
	FlashError   = "error"
)

// Flash is a one-shot message shown on the next rendered page.
type Flash struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Session ties a browser cookie to an optional user. Anonymous sessions exist
// only to carry flash messages across a redirect.
type Session struct {
	Token     string
	UserID    int64 // 0 when anonymous
	Flashes   []Flash
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Authenticated reports whether a user is bound to the session.
func (s *Session) Authenticated() bool { return s.UserID != 0 }
