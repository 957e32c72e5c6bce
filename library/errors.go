package library

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned for unknown books and loans, and for loans that
	// belong to somebody else.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable is returned when a book has no copies left.
	ErrUnavailable = errors.New("no copies available")
	// ErrAlreadyReturned is returned when closing a loan that is already closed.
	ErrAlreadyReturned = errors.New("loan already returned")
	// ErrDuplicateISBN is returned when a book's isbn is already in the catalog.
	ErrDuplicateISBN = errors.New("isbn already exists")
	// ErrInvalidCredentials is returned by Authenticate for any bad username or password.
	ErrInvalidCredentials = errors.New("invalid username or password")
)

// ValidationError collects per-field messages for form input.
type ValidationError struct {
	Fields map[string][]string
}

func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], msg)
}

// Get returns the messages for one field.
func (e *ValidationError) Get(field string) []string { return e.Fields[field] }

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, strings.Join(e.Fields[k], "; ")))
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// orNil returns nil when no field failed, so callers can write `return v.orNil()`.
func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}
