package library

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

const (
	maxUsernameLength = 150
	minPasswordLength = 8
)

var usernamePattern = regexp.MustCompile(`^[\p{L}\p{N}_.@+-]+$`)

// PasswordCost is the bcrypt cost used for new accounts. Tests lower it.
var PasswordCost = bcrypt.DefaultCost

// CreateUser validates a signup form and stores the account with a bcrypt
// hash of the password. Every problem is reported in a *ValidationError.
func (d *Database) CreateUser(ctx context.Context, username, password1, password2 string) (int64, error) {
	username = strings.TrimSpace(username)

	v := &ValidationError{}
	switch {
	case username == "":
		v.Add("username", "This field is required.")
	case utf8.RuneCountInString(username) > maxUsernameLength:
		v.Add("username", fmt.Sprintf("Ensure this value has at most %d characters.", maxUsernameLength))
	case !usernamePattern.MatchString(username):
		v.Add("username", "Enter a valid username. This value may contain only letters, numbers, and @/./+/-/_ characters.")
	}

	switch {
	case password1 == "":
		v.Add("password1", "This field is required.")
	case password1 != password2:
		v.Add("password2", "The two password fields didn't match.")
	default:
		if len(password1) < minPasswordLength {
			v.Add("password2", fmt.Sprintf("This password is too short. It must contain at least %d characters.", minPasswordLength))
		}
		if strings.Trim(password1, "0123456789") == "" {
			v.Add("password2", "This password is entirely numeric.")
		}
		if strings.EqualFold(password1, username) {
			v.Add("password2", "The password is too similar to the username.")
		}
	}

	if _, ok := v.Fields["username"]; !ok && username != "" {
		var taken bool
		if err := d.db.GetContext(ctx, &taken, `SELECT EXISTS(SELECT 1 FROM users WHERE username=?)`, username); err != nil {
			return 0, err
		}
		if taken {
			v.Add("username", "A user with that username already exists.")
		}
	}
	if err := v.orNil(); err != nil {
		return 0, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password1), PasswordCost)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}

	res, err := d.addUserStmt.ExecContext(ctx, username, string(hash), d.now().UTC())
	if err != nil {
		if isUniqueViolation(err) {
			v.Add("username", "A user with that username already exists.")
			return 0, v
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	d.logger.Info("user created", "user_id", id, "username", username)
	return id, nil
}

// Authenticate checks a username and password. Unknown users and wrong
// passwords both yield ErrInvalidCredentials.
func (d *Database) Authenticate(ctx context.Context, username, password string) (*User, error) {
	var u User
	err := d.db.GetContext(ctx, &u, `SELECT id,username,password_hash,date_joined FROM users WHERE username=?`, strings.TrimSpace(username))
	if noRows(err) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	return &u, nil
}

// GetUser fetches a single user.
func (d *Database) GetUser(ctx context.Context, id int64) (*User, error) {
	var u User
	err := d.db.GetContext(ctx, &u, `SELECT id,username,password_hash,date_joined FROM users WHERE id=?`, id)
	if noRows(err) {
		return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// DeleteUser removes an account along with its loans and sessions.
func (d *Database) DeleteUser(ctx context.Context, id int64) error {
	res, err := d.db.ExecContext(ctx, `DELETE FROM users WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	return nil
}
