package library

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type sessionRow struct {
	Token     string        `db:"token"`
	UserID    sql.NullInt64 `db:"user_id"`
	Flashes   string        `db:"flashes"`
	CreatedAt time.Time     `db:"created_at"`
	ExpiresAt int64         `db:"expires_at"`
}

func (r *sessionRow) session() (*Session, error) {
	s := &Session{
		Token:     r.Token,
		UserID:    r.UserID.Int64,
		CreatedAt: r.CreatedAt,
		ExpiresAt: time.Unix(r.ExpiresAt, 0).UTC(),
	}
	if err := json.UnmarshalFromString(r.Flashes, &s.Flashes); err != nil {
		return nil, fmt.Errorf("decode flashes: %w", err)
	}
	return s, nil
}

// NewSession starts a session that lives for ttl. userID 0 makes an anonymous
// session.
func (d *Database) NewSession(ctx context.Context, userID int64, ttl time.Duration) (*Session, error) {
	var s *Session
	err := d.inTx(ctx, "new session", func(tx *sqlx.Tx) error {
		var err error
		s, err = d.insertSession(ctx, tx, userID, ttl, nil)
		return err
	})
	return s, err
}

func (d *Database) insertSession(ctx context.Context, tx *sqlx.Tx, userID int64, ttl time.Duration, flashes []Flash) (*Session, error) {
	now := d.now().UTC()
	s := &Session{
		Token:     uuid.NewString(),
		UserID:    userID,
		Flashes:   flashes,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl).Truncate(time.Second),
	}
	encoded, err := encodeFlashes(flashes)
	if err != nil {
		return nil, err
	}
	var uid sql.NullInt64
	if userID != 0 {
		uid = sql.NullInt64{Int64: userID, Valid: true}
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO sessions(token,user_id,flashes,created_at,expires_at) VALUES(?,?,?,?,?)`,
		s.Token, uid, encoded, s.CreatedAt, s.ExpiresAt.Unix())
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return s, nil
}

// GetSession loads a live session. Expired sessions are deleted and reported
// as ErrNotFound.
func (d *Database) GetSession(ctx context.Context, token string) (*Session, error) {
	var row sessionRow
	err := d.db.GetContext(ctx, &row, `SELECT token,user_id,flashes,created_at,expires_at FROM sessions WHERE token=?`, token)
	if noRows(err) {
		return nil, fmt.Errorf("session: %w", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if !d.now().Before(time.Unix(row.ExpiresAt, 0)) {
		if err := d.DeleteSession(ctx, token); err != nil {
			d.logger.Warn("failed to delete expired session", "error", err)
		}
		return nil, fmt.Errorf("session expired: %w", ErrNotFound)
	}
	return row.session()
}

// RotateSession replaces oldToken with a fresh session bound to userID,
// carrying over any pending flash messages. An unknown oldToken is fine.
func (d *Database) RotateSession(ctx context.Context, oldToken string, userID int64, ttl time.Duration) (*Session, error) {
	var s *Session
	err := d.inTx(ctx, "rotate session", func(tx *sqlx.Tx) error {
		var pending []Flash
		if oldToken != "" {
			var raw string
			err := tx.GetContext(ctx, &raw, `SELECT flashes FROM sessions WHERE token=?`, oldToken)
			if err != nil && !noRows(err) {
				return err
			}
			if raw != "" {
				if err := json.UnmarshalFromString(raw, &pending); err != nil {
					return fmt.Errorf("decode flashes: %w", err)
				}
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE token=?`, oldToken); err != nil {
				return err
			}
		}
		var err error
		s, err = d.insertSession(ctx, tx, userID, ttl, pending)
		return err
	})
	return s, err
}

func (d *Database) DeleteSession(ctx context.Context, token string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM sessions WHERE token=?`, token)
	return err
}

// DeleteExpiredSessions purges sessions past their expiry and reports how many went.
func (d *Database) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	res, err := d.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, d.now().Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// AddFlash queues a message on the session.
func (d *Database) AddFlash(ctx context.Context, token string, f Flash) error {
	return d.inTx(ctx, "add flash", func(tx *sqlx.Tx) error {
		flashes, err := loadFlashes(ctx, tx, token)
		if err != nil {
			return err
		}
		return storeFlashes(ctx, tx, token, append(flashes, f))
	})
}

// PopFlashes returns and clears the queued messages.
func (d *Database) PopFlashes(ctx context.Context, token string) ([]Flash, error) {
	var flashes []Flash
	err := d.inTx(ctx, "pop flashes", func(tx *sqlx.Tx) error {
		var err error
		if flashes, err = loadFlashes(ctx, tx, token); err != nil {
			return err
		}
		if len(flashes) == 0 {
			return nil
		}
		return storeFlashes(ctx, tx, token, nil)
	})
	return flashes, err
}

func loadFlashes(ctx context.Context, tx *sqlx.Tx, token string) ([]Flash, error) {
	var raw string
	err := tx.GetContext(ctx, &raw, `SELECT flashes FROM sessions WHERE token=?`, token)
	if noRows(err) {
		return nil, fmt.Errorf("session: %w", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var flashes []Flash
	if err := json.UnmarshalFromString(raw, &flashes); err != nil {
		return nil, fmt.Errorf("decode flashes: %w", err)
	}
	return flashes, nil
}

func storeFlashes(ctx context.Context, tx *sqlx.Tx, token string, flashes []Flash) error {
	encoded, err := encodeFlashes(flashes)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `UPDATE sessions SET flashes=? WHERE token=?`, encoded, token)
	return err
}

func encodeFlashes(flashes []Flash) (string, error) {
	if len(flashes) == 0 {
		return "[]", nil
	}
	s, err := json.MarshalToString(flashes)
	if err != nil {
		return "", fmt.Errorf("encode flashes: %w", err)
	}
	return s, nil
}
