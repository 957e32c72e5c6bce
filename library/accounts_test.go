package library

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateUserValidation(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	givenUser(t, db, "taken")

	tests := []struct {
		name      string
		username  string
		password1 string
		password2 string
		field     string
	}{
		{name: "missing username", username: "", password1: "long-enough", password2: "long-enough", field: "username"},
		{name: "bad characters", username: "bad name!", password1: "long-enough", password2: "long-enough", field: "username"},
		{name: "too long", username: strings.Repeat("u", 151), password1: "long-enough", password2: "long-enough", field: "username"},
		{name: "too long in characters", username: strings.Repeat("ж", 151), password1: "long-enough", password2: "long-enough", field: "username"},
		{name: "already taken", username: "taken", password1: "long-enough", password2: "long-enough", field: "username"},
		{name: "missing password", username: "carol", password1: "", password2: "", field: "password1"},
		{name: "mismatch", username: "carol", password1: "long-enough", password2: "long-enougH", field: "password2"},
		{name: "too short", username: "carol", password1: "short", password2: "short", field: "password2"},
		{name: "numeric", username: "carol", password1: "1234567890", password2: "1234567890", field: "password2"},
		{name: "same as username", username: "carolcarol", password1: "carolcarol", password2: "carolcarol", field: "password2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := db.CreateUser(ctx, tt.username, tt.password1, tt.password2)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.NotEmpty(t, verr.Get(tt.field), "expected a message on %s, got %v", tt.field, verr.Fields)
		})
	}
}

func TestCreateUserCountsCharacters(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()

	username := strings.Repeat("ж", 150)
	id, err := db.CreateUser(ctx, username, "long-enough", "long-enough")
	require.NoError(t, err)

	u, err := db.Authenticate(ctx, username, "long-enough")
	require.NoError(t, err)
	assert.Equal(t, id, u.ID)
}

func TestAuthenticate(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	id := givenUser(t, db, "alice")

	u, err := db.Authenticate(ctx, "alice", "s3cret-pass")
	require.NoError(t, err)
	assert.Equal(t, id, u.ID)
	assert.NotEqual(t, "s3cret-pass", u.PasswordHash)

	_, err = db.Authenticate(ctx, "alice", "wrong-pass")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = db.Authenticate(ctx, "nobody", "s3cret-pass")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	got, err := db.GetUser(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
	_, err = db.GetUser(ctx, id+1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSessionFlashes(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()

	s, err := db.NewSession(ctx, 0, time.Hour)
	require.NoError(t, err)
	assert.False(t, s.Authenticated())

	require.NoError(t, db.AddFlash(ctx, s.Token, Flash{Level: FlashSuccess, Message: "one"}))
	require.NoError(t, db.AddFlash(ctx, s.Token, Flash{Level: FlashError, Message: "two"}))

	flashes, err := db.PopFlashes(ctx, s.Token)
	require.NoError(t, err)
	assert.Equal(t, []Flash{{Level: FlashSuccess, Message: "one"}, {Level: FlashError, Message: "two"}}, flashes)

	flashes, err = db.PopFlashes(ctx, s.Token)
	require.NoError(t, err)
	assert.Empty(t, flashes)

	assert.ErrorIs(t, db.AddFlash(ctx, "missing", Flash{Message: "x"}), ErrNotFound)
}

func TestRotateSessionCarriesFlashes(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	alice := givenUser(t, db, "alice")

	anon, err := db.NewSession(ctx, 0, time.Hour)
	require.NoError(t, err)
	require.NoError(t, db.AddFlash(ctx, anon.Token, Flash{Level: FlashInfo, Message: "carry me"}))

	s, err := db.RotateSession(ctx, anon.Token, alice, time.Hour)
	require.NoError(t, err)
	assert.NotEqual(t, anon.Token, s.Token)
	assert.True(t, s.Authenticated())

	_, err = db.GetSession(ctx, anon.Token)
	assert.ErrorIs(t, err, ErrNotFound, "old token is gone")

	loaded, err := db.GetSession(ctx, s.Token)
	require.NoError(t, err)
	assert.Equal(t, alice, loaded.UserID)
	assert.Equal(t, []Flash{{Level: FlashInfo, Message: "carry me"}}, loaded.Flashes)
}

func TestExpiredSessions(t *testing.T) {
	clock := newTestClock()
	db := tempDB(t, WithClock(clock.Now))
	ctx := context.Background()

	short, err := db.NewSession(ctx, 0, time.Minute)
	require.NoError(t, err)
	long, err := db.NewSession(ctx, 0, time.Hour)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	_, err = db.GetSession(ctx, short.Token)
	assert.ErrorIs(t, err, ErrNotFound)

	clock.Advance(2 * time.Hour)
	n, err := db.DeleteExpiredSessions(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	_, err = db.GetSession(ctx, long.Token)
	assert.ErrorIs(t, err, ErrNotFound)
}
