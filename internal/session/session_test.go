package session

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/4xmen/chatroom/internal/db"
	"github.com/4xmen/chatroom/internal/errs"
	"github.com/4xmen/chatroom/internal/models"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func setup(t *testing.T) (*Gate, *fakeClock, models.Account) {
	t.Helper()

	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	res, err := database.GetConn().Exec("INSERT INTO users (username, password_hash) VALUES ('alice', 'x')")
	require.NoError(t, err)
	id, _ := res.LastInsertId()

	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	gate := NewWithTTL(database.GetConn(), "test-secret", time.Hour, zap.NewNop())
	gate.now = clock.Now

	return gate, clock, models.Account{ID: int(id), Username: "alice"}
}

func TestCreateAndResolve(t *testing.T) {
	gate, _, account := setup(t)
	ctx := context.Background()

	sess, token, err := gate.Create(ctx, account)
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
	assert.NotEmpty(t, token)
	assert.Equal(t, sess.CreatedAt.Add(time.Hour), sess.ExpiresAt)

	got, err := gate.Resolve(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)
	assert.Equal(t, account.ID, got.AccountID)
	assert.Equal(t, "alice", got.Username)
}

func TestSessionsAreIndependent(t *testing.T) {
	gate, _, account := setup(t)
	ctx := context.Background()

	first, firstToken, err := gate.Create(ctx, account)
	require.NoError(t, err)
	_, secondToken, err := gate.Create(ctx, account)
	require.NoError(t, err)

	require.NoError(t, gate.Destroy(ctx, first.ID))

	_, err = gate.Resolve(ctx, firstToken)
	assert.ErrorIs(t, err, errs.ErrSessionNotFound)

	_, err = gate.Resolve(ctx, secondToken)
	assert.NoError(t, err)
}

func TestResolveRejectsExpired(t *testing.T) {
	gate, clock, account := setup(t)
	ctx := context.Background()

	_, token, err := gate.Create(ctx, account)
	require.NoError(t, err)

	clock.t = clock.t.Add(2 * time.Hour)

	_, err = gate.Resolve(ctx, token)
	assert.ErrorIs(t, err, errs.ErrSessionNotFound)
}

func TestResolveRejectsForeignTokens(t *testing.T) {
	gate, _, account := setup(t)
	ctx := context.Background()

	_, err := gate.Resolve(ctx, "not-a-token")
	assert.ErrorIs(t, err, errs.ErrSessionNotFound)

	other := NewWithTTL(gate.db, "other-secret", time.Hour, nil)
	other.now = gate.now
	_, token, err := other.Create(ctx, account)
	require.NoError(t, err)

	_, err = gate.Resolve(ctx, token)
	assert.ErrorIs(t, err, errs.ErrSessionNotFound)

	// A correctly signed token without a session id is refused as well.
	claims := Claims{
		UserID:   account.ID,
		Username: account.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(gate.now().Add(time.Hour)),
		},
	}
	bare, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(gate.secret)
	require.NoError(t, err)
	_, err = gate.Resolve(ctx, bare)
	assert.ErrorIs(t, err, errs.ErrSessionNotFound)
}

func TestPurgeExpired(t *testing.T) {
	gate, clock, account := setup(t)
	ctx := context.Background()

	_, _, err := gate.Create(ctx, account)
	require.NoError(t, err)
	clock.t = clock.t.Add(30 * time.Minute)
	_, keptToken, err := gate.Create(ctx, account)
	require.NoError(t, err)

	clock.t = clock.t.Add(45 * time.Minute)

	n, err := gate.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = gate.Resolve(ctx, keptToken)
	assert.NoError(t, err)
}
