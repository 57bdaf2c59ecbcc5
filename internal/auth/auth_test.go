package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/4xmen/chatroom/internal/db"
	"github.com/4xmen/chatroom/internal/errs"
	"github.com/4xmen/chatroom/internal/models"
)

func newTestService(t *testing.T, admin string) *Service {
	t.Helper()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return NewWithCost(database.GetConn(), admin, zap.NewNop(), bcrypt.MinCost)
}

func TestRegisterValidation(t *testing.T) {
	svc := newTestService(t, "")
	ctx := context.Background()

	tests := []struct {
		name     string
		username string
		password string
		wantErr  error
	}{
		{name: "valid", username: "alice", password: "secret"},
		{name: "duplicate", username: "alice", password: "another", wantErr: errs.ErrDuplicateUser},
		{name: "short username", username: "ab", password: "password123", wantErr: errs.ErrInvalidInput},
		{name: "long username", username: "abcdefghijklmnopqrstuvwxyz0123456", password: "password123", wantErr: errs.ErrInvalidInput},
		{name: "invalid characters", username: "bad@name", password: "password123", wantErr: errs.ErrInvalidInput},
		{name: "short password", username: "newuser", password: "12345", wantErr: errs.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			account, err := svc.Register(ctx, tt.username, tt.password)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotZero(t, account.ID)
			assert.Equal(t, tt.username, account.Username)
			assert.Equal(t, models.RoleMember, account.Role)
		})
	}
}

func TestRegisterDuplicateKeepsOriginalHash(t *testing.T) {
	svc := newTestService(t, "")
	ctx := context.Background()

	first, err := svc.Register(ctx, "alice", "secret")
	require.NoError(t, err)

	_, err = svc.Register(ctx, "alice", "different")
	require.ErrorIs(t, err, errs.ErrDuplicateUser)

	stored, err := svc.Lookup(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, first.PasswordHash, stored.PasswordHash)

	_, err = svc.Authenticate(ctx, "alice", "secret")
	assert.NoError(t, err)
	_, err = svc.Authenticate(ctx, "alice", "different")
	assert.ErrorIs(t, err, errs.ErrInvalidCredentials)
}

func TestUsernamesAreCaseSensitive(t *testing.T) {
	svc := newTestService(t, "")
	ctx := context.Background()

	_, err := svc.Register(ctx, "alice", "secret")
	require.NoError(t, err)
	_, err = svc.Register(ctx, "Alice", "secret")
	require.NoError(t, err)
}

func TestUsernamesAreMatchedExactly(t *testing.T) {
	svc := newTestService(t, "")
	ctx := context.Background()

	_, err := svc.Register(ctx, "alice", "secret")
	require.NoError(t, err)

	for _, name := range []string{"alice  ", " alice", "alice\t"} {
		_, err := svc.Authenticate(ctx, name, "secret")
		assert.ErrorIs(t, err, errs.ErrInvalidCredentials, "%q", name)
	}

	_, err = svc.Register(ctx, " bob ", "secret")
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	_, err = svc.Lookup(ctx, "bob")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestAuthenticateScenario(t *testing.T) {
	svc := newTestService(t, "")
	ctx := context.Background()

	_, err := svc.Register(ctx, "alice", "secret")
	require.NoError(t, err)

	account, err := svc.Authenticate(ctx, "alice", "secret")
	require.NoError(t, err)
	assert.Equal(t, "alice", account.Username)

	_, err = svc.Authenticate(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, errs.ErrInvalidCredentials)

	_, err = svc.Authenticate(ctx, "bob", "x")
	assert.ErrorIs(t, err, errs.ErrInvalidCredentials)
}

func TestAdminBootstrap(t *testing.T) {
	svc := newTestService(t, "saad")
	ctx := context.Background()

	admin, err := svc.Register(ctx, "saad", "secret")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, admin.Role)
	assert.True(t, admin.CanClearLog())

	member, err := svc.Register(ctx, "Saad2", "secret")
	require.NoError(t, err)
	assert.False(t, member.CanClearLog())
}

func TestSetRole(t *testing.T) {
	svc := newTestService(t, "")
	ctx := context.Background()

	_, err := svc.Register(ctx, "carol", "secret")
	require.NoError(t, err)

	require.NoError(t, svc.SetRole(ctx, "carol", models.RoleAdmin))
	account, err := svc.Lookup(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, account.Role)

	assert.ErrorIs(t, svc.SetRole(ctx, "nobody", models.RoleAdmin), errs.ErrNotFound)
	assert.ErrorIs(t, svc.SetRole(ctx, "carol", models.Role("root")), errs.ErrInvalidInput)
}

func TestLegacyDigestIsVerifiedAndUpgraded(t *testing.T) {
	svc := newTestService(t, "")
	ctx := context.Background()

	created, err := svc.importAccount(ctx, svc.db, "dave", LegacyDigest("hunter2"))
	require.NoError(t, err)
	require.True(t, created)

	_, err = svc.Authenticate(ctx, "dave", "wrong")
	require.ErrorIs(t, err, errs.ErrInvalidCredentials)

	account, err := svc.Authenticate(ctx, "dave", "hunter2")
	require.NoError(t, err)

	stored, err := svc.Lookup(ctx, "dave")
	require.NoError(t, err)
	assert.Equal(t, account.PasswordHash, stored.PasswordHash)
	assert.False(t, isLegacyDigest(stored.PasswordHash), "hash should be upgraded to bcrypt")

	_, err = svc.Authenticate(ctx, "dave", "hunter2")
	assert.NoError(t, err)
}

func TestImportSkipsExisting(t *testing.T) {
	svc := newTestService(t, "")
	ctx := context.Background()

	_, err := svc.Register(ctx, "erin", "secret")
	require.NoError(t, err)

	created, err := svc.importAccount(ctx, svc.db, "erin", LegacyDigest("other"))
	require.NoError(t, err)
	assert.False(t, created)

	_, err = svc.Authenticate(ctx, "erin", "secret")
	assert.NoError(t, err)
}

func TestImportTxRollsBack(t *testing.T) {
	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	svc := NewWithCost(database.GetConn(), "", zap.NewNop(), bcrypt.MinCost)
	ctx := context.Background()

	tx, err := database.GetConn().BeginTx(ctx, nil)
	require.NoError(t, err)
	created, err := svc.ImportTx(ctx, tx, "frank", LegacyDigest("secret"))
	require.NoError(t, err)
	assert.True(t, created)

	_, err = svc.ImportTx(ctx, tx, "", LegacyDigest("secret"))
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	require.NoError(t, tx.Rollback())

	_, err = svc.Lookup(ctx, "frank")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestAccountsAndLookupID(t *testing.T) {
	svc := newTestService(t, "")
	ctx := context.Background()

	a, err := svc.Register(ctx, "first", "secret")
	require.NoError(t, err)
	_, err = svc.Register(ctx, "second", "secret")
	require.NoError(t, err)

	accounts, err := svc.Accounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "first", accounts[0].Username)
	assert.Equal(t, "second", accounts[1].Username)

	byID, err := svc.LookupID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", byID.Username)

	_, err = svc.LookupID(ctx, 9999)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestLegacyDigest(t *testing.T) {
	// sha256("secret")
	assert.Equal(t, "2bb80d537b1da3e38bd30361aa855686bde0eacd7162fef6a25fe97bf527a25b", LegacyDigest("secret"))
	assert.True(t, isLegacyDigest(LegacyDigest("x")))
	assert.False(t, isLegacyDigest("$2a$10$abcdefghijklmnopqrstuv"))
}
