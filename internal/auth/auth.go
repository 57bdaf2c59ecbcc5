// Package auth is the credential store: it maps usernames to password
// hashes and roles, and verifies login attempts against them.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/4xmen/chatroom/internal/db"
	"github.com/4xmen/chatroom/internal/errs"
	"github.com/4xmen/chatroom/internal/models"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernamePattern.MatchString(fl.Field().String())
	})
	return v
}

type credentials struct {
	Username string `validate:"required,min=3,max=32,username"`
	Password string `validate:"required,min=6,max=72"`
}

type Service struct {
	db            *sql.DB
	logger        *zap.Logger
	adminUsername string
	cost          int

	dummyOnce sync.Once
	dummyHash []byte
}

// New returns a credential store backed by the users table. An account
// registered under adminUsername is given the admin role.
func New(conn *sql.DB, adminUsername string, logger *zap.Logger) *Service {
	return NewWithCost(conn, adminUsername, logger, bcrypt.DefaultCost)
}

func NewWithCost(conn *sql.DB, adminUsername string, logger *zap.Logger, cost int) *Service {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		db:            conn,
		logger:        logger,
		adminUsername: strings.TrimSpace(adminUsername),
		cost:          cost,
	}
}

func validateCredentials(username, password string) error {
	err := validate.Struct(credentials{Username: username, Password: password})
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %v", errs.ErrInvalidInput, err)
	}

	fe := verrs[0]
	switch {
	case fe.Field() == "Username" && fe.Tag() == "username":
		return fmt.Errorf("%w: username can only contain letters, numbers, and underscores", errs.ErrInvalidInput)
	case fe.Field() == "Username":
		return fmt.Errorf("%w: username must be between 3 and 32 characters", errs.ErrInvalidInput)
	case fe.Tag() == "max":
		return fmt.Errorf("%w: password must be at most 72 characters", errs.ErrInvalidInput)
	default:
		return fmt.Errorf("%w: password must be at least 6 characters", errs.ErrInvalidInput)
	}
}

// Register creates a member account. A taken username yields
// errs.ErrDuplicateUser and leaves the existing hash untouched.
func (s *Service) Register(ctx context.Context, username, password string) (models.Account, error) {
	if err := validateCredentials(username, password); err != nil {
		return models.Account{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return models.Account{}, fmt.Errorf("failed to hash password: %w", err)
	}

	role := models.RoleMember
	if s.adminUsername != "" && username == s.adminUsername {
		role = models.RoleAdmin
	}

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		"INSERT INTO users (username, password_hash, role, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		username, string(hash), string(role), now, now,
	)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return models.Account{}, errs.ErrDuplicateUser
		}
		return models.Account{}, fmt.Errorf("%w: register user: %v", errs.ErrStorageUnavailable, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return models.Account{}, fmt.Errorf("%w: get user id: %v", errs.ErrStorageUnavailable, err)
	}

	s.logger.Info("account registered", zap.String("username", username), zap.String("role", string(role)))

	return models.Account{
		ID:           int(id),
		Username:     username,
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    now,
	}, nil
}

// Authenticate succeeds iff username exists and password matches its hash.
// The username is matched exactly. Unknown users and wrong passwords are
// indistinguishable to the caller.
func (s *Service) Authenticate(ctx context.Context, username, password string) (models.Account, error) {
	account, err := s.Lookup(ctx, username)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			// Burn the same bcrypt work as a real comparison.
			_ = bcrypt.CompareHashAndPassword(s.dummy(), []byte(password))
			return models.Account{}, errs.ErrInvalidCredentials
		}
		return models.Account{}, err
	}

	ok, legacy := verifyPassword(account.PasswordHash, password)
	if !ok {
		return models.Account{}, errs.ErrInvalidCredentials
	}

	if legacy {
		s.upgradeHash(ctx, &account, password)
	}

	return account, nil
}

func (s *Service) upgradeHash(ctx context.Context, account *models.Account, password string) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		s.logger.Warn("failed to rehash legacy password", zap.String("username", account.Username), zap.Error(err))
		return
	}

	_, err = s.db.ExecContext(ctx,
		"UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ? AND password_hash = ?",
		string(hash), time.Now().UTC(), account.ID, account.PasswordHash,
	)
	if err != nil {
		s.logger.Warn("failed to store upgraded password hash", zap.String("username", account.Username), zap.Error(err))
		return
	}

	account.PasswordHash = string(hash)
	s.logger.Info("upgraded legacy password hash", zap.String("username", account.Username))
}

func (s *Service) dummy() []byte {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("chatroom-dummy-password"), s.cost)
	})
	return s.dummyHash
}

// Lookup returns the account for username or errs.ErrNotFound.
func (s *Service) Lookup(ctx context.Context, username string) (models.Account, error) {
	var account models.Account
	var role string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, username, password_hash, role, created_at FROM users WHERE username = ?",
		username,
	).Scan(&account.ID, &account.Username, &account.PasswordHash, &role, &account.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Account{}, errs.ErrNotFound
		}
		return models.Account{}, fmt.Errorf("%w: query user: %v", errs.ErrStorageUnavailable, err)
	}
	account.Role = models.Role(role)
	return account, nil
}

// LookupID returns the account with the given id or errs.ErrNotFound.
func (s *Service) LookupID(ctx context.Context, id int) (models.Account, error) {
	var username string
	err := s.db.QueryRowContext(ctx, "SELECT username FROM users WHERE id = ?", id).Scan(&username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Account{}, errs.ErrNotFound
		}
		return models.Account{}, fmt.Errorf("%w: query user: %v", errs.ErrStorageUnavailable, err)
	}
	return s.Lookup(ctx, username)
}

// SetRole changes the role of an existing account.
func (s *Service) SetRole(ctx context.Context, username string, role models.Role) error {
	if !role.Valid() {
		return fmt.Errorf("%w: unknown role %q", errs.ErrInvalidInput, role)
	}

	result, err := s.db.ExecContext(ctx,
		"UPDATE users SET role = ?, updated_at = ? WHERE username = ?",
		string(role), time.Now().UTC(), username,
	)
	if err != nil {
		return fmt.Errorf("%w: update role: %v", errs.ErrStorageUnavailable, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return errs.ErrNotFound
	}

	s.logger.Info("account role changed", zap.String("username", username), zap.String("role", string(role)))
	return nil
}

// Accounts returns every account ordered by registration.
func (s *Service) Accounts(ctx context.Context) ([]models.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, username, password_hash, role, created_at FROM users ORDER BY id",
	)
	if err != nil {
		return nil, fmt.Errorf("%w: list users: %v", errs.ErrStorageUnavailable, err)
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		var account models.Account
		var role string
		if err := rows.Scan(&account.ID, &account.Username, &account.PasswordHash, &role, &account.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan user: %v", errs.ErrStorageUnavailable, err)
		}
		account.Role = models.Role(role)
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list users: %v", errs.ErrStorageUnavailable, err)
	}
	return accounts, nil
}

// ImportTx stores an account with an already computed hash (bcrypt or the
// legacy sha256 hex digest) inside tx. Existing usernames are left alone
// and reported with created=false.
func (s *Service) ImportTx(ctx context.Context, tx *sql.Tx, username, passwordHash string) (bool, error) {
	return s.importAccount(ctx, tx, username, passwordHash)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Service) importAccount(ctx context.Context, ex execer, username, passwordHash string) (bool, error) {
	if strings.TrimSpace(username) == "" || passwordHash == "" {
		return false, fmt.Errorf("%w: username and hash are required", errs.ErrInvalidInput)
	}

	role := models.RoleMember
	if s.adminUsername != "" && username == s.adminUsername {
		role = models.RoleAdmin
	}

	now := time.Now().UTC()
	result, err := ex.ExecContext(ctx,
		"INSERT OR IGNORE INTO users (username, password_hash, role, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		username, passwordHash, string(role), now, now,
	)
	if err != nil {
		return false, fmt.Errorf("%w: import user: %v", errs.ErrStorageUnavailable, err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// LegacyDigest is the unsalted sha256 hex digest used by the flat-file
// credential document.
func LegacyDigest(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

func isLegacyDigest(hash string) bool {
	if len(hash) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(hash)
	return err == nil
}

// verifyPassword reports whether password matches stored, and whether
// stored is a legacy digest that should be upgraded.
func verifyPassword(stored, password string) (ok bool, legacy bool) {
	if isLegacyDigest(stored) {
		want := LegacyDigest(password)
		return subtle.ConstantTimeCompare([]byte(strings.ToLower(stored)), []byte(want)) == 1, true
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil, false
}
