// Package session is the session gate: it binds an authenticated account to
// an explicit, expiring session that clients reference through a signed token.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/4xmen/chatroom/internal/errs"
	"github.com/4xmen/chatroom/internal/models"
)

// Claims carries the session id in the registered jti claim.
type Claims struct {
	UserID   int    `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

type Gate struct {
	db     *sql.DB
	secret []byte
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

func New(conn *sql.DB, secret string, logger *zap.Logger) *Gate {
	return NewWithTTL(conn, secret, 24*time.Hour, logger)
}

func NewWithTTL(conn *sql.DB, secret string, ttl time.Duration, logger *zap.Logger) *Gate {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Gate{
		db:     conn,
		secret: []byte(secret),
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// Create opens a session for account and returns it with its bearer token.
func (g *Gate) Create(ctx context.Context, account models.Account) (models.Session, string, error) {
	now := g.now().UTC()
	sess := models.Session{
		ID:        uuid.NewString(),
		AccountID: account.ID,
		Username:  account.Username,
		CreatedAt: now,
		ExpiresAt: now.Add(g.ttl),
	}

	_, err := g.db.ExecContext(ctx,
		"INSERT INTO sessions (id, user_id, username, created_at, expires_at) VALUES (?, ?, ?, ?, ?)",
		sess.ID, sess.AccountID, sess.Username, sess.CreatedAt, sess.ExpiresAt,
	)
	if err != nil {
		return models.Session{}, "", fmt.Errorf("%w: create session: %v", errs.ErrStorageUnavailable, err)
	}

	token, err := g.sign(sess)
	if err != nil {
		g.Destroy(ctx, sess.ID)
		return models.Session{}, "", err
	}

	g.logger.Debug("session created", zap.String("session_id", sess.ID), zap.String("username", sess.Username))
	return sess, token, nil
}

func (g *Gate) sign(sess models.Session) (string, error) {
	claims := Claims{
		UserID:   sess.AccountID,
		Username: sess.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sess.ID,
			ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(sess.CreatedAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(g.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// Resolve validates token and returns the live session it references.
func (g *Gate) Resolve(ctx context.Context, tokenString string) (models.Session, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return g.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(g.now))
	if err != nil {
		return models.Session{}, fmt.Errorf("%w: %v", errs.ErrSessionNotFound, err)
	}
	if claims.ID == "" {
		return models.Session{}, fmt.Errorf("%w: token has no session id", errs.ErrSessionNotFound)
	}

	var sess models.Session
	err = g.db.QueryRowContext(ctx,
		"SELECT id, user_id, username, created_at, expires_at FROM sessions WHERE id = ?",
		claims.ID,
	).Scan(&sess.ID, &sess.AccountID, &sess.Username, &sess.CreatedAt, &sess.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Session{}, errs.ErrSessionNotFound
		}
		return models.Session{}, fmt.Errorf("%w: query session: %v", errs.ErrStorageUnavailable, err)
	}

	if sess.Expired(g.now()) {
		g.Destroy(ctx, sess.ID)
		return models.Session{}, errs.ErrSessionNotFound
	}

	return sess, nil
}

// Destroy ends the session. Destroying an unknown session is not an error.
func (g *Gate) Destroy(ctx context.Context, id string) error {
	if _, err := g.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id); err != nil {
		return fmt.Errorf("%w: delete session: %v", errs.ErrStorageUnavailable, err)
	}
	g.logger.Debug("session destroyed", zap.String("session_id", id))
	return nil
}

// PurgeExpired removes every expired session and returns how many went.
func (g *Gate) PurgeExpired(ctx context.Context) (int64, error) {
	result, err := g.db.ExecContext(ctx, "DELETE FROM sessions WHERE expires_at <= ?", g.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("%w: purge sessions: %v", errs.ErrStorageUnavailable, err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// RunJanitor purges expired sessions every interval until ctx is done.
func (g *Gate) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := g.PurgeExpired(ctx)
			if err != nil {
				g.logger.Warn("session purge failed", zap.Error(err))
				continue
			}
			if n > 0 {
				g.logger.Info("purged expired sessions", zap.Int64("count", n))
			}
		}
	}
}
