// Package chatlog is the shared, append-only message feed of the room.
package chatlog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/4xmen/chatroom/internal/errs"
	"github.com/4xmen/chatroom/internal/models"
	"github.com/4xmen/chatroom/internal/uploads"
)

// Broadcaster is notified after every committed change to the log.
type Broadcaster interface {
	PublishMessage(msg models.Message)
	PublishCleared(by string)
}

type Log struct {
	db          *sql.DB
	broadcaster Broadcaster
	logger      *zap.Logger
	now         func() time.Time
}

func New(conn *sql.DB, logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{db: conn, logger: logger, now: time.Now}
}

// SetBroadcaster installs b; a nil b disables notifications.
func (l *Log) SetBroadcaster(b Broadcaster) {
	l.broadcaster = b
}

// Append adds a message at the end of the log, stamped with the current time.
func (l *Log) Append(ctx context.Context, author, body string, kind models.MessageKind) (models.Message, error) {
	msg, err := insertMessage(ctx, l.db, author, body, kind, l.now())
	if err != nil {
		return models.Message{}, err
	}
	l.publish(msg)
	return msg, nil
}

// ImportAt appends a message with an explicit timestamp inside tx. Nothing
// is published; the caller owns the transaction and its outcome.
func (l *Log) ImportAt(ctx context.Context, tx *sql.Tx, author, body string, kind models.MessageKind, at time.Time) (models.Message, error) {
	return insertMessage(ctx, tx, author, body, kind, at)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// validateEntry reports errs.ErrInvalidInput for a message the log would refuse.
func validateEntry(author, body string, kind models.MessageKind) error {
	if strings.TrimSpace(author) == "" {
		return fmt.Errorf("%w: author is required", errs.ErrInvalidInput)
	}
	if !kind.Valid() {
		return fmt.Errorf("%w: unknown message type %q", errs.ErrInvalidInput, kind)
	}
	if strings.TrimSpace(body) == "" {
		return fmt.Errorf("%w: message is required", errs.ErrInvalidInput)
	}
	return nil
}

func insertMessage(ctx context.Context, ex execer, author, body string, kind models.MessageKind, at time.Time) (models.Message, error) {
	if err := validateEntry(author, body, kind); err != nil {
		return models.Message{}, err
	}

	msg := models.Message{
		Author:    author,
		Body:      body,
		Kind:      kind,
		CreatedAt: at.UTC(),
	}

	result, err := ex.ExecContext(ctx,
		"INSERT INTO messages (author, body, kind, created_at) VALUES (?, ?, ?, ?)",
		msg.Author, msg.Body, string(msg.Kind), msg.CreatedAt,
	)
	if err != nil {
		return models.Message{}, fmt.Errorf("%w: append message: %v", errs.ErrStorageUnavailable, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return models.Message{}, fmt.Errorf("%w: get message id: %v", errs.ErrStorageUnavailable, err)
	}
	msg.ID = int(id)
	return msg, nil
}

// AppendFile appends a file message whose body is the stored path and
// records the file metadata in the same transaction.
func (l *Log) AppendFile(ctx context.Context, author string, file uploads.StoredFile) (models.Message, error) {
	if strings.TrimSpace(author) == "" {
		return models.Message{}, fmt.Errorf("%w: author is required", errs.ErrInvalidInput)
	}

	now := l.now().UTC()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Message{}, fmt.Errorf("%w: begin: %v", errs.ErrStorageUnavailable, err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		"INSERT INTO messages (author, body, kind, created_at) VALUES (?, ?, ?, ?)",
		author, file.Path, string(models.KindFile), now,
	)
	if err != nil {
		return models.Message{}, fmt.Errorf("%w: append file message: %v", errs.ErrStorageUnavailable, err)
	}
	messageID, err := result.LastInsertId()
	if err != nil {
		return models.Message{}, fmt.Errorf("%w: get message id: %v", errs.ErrStorageUnavailable, err)
	}

	result, err = tx.ExecContext(ctx, `
		INSERT INTO files (message_id, file_name, file_path, file_size, content_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, messageID, file.Name, file.Path, file.Size, file.ContentType, now)
	if err != nil {
		return models.Message{}, fmt.Errorf("%w: save file record: %v", errs.ErrStorageUnavailable, err)
	}
	fileID, _ := result.LastInsertId()

	if err := tx.Commit(); err != nil {
		return models.Message{}, fmt.Errorf("%w: commit: %v", errs.ErrStorageUnavailable, err)
	}

	msg := models.Message{
		ID:        int(messageID),
		Author:    author,
		Body:      file.Path,
		Kind:      models.KindFile,
		CreatedAt: now,
		File: &models.FileRecord{
			ID:          int(fileID),
			MessageID:   int(messageID),
			FileName:    file.Name,
			FilePath:    file.Path,
			FileSize:    file.Size,
			ContentType: file.ContentType,
			CreatedAt:   now,
		},
	}

	l.publish(msg)
	return msg, nil
}

func (l *Log) publish(msg models.Message) {
	l.logger.Debug("message appended", zap.Int("id", msg.ID), zap.String("author", msg.Author), zap.String("kind", string(msg.Kind)))
	if l.broadcaster != nil {
		l.broadcaster.PublishMessage(msg)
	}
}

// ListAll returns the whole history, oldest first.
func (l *Log) ListAll(ctx context.Context) ([]models.Message, error) {
	return l.ListAfter(ctx, 0)
}

// ListAfter returns the messages with an id greater than afterID, oldest first.
func (l *Log) ListAfter(ctx context.Context, afterID int) ([]models.Message, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT m.id, m.author, m.body, m.kind, m.created_at,
		       f.id, f.file_name, f.file_path, f.file_size, f.content_type, f.created_at
		FROM messages m
		LEFT JOIN files f ON f.message_id = m.id
		WHERE m.id > ?
		ORDER BY m.id ASC
	`, afterID)
	if err != nil {
		return nil, fmt.Errorf("%w: list messages: %v", errs.ErrStorageUnavailable, err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var (
			msg         models.Message
			kind        string
			fileID      sql.NullInt64
			fileName    sql.NullString
			filePath    sql.NullString
			fileSize    sql.NullInt64
			contentType sql.NullString
			fileCreated sql.NullTime
		)
		if err := rows.Scan(&msg.ID, &msg.Author, &msg.Body, &kind, &msg.CreatedAt,
			&fileID, &fileName, &filePath, &fileSize, &contentType, &fileCreated); err != nil {
			return nil, fmt.Errorf("%w: scan message: %v", errs.ErrStorageUnavailable, err)
		}
		msg.Kind = models.MessageKind(kind)
		if fileID.Valid {
			msg.File = &models.FileRecord{
				ID:          int(fileID.Int64),
				MessageID:   msg.ID,
				FileName:    fileName.String,
				FilePath:    filePath.String,
				FileSize:    fileSize.Int64,
				ContentType: contentType.String,
				CreatedAt:   fileCreated.Time,
			}
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list messages: %v", errs.ErrStorageUnavailable, err)
	}
	return messages, nil
}

// Clear irreversibly empties the log. Only accounts with the clear_log
// capability may do so; anyone else gets errs.ErrForbidden.
func (l *Log) Clear(ctx context.Context, actor models.Account) error {
	if !actor.CanClearLog() {
		return fmt.Errorf("%w: only admins can clear the chat", errs.ErrForbidden)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", errs.ErrStorageUnavailable, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM files"); err != nil {
		return fmt.Errorf("%w: delete files: %v", errs.ErrStorageUnavailable, err)
	}
	result, err := tx.ExecContext(ctx, "DELETE FROM messages")
	if err != nil {
		return fmt.Errorf("%w: delete messages: %v", errs.ErrStorageUnavailable, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", errs.ErrStorageUnavailable, err)
	}

	n, _ := result.RowsAffected()
	l.logger.Info("chat log cleared", zap.String("by", actor.Username), zap.Int64("messages", n))

	if l.broadcaster != nil {
		l.broadcaster.PublishCleared(actor.Username)
	}
	return nil
}
