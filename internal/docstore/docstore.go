// Package docstore reads and writes the flat JSON documents the chat room
// used before it had a database: users.json (username to password digest)
// and chat_data.json (the message array). They survive as an import and
// export format.
package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/samber/lo"

	"github.com/4xmen/chatroom/internal/errs"
	"github.com/4xmen/chatroom/internal/models"
)

// Users is the credential document: username to password hash.
type Users map[string]string

// ChatEntry is one element of the chat document.
type ChatEntry struct {
	User    string `json:"user"`
	Message string `json:"message"`
	Type    string `json:"type"`
	Time    string `json:"time"`
}

func EntryFromMessage(m models.Message) ChatEntry {
	return ChatEntry{
		User:    m.Author,
		Message: m.Body,
		Type:    string(m.Kind),
		Time:    m.DisplayTime(),
	}
}

// LoadUsers reads the credential document. A missing file is an empty document.
func LoadUsers(path string) (Users, error) {
	users := Users{}
	if err := readJSON(path, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func SaveUsers(path string, users Users) error {
	if users == nil {
		users = Users{}
	}
	return writeAtomic(path, users)
}

// LoadChat reads the chat document. A missing file is an empty document.
func LoadChat(path string) ([]ChatEntry, error) {
	entries := []ChatEntry{}
	if err := readJSON(path, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func SaveChat(path string, entries []ChatEntry) error {
	if entries == nil {
		entries = []ChatEntry{}
	}
	return writeAtomic(path, entries)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("%w: read %s: %v", errs.ErrStorageUnavailable, path, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: parse %s: %v", errs.ErrInvalidInput, path, err)
	}
	return nil
}

// writeAtomic replaces path with the JSON encoding of v through a temp file
// in the same directory, so readers see either the old or the new document.
func writeAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create %s: %v", errs.ErrStorageUnavailable, dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %v", errs.ErrStorageUnavailable, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%w: write %s: %v", errs.ErrStorageUnavailable, path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%w: sync %s: %v", errs.ErrStorageUnavailable, path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: close %s: %v", errs.ErrStorageUnavailable, path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: replace %s: %v", errs.ErrStorageUnavailable, path, err)
	}
	return nil
}

type AccountSource interface {
	Accounts(ctx context.Context) ([]models.Account, error)
}

type MessageSource interface {
	ListAll(ctx context.Context) ([]models.Message, error)
}

type AccountSink interface {
	ImportTx(ctx context.Context, tx *sql.Tx, username, passwordHash string) (bool, error)
}

type MessageSink interface {
	ImportAt(ctx context.Context, tx *sql.Tx, author, body string, kind models.MessageKind, at time.Time) (models.Message, error)
}

type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

type Summary struct {
	Accounts        int `json:"accounts"`
	SkippedAccounts int `json:"skipped_accounts"`
	InvalidAccounts int `json:"invalid_accounts"`
	Messages        int `json:"messages"`
	InvalidMessages int `json:"invalid_messages"`
}

// Export writes every account and the full history to the two documents.
// Empty paths are skipped.
func Export(ctx context.Context, accounts AccountSource, log MessageSource, usersPath, chatPath string) (Summary, error) {
	var summary Summary

	if usersPath != "" {
		list, err := accounts.Accounts(ctx)
		if err != nil {
			return summary, err
		}
		users := lo.SliceToMap(list, func(a models.Account) (string, string) {
			return a.Username, a.PasswordHash
		})
		if err := SaveUsers(usersPath, users); err != nil {
			return summary, err
		}
		summary.Accounts = len(users)
	}

	if chatPath != "" {
		messages, err := log.ListAll(ctx)
		if err != nil {
			return summary, err
		}
		if err := SaveChat(chatPath, lo.Map(messages, func(m models.Message, _ int) ChatEntry {
			return EntryFromMessage(m)
		})); err != nil {
			return summary, err
		}
		summary.Messages = len(messages)
	}

	return summary, nil
}

// Import loads both documents into the stores in a single transaction:
// either everything lands or nothing does. Accounts that already exist are
// kept as they are. Entries the stores refuse (a blank username or message,
// an unknown type) are skipped and counted. Messages are appended in
// document order; their HH:MM stamps are placed on day, since the
// documents carry no date.
func Import(ctx context.Context, conn TxBeginner, accounts AccountSink, log MessageSink, usersPath, chatPath string, day time.Time) (Summary, error) {
	var summary Summary

	// Parse both documents before touching the database.
	var users Users
	if usersPath != "" {
		var err error
		if users, err = LoadUsers(usersPath); err != nil {
			return summary, err
		}
	}
	var entries []ChatEntry
	if chatPath != "" {
		var err error
		if entries, err = LoadChat(chatPath); err != nil {
			return summary, err
		}
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return summary, fmt.Errorf("%w: begin import: %v", errs.ErrStorageUnavailable, err)
	}
	defer tx.Rollback()

	names := lo.Keys(map[string]string(users))
	slices.Sort(names)
	for _, name := range names {
		created, err := accounts.ImportTx(ctx, tx, name, users[name])
		switch {
		case errors.Is(err, errs.ErrInvalidInput):
			summary.InvalidAccounts++
		case err != nil:
			return Summary{}, fmt.Errorf("import account %q: %w", name, err)
		case created:
			summary.Accounts++
		default:
			summary.SkippedAccounts++
		}
	}

	for i, entry := range entries {
		kind := models.MessageKind(entry.Type)
		if entry.Type == "" {
			kind = models.KindText
		}
		_, err := log.ImportAt(ctx, tx, entry.User, entry.Message, kind, stampOn(day, entry.Time))
		switch {
		case errors.Is(err, errs.ErrInvalidInput):
			summary.InvalidMessages++
		case err != nil:
			return Summary{}, fmt.Errorf("import message %d: %w", i, err)
		default:
			summary.Messages++
		}
	}

	if err := tx.Commit(); err != nil {
		return Summary{}, fmt.Errorf("%w: commit import: %v", errs.ErrStorageUnavailable, err)
	}
	return summary, nil
}

func stampOn(day time.Time, clock string) time.Time {
	t, err := time.ParseInLocation(models.DisplayTimeLayout, clock, day.Location())
	if err != nil {
		return day
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, day.Location())
}
