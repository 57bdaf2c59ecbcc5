// Package views renders domain records into the JSON shapes served to clients.
package views

import (
	"net/url"
	"path/filepath"
	"time"

	"github.com/samber/lo"

	"github.com/4xmen/chatroom/internal/models"
	"github.com/4xmen/chatroom/internal/uploads"
)

// FilesRoute is where stored uploads are served from.
const FilesRoute = "/api/files/"

type Message struct {
	ID          int       `json:"id"`
	User        string    `json:"user"`
	Message     string    `json:"message"`
	Type        string    `json:"type"`
	Time        string    `json:"time"`
	CreatedAt   time.Time `json:"created_at"`
	FileName    string    `json:"file_name,omitempty"`
	FileURL     string    `json:"file_url,omitempty"`
	FileSize    int64     `json:"file_size,omitempty"`
	ContentType string    `json:"file_content_type,omitempty"`
	IsImage     bool      `json:"is_image,omitempty"`
}

func NewMessage(m models.Message) Message {
	v := Message{
		ID:        m.ID,
		User:      m.Author,
		Message:   m.Body,
		Type:      string(m.Kind),
		Time:      m.DisplayTime(),
		CreatedAt: m.CreatedAt,
	}

	if m.Kind != models.KindFile {
		return v
	}

	// Imported history has file messages without a file record; the body
	// is then the only pointer to the stored name.
	name := filepath.Base(m.Body)
	if m.File != nil {
		name = m.File.FileName
		v.FileSize = m.File.FileSize
		v.ContentType = m.File.ContentType
	}
	v.FileName = name
	v.FileURL = FilesRoute + url.PathEscape(name)
	v.IsImage = uploads.IsImage(name)
	return v
}

func NewMessages(messages []models.Message) []Message {
	return lo.Map(messages, func(m models.Message, _ int) Message {
		return NewMessage(m)
	})
}

type Account struct {
	ID           int       `json:"id"`
	Username     string    `json:"username"`
	Role         string    `json:"role"`
	CanClearChat bool      `json:"can_clear_chat"`
	CreatedAt    time.Time `json:"created_at"`
}

func NewAccount(a models.Account) Account {
	return Account{
		ID:           a.ID,
		Username:     a.Username,
		Role:         string(a.Role),
		CanClearChat: a.CanClearLog(),
		CreatedAt:    a.CreatedAt,
	}
}
