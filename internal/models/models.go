package models

import "time"

type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleMember || r == RoleAdmin
}

type Account struct {
	ID           int       `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// CanClearLog reports whether the account holds the clear_log capability.
func (a Account) CanClearLog() bool {
	return a.Role == RoleAdmin
}

type MessageKind string

const (
	KindText MessageKind = "text"
	KindFile MessageKind = "file"
)

func (k MessageKind) Valid() bool {
	return k == KindText || k == KindFile
}

// DisplayTimeLayout is the HH:MM stamp shown next to each message.
const DisplayTimeLayout = "15:04"

type Message struct {
	ID        int         `json:"id"`
	Author    string      `json:"user"`
	Body      string      `json:"message"` // text, or the stored path for file messages
	Kind      MessageKind `json:"type"`
	CreatedAt time.Time   `json:"created_at"`
	File      *FileRecord `json:"file,omitempty"`
}

func (m Message) DisplayTime() string {
	return m.CreatedAt.Local().Format(DisplayTimeLayout)
}

type FileRecord struct {
	ID          int       `json:"id"`
	MessageID   int       `json:"message_id"`
	FileName    string    `json:"file_name"`
	FilePath    string    `json:"-"`
	FileSize    int64     `json:"file_size"`
	ContentType string    `json:"content_type"`
	CreatedAt   time.Time `json:"created_at"`
}

type Session struct {
	ID        string    `json:"id"`
	AccountID int       `json:"user_id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
