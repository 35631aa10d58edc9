package models

import "time"

type User struct {
	Id           string
	Username     string
	PasswordHash string
	Provider     string
	ProviderId   string
	Created      int64
}

// HasPassword reports whether the user can authenticate with a password.
// OAuth-created accounts carry no usable password digest.
func (u User) HasPassword() bool {
	return u.PasswordHash != ""
}

type Document struct {
	Id         string   `json:"id"`
	OwnerId    string   `json:"ownerId"`
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	Language   string   `json:"language"`
	Created    int64    `json:"created"`
	Updated    int64    `json:"updated"`
	SharedWith []string `json:"sharedWith"`
}

// IsSharedWith reports whether userId holds a sharing grant on the document.
// The owner is never a member of its own grant set; callers check ownership
// separately.
func (d Document) IsSharedWith(userId string) bool {
	for _, id := range d.SharedWith {
		if id == userId {
			return true
		}
	}
	return false
}

// RefreshToken is a persisted, revocable credential. Records are only ever
// soft-revoked, never deleted.
type RefreshToken struct {
	Token    string
	UserId   string
	IssuedAt time.Time
	Expires  time.Time
	Revoked  bool
}

func (t RefreshToken) ExpiredAt(now time.Time) bool {
	return now.After(t.Expires)
}

type ChangeOp string

const (
	OpInsert ChangeOp = "insert"
	OpDelete ChangeOp = "delete"
)

type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// ChangeEvent is a raw edit broadcast to subscribers of a document's change
// topic. The server relays it as-is; clients apply it themselves and must
// tolerate receiving their own edits back when the sender is not excluded.
type ChangeEvent struct {
	UserId    string   `json:"userId"`
	Operation ChangeOp `json:"operation"`
	Position  Position `json:"position"`
	Text      string   `json:"text"`
}

// CursorEvent is broadcast on a document's cursor topic, always excluding
// the sender.
type CursorEvent struct {
	UserId      string   `json:"userId"`
	Position    Position `json:"position"`
	DisplayName string   `json:"displayName"`
}
