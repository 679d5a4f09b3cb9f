package types

import (
	"strings"
	"time"
)

// IMAP system flags used throughout the cache.
const (
	FlagSeen     = "\\Seen"
	FlagAnswered = "\\Answered"
	FlagFlagged  = "\\Flagged"
	FlagDeleted  = "\\Deleted"
	FlagDraft    = "\\Draft"
	FlagRecent   = "\\Recent"
)

// FolderType classifies a folder's role within an account.
type FolderType string

const (
	FolderInbox  FolderType = "inbox"
	FolderSent   FolderType = "sent"
	FolderTrash  FolderType = "trash"
	FolderDrafts FolderType = "drafts"
	FolderCustom FolderType = "custom"
)

// Account is one configured mailbox identity. The email address is unique
// across the cache.
type Account struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	IMAPHost  string    `json:"imap_host"`
	IMAPPort  int       `json:"imap_port"`
	SMTPHost  string    `json:"smtp_host"`
	SMTPPort  int       `json:"smtp_port"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// Folder is a named mail container scoped to one account. RemoteID is the
// server-side folder path and is authoritative for IMAP operations; Name is
// display-only.
type Folder struct {
	ID           int64      `json:"id"`
	AccountID    int64      `json:"account_id"`
	Name         string     `json:"name"`
	RemoteID     string     `json:"remote_id"`
	ParentID     *int64     `json:"parent_id,omitempty"`
	Type         FolderType `json:"type"`
	MessageCount int        `json:"message_count"`
}

// Special reports whether the folder is a trash or drafts folder. Rules may
// only target such folders explicitly.
func (f *Folder) Special() bool {
	return f.Type == FolderTrash || f.Type == FolderDrafts
}

// Email is cached message metadata. The triple (AccountID, FolderID, UID) is
// unique; IMAP UIDs are only meaningful within their containing folder.
type Email struct {
	ID           int64     `json:"id"`
	AccountID    int64     `json:"account_id"`
	FolderID     int64     `json:"folder_id"`
	UID          uint32    `json:"uid"`
	MessageID    string    `json:"message_id"`
	InReplyTo    string    `json:"in_reply_to,omitempty"`
	References   []string  `json:"references,omitempty"`
	Subject      string    `json:"subject"`
	Sender       string    `json:"sender"`
	Recipients   []string  `json:"recipients,omitempty"`
	DateReceived time.Time `json:"date_received"`
	Flags        []string  `json:"flags,omitempty"`
	ContentPath  string    `json:"content_path,omitempty"`
	BodyText     string    `json:"body_text,omitempty"`
	BodyHTML     string    `json:"body_html,omitempty"`
	IsRead       bool      `json:"is_read"`
}

// Seen reports whether the flag set marks the message as read.
func (e *Email) Seen() bool {
	return HasFlag(e.Flags, FlagSeen)
}

// EmailSummary is a lightweight projection used for search results.
type EmailSummary struct {
	ID           int64     `json:"id"`
	AccountEmail string    `json:"account_email"`
	FolderName   string    `json:"folder_name"`
	UID          uint32    `json:"uid"`
	Subject      string    `json:"subject"`
	Sender       string    `json:"sender"`
	DateReceived time.Time `json:"date_received"`
	IsRead       bool      `json:"is_read"`
}

// RemoteMessage is one entry of a remote folder listing: the UID, the current
// flag set, and the header-level metadata needed to cache the message. Bodies
// are fetched separately and only once.
type RemoteMessage struct {
	UID        uint32
	Flags      []string
	MessageID  string
	InReplyTo  string
	References []string
	Subject    string
	Sender     string
	Recipients []string
	Date       time.Time
}

// Notification records the arrival of a new message for later display.
type Notification struct {
	ID        int64     `json:"id"`
	AccountID int64     `json:"account_id"`
	FolderID  int64     `json:"folder_id"`
	UID       uint32    `json:"uid"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// HasFlag reports whether flag is present in flags.
func HasFlag(flags []string, flag string) bool {
	for _, f := range flags {
		if f == flag {
			return true
		}
	}
	return false
}

// AddFlag returns flags with flag appended if not already present.
func AddFlag(flags []string, flag string) []string {
	if HasFlag(flags, flag) {
		return flags
	}
	return append(flags, flag)
}

// RemoveFlag returns flags without flag.
func RemoveFlag(flags []string, flag string) []string {
	out := make([]string, 0, len(flags))
	for _, f := range flags {
		if f != flag {
			out = append(out, f)
		}
	}
	return out
}

// ParseReferences splits a stored references_list value into Message-IDs.
// References are stored space-separated, the same separator RFC 5322 uses
// inside the header itself.
func ParseReferences(s string) []string {
	return strings.Fields(s)
}

// JoinReferences renders Message-IDs into the stored references_list form.
func JoinReferences(refs []string) string {
	return strings.Join(refs, " ")
}
