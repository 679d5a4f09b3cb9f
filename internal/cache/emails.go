package cache

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mwhite/mailcached/pkg/types"
)

const emailColumns = `id, account_id, folder_id, uid, message_id, in_reply_to, references_list,
	subject, sender, recipients, date_received, flags, content_path, body_text, body_html, is_read`

// InsertEmail inserts a newly observed message into the cache. A duplicate
// (account, folder, uid) fails with a conflict error; callers treat that as
// an integrity signal, not a second row.
func (s *Store) InsertEmail(e *types.Email) error {
	recipientsJSON, err := json.Marshal(e.Recipients)
	if err != nil {
		return fmt.Errorf("failed to marshal recipients: %w", err)
	}
	flagsJSON, err := json.Marshal(e.Flags)
	if err != nil {
		return fmt.Errorf("failed to marshal flags: %w", err)
	}

	query := `
		INSERT INTO emails (account_id, folder_id, uid, message_id, in_reply_to, references_list,
			subject, sender, recipients, date_received, flags, content_path, body_text, body_html, is_read)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.Exec(query,
		e.AccountID,
		e.FolderID,
		e.UID,
		e.MessageID,
		e.InReplyTo,
		types.JoinReferences(e.References),
		e.Subject,
		e.Sender,
		string(recipientsJSON),
		e.DateReceived.UTC(),
		string(flagsJSON),
		e.ContentPath,
		e.BodyText,
		e.BodyHTML,
		boolToInt(e.Seen()),
	)
	if err != nil {
		return fmt.Errorf("failed to insert email uid %d: %w", e.UID, err)
	}

	if id, err := result.LastInsertId(); err == nil {
		e.ID = id
	}
	e.IsRead = e.Seen()
	return nil
}

// UpdateEmailFlags replaces the flag set of a cached message and refreshes
// the denormalized is_read column. Body content is immutable once cached and
// is never touched here. A UID absent from the cache is an error; the caller
// believed the message was cached and should hear otherwise.
func (s *Store) UpdateEmailFlags(accountID, folderID int64, uid uint32, flags []string) error {
	flagsJSON, err := json.Marshal(flags)
	if err != nil {
		return fmt.Errorf("failed to marshal flags: %w", err)
	}

	result, err := s.db.Exec(`
		UPDATE emails SET flags = ?, is_read = ?
		WHERE account_id = ? AND folder_id = ? AND uid = ?`,
		string(flagsJSON), boolToInt(types.HasFlag(flags, types.FlagSeen)),
		accountID, folderID, uid,
	)
	if err != nil {
		return fmt.Errorf("failed to update flags for uid %d: %w", uid, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update flags for uid %d: %w", uid, err)
	}
	if n == 0 {
		return fmt.Errorf("email not found: uid %d", uid)
	}
	return nil
}

// MarkRead sets or clears the read state of a cached message, keeping the
// flag set and is_read column in step. The read-modify-write of the flag set
// runs in one transaction so a concurrent sync pass cannot slip between the
// read and the write.
func (s *Store) MarkRead(accountID, folderID int64, uid uint32, read bool) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var flagsJSON string
	err = tx.Get(&flagsJSON,
		"SELECT flags FROM emails WHERE account_id = ? AND folder_id = ? AND uid = ?",
		accountID, folderID, uid,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("email not found: uid %d", uid)
		}
		return fmt.Errorf("failed to read flags for uid %d: %w", uid, err)
	}

	var flags []string
	if err := json.Unmarshal([]byte(flagsJSON), &flags); err != nil {
		return fmt.Errorf("failed to unmarshal flags for uid %d: %w", uid, err)
	}
	if read {
		flags = types.AddFlag(flags, types.FlagSeen)
	} else {
		flags = types.RemoveFlag(flags, types.FlagSeen)
	}
	updated, err := json.Marshal(flags)
	if err != nil {
		return fmt.Errorf("failed to marshal flags: %w", err)
	}

	_, err = tx.Exec(`
		UPDATE emails SET flags = ?, is_read = ?
		WHERE account_id = ? AND folder_id = ? AND uid = ?`,
		string(updated), boolToInt(read), accountID, folderID, uid,
	)
	if err != nil {
		return fmt.Errorf("failed to update flags for uid %d: %w", uid, err)
	}

	return tx.Commit()
}

// SetEmailBody stores body content for a message that was cached from a
// header-level listing. A body already present is left alone.
func (s *Store) SetEmailBody(accountID, folderID int64, uid uint32, bodyText, bodyHTML string) error {
	_, err := s.db.Exec(`
		UPDATE emails SET body_text = ?, body_html = ?
		WHERE account_id = ? AND folder_id = ? AND uid = ? AND body_text = '' AND body_html = ''`,
		bodyText, bodyHTML, accountID, folderID, uid,
	)
	if err != nil {
		return fmt.Errorf("failed to set body for uid %d: %w", uid, err)
	}
	return nil
}

// DeleteEmailByUID removes a cached message, reflecting a server-side
// deletion or expunge.
func (s *Store) DeleteEmailByUID(accountID, folderID int64, uid uint32) error {
	_, err := s.db.Exec(
		"DELETE FROM emails WHERE account_id = ? AND folder_id = ? AND uid = ?",
		accountID, folderID, uid,
	)
	if err != nil {
		return fmt.Errorf("failed to delete email uid %d: %w", uid, err)
	}
	return nil
}

// GetEmailByUID retrieves a cached message by its folder-relative UID.
func (s *Store) GetEmailByUID(accountID, folderID int64, uid uint32) (*types.Email, error) {
	row := s.db.QueryRowx(
		"SELECT "+emailColumns+" FROM emails WHERE account_id = ? AND folder_id = ? AND uid = ?",
		accountID, folderID, uid,
	)
	e, err := scanEmail(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("email not found: uid %d", uid)
		}
		return nil, fmt.Errorf("failed to get email: %w", err)
	}
	return e, nil
}

// ListEmails returns cached messages for a folder, newest first.
func (s *Store) ListEmails(folderID int64, limit, offset int) ([]types.Email, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Queryx(
		"SELECT "+emailColumns+` FROM emails
		WHERE folder_id = ?
		ORDER BY date_received DESC, uid DESC
		LIMIT ? OFFSET ?`,
		folderID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query emails: %w", err)
	}
	defer rows.Close()

	var emails []types.Email
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan email: %w", err)
		}
		emails = append(emails, *e)
	}
	return emails, rows.Err()
}

// ListUIDFlags returns the UID set cached for a folder along with each
// message's flags, as the sync coordinator's local snapshot.
func (s *Store) ListUIDFlags(folderID int64) (map[uint32][]string, error) {
	rows, err := s.db.Queryx("SELECT uid, flags FROM emails WHERE folder_id = ?", folderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query uids: %w", err)
	}
	defer rows.Close()

	uids := make(map[uint32][]string)
	for rows.Next() {
		var (
			uid       uint32
			flagsJSON string
		)
		if err := rows.Scan(&uid, &flagsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan uid: %w", err)
		}
		var flags []string
		if err := json.Unmarshal([]byte(flagsJSON), &flags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal flags for uid %d: %w", uid, err)
		}
		uids[uid] = flags
	}
	return uids, rows.Err()
}

// ApplyMove relocates a cached message from one folder to another in a
// single transaction. Either the pre-move or the post-move state is visible,
// never both or neither. The message keeps its UID until the target folder's
// next resync reconciles the server-assigned one.
func (s *Store) ApplyMove(accountID, srcFolderID, dstFolderID int64, uid uint32) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		UPDATE emails SET folder_id = ?
		WHERE account_id = ? AND folder_id = ? AND uid = ?`,
		dstFolderID, accountID, srcFolderID, uid,
	)
	if err != nil {
		return fmt.Errorf("failed to move email uid %d: %w", uid, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to move email uid %d: %w", uid, err)
	}
	if n == 0 {
		return fmt.Errorf("email not found: uid %d", uid)
	}

	return tx.Commit()
}

// ApplyCopy duplicates a cached message into another folder in a single
// transaction, leaving the source row intact.
func (s *Store) ApplyCopy(accountID, srcFolderID, dstFolderID int64, uid uint32) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		INSERT INTO emails (account_id, folder_id, uid, message_id, in_reply_to, references_list,
			subject, sender, recipients, date_received, flags, content_path, body_text, body_html, is_read)
		SELECT account_id, ?, uid, message_id, in_reply_to, references_list,
			subject, sender, recipients, date_received, flags, content_path, body_text, body_html, is_read
		FROM emails WHERE account_id = ? AND folder_id = ? AND uid = ?`,
		dstFolderID, accountID, srcFolderID, uid,
	)
	if err != nil {
		return fmt.Errorf("failed to copy email uid %d: %w", uid, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to copy email uid %d: %w", uid, err)
	}
	if n == 0 {
		return fmt.Errorf("email not found: uid %d", uid)
	}

	return tx.Commit()
}

func scanEmail(row rowScanner) (*types.Email, error) {
	var (
		e              types.Email
		referencesList string
		recipientsJSON string
		flagsJSON      string
		isRead         int
	)
	err := row.Scan(
		&e.ID,
		&e.AccountID,
		&e.FolderID,
		&e.UID,
		&e.MessageID,
		&e.InReplyTo,
		&referencesList,
		&e.Subject,
		&e.Sender,
		&recipientsJSON,
		&e.DateReceived,
		&flagsJSON,
		&e.ContentPath,
		&e.BodyText,
		&e.BodyHTML,
		&isRead,
	)
	if err != nil {
		return nil, err
	}

	e.References = types.ParseReferences(referencesList)
	e.IsRead = isRead != 0
	if err := json.Unmarshal([]byte(recipientsJSON), &e.Recipients); err != nil {
		return nil, fmt.Errorf("failed to unmarshal recipients: %w", err)
	}
	if err := json.Unmarshal([]byte(flagsJSON), &e.Flags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal flags: %w", err)
	}
	return &e, nil
}
