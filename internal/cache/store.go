package cache

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/mwhite/mailcached/pkg/types"
)

// Store provides methods for storing and retrieving data from the cache.
type Store struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewStore creates a new store instance over an open cache database.
func NewStore(d *DB, logger *logrus.Logger) *Store {
	return &Store{
		db:     d.db,
		logger: logger,
	}
}

// UpsertAccount inserts or updates an account keyed by its email address and
// returns the account ID.
func (s *Store) UpsertAccount(acc *types.Account) (int64, error) {
	query := `
		INSERT INTO accounts (email, provider_imap_host, provider_imap_port, provider_smtp_host, provider_smtp_port, is_active)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(email) DO UPDATE SET
			provider_imap_host = excluded.provider_imap_host,
			provider_imap_port = excluded.provider_imap_port,
			provider_smtp_host = excluded.provider_smtp_host,
			provider_smtp_port = excluded.provider_smtp_port,
			is_active = excluded.is_active
	`
	_, err := s.db.Exec(query, acc.Email, acc.IMAPHost, acc.IMAPPort, acc.SMTPHost, acc.SMTPPort, boolToInt(acc.IsActive))
	if err != nil {
		return 0, fmt.Errorf("failed to upsert account: %w", err)
	}

	var id int64
	if err := s.db.Get(&id, "SELECT id FROM accounts WHERE email = ?", acc.Email); err != nil {
		return 0, fmt.Errorf("failed to get account ID: %w", err)
	}
	acc.ID = id
	return id, nil
}

// GetAccount returns an account by email address.
func (s *Store) GetAccount(email string) (*types.Account, error) {
	row := s.db.QueryRowx(`
		SELECT id, email, provider_imap_host, provider_imap_port, provider_smtp_host, provider_smtp_port, is_active, created_at
		FROM accounts WHERE email = ?`, email)
	acc, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("account not found: %s", email)
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return acc, nil
}

// ListAccounts returns all accounts, optionally restricted to active ones.
func (s *Store) ListAccounts(activeOnly bool) ([]types.Account, error) {
	query := `
		SELECT id, email, provider_imap_host, provider_imap_port, provider_smtp_host, provider_smtp_port, is_active, created_at
		FROM accounts`
	if activeOnly {
		query += " WHERE is_active = 1"
	}
	query += " ORDER BY email"

	rows, err := s.db.Queryx(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []types.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, *acc)
	}
	return accounts, rows.Err()
}

// SetAccountActive toggles an account's active flag.
func (s *Store) SetAccountActive(accountID int64, active bool) error {
	_, err := s.db.Exec("UPDATE accounts SET is_active = ? WHERE id = ?", boolToInt(active), accountID)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	return nil
}

// DeleteAccount removes an account. Folders, emails, rules, and
// notifications in its scope are removed by cascade.
func (s *Store) DeleteAccount(accountID int64) error {
	_, err := s.db.Exec("DELETE FROM accounts WHERE id = ?", accountID)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	return nil
}

// UpsertFolder inserts or updates a folder keyed by (account, remote_id) and
// returns the folder ID. The remote identifier is authoritative; the display
// name and type follow whatever the server reports.
func (s *Store) UpsertFolder(f *types.Folder) (int64, error) {
	if f.Type == "" {
		f.Type = types.FolderCustom
	}
	query := `
		INSERT INTO folders (account_id, name, remote_id, type, message_count)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(account_id, remote_id) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			message_count = excluded.message_count
	`
	_, err := s.db.Exec(query, f.AccountID, f.Name, f.RemoteID, string(f.Type), f.MessageCount)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert folder: %w", err)
	}

	var id int64
	err = s.db.Get(&id, "SELECT id FROM folders WHERE account_id = ? AND remote_id = ?", f.AccountID, f.RemoteID)
	if err != nil {
		return 0, fmt.Errorf("failed to get folder ID: %w", err)
	}
	f.ID = id
	return id, nil
}

// GetFolder returns a folder by ID.
func (s *Store) GetFolder(folderID int64) (*types.Folder, error) {
	row := s.db.QueryRowx(`
		SELECT id, account_id, name, remote_id, parent_id, type, message_count
		FROM folders WHERE id = ?`, folderID)
	f, err := scanFolder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("folder not found: %d", folderID)
		}
		return nil, fmt.Errorf("failed to get folder: %w", err)
	}
	return f, nil
}

// GetFolderByRemoteID returns a folder by its server-side path.
func (s *Store) GetFolderByRemoteID(accountID int64, remoteID string) (*types.Folder, error) {
	row := s.db.QueryRowx(`
		SELECT id, account_id, name, remote_id, parent_id, type, message_count
		FROM folders WHERE account_id = ? AND remote_id = ?`, accountID, remoteID)
	f, err := scanFolder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("folder not found: %s", remoteID)
		}
		return nil, fmt.Errorf("failed to get folder: %w", err)
	}
	return f, nil
}

// ListFolders lists folders for an account ordered by remote path.
func (s *Store) ListFolders(accountID int64) ([]types.Folder, error) {
	rows, err := s.db.Queryx(`
		SELECT id, account_id, name, remote_id, parent_id, type, message_count
		FROM folders WHERE account_id = ? ORDER BY remote_id`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query folders: %w", err)
	}
	defer rows.Close()

	var folders []types.Folder
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan folder: %w", err)
		}
		folders = append(folders, *f)
	}
	return folders, rows.Err()
}

// SetFolderParent places a folder under a parent in the hierarchy. The
// parent must belong to the same account, and the assignment must not create
// a cycle.
func (s *Store) SetFolderParent(folderID int64, parentID *int64) error {
	if parentID == nil {
		_, err := s.db.Exec("UPDATE folders SET parent_id = NULL WHERE id = ?", folderID)
		if err != nil {
			return fmt.Errorf("failed to clear folder parent: %w", err)
		}
		return nil
	}

	folder, err := s.GetFolder(folderID)
	if err != nil {
		return err
	}
	parent, err := s.GetFolder(*parentID)
	if err != nil {
		return err
	}
	if parent.AccountID != folder.AccountID {
		return fmt.Errorf("parent folder %d belongs to a different account", *parentID)
	}

	// Walk up from the proposed parent; finding the folder itself means the
	// assignment would close a cycle.
	for cur := parent; cur != nil; {
		if cur.ID == folderID {
			return fmt.Errorf("folder hierarchy cycle: %d -> %d", folderID, *parentID)
		}
		if cur.ParentID == nil {
			break
		}
		cur, err = s.GetFolder(*cur.ParentID)
		if err != nil {
			return err
		}
	}

	_, err = s.db.Exec("UPDATE folders SET parent_id = ? WHERE id = ?", *parentID, folderID)
	if err != nil {
		return fmt.Errorf("failed to set folder parent: %w", err)
	}
	return nil
}

// UpdateMessageCount refreshes a folder's cached message count.
func (s *Store) UpdateMessageCount(folderID int64, count int) error {
	_, err := s.db.Exec("UPDATE folders SET message_count = ? WHERE id = ?", count, folderID)
	if err != nil {
		return fmt.Errorf("failed to update message count: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (*types.Account, error) {
	var (
		acc    types.Account
		active int
	)
	err := row.Scan(&acc.ID, &acc.Email, &acc.IMAPHost, &acc.IMAPPort, &acc.SMTPHost, &acc.SMTPPort, &active, &acc.CreatedAt)
	if err != nil {
		return nil, err
	}
	acc.IsActive = active != 0
	return &acc, nil
}

func scanFolder(row rowScanner) (*types.Folder, error) {
	var (
		f        types.Folder
		parentID sql.NullInt64
		ftype    string
	)
	err := row.Scan(&f.ID, &f.AccountID, &f.Name, &f.RemoteID, &parentID, &ftype, &f.MessageCount)
	if err != nil {
		return nil, err
	}
	if parentID.Valid {
		f.ParentID = &parentID.Int64
	}
	f.Type = types.FolderType(ftype)
	return &f, nil
}

// boolToInt converts a boolean to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
