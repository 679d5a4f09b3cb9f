package cache

import (
	"fmt"

	"github.com/mwhite/mailcached/pkg/types"
)

// CreateNotification inserts a new notification record.
func (s *Store) CreateNotification(n *types.Notification) error {
	result, err := s.db.Exec(`
		INSERT INTO notifications (account_id, folder_id, uid, message, read)
		VALUES (?, ?, ?, ?, ?)`,
		n.AccountID, n.FolderID, n.UID, n.Message, boolToInt(n.Read),
	)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	if id, err := result.LastInsertId(); err == nil {
		n.ID = id
	}
	return nil
}

// ListUnreadNotifications returns notifications that have not been read,
// newest first.
func (s *Store) ListUnreadNotifications(accountID int64) ([]types.Notification, error) {
	rows, err := s.db.Queryx(`
		SELECT id, account_id, folder_id, uid, message, read, created_at
		FROM notifications
		WHERE account_id = ? AND read = 0
		ORDER BY created_at DESC, id DESC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	var out []types.Notification
	for rows.Next() {
		var (
			n    types.Notification
			read int
		)
		if err := rows.Scan(&n.ID, &n.AccountID, &n.FolderID, &n.UID, &n.Message, &read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		n.Read = read != 0
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkNotificationRead marks a single notification as read.
func (s *Store) MarkNotificationRead(notificationID int64) error {
	_, err := s.db.Exec("UPDATE notifications SET read = 1 WHERE id = ?", notificationID)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	return nil
}
