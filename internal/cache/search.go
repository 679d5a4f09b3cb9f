package cache

import (
	"fmt"
	"strings"
	"time"

	"github.com/mwhite/mailcached/pkg/types"
)

// SearchOptions contains search parameters. Nil fields are ignored.
type SearchOptions struct {
	AccountID *int64
	FolderID  *int64
	Sender    *string
	Recipient *string
	Subject   *string
	Body      *string
	Unread    *bool
	DateFrom  *time.Time
	DateTo    *time.Time
	Limit     int
}

// Search performs a search over cached emails.
func (s *Store) Search(opts SearchOptions) ([]types.EmailSummary, error) {
	var conditions []string
	var args []interface{}

	if opts.AccountID != nil {
		conditions = append(conditions, "e.account_id = ?")
		args = append(args, *opts.AccountID)
	}

	if opts.FolderID != nil {
		conditions = append(conditions, "e.folder_id = ?")
		args = append(args, *opts.FolderID)
	}

	if opts.Sender != nil {
		conditions = append(conditions, "e.sender LIKE ?")
		args = append(args, "%"+*opts.Sender+"%")
	}

	if opts.Recipient != nil {
		conditions = append(conditions, "e.recipients LIKE ?")
		args = append(args, "%"+*opts.Recipient+"%")
	}

	if opts.Subject != nil {
		conditions = append(conditions, "e.subject LIKE ?")
		args = append(args, "%"+*opts.Subject+"%")
	}

	if opts.Body != nil {
		conditions = append(conditions, "(e.body_text LIKE ? OR e.body_html LIKE ?)")
		searchTerm := "%" + *opts.Body + "%"
		args = append(args, searchTerm, searchTerm)
	}

	if opts.Unread != nil {
		if *opts.Unread {
			conditions = append(conditions, "e.is_read = 0")
		} else {
			conditions = append(conditions, "e.is_read = 1")
		}
	}

	if opts.DateFrom != nil {
		conditions = append(conditions, "e.date_received >= ?")
		args = append(args, opts.DateFrom.UTC())
	}

	if opts.DateTo != nil {
		conditions = append(conditions, "e.date_received <= ?")
		args = append(args, opts.DateTo.UTC())
	}

	query := `
		SELECT e.id, a.email, f.name, e.uid, e.subject, e.sender, e.date_received, e.is_read
		FROM emails e
		JOIN accounts a ON e.account_id = a.id
		JOIN folders f ON e.folder_id = f.id
	`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY e.date_received DESC, e.uid DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(" LIMIT %d", limit)

	rows, err := s.db.Queryx(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search emails: %w", err)
	}
	defer rows.Close()

	var results []types.EmailSummary
	for rows.Next() {
		var (
			sum    types.EmailSummary
			isRead int
		)
		err := rows.Scan(
			&sum.ID,
			&sum.AccountEmail,
			&sum.FolderName,
			&sum.UID,
			&sum.Subject,
			&sum.Sender,
			&sum.DateReceived,
			&isRead,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		sum.IsRead = isRead != 0
		results = append(results, sum)
	}

	return results, rows.Err()
}
