package cache

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/mwhite/mailcached/internal/rules"
)

// SaveRule inserts or updates a rule after validating its condition and
// action. Invalid configurations (empty condition, missing or cross-account
// target, implicit trash/drafts target) are rejected here so they can never
// reach evaluation.
func (s *Store) SaveRule(r *rules.Rule) error {
	if r.Name == "" {
		return fmt.Errorf("rule has no name")
	}
	if r.Condition.Empty() {
		return fmt.Errorf("rule %q: condition matches everything", r.Name)
	}

	target, err := s.GetFolder(r.Action.TargetFolderID)
	if err != nil {
		return fmt.Errorf("rule %q: %w", r.Name, rules.ErrNoTarget)
	}
	if err := rules.ValidateTarget(r, target); err != nil {
		return err
	}

	condJSON, err := r.Condition.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode condition: %w", err)
	}
	actJSON, err := r.Action.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode action: %w", err)
	}

	if r.ID == 0 {
		if r.Position == 0 {
			// Stable insertion order: new rules go to the end.
			var maxPos sql.NullInt64
			if err := s.db.Get(&maxPos, "SELECT MAX(position) FROM rules WHERE account_id = ?", r.AccountID); err != nil {
				return fmt.Errorf("failed to determine rule position: %w", err)
			}
			r.Position = int(maxPos.Int64) + 1
		}

		result, err := s.db.Exec(`
			INSERT INTO rules (account_id, name, condition_json, action_json, position, is_active)
			VALUES (?, ?, ?, ?, ?, ?)`,
			r.AccountID, r.Name, string(condJSON), string(actJSON), r.Position, boolToInt(r.IsActive),
		)
		if err != nil {
			return fmt.Errorf("failed to insert rule: %w", err)
		}
		if id, err := result.LastInsertId(); err == nil {
			r.ID = id
		}
		return nil
	}

	_, err = s.db.Exec(`
		UPDATE rules SET name = ?, condition_json = ?, action_json = ?, position = ?, is_active = ?
		WHERE id = ? AND account_id = ?`,
		r.Name, string(condJSON), string(actJSON), r.Position, boolToInt(r.IsActive), r.ID, r.AccountID,
	)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	return nil
}

// ListRules returns an account's rules in evaluation order. The ordering is
// stable (position, then id) so repeated evaluations of the same rule set
// are deterministic.
func (s *Store) ListRules(accountID int64, activeOnly bool) ([]rules.Rule, error) {
	query := `
		SELECT id, account_id, name, condition_json, action_json, position, is_active
		FROM rules WHERE account_id = ?`
	if activeOnly {
		query += " AND is_active = 1"
	}
	query += " ORDER BY position, id"

	rows, err := s.db.Queryx(query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var out []rules.Rule
	for rows.Next() {
		var (
			r        rules.Rule
			condJSON string
			actJSON  string
			active   int
		)
		if err := rows.Scan(&r.ID, &r.AccountID, &r.Name, &condJSON, &actJSON, &r.Position, &active); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		r.IsActive = active != 0

		r.Condition, err = rules.ParseCondition([]byte(condJSON))
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", r.ID, err)
		}
		r.Action, err = rules.ParseAction([]byte(actJSON))
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", r.ID, err)
		}

		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRule retrieves a single rule by ID.
func (s *Store) GetRule(ruleID int64) (*rules.Rule, error) {
	var (
		r        rules.Rule
		condJSON string
		actJSON  string
		active   int
	)
	row := s.db.QueryRowx(`
		SELECT id, account_id, name, condition_json, action_json, position, is_active
		FROM rules WHERE id = ?`, ruleID)
	err := row.Scan(&r.ID, &r.AccountID, &r.Name, &condJSON, &actJSON, &r.Position, &active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("rule not found: %d", ruleID)
		}
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	r.IsActive = active != 0

	r.Condition, err = rules.ParseCondition([]byte(condJSON))
	if err != nil {
		return nil, fmt.Errorf("rule %d: %w", r.ID, err)
	}
	r.Action, err = rules.ParseAction([]byte(actJSON))
	if err != nil {
		return nil, fmt.Errorf("rule %d: %w", r.ID, err)
	}
	return &r, nil
}

// DeleteRule removes a rule.
func (s *Store) DeleteRule(ruleID int64) error {
	_, err := s.db.Exec("DELETE FROM rules WHERE id = ?", ruleID)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	return nil
}

// SetRuleActive toggles a rule's active flag.
func (s *Store) SetRuleActive(ruleID int64, active bool) error {
	_, err := s.db.Exec("UPDATE rules SET is_active = ? WHERE id = ?", boolToInt(active), ruleID)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	return nil
}
