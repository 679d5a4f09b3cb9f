// Package rules implements the per-account folder routing policy: typed
// conditions and actions parsed once from their stored JSON encoding, with
// first-match-wins evaluation against newly synced messages.
package rules

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mwhite/mailcached/pkg/types"
)

// ActionKind selects between move and copy semantics.
type ActionKind string

const (
	ActionMove ActionKind = "move"
	ActionCopy ActionKind = "copy"
)

// Validation errors surfaced at rule-save time.
var (
	ErrCrossAccount  = errors.New("rule target folder belongs to a different account")
	ErrSpecialTarget = errors.New("rule target is a trash or drafts folder")
	ErrNoTarget      = errors.New("rule target folder does not exist")
)

// Condition is the predicate of a rule. Each field holds alternative
// substring patterns; an empty field is a wildcard. A message matches when
// every non-empty field has at least one pattern hit.
type Condition struct {
	Sender    []string
	Subject   []string
	Recipient []string
}

// Action is what a matching rule does with the message.
type Action struct {
	Kind           ActionKind
	TargetFolderID int64
	// AllowSpecial must be set for the rule to target a trash or drafts
	// folder; implicit routing into those folders is rejected at save time.
	AllowSpecial bool
}

// Rule is one ordered policy entry scoped to a single account.
type Rule struct {
	ID        int64
	AccountID int64
	Name      string
	Condition Condition
	Action    Action
	Position  int
	IsActive  bool
}

// Wire formats for the condition_json and action_json columns. Condition
// fields hold comma-separated alternatives, matching the legacy encoding.
type conditionJSON struct {
	Sender    string `json:"sender,omitempty"`
	Subject   string `json:"subject,omitempty"`
	Recipient string `json:"recipient,omitempty"`
}

type actionJSON struct {
	Type           string `json:"type"`
	TargetFolderID int64  `json:"target_folder_id"`
	AllowSpecial   bool   `json:"allow_special,omitempty"`
}

// ParseCondition decodes a stored condition blob. Unknown condition fields
// are rejected rather than silently ignored.
func ParseCondition(data []byte) (Condition, error) {
	var wire conditionJSON
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&wire); err != nil {
		return Condition{}, fmt.Errorf("invalid condition: %w", err)
	}
	return Condition{
		Sender:    splitPatterns(wire.Sender),
		Subject:   splitPatterns(wire.Subject),
		Recipient: splitPatterns(wire.Recipient),
	}, nil
}

// Encode renders the condition back into its stored JSON form.
func (c Condition) Encode() ([]byte, error) {
	return json.Marshal(conditionJSON{
		Sender:    strings.Join(c.Sender, ", "),
		Subject:   strings.Join(c.Subject, ", "),
		Recipient: strings.Join(c.Recipient, ", "),
	})
}

// Empty reports whether no condition field is specified. An empty condition
// would match everything and is rejected at save time.
func (c Condition) Empty() bool {
	return len(c.Sender) == 0 && len(c.Subject) == 0 && len(c.Recipient) == 0
}

// ParseAction decodes a stored action blob.
func ParseAction(data []byte) (Action, error) {
	var wire actionJSON
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&wire); err != nil {
		return Action{}, fmt.Errorf("invalid action: %w", err)
	}

	kind := ActionKind(wire.Type)
	if kind != ActionMove && kind != ActionCopy {
		return Action{}, fmt.Errorf("invalid action type: %q", wire.Type)
	}
	if wire.TargetFolderID == 0 {
		return Action{}, fmt.Errorf("action has no target folder")
	}

	return Action{
		Kind:           kind,
		TargetFolderID: wire.TargetFolderID,
		AllowSpecial:   wire.AllowSpecial,
	}, nil
}

// Encode renders the action back into its stored JSON form.
func (a Action) Encode() ([]byte, error) {
	return json.Marshal(actionJSON{
		Type:           string(a.Kind),
		TargetFolderID: a.TargetFolderID,
		AllowSpecial:   a.AllowSpecial,
	})
}

// Matches evaluates the condition against a message. Matching is
// case-insensitive substring containment; all specified fields must be
// satisfied, and within a field any one alternative suffices.
func (c Condition) Matches(e *types.Email) bool {
	if len(c.Sender) > 0 && !matchAny(c.Sender, e.Sender) {
		return false
	}
	if len(c.Subject) > 0 && !matchAny(c.Subject, e.Subject) {
		return false
	}
	if len(c.Recipient) > 0 && !matchAny(c.Recipient, strings.Join(e.Recipients, ", ")) {
		return false
	}
	return true
}

// Match returns the first active rule whose condition matches the message,
// or nil. The rule slice is evaluated in order, so callers provide a stable
// ordering; later rules are not evaluated once one matches.
func Match(ruleSet []Rule, e *types.Email) *Rule {
	for i := range ruleSet {
		r := &ruleSet[i]
		if !r.IsActive {
			continue
		}
		if r.Condition.Matches(e) {
			return r
		}
	}
	return nil
}

// ValidateTarget checks a rule's action against its resolved target folder.
// Cross-account targets and implicit trash/drafts targets are configuration
// errors rejected at save time, never silently applied at evaluation time.
func ValidateTarget(r *Rule, target *types.Folder) error {
	if target == nil {
		return fmt.Errorf("rule %q: %w", r.Name, ErrNoTarget)
	}
	if target.AccountID != r.AccountID {
		return fmt.Errorf("rule %q: %w", r.Name, ErrCrossAccount)
	}
	if target.Special() && !r.Action.AllowSpecial {
		return fmt.Errorf("rule %q: %w", r.Name, ErrSpecialTarget)
	}
	return nil
}

func splitPatterns(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func matchAny(patterns []string, value string) bool {
	value = strings.ToLower(value)
	for _, p := range patterns {
		if strings.Contains(value, p) {
			return true
		}
	}
	return false
}
