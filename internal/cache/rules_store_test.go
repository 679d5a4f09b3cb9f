package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwhite/mailcached/internal/rules"
	"github.com/mwhite/mailcached/pkg/types"
)

func testRule(accountID, targetFolderID int64) *rules.Rule {
	return &rules.Rule{
		AccountID: accountID,
		Name:      "family mail",
		Condition: rules.Condition{Sender: []string{"family@x.com"}},
		Action: rules.Action{
			Kind:           rules.ActionMove,
			TargetFolderID: targetFolderID,
		},
		IsActive: true,
	}
}

func TestSaveRuleAssignsPosition(t *testing.T) {
	s := newTestStore(t)
	acc := newTestAccount(t, s, "a@x.com")
	family := newTestFolder(t, s, acc.ID, "Family", types.FolderCustom)
	work := newTestFolder(t, s, acc.ID, "Work", types.FolderCustom)

	r1 := testRule(acc.ID, family.ID)
	require.NoError(t, s.SaveRule(r1))
	assert.NotZero(t, r1.ID)
	assert.Equal(t, 1, r1.Position)

	r2 := testRule(acc.ID, work.ID)
	r2.Name = "work mail"
	r2.Condition = rules.Condition{Sender: []string{"boss@x.com"}}
	require.NoError(t, s.SaveRule(r2))
	assert.Equal(t, 2, r2.Position)

	listed, err := s.ListRules(acc.ID, false)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "family mail", listed[0].Name)
	assert.Equal(t, "work mail", listed[1].Name)
}

func TestSaveRuleRejectsEmptyCondition(t *testing.T) {
	s := newTestStore(t)
	acc := newTestAccount(t, s, "a@x.com")
	family := newTestFolder(t, s, acc.ID, "Family", types.FolderCustom)

	r := testRule(acc.ID, family.ID)
	r.Condition = rules.Condition{}
	err := s.SaveRule(r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "matches everything")
}

func TestSaveRuleRejectsMissingTarget(t *testing.T) {
	s := newTestStore(t)
	acc := newTestAccount(t, s, "a@x.com")

	r := testRule(acc.ID, 9999)
	err := s.SaveRule(r)
	assert.ErrorIs(t, err, rules.ErrNoTarget)
}

func TestSaveRuleRejectsCrossAccountTarget(t *testing.T) {
	s := newTestStore(t)
	a := newTestAccount(t, s, "a@x.com")
	b := newTestAccount(t, s, "b@x.com")
	otherFolder := newTestFolder(t, s, b.ID, "Family", types.FolderCustom)

	r := testRule(a.ID, otherFolder.ID)
	err := s.SaveRule(r)
	assert.ErrorIs(t, err, rules.ErrCrossAccount)
}

func TestSaveRuleRejectsImplicitSpecialTarget(t *testing.T) {
	s := newTestStore(t)
	acc := newTestAccount(t, s, "a@x.com")
	trash := newTestFolder(t, s, acc.ID, "Trash", types.FolderTrash)
	drafts := newTestFolder(t, s, acc.ID, "Drafts", types.FolderDrafts)

	r := testRule(acc.ID, trash.ID)
	err := s.SaveRule(r)
	assert.ErrorIs(t, err, rules.ErrSpecialTarget)

	r = testRule(acc.ID, drafts.ID)
	err = s.SaveRule(r)
	assert.ErrorIs(t, err, rules.ErrSpecialTarget)

	// Explicit opt-in allows the special target.
	r = testRule(acc.ID, trash.ID)
	r.Action.AllowSpecial = true
	assert.NoError(t, s.SaveRule(r))
}

func TestSaveRuleUpdateInPlace(t *testing.T) {
	s := newTestStore(t)
	acc := newTestAccount(t, s, "a@x.com")
	family := newTestFolder(t, s, acc.ID, "Family", types.FolderCustom)

	r := testRule(acc.ID, family.ID)
	require.NoError(t, s.SaveRule(r))

	r.Condition.Subject = []string{"reunion", "birthday"}
	require.NoError(t, s.SaveRule(r))

	got, err := s.GetRule(r.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"reunion", "birthday"}, got.Condition.Subject)

	listed, err := s.ListRules(acc.ID, false)
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestListRulesActiveOnly(t *testing.T) {
	s := newTestStore(t)
	acc := newTestAccount(t, s, "a@x.com")
	family := newTestFolder(t, s, acc.ID, "Family", types.FolderCustom)

	r := testRule(acc.ID, family.ID)
	require.NoError(t, s.SaveRule(r))
	require.NoError(t, s.SetRuleActive(r.ID, false))

	active, err := s.ListRules(acc.ID, true)
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := s.ListRules(acc.ID, false)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.False(t, all[0].IsActive)
}

func TestDeleteRule(t *testing.T) {
	s := newTestStore(t)
	acc := newTestAccount(t, s, "a@x.com")
	family := newTestFolder(t, s, acc.ID, "Family", types.FolderCustom)

	r := testRule(acc.ID, family.ID)
	require.NoError(t, s.SaveRule(r))
	require.NoError(t, s.DeleteRule(r.ID))

	_, err := s.GetRule(r.ID)
	assert.Error(t, err)
}
