package sync

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwhite/mailcached/internal/cache"
	"github.com/mwhite/mailcached/internal/notify"
	"github.com/mwhite/mailcached/internal/rules"
	"github.com/mwhite/mailcached/pkg/types"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestStore(t *testing.T) *cache.Store {
	t.Helper()

	logger := testLogger()
	db, err := cache.Open(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return cache.NewStore(db, logger)
}

func newTestAccount(t *testing.T, s *cache.Store, email string) *types.Account {
	t.Helper()

	acc := &types.Account{
		Email:    email,
		IMAPHost: "imap.example.com",
		IMAPPort: 993,
		SMTPHost: "smtp.example.com",
		SMTPPort: 587,
		IsActive: true,
	}
	_, err := s.UpsertAccount(acc)
	require.NoError(t, err)
	return acc
}

func newTestFolder(t *testing.T, s *cache.Store, accountID int64, name string, ftype types.FolderType) *types.Folder {
	t.Helper()

	f := &types.Folder{
		AccountID: accountID,
		Name:      name,
		RemoteID:  name,
		Type:      ftype,
	}
	_, err := s.UpsertFolder(f)
	require.NoError(t, err)
	return f
}

type transferCall struct {
	uids []uint32
	from string
	to   string
}

// fakeMailbox is an in-memory RemoteMailbox for coordinator tests. Messages
// are keyed by folder RemoteID.
type fakeMailbox struct {
	folders   []types.Folder
	messages  map[string][]types.RemoteMessage
	bodies    map[uint32]string
	fetchErrs map[string]error

	moves    []transferCall
	copies   []transferCall
	deletes  []transferCall
	flagged  []transferCall
	moveErr  error
	flagErr  error
	closed   bool
}

func newFakeMailbox() *fakeMailbox {
	return &fakeMailbox{
		messages:  make(map[string][]types.RemoteMessage),
		bodies:    make(map[uint32]string),
		fetchErrs: make(map[string]error),
	}
}

func (f *fakeMailbox) ListFolders(context.Context) ([]types.Folder, error) {
	out := make([]types.Folder, len(f.folders))
	copy(out, f.folders)
	return out, nil
}

func (f *fakeMailbox) Fetch(_ context.Context, folder string) ([]types.RemoteMessage, error) {
	if err := f.fetchErrs[folder]; err != nil {
		return nil, err
	}
	return f.messages[folder], nil
}

func (f *fakeMailbox) FetchBody(_ context.Context, _ string, uid uint32) (string, string, error) {
	return f.bodies[uid], "", nil
}

func (f *fakeMailbox) Move(_ context.Context, uids []uint32, from, to string) error {
	if f.moveErr != nil {
		return f.moveErr
	}
	f.moves = append(f.moves, transferCall{uids: uids, from: from, to: to})
	return nil
}

func (f *fakeMailbox) Copy(_ context.Context, uids []uint32, from, to string) error {
	f.copies = append(f.copies, transferCall{uids: uids, from: from, to: to})
	return nil
}

func (f *fakeMailbox) Delete(_ context.Context, uids []uint32, folder string) error {
	f.deletes = append(f.deletes, transferCall{uids: uids, from: folder})
	return nil
}

func (f *fakeMailbox) AddFlags(_ context.Context, uids []uint32, folder string, _ []string) error {
	if f.flagErr != nil {
		return f.flagErr
	}
	f.flagged = append(f.flagged, transferCall{uids: uids, from: folder})
	return nil
}

func (f *fakeMailbox) Close() error {
	f.closed = true
	return nil
}

func inboxMsg(uid uint32, sender, subject string) types.RemoteMessage {
	return types.RemoteMessage{
		UID:        uid,
		MessageID:  fmt.Sprintf("<m%d@example.com>", uid),
		Subject:    subject,
		Sender:     sender,
		Recipients: []string{"me@x.com"},
		Date:       time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSyncFolderCachesNewMessages(t *testing.T) {
	s := newTestStore(t)
	acc := newTestAccount(t, s, "me@x.com")
	inbox := newTestFolder(t, s, acc.ID, "INBOX", types.FolderInbox)

	mb := newFakeMailbox()
	mb.messages["INBOX"] = []types.RemoteMessage{
		inboxMsg(1, "bob@x.com", "hello"),
		inboxMsg(2, "carol@x.com", "lunch?"),
	}

	recorder := notify.NewRecorder(s, testLogger())
	coord := NewCoordinator(s, mb, recorder, false, testLogger())

	res := coord.SyncFolder(context.Background(), acc, inbox)
	require.NoError(t, res.Err)
	assert.Equal(t, 2, res.Added)

	got, err := s.GetEmailByUID(acc.ID, inbox.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Subject)

	notifs, err := s.ListUnreadNotifications(acc.ID)
	require.NoError(t, err)
	assert.Len(t, notifs, 2)

	folder, err := s.GetFolder(inbox.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, folder.MessageCount)
}

func TestSyncFolderAppliesRemovalsAndFlagChanges(t *testing.T) {
	s := newTestStore(t)
	acc := newTestAccount(t, s, "me@x.com")
	inbox := newTestFolder(t, s, acc.ID, "INBOX", types.FolderInbox)

	mb := newFakeMailbox()
	mb.messages["INBOX"] = []types.RemoteMessage{
		inboxMsg(5, "bob@x.com", "five"),
		inboxMsg(6, "bob@x.com", "six"),
		inboxMsg(7, "bob@x.com", "seven"),
	}

	coord := NewCoordinator(s, mb, nil, false, testLogger())
	res := coord.SyncFolder(context.Background(), acc, inbox)
	require.NoError(t, res.Err)
	require.Equal(t, 3, res.Added)

	// Next pass: 7 deleted remotely, 5 marked read, 8 arrives.
	seen := inboxMsg(5, "bob@x.com", "five")
	seen.Flags = []string{types.FlagSeen}
	mb.messages["INBOX"] = []types.RemoteMessage{
		seen,
		inboxMsg(6, "bob@x.com", "six"),
		inboxMsg(8, "bob@x.com", "eight"),
	}

	res = coord.SyncFolder(context.Background(), acc, inbox)
	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.Added)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 1, res.Removed)

	_, err := s.GetEmailByUID(acc.ID, inbox.ID, 7)
	assert.Error(t, err)

	got, err := s.GetEmailByUID(acc.ID, inbox.ID, 5)
	require.NoError(t, err)
	assert.True(t, got.IsRead)
}

func TestSyncFolderRuleMovesMatchingMail(t *testing.T) {
	s := newTestStore(t)
	acc := newTestAccount(t, s, "me@x.com")
	inbox := newTestFolder(t, s, acc.ID, "INBOX", types.FolderInbox)
	family := newTestFolder(t, s, acc.ID, "Family", types.FolderCustom)

	require.NoError(t, s.SaveRule(&rules.Rule{
		AccountID: acc.ID,
		Name:      "family mail",
		Condition: rules.Condition{Sender: []string{"family@x.com"}},
		Action:    rules.Action{Kind: rules.ActionMove, TargetFolderID: family.ID},
		IsActive:  true,
	}))

	mb := newFakeMailbox()
	mb.messages["INBOX"] = []types.RemoteMessage{
		inboxMsg(1, "family@x.com", "reunion"),
		inboxMsg(2, "boss@work.com", "report"),
	}

	recorder := notify.NewRecorder(s, testLogger())
	coord := NewCoordinator(s, mb, recorder, false, testLogger())

	res := coord.SyncFolder(context.Background(), acc, inbox)
	require.NoError(t, res.Err)
	assert.Equal(t, 2, res.Added)
	assert.Equal(t, 1, res.Moved)

	// The server was asked to move the message.
	require.Len(t, mb.moves, 1)
	assert.Equal(t, []uint32{1}, mb.moves[0].uids)
	assert.Equal(t, "INBOX", mb.moves[0].from)
	assert.Equal(t, "Family", mb.moves[0].to)

	// The cache reflects the move atomically.
	_, err := s.GetEmailByUID(acc.ID, inbox.ID, 1)
	assert.Error(t, err)
	moved, err := s.GetEmailByUID(acc.ID, family.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "reunion", moved.Subject)

	// Only the message that stayed in the inbox is announced.
	notifs, err := s.ListUnreadNotifications(acc.ID)
	require.NoError(t, err)
	require.Len(t, notifs, 1)
	assert.Contains(t, notifs[0].Message, "boss@work.com")
}

func TestSyncFolderRuleCopyKeepsSource(t *testing.T) {
	s := newTestStore(t)
	acc := newTestAccount(t, s, "me@x.com")
	inbox := newTestFolder(t, s, acc.ID, "INBOX", types.FolderInbox)
	archive := newTestFolder(t, s, acc.ID, "Archive", types.FolderCustom)

	require.NoError(t, s.SaveRule(&rules.Rule{
		AccountID: acc.ID,
		Name:      "archive reports",
		Condition: rules.Condition{Subject: []string{"report"}},
		Action:    rules.Action{Kind: rules.ActionCopy, TargetFolderID: archive.ID},
		IsActive:  true,
	}))

	mb := newFakeMailbox()
	mb.messages["INBOX"] = []types.RemoteMessage{
		inboxMsg(1, "boss@work.com", "Weekly report"),
	}

	coord := NewCoordinator(s, mb, nil, false, testLogger())
	res := coord.SyncFolder(context.Background(), acc, inbox)
	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.Copied)
	assert.Zero(t, res.Moved)

	require.Len(t, mb.copies, 1)

	_, err := s.GetEmailByUID(acc.ID, inbox.ID, 1)
	assert.NoError(t, err)
	_, err = s.GetEmailByUID(acc.ID, archive.ID, 1)
	assert.NoError(t, err)
}

func TestSyncFolderRemoteMoveFailureKeepsCacheIntact(t *testing.T) {
	s := newTestStore(t)
	acc := newTestAccount(t, s, "me@x.com")
	inbox := newTestFolder(t, s, acc.ID, "INBOX", types.FolderInbox)
	family := newTestFolder(t, s, acc.ID, "Family", types.FolderCustom)

	require.NoError(t, s.SaveRule(&rules.Rule{
		AccountID: acc.ID,
		Name:      "family mail",
		Condition: rules.Condition{Sender: []string{"family@x.com"}},
		Action:    rules.Action{Kind: rules.ActionMove, TargetFolderID: family.ID},
		IsActive:  true,
	}))

	mb := newFakeMailbox()
	mb.moveErr = fmt.Errorf("server said no")
	mb.messages["INBOX"] = []types.RemoteMessage{
		inboxMsg(1, "family@x.com", "reunion"),
	}

	coord := NewCoordinator(s, mb, nil, false, testLogger())
	res := coord.SyncFolder(context.Background(), acc, inbox)
	require.NoError(t, res.Err)
	assert.Zero(t, res.Moved)

	// Remote move failed; the message stays cached in the inbox.
	got, err := s.GetEmailByUID(acc.ID, inbox.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "reunion", got.Subject)
	_, err = s.GetEmailByUID(acc.ID, family.ID, 1)
	assert.Error(t, err)
}

func TestSyncFolderRulesSkippedOutsideInbox(t *testing.T) {
	s := newTestStore(t)
	acc := newTestAccount(t, s, "me@x.com")
	sent := newTestFolder(t, s, acc.ID, "Sent", types.FolderSent)
	family := newTestFolder(t, s, acc.ID, "Family", types.FolderCustom)

	require.NoError(t, s.SaveRule(&rules.Rule{
		AccountID: acc.ID,
		Name:      "family mail",
		Condition: rules.Condition{Sender: []string{"family@x.com"}},
		Action:    rules.Action{Kind: rules.ActionMove, TargetFolderID: family.ID},
		IsActive:  true,
	}))

	mb := newFakeMailbox()
	mb.messages["Sent"] = []types.RemoteMessage{
		inboxMsg(1, "family@x.com", "re: reunion"),
	}

	coord := NewCoordinator(s, mb, nil, false, testLogger())
	res := coord.SyncFolder(context.Background(), acc, sent)
	require.NoError(t, res.Err)
	assert.Zero(t, res.Moved)
	assert.Empty(t, mb.moves)

	_, err := s.GetEmailByUID(acc.ID, sent.ID, 1)
	assert.NoError(t, err)
}

func TestSyncFolderCachesBodies(t *testing.T) {
	s := newTestStore(t)
	acc := newTestAccount(t, s, "me@x.com")
	inbox := newTestFolder(t, s, acc.ID, "INBOX", types.FolderInbox)

	mb := newFakeMailbox()
	mb.messages["INBOX"] = []types.RemoteMessage{inboxMsg(1, "bob@x.com", "hello")}
	mb.bodies[1] = "hi there"

	coord := NewCoordinator(s, mb, nil, true, testLogger())
	res := coord.SyncFolder(context.Background(), acc, inbox)
	require.NoError(t, res.Err)

	got, err := s.GetEmailByUID(acc.ID, inbox.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "hi there", got.BodyText)
}

func TestMarkSeenPropagatesToServerAndCache(t *testing.T) {
	s := newTestStore(t)
	acc := newTestAccount(t, s, "me@x.com")
	inbox := newTestFolder(t, s, acc.ID, "INBOX", types.FolderInbox)

	mb := newFakeMailbox()
	mb.messages["INBOX"] = []types.RemoteMessage{inboxMsg(1, "bob@x.com", "hello")}

	coord := NewCoordinator(s, mb, nil, false, testLogger())
	res := coord.SyncFolder(context.Background(), acc, inbox)
	require.NoError(t, res.Err)

	require.NoError(t, coord.MarkSeen(context.Background(), acc, inbox, 1))

	require.Len(t, mb.flagged, 1)
	assert.Equal(t, []uint32{1}, mb.flagged[0].uids)

	got, err := s.GetEmailByUID(acc.ID, inbox.ID, 1)
	require.NoError(t, err)
	assert.True(t, got.IsRead)
}

func TestMarkSeenRemoteFailureLeavesCacheUnread(t *testing.T) {
	s := newTestStore(t)
	acc := newTestAccount(t, s, "me@x.com")
	inbox := newTestFolder(t, s, acc.ID, "INBOX", types.FolderInbox)

	mb := newFakeMailbox()
	mb.messages["INBOX"] = []types.RemoteMessage{inboxMsg(1, "bob@x.com", "hello")}
	mb.flagErr = fmt.Errorf("connection dropped")

	coord := NewCoordinator(s, mb, nil, false, testLogger())
	res := coord.SyncFolder(context.Background(), acc, inbox)
	require.NoError(t, res.Err)

	require.Error(t, coord.MarkSeen(context.Background(), acc, inbox, 1))

	got, err := s.GetEmailByUID(acc.ID, inbox.ID, 1)
	require.NoError(t, err)
	assert.False(t, got.IsRead)
}

func TestDeleteMessagePropagatesToServerAndCache(t *testing.T) {
	s := newTestStore(t)
	acc := newTestAccount(t, s, "me@x.com")
	inbox := newTestFolder(t, s, acc.ID, "INBOX", types.FolderInbox)

	mb := newFakeMailbox()
	mb.messages["INBOX"] = []types.RemoteMessage{inboxMsg(1, "bob@x.com", "hello")}

	coord := NewCoordinator(s, mb, nil, false, testLogger())
	res := coord.SyncFolder(context.Background(), acc, inbox)
	require.NoError(t, res.Err)

	require.NoError(t, coord.DeleteMessage(context.Background(), acc, inbox, 1))

	require.Len(t, mb.deletes, 1)
	assert.Equal(t, "INBOX", mb.deletes[0].from)

	_, err := s.GetEmailByUID(acc.ID, inbox.ID, 1)
	assert.Error(t, err)
}

func TestSyncAccountIsolatesFolderFailures(t *testing.T) {
	s := newTestStore(t)
	acc := newTestAccount(t, s, "me@x.com")

	mb := newFakeMailbox()
	mb.folders = []types.Folder{
		{Name: "INBOX", RemoteID: "INBOX", Type: types.FolderInbox},
		{Name: "Broken", RemoteID: "Broken", Type: types.FolderCustom},
		{Name: "Archive", RemoteID: "Archive", Type: types.FolderCustom},
	}
	mb.messages["INBOX"] = []types.RemoteMessage{inboxMsg(1, "bob@x.com", "hello")}
	mb.messages["Archive"] = []types.RemoteMessage{inboxMsg(3, "bob@x.com", "old")}
	mb.fetchErrs["Broken"] = fmt.Errorf("mailbox unavailable")

	coord := NewCoordinator(s, mb, nil, false, testLogger())
	results, err := coord.SyncAccount(context.Background(), acc)
	require.NoError(t, err)
	require.Len(t, results, 3)

	byName := make(map[string]FolderResult, len(results))
	for _, r := range results {
		byName[r.Folder] = r
	}
	assert.NoError(t, byName["INBOX"].Err)
	assert.Equal(t, 1, byName["INBOX"].Added)
	assert.Error(t, byName["Broken"].Err)
	assert.NoError(t, byName["Archive"].Err)
	assert.Equal(t, 1, byName["Archive"].Added)
}

func TestSyncAccountUpsertsFolders(t *testing.T) {
	s := newTestStore(t)
	acc := newTestAccount(t, s, "me@x.com")

	mb := newFakeMailbox()
	mb.folders = []types.Folder{
		{Name: "INBOX", RemoteID: "INBOX", Type: types.FolderInbox},
		{Name: "Sent", RemoteID: "Sent", Type: types.FolderSent},
	}

	coord := NewCoordinator(s, mb, nil, false, testLogger())
	_, err := coord.SyncAccount(context.Background(), acc)
	require.NoError(t, err)

	folders, err := s.ListFolders(acc.ID)
	require.NoError(t, err)
	assert.Len(t, folders, 2)
}

func TestSyncAccountHonorsContextCancellation(t *testing.T) {
	s := newTestStore(t)
	acc := newTestAccount(t, s, "me@x.com")

	mb := newFakeMailbox()
	mb.folders = []types.Folder{
		{Name: "INBOX", RemoteID: "INBOX", Type: types.FolderInbox},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	coord := NewCoordinator(s, mb, nil, false, testLogger())
	_, err := coord.SyncAccount(ctx, acc)
	assert.ErrorIs(t, err, context.Canceled)
}
