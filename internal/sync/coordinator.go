package sync

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/mwhite/mailcached/internal/cache"
	"github.com/mwhite/mailcached/internal/email"
	"github.com/mwhite/mailcached/internal/notify"
	"github.com/mwhite/mailcached/internal/rules"
	"github.com/mwhite/mailcached/pkg/types"
)

// FolderResult reports the outcome of one folder's sync. A failed folder
// carries its error here instead of aborting the account's pass.
type FolderResult struct {
	Folder  string
	Added   int
	Updated int
	Removed int
	Moved   int
	Copied  int
	Err     error
}

// Coordinator reconciles one account's remote mailbox against the local
// cache. It is not safe for concurrent use; the poller runs at most one
// pass per account at a time.
type Coordinator struct {
	store       *cache.Store
	mailbox     email.RemoteMailbox
	recorder    *notify.Recorder
	cacheBodies bool
	logger      *logrus.Logger
}

// NewCoordinator creates a coordinator for one account's mailbox connection.
// recorder may be nil to disable notification records. When cacheBodies is
// set, bodies of newly observed messages are fetched and cached immediately.
func NewCoordinator(store *cache.Store, mailbox email.RemoteMailbox, recorder *notify.Recorder, cacheBodies bool, logger *logrus.Logger) *Coordinator {
	return &Coordinator{
		store:       store,
		mailbox:     mailbox,
		recorder:    recorder,
		cacheBodies: cacheBodies,
		logger:      logger,
	}
}

// SyncAccount runs a full sync pass for an account: every remote folder is
// listed, upserted into the cache, and reconciled. A failed folder is
// reported in its FolderResult and does not abort the remaining folders.
// The returned error covers only failures before any folder work started.
func (c *Coordinator) SyncAccount(ctx context.Context, acct *types.Account) ([]FolderResult, error) {
	remoteFolders, err := c.mailbox.ListFolders(ctx)
	if err != nil {
		return nil, fmt.Errorf("list folders for %s: %w", acct.Email, err)
	}

	results := make([]FolderResult, 0, len(remoteFolders))
	for i := range remoteFolders {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		folder := &remoteFolders[i]
		folder.AccountID = acct.ID
		if _, err := c.store.UpsertFolder(folder); err != nil {
			results = append(results, FolderResult{Folder: folder.Name, Err: err})
			continue
		}

		res := c.SyncFolder(ctx, acct, folder)
		if res.Err != nil {
			c.logger.WithError(res.Err).WithFields(logrus.Fields{
				"account": acct.Email,
				"folder":  folder.Name,
			}).Warn("Folder sync failed")
		}
		results = append(results, res)
	}

	return results, nil
}

// SyncFolder reconciles a single folder: the remote listing is diffed
// against the cached UID set, removals and flag changes are applied, new
// messages are inserted and routed through the account's rules.
func (c *Coordinator) SyncFolder(ctx context.Context, acct *types.Account, folder *types.Folder) FolderResult {
	res := FolderResult{Folder: folder.Name}

	remote, err := c.mailbox.Fetch(ctx, folder.RemoteID)
	if err != nil {
		res.Err = fmt.Errorf("fetch %s: %w", folder.RemoteID, err)
		return res
	}

	local, err := c.store.ListUIDFlags(folder.ID)
	if err != nil {
		res.Err = fmt.Errorf("read cached uids: %w", err)
		return res
	}

	delta := Diff(remote, local)

	for _, uid := range delta.Removed {
		if err := c.store.DeleteEmailByUID(acct.ID, folder.ID, uid); err != nil {
			c.logger.WithError(err).WithField("uid", uid).Warn("Failed to delete cached email")
			continue
		}
		res.Removed++
	}

	for _, msg := range delta.Changed {
		if err := c.store.UpdateEmailFlags(acct.ID, folder.ID, msg.UID, msg.Flags); err != nil {
			c.logger.WithError(err).WithField("uid", msg.UID).Warn("Failed to update cached flags")
			continue
		}
		res.Updated++
	}

	// Rules route mail arriving in the inbox; messages observed in other
	// folders are cached as-is.
	var ruleSet []rules.Rule
	if folder.Type == types.FolderInbox {
		ruleSet, err = c.store.ListRules(acct.ID, true)
		if err != nil {
			c.logger.WithError(err).WithField("account", acct.Email).Warn("Failed to load rules")
			ruleSet = nil
		}
	}

	for i := range delta.New {
		if err := ctx.Err(); err != nil {
			res.Err = err
			return res
		}
		msg := &delta.New[i]

		e := &types.Email{
			AccountID:    acct.ID,
			FolderID:     folder.ID,
			UID:          msg.UID,
			MessageID:    msg.MessageID,
			InReplyTo:    msg.InReplyTo,
			References:   msg.References,
			Subject:      msg.Subject,
			Sender:       msg.Sender,
			Recipients:   msg.Recipients,
			DateReceived: msg.Date,
			Flags:        msg.Flags,
		}
		if err := c.store.InsertEmail(e); err != nil {
			if cache.IsConflict(err) {
				// A duplicate UID here means the cache and the diff disagree;
				// treat it as a bug signal and skip the message.
				c.logger.WithField("uid", msg.UID).WithField("folder", folder.Name).
					Warn("Duplicate UID in cache, skipping")
				continue
			}
			c.logger.WithError(err).WithField("uid", msg.UID).Warn("Failed to cache email")
			continue
		}
		res.Added++

		if c.cacheBodies {
			if text, html, err := c.mailbox.FetchBody(ctx, folder.RemoteID, msg.UID); err != nil {
				c.logger.WithError(err).WithField("uid", msg.UID).Debug("Failed to fetch body")
			} else if err := c.store.SetEmailBody(acct.ID, folder.ID, msg.UID, text, html); err != nil {
				c.logger.WithError(err).WithField("uid", msg.UID).Warn("Failed to cache body")
			}
		}

		moved := false
		if r := rules.Match(ruleSet, e); r != nil {
			applied, err := c.applyRule(ctx, acct, folder, e, r)
			if err != nil {
				c.logger.WithError(err).WithFields(logrus.Fields{
					"rule": r.Name,
					"uid":  msg.UID,
				}).Warn("Failed to apply rule")
			} else if applied {
				if r.Action.Kind == rules.ActionMove {
					res.Moved++
					moved = true
				} else {
					res.Copied++
				}
			}
		}

		if !moved && folder.Type == types.FolderInbox && c.recorder != nil {
			c.recorder.NewMail(folder, e)
		}
	}

	if err := c.store.UpdateMessageCount(folder.ID, len(remote)); err != nil {
		c.logger.WithError(err).WithField("folder", folder.Name).Warn("Failed to update message count")
	}

	c.logger.WithFields(logrus.Fields{
		"account": acct.Email,
		"folder":  folder.Name,
		"added":   res.Added,
		"updated": res.Updated,
		"removed": res.Removed,
	}).Info("Synced folder")

	return res
}

// MarkSeen marks a message read on the server and in the cache. The remote
// flag store happens first so the cache never claims a read state the server
// does not have.
func (c *Coordinator) MarkSeen(ctx context.Context, acct *types.Account, folder *types.Folder, uid uint32) error {
	if err := c.mailbox.AddFlags(ctx, []uint32{uid}, folder.RemoteID, []string{types.FlagSeen}); err != nil {
		return fmt.Errorf("mark seen uid %d: %w", uid, err)
	}
	return c.store.MarkRead(acct.ID, folder.ID, uid, true)
}

// DeleteMessage expunges a message on the server and drops its cached row.
func (c *Coordinator) DeleteMessage(ctx context.Context, acct *types.Account, folder *types.Folder, uid uint32) error {
	if err := c.mailbox.Delete(ctx, []uint32{uid}, folder.RemoteID); err != nil {
		return fmt.Errorf("delete uid %d: %w", uid, err)
	}
	return c.store.DeleteEmailByUID(acct.ID, folder.ID, uid)
}

// applyRule executes a matched rule's action: the remote operation first,
// then the transactional cache update, so a failure at either step leaves
// the message observable in exactly one consistent state.
func (c *Coordinator) applyRule(ctx context.Context, acct *types.Account, folder *types.Folder, e *types.Email, r *rules.Rule) (bool, error) {
	target, err := c.store.GetFolder(r.Action.TargetFolderID)
	if err != nil {
		return false, fmt.Errorf("rule %q: %w", r.Name, err)
	}
	if err := rules.ValidateTarget(r, target); err != nil {
		// Rules are validated at save time; a violation here means the
		// folder changed underneath the rule. Never apply it silently.
		return false, err
	}
	if target.ID == folder.ID {
		return false, nil
	}

	switch r.Action.Kind {
	case rules.ActionMove:
		if err := c.mailbox.Move(ctx, []uint32{e.UID}, folder.RemoteID, target.RemoteID); err != nil {
			return false, err
		}
		if err := c.store.ApplyMove(acct.ID, folder.ID, target.ID, e.UID); err != nil {
			if cache.IsConflict(err) {
				c.logger.WithField("uid", e.UID).Warn("Duplicate UID in target folder, dropping source row")
				return true, c.store.DeleteEmailByUID(acct.ID, folder.ID, e.UID)
			}
			return false, err
		}
	case rules.ActionCopy:
		if err := c.mailbox.Copy(ctx, []uint32{e.UID}, folder.RemoteID, target.RemoteID); err != nil {
			return false, err
		}
		if err := c.store.ApplyCopy(acct.ID, folder.ID, target.ID, e.UID); err != nil {
			if cache.IsConflict(err) {
				c.logger.WithField("uid", e.UID).Warn("Duplicate UID in target folder, skipping cache copy")
				return true, nil
			}
			return false, err
		}
	default:
		return false, fmt.Errorf("rule %q: unknown action %q", r.Name, r.Action.Kind)
	}

	c.logger.WithFields(logrus.Fields{
		"rule":   r.Name,
		"uid":    e.UID,
		"target": target.Name,
		"action": string(r.Action.Kind),
	}).Info("Applied rule")
	return true, nil
}
