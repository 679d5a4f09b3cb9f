// Package notify records new-mail events in the cache for later display.
// Delivery (toasts, sounds, screen-reader announcements) is a presentation
// concern that lives outside this core.
package notify

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/mwhite/mailcached/internal/cache"
	"github.com/mwhite/mailcached/pkg/types"
)

// Recorder writes notification records for newly arrived messages.
type Recorder struct {
	store  *cache.Store
	logger *logrus.Logger
}

// NewRecorder creates a recorder over the cache store.
func NewRecorder(store *cache.Store, logger *logrus.Logger) *Recorder {
	return &Recorder{store: store, logger: logger}
}

// NewMail records the arrival of a message in a folder.
func (r *Recorder) NewMail(folder *types.Folder, e *types.Email) {
	n := &types.Notification{
		AccountID: e.AccountID,
		FolderID:  e.FolderID,
		UID:       e.UID,
		Message:   fmt.Sprintf("New email from %s: %s", e.Sender, e.Subject),
	}
	if err := r.store.CreateNotification(n); err != nil {
		r.logger.WithError(err).WithField("uid", e.UID).Warn("Failed to record notification")
		return
	}

	r.logger.WithFields(logrus.Fields{
		"folder": folder.Name,
		"sender": e.Sender,
	}).Debug("Recorded new mail notification")
}
