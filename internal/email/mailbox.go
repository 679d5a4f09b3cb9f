package email

import (
	"context"

	"github.com/mwhite/mailcached/pkg/types"
)

// RemoteMailbox is the collaborator interface to a remote IMAP mailbox. The
// sync coordinator consumes this interface; the production implementation is
// IMAPClient, tests substitute a fake.
//
// Fetch returns the folder's complete current listing, not an incremental
// delta, so the coordinator can detect removals. Errors carry the
// auth/network/protocol classification from this package.
type RemoteMailbox interface {
	// ListFolders lists the account's folders with their server-side paths
	// and detected types.
	ListFolders(ctx context.Context) ([]types.Folder, error)

	// Fetch lists a folder's full UID set with flags and header metadata.
	Fetch(ctx context.Context, folder string) ([]types.RemoteMessage, error)

	// FetchBody retrieves the text and HTML bodies of one message.
	FetchBody(ctx context.Context, folder string, uid uint32) (text, html string, err error)

	// Move relocates messages to another folder on the server.
	Move(ctx context.Context, uids []uint32, from, to string) error

	// Copy duplicates messages into another folder on the server.
	Copy(ctx context.Context, uids []uint32, from, to string) error

	// Delete expunges messages from a folder on the server.
	Delete(ctx context.Context, uids []uint32, folder string) error

	// AddFlags adds flags to messages in a folder on the server.
	AddFlags(ctx context.Context, uids []uint32, folder string, flags []string) error

	// Close terminates the connection.
	Close() error
}
