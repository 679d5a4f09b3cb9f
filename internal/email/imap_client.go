package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/jhillyerd/enmime"
	"github.com/sirupsen/logrus"

	"github.com/mwhite/mailcached/pkg/types"
)

// IMAPClient wraps an IMAP client connection for one account. It implements
// RemoteMailbox. A connection serves one sync pass at a time; the poller
// serializes passes per account.
type IMAPClient struct {
	host     string
	port     int
	username string
	password string

	client    *client.Client
	logger    *logrus.Logger
	connected bool
}

// NewIMAPClient creates a new IMAP client (does not connect immediately).
func NewIMAPClient(host string, port int, username, password string, logger *logrus.Logger) *IMAPClient {
	return &IMAPClient{
		host:     host,
		port:     port,
		username: username,
		password: password,
		logger:   logger,
	}
}

// Connect establishes a connection to the IMAP server and logs in.
func (c *IMAPClient) Connect() error {
	if c.connected && c.client != nil {
		return nil
	}

	addr := fmt.Sprintf("%s:%d", c.host, c.port)

	cl, err := client.DialTLS(addr, &tls.Config{
		ServerName: c.host,
		MinVersion: tls.VersionTLS12,
	})
	if err != nil {
		return classifyNetwork("connect "+addr, err)
	}

	c.client = cl

	if err := c.client.Login(c.username, c.password); err != nil {
		c.client.Logout() //nolint:errcheck
		c.client = nil
		return fmt.Errorf("login %s: %w: %v", c.username, ErrAuth, err)
	}

	c.connected = true
	c.logger.WithField("account", c.username).Debug("Connected to IMAP server")
	return nil
}

// Close closes the IMAP connection.
func (c *IMAPClient) Close() error {
	if c.client != nil {
		err := c.client.Logout()
		c.client = nil
		c.connected = false
		return err
	}
	return nil
}

// ListFolders lists all mailboxes with their detected folder types.
func (c *IMAPClient) ListFolders(ctx context.Context) ([]types.Folder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.Connect(); err != nil {
		return nil, err
	}

	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)

	go func() {
		done <- c.client.List("", "*", mailboxes)
	}()

	var folders []types.Folder
	for m := range mailboxes {
		folders = append(folders, types.Folder{
			Name:     displayName(m.Name, m.Delimiter),
			RemoteID: m.Name,
			Type:     detectFolderType(m.Name, m.Attributes),
		})
	}

	if err := <-done; err != nil {
		return nil, classifyNetwork("list folders", err)
	}

	return folders, nil
}

// Fetch lists a folder's complete UID set with flags and header metadata.
// Bodies are not fetched here; they are immutable once cached and retrieved
// on demand via FetchBody.
func (c *IMAPClient) Fetch(ctx context.Context, folder string) ([]types.RemoteMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.Connect(); err != nil {
		return nil, err
	}

	mbox, err := c.client.Select(folder, true)
	if err != nil {
		return nil, classifyNetwork("select "+folder, err)
	}

	if mbox.Messages == 0 {
		return nil, nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddRange(1, mbox.Messages)

	headerSection := &imap.BodySectionName{
		BodyPartName: imap.BodyPartName{Specifier: imap.HeaderSpecifier},
		Peek:         true,
	}
	items := []imap.FetchItem{
		imap.FetchEnvelope,
		imap.FetchFlags,
		imap.FetchUid,
		imap.FetchInternalDate,
		headerSection.FetchItem(),
	}

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)

	go func() {
		done <- c.client.Fetch(seqSet, items, messages)
	}()

	var listing []types.RemoteMessage
	for msg := range messages {
		listing = append(listing, c.parseMessage(msg, headerSection))
	}

	if err := <-done; err != nil {
		return nil, classifyNetwork("fetch "+folder, err)
	}

	return listing, nil
}

// parseMessage converts an IMAP fetch result into a RemoteMessage.
func (c *IMAPClient) parseMessage(msg *imap.Message, headerSection *imap.BodySectionName) types.RemoteMessage {
	rm := types.RemoteMessage{
		UID:  msg.Uid,
		Date: msg.InternalDate,
	}

	// The \Recent flag is session-relative and never cached.
	for _, f := range msg.Flags {
		if f != types.FlagRecent {
			rm.Flags = append(rm.Flags, f)
		}
	}

	if env := msg.Envelope; env != nil {
		rm.MessageID = env.MessageId
		rm.InReplyTo = env.InReplyTo
		rm.Subject = env.Subject
		if !env.Date.IsZero() {
			rm.Date = env.Date
		}
		if len(env.From) > 0 {
			rm.Sender = formatAddress(env.From[0])
		}
		for _, addrs := range [][]*imap.Address{env.To, env.Cc, env.Bcc} {
			for _, a := range addrs {
				rm.Recipients = append(rm.Recipients, a.Address())
			}
		}
	}

	// The envelope has no References entry; read it from the header section.
	if literal := msg.GetBody(headerSection); literal != nil {
		if headers, err := enmime.ReadEnvelope(io.MultiReader(literal, strings.NewReader("\r\n"))); err == nil {
			rm.References = types.ParseReferences(headers.GetHeader("References"))
			if rm.InReplyTo == "" {
				rm.InReplyTo = headers.GetHeader("In-Reply-To")
			}
		}
	}

	return rm
}

// FetchBody retrieves and parses the body of a single message.
func (c *IMAPClient) FetchBody(ctx context.Context, folder string, uid uint32) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}
	if err := c.Connect(); err != nil {
		return "", "", err
	}

	if _, err := c.client.Select(folder, true); err != nil {
		return "", "", classifyNetwork("select "+folder, err)
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)

	go func() {
		done <- c.client.UidFetch(seqSet, items, messages)
	}()

	var raw []byte
	for msg := range messages {
		if literal := msg.GetBody(section); literal != nil {
			raw, _ = io.ReadAll(literal)
		}
	}

	if err := <-done; err != nil {
		return "", "", classifyNetwork("fetch body", err)
	}
	if len(raw) == 0 {
		return "", "", fmt.Errorf("fetch body uid %d: %w: empty response", uid, ErrProtocol)
	}

	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		// Unparseable MIME still caches as raw text.
		c.logger.WithError(err).WithField("uid", uid).Debug("Failed to parse message body")
		return string(raw), "", nil
	}
	return env.Text, env.HTML, nil
}

// Move relocates messages to another folder on the server.
func (c *IMAPClient) Move(ctx context.Context, uids []uint32, from, to string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.Connect(); err != nil {
		return err
	}

	if _, err := c.client.Select(from, false); err != nil {
		return classifyNetwork("select "+from, err)
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	if err := c.client.UidMove(seqSet, to); err != nil {
		return classifyNetwork(fmt.Sprintf("move %s -> %s", from, to), err)
	}
	return nil
}

// Copy duplicates messages into another folder on the server.
func (c *IMAPClient) Copy(ctx context.Context, uids []uint32, from, to string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.Connect(); err != nil {
		return err
	}

	if _, err := c.client.Select(from, false); err != nil {
		return classifyNetwork("select "+from, err)
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	if err := c.client.UidCopy(seqSet, to); err != nil {
		return classifyNetwork(fmt.Sprintf("copy %s -> %s", from, to), err)
	}
	return nil
}

// Delete flags messages as deleted and expunges them.
func (c *IMAPClient) Delete(ctx context.Context, uids []uint32, folder string) error {
	if err := c.AddFlags(ctx, uids, folder, []string{imap.DeletedFlag}); err != nil {
		return err
	}
	if err := c.client.Expunge(nil); err != nil {
		return classifyNetwork("expunge "+folder, err)
	}
	return nil
}

// AddFlags adds flags to messages in a folder.
func (c *IMAPClient) AddFlags(ctx context.Context, uids []uint32, folder string, flags []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.Connect(); err != nil {
		return err
	}

	if _, err := c.client.Select(folder, false); err != nil {
		return classifyNetwork("select "+folder, err)
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	value := make([]interface{}, len(flags))
	for i, f := range flags {
		value[i] = f
	}

	if err := c.client.UidStore(seqSet, item, value, nil); err != nil {
		return classifyNetwork("store flags "+folder, err)
	}
	return nil
}

// detectFolderType classifies a mailbox from its SPECIAL-USE attributes,
// falling back to common folder names.
func detectFolderType(name string, attributes []string) types.FolderType {
	for _, attr := range attributes {
		switch attr {
		case "\\Sent":
			return types.FolderSent
		case "\\Trash":
			return types.FolderTrash
		case "\\Drafts":
			return types.FolderDrafts
		}
	}

	if strings.EqualFold(name, "INBOX") {
		return types.FolderInbox
	}
	switch strings.ToLower(name) {
	case "sent", "sent items", "sent messages":
		return types.FolderSent
	case "trash", "deleted", "deleted items":
		return types.FolderTrash
	case "drafts":
		return types.FolderDrafts
	}
	return types.FolderCustom
}

// displayName returns the last path segment of a mailbox name.
func displayName(name, delimiter string) string {
	if delimiter == "" {
		return name
	}
	parts := strings.Split(name, delimiter)
	return parts[len(parts)-1]
}

// formatAddress renders an address as "Name <mailbox@host>" or the bare
// address when no display name is set.
func formatAddress(addr *imap.Address) string {
	if addr == nil {
		return ""
	}
	if addr.PersonalName != "" {
		return fmt.Sprintf("%s <%s>", addr.PersonalName, addr.Address())
	}
	return addr.Address()
}
