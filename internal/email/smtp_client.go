package email

import (
	"crypto/tls"
	"fmt"

	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"

	"github.com/mwhite/mailcached/pkg/types"
)

// SMTPClient sends mail for one account.
type SMTPClient struct {
	host     string
	port     int
	username string
	password string
	logger   *logrus.Logger
}

// OutgoingMessage is an email to be sent. In-Reply-To and References carry
// the threading headers for replies.
type OutgoingMessage struct {
	To         []string
	Cc         []string
	Bcc        []string
	Subject    string
	BodyText   string
	BodyHTML   string
	InReplyTo  string
	References []string
}

// NewSMTPClient creates a new SMTP client.
func NewSMTPClient(host string, port int, username, password string, logger *logrus.Logger) *SMTPClient {
	return &SMTPClient{
		host:     host,
		port:     port,
		username: username,
		password: password,
		logger:   logger,
	}
}

// Send delivers a message through the account's SMTP server.
func (c *SMTPClient) Send(msg *OutgoingMessage) error {
	if len(msg.To) == 0 {
		return fmt.Errorf("message has no recipients")
	}

	m := gomail.NewMessage()
	m.SetHeader("From", c.username)
	m.SetHeader("To", msg.To...)
	if len(msg.Cc) > 0 {
		m.SetHeader("Cc", msg.Cc...)
	}
	if len(msg.Bcc) > 0 {
		m.SetHeader("Bcc", msg.Bcc...)
	}
	m.SetHeader("Subject", msg.Subject)
	if msg.InReplyTo != "" {
		m.SetHeader("In-Reply-To", msg.InReplyTo)
	}
	if len(msg.References) > 0 {
		m.SetHeader("References", types.JoinReferences(msg.References))
	}

	if msg.BodyText != "" {
		m.SetBody("text/plain", msg.BodyText)
		if msg.BodyHTML != "" {
			m.AddAlternative("text/html", msg.BodyHTML)
		}
	} else {
		m.SetBody("text/html", msg.BodyHTML)
	}

	d := gomail.NewDialer(c.host, c.port, c.username, c.password)
	d.TLSConfig = &tls.Config{
		ServerName: c.host,
		MinVersion: tls.VersionTLS12,
	}
	// Port 465 is implicit TLS; anything else negotiates STARTTLS.
	d.SSL = c.port == 465

	if err := d.DialAndSend(m); err != nil {
		return classifyNetwork("send mail", err)
	}

	c.logger.WithFields(logrus.Fields{
		"account": c.username,
		"to":      msg.To,
	}).Info("Sent email")
	return nil
}
