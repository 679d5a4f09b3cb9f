package email

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/mwhite/mailcached/internal/config"
	"github.com/mwhite/mailcached/internal/credential"
)

// Account bundles the IMAP and SMTP clients for one configured mailbox.
type Account struct {
	Config *config.AccountConfig
	IMAP   *IMAPClient
	SMTP   *SMTPClient
}

// AccountManager constructs and caches per-account clients. Passwords absent
// from the configuration are resolved from the system keyring the first time
// an account's clients are built. Safe for concurrent use; the poller dials
// every account from its own goroutine.
type AccountManager struct {
	cfg    *config.Config
	logger *logrus.Logger

	mu       sync.Mutex
	accounts map[string]*Account
}

// NewAccountManager creates an account manager over the loaded configuration.
func NewAccountManager(cfg *config.Config, logger *logrus.Logger) *AccountManager {
	return &AccountManager{
		cfg:      cfg,
		logger:   logger,
		accounts: make(map[string]*Account),
	}
}

// GetAccount returns the clients for an account, building them on first use.
func (m *AccountManager) GetAccount(accountEmail string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if acc, ok := m.accounts[accountEmail]; ok {
		return acc, nil
	}

	accCfg, err := m.cfg.GetAccountByEmail(accountEmail)
	if err != nil {
		return nil, err
	}

	password := accCfg.Password
	if password == "" {
		password, err = credential.GetPassword(accountEmail)
		if err != nil {
			return nil, fmt.Errorf("no password for %s: %w: %v", accountEmail, ErrAuth, err)
		}
	}

	acc := &Account{
		Config: accCfg,
		IMAP:   NewIMAPClient(accCfg.IMAPHost, accCfg.IMAPPort, accountEmail, password, m.logger),
		SMTP:   NewSMTPClient(accCfg.SMTPHost, accCfg.SMTPPort, accountEmail, password, m.logger),
	}
	m.accounts[accountEmail] = acc
	return acc, nil
}

// Close closes all open account connections.
func (m *AccountManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, acc := range m.accounts {
		if acc.IMAP != nil {
			acc.IMAP.Close() //nolint:errcheck
		}
	}
	return nil
}
