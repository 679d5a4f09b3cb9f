package credential

import (
	"fmt"

	"github.com/99designs/keyring"
)

const serviceName = "mailcached"

// openKeyring returns a configured keyring instance.
func openKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/mailcached/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("mailcached-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// GetPassword retrieves the stored password for an account email address.
func GetPassword(accountEmail string) (string, error) {
	ring, err := openKeyring()
	if err != nil {
		return "", err
	}

	item, err := ring.Get(accountEmail)
	if err != nil {
		return "", fmt.Errorf("getting credential for %q: %w", accountEmail, err)
	}

	return string(item.Data), nil
}

// SetPassword stores the password for an account email address.
func SetPassword(accountEmail, password string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:  accountEmail,
		Data: []byte(password),
	})
	if err != nil {
		return fmt.Errorf("setting credential for %q: %w", accountEmail, err)
	}

	return nil
}

// DeletePassword removes the stored password for an account email address.
func DeletePassword(accountEmail string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	err = ring.Remove(accountEmail)
	if err != nil {
		return fmt.Errorf("deleting credential for %q: %w", accountEmail, err)
	}

	return nil
}
