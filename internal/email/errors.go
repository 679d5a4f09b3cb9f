package email

import (
	"errors"
	"fmt"
	"io"
	"net"
)

// Sentinel errors classifying remote mailbox failures. The poller keys its
// retry behavior off these: network errors retry on the next tick, auth
// errors pause the account until credentials change, protocol errors are
// reported per folder.
var (
	ErrAuth     = errors.New("authentication failed")
	ErrNetwork  = errors.New("network unavailable")
	ErrProtocol = errors.New("protocol error")
)

// IsAuthError reports whether err is an authentication failure.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrAuth)
}

// IsNetworkError reports whether err is a transport-level failure.
func IsNetworkError(err error) bool {
	return errors.Is(err, ErrNetwork)
}

// classifyNetwork wraps err as a network error when it is transport-level,
// otherwise as a protocol error.
func classifyNetwork(op string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%s: %w: %v", op, ErrNetwork, err)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrProtocol, err)
}
