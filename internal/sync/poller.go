package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mwhite/mailcached/internal/cache"
	"github.com/mwhite/mailcached/internal/email"
	"github.com/mwhite/mailcached/internal/notify"
	"github.com/mwhite/mailcached/pkg/types"
)

// DefaultPollInterval is the documented background polling interval.
const DefaultPollInterval = 60 * time.Second

// maxBackoffTicks caps how many scheduled ticks a network-failing account
// skips between retries.
const maxBackoffTicks = 8

// Dialer opens a remote mailbox connection for an account. Each polling
// goroutine dials its own connection so accounts never share an IMAP
// session.
type Dialer func(accountEmail string) (email.RemoteMailbox, error)

// AccountResult summarizes one account's completed sync pass.
type AccountResult struct {
	Account string
	Folders []FolderResult
	Err     error
}

// Poller runs periodic sync passes for every active account. Passes for
// different accounts run concurrently; passes for the same account are
// serialized by that account's single polling goroutine.
type Poller struct {
	store       *cache.Store
	dial        Dialer
	recorder    *notify.Recorder
	interval    time.Duration
	cacheBodies bool
	logger      *logrus.Logger

	mu       gosync.Mutex
	running  bool
	stopCh   chan struct{}
	triggers map[string]chan struct{}

	resultCh chan AccountResult
	wg       gosync.WaitGroup
}

// NewPoller creates a poller. interval <= 0 falls back to
// DefaultPollInterval.
func NewPoller(store *cache.Store, dial Dialer, recorder *notify.Recorder, interval time.Duration, cacheBodies bool, logger *logrus.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		store:       store,
		dial:        dial,
		recorder:    recorder,
		interval:    interval,
		cacheBodies: cacheBodies,
		logger:      logger,
		stopCh:      make(chan struct{}),
		triggers:    make(map[string]chan struct{}),
		resultCh:    make(chan AccountResult, 16),
	}
}

// Start launches one polling goroutine per active account. It returns an
// error if the account list cannot be read or the poller already runs.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("poller already running")
	}
	p.running = true
	p.mu.Unlock()

	accounts, err := p.store.ListAccounts(true)
	if err != nil {
		return fmt.Errorf("failed to list accounts: %w", err)
	}

	// Each account gets its own trigger channel so a refresh for one
	// account can never be consumed by another account's goroutine.
	p.mu.Lock()
	for i := range accounts {
		p.triggers[accounts[i].Email] = make(chan struct{}, 1)
	}
	p.mu.Unlock()

	for i := range accounts {
		acct := accounts[i]
		trigger := p.triggers[acct.Email]
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.pollAccount(ctx, acct, trigger)
		}()
	}

	p.logger.WithFields(logrus.Fields{
		"accounts": len(accounts),
		"interval": p.interval,
	}).Info("Poller started")
	return nil
}

// Stop halts all polling goroutines and waits for in-flight passes to
// finish or abandon cleanly.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
}

// Refresh triggers an immediate sync pass for one account. A refresh also
// resumes an account paused by an authentication failure. Unknown accounts
// are ignored.
func (p *Poller) Refresh(accountEmail string) {
	p.mu.Lock()
	trigger := p.triggers[accountEmail]
	p.mu.Unlock()
	if trigger == nil {
		return
	}

	select {
	case trigger <- struct{}{}:
	default:
		// Channel full; a pass is already pending.
	}
}

// Results returns the channel of completed pass summaries.
func (p *Poller) Results() <-chan AccountResult {
	return p.resultCh
}

// pollAccount is the polling loop for a single account. trigger carries
// manual refresh requests for this account only.
func (p *Poller) pollAccount(ctx context.Context, acct types.Account, trigger <-chan struct{}) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// An auth failure pauses scheduled passes for this account until a
	// manual refresh; retrying bad credentials every tick only locks the
	// account out server-side. Network failures back off by skipping ticks,
	// doubling up to maxBackoffTicks.
	paused := false
	backoff := 0
	skip := 0

	run := func() {
		err := p.runPass(ctx, &acct)
		switch {
		case email.IsAuthError(err):
			paused = true
			p.logger.WithError(err).WithField("account", acct.Email).
				Error("Authentication failed, pausing account until refresh")
		case email.IsNetworkError(err):
			if backoff == 0 {
				backoff = 1
			} else if backoff < maxBackoffTicks {
				backoff *= 2
			}
			skip = backoff
			p.logger.WithError(err).WithFields(logrus.Fields{
				"account": acct.Email,
				"ticks":   skip,
			}).Warn("Network failure, backing off")
		default:
			backoff = 0
			skip = 0
		}
	}

	run()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			if paused {
				continue
			}
			if skip > 0 {
				skip--
				continue
			}
			run()
		case <-trigger:
			paused = false
			backoff = 0
			skip = 0
			run()
		}
	}
}

// runPass dials the account's mailbox, runs one sync pass, and reports the
// outcome. The returned error is the pass-level failure, if any.
func (p *Poller) runPass(ctx context.Context, acct *types.Account) error {
	mailbox, err := p.dial(acct.Email)
	if err != nil {
		p.sendResult(AccountResult{Account: acct.Email, Err: err})
		return err
	}
	defer mailbox.Close() //nolint:errcheck

	coord := NewCoordinator(p.store, mailbox, p.recorder, p.cacheBodies, p.logger)
	folders, err := coord.SyncAccount(ctx, acct)

	p.sendResult(AccountResult{Account: acct.Email, Folders: folders, Err: err})
	return err
}

// sendResult reports a pass summary without blocking the polling loop.
func (p *Poller) sendResult(res AccountResult) {
	select {
	case p.resultCh <- res:
	default:
		// Drop if nobody is draining results.
	}
}
