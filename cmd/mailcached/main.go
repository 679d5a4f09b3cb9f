package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/mwhite/mailcached/internal/cache"
	"github.com/mwhite/mailcached/internal/config"
	"github.com/mwhite/mailcached/internal/email"
	"github.com/mwhite/mailcached/internal/notify"
	"github.com/mwhite/mailcached/internal/sync"
	"github.com/mwhite/mailcached/pkg/types"
)

var (
	version     = "dev"
	showVersion = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("mailcached version %s\n", version)
		os.Exit(0)
	}

	// Optional .env for local development.
	godotenv.Load() //nolint:errcheck

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	logger.Info("Starting mailcached")

	db, err := cache.Open(cfg.CachePath, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize cache")
	}
	defer db.Close()

	store := cache.NewStore(db, logger)

	// Mirror configured accounts into the cache.
	for i := range cfg.Accounts {
		accCfg := &cfg.Accounts[i]
		acc := &types.Account{
			Email:    accCfg.Email,
			IMAPHost: accCfg.IMAPHost,
			IMAPPort: accCfg.IMAPPort,
			SMTPHost: accCfg.SMTPHost,
			SMTPPort: accCfg.SMTPPort,
			IsActive: accCfg.Active,
		}
		if _, err := store.UpsertAccount(acc); err != nil {
			logger.WithError(err).WithField("account", accCfg.Email).Fatal("Failed to cache account")
		}
	}

	accounts := email.NewAccountManager(cfg, logger)
	defer accounts.Close()

	dial := func(accountEmail string) (email.RemoteMailbox, error) {
		acc, err := accounts.GetAccount(accountEmail)
		if err != nil {
			return nil, err
		}
		return acc.IMAP, nil
	}

	recorder := notify.NewRecorder(store, logger)
	poller := sync.NewPoller(store, dial, recorder, cfg.PollInterval, cfg.CacheBodies, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := poller.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start poller")
	}

	// Drain pass summaries so the result channel never fills.
	go func() {
		for res := range poller.Results() {
			if res.Err != nil {
				logger.WithError(res.Err).WithField("account", res.Account).Warn("Sync pass failed")
				continue
			}
			for _, fr := range res.Folders {
				if fr.Err != nil {
					logger.WithError(fr.Err).WithFields(logrus.Fields{
						"account": res.Account,
						"folder":  fr.Folder,
					}).Warn("Folder sync failed")
				}
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	logger.WithField("signal", sig).Info("Received shutdown signal")

	cancel()
	poller.Stop()

	logger.Info("Shutting down mailcached")
}
