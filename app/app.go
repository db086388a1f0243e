// Package app assembles the registration and verification pipelines from a
// config.Config. Daemons and the CLI share it so that both run the same
// wiring.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"xdao.co/veritaslog/clock"
	"xdao.co/veritaslog/config"
	"xdao.co/veritaslog/decryptor"
	"xdao.co/veritaslog/gateway"
	"xdao.co/veritaslog/keys"
	"xdao.co/veritaslog/ledger"
	"xdao.co/veritaslog/ledger/pgledger"
	"xdao.co/veritaslog/registrar"
	"xdao.co/veritaslog/session"
	"xdao.co/veritaslog/storage"
	"xdao.co/veritaslog/storage/blobregistry"
	"xdao.co/veritaslog/threshold"
	"xdao.co/veritaslog/threshold/grpckeys"
	"xdao.co/veritaslog/uploader"
	"xdao.co/veritaslog/verifier"

	// Blob backends available to storage config.
	_ "xdao.co/veritaslog/storage/grpcblob"
	_ "xdao.co/veritaslog/storage/localfs"
	_ "xdao.co/veritaslog/storage/memory"
	_ "xdao.co/veritaslog/storage/walrus"
)

// App is a fully wired node.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Store     storage.BlobStore
	Ledger    ledger.Ledger
	Committee *threshold.Committee
	// KeyServers holds the in-process committee members.
	KeyServers []*threshold.KeyServer
	Sessions   *session.Cache

	Gateway   *gateway.Gateway
	Uploader  *uploader.Uploader
	Registrar *registrar.Registrar
	Decryptor *decryptor.Decryptor
	Verifier  *verifier.Verifier

	closers []func() error
}

// Options overrides pieces of the wiring, mostly for tests.
type Options struct {
	Logger *slog.Logger
	Clock  clock.Clock
	// Store replaces the configured blob backends.
	Store storage.BlobStore
	// Ledger replaces the configured ledger driver.
	Ledger ledger.Ledger
	// Owner is the default registering address.
	Owner string
}

// New builds an App. On error everything opened so far is closed.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: nil config")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	a := &App{Config: cfg, Logger: log}
	if err := a.build(ctx, opts); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, opts Options) error {
	cfg, log := a.Config, a.Logger

	if a.Store = opts.Store; a.Store == nil {
		if err := a.openStore(); err != nil {
			return err
		}
	}
	if a.Ledger = opts.Ledger; a.Ledger == nil {
		if err := a.openLedger(ctx, opts.Clock); err != nil {
			return err
		}
	}
	if err := a.openCommittee(ctx, opts.Clock); err != nil {
		return err
	}

	mode, err := cfg.Mode()
	if err != nil {
		return err
	}
	a.Gateway = &gateway.Gateway{
		Encrypter:        a.Committee,
		Namespace:        cfg.Namespace,
		Threshold:        cfg.Threshold,
		MaxArtifactBytes: cfg.MaxArtifactBytes,
		Mode:             mode,
		Logger:           log.With("component", "gateway"),
	}

	a.Uploader = uploader.New(a.Store)
	a.Uploader.Policy = cfg.RetryPolicy()
	a.Uploader.Timeout = cfg.Upload.Timeout
	a.Uploader.Epochs = cfg.Upload.Epochs
	if cfg.Upload.Deletable != nil {
		a.Uploader.Deletable = *cfg.Upload.Deletable
	}
	a.Uploader.Signer = cfg.Upload.Signer
	a.Uploader.Clock = opts.Clock
	a.Uploader.Logger = log.With("component", "uploader")

	a.Registrar = &registrar.Registrar{
		Gateway:  a.Gateway,
		Uploader: a.Uploader,
		Ledger:   a.Ledger,
		Owner:    opts.Owner,
		Clock:    opts.Clock,
		Logger:   log.With("component", "registrar"),
	}

	a.Sessions = session.NewCache(cfg.Namespace)
	a.Sessions.TTL = cfg.Session.TTL
	a.Sessions.SignTimeout = cfg.Session.SignTimeout
	a.Sessions.Clock = opts.Clock
	a.Sessions.Logger = log.With("component", "session")

	a.Decryptor = &decryptor.Decryptor{
		Store:     a.Store,
		Proofs:    &ledger.ProofBuilder{Ledger: a.Ledger, Namespace: cfg.Namespace, Clock: opts.Clock},
		Sessions:  a.Sessions,
		Decrypter: a.Committee,
		Logger:    log.With("component", "decryptor"),
	}
	a.Verifier = &verifier.Verifier{
		Ledger:    a.Ledger,
		Decryptor: a.Decryptor,
		Mode:      mode,
		Logger:    log.With("component", "verifier"),
	}
	return nil
}

func (a *App) openStore() error {
	bc, err := a.Config.Storage.Blob()
	if err != nil {
		return err
	}
	store, closeFn, err := bc.Open(blobregistry.UsageCLI, "")
	if err != nil {
		return fmt.Errorf("app: open blob store: %w", err)
	}
	a.Store = store
	a.onClose(closeFn)
	return nil
}

func (a *App) openLedger(ctx context.Context, clk clock.Clock) error {
	log := a.Logger.With("component", "ledger")
	lc := a.Config.Ledger
	switch lc.Driver {
	case config.LedgerPostgres:
		pool, err := pgledger.Connect(ctx, lc.DSN)
		if err != nil {
			return err
		}
		a.onClose(func() error { pool.Close(); return nil })
		st := pgledger.New(pool)
		st.Clock = clk
		st.Logger = log
		if err := st.Migrate(ctx); err != nil {
			return err
		}
		a.Ledger = st
	case config.LedgerFile:
		m, err := ledger.OpenFile(lc.Path)
		if err != nil {
			return err
		}
		m.Clock = clk
		m.Logger = log
		a.Ledger = m
	default:
		m := ledger.NewMemory()
		m.Clock = clk
		m.Logger = log
		a.Ledger = m
	}
	return nil
}

func (a *App) openCommittee(ctx context.Context, clk clock.Clock) error {
	cfg := a.Config
	c := &threshold.Committee{
		Openers: make(map[string]threshold.ShareOpener, len(cfg.KeyServers)),
		Logger:  a.Logger.With("component", "committee"),
	}
	for _, kc := range cfg.KeyServers {
		if !kc.Local() {
			client, err := grpckeys.Dial(kc.Target)
			if err != nil {
				return fmt.Errorf("app: key server %q: %w", kc.ID, err)
			}
			a.onClose(client.Close)
			client.Timeout = kc.Timeout
			info, err := client.Info(ctx)
			if err != nil {
				return fmt.Errorf("app: key server %q: %w", kc.ID, err)
			}
			if info.ID != kc.ID {
				return fmt.Errorf("app: key server at %s reports id %q, configured as %q", kc.Target, info.ID, kc.ID)
			}
			c.Servers = append(c.Servers, info)
			c.Openers[kc.ID] = client
			continue
		}
		ks, err := LocalKeyServer(cfg, kc, a.Ledger)
		if err != nil {
			return err
		}
		ks.Clock = clk
		ks.Logger = a.Logger.With("component", "keyserver")
		a.KeyServers = append(a.KeyServers, ks)
		c.Servers = append(c.Servers, ks.Info())
		c.Openers[kc.ID] = ks
	}
	a.Committee = c
	return nil
}

// LocalKeyServer builds the in-process key server described by kc.
func LocalKeyServer(cfg *config.Config, kc config.KeyServerConfig, checker threshold.AccessChecker) (*threshold.KeyServer, error) {
	var seed []byte
	var err error
	if kc.SeedHex != "" {
		seed, err = keys.ParseSeedHex(kc.SeedHex)
	} else {
		var master []byte
		master, err = keys.ParseSeedHex(cfg.KeyServerMasterSeedHex)
		if err == nil {
			seed, err = keys.KeyServerSeed(master, kc.ID)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("app: key server %q seed: %w", kc.ID, err)
	}
	ks, err := threshold.NewKeyServer(kc.ID, seed, checker)
	if err != nil {
		return nil, err
	}
	ks.Namespace = cfg.Namespace
	return ks, nil
}

func (a *App) onClose(fn func() error) {
	if fn != nil {
		a.closers = append(a.closers, fn)
	}
}

// Close releases backends in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
