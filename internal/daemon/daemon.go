package daemon

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/studiomate/studiod/internal/api"
	"github.com/studiomate/studiod/internal/app/engine"
	"github.com/studiomate/studiod/internal/domain"
	"github.com/studiomate/studiod/internal/infra/feed"
	"github.com/studiomate/studiod/internal/infra/sqlite"
	"github.com/studiomate/studiod/internal/notify"
)

// Daemon owns the wired-up components and the tick loop.
type Daemon struct {
	cfg    Config
	db     *sqlite.DB
	engine *engine.Engine
	server *http.Server
}

// New opens the store and wires every component per cfg.
func New(cfg Config, version string) (*Daemon, error) {
	db, err := sqlite.Open(cfg.Storage.Path)
	if err != nil {
		return nil, err
	}

	categories := cfg.Categories()
	engineCfg := engine.Config{
		MaxCombo:           cfg.Engine.MaxCombo,
		MaxSplitCandidates: cfg.Engine.MaxSplitCandidates,
		BankLookback:       cfg.Bank.Lookback.Duration,
		Categories:         categories,
	}

	notifier := notify.New(notify.Config{
		Studio:  cfg.Notify.Studio,
		Bank:    cfg.Notify.Bank,
		Account: cfg.Notify.Account,
	}, categories, notify.LogSender{})

	eng := engine.New(engineCfg, db,
		feed.NewFileSource(cfg.Engine.BookingsPath),
		feed.NewFileBankFeed(cfg.Bank.FeedPath),
		newActuator(cfg.Engine.DryRun),
		notifier,
	)

	srv := api.NewServer(db, eng, version)
	if cfg.API.Metrics {
		srv.EnableMetrics()
	}

	return &Daemon{
		cfg:    cfg,
		db:     db,
		engine: eng,
		server: &http.Server{Addr: cfg.API.Addr(), Handler: srv.Handler()},
	}, nil
}

// Engine exposes the engine for one-shot CLI commands.
func (d *Daemon) Engine() *engine.Engine { return d.engine }

// DB exposes the store for one-shot CLI commands.
func (d *Daemon) DB() *sqlite.DB { return d.db }

// Close releases the store.
func (d *Daemon) Close() error { return d.db.Close() }

// Run serves the API and drives the reconciliation loop until ctx is
// canceled. The first bank sync and cycle run immediately so a restart
// catches up without waiting a full interval.
func (d *Daemon) Run(ctx context.Context) error {
	log.Printf("[daemon] listening on %s (dry_run=%v)", d.cfg.API.Addr(), d.cfg.Engine.DryRun)

	serverErr := make(chan error, 1)
	go func() {
		if err := d.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	d.syncBank(ctx)
	d.runCycle(ctx)

	cycleTicker := time.NewTicker(d.cfg.Engine.CycleInterval.Duration)
	defer cycleTicker.Stop()
	bankTicker := time.NewTicker(d.cfg.Bank.SyncInterval.Duration)
	defer bankTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[daemon] shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return d.server.Shutdown(shutdownCtx)
		case err := <-serverErr:
			return err
		case <-bankTicker.C:
			d.syncBank(ctx)
		case <-cycleTicker.C:
			d.runCycle(ctx)
		}
	}
}

func (d *Daemon) runCycle(ctx context.Context) {
	if _, err := d.engine.RunCycle(ctx); err != nil {
		log.Printf("[daemon] cycle failed: %v", err)
	}
}

func (d *Daemon) syncBank(ctx context.Context) {
	if _, err := d.engine.SyncBankFeed(ctx); err != nil {
		log.Printf("[daemon] bank sync failed: %v", err)
	}
}

// ─── Actuator ───────────────────────────────────────────────────────────────

// actuator is the booking-source side effect boundary. The production
// driver clicks the reservation admin UI; this build ships the logging
// implementation, and dry-run additionally marks every line so operators
// can tell replayed decisions from real ones.
type actuator struct {
	dryRun bool
}

func newActuator(dryRun bool) domain.Actuator { return &actuator{dryRun: dryRun} }

func (a *actuator) Confirm(_ context.Context, ref string) error {
	a.logf("confirm booking %s", ref)
	return nil
}

func (a *actuator) Cancel(_ context.Context, ref string, reason domain.ReasonCode) error {
	a.logf("cancel booking %s (%s)", ref, reason)
	return nil
}

func (a *actuator) logf(format string, args ...any) {
	prefix := "[actuator] "
	if a.dryRun {
		prefix = "[actuator] dry-run: "
	}
	log.Printf(prefix+format, args...)
}
