// Package daemon wires the mailbox subsystem into a runnable service.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/alexjbarnes/mailbox-sync/internal/auth"
	"github.com/alexjbarnes/mailbox-sync/internal/config"
	"github.com/alexjbarnes/mailbox-sync/internal/connections"
	"github.com/alexjbarnes/mailbox-sync/internal/events"
	"github.com/alexjbarnes/mailbox-sync/internal/executor"
	"github.com/alexjbarnes/mailbox-sync/internal/mailbox"
	"github.com/alexjbarnes/mailbox-sync/internal/metrics"
	"github.com/alexjbarnes/mailbox-sync/internal/relay"
	"github.com/alexjbarnes/mailbox-sync/internal/server"
	"github.com/alexjbarnes/mailbox-sync/internal/spool"
	"github.com/alexjbarnes/mailbox-sync/internal/state"
	"github.com/alexjbarnes/mailbox-sync/internal/tor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

// shutdownTimeout bounds how long the manager and HTTP server get to stop.
const shutdownTimeout = 10 * time.Second

// socksIsolation tags relay traffic so Tor keeps it on its own circuits.
const socksIsolation = "mailbox-sync"

// Options replaces the network edges of the daemon.
type Options struct {
	// Dial carries relay traffic. Defaults to the SOCKS5 proxy at
	// TOR_SOCKS_ADDR.
	Dial relay.DialContextFn
	// Probe decides whether our endpoint is up. Defaults to dialing
	// TOR_SOCKS_ADDR.
	Probe tor.ProbeFunc
}

// Daemon owns every long-lived component. It runs once.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	loop    *executor.Loop
	db      *state.State
	io      *executor.Pool
	files   *spool.FileManager
	monitor *tor.Monitor
	manager *mailbox.Manager
	watcher *spool.Watcher
	pairing func(onion, token string) *mailbox.PairingTask
	handler http.Handler
}

// New builds the daemon. Nothing runs until Run is called.
func New(cfg *config.Config, logger *slog.Logger, opts Options) (*Daemon, error) {
	keyHashes, err := cfg.ParseControlAPIKeys()
	if err != nil {
		return nil, fmt.Errorf("parsing control api keys: %w", err)
	}

	keys, err := auth.NewKeyStore(keyHashes)
	if err != nil {
		return nil, fmt.Errorf("loading control api keys: %w", err)
	}

	dial := opts.Dial
	if dial == nil {
		dial, err = relay.SOCKS5Dialer(cfg.TorSocksAddr, socksIsolation)
		if err != nil {
			return nil, fmt.Errorf("creating tor dialer: %w", err)
		}
	}

	probe := opts.Probe
	if probe == nil {
		probe = tor.DialProbe(cfg.TorSocksAddr)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if err := metrics.Init(reg); err != nil {
		return nil, fmt.Errorf("registering metrics: %w", err)
	}

	loop := executor.NewLoop(logger)
	bus := events.NewBus(loop)

	db, err := state.LoadAt(cfg.DatabasePath(), loop, bus)
	if err != nil {
		return nil, fmt.Errorf("loading state: %w", err)
	}

	io := executor.NewPool(cfg.IOWorkers)

	files, err := spool.NewFileManager(logger, io, db, bus, filepath.Join(cfg.StateDir, "spool"), cfg.InboxDir)
	if err != nil {
		io.Close()
		db.Close()

		return nil, fmt.Errorf("creating file manager: %w", err)
	}

	scheduler := executor.TimerScheduler{}
	api := relay.NewClient(dial)
	conns := connections.NewRegistry(logger, bus)
	monitor := tor.NewMonitor(logger, bus, probe, cfg.TorCheckInterval)

	deps := mailbox.Deps{
		Logger:      logger,
		IO:          io,
		Scheduler:   scheduler,
		Clock:       executor.SystemClock{},
		DB:          db,
		Bus:         bus,
		Connections: conns,
		Caller:      mailbox.NewRetryCaller(io, scheduler, cfg.RetryMinInterval, cfg.RetryMaxInterval),
		API:         api,
		Files:       files,
		Config:      cfg.Mailbox(),
	}

	reachability := mailbox.NewReachability(logger, io, scheduler, bus, monitor, cfg.ReachabilityPeriod)
	clients := mailbox.NewClientFactory(deps, mailbox.NewWorkerFactory(deps))

	d := &Daemon{
		cfg:     cfg,
		logger:  logger,
		loop:    loop,
		db:      db,
		io:      io,
		files:   files,
		monitor: monitor,
		manager: mailbox.NewManager(logger, loop, io, db, bus, monitor, clients, reachability),
		pairing: func(onion, token string) *mailbox.PairingTask {
			return mailbox.NewPairingTask(logger, api, db, onion, token)
		},
	}

	if cfg.SpoolDir != "" {
		d.watcher = spool.NewWatcher(logger, db, cfg.SpoolDir)
	}

	d.handler = server.NewMux(server.MuxConfig{
		Logger:      logger,
		Gatherer:    reg,
		Store:       db,
		Connections: conns,
		NewPairing: func(onion, token string) server.PairingRunner {
			return d.pairing(onion, token)
		},
		Keys: keys,
	})

	return d, nil
}

// Handler serves /metrics, /status and the control API. Requests that
// touch the mailbox subsystem only make progress while Run is active.
func (d *Daemon) Handler() http.Handler {
	return d.handler
}

// Run starts every component and blocks until ctx is cancelled or a
// component fails. Everything is shut down before Run returns.
func (d *Daemon) Run(ctx context.Context) error {
	// The loop outlives ctx so that shutdown can still run on it.
	loopCtx, stopLoop := context.WithCancel(context.Background())
	loopDone := make(chan struct{})

	go func() {
		defer close(loopDone)
		d.loop.Run(loopCtx)
	}()

	defer func() {
		d.files.Close()
		d.io.Close()
		stopLoop()
		<-loopDone
		d.db.Close()
	}()

	// Learn the endpoint state before the manager decides whether to go
	// online.
	d.monitor.Check(ctx)

	if err := d.manager.Start(); err != nil {
		return fmt.Errorf("starting mailbox manager: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ignoreCanceled(d.monitor.Run(gctx))
	})

	if d.watcher != nil {
		g.Go(func() error {
			return ignoreCanceled(d.watcher.Watch(gctx))
		})
	}

	if d.cfg.HTTPListenAddr != "" {
		g.Go(func() error {
			return serveHTTP(gctx, d.cfg.HTTPListenAddr, d.handler, d.logger)
		})
	}

	if d.cfg.PairAddress != "" {
		g.Go(func() error {
			s := d.pairing(d.cfg.PairAddress, d.cfg.PairSetupToken).Run(gctx)
			d.logger.Info("startup pairing finished", slog.String("state", s.String()))

			return nil
		})
	}

	err := g.Wait()

	d.logger.Info("shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if stopErr := d.manager.Stop(stopCtx); stopErr != nil {
		d.logger.Warn("mailbox manager did not stop cleanly", slog.String("error", stopErr.Error()))
	}

	return err
}

// serveHTTP runs the metrics, status and control API listener until ctx is
// cancelled.
func serveHTTP(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Pairing requests stay open for a full round trip over Tor.
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	logger.Info("starting http server", slog.String("listen", addr))

	// Shutdown when context is cancelled.
	go func() {
		<-ctx.Done()
		logger.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server error: %w", err)
	}

	return nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}
