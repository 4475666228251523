// Package daemon wires the orchestrator to its transports and runs the
// landale process.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/bryanveloso/landale-sub014/internal/events"
	"github.com/bryanveloso/landale-sub014/internal/inbox"
	"github.com/bryanveloso/landale-sub014/internal/lock"
	"github.com/bryanveloso/landale-sub014/internal/model"
	"github.com/bryanveloso/landale-sub014/internal/observability"
	"github.com/bryanveloso/landale-sub014/internal/orchestrator"
	"github.com/bryanveloso/landale-sub014/internal/overlay"
	"github.com/bryanveloso/landale-sub014/internal/uds"
	"github.com/bryanveloso/landale-sub014/internal/yaml"
)

const ConfigFileName = "config.yaml"

// Daemon is the landale process: one orchestrator plus the UDS control
// socket, the overlay server and the inbox watcher.
type Daemon struct {
	dataDir string
	config  model.Config
	logger  zerolog.Logger
	logFile io.Closer

	fileLock *lock.FileLock
	pub      *events.Publisher
	orch     *orchestrator.Orchestrator
	server   *uds.Server
	overlay  *overlay.Server
	inbox    *inbox.Watcher

	ctx      context.Context
	cancel   context.CancelFunc
	shutdown sync.Once
}

// New creates a daemon. In the foreground it logs to stderr for humans;
// otherwise it appends JSON lines to <dataDir>/logs/daemon.log.
func New(dataDir string, cfg model.Config, foreground bool) (*Daemon, error) {
	if foreground {
		logger := observability.NewLogger(os.Stderr, cfg.Logging.Level, true)
		return newDaemon(dataDir, cfg, logger, nil)
	}

	logPath := filepath.Join(dataDir, "logs", "daemon.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open daemon log: %w", err)
	}

	logger := observability.NewLogger(logFile, cfg.Logging.Level, false)
	d, err := newDaemon(dataDir, cfg, logger, logFile)
	if err != nil {
		_ = logFile.Close()
		return nil, err
	}
	return d, nil
}

// newDaemon is the internal constructor for testing.
func newDaemon(dataDir string, cfg model.Config, logger zerolog.Logger, closer io.Closer, opts ...orchestrator.Option) (*Daemon, error) {
	cfg.ApplyDefaults()

	pub := events.NewPublisher(cfg.Publisher, logger)
	opts = append([]orchestrator.Option{orchestrator.WithLogger(logger)}, opts...)
	orch, err := orchestrator.New(cfg, pub, opts...)
	if err != nil {
		return nil, fmt.Errorf("create orchestrator: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Daemon{
		dataDir:  dataDir,
		config:   cfg,
		logger:   logger.With().Str("component", "daemon").Logger(),
		logFile:  closer,
		fileLock: lock.NewFileLock(filepath.Join(dataDir, "locks", "daemon.lock")),
		pub:      pub,
		orch:     orch,
		server:   uds.NewServer(filepath.Join(dataDir, uds.DefaultSocketName), logger),
		overlay:  overlay.New(cfg.Overlay, orch, pub, logger),
		inbox:    inbox.New(dataDir, orch, logger),
		ctx:      ctx,
		cancel:   cancel,
	}
	return d, nil
}

// LoadConfig reads <dataDir>/config.yaml. A missing file yields the
// defaults; a file that does not parse is quarantined and replaced by its
// backup or by the defaults.
func LoadConfig(dataDir string) (model.Config, error) {
	path := filepath.Join(dataDir, ConfigFileName)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return model.DefaultConfig(), nil
	}
	cfg, err := model.LoadConfig(path)
	if err == nil || !errors.Is(err, model.ErrConfigParse) {
		return cfg, err
	}
	recovered, _, rerr := yaml.RecoverConfig(dataDir, path)
	if rerr != nil {
		return model.Config{}, fmt.Errorf("%v; recovery failed: %w", err, rerr)
	}
	return recovered, nil
}

// Run starts the daemon and blocks until shutdown completes.
func (d *Daemon) Run() error {
	if err := os.MkdirAll(filepath.Join(d.dataDir, "locks"), 0755); err != nil {
		return fmt.Errorf("ensure locks dir: %w", err)
	}
	if err := d.fileLock.TryLock(); err != nil {
		return fmt.Errorf("daemon lock: %w", err)
	}
	defer d.cleanup()
	d.logger.Info().Int("pid", os.Getpid()).Str("dir", d.dataDir).Msg("daemon starting")

	d.registerHandlers()
	if err := d.server.Start(); err != nil {
		return fmt.Errorf("start UDS server: %w", err)
	}
	if err := d.overlay.Start(); err != nil {
		_ = d.server.Stop()
		return fmt.Errorf("start overlay server: %w", err)
	}

	g, gctx := errgroup.WithContext(d.ctx)
	g.Go(func() error { return d.orch.Run(gctx) })
	g.Go(func() error { return d.inbox.Run(gctx) })

	stopSignals := d.watchSignals()
	defer stopSignals()
	d.logger.Info().Str("socket", filepath.Join(d.dataDir, uds.DefaultSocketName)).
		Str("overlay", d.overlay.Addr()).Msg("daemon ready")

	<-gctx.Done()
	d.Shutdown()
	err := g.Wait()
	d.stopTransports()
	d.logger.Info().Uint64("version", d.orch.Version()).Msg("daemon stopped")
	return err
}

// watchSignals shuts down on SIGINT/SIGTERM; a second signal exits at once.
func (d *Daemon) watchSignals() func() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	done := make(chan struct{})

	go func() {
		select {
		case sig := <-sigCh:
			d.logger.Info().Str("signal", sig.String()).Msg("initiating graceful shutdown")
			d.Shutdown()
		case <-done:
			return
		}
		select {
		case <-sigCh:
			d.logger.Warn().Msg("received second signal, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}

// Shutdown asks Run to stop. It is idempotent and does not wait.
func (d *Daemon) Shutdown() {
	d.shutdown.Do(func() {
		d.logger.Info().Msg("shutdown started")
		d.cancel()
	})
}

func (d *Daemon) stopTransports() {
	ctx, cancel := context.WithTimeout(context.Background(), d.config.ShutdownTimeout())
	defer cancel()

	_ = d.server.Stop()
	d.pub.Close()
	if err := d.overlay.Shutdown(ctx); err != nil {
		d.logger.Warn().Err(err).Msg("overlay shutdown timed out")
	}
}

func (d *Daemon) cleanup() {
	_ = d.fileLock.Unlock()
	if d.logFile != nil {
		_ = d.logFile.Close()
	}
}
