// Package service wires the capture pipeline and the client surfaces into a
// single daemon process.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"clipboard-history/internal/clipboard"
	"clipboard-history/internal/config"
	"clipboard-history/internal/dedup"
	"clipboard-history/internal/logging"
	"clipboard-history/internal/protocol"
	"clipboard-history/internal/server"
	"clipboard-history/internal/storage"
	"clipboard-history/internal/storage/sqlite"
	"clipboard-history/pkg/types"
)

const httpShutdownTimeout = 5 * time.Second

// Options configures a Daemon.
type Options struct {
	Config *config.Config
	Logger *slog.Logger
	// Source overrides the system clipboard, mainly for tests.
	Source  clipboard.Source
	Version string
}

// Daemon owns the store, the watcher and the servers for one data directory.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	version   string
	startedAt time.Time

	pid     *pidFile
	store   *sqlite.SQLiteStorage
	index   *dedup.Index
	watcher *clipboard.Watcher
	server  *server.Server
	hub     *server.Hub
	http    *server.HTTPServer

	mu       sync.RWMutex
	handlers []EntryHandler
}

// New opens the history database and binds the socket. Nothing is captured
// until Run is called.
func New(opts Options) (*Daemon, error) {
	if opts.Config == nil {
		return nil, errors.New("service: config is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	cfg := opts.Config

	d := &Daemon{
		cfg:       cfg,
		logger:    logger.With("component", "daemon"),
		version:   opts.Version,
		startedAt: time.Now().UTC(),
		pid:       newPIDFile(cfg.PIDPath()),
		index:     dedup.NewIndex(cfg.Capture.DedupWindow),
	}

	if err := d.pid.acquire(); err != nil {
		return nil, err
	}

	store, err := sqlite.New(storage.Config{
		DBPath:     cfg.DBPath,
		MaxEntries: cfg.MaxEntries,
	}, sqlite.WithLogger(logger))
	if err != nil {
		d.pid.release()
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	d.store = store

	source := opts.Source
	if source == nil {
		if source, err = clipboard.NewSystemSource(); err != nil {
			d.close()
			return nil, fmt.Errorf("failed to access clipboard: %w", err)
		}
	}

	d.watcher = clipboard.NewWatcher(source, store, d.index, clipboard.Options{
		PollInterval:      cfg.Capture.PollInterval,
		AuditInterval:     cfg.Capture.AuditInterval,
		MissedThreshold:   cfg.Capture.MissedThreshold,
		ReregisterBackoff: cfg.Capture.ReregisterBackoff,
		QueueSize:         cfg.Capture.QueueSize,
		Limits: clipboard.Limits{
			MaxBytes: cfg.Capture.MaxPayloadBytes,
			Truncate: cfg.Capture.OversizePolicy == config.OversizeTruncate,
		},
		Logger: logger,
	})
	d.watcher.OnEntry(d.dispatch)

	handler := server.NewHandler(store, d.index, d, logger)
	d.server = server.New(handler, server.Config{
		SocketPath:    cfg.Socket,
		IdleTimeout:   cfg.Server.IdleTimeout,
		MaxFrameBytes: cfg.Server.MaxFrameBytes,
	}, logger)
	if err := d.server.Listen(); err != nil {
		d.close()
		return nil, err
	}

	if cfg.Server.HTTPAddr != "" {
		d.hub = server.NewHub(logger)
		d.http = server.NewHTTPServer(cfg.Server.HTTPAddr, handler, d.hub, logger)
		d.RegisterHandler(d.hub)
	}
	return d, nil
}

// RegisterHandler adds a handler to be notified of new entries.
func (d *Daemon) RegisterHandler(h EntryHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, h)
}

func (d *Daemon) dispatch(entry *types.Entry) {
	d.mu.RLock()
	handlers := d.handlers
	d.mu.RUnlock()
	for _, h := range handlers {
		h.HandleEntry(entry)
	}
}

// Run captures and serves until ctx is done or a component fails. Queued
// captures are persisted and open connections closed before the store is
// released.
func (d *Daemon) Run(ctx context.Context) error {
	d.logger.Info("clipd started",
		"version", d.version,
		"db", d.cfg.DBPath,
		"socket", d.cfg.Socket,
		"max_entries", d.cfg.MaxEntries)

	if d.http != nil {
		if err := d.http.Start(); err != nil {
			return errors.Join(err, d.close())
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return d.watcher.Run(gctx)
	})
	g.Go(func() error {
		return d.server.Serve(gctx)
	})

	if d.http != nil {
		g.Go(func() error {
			d.hub.Run(gctx)
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), httpShutdownTimeout)
			defer cancel()
			return d.http.Stop(stopCtx)
		})
	}

	err := g.Wait()
	if closeErr := d.close(); closeErr != nil {
		err = errors.Join(err, closeErr)
	}
	d.logger.Info("clipd stopped")
	return err
}

func (d *Daemon) close() error {
	var errs []error
	if d.server != nil {
		errs = append(errs, d.server.Close())
	}
	if d.store != nil {
		errs = append(errs, d.store.Close())
	}
	errs = append(errs, d.pid.release())
	return errors.Join(errs...)
}

// Status implements server.StatusProvider.
func (d *Daemon) Status() protocol.Status {
	stats := d.watcher.Stats()
	return protocol.Status{
		Version:     d.version,
		StartedAt:   d.startedAt,
		MaxEntries:  d.store.MaxEntries(),
		CaptureMode: stats.Mode.String(),
		Captured:    stats.Captured,
		Duplicates:  stats.Duplicates,
		Failures:    stats.Failures,
	}
}

// SocketPath is where clients connect.
func (d *Daemon) SocketPath() string {
	return d.server.SocketPath()
}

// HTTPAddr returns the bound HTTP address, or "" when the HTTP surface is off.
func (d *Daemon) HTTPAddr() string {
	if d.http == nil {
		return ""
	}
	return d.http.Addr()
}
