package clipboard

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"clipboard-history/internal/dedup"
	apperr "clipboard-history/internal/errors"
	"clipboard-history/internal/logging"
	"clipboard-history/internal/storage"
	"clipboard-history/pkg/types"
)

// Mode is the watcher's change-detection strategy.
type Mode int32

const (
	// ModeListener reacts to push notifications and audits the generation counter.
	ModeListener Mode = iota
	// ModePolling reads the generation counter on a fixed interval.
	ModePolling
)

func (m Mode) String() string {
	switch m {
	case ModeListener:
		return "listener"
	case ModePolling:
		return "polling"
	}
	return "unknown"
}

// Options configures a Watcher.
type Options struct {
	PollInterval      time.Duration
	AuditInterval     time.Duration
	MissedThreshold   int
	ReregisterBackoff time.Duration
	QueueSize         int
	Limits            Limits
	Logger            *slog.Logger
}

func (o *Options) setDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 250 * time.Millisecond
	}
	if o.AuditInterval <= 0 {
		o.AuditInterval = time.Second
	}
	if o.MissedThreshold <= 0 {
		o.MissedThreshold = 3
	}
	if o.ReregisterBackoff <= 0 {
		o.ReregisterBackoff = 5 * time.Second
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.Logger == nil {
		o.Logger = logging.Discard()
	}
}

// Stats counts capture outcomes since the watcher started.
type Stats struct {
	Mode       Mode
	Captured   int64
	Duplicates int64
	Rejected   int64
	Failures   int64
}

// Watcher turns clipboard changes into stored entries.
//
// A pump goroutine, locked to its OS thread, owns every Source call and
// pushes raw captures into a bounded queue. A single consumer normalizes,
// deduplicates and appends them, so the store sees one writer regardless
// of burst size.
type Watcher struct {
	source Source
	store  storage.Store
	index  *dedup.Index
	opts   Options
	logger *slog.Logger

	mode atomic.Int32

	captured   atomic.Int64
	duplicates atomic.Int64
	rejected   atomic.Int64
	failures   atomic.Int64

	handlersMu sync.RWMutex
	handlers   []func(*types.Entry)
}

func NewWatcher(source Source, store storage.Store, index *dedup.Index, opts Options) *Watcher {
	opts.setDefaults()
	return &Watcher{
		source: source,
		store:  store,
		index:  index,
		opts:   opts,
		logger: opts.Logger.With("component", "watcher"),
	}
}

// OnEntry registers fn to be called with every newly stored entry.
func (w *Watcher) OnEntry(fn func(*types.Entry)) {
	w.handlersMu.Lock()
	w.handlers = append(w.handlers, fn)
	w.handlersMu.Unlock()
}

func (w *Watcher) Mode() Mode {
	return Mode(w.mode.Load())
}

func (w *Watcher) Stats() Stats {
	return Stats{
		Mode:       w.Mode(),
		Captured:   w.captured.Load(),
		Duplicates: w.duplicates.Load(),
		Rejected:   w.rejected.Load(),
		Failures:   w.failures.Load(),
	}
}

// Run observes the clipboard until ctx is done. Captures already queued
// when ctx is cancelled are still appended before Run returns.
func (w *Watcher) Run(ctx context.Context) error {
	queue := make(chan *Capture, w.opts.QueueSize)

	go func() {
		defer close(queue)
		w.pump(ctx, queue)
	}()

	// Appends outlive cancellation so an observed change is not lost at shutdown.
	storeCtx := context.WithoutCancel(ctx)
	for c := range queue {
		w.process(storeCtx, c)
	}
	w.logger.Info("clipboard watcher stopped", "captured", w.captured.Load())
	return nil
}

// pumpState is owned by the pump goroutine.
type pumpState struct {
	generation     uint64
	notify         <-chan struct{}
	cancelListener context.CancelFunc
	missed         int
	foreground     string
	lastRegister   time.Time
}

func (w *Watcher) pump(ctx context.Context, out chan<- *Capture) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	st := &pumpState{cancelListener: func() {}}
	defer func() { st.cancelListener() }()

	// Content present before startup is not a new copy.
	if gen, err := w.source.Generation(); err != nil {
		w.logger.Warn("failed to read clipboard generation", "error", err)
	} else {
		st.generation = gen
	}
	st.foreground, _ = w.source.ForegroundProcess()

	if w.register(ctx, st) {
		w.setMode(ModeListener)
		w.logger.Info("clipboard watcher started", "mode", ModeListener)
	} else {
		w.setMode(ModePolling)
		w.logger.Info("clipboard watcher started", "mode", ModePolling, "poll_interval", w.opts.PollInterval)
	}

	pollTicker := time.NewTicker(w.opts.PollInterval)
	defer pollTicker.Stop()
	auditTicker := time.NewTicker(w.opts.AuditInterval)
	defer auditTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case _, ok := <-st.notify:
			if !ok {
				w.fallback(st, "listener channel closed")
				continue
			}
			st.missed = 0
			w.observe(st, out, true)

		case <-auditTicker.C:
			if w.Mode() == ModeListener {
				w.audit(st, out)
			}

		case <-pollTicker.C:
			if w.Mode() == ModePolling {
				w.observe(st, out, false)
				w.maybeReregister(ctx, st)
			}
		}
	}
}

// register subscribes to change notifications. It reports false when the
// platform refuses; the caller stays in or moves to polling.
func (w *Watcher) register(ctx context.Context, st *pumpState) bool {
	st.lastRegister = time.Now()

	lctx, cancel := context.WithCancel(ctx)
	notify, err := w.source.Register(lctx)
	if err != nil {
		cancel()
		if !apperr.Is(err, apperr.CodeListenerUnavailable) {
			err = apperr.NewListenerUnavailable(err)
		}
		w.logger.Debug("clipboard listener registration failed", "error", err)
		return false
	}

	st.cancelListener()
	st.notify = notify
	st.cancelListener = cancel
	st.missed = 0
	return true
}

// audit cross-checks the generation counter while listening. A change with
// no pending notification is a missed notification; it is captured anyway.
func (w *Watcher) audit(st *pumpState, out chan<- *Capture) {
	gen, err := w.source.Generation()
	if err != nil {
		w.logger.Debug("failed to read clipboard generation", "error", err)
		return
	}
	if gen == st.generation {
		return
	}

	select {
	case _, ok := <-st.notify:
		if ok {
			st.missed = 0
			w.observe(st, out, true)
			return
		}
	default:
	}

	st.missed++
	w.logger.Debug("clipboard changed without notification", "missed", st.missed, "threshold", w.opts.MissedThreshold)
	w.observe(st, out, false)

	if st.missed >= w.opts.MissedThreshold {
		w.fallback(st, "missed change notifications")
	}
}

// fallback drops the listener and switches to polling.
func (w *Watcher) fallback(st *pumpState, reason string) {
	st.cancelListener()
	st.cancelListener = func() {}
	st.notify = nil
	st.missed = 0
	if w.Mode() != ModePolling {
		w.setMode(ModePolling)
		w.logger.Warn("clipboard listener unavailable, switching to polling",
			"reason", reason,
			"poll_interval", w.opts.PollInterval)
	}
}

// maybeReregister retries the listener after the foreground application
// changes, at most once per backoff period.
func (w *Watcher) maybeReregister(ctx context.Context, st *pumpState) {
	fg, err := w.source.ForegroundProcess()
	if err != nil || fg == st.foreground {
		return
	}
	st.foreground = fg
	if time.Since(st.lastRegister) < w.opts.ReregisterBackoff {
		return
	}
	if w.register(ctx, st) {
		w.setMode(ModeListener)
		w.logger.Info("clipboard listener restored", "foreground", fg)
	}
}

// observe reads the clipboard if the generation moved and queues the capture.
// A notification forces a read even when the counter cannot be read.
func (w *Watcher) observe(st *pumpState, out chan<- *Capture, notified bool) {
	gen, err := w.source.Generation()
	switch {
	case err != nil && !notified:
		w.logger.Debug("failed to read clipboard generation", "error", err)
		return
	case err == nil && gen == st.generation:
		return
	case err == nil:
		st.generation = gen
	}

	capture, err := w.source.Read()
	if err != nil {
		w.failures.Add(1)
		w.logger.Warn("clipboard read failed", "error", apperr.NewCaptureRead(err))
		return
	}
	if capture == nil {
		w.logger.Debug("clipboard change with no supported format")
		return
	}

	if fg, err := w.source.ForegroundProcess(); err == nil {
		capture.Source = fg
		st.foreground = fg
	}
	if capture.At.IsZero() {
		capture.At = time.Now()
	}
	out <- capture
}

// process runs one capture through normalization, dedup and the store.
func (w *Watcher) process(ctx context.Context, c *Capture) {
	in, err := Normalize(c, w.opts.Limits)
	if err != nil {
		w.rejected.Add(1)
		if e, ok := apperr.As(err); ok && e.Code == apperr.CodePayloadTooLarge {
			w.logger.Warn("clipboard payload rejected",
				"format", c.Format,
				"size", humanize.IBytes(uint64(len(c.Data))),
				"max", humanize.IBytes(uint64(w.opts.Limits.MaxBytes)))
			return
		}
		w.logger.Warn("clipboard payload discarded", "format", c.Format, "error", err)
		return
	}
	if in == nil {
		return
	}

	fp := dedup.Sum(in.Payload)
	if !w.index.ShouldAdmit(fp) {
		w.duplicates.Add(1)
		w.logger.Debug("duplicate capture suppressed", "hash", fp.String())
		return
	}

	entry, err := w.store.Append(ctx, *in)
	if apperr.Is(err, apperr.CodeDuplicateContent) {
		w.index.Record(fp)
		w.duplicates.Add(1)
		w.logger.Debug("capture already stored", "hash", fp.String())
		return
	}
	if err != nil {
		w.failures.Add(1)
		w.logger.Error("clipboard event observed but not persisted",
			"kind", in.Kind,
			"bytes", in.ByteLength,
			"source", in.SourceProcess,
			"error", err)
		return
	}

	w.index.Record(fp)
	w.captured.Add(1)
	w.logger.Info("captured clipboard entry",
		"id", entry.ID,
		"kind", entry.Kind,
		"bytes", entry.ByteLength,
		"source", entry.SourceProcess)

	w.handlersMu.RLock()
	handlers := w.handlers
	w.handlersMu.RUnlock()
	for _, fn := range handlers {
		fn(entry)
	}
}

func (w *Watcher) setMode(m Mode) {
	w.mode.Store(int32(m))
}
