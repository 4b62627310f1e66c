package clipboard_test

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clipboard-history/internal/clipboard"
	"clipboard-history/internal/clipboard/clipboardtest"
	"clipboard-history/internal/dedup"
	"clipboard-history/internal/logging"
	"clipboard-history/internal/storage"
	"clipboard-history/internal/storage/sqlite"
	"clipboard-history/pkg/types"
)

const (
	waitFor = 3 * time.Second
	tick    = 5 * time.Millisecond
)

type harness struct {
	source  *clipboardtest.Source
	store   storage.Store
	watcher *clipboard.Watcher
	logs    *syncBuffer
	cancel  context.CancelFunc
	stopped chan struct{}
	runErr  error
}

// syncBuffer lets tests read log output while the watcher writes it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testOptions(logs *syncBuffer) clipboard.Options {
	return clipboard.Options{
		PollInterval:      10 * time.Millisecond,
		AuditInterval:     20 * time.Millisecond,
		MissedThreshold:   2,
		ReregisterBackoff: time.Millisecond,
		QueueSize:         8,
		Limits:            clipboard.Limits{MaxBytes: 1024, Truncate: true},
		Logger:            logging.New(logs, logging.LevelDebug, logging.FormatText),
	}
}

func newStore(t *testing.T, maxEntries int) storage.Store {
	t.Helper()
	store, err := sqlite.New(storage.Config{
		DBPath:     filepath.Join(t.TempDir(), "history.db"),
		MaxEntries: maxEntries,
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// startWatcher runs a watcher over src and store until the test ends.
func startWatcher(t *testing.T, src *clipboardtest.Source, store storage.Store) *harness {
	t.Helper()

	logs := &syncBuffer{}
	w := clipboard.NewWatcher(src, store, dedup.NewIndex(dedup.DefaultWindow), testOptions(logs))
	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{source: src, store: store, watcher: w, logs: logs, cancel: cancel, stopped: make(chan struct{})}
	go func() {
		defer close(h.stopped)
		h.runErr = w.Run(ctx)
	}()

	t.Cleanup(h.stop)
	return h
}

func (h *harness) stop() {
	h.cancel()
	select {
	case <-h.stopped:
	case <-time.After(waitFor):
	}
}

func (h *harness) list(t *testing.T) []*types.Entry {
	t.Helper()
	entries, err := h.store.List(context.Background(), storage.ListFilter{})
	require.NoError(t, err)
	return entries
}

func (h *harness) waitForCount(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(h.list(t)) == n
	}, waitFor, tick)
}

// waitForListener waits until the watcher's registration is live.
func waitForListener(t *testing.T, src *clipboardtest.Source) {
	t.Helper()
	require.Eventually(t, src.Listening, waitFor, tick)
}

func TestWatcher_NormalCapture(t *testing.T) {
	src := clipboardtest.New()
	src.SetForeground("appA.exe")
	h := startWatcher(t, src, newStore(t, 100))
	waitForListener(t, src)

	src.CopyText("hello")
	h.waitForCount(t, 1)

	entries, err := h.store.List(context.Background(), storage.ListFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(1), entries[0].ID)
	assert.Equal(t, types.KindText, entries[0].Kind)
	assert.Equal(t, "hello", entries[0].Text())
	assert.Equal(t, "appA.exe", entries[0].SourceProcess)
	assert.Equal(t, clipboard.ModeListener, h.watcher.Mode())
}

func TestWatcher_DuplicateSuppression(t *testing.T) {
	src := clipboardtest.New()
	h := startWatcher(t, src, newStore(t, 100))
	waitForListener(t, src)

	src.CopyText("hello")
	h.waitForCount(t, 1)
	src.CopyText("hello")
	require.Eventually(t, func() bool {
		return h.watcher.Stats().Duplicates == 1
	}, waitFor, tick)

	results, err := h.store.Search(context.Background(), storage.SearchOptions{Query: "hello"})
	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Len(t, h.list(t), 1)
}

func TestWatcher_ListenerRegistrationFailureFallsBackToPolling(t *testing.T) {
	src := clipboardtest.New()
	src.FailRegistration(errors.New("sandboxed"))
	h := startWatcher(t, src, newStore(t, 100))

	require.Eventually(t, func() bool {
		return h.watcher.Mode() == clipboard.ModePolling && src.Registrations() > 0
	}, waitFor, tick)

	src.CopyText("polled")
	h.waitForCount(t, 1)
	assert.Equal(t, "polled", h.list(t)[0].Text())
}

func TestWatcher_MissedNotificationsSwitchToPolling(t *testing.T) {
	src := clipboardtest.New()
	h := startWatcher(t, src, newStore(t, 100))
	waitForListener(t, src)

	src.SuppressNotifications(true)

	src.CopyText("first")
	h.waitForCount(t, 1)
	src.CopyText("second")
	h.waitForCount(t, 2)

	require.Eventually(t, func() bool {
		return h.watcher.Mode() == clipboard.ModePolling
	}, waitFor, tick)
	assert.Contains(t, h.logs.String(), "switching to polling")

	src.CopyText("third")
	h.waitForCount(t, 3)
}

func TestWatcher_ClosedListenerFallsBackToPolling(t *testing.T) {
	src := clipboardtest.New()
	h := startWatcher(t, src, newStore(t, 100))
	waitForListener(t, src)

	src.CloseListener()
	require.Eventually(t, func() bool {
		return h.watcher.Mode() == clipboard.ModePolling
	}, waitFor, tick)

	src.CopyText("after close")
	h.waitForCount(t, 1)
}

func TestWatcher_ReregistersAfterForegroundChange(t *testing.T) {
	src := clipboardtest.New()
	src.SetForeground("sandboxed.exe")
	src.FailRegistration(errors.New("blocked"))
	h := startWatcher(t, src, newStore(t, 100))

	require.Eventually(t, func() bool {
		return h.watcher.Mode() == clipboard.ModePolling
	}, waitFor, tick)

	src.FailRegistration(nil)
	src.SetForeground("editor.exe")

	require.Eventually(t, func() bool {
		return h.watcher.Mode() == clipboard.ModeListener
	}, waitFor, tick)

	src.CopyText("back to listening")
	h.waitForCount(t, 1)
}

func TestWatcher_ExistingContentNotCaptured(t *testing.T) {
	src := clipboardtest.New()
	src.CopyText("before start")
	h := startWatcher(t, src, newStore(t, 100))
	waitForListener(t, src)

	src.CopyText("after start")
	require.Eventually(t, func() bool {
		entries := h.list(t)
		return len(entries) > 0 && entries[0].Text() == "after start"
	}, waitFor, tick)
	assert.Len(t, h.list(t), 1)
}

func TestWatcher_OversizedImageRejected(t *testing.T) {
	src := clipboardtest.New()
	h := startWatcher(t, src, newStore(t, 100))
	waitForListener(t, src)

	src.Copy(clipboard.FormatPNG, make([]byte, 4096))
	require.Eventually(t, func() bool {
		return h.watcher.Stats().Rejected == 1
	}, waitFor, tick)

	src.CopyText("still running")
	h.waitForCount(t, 1)
	assert.Equal(t, "still running", h.list(t)[0].Text())
	assert.Contains(t, h.logs.String(), "clipboard payload rejected")
}

func TestWatcher_ReadFailureContinues(t *testing.T) {
	src := clipboardtest.New()
	h := startWatcher(t, src, newStore(t, 100))
	waitForListener(t, src)

	src.FailNextRead(clipboardtest.ErrAccessDenied)
	src.CopyText("lost")
	require.Eventually(t, func() bool {
		return h.watcher.Stats().Failures == 1
	}, waitFor, tick)

	src.CopyText("kept")
	h.waitForCount(t, 1)
	assert.Equal(t, "kept", h.list(t)[0].Text())
}

func TestWatcher_ClearedClipboardIsNoop(t *testing.T) {
	src := clipboardtest.New()
	h := startWatcher(t, src, newStore(t, 100))
	waitForListener(t, src)

	src.Clear()
	src.CopyText("x")
	h.waitForCount(t, 1)
	assert.Zero(t, h.watcher.Stats().Failures)
}

// failingStore fails the first append to exercise the unpersisted path.
type failingStore struct {
	storage.Store
	mu    sync.Mutex
	fails int
}

func (s *failingStore) Append(ctx context.Context, in storage.AppendInput) (*types.Entry, error) {
	s.mu.Lock()
	if s.fails > 0 {
		s.fails--
		s.mu.Unlock()
		return nil, errors.New("disk full")
	}
	s.mu.Unlock()
	return s.Store.Append(ctx, in)
}

func TestWatcher_FailedAppendIsLoggedAndLoopContinues(t *testing.T) {
	src := clipboardtest.New()
	store := &failingStore{Store: newStore(t, 100), fails: 1}
	h := startWatcher(t, src, store)
	waitForListener(t, src)

	src.CopyText("dropped")
	require.Eventually(t, func() bool {
		return h.watcher.Stats().Failures == 1
	}, waitFor, tick)
	assert.Contains(t, h.logs.String(), "clipboard event observed but not persisted")

	// Not recorded in the dedup window, so the same content is retried on the next copy.
	src.CopyText("dropped")
	h.waitForCount(t, 1)
	assert.Equal(t, "dropped", h.list(t)[0].Text())
}

func TestWatcher_OnEntryAndOverflow(t *testing.T) {
	src := clipboardtest.New()
	h := startWatcher(t, src, newStore(t, 2))

	var (
		mu   sync.Mutex
		seen []string
	)
	h.watcher.OnEntry(func(e *types.Entry) {
		mu.Lock()
		seen = append(seen, e.Text())
		mu.Unlock()
	})
	waitForListener(t, src)

	for _, text := range []string{"a", "b", "c"} {
		src.CopyText(text)
		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(seen) > 0 && seen[len(seen)-1] == text
		}, waitFor, tick)
	}

	entries := h.list(t)
	require.Len(t, entries, 2)
	assert.Equal(t, "c", entries[0].Text())
	assert.Equal(t, "b", entries[1].Text())
}

func TestWatcher_StopsOnCancel(t *testing.T) {
	src := clipboardtest.New()
	h := startWatcher(t, src, newStore(t, 100))
	waitForListener(t, src)

	src.CopyText("in flight")
	h.cancel()

	select {
	case <-h.stopped:
		assert.NoError(t, h.runErr)
	case <-time.After(waitFor):
		t.Fatal("watcher did not stop")
	}
	require.Eventually(t, func() bool { return !src.Listening() }, waitFor, tick)
}
