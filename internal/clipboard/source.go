package clipboard

import (
	"context"
	"time"
)

// Format names the clipboard representation a payload was read from.
type Format string

const (
	FormatText  Format = "text/plain;charset=utf-8"
	FormatUTF16 Format = "text/plain;charset=utf-16"
	FormatRTF   Format = "text/rtf"
	FormatHTML  Format = "text/html"
	FormatPNG   Format = "image/png"
	FormatTIFF  Format = "image/tiff"
	FormatDIB   Format = "image/bmp"
)

// IsImage reports whether the format carries encoded image bytes.
func (f Format) IsImage() bool {
	switch f {
	case FormatPNG, FormatTIFF, FormatDIB:
		return true
	}
	return false
}

// Capture is one raw read of the clipboard.
type Capture struct {
	Format Format
	Data   []byte
	Source string // foreground process at capture time; may be empty
	At     time.Time
}

// Source is the operating system clipboard as seen by the watcher.
// Every method may fail; the watcher tolerates all of them failing.
// Calls are made from a single goroutine locked to its OS thread.
type Source interface {
	// Register subscribes to push notifications of clipboard changes. The
	// returned channel is closed when ctx is done or the listener dies.
	// Platforms without push notifications return a LISTENER_UNAVAILABLE error.
	Register(ctx context.Context) (<-chan struct{}, error)

	// Generation returns a counter that changes whenever the clipboard does.
	Generation() (uint64, error)

	// Read returns the preferred representation of the current clipboard,
	// or nil when no supported format is present.
	Read() (*Capture, error)

	// ForegroundProcess names the application owning the foreground window.
	ForegroundProcess() (string, error)
}
