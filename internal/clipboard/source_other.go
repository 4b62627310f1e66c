//go:build !darwin

package clipboard

import (
	"context"
	"crypto/sha256"
	"sync"
	"time"

	xclipboard "golang.design/x/clipboard"

	apperr "clipboard-history/internal/errors"
)

// SystemSource reads the clipboard through golang.design/x/clipboard.
// The library exposes no change counter, so Generation derives one from
// the content digest.
type SystemSource struct {
	mu         sync.Mutex
	generation uint64
	digest     [sha256.Size]byte
	seeded     bool
}

var (
	initOnce sync.Once
	initErr  error
)

func initClipboard() error {
	initOnce.Do(func() { initErr = xclipboard.Init() })
	return initErr
}

// NewSystemSource initializes the platform clipboard.
func NewSystemSource() (Source, error) {
	if err := initClipboard(); err != nil {
		return nil, apperr.NewCaptureRead(err)
	}
	return &SystemSource{}, nil
}

// Register merges the library's text and image watch streams into one notification channel.
func (s *SystemSource) Register(ctx context.Context) (<-chan struct{}, error) {
	if err := initClipboard(); err != nil {
		return nil, apperr.NewListenerUnavailable(err)
	}

	text := xclipboard.Watch(ctx, xclipboard.FmtText)
	image := xclipboard.Watch(ctx, xclipboard.FmtImage)
	notify := make(chan struct{}, 1)

	go func() {
		defer close(notify)
		for text != nil || image != nil {
			select {
			case _, ok := <-text:
				if !ok {
					text = nil
					continue
				}
			case _, ok := <-image:
				if !ok {
					image = nil
					continue
				}
			}
			select {
			case notify <- struct{}{}:
			default:
			}
		}
	}()
	return notify, nil
}

func (s *SystemSource) Generation() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := sha256.New()
	h.Write(xclipboard.Read(xclipboard.FmtImage))
	h.Write([]byte{0})
	h.Write(xclipboard.Read(xclipboard.FmtText))

	var digest [sha256.Size]byte
	copy(digest[:], h.Sum(nil))
	if !s.seeded || digest != s.digest {
		s.digest = digest
		s.seeded = true
		s.generation++
	}
	return s.generation, nil
}

func (s *SystemSource) Read() (*Capture, error) {
	if data := xclipboard.Read(xclipboard.FmtImage); len(data) > 0 {
		return &Capture{Format: FormatPNG, Data: data, At: time.Now()}, nil
	}
	if data := xclipboard.Read(xclipboard.FmtText); len(data) > 0 {
		return &Capture{Format: FormatText, Data: data, At: time.Now()}, nil
	}
	return nil, nil
}

// ForegroundProcess is not exposed by the library; entries carry no source.
func (s *SystemSource) ForegroundProcess() (string, error) {
	return "", nil
}
