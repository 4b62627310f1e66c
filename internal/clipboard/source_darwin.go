package clipboard

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/progrium/darwinkit/macos/appkit"

	apperr "clipboard-history/internal/errors"
)

// AppKit has no pasteboard change notification, so the watcher always polls changeCount.
var errNoPasteboardListener = errors.New("NSPasteboard does not post change notifications")

// darwinReadOrder lists pasteboard types in order of preference.
var darwinReadOrder = []struct {
	pbType appkit.PasteboardType
	format Format
}{
	{"public.png", FormatPNG},
	{"public.tiff", FormatTIFF},
	{"public.rtf", FormatRTF},
	{"public.utf8-plain-text", FormatText},
	{"public.html", FormatHTML},
}

type DarwinSource struct {
	pasteboard appkit.Pasteboard
	mutex      sync.Mutex
}

// NewSystemSource returns the general pasteboard.
func NewSystemSource() (Source, error) {
	return &DarwinSource{
		pasteboard: appkit.Pasteboard_GeneralPasteboard(),
	}, nil
}

func (s *DarwinSource) Register(ctx context.Context) (<-chan struct{}, error) {
	return nil, apperr.NewListenerUnavailable(errNoPasteboardListener)
}

func (s *DarwinSource) Generation() (uint64, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return uint64(s.pasteboard.ChangeCount()), nil
}

func (s *DarwinSource) Read() (*Capture, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, candidate := range darwinReadOrder {
		if data := s.pasteboard.DataForType(candidate.pbType); len(data) > 0 {
			return &Capture{Format: candidate.format, Data: data, At: time.Now()}, nil
		}
	}
	// Some producers only answer string requests.
	if text := s.pasteboard.StringForType("public.utf8-plain-text"); text != "" {
		return &Capture{Format: FormatText, Data: []byte(text), At: time.Now()}, nil
	}
	return nil, nil
}

func (s *DarwinSource) ForegroundProcess() (string, error) {
	app := appkit.Workspace_SharedWorkspace().FrontmostApplication()
	return app.LocalizedName(), nil
}
