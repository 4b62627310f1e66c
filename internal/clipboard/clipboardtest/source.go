// Package clipboardtest provides a scriptable clipboard for watcher tests.
package clipboardtest

import (
	"context"
	"errors"
	"sync"
	"time"

	"clipboard-history/internal/clipboard"
	apperr "clipboard-history/internal/errors"
)

// Source is an in-memory clipboard. Copies advance the generation counter
// and, unless suppressed, notify the registered listener.
type Source struct {
	mu            sync.Mutex
	generation    uint64
	current       *clipboard.Capture
	foreground    string
	registerErr   error
	suppress      bool
	readErr       error
	generationErr error
	notify        chan struct{}
	registrations int
}

var _ clipboard.Source = (*Source)(nil)

func New() *Source {
	return &Source{}
}

// Copy replaces the clipboard content.
func (s *Source) Copy(format clipboard.Format, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generation++
	s.current = &clipboard.Capture{Format: format, Data: append([]byte(nil), data...)}
	s.signal()
}

func (s *Source) CopyText(text string) {
	s.Copy(clipboard.FormatText, []byte(text))
}

// Clear empties the clipboard, which still counts as a change.
func (s *Source) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generation++
	s.current = nil
	s.signal()
}

func (s *Source) signal() {
	if s.notify == nil || s.suppress {
		return
	}
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// SetForeground sets the process reported as owning the foreground window.
func (s *Source) SetForeground(name string) {
	s.mu.Lock()
	s.foreground = name
	s.mu.Unlock()
}

// FailRegistration makes Register fail with err; nil restores it.
func (s *Source) FailRegistration(err error) {
	s.mu.Lock()
	s.registerErr = err
	s.mu.Unlock()
}

// SuppressNotifications simulates a listener blocked by an isolated foreground
// application: the generation still advances but nothing is delivered.
func (s *Source) SuppressNotifications(suppress bool) {
	s.mu.Lock()
	s.suppress = suppress
	s.mu.Unlock()
}

// FailNextRead makes the next Read return err.
func (s *Source) FailNextRead(err error) {
	s.mu.Lock()
	s.readErr = err
	s.mu.Unlock()
}

// FailGeneration makes Generation return err until called with nil.
func (s *Source) FailGeneration(err error) {
	s.mu.Lock()
	s.generationErr = err
	s.mu.Unlock()
}

// CloseListener terminates the active registration as if the OS dropped it.
func (s *Source) CloseListener() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notify != nil {
		close(s.notify)
		s.notify = nil
	}
}

// Registrations counts Register calls, successful or not.
func (s *Source) Registrations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registrations
}

// Listening reports whether a listener is registered.
func (s *Source) Listening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notify != nil
}

func (s *Source) Register(ctx context.Context) (<-chan struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.registrations++
	if s.registerErr != nil {
		return nil, apperr.NewListenerUnavailable(s.registerErr)
	}

	ch := make(chan struct{}, 16)
	s.notify = ch
	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.notify == ch {
			close(ch)
			s.notify = nil
		}
	}()
	return ch, nil
}

func (s *Source) Generation() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generationErr != nil {
		return 0, s.generationErr
	}
	return s.generation, nil
}

func (s *Source) Read() (*clipboard.Capture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.readErr; err != nil {
		s.readErr = nil
		return nil, err
	}
	if s.current == nil {
		return nil, nil
	}
	c := *s.current
	c.Data = append([]byte(nil), s.current.Data...)
	c.At = time.Now()
	return &c, nil
}

func (s *Source) ForegroundProcess() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.foreground, nil
}

// ErrAccessDenied is a convenient transient read failure.
var ErrAccessDenied = errors.New("clipboard is locked by another process")
