package service

import "clipboard-history/pkg/types"

// EntryHandler is implemented by components that need to be notified of
// newly captured entries.
type EntryHandler interface {
	HandleEntry(entry *types.Entry)
}

// EntryHandlerFunc adapts a function to EntryHandler.
type EntryHandlerFunc func(entry *types.Entry)

func (f EntryHandlerFunc) HandleEntry(entry *types.Entry) { f(entry) }
