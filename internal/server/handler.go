package server

import (
	"context"
	"fmt"
	"log/slog"

	"clipboard-history/internal/dedup"
	apperr "clipboard-history/internal/errors"
	"clipboard-history/internal/logging"
	"clipboard-history/internal/protocol"
	"clipboard-history/internal/storage"
	"clipboard-history/pkg/types"
)

// StatusProvider reports daemon state the store does not know about.
type StatusProvider interface {
	Status() protocol.Status
}

// Handler executes protocol requests against the store. It is shared by the
// socket server and the HTTP surface.
type Handler struct {
	store  storage.Store
	index  *dedup.Index
	status StatusProvider
	logger *slog.Logger
}

func NewHandler(store storage.Store, index *dedup.Index, status StatusProvider, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Handler{
		store:  store,
		index:  index,
		status: status,
		logger: logger.With("component", "handler"),
	}
}

// Handle executes req and always returns a response.
func (h *Handler) Handle(ctx context.Context, req *protocol.Request) *protocol.Response {
	resp, err := h.handle(ctx, req)
	if err != nil {
		if apperr.Is(err, apperr.CodeStorageFailure) || apperr.CodeOf(err) == "" || apperr.Is(err, apperr.CodeInternal) {
			h.logger.Error("request failed", "command", req.Command, "error", err)
		} else {
			h.logger.Debug("request rejected", "command", req.Command, "error", err)
		}
		return protocol.ErrorResponse(err)
	}
	return resp
}

func (h *Handler) handle(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	if req.Limit < 0 || req.Offset < 0 {
		return nil, apperr.NewInvalidRequest("limit and offset must not be negative")
	}

	switch req.Command {
	case protocol.CmdList:
		entries, err := h.store.List(ctx, storage.ListFilter{Limit: req.Limit, Offset: req.Offset})
		if err != nil {
			return nil, err
		}
		return entriesResponse(entries), nil

	case protocol.CmdSearch:
		entries, err := h.store.Search(ctx, storage.SearchOptions{Query: req.Query, Limit: req.Limit, Offset: req.Offset})
		if err != nil {
			return nil, err
		}
		return entriesResponse(entries), nil

	case protocol.CmdAddTag, protocol.CmdRemoveTag:
		if req.ID == nil {
			return nil, apperr.NewInvalidRequest("id is required")
		}
		var err error
		if req.Command == protocol.CmdAddTag {
			err = h.store.AddTag(ctx, *req.ID, req.Tag)
		} else {
			err = h.store.RemoveTag(ctx, *req.ID, req.Tag)
		}
		if err != nil {
			return nil, err
		}
		return protocol.NewResponse(), nil

	case protocol.CmdExport:
		entries, err := h.store.Export(ctx)
		if err != nil {
			return nil, err
		}
		return entriesResponse(window(entries, req.Offset, req.Limit)), nil

	case protocol.CmdImport:
		return h.importEntries(ctx, req.Entries)

	case protocol.CmdPaste:
		entry, err := h.resolvePaste(ctx, req)
		if err != nil {
			return nil, err
		}
		resp := protocol.NewResponse()
		wire := protocol.FromEntry(entry)
		resp.Entry = &wire
		return resp, nil

	case protocol.CmdClear:
		cleared, err := h.store.Clear(ctx)
		if err != nil {
			return nil, err
		}
		h.logger.Info("history cleared", "entries", cleared, "fingerprints", h.index.Len())
		h.index.Reset()
		resp := protocol.NewResponse()
		resp.Cleared = &cleared
		return resp, nil

	case protocol.CmdStatus:
		count, err := h.store.Count(ctx)
		if err != nil {
			return nil, err
		}
		var status protocol.Status
		if h.status != nil {
			status = h.status.Status()
		}
		status.ProtocolVersion = protocol.Version
		status.Count = count
		resp := protocol.NewResponse()
		resp.Status = &status
		return resp, nil
	}

	return nil, apperr.NewProtocolDecode(fmt.Sprintf("unknown command %q", req.Command), nil)
}

func (h *Handler) importEntries(ctx context.Context, wire []protocol.Entry) (*protocol.Response, error) {
	entries := make([]types.Entry, len(wire))
	for i, w := range wire {
		e, err := w.ToEntry()
		if err != nil {
			return nil, apperr.NewInvalidRequest(fmt.Sprintf("entry %d: %v", i, err))
		}
		entries[i] = e
	}

	result, err := h.store.Import(ctx, entries)
	if err != nil {
		return nil, err
	}
	h.logger.Info("import completed", "admitted", result.Admitted, "skipped", result.Skipped)

	resp := protocol.NewResponse()
	resp.Admitted = &result.Admitted
	resp.Skipped = &result.Skipped
	return resp, nil
}

// resolvePaste finds the entry a client wants to paste, by id or by
// position from the newest.
func (h *Handler) resolvePaste(ctx context.Context, req *protocol.Request) (*types.Entry, error) {
	switch {
	case req.ID != nil:
		return h.store.Get(ctx, *req.ID)
	case req.Index != nil:
		if *req.Index < 0 {
			return nil, apperr.NewInvalidRequest("index must not be negative")
		}
		entries, err := h.store.List(ctx, storage.ListFilter{Limit: 1, Offset: *req.Index})
		if err != nil {
			return nil, err
		}
		if len(entries) == 0 {
			return nil, &apperr.Error{
				Code:    apperr.CodeNotFound,
				Message: fmt.Sprintf("no entry at index %d", *req.Index),
			}
		}
		return entries[0], nil
	}
	return nil, apperr.NewInvalidRequest("paste requires id or index")
}

func entriesResponse(entries []*types.Entry) *protocol.Response {
	resp := protocol.NewResponse()
	resp.Entries = protocol.FromEntries(entries)
	return resp
}

// window applies offset and limit to an already loaded list. A zero limit
// means no limit.
func window(entries []*types.Entry, offset, limit int) []*types.Entry {
	if offset >= len(entries) {
		return nil
	}
	entries = entries[offset:]
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	return entries
}
