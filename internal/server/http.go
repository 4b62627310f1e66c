package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	apperr "clipboard-history/internal/errors"
	"clipboard-history/internal/logging"
	"clipboard-history/internal/protocol"
)

// HTTPServer is the optional read-only loopback surface: status, entry
// listing and search, plus a websocket feed of newly captured entries.
type HTTPServer struct {
	handler *Handler
	hub     *Hub
	addr    string
	logger  *slog.Logger

	srv      *http.Server
	listener net.Listener
}

func NewHTTPServer(addr string, handler *Handler, hub *Hub, logger *slog.Logger) *HTTPServer {
	if logger == nil {
		logger = logging.Discard()
	}
	return &HTTPServer{
		handler: handler,
		hub:     hub,
		addr:    addr,
		logger:  logger.With("component", "http"),
	}
}

// Router builds the route table.
func (s *HTTPServer) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	// The websocket route must not be wrapped by the timeout middleware.
	r.Get("/ws", s.hub.ServeWS)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(10 * time.Second))
		r.Get("/status", s.handleStatus)
		r.Route("/api", func(r chi.Router) {
			r.Get("/entries", s.handleList)
			r.Get("/entries/search", s.handleSearch)
			r.Get("/entries/{id}", s.handleGet)
		})
	})
	return r
}

// Start binds the address and serves in the background.
func (s *HTTPServer) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to start http server on %s: %w", s.addr, err)
	}
	s.listener = listener
	s.srv = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server stopped", "error", err)
		}
	}()
	s.logger.Info("http server listening", "addr", listener.Addr().String())
	return nil
}

// Addr returns the bound address once started.
func (s *HTTPServer) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

func (s *HTTPServer) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("error shutting down http server: %w", err)
	}
	return nil
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.handler.Handle(r.Context(), &protocol.Request{Command: protocol.CmdStatus}))
}

func (s *HTTPServer) handleList(w http.ResponseWriter, r *http.Request) {
	req := &protocol.Request{Command: protocol.CmdList}
	if !parsePaging(w, r, req) {
		return
	}
	s.respond(w, s.handler.Handle(r.Context(), req))
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	req := &protocol.Request{Command: protocol.CmdSearch, Query: r.URL.Query().Get("q")}
	if !parsePaging(w, r, req) {
		return
	}
	s.respond(w, s.handler.Handle(r.Context(), req))
}

func (s *HTTPServer) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.respond(w, protocol.ErrorResponse(apperr.NewInvalidRequest("invalid id")))
		return
	}
	s.respond(w, s.handler.Handle(r.Context(), &protocol.Request{Command: protocol.CmdPaste, ID: &id}))
}

func parsePaging(w http.ResponseWriter, r *http.Request, req *protocol.Request) bool {
	query := r.URL.Query()
	req.Limit = 50
	if l := query.Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 0 {
			writeJSON(w, http.StatusBadRequest, protocol.ErrorResponse(apperr.NewInvalidRequest("invalid limit")))
			return false
		}
		req.Limit = parsed
	}
	if o := query.Get("offset"); o != "" {
		parsed, err := strconv.Atoi(o)
		if err != nil || parsed < 0 {
			writeJSON(w, http.StatusBadRequest, protocol.ErrorResponse(apperr.NewInvalidRequest("invalid offset")))
			return false
		}
		req.Offset = parsed
	}
	return true
}

func (s *HTTPServer) respond(w http.ResponseWriter, resp *protocol.Response) {
	status := http.StatusOK
	if !resp.OK && resp.Error != nil {
		status = httpStatus(apperr.Code(resp.Error.Code))
	}
	writeJSON(w, status, resp)
}

func httpStatus(code apperr.Code) int {
	switch code {
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeInvalidRequest, apperr.CodeProtocolDecode:
		return http.StatusBadRequest
	case apperr.CodePayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// requestLogger logs each request through slog.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Debug("http request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration", time.Since(start),
					"request_id", middleware.GetReqID(r.Context()))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
