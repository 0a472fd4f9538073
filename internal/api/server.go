// Package api serves the mirrored tree over HTTP.
package api

import (
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/treemirror/internal/events"
	"github.com/fruitsalade/treemirror/internal/logging"
	"github.com/fruitsalade/treemirror/internal/metrics"
	"github.com/fruitsalade/treemirror/pkg/protocol"
	"github.com/fruitsalade/treemirror/pkg/tree"
)

const (
	defaultFindLimit = 50
	maxFindLimit     = 1000
)

// StatsSource reports synchronization counters; *tree.Driver implements it.
type StatsSource interface {
	Stats() tree.Stats
}

// Server is the treemirror HTTP server.
type Server struct {
	handle      *tree.Handle
	stats       StatsSource
	broadcaster *events.Broadcaster
	keepalive   time.Duration
}

// NewServer creates a server reading from h. stats and b may be nil, in
// which case the stats counters stay zero and the event stream is disabled.
func NewServer(h *tree.Handle, stats StatsSource, b *events.Broadcaster) *Server {
	return &Server{
		handle:      h,
		stats:       stats,
		broadcaster: b,
		keepalive:   15 * time.Second,
	}
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", s.handleHealth)

	// Tree API
	mux.HandleFunc("GET /api/v1/tree", s.handleTree)
	mux.HandleFunc("GET /api/v1/tree/{path...}", s.handleSubtree)
	mux.HandleFunc("GET /api/v1/find", s.handleFind)
	mux.HandleFunc("GET /api/v1/stats", s.handleStats)

	// Events API (SSE)
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)

	return logging.Middleware(metrics.Middleware(mux))
}

// acceptsGzip returns true if the client accepts gzip encoding.
func acceptsGzip(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept-Encoding"), "gzip")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	root, version := s.handle.Snapshot()
	s.sendJSON(w, r, http.StatusOK, protocol.TreeResponse{
		RootPath: s.handle.RootPath(),
		Version:  version,
		Root:     root,
	})
}

func (s *Server) handleSubtree(w http.ResponseWriter, r *http.Request) {
	p := tree.SplitPath(r.PathValue("path"))
	if len(p) == 0 {
		s.handleTree(w, r)
		return
	}

	entry, version, err := s.handle.LookupAt(p)
	if err != nil {
		if errors.Is(err, tree.ErrPathNotFound) || errors.Is(err, tree.ErrInvalidIntermediate) {
			s.sendError(w, r, http.StatusNotFound, "path not found: "+p.String(), err)
			return
		}
		s.sendError(w, r, http.StatusInternalServerError, "lookup failed", err)
		return
	}

	s.sendJSON(w, r, http.StatusOK, protocol.TreeResponse{
		RootPath: s.handle.RootPath(),
		Path:     p.String(),
		Version:  version,
		Root:     entry,
	})
}

func (s *Server) handleFind(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if strings.TrimSpace(query) == "" {
		s.sendError(w, r, http.StatusBadRequest, "query parameter q is required", nil)
		return
	}

	limit := defaultFindLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.sendError(w, r, http.StatusBadRequest, "limit must be a positive integer", err)
			return
		}
		limit = min(n, maxFindLimit)
	}

	results := s.handle.Find(query, limit)
	if results == nil {
		results = []tree.Match{}
	}
	s.sendJSON(w, r, http.StatusOK, protocol.FindResponse{
		Query:   query,
		Version: s.handle.Version(),
		Results: results,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	files, dirs := s.handle.Count()
	resp := protocol.StatsResponse{
		RootPath: s.handle.RootPath(),
		Version:  s.handle.Version(),
		Files:    files,
		Dirs:     dirs,
	}
	if s.stats != nil {
		st := s.stats.Stats()
		resp.Applied = st.Applied
		resp.Failed = st.Failed
		resp.State = st.State.String()
	}
	s.sendJSON(w, r, http.StatusOK, resp)
}

// sendJSON writes v, gzip-compressed when the client accepts it.
func (s *Server) sendJSON(w http.ResponseWriter, r *http.Request, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if acceptsGzip(r) {
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Add("Vary", "Accept-Encoding")
		w.WriteHeader(code)
		gw := gzip.NewWriter(w)
		defer gw.Close()
		if err := json.NewEncoder(gw).Encode(v); err != nil {
			logging.WithContext(r.Context()).Warn("encode response", zap.Error(err))
		}
		return
	}
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.WithContext(r.Context()).Warn("encode response", zap.Error(err))
	}
}

func (s *Server) sendError(w http.ResponseWriter, r *http.Request, code int, message string, err error) {
	resp := protocol.ErrorResponse{Error: message, Code: code}
	if err != nil {
		resp.Details = err.Error()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(resp)
}

// handleEvents streams applied updates as Server-Sent Events. The
// subscription is registered before the response headers are sent, so a
// client that fetches a snapshot after connecting sees every later version.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.broadcaster == nil {
		s.sendError(w, r, http.StatusServiceUnavailable, "event stream not enabled", nil)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendError(w, r, http.StatusInternalServerError, "streaming not supported", nil)
		return
	}

	eventCh := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(eventCh)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)

	logger := logging.WithContext(r.Context())
	logger.Info("SSE client connected", zap.String("remote_addr", r.RemoteAddr))

	fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(s.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			logger.Info("SSE client disconnected", zap.String("remote_addr", r.RemoteAddr))
			return
		case <-ticker.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			data, err := events.MarshalEvent(event)
			if err != nil {
				logger.Warn("failed to marshal event", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: %s\n", event.Type)
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}
