// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/streamchat/internal/config"
	"github.com/jeranaias/streamchat/internal/model"
	"github.com/jeranaias/streamchat/internal/transport"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// MaxRequestBodySize caps the request body (1MB).
	MaxRequestBodySize = 1 * 1024 * 1024

	// DefaultMaxMessages is used when the config leaves max_messages unset.
	DefaultMaxMessages = 200

	// ChatErrorMessage is the body of every upstream failure reply.
	ChatErrorMessage = "Error processing chat request"

	// Version is the server version.
	Version = "0.1.0"

	shutdownTimeout = 10 * time.Second
)

// validRoles lists the roles a client may relay. System prompts pass through
// to the upstream; they are never stored by the client.
var validRoles = map[string]bool{
	string(model.RoleUser):      true,
	string(model.RoleAssistant): true,
	string(model.RoleSystem):    true,
}

// ============================================================================
// SERVER STATS
// ============================================================================

// Stats counts relayed requests.
type Stats struct {
	Requests atomic.Int64
	Streamed atomic.Int64
	Failed   atomic.Int64
	Rejected atomic.Int64

	StartTime time.Time
}

// Uptime returns the time since the server was created.
func (s *Stats) Uptime() time.Duration {
	return time.Since(s.StartTime)
}

// ============================================================================
// SERVER
// ============================================================================

// Upstream opens a reply stream from the provider. *transport.Client
// implements it.
type Upstream interface {
	Send(ctx context.Context, msgs []model.Wire) (*transport.Stream, error)
}

// Server relays chat requests to an upstream completion provider and streams
// the reply back as plain UTF-8 text.
type Server struct {
	cfg      config.ServerConfig
	upstream Upstream
	log      zerolog.Logger
	stats    *Stats
	limiter  *RateLimiter
	mux      *http.ServeMux
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// New creates a relay server for upstream.
func New(cfg config.ServerConfig, upstream Upstream, opts ...Option) *Server {
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = DefaultMaxMessages
	}
	s := &Server{
		cfg:      cfg,
		upstream: upstream,
		log:      zerolog.Nop(),
		stats:    &Stats{StartTime: time.Now()},
		mux:      http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if cfg.RateLimit > 0 {
		s.limiter = NewRateLimiter(cfg.RateLimit, cfg.Burst)
	}
	s.setupRoutes()
	return s
}

// Stats returns the live request counters.
func (s *Server) Stats() *Stats {
	return s.stats
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("POST /api/chat", s.handleChat)
	s.mux.HandleFunc("GET /health", s.handleHealth)
}

// Handler returns the routes wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mws := []func(http.Handler) http.Handler{
		RecoveryMiddleware(s.log),
		LoggingMiddleware(s.log),
		SecurityHeadersMiddleware(),
	}
	if s.limiter != nil {
		mws = append(mws, RateLimitMiddleware(s.limiter, s.log))
	}
	return Chain(mws...)(s.mux)
}

// ============================================================================
// REQUEST TYPES
// ============================================================================

// ChatRequest is the POST /api/chat body.
type ChatRequest struct {
	Messages []model.Wire `json:"messages"`
}

// errorResponse is the {"error": "..."} reply body.
type errorResponse struct {
	Error string `json:"error"`
}

// validate checks the history before anything is sent upstream.
func (req *ChatRequest) validate(maxMessages int) error {
	if len(req.Messages) == 0 {
		return errors.New("messages must not be empty")
	}
	if len(req.Messages) > maxMessages {
		return fmt.Errorf("too many messages: %d (max %d)", len(req.Messages), maxMessages)
	}
	for i, msg := range req.Messages {
		if !validRoles[msg.Role] {
			return fmt.Errorf("invalid role %q at message %d: must be one of user, assistant, system", msg.Role, i)
		}
	}
	return nil
}

// ============================================================================
// CHAT HANDLER
// ============================================================================

// handleChat relays one turn. Until the first delta arrives any failure is
// answered with a 500 JSON error; after that the reply is committed and a
// failure aborts the connection, which the client sees as a broken stream.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	s.stats.Requests.Add(1)

	var req ChatRequest
	body := http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		s.stats.Rejected.Add(1)
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.validate(s.cfg.MaxMessages); err != nil {
		s.stats.Rejected.Add(1)
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ctx := r.Context()
	stream, err := s.upstream.Send(ctx, req.Messages)
	if err != nil {
		s.stats.Failed.Add(1)
		s.log.Error().Err(err).Int("messages", len(req.Messages)).Msg("RELAY_UPSTREAM_FAILED")
		s.writeError(w, http.StatusInternalServerError, ChatErrorMessage)
		return
	}
	defer stream.Close()

	// Wait for the first delta so an early failure can still be a 500.
	first, err := firstDelta(stream)
	if err != nil && !errors.Is(err, io.EOF) {
		s.stats.Failed.Add(1)
		s.log.Error().Err(err).Msg("RELAY_STREAM_FAILED")
		s.writeError(w, http.StatusInternalServerError, ChatErrorMessage)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	s.stats.Streamed.Add(1)

	written := 0
	if first != "" {
		n, _ := io.WriteString(w, first)
		written += n
		flusher.Flush()
	}
	if errors.Is(err, io.EOF) {
		return
	}

	for {
		delta, err := stream.Next()
		if delta != "" {
			n, werr := io.WriteString(w, delta)
			written += n
			if werr != nil {
				s.log.Debug().Err(werr).Msg("RELAY_CLIENT_GONE")
				return
			}
			flusher.Flush()
		}
		if errors.Is(err, io.EOF) {
			s.log.Debug().Int("bytes", written).Msg("RELAY_COMPLETED")
			return
		}
		if err != nil {
			s.stats.Failed.Add(1)
			if transport.IsCanceled(err) {
				s.log.Debug().Err(err).Msg("RELAY_CLIENT_GONE")
				return
			}
			s.log.Error().Err(err).Int("bytes", written).Msg("RELAY_STREAM_FAILED")
			panic(http.ErrAbortHandler)
		}
	}
}

// firstDelta returns the first non-empty delta, or the error that ended the
// stream before one arrived.
func firstDelta(stream *transport.Stream) (string, error) {
	for {
		delta, err := stream.Next()
		if delta != "" || err != nil {
			return delta, err
		}
	}
}

// ============================================================================
// HEALTH ENDPOINT
// ============================================================================

// HealthResponse is the GET /health body.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Uptime   string `json:"uptime"`
	Upstream string `json:"upstream"`
	Requests int64  `json:"requests"`
	Failed   int64  `json:"failed"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	upstream := "configured"
	if s.upstream == nil || strings.TrimSpace(s.cfg.UpstreamURL) == "" {
		upstream = "not_configured"
	}
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:   "ok",
		Version:  Version,
		Uptime:   s.stats.Uptime().Round(time.Second).String(),
		Upstream: upstream,
		Requests: s.stats.Requests.Load(),
		Failed:   s.stats.Failed.Load(),
	})
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// ListenAndServe listens on the configured address and serves until ctx is
// done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	// No WriteTimeout: a relayed reply may stream for minutes.
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info().Str("addr", ln.Addr().String()).Str("version", Version).Msg("SERVER_START")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.log.Info().Msg("SERVER_SHUTDOWN")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// ============================================================================
// HELPERS
// ============================================================================

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug().Err(err).Msg("RESPONSE_WRITE_FAILED")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, errorResponse{Error: message})
}
