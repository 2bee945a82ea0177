package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/planning-poker/planpoker/internal/config"
	"github.com/planning-poker/planpoker/internal/health"
	"github.com/planning-poker/planpoker/internal/poker"
	"github.com/planning-poker/planpoker/internal/protocol"
)

const (
	maxRequestBytes = 64 << 10
	maxInboundBytes = 4 << 10
)

type Server struct {
	dispatcher     *poker.Dispatcher
	broadcaster    *Broadcaster
	health         *health.Reporter
	pongTimeout    time.Duration
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
}

func NewServer(cfg *config.Config, dispatcher *poker.Dispatcher, broadcaster *Broadcaster, reporter *health.Reporter) *Server {
	s := &Server{
		dispatcher:     dispatcher,
		broadcaster:    broadcaster,
		health:         reporter,
		pongTimeout:    cfg.Transport.PongTimeout,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
	}

	for _, origin := range cfg.Server.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /request", withLogging(s.handleRequest))
	mux.HandleFunc("GET /webSocket/{voterName}", s.handleWS)
	mux.HandleFunc("GET /api/session", s.handleSession)
	mux.HandleFunc("GET /api/health", s.handleHealth)
}

// Handler returns the full route table wrapped in the standard headers.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return securityHeaders(mux)
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	var cr protocol.ClientRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(&cr); err != nil {
		writeJSON(w, http.StatusBadRequest, protocol.Failure("Malformed request body."))
		return
	}

	req, err := cr.ToRequest()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, protocol.Failure(err.Error()))
		return
	}

	ack, err := s.dispatcher.Dispatch(r.Context(), req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, protocol.ServerResponse{Message: ack.Message})
	case errors.Is(err, poker.ErrMalformedRequest):
		writeJSON(w, http.StatusBadRequest, protocol.Failure(err.Error()))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusServiceUnavailable, protocol.Failure(err.Error()))
	default:
		// Domain rejections (duplicate name, unknown voter) are not HTTP errors.
		writeJSON(w, http.StatusOK, protocol.Failure(err.Error()))
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	voter := r.PathValue("voterName")
	gen, ok := s.dispatcher.Registration(voter)
	if !ok {
		http.Error(w, "voter has not joined", http.StatusNotFound)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws upgrade failed", "voter", voter, "error", err)
		return
	}

	c, err := s.broadcaster.AddClient(voter, gen, conn)
	if err != nil {
		slog.Warn("ws client rejected", "voter", voter, "error", err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}

	if _, err := s.dispatcher.Connect(voter, gen); err != nil {
		// The voter left, and possibly joined again, during the upgrade.
		s.broadcaster.Close(voter, gen)
		return
	}
	slog.Info("push channel open", "voter", voter, "client", c.id, "remote", r.RemoteAddr)

	go s.readLoop(c)
}

// readLoop keeps the connection's read side alive so pongs and close frames
// are processed. Clients send requests over POST, so data frames are ignored.
func (s *Server) readLoop(c *client) {
	conn := c.conn
	conn.SetReadLimit(maxInboundBytes)
	if s.pongTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
		})
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("push channel failed", "voter", c.voter, "client", c.id, "error", err)
			} else {
				slog.Info("push channel closed", "voter", c.voter, "client", c.id)
			}
			break
		}
	}

	if s.broadcaster.RemoveClient(c) {
		s.dispatcher.Disconnect(c.voter, c.gen)
	}
}

func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, protocol.FromSnapshot(s.dispatcher.Snapshot()))
}

type healthResponse struct {
	health.Report
	Voters  int    `json:"voters"`
	Clients int    `json:"clients"`
	Round   string `json:"round"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.dispatcher.Snapshot()
	resp := healthResponse{
		Report:  health.Report{Status: "ok"},
		Voters:  len(snap.Voters),
		Clients: s.broadcaster.ClientCount(),
		Round:   snap.Status.String(),
	}
	if s.health != nil {
		resp.Report = s.health.Report(r.Context())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	if parsed.Host == r.Host {
		return true
	}

	switch parsed.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func withLogging(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next(w, r)
		slog.Debug("request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"remote", r.RemoteAddr,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Content-Security-Policy", "default-src 'self'")
		next.ServeHTTP(w, r)
	})
}

// NewHTTPServer builds the listening server for cfg.
func NewHTTPServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
