// Package server exposes VAD sessions over WebSocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/realtime-ai/dualvad/pkg/fusion"
	"github.com/realtime-ai/dualvad/pkg/logger"
	"github.com/realtime-ai/dualvad/pkg/metrics"
	"github.com/realtime-ai/dualvad/pkg/session"
)

// EngineFactory creates the detector pair of a new session.
type EngineFactory func() (*fusion.Engine, error)

// Config holds the configuration for the WebSocket server.
type Config struct {
	// Addr is the address to listen on (e.g., ":8080").
	Addr string

	// Path is the WebSocket endpoint path.
	Path string

	// MetricsPath serves the metrics handler when one is set.
	MetricsPath string

	HealthPath string

	// MaxSessionsPerIP limits sessions per IP address.
	// 0 means no limit.
	MaxSessionsPerIP int

	ReadBufferSize  int
	WriteBufferSize int

	// ReadLimit is the largest inbound message in bytes.
	ReadLimit int64

	// WriteWait bounds each result write. 0 means no deadline.
	WriteWait time.Duration

	// StrictFrames is passed to every session.
	StrictFrames bool
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Addr:             ":8080",
		Path:             "/ws",
		MetricsPath:      "/metrics",
		HealthPath:       "/healthz",
		MaxSessionsPerIP: 10,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		ReadLimit:        1 << 20,
		WriteWait:        10 * time.Second,
		StrictFrames:     true,
	}
}

// Option customizes a Server.
type Option func(*Server)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Server) { s.log = l.Named("server") }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMetricsHandler serves h on Config.MetricsPath.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// Server accepts WebSocket connections and runs one session per connection.
type Server struct {
	config         *Config
	newEngine      EngineFactory
	log            *zap.SugaredLogger
	metrics        *metrics.Metrics
	metricsHandler http.Handler

	// Session management
	sessions   map[string]*session.Session
	sessionsMu sync.RWMutex

	// IP-based session counting
	ipSessions   map[string]int
	ipSessionsMu sync.Mutex

	httpServer *http.Server
	mux        *http.ServeMux
	upgrader   websocket.Upgrader

	// ctx is cancelled by Stop and ends every running session.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a server. newEngine is called once per accepted connection.
func New(config *Config, newEngine EngineFactory, opts ...Option) *Server {
	if config == nil {
		config = DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		config:     config,
		newEngine:  newEngine,
		log:        logger.Nop(),
		metrics:    metrics.NewNop(),
		sessions:   make(map[string]*session.Session),
		ipSessions: make(map[string]int),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				return true // browser clients are served from any origin
			},
		},
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mux = http.NewServeMux()
	s.mux.HandleFunc(s.config.Path, s.handleWebSocket)
	if s.config.HealthPath != "" {
		s.mux.HandleFunc(s.config.HealthPath, s.handleHealth)
	}
	if s.metricsHandler != nil && s.config.MetricsPath != "" {
		s.mux.Handle(s.config.MetricsPath, s.metricsHandler)
	}
	return s
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start listens on Config.Addr and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.log.Infow("starting", "addr", s.config.Addr, "path", s.config.Path)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
		// Server started successfully
		return nil
	}
}

// Stop ends every session and shuts the HTTP server down. Sessions are given
// until ctx is done to finish their reset.
func (s *Server) Stop(ctx context.Context) error {
	s.cancel()

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		err = errors.Join(err, ctx.Err())
	}
	return err
}

// handleWebSocket upgrades the request and runs a session until it ends.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.ctx.Err() != nil {
		http.Error(w, "Server shutting down", http.StatusServiceUnavailable)
		return
	}

	clientIP := getClientIP(r)
	if !s.reserveIP(clientIP) {
		http.Error(w, "Too many sessions from this IP", http.StatusTooManyRequests)
		return
	}

	engine, err := s.newEngine()
	if err != nil {
		s.releaseIP(clientIP)
		s.log.Errorw("engine creation failed", "remote_addr", clientIP, "error", err)
		http.Error(w, "Detector unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnw("websocket upgrade failed", "remote_addr", clientIP, "error", err)
		s.releaseIP(clientIP)
		engine.Close()
		return
	}
	if s.config.ReadLimit > 0 {
		conn.SetReadLimit(s.config.ReadLimit)
	}

	sess := session.New(&deadlineConn{Conn: conn, writeWait: s.config.WriteWait}, engine, session.Options{
		ID:           uuid.NewString(),
		RemoteAddr:   clientIP,
		StrictFrames: s.config.StrictFrames,
		Logger:       s.log.Named("session"),
		Metrics:      s.metrics,
	})

	s.wg.Add(1)
	defer s.wg.Done()
	s.registerSession(sess)
	defer s.unregisterSession(sess)
	// Free the IP slot before the session disappears from the registry.
	defer s.releaseIP(clientIP)

	if err := sess.Run(s.ctx); err != nil {
		s.log.Warnw("session ended with error", "session_id", sess.ID(), "error", err)
	}
}

type healthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(healthResponse{Status: "ok", Sessions: s.SessionCount()})
}

// reserveIP counts a new session against clientIP, or reports false when the
// IP is at its limit.
func (s *Server) reserveIP(clientIP string) bool {
	s.ipSessionsMu.Lock()
	defer s.ipSessionsMu.Unlock()

	if s.config.MaxSessionsPerIP > 0 && s.ipSessions[clientIP] >= s.config.MaxSessionsPerIP {
		return false
	}
	s.ipSessions[clientIP]++
	return true
}

func (s *Server) releaseIP(clientIP string) {
	s.ipSessionsMu.Lock()
	defer s.ipSessionsMu.Unlock()

	s.ipSessions[clientIP]--
	if s.ipSessions[clientIP] <= 0 {
		delete(s.ipSessions, clientIP)
	}
}

// registerSession adds a session to the server.
func (s *Server) registerSession(sess *session.Session) {
	s.sessionsMu.Lock()
	s.sessions[sess.ID()] = sess
	s.sessionsMu.Unlock()

	s.log.Debugw("session registered", "session_id", sess.ID())
}

// unregisterSession removes a session from the server.
func (s *Server) unregisterSession(sess *session.Session) {
	s.sessionsMu.Lock()
	delete(s.sessions, sess.ID())
	s.sessionsMu.Unlock()

	s.log.Debugw("session unregistered", "session_id", sess.ID())
}

// GetSession returns a session by ID.
func (s *Server) GetSession(sessionID string) *session.Session {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()
	return s.sessions[sessionID]
}

// SessionCount returns the number of active sessions.
func (s *Server) SessionCount() int {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()
	return len(s.sessions)
}

// deadlineConn sets a write deadline before every write.
type deadlineConn struct {
	*websocket.Conn
	writeWait time.Duration
}

func (c *deadlineConn) WriteMessage(messageType int, data []byte) error {
	if c.writeWait > 0 {
		if err := c.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
			return err
		}
	}
	return c.Conn.WriteMessage(messageType, data)
}

func getClientIP(r *http.Request) string {
	// Check X-Forwarded-For header
	xff := r.Header.Get("X-Forwarded-For")
	if xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}

	// Check X-Real-IP header
	xri := r.Header.Get("X-Real-IP")
	if xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
