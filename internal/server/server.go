// Package server exposes the bingo rooms over HTTP and WebSocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"

	"github.com/lox/bingohall/internal/ledger"
	"github.com/lox/bingohall/internal/room"
)

// ParticipantHeader carries the identity established by the upstream auth
// layer.
const ParticipantHeader = "X-Participant-ID"

const (
	shutdownTimeout = 10 * time.Second
	leaveTimeout    = 5 * time.Second
)

// Server is the WebSocket front end for a room registry.
type Server struct {
	registry       *room.Registry
	ledger         ledger.Ledger
	upgrader       websocket.Upgrader
	allowedOrigins []string
	logger         *log.Logger
	ctx            context.Context
	cancel         context.CancelFunc

	mu          sync.RWMutex
	connections map[string]*Connection
}

// Option configures a Server.
type Option func(*Server)

// WithAllowedOrigins restricts browser origins for CORS and the WebSocket
// handshake. "*" allows any origin.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// NewServer creates a server for the rooms in registry.
func NewServer(registry *room.Registry, l ledger.Ledger, logger *log.Logger, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		registry:       registry,
		ledger:         l,
		allowedOrigins: []string{"*"},
		logger:         logger.WithPrefix("server"),
		ctx:            ctx,
		cancel:         cancel,
		connections:    make(map[string]*Connection),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.allowedOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", ParticipantHeader},
		AllowCredentials: false,
		MaxAge:           60 * 15,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/rooms", s.handleRooms)
	r.Get("/ws", s.handleWebSocket)
	return r
}

// Serve listens on addr until ctx is cancelled, then closes every
// connection and shuts the listener down.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting WebSocket server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.Stop()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server")
	s.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}

// Stop closes every connection.
func (s *Server) Stop() {
	s.cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.connections {
		_ = conn.Close()
	}
}

// ConnectedParticipants returns the participants with an open connection.
func (s *Server) ConnectedParticipants() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	players := make([]string, 0, len(s.connections))
	for p := range s.connections {
		players = append(players, p)
	}
	return players
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// participantFromRequest reads the identity attached by the auth layer. The
// query parameter exists for local tooling.
func participantFromRequest(r *http.Request) string {
	if p := strings.TrimSpace(r.Header.Get(ParticipantHeader)); p != "" {
		return p
	}
	return strings.TrimSpace(r.URL.Query().Get("participant"))
}

// handleWebSocket handles WebSocket upgrade requests
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	participant := participantFromRequest(r)
	if participant == "" {
		http.Error(w, "missing participant identity", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection", "error", err)
		return
	}

	conn := newConnection(ws, participant, s)
	prev := s.register(conn)
	conn.Start()

	// A reconnect takes over the previous connection's room and card.
	if prev != nil {
		prev.superseded.Store(true)
		_ = prev.Close()
		if rm := prev.Room(); rm != nil {
			conn.join("", rm)
		}
	}

	go func() {
		<-conn.Done()
		s.unregister(conn)
	}()
}

func (s *Server) register(conn *Connection) *Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.connections[conn.participant]
	s.connections[conn.participant] = conn
	s.logger.Info("Client connected", "participant", conn.participant, "total", len(s.connections))
	return prev
}

// unregister drops conn and, unless a newer connection took over, leaves
// its room.
func (s *Server) unregister(conn *Connection) {
	s.mu.Lock()
	if s.connections[conn.participant] == conn {
		delete(s.connections, conn.participant)
	}
	total := len(s.connections)
	s.mu.Unlock()
	s.logger.Info("Client disconnected", "participant", conn.participant, "total", total)

	if conn.superseded.Load() {
		return
	}
	rm := conn.Room()
	if rm == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
	defer cancel()
	if err := rm.Leave(ctx, conn.participant, conn); err != nil && !errors.Is(err, room.ErrStopped) {
		s.logger.Warn("Leave after disconnect failed", "participant", conn.participant, "room", rm.Name(), "error", err)
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "OK")
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.registry.Snapshots(r.Context())
	if err != nil {
		s.logger.Error("Failed to snapshot rooms", "error", err)
		http.Error(w, "rooms unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snaps)
}
