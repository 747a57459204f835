// Package server exposes the UI-facing HTTP surface: recent messages, the
// online-user roster, a send endpoint, and a websocket change feed.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"autemo-sync/pkg/shout"
	"autemo-sync/store"

	"github.com/gorilla/mux"
)

const defaultMessageLimit = 50

// Messages is the read surface of the local store.
type Messages interface {
	RecentMessages(ctx context.Context, limit int) ([]*store.Message, error)
	SaveAuthors(ctx context.Context, authors []*shout.Author) error
}

// Roster fetches the currently online users from the remote site.
type Roster interface {
	OnlineUsers(ctx context.Context) ([]*shout.Author, error)
}

// Composer sends a user-authored shout.
type Composer interface {
	Send(ctx context.Context, text string) error
}

// Server handles HTTP requests.
type Server struct {
	messages Messages
	roster   Roster
	composer Composer
	hub      *Hub
	logger   *slog.Logger
}

// Config holds server configuration.
type Config struct {
	Messages Messages
	Roster   Roster
	Composer Composer
	Hub      *Hub
	Logger   *slog.Logger
}

// New creates the HTTP server handler.
func New(cfg *Config) *Server {
	return &Server{
		messages: cfg.Messages,
		roster:   cfg.Roster,
		composer: cfg.Composer,
		hub:      cfg.Hub,
		logger:   cfg.Logger,
	}
}

// ListenAndServe sets up all routes and runs the server until it fails.
func (s *Server) ListenAndServe(port string) error {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/messages", s.handleMessages).Methods(http.MethodGet)
	r.HandleFunc("/online", s.handleOnline).Methods(http.MethodGet)
	r.HandleFunc("/send", s.handleSend).Methods(http.MethodPost)
	r.HandleFunc("/ws", s.hub.handleWS)

	// Timeouts bound slow clients; the websocket route upgrades before the
	// write timeout can apply.
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("Starting HTTP server", "port", port)
	return srv.ListenAndServe()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, `{"status":"healthy"}`); err != nil {
		s.logger.Warn("Failed to write health response", "error", err)
	}
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	limit := defaultMessageLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	msgs, err := s.messages.RecentMessages(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to load messages", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, msgs)
}

func (s *Server) handleOnline(w http.ResponseWriter, r *http.Request) {
	users, err := s.roster.OnlineUsers(r.Context())
	if err != nil {
		s.logger.Error("Failed to fetch online users", "error", err)
		http.Error(w, "Upstream fetch failed", http.StatusBadGateway)
		return
	}

	// Persist the roster while we have it, same as the original client did.
	if err := s.messages.SaveAuthors(r.Context(), users); err != nil {
		s.logger.Warn("Failed to persist online users", "error", err)
	}

	type onlineUser struct {
		Name      string `json:"name"`
		Role      string `json:"role"`
		AvatarURL string `json:"avatar_url,omitempty"`
	}

	out := make([]onlineUser, 0, len(users))
	for _, u := range users {
		out = append(out, onlineUser{Name: u.Name, Role: u.Role.String(), AvatarURL: u.AvatarURL})
	}

	s.writeJSON(w, out)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	// Fire and forget: a failed send is logged by the composer and the line
	// simply never appears. The request context ends with this handler, so
	// the send runs on its own deadline.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.composer.Send(ctx, req.Text); err != nil {
			s.logger.Warn("Shout send failed", "error", err)
		}
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if _, err := fmt.Fprint(w, `{"status":"accepted"}`); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to encode response", "error", err)
	}
}
