// Package server exposes the synthesis pipeline over HTTP: a WebSocket
// endpoint for avatar sessions and a health endpoint for the provider
// registry.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/sajubora/saju-avatar/internal/delivery"
	"github.com/sajubora/saju-avatar/internal/synth"
	"github.com/sajubora/saju-avatar/internal/tts"
)

// Config tunes the server.
type Config struct {
	Addr            string
	DefaultLocale   string
	ReadLimit       int64
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Addr:            ":8790",
		DefaultLocale:   "ko-KR",
		ReadLimit:       64 * 1024,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// SpeakRequest is the inbound WebSocket message from an avatar client.
type SpeakRequest struct {
	Text    string  `json:"text"`
	Locale  string  `json:"locale,omitempty"`
	Voice   string  `json:"voice,omitempty"`
	Emotion string  `json:"emotion,omitempty"`
	Speed   float64 `json:"speed,omitempty"`
}

// Registry is the health surface the server reports on. *tts.Registry
// satisfies it.
type Registry interface {
	Snapshot() []tts.ProviderHealth
}

// Server routes WebSocket sessions into the coordinator.
type Server struct {
	cfg         *Config
	coordinator *synth.Coordinator
	registry    Registry
	hub         *delivery.Hub
	logger      zerolog.Logger

	mux      *http.ServeMux
	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

// New wires the routes.
func New(cfg *Config, coordinator *synth.Coordinator, registry Registry, hub *delivery.Hub, logger zerolog.Logger) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s := &Server{
		cfg:         cfg,
		coordinator: coordinator,
		registry:    registry,
		hub:         hub,
		logger:      logger.With().Str("component", "server").Logger(),
		mux:         http.NewServeMux(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Sessions come from the local Live2D page or OBS browser source.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.routes()
	s.httpSrv = &http.Server{
		Addr:    cfg.Addr,
		Handler: s.mux,
	}
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("GET /ws", s.handleWS)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	s.logger.Info().Str("addr", s.cfg.Addr).Msg("Server listening")
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains connections and closes all sessions.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.CloseAll()
	return s.httpSrv.Shutdown(ctx)
}

// handleHealthz reports per-provider health from the registry.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	snapshot := s.registry.Snapshot()

	status := "ok"
	healthy := 0
	for _, p := range snapshot {
		if p.Status == tts.HealthUnavailable {
			continue
		}
		healthy++
	}
	if healthy == 0 && len(snapshot) > 0 {
		status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    status,
		"sessions":  s.hub.Len(),
		"providers": snapshot,
	})
}

// handleWS upgrades the connection and runs the session read loop. Each
// inbound speak request fans into the coordinator; outcomes come back through
// the session's serialized writer.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	session := delivery.NewSession(sessionID, conn, s.cfg.WriteTimeout, s.logger)
	s.hub.Add(session)
	defer s.hub.Remove(session)

	conn.SetReadLimit(s.cfg.ReadLimit)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn().Err(err).Str("session", sessionID).Msg("Read failed")
			}
			return
		}

		var req SpeakRequest
		if err := json.Unmarshal(data, &req); err != nil {
			session.Reject("invalid request payload")
			continue
		}
		if strings.TrimSpace(req.Text) == "" {
			session.Reject("text is required")
			continue
		}

		locale := req.Locale
		if locale == "" {
			locale = s.cfg.DefaultLocale
		}

		_, err = s.coordinator.Speak(&tts.SynthesizeRequest{
			Text:      req.Text,
			Locale:    locale,
			VoiceHint: req.Voice,
			Emotion:   req.Emotion,
			Speed:     req.Speed,
			SessionID: sessionID,
		}, session)
		if err != nil {
			var noProvider *tts.NoProviderAvailableError
			if errors.As(err, &noProvider) {
				session.Reject(noProvider.Error())
				continue
			}
			s.logger.Error().Err(err).Str("session", sessionID).Msg("Speak failed")
			session.Reject("internal error")
		}
	}
}
