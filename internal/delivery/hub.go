package delivery

import (
	"sync"

	"github.com/rs/zerolog"
)

// Hub tracks connected sessions. Sessions are independent; no ordering is
// guaranteed across them.
type Hub struct {
	logger zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewHub creates an empty hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		logger:   logger.With().Str("component", "delivery-hub").Logger(),
		sessions: make(map[string]*Session),
	}
}

// Add registers a session, replacing (and closing) any previous session with
// the same id.
func (h *Hub) Add(s *Session) {
	h.mu.Lock()
	prev := h.sessions[s.ID]
	h.sessions[s.ID] = s
	h.mu.Unlock()

	if prev != nil {
		prev.Close()
		h.logger.Debug().Str("session", s.ID).Msg("Replaced existing session")
	}
	h.logger.Info().Str("session", s.ID).Msg("Session connected")
}

// Remove drops and closes a session if it is still the registered one.
func (h *Hub) Remove(s *Session) {
	h.mu.Lock()
	if h.sessions[s.ID] == s {
		delete(h.sessions, s.ID)
	}
	h.mu.Unlock()

	s.Close()
	h.logger.Info().Str("session", s.ID).Msg("Session disconnected")
}

// Get returns the session for an id, or nil.
func (h *Hub) Get(id string) *Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sessions[id]
}

// Len returns the number of connected sessions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// CloseAll tears down every session, for shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.sessions = make(map[string]*Session)
	h.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
