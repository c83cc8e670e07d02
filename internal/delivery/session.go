// Package delivery pushes lip-sync outcomes to avatar sessions over a
// persistent duplex channel, serialized per session.
package delivery

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/sajubora/saju-avatar/internal/lipsync"
	"github.com/sajubora/saju-avatar/internal/synth"
)

// Message kinds on the wire.
const (
	KindEstimate = "lipsync_estimate"
	KindRefined  = "lipsync_refined"
	KindFailed   = "synthesis_failed"
	KindRejected = "request_rejected"
)

// Message is the outbound wire format. All messages for one request share
// RequestID so the renderer can correlate and apply supersession.
type Message struct {
	Kind             string          `json:"kind"`
	RequestID        string          `json:"request_id"`
	Frames           []lipsync.Frame `json:"frames,omitempty"`
	Audio            []byte          `json:"audio,omitempty"` // base64 over JSON
	AudioFormat      string          `json:"audio_format,omitempty"`
	SampleRate       int             `json:"sample_rate,omitempty"`
	PlaceholderAudio []byte          `json:"placeholder_audio,omitempty"`
	Emotion          string          `json:"emotion,omitempty"`
	Reason           string          `json:"reason,omitempty"`
}

// Conn is the transport surface a session writes to. *websocket.Conn
// satisfies it.
type Conn interface {
	WriteJSON(v interface{}) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Session delivers outcomes for one connected avatar client. A single writer
// goroutine drains the outbox, so messages for concurrent requests from the
// same session never interleave mid-message and arrive in enqueue order.
type Session struct {
	ID           string
	conn         Conn
	writeTimeout time.Duration
	logger       zerolog.Logger

	outbox chan Message
	closed atomic.Bool
	once   sync.Once
	done   chan struct{}

	// playback tracks when each request's estimate started playing, which is
	// the watermark for supersession of refined frames.
	mu       sync.Mutex
	playback map[string]time.Time
}

// NewSession starts the writer goroutine for a connection. writeTimeout
// bounds each individual write; zero means no deadline.
func NewSession(id string, conn Conn, writeTimeout time.Duration, logger zerolog.Logger) *Session {
	s := &Session{
		ID:           id,
		conn:         conn,
		writeTimeout: writeTimeout,
		logger:       logger.With().Str("component", "delivery").Str("session", id).Logger(),
		outbox:       make(chan Message, 16),
		done:         make(chan struct{}),
		playback:     make(map[string]time.Time),
	}
	go s.writeLoop()
	return s
}

// Alive reports whether the session can still receive deliveries.
func (s *Session) Alive() bool {
	return !s.closed.Load()
}

// Close tears the session down. Pending outbox messages are dropped; the
// underlying connection is closed once.
func (s *Session) Close() {
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.done)
		_ = s.conn.Close()
	})
}

// Deliver converts a coordinator outcome into a wire message and enqueues it.
// Refined tracks are filtered against the playback watermark first: frames at
// or before the already-played timestamp are dropped so rendered frames are
// never retroactively corrected.
func (s *Session) Deliver(out synth.Outcome) {
	var msg Message
	switch out.Kind {
	case synth.OutcomeEstimate:
		msg = Message{
			Kind:             KindEstimate,
			RequestID:        out.RequestID,
			Frames:           out.Estimate.Frames,
			PlaceholderAudio: out.Estimate.PlaceholderAudio,
			Emotion:          out.Emotion,
		}
		s.mu.Lock()
		s.playback[out.RequestID] = time.Now()
		s.mu.Unlock()

	case synth.OutcomeRefined:
		elapsed := s.elapsed(out.RequestID)
		frames := SupersedeFrames(out.Refined.Frames, elapsed)
		msg = Message{
			Kind:        KindRefined,
			RequestID:   out.RequestID,
			Frames:      frames,
			Audio:       out.Refined.Audio,
			AudioFormat: out.Refined.Format,
			SampleRate:  out.Refined.SampleRate,
			Emotion:     out.Emotion,
		}
		s.forget(out.RequestID)

	case synth.OutcomeFailed:
		msg = Message{
			Kind:      KindFailed,
			RequestID: out.RequestID,
			Reason:    out.Failure.Error(),
		}
		s.forget(out.RequestID)
	}

	s.enqueue(msg)
}

// Reject reports a request-level error back to the client, before any
// synthesis state exists for it.
func (s *Session) Reject(reason string) {
	s.enqueue(Message{Kind: KindRejected, Reason: reason})
}

// elapsed returns how much of the request's estimate has already played.
func (s *Session) elapsed(requestID string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	start, ok := s.playback[requestID]
	if !ok {
		return 0
	}
	return time.Since(start).Seconds()
}

func (s *Session) forget(requestID string) {
	s.mu.Lock()
	delete(s.playback, requestID)
	s.mu.Unlock()
}

// enqueue hands a message to the writer goroutine. A session that is closed
// or hopelessly backed up drops the message rather than blocking the
// synthesis pipeline.
func (s *Session) enqueue(msg Message) {
	if s.closed.Load() {
		return
	}
	select {
	case s.outbox <- msg:
	case <-s.done:
	default:
		s.logger.Warn().
			Str("kind", msg.Kind).
			Str("requestId", msg.RequestID).
			Msg("Outbox full, dropping message")
	}
}

func (s *Session) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.outbox:
			if s.writeTimeout > 0 {
				_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			}
			if err := s.conn.WriteJSON(msg); err != nil {
				s.logger.Warn().Err(err).Msg("Write failed, closing session")
				s.Close()
				return
			}
		}
	}
}

// SupersedeFrames drops refined frames at or before the playback watermark
// (seconds). Frames after it replace the estimate for the remainder of the
// clip.
func SupersedeFrames(frames []lipsync.Frame, playedUpTo float64) []lipsync.Frame {
	out := make([]lipsync.Frame, 0, len(frames))
	for _, f := range frames {
		if f.T <= playedUpTo {
			continue
		}
		out = append(out, f)
	}
	return out
}
