// Package synth coordinates the hybrid estimate-then-refine synthesis flow:
// an immediate phoneme-derived lip-sync track, with the real provider call
// and audio-derived refinement running in the background.
package synth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sajubora/saju-avatar/internal/lipsync"
	"github.com/sajubora/saju-avatar/internal/phoneme"
	"github.com/sajubora/saju-avatar/internal/tts"
)

// State is the per-request lifecycle. Transitions are one-way:
// Pending → EstimateReady → {RefinedReady, RefineFailed, RefineTimedOut}.
type State int32

const (
	StatePending State = iota
	StateEstimateReady
	StateRefinedReady
	StateRefineFailed
	StateRefineTimedOut
)

func (s State) String() string {
	switch s {
	case StateEstimateReady:
		return "estimate_ready"
	case StateRefinedReady:
		return "refined_ready"
	case StateRefineFailed:
		return "refine_failed"
	case StateRefineTimedOut:
		return "refine_timed_out"
	default:
		return "pending"
	}
}

// OutcomeKind tags the delivery variants. Consumers match exhaustively.
type OutcomeKind int

const (
	OutcomeEstimate OutcomeKind = iota
	OutcomeRefined
	OutcomeFailed
)

// EstimateTrack is the fast-path result: phoneme-derived frames and an
// optional placeholder tone.
type EstimateTrack struct {
	Frames           []lipsync.Frame
	PlaceholderAudio []byte
}

// RefinedTrack is the slow-path result: audio-derived frames plus the real
// audio clip.
type RefinedTrack struct {
	Frames     []lipsync.Frame
	Audio      []byte
	Format     string
	SampleRate int
	Provider   string
}

// Outcome is the tagged union delivered to the sink. Exactly one of
// Estimate, Refined or Failure is set, matching Kind.
type Outcome struct {
	Kind      OutcomeKind
	RequestID string
	Emotion   string
	Estimate  *EstimateTrack
	Refined   *RefinedTrack
	Failure   error
}

// Sink receives outcomes for one session. Alive is checked immediately before
// a refined delivery so results for a closed session are discarded instead of
// written to a dead channel.
type Sink interface {
	Alive() bool
	Deliver(out Outcome)
}

// Executor is the fallback orchestrator surface the coordinator needs.
// *tts.Registry satisfies it.
type Executor interface {
	Resolve(locale string) *tts.FallbackChain
	Execute(ctx context.Context, req *tts.SynthesizeRequest) (*tts.SynthesizeResult, error)
}

// Config tunes the coordinator.
type Config struct {
	// RefineTimeout bounds the whole background refine path when the request
	// carries no deadline of its own.
	RefineTimeout time.Duration `json:"refine_timeout"`
	// PlaceholderTone attaches a quiet tone clip to estimates so the client
	// has something to play while real audio is in flight.
	PlaceholderTone bool `json:"placeholder_tone"`
	// PlaceholderFreqHz is the tone pitch.
	PlaceholderFreqHz float64 `json:"placeholder_freq_hz"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		RefineTimeout:     15 * time.Second,
		PlaceholderTone:   false,
		PlaceholderFreqHz: 220,
	}
}

// Coordinator runs the two-phase flow. Safe for concurrent use across
// sessions; per-request state lives in the returned Ticket.
type Coordinator struct {
	cfg       *Config
	analyzer  *phoneme.Analyzer
	executor  Executor
	amplitude *lipsync.AmplitudeAnalyzer
	mapper    *lipsync.Mapper
	logger    zerolog.Logger

	// Background refines detach from the caller's context so a session
	// disconnect does not abort an in-flight provider call (its result still
	// feeds health tracking). They stop on Close.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCoordinator wires the pipeline stages together.
func NewCoordinator(cfg *Config, analyzer *phoneme.Analyzer, executor Executor, amplitude *lipsync.AmplitudeAnalyzer, mapper *lipsync.Mapper, logger zerolog.Logger) *Coordinator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		cfg:       cfg,
		analyzer:  analyzer,
		executor:  executor,
		amplitude: amplitude,
		mapper:    mapper,
		logger:    logger.With().Str("component", "synth-coordinator").Logger(),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Close aborts in-flight refines and waits for their goroutines.
func (c *Coordinator) Close() {
	c.cancel()
	c.wg.Wait()
}

// Ticket tracks one request through the state machine.
type Ticket struct {
	RequestID string
	state     atomic.Int32
	done      chan struct{}
}

// State returns the current lifecycle state.
func (t *Ticket) State() State {
	return State(t.state.Load())
}

// Done is closed when the request reaches a terminal state.
func (t *Ticket) Done() <-chan struct{} {
	return t.done
}

func (t *Ticket) transition(to State) {
	t.state.Store(int32(to))
	if to != StateEstimateReady {
		close(t.done)
	}
}

// Speak runs the hybrid flow for one request. The phoneme estimate is
// computed and delivered synchronously before Speak returns, so the caller
// always observes the estimate first; the provider call proceeds in the
// background.
//
// A locale with no providers at all fails fast with NoProviderAvailableError
// and emits nothing.
func (c *Coordinator) Speak(req *tts.SynthesizeRequest, sink Sink) (*Ticket, error) {
	if c.executor.Resolve(req.Locale).Len() == 0 {
		return nil, &tts.NoProviderAvailableError{Locale: req.Locale}
	}

	ticket := &Ticket{
		RequestID: uuid.NewString(),
		done:      make(chan struct{}),
	}

	events := c.analyzer.Analyze(req.Text, req.Locale, req.Speed)
	estimate := &EstimateTrack{Frames: c.mapper.FromPhonemes(events)}
	if c.cfg.PlaceholderTone {
		estimate.PlaceholderAudio = lipsync.PlaceholderTone(phoneme.TotalDuration(events), 16000, c.cfg.PlaceholderFreqHz)
	}

	ticket.transition(StateEstimateReady)
	sink.Deliver(Outcome{
		Kind:      OutcomeEstimate,
		RequestID: ticket.RequestID,
		Emotion:   req.Emotion,
		Estimate:  estimate,
	})

	c.logger.Debug().
		Str("requestId", ticket.RequestID).
		Str("locale", req.Locale).
		Int("estimateFrames", len(estimate.Frames)).
		Msg("Estimate emitted")

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.refine(req, ticket, sink)
	}()

	return ticket, nil
}

// refine executes the provider chain, derives the refined track from real
// audio, and delivers it unless the session died in the meantime.
func (c *Coordinator) refine(req *tts.SynthesizeRequest, ticket *Ticket, sink Sink) {
	timeout := c.cfg.RefineTimeout
	if !req.Deadline.IsZero() {
		if remaining := time.Until(req.Deadline); remaining < timeout {
			timeout = remaining
		}
	}
	ctx, cancel := context.WithTimeout(c.ctx, timeout)
	defer cancel()

	result, err := c.executor.Execute(ctx, req)
	if err != nil {
		c.finishFailed(ctx, ticket, sink, req, err)
		return
	}

	env := c.amplitude.Envelope(result)
	frames := c.mapper.FromEnvelope(env)

	// Liveness check: a canceled or disconnected session must not receive a
	// stale refined track, but the provider call above still counted toward
	// health state.
	if !sink.Alive() {
		ticket.transition(StateRefineFailed)
		c.logger.Debug().
			Str("requestId", ticket.RequestID).
			Msg("Session gone, discarding refined result")
		return
	}

	ticket.transition(StateRefinedReady)
	sink.Deliver(Outcome{
		Kind:      OutcomeRefined,
		RequestID: ticket.RequestID,
		Emotion:   req.Emotion,
		Refined: &RefinedTrack{
			Frames:     frames,
			Audio:      result.Audio,
			Format:     result.Format,
			SampleRate: result.SampleRate,
			Provider:   result.Provider,
		},
	})

	c.logger.Info().
		Str("requestId", ticket.RequestID).
		Str("provider", result.Provider).
		Int("refinedFrames", len(frames)).
		Float64("trackEnd", lipsync.LastTimestamp(frames)).
		Bool("heuristicEnvelope", env.Heuristic).
		Msg("Refined track delivered")
}

// finishFailed resolves the terminal failure state. The estimate already
// delivered stands as final; the failure message only tells the client no
// real audio is coming.
func (c *Coordinator) finishFailed(ctx context.Context, ticket *Ticket, sink Sink, req *tts.SynthesizeRequest, err error) {
	state := StateRefineFailed
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		state = StateRefineTimedOut
	}
	ticket.transition(state)

	var allFailed *tts.AllProvidersFailedError
	if errors.As(err, &allFailed) {
		c.logger.Warn().
			Str("requestId", ticket.RequestID).
			Str("locale", req.Locale).
			Int("attempts", len(allFailed.Attempts)).
			Err(err).
			Msg("All providers failed, estimate stands")
	} else {
		c.logger.Warn().
			Str("requestId", ticket.RequestID).
			Err(err).
			Msg("Refine failed, estimate stands")
	}

	if !sink.Alive() {
		return
	}
	sink.Deliver(Outcome{
		Kind:      OutcomeFailed,
		RequestID: ticket.RequestID,
		Failure:   err,
	})
}
