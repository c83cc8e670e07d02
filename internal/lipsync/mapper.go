package lipsync

import (
	"github.com/sajubora/saju-avatar/internal/phoneme"
)

// MapperConfig tunes how source signals become mouth parameters.
type MapperConfig struct {
	// Gain amplifies the source signal so quiet synthesized voices still
	// produce visible motion. The result is clamped to [0,1]; gain can never
	// push a parameter out of range.
	Gain float64 `json:"gain"`
	// NoiseFloor is the normalized energy below which the mouth is fully
	// closed.
	NoiseFloor float64 `json:"noise_floor"`
	// NeutralForm is the mouth width used when the source signal carries no
	// width information (the amplitude path).
	NeutralForm float64 `json:"neutral_form"`
}

// DefaultMapperConfig returns sensible defaults
func DefaultMapperConfig() *MapperConfig {
	return &MapperConfig{
		Gain:        1.4,
		NoiseFloor:  0.05,
		NeutralForm: 0.5,
	}
}

// Mapper normalizes phoneme events and loudness envelopes into the shared
// frame schema.
type Mapper struct {
	cfg *MapperConfig
}

// NewMapper creates a Mapper.
func NewMapper(cfg *MapperConfig) *Mapper {
	if cfg == nil {
		cfg = DefaultMapperConfig()
	}
	return &Mapper{cfg: cfg}
}

// FromPhonemes converts an analyzer event sequence into frames: one frame at
// each event start plus a closing frame at the end of the utterance.
func (m *Mapper) FromPhonemes(events []phoneme.Event) []Frame {
	if len(events) == 0 {
		return []Frame{closedFrame(0)}
	}

	frames := make([]Frame, 0, len(events)+1)
	for _, ev := range events {
		open := m.applyGain(ev.Intensity)
		form := ev.Width
		if ev.Shape == phoneme.ShapeSilent {
			open = 0
			form = 0
		}
		frames = append(frames, Frame{
			T: ev.Start.Seconds(),
			Params: map[string]float64{
				ParamMouthOpenY: open,
				ParamMouthForm:  clamp01(form),
			},
		})
	}

	frames = append(frames, closedFrame(events[len(events)-1].End().Seconds()))
	return dedupeTimestamps(frames)
}

// FromEnvelope converts a loudness envelope into frames. Each window's energy
// is normalized against the clip's observed peak and mapped monotonically to
// mouth openness; windows under the noise floor close the mouth entirely.
func (m *Mapper) FromEnvelope(env *Envelope) []Frame {
	if env == nil || len(env.Values) == 0 {
		return []Frame{closedFrame(0)}
	}

	frames := make([]Frame, 0, len(env.Values)+1)
	for i, v := range env.Values {
		normalized := 0.0
		if env.Peak > 0 {
			normalized = v / env.Peak
		}
		open := 0.0
		form := 0.0
		if normalized >= m.cfg.NoiseFloor {
			open = m.applyGain(normalized)
			form = m.cfg.NeutralForm
		}
		frames = append(frames, Frame{
			T: float64(i) * env.Window.Seconds(),
			Params: map[string]float64{
				ParamMouthOpenY: open,
				ParamMouthForm:  clamp01(form),
			},
		})
	}

	frames = append(frames, closedFrame(env.Duration().Seconds()))
	return frames
}

// applyGain multiplies and clamps. Out-of-range values must never reach the
// renderer.
func (m *Mapper) applyGain(v float64) float64 {
	return clamp01(v * m.cfg.Gain)
}

func closedFrame(t float64) Frame {
	return Frame{
		T: t,
		Params: map[string]float64{
			ParamMouthOpenY: 0,
			ParamMouthForm:  0,
		},
	}
}

// dedupeTimestamps drops frames that would violate strict monotonicity, which
// can happen when a zero-duration event collides with the closing frame.
func dedupeTimestamps(frames []Frame) []Frame {
	out := frames[:0]
	for _, f := range frames {
		if len(out) > 0 && f.T <= out[len(out)-1].T {
			continue
		}
		out = append(out, f)
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
