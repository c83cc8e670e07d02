package lipsync

import (
	"bytes"
	"errors"
	"math"
	"time"

	"github.com/go-audio/wav"
	"github.com/rs/zerolog"

	"github.com/sajubora/saju-avatar/internal/tts"
)

// ErrDecode reports that audio could not be parsed as a known format. Callers
// inside this package recover from it with the byte-energy heuristic; it
// never fails the refine step.
var ErrDecode = errors.New("audio decode failed")

// Envelope is a short-window loudness track extracted from a clip. Values are
// raw RMS energies (not yet normalized); Peak is the maximum observed value.
type Envelope struct {
	Window time.Duration
	Values []float64
	Peak   float64
	// Heuristic marks envelopes produced by the byte-energy fallback rather
	// than a real PCM decode.
	Heuristic bool
}

// Duration returns the time span covered by the envelope.
func (e *Envelope) Duration() time.Duration {
	return time.Duration(len(e.Values)) * e.Window
}

// AmplitudeConfig tunes envelope extraction.
type AmplitudeConfig struct {
	// Window is the RMS analysis window. ~100ms tracks syllable-level
	// loudness without flickering.
	Window time.Duration `json:"window"`
	// HeuristicByteRate approximates bytes-per-second for opaque compressed
	// formats where no decoder is available. Best-effort only.
	HeuristicByteRate int `json:"heuristic_byte_rate"`
}

// DefaultAmplitudeConfig returns sensible defaults
func DefaultAmplitudeConfig() *AmplitudeConfig {
	return &AmplitudeConfig{
		Window:            100 * time.Millisecond,
		HeuristicByteRate: 16000, // ~128 kbps mp3
	}
}

// AmplitudeAnalyzer extracts loudness envelopes from synthesized audio.
type AmplitudeAnalyzer struct {
	cfg    *AmplitudeConfig
	logger zerolog.Logger
}

// NewAmplitudeAnalyzer creates an analyzer.
func NewAmplitudeAnalyzer(cfg *AmplitudeConfig, logger zerolog.Logger) *AmplitudeAnalyzer {
	if cfg == nil {
		cfg = DefaultAmplitudeConfig()
	}
	return &AmplitudeAnalyzer{
		cfg:    cfg,
		logger: logger.With().Str("component", "amplitude").Logger(),
	}
}

// Envelope computes the loudness track for a synthesis result. WAV audio is
// decoded properly; anything else falls back to the byte-energy heuristic.
// The method never fails: a decode error degrades, it does not propagate.
func (a *AmplitudeAnalyzer) Envelope(result *tts.SynthesizeResult) *Envelope {
	if result.Format == "wav" {
		env, err := a.decodeWAV(result.Audio)
		if err == nil {
			return env
		}
		a.logger.Warn().
			Err(err).
			Str("provider", result.Provider).
			Msg("WAV decode failed, using byte-energy heuristic")
	}
	return a.byteEnergy(result.Audio)
}

// decodeWAV parses the RIFF header and computes windowed RMS over the PCM
// samples.
func (a *AmplitudeAnalyzer) decodeWAV(audio []byte) (*Envelope, error) {
	decoder := wav.NewDecoder(bytes.NewReader(audio))
	if !decoder.IsValidFile() {
		return nil, ErrDecode
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, errors.Join(ErrDecode, err)
	}
	if buf == nil || buf.Format == nil || len(buf.Data) == 0 || buf.Format.SampleRate <= 0 {
		return nil, ErrDecode
	}

	sampleRate := buf.Format.SampleRate
	channels := buf.Format.NumChannels
	if channels <= 0 {
		channels = 1
	}
	bitDepth := int(decoder.BitDepth)
	if bitDepth <= 0 {
		bitDepth = 16
	}
	fullScale := math.Pow(2, float64(bitDepth-1))

	framesPerWindow := int(float64(sampleRate) * a.cfg.Window.Seconds())
	if framesPerWindow <= 0 {
		framesPerWindow = 1
	}
	samplesPerWindow := framesPerWindow * channels

	env := &Envelope{Window: a.cfg.Window}
	for start := 0; start < len(buf.Data); start += samplesPerWindow {
		end := start + samplesPerWindow
		if end > len(buf.Data) {
			end = len(buf.Data)
		}
		var sum float64
		for _, s := range buf.Data[start:end] {
			v := float64(s) / fullScale
			sum += v * v
		}
		rms := math.Sqrt(sum / float64(end-start))
		env.Values = append(env.Values, rms)
		if rms > env.Peak {
			env.Peak = rms
		}
	}
	return env, nil
}

// byteEnergy approximates an envelope from raw bytes of an opaque format by
// measuring mean deviation from the byte midpoint per window. The accuracy is
// unverified; treat the result as a rough estimate, not a waveform.
func (a *AmplitudeAnalyzer) byteEnergy(audio []byte) *Envelope {
	env := &Envelope{Window: a.cfg.Window, Heuristic: true}
	if len(audio) == 0 {
		return env
	}

	bytesPerWindow := int(float64(a.cfg.HeuristicByteRate) * a.cfg.Window.Seconds())
	if bytesPerWindow <= 0 {
		bytesPerWindow = 1024
	}

	for start := 0; start < len(audio); start += bytesPerWindow {
		end := start + bytesPerWindow
		if end > len(audio) {
			end = len(audio)
		}
		var sum float64
		for _, b := range audio[start:end] {
			d := (float64(b) - 128.0) / 128.0
			sum += d * d
		}
		rms := math.Sqrt(sum / float64(end-start))
		env.Values = append(env.Values, rms)
		if rms > env.Peak {
			env.Peak = rms
		}
	}
	return env
}
