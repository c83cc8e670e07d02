package lipsync

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sajubora/saju-avatar/internal/tts"
)

func TestAmplitudeAnalyzer_WAVDecode(t *testing.T) {
	a := NewAmplitudeAnalyzer(nil, zerolog.Nop())

	audio := PlaceholderTone(500*time.Millisecond, 16000, 220)
	env := a.Envelope(&tts.SynthesizeResult{
		Provider: "melo",
		Audio:    audio,
		Format:   "wav",
	})

	require.NotNil(t, env)
	assert.False(t, env.Heuristic)

	// 500ms of audio in 100ms windows.
	assert.Len(t, env.Values, 5)
	assert.Equal(t, 500*time.Millisecond, env.Duration())
	assert.Greater(t, env.Peak, 0.0)

	// A steady tone has near-constant energy in the interior windows.
	assert.InDelta(t, env.Values[1], env.Values[2], 0.01)

	for _, v := range env.Values {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
}

func TestAmplitudeAnalyzer_CorruptWAVFallsBack(t *testing.T) {
	a := NewAmplitudeAnalyzer(nil, zerolog.Nop())

	env := a.Envelope(&tts.SynthesizeResult{
		Provider: "melo",
		Audio:    []byte("this is not a riff container at all, just junk bytes"),
		Format:   "wav",
	})

	// Decode failure degrades to the heuristic instead of failing the refine.
	require.NotNil(t, env)
	assert.True(t, env.Heuristic)
	assert.NotEmpty(t, env.Values)
}

func TestAmplitudeAnalyzer_OpaqueFormatUsesHeuristic(t *testing.T) {
	a := NewAmplitudeAnalyzer(&AmplitudeConfig{
		Window:            100 * time.Millisecond,
		HeuristicByteRate: 1000,
	}, zerolog.Nop())

	// 250 bytes at 1000 B/s in 100ms windows: two full windows plus a tail.
	audio := make([]byte, 250)
	for i := range audio {
		audio[i] = byte(128 + 40*(i%2*2-1)) // alternate around the midpoint
	}

	env := a.Envelope(&tts.SynthesizeResult{
		Provider: "openai",
		Audio:    audio,
		Format:   "mp3",
	})

	require.NotNil(t, env)
	assert.True(t, env.Heuristic)
	assert.Len(t, env.Values, 3)
	assert.InDelta(t, 40.0/128.0, env.Peak, 1e-6)
}

func TestAmplitudeAnalyzer_EmptyAudio(t *testing.T) {
	a := NewAmplitudeAnalyzer(nil, zerolog.Nop())

	env := a.Envelope(&tts.SynthesizeResult{Provider: "openai", Format: "mp3"})

	require.NotNil(t, env)
	assert.True(t, env.Heuristic)
	assert.Empty(t, env.Values)
	assert.Equal(t, time.Duration(0), env.Duration())
}
