package lipsync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sajubora/saju-avatar/internal/phoneme"
)

func TestMapper_FromPhonemes(t *testing.T) {
	m := NewMapper(nil)

	events := []phoneme.Event{
		{Start: 0, Duration: 180 * time.Millisecond, Shape: phoneme.ShapeA, Intensity: 0.9, Width: 0.6},
		{Start: 180 * time.Millisecond, Duration: 90 * time.Millisecond, Shape: phoneme.ShapeSilent, Intensity: 0.2},
		{Start: 270 * time.Millisecond, Duration: 180 * time.Millisecond, Shape: phoneme.ShapeU, Intensity: 0.4, Width: 0.2},
	}

	frames := m.FromPhonemes(events)

	// One frame per event plus the closing frame.
	require.Len(t, frames, 4)

	// Gain amplifies but the clamp holds: 0.9 * 1.4 caps at 1.0.
	assert.Equal(t, 1.0, frames[0].Params[ParamMouthOpenY])
	assert.Equal(t, 0.6, frames[0].Params[ParamMouthForm])

	// Silent events force the mouth closed regardless of intensity.
	assert.Equal(t, 0.0, frames[1].Params[ParamMouthOpenY])
	assert.Equal(t, 0.0, frames[1].Params[ParamMouthForm])

	assert.InDelta(t, 0.56, frames[2].Params[ParamMouthOpenY], 1e-9)

	// Closing frame lands at the utterance end.
	last := frames[3]
	assert.InDelta(t, 0.45, last.T, 1e-9)
	assert.Equal(t, 0.0, last.Params[ParamMouthOpenY])
}

func TestMapper_FromPhonemes_StrictlyMonotonic(t *testing.T) {
	m := NewMapper(nil)
	a := phoneme.New(nil)

	events := a.Analyze("오늘의 운세는 아주 좋아요!", "ko-KR", 1.0)
	frames := m.FromPhonemes(events)

	require.NotEmpty(t, frames)
	for i := 1; i < len(frames); i++ {
		assert.Greater(t, frames[i].T, frames[i-1].T)
	}
}

func TestMapper_FromPhonemes_Empty(t *testing.T) {
	m := NewMapper(nil)

	frames := m.FromPhonemes(nil)

	require.Len(t, frames, 1)
	assert.Equal(t, 0.0, frames[0].Params[ParamMouthOpenY])
}

func TestMapper_FromEnvelope(t *testing.T) {
	m := NewMapper(&MapperConfig{Gain: 1.0, NoiseFloor: 0.1, NeutralForm: 0.5})

	env := &Envelope{
		Window: 100 * time.Millisecond,
		Values: []float64{0.8, 0.04, 0.4},
		Peak:   0.8,
	}

	frames := m.FromEnvelope(env)

	require.Len(t, frames, 4)

	// Peak window opens fully.
	assert.Equal(t, 0.0, frames[0].T)
	assert.Equal(t, 1.0, frames[0].Params[ParamMouthOpenY])
	assert.Equal(t, 0.5, frames[0].Params[ParamMouthForm])

	// Below the noise floor the mouth closes entirely.
	assert.Equal(t, 0.0, frames[1].Params[ParamMouthOpenY])
	assert.Equal(t, 0.0, frames[1].Params[ParamMouthForm])

	assert.InDelta(t, 0.5, frames[2].Params[ParamMouthOpenY], 1e-9)

	// Closing frame at the envelope's end.
	assert.InDelta(t, 0.3, frames[3].T, 1e-9)
	assert.Equal(t, 0.0, frames[3].Params[ParamMouthOpenY])
}

func TestMapper_FromEnvelope_Silence(t *testing.T) {
	m := NewMapper(nil)

	env := &Envelope{
		Window: 100 * time.Millisecond,
		Values: []float64{0, 0, 0},
		Peak:   0,
	}

	frames := m.FromEnvelope(env)

	require.Len(t, frames, 4)
	for _, f := range frames {
		assert.Equal(t, 0.0, f.Params[ParamMouthOpenY])
		assert.Equal(t, 0.0, f.Params[ParamMouthForm])
	}
}

func TestMapper_GainNeverEscapesRange(t *testing.T) {
	m := NewMapper(&MapperConfig{Gain: 25.0, NoiseFloor: 0.01, NeutralForm: 0.5})

	env := &Envelope{
		Window: 100 * time.Millisecond,
		Values: []float64{0.2, 0.9, 0.5},
		Peak:   0.9,
	}

	for _, f := range m.FromEnvelope(env) {
		open := f.Params[ParamMouthOpenY]
		assert.GreaterOrEqual(t, open, 0.0)
		assert.LessOrEqual(t, open, 1.0)
	}
}
