package lipsync

import (
	"bytes"
	"encoding/binary"
	"math"
	"time"
)

// PlaceholderTone synthesizes a soft sine-wave WAV clip used as optional
// estimate audio while the real provider call is in flight. 16-bit mono PCM.
//
// go-audio's wav.Encoder needs an io.WriteSeeker, so the 44-byte canonical
// header is written directly.
func PlaceholderTone(duration time.Duration, sampleRate int, freqHz float64) []byte {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if freqHz <= 0 {
		freqHz = 440
	}

	numSamples := int(float64(sampleRate) * duration.Seconds())
	dataSize := numSamples * 2

	var buf bytes.Buffer
	buf.Grow(44 + dataSize)

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*2)) // byte rate
	binary.Write(&buf, binary.LittleEndian, uint16(2))            // block align
	binary.Write(&buf, binary.LittleEndian, uint16(16))           // bit depth
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataSize))

	const amplitude = 0.12 // quiet on purpose
	fade := numSamples / 10
	for i := 0; i < numSamples; i++ {
		v := amplitude * math.Sin(2*math.Pi*freqHz*float64(i)/float64(sampleRate))
		// Linear fade in/out avoids clicks at the clip edges.
		if i < fade {
			v *= float64(i) / float64(fade)
		} else if i > numSamples-fade {
			v *= float64(numSamples-i) / float64(fade)
		}
		binary.Write(&buf, binary.LittleEndian, int16(v*32767))
	}

	return buf.Bytes()
}
