// Package lipsync turns phoneme events or decoded audio into normalized
// mouth-parameter frames for the Live2D renderer.
package lipsync

// Live2D standard parameter ids consumed by the avatar renderer.
const (
	ParamMouthOpenY = "ParamMouthOpenY" // 0 closed .. 1 fully open
	ParamMouthForm  = "ParamMouthForm"  // 0 pursed .. 1 wide
)

// Frame is one timed set of named mouth parameters. Values are normalized to
// [0,1] after gain; sequences are strictly monotonic in T.
type Frame struct {
	T      float64            `json:"t"` // seconds from utterance start
	Params map[string]float64 `json:"params"`
}

// LastTimestamp returns the T of the final frame, or 0 for an empty track.
func LastTimestamp(frames []Frame) float64 {
	if len(frames) == 0 {
		return 0
	}
	return frames[len(frames)-1].T
}
