// Package phoneme derives timed mouth-shape events from raw text, without
// audio. This is the fast path behind the immediate lip-sync estimate: it
// never touches the network and returns in microseconds.
package phoneme

import (
	"strings"
	"time"
	"unicode"
)

// Shape is the articulatory mouth-shape class of one event.
type Shape int

const (
	ShapeSilent Shape = iota
	ShapeA            // open (father, ㅏ)
	ShapeI            // narrow smile (see, ㅣ)
	ShapeU            // tight rounded (boot, ㅜ)
	ShapeE            // mid smile (bed, ㅔ)
	ShapeO            // rounded open (go, ㅗ)
)

func (s Shape) String() string {
	switch s {
	case ShapeA:
		return "a"
	case ShapeI:
		return "i"
	case ShapeU:
		return "u"
	case ShapeE:
		return "e"
	case ShapeO:
		return "o"
	default:
		return "sil"
	}
}

// Event is one timed articulation unit. Sequences produced by Analyze are
// ordered, non-overlapping and deterministic for identical inputs.
type Event struct {
	Start     time.Duration `json:"start"`
	Duration  time.Duration `json:"duration"`
	Shape     Shape         `json:"shape"`
	Intensity float64       `json:"intensity"` // mouth openness 0..1
	Width     float64       `json:"width"`     // mouth width/form 0..1
}

// End returns the event's end time.
func (e Event) End() time.Duration { return e.Start + e.Duration }

// Config holds per-locale timing defaults.
type Config struct {
	// PerCharDuration maps locale prefixes to the base duration of one
	// spoken character at speed 1.0.
	PerCharDuration map[string]time.Duration
	// DefaultDuration applies to locales not listed above.
	DefaultDuration time.Duration
}

// DefaultConfig returns sensible defaults. Hangul syllables carry a whole
// syllable per character, so Korean gets a longer per-character slot than
// alphabetic scripts.
func DefaultConfig() *Config {
	return &Config{
		PerCharDuration: map[string]time.Duration{
			"ko": 180 * time.Millisecond,
			"ja": 150 * time.Millisecond,
			"zh": 200 * time.Millisecond,
			"en": 75 * time.Millisecond,
		},
		DefaultDuration: 80 * time.Millisecond,
	}
}

// Analyzer is a stateless text-to-event converter.
type Analyzer struct {
	cfg *Config
}

// New creates an Analyzer.
func New(cfg *Config) *Analyzer {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Analyzer{cfg: cfg}
}

// Hangul decomposition constants. A precomposed syllable S decomposes as
// index = S - hangulBase; initial = index/588, medial = (index%588)/28,
// final = index%28.
const (
	hangulBase = 0xAC00
	hangulEnd  = 0xD7A3
)

// medialShapes maps the 21 Hangul medial vowels (ㅏ ㅐ ㅑ ㅒ ㅓ ㅔ ㅕ ㅖ ㅗ ㅘ
// ㅙ ㅚ ㅛ ㅜ ㅝ ㅞ ㅟ ㅠ ㅡ ㅢ ㅣ, in codepoint order) to a mouth shape and
// base openness.
var medialShapes = [21]struct {
	shape     Shape
	intensity float64
}{
	{ShapeA, 1.00}, // ㅏ
	{ShapeE, 0.75}, // ㅐ
	{ShapeA, 0.95}, // ㅑ
	{ShapeE, 0.75}, // ㅒ
	{ShapeA, 0.85}, // ㅓ
	{ShapeE, 0.70}, // ㅔ
	{ShapeA, 0.85}, // ㅕ
	{ShapeE, 0.70}, // ㅖ
	{ShapeO, 0.80}, // ㅗ
	{ShapeA, 0.95}, // ㅘ
	{ShapeE, 0.75}, // ㅙ
	{ShapeE, 0.70}, // ㅚ
	{ShapeO, 0.80}, // ㅛ
	{ShapeU, 0.60}, // ㅜ
	{ShapeO, 0.80}, // ㅝ
	{ShapeE, 0.70}, // ㅞ
	{ShapeI, 0.50}, // ㅟ
	{ShapeU, 0.60}, // ㅠ
	{ShapeU, 0.40}, // ㅡ
	{ShapeI, 0.45}, // ㅢ
	{ShapeI, 0.45}, // ㅣ
}

// Articulation points for the 19 Hangul initial consonants (ㄱ ㄲ ㄴ ㄷ ㄸ ㄹ
// ㅁ ㅂ ㅃ ㅅ ㅆ ㅇ ㅈ ㅉ ㅊ ㅋ ㅌ ㅍ ㅎ). A bilabial onset starts from closed
// lips and damps the following vowel's openness; alveolar and velar onsets
// constrain it less; the null onset ㅇ and glottal ㅎ leave it untouched.
var initialDamp = [19]float64{
	0.85, // ㄱ velar
	0.85, // ㄲ velar
	0.80, // ㄴ alveolar
	0.80, // ㄷ alveolar
	0.80, // ㄸ alveolar
	0.80, // ㄹ alveolar
	0.55, // ㅁ bilabial
	0.55, // ㅂ bilabial
	0.55, // ㅃ bilabial
	0.80, // ㅅ alveolar
	0.80, // ㅆ alveolar
	1.00, // ㅇ null onset
	0.80, // ㅈ alveolar
	0.80, // ㅉ alveolar
	0.80, // ㅊ alveolar
	0.85, // ㅋ velar
	0.80, // ㅌ alveolar
	0.55, // ㅍ bilabial
	1.00, // ㅎ glottal
}

// bilabialFinals marks the final-consonant slots (28 entries, 0 = none) that
// end with closed lips: ㅁ(16), ㅂ(17), ㅄ(18), ㅍ(26).
var bilabialFinals = map[int]bool{16: true, 17: true, 18: true, 26: true}

// latinVowels maps Latin vowels to shapes for non-Hangul text.
var latinVowels = map[rune]struct {
	shape     Shape
	intensity float64
}{
	'a': {ShapeA, 1.00},
	'e': {ShapeE, 0.70},
	'i': {ShapeI, 0.45},
	'o': {ShapeO, 0.80},
	'u': {ShapeU, 0.60},
	'y': {ShapeI, 0.45},
}

// latinBilabials damp the next vowel the way a Hangul bilabial onset does.
var latinBilabials = map[rune]bool{'m': true, 'b': true, 'p': true, 'f': true, 'v': true, 'w': true}

// Analyze converts text into an ordered, time-monotonic event sequence.
// Identical (text, locale, speed) inputs produce identical output. The
// result is never empty: blank input yields a single silent event.
func (a *Analyzer) Analyze(text, locale string, speed float64) []Event {
	if speed <= 0 {
		speed = 1.0
	}
	base := a.perChar(locale)
	charDur := time.Duration(float64(base) / speed)

	runes := []rune(strings.TrimSpace(text))
	speakable := countSpeakable(runes)
	if speakable == 0 {
		return []Event{{Start: 0, Duration: charDur, Shape: ShapeSilent}}
	}

	events := make([]Event, 0, len(runes))
	var cursor time.Duration
	spoken := 0
	pendingDamp := 1.0 // carried from a consonant-only rune to the next vowel

	for _, r := range runes {
		switch {
		case r >= hangulBase && r <= hangulEnd:
			idx := int(r - hangulBase)
			initial := idx / 588
			medial := (idx % 588) / 28
			final := idx % 28

			m := medialShapes[medial]
			damp := initialDamp[initial] * pendingDamp
			pendingDamp = 1.0

			intensity := m.intensity * damp * positionTaper(spoken, speakable)
			width := shapeWidth(m.shape) * damp
			if bilabialFinals[final] {
				// Syllable ends with closed lips; shorten the open phase.
				intensity *= 0.9
			}

			events = append(events, Event{
				Start:     cursor,
				Duration:  charDur,
				Shape:     m.shape,
				Intensity: clamp01(intensity),
				Width:     clamp01(width),
			})
			cursor += charDur
			spoken++

		case unicode.IsLetter(r):
			lower := unicode.ToLower(r)
			if v, ok := latinVowels[lower]; ok {
				intensity := v.intensity * pendingDamp * positionTaper(spoken, speakable)
				width := shapeWidth(v.shape) * pendingDamp
				pendingDamp = 1.0
				events = append(events, Event{
					Start:     cursor,
					Duration:  charDur,
					Shape:     v.shape,
					Intensity: clamp01(intensity),
					Width:     clamp01(width),
				})
			} else {
				if latinBilabials[lower] {
					pendingDamp = 0.55
				} else {
					pendingDamp = 0.8
				}
				// Consonants get a short low-intensity closure event so the
				// mouth keeps moving through clusters.
				events = append(events, Event{
					Start:     cursor,
					Duration:  charDur,
					Shape:     ShapeSilent,
					Intensity: 0.15 * positionTaper(spoken, speakable),
				})
			}
			cursor += charDur
			spoken++

		case unicode.IsSpace(r):
			events = append(events, Event{Start: cursor, Duration: charDur / 2, Shape: ShapeSilent})
			cursor += charDur / 2
			pendingDamp = 1.0

		case isClausePause(r):
			events = append(events, Event{Start: cursor, Duration: charDur, Shape: ShapeSilent})
			cursor += charDur
			pendingDamp = 1.0

		case isSentencePause(r):
			events = append(events, Event{Start: cursor, Duration: charDur * 3 / 2, Shape: ShapeSilent})
			cursor += charDur * 3 / 2
			pendingDamp = 1.0

		default:
			// Digits and symbols take a speaking slot at neutral openness.
			if unicode.IsDigit(r) {
				events = append(events, Event{
					Start:     cursor,
					Duration:  charDur,
					Shape:     ShapeA,
					Intensity: 0.5 * positionTaper(spoken, speakable),
					Width:     0.5,
				})
				cursor += charDur
				spoken++
			}
		}
	}

	if len(events) == 0 {
		return []Event{{Start: 0, Duration: charDur, Shape: ShapeSilent}}
	}
	return events
}

// TotalDuration returns the end time of the last event.
func TotalDuration(events []Event) time.Duration {
	if len(events) == 0 {
		return 0
	}
	return events[len(events)-1].End()
}

func (a *Analyzer) perChar(locale string) time.Duration {
	locale = strings.ToLower(locale)
	for prefix, d := range a.cfg.PerCharDuration {
		if locale == prefix || strings.HasPrefix(locale, prefix+"-") || strings.HasPrefix(locale, prefix+"_") {
			return d
		}
	}
	return a.cfg.DefaultDuration
}

// positionTaper applies a simple linear prosody taper: slightly above unity
// near the utterance start, easing down toward the end. Intentionally crude.
func positionTaper(index, total int) float64 {
	if total <= 1 {
		return 1.0
	}
	progress := float64(index) / float64(total-1)
	return 1.05 - 0.15*progress
}

// shapeWidth gives the horizontal mouth form per shape: spread shapes are
// wide, rounded shapes narrow.
func shapeWidth(s Shape) float64 {
	switch s {
	case ShapeI, ShapeE:
		return 0.9
	case ShapeA:
		return 0.6
	case ShapeO:
		return 0.35
	case ShapeU:
		return 0.2
	default:
		return 0
	}
}

func countSpeakable(runes []rune) int {
	n := 0
	for _, r := range runes {
		if (r >= hangulBase && r <= hangulEnd) || unicode.IsLetter(r) || unicode.IsDigit(r) {
			n++
		}
	}
	return n
}

func isClausePause(r rune) bool {
	return r == ',' || r == ';' || r == ':' || r == '、'
}

func isSentencePause(r rune) bool {
	return r == '.' || r == '!' || r == '?' || r == '。' || r == '！' || r == '？'
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
