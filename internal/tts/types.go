// Package tts provides multi-provider speech synthesis with ranked fallback
// for the saju-avatar lip-sync pipeline.
package tts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors returned by provider adapters. The orchestrator treats all
// three as recoverable and advances the fallback chain.
var (
	ErrProviderUnavailable = errors.New("tts provider unavailable")
	ErrProviderRateLimited = errors.New("tts provider rate limited")
	ErrProviderTimeout     = errors.New("tts synthesis timeout")
)

// NoProviderAvailableError is returned by Execute when no eligible provider
// exists for the requested locale. It is terminal and surfaced immediately,
// without any network attempt.
type NoProviderAvailableError struct {
	Locale string
}

func (e *NoProviderAvailableError) Error() string {
	return fmt.Sprintf("no tts provider available for locale %q", e.Locale)
}

// Attempt records a single provider failure inside a fallback chain walk.
type Attempt struct {
	Provider string
	Err      error
}

// AllProvidersFailedError is returned by Execute when every provider in the
// chain failed. Attempts preserves the per-provider failure reasons in chain
// order.
type AllProvidersFailedError struct {
	Locale   string
	Attempts []Attempt
}

func (e *AllProvidersFailedError) Error() string {
	reasons := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		reasons = append(reasons, fmt.Sprintf("%s: %v", a.Provider, a.Err))
	}
	return fmt.Sprintf("all tts providers failed for locale %q: %s", e.Locale, strings.Join(reasons, "; "))
}

// CostClass orders providers by billing model. Free providers are always
// tried before paid ones.
type CostClass int

const (
	CostFree CostClass = iota
	CostPaid
)

func (c CostClass) String() string {
	if c == CostFree {
		return "free"
	}
	return "paid"
}

// HealthStatus classifies provider liveness. Transitions are idempotent:
// re-marking an already-degraded provider is a no-op at the data level.
type HealthStatus int32

const (
	HealthUnknown HealthStatus = iota
	HealthHealthy
	HealthDegraded
	HealthUnavailable
)

func (h HealthStatus) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthDegraded:
		return "degraded"
	case HealthUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Descriptor describes a provider's placement in fallback chains. Static
// fields are set at registration; health state is owned by the registry.
type Descriptor struct {
	Name        string    `json:"name"`
	Priority    int       `json:"priority"` // lower is tried first within a cost class
	Cost        CostClass `json:"cost"`
	Locales     []string  `json:"locales"` // BCP-47 prefixes, e.g. "ko", "en"
	NeedsAPIKey bool      `json:"needs_api_key"`
}

// SupportsLocale reports whether the descriptor covers the given locale by
// prefix match ("ko" covers "ko-KR").
func (d Descriptor) SupportsLocale(locale string) bool {
	for _, l := range d.Locales {
		if l == locale || strings.HasPrefix(locale, l+"-") || strings.HasPrefix(locale, l+"_") {
			return true
		}
	}
	return false
}

// SynthesizeRequest is immutable once submitted. One request yields exactly
// one logical response, possibly delivered as estimate then refinement.
type SynthesizeRequest struct {
	Text      string  `json:"text"`
	Locale    string  `json:"locale"`
	VoiceHint string  `json:"voice,omitempty"`
	Emotion   string  `json:"emotion,omitempty"`
	Speed     float64 `json:"speed,omitempty"`  // 0.5 to 2.0, 0 means default
	Pitch     float64 `json:"pitch,omitempty"`  // -1.0 to 1.0
	Volume    float64 `json:"volume,omitempty"` // 0 to 1, 0 means default
	SessionID string  `json:"session_id,omitempty"`

	// Deadline bounds the whole refine path for this request. Zero means the
	// orchestrator default applies.
	Deadline time.Time `json:"-"`
}

// SynthesizeResult is produced once per successful provider call.
type SynthesizeResult struct {
	Provider   string        `json:"provider"`
	Audio      []byte        `json:"audio"`
	Format     string        `json:"format"` // wav, mp3
	SampleRate int           `json:"sample_rate"`
	BitDepth   int           `json:"bit_depth"`
	Duration   time.Duration `json:"duration"`
}

// Provider is the uniform adapter contract around one synthesis backend.
// Implementations must be safe for concurrent use across unrelated requests.
type Provider interface {
	Name() string

	// Synthesize converts text to audio. It fails with ErrProviderUnavailable,
	// ErrProviderRateLimited or ErrProviderTimeout (possibly wrapped); any
	// other error is treated as unavailable by the orchestrator.
	Synthesize(ctx context.Context, req *SynthesizeRequest) (*SynthesizeResult, error)

	// HealthCheck probes the backend cheaply. Failures are logged and
	// reflected in registry state, never surfaced to request handling.
	HealthCheck(ctx context.Context) error

	// Descriptor returns the static chain-placement metadata.
	Descriptor() Descriptor
}
