package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// MeloProvider talks to a self-hosted MeloTTS voice service over HTTP. It is
// the free tier of the fallback chain: no credential, runs on the local
// network, returns complete 16 kHz WAV clips.
type MeloProvider struct {
	config     *MeloConfig
	httpClient *http.Client
	logger     zerolog.Logger
}

// MeloConfig holds configuration for the Melo provider
type MeloConfig struct {
	ServiceURL   string  `json:"service_url"`   // e.g., "http://localhost:8899"
	Timeout      int     `json:"timeout_sec"`   // HTTP timeout in seconds
	DefaultSpeed float64 `json:"default_speed"` // Speech speed (0.5-2.0)
	Priority     int     `json:"priority"`
}

// DefaultMeloConfig returns sensible defaults
func DefaultMeloConfig() *MeloConfig {
	return &MeloConfig{
		ServiceURL:   "http://localhost:8899",
		Timeout:      30,
		DefaultSpeed: 1.0,
		Priority:     0,
	}
}

// NewMeloProvider creates a new Melo TTS provider
func NewMeloProvider(config *MeloConfig, logger zerolog.Logger) *MeloProvider {
	if config == nil {
		config = DefaultMeloConfig()
	}

	return &MeloProvider{
		config: config,
		httpClient: &http.Client{
			Timeout: time.Duration(config.Timeout) * time.Second,
		},
		logger: logger.With().Str("provider", "melo").Logger(),
	}
}

func (p *MeloProvider) Name() string {
	return "melo"
}

// Descriptor returns the static chain-placement metadata.
func (p *MeloProvider) Descriptor() Descriptor {
	return Descriptor{
		Name:        "melo",
		Priority:    p.config.Priority,
		Cost:        CostFree,
		Locales:     []string{"ko", "en", "ja", "zh", "es", "fr"},
		NeedsAPIKey: false,
	}
}

// meloLanguages maps locale prefixes to MeloTTS language codes.
var meloLanguages = map[string]string{
	"ko": "KR", "en": "EN", "ja": "JP", "zh": "ZH", "es": "ES", "fr": "FR",
}

// Synthesize converts text to audio using the Melo voice service.
func (p *MeloProvider) Synthesize(ctx context.Context, req *SynthesizeRequest) (*SynthesizeResult, error) {
	startTime := time.Now()

	language := p.mapLocale(req.Locale)

	speed := req.Speed
	if speed == 0 {
		speed = p.config.DefaultSpeed
	}

	payload := map[string]interface{}{
		"text":     req.Text,
		"language": language,
		"speed":    speed,
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/tts", p.config.ServiceURL)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(payloadBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	p.logger.Debug().
		Str("url", url).
		Str("language", language).
		Float64("speed", speed).
		Int("textLen", len(req.Text)).
		Msg("Sending TTS request to Melo service")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, classifyStatusError(resp.StatusCode, bodyBytes)
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read audio data: %w", err)
	}

	processingTime := time.Since(startTime)

	p.logger.Info().
		Int("audioBytes", len(audioData)).
		Dur("processingTime", processingTime).
		Msg("Melo synthesis complete")

	return &SynthesizeResult{
		Provider:   p.Name(),
		Audio:      audioData,
		Format:     "wav",
		SampleRate: 16000, // MeloTTS outputs 16kHz
		BitDepth:   16,
	}, nil
}

// HealthCheck probes the service's /health endpoint.
func (p *MeloProvider) HealthCheck(ctx context.Context) error {
	url := fmt.Sprintf("%s/health", p.config.ServiceURL)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return fmt.Errorf("create health check request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: melo service unreachable: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: melo service unhealthy (status %d)", ErrProviderUnavailable, resp.StatusCode)
	}

	return nil
}

// mapLocale maps a request locale to a MeloTTS language code, defaulting to
// Korean since that is the app's primary audience.
func (p *MeloProvider) mapLocale(locale string) string {
	for prefix, code := range meloLanguages {
		if locale == prefix || (len(locale) > len(prefix) && locale[:len(prefix)] == prefix) {
			return code
		}
	}
	return "KR"
}

// classifyTransportError maps an http.Client error onto the provider error
// taxonomy. Context deadline hits become ErrProviderTimeout so the
// orchestrator advances the chain instead of surfacing a transport detail.
func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrProviderTimeout, err)
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrProviderTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
}

// classifyStatusError maps a non-200 HTTP status onto the taxonomy.
func classifyStatusError(status int, body []byte) error {
	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d: %s", ErrProviderRateLimited, status, truncateBody(body))
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return fmt.Errorf("%w: status %d: %s", ErrProviderTimeout, status, truncateBody(body))
	default:
		return fmt.Errorf("%w: status %d: %s", ErrProviderUnavailable, status, truncateBody(body))
	}
}

func truncateBody(body []byte) string {
	const maxLen = 200
	if len(body) <= maxLen {
		return string(body)
	}
	return string(body[:maxLen]) + "..."
}
