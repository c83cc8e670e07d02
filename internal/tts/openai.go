package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// OpenAI TTS voices - all very natural sounding
const (
	VoiceAlloy   = "alloy"   // Neutral, balanced
	VoiceEcho    = "echo"    // Male, warm
	VoiceNova    = "nova"    // Female, warm and natural (recommended)
	VoiceShimmer = "shimmer" // Female, clear and bright
)

// OpenAIProvider implements TTS using OpenAI's TTS API. Paid tier; requires
// OPENAI_API_KEY or an explicit key in config.
type OpenAIProvider struct {
	apiKey string
	client *http.Client
	logger zerolog.Logger
	config *OpenAIConfig
}

// OpenAIConfig holds OpenAI TTS configuration
type OpenAIConfig struct {
	APIKey       string        `json:"api_key"`
	Model        string        `json:"model"`         // tts-1 or tts-1-hd
	DefaultVoice string        `json:"default_voice"` // alloy, echo, nova, shimmer
	Speed        float64       `json:"speed"`         // 0.25 to 4.0
	Timeout      time.Duration `json:"timeout"`
	Priority     int           `json:"priority"`
}

// DefaultOpenAIConfig returns sensible defaults
func DefaultOpenAIConfig() *OpenAIConfig {
	return &OpenAIConfig{
		Model:        "tts-1", // Fast, good quality
		DefaultVoice: VoiceNova,
		Speed:        1.0,
		Timeout:      30 * time.Second,
		Priority:     0,
	}
}

// NewOpenAIProvider creates a new OpenAI TTS provider
func NewOpenAIProvider(config *OpenAIConfig, logger zerolog.Logger) *OpenAIProvider {
	if config == nil {
		config = DefaultOpenAIConfig()
	}
	if config.Model == "" {
		config.Model = "tts-1"
	}
	if config.DefaultVoice == "" {
		config.DefaultVoice = VoiceNova
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}

	return &OpenAIProvider{
		apiKey: apiKey,
		client: &http.Client{Timeout: config.Timeout},
		logger: logger.With().Str("provider", "openai").Logger(),
		config: config,
	}
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Descriptor returns the static chain-placement metadata.
func (p *OpenAIProvider) Descriptor() Descriptor {
	return Descriptor{
		Name:        "openai",
		Priority:    p.config.Priority,
		Cost:        CostPaid,
		Locales:     []string{"ko", "en", "ja", "zh", "es", "fr", "de", "pt"},
		NeedsAPIKey: true,
	}
}

// HasCredential reports whether an API key is configured. Credential-less
// adapters are never placed in an active fallback chain.
func (p *OpenAIProvider) HasCredential() bool {
	return p.apiKey != ""
}

// openAITTSRequest is the request format for OpenAI TTS API
type openAITTSRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format,omitempty"`
	Speed          float64 `json:"speed,omitempty"`
}

// Synthesize converts text to audio using OpenAI TTS
func (p *OpenAIProvider) Synthesize(ctx context.Context, req *SynthesizeRequest) (*SynthesizeResult, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("%w: OpenAI API key not configured", ErrProviderUnavailable)
	}

	startTime := time.Now()

	voice := req.VoiceHint
	switch voice {
	case VoiceAlloy, VoiceEcho, VoiceNova, VoiceShimmer:
	default:
		voice = p.config.DefaultVoice
	}

	speed := req.Speed
	if speed == 0 {
		speed = p.config.Speed
	}

	ttsReq := openAITTSRequest{
		Model:          p.config.Model,
		Input:          req.Text,
		Voice:          voice,
		ResponseFormat: "mp3", // MP3 is efficient and widely supported
		Speed:          speed,
	}

	body, err := json.Marshal(ttsReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", "https://api.openai.com/v1/audio/speech", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	p.logger.Debug().
		Str("voice", voice).
		Str("model", p.config.Model).
		Int("textLen", len(req.Text)).
		Msg("Sending TTS request to OpenAI")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		p.logger.Error().
			Int("status", resp.StatusCode).
			Str("body", truncateBody(bodyBytes)).
			Msg("OpenAI TTS request failed")
		return nil, classifyStatusError(resp.StatusCode, bodyBytes)
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	p.logger.Info().
		Str("voice", voice).
		Int("audioBytes", len(audioData)).
		Dur("processingTime", time.Since(startTime)).
		Msg("OpenAI TTS synthesis complete")

	return &SynthesizeResult{
		Provider:   p.Name(),
		Audio:      audioData,
		Format:     "mp3",
		SampleRate: 24000, // OpenAI TTS uses 24kHz
	}, nil
}

// HealthCheck verifies an API key is present. The paid API has no free probe
// endpoint, so this does not hit the network.
func (p *OpenAIProvider) HealthCheck(ctx context.Context) error {
	if p.apiKey == "" {
		return ErrProviderUnavailable
	}
	return nil
}
