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

const (
	ElevenLabsAPIEndpoint  = "https://api.elevenlabs.io/v1"
	ElevenLabsDefaultVoice = "21m00Tcm4TlvDq8ikWAM" // Rachel - calm, natural female
)

// ElevenLabsProvider implements TTS using the ElevenLabs API. Paid tier;
// requires ELEVENLABS_API_KEY or an explicit key in config.
type ElevenLabsProvider struct {
	apiKey string
	logger zerolog.Logger
	config *ElevenLabsConfig
	client *http.Client
}

type ElevenLabsConfig struct {
	APIKey       string  `json:"api_key"`
	DefaultVoice string  `json:"default_voice"`
	ModelID      string  `json:"model_id"`
	Stability    float64 `json:"stability"`
	Similarity   float64 `json:"similarity_boost"`
	Priority     int     `json:"priority"`
}

func DefaultElevenLabsConfig() *ElevenLabsConfig {
	return &ElevenLabsConfig{
		DefaultVoice: ElevenLabsDefaultVoice,
		ModelID:      "eleven_multilingual_v2",
		Stability:    0.5,
		Similarity:   0.75,
		Priority:     1,
	}
}

func NewElevenLabsProvider(config *ElevenLabsConfig, logger zerolog.Logger) *ElevenLabsProvider {
	if config == nil {
		config = DefaultElevenLabsConfig()
	}
	if config.DefaultVoice == "" {
		config.DefaultVoice = ElevenLabsDefaultVoice
	}
	if config.ModelID == "" {
		config.ModelID = "eleven_multilingual_v2"
	}

	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ELEVENLABS_API_KEY")
	}

	return &ElevenLabsProvider{
		apiKey: apiKey,
		logger: logger.With().Str("provider", "elevenlabs").Logger(),
		config: config,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *ElevenLabsProvider) Name() string {
	return "elevenlabs"
}

// Descriptor returns the static chain-placement metadata.
func (p *ElevenLabsProvider) Descriptor() Descriptor {
	return Descriptor{
		Name:        "elevenlabs",
		Priority:    p.config.Priority,
		Cost:        CostPaid,
		Locales:     []string{"ko", "en", "ja", "zh", "es", "fr", "de", "pt", "hi", "pl", "it"},
		NeedsAPIKey: true,
	}
}

// HasCredential reports whether an API key is configured.
func (p *ElevenLabsProvider) HasCredential() bool {
	return p.apiKey != ""
}

func (p *ElevenLabsProvider) Synthesize(ctx context.Context, req *SynthesizeRequest) (*SynthesizeResult, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("%w: ElevenLabs API key not set", ErrProviderUnavailable)
	}

	startTime := time.Now()

	voiceID := req.VoiceHint
	if voiceID == "" {
		voiceID = p.config.DefaultVoice
	}

	payload := map[string]any{
		"text":     req.Text,
		"model_id": p.config.ModelID,
		"voice_settings": map[string]float64{
			"stability":        p.config.Stability,
			"similarity_boost": p.config.Similarity,
		},
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/text-to-speech/%s", ElevenLabsAPIEndpoint, voiceID)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("xi-api-key", p.apiKey)
	httpReq.Header.Set("Accept", "audio/mpeg")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, classifyStatusError(resp.StatusCode, body)
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}

	p.logger.Info().
		Str("voice", voiceID).
		Int("audioBytes", len(audioData)).
		Dur("processingTime", time.Since(startTime)).
		Msg("ElevenLabs TTS synthesis complete")

	return &SynthesizeResult{
		Provider:   p.Name(),
		Audio:      audioData,
		Format:     "mp3",
		SampleRate: 22050,
	}, nil
}

// HealthCheck verifies an API key is present without spending quota.
func (p *ElevenLabsProvider) HealthCheck(ctx context.Context) error {
	if p.apiKey == "" {
		return ErrProviderUnavailable
	}
	return nil
}
