package tts

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMeloProvider(t *testing.T) {
	logger := zerolog.Nop()

	t.Run("with default config", func(t *testing.T) {
		provider := NewMeloProvider(nil, logger)

		assert.NotNil(t, provider)
		assert.Equal(t, "http://localhost:8899", provider.config.ServiceURL)
		assert.Equal(t, 30, provider.config.Timeout)
		assert.Equal(t, 1.0, provider.config.DefaultSpeed)
	})

	t.Run("with custom config", func(t *testing.T) {
		config := &MeloConfig{
			ServiceURL:   "http://custom:9000",
			Timeout:      60,
			DefaultSpeed: 1.5,
		}
		provider := NewMeloProvider(config, logger)

		assert.NotNil(t, provider)
		assert.Equal(t, "http://custom:9000", provider.config.ServiceURL)
		assert.Equal(t, 60, provider.config.Timeout)
		assert.Equal(t, 1.5, provider.config.DefaultSpeed)
	})
}

func TestMeloProvider_Descriptor(t *testing.T) {
	provider := NewMeloProvider(nil, zerolog.Nop())

	desc := provider.Descriptor()

	assert.Equal(t, "melo", desc.Name)
	assert.Equal(t, CostFree, desc.Cost)
	assert.False(t, desc.NeedsAPIKey)
	assert.True(t, desc.SupportsLocale("ko-KR"))
	assert.True(t, desc.SupportsLocale("en"))
	assert.False(t, desc.SupportsLocale("de-DE"))
}

func TestMeloProvider_Synthesize(t *testing.T) {
	tests := []struct {
		name           string
		request        *SynthesizeRequest
		responseStatus int
		responseBody   []byte
		wantErr        error
	}{
		{
			name: "successful synthesis",
			request: &SynthesizeRequest{
				Text:   "안녕하세요",
				Locale: "ko-KR",
				Speed:  1.0,
			},
			responseStatus: http.StatusOK,
			responseBody:   []byte("fake wav audio data"),
		},
		{
			name: "default speed applied",
			request: &SynthesizeRequest{
				Text:   "hello",
				Locale: "en",
				Speed:  0,
			},
			responseStatus: http.StatusOK,
			responseBody:   []byte("fake wav audio data"),
		},
		{
			name: "rate limited",
			request: &SynthesizeRequest{
				Text:   "test",
				Locale: "ko",
			},
			responseStatus: http.StatusTooManyRequests,
			responseBody:   []byte(`{"error":"slow down"}`),
			wantErr:        ErrProviderRateLimited,
		},
		{
			name: "gateway timeout",
			request: &SynthesizeRequest{
				Text:   "test",
				Locale: "ko",
			},
			responseStatus: http.StatusGatewayTimeout,
			responseBody:   []byte(`{"error":"upstream timeout"}`),
			wantErr:        ErrProviderTimeout,
		},
		{
			name: "service error",
			request: &SynthesizeRequest{
				Text:   "test",
				Locale: "ko",
			},
			responseStatus: http.StatusInternalServerError,
			responseBody:   []byte(`{"error":"synthesis failed"}`),
			wantErr:        ErrProviderUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/tts", r.URL.Path)
				assert.Equal(t, "POST", r.Method)
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

				bodyBytes, err := io.ReadAll(r.Body)
				require.NoError(t, err)

				var req map[string]interface{}
				err = json.Unmarshal(bodyBytes, &req)
				require.NoError(t, err)

				assert.Equal(t, tt.request.Text, req["text"])
				assert.NotEmpty(t, req["language"])

				w.WriteHeader(tt.responseStatus)
				w.Write(tt.responseBody)
			}))
			defer server.Close()

			config := &MeloConfig{
				ServiceURL:   server.URL,
				Timeout:      5,
				DefaultSpeed: 1.0,
			}
			provider := NewMeloProvider(config, zerolog.Nop())

			result, err := provider.Synthesize(context.Background(), tt.request)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, result)
			} else {
				require.NoError(t, err)
				require.NotNil(t, result)
				assert.Equal(t, tt.responseBody, result.Audio)
				assert.Equal(t, "melo", result.Provider)
				assert.Equal(t, "wav", result.Format)
				assert.Equal(t, 16000, result.SampleRate)
			}
		})
	}
}

func TestMeloProvider_Synthesize_ContextTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("audio data"))
	}))
	defer server.Close()

	config := &MeloConfig{
		ServiceURL:   server.URL,
		Timeout:      5,
		DefaultSpeed: 1.0,
	}
	provider := NewMeloProvider(config, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	result, err := provider.Synthesize(ctx, &SynthesizeRequest{Text: "hello", Locale: "en"})

	assert.ErrorIs(t, err, ErrProviderTimeout)
	assert.Nil(t, result)
}

func TestMeloProvider_HealthCheck(t *testing.T) {
	tests := []struct {
		name           string
		responseStatus int
		wantErr        bool
	}{
		{
			name:           "service healthy",
			responseStatus: http.StatusOK,
			wantErr:        false,
		},
		{
			name:           "service unavailable",
			responseStatus: http.StatusServiceUnavailable,
			wantErr:        true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/health", r.URL.Path)
				w.WriteHeader(tt.responseStatus)
			}))
			defer server.Close()

			provider := NewMeloProvider(&MeloConfig{ServiceURL: server.URL, Timeout: 5}, zerolog.Nop())

			err := provider.HealthCheck(context.Background())

			if tt.wantErr {
				assert.ErrorIs(t, err, ErrProviderUnavailable)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMeloProvider_LocaleMapping(t *testing.T) {
	provider := NewMeloProvider(nil, zerolog.Nop())

	tests := []struct {
		locale   string
		expected string
	}{
		{"ko", "KR"},
		{"ko-KR", "KR"},
		{"en-US", "EN"},
		{"ja", "JP"},
		{"zh-CN", "ZH"},
		{"unknown", "KR"},
	}

	for _, tt := range tests {
		t.Run(tt.locale, func(t *testing.T) {
			assert.Equal(t, tt.expected, provider.mapLocale(tt.locale))
		})
	}
}
