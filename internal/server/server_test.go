package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sajubora/saju-avatar/internal/delivery"
	"github.com/sajubora/saju-avatar/internal/lipsync"
	"github.com/sajubora/saju-avatar/internal/phoneme"
	"github.com/sajubora/saju-avatar/internal/synth"
	"github.com/sajubora/saju-avatar/internal/tts"
)

// newTestStack builds a server backed by a fake Melo voice service.
func newTestStack(t *testing.T) (*httptest.Server, *tts.Registry) {
	t.Helper()

	voice := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/tts":
			w.WriteHeader(http.StatusOK)
			w.Write(lipsync.PlaceholderTone(300*time.Millisecond, 16000, 220))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(voice.Close)

	registry := tts.NewRegistry(nil, zerolog.Nop())
	registry.Register(tts.NewMeloProvider(&tts.MeloConfig{
		ServiceURL:   voice.URL,
		Timeout:      5,
		DefaultSpeed: 1.0,
	}, zerolog.Nop()))

	coordinator := synth.NewCoordinator(nil, phoneme.New(nil), registry,
		lipsync.NewAmplitudeAnalyzer(nil, zerolog.Nop()), lipsync.NewMapper(nil), zerolog.Nop())
	t.Cleanup(coordinator.Close)

	hub := delivery.NewHub(zerolog.Nop())
	srv := New(nil, coordinator, registry, hub, zerolog.Nop())

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts, registry
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) delivery.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg delivery.Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestServer_SpeakDeliversEstimateThenRefined(t *testing.T) {
	ts, _ := newTestStack(t)
	conn := dialWS(t, ts)

	err := conn.WriteJSON(SpeakRequest{Text: "안녕", Locale: "ko-KR"})
	require.NoError(t, err)

	estimate := readMessage(t, conn)
	assert.Equal(t, delivery.KindEstimate, estimate.Kind)
	assert.NotEmpty(t, estimate.RequestID)
	assert.NotEmpty(t, estimate.Frames)

	refined := readMessage(t, conn)
	assert.Equal(t, delivery.KindRefined, refined.Kind)
	assert.Equal(t, estimate.RequestID, refined.RequestID)
	assert.Equal(t, "wav", refined.AudioFormat)
	assert.NotEmpty(t, refined.Audio)
}

func TestServer_RejectsEmptyText(t *testing.T) {
	ts, _ := newTestStack(t)
	conn := dialWS(t, ts)

	require.NoError(t, conn.WriteJSON(SpeakRequest{Text: "   ", Locale: "ko"}))

	msg := readMessage(t, conn)
	assert.Equal(t, delivery.KindRejected, msg.Kind)
	assert.Contains(t, msg.Reason, "text is required")
}

func TestServer_RejectsUnsupportedLocale(t *testing.T) {
	ts, _ := newTestStack(t)
	conn := dialWS(t, ts)

	require.NoError(t, conn.WriteJSON(SpeakRequest{Text: "hallo", Locale: "de-DE"}))

	msg := readMessage(t, conn)
	assert.Equal(t, delivery.KindRejected, msg.Kind)
	assert.Contains(t, msg.Reason, "no tts provider available")
}

func TestServer_RejectsMalformedPayload(t *testing.T) {
	ts, _ := newTestStack(t)
	conn := dialWS(t, ts)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))

	msg := readMessage(t, conn)
	assert.Equal(t, delivery.KindRejected, msg.Kind)
}

func TestServer_Healthz(t *testing.T) {
	ts, _ := newTestStack(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body struct {
		Status    string `json:"status"`
		Sessions  int    `json:"sessions"`
		Providers []struct {
			Status string `json:"status"`
		} `json:"providers"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

	assert.Equal(t, "ok", body.Status)
	require.Len(t, body.Providers, 1)
}
