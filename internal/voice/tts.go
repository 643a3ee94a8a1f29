package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const ttsTimeout = 12 * time.Second

// TTSClient synthesizes speech against an HTTP synthesis endpoint that
// accepts JSON and returns raw 16 kHz mono PCM.
type TTSClient struct {
	baseURL string
	voices  map[string]string
	http    *http.Client
}

// NewTTSClient creates a client. voices maps a persona label to its voice
// model name; unmapped personas fall back to the endpoint's default voice.
// httpClient may be nil.
func NewTTSClient(baseURL string, voices map[string]string, httpClient *http.Client) *TTSClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: ttsTimeout}
	}
	if voices == nil {
		voices = map[string]string{}
	}
	return &TTSClient{baseURL: baseURL, voices: voices, http: httpClient}
}

// Synthesize renders text in the persona's voice and returns PCM audio.
func (t *TTSClient) Synthesize(ctx context.Context, personaLabel, text string) ([]byte, error) {
	body, err := json.Marshal(map[string]string{
		"text":  text,
		"voice": t.voices[personaLabel],
	})
	if err != nil {
		return nil, fmt.Errorf("marshal tts request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/api/tts", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tts endpoint returned %d", resp.StatusCode)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read tts audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("tts endpoint returned empty audio")
	}
	return audio, nil
}
