package voice

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prospect-agent/prospect/internal/httpkit"
)

// Synthesizer converts agent text into audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
	EstimateDuration(text string) time.Duration
}

// CoquiClient synthesizes speech via a self-hosted Coqui TTS server.
type CoquiClient struct {
	url        string
	voice      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewCoquiClient creates a TTS client for the server at rawURL. voice
// may be empty for the server default.
func NewCoquiClient(rawURL, voice string, logger *slog.Logger) *CoquiClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &CoquiClient{
		url:    rawURL,
		voice:  voice,
		logger: logger.With("service", "coqui"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(30 * time.Second),
		),
	}
}

// Synthesize returns WAV audio for the text.
func (c *CoquiClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	q := url.Values{}
	q.Set("text", text)
	if c.voice != "" {
		q.Set("speaker_id", c.voice)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", c.url+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		c.logger.Error("synthesis error", "status", resp.StatusCode, "body", errBody)
		return nil, fmt.Errorf("tts service error %d: %s", resp.StatusCode, errBody)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}

	c.logger.Debug("synthesized speech", "text_len", len(text), "audio_bytes", len(audio))
	return audio, nil
}

// EstimateDuration approximates playback time at a conversational 150
// words per minute, for callers that need a timeout before the audio
// exists.
func (c *CoquiClient) EstimateDuration(text string) time.Duration {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	return time.Duration(float64(words)/150*60) * time.Second
}
