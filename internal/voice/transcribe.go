// Package voice provides speech-to-text and text-to-speech clients for
// the phone channel.
package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/prospect-agent/prospect/internal/httpkit"
)

const openaiTranscriptionURL = "https://api.openai.com/v1/audio/transcriptions"

// Transcriber converts caller audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error)
	TranscribeURL(ctx context.Context, audioURL string) (string, error)
}

// WhisperClient transcribes audio with Whisper. With an API key it uses
// the hosted OpenAI endpoint; without one it posts to a self-hosted
// whisper service at URL.
type WhisperClient struct {
	apiKey     string
	url        string
	hostedURL  string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewWhisperClient creates a Whisper transcription client.
func NewWhisperClient(apiKey, url, model string, logger *slog.Logger) *WhisperClient {
	if logger == nil {
		logger = slog.Default()
	}
	if model == "" {
		model = "whisper-1"
	}
	return &WhisperClient{
		apiKey:    apiKey,
		url:       url,
		hostedURL: openaiTranscriptionURL,
		model:     model,
		logger:    logger.With("service", "whisper"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(60 * time.Second),
		),
	}
}

// Transcribe uploads the audio and returns the recognized text.
func (c *WhisperClient) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	if c.apiKey != "" {
		return c.transcribeHosted(ctx, audio, filename)
	}
	return c.transcribeLocal(ctx, audio)
}

// TranscribeURL fetches recorded audio (e.g. a call recording URL from
// the telephony provider) and transcribes it.
func (c *WhisperClient) TranscribeURL(ctx context.Context, audioURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", audioURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch audio: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		c.logger.Error("audio fetch error", "status", resp.StatusCode, "url", audioURL)
		return "", fmt.Errorf("fetch audio %d: %s", resp.StatusCode, errBody)
	}

	filename := "audio.wav"
	if u, err := url.Parse(audioURL); err == nil {
		if base := path.Base(u.Path); base != "." && base != "/" {
			filename = base
		}
	}

	return c.Transcribe(ctx, resp.Body, filename)
}

func (c *WhisperClient) transcribeHosted(ctx context.Context, audio io.Reader, filename string) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return "", fmt.Errorf("copy audio: %w", err)
	}
	if err := w.WriteField("model", c.model); err != nil {
		return "", fmt.Errorf("write model field: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.hostedURL, &buf)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		c.logger.Error("transcription error", "status", resp.StatusCode, "body", errBody)
		return "", fmt.Errorf("whisper API error %d: %s", resp.StatusCode, errBody)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	c.logger.Debug("transcribed audio", "endpoint", "hosted", "text_len", len(result.Text))
	return result.Text, nil
}

func (c *WhisperClient) transcribeLocal(ctx context.Context, audio io.Reader) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", c.url, audio)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		c.logger.Error("transcription error", "status", resp.StatusCode, "body", errBody)
		return "", fmt.Errorf("whisper service error %d: %s", resp.StatusCode, errBody)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	c.logger.Debug("transcribed audio", "endpoint", "local", "text_len", len(result.Text))
	return result.Text, nil
}
