package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prospect-agent/prospect/internal/config"
	"github.com/prospect-agent/prospect/internal/httpkit"
	"github.com/prospect-agent/prospect/internal/store"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIClient is a client for the OpenAI Chat Completions API.
type OpenAIClient struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOpenAIClient creates a new OpenAI client. baseURL may be empty for
// the public API, or point at a compatible local endpoint.
func NewOpenAIClient(apiKey, model, baseURL string, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	// Report generation can take a while before headers arrive; give
	// the transport a generous response header timeout and lean on ctx
	// deadlines for overall control.
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 120 * time.Second

	return &OpenAIClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.With("provider", "openai"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(0),
			httpkit.WithTransport(t),
		),
	}
}

// OpenAI request/response types

type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	Temperature float64         `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      openaiMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Converse sends the conversation and returns the assistant reply plus
// any project-field delta carried in a trailing fenced JSON block.
func (c *OpenAIClient) Converse(ctx context.Context, messages []Message) (*ConverseResult, error) {
	wire := make([]openaiMessage, len(messages))
	for i, m := range messages {
		wire[i] = openaiMessage{Role: m.Role, Content: m.Content}
	}

	resp, err := c.complete(ctx, openaiRequest{
		Model:       c.model,
		Messages:    wire,
		Temperature: 0.7,
		MaxTokens:   1024,
	})
	if err != nil {
		return nil, err
	}

	text, delta := splitDetailsDelta(resp.Choices[0].Message.Content)
	result := &ConverseResult{
		Text:         text,
		Delta:        delta,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}

	c.logger.Debug("converse response",
		"model", resp.Model,
		"input_tokens", result.InputTokens,
		"output_tokens", result.OutputTokens,
		"has_delta", delta != nil,
	)
	c.logger.Log(ctx, config.LevelTrace, "response content", "content", resp.Choices[0].Message.Content)

	return result, nil
}

// GenerateReport sends a single report prompt and returns the raw text.
func (c *OpenAIClient) GenerateReport(ctx context.Context, prompt string) (string, error) {
	resp, err := c.complete(ctx, openaiRequest{
		Model:       c.model,
		Messages:    []openaiMessage{{Role: "user", Content: prompt}},
		Temperature: 0.5,
		MaxTokens:   2048,
	})
	if err != nil {
		return "", err
	}

	text := resp.Choices[0].Message.Content
	c.logger.Debug("report response",
		"model", resp.Model,
		"input_tokens", resp.Usage.PromptTokens,
		"output_tokens", resp.Usage.CompletionTokens,
		"content_len", len(text),
	)
	return text, nil
}

// Ping verifies the endpoint is reachable and the key works with a
// minimal one-token request.
func (c *OpenAIClient) Ping(ctx context.Context) error {
	_, err := c.complete(ctx, openaiRequest{
		Model:     c.model,
		Messages:  []openaiMessage{{Role: "user", Content: "ping"}},
		MaxTokens: 1,
	})
	return err
}

func (c *OpenAIClient) complete(ctx context.Context, req openaiRequest) (*openaiResponse, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	c.logger.Log(ctx, config.LevelTrace, "request payload", "json", string(jsonData))

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("invalid API key")
	}
	if httpResp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(httpResp.Body, 4096)
		c.logger.Error("API error", "status", httpResp.StatusCode, "body", errBody)
		return nil, fmt.Errorf("openai API error %d: %s", httpResp.StatusCode, errBody)
	}

	var resp openaiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty response: no choices")
	}
	return &resp, nil
}

// splitDetailsDelta separates the user-facing reply from the trailing
// fenced JSON block the model appends when it learned new project
// fields. A missing or malformed block means no delta; the reply text
// is returned as-is with the block removed either way.
func splitDetailsDelta(content string) (string, *store.ProjectDetails) {
	idx := strings.LastIndex(content, "```json")
	if idx == -1 {
		return strings.TrimSpace(content), nil
	}

	block := content[idx+len("```json"):]
	end := strings.Index(block, "```")
	if end == -1 {
		return strings.TrimSpace(content), nil
	}

	text := strings.TrimSpace(content[:idx])

	var delta store.ProjectDetails
	if err := json.Unmarshal([]byte(strings.TrimSpace(block[:end])), &delta); err != nil {
		return text, nil
	}
	if delta == (store.ProjectDetails{}) {
		return text, nil
	}
	return text, &delta
}
