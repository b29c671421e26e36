package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func completionBody(content string) string {
	resp := map[string]any{
		"id":    "chatcmpl-test",
		"model": "gpt-4",
		"choices": []map[string]any{
			{"message": map[string]any{"role": "assistant", "content": content}, "finish_reason": "stop"},
		},
		"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 20},
	}
	b, _ := json.Marshal(resp)
	return string(b)
}

func TestConverseParsesDelta(t *testing.T) {
	content := "Great, a booking app! What features do you need?\n\n" +
		"```json\n{\"big_idea\": \"a booking app for barbers\"}\n```"

	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(completionBody(content)))
	}))
	defer srv.Close()

	c := NewOpenAIClient("sk-test", "gpt-4", srv.URL, nil)
	result, err := c.Converse(context.Background(), []Message{{Role: "user", Content: "I want a booking app for barbers"}})
	if err != nil {
		t.Fatalf("Converse: %v", err)
	}

	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if result.Text != "Great, a booking app! What features do you need?" {
		t.Errorf("Text = %q; fenced block not stripped", result.Text)
	}
	if result.Delta == nil {
		t.Fatal("Delta = nil, want parsed fields")
	}
	if result.Delta.BigIdea != "a booking app for barbers" {
		t.Errorf("Delta.BigIdea = %q", result.Delta.BigIdea)
	}
	if result.InputTokens != 10 || result.OutputTokens != 20 {
		t.Errorf("tokens = %d/%d, want 10/20", result.InputTokens, result.OutputTokens)
	}
}

func TestConverseNoDelta(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(completionBody("Could you tell me more about your idea?")))
	}))
	defer srv.Close()

	c := NewOpenAIClient("sk-test", "gpt-4", srv.URL, nil)
	result, err := c.Converse(context.Background(), []Message{{Role: "user", Content: "hmm"}})
	if err != nil {
		t.Fatalf("Converse: %v", err)
	}
	if result.Delta != nil {
		t.Errorf("Delta = %+v, want nil", result.Delta)
	}
	if result.Text != "Could you tell me more about your idea?" {
		t.Errorf("Text = %q", result.Text)
	}
}

func TestConverseAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"message": "rate limited"}}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient("sk-test", "gpt-4", srv.URL, nil)
	if _, err := c.Converse(context.Background(), []Message{{Role: "user", Content: "hi"}}); err == nil {
		t.Fatal("expected error for non-200 status")
	}
}

func TestGenerateReport(t *testing.T) {
	var gotPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []openaiMessage `json:"messages"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Messages) == 1 {
			gotPrompt = req.Messages[0].Content
		}
		w.Write([]byte(completionBody("**Summary**\nA fine project.")))
	}))
	defer srv.Close()

	c := NewOpenAIClient("sk-test", "gpt-4", srv.URL, nil)
	text, err := c.GenerateReport(context.Background(), "write the report")
	if err != nil {
		t.Fatalf("GenerateReport: %v", err)
	}
	if gotPrompt != "write the report" {
		t.Errorf("prompt = %q", gotPrompt)
	}
	if text != "**Summary**\nA fine project." {
		t.Errorf("text = %q", text)
	}
}

func TestSplitDetailsDelta(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantText string
		wantNil  bool
	}{
		{
			name:     "no block",
			content:  "plain reply",
			wantText: "plain reply",
			wantNil:  true,
		},
		{
			name:     "malformed json",
			content:  "reply\n```json\n{nope\n```",
			wantText: "reply",
			wantNil:  true,
		},
		{
			name:     "empty object",
			content:  "reply\n```json\n{}\n```",
			wantText: "reply",
			wantNil:  true,
		},
		{
			name:     "unterminated fence",
			content:  "reply\n```json\n{\"budget\": \"$5k\"}",
			wantText: "reply\n```json\n{\"budget\": \"$5k\"}",
			wantNil:  true,
		},
		{
			name:     "valid delta",
			content:  "reply\n```json\n{\"budget\": \"$5k\"}\n```",
			wantText: "reply",
			wantNil:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, delta := splitDetailsDelta(tt.content)
			if text != tt.wantText {
				t.Errorf("text = %q, want %q", text, tt.wantText)
			}
			if (delta == nil) != tt.wantNil {
				t.Errorf("delta = %+v, wantNil=%v", delta, tt.wantNil)
			}
		})
	}
}
