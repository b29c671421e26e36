// Package llm provides language model clients for conversation turns
// and report generation.
package llm

import "github.com/prospect-agent/prospect/internal/store"

// Message is a single turn in provider wire format order.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ConverseResult is the model's reply to one conversation turn. Delta
// carries any newly learned project fields the model reported alongside
// its reply; nil means the turn taught us nothing new.
type ConverseResult struct {
	Text  string
	Delta *store.ProjectDetails

	InputTokens  int
	OutputTokens int
}
