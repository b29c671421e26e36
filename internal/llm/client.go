package llm

import "context"

// Client is the provider-agnostic model interface.
type Client interface {
	// Converse sends the conversation so far and returns the
	// assistant's next reply plus any project-field delta it reported.
	Converse(ctx context.Context, messages []Message) (*ConverseResult, error)

	// GenerateReport sends a single report prompt and returns the raw
	// narrative text for the compiler to parse.
	GenerateReport(ctx context.Context, prompt string) (string, error)

	// Ping checks that the provider is reachable and the key works.
	Ping(ctx context.Context) error
}
