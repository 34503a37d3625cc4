// Package llm provides interfaces and implementations for text-generation
// model clients. The retrieval pipeline uses them for four narrow jobs:
// follow-up classification, standalone rewriting, grounded answer
// generation, and answer verification.
package llm

import "context"

// GenerateOptions configures a generation request.
type GenerateOptions struct {
	// Model specifies the model to use; empty means the client default.
	Model string

	// SystemPrompt sets the system-level instructions for the model.
	SystemPrompt string

	// Temperature controls randomness (0.0 = deterministic).
	Temperature float32

	// MaxTokens limits the response length (0 = provider default).
	MaxTokens int
}

// LLM defines the interface for text-generation clients.
type LLM interface {
	// Generate sends a prompt and returns the complete response text.
	// It blocks until the full response is received or an error occurs.
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}
