// Package provider exposes the heterogeneous LLM extraction backends through
// one polymorphic capability interface. Selection of primary/fallback models
// is table-driven configuration, not a type hierarchy.
package provider

import "context"

// InferRequest is one extraction inference call. Document context is carried
// inline; providers that support reference upload receive DocumentRef
// instead.
type InferRequest struct {
	Model       string
	System      string
	Prompt      string
	DocumentRef string
	MaxTokens   int
}

// InferResponse is the raw provider output. Parsing into the attribute
// schema happens in the extraction engine.
type InferResponse struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Provider is the uniform capability over one extraction backend.
type Provider interface {
	// Name returns the logical provider name ("gemini", "openai", "claude").
	Name() string

	// Infer issues a single inference request. Implementations must return
	// a *resilience.AuthError on authentication failure and wrap rate-limit
	// and 5xx responses in *resilience.TransientError so the adapter can
	// retry them.
	Infer(ctx context.Context, req InferRequest) (*InferResponse, error)
}
