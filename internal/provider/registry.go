package provider

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/terms-cli/internal/config"
	"github.com/sells-group/terms-cli/internal/cost"
	"github.com/sells-group/terms-cli/internal/resilience"
)

// Registry builds retrying adapters for the configured logical providers.
// All adapters report token usage into one shared tracker.
type Registry struct {
	specs map[string]spec
	retry resilience.RetryConfig
	usage *cost.Tracker
}

type spec struct {
	cfg   config.ProviderConfig
	build func(cfg config.ProviderConfig) Provider
}

// NewRegistry creates a registry over the three logical providers.
func NewRegistry(cfg *config.Config) *Registry {
	return &Registry{
		retry: resilience.DefaultRetryConfig(),
		usage: cost.NewTracker(),
		specs: map[string]spec{
			"gemini": {
				cfg: cfg.Gemini,
				build: func(c config.ProviderConfig) Provider {
					opts := []GeminiOption{}
					if c.BaseURL != "" {
						opts = append(opts, WithGeminiBaseURL(c.BaseURL))
					}
					return NewGemini(c.Key, opts...)
				},
			},
			"openai": {
				cfg: cfg.OpenAI,
				build: func(c config.ProviderConfig) Provider {
					opts := []OpenAIOption{}
					if c.BaseURL != "" {
						opts = append(opts, WithOpenAIBaseURL(c.BaseURL))
					}
					return NewOpenAI(c.Key, opts...)
				},
			},
			"claude": {
				cfg: cfg.Anthropic,
				build: func(c config.ProviderConfig) Provider {
					return NewClaude(c.Key)
				},
			},
		},
	}
}

// Adapter returns a retrying adapter for the named logical provider.
func (r *Registry) Adapter(name string) (*Adapter, error) {
	s, ok := r.specs[name]
	if !ok {
		return nil, eris.Errorf("provider: unknown provider %q", name)
	}
	a := NewAdapter(s.build(s.cfg), s.cfg, r.retry)
	a.OnUsage = r.usage.Record
	return a, nil
}

// Usage returns the shared token usage tracker.
func (r *Registry) Usage() *cost.Tracker {
	return r.usage
}

// Names lists the registered logical providers.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.specs))
	for n := range r.specs {
		names = append(names, n)
	}
	return names
}
