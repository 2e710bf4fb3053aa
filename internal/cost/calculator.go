// Package cost tracks LLM token usage per provider model and prices it.
package cost

import (
	"sort"
	"sync"
)

// ModelRate holds per-model token pricing in dollars per million tokens.
type ModelRate struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// Rates maps a model name to its pricing. Models missing from the table
// price at zero rather than failing the run.
type Rates map[string]ModelRate

// Calculator prices token usage against a rate table.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Price computes the dollar cost of one model's token usage.
func (c *Calculator) Price(model string, input, output int) float64 {
	rate, ok := c.rates[model]
	if !ok {
		return 0
	}
	return (float64(input)/1e6)*rate.Input + (float64(output)/1e6)*rate.Output
}

// Total prices every entry in a usage snapshot.
func (c *Calculator) Total(usage []Usage) float64 {
	var total float64
	for _, u := range usage {
		total += c.Price(u.Model, u.InputTokens, u.OutputTokens)
	}
	return total
}

// Usage is the accumulated token consumption of one provider model.
type Usage struct {
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	Calls        int    `json:"calls"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

type usageKey struct {
	provider string
	model    string
}

// Tracker accumulates token usage across concurrent inference calls.
type Tracker struct {
	mu sync.Mutex
	by map[usageKey]*Usage
}

// NewTracker creates an empty usage tracker.
func NewTracker() *Tracker {
	return &Tracker{by: map[usageKey]*Usage{}}
}

// Record adds one inference call's token counts.
func (t *Tracker) Record(provider, model string, input, output int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := usageKey{provider, model}
	u, ok := t.by[k]
	if !ok {
		u = &Usage{Provider: provider, Model: model}
		t.by[k] = u
	}
	u.Calls++
	u.InputTokens += input
	u.OutputTokens += output
}

// Snapshot returns the usage accumulated so far, ordered by provider then
// model.
func (t *Tracker) Snapshot() []Usage {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Usage, 0, len(t.by))
	for _, u := range t.by {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].Model < out[j].Model
	})
	return out
}

// DefaultRates returns pricing for the default primary and fallback models.
func DefaultRates() Rates {
	return Rates{
		"gemini-2.5-pro":             {Input: 1.25, Output: 10.00},
		"gemini-2.5-flash":           {Input: 0.30, Output: 2.50},
		"gpt-4o":                     {Input: 2.50, Output: 10.00},
		"gpt-4o-mini":                {Input: 0.15, Output: 0.60},
		"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00},
		"claude-haiku-4-5-20251001":  {Input: 0.80, Output: 4.00},
	}
}
