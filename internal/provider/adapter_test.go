package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/terms-cli/internal/config"
	"github.com/sells-group/terms-cli/internal/resilience"
)

// scriptedProvider replays one error per call until the script runs out, then
// succeeds. It records the model requested on each call.
type scriptedProvider struct {
	errs   []error
	calls  int
	models []string
}

func (p *scriptedProvider) Name() string { return "gemini" }

func (p *scriptedProvider) Infer(_ context.Context, req InferRequest) (*InferResponse, error) {
	p.calls++
	p.models = append(p.models, req.Model)
	if p.calls <= len(p.errs) {
		return nil, p.errs[p.calls-1]
	}
	return &InferResponse{Text: "{}", Model: req.Model}, nil
}

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		OnRetry:        func(int, error) {},
	}
}

func adapterConfig() config.ProviderConfig {
	return config.ProviderConfig{
		PrimaryModel:  "primary-model",
		FallbackModel: "fallback-model",
		RatePerSec:    1000,
	}
}

func TestAdapter_Infer_RetriesTransientThenSucceeds(t *testing.T) {
	p := &scriptedProvider{errs: []error{
		resilience.NewTransientError(errors.New("503"), 503),
		resilience.NewTransientError(errors.New("429"), 429),
	}}
	a := NewAdapter(p, adapterConfig(), fastRetry())

	resp, err := a.Infer(context.Background(), InferRequest{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "{}", resp.Text)
	assert.Equal(t, 3, p.calls)
	assert.Equal(t, []string{"primary-model", "primary-model", "primary-model"}, p.models)
}

func TestAdapter_Infer_FallsBackAfterPrimaryExhausted(t *testing.T) {
	transient := resilience.NewTransientError(errors.New("overloaded"), 529)
	p := &scriptedProvider{errs: []error{transient, transient, transient}}
	a := NewAdapter(p, adapterConfig(), fastRetry())

	resp, err := a.Infer(context.Background(), InferRequest{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "fallback-model", resp.Model)
	// Three primary attempts, then the first fallback attempt succeeds.
	assert.Equal(t, 4, p.calls)
	assert.Equal(t, "fallback-model", p.models[3])
}

func TestAdapter_Infer_BothModelsExhausted(t *testing.T) {
	transient := resilience.NewTransientError(errors.New("down"), 503)
	p := &scriptedProvider{errs: []error{transient, transient, transient, transient, transient, transient}}
	a := NewAdapter(p, adapterConfig(), fastRetry())

	_, err := a.Infer(context.Background(), InferRequest{Prompt: "x"})
	var unavailable *resilience.ProviderUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, "gemini", unavailable.Provider)
	assert.Equal(t, 6, p.calls)
}

func TestAdapter_Infer_AuthErrorNotRetriedNoFallback(t *testing.T) {
	p := &scriptedProvider{errs: []error{
		&resilience.AuthError{Provider: "gemini", Status: 401},
		&resilience.AuthError{Provider: "gemini", Status: 401},
	}}
	a := NewAdapter(p, adapterConfig(), fastRetry())

	_, err := a.Infer(context.Background(), InferRequest{Prompt: "x"})
	var authErr *resilience.AuthError
	require.ErrorAs(t, err, &authErr)
	// One call: not retried and the fallback model is never tried, since it
	// shares the same credentials.
	assert.Equal(t, 1, p.calls)
}

func TestAdapter_Infer_SchemaViolationIsRetried(t *testing.T) {
	p := &scriptedProvider{errs: []error{
		&resilience.SchemaViolationError{Provider: "gemini", Detail: "not json"},
	}}
	a := NewAdapter(p, adapterConfig(), fastRetry())

	resp, err := a.Infer(context.Background(), InferRequest{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "{}", resp.Text)
	assert.Equal(t, 2, p.calls)
}

func TestAdapter_Infer_NoFallbackConfigured(t *testing.T) {
	transient := resilience.NewTransientError(errors.New("down"), 503)
	p := &scriptedProvider{errs: []error{transient, transient, transient}}
	cfg := adapterConfig()
	cfg.FallbackModel = ""
	a := NewAdapter(p, cfg, fastRetry())

	_, err := a.Infer(context.Background(), InferRequest{Prompt: "x"})
	var unavailable *resilience.ProviderUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, 3, p.calls)
}

func TestAdapter_Infer_CancelledContext(t *testing.T) {
	p := &scriptedProvider{}
	a := NewAdapter(p, adapterConfig(), fastRetry())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Infer(ctx, InferRequest{Prompt: "x"})
	require.Error(t, err)
	assert.Zero(t, p.calls, "rate limiter wait fails before the provider is called")
}

func TestIsTransient(t *testing.T) {
	assert.True(t, resilience.IsTransient(resilience.NewTransientError(errors.New("x"), 503)))
	assert.True(t, resilience.IsTransient(&resilience.SchemaViolationError{Provider: "p"}))
	assert.False(t, resilience.IsTransient(&resilience.AuthError{Provider: "p", Status: 403}))
	assert.False(t, resilience.IsTransient(errors.New("validation failed")))
	assert.False(t, resilience.IsTransient(nil))
}
