package provider

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/terms-cli/internal/config"
	"github.com/sells-group/terms-cli/internal/resilience"
)

// Adapter wraps a Provider with a per-call timeout, rate limiting, bounded
// retry, and fallback to the provider's secondary model. When both models
// are exhausted the caller receives a ProviderUnavailableError and records
// the attribute as unextracted instead of aborting the document.
type Adapter struct {
	provider Provider
	cfg      config.ProviderConfig
	retry    resilience.RetryConfig
	limiter  *rate.Limiter

	// OnUsage, when set, receives the token counts of every successful call.
	OnUsage func(provider, model string, inputTokens, outputTokens int)
}

// NewAdapter builds an adapter around p using its provider config.
func NewAdapter(p Provider, cfg config.ProviderConfig, retry resilience.RetryConfig) *Adapter {
	perSec := cfg.RatePerSec
	if perSec <= 0 {
		perSec = 1
	}
	return &Adapter{
		provider: p,
		cfg:      cfg,
		retry:    retry,
		limiter:  rate.NewLimiter(rate.Limit(perSec), 1),
	}
}

// Name returns the wrapped provider's logical name.
func (a *Adapter) Name() string { return a.provider.Name() }

// Infer runs req against the primary model with retries, then against the
// fallback model. req.Model is chosen by the adapter.
func (a *Adapter) Infer(ctx context.Context, req InferRequest) (*InferResponse, error) {
	resp, err := a.inferModel(ctx, req, a.cfg.PrimaryModel)
	if err == nil {
		a.recordUsage(resp)
		return resp, nil
	}

	// Authentication failures apply to the whole provider; the fallback
	// model shares the same credentials.
	var authErr *resilience.AuthError
	if errors.As(err, &authErr) || ctx.Err() != nil {
		return nil, err
	}

	if a.cfg.FallbackModel == "" || a.cfg.FallbackModel == a.cfg.PrimaryModel {
		return nil, &resilience.ProviderUnavailableError{Provider: a.Name(), Err: err}
	}

	zap.L().Warn("provider: primary model exhausted, falling back",
		zap.String("provider", a.Name()),
		zap.String("primary", a.cfg.PrimaryModel),
		zap.String("fallback", a.cfg.FallbackModel),
		zap.Error(err),
	)

	resp, err = a.inferModel(ctx, req, a.cfg.FallbackModel)
	if err != nil {
		return nil, &resilience.ProviderUnavailableError{Provider: a.Name(), Err: err}
	}
	a.recordUsage(resp)
	return resp, nil
}

func (a *Adapter) recordUsage(resp *InferResponse) {
	if a.OnUsage == nil || resp == nil {
		return
	}
	a.OnUsage(a.Name(), resp.Model, resp.InputTokens, resp.OutputTokens)
}

func (a *Adapter) inferModel(ctx context.Context, req InferRequest, model string) (*InferResponse, error) {
	req.Model = model

	retry := a.retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger(a.Name(), "infer")
	}

	return resilience.DoVal(ctx, retry, func(ctx context.Context) (*InferResponse, error) {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		callCtx := ctx
		if a.cfg.TimeoutSecs > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, time.Duration(a.cfg.TimeoutSecs)*time.Second)
			defer cancel()
		}

		resp, err := a.provider.Infer(callCtx, req)
		if err != nil {
			// A per-call deadline expiry is retryable; only the caller's own
			// cancellation stops the loop (checked inside DoVal).
			if callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
				return nil, resilience.NewTransientError(err, 0)
			}
			return nil, err
		}
		return resp, nil
	})
}
