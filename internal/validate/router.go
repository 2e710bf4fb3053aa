// Package validate routes extraction results by confidence and applies
// reviewer decisions to the queued ones.
package validate

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/terms-cli/internal/model"
	"github.com/sells-group/terms-cli/internal/store"
)

// Router splits extraction results into auto-confirmed and review-queued by
// the configured confidence threshold.
type Router struct {
	store     store.Store
	threshold float64
}

// NewRouter creates a confidence router. A non-positive threshold falls back
// to the default of 0.95.
func NewRouter(st store.Store, threshold float64) *Router {
	if threshold <= 0 {
		threshold = 0.95
	}
	return &Router{store: st, threshold: threshold}
}

// Threshold returns the auto-confirm cutoff.
func (r *Router) Threshold() float64 { return r.threshold }

// RouteCounts summarizes one routing pass.
type RouteCounts struct {
	AutoConfirmed int
	QueuedReview  int
}

// Route classifies every pending result: score at or above the threshold is
// auto-confirmed, everything below enters the review queue with a ReviewItem.
// Already-routed results are left alone, so a re-run after a partial failure
// does not double-queue.
func (r *Router) Route(ctx context.Context, results []model.ExtractionResult) (RouteCounts, error) {
	var counts RouteCounts

	for i := range results {
		res := &results[i]
		if res.Verification != model.VerificationPending {
			continue
		}

		if res.Confidence >= r.threshold {
			res.Verification = model.VerificationAutoConfirmed
			if err := r.store.UpdateResult(ctx, res); err != nil {
				return counts, err
			}
			counts.AutoConfirmed++
			continue
		}

		res.Verification = model.VerificationPendingReview
		if err := r.store.UpdateResult(ctx, res); err != nil {
			return counts, err
		}
		item := &model.ReviewItem{
			ResultID:      res.ID,
			Status:        model.ReviewPending,
			OriginalValue: res.RawValue,
		}
		if err := r.store.CreateReviewItem(ctx, item); err != nil {
			return counts, eris.Wrapf(err, "validate: queue result %s", res.ID)
		}
		counts.QueuedReview++
	}

	zap.L().Info("validate: routing complete",
		zap.Int("auto_confirmed", counts.AutoConfirmed),
		zap.Int("queued_review", counts.QueuedReview),
		zap.Float64("threshold", r.threshold),
	)
	return counts, nil
}
