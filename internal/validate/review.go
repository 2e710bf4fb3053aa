package validate

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/terms-cli/internal/model"
	"github.com/sells-group/terms-cli/internal/store"
)

// Decision is a reviewer's input for one queued item.
type Decision struct {
	Action         model.ReviewAction `json:"action"`
	CorrectedValue string             `json:"corrected_value,omitempty"`
	Reviewer       string             `json:"reviewer,omitempty"`
	Comment        string             `json:"comment,omitempty"`
}

// ReviewService applies reviewer decisions to queued items and promotes the
// underlying results.
type ReviewService struct {
	store store.Store
}

// NewReviewService creates a review service over st.
func NewReviewService(st store.Store) *ReviewService {
	return &ReviewService{store: st}
}

// Decide applies a decision to the review item. Approve keeps the extracted
// value; reject requires a corrected value and overwrites the stored one.
// Either way the result becomes output-eligible. The store's conditional
// update makes the decision atomic: a second decision on the same item gets a
// DoubleDecisionError and the first decision stands.
func (s *ReviewService) Decide(ctx context.Context, itemID string, d Decision) (*model.ReviewItem, error) {
	if d.Action != model.ActionApprove && d.Action != model.ActionReject {
		return nil, eris.Errorf("validate: unknown review action %q", d.Action)
	}
	if d.Action == model.ActionReject && d.CorrectedValue == "" {
		return nil, eris.New("validate: reject requires a corrected value")
	}

	item, err := s.store.GetReviewItem(ctx, itemID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	item.Reviewer = d.Reviewer
	item.Comment = d.Comment
	item.DecidedAt = &now
	switch d.Action {
	case model.ActionApprove:
		item.Status = model.ReviewApproved
	case model.ActionReject:
		item.Status = model.ReviewRejected
		item.CorrectedValue = d.CorrectedValue
	}

	if err := s.store.DecideReviewItem(ctx, item); err != nil {
		return nil, err
	}

	result, err := s.store.GetResult(ctx, item.ResultID)
	if err != nil {
		return nil, err
	}
	if d.Action == model.ActionReject {
		result.RawValue = d.CorrectedValue
		result.CanonicalCode = nil
	}
	result.Verification = model.VerificationApproved
	if err := s.store.UpdateResult(ctx, result); err != nil {
		return nil, err
	}

	details, _ := json.Marshal(d)
	if err := s.store.AppendAudit(ctx, &model.AuditLog{
		EventType:  "review_decision",
		EntityType: "review_item",
		EntityID:   item.ID,
		Actor:      d.Reviewer,
		Action:     string(d.Action),
		Details:    string(details),
	}); err != nil {
		zap.L().Warn("validate: audit write failed", zap.Error(err))
	}

	zap.L().Info("validate: review decided",
		zap.String("item_id", item.ID),
		zap.String("action", string(d.Action)),
		zap.String("reviewer", d.Reviewer),
	)
	return item, nil
}

// Pending lists the open review queue.
func (s *ReviewService) Pending(ctx context.Context, limit, offset int) ([]model.ReviewItem, error) {
	return s.store.ListReviewItems(ctx, store.ReviewFilter{
		Status: model.ReviewPending,
		Limit:  limit,
		Offset: offset,
	})
}
