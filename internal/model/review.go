package model

import "time"

// ReviewStatus tracks a review queue item.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
)

// Decided reports whether the item has received a final decision.
func (s ReviewStatus) Decided() bool {
	return s == ReviewApproved || s == ReviewRejected
}

// ReviewAction is a reviewer's decision on a queued item.
type ReviewAction string

const (
	ActionApprove ReviewAction = "approve"
	ActionReject  ReviewAction = "reject"
)

// ReviewItem gates one low-confidence ExtractionResult on a human decision.
// One-to-one with the result it references.
type ReviewItem struct {
	ID             string       `json:"id"`
	ResultID       string       `json:"result_id"`
	Status         ReviewStatus `json:"status"`
	OriginalValue  string       `json:"original_value"`
	CorrectedValue string       `json:"corrected_value,omitempty"`
	Reviewer       string       `json:"reviewer,omitempty"`
	Comment        string       `json:"comment,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	DecidedAt      *time.Time   `json:"decided_at,omitempty"`
}
