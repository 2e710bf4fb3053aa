package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/terms-cli/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = eris.New("store: not found")

// PolicyFilter specifies criteria for listing policies.
type PolicyFilter struct {
	Status      model.PolicyStatus `json:"status,omitempty"`
	ProductType string             `json:"product_type,omitempty"`
	Limit       int                `json:"limit,omitempty"`
	Offset      int                `json:"offset,omitempty"`
}

// ResultFilter specifies criteria for listing extraction results.
type ResultFilter struct {
	PolicyID     string                   `json:"policy_id,omitempty"`
	RunID        string                   `json:"run_id,omitempty"`
	Verification model.VerificationStatus `json:"verification,omitempty"`
	Unexported   bool                     `json:"unexported,omitempty"`
	Limit        int                      `json:"limit,omitempty"`
	Offset       int                      `json:"offset,omitempty"`
}

// ReviewFilter specifies criteria for listing review items.
type ReviewFilter struct {
	Status model.ReviewStatus `json:"status,omitempty"`
	Limit  int                `json:"limit,omitempty"`
	Offset int                `json:"offset,omitempty"`
}

// RunFilter specifies criteria for listing pipeline runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the extraction pipeline.
type Store interface {
	// Policies
	UpsertPolicy(ctx context.Context, p *model.Policy) error
	GetPolicy(ctx context.Context, id string) (*model.Policy, error)
	ListPolicies(ctx context.Context, filter PolicyFilter) ([]model.Policy, error)
	// AdvancePolicyStatus applies the monotonic status guard: it fails when
	// next would move the policy backwards.
	AdvancePolicyStatus(ctx context.Context, id string, next model.PolicyStatus) error

	// Coverage items
	ReplaceCoverageItems(ctx context.Context, policyID string, items []model.CoverageItem) error
	ListCoverageItems(ctx context.Context, policyID string) ([]model.CoverageItem, error)

	// Extraction results
	SaveResults(ctx context.Context, results []model.ExtractionResult) error
	UpdateResult(ctx context.Context, r *model.ExtractionResult) error
	GetResult(ctx context.Context, id string) (*model.ExtractionResult, error)
	ListResults(ctx context.Context, filter ResultFilter) ([]model.ExtractionResult, error)
	MarkExported(ctx context.Context, ids []string, at time.Time) error

	// Review queue
	CreateReviewItem(ctx context.Context, item *model.ReviewItem) error
	GetReviewItem(ctx context.Context, id string) (*model.ReviewItem, error)
	ListReviewItems(ctx context.Context, filter ReviewFilter) ([]model.ReviewItem, error)
	// DecideReviewItem persists a decision only if the item is still pending;
	// an already-decided item yields a DoubleDecisionError.
	DecideReviewItem(ctx context.Context, item *model.ReviewItem) error

	// Runs
	CreateRun(ctx context.Context, run *model.Run) error
	UpdateRun(ctx context.Context, run *model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)
	AppendRunLog(ctx context.Context, runID string, entry model.LogEntry) error

	// Transfer and audit trails, both append-mostly
	CreateTransferLog(ctx context.Context, tl *model.TransferLog) error
	UpdateTransferLog(ctx context.Context, tl *model.TransferLog) error
	ListTransferLogs(ctx context.Context, limit int) ([]model.TransferLog, error)
	AppendAudit(ctx context.Context, a *model.AuditLog) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
