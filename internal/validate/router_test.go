package validate

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/terms-cli/internal/model"
	"github.com/sells-group/terms-cli/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedPolicy(t *testing.T, st store.Store) *model.Policy {
	t.Helper()
	p := &model.Policy{ProductCode: "P100", ProductName: "Cancer Cover", DocumentRef: "p100.pdf"}
	require.NoError(t, st.UpsertPolicy(context.Background(), p))
	return p
}

func seedResult(t *testing.T, st store.Store, policyID string, confidence float64) model.ExtractionResult {
	t.Helper()
	now := time.Now().UTC()
	r := model.ExtractionResult{
		ID:           uuid.NewString(),
		PolicyID:     policyID,
		Item:         model.CoverageItem{BenefitName: "Cancer Diagnosis", TemplateName: "Lump Sum"},
		Attr:         model.AttrDiagnosisCode,
		RawValue:     "0A1",
		Confidence:   confidence,
		Tier:         model.TierForScore(confidence),
		Verification: model.VerificationPending,
		ExtractedAt:  now,
		UpdatedAt:    now,
	}
	require.NoError(t, st.SaveResults(context.Background(), []model.ExtractionResult{r}))
	return r
}

func TestRouter_Route_ThresholdIsInclusive(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	p := seedPolicy(t, st)

	atThreshold := seedResult(t, st, p.ID, 0.95)
	below := seedResult(t, st, p.ID, 0.9499)

	router := NewRouter(st, 0.95)
	counts, err := router.Route(ctx, []model.ExtractionResult{atThreshold, below})
	require.NoError(t, err)
	assert.Equal(t, 1, counts.AutoConfirmed)
	assert.Equal(t, 1, counts.QueuedReview)

	got, err := st.GetResult(ctx, atThreshold.ID)
	require.NoError(t, err)
	assert.Equal(t, model.VerificationAutoConfirmed, got.Verification)

	got, err = st.GetResult(ctx, below.ID)
	require.NoError(t, err)
	assert.Equal(t, model.VerificationPendingReview, got.Verification)
}

func TestRouter_Route_QueuesReviewItemWithOriginalValue(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	p := seedPolicy(t, st)
	low := seedResult(t, st, p.ID, 0.50)

	router := NewRouter(st, 0.95)
	_, err := router.Route(ctx, []model.ExtractionResult{low})
	require.NoError(t, err)

	items, err := st.ListReviewItems(ctx, store.ReviewFilter{Status: model.ReviewPending})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, low.ID, items[0].ResultID)
	assert.Equal(t, "0A1", items[0].OriginalValue)
}

func TestRouter_Route_SkipsAlreadyRouted(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	p := seedPolicy(t, st)
	low := seedResult(t, st, p.ID, 0.50)

	router := NewRouter(st, 0.95)
	_, err := router.Route(ctx, []model.ExtractionResult{low})
	require.NoError(t, err)

	// Routing the refreshed result again must not enqueue a second item.
	refreshed, err := st.GetResult(ctx, low.ID)
	require.NoError(t, err)
	counts, err := router.Route(ctx, []model.ExtractionResult{*refreshed})
	require.NoError(t, err)
	assert.Zero(t, counts.QueuedReview)

	items, err := st.ListReviewItems(ctx, store.ReviewFilter{Status: model.ReviewPending})
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestNewRouter_DefaultThreshold(t *testing.T) {
	assert.Equal(t, 0.95, NewRouter(nil, 0).Threshold())
	assert.Equal(t, 0.90, NewRouter(nil, 0.90).Threshold())
}
