package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/terms-cli/internal/model"
	"github.com/sells-group/terms-cli/internal/resilience"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedPolicy(t *testing.T, st *SQLiteStore) *model.Policy {
	t.Helper()
	p := &model.Policy{
		ProductCode: "P100",
		ProductName: "Cancer Cover",
		ProductType: "protection",
		DocumentRef: "p100.pdf",
	}
	require.NoError(t, st.UpsertPolicy(context.Background(), p))
	return p
}

func sampleResult(policyID string) model.ExtractionResult {
	now := time.Now().UTC().Truncate(time.Second)
	return model.ExtractionResult{
		ID:       uuid.NewString(),
		PolicyID: policyID,
		RunID:    "run-1",
		Item:     model.CoverageItem{BenefitName: "Cancer Diagnosis", TemplateName: "Lump Sum", BenefitCode: "B01"},
		Attr:     model.AttrDiagnosisCode,
		RawValue: "C00-C97",
		Confidence: 0.95,
		Tier:       model.TierHigh,
		Provenance: model.Provenance{
			PrimaryProvider: "gemini",
			Source:          model.SourceAppendix,
			RefPage:         "12",
		},
		Verification: model.VerificationPending,
		ExtractedAt:  now,
		UpdatedAt:    now,
	}
}

// --- Policies ---

func TestSQLite_Policy_UpsertAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	p := seedPolicy(t, st)
	require.NotEmpty(t, p.ID)
	assert.Equal(t, model.PolicyStatusCollected, p.Status)

	got, err := st.GetPolicy(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "P100", got.ProductCode)
	assert.Equal(t, "p100.pdf", got.DocumentRef)

	// Upsert with the same ID updates fields but keeps the status.
	p.ProductName = "Cancer Cover Plus"
	require.NoError(t, st.UpsertPolicy(ctx, p))
	got, err = st.GetPolicy(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Cancer Cover Plus", got.ProductName)
	assert.Equal(t, model.PolicyStatusCollected, got.Status)
}

func TestSQLite_Policy_GetMissing(t *testing.T) {
	st := newTestSQLiteStore(t)
	_, err := st.GetPolicy(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_Policy_ListFilters(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedPolicy(t, st)
	other := &model.Policy{ProductCode: "P200", ProductName: "Savings", ProductType: "savings", DocumentRef: "p200.pdf"}
	require.NoError(t, st.UpsertPolicy(ctx, other))

	all, err := st.ListPolicies(ctx, PolicyFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	savings, err := st.ListPolicies(ctx, PolicyFilter{ProductType: "savings"})
	require.NoError(t, err)
	require.Len(t, savings, 1)
	assert.Equal(t, "P200", savings[0].ProductCode)
}

func TestSQLite_Policy_AdvanceStatus(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	p := seedPolicy(t, st)

	require.NoError(t, st.AdvancePolicyStatus(ctx, p.ID, model.PolicyStatusPreprocessed))
	require.NoError(t, st.AdvancePolicyStatus(ctx, p.ID, model.PolicyStatusExtracted))

	// Statuses only move forward.
	err := st.AdvancePolicyStatus(ctx, p.ID, model.PolicyStatusCollected)
	require.Error(t, err)

	got, err := st.GetPolicy(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PolicyStatusExtracted, got.Status)

	// Failed is reachable from anywhere, and a failed policy may re-enter.
	require.NoError(t, st.AdvancePolicyStatus(ctx, p.ID, model.PolicyStatusFailed))
	require.NoError(t, st.AdvancePolicyStatus(ctx, p.ID, model.PolicyStatusCollected))
}

// --- Coverage items ---

func TestSQLite_CoverageItems_ReplaceAndList(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	p := seedPolicy(t, st)

	first := []model.CoverageItem{
		{BenefitName: "Cancer Diagnosis", TemplateName: "Lump Sum"},
		{BenefitName: "Hospitalization", TemplateName: "Daily"},
	}
	require.NoError(t, st.ReplaceCoverageItems(ctx, p.ID, first))

	items, err := st.ListCoverageItems(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Cancer Diagnosis", items[0].BenefitName)

	// A replace drops the old rows entirely.
	second := []model.CoverageItem{{BenefitName: "Surgery", TemplateName: "Per Operation"}}
	require.NoError(t, st.ReplaceCoverageItems(ctx, p.ID, second))

	items, err = st.ListCoverageItems(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Surgery", items[0].BenefitName)
}

// --- Results ---

func TestSQLite_Results_SaveGetUpdate(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	p := seedPolicy(t, st)
	r := sampleResult(p.ID)

	require.NoError(t, st.SaveResults(ctx, []model.ExtractionResult{r}))

	got, err := st.GetResult(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "C00-C97", got.RawValue)
	assert.Equal(t, model.TierHigh, got.Tier)
	assert.Equal(t, "Cancer Diagnosis", got.Item.BenefitName)
	assert.Equal(t, model.SourceAppendix, got.Provenance.Source)
	assert.Nil(t, got.CanonicalCode)

	code := "0A1"
	got.CanonicalCode = &code
	got.Verification = model.VerificationAutoConfirmed
	require.NoError(t, st.UpdateResult(ctx, got))

	got, err = st.GetResult(ctx, r.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CanonicalCode)
	assert.Equal(t, "0A1", *got.CanonicalCode)
	assert.Equal(t, model.VerificationAutoConfirmed, got.Verification)
}

func TestSQLite_Results_ListAndMarkExported(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	p := seedPolicy(t, st)

	a := sampleResult(p.ID)
	b := sampleResult(p.ID)
	b.Attr = model.AttrAccidentType
	require.NoError(t, st.SaveResults(ctx, []model.ExtractionResult{a, b}))

	unexported, err := st.ListResults(ctx, ResultFilter{Unexported: true})
	require.NoError(t, err)
	assert.Len(t, unexported, 2)

	require.NoError(t, st.MarkExported(ctx, []string{a.ID}, time.Now().UTC()))

	unexported, err = st.ListResults(ctx, ResultFilter{Unexported: true})
	require.NoError(t, err)
	require.Len(t, unexported, 1)
	assert.Equal(t, b.ID, unexported[0].ID)

	got, err := st.GetResult(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.Exported)
	assert.NotNil(t, got.ExportedAt)
}

func TestSQLite_Results_UpdateMissing(t *testing.T) {
	st := newTestSQLiteStore(t)
	r := sampleResult("nope")
	assert.ErrorIs(t, st.UpdateResult(context.Background(), &r), ErrNotFound)
}

// --- Review queue ---

func TestSQLite_Reviews_DecideIsAtomic(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	p := seedPolicy(t, st)
	r := sampleResult(p.ID)
	require.NoError(t, st.SaveResults(ctx, []model.ExtractionResult{r}))

	item := &model.ReviewItem{ResultID: r.ID, OriginalValue: r.RawValue}
	require.NoError(t, st.CreateReviewItem(ctx, item))

	now := time.Now().UTC()
	item.Status = model.ReviewApproved
	item.Reviewer = "alex"
	item.DecidedAt = &now
	require.NoError(t, st.DecideReviewItem(ctx, item))

	// The second decision finds no pending row and reports the standing state.
	second := *item
	second.Status = model.ReviewRejected
	second.Reviewer = "blake"
	err := st.DecideReviewItem(ctx, &second)
	var double *resilience.DoubleDecisionError
	require.ErrorAs(t, err, &double)
	assert.Equal(t, string(model.ReviewApproved), double.Status)

	got, err := st.GetReviewItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReviewApproved, got.Status)
	assert.Equal(t, "alex", got.Reviewer)
}

func TestSQLite_Reviews_OnePerResult(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	p := seedPolicy(t, st)
	r := sampleResult(p.ID)
	require.NoError(t, st.SaveResults(ctx, []model.ExtractionResult{r}))

	require.NoError(t, st.CreateReviewItem(ctx, &model.ReviewItem{ResultID: r.ID}))
	err := st.CreateReviewItem(ctx, &model.ReviewItem{ResultID: r.ID})
	require.Error(t, err, "result_id is unique")
}

// --- Runs ---

func TestSQLite_Runs_RoundTripWithLogs(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run := &model.Run{
		ID:        uuid.NewString(),
		Options:   model.RunOptions{Provider: "gemini", Ensemble: true, SecondaryProvider: "claude"},
		Status:    model.RunStatusRunning,
		Stage:     model.StageAcquire,
		StartedAt: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, st.CreateRun(ctx, run))

	require.NoError(t, st.AppendRunLog(ctx, run.ID, model.LogEntry{
		At: time.Now().UTC(), Stage: model.StageAcquire, Message: "acquired 3 documents",
	}))
	require.NoError(t, st.AppendRunLog(ctx, run.ID, model.LogEntry{
		At: time.Now().UTC(), Stage: model.StageExtract, Message: "extraction started",
	}))

	run.Status = model.RunStatusCompleted
	run.Stage = model.StageTransfer
	run.Progress = 1
	run.Stats = map[string]int{"auto_confirmed": 7, "queued_review": 2}
	now := time.Now().UTC()
	run.CompletedAt = &now
	require.NoError(t, st.UpdateRun(ctx, run))

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, got.Status)
	assert.Equal(t, "claude", got.Options.SecondaryProvider)
	assert.Equal(t, 7, got.Stats["auto_confirmed"])
	require.Len(t, got.Logs, 2)
	assert.Equal(t, "acquired 3 documents", got.Logs[0].Message)
	assert.Equal(t, model.StageExtract, got.Logs[1].Stage)
}

func TestSQLite_Runs_List(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	for _, status := range []model.RunStatus{model.RunStatusCompleted, model.RunStatusFailed} {
		require.NoError(t, st.CreateRun(ctx, &model.Run{
			ID: uuid.NewString(), Status: status, StartedAt: time.Now().UTC(),
		}))
	}

	failed, err := st.ListRuns(ctx, RunFilter{Status: model.RunStatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, model.RunStatusFailed, failed[0].Status)
}

// --- Transfer and audit logs ---

func TestSQLite_TransferLogs(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	tl := &model.TransferLog{
		Filename:       "terms_batch_20260825T000000Z.csv",
		FileSize:       2048,
		ChecksumSHA256: "abc123",
		Direction:      "outbound",
		Status:         model.TransferSending,
	}
	require.NoError(t, st.CreateTransferLog(ctx, tl))

	tl.Status = model.TransferFailed
	tl.Attempts = 3
	tl.Error = "checksum mismatch"
	require.NoError(t, st.UpdateTransferLog(ctx, tl))

	logs, err := st.ListTransferLogs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, model.TransferFailed, logs[0].Status)
	assert.Equal(t, 3, logs[0].Attempts)
	assert.Equal(t, "checksum mismatch", logs[0].Error)
}

func TestSQLite_AuditAppend(t *testing.T) {
	st := newTestSQLiteStore(t)

	err := st.AppendAudit(context.Background(), &model.AuditLog{
		EventType:  "pipeline",
		EntityType: "policy",
		EntityID:   "p1",
		Actor:      "system",
		Action:     "collected",
	})
	require.NoError(t, err)
}
