package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/terms-cli/internal/config"
	"github.com/sells-group/terms-cli/internal/extract"
	"github.com/sells-group/terms-cli/internal/mapping"
	"github.com/sells-group/terms-cli/internal/model"
	"github.com/sells-group/terms-cli/internal/provider"
	"github.com/sells-group/terms-cli/internal/resilience"
	"github.com/sells-group/terms-cli/internal/store"
	"github.com/sells-group/terms-cli/internal/transfer"
	"github.com/sells-group/terms-cli/internal/validate"
)

// stubInferrer answers the two extraction phases from a fixed script: a high
// confidence diagnosis code and a medium confidence accident type for the
// single test coverage item.
type stubInferrer struct {
	name string
}

func (s *stubInferrer) Name() string { return s.name }

func (s *stubInferrer) Infer(_ context.Context, req provider.InferRequest) (*provider.InferResponse, error) {
	if !strings.Contains(req.Prompt, "**Task**") {
		return &provider.InferResponse{Text: `{"rules":[]}`}, nil
	}

	answer := func(code, confidence string) (*provider.InferResponse, error) {
		return &provider.InferResponse{Text: `[{"benefit_name":"Cancer Diagnosis","template_name":"Lump Sum",` +
			`"inferred_code":"` + code + `","confidence":"` + confidence + `","source":"appendix","ref_page":"12"}]`}, nil
	}
	switch {
	case strings.Contains(req.Prompt, "**Diagnosis Code**"):
		return answer("C34", "high")
	case strings.Contains(req.Prompt, "**Accident Type**"):
		return answer("1", "medium")
	default:
		return &provider.InferResponse{Text: "[]"}, nil
	}
}

type stubSource struct {
	inferrers map[string]extract.Inferrer
}

func (s stubSource) Inferrer(name string) (extract.Inferrer, error) {
	inf, ok := s.inferrers[name]
	if !ok {
		return nil, errors.New("unknown provider " + name)
	}
	return inf, nil
}

type stubAcquirer struct {
	docs []SourceDocument
	err  error
}

func (a *stubAcquirer) Acquire(_ context.Context, _ string) ([]SourceDocument, error) {
	return a.docs, a.err
}

// gateAcquirer blocks its first call until the run context is cancelled.
// Later calls fail fast so follow-up runs do not hang.
type gateAcquirer struct {
	started chan struct{}
	calls   atomic.Int32
}

func (a *gateAcquirer) Acquire(ctx context.Context, _ string) ([]SourceDocument, error) {
	if a.calls.Add(1) > 1 {
		return nil, errors.New("source drained")
	}
	close(a.started)
	<-ctx.Done()
	return nil, ctx.Err()
}

type stubPreprocessor struct{}

func (stubPreprocessor) Preprocess(_ context.Context, _ *model.Policy) (string, string, error) {
	return "policy body text", "appendix schedule text", nil
}

func sourceDoc() SourceDocument {
	return SourceDocument{
		Policy: model.Policy{
			ProductCode: "P100",
			ProductName: "Cancer Cover",
			ProductType: "protection",
			DocumentRef: "p100.pdf",
			Status:      model.PolicyStatusCollected,
		},
		Items: []model.CoverageItem{
			{BenefitCode: "B01", BenefitName: "Cancer Diagnosis", TemplateCode: "T01", TemplateName: "Lump Sum"},
		},
	}
}

func newTestDeps(t *testing.T, acquirer Acquirer) (Deps, store.Store) {
	t.Helper()
	catalog := model.NewAttributeCatalog([]model.AttributeSpec{
		{Key: model.AttrDiagnosisCode, Name: "Diagnosis Code", MappingPatterns: []string{"diagnosis"}},
		{Key: model.AttrAccidentType, Name: "Accident Type"},
	})
	return newDepsWith(t, acquirer, catalog, &stubInferrer{name: "gemini"})
}

func newDepsWith(t *testing.T, acquirer Acquirer, catalog *model.AttributeCatalog, inf extract.Inferrer) (Deps, store.Store) {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	tableDir := t.TempDir()
	require.NoError(t, writeFile(filepath.Join(tableDir, "diagnosis_codes.csv"),
		"code,label,start,end\n0A1,Malignant neoplasm,C00,C97\n"))
	mapper := mapping.NewMapper()
	require.NoError(t, mapper.Reload(tableDir))

	sender, err := transfer.NewSender(config.TransferConfig{Sender: "local", DestDir: t.TempDir()})
	require.NoError(t, err)

	return Deps{
		Store: st,
		Providers: stubSource{inferrers: map[string]extract.Inferrer{
			"gemini": inf,
		}},
		Engine:    extract.NewEngine(catalog, mapper),
		Mapper:    mapper,
		Router:    validate.NewRouter(st, 0.95),
		Gateway:   transfer.NewGateway(sender, st, nil),
		Catalog:   catalog,
		Acquirer:  acquirer,
		Preproc:   stubPreprocessor{},
		Indexer:   NewRecordingIndexer(),
		ExportDir: t.TempDir(),
	}, st
}

func TestOrchestrator_Run_EndToEnd(t *testing.T) {
	deps, st := newTestDeps(t, &stubAcquirer{docs: []SourceDocument{sourceDoc()}})
	o := NewOrchestrator(deps)
	ctx := context.Background()

	run, err := o.Run(ctx, model.RunOptions{Provider: "gemini"})
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Equal(t, 1.0, run.Progress)
	assert.Equal(t, 1, run.Stats["documents"])
	assert.Equal(t, 2, run.Stats["results"])
	assert.Equal(t, 1, run.Stats["mapped"])
	assert.Equal(t, 1, run.Stats["auto_confirmed"])
	assert.Equal(t, 1, run.Stats["queued_review"])
	assert.Equal(t, 1, run.Stats["batch_rows"])

	// The policy moved all the way through.
	policies, err := st.ListPolicies(ctx, store.PolicyFilter{})
	require.NoError(t, err)
	require.Len(t, policies, 1)
	assert.Equal(t, model.PolicyStatusTransferred, policies[0].Status)

	// The diagnosis result carries the canonical mapping code.
	results, err := st.ListResults(ctx, store.ResultFilter{PolicyID: policies[0].ID})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, run.ID, r.RunID)
		switch r.Attr {
		case model.AttrDiagnosisCode:
			require.NotNil(t, r.CanonicalCode)
			assert.Equal(t, "0A1", *r.CanonicalCode)
			assert.Equal(t, model.VerificationAutoConfirmed, r.Verification)
			assert.True(t, r.Exported)
		case model.AttrAccidentType:
			assert.Equal(t, model.VerificationPendingReview, r.Verification)
			assert.False(t, r.Exported)
		}
	}

	// The run log survives in the store.
	stored, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, stored.Logs)
	assert.Equal(t, model.RunStatusCompleted, stored.Status)
}

func TestOrchestrator_Run_ConcurrentConflict(t *testing.T) {
	gate := &gateAcquirer{started: make(chan struct{})}
	deps, st := newTestDeps(t, gate)
	o := NewOrchestrator(deps)

	first, err := o.Start(model.RunOptions{Provider: "gemini"})
	require.NoError(t, err)
	<-gate.started

	_, err = o.Run(context.Background(), model.RunOptions{Provider: "gemini"})
	var conflict *resilience.ConcurrentRunConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, first.ID, conflict.ActiveRunID)

	require.NoError(t, o.Cancel())
	waitForTerminal(t, st, first.ID)

	// With the first run finished, a new run may begin. It fails at acquire
	// (the gate is single-shot) but the conflict guard lets it through.
	second, err := o.Run(context.Background(), model.RunOptions{Provider: "gemini"})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, model.RunStatusFailed, second.Status)
}

func TestOrchestrator_Cancel_StopsBeforeNextStage(t *testing.T) {
	gate := &gateAcquirer{started: make(chan struct{})}
	deps, st := newTestDeps(t, gate)
	o := NewOrchestrator(deps)

	run, err := o.Start(model.RunOptions{Provider: "gemini"})
	require.NoError(t, err)
	<-gate.started
	require.NoError(t, o.Cancel())

	got := waitForTerminal(t, st, run.ID)
	assert.Equal(t, model.RunStatusCancelled, got.Status)
	// The log written before cancellation is retained.
	assert.NotEmpty(t, got.Logs)
}

func TestOrchestrator_Run_StageFailureKeepsLogs(t *testing.T) {
	deps, st := newTestDeps(t, &stubAcquirer{err: errors.New("source system unreachable")})
	o := NewOrchestrator(deps)

	run, err := o.Run(context.Background(), model.RunOptions{Provider: "gemini"})
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, run.Status)
	assert.Contains(t, run.Error, "source system unreachable")

	stored, err := st.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, stored.Status)
	require.NotEmpty(t, stored.Logs)
	var failed bool
	for _, e := range stored.Logs {
		if strings.Contains(e.Message, "stage failed") {
			failed = true
		}
	}
	assert.True(t, failed, "failure line retained in the run log")
}

func TestOrchestrator_Run_SkipFlags(t *testing.T) {
	deps, st := newTestDeps(t, &stubAcquirer{err: errors.New("must not be called")})
	o := NewOrchestrator(deps)
	ctx := context.Background()

	// Seed the store directly so skip_acquisition has something to re-run.
	doc := sourceDoc()
	p := doc.Policy
	require.NoError(t, st.UpsertPolicy(ctx, &p))
	require.NoError(t, st.ReplaceCoverageItems(ctx, p.ID, doc.Items))

	run, err := o.Run(ctx, model.RunOptions{Provider: "gemini", SkipAcquisition: true, SkipTransfer: true})
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Equal(t, 1, run.Stats["batch_rows"])

	// Transfer skipped: the policy stops at output and no transfer log exists.
	got, err := st.GetPolicy(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PolicyStatusOutput, got.Status)

	logs, err := st.ListTransferLogs(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

// catalogInferrer answers phase 2 for every catalog attribute, reporting
// direct-evidence confidence except for the attributes listed in medium.
type catalogInferrer struct {
	catalog *model.AttributeCatalog
	medium  map[model.Attribute]bool
}

func (c *catalogInferrer) Name() string { return "gemini" }

func (c *catalogInferrer) Infer(_ context.Context, req provider.InferRequest) (*provider.InferResponse, error) {
	if !strings.Contains(req.Prompt, "**Task**") {
		return &provider.InferResponse{Text: `{"rules":[]}`}, nil
	}
	for i := range c.catalog.Specs {
		spec := &c.catalog.Specs[i]
		if !strings.Contains(req.Prompt, "infer **"+spec.Name+"**") {
			continue
		}
		confidence := "high"
		if c.medium[spec.Key] {
			confidence = "medium"
		}
		return &provider.InferResponse{Text: `[{"benefit_name":"Cancer Diagnosis","template_name":"Lump Sum",` +
			`"inferred_code":"X1","confidence":"` + confidence + `","source":"policy_text","ref_page":"4"}]`}, nil
	}
	return &provider.InferResponse{Text: "[]"}, nil
}

func TestOrchestrator_Run_FullCatalogRouting(t *testing.T) {
	catalog := extract.DefaultCatalog()
	inf := &catalogInferrer{catalog: catalog, medium: map[model.Attribute]bool{
		model.AttrExemptionCode:  true,
		model.AttrCoveragePeriod: true,
	}}
	deps, st := newDepsWith(t, &stubAcquirer{docs: []SourceDocument{sourceDoc()}}, catalog, inf)
	o := NewOrchestrator(deps)
	ctx := context.Background()

	run, err := o.Run(ctx, model.RunOptions{Provider: "gemini"})
	require.NoError(t, err)
	require.Equal(t, model.RunStatusCompleted, run.Status)

	// Nine attributes, two below the auto-confirm threshold.
	assert.Equal(t, 9, run.Stats["results"])
	assert.Equal(t, 7, run.Stats["auto_confirmed"])
	assert.Equal(t, 2, run.Stats["queued_review"])

	results, err := st.ListResults(ctx, store.ResultFilter{})
	require.NoError(t, err)
	require.Len(t, results, 9)
	byStatus := map[model.VerificationStatus]int{}
	for _, r := range results {
		byStatus[r.Verification]++
	}
	assert.Equal(t, 7, byStatus[model.VerificationAutoConfirmed])
	assert.Equal(t, 2, byStatus[model.VerificationPendingReview])

	items, err := st.ListReviewItems(ctx, store.ReviewFilter{Status: model.ReviewPending})
	require.NoError(t, err)
	assert.Len(t, items, 2, "exactly one review item per below-threshold result")
}

func TestOrchestrator_Active_SnapshotDuringRun(t *testing.T) {
	gate := &gateAcquirer{started: make(chan struct{})}
	deps, st := newTestDeps(t, gate)
	o := NewOrchestrator(deps)

	run, err := o.Start(model.RunOptions{Provider: "gemini"})
	require.NoError(t, err)

	// Readers poll while the run executes; they must only ever see whole
	// published snapshots of the active record.
	var wrongID atomic.Bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			if a := o.Active(); a == nil || a.ID != run.ID {
				wrongID.Store(true)
				return
			}
		}
	}()

	<-gate.started
	<-done
	assert.False(t, wrongID.Load())
	require.NoError(t, o.Cancel())
	waitForTerminal(t, st, run.ID)

	active := o.Active()
	require.NotNil(t, active)
	assert.Equal(t, run.ID, active.ID)
	assert.True(t, active.Status.Terminal())

	// Mutating a returned snapshot must not leak into later reads.
	active.Stats["poisoned"] = 1
	assert.NotContains(t, o.Active().Stats, "poisoned")
}

func TestOrchestrator_Run_ValidationErrors(t *testing.T) {
	deps, _ := newTestDeps(t, &stubAcquirer{docs: []SourceDocument{sourceDoc()}})
	o := NewOrchestrator(deps)

	_, err := o.Run(context.Background(), model.RunOptions{})
	require.Error(t, err, "provider is required")

	_, err = o.Run(context.Background(), model.RunOptions{Provider: "gemini", Ensemble: true})
	require.Error(t, err, "ensemble requires a secondary provider")
}

func waitForTerminal(t *testing.T, st store.Store, runID string) *model.Run {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		run, err := st.GetRun(context.Background(), runID)
		require.NoError(t, err)
		if run.Status.Terminal() {
			return run
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("run did not reach a terminal status")
	return nil
}
