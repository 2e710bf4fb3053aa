package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/terms-cli/internal/extract"
	"github.com/sells-group/terms-cli/internal/mapping"
	"github.com/sells-group/terms-cli/internal/model"
	"github.com/sells-group/terms-cli/internal/provider"
	"github.com/sells-group/terms-cli/internal/resilience"
	"github.com/sells-group/terms-cli/internal/store"
	"github.com/sells-group/terms-cli/internal/transfer"
	"github.com/sells-group/terms-cli/internal/validate"
)

// InferrerSource resolves logical provider names to inference clients.
type InferrerSource interface {
	Inferrer(name string) (extract.Inferrer, error)
}

type registrySource struct {
	registry *provider.Registry
}

func (s registrySource) Inferrer(name string) (extract.Inferrer, error) {
	return s.registry.Adapter(name)
}

// NewRegistrySource adapts a provider registry into an InferrerSource.
func NewRegistrySource(r *provider.Registry) InferrerSource {
	return registrySource{registry: r}
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Store     store.Store
	Providers InferrerSource
	Engine    *extract.Engine
	Mapper    *mapping.Mapper
	Router    *validate.Router
	Gateway   *transfer.Gateway
	Catalog   *model.AttributeCatalog
	Acquirer  Acquirer
	Preproc   Preprocessor
	Indexer   Indexer
	ExportDir string
}

// Orchestrator drives one pipeline run through the fixed stage sequence.
// Exactly one run may be active at a time.
type Orchestrator struct {
	deps Deps

	mu     sync.Mutex
	active *model.Run
	cancel context.CancelFunc
}

// NewOrchestrator creates an orchestrator over deps.
func NewOrchestrator(deps Deps) *Orchestrator {
	return &Orchestrator{deps: deps}
}

// Active returns the latest snapshot of the current run, or nil. Snapshots
// are immutable once published; the executing goroutine never writes to them.
func (o *Orchestrator) Active() *model.Run {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == nil {
		return nil
	}
	return snapshotRun(o.active)
}

// publish replaces the shared run snapshot. execute owns the live record and
// readers only ever see whole published copies.
func (o *Orchestrator) publish(run *model.Run) {
	cp := snapshotRun(run)
	o.mu.Lock()
	o.active = cp
	o.mu.Unlock()
}

func snapshotRun(run *model.Run) *model.Run {
	cp := *run
	cp.Logs = append([]model.LogEntry(nil), run.Logs...)
	cp.Stats = make(map[string]int, len(run.Stats))
	for k, v := range run.Stats {
		cp.Stats[k] = v
	}
	return &cp
}

// Cancel requests cancellation of the active run. The current stage's
// in-flight work completes; the run stops before the next stage.
func (o *Orchestrator) Cancel() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == nil || o.cancel == nil {
		return eris.New("pipeline: no active run")
	}
	o.cancel()
	return nil
}

// Run executes a pipeline run synchronously. A second trigger while a run is
// active gets a ConcurrentRunConflictError and leaves the first run alone.
func (o *Orchestrator) Run(ctx context.Context, opts model.RunOptions) (*model.Run, error) {
	run, runCtx, err := o.begin(ctx, opts)
	if err != nil {
		return nil, err
	}
	o.execute(runCtx, run)
	return run, nil
}

// Start launches a run in the background and returns its record immediately.
func (o *Orchestrator) Start(opts model.RunOptions) (*model.Run, error) {
	run, runCtx, err := o.begin(context.Background(), opts)
	if err != nil {
		return nil, err
	}
	cp := snapshotRun(run)
	go o.execute(runCtx, run)
	return cp, nil
}

func (o *Orchestrator) begin(ctx context.Context, opts model.RunOptions) (*model.Run, context.Context, error) {
	if opts.Provider == "" {
		return nil, nil, eris.New("pipeline: run requires a provider")
	}
	if opts.Ensemble && opts.SecondaryProvider == "" {
		return nil, nil, eris.New("pipeline: ensemble run requires a secondary provider")
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.active != nil && !o.active.Status.Terminal() {
		return nil, nil, &resilience.ConcurrentRunConflictError{ActiveRunID: o.active.ID}
	}

	run := &model.Run{
		ID:        uuid.NewString(),
		Options:   opts,
		Status:    model.RunStatusRunning,
		Stats:     map[string]int{},
		StartedAt: time.Now().UTC(),
	}
	if err := o.deps.Store.CreateRun(ctx, run); err != nil {
		return nil, nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.active = snapshotRun(run)
	o.cancel = cancel
	return run, runCtx, nil
}

type docText struct {
	body      string
	reference string
}

type runState struct {
	run      *model.Run
	policies []*model.Policy
	items    map[string][]model.CoverageItem
	texts    map[string]docText
	results  []model.ExtractionResult
	batch    *Batch
}

type stageFunc func(ctx context.Context, st *runState) error

// execute walks the stage sequence, checking for cancellation between stages.
// A stage error fails the run and keeps every log line written so far.
func (o *Orchestrator) execute(ctx context.Context, run *model.Run) {
	defer func() {
		o.mu.Lock()
		o.cancel = nil
		o.mu.Unlock()
	}()

	st := &runState{
		run:   run,
		items: map[string][]model.CoverageItem{},
		texts: map[string]docText{},
	}
	stages := map[model.Stage]stageFunc{
		model.StageAcquire:    o.stageAcquire,
		model.StageStore:      o.stageStore,
		model.StagePreprocess: o.stagePreprocess,
		model.StageIndex:      o.stageIndex,
		model.StageExtract:    o.stageExtract,
		model.StageMap:        o.stageMap,
		model.StageValidate:   o.stageValidate,
		model.StageOutput:     o.stageOutput,
		model.StageTransfer:   o.stageTransfer,
	}

	for i, stage := range model.Stages {
		if ctx.Err() != nil {
			o.finish(run, model.RunStatusCancelled, "cancelled before stage "+string(stage))
			return
		}

		run.Stage = stage
		run.Progress = float64(i) / float64(len(model.Stages))
		o.persistRun(run)

		if o.skipStage(run.Options, stage) {
			o.log(ctx, run, stage, "stage skipped")
			continue
		}

		o.log(ctx, run, stage, "stage started")
		if err := stages[stage](ctx, st); err != nil {
			if ctx.Err() != nil {
				o.finish(run, model.RunStatusCancelled, "cancelled during stage "+string(stage))
				return
			}
			o.log(ctx, run, stage, "stage failed: "+err.Error())
			run.Error = err.Error()
			o.finish(run, model.RunStatusFailed, "")
			zap.L().Error("pipeline: run failed",
				zap.String("run_id", run.ID),
				zap.String("stage", string(stage)),
				zap.Error(err),
			)
			return
		}
		o.log(ctx, run, stage, "stage completed")
	}

	run.Progress = 1
	o.finish(run, model.RunStatusCompleted, "")
	zap.L().Info("pipeline: run completed", zap.String("run_id", run.ID), zap.Any("stats", run.Stats))
}

func (o *Orchestrator) skipStage(opts model.RunOptions, stage model.Stage) bool {
	switch stage {
	case model.StageAcquire:
		return opts.SkipAcquisition
	case model.StageTransfer:
		return opts.SkipTransfer
	default:
		return false
	}
}

func (o *Orchestrator) finish(run *model.Run, status model.RunStatus, note string) {
	now := time.Now().UTC()
	run.Status = status
	run.CompletedAt = &now
	if note != "" {
		o.log(context.Background(), run, run.Stage, note)
	}
	o.persistRun(run)
}

func (o *Orchestrator) persistRun(run *model.Run) {
	o.publish(run)
	if err := o.deps.Store.UpdateRun(context.Background(), run); err != nil {
		zap.L().Warn("pipeline: persist run failed", zap.String("run_id", run.ID), zap.Error(err))
	}
}

// log appends one line to the run's append-only log, in memory and in the
// store.
func (o *Orchestrator) log(ctx context.Context, run *model.Run, stage model.Stage, msg string) {
	entry := model.LogEntry{At: time.Now().UTC(), Stage: stage, Message: msg}
	run.Logs = append(run.Logs, entry)
	if err := o.deps.Store.AppendRunLog(ctx, run.ID, entry); err != nil {
		zap.L().Warn("pipeline: append run log failed", zap.Error(err))
	}
}

// stages

func (o *Orchestrator) stageAcquire(ctx context.Context, st *runState) error {
	docs, err := o.deps.Acquirer.Acquire(ctx, st.run.Options.ProductType)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return eris.New("pipeline: acquisition produced no documents")
	}

	for i := range docs {
		p := docs[i].Policy
		st.policies = append(st.policies, &p)
		st.items[p.DocumentRef] = docs[i].Items
	}
	st.run.Stats["documents"] = len(docs)
	return nil
}

func (o *Orchestrator) stageStore(ctx context.Context, st *runState) error {
	if st.run.Options.SkipAcquisition {
		// Re-run over what the store already holds.
		existing, err := o.deps.Store.ListPolicies(ctx, store.PolicyFilter{
			ProductType: st.run.Options.ProductType,
			Limit:       10_000,
		})
		if err != nil {
			return err
		}
		if len(existing) == 0 {
			return eris.New("pipeline: no stored policies to process")
		}
		for i := range existing {
			p := existing[i]
			items, err := o.deps.Store.ListCoverageItems(ctx, p.ID)
			if err != nil {
				return err
			}
			st.policies = append(st.policies, &p)
			st.items[p.ID] = items
		}
		st.run.Stats["documents"] = len(st.policies)
		return nil
	}

	for _, p := range st.policies {
		items := st.items[p.DocumentRef]
		if err := o.deps.Store.UpsertPolicy(ctx, p); err != nil {
			return err
		}
		if err := o.deps.Store.ReplaceCoverageItems(ctx, p.ID, items); err != nil {
			return err
		}
		delete(st.items, p.DocumentRef)
		st.items[p.ID] = items
		o.audit(ctx, "policy", p.ID, "collected", "")
	}
	return nil
}

func (o *Orchestrator) stagePreprocess(ctx context.Context, st *runState) error {
	survivors := st.policies[:0]
	for _, p := range st.policies {
		text, reference, err := o.deps.Preproc.Preprocess(ctx, p)
		if err != nil {
			o.failPolicy(ctx, st, p, "preprocess", err)
			continue
		}
		st.texts[p.ID] = docText{body: text, reference: reference}
		if err := o.advance(ctx, p, model.PolicyStatusPreprocessed); err != nil {
			return err
		}
		survivors = append(survivors, p)
	}
	st.policies = survivors
	if len(st.policies) == 0 {
		return eris.New("pipeline: every document failed preprocessing")
	}
	return nil
}

func (o *Orchestrator) stageIndex(ctx context.Context, st *runState) error {
	for _, p := range st.policies {
		if err := o.deps.Indexer.Index(ctx, p, st.texts[p.ID].body); err != nil {
			return err
		}
		if err := o.advance(ctx, p, model.PolicyStatusIndexed); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) stageExtract(ctx context.Context, st *runState) error {
	primary, err := o.deps.Providers.Inferrer(st.run.Options.Provider)
	if err != nil {
		return err
	}
	var secondary extract.Inferrer
	if st.run.Options.Ensemble {
		secondary, err = o.deps.Providers.Inferrer(st.run.Options.SecondaryProvider)
		if err != nil {
			return err
		}
	}

	survivors := st.policies[:0]
	for _, p := range st.policies {
		if err := ctx.Err(); err != nil {
			return err
		}

		doc := &extract.Document{
			Policy:        p,
			Text:          st.texts[p.ID].body,
			ReferenceText: st.texts[p.ID].reference,
			Items:         st.items[p.ID],
		}
		results, err := o.deps.Engine.Extract(ctx, primary, secondary, doc)
		if err != nil {
			o.failPolicy(ctx, st, p, "extract", err)
			continue
		}
		for i := range results {
			results[i].RunID = st.run.ID
		}
		if err := o.deps.Store.SaveResults(ctx, results); err != nil {
			return err
		}
		if err := o.advance(ctx, p, model.PolicyStatusExtracted); err != nil {
			return err
		}
		st.results = append(st.results, results...)
		survivors = append(survivors, p)
	}
	st.policies = survivors
	if len(st.policies) == 0 {
		return eris.New("pipeline: every document failed extraction")
	}
	st.run.Stats["results"] = len(st.results)
	return nil
}

func (o *Orchestrator) stageMap(ctx context.Context, st *runState) error {
	ambiguous := 0
	mapped := 0
	for i := range st.results {
		r := &st.results[i]
		spec := o.deps.Catalog.ByKey(r.Attr)
		if spec == nil || r.RawValue == "" {
			continue
		}

		code, warn := o.deps.Mapper.Map(spec, r.RawValue)
		if warn != nil {
			ambiguous++
			zap.L().Warn("pipeline: ambiguous mapping resolved first-match",
				zap.String("result_id", r.ID), zap.Error(warn))
			o.audit(ctx, "result", r.ID, "ambiguous_mapping", warn.Error())
		}
		if code == nil {
			continue
		}
		r.CanonicalCode = code
		if err := o.deps.Store.UpdateResult(ctx, r); err != nil {
			return err
		}
		mapped++
	}

	for _, p := range st.policies {
		if err := o.advance(ctx, p, model.PolicyStatusMapped); err != nil {
			return err
		}
	}
	st.run.Stats["mapped"] = mapped
	st.run.Stats["ambiguous_mappings"] = ambiguous
	return nil
}

func (o *Orchestrator) stageValidate(ctx context.Context, st *runState) error {
	counts, err := o.deps.Router.Route(ctx, st.results)
	if err != nil {
		return err
	}
	for _, p := range st.policies {
		if err := o.advance(ctx, p, model.PolicyStatusValidated); err != nil {
			return err
		}
	}
	st.run.Stats["auto_confirmed"] = counts.AutoConfirmed
	st.run.Stats["queued_review"] = counts.QueuedReview
	return nil
}

func (o *Orchestrator) stageOutput(ctx context.Context, st *runState) error {
	batch, err := WriteBatch(ctx, o.deps.Store, o.deps.ExportDir)
	if err != nil {
		return err
	}
	st.batch = batch
	st.run.Stats["batch_rows"] = batch.Rows

	for _, p := range st.policies {
		if err := o.advance(ctx, p, model.PolicyStatusOutput); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) stageTransfer(ctx context.Context, st *runState) error {
	if st.batch == nil || st.batch.Rows == 0 {
		o.log(ctx, st.run, model.StageTransfer, "nothing to transfer")
		return nil
	}

	if _, err := o.deps.Gateway.Transfer(ctx, st.batch.Path); err != nil {
		return err
	}
	for _, p := range st.policies {
		if err := o.advance(ctx, p, model.PolicyStatusTransferred); err != nil {
			return err
		}
	}
	return nil
}

// failPolicy marks one document failed without failing the run. The stage
// fails only when no document survives.
func (o *Orchestrator) failPolicy(ctx context.Context, st *runState, p *model.Policy, stage string, cause error) {
	zap.L().Error("pipeline: document failed",
		zap.String("policy_id", p.ID),
		zap.String("stage", stage),
		zap.Error(cause),
	)
	o.log(ctx, st.run, model.Stage(stage), fmt.Sprintf("document %s failed: %v", p.DocumentRef, cause))
	st.run.Stats["failed_documents"]++
	if p.ID != "" {
		if err := o.deps.Store.AdvancePolicyStatus(ctx, p.ID, model.PolicyStatusFailed); err != nil {
			zap.L().Warn("pipeline: mark policy failed", zap.Error(err))
		}
		o.audit(ctx, "policy", p.ID, "failed", cause.Error())
	}
}

func (o *Orchestrator) advance(ctx context.Context, p *model.Policy, next model.PolicyStatus) error {
	// A re-run may revisit policies already past this status; the status
	// stays where it is rather than moving backwards.
	if !p.Status.CanAdvance(next) {
		return nil
	}
	if err := o.deps.Store.AdvancePolicyStatus(ctx, p.ID, next); err != nil {
		return err
	}
	p.Status = next
	return nil
}

func (o *Orchestrator) audit(ctx context.Context, entityType, entityID, action, details string) {
	err := o.deps.Store.AppendAudit(ctx, &model.AuditLog{
		EventType:  "pipeline",
		EntityType: entityType,
		EntityID:   entityID,
		Actor:      "system",
		Action:     action,
		Details:    details,
	})
	if err != nil {
		zap.L().Warn("pipeline: audit write failed", zap.Error(err))
	}
}
