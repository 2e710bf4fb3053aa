package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/terms-cli/internal/model"
	"github.com/sells-group/terms-cli/internal/provider"
	"github.com/sells-group/terms-cli/internal/resilience"
)

// Inferrer is the slice of the provider adapter the engine needs.
type Inferrer interface {
	Name() string
	Infer(ctx context.Context, req provider.InferRequest) (*provider.InferResponse, error)
}

// MappingContext supplies mapping-table excerpts for prompt context. The
// engine only reads; table loading and reloads live with the mapper.
type MappingContext interface {
	ContextFor(spec *model.AttributeSpec) string
}

// Document is one preprocessed policy ready for extraction.
type Document struct {
	Policy *model.Policy
	// Text is the full preprocessed policy text fed to phase 2.
	Text string
	// ReferenceText is the curated phase-1 material (appendix and schedule
	// sections). When empty, phase 1 reads Text.
	ReferenceText string
	Items         []model.CoverageItem
}

type attrState string

const (
	statePending          attrState = "pending"
	statePhase1Done       attrState = "phase1_done"
	statePhase2Done       attrState = "phase2_done"
	stateConsensusPending attrState = "consensus_pending"
	stateFinalized        attrState = "finalized"
)

// attributeRun tracks one attribute's progress through the two phases for a
// single provider. Attributes never share state; one stuck attribute cannot
// hold back the other eight.
type attributeRun struct {
	spec    *model.AttributeSpec
	state   attrState
	rules   string
	answers []itemAnswer
	err     error
}

// Engine runs the two-phase extraction over a document: phase 1 distills
// per-attribute inference rules from the reference material, phase 2 produces
// the authoritative per-item answers with the rules as advisory context.
type Engine struct {
	catalog        *model.AttributeCatalog
	mapping        MappingContext
	maxConcurrency int
	maxTokens      int
}

// Option configures the engine.
type Option func(*Engine)

// WithMaxConcurrency bounds the number of attributes in flight at once.
func WithMaxConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxConcurrency = n
		}
	}
}

// WithMaxTokens sets the per-call completion budget.
func WithMaxTokens(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxTokens = n
		}
	}
}

// NewEngine creates an extraction engine over the given attribute catalog.
func NewEngine(catalog *model.AttributeCatalog, mapping MappingContext, opts ...Option) *Engine {
	e := &Engine{
		catalog:        catalog,
		mapping:        mapping,
		maxConcurrency: 3,
		maxTokens:      8192,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Extract runs every catalog attribute against the primary provider, and
// against the secondary as well when one is given, then assembles one result
// per (item, attribute). A provider that stays unavailable for an attribute
// yields null-value results with zero confidence rather than failing the
// document; only context cancellation aborts.
func (e *Engine) Extract(ctx context.Context, primary, secondary Inferrer, doc *Document) ([]model.ExtractionResult, error) {
	if primary == nil {
		return nil, eris.New("extract: primary provider is required")
	}
	if len(doc.Items) == 0 {
		return nil, eris.Errorf("extract: policy %s has no coverage items", doc.Policy.ID)
	}

	primaryRuns := e.newRuns()
	var secondaryRuns []*attributeRun
	if secondary != nil {
		secondaryRuns = e.newRuns()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxConcurrency)

	for _, run := range primaryRuns {
		g.Go(func() error {
			return e.extractAttribute(gctx, primary, doc, run)
		})
	}
	for _, run := range secondaryRuns {
		g.Go(func() error {
			return e.extractAttribute(gctx, secondary, doc, run)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return e.assemble(primary, secondary, doc, primaryRuns, secondaryRuns), nil
}

func (e *Engine) newRuns() []*attributeRun {
	runs := make([]*attributeRun, len(e.catalog.Specs))
	for i := range e.catalog.Specs {
		runs[i] = &attributeRun{spec: &e.catalog.Specs[i], state: statePending}
	}
	return runs
}

// extractAttribute drives one attribute through both phases for one
// provider. Phase-1 failure degrades to extraction without rules; phase-2
// failure marks the run failed and is surfaced per item during assembly.
func (e *Engine) extractAttribute(ctx context.Context, inf Inferrer, doc *Document, run *attributeRun) error {
	log := zap.L().With(
		zap.String("provider", inf.Name()),
		zap.String("attribute", string(run.spec.Key)),
		zap.String("policy_id", doc.Policy.ID),
	)

	mappingCtx := ""
	if e.mapping != nil {
		mappingCtx = e.mapping.ContextFor(run.spec)
	}

	rules, err := e.runPhase1(ctx, inf, doc, run.spec, mappingCtx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("extract: phase 1 failed, continuing without rules", zap.Error(err))
	}
	run.rules = rules
	run.state = statePhase1Done

	answers, err := e.runPhase2(ctx, inf, doc, run.spec, mappingCtx, rules)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Error("extract: phase 2 failed, attribute left unextracted", zap.Error(err))
		run.err = err
		run.state = stateFinalized
		return nil
	}

	run.answers = matchAnswers(doc.Items, answers)
	run.state = statePhase2Done
	log.Info("extract: attribute extracted", zap.Int("items", len(doc.Items)))
	return nil
}

func (e *Engine) runPhase1(ctx context.Context, inf Inferrer, doc *Document, spec *model.AttributeSpec, mappingCtx string) (string, error) {
	reference := doc.ReferenceText
	if reference == "" {
		reference = doc.Text
	}

	resp, err := inf.Infer(ctx, provider.InferRequest{
		System:      phase1System,
		Prompt:      buildPhase1Prompt(spec, mappingCtx, truncate(reference, maxPromptChars)),
		DocumentRef: doc.Policy.DocumentRef,
		MaxTokens:   e.maxTokens,
	})
	if err != nil {
		return "", err
	}

	rules, err := parsePhase1Object(inf.Name(), resp.Text)
	if err != nil {
		repaired, rerr := e.repair(ctx, inf, resp.Text, "a single JSON object")
		if rerr != nil {
			return "", err
		}
		return parsePhase1Object(inf.Name(), repaired)
	}
	return rules, nil
}

func (e *Engine) runPhase2(ctx context.Context, inf Inferrer, doc *Document, spec *model.AttributeSpec, mappingCtx, rules string) ([]itemAnswer, error) {
	resp, err := inf.Infer(ctx, provider.InferRequest{
		System:      phase2System,
		Prompt:      buildPhase2Prompt(spec, mappingCtx, rules, truncate(doc.Text, maxPromptChars), doc.Items),
		DocumentRef: doc.Policy.DocumentRef,
		MaxTokens:   e.maxTokens,
	})
	if err != nil {
		return nil, err
	}

	answers, err := parsePhase2Array(inf.Name(), resp.Text)
	if err != nil {
		repaired, rerr := e.repair(ctx, inf, resp.Text, "a JSON array of item objects")
		if rerr != nil {
			return nil, err
		}
		return parsePhase2Array(inf.Name(), repaired)
	}
	return answers, nil
}

// repair asks the provider to reshape a malformed response into valid JSON.
// One attempt only; a second malformed response fails the phase.
func (e *Engine) repair(ctx context.Context, inf Inferrer, malformed, want string) (string, error) {
	resp, err := inf.Infer(ctx, provider.InferRequest{
		System: "You repair malformed JSON. Output only the corrected JSON with the original content preserved.",
		Prompt: fmt.Sprintf("The following response should be %s but does not parse. Output the corrected JSON only.\n\n%s",
			want, truncate(malformed, maxPromptChars)),
		MaxTokens: e.maxTokens,
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// matchAnswers aligns provider answers to the input items: exact match on
// (benefit, template) first, then substring match, then an empty answer for
// anything the provider skipped.
func matchAnswers(items []model.CoverageItem, answers []itemAnswer) []itemAnswer {
	aligned := make([]itemAnswer, len(items))
	used := make([]bool, len(answers))

	for i, it := range items {
		idx := -1
		for j, a := range answers {
			if used[j] {
				continue
			}
			if a.BenefitName == it.BenefitName && a.TemplateName == it.TemplateName {
				idx = j
				break
			}
		}
		if idx < 0 {
			for j, a := range answers {
				if used[j] {
					continue
				}
				if strings.Contains(a.BenefitName, it.BenefitName) || strings.Contains(it.BenefitName, a.BenefitName) {
					idx = j
					break
				}
			}
		}
		if idx >= 0 {
			used[idx] = true
			aligned[i] = answers[idx]
			aligned[i].BenefitName = it.BenefitName
			aligned[i].TemplateName = it.TemplateName
		} else {
			aligned[i] = itemAnswer{
				BenefitName:  it.BenefitName,
				TemplateName: it.TemplateName,
				RefSentence:  "no answer returned for this item",
				Confidence:   "low",
			}
		}
	}
	return aligned
}

// assemble folds the per-provider runs into one ExtractionResult per
// (item, attribute), applying ensemble scoring when a secondary ran.
func (e *Engine) assemble(primary, secondary Inferrer, doc *Document, primaryRuns, secondaryRuns []*attributeRun) []model.ExtractionResult {
	now := time.Now().UTC()
	results := make([]model.ExtractionResult, 0, len(doc.Items)*len(primaryRuns))

	for ai, prun := range primaryRuns {
		var srun *attributeRun
		if secondaryRuns != nil {
			srun = secondaryRuns[ai]
		}

		for ii, item := range doc.Items {
			r := model.ExtractionResult{
				ID:           uuid.NewString(),
				PolicyID:     doc.Policy.ID,
				Item:         item,
				Attr:         prun.spec.Key,
				Verification: model.VerificationPending,
				ExtractedAt:  now,
				UpdatedAt:    now,
				Provenance: model.Provenance{
					PrimaryProvider: primary.Name(),
					Ensemble:        secondary != nil,
				},
			}
			if secondary != nil {
				r.Provenance.SecondaryProvider = secondary.Name()
			}

			switch {
			case prun.err != nil:
				// Provider exhausted for this attribute: a null result with
				// zero confidence, routed to review downstream.
				var unavailable *resilience.ProviderUnavailableError
				if !errors.As(prun.err, &unavailable) {
					zap.L().Warn("extract: non-provider failure finalized as null",
						zap.String("attribute", string(prun.spec.Key)), zap.Error(prun.err))
				}
				r.Tier = model.TierLow

			case srun != nil && srun.err == nil:
				prun.state = stateConsensusPending
				c := consensus(prun.answers[ii], srun.answers[ii])
				r.RawValue = c.Value
				r.Confidence = c.Score
				r.Tier = c.Tier
				r.Provenance.Agreement = c.Agreement
				fillEvidence(&r, prun.answers[ii])

			default:
				if srun != nil {
					zap.L().Warn("extract: secondary unavailable, scoring primary alone",
						zap.String("attribute", string(prun.spec.Key)))
					r.Provenance.Ensemble = false
					r.Provenance.SecondaryProvider = ""
				}
				a := prun.answers[ii]
				r.RawValue = a.InferredCode
				r.Confidence = selfReportedScore(a.Confidence)
				r.Tier = model.TierForScore(r.Confidence)
				fillEvidence(&r, a)
			}

			results = append(results, r)
		}
		prun.state = stateFinalized
	}
	return results
}

func fillEvidence(r *model.ExtractionResult, a itemAnswer) {
	r.Provenance.Source = model.EvidenceSource(a.Source)
	r.Provenance.RefPage = a.RefPage
	r.Provenance.RefSentence = a.RefSentence
}

const maxPromptChars = 150_000

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "\n...(truncated)"
}
