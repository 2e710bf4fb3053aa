package extract

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/terms-cli/internal/model"
	"github.com/sells-group/terms-cli/internal/provider"
	"github.com/sells-group/terms-cli/internal/resilience"
)

// fakeInferrer scripts phase-2 answers per attribute name and can fail
// selected attributes with a provider error.
type fakeInferrer struct {
	name    string
	phase2  map[string]string
	fail    map[string]error
	phase1  string
	noRules bool
}

func (f *fakeInferrer) Name() string { return f.name }

func (f *fakeInferrer) Infer(_ context.Context, req provider.InferRequest) (*provider.InferResponse, error) {
	attr := ""
	for name := range f.phase2 {
		if strings.Contains(req.Prompt, "**"+name+"**") {
			attr = name
			break
		}
	}
	for name, err := range f.fail {
		if strings.Contains(req.Prompt, "**"+name+"**") {
			return nil, err
		}
	}

	switch req.System {
	case phase1System:
		if f.noRules {
			return nil, &resilience.ProviderUnavailableError{Provider: f.name, Err: errors.New("rules unavailable")}
		}
		body := f.phase1
		if body == "" {
			body = `{"attribute":"` + attr + `","rules":[]}`
		}
		return &provider.InferResponse{Text: body, Model: "test"}, nil
	case phase2System:
		body, ok := f.phase2[attr]
		if !ok {
			return &provider.InferResponse{Text: "[]", Model: "test"}, nil
		}
		return &provider.InferResponse{Text: body, Model: "test"}, nil
	default:
		return &provider.InferResponse{Text: "[]", Model: "test"}, nil
	}
}

func testCatalog() *model.AttributeCatalog {
	return model.NewAttributeCatalog([]model.AttributeSpec{
		{Key: model.AttrDiagnosisCode, Name: "Diagnosis Code"},
		{Key: model.AttrAccidentType, Name: "Accident Type"},
	})
}

func testDoc() *Document {
	return &Document{
		Policy: &model.Policy{ID: "pol-1", DocumentRef: "pol-1.pdf"},
		Text:   "policy body",
		Items: []model.CoverageItem{
			{BenefitName: "Cancer Diagnosis", TemplateName: "Lump Sum"},
			{BenefitName: "Hospitalization", TemplateName: "Daily"},
		},
	}
}

func answers(codes map[string]string, confidence string) string {
	var b strings.Builder
	b.WriteString("[")
	first := true
	for benefit, code := range codes {
		if !first {
			b.WriteString(",")
		}
		first = false
		template := "Lump Sum"
		if benefit == "Hospitalization" {
			template = "Daily"
		}
		b.WriteString(`{"benefit_name":"` + benefit + `","template_name":"` + template +
			`","inferred_code":"` + code + `","confidence":"` + confidence +
			`","source":"policy_text","ref_page":"3","ref_sentence":"clause 2"}`)
	}
	b.WriteString("]")
	return b.String()
}

func TestEngine_Extract_SingleProvider(t *testing.T) {
	primary := &fakeInferrer{
		name: "gemini",
		phase2: map[string]string{
			"Diagnosis Code": answers(map[string]string{"Cancer Diagnosis": "0A1", "Hospitalization": "0B2"}, "high"),
			"Accident Type":  answers(map[string]string{"Cancer Diagnosis": "1", "Hospitalization": "1,2"}, "medium"),
		},
	}

	eng := NewEngine(testCatalog(), nil)
	results, err := eng.Extract(context.Background(), primary, nil, testDoc())
	require.NoError(t, err)
	require.Len(t, results, 4)

	byKey := map[model.ResultKey]model.ExtractionResult{}
	for _, r := range results {
		byKey[model.ResultKeyOf(&r)] = r
	}

	diag := byKey[model.ResultKey{PolicyID: "pol-1", BenefitName: "Cancer Diagnosis", TemplateName: "Lump Sum", Attr: model.AttrDiagnosisCode}]
	assert.Equal(t, "0A1", diag.RawValue)
	assert.Equal(t, 0.95, diag.Confidence)
	assert.Equal(t, model.TierHigh, diag.Tier)
	assert.Equal(t, "gemini", diag.Provenance.PrimaryProvider)
	assert.False(t, diag.Provenance.Ensemble)
	assert.Equal(t, model.SourcePolicyText, diag.Provenance.Source)
	assert.Equal(t, "3", diag.Provenance.RefPage)
	assert.Equal(t, model.VerificationPending, diag.Verification)

	acc := byKey[model.ResultKey{PolicyID: "pol-1", BenefitName: "Hospitalization", TemplateName: "Daily", Attr: model.AttrAccidentType}]
	assert.Equal(t, "1,2", acc.RawValue)
	assert.Equal(t, 0.70, acc.Confidence)
	assert.Equal(t, model.TierMedium, acc.Tier)
}

func TestEngine_Extract_EnsembleScoring(t *testing.T) {
	primary := &fakeInferrer{
		name: "gemini",
		phase2: map[string]string{
			"Diagnosis Code": answers(map[string]string{"Cancer Diagnosis": "0A1", "Hospitalization": "0B2"}, "high"),
			"Accident Type":  answers(map[string]string{"Cancer Diagnosis": "1", "Hospitalization": "2"}, "high"),
		},
	}
	secondary := &fakeInferrer{
		name: "openai",
		phase2: map[string]string{
			// Agrees on diagnosis, disagrees on accident type.
			"Diagnosis Code": answers(map[string]string{"Cancer Diagnosis": "0A1", "Hospitalization": "0B2"}, "low"),
			"Accident Type":  answers(map[string]string{"Cancer Diagnosis": "3", "Hospitalization": "3"}, "high"),
		},
	}

	eng := NewEngine(testCatalog(), nil)
	results, err := eng.Extract(context.Background(), primary, secondary, testDoc())
	require.NoError(t, err)
	require.Len(t, results, 4)

	for _, r := range results {
		assert.True(t, r.Provenance.Ensemble)
		assert.Equal(t, "openai", r.Provenance.SecondaryProvider)
		switch r.Attr {
		case model.AttrDiagnosisCode:
			assert.Equal(t, model.ConfidenceAgreed, r.Confidence)
			assert.True(t, r.Provenance.Agreement)
		case model.AttrAccidentType:
			// Primary self-reported high, so the disagreement lands at medium.
			assert.Equal(t, model.ConfidencePrimaryHigh, r.Confidence)
			assert.False(t, r.Provenance.Agreement)
			// Primary's value wins.
			assert.Contains(t, []string{"1", "2"}, r.RawValue)
		}
	}
}

func TestEngine_Extract_StuckAttributeDoesNotBlockOthers(t *testing.T) {
	primary := &fakeInferrer{
		name: "gemini",
		phase2: map[string]string{
			"Diagnosis Code": answers(map[string]string{"Cancer Diagnosis": "0A1", "Hospitalization": "0B2"}, "high"),
			"Accident Type":  "",
		},
		fail: map[string]error{
			"Accident Type": &resilience.ProviderUnavailableError{Provider: "gemini", Err: errors.New("all models down")},
		},
	}

	eng := NewEngine(testCatalog(), nil)
	results, err := eng.Extract(context.Background(), primary, nil, testDoc())
	require.NoError(t, err)
	require.Len(t, results, 4)

	for _, r := range results {
		switch r.Attr {
		case model.AttrDiagnosisCode:
			assert.NotEmpty(t, r.RawValue)
			assert.Equal(t, 0.95, r.Confidence)
		case model.AttrAccidentType:
			assert.Empty(t, r.RawValue)
			assert.Zero(t, r.Confidence)
			assert.Equal(t, model.TierLow, r.Tier)
		}
	}
}

func TestEngine_Extract_SecondaryFailureFallsBackToPrimary(t *testing.T) {
	primary := &fakeInferrer{
		name: "gemini",
		phase2: map[string]string{
			"Diagnosis Code": answers(map[string]string{"Cancer Diagnosis": "0A1", "Hospitalization": "0B2"}, "medium"),
			"Accident Type":  answers(map[string]string{"Cancer Diagnosis": "1", "Hospitalization": "2"}, "medium"),
		},
	}
	secondary := &fakeInferrer{
		name:   "openai",
		phase2: map[string]string{"Diagnosis Code": "", "Accident Type": ""},
		fail: map[string]error{
			"Diagnosis Code": &resilience.ProviderUnavailableError{Provider: "openai", Err: errors.New("down")},
			"Accident Type":  &resilience.ProviderUnavailableError{Provider: "openai", Err: errors.New("down")},
		},
	}

	eng := NewEngine(testCatalog(), nil)
	results, err := eng.Extract(context.Background(), primary, secondary, testDoc())
	require.NoError(t, err)

	for _, r := range results {
		assert.False(t, r.Provenance.Ensemble)
		assert.Empty(t, r.Provenance.SecondaryProvider)
		assert.Equal(t, 0.70, r.Confidence)
	}
}

func TestEngine_Extract_UnansweredItemGetsEmptyLowAnswer(t *testing.T) {
	primary := &fakeInferrer{
		name: "gemini",
		phase2: map[string]string{
			// Only the first item is answered.
			"Diagnosis Code": answers(map[string]string{"Cancer Diagnosis": "0A1"}, "high"),
			"Accident Type":  answers(map[string]string{"Cancer Diagnosis": "1"}, "high"),
		},
	}

	eng := NewEngine(testCatalog(), nil)
	results, err := eng.Extract(context.Background(), primary, nil, testDoc())
	require.NoError(t, err)

	for _, r := range results {
		if r.Item.BenefitName == "Hospitalization" {
			assert.Empty(t, r.RawValue)
			assert.Equal(t, 0.40, r.Confidence)
			assert.Equal(t, model.TierLow, r.Tier)
		}
	}
}

func TestEngine_Extract_NoItems(t *testing.T) {
	eng := NewEngine(testCatalog(), nil)
	doc := testDoc()
	doc.Items = nil

	_, err := eng.Extract(context.Background(), &fakeInferrer{name: "gemini"}, nil, doc)
	require.Error(t, err)
}

func TestMatchAnswers_SubstringFallback(t *testing.T) {
	items := []model.CoverageItem{{BenefitName: "Cancer Diagnosis", TemplateName: "Lump Sum"}}
	got := matchAnswers(items, []itemAnswer{
		{BenefitName: "Cancer Diagnosis Benefit", TemplateName: "Lump Sum Payment", InferredCode: "0A1"},
	})

	require.Len(t, got, 1)
	assert.Equal(t, "0A1", got[0].InferredCode)
	// Realigned to the input item's identity.
	assert.Equal(t, "Cancer Diagnosis", got[0].BenefitName)
	assert.Equal(t, "Lump Sum", got[0].TemplateName)
}
