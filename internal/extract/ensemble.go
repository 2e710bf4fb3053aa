package extract

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/terms-cli/internal/model"
)

// consensusResult is the outcome of comparing two providers' authoritative
// answers for one (item, attribute) pair. The primary provider's value is
// adopted in every branch; the secondary only influences the score.
type consensusResult struct {
	Value     string
	Score     float64
	Tier      model.ConfidenceTier
	Agreement bool
}

// consensus scores a primary/secondary answer pair. Equal normalized values
// score agreed; unequal values score by whether the primary reported high
// confidence in its own answer.
func consensus(primary, secondary itemAnswer) consensusResult {
	if normalizeValue(primary.InferredCode) == normalizeValue(secondary.InferredCode) {
		return consensusResult{
			Value:     primary.InferredCode,
			Score:     model.ConfidenceAgreed,
			Tier:      model.TierForScore(model.ConfidenceAgreed),
			Agreement: true,
		}
	}
	if parseSelfReported(primary.Confidence) == model.TierHigh {
		return consensusResult{
			Value: primary.InferredCode,
			Score: model.ConfidencePrimaryHigh,
			Tier:  model.TierForScore(model.ConfidencePrimaryHigh),
		}
	}
	return consensusResult{
		Value: primary.InferredCode,
		Score: model.ConfidenceDisagreement,
		Tier:  model.TierForScore(model.ConfidenceDisagreement),
	}
}

// normalizeValue folds a value for comparison: NFKC normalization, lowercase,
// and all whitespace removed. Two empty answers therefore agree.
func normalizeValue(v string) string {
	folded := norm.NFKC.String(v)
	folded = strings.ToLower(folded)
	return strings.Join(strings.Fields(folded), "")
}

// parseSelfReported maps the provider's self-reported confidence label to a
// tier, defaulting to low for anything unrecognized.
func parseSelfReported(label string) model.ConfidenceTier {
	switch model.ConfidenceTier(strings.ToLower(strings.TrimSpace(label))) {
	case model.TierHigh:
		return model.TierHigh
	case model.TierMedium:
		return model.TierMedium
	default:
		return model.TierLow
	}
}

// selfReportedScore converts a single provider's confidence label to a
// numeric score for non-ensemble runs.
func selfReportedScore(label string) float64 {
	switch parseSelfReported(label) {
	case model.TierHigh:
		return 0.95
	case model.TierMedium:
		return 0.70
	default:
		return 0.40
	}
}
