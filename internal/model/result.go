package model

import "time"

// ConfidenceTier is the coarse routing bucket derived from the numeric
// confidence score.
type ConfidenceTier string

const (
	TierHigh   ConfidenceTier = "high"
	TierMedium ConfidenceTier = "medium"
	TierLow    ConfidenceTier = "low"
)

// Ensemble consensus emits these exact scores; the router threshold was
// tuned against them, so they are constants rather than a formula.
const (
	ConfidenceAgreed       = 0.95
	ConfidencePrimaryHigh  = 0.75
	ConfidenceDisagreement = 0.50
)

// TierForScore derives the confidence tier from a numeric score. The tier is
// a pure function of the score.
func TierForScore(score float64) ConfidenceTier {
	switch {
	case score >= ConfidenceAgreed:
		return TierHigh
	case score >= ConfidencePrimaryHigh:
		return TierMedium
	default:
		return TierLow
	}
}

// VerificationStatus gates an extraction result's path to the output batch.
type VerificationStatus string

const (
	VerificationPending       VerificationStatus = "pending"
	VerificationAutoConfirmed VerificationStatus = "auto_confirmed"
	VerificationPendingReview VerificationStatus = "pending_review"
	VerificationApproved      VerificationStatus = "approved"
	VerificationRejected      VerificationStatus = "rejected"
)

// OutputEligible reports whether a result with this status may enter an
// output batch.
func (s VerificationStatus) OutputEligible() bool {
	return s == VerificationAutoConfirmed || s == VerificationApproved
}

// EvidenceSource names where a provider says its answer came from.
type EvidenceSource string

const (
	SourceAppendix      EvidenceSource = "appendix"
	SourcePolicyText    EvidenceSource = "policy_text"
	SourceMappingTable  EvidenceSource = "mapping_table"
	SourceExternalKnown EvidenceSource = "external_knowledge"
)

// Provenance records which providers produced a result and whether the
// ensemble agreed.
type Provenance struct {
	PrimaryProvider   string         `json:"primary_provider"`
	SecondaryProvider string         `json:"secondary_provider,omitempty"`
	Agreement         bool           `json:"agreement"`
	Ensemble          bool           `json:"ensemble"`
	Source            EvidenceSource `json:"source,omitempty"`
	RefPage           string         `json:"ref_page,omitempty"`
	RefSentence       string         `json:"ref_sentence,omitempty"`
}

// ExtractionResult is one (policy, coverage item, attribute) extraction.
// It becomes immutable once output-eligible and included in a batch.
type ExtractionResult struct {
	ID       string       `json:"id"`
	PolicyID string       `json:"policy_id"`
	RunID    string       `json:"run_id,omitempty"`
	Item     CoverageItem `json:"item"`
	Attr     Attribute    `json:"attribute"`

	RawValue      string         `json:"raw_value"`
	CanonicalCode *string        `json:"canonical_code,omitempty"`
	Confidence    float64        `json:"confidence"`
	Tier          ConfidenceTier `json:"tier"`
	Provenance    Provenance     `json:"provenance"`

	Verification VerificationStatus `json:"verification_status"`
	Exported     bool               `json:"exported"`
	ExportedAt   *time.Time         `json:"exported_at,omitempty"`
	ExtractedAt  time.Time          `json:"extracted_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// Key returns the canonical identity of a result within its policy.
type ResultKey struct {
	PolicyID     string
	BenefitName  string
	TemplateName string
	Attr         Attribute
}

// ResultKeyOf builds the canonical policy+attribute key for r.
func ResultKeyOf(r *ExtractionResult) ResultKey {
	return ResultKey{
		PolicyID:     r.PolicyID,
		BenefitName:  r.Item.BenefitName,
		TemplateName: r.Item.TemplateName,
		Attr:         r.Attr,
	}
}
