package model

import "time"

// PolicyStatus tracks a policy document through the pipeline. Statuses only
// move forward; the single allowed regression is failed → re-entry on a new
// run.
type PolicyStatus string

const (
	PolicyStatusCollected    PolicyStatus = "collected"
	PolicyStatusPreprocessed PolicyStatus = "preprocessed"
	PolicyStatusIndexed      PolicyStatus = "indexed"
	PolicyStatusExtracted    PolicyStatus = "extracted"
	PolicyStatusMapped       PolicyStatus = "mapped"
	PolicyStatusValidated    PolicyStatus = "validated"
	PolicyStatusOutput       PolicyStatus = "output"
	PolicyStatusTransferred  PolicyStatus = "transferred"
	PolicyStatusFailed       PolicyStatus = "failed"
)

// statusRank orders policy statuses for the monotonic-advance guard.
var statusRank = map[PolicyStatus]int{
	PolicyStatusCollected:    1,
	PolicyStatusPreprocessed: 2,
	PolicyStatusIndexed:      3,
	PolicyStatusExtracted:    4,
	PolicyStatusMapped:       5,
	PolicyStatusValidated:    6,
	PolicyStatusOutput:       7,
	PolicyStatusTransferred:  8,
}

// CanAdvance reports whether a policy may move from its current status to
// next. Moving to failed is always allowed, and a failed policy may re-enter
// at any stage.
func (s PolicyStatus) CanAdvance(next PolicyStatus) bool {
	if next == PolicyStatusFailed || s == PolicyStatusFailed {
		return true
	}
	return statusRank[next] > statusRank[s]
}

// Policy is one insured product's policy document. Policies are never
// deleted; a new document version supersedes the old one.
type Policy struct {
	ID          string       `json:"id"`
	ProductCode string       `json:"product_code"`
	ProductName string       `json:"product_name"`
	ProductType string       `json:"product_type,omitempty"`
	Version     string       `json:"version,omitempty"`
	DocumentRef string       `json:"document_ref"`
	SourceURL   string       `json:"source_url,omitempty"`
	Status      PolicyStatus `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// CoverageItem is one detailed-coverage row of a policy's benefit schedule:
// the (benefit name, template name) pair every attribute is extracted for.
type CoverageItem struct {
	BenefitCode    string `json:"benefit_code,omitempty"`
	BenefitName    string `json:"benefit_name"`
	SubBenefitCode string `json:"sub_benefit_code,omitempty"`
	TemplateCode   string `json:"template_code,omitempty"`
	TemplateName   string `json:"template_name"`
}
