package extract

import (
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/terms-cli/internal/model"
)

// defaultSpecs is the built-in catalog for the nine target attributes. A
// catalog file, when configured, replaces it wholesale.
var defaultSpecs = []model.AttributeSpec{
	{
		Key:             model.AttrDiagnosisCode,
		Name:            "Diagnosis Code",
		MappingPatterns: []string{"diagnosis", "FCDF131"},
		Phase1Instruction: "Locate clauses that defer to an appendix/schedule and extract the " +
			"clinical code ranges (e.g. C00-C97) they define, including exclusion codes. " +
			"Describe how those ranges connect to the mapping table's classification codes.",
		Phase2Instruction: "Appendix evidence first: when the policy body points at a schedule, " +
			"read the schedule's code range. Report the mapping table's classification code " +
			"(e.g. 0A1), never a raw clinical code.",
	},
	{
		Key:             model.AttrExemptionCode,
		Name:            "Exemption Code",
		MappingPatterns: []string{"exemption"},
		Phase1Instruction: "Analyze only the exclusion clauses (circumstances the policy does not " +
			"cover). Do not include diagnosis or procedure definitions.",
		Phase2Instruction: "This is an exclusion-clause code, not a disease code. If the policy " +
			"names no exemption code, leave the value empty rather than guessing, and say why " +
			"in the reference sentence.",
	},
	{
		Key:             model.AttrEDICode,
		Name:            "Procedure Classification (EDI) Code",
		MappingPatterns: []string{"edi", "ZFSW072"},
		Phase1Instruction: "Find the surgery/procedure definition clauses and describe how they " +
			"map onto the standard procedure-classification (EDI) code ranges.",
		Phase2Instruction: "Match the coverage's procedure definition against the EDI mapping " +
			"table; fall back to standard medical-coding knowledge when the policy gives no " +
			"explicit code.",
	},
	{
		Key:             model.AttrHospitalGrade,
		Name:            "Hospital Grade",
		MappingPatterns: []string{"hospital_grade"},
		Phase1Instruction: "Find clauses restricting coverage to hospital grades (tertiary, " +
			"general, clinic) and how each grade maps to a grade code.",
		Phase2Instruction: "Judge the grade restriction from the coverage name and policy " +
			"definitions; leave the value empty when no restriction is stated.",
	},
	{
		Key:             model.AttrHospitalClass,
		Name:            "Hospital Classification",
		MappingPatterns: []string{"hospital_class", "ZFCW095"},
		Phase1Instruction: "Find hospital-classification clauses and relate them to the " +
			"classification codes in the mapping table.",
		Phase2Instruction: "Connect the coverage type (admission/outpatient/surgery) with the " +
			"policy's hospital-classification conditions; empty when unspecified.",
	},
	{
		Key:             model.AttrAccidentType,
		Name:            "Accident Type",
		MappingPatterns: []string{"accident_type"},
		Phase1Instruction: "Find the accident-type definitions (illness/injury/disaster) and " +
			"their code assignments.",
		Phase2Instruction: "Decide the accident type from the coverage name; composite coverages " +
			"list every applicable code, comma separated.",
	},
	{
		Key:             model.AttrAdmissionLimit,
		Name:            "Admission Limit Days",
		MappingPatterns: []string{"admission_limit"},
		Phase1Instruction: "Find admission-limit clauses (e.g. 120 days, 180 days per admission) " +
			"and how day counts convert to limit codes.",
		Phase2Instruction: "Report the mapping table's limit code, never the raw day count; " +
			"empty when the policy sets no limit.",
	},
	{
		Key:     model.AttrMinAdmission,
		Name:    "Minimum Admission Days",
		Numeric: true,
		Phase1Instruction: "Find minimum-admission clauses (e.g. benefits payable from the 4th " +
			"day of admission). There is no mapping table; extract the literal day count.",
		Phase2Instruction: "Report the literal day count as a number; empty when the policy has " +
			"no minimum-admission condition.",
	},
	{
		Key:             model.AttrCoveragePeriod,
		Name:            "Coverage Period",
		MappingPatterns: []string{"coverage_period"},
		Phase1Instruction: "Find the coverage-period definitions (e.g. 3 years, to age 100) and " +
			"whether renewable terms change them.",
		Phase2Instruction: "Report the mapping code when a table applies, otherwise the policy's " +
			"own phrasing (e.g. \"10 years\"); empty when no period clause exists.",
	},
}

// DefaultCatalog returns the built-in attribute catalog.
func DefaultCatalog() *model.AttributeCatalog {
	return model.NewAttributeCatalog(defaultSpecs)
}

// LoadCatalog reads an attribute catalog from a YAML file. An empty path
// yields the built-in catalog.
func LoadCatalog(path string) (*model.AttributeCatalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "extract: read catalog %s", path)
	}

	var doc struct {
		Attributes []model.AttributeSpec `yaml:"attributes"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrap(err, "extract: parse catalog")
	}
	if len(doc.Attributes) == 0 {
		return nil, eris.Errorf("extract: catalog %s defines no attributes", path)
	}

	return model.NewAttributeCatalog(doc.Attributes), nil
}

const phase1System = "You are an insurance policy analyst. Extract inference rules for exactly one " +
	"attribute and output only JSON."

const phase1Prompt = `**Goal**: Analyze the reference material below and extract the rules needed to infer **%s** for this product line. Output JSON only.

**Target attribute**: %s

**Mapping tables**:
%s

**Attribute guidance**:
%s

**Shared guidance**:
1. Write rules for this attribute only; never mix in other attributes.
2. Appendix/schedule content always outranks body text.
3. Include judgment criteria that combine the coverage name and template name.

**Reference material**:
%s

**Output format** (JSON only, no other text):
{
  "attribute": "%s",
  "appendix_refs": ["..."],
  "context_clues": ["..."],
  "rules": [
    {"template_pattern": "...", "code": "...", "code_range": "...", "exclusions": ["..."], "note": "..."}
  ]
}

Leave the rules array empty when no meaningful rule exists.`

const phase2System = "You are an insurance policy analyst inferring one structured attribute per " +
	"coverage item. Output only a JSON array."

const phase2Prompt = `**Task**: Combine the coverage items, the policy document, the mapping tables, and the phase-1 rules to infer **%s** for every item. Phase-1 rules are advisory context; this answer is authoritative.

**Attribute**: %s

**Mapping tables**:
%s

**Extracted rules (phase 1, advisory)**:
%s

**Attribute guidance**:
%s

**Shared guidance**:
1. Analyze the items in the order given.
2. Appendix/schedule evidence outranks main-body text when both speak to the same attribute.
3. Use standard insurance/medical knowledge only when the document is silent.
4. When inferred_code is empty, ref_sentence must state the reason.
5. confidence: high (direct document evidence) / medium (external knowledge) / low (guess).
6. source: appendix | policy_text | mapping_table | external_knowledge.

**Policy document**:
%s

**Input items**:
%s

**Output** (JSON array only, no other text):
[
  {"benefit_name": "...", "template_name": "...", "inferred_code": "...", "confidence": "high|medium|low", "source": "appendix|policy_text|mapping_table|external_knowledge", "ref_page": "...", "ref_sentence": "..."}
]`

func buildPhase1Prompt(spec *model.AttributeSpec, mappingContext, referenceText string) string {
	return fmt.Sprintf(phase1Prompt,
		spec.Name, spec.Name, orNone(mappingContext), spec.Phase1Instruction,
		referenceText, spec.Name,
	)
}

func buildPhase2Prompt(spec *model.AttributeSpec, mappingContext, rules, documentText string, items []model.CoverageItem) string {
	var b strings.Builder
	for i, it := range items {
		fmt.Fprintf(&b, "[%d] benefit: %s / template: %s\n", i+1, it.BenefitName, it.TemplateName)
	}

	prompt := fmt.Sprintf(phase2Prompt,
		spec.Name, spec.Name, orNone(mappingContext), orNone(rules),
		spec.Phase2Instruction, documentText, b.String(),
	)
	if spec.FewShotExample != "" {
		prompt += "\n\n**Example**:\n" + spec.FewShotExample
	}
	return prompt
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none available)"
	}
	return s
}
