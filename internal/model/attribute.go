package model

// Attribute identifies one of the nine structured fields extracted per
// coverage item.
type Attribute string

const (
	AttrDiagnosisCode  Attribute = "diagnosis_code"
	AttrExemptionCode  Attribute = "exemption_code"
	AttrEDICode        Attribute = "edi_code"
	AttrHospitalGrade  Attribute = "hospital_grade"
	AttrHospitalClass  Attribute = "hospital_class"
	AttrAccidentType   Attribute = "accident_type"
	AttrAdmissionLimit Attribute = "admission_limit"
	AttrMinAdmission   Attribute = "min_admission"
	AttrCoveragePeriod Attribute = "coverage_period"
)

// Attributes lists the nine target attributes in extraction (and CSV column)
// order.
var Attributes = []Attribute{
	AttrDiagnosisCode,
	AttrExemptionCode,
	AttrEDICode,
	AttrHospitalGrade,
	AttrHospitalClass,
	AttrAccidentType,
	AttrAdmissionLimit,
	AttrMinAdmission,
	AttrCoveragePeriod,
}

// AttributeSpec holds the per-attribute extraction template: prompt
// instructions for both phases, a few-shot example, and filename patterns
// selecting the mapping tables injected as context.
type AttributeSpec struct {
	Key               Attribute `yaml:"key"`
	Name              string    `yaml:"name"`
	MappingPatterns   []string  `yaml:"mapping_patterns"`
	Phase1Instruction string    `yaml:"phase1_instruction"`
	Phase2Instruction string    `yaml:"phase2_instruction"`
	FewShotExample    string    `yaml:"few_shot_example"`
	// Numeric attributes map through plain integer ranges instead of the
	// alphanumeric clinical-code ordering.
	Numeric bool `yaml:"numeric"`
}

// AttributeCatalog is an indexed collection of attribute specs.
type AttributeCatalog struct {
	Specs []AttributeSpec
	byKey map[Attribute]*AttributeSpec
}

// NewAttributeCatalog builds an indexed catalog from specs.
func NewAttributeCatalog(specs []AttributeSpec) *AttributeCatalog {
	c := &AttributeCatalog{
		Specs: specs,
		byKey: make(map[Attribute]*AttributeSpec, len(specs)),
	}
	for i := range c.Specs {
		c.byKey[c.Specs[i].Key] = &c.Specs[i]
	}
	return c
}

// ByKey returns the spec for the given attribute, or nil.
func (c *AttributeCatalog) ByKey(key Attribute) *AttributeSpec {
	return c.byKey[key]
}
