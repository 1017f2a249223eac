package consultation

import "time"

// GAMPCategory is the software validation rigor tier. Higher categories
// demand more validation evidence; category 5 (custom software) is the
// most rigorous and therefore the conservative fallback.
type GAMPCategory int

const (
	GAMPCategoryInfrastructure GAMPCategory = 1
	GAMPCategoryNonConfigured  GAMPCategory = 3
	GAMPCategoryConfigured     GAMPCategory = 4
	GAMPCategoryCustom         GAMPCategory = 5
)

// Risk levels for conservative decisions.
const (
	RiskLevelHigh   = "HIGH"
	RiskLevelMedium = "MEDIUM"
	RiskLevelLow    = "LOW"
)

// Validation approaches.
const (
	ValidationFull = "full_validation_required"
)

// ConservativePolicy is the automated fallback decision substituted when
// no human responds in time. Every field is populated on every path so a
// timed-out consultation always yields a complete, auditable decision.
type ConservativePolicy struct {
	GAMPCategory          GAMPCategory `json:"gamp_category"`
	RiskLevel             string       `json:"risk_level"`
	ValidationApproach    string       `json:"validation_approach"`
	TestCoverage          float64      `json:"test_coverage"`
	HumanOverrideRequired bool         `json:"human_override_required"`
	RecommendedActions    []string     `json:"recommended_actions,omitempty"`
	RegulatoryRationale   string       `json:"regulatory_rationale"`
	DefaultSource         string       `json:"default_source"`
	SystemVersion         string       `json:"system_version"`
	ComplianceStandards   []string     `json:"compliance_standards"`
	AppliedAt             time.Time    `json:"applied_at"`
}
