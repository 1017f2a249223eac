package service

import (
	"sort"
	"strings"
	"time"

	"github.com/validata/consultd/internal/domain/consultation"
)

// systemVersion identifies the automated fallback source in generated
// decisions.
const systemVersion = "consultd/1.0"

// complianceStandards referenced by every conservative default.
var complianceStandards = []string{"GAMP-5", "21 CFR Part 11", "ALCOA+"}

// conservativeDefaults maps a consultation type to the safest automated
// decision. Timeout is treated as the worst case: no branch, including
// the unknown-type branch, ever yields a low-risk or partial-coverage
// outcome.
func conservativeDefaults(req consultation.Request, now time.Time) consultation.ConservativePolicy {
	p := consultation.ConservativePolicy{
		GAMPCategory:          consultation.GAMPCategoryCustom,
		RiskLevel:             consultation.RiskLevelHigh,
		ValidationApproach:    consultation.ValidationFull,
		TestCoverage:          1.0,
		HumanOverrideRequired: true,
		DefaultSource:         "automated_conservative_fallback",
		SystemVersion:         systemVersion,
		ComplianceStandards:   complianceStandards,
		AppliedAt:             now.UTC(),
	}

	switch typeFamily(req.Type) {
	case familyCategorization:
		p.RegulatoryRationale = "No human response within the consultation window; " +
			"defaulting to GAMP category 5 with full validation rigor until a " +
			"qualified reviewer overrides the classification."
	case familyPlanning:
		p.RegulatoryRationale = "Planning consultation unanswered; requiring full " +
			"validation coverage and flagging the plan for mandatory human review."
		p.RecommendedActions = []string{
			"require_full_test_coverage",
			"schedule_human_plan_review",
			"freeze_risk_based_reductions",
		}
	default:
		p.RegulatoryRationale = "Unrecognized consultation type \"" + req.Type +
			"\"; applying maximum-scrutiny defaults pending human review."
	}
	return p
}

type family int

const (
	familyUnknown family = iota
	familyCategorization
	familyPlanning
)

// typeFamily buckets a consultation type string. Matching is loose on
// purpose: any "*_failure"/"*_error" variant of a known family lands in
// that family, everything else falls through to the conservative default.
func typeFamily(t string) family {
	t = strings.ToLower(t)
	switch {
	case strings.HasPrefix(t, "categorization"):
		return familyCategorization
	case strings.HasPrefix(t, "planning"):
		return familyPlanning
	default:
		return familyUnknown
	}
}

// Escalation contact identifiers.
const (
	contactRegulatoryCompliance = "regulatory_compliance_lead"
	contactQualityAssurance     = "quality_assurance_lead"
	contactValidationEngineer   = "validation_engineering"
)

// highRiskExpertise are role tags whose presence in a request always
// pulls in the regulatory/compliance contact.
var highRiskExpertise = map[string]struct{}{
	"gamp_specialist":       {},
	"validation_engineer":   {},
	"regulatory_affairs":    {},
	"quality_assurance":     {},
	"computerized_systems":  {},
	"data_integrity_expert": {},
}

// escalationContacts resolves who must be pulled in when a consultation
// escalates. Deterministic in the request's expertise list and urgency;
// the result is de-duplicated and sorted for stable audit records.
func escalationContacts(req consultation.Request) []string {
	set := map[string]struct{}{
		contactValidationEngineer: {},
	}
	for _, exp := range req.RequiredExpertise {
		if _, ok := highRiskExpertise[strings.ToLower(exp)]; ok {
			set[contactRegulatoryCompliance] = struct{}{}
		}
	}
	if req.Urgency == consultation.UrgencyCritical {
		set[contactQualityAssurance] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
