// Package certify implements the configuration layer: configuration
// versions, their safety cases, and the certification gate that
// decides whether a version may transition to certified. The gate is
// conjunctive and fails closed; every failing clause is reported so
// the caller can show exactly what is missing.
package certify

import "time"

// VersionStatus is the certification state of a configuration version.
// Status moves forward only, except the revocation edge
// certified -> changes_pending taken when a change touches a
// referenced component.
type VersionStatus string

const (
	StatusDraft          VersionStatus = "draft"
	StatusChangesPending VersionStatus = "changes_pending"
	StatusCertified      VersionStatus = "certified"
)

// ConfigVersion is one configuration of component values derived from
// a base version. Revision counts edits; the gate uses it to detect a
// version changed between evaluation and commit.
type ConfigVersion struct {
	Version      string
	BaseVersion  string
	Config       map[string]string // component id -> configured value
	Status       VersionStatus
	SafetyCaseID string
	Verified     bool
	VerifiedDate time.Time
	Revision     uint64
}

// SafetyCaseStatus is the state of a safety case.
type SafetyCaseStatus string

const (
	CaseDraft    SafetyCaseStatus = "draft"
	CaseApproved SafetyCaseStatus = "approved"
)

// RequiredEvidence lists the evidence categories a safety case must
// carry, each with at least one reference, before a version can pass
// the gate.
var RequiredEvidence = []string{"traceability", "verification", "testing", "field_data"}

// SafetyCase collects evidence references per category for one
// configuration version.
type SafetyCase struct {
	ID       string
	Version  string
	Evidence map[string][]string // category -> references
	Status   SafetyCaseStatus
}

// MissingEvidence returns the required categories with no reference,
// in the canonical order.
func (sc *SafetyCase) MissingEvidence() []string {
	var missing []string
	for _, cat := range RequiredEvidence {
		if len(sc.Evidence[cat]) == 0 {
			missing = append(missing, cat)
		}
	}
	return missing
}
