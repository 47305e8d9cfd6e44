// Package trace maintains the certification traceability graph:
// requirements, the verification objectives that cover them, the tests
// that exercise those objectives, and the append-only change log that
// invalidates them. Verification state only moves upward on a passing
// test and only moves downward through an applied change.
package trace

import "time"

// TestStatus is the execution state of a test.
type TestStatus string

const (
	TestPending  TestStatus = "pending"
	TestPassed   TestStatus = "passed"
	TestFailed   TestStatus = "failed"
	TestAffected TestStatus = "affected" // invalidated by a change, needs re-run
)

// validTestResult reports whether s may be recorded as a run outcome.
// Affected is only ever set by change propagation, never recorded.
func validTestResult(s TestStatus) bool {
	return s == TestPending || s == TestPassed || s == TestFailed
}

// VerificationStatus is the state of a verification objective.
type VerificationStatus string

const (
	VerificationPending VerificationStatus = "pending"
	VerificationPassed  VerificationStatus = "passed"
	VerificationFailed  VerificationStatus = "failed"
)

// Requirement is a safety requirement under traceability.
// Requirements are never deleted, only retired.
type Requirement struct {
	ID          string
	Description string
	Category    string
	Verified    bool
	Retired     bool
}

// VerificationObjective covers exactly one requirement.
type VerificationObjective struct {
	ID            string
	RequirementID string
	Description   string
	Status        VerificationStatus
	Verified      bool
	Evidence      []string
}

// Test exercises exactly one verification objective.
type Test struct {
	ID             string
	VerificationID string
	Description    string
	Status         TestStatus
	Evidence       []string
}

// Change is one immutable entry in the append-only change log.
type Change struct {
	ID         string
	Description string
	Touched    []string // component ids the change touches
	RiskHigh   []string
	RiskMedium []string
	Timestamp  time.Time
}
