package trace

import (
	"fmt"
	"sort"
	"sync"

	"certtrace/internal/logging"
)

// Graph stores the traceability entities and their edges. All state
// lives on the Graph instance; callers construct one explicitly and
// pass it where needed. A batch run is single-threaded, but the graph
// is guarded so read-only consumers can snapshot it from elsewhere.
type Graph struct {
	mu sync.RWMutex

	requirements  map[string]*Requirement
	verifications map[string]*VerificationObjective
	tests         map[string]*Test
	changes       []Change

	// Edge indexes, maintained on registration.
	verificationsByReq map[string][]string // requirement id -> verification ids
	testsByVerif       map[string][]string // verification id -> test ids
}

// NewGraph returns an empty traceability graph.
func NewGraph() *Graph {
	return &Graph{
		requirements:       make(map[string]*Requirement),
		verifications:      make(map[string]*VerificationObjective),
		tests:              make(map[string]*Test),
		verificationsByReq: make(map[string][]string),
		testsByVerif:       make(map[string][]string),
	}
}

// AddRequirement registers a safety requirement.
func (g *Graph) AddRequirement(id, description, category string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idRegistered(id) {
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	g.requirements[id] = &Requirement{
		ID:          id,
		Description: description,
		Category:    category,
	}
	logging.TraceDebug("registered requirement %s (%s)", id, category)
	return nil
}

// AddVerification registers a verification objective covering one
// requirement.
func (g *Graph) AddVerification(id, requirementID, description string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idRegistered(id) {
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	if _, ok := g.requirements[requirementID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRequirement, requirementID)
	}
	g.verifications[id] = &VerificationObjective{
		ID:            id,
		RequirementID: requirementID,
		Description:   description,
		Status:        VerificationPending,
	}
	g.verificationsByReq[requirementID] = append(g.verificationsByReq[requirementID], id)
	return nil
}

// AddTest registers a test exercising one verification objective.
func (g *Graph) AddTest(id, verificationID, description string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idRegistered(id) {
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	if _, ok := g.verifications[verificationID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownVerification, verificationID)
	}
	g.tests[id] = &Test{
		ID:             id,
		VerificationID: verificationID,
		Description:    description,
		Status:         TestPending,
	}
	g.testsByVerif[verificationID] = append(g.testsByVerif[verificationID], id)
	return nil
}

// RecordTestResult records a run outcome for a test. A passing result
// propagates verification upward: the covering objective and its
// requirement become verified. A failing result marks the objective
// failed but leaves verified flags untouched; verification is only
// revoked by a change, not by a failed re-run.
func (g *Graph) RecordTestResult(testID string, status TestStatus) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !validTestResult(status) {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	test, ok := g.tests[testID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTest, testID)
	}

	test.Status = status
	if status == TestFailed {
		g.verifications[test.VerificationID].Status = VerificationFailed
	}
	if status != TestPassed {
		logging.TraceDebug("test %s recorded %s, no propagation", testID, status)
		return nil
	}

	verif := g.verifications[test.VerificationID]
	verif.Status = VerificationPassed
	verif.Verified = true

	req := g.requirements[verif.RequirementID]
	req.Verified = true
	logging.Trace("test %s passed: verified %s and %s", testID, verif.ID, req.ID)
	return nil
}

// AddEvidence attaches an evidence reference to a test and mirrors it
// onto the covering verification objective.
func (g *Graph) AddEvidence(testID, ref string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	test, ok := g.tests[testID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTest, testID)
	}
	test.Evidence = append(test.Evidence, ref)
	verif := g.verifications[test.VerificationID]
	verif.Evidence = append(verif.Evidence, ref)
	return nil
}

// RetireRequirement marks a requirement retired. Retired requirements
// stay in the graph for audit but are excluded from gating and export.
func (g *Graph) RetireRequirement(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	req, ok := g.requirements[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRequirement, id)
	}
	req.Retired = true
	logging.Trace("retired requirement %s", id)
	return nil
}

// Changes returns the append-only change log in application order.
func (g *Graph) Changes() []Change {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Change, len(g.changes))
	copy(out, g.changes)
	return out
}

// Stats summarizes graph contents for logging.
type Stats struct {
	Requirements  int
	Verified      int
	Verifications int
	Tests         int
	Affected      int
	Changes       int
}

// Stats returns current graph counts.
func (g *Graph) Stats() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	s := Stats{
		Requirements:  len(g.requirements),
		Verifications: len(g.verifications),
		Tests:         len(g.tests),
		Changes:       len(g.changes),
	}
	for _, r := range g.requirements {
		if r.Verified {
			s.Verified++
		}
	}
	for _, t := range g.tests {
		if t.Status == TestAffected {
			s.Affected++
		}
	}
	return s
}

// idRegistered reports whether id names any entity. Callers hold mu.
func (g *Graph) idRegistered(id string) bool {
	if _, ok := g.requirements[id]; ok {
		return true
	}
	if _, ok := g.verifications[id]; ok {
		return true
	}
	_, ok := g.tests[id]
	return ok
}

// sortedKeys returns map keys in stable order for deterministic
// exports and reports.
func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
