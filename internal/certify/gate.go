package certify

import (
	"fmt"
	"sort"
	"time"

	"certtrace/internal/logging"
	"certtrace/internal/trace"
)

// Gate evaluates and commits certification of configuration versions
// against a traceability snapshot.
type Gate struct {
	registry *Registry
	now      func() time.Time
}

// NewGate returns a gate over the registry.
func NewGate(registry *Registry) *Gate {
	return &Gate{registry: registry, now: time.Now}
}

// Evaluation is the outcome of a gate check. Revision is the version
// revision the evaluation observed; pass it to Certify so a
// concurrent edit is detected instead of certifying stale evidence.
type Evaluation struct {
	OK       bool
	Reasons  []string
	Revision uint64
}

// Evaluate checks the certification conjunction for a version:
// every requirement referenced by its config is verified, its safety
// case is approved, and the case carries every required evidence
// category. One reason per failing clause.
func (g *Gate) Evaluate(snap *trace.Snapshot, version string) (Evaluation, error) {
	r := g.registry
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.versions[version]
	if !ok {
		return Evaluation{}, fmt.Errorf("%w: %s", ErrUnknownVersion, version)
	}
	return g.evaluateLocked(snap, v), nil
}

// evaluateLocked computes the gate conjunction. Callers hold the
// registry lock (read or write).
func (g *Gate) evaluateLocked(snap *trace.Snapshot, v *ConfigVersion) Evaluation {
	eval := Evaluation{Revision: v.Revision}

	var requirementIDs []string
	for component := range v.Config {
		if _, ok := snap.Requirement(component); ok || isRequirementRef(component) {
			requirementIDs = append(requirementIDs, component)
		}
	}
	for _, id := range sortStrings(snap.UnverifiedRequirements(requirementIDs)) {
		eval.Reasons = append(eval.Reasons, "unverified requirement: "+id)
	}

	if v.SafetyCaseID == "" {
		eval.Reasons = append(eval.Reasons, "no safety case linked")
	} else {
		sc, ok := g.registry.cases[v.SafetyCaseID]
		if !ok {
			eval.Reasons = append(eval.Reasons, "no safety case linked")
		} else {
			if sc.Status != CaseApproved {
				eval.Reasons = append(eval.Reasons, "safety case not approved")
			}
			for _, cat := range sc.MissingEvidence() {
				eval.Reasons = append(eval.Reasons, "missing evidence: "+cat)
			}
		}
	}

	eval.OK = len(eval.Reasons) == 0
	return eval
}

// Certify commits certification. It re-evaluates the gate under the
// registry lock even when the caller already evaluated it, and it
// rejects the commit when the version revision no longer matches the
// one the caller evaluated. On success the version becomes certified
// and verified with a recorded date; on failure nothing is mutated.
func (g *Gate) Certify(snap *trace.Snapshot, version string, observedRevision uint64) error {
	r := g.registry
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.versions[version]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownVersion, version)
	}
	if v.Revision != observedRevision {
		return &StaleVersionError{Version: version, Observed: observedRevision, Current: v.Revision}
	}
	if v.Status == StatusCertified {
		// Re-issuing an already-committed certification is safe.
		return nil
	}

	if eval := g.evaluateLocked(snap, v); !eval.OK {
		return &GateError{Version: version, Reasons: eval.Reasons}
	}

	v.Status = StatusCertified
	v.Verified = true
	v.VerifiedDate = g.now().UTC()
	logging.Certify("version %s certified at %s", version, v.VerifiedDate.Format(time.RFC3339))
	return nil
}

// isRequirementRef reports whether a component id names a requirement
// by convention. Config maps may also carry plain component values;
// only requirement references participate in the verification clause.
// An id that looks like a requirement but is absent from the graph
// still fails the gate closed via UnverifiedRequirements.
func isRequirementRef(id string) bool {
	return len(id) > 4 && id[:4] == "REQ-"
}

func sortStrings(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}
