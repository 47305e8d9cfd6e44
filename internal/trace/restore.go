package trace

import "fmt"

// Restore rebuilds a graph from persisted entities, revalidating every
// edge. Used by the store when resuming a batch run.
func Restore(reqs []Requirement, verifs []VerificationObjective, tests []Test, changes []Change) (*Graph, error) {
	g := NewGraph()

	for _, r := range reqs {
		if g.idRegistered(r.ID) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, r.ID)
		}
		rc := r
		g.requirements[r.ID] = &rc
	}
	for _, v := range verifs {
		if g.idRegistered(v.ID) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, v.ID)
		}
		if _, ok := g.requirements[v.RequirementID]; !ok {
			return nil, fmt.Errorf("%w: %s (required by %s)", ErrUnknownRequirement, v.RequirementID, v.ID)
		}
		vc := v
		g.verifications[v.ID] = &vc
		g.verificationsByReq[v.RequirementID] = append(g.verificationsByReq[v.RequirementID], v.ID)
	}
	for _, t := range tests {
		if g.idRegistered(t.ID) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, t.ID)
		}
		if _, ok := g.verifications[t.VerificationID]; !ok {
			return nil, fmt.Errorf("%w: %s (required by %s)", ErrUnknownVerification, t.VerificationID, t.ID)
		}
		tc := t
		g.tests[t.ID] = &tc
		g.testsByVerif[t.VerificationID] = append(g.testsByVerif[t.VerificationID], t.ID)
	}
	g.changes = append(g.changes, changes...)

	return g, nil
}

// Entities returns copies of all stored entities for persistence.
func (g *Graph) Entities() (reqs []Requirement, verifs []VerificationObjective, tests []Test, changes []Change) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, id := range sortedKeys(g.requirements) {
		reqs = append(reqs, *g.requirements[id])
	}
	for _, id := range sortedKeys(g.verifications) {
		v := *g.verifications[id]
		v.Evidence = append([]string(nil), g.verifications[id].Evidence...)
		verifs = append(verifs, v)
	}
	for _, id := range sortedKeys(g.tests) {
		t := *g.tests[id]
		t.Evidence = append([]string(nil), g.tests[id].Evidence...)
		tests = append(tests, t)
	}
	changes = append(changes, g.changes...)
	return reqs, verifs, tests, changes
}
