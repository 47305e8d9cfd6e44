package trace

// Snapshot is an immutable copy of the graph for read-only consumers
// (certification gate, reporting scheduler, exporters). It observes
// nothing mutated after it was taken.
type Snapshot struct {
	requirements  map[string]Requirement
	verifications map[string]VerificationObjective
	tests         map[string]Test

	verificationsByReq map[string][]string
	testsByVerif       map[string][]string
}

// Snapshot copies the graph.
func (g *Graph) Snapshot() *Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()

	s := &Snapshot{
		requirements:       make(map[string]Requirement, len(g.requirements)),
		verifications:      make(map[string]VerificationObjective, len(g.verifications)),
		tests:              make(map[string]Test, len(g.tests)),
		verificationsByReq: make(map[string][]string, len(g.verificationsByReq)),
		testsByVerif:       make(map[string][]string, len(g.testsByVerif)),
	}
	for id, r := range g.requirements {
		s.requirements[id] = *r
	}
	for id, v := range g.verifications {
		vc := *v
		vc.Evidence = append([]string(nil), v.Evidence...)
		s.verifications[id] = vc
	}
	for id, t := range g.tests {
		tc := *t
		tc.Evidence = append([]string(nil), t.Evidence...)
		s.tests[id] = tc
	}
	for id, vids := range g.verificationsByReq {
		s.verificationsByReq[id] = append([]string(nil), vids...)
	}
	for id, tids := range g.testsByVerif {
		s.testsByVerif[id] = append([]string(nil), tids...)
	}
	return s
}

// Requirement returns a requirement by id.
func (s *Snapshot) Requirement(id string) (Requirement, bool) {
	r, ok := s.requirements[id]
	return r, ok
}

// Verification returns a verification objective by id.
func (s *Snapshot) Verification(id string) (VerificationObjective, bool) {
	v, ok := s.verifications[id]
	return v, ok
}

// Test returns a test by id.
func (s *Snapshot) Test(id string) (Test, bool) {
	t, ok := s.tests[id]
	return t, ok
}

// RequirementIDs returns all requirement ids in stable order.
func (s *Snapshot) RequirementIDs() []string {
	return sortedKeys(s.requirements)
}

// UnverifiedRequirements returns, from the given ids, those that exist
// and are not verified. Unknown ids are reported as unverified: the
// gate fails closed on references it cannot resolve.
func (s *Snapshot) UnverifiedRequirements(ids []string) []string {
	var out []string
	for _, id := range ids {
		r, ok := s.requirements[id]
		if !ok || (!r.Verified && !r.Retired) {
			out = append(out, id)
		}
	}
	return out
}

// AffectedTests returns tests in the affected state, in stable order.
func (s *Snapshot) AffectedTests() []Test {
	var out []Test
	for _, id := range sortedKeys(s.tests) {
		if t := s.tests[id]; t.Status == TestAffected {
			out = append(out, t)
		}
	}
	return out
}

// Triple is one (requirement, verification, test) row of the
// traceability matrix.
type Triple struct {
	Requirement  Requirement
	Verification VerificationObjective
	Test         Test
}

// Triples walks the matrix in stable order, one entry per
// (requirement, verification, test) edge path. Retired requirements
// are excluded.
func (s *Snapshot) Triples() []Triple {
	var out []Triple
	for _, rid := range sortedKeys(s.requirements) {
		req := s.requirements[rid]
		if req.Retired {
			continue
		}
		for _, vid := range s.verificationsByReq[rid] {
			verif := s.verifications[vid]
			for _, tid := range s.testsByVerif[vid] {
				out = append(out, Triple{Requirement: req, Verification: verif, Test: s.tests[tid]})
			}
		}
	}
	return out
}
