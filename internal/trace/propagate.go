package trace

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"certtrace/internal/logging"
)

// Revoker revokes certification of configuration versions that
// reference any of the given component ids. Implemented by the
// configuration layer; the propagator only knows the contract.
type Revoker interface {
	RevokeTouching(componentIDs []string) (revoked []string)
}

// Propagator applies changes to the graph, invalidating verification
// state downstream of every touched component and revoking certified
// configuration versions that reference them. This is the only path
// by which verified state regresses.
type Propagator struct {
	graph   *Graph
	revoker Revoker
}

// NewPropagator returns a propagator over graph. revoker may be nil
// when no configuration layer is attached (e.g. graph-only tools).
func NewPropagator(graph *Graph, revoker Revoker) *Propagator {
	return &Propagator{graph: graph, revoker: revoker}
}

// NewChange builds an immutable change entry with a generated id and
// the current timestamp.
func NewChange(description string, touched, riskHigh, riskMedium []string) Change {
	return Change{
		ID:          "CHG-" + uuid.NewString(),
		Description: description,
		Touched:     touched,
		RiskHigh:    riskHigh,
		RiskMedium:  riskMedium,
		Timestamp:   time.Now().UTC(),
	}
}

// ApplyChange validates every touched component, then invalidates the
// graph downstream of each and revokes certified versions referencing
// them. Validation happens before any mutation: a change touching one
// unknown id leaves the graph untouched.
func (p *Propagator) ApplyChange(change Change) error {
	g := p.graph
	g.mu.Lock()

	for _, id := range change.Touched {
		if !g.idRegistered(id) {
			g.mu.Unlock()
			return fmt.Errorf("%w: change %s touches %s", ErrUnknownComponent, change.ID, id)
		}
	}

	for _, id := range change.Touched {
		p.invalidate(id)
	}
	g.changes = append(g.changes, change)
	g.mu.Unlock()

	logging.Trace("applied change %s touching %d components", change.ID, len(change.Touched))

	if p.revoker != nil {
		if revoked := p.revoker.RevokeTouching(change.Touched); len(revoked) > 0 {
			logging.Trace("change %s revoked certification of versions %v", change.ID, revoked)
		}
	}
	return nil
}

// invalidate clears verification state around one component id,
// walking downward from a requirement and upward from a verification
// objective or test. Callers hold g.mu and have validated id.
func (p *Propagator) invalidate(id string) {
	g := p.graph

	if req, ok := g.requirements[id]; ok {
		req.Verified = false
		for _, vid := range g.verificationsByReq[id] {
			p.invalidateVerification(g.verifications[vid])
		}
		return
	}

	if verif, ok := g.verifications[id]; ok {
		p.invalidateVerification(verif)
		g.requirements[verif.RequirementID].Verified = false
		return
	}

	test := g.tests[id]
	test.Status = TestAffected
	verif := g.verifications[test.VerificationID]
	verif.Verified = false
	g.requirements[verif.RequirementID].Verified = false
}

func (p *Propagator) invalidateVerification(verif *VerificationObjective) {
	verif.Verified = false
	for _, tid := range p.graph.testsByVerif[verif.ID] {
		p.graph.tests[tid].Status = TestAffected
	}
}
