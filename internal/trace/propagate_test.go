package trace

import (
	"errors"
	"testing"
)

type fakeRevoker struct {
	calls   [][]string
	revoked []string
}

func (f *fakeRevoker) RevokeTouching(ids []string) []string {
	f.calls = append(f.calls, ids)
	return f.revoked
}

func verifiedChain(t *testing.T) *Graph {
	t.Helper()
	g := buildChain(t)
	if err := g.RecordTestResult("TEST-SAF-001", TestPassed); err != nil {
		t.Fatal(err)
	}
	return g
}

func TestApplyChangeInvalidatesDownstreamOfRequirement(t *testing.T) {
	g := verifiedChain(t)
	rev := &fakeRevoker{}
	p := NewPropagator(g, rev)

	change := NewChange("rework watchdog handler", []string{"REQ-SAF-001"}, nil, nil)
	if err := p.ApplyChange(change); err != nil {
		t.Fatalf("ApplyChange: %v", err)
	}

	snap := g.Snapshot()
	req, _ := snap.Requirement("REQ-SAF-001")
	if req.Verified {
		t.Error("requirement still verified after change")
	}
	if verif := snap.verifications["VC-SAF-001"]; verif.Verified {
		t.Error("verification still verified after change")
	}
	test, _ := snap.Test("TEST-SAF-001")
	if test.Status != TestAffected {
		t.Errorf("test status = %s, want affected", test.Status)
	}

	if len(rev.calls) != 1 {
		t.Fatalf("revoker called %d times, want 1", len(rev.calls))
	}
	if got := rev.calls[0]; len(got) != 1 || got[0] != "REQ-SAF-001" {
		t.Errorf("revoker got %v", got)
	}
	if got := len(g.Changes()); got != 1 {
		t.Errorf("change log has %d entries, want 1", got)
	}
}

func TestApplyChangeOnTestInvalidatesUpward(t *testing.T) {
	g := verifiedChain(t)
	p := NewPropagator(g, nil)

	if err := p.ApplyChange(NewChange("edit test harness", []string{"TEST-SAF-001"}, nil, nil)); err != nil {
		t.Fatal(err)
	}

	snap := g.Snapshot()
	test, _ := snap.Test("TEST-SAF-001")
	if test.Status != TestAffected {
		t.Errorf("test status = %s, want affected", test.Status)
	}
	if verif := snap.verifications["VC-SAF-001"]; verif.Verified {
		t.Error("verification still verified")
	}
	req, _ := snap.Requirement("REQ-SAF-001")
	if req.Verified {
		t.Error("requirement still verified")
	}
}

func TestApplyChangeOnVerificationInvalidatesBothWays(t *testing.T) {
	g := verifiedChain(t)
	p := NewPropagator(g, nil)

	if err := p.ApplyChange(NewChange("revise objective", []string{"VC-SAF-001"}, nil, nil)); err != nil {
		t.Fatal(err)
	}

	snap := g.Snapshot()
	test, _ := snap.Test("TEST-SAF-001")
	if test.Status != TestAffected {
		t.Errorf("test status = %s, want affected", test.Status)
	}
	req, _ := snap.Requirement("REQ-SAF-001")
	if req.Verified {
		t.Error("requirement still verified")
	}
}

// A change touching any unknown id is rejected whole: no partial
// invalidation, no change log entry, no revocation.
func TestApplyChangeUnknownComponentAtomic(t *testing.T) {
	g := verifiedChain(t)
	rev := &fakeRevoker{}
	p := NewPropagator(g, rev)

	change := NewChange("bad change", []string{"REQ-SAF-001", "REQ-NOPE"}, nil, nil)
	if err := p.ApplyChange(change); !errors.Is(err, ErrUnknownComponent) {
		t.Fatalf("err = %v, want ErrUnknownComponent", err)
	}

	snap := g.Snapshot()
	req, _ := snap.Requirement("REQ-SAF-001")
	if !req.Verified {
		t.Error("rejected change still invalidated the requirement")
	}
	if len(g.Changes()) != 0 {
		t.Error("rejected change appended to change log")
	}
	if len(rev.calls) != 0 {
		t.Error("rejected change reached the revoker")
	}
}

func TestNewChangeGeneratesID(t *testing.T) {
	a := NewChange("a", nil, nil, nil)
	b := NewChange("b", nil, nil, nil)
	if a.ID == "" || a.ID == b.ID {
		t.Errorf("change ids not unique: %q %q", a.ID, b.ID)
	}
	if a.Timestamp.IsZero() {
		t.Error("change timestamp not set")
	}
}
