package certify

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"certtrace/internal/logging"
	"certtrace/internal/trace"
)

func TestMain(m *testing.M) {
	logging.InitNop()
	m.Run()
}

// certifiable builds a graph with one verified requirement and a
// registry holding version 1.0.0 referencing it, with a fully
// evidenced, approved safety case.
func certifiable(t *testing.T) (*trace.Graph, *Registry) {
	t.Helper()

	g := trace.NewGraph()
	require.NoError(t, g.AddRequirement("REQ-SAF-001", "watchdog restart", "safety"))
	require.NoError(t, g.AddVerification("VC-SAF-001", "REQ-SAF-001", "demonstrate restart"))
	require.NoError(t, g.AddTest("TEST-SAF-001", "VC-SAF-001", "force timeout"))
	require.NoError(t, g.RecordTestResult("TEST-SAF-001", trace.TestPassed))

	r := NewRegistry()
	require.NoError(t, r.CreateVersion("1.0.0", ""))
	require.NoError(t, r.SetComponent("1.0.0", "REQ-SAF-001", "enabled"))
	require.NoError(t, r.CreateSafetyCase("SC-1", "1.0.0"))
	for _, cat := range RequiredEvidence {
		require.NoError(t, r.AddCaseEvidence("SC-1", cat, cat+"-ref-1"))
	}
	require.NoError(t, r.ApproveSafetyCase("SC-1"))
	return g, r
}

func TestEvaluatePassesWhenAllClausesHold(t *testing.T) {
	g, r := certifiable(t)
	gate := NewGate(r)

	eval, err := gate.Evaluate(g.Snapshot(), "1.0.0")
	require.NoError(t, err)
	require.True(t, eval.OK, "reasons: %v", eval.Reasons)
	require.Empty(t, eval.Reasons)
}

// Flipping any single gate clause flips the result, with that clause's
// reason present.
func TestEvaluateFlipsPerClause(t *testing.T) {
	t.Run("unverified requirement", func(t *testing.T) {
		g, r := certifiable(t)
		p := trace.NewPropagator(g, r)
		require.NoError(t, p.ApplyChange(trace.NewChange("rework", []string{"REQ-SAF-001"}, nil, nil)))

		eval, err := NewGate(r).Evaluate(g.Snapshot(), "1.0.0")
		require.NoError(t, err)
		require.False(t, eval.OK)
		require.Contains(t, eval.Reasons, "unverified requirement: REQ-SAF-001")
	})

	t.Run("safety case not approved", func(t *testing.T) {
		g, r := certifiable(t)
		r.cases["SC-1"].Status = CaseDraft

		eval, err := NewGate(r).Evaluate(g.Snapshot(), "1.0.0")
		require.NoError(t, err)
		require.False(t, eval.OK)
		require.Contains(t, eval.Reasons, "safety case not approved")
	})

	t.Run("missing evidence category", func(t *testing.T) {
		g, r := certifiable(t)
		delete(r.cases["SC-1"].Evidence, "field_data")

		eval, err := NewGate(r).Evaluate(g.Snapshot(), "1.0.0")
		require.NoError(t, err)
		require.False(t, eval.OK)
		require.Contains(t, eval.Reasons, "missing evidence: field_data")
	})

	t.Run("no safety case", func(t *testing.T) {
		g, r := certifiable(t)
		r.versions["1.0.0"].SafetyCaseID = ""

		eval, err := NewGate(r).Evaluate(g.Snapshot(), "1.0.0")
		require.NoError(t, err)
		require.False(t, eval.OK)
		require.Contains(t, eval.Reasons, "no safety case linked")
	})
}

func TestEvaluateFailsClosedOnUnknownRequirementRef(t *testing.T) {
	g, r := certifiable(t)
	require.NoError(t, r.SetComponent("1.0.0", "REQ-GHOST", "enabled"))

	eval, err := NewGate(r).Evaluate(g.Snapshot(), "1.0.0")
	require.NoError(t, err)
	require.False(t, eval.OK)
	require.Contains(t, eval.Reasons, "unverified requirement: REQ-GHOST")
}

func TestCertifyCommits(t *testing.T) {
	g, r := certifiable(t)
	gate := NewGate(r)
	gate.now = func() time.Time { return time.Unix(1700000000, 0) }

	snap := g.Snapshot()
	eval, err := gate.Evaluate(snap, "1.0.0")
	require.NoError(t, err)
	require.True(t, eval.OK)

	require.NoError(t, gate.Certify(snap, "1.0.0", eval.Revision))

	v, err := r.Version("1.0.0")
	require.NoError(t, err)
	require.Equal(t, StatusCertified, v.Status)
	require.True(t, v.Verified)
	require.False(t, v.VerifiedDate.IsZero())

	// Re-issuing the commit after a partial failure is safe.
	require.NoError(t, gate.Certify(snap, "1.0.0", eval.Revision))
}

func TestCertifyRejectsStaleRevision(t *testing.T) {
	g, r := certifiable(t)
	gate := NewGate(r)

	snap := g.Snapshot()
	eval, err := gate.Evaluate(snap, "1.0.0")
	require.NoError(t, err)

	// Version edited between evaluate and certify.
	require.NoError(t, r.SetComponent("1.0.0", "logging", "verbose"))

	err = gate.Certify(snap, "1.0.0", eval.Revision)
	var stale *StaleVersionError
	require.ErrorAs(t, err, &stale)
	require.Equal(t, "1.0.0", stale.Version)

	v, _ := r.Version("1.0.0")
	require.NotEqual(t, StatusCertified, v.Status, "stale certify must not mutate")
}

func TestCertifyRejectsWithItemizedReasons(t *testing.T) {
	g, r := certifiable(t)
	delete(r.cases["SC-1"].Evidence, "field_data")
	r.cases["SC-1"].Status = CaseDraft
	gate := NewGate(r)

	snap := g.Snapshot()
	eval, err := gate.Evaluate(snap, "1.0.0")
	require.NoError(t, err)

	err = gate.Certify(snap, "1.0.0", eval.Revision)
	var gateErr *GateError
	require.ErrorAs(t, err, &gateErr)
	require.Contains(t, gateErr.Reasons, "safety case not approved")
	require.Contains(t, gateErr.Reasons, "missing evidence: field_data")

	v, _ := r.Version("1.0.0")
	require.Equal(t, StatusDraft, v.Status)
	require.False(t, v.Verified)
}

// A change touching a referenced component revokes certification and
// clears verification; this is the only regression path.
func TestChangeRevokesCertifiedVersion(t *testing.T) {
	g, r := certifiable(t)
	gate := NewGate(r)

	snap := g.Snapshot()
	eval, err := gate.Evaluate(snap, "1.0.0")
	require.NoError(t, err)
	require.NoError(t, gate.Certify(snap, "1.0.0", eval.Revision))

	p := trace.NewPropagator(g, r)
	require.NoError(t, p.ApplyChange(trace.NewChange("rework handler", []string{"REQ-SAF-001"}, []string{"REQ-SAF-001"}, nil)))

	v, err := r.Version("1.0.0")
	require.NoError(t, err)
	require.Equal(t, StatusChangesPending, v.Status)
	require.False(t, v.Verified)

	req, _ := g.Snapshot().Requirement("REQ-SAF-001")
	require.False(t, req.Verified)
}

func TestSetComponentOnCertifiedVersionRejected(t *testing.T) {
	g, r := certifiable(t)
	gate := NewGate(r)
	snap := g.Snapshot()
	eval, _ := gate.Evaluate(snap, "1.0.0")
	require.NoError(t, gate.Certify(snap, "1.0.0", eval.Revision))

	err := r.SetComponent("1.0.0", "REQ-SAF-001", "disabled")
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestApproveSafetyCaseRequiresEvidence(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.CreateVersion("2.0.0", ""))
	require.NoError(t, r.CreateSafetyCase("SC-2", "2.0.0"))
	require.NoError(t, r.AddCaseEvidence("SC-2", "traceability", "matrix.csv"))

	err := r.ApproveSafetyCase("SC-2")
	require.ErrorIs(t, err, ErrEvidenceMissing)

	sc, _ := r.SafetyCase("SC-2")
	require.Equal(t, CaseDraft, sc.Status)
}

func TestCreateVersionFromBaseCopiesConfig(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.CreateVersion("1.0.0", ""))
	require.NoError(t, r.SetComponent("1.0.0", "REQ-1", "on"))
	require.NoError(t, r.CreateVersion("1.1.0", "1.0.0"))
	require.NoError(t, r.SetComponent("1.1.0", "REQ-2", "on"))

	base, _ := r.Version("1.0.0")
	derived, _ := r.Version("1.1.0")
	require.Len(t, base.Config, 1)
	require.Len(t, derived.Config, 2)
	require.Equal(t, "on", derived.Config["REQ-1"])

	err := r.CreateVersion("3.0.0", "2.9.9")
	require.ErrorIs(t, err, ErrUnknownVersion)
	require.ErrorIs(t, r.CreateVersion("1.0.0", ""), ErrDuplicateID)
}

func TestWriteConfigReport(t *testing.T) {
	g, r := certifiable(t)
	gate := NewGate(r)

	var sb strings.Builder
	require.NoError(t, WriteConfigReport(&sb, gate, g.Snapshot()))

	out := sb.String()
	require.Contains(t, out, "version: 1.0.0")
	require.Contains(t, out, "base_version: none")
	require.Contains(t, out, "REQ-SAF-001: enabled")
	require.Contains(t, out, "safety_case: SC-1 (approved)")
	require.Contains(t, out, "certification_ready: true")
}

func TestRestoreRoundTrip(t *testing.T) {
	_, r := certifiable(t)
	restored, err := Restore(r.Versions(), r.SafetyCases())
	require.NoError(t, err)

	v, err := restored.Version("1.0.0")
	require.NoError(t, err)
	require.Equal(t, "SC-1", v.SafetyCaseID)

	sc, err := restored.SafetyCase("SC-1")
	require.NoError(t, err)
	require.Equal(t, CaseApproved, sc.Status)

	_, err = Restore(append(r.Versions(), ConfigVersion{Version: "1.0.0"}), nil)
	require.Error(t, err)
}

func TestErrorsAreLocal(t *testing.T) {
	r := NewRegistry()
	_, err := r.Version("nope")
	require.ErrorIs(t, err, ErrUnknownVersion)
	require.ErrorIs(t, r.AddCaseEvidence("nope", "testing", "x"), ErrUnknownCase)
	require.True(t, errors.Is(r.ApproveSafetyCase("nope"), ErrUnknownCase))
}
