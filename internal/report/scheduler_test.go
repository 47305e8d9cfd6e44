package report

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"certtrace/internal/improve"
	"certtrace/internal/ledger"
	"certtrace/internal/logging"
	"certtrace/internal/trace"
)

func TestMain(m *testing.M) {
	logging.InitNop()
	m.Run()
}

var testRules = []Rule{
	{
		Standard:    "IEC 61508",
		Clause:      "7.4.5",
		Description: "report dangerous failures in the field",
		Kind:        RuleContinuous,
		Threshold:   Duration(72 * time.Hour),
	},
	{
		Standard:    "ISO 26262",
		Clause:      "8-9",
		Description: "track unresolved problem reports",
		Kind:        RuleProblemResolution,
	},
}

func incident(seq uint32, typ ledger.RecordType, age time.Duration, now time.Time) Incident {
	_, priority := improve.Classify(typ)
	return Incident{Sequence: seq, Type: typ, Priority: priority, Timestamp: now.Add(-age)}
}

func TestContinuousRuleSelectsOldUnsubmittedSevereIncidents(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	s := NewScheduler(testRules)

	incidents := []Incident{
		incident(1, ledger.TypeMemoryCorruption, 100*time.Hour, now), // high, old -> due
		incident(2, ledger.TypeMemoryCorruption, 10*time.Hour, now),  // high, young -> not due
		incident(3, ledger.TypeSensorFault, 200*time.Hour, now),      // medium -> never
		incident(4, ledger.TypeWatchdogReset, 80*time.Hour, now),     // critical, old -> due
	}

	obls := s.DueReports(now, incidents, nil, nil)
	require.Len(t, obls, 2)
	for _, o := range obls {
		require.Equal(t, "IEC 61508", o.Standard)
		require.Equal(t, "7.4.5", o.Clause)
		require.Equal(t, ObligationOutstanding, o.Status)
		require.False(t, o.DueSince.After(now))
	}
}

func TestMarkSubmittedClearsObligation(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	s := NewScheduler(testRules)
	incidents := []Incident{incident(1, ledger.TypeWatchdogReset, 100*time.Hour, now)}

	require.Len(t, s.DueReports(now, incidents, nil, nil), 1)

	s.MarkSubmitted(1)
	require.True(t, s.Submitted(1))
	require.Empty(t, s.DueReports(now, incidents, nil, nil))

	// Acknowledging twice is harmless and keeps the first ack time.
	first := s.Submissions()[1]
	s.MarkSubmitted(1)
	require.Equal(t, first, s.Submissions()[1])
}

func TestProblemResolutionRuleScansAffectedTests(t *testing.T) {
	g := trace.NewGraph()
	require.NoError(t, g.AddRequirement("REQ-1", "", "safety"))
	require.NoError(t, g.AddVerification("VC-1", "REQ-1", ""))
	require.NoError(t, g.AddTest("TEST-1", "VC-1", ""))
	require.NoError(t, g.AddTest("TEST-2", "VC-1", ""))
	p := trace.NewPropagator(g, nil)
	require.NoError(t, p.ApplyChange(trace.NewChange("edit", []string{"REQ-1"}, nil, nil)))

	now := time.Unix(1700000000, 0).UTC()
	s := NewScheduler(testRules)

	// Both tests affected, neither linked to an improvement.
	obls := s.DueReports(now, nil, g.Snapshot(), nil)
	require.Len(t, obls, 2)
	require.Equal(t, "ISO 26262", obls[0].Standard)

	// Linking one test to an in-flight improvement clears its duty.
	obls = s.DueReports(now, nil, g.Snapshot(), map[string]bool{"TEST-1": true})
	require.Len(t, obls, 1)
}

func TestDueReportsDoesNotMutate(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	s := NewScheduler(testRules)
	incidents := []Incident{incident(1, ledger.TypeMemoryCorruption, 100*time.Hour, now)}

	first := s.DueReports(now, incidents, nil, nil)
	second := s.DueReports(now, incidents, nil, nil)
	require.Equal(t, first, second)
}

func TestLoadRules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reporting.yaml")
	body := `rules:
  - standard: IEC 61508
    clause: "7.4.5"
    description: report dangerous failures
    kind: continuous
    threshold: 72h
  - standard: ISO 26262
    clause: "8-9"
    description: unresolved problems
    kind: problem_resolution
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	rules, err := LoadRules(path)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	require.Equal(t, Duration(72*time.Hour), rules[0].Threshold)
	require.Equal(t, RuleProblemResolution, rules[1].Kind)
}

func TestLoadRulesRejectsBadKindAndBadDuration(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad_kind.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("rules:\n  - standard: X\n    clause: \"1\"\n    kind: sometimes\n"), 0644))
	_, err := LoadRules(bad)
	require.Error(t, err)

	badDur := filepath.Join(dir, "bad_dur.yaml")
	require.NoError(t, os.WriteFile(badDur, []byte("rules:\n  - standard: X\n    clause: \"1\"\n    kind: continuous\n    threshold: soon\n"), 0644))
	_, err = LoadRules(badDur)
	require.Error(t, err)
}

func TestWatchRulesReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reporting.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - standard: A\n    clause: \"1\"\n    kind: continuous\n    threshold: 1h\n"), 0644))

	rules, err := LoadRules(path)
	require.NoError(t, err)
	s := NewScheduler(rules)

	w, err := WatchRules(path, s)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - standard: B\n    clause: \"2\"\n    kind: continuous\n    threshold: 1h\n  - standard: C\n    clause: \"3\"\n    kind: problem_resolution\n"), 0644))

	require.Eventually(t, func() bool {
		return len(s.Rules()) == 2
	}, 5*time.Second, 10*time.Millisecond, "rule reload did not land")
	require.Equal(t, "B", s.Rules()[0].Standard)
}
