package improve

import (
	"errors"
	"testing"

	"certtrace/internal/ledger"
	"certtrace/internal/logging"
)

func TestMain(m *testing.M) {
	logging.InitNop()
	m.Run()
}

func record(seq uint32, typ ledger.RecordType, payload string) ledger.Record {
	return ledger.Record{Sequence: seq, Type: typ, Payload: []byte(payload)}
}

func TestIngestClassifiesByType(t *testing.T) {
	cases := []struct {
		typ          ledger.RecordType
		wantCategory string
		wantPriority Priority
	}{
		{ledger.TypeMemoryCorruption, "memory", PriorityHigh},
		{ledger.TypeWatchdogReset, "timing", PriorityCritical},
		{ledger.TypeSensorFault, "hardware", PriorityMedium},
		{ledger.TypeAssertionFailure, "logic", PriorityHigh},
		{ledger.TypeCommTimeout, "communication", PriorityMedium},
		{ledger.RecordType(999), "unclassified", PriorityLow},
	}

	q := NewQueue()
	for i, tc := range cases {
		id, created := q.Ingest(record(uint32(i+1), tc.typ, ""))
		if !created || id == "" {
			t.Fatalf("Ingest(%v): id=%q created=%v", tc.typ, id, created)
		}
	}

	imps := q.Improvements()
	if len(imps) != len(cases) {
		t.Fatalf("got %d improvements, want %d", len(imps), len(cases))
	}
	for i, tc := range cases {
		if imps[i].Category != tc.wantCategory {
			t.Errorf("%v: category = %s, want %s", tc.typ, imps[i].Category, tc.wantCategory)
		}
		if imps[i].Priority != tc.wantPriority {
			t.Errorf("%v: priority = %s, want %s", tc.typ, imps[i].Priority, tc.wantPriority)
		}
	}
}

// One incident sequence yields at most one improvement.
func TestIngestIdempotentPerSequence(t *testing.T) {
	q := NewQueue()
	first, created := q.Ingest(record(7, ledger.TypeMemoryCorruption, ""))
	if !created {
		t.Fatal("first ingest reported created=false")
	}
	second, created := q.Ingest(record(7, ledger.TypeMemoryCorruption, ""))
	if created {
		t.Error("second ingest created a duplicate")
	}
	if first != second {
		t.Errorf("second ingest returned %q, want existing %q", second, first)
	}
	if got := len(q.Improvements()); got != 1 {
		t.Errorf("queue holds %d improvements, want 1", got)
	}
}

func TestNextHighestPriorityOrder(t *testing.T) {
	q := NewQueue()
	q.Ingest(record(1, ledger.TypeSensorFault, ""))      // medium
	q.Ingest(record(2, ledger.TypeMemoryCorruption, "")) // high
	q.Ingest(record(3, ledger.TypeWatchdogReset, ""))    // critical
	q.Ingest(record(4, ledger.TypeWatchdogReset, ""))    // critical, newer

	next, err := q.NextHighestPriority()
	if err != nil {
		t.Fatalf("NextHighestPriority: %v", err)
	}
	if next.Sequence != 3 {
		t.Errorf("next sequence = %d, want 3 (oldest critical)", next.Sequence)
	}

	if err := q.Advance(next.ID, StatusInProgress); err != nil {
		t.Fatal(err)
	}
	next, err = q.NextHighestPriority()
	if err != nil {
		t.Fatal(err)
	}
	if next.Sequence != 4 {
		t.Errorf("next sequence = %d, want 4", next.Sequence)
	}
}

func TestNextHighestPriorityEmpty(t *testing.T) {
	q := NewQueue()
	if _, err := q.NextHighestPriority(); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestAdvanceEnforcesMonotoneOrder(t *testing.T) {
	q := NewQueue()
	id, _ := q.Ingest(record(1, ledger.TypeAssertionFailure, ""))

	// Skipping a step is rejected.
	var transition *TransitionError
	if err := q.Advance(id, StatusImplemented); !errors.As(err, &transition) {
		t.Fatalf("skip err = %v, want TransitionError", err)
	}

	if err := q.Advance(id, StatusInProgress); err != nil {
		t.Fatal(err)
	}
	if err := q.Advance(id, StatusImplemented); err != nil {
		t.Fatal(err)
	}

	// Backward moves are rejected, state unchanged.
	if err := q.Advance(id, StatusPending); !errors.As(err, &transition) {
		t.Fatalf("backward err = %v, want TransitionError", err)
	}
	imps := q.Improvements()
	if imps[0].Status != StatusImplemented {
		t.Errorf("status = %s, want implemented", imps[0].Status)
	}

	if err := q.Advance("IMP-missing", StatusInProgress); !errors.Is(err, ErrUnknownID) {
		t.Errorf("unknown id err = %v, want ErrUnknownID", err)
	}
}

func TestComponentRefFromPayload(t *testing.T) {
	q := NewQueue()
	payload := append([]byte("TEST-SAF-001"), 0, 0xDE, 0xAD)
	q.Ingest(ledger.Record{Sequence: 1, Type: ledger.TypeMemoryCorruption, Payload: payload})

	imps := q.Improvements()
	if imps[0].Component != "TEST-SAF-001" {
		t.Errorf("component = %q, want TEST-SAF-001", imps[0].Component)
	}
	linked := q.LinkedComponents()
	if !linked["TEST-SAF-001"] {
		t.Error("LinkedComponents missing TEST-SAF-001")
	}
}

func TestRestoreQueue(t *testing.T) {
	q := NewQueue()
	q.Ingest(record(1, ledger.TypeMemoryCorruption, "CPU-1"))
	q.Ingest(record(2, ledger.TypeSensorFault, ""))

	restored, err := RestoreQueue(q.Improvements())
	if err != nil {
		t.Fatalf("RestoreQueue: %v", err)
	}
	if got := len(restored.Improvements()); got != 2 {
		t.Fatalf("restored %d improvements, want 2", got)
	}
	// Idempotence survives the round trip.
	if _, created := restored.Ingest(record(1, ledger.TypeMemoryCorruption, "")); created {
		t.Error("restored queue re-created an improvement for a known sequence")
	}

	dup := q.Improvements()
	dup[1].Sequence = 1
	if _, err := RestoreQueue(dup); err == nil {
		t.Error("RestoreQueue accepted duplicate sequences")
	}
}

func TestParsePriorityRoundTrip(t *testing.T) {
	for _, p := range []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical} {
		got, err := ParsePriority(p.String())
		if err != nil || got != p {
			t.Errorf("ParsePriority(%s) = %v, %v", p, got, err)
		}
	}
	if _, err := ParsePriority("urgent"); err == nil {
		t.Error("ParsePriority accepted unknown name")
	}
}

func TestStatsCountsByStatus(t *testing.T) {
	q := NewQueue()
	for seq := uint32(1); seq <= 3; seq++ {
		q.Ingest(ledger.Record{Sequence: seq, Type: ledger.TypeSensorFault})
	}
	next, err := q.NextHighestPriority()
	if err != nil {
		t.Fatal(err)
	}
	if err := q.Advance(next.ID, StatusInProgress); err != nil {
		t.Fatal(err)
	}
	if err := q.Advance(next.ID, StatusImplemented); err != nil {
		t.Fatal(err)
	}

	got := q.Stats()
	want := Stats{Pending: 2, Implemented: 1}
	if got != want {
		t.Errorf("Stats() = %+v, want %+v", got, want)
	}
}
