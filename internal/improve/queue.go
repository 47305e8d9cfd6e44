// Package improve derives prioritized safety-improvement requests
// from processed field incidents. Each incident sequence yields at
// most one improvement, and improvement status only moves forward.
package improve

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"certtrace/internal/ledger"
	"certtrace/internal/logging"
)

// Priority orders improvements. Higher is more urgent.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

// String returns the wire name of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	default:
		return "low"
	}
}

// ParsePriority parses a wire priority name.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "critical":
		return PriorityCritical, nil
	case "high":
		return PriorityHigh, nil
	case "medium":
		return PriorityMedium, nil
	case "low":
		return PriorityLow, nil
	default:
		return PriorityLow, fmt.Errorf("unknown priority %q", s)
	}
}

// Status is the lifecycle state of an improvement. Transitions are
// monotone: pending -> in_progress -> implemented.
type Status string

const (
	StatusPending     Status = "pending"
	StatusInProgress  Status = "in_progress"
	StatusImplemented Status = "implemented"
)

var statusRank = map[Status]int{
	StatusPending:     0,
	StatusInProgress:  1,
	StatusImplemented: 2,
}

// Improvement is one tracked remediation derived from one incident.
type Improvement struct {
	ID        string
	Sequence  uint32 // source incident sequence
	Category  string
	Priority  Priority
	Status    Status
	Component string // component named by the incident payload, if any
	CreatedAt time.Time
}

var (
	// ErrUnknownID indicates a reference to a missing improvement.
	ErrUnknownID = errors.New("unknown improvement")
	// ErrNotFound indicates no pending improvement exists.
	ErrNotFound = errors.New("no pending improvement")
)

// TransitionError reports a rejected status move.
type TransitionError struct {
	ID   string
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("improvement %s cannot move %s -> %s", e.ID, e.From, e.To)
}

// classification maps incident types to improvement categories and
// priorities. The table is fixed: field data feeding the safety
// process must classify deterministically across runs.
var classification = map[ledger.RecordType]struct {
	Category string
	Priority Priority
}{
	ledger.TypeMemoryCorruption: {"memory", PriorityHigh},
	ledger.TypeWatchdogReset:    {"timing", PriorityCritical},
	ledger.TypeSensorFault:      {"hardware", PriorityMedium},
	ledger.TypeAssertionFailure: {"logic", PriorityHigh},
	ledger.TypeCommTimeout:      {"communication", PriorityMedium},
	ledger.TypeRangeViolation:   {"logic", PriorityLow},
}

// Classify returns the category and priority an incident type maps
// to. Unknown types classify as unclassified/low.
func Classify(typ ledger.RecordType) (category string, priority Priority) {
	class, ok := classification[typ]
	if !ok {
		return "unclassified", PriorityLow
	}
	return class.Category, class.Priority
}

// Queue holds improvements keyed by source incident sequence.
type Queue struct {
	mu    sync.RWMutex
	bySeq map[uint32]*Improvement
	byID  map[string]*Improvement
	now   func() time.Time
}

// NewQueue returns an empty improvement queue.
func NewQueue() *Queue {
	return &Queue{
		bySeq: make(map[uint32]*Improvement),
		byID:  make(map[string]*Improvement),
		now:   time.Now,
	}
}

// Ingest derives an improvement from a drained incident record. The
// derivation is idempotent on the incident sequence: a second ingest
// of the same sequence returns the existing id and created=false.
// The leading printable run of the payload, if any, is taken as the
// component the incident names.
func (q *Queue) Ingest(rec ledger.Record) (id string, created bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if existing, ok := q.bySeq[rec.Sequence]; ok {
		return existing.ID, false
	}

	category, priority := Classify(rec.Type)

	imp := &Improvement{
		ID:        "IMP-" + uuid.NewString(),
		Sequence:  rec.Sequence,
		Category:  category,
		Priority:  priority,
		Status:    StatusPending,
		Component: componentRef(rec.Payload),
		CreatedAt: q.now().UTC(),
	}
	q.bySeq[rec.Sequence] = imp
	q.byID[imp.ID] = imp
	logging.Improve("incident %d (%s) -> improvement %s [%s/%s]",
		rec.Sequence, rec.Type, imp.ID, imp.Category, imp.Priority)
	return imp.ID, true
}

// NextHighestPriority returns the pending improvement with the
// highest priority, oldest incident sequence first on ties.
func (q *Queue) NextHighestPriority() (Improvement, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var best *Improvement
	for _, imp := range q.bySeq {
		if imp.Status != StatusPending {
			continue
		}
		if best == nil || imp.Priority > best.Priority ||
			(imp.Priority == best.Priority && imp.Sequence < best.Sequence) {
			best = imp
		}
	}
	if best == nil {
		return Improvement{}, ErrNotFound
	}
	return *best, nil
}

// Advance moves an improvement one step forward. Backward moves and
// skips are rejected with the state unchanged.
func (q *Queue) Advance(id string, to Status) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	imp, ok := q.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownID, id)
	}
	fromRank, toRank := statusRank[imp.Status], statusRank[to]
	if _, known := statusRank[to]; !known || toRank != fromRank+1 {
		return &TransitionError{ID: id, From: imp.Status, To: to}
	}
	imp.Status = to
	logging.Improve("improvement %s advanced to %s", id, to)
	return nil
}

// Improvements returns copies of all improvements ordered by incident
// sequence.
func (q *Queue) Improvements() []Improvement {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]Improvement, 0, len(q.bySeq))
	for _, imp := range q.bySeq {
		out = append(out, *imp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

// Stats is a summary of the queue by lifecycle state.
type Stats struct {
	Pending     int
	InProgress  int
	Implemented int
}

// Stats returns current queue counts.
func (q *Queue) Stats() Stats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var s Stats
	for _, imp := range q.bySeq {
		switch imp.Status {
		case StatusPending:
			s.Pending++
		case StatusInProgress:
			s.InProgress++
		case StatusImplemented:
			s.Implemented++
		}
	}
	return s
}

// LinkedComponents returns the set of component ids named by
// improvements that are not yet implemented. The reporting scheduler
// uses it to decide whether an affected test already has a
// remediation in flight.
func (q *Queue) LinkedComponents() map[string]bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make(map[string]bool)
	for _, imp := range q.bySeq {
		if imp.Component != "" {
			out[imp.Component] = true
		}
	}
	return out
}

// Restore rebuilds a queue from persisted improvements.
func RestoreQueue(imps []Improvement) (*Queue, error) {
	q := NewQueue()
	for _, imp := range imps {
		if _, ok := q.bySeq[imp.Sequence]; ok {
			return nil, fmt.Errorf("duplicate improvement for incident %d", imp.Sequence)
		}
		ic := imp
		q.bySeq[imp.Sequence] = &ic
		q.byID[imp.ID] = &ic
	}
	return q, nil
}

// componentRef extracts the leading printable ASCII run of a payload.
// Field firmware writes the faulting component id first, NUL padded.
func componentRef(payload []byte) string {
	end := 0
	for end < len(payload) {
		b := payload[end]
		if b < 0x20 || b > 0x7E {
			break
		}
		end++
	}
	return string(payload[:end])
}
