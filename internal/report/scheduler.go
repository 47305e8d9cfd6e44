package report

import (
	"sort"
	"sync"
	"time"

	"certtrace/internal/improve"
	"certtrace/internal/ledger"
	"certtrace/internal/logging"
	"certtrace/internal/trace"
)

// Incident is the scheduler's view of one drained ledger record.
type Incident struct {
	Sequence  uint32
	Type      ledger.RecordType
	Priority  improve.Priority
	Timestamp time.Time
}

// IncidentFromRecord classifies a drained record for scheduling.
func IncidentFromRecord(rec ledger.Record) Incident {
	_, priority := improve.Classify(rec.Type)
	return Incident{
		Sequence:  rec.Sequence,
		Type:      rec.Type,
		Priority:  priority,
		Timestamp: rec.Time(),
	}
}

// Obligation is one computed regulatory duty, consumed by the
// external report-submission collaborator.
type Obligation struct {
	Standard    string
	Clause      string
	Description string
	DueSince    time.Time
	Status      string
}

// ObligationOutstanding is the only status this engine emits;
// submission state lives with the external sink.
const ObligationOutstanding = "outstanding"

// Scheduler computes due reports from rule, ledger, and graph state.
type Scheduler struct {
	mu        sync.RWMutex
	rules     []Rule
	submitted map[uint32]time.Time // incident sequence -> ack time
}

// NewScheduler returns a scheduler over the given rules.
func NewScheduler(rules []Rule) *Scheduler {
	return &Scheduler{
		rules:     append([]Rule(nil), rules...),
		submitted: make(map[uint32]time.Time),
	}
}

// SetRules atomically replaces the rule set (hot reload path).
func (s *Scheduler) SetRules(rules []Rule) {
	s.mu.Lock()
	s.rules = append([]Rule(nil), rules...)
	s.mu.Unlock()
	logging.Report("reporting rules replaced: %d rule(s)", len(rules))
}

// Rules returns a copy of the active rule set.
func (s *Scheduler) Rules() []Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Rule(nil), s.rules...)
}

// MarkSubmitted records the external sink's acknowledgement that the
// incident was reported. Idempotent.
func (s *Scheduler) MarkSubmitted(seq uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.submitted[seq]; !ok {
		s.submitted[seq] = time.Now().UTC()
	}
}

// Submitted reports whether an incident has been acknowledged.
func (s *Scheduler) Submitted(seq uint32) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.submitted[seq]
	return ok
}

// Submissions returns a copy of the acknowledgement log.
func (s *Scheduler) Submissions() map[uint32]time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[uint32]time.Time, len(s.submitted))
	for k, v := range s.submitted {
		out[k] = v
	}
	return out
}

// RestoreSubmissions loads a persisted acknowledgement log.
func (s *Scheduler) RestoreSubmissions(acks map[uint32]time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range acks {
		s.submitted[k] = v
	}
}

// DueReports computes outstanding obligations at time now. It is a
// pure function of the supplied snapshots and the acknowledgement
// log; nothing is mutated.
//
// Continuous rules scan unsubmitted high/critical incidents whose age
// exceeds the rule threshold. Problem-resolution rules scan tests
// left affected by a change with no safety improvement naming them.
func (s *Scheduler) DueReports(now time.Time, incidents []Incident, snap *trace.Snapshot, linked map[string]bool) []Obligation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Obligation
	for _, rule := range s.rules {
		switch rule.Kind {
		case RuleContinuous:
			for _, inc := range incidents {
				if inc.Priority < improve.PriorityHigh {
					continue
				}
				if _, acked := s.submitted[inc.Sequence]; acked {
					continue
				}
				due := inc.Timestamp.Add(time.Duration(rule.Threshold))
				if now.Before(due) {
					continue
				}
				out = append(out, Obligation{
					Standard:    rule.Standard,
					Clause:      rule.Clause,
					Description: rule.Description,
					DueSince:    due,
					Status:      ObligationOutstanding,
				})
			}

		case RuleProblemResolution:
			if snap == nil {
				continue
			}
			for _, test := range snap.AffectedTests() {
				if linked[test.ID] {
					continue
				}
				out = append(out, Obligation{
					Standard:    rule.Standard,
					Clause:      rule.Clause,
					Description: rule.Description,
					DueSince:    now,
					Status:      ObligationOutstanding,
				})
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Standard != out[j].Standard {
			return out[i].Standard < out[j].Standard
		}
		if out[i].Clause != out[j].Clause {
			return out[i].Clause < out[j].Clause
		}
		return out[i].DueSince.Before(out[j].DueSince)
	})
	return out
}
