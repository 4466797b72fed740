package mutation

import "apiprobe/internal/contract"

// Sequence is a finite, restartable stream of mutation cases. The plan
// is computed eagerly (it is cheap metadata), payloads are materialized
// one at a time as the sequence advances.
type Sequence struct {
	example map[string]interface{}
	plan    []plannedCase
	pos     int
}

// PlanEntry describes one upcoming mutation without its payload. Used
// for dry-run listings.
type PlanEntry struct {
	Name        string
	Strategy    Strategy
	Field       string
	Description string
}

// NewSequence plans the mutations for a contract. enabled selects
// strategies by name; nil enables every strategy.
func NewSequence(c *contract.Contract, enabled map[string]bool) (*Sequence, error) {
	if enabled == nil {
		enabled = map[string]bool{
			string(StrategyMissingField): true,
			string(StrategyTypeError):    true,
			string(StrategyBoundary):     true,
			string(StrategyInjection):    true,
		}
	}
	plan, err := buildPlan(c, enabled)
	if err != nil {
		return nil, err
	}
	return &Sequence{example: c.ValidExample, plan: plan}, nil
}

// Len returns the total number of cases the sequence will produce.
func (s *Sequence) Len() int {
	return len(s.plan)
}

// Preview returns the plan metadata in emission order.
func (s *Sequence) Preview() []PlanEntry {
	entries := make([]PlanEntry, len(s.plan))
	for i, pc := range s.plan {
		entries[i] = PlanEntry{
			Name:        pc.name,
			Strategy:    pc.strategy,
			Field:       pc.field,
			Description: pc.description,
		}
	}
	return entries
}

// Next materializes and returns the next case. It returns (nil, nil)
// when the sequence is exhausted.
func (s *Sequence) Next() (*Case, error) {
	if s.pos >= len(s.plan) {
		return nil, nil
	}
	pc := s.plan[s.pos]
	s.pos++
	return pc.materialize(s.example)
}

// Reset rewinds the sequence to its first case.
func (s *Sequence) Reset() {
	s.pos = 0
}
