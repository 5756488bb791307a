package rule

import (
	"fmt"
	"sort"
	"sync"
)

// Store holds registered automation rules. Rules are immutable after
// registration except for the active flag.
type Store struct {
	mu    sync.RWMutex
	rules map[string]*Rule
}

func NewStore() *Store {
	return &Store{
		rules: make(map[string]*Rule),
	}
}

// Register validates and stores a rule. Identifiers are unique; registering
// an existing ID is an error.
func (s *Store) Register(r Rule) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("invalid rule: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[r.ID]; exists {
		return fmt.Errorf("rule %q already registered", r.ID)
	}

	cp := r
	s.rules[r.ID] = &cp
	return nil
}

// SetActive enables or disables a rule.
func (s *Store) SetActive(ruleID string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rules[ruleID]
	if !ok {
		return fmt.Errorf("rule %q not found", ruleID)
	}
	r.Active = active
	return nil
}

// Get returns a copy of the rule, or false if unknown.
func (s *Store) Get(ruleID string) (Rule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rules[ruleID]
	if !ok {
		return Rule{}, false
	}
	return *r, true
}

// ActiveFor returns copies of all active rules with the given trigger kind,
// ordered by priority descending then ID for a stable firing order.
func (s *Store) ActiveFor(trigger TriggerKind) []Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Rule
	for _, r := range s.rules {
		if r.Active && r.Trigger == trigger {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// All returns copies of every registered rule, ordered by ID.
func (s *Store) All() []Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Rule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
