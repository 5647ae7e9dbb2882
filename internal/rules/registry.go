package rules

import (
	"sync"
	"time"

	"github.com/clinicops/sentinel/internal/event"
)

// Registry holds the currently loaded rule Set. Reads return copies of rule
// slices so callers never observe a half-replaced configuration.
//
// Registry is safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	set Set

	byID     map[string]AlertRule
	policies map[string]EscalationPolicy
}

// NewRegistry creates a Registry holding the given Set.
func NewRegistry(set Set) *Registry {
	r := &Registry{}
	r.Replace(set)
	return r
}

// Replace swaps the entire rule configuration. In-flight evaluations finish
// against the old set; later evaluations see only the new one.
func (r *Registry) Replace(set Set) {
	byID := make(map[string]AlertRule, len(set.Alerts))
	for _, a := range set.Alerts {
		byID[a.ID] = a
	}
	policies := make(map[string]EscalationPolicy, len(set.Policies))
	for _, p := range set.Policies {
		policies[p.ID] = p
	}

	r.mu.Lock()
	r.set = set
	r.byID = byID
	r.policies = policies
	r.mu.Unlock()
}

// AlertRules returns the alert rules for one category.
func (r *Registry) AlertRules(cat event.Category) []AlertRule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]AlertRule, 0, len(r.set.Alerts))
	for _, a := range r.set.Alerts {
		if a.Category == cat {
			out = append(out, a)
		}
	}
	return out
}

// AlertRule looks up one rule by id.
func (r *Registry) AlertRule(id string) (AlertRule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byID[id]
	return a, ok
}

// BusinessRules returns the business rules for one category, or all rules
// when category is empty.
func (r *Registry) BusinessRules(category string) []BusinessRule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]BusinessRule, 0, len(r.set.Business))
	for _, b := range r.set.Business {
		if category == "" || b.Category == category {
			out = append(out, b)
		}
	}
	return out
}

// Policy looks up an escalation policy by id.
func (r *Registry) Policy(id string) (EscalationPolicy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.policies[id]
	return p, ok
}

// ActiveSuppressions returns the suppression windows covering now whose
// category matches cat (or is empty).
func (r *Registry) ActiveSuppressions(now time.Time, cat event.Category) []SuppressionRule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []SuppressionRule
	for _, s := range r.set.Suppressions {
		if !s.ActiveAt(now) {
			continue
		}
		if s.Category != "" && s.Category != cat {
			continue
		}
		out = append(out, s)
	}
	return out
}
