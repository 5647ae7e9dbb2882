package rules

import (
	"time"

	"github.com/clinicops/sentinel/internal/config"
	"github.com/clinicops/sentinel/internal/event"
)

// Operator is a comparison operator in a condition.
type Operator string

const (
	OpGT Operator = ">"
	OpGE Operator = ">="
	OpLT Operator = "<"
	OpLE Operator = "<="
	OpEQ Operator = "=="
)

// Compare applies the operator to a value and threshold.
// Unknown operators never match.
func (op Operator) Compare(v, threshold float64) bool {
	switch op {
	case OpGT:
		return v > threshold
	case OpGE:
		return v >= threshold
	case OpLT:
		return v < threshold
	case OpLE:
		return v <= threshold
	case OpEQ:
		return v == threshold
	default:
		return false
	}
}

// Condition is one threshold check within an alert rule. Pure value.
type Condition struct {
	Metric          string
	Op              Operator
	Threshold       float64
	Sustained       time.Duration
	RequiresContext bool
}

// ActionType enumerates the side effects a rule can trigger.
type ActionType string

const (
	ActionNotify         ActionType = "notify"
	ActionCreateIncident ActionType = "create_incident"
	ActionEscalate       ActionType = "escalate"
)

// Action is one side effect executed when a rule fires. Actions run in
// ascending Priority order.
type Action struct {
	Type       ActionType
	Priority   int
	Recipients []string
}

// AlertRule is an immutable declarative alert rule. Rules are replaced
// wholesale on reconfiguration, never mutated in place.
type AlertRule struct {
	ID               string
	Name             string
	Category         event.Category
	Severity         event.Severity
	Conditions       []Condition
	Actions          []Action
	Active           bool
	EscalationPolicy string
	Suppressions     []string
	Cooldown         time.Duration
}

// RequiresContext reports whether any condition needs domain context.
func (r AlertRule) RequiresContext() bool {
	for _, c := range r.Conditions {
		if c.RequiresContext {
			return true
		}
	}
	return false
}

// BusinessRule binds a named validator to a severity and correction policy.
// Compliance rules share this shape, distinguished by Category.
type BusinessRule struct {
	ID          string
	Name        string
	Category    string
	Severity    event.Severity
	Validator   string
	AutoCorrect bool
	Description string
}

// SuppressionRule is a time-boxed mute window for matching alert rules.
type SuppressionRule struct {
	ID       string
	Category event.Category // empty matches all categories
	Reason   string
	From     time.Time
	Until    time.Time
}

// ActiveAt reports whether the window covers now.
func (s SuppressionRule) ActiveAt(now time.Time) bool {
	return !now.Before(s.From) && now.Before(s.Until)
}

// EscalationLevel is one rung of an escalation policy.
type EscalationLevel struct {
	Roles       []string
	TimeInLevel time.Duration
}

// EscalationPolicy is an ordered ladder of escalation levels.
type EscalationPolicy struct {
	ID     string
	Levels []EscalationLevel
}

// Set is one complete, immutable rule configuration.
type Set struct {
	Alerts       []AlertRule
	Business     []BusinessRule
	Suppressions []SuppressionRule
	Policies     []EscalationPolicy
}

// FromConfig converts a parsed configuration into a rule Set.
func FromConfig(cfg *config.Config) Set {
	s := Set{
		Alerts:       make([]AlertRule, 0, len(cfg.Alerts.Rules)),
		Business:     make([]BusinessRule, 0, len(cfg.Business.Rules)),
		Suppressions: make([]SuppressionRule, 0, len(cfg.Alerts.Suppressions)),
		Policies:     make([]EscalationPolicy, 0, len(cfg.Escalation.Policies)),
	}

	for _, r := range cfg.Alerts.Rules {
		ar := AlertRule{
			ID:               r.ID,
			Name:             r.Name,
			Category:         event.Category(r.Category),
			Severity:         event.Severity(r.Severity),
			Active:           r.Active,
			EscalationPolicy: r.EscalationPolicy,
			Suppressions:     append([]string(nil), r.Suppressions...),
			Cooldown:         r.Cooldown,
		}
		if ar.Cooldown <= 0 {
			ar.Cooldown = config.DefaultCooldown
		}
		for _, c := range r.Conditions {
			ar.Conditions = append(ar.Conditions, Condition{
				Metric:          c.Metric,
				Op:              Operator(c.Op),
				Threshold:       c.Threshold,
				Sustained:       c.Sustained,
				RequiresContext: c.RequiresContext,
			})
		}
		for _, a := range r.Actions {
			ar.Actions = append(ar.Actions, Action{
				Type:       ActionType(a.Type),
				Priority:   a.Priority,
				Recipients: append([]string(nil), a.Recipients...),
			})
		}
		s.Alerts = append(s.Alerts, ar)
	}

	for _, b := range cfg.Business.Rules {
		s.Business = append(s.Business, BusinessRule{
			ID:          b.ID,
			Name:        b.Name,
			Category:    b.Category,
			Severity:    event.Severity(b.Severity),
			Validator:   b.Validator,
			AutoCorrect: b.AutoCorrect,
			Description: b.Description,
		})
	}

	for _, sup := range cfg.Alerts.Suppressions {
		s.Suppressions = append(s.Suppressions, SuppressionRule{
			ID:       sup.ID,
			Category: event.Category(sup.Category),
			Reason:   sup.Reason,
			From:     sup.From,
			Until:    sup.Until,
		})
	}

	for _, p := range cfg.Escalation.Policies {
		ep := EscalationPolicy{ID: p.ID}
		for _, l := range p.Levels {
			ep.Levels = append(ep.Levels, EscalationLevel{
				Roles:       append([]string(nil), l.Roles...),
				TimeInLevel: l.TimeInLevel,
			})
		}
		s.Policies = append(s.Policies, ep)
	}

	return s
}
