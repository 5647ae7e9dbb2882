package alert

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/clinicops/sentinel/internal/eval"
	"github.com/clinicops/sentinel/internal/event"
	"github.com/clinicops/sentinel/internal/incident"
	"github.com/clinicops/sentinel/internal/rules"
)

const (
	defaultCooldown = 15 * time.Minute
	maxHistoryLen   = 1000
)

// Status is the lifecycle state of an active alert. Transitions only move
// forward: active -> acknowledged -> resolved, or active -> suppressed at
// creation for suppressed-would-have-fired markers.
type Status string

const (
	StatusActive       Status = "active"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
	StatusSuppressed   Status = "suppressed"
)

// Alert is one alert raised (or suppressed) by the engine.
type Alert struct {
	ID             string         `json:"id"`
	RuleID         string         `json:"rule_id"`
	RuleName       string         `json:"rule_name"`
	Category       event.Category `json:"category"`
	Severity       event.Severity `json:"severity"`
	Target         string         `json:"target"`
	Message        string         `json:"message"`
	Value          float64        `json:"value"`
	Context        event.Context  `json:"context"`
	Status         Status         `json:"status"`
	TriggeredAt    time.Time      `json:"triggered_at"`
	AcknowledgedBy string         `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time     `json:"acknowledged_at,omitempty"`
	ResolvedAt     *time.Time     `json:"resolved_at,omitempty"`

	// SuppressedBy names the suppression window for suppressed markers.
	SuppressedBy string `json:"suppressed_by,omitempty"`
}

// ActionSink receives the side effects of fired rules. The monitor facade
// implements it; tests substitute fakes. Implementations must not block on
// network I/O - notification delivery is always queued.
type ActionSink interface {
	Notify(recipients []string, subject, body string, priority event.Severity) error
	OpenIncident(req incident.CreateRequest) (string, error)
	StartEscalation(alertID, policyID, title string) error
}

// Engine evaluates events against the rule registry and owns active-alert
// state.
//
// Engine is safe for concurrent use.
type Engine struct {
	registry *rules.Registry
	eval     *eval.Evaluator
	sink     ActionSink

	mu       sync.Mutex
	active   map[string]*Alert // key: ruleID + "|" + target
	byID     map[string]*Alert
	history  []*Alert // resolved and suppressed alerts, oldest first
	lastFire map[string]time.Time
	now      func() time.Time
	seq      int64
}

// NewEngine creates an Engine.
func NewEngine(registry *rules.Registry, evaluator *eval.Evaluator, sink ActionSink) *Engine {
	return &Engine{
		registry: registry,
		eval:     evaluator,
		sink:     sink,
		active:   make(map[string]*Alert),
		byID:     make(map[string]*Alert),
		lastFire: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Evaluate tests every active rule of the event's category and returns the
// ids of alerts raised. It runs synchronously on the event path and must
// stay fast: all heavy side effects go through the sink's queues.
func (e *Engine) Evaluate(ev event.Event) []string {
	now := e.now()
	var raised []string

	for _, rule := range e.registry.AlertRules(ev.Category()) {
		if !rule.Active {
			continue
		}
		if rule.RequiresContext() && !ev.Context().HasDomain() {
			continue
		}

		fires, value := e.conditionsHold(rule, ev)
		if !fires {
			continue
		}

		key := rule.ID + "|" + ev.Target()

		if sup, muted := e.suppressionFor(rule, now); muted {
			e.recordSuppressed(rule, ev, sup, now)
			continue
		}

		e.mu.Lock()
		if a, ok := e.active[key]; ok && (a.Status == StatusActive || a.Status == StatusAcknowledged) {
			// Idempotence: the rule is already firing for this target.
			e.mu.Unlock()
			continue
		}
		cooldown := rule.Cooldown
		if cooldown <= 0 {
			cooldown = defaultCooldown
		}
		if last, ok := e.lastFire[key]; ok && now.Sub(last) < cooldown {
			e.mu.Unlock()
			continue
		}

		e.seq++
		a := &Alert{
			ID:          fmt.Sprintf("a-%d-%d", now.Unix(), e.seq),
			RuleID:      rule.ID,
			RuleName:    rule.Name,
			Category:    rule.Category,
			Severity:    rule.Severity,
			Target:      ev.Target(),
			Value:       value,
			Context:     ev.Context(),
			Status:      StatusActive,
			TriggeredAt: now,
			Message: fmt.Sprintf("[%s] %s fired on %s - value %.2f",
				rule.Severity, rule.Name, ev.Target(), value),
		}
		e.active[key] = a
		e.byID[a.ID] = a
		e.lastFire[key] = now
		alertCopy := *a
		e.mu.Unlock()

		slog.Warn("alert fired",
			"rule", rule.ID,
			"target", ev.Target(),
			"value", value,
			"severity", rule.Severity,
		)

		e.runActions(rule, alertCopy, ev)
		raised = append(raised, a.ID)
	}
	return raised
}

// conditionsHold evaluates a rule's conditions with AND semantics. Skipped
// conditions (metric absent from the event) do not veto the rule, but a rule
// never fires on skipped conditions alone.
func (e *Engine) conditionsHold(rule rules.AlertRule, ev event.Event) (bool, float64) {
	met := 0
	var value float64
	for _, c := range rule.Conditions {
		switch e.eval.Evaluate(rule.ID, c, ev) {
		case eval.NotMet:
			return false, 0
		case eval.Met:
			if met == 0 {
				value, _ = ev.Metric(c.Metric)
			}
			met++
		case eval.Skipped:
		}
	}
	return met > 0, value
}

// suppressionFor returns the suppression window muting the rule right now,
// if any. A window applies when the rule lists it explicitly, or when the
// window is category-wide for the rule's category, or when it is global
// (no category).
func (e *Engine) suppressionFor(rule rules.AlertRule, now time.Time) (rules.SuppressionRule, bool) {
	for _, s := range e.registry.ActiveSuppressions(now, rule.Category) {
		if s.Category != "" {
			return s, true
		}
		if len(rule.Suppressions) == 0 {
			return s, true
		}
		for _, id := range rule.Suppressions {
			if id == s.ID {
				return s, true
			}
		}
	}
	return rules.SuppressionRule{}, false
}

// recordSuppressed appends a suppressed-would-have-fired marker to history.
// Nothing is triggered, but the match is never discarded silently.
func (e *Engine) recordSuppressed(rule rules.AlertRule, ev event.Event, sup rules.SuppressionRule, now time.Time) {
	e.mu.Lock()
	e.seq++
	a := &Alert{
		ID:           fmt.Sprintf("a-%d-%d", now.Unix(), e.seq),
		RuleID:       rule.ID,
		RuleName:     rule.Name,
		Category:     rule.Category,
		Severity:     rule.Severity,
		Target:       ev.Target(),
		Context:      ev.Context(),
		Status:       StatusSuppressed,
		TriggeredAt:  now,
		SuppressedBy: sup.ID,
		Message: fmt.Sprintf("%s would have fired on %s - suppressed by %s (%s)",
			rule.Name, ev.Target(), sup.ID, sup.Reason),
	}
	e.byID[a.ID] = a
	e.appendHistory(a)
	e.mu.Unlock()

	slog.Info("alert suppressed",
		"rule", rule.ID,
		"target", ev.Target(),
		"suppression", sup.ID,
	)
}

// runActions executes the rule's actions in ascending priority order. Each
// action failure is caught and logged; sibling actions still run - actions
// are independent side effects.
func (e *Engine) runActions(rule rules.AlertRule, a Alert, ev event.Event) {
	actions := append([]rules.Action(nil), rule.Actions...)
	sort.SliceStable(actions, func(i, j int) bool { return actions[i].Priority < actions[j].Priority })

	for _, act := range actions {
		if err := e.runAction(act, rule, a, ev); err != nil {
			slog.Error("alert: action failed",
				"rule", rule.ID,
				"alert", a.ID,
				"action", act.Type,
				"err", err,
			)
		}
	}
}

func (e *Engine) runAction(act rules.Action, rule rules.AlertRule, a Alert, ev event.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action %s panicked: %v", act.Type, r)
		}
	}()

	switch act.Type {
	case rules.ActionNotify:
		return e.sink.Notify(act.Recipients, a.Message, alertBody(a), rule.Severity)

	case rules.ActionCreateIncident:
		req := incident.CreateRequest{
			Title:            rule.Name,
			Description:      a.Message,
			Category:         rule.Category,
			Severity:         rule.Severity,
			Target:           a.Target,
			AlertID:          a.ID,
			EscalationPolicy: rule.EscalationPolicy,
		}
		if sec, ok := ev.(event.SecurityEvent); ok {
			req.PotentialDataBreach = sec.PotentialDataBreach
			req.AffectedRecords = sec.AffectedRecords
		}
		_, err := e.sink.OpenIncident(req)
		return err

	case rules.ActionEscalate:
		return e.sink.StartEscalation(a.ID, rule.EscalationPolicy, rule.Name)

	default:
		return fmt.Errorf("unknown action type %q", act.Type)
	}
}

func alertBody(a Alert) string {
	return fmt.Sprintf("rule %s (%s/%s) triggered at %s on %s, value %.2f",
		a.RuleID, a.Category, a.Severity, a.TriggeredAt.UTC().Format(time.RFC3339), a.Target, a.Value)
}

// Acknowledge moves an active alert to acknowledged.
func (e *Engine) Acknowledge(id, by string) error {
	now := e.now()
	e.mu.Lock()
	defer e.mu.Unlock()

	a, ok := e.byID[id]
	if !ok {
		return fmt.Errorf("alert: %s not found", id)
	}
	if a.Status != StatusActive {
		return fmt.Errorf("alert: %s is %s, only active alerts can be acknowledged", id, a.Status)
	}
	a.Status = StatusAcknowledged
	a.AcknowledgedBy = by
	t := now
	a.AcknowledgedAt = &t
	slog.Info("alert acknowledged", "alert", id, "by", by)
	return nil
}

// Resolve moves an active or acknowledged alert to resolved and retires it
// from the active set.
func (e *Engine) Resolve(id string) error {
	now := e.now()
	e.mu.Lock()
	defer e.mu.Unlock()

	a, ok := e.byID[id]
	if !ok {
		return fmt.Errorf("alert: %s not found", id)
	}
	if a.Status != StatusActive && a.Status != StatusAcknowledged {
		return fmt.Errorf("alert: %s is %s and cannot be resolved", id, a.Status)
	}
	a.Status = StatusResolved
	t := now
	a.ResolvedAt = &t
	delete(e.active, a.RuleID+"|"+a.Target)
	e.appendHistory(a)
	slog.Info("alert resolved", "alert", id)
	return nil
}

// Get returns a copy of one alert.
func (e *Engine) Get(id string) (Alert, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.byID[id]
	if !ok {
		return Alert{}, false
	}
	return *a, true
}

// Terminal reports whether an alert has been acknowledged, resolved or
// suppressed. Used by the escalation scheduler's pre-tick terminal check.
func (e *Engine) Terminal(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.byID[id]
	if !ok {
		return true
	}
	return a.Status != StatusActive
}

// Active returns copies of all currently active or acknowledged alerts,
// newest first.
func (e *Engine) Active() []Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Alert, 0, len(e.active))
	for _, a := range e.active {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TriggeredAt.After(out[j].TriggeredAt) })
	return out
}

// Suppressed returns copies of the suppressed-would-have-fired markers.
func (e *Engine) Suppressed() []Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Alert
	for _, a := range e.history {
		if a.Status == StatusSuppressed {
			out = append(out, *a)
		}
	}
	return out
}

// Prune drops resolved and suppressed alerts older than cutoff.
func (e *Engine) Prune(cutoff time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	kept := e.history[:0]
	removed := 0
	for _, a := range e.history {
		if a.TriggeredAt.Before(cutoff) {
			delete(e.byID, a.ID)
			removed++
			continue
		}
		kept = append(kept, a)
	}
	e.history = kept
	return removed
}

// appendHistory adds a retired alert to history, enforcing the cap.
// Callers must hold e.mu.
func (e *Engine) appendHistory(a *Alert) {
	e.history = append(e.history, a)
	if len(e.history) > maxHistoryLen {
		for _, old := range e.history[:len(e.history)-maxHistoryLen] {
			delete(e.byID, old.ID)
		}
		e.history = e.history[len(e.history)-maxHistoryLen:]
	}
}
