package bizrule

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/clinicops/sentinel/internal/event"
	"github.com/clinicops/sentinel/internal/rules"
)

// maxLedgerLen caps the violations ledger independently of time retention.
const maxLedgerLen = 5000

// Payload is the typed domain payload business and compliance validators
// inspect. Fields irrelevant to a given validator are simply ignored by it.
type Payload struct {
	EntityID   string
	EntityType string // e.g. "appointment", "patient_record"
	TenantID   string

	// Consent and data-protection fields.
	ConsentObtained       bool
	ConsentScope          []string
	ConsentAt             time.Time
	RetentionDays         int
	ContainsSensitiveData bool
	DataResidency         string // ISO country code of the storing region

	// Booking fields.
	AppointmentStart time.Time
	AppointmentEnd   time.Time
	DoctorID         string
	ClinicID         string

	// RecordCount is how many records this payload represents, used for
	// violation impact accounting.
	RecordCount int
}

// Validator checks one named invariant of a payload. A nil return means the
// payload passes; a non-nil error describes the violation.
type Validator func(Payload) error

// CorrectionResult describes the outcome of an auto-correction attempt.
type CorrectionResult struct {
	Success bool   `json:"success"`
	Action  string `json:"action"`
	Details string `json:"details"`
}

// Correction attempts automated remediation for a failed validator.
type Correction func(Payload) (CorrectionResult, error)

// Violation is one recorded rule failure. Immutable once recorded.
type Violation struct {
	ID                       string         `json:"id"`
	RuleID                   string         `json:"rule_id"`
	RuleCategory             string         `json:"rule_category"`
	Severity                 event.Severity `json:"severity"`
	Description              string         `json:"description"`
	EntityID                 string         `json:"entity_id"`
	AffectedRecords          int            `json:"affected_records"`
	CorrectiveAction         string         `json:"corrective_action,omitempty"`
	CorrectiveActionRequired bool           `json:"corrective_action_required"`
	RecordedAt               time.Time      `json:"recorded_at"`
}

// AppliedCorrection is the audit record of one auto-correction attempt.
type AppliedCorrection struct {
	RuleID    string           `json:"rule_id"`
	Result    CorrectionResult `json:"result"`
	Error     string           `json:"error,omitempty"`
	AppliedAt time.Time        `json:"applied_at"`
}

// Result is the outcome of one validation pass.
type Result struct {
	IsValid     bool
	Score       float64 // 0-100, severity-weighted
	Confidence  float64 // rules passed / rules evaluated * 100
	Violations  []Violation
	Corrections []AppliedCorrection
}

// Weights maps severity to the penalty deducted per violation.
type Weights struct {
	Critical float64
	High     float64
	Medium   float64
	Low      float64
}

// Penalty returns the deduction for one severity. Info carries no penalty.
func (w Weights) Penalty(s event.Severity) float64 {
	switch s {
	case event.SeverityCritical:
		return w.Critical
	case event.SeverityHigh:
		return w.High
	case event.SeverityMedium:
		return w.Medium
	case event.SeverityLow:
		return w.Low
	default:
		return 0
	}
}

// Engine runs named validators against payloads and accumulates violations
// in a category-scoped ledger.
//
// Engine is safe for concurrent use.
type Engine struct {
	weights Weights

	mu          sync.Mutex
	validators  map[string]Validator
	corrections map[string]Correction
	ledger      []Violation
	now         func() time.Time
	seq         int64
}

// NewEngine creates an Engine with the given penalty weights.
func NewEngine(weights Weights) *Engine {
	return &Engine{
		weights:     weights,
		validators:  make(map[string]Validator),
		corrections: make(map[string]Correction),
		now:         time.Now,
	}
}

// RegisterValidator binds a validator id to its predicate.
func (e *Engine) RegisterValidator(id string, v Validator) {
	e.mu.Lock()
	e.validators[id] = v
	e.mu.Unlock()
}

// RegisterCorrection binds a correction strategy to a validator id.
func (e *Engine) RegisterCorrection(id string, c Correction) {
	e.mu.Lock()
	e.corrections[id] = c
	e.mu.Unlock()
}

// Validate runs every rule in ruleSet against the payload.
//
// A validator that panics or is missing is recorded as a medium-severity
// evaluation-error violation - fail-closed, not fail-open. Violations are
// appended to the ledger; corrections run for auto-correctable rules and are
// always recorded, success or not.
func (e *Engine) Validate(p Payload, ruleSet []rules.BusinessRule) Result {
	res := Result{Score: 100}
	evaluated := 0
	passed := 0
	now := e.now()

	for _, rule := range ruleSet {
		evaluated++

		verr, evalErr := e.run(rule, p)
		if evalErr != nil {
			slog.Error("bizrule: validator evaluation failed",
				"rule", rule.ID, "entity", p.EntityID, "err", evalErr)
			v := e.record(rule, p, event.SeverityMedium,
				fmt.Sprintf("evaluation error: %v", evalErr), now)
			res.Violations = append(res.Violations, v)
			res.Score -= e.weights.Penalty(event.SeverityMedium)
			continue
		}
		if verr == nil {
			passed++
			continue
		}

		v := e.record(rule, p, rule.Severity, verr.Error(), now)
		res.Violations = append(res.Violations, v)
		res.Score -= e.weights.Penalty(rule.Severity)

		slog.Warn("bizrule: violation",
			"rule", rule.ID,
			"severity", rule.Severity,
			"entity", p.EntityID,
		)

		if rule.AutoCorrect {
			res.Corrections = append(res.Corrections, e.correct(rule, p, now))
		}
	}

	if res.Score < 0 {
		res.Score = 0
	}
	if res.Score > 100 {
		res.Score = 100
	}
	res.IsValid = len(res.Violations) == 0
	if evaluated > 0 {
		res.Confidence = float64(passed) / float64(evaluated) * 100
	} else {
		res.Confidence = 100
	}
	return res
}

// run executes one validator, converting panics and missing validators into
// evaluation errors.
func (e *Engine) run(rule rules.BusinessRule, p Payload) (verr error, evalErr error) {
	e.mu.Lock()
	v, ok := e.validators[rule.Validator]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("validator %q not registered", rule.Validator)
	}

	defer func() {
		if r := recover(); r != nil {
			verr = nil
			evalErr = fmt.Errorf("validator %q panicked: %v", rule.Validator, r)
		}
	}()
	return v(p), nil
}

// correct runs the registered correction strategy for a rule, recording the
// outcome whether or not it succeeds.
func (e *Engine) correct(rule rules.BusinessRule, p Payload, now time.Time) AppliedCorrection {
	ac := AppliedCorrection{RuleID: rule.ID, AppliedAt: now}

	e.mu.Lock()
	c, ok := e.corrections[rule.Validator]
	e.mu.Unlock()
	if !ok {
		ac.Error = fmt.Sprintf("no correction registered for validator %q", rule.Validator)
		return ac
	}

	defer func() {
		if r := recover(); r != nil {
			ac.Error = fmt.Sprintf("correction panicked: %v", r)
		}
	}()

	result, err := c(p)
	ac.Result = result
	if err != nil {
		ac.Error = err.Error()
	}
	if result.Success {
		slog.Info("bizrule: auto-correction applied",
			"rule", rule.ID, "action", result.Action, "entity", p.EntityID)
	}
	return ac
}

// record creates a Violation and appends it to the ledger.
func (e *Engine) record(rule rules.BusinessRule, p Payload, sev event.Severity, desc string, now time.Time) Violation {
	affected := p.RecordCount
	if affected == 0 {
		affected = 1
	}

	e.mu.Lock()
	e.seq++
	v := Violation{
		ID:                       fmt.Sprintf("v-%d-%d", now.Unix(), e.seq),
		RuleID:                   rule.ID,
		RuleCategory:             rule.Category,
		Severity:                 sev,
		Description:              desc,
		EntityID:                 p.EntityID,
		AffectedRecords:          affected,
		CorrectiveAction:         rule.Description,
		CorrectiveActionRequired: sev.Rank() >= event.SeverityHigh.Rank(),
		RecordedAt:               now,
	}
	e.ledger = append(e.ledger, v)
	if len(e.ledger) > maxLedgerLen {
		e.ledger = e.ledger[len(e.ledger)-maxLedgerLen:]
	}
	e.mu.Unlock()
	return v
}

// Violations returns ledger entries filtered by rule category and/or
// minimum severity. Empty filters match everything. Newest last.
func (e *Engine) Violations(category string, minSeverity event.Severity) []Violation {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Violation, 0, len(e.ledger))
	for _, v := range e.ledger {
		if category != "" && v.RuleCategory != category {
			continue
		}
		if v.Severity.Rank() < minSeverity.Rank() {
			continue
		}
		out = append(out, v)
	}
	return out
}

// Prune drops ledger entries recorded before cutoff. Returns the number removed.
func (e *Engine) Prune(cutoff time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	kept := e.ledger[:0]
	for _, v := range e.ledger {
		if v.RecordedAt.After(cutoff) {
			kept = append(kept, v)
		}
	}
	removed := len(e.ledger) - len(kept)
	e.ledger = kept
	return removed
}
