package bizrule

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/clinicops/sentinel/internal/event"
	"github.com/clinicops/sentinel/internal/rules"
)

func defaultWeights() Weights {
	return Weights{Critical: 30, High: 18, Medium: 10, Low: 5}
}

func consentRule() rules.BusinessRule {
	return rules.BusinessRule{
		ID:          "pdpa-consent",
		Category:    "data_protection",
		Severity:    event.SeverityCritical,
		Validator:   ValidatorPDPAConsent,
		Description: "obtain consent before processing personal data",
	}
}

func TestValidatePasses(t *testing.T) {
	e := NewEngine(defaultWeights())
	RegisterDefaults(e, nil)

	res := e.Validate(Payload{
		EntityID:              "rec-1",
		ContainsSensitiveData: true,
		ConsentObtained:       true,
		ConsentScope:          []string{"treatment"},
	}, []rules.BusinessRule{consentRule()})

	if !res.IsValid {
		t.Fatalf("IsValid: got false, want true (violations %v)", res.Violations)
	}
	if res.Score != 100 {
		t.Fatalf("Score: got %v, want 100", res.Score)
	}
	if res.Confidence != 100 {
		t.Fatalf("Confidence: got %v, want 100", res.Confidence)
	}
}

func TestMissingConsentIsCriticalViolation(t *testing.T) {
	e := NewEngine(defaultWeights())
	RegisterDefaults(e, nil)

	res := e.Validate(Payload{
		EntityID:              "rec-2",
		ContainsSensitiveData: true,
		ConsentObtained:       false,
		RecordCount:           3,
	}, []rules.BusinessRule{consentRule()})

	if res.IsValid {
		t.Fatal("IsValid: got true, want false")
	}
	if res.Score != 70 {
		t.Fatalf("Score: got %v, want 70 (100 - critical penalty 30)", res.Score)
	}
	if len(res.Violations) != 1 {
		t.Fatalf("violations: got %d, want 1", len(res.Violations))
	}
	v := res.Violations[0]
	if v.Severity != event.SeverityCritical {
		t.Fatalf("severity: got %s, want critical", v.Severity)
	}
	if !v.CorrectiveActionRequired {
		t.Fatal("CorrectiveActionRequired: got false, want true for a critical violation")
	}
	if v.AffectedRecords != 3 {
		t.Fatalf("AffectedRecords: got %d, want 3", v.AffectedRecords)
	}
}

func TestScoreClampsAtZero(t *testing.T) {
	e := NewEngine(defaultWeights())
	RegisterDefaults(e, nil)

	// Four critical failures would be -20 unclamped.
	ruleSet := make([]rules.BusinessRule, 4)
	for i := range ruleSet {
		r := consentRule()
		r.ID = r.ID + string(rune('a'+i))
		ruleSet[i] = r
	}

	res := e.Validate(Payload{ContainsSensitiveData: true}, ruleSet)
	if res.Score != 0 {
		t.Fatalf("Score: got %v, want 0", res.Score)
	}
}

func TestConfidence(t *testing.T) {
	e := NewEngine(defaultWeights())
	RegisterDefaults(e, nil)

	// Three rules, one fails: confidence 2/3.
	ruleSet := []rules.BusinessRule{
		consentRule(),
		{ID: "scope", Category: "data_protection", Severity: event.SeverityHigh, Validator: ValidatorConsentScope},
		{ID: "retention", Category: "data_protection", Severity: event.SeverityHigh, Validator: ValidatorRetentionLimit},
	}

	res := e.Validate(Payload{
		ContainsSensitiveData: true, // consent missing - fails
		RetentionDays:         100,  // passes
	}, ruleSet)

	want := float64(2) / 3 * 100
	if res.Confidence != want {
		t.Fatalf("Confidence: got %v, want %v", res.Confidence, want)
	}
}

func TestPanickingValidatorRecordedAsMedium(t *testing.T) {
	e := NewEngine(defaultWeights())
	e.RegisterValidator("boom", func(Payload) error { panic("bad index") })

	res := e.Validate(Payload{EntityID: "rec-3"}, []rules.BusinessRule{
		{ID: "r-boom", Category: "ops", Severity: event.SeverityCritical, Validator: "boom"},
	})

	if len(res.Violations) != 1 {
		t.Fatalf("violations: got %d, want 1", len(res.Violations))
	}
	v := res.Violations[0]
	if v.Severity != event.SeverityMedium {
		t.Fatalf("panic severity: got %s, want medium", v.Severity)
	}
	if !strings.Contains(v.Description, "evaluation error") {
		t.Fatalf("description: got %q, want evaluation error marker", v.Description)
	}
	if res.Score != 90 {
		t.Fatalf("Score: got %v, want 90 (medium penalty 10)", res.Score)
	}
}

func TestUnregisteredValidatorRecordedAsMedium(t *testing.T) {
	e := NewEngine(defaultWeights())

	res := e.Validate(Payload{}, []rules.BusinessRule{
		{ID: "r-missing", Category: "ops", Severity: event.SeverityLow, Validator: "nope"},
	})
	if len(res.Violations) != 1 || res.Violations[0].Severity != event.SeverityMedium {
		t.Fatalf("missing validator: got %+v, want one medium violation", res.Violations)
	}
}

func TestAutoCorrectionRecorded(t *testing.T) {
	e := NewEngine(defaultWeights())
	RegisterDefaults(e, nil)

	res := e.Validate(Payload{
		EntityID:      "rec-4",
		RetentionDays: 9000,
	}, []rules.BusinessRule{
		{ID: "retention", Category: "data_protection", Severity: event.SeverityHigh,
			Validator: ValidatorRetentionLimit, AutoCorrect: true},
	})

	if len(res.Corrections) != 1 {
		t.Fatalf("corrections: got %d, want 1", len(res.Corrections))
	}
	c := res.Corrections[0]
	if !c.Result.Success || c.Result.Action != "cap_retention" {
		t.Fatalf("correction: got %+v, want successful cap_retention", c.Result)
	}
}

func TestFailedCorrectionStillRecorded(t *testing.T) {
	e := NewEngine(defaultWeights())
	e.RegisterValidator("v", func(Payload) error { return errors.New("bad") })
	e.RegisterCorrection("v", func(Payload) (CorrectionResult, error) {
		return CorrectionResult{Success: false, Action: "manual_review"}, errors.New("cannot fix")
	})

	res := e.Validate(Payload{}, []rules.BusinessRule{
		{ID: "r", Category: "ops", Severity: event.SeverityLow, Validator: "v", AutoCorrect: true},
	})
	if len(res.Corrections) != 1 {
		t.Fatalf("corrections: got %d, want 1", len(res.Corrections))
	}
	c := res.Corrections[0]
	if c.Result.Success || c.Error != "cannot fix" {
		t.Fatalf("failed correction: got %+v, want recorded failure", c)
	}
}

func TestViolationsFilter(t *testing.T) {
	e := NewEngine(defaultWeights())
	RegisterDefaults(e, []string{"SG"})

	e.Validate(Payload{ContainsSensitiveData: true}, []rules.BusinessRule{consentRule()})
	e.Validate(Payload{DataResidency: "US"}, []rules.BusinessRule{
		{ID: "residency", Category: "compliance", Severity: event.SeverityHigh, Validator: ValidatorDataResidency},
	})

	if got := len(e.Violations("", event.SeverityLow)); got != 2 {
		t.Fatalf("unfiltered: got %d, want 2", got)
	}
	got := e.Violations("compliance", event.SeverityLow)
	if len(got) != 1 || got[0].RuleID != "residency" {
		t.Fatalf("category filter: got %+v, want just residency", got)
	}
	if got := len(e.Violations("", event.SeverityCritical)); got != 1 {
		t.Fatalf("severity filter: got %d, want 1", got)
	}
}

func TestPrune(t *testing.T) {
	e := NewEngine(defaultWeights())
	RegisterDefaults(e, nil)

	base := time.Now()
	e.now = func() time.Time { return base }
	e.Validate(Payload{ContainsSensitiveData: true}, []rules.BusinessRule{consentRule()})

	e.now = func() time.Time { return base.Add(time.Hour) }
	e.Validate(Payload{ContainsSensitiveData: true}, []rules.BusinessRule{consentRule()})

	if n := e.Prune(base.Add(30 * time.Minute)); n != 1 {
		t.Fatalf("Prune: removed %d, want 1", n)
	}
	if got := len(e.Violations("", event.SeverityLow)); got != 1 {
		t.Fatalf("ledger after prune: got %d, want 1", got)
	}
}

func TestBookingOrderCorrection(t *testing.T) {
	e := NewEngine(defaultWeights())
	RegisterDefaults(e, nil)

	start := time.Now().Add(48 * time.Hour)
	res := e.Validate(Payload{
		EntityID:         "appt-1",
		AppointmentStart: start,
		AppointmentEnd:   start, // zero-length slot
	}, []rules.BusinessRule{
		{ID: "order", Category: "booking", Severity: event.SeverityMedium,
			Validator: ValidatorBookingOrder, AutoCorrect: true},
	})

	if len(res.Corrections) != 1 || !res.Corrections[0].Result.Success {
		t.Fatalf("zero-length slot: got %+v, want successful extend correction", res.Corrections)
	}
	if res.Corrections[0].Result.Action != "extend_appointment" {
		t.Fatalf("action: got %q, want extend_appointment", res.Corrections[0].Result.Action)
	}
}
