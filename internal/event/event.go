package event

import "time"

// Category identifies which stream an event belongs to. Alert rules declare
// the category they apply to; the engine only evaluates matching rules.
type Category string

const (
	CategoryPerformance Category = "performance"
	CategoryWorkflow    Category = "workflow"
	CategoryCompliance  Category = "compliance"
	CategorySecurity    Category = "security"
	CategoryIntegration Category = "integration"
)

// Severity ranks the importance of rules, alerts, violations and
// notifications. The zero value is SeverityInfo.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns the numeric order of a severity: info=0 .. critical=4.
// Unknown severities rank as info.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Context carries the tenant/domain identifiers an event was reported under.
// Rules whose conditions require domain context are skipped for events that
// cannot identify at least a tenant.
type Context struct {
	TenantID string `json:"tenant_id,omitempty"`
	ClinicID string `json:"clinic_id,omitempty"`
	DoctorID string `json:"doctor_id,omitempty"`
}

// HasDomain reports whether the context identifies a tenant, clinic or doctor.
func (c Context) HasDomain() bool {
	return c.TenantID != "" || c.ClinicID != "" || c.DoctorID != ""
}

// Event is the interface every typed event implements.
//
// Metric extracts a numeric value by key. The boolean result is false when
// the event does not carry that metric - the evaluator skips the condition
// rather than treating partial data as a match or a failure.
type Event interface {
	Category() Category
	Context() Context
	Target() string
	At() time.Time
	Metric(key string) (float64, bool)
}

// Metric keys shared across event types.
const (
	MetricResponseTimeMs = "response_time_ms"
	MetricSuccessRate    = "success_rate"
	MetricDurationMs     = "duration_ms"
	MetricAffectedCount  = "affected_count"
	MetricScore          = "score"
)

// PerformanceSample is one instrumentation sample from the UI or API layer,
// e.g. a PAGE_LOAD_TIME or API_RESPONSE_TIME measurement.
type PerformanceSample struct {
	MetricType string // e.g. "page_load_time", "api_response_time", "error_rate"
	Value      float64
	Ctx        Context
	Time       time.Time
}

func (s PerformanceSample) Category() Category { return CategoryPerformance }
func (s PerformanceSample) Context() Context   { return s.Ctx }
func (s PerformanceSample) Target() string     { return s.MetricType }
func (s PerformanceSample) At() time.Time      { return s.Time }

// Metric resolves the sample's own metric type, nothing else.
func (s PerformanceSample) Metric(key string) (float64, bool) {
	if key == s.MetricType {
		return s.Value, true
	}
	return 0, false
}

// WorkflowOutcome reports the result of one business workflow run
// (booking, enrollment, reminder dispatch, ...).
type WorkflowOutcome struct {
	Workflow    string // e.g. "appointment_booking"
	Success     bool
	SuccessRate float64 // rolling success percentage reported by the caller, 0-100
	Duration    time.Duration
	Ctx         Context
	Time        time.Time
}

func (w WorkflowOutcome) Category() Category { return CategoryWorkflow }
func (w WorkflowOutcome) Context() Context   { return w.Ctx }
func (w WorkflowOutcome) Target() string     { return w.Workflow }
func (w WorkflowOutcome) At() time.Time      { return w.Time }

func (w WorkflowOutcome) Metric(key string) (float64, bool) {
	switch key {
	case MetricSuccessRate:
		return w.SuccessRate, true
	case MetricDurationMs:
		return float64(w.Duration.Milliseconds()), true
	}
	return 0, false
}

// ComplianceSnapshot carries the outcome of a compliance validation pass for
// one entity. Score is filled in by the business rule engine before the
// snapshot reaches alert evaluation.
type ComplianceSnapshot struct {
	EntityID   string
	EntityType string // e.g. "appointment", "patient_record"
	Score      float64
	Violations int
	Ctx        Context
	Time       time.Time
}

func (c ComplianceSnapshot) Category() Category { return CategoryCompliance }
func (c ComplianceSnapshot) Context() Context   { return c.Ctx }
func (c ComplianceSnapshot) Target() string     { return c.EntityType + ":" + c.EntityID }
func (c ComplianceSnapshot) At() time.Time      { return c.Time }

func (c ComplianceSnapshot) Metric(key string) (float64, bool) {
	switch key {
	case MetricScore:
		return c.Score, true
	case "violation_count":
		return float64(c.Violations), true
	}
	return 0, false
}

// SecurityEvent reports one security-relevant occurrence from the auth or
// access-control layers.
type SecurityEvent struct {
	EventType           string // e.g. "UNAUTHORIZED_ACCESS", "LOGIN_FAILURE"
	TargetID            string // resource or account the event concerns
	PotentialDataBreach bool
	AffectedRecords     int
	Ctx                 Context
	Time                time.Time
}

func (s SecurityEvent) Category() Category { return CategorySecurity }
func (s SecurityEvent) Context() Context   { return s.Ctx }
func (s SecurityEvent) Target() string     { return s.EventType + ":" + s.TargetID }
func (s SecurityEvent) At() time.Time      { return s.Time }

func (s SecurityEvent) Metric(key string) (float64, bool) {
	switch key {
	case MetricAffectedCount:
		return float64(s.AffectedRecords), true
	case "occurrence":
		// Every security event counts as one occurrence; rules with a
		// sustained window use this to detect repeated events.
		return 1, true
	}
	return 0, false
}

// IntegrationHealthCheck reports the outcome of one health probe against an
// external dependency (database, SMS gateway, payment provider, ...).
type IntegrationHealthCheck struct {
	IntegrationID string
	Success       bool
	ResponseTime  time.Duration
	Time          time.Time
}

func (i IntegrationHealthCheck) Category() Category { return CategoryIntegration }
func (i IntegrationHealthCheck) Context() Context   { return Context{} }
func (i IntegrationHealthCheck) Target() string     { return i.IntegrationID }
func (i IntegrationHealthCheck) At() time.Time      { return i.Time }

func (i IntegrationHealthCheck) Metric(key string) (float64, bool) {
	switch key {
	case MetricResponseTimeMs:
		return float64(i.ResponseTime.Milliseconds()), true
	case "healthy":
		if i.Success {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}
