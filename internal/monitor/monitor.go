package monitor

import (
	"fmt"
	"sync"
	"time"

	"github.com/clinicops/sentinel/internal/alert"
	"github.com/clinicops/sentinel/internal/bizrule"
	"github.com/clinicops/sentinel/internal/breaker"
	"github.com/clinicops/sentinel/internal/config"
	"github.com/clinicops/sentinel/internal/escalate"
	"github.com/clinicops/sentinel/internal/eval"
	"github.com/clinicops/sentinel/internal/event"
	"github.com/clinicops/sentinel/internal/incident"
	"github.com/clinicops/sentinel/internal/notify"
	"github.com/clinicops/sentinel/internal/probe"
	"github.com/clinicops/sentinel/internal/rules"
)

// postMortemRecipients receive the post-mortem scheduling notice for
// resolved P1 incidents.
var postMortemRecipients = []string{"engineering-leads", "clinical-ops"}

// Monitor is one evaluator instance. All shared mutable state lives behind
// its components' own locks; the Monitor itself holds only wiring.
//
// A deployment runs a single logical Monitor; multiple instances in-process
// are supported for tests and embedding.
type Monitor struct {
	cfg *config.Config

	registry  *rules.Registry
	evaluator *eval.Evaluator
	alerts    *alert.Engine
	incidents *incident.Manager
	breakers  *breaker.Monitor
	bizrules  *bizrule.Engine
	escalator *escalate.Scheduler
	queue     *notify.Queue
	prober    *probe.Prober

	// remindMu guards p1Reminded, the set of stalled P1 incidents that
	// already received their security-sweep reminder.
	remindMu   sync.Mutex
	p1Reminded map[string]bool

	now func() time.Time
}

// Option customises Monitor construction.
type Option func(*options)

type options struct {
	deliverer notify.Deliverer
	now       func() time.Time
	residency []string
}

// WithDeliverer overrides the notification transport (default: the
// configured webhook set).
func WithDeliverer(d notify.Deliverer) Option {
	return func(o *options) { o.deliverer = d }
}

// WithClock injects the clock used for event timestamps and sweep cutoffs.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithAllowedResidencies sets the data-residency whitelist used by the
// default compliance validators.
func WithAllowedResidencies(regions []string) Option {
	return func(o *options) { o.residency = regions }
}

// New constructs a fully wired Monitor from the configuration.
func New(cfg *config.Config, opts ...Option) *Monitor {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.deliverer == nil {
		o.deliverer = notify.NewWebhookSet(cfg.Notifications.Webhooks)
	}

	m := &Monitor{
		cfg:        cfg,
		p1Reminded: make(map[string]bool),
		now:        o.now,
	}

	m.registry = rules.NewRegistry(rules.FromConfig(cfg))
	m.evaluator = eval.New()
	m.queue = notify.NewQueue(o.deliverer, cfg.Notifications.Retention)

	m.bizrules = bizrule.NewEngine(bizrule.Weights{
		Critical: cfg.Business.Weights.Critical,
		High:     cfg.Business.Weights.High,
		Medium:   cfg.Business.Weights.Medium,
		Low:      cfg.Business.Weights.Low,
	})
	bizrule.RegisterDefaults(m.bizrules, o.residency)

	m.breakers = breaker.New(breaker.Settings{
		FailureThreshold: cfg.Breakers.FailureThreshold,
		Cooldown:         cfg.Breakers.CooldownPeriod,
	})
	for _, in := range cfg.Breakers.Integrations {
		m.breakers.Register(in.ID, in.ServiceType, breaker.Settings{
			FailureThreshold: in.FailureThreshold,
			Cooldown:         in.CooldownPeriod,
		})
	}
	m.breakers.SetWorkflows(cfg.Breakers.Workflows)

	m.incidents = incident.NewManager(
		cfg.Incidents.AggregationWindow,
		cfg.Incidents.BreachRecordsForP1,
		postMortemSink{m},
	)

	m.escalator = escalate.NewScheduler(m.registry, m.isTerminal, m.queue)
	m.alerts = alert.NewEngine(m.registry, m.evaluator, actionSink{m})
	m.prober = probe.New(cfg.Probes.Targets, m.breakers, m)

	return m
}

// Reload replaces the rule configuration wholesale and re-registers
// integrations. Sweep cadences and ports are fixed at construction and are
// not changed by a reload.
func (m *Monitor) Reload(cfg *config.Config) {
	m.registry.Replace(rules.FromConfig(cfg))
	for _, in := range cfg.Breakers.Integrations {
		m.breakers.Register(in.ID, in.ServiceType, breaker.Settings{
			FailureThreshold: in.FailureThreshold,
			Cooldown:         in.CooldownPeriod,
		})
	}
	m.breakers.SetWorkflows(cfg.Breakers.Workflows)
}

// --- report operations (event path, synchronous, non-blocking) -------------

// ReportPerformanceSample ingests one instrumentation sample.
func (m *Monitor) ReportPerformanceSample(metricType string, value float64, ctx event.Context) []string {
	return m.alerts.Evaluate(event.PerformanceSample{
		MetricType: metricType,
		Value:      value,
		Ctx:        ctx,
		Time:       m.now(),
	})
}

// ReportWorkflowOutcome ingests the result of one business workflow run.
func (m *Monitor) ReportWorkflowOutcome(workflow string, success bool, successRate float64, duration time.Duration, ctx event.Context) []string {
	return m.alerts.Evaluate(event.WorkflowOutcome{
		Workflow:    workflow,
		Success:     success,
		SuccessRate: successRate,
		Duration:    duration,
		Ctx:         ctx,
		Time:        m.now(),
	})
}

// ReportComplianceSnapshot validates a domain payload against the business
// and compliance rule set, then feeds the scored snapshot through alert
// evaluation so threshold rules (e.g. score < 80) can fire.
func (m *Monitor) ReportComplianceSnapshot(p bizrule.Payload) bizrule.Result {
	res := m.bizrules.Validate(p, m.registry.BusinessRules(""))

	m.alerts.Evaluate(event.ComplianceSnapshot{
		EntityID:   p.EntityID,
		EntityType: p.EntityType,
		Score:      res.Score,
		Violations: len(res.Violations),
		Ctx:        event.Context{TenantID: p.TenantID, ClinicID: p.ClinicID, DoctorID: p.DoctorID},
		Time:       m.now(),
	})
	return res
}

// ReportSecurityEvent ingests one security-relevant occurrence.
func (m *Monitor) ReportSecurityEvent(eventType, target string, potentialBreach bool, affectedRecords int, ctx event.Context) []string {
	return m.alerts.Evaluate(event.SecurityEvent{
		EventType:           eventType,
		TargetID:            target,
		PotentialDataBreach: potentialBreach,
		AffectedRecords:     affectedRecords,
		Ctx:                 ctx,
		Time:                m.now(),
	})
}

// ReportIntegrationHealthCheck ingests one health-check outcome. It drives
// the integration's circuit breaker first, then alert evaluation.
func (m *Monitor) ReportIntegrationHealthCheck(integrationID string, success bool, responseTime time.Duration) {
	m.breakers.Record(integrationID, success, responseTime)
	m.alerts.Evaluate(event.IntegrationHealthCheck{
		IntegrationID: integrationID,
		Success:       success,
		ResponseTime:  responseTime,
		Time:          m.now(),
	})
}

// --- query operations (read-only, for dashboards) ---------------------------

// ActiveAlerts returns the currently active and acknowledged alerts.
func (m *Monitor) ActiveAlerts() []alert.Alert { return m.alerts.Active() }

// SuppressedAlerts returns the suppressed-would-have-fired audit markers.
func (m *Monitor) SuppressedAlerts() []alert.Alert { return m.alerts.Suppressed() }

// Incidents returns incidents, optionally filtered by status.
func (m *Monitor) Incidents(status incident.Status) []incident.Incident {
	return m.incidents.List(status)
}

// Violations returns ledger entries filtered by rule category and minimum
// severity.
func (m *Monitor) Violations(category string, minSeverity event.Severity) []bizrule.Violation {
	return m.bizrules.Violations(category, minSeverity)
}

// IntegrationHealth describes breaker state per integration plus per-workflow
// impact classification.
type IntegrationHealth struct {
	Integrations []breaker.Status          `json:"integrations"`
	Workflows    map[string]breaker.Impact `json:"workflows"`
}

// IntegrationHealthReport returns breaker snapshots, optionally filtered by
// service type, and the impact classification for every declared workflow.
func (m *Monitor) IntegrationHealthReport(serviceType string) IntegrationHealth {
	return IntegrationHealth{
		Integrations: m.breakers.All(serviceType),
		Workflows:    m.breakers.WorkflowImpacts(),
	}
}

// Notifications returns queue items, optionally filtered by status.
func (m *Monitor) Notifications(status notify.Status) []notify.Item {
	return m.queue.Items(status)
}

// --- operator operations ----------------------------------------------------

// AcknowledgeAlert marks an active alert acknowledged.
func (m *Monitor) AcknowledgeAlert(id, by string) error { return m.alerts.Acknowledge(id, by) }

// ResolveAlert resolves an alert.
func (m *Monitor) ResolveAlert(id string) error { return m.alerts.Resolve(id) }

// UpdateIncident drives the incident state machine.
func (m *Monitor) UpdateIncident(id string, status incident.Status, actor, note string) error {
	return m.incidents.Update(id, status, actor, note)
}

// SetIncidentRootCause records root cause and prevention measures.
func (m *Monitor) SetIncidentRootCause(id, actor, rootCause string, prevention []string) error {
	return m.incidents.SetRootCause(id, actor, rootCause, prevention)
}

// RedeliverNotification re-queues a failed notification.
func (m *Monitor) RedeliverNotification(id string) error { return m.queue.Redeliver(id) }

// --- internal wiring --------------------------------------------------------

// isTerminal is the escalation scheduler's pre-tick terminal check.
func (m *Monitor) isTerminal(kind escalate.ItemKind, id string) bool {
	switch kind {
	case escalate.KindAlert:
		return m.alerts.Terminal(id)
	case escalate.KindIncident:
		status, ok := m.incidents.Status(id)
		return !ok || status.Terminal()
	}
	return true
}

// actionSink adapts the Monitor to the alert engine's side-effect interface.
type actionSink struct{ m *Monitor }

func (s actionSink) Notify(recipients []string, subject, body string, priority event.Severity) error {
	s.m.queue.EnqueueNotification(recipients, subject, body, priority)
	return nil
}

func (s actionSink) OpenIncident(req incident.CreateRequest) (string, error) {
	id, created := s.m.incidents.Open(req)
	if created && req.EscalationPolicy != "" {
		s.m.escalator.Track(escalate.KindIncident, id, req.EscalationPolicy, req.Title)
	}
	return id, nil
}

func (s actionSink) StartEscalation(alertID, policyID, title string) error {
	if policyID == "" {
		return fmt.Errorf("rule has no escalation policy")
	}
	s.m.escalator.Track(escalate.KindAlert, alertID, policyID, title)
	return nil
}

// postMortemSink schedules the post-mortem follow-up for resolved P1
// incidents through the notification queue.
type postMortemSink struct{ m *Monitor }

func (s postMortemSink) SchedulePostMortem(inc incident.Incident) {
	s.m.queue.EnqueueNotification(
		postMortemRecipients,
		fmt.Sprintf("[post-mortem] %s resolved", inc.ID),
		fmt.Sprintf("P1 incident %q resolved in %s - post-mortem review required within 5 business days",
			inc.Title, inc.ActualResolution),
		event.SeverityHigh,
	)
}
