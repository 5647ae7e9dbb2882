package monitor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/clinicops/sentinel/internal/bizrule"
	"github.com/clinicops/sentinel/internal/config"
	"github.com/clinicops/sentinel/internal/event"
	"github.com/clinicops/sentinel/internal/incident"
	"github.com/clinicops/sentinel/internal/notify"
)

// dropDeliverer accepts every notification without any transport.
type dropDeliverer struct{}

func (dropDeliverer) Deliver(ctx context.Context, item notify.Item) error { return nil }

// testConfig builds a configuration exercising the full pipeline: a
// performance rule, a security rule that opens incidents, compliance rules
// with a score threshold, breakers and an escalation ladder.
func testConfig() *config.Config {
	cfg := config.Defaults()

	cfg.Alerts.Rules = []config.AlertRule{
		{
			ID:       "slow-page-load",
			Name:     "Critical page load time",
			Category: "performance",
			Severity: "critical",
			Active:   true,
			Conditions: []config.Condition{
				{Metric: "page_load_time", Op: ">", Threshold: 5000},
			},
			Actions: []config.Action{
				{Type: "notify", Priority: 1, Recipients: []string{"oncall"}},
			},
		},
		{
			ID:               "unauthorized-access",
			Name:             "Unauthorized record access",
			Category:         "security",
			Severity:         "critical",
			Active:           true,
			Cooldown:         10 * time.Millisecond,
			EscalationPolicy: "sec-ladder",
			Conditions: []config.Condition{
				{Metric: "occurrence", Op: ">=", Threshold: 1},
			},
			Actions: []config.Action{
				{Type: "create_incident", Priority: 1},
			},
		},
		{
			ID:       "low-compliance-score",
			Name:     "Compliance score below floor",
			Category: "compliance",
			Severity: "high",
			Active:   true,
			Conditions: []config.Condition{
				{Metric: "score", Op: "<", Threshold: 80},
			},
			Actions: []config.Action{
				{Type: "notify", Priority: 1, Recipients: []string{"compliance-team"}},
			},
		},
	}

	cfg.Business.Rules = []config.BusinessRule{
		{ID: "pdpa-consent", Category: "data_protection", Severity: "critical", Validator: "pdpa_consent"},
	}

	cfg.Escalation.Policies = []config.EscalationPolicy{{
		ID: "sec-ladder",
		Levels: []config.EscalationLevel{
			{Roles: []string{"security-oncall"}, TimeInLevel: 15 * time.Minute},
			{Roles: []string{"ciso"}, TimeInLevel: 30 * time.Minute},
		},
	}}

	cfg.Breakers.Integrations = []config.Integration{
		{ID: "supabase", ServiceType: "database"},
		{ID: "sms-gateway", ServiceType: "messaging"},
	}
	cfg.Breakers.Workflows = map[string][]string{
		"appointment_booking": {"supabase", "sms-gateway"},
	}
	return cfg
}

func newTestMonitor(t *testing.T) *Monitor {
	t.Helper()
	return New(testConfig(), WithDeliverer(dropDeliverer{}))
}

func TestPerformanceSampleRaisesAlertAndQueuesNotification(t *testing.T) {
	m := newTestMonitor(t)

	raised := m.ReportPerformanceSample("page_load_time", 6000, event.Context{TenantID: "clinic-sg"})
	if len(raised) != 1 {
		t.Fatalf("raised: got %d, want 1", len(raised))
	}
	if got := len(m.ActiveAlerts()); got != 1 {
		t.Fatalf("active alerts: got %d, want 1", got)
	}
	pending := m.Notifications(notify.StatusPending)
	if len(pending) != 1 || pending[0].Recipients[0] != "oncall" {
		t.Fatalf("pending notifications: got %+v", pending)
	}
}

func TestRepeatedSecurityAlertsAggregateIntoOneIncident(t *testing.T) {
	m := newTestMonitor(t)

	// Three rapid unauthorized-access events against the same resource.
	for i := 0; i < 3; i++ {
		m.ReportSecurityEvent("UNAUTHORIZED_ACCESS", "patient-db", false, 1, event.Context{})
		// Resolve the alert so the short cooldown lets the next one fire.
		for _, a := range m.ActiveAlerts() {
			m.ResolveAlert(a.ID)
		}
		time.Sleep(20 * time.Millisecond)
	}

	open := m.Incidents(incident.StatusOpen)
	if len(open) != 1 {
		t.Fatalf("open incidents: got %d, want 1 (aggregation)", len(open))
	}
	if got := len(open[0].RelatedAlertIDs); got < 2 {
		t.Fatalf("related alerts: got %d, want >= 2", got)
	}
}

func TestBreachSecurityEventOpensP1(t *testing.T) {
	m := newTestMonitor(t)

	m.ReportSecurityEvent("DATA_EXPORT", "patient-db", true, 240, event.Context{})

	open := m.Incidents(incident.StatusOpen)
	if len(open) != 1 {
		t.Fatalf("open incidents: got %d, want 1", len(open))
	}
	if open[0].Priority != incident.PriorityP1 {
		t.Fatalf("priority: got %s, want P1", open[0].Priority)
	}
}

func TestP1ResolutionQueuesPostMortemNotice(t *testing.T) {
	m := newTestMonitor(t)

	m.ReportSecurityEvent("DATA_EXPORT", "patient-db", true, 240, event.Context{})
	inc := m.Incidents(incident.StatusOpen)[0]

	if err := m.UpdateIncident(inc.ID, incident.StatusResolved, "ops", "export blocked"); err != nil {
		t.Fatalf("UpdateIncident: %v", err)
	}

	var found bool
	for _, n := range m.Notifications("") {
		if strings.Contains(n.Subject, "post-mortem") {
			found = true
			if n.Recipients[0] != "engineering-leads" {
				t.Fatalf("post-mortem recipients: got %v", n.Recipients)
			}
		}
	}
	if !found {
		t.Fatal("no post-mortem notification queued for resolved P1")
	}
}

func TestComplianceFailureScoresAndAlerts(t *testing.T) {
	m := newTestMonitor(t)

	res := m.ReportComplianceSnapshot(bizrule.Payload{
		EntityID:              "rec-9",
		EntityType:            "patient_record",
		TenantID:              "clinic-sg",
		ContainsSensitiveData: true,
		ConsentObtained:       false,
	})

	if res.IsValid {
		t.Fatal("IsValid: got true, want false")
	}
	if res.Score >= 80 {
		t.Fatalf("score: got %v, want < 80", res.Score)
	}
	// The score threshold rule fires on the snapshot.
	if got := len(m.ActiveAlerts()); got != 1 {
		t.Fatalf("active alerts: got %d, want 1", got)
	}
	// And the violation lands in the ledger.
	v := m.Violations("data_protection", event.SeverityCritical)
	if len(v) != 1 {
		t.Fatalf("violations: got %d, want 1", len(v))
	}
}

func TestIntegrationFailuresOpenBreaker(t *testing.T) {
	m := newTestMonitor(t)

	// Default threshold is 5 consecutive failures.
	for i := 0; i < 5; i++ {
		m.ReportIntegrationHealthCheck("supabase", false, 30*time.Millisecond)
	}

	report := m.IntegrationHealthReport("database")
	if len(report.Integrations) != 1 {
		t.Fatalf("integrations: got %d, want 1", len(report.Integrations))
	}
	if report.Integrations[0].State != "open" {
		t.Fatalf("breaker state: got %s, want open", report.Integrations[0].State)
	}
	// One of appointment_booking's two dependencies is down.
	if got := report.Workflows["appointment_booking"]; got != "high" {
		t.Fatalf("workflow impact: got %s, want high", got)
	}
}

func TestStalledP1ReminderSentOnce(t *testing.T) {
	m := newTestMonitor(t)

	m.ReportSecurityEvent("DATA_EXPORT", "patient-db", true, 240, event.Context{})

	countReminders := func() int {
		n := 0
		for _, item := range m.Notifications("") {
			if strings.Contains(item.Subject, "still open") {
				n++
			}
		}
		return n
	}

	// Several sweeps while the incident stays open produce one reminder.
	later := time.Now().Add(2 * time.Hour)
	m.securitySweep(later)
	m.securitySweep(later.Add(15 * time.Minute))
	m.securitySweep(later.Add(30 * time.Minute))
	if got := countReminders(); got != 1 {
		t.Fatalf("reminders: got %d, want 1", got)
	}

	// Resolving the incident stops the reminders for good.
	inc := m.Incidents("")[0]
	if err := m.UpdateIncident(inc.ID, incident.StatusResolved, "ops", "export blocked"); err != nil {
		t.Fatalf("UpdateIncident: %v", err)
	}
	m.securitySweep(later.Add(45 * time.Minute))
	if got := countReminders(); got != 1 {
		t.Fatalf("reminders after resolve: got %d, want 1", got)
	}
}

func TestAcknowledgeHaltsAlert(t *testing.T) {
	m := newTestMonitor(t)

	raised := m.ReportPerformanceSample("page_load_time", 7000, event.Context{TenantID: "t"})
	if err := m.AcknowledgeAlert(raised[0], "dr-ops"); err != nil {
		t.Fatalf("AcknowledgeAlert: %v", err)
	}
	a := m.ActiveAlerts()
	if len(a) != 1 || a[0].AcknowledgedBy != "dr-ops" {
		t.Fatalf("acknowledged alert: got %+v", a)
	}
	if !m.alerts.Terminal(raised[0]) {
		t.Fatal("acknowledged alert still escalatable")
	}
}

func TestReloadSwapsRules(t *testing.T) {
	m := newTestMonitor(t)

	cfg := testConfig()
	cfg.Alerts.Rules = nil // all alert rules withdrawn
	m.Reload(cfg)

	if raised := m.ReportPerformanceSample("page_load_time", 9000, event.Context{TenantID: "t"}); len(raised) != 0 {
		t.Fatal("withdrawn rule still fired after Reload")
	}
}

func TestRedeliverUnknownNotification(t *testing.T) {
	m := newTestMonitor(t)
	if err := m.RedeliverNotification("n-missing"); err == nil {
		t.Fatal("RedeliverNotification on unknown id: expected error")
	}
}

func TestSetIncidentRootCause(t *testing.T) {
	m := newTestMonitor(t)
	m.ReportSecurityEvent("DATA_EXPORT", "patient-db", true, 240, event.Context{})
	inc := m.Incidents("")[0]

	if err := m.SetIncidentRootCause(inc.ID, "ops", "leaked service key", []string{"rotate keys"}); err != nil {
		t.Fatalf("SetIncidentRootCause: %v", err)
	}
	got, _ := m.incidents.Get(inc.ID)
	if got.RootCause != "leaked service key" {
		t.Fatalf("root cause: got %q", got.RootCause)
	}
}
