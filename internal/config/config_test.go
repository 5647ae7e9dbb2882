package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validYAML = `
http:
  port: 9090
alerts:
  rules:
    - id: slow-page-load
      name: Critical page load time
      category: performance
      severity: critical
      active: true
      cooldown: 10m
      escalation_policy: oncall-ladder
      conditions:
        - metric: page_load_time
          op: ">"
          threshold: 5000
      actions:
        - type: notify
          priority: 1
          recipients: [oncall]
        - type: create_incident
          priority: 2
business:
  rules:
    - id: pdpa-consent
      name: PDPA consent check
      category: data_protection
      severity: critical
      validator: pdpa_consent
escalation:
  policies:
    - id: oncall-ladder
      levels:
        - roles: [oncall]
          time_in_level: 15m
        - roles: [team-lead]
          time_in_level: 30m
breakers:
  integrations:
    - id: supabase
      service_type: database
    - id: sms-gateway
      service_type: messaging
      failure_threshold: 3
  workflows:
    appointment_booking: [supabase, sms-gateway]
probes:
  targets:
    - integration_id: supabase
      endpoint: http://localhost:5432/health
      kind: http
notifications:
  webhooks:
    - type: slack
      url_env: SLACK_WEBHOOK_URL
`

func TestLoadValid(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Port != 9090 {
		t.Fatalf("http.port: got %d, want 9090", cfg.HTTP.Port)
	}
	if len(cfg.Alerts.Rules) != 1 || cfg.Alerts.Rules[0].Cooldown != 10*time.Minute {
		t.Fatalf("alert rules: got %+v", cfg.Alerts.Rules)
	}
	if got := cfg.Breakers.Integrations[1].FailureThreshold; got != 3 {
		t.Fatalf("per-integration threshold: got %d, want 3", got)
	}
}

func TestLoadFillsDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "http:\n  port: 8081\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Alerts.Retention != DefaultAlertRetention {
		t.Fatalf("alerts.retention: got %v, want default %v", cfg.Alerts.Retention, DefaultAlertRetention)
	}
	if cfg.Breakers.FailureThreshold != DefaultFailureThreshold {
		t.Fatalf("breakers.failure_threshold: got %d, want %d", cfg.Breakers.FailureThreshold, DefaultFailureThreshold)
	}
	if cfg.Business.Weights.Critical != DefaultPenaltyCritical {
		t.Fatalf("weights.critical: got %v, want %v", cfg.Business.Weights.Critical, DefaultPenaltyCritical)
	}
	if cfg.Incidents.BreachRecordsForP1 != DefaultBreachRecordsForP1 {
		t.Fatalf("breach_records_for_p1: got %d, want %d", cfg.Incidents.BreachRecordsForP1, DefaultBreachRecordsForP1)
	}
	if cfg.Incidents.Retention != DefaultIncidentRetention {
		t.Fatalf("incidents.retention: got %v, want default %v", cfg.Incidents.Retention, DefaultIncidentRetention)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Load on missing file: expected error")
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			"bad port",
			"http:\n  port: 70000\n",
			"out of range",
		},
		{
			"duplicate rule id",
			`alerts:
  rules:
    - {id: r1, category: performance, severity: high}
    - {id: r1, category: performance, severity: high}
`,
			"duplicate alert rule id",
		},
		{
			"unknown category",
			`alerts:
  rules:
    - {id: r1, category: weather, severity: high}
`,
			"category",
		},
		{
			"unknown operator",
			`alerts:
  rules:
    - id: r1
      category: performance
      severity: high
      conditions:
        - {metric: m, op: "!=", threshold: 1}
`,
			"operator",
		},
		{
			"unknown action type",
			`alerts:
  rules:
    - id: r1
      category: performance
      severity: high
      actions:
        - {type: page_everyone, priority: 1}
`,
			"action type",
		},
		{
			"dangling escalation policy",
			`alerts:
  rules:
    - {id: r1, category: performance, severity: high, escalation_policy: ghost}
`,
			"unknown escalation policy",
		},
		{
			"policy without levels",
			`escalation:
  policies:
    - id: empty
`,
			"no levels",
		},
		{
			"business rule without validator",
			`business:
  rules:
    - {id: b1, severity: high}
`,
			"no validator",
		},
		{
			"workflow with unknown integration",
			`breakers:
  workflows:
    booking: [ghost]
`,
			"unknown integration",
		},
		{
			"probe for unknown integration",
			`probes:
  targets:
    - {integration_id: ghost, endpoint: "http://x", kind: http}
`,
			"unknown integration",
		},
		{
			"unknown webhook type",
			`notifications:
  webhooks:
    - {type: carrier_pigeon}
`,
			"webhook type",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.yaml))
			if err == nil {
				t.Fatal("Load: expected error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestWebhookURLFromEnv(t *testing.T) {
	t.Setenv("TEST_WEBHOOK_URL", "https://hooks.example.com/x")
	w := WebhookConfig{Type: "slack", URLEnv: "TEST_WEBHOOK_URL"}
	if got := w.URL(); got != "https://hooks.example.com/x" {
		t.Fatalf("URL: got %q", got)
	}
	if got := (WebhookConfig{}).URL(); got != "" {
		t.Fatalf("URL with no env binding: got %q, want empty", got)
	}
}
