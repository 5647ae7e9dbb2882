package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for the engine configuration.
const (
	DefaultHTTPPort           = 8080
	DefaultAlertRetention     = 24 * time.Hour
	DefaultCooldown           = 15 * time.Minute
	DefaultEscalationTick     = 30 * time.Second
	DefaultDrainInterval      = 15 * time.Second
	DefaultNotifyRetention    = 72 * time.Hour
	DefaultViolationRetention = 30 * 24 * time.Hour
	DefaultIncidentRetention  = 30 * 24 * time.Hour
	DefaultProbeInterval      = 30 * time.Second
	DefaultPruneInterval      = time.Minute
	DefaultComplianceSweep    = time.Hour
	DefaultSecuritySweep      = 15 * time.Minute
	DefaultFailureThreshold   = 5
	DefaultCooldownPeriod     = time.Minute
	DefaultAggregationWindow  = 5 * time.Minute
	DefaultBreachRecordsForP1 = 100
	DefaultBroadcastInterval  = 5 * time.Second
)

// Default severity-to-penalty weights. Deployments tune these in the
// `business.weights` section; they are sample defaults, not business law.
const (
	DefaultPenaltyCritical = 30.0
	DefaultPenaltyHigh     = 18.0
	DefaultPenaltyMedium   = 10.0
	DefaultPenaltyLow      = 5.0
)

// Config is the root of the engine configuration parsed from config.yaml.
type Config struct {
	HTTP          HTTPConfig          `yaml:"http"`
	Alerts        AlertsConfig        `yaml:"alerts"`
	Business      BusinessConfig      `yaml:"business"`
	Escalation    EscalationConfig    `yaml:"escalation"`
	Breakers      BreakersConfig      `yaml:"breakers"`
	Incidents     IncidentsConfig     `yaml:"incidents"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Probes        ProbesConfig        `yaml:"probes"`
	Sweeps        SweepsConfig        `yaml:"sweeps"`
}

// HTTPConfig holds the read-only dashboard API settings.
type HTTPConfig struct {
	// Port is the port the JSON API and WebSocket feed listen on (default 8080).
	Port int `yaml:"port"`

	// BroadcastInterval is how often the WebSocket hub pushes the current
	// overview to connected dashboard clients. Default: 5s.
	BroadcastInterval time.Duration `yaml:"broadcast_interval"`
}

// AlertsConfig holds alert rules and suppression windows.
type AlertsConfig struct {
	Rules        []AlertRule       `yaml:"rules"`
	Suppressions []SuppressionRule `yaml:"suppressions"`

	// Retention is how long resolved alerts and suppression markers are kept
	// before pruning. Default: 24h.
	Retention time.Duration `yaml:"retention"`
}

// AlertRule defines one declarative alert rule.
type AlertRule struct {
	// ID is the stable rule identifier, used as the deduplication key prefix.
	ID string `yaml:"id"`

	// Name is the human-readable rule title used in alert messages.
	Name string `yaml:"name"`

	// Category is the event stream the rule applies to:
	// performance | workflow | compliance | security | integration.
	Category string `yaml:"category"`

	// Severity is one of: critical | high | medium | low | info.
	Severity string `yaml:"severity"`

	// Conditions are ANDed - the rule fires only when every applicable
	// condition holds.
	Conditions []Condition `yaml:"conditions"`

	// Actions run in ascending priority order when the rule fires.
	Actions []Action `yaml:"actions"`

	// Active rules are evaluated; inactive rules stay loaded but never fire.
	Active bool `yaml:"active"`

	// EscalationPolicy names the policy used when an `escalate` action runs.
	EscalationPolicy string `yaml:"escalation_policy"`

	// Suppressions lists suppression rule IDs that can mute this rule.
	Suppressions []string `yaml:"suppressions"`

	// Cooldown suppresses re-fires for the same target after the alert
	// resolves. Defaults to 15 minutes if zero.
	Cooldown time.Duration `yaml:"cooldown"`
}

// Condition is one threshold check within a rule.
type Condition struct {
	// Metric is the typed metric key, e.g. "page_load_time", "success_rate".
	Metric string `yaml:"metric"`

	// Op is one of: > >= < <= ==
	Op string `yaml:"op"`

	Threshold float64 `yaml:"threshold"`

	// Sustained requires the condition to hold across this rolling window
	// before firing. Zero means a single qualifying sample triggers.
	Sustained time.Duration `yaml:"sustained"`

	// RequiresContext marks conditions only meaningful for events that carry
	// tenant/clinic identifiers.
	RequiresContext bool `yaml:"requires_context"`
}

// Action is one side effect executed when a rule fires.
type Action struct {
	// Type is one of: notify | create_incident | escalate.
	Type string `yaml:"type"`

	// Priority orders actions within a rule; lower runs first.
	Priority int `yaml:"priority"`

	// Recipients receive the notification for `notify` actions.
	Recipients []string `yaml:"recipients"`
}

// SuppressionRule defines a time-boxed window during which matching rules do
// not fire (e.g. a maintenance window). The underlying rules stay active and
// suppressed matches are still recorded for audit.
type SuppressionRule struct {
	ID string `yaml:"id"`

	// Category restricts the window to one event category; empty matches all.
	Category string `yaml:"category"`

	Reason string    `yaml:"reason"`
	From   time.Time `yaml:"from"`
	Until  time.Time `yaml:"until"`
}

// BusinessConfig holds business/compliance validation rules and scoring.
type BusinessConfig struct {
	Rules []BusinessRule `yaml:"rules"`

	// Weights maps severity to the score penalty deducted per violation.
	Weights Weights `yaml:"weights"`

	// ViolationRetention bounds the violations ledger. Default: 720h.
	ViolationRetention time.Duration `yaml:"violation_retention"`
}

// BusinessRule binds a named validator to a severity and correction policy.
type BusinessRule struct {
	ID string `yaml:"id"`

	Name string `yaml:"name"`

	// Category groups rules for ledger queries: booking | data_protection |
	// consent | scheduling.
	Category string `yaml:"category"`

	// Severity is one of: critical | high | medium | low.
	Severity string `yaml:"severity"`

	// Validator is the registered validator id evaluated for this rule.
	Validator string `yaml:"validator"`

	// AutoCorrect invokes the registered correction strategy on violation.
	AutoCorrect bool `yaml:"auto_correct"`

	Description string `yaml:"description"`
}

// Weights holds the severity-to-penalty table used by the scoring engine.
type Weights struct {
	Critical float64 `yaml:"critical"`
	High     float64 `yaml:"high"`
	Medium   float64 `yaml:"medium"`
	Low      float64 `yaml:"low"`
}

// EscalationConfig holds escalation policies and scheduler cadence.
type EscalationConfig struct {
	Policies []EscalationPolicy `yaml:"policies"`

	// TickInterval is the scheduler polling cadence. Default: 30s.
	TickInterval time.Duration `yaml:"tick_interval"`
}

// EscalationPolicy is an ordered ladder of escalation levels.
type EscalationPolicy struct {
	ID     string            `yaml:"id"`
	Levels []EscalationLevel `yaml:"levels"`
}

// EscalationLevel is one rung of an escalation policy.
type EscalationLevel struct {
	// Roles are notified when the item enters this level.
	Roles []string `yaml:"roles"`

	// TimeInLevel is how long an item may stay unacknowledged at this level
	// before escalating to the next.
	TimeInLevel time.Duration `yaml:"time_in_level"`
}

// BreakersConfig holds circuit-breaker settings.
type BreakersConfig struct {
	// FailureThreshold is consecutive failures before a breaker opens. Default: 5.
	FailureThreshold int `yaml:"failure_threshold"`

	// CooldownPeriod is how long an open breaker waits before allowing a
	// half-open trial. Default: 1m.
	CooldownPeriod time.Duration `yaml:"cooldown_period"`

	// Integrations declares the known external dependencies.
	Integrations []Integration `yaml:"integrations"`

	// Workflows maps a workflow name to the integration IDs it depends on,
	// used for health-impact classification.
	Workflows map[string][]string `yaml:"workflows"`
}

// Integration declares one external dependency and optional per-integration
// breaker overrides.
type Integration struct {
	ID          string `yaml:"id"`
	ServiceType string `yaml:"service_type"` // e.g. "database", "sms", "payment"

	FailureThreshold int           `yaml:"failure_threshold"` // 0 = inherit default
	CooldownPeriod   time.Duration `yaml:"cooldown_period"`   // 0 = inherit default
}

// IncidentsConfig tunes incident creation behaviour.
type IncidentsConfig struct {
	// AggregationWindow groups repeated security alerts for the same target
	// into one incident. Default: 5m.
	AggregationWindow time.Duration `yaml:"aggregation_window"`

	// BreachRecordsForP1 is the affected-record count that forces P1
	// priority regardless of nominal severity. Default: 100.
	BreachRecordsForP1 int `yaml:"breach_records_for_p1"`

	// Retention is how long closed incidents are kept before pruning.
	// Default: 720h.
	Retention time.Duration `yaml:"retention"`
}

// NotificationsConfig holds dispatch queue settings and delivery targets.
type NotificationsConfig struct {
	// DrainInterval is how often the queue attempts delivery of pending
	// items. Default: 15s.
	DrainInterval time.Duration `yaml:"drain_interval"`

	// Retention purges queue items older than this regardless of status.
	// Default: 72h.
	Retention time.Duration `yaml:"retention"`

	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// ProbesConfig holds the built-in integration health prober settings.
type ProbesConfig struct {
	// Interval is the probe cadence. Default: 30s.
	Interval time.Duration `yaml:"interval"`

	Targets []ProbeTarget `yaml:"targets"`
}

// ProbeTarget declares one endpoint to probe.
type ProbeTarget struct {
	// IntegrationID must match an entry in breakers.integrations.
	IntegrationID string `yaml:"integration_id"`

	Endpoint string `yaml:"endpoint"`

	// Kind is one of: http | prometheus. An http probe checks for a 2xx
	// response; a prometheus probe fetches and parses the metrics exposition.
	Kind string `yaml:"kind"`

	Timeout time.Duration `yaml:"timeout"` // 0 = 10s
}

// SweepsConfig holds the cadences of the periodic background sweeps.
type SweepsConfig struct {
	// PruneInterval drives history/ledger pruning. Default: 1m.
	PruneInterval time.Duration `yaml:"prune_interval"`

	// ComplianceInterval drives the coarse compliance audit sweep. Default: 1h.
	ComplianceInterval time.Duration `yaml:"compliance_interval"`

	// SecurityInterval drives the coarse security review sweep. Default: 15m.
	SecurityInterval time.Duration `yaml:"security_interval"`
}

// Load reads and parses the config file at path. Missing fields are filled
// with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	cfg.fillZeroes()

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Defaults returns a Config pre-populated with default values. Useful for
// embedding the engine without a config file.
func Defaults() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port:              DefaultHTTPPort,
			BroadcastInterval: DefaultBroadcastInterval,
		},
		Alerts: AlertsConfig{
			Retention: DefaultAlertRetention,
		},
		Business: BusinessConfig{
			Weights: Weights{
				Critical: DefaultPenaltyCritical,
				High:     DefaultPenaltyHigh,
				Medium:   DefaultPenaltyMedium,
				Low:      DefaultPenaltyLow,
			},
			ViolationRetention: DefaultViolationRetention,
		},
		Escalation: EscalationConfig{
			TickInterval: DefaultEscalationTick,
		},
		Breakers: BreakersConfig{
			FailureThreshold: DefaultFailureThreshold,
			CooldownPeriod:   DefaultCooldownPeriod,
		},
		Incidents: IncidentsConfig{
			AggregationWindow:  DefaultAggregationWindow,
			BreachRecordsForP1: DefaultBreachRecordsForP1,
			Retention:          DefaultIncidentRetention,
		},
		Notifications: NotificationsConfig{
			DrainInterval: DefaultDrainInterval,
			Retention:     DefaultNotifyRetention,
		},
		Probes: ProbesConfig{
			Interval: DefaultProbeInterval,
		},
		Sweeps: SweepsConfig{
			PruneInterval:      DefaultPruneInterval,
			ComplianceInterval: DefaultComplianceSweep,
			SecurityInterval:   DefaultSecuritySweep,
		},
	}
}

// fillZeroes restores defaults for fields an explicit yaml section zeroed out.
func (c *Config) fillZeroes() {
	if c.HTTP.Port == 0 {
		c.HTTP.Port = DefaultHTTPPort
	}
	if c.HTTP.BroadcastInterval == 0 {
		c.HTTP.BroadcastInterval = DefaultBroadcastInterval
	}
	if c.Alerts.Retention == 0 {
		c.Alerts.Retention = DefaultAlertRetention
	}
	if c.Business.ViolationRetention == 0 {
		c.Business.ViolationRetention = DefaultViolationRetention
	}
	if c.Business.Weights == (Weights{}) {
		c.Business.Weights = Weights{
			Critical: DefaultPenaltyCritical,
			High:     DefaultPenaltyHigh,
			Medium:   DefaultPenaltyMedium,
			Low:      DefaultPenaltyLow,
		}
	}
	if c.Escalation.TickInterval == 0 {
		c.Escalation.TickInterval = DefaultEscalationTick
	}
	if c.Breakers.FailureThreshold == 0 {
		c.Breakers.FailureThreshold = DefaultFailureThreshold
	}
	if c.Breakers.CooldownPeriod == 0 {
		c.Breakers.CooldownPeriod = DefaultCooldownPeriod
	}
	if c.Incidents.AggregationWindow == 0 {
		c.Incidents.AggregationWindow = DefaultAggregationWindow
	}
	if c.Incidents.BreachRecordsForP1 == 0 {
		c.Incidents.BreachRecordsForP1 = DefaultBreachRecordsForP1
	}
	if c.Incidents.Retention == 0 {
		c.Incidents.Retention = DefaultIncidentRetention
	}
	if c.Notifications.DrainInterval == 0 {
		c.Notifications.DrainInterval = DefaultDrainInterval
	}
	if c.Notifications.Retention == 0 {
		c.Notifications.Retention = DefaultNotifyRetention
	}
	if c.Probes.Interval == 0 {
		c.Probes.Interval = DefaultProbeInterval
	}
	if c.Sweeps.PruneInterval == 0 {
		c.Sweeps.PruneInterval = DefaultPruneInterval
	}
	if c.Sweeps.ComplianceInterval == 0 {
		c.Sweeps.ComplianceInterval = DefaultComplianceSweep
	}
	if c.Sweeps.SecurityInterval == 0 {
		c.Sweeps.SecurityInterval = DefaultSecuritySweep
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return fmt.Errorf("http.port %d is out of range [1, 65535]", cfg.HTTP.Port)
	}

	seen := make(map[string]bool, len(cfg.Alerts.Rules))
	for _, r := range cfg.Alerts.Rules {
		if r.ID == "" {
			return fmt.Errorf("alert rule %q has no id", r.Name)
		}
		if seen[r.ID] {
			return fmt.Errorf("duplicate alert rule id %q", r.ID)
		}
		seen[r.ID] = true

		if err := validCategory(r.Category); err != nil {
			return fmt.Errorf("alert rule %q: %w", r.ID, err)
		}
		if err := validSeverity(r.Severity); err != nil {
			return fmt.Errorf("alert rule %q: %w", r.ID, err)
		}
		for _, c := range r.Conditions {
			switch c.Op {
			case ">", ">=", "<", "<=", "==":
			default:
				return fmt.Errorf("alert rule %q: operator %q unknown: want > >= < <= ==", r.ID, c.Op)
			}
			if c.Metric == "" {
				return fmt.Errorf("alert rule %q: condition has no metric", r.ID)
			}
			if c.Sustained < 0 {
				return fmt.Errorf("alert rule %q: sustained must not be negative", r.ID)
			}
		}
		for _, a := range r.Actions {
			switch a.Type {
			case "notify", "create_incident", "escalate":
			default:
				return fmt.Errorf("alert rule %q: action type %q unknown: want notify|create_incident|escalate", r.ID, a.Type)
			}
		}
	}

	for _, b := range cfg.Business.Rules {
		if b.ID == "" {
			return fmt.Errorf("business rule %q has no id", b.Name)
		}
		if b.Validator == "" {
			return fmt.Errorf("business rule %q has no validator", b.ID)
		}
		if err := validSeverity(b.Severity); err != nil {
			return fmt.Errorf("business rule %q: %w", b.ID, err)
		}
	}

	policies := make(map[string]bool, len(cfg.Escalation.Policies))
	for _, p := range cfg.Escalation.Policies {
		if p.ID == "" {
			return fmt.Errorf("escalation policy has no id")
		}
		if len(p.Levels) == 0 {
			return fmt.Errorf("escalation policy %q has no levels", p.ID)
		}
		policies[p.ID] = true
		for i, lvl := range p.Levels {
			if lvl.TimeInLevel <= 0 {
				return fmt.Errorf("escalation policy %q: level %d time_in_level must be positive", p.ID, i)
			}
		}
	}
	for _, r := range cfg.Alerts.Rules {
		if r.EscalationPolicy != "" && !policies[r.EscalationPolicy] {
			return fmt.Errorf("alert rule %q references unknown escalation policy %q", r.ID, r.EscalationPolicy)
		}
	}

	if cfg.Breakers.FailureThreshold < 1 {
		return fmt.Errorf("breakers.failure_threshold must be at least 1")
	}
	if cfg.Breakers.CooldownPeriod <= 0 {
		return fmt.Errorf("breakers.cooldown_period must be positive")
	}

	known := make(map[string]bool, len(cfg.Breakers.Integrations))
	for _, in := range cfg.Breakers.Integrations {
		if in.ID == "" {
			return fmt.Errorf("integration has no id")
		}
		known[in.ID] = true
	}
	for wf, deps := range cfg.Breakers.Workflows {
		for _, d := range deps {
			if !known[d] {
				return fmt.Errorf("workflow %q depends on unknown integration %q", wf, d)
			}
		}
	}
	for _, t := range cfg.Probes.Targets {
		if !known[t.IntegrationID] {
			return fmt.Errorf("probe target references unknown integration %q", t.IntegrationID)
		}
		switch t.Kind {
		case "http", "prometheus", "":
		default:
			return fmt.Errorf("probe target %q: kind %q unknown: want http|prometheus", t.IntegrationID, t.Kind)
		}
	}

	for _, w := range cfg.Notifications.Webhooks {
		switch w.Type {
		case "slack", "teams", "http":
		default:
			return fmt.Errorf("webhook type %q unknown: want slack|teams|http", w.Type)
		}
	}
	return nil
}

func validCategory(c string) error {
	switch c {
	case "performance", "workflow", "compliance", "security", "integration":
		return nil
	}
	return fmt.Errorf("category %q unknown", c)
}

func validSeverity(s string) error {
	switch s {
	case "critical", "high", "medium", "low", "info":
		return nil
	}
	return fmt.Errorf("severity %q unknown", s)
}
