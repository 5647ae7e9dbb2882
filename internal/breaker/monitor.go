package breaker

import (
	"log/slog"
	"sync"
	"time"
)

// State is the circuit breaker state for one integration.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Impact classifies the health impact on a dependent workflow.
type Impact string

const (
	ImpactLow      Impact = "low"
	ImpactMedium   Impact = "medium"
	ImpactHigh     Impact = "high"
	ImpactCritical Impact = "critical"
)

// Settings are the per-integration breaker parameters.
type Settings struct {
	FailureThreshold int
	Cooldown         time.Duration
}

// Status is a read-only snapshot of one integration's breaker.
type Status struct {
	IntegrationID       string     `json:"integration_id"`
	ServiceType         string     `json:"service_type"`
	State               State      `json:"state"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastFailureAt       *time.Time `json:"last_failure_at,omitempty"`
	LastSuccessAt       *time.Time `json:"last_success_at,omitempty"`
	ResponseTimeMs      float64    `json:"response_time_ms"`
}

type entry struct {
	serviceType string
	settings    Settings

	state         State
	failures      int
	lastFailureAt time.Time
	lastSuccessAt time.Time
	lastRT        time.Duration

	// trialTaken marks that the single half-open trial has been handed out
	// and not yet resolved by a Record call.
	trialTaken bool
}

// Monitor owns the breaker state machine for every registered integration
// and the workflow dependency map used for impact classification.
//
// Monitor is safe for concurrent use.
type Monitor struct {
	mu        sync.Mutex
	entries   map[string]*entry
	workflows map[string][]string
	defaults  Settings
	now       func() time.Time
}

// New creates a Monitor with the given default settings.
func New(defaults Settings) *Monitor {
	return &Monitor{
		entries:   make(map[string]*entry),
		workflows: make(map[string][]string),
		defaults:  defaults,
		now:       time.Now,
	}
}

// Register declares an integration. Zero-valued settings fields inherit the
// monitor defaults. Registering an existing id updates its settings but
// keeps its breaker state.
func (m *Monitor) Register(id, serviceType string, s Settings) {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = m.defaults.FailureThreshold
	}
	if s.Cooldown <= 0 {
		s.Cooldown = m.defaults.Cooldown
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[id]; ok {
		e.serviceType = serviceType
		e.settings = s
		return
	}
	m.entries[id] = &entry{
		serviceType: serviceType,
		settings:    s,
		state:       StateClosed,
	}
}

// SetWorkflows replaces the workflow-to-dependencies map.
func (m *Monitor) SetWorkflows(workflows map[string][]string) {
	cp := make(map[string][]string, len(workflows))
	for wf, deps := range workflows {
		cp[wf] = append([]string(nil), deps...)
	}
	m.mu.Lock()
	m.workflows = cp
	m.mu.Unlock()
}

// Allow reports whether a real health check may be attempted against the
// integration right now.
//
// While OPEN and inside the cooldown period it returns false - the call must
// be short-circuited without touching the network. Once cooldown elapses the
// breaker advances to HALF_OPEN and exactly one caller gets true until the
// trial's outcome is recorded.
func (m *Monitor) Allow(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		// Unregistered integrations are tracked lazily with defaults.
		e = &entry{settings: m.defaults, state: StateClosed}
		m.entries[id] = e
	}

	switch e.state {
	case StateClosed:
		return true

	case StateOpen:
		if m.now().Sub(e.lastFailureAt) < e.settings.Cooldown {
			return false
		}
		e.state = StateHalfOpen
		e.trialTaken = true
		slog.Info("breaker: half-open trial", "integration", id)
		return true

	case StateHalfOpen:
		if e.trialTaken {
			return false
		}
		e.trialTaken = true
		return true
	}
	return false
}

// Record ingests one health-check outcome and returns the resulting state.
//
// A success closes a half-open breaker and resets the failure count. While
// OPEN inside the cooldown, successes are discarded: recovery always passes
// through a half-open trial. A failure increments consecutive failures;
// reaching the threshold opens the breaker, and a half-open failure re-opens
// it and restarts the cooldown.
func (m *Monitor) Record(id string, success bool, responseTime time.Duration) State {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		e = &entry{settings: m.defaults, state: StateClosed}
		m.entries[id] = e
	}

	if success {
		if e.state == StateOpen {
			if now.Sub(e.lastFailureAt) < e.settings.Cooldown {
				// Short-circuited callers may still report stale
				// successes. They do not count as a trial.
				return e.state
			}
			// Cooldown elapsed without an Allow call: this outcome is
			// the half-open trial.
			e.state = StateHalfOpen
		}
		e.lastRT = responseTime
		e.trialTaken = false
		e.lastSuccessAt = now
		e.failures = 0
		if e.state != StateClosed {
			slog.Info("breaker: closed", "integration", id)
		}
		e.state = StateClosed
		return e.state
	}

	e.lastRT = responseTime
	e.trialTaken = false
	e.lastFailureAt = now
	switch e.state {
	case StateHalfOpen:
		// Failed trial - back to OPEN with a fresh cooldown clock.
		e.state = StateOpen
		slog.Warn("breaker: re-opened after failed trial", "integration", id)
	case StateClosed:
		e.failures++
		if e.failures >= e.settings.FailureThreshold {
			e.state = StateOpen
			slog.Warn("breaker: opened",
				"integration", id,
				"consecutive_failures", e.failures,
			)
		}
	case StateOpen:
		// Short-circuited callers may still report failures; the breaker
		// stays open and the cooldown clock restarts.
	}
	return e.state
}

// Sweep advances OPEN breakers whose cooldown has elapsed to HALF_OPEN so
// status queries reflect eligibility even before the next Allow call.
func (m *Monitor) Sweep(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.entries {
		if e.state == StateOpen && now.Sub(e.lastFailureAt) >= e.settings.Cooldown {
			e.state = StateHalfOpen
			e.trialTaken = false
			slog.Info("breaker: cooldown elapsed", "integration", id)
		}
	}
}

// Status returns a snapshot of one integration's breaker.
func (m *Monitor) Status(id string) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return Status{}, false
	}
	return snapshot(id, e), true
}

// All returns snapshots for every tracked integration, optionally filtered
// by service type.
func (m *Monitor) All(serviceType string) []Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Status, 0, len(m.entries))
	for id, e := range m.entries {
		if serviceType != "" && e.serviceType != serviceType {
			continue
		}
		out = append(out, snapshot(id, e))
	}
	return out
}

// WorkflowImpact classifies the impact on one workflow from the fraction of
// its dependencies whose breakers are CLOSED. A workflow with no declared
// dependencies reports low impact.
func (m *Monitor) WorkflowImpact(workflow string) Impact {
	m.mu.Lock()
	defer m.mu.Unlock()

	deps := m.workflows[workflow]
	if len(deps) == 0 {
		return ImpactLow
	}
	healthy := 0
	for _, id := range deps {
		if e, ok := m.entries[id]; !ok || e.state == StateClosed {
			healthy++
		}
	}
	return impactFromFraction(float64(healthy) / float64(len(deps)))
}

// WorkflowImpacts returns the impact classification for every declared workflow.
func (m *Monitor) WorkflowImpacts() map[string]Impact {
	m.mu.Lock()
	workflows := make([]string, 0, len(m.workflows))
	for wf := range m.workflows {
		workflows = append(workflows, wf)
	}
	m.mu.Unlock()

	out := make(map[string]Impact, len(workflows))
	for _, wf := range workflows {
		out[wf] = m.WorkflowImpact(wf)
	}
	return out
}

func impactFromFraction(healthy float64) Impact {
	switch {
	case healthy >= 1:
		return ImpactLow
	case healthy >= 0.75:
		return ImpactMedium
	case healthy >= 0.5:
		return ImpactHigh
	default:
		return ImpactCritical
	}
}

func snapshot(id string, e *entry) Status {
	s := Status{
		IntegrationID:       id,
		ServiceType:         e.serviceType,
		State:               e.state,
		ConsecutiveFailures: e.failures,
		ResponseTimeMs:      float64(e.lastRT.Milliseconds()),
	}
	if !e.lastFailureAt.IsZero() {
		t := e.lastFailureAt
		s.LastFailureAt = &t
	}
	if !e.lastSuccessAt.IsZero() {
		t := e.lastSuccessAt
		s.LastSuccessAt = &t
	}
	return s
}
