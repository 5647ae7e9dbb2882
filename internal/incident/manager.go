package incident

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/clinicops/sentinel/internal/event"
)

// Status is the incident lifecycle state.
type Status string

const (
	StatusOpen          Status = "open"
	StatusInvestigating Status = "investigating"
	StatusIdentified    Status = "identified"
	StatusMonitoring    Status = "monitoring"
	StatusResolved      Status = "resolved"
	StatusClosed        Status = "closed"
)

// rank orders statuses along the lifecycle for the no-backward rule.
func (s Status) rank() int {
	switch s {
	case StatusOpen:
		return 0
	case StatusInvestigating:
		return 1
	case StatusIdentified:
		return 2
	case StatusMonitoring:
		return 3
	case StatusResolved:
		return 4
	case StatusClosed:
		return 5
	}
	return -1
}

// Terminal reports whether the status ends escalation.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusClosed
}

// Priority is the operational priority derived at creation. P1 is highest.
type Priority string

const (
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
	PriorityP3 Priority = "P3"
	PriorityP4 Priority = "P4"
)

// TimelineEntry is one append-only audit record on an incident.
type TimelineEntry struct {
	At          time.Time `json:"at"`
	Actor       string    `json:"actor"`
	Description string    `json:"description"`
}

// Incident is one tracked lifecycle-managed response to triggering alerts.
type Incident struct {
	ID                  string          `json:"id"`
	Title               string          `json:"title"`
	Description         string          `json:"description"`
	Category            event.Category  `json:"category"`
	Severity            event.Severity  `json:"severity"`
	Priority            Priority        `json:"priority"`
	Status              Status          `json:"status"`
	Target              string          `json:"target,omitempty"`
	ReportedAt          time.Time       `json:"reported_at"`
	ResolvedAt          *time.Time      `json:"resolved_at,omitempty"`
	Timeline            []TimelineEntry `json:"timeline"`
	RelatedAlertIDs     []string        `json:"related_alert_ids"`
	WorkflowImpact      string          `json:"workflow_impact,omitempty"`
	ComplianceImpact    string          `json:"compliance_impact,omitempty"`
	EstimatedResolution time.Duration   `json:"estimated_resolution,omitempty"`
	ActualResolution    time.Duration   `json:"actual_resolution,omitempty"`
	RootCause           string          `json:"root_cause,omitempty"`
	PreventionMeasures  []string        `json:"prevention_measures,omitempty"`
}

// CreateRequest carries everything needed to open (or aggregate into) an
// incident from a triggering alert.
type CreateRequest struct {
	Title               string
	Description         string
	Category            event.Category
	Severity            event.Severity
	Target              string
	AlertID             string
	PotentialDataBreach bool
	AffectedRecords     int
	WorkflowImpact      string
	ComplianceImpact    string
	EstimatedResolution time.Duration

	// EscalationPolicy, when set, enrols the new incident with the
	// escalation scheduler under that policy.
	EscalationPolicy string
}

// PostMortemSink receives post-mortem scheduling requests for resolved P1
// incidents. Implementations must not block.
type PostMortemSink interface {
	SchedulePostMortem(inc Incident)
}

// Manager owns all incidents. All mutation goes through its methods; query
// results are deep copies.
//
// Manager is safe for concurrent use.
type Manager struct {
	aggregationWindow  time.Duration
	breachRecordsForP1 int
	postMortems        PostMortemSink

	mu        sync.Mutex
	incidents map[string]*Incident
	order     []string // creation order, for stable listings
	now       func() time.Time
	seq       int64
}

// NewManager creates a Manager.
//
// aggregationWindow groups repeated security alerts for one target into one
// incident; breachRecordsForP1 is the affected-record count that forces P1.
// postMortems may be nil, in which case P1 resolutions are only logged.
func NewManager(aggregationWindow time.Duration, breachRecordsForP1 int, postMortems PostMortemSink) *Manager {
	return &Manager{
		aggregationWindow:  aggregationWindow,
		breachRecordsForP1: breachRecordsForP1,
		postMortems:        postMortems,
		incidents:          make(map[string]*Incident),
		now:                time.Now,
	}
}

// Open creates an incident from a triggering alert, or attaches the alert to
// an existing open incident for the same category and target created within
// the aggregation window. Returns the incident id and whether a new incident
// was created.
func (m *Manager) Open(req CreateRequest) (string, bool) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Aggregation: repeated alerts for the same target fold into the
	// existing incident instead of opening one per alert.
	if req.Target != "" {
		for i := len(m.order) - 1; i >= 0; i-- {
			inc := m.incidents[m.order[i]]
			if inc.Status.Terminal() {
				continue
			}
			if inc.Category != req.Category || inc.Target != req.Target {
				continue
			}
			if now.Sub(inc.ReportedAt) > m.aggregationWindow {
				break
			}
			inc.RelatedAlertIDs = append(inc.RelatedAlertIDs, req.AlertID)
			inc.Timeline = append(inc.Timeline, TimelineEntry{
				At:          now,
				Actor:       "system",
				Description: fmt.Sprintf("alert %s aggregated into incident", req.AlertID),
			})
			slog.Info("incident: alert aggregated",
				"incident", inc.ID, "alert", req.AlertID, "target", req.Target)
			return inc.ID, false
		}
	}

	m.seq++
	inc := &Incident{
		ID:                  fmt.Sprintf("inc-%d-%d", now.Unix(), m.seq),
		Title:               req.Title,
		Description:         req.Description,
		Category:            req.Category,
		Severity:            req.Severity,
		Priority:            m.priorityFor(req),
		Status:              StatusOpen,
		Target:              req.Target,
		ReportedAt:          now,
		RelatedAlertIDs:     []string{req.AlertID},
		WorkflowImpact:      req.WorkflowImpact,
		ComplianceImpact:    req.ComplianceImpact,
		EstimatedResolution: req.EstimatedResolution,
		Timeline: []TimelineEntry{{
			At:          now,
			Actor:       "system",
			Description: fmt.Sprintf("incident opened from alert %s", req.AlertID),
		}},
	}
	m.incidents[inc.ID] = inc
	m.order = append(m.order, inc.ID)

	slog.Warn("incident: opened",
		"incident", inc.ID,
		"priority", inc.Priority,
		"severity", inc.Severity,
		"title", inc.Title,
	)
	return inc.ID, true
}

// priorityFor derives the priority once at creation. A potential data breach
// or a large affected-record count forces P1 regardless of nominal severity.
func (m *Manager) priorityFor(req CreateRequest) Priority {
	if req.PotentialDataBreach || req.AffectedRecords >= m.breachRecordsForP1 {
		return PriorityP1
	}
	switch req.Severity {
	case event.SeverityCritical:
		return PriorityP2
	case event.SeverityHigh:
		return PriorityP3
	default:
		return PriorityP4
	}
}

// Update drives the incident state machine and appends a timeline entry.
//
// Transitions only move forward; skipping levels forward is allowed, moving
// backward is not. RESOLVED may be reached directly from any non-terminal
// state; CLOSED only from RESOLVED.
func (m *Manager) Update(id string, target Status, actor, note string) error {
	if target.rank() < 0 {
		return fmt.Errorf("incident: unknown status %q", target)
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	inc, ok := m.incidents[id]
	if !ok {
		return fmt.Errorf("incident: %s not found", id)
	}

	switch {
	case target == StatusResolved:
		if inc.Status == StatusClosed {
			return fmt.Errorf("incident: %s is closed", id)
		}
		if inc.Status == StatusResolved {
			return fmt.Errorf("incident: %s is already resolved", id)
		}
	case target == StatusClosed:
		if inc.Status != StatusResolved {
			return fmt.Errorf("incident: %s cannot close from %s - resolve it first", id, inc.Status)
		}
	default:
		if inc.Status.Terminal() {
			return fmt.Errorf("incident: %s is %s and cannot reopen", id, inc.Status)
		}
		if target.rank() <= inc.Status.rank() {
			return fmt.Errorf("incident: %s cannot move backward from %s to %s", id, inc.Status, target)
		}
	}

	prev := inc.Status
	inc.Status = target
	desc := fmt.Sprintf("status %s -> %s", prev, target)
	if note != "" {
		desc += ": " + note
	}
	inc.Timeline = append(inc.Timeline, TimelineEntry{At: now, Actor: actor, Description: desc})

	if target == StatusResolved {
		t := now
		inc.ResolvedAt = &t
		if inc.ActualResolution == 0 {
			inc.ActualResolution = now.Sub(inc.ReportedAt)
		}
		slog.Info("incident: resolved",
			"incident", inc.ID,
			"priority", inc.Priority,
			"resolution_time", inc.ActualResolution,
		)
		if inc.Priority == PriorityP1 {
			cp := clone(inc)
			if m.postMortems != nil {
				m.postMortems.SchedulePostMortem(cp)
			}
			inc.Timeline = append(inc.Timeline, TimelineEntry{
				At:          now,
				Actor:       "system",
				Description: "post-mortem scheduled (P1 resolution)",
			})
		}
	}
	return nil
}

// SetRootCause records the root cause and prevention measures on an incident.
func (m *Manager) SetRootCause(id, actor, rootCause string, prevention []string) error {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	inc, ok := m.incidents[id]
	if !ok {
		return fmt.Errorf("incident: %s not found", id)
	}
	inc.RootCause = rootCause
	inc.PreventionMeasures = append([]string(nil), prevention...)
	inc.Timeline = append(inc.Timeline, TimelineEntry{
		At:          now,
		Actor:       actor,
		Description: "root cause recorded: " + rootCause,
	})
	return nil
}

// Get returns a copy of one incident.
func (m *Manager) Get(id string) (Incident, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inc, ok := m.incidents[id]
	if !ok {
		return Incident{}, false
	}
	return clone(inc), true
}

// Status returns the current status of one incident.
func (m *Manager) Status(id string) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inc, ok := m.incidents[id]
	if !ok {
		return "", false
	}
	return inc.Status, true
}

// List returns copies of incidents in creation order, optionally filtered
// by status.
func (m *Manager) List(status Status) []Incident {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Incident, 0, len(m.order))
	for _, id := range m.order {
		inc := m.incidents[id]
		if status != "" && inc.Status != status {
			continue
		}
		out = append(out, clone(inc))
	}
	return out
}

// Prune drops closed incidents resolved before cutoff. Open incidents are
// never pruned. Returns the number removed.
func (m *Manager) Prune(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	kept := m.order[:0]
	for _, id := range m.order {
		inc := m.incidents[id]
		if inc.Status == StatusClosed && inc.ResolvedAt != nil && inc.ResolvedAt.Before(cutoff) {
			delete(m.incidents, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
	return removed
}

// clone deep-copies an incident so callers cannot mutate the timeline.
func clone(inc *Incident) Incident {
	cp := *inc
	cp.Timeline = append([]TimelineEntry(nil), inc.Timeline...)
	cp.RelatedAlertIDs = append([]string(nil), inc.RelatedAlertIDs...)
	cp.PreventionMeasures = append([]string(nil), inc.PreventionMeasures...)
	if inc.ResolvedAt != nil {
		t := *inc.ResolvedAt
		cp.ResolvedAt = &t
	}
	return cp
}
