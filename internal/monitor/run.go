package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/clinicops/sentinel/internal/event"
	"github.com/clinicops/sentinel/internal/incident"
)

// Run starts all periodic work and blocks until ctx is cancelled:
//
//   - notification drain and purge
//   - escalation ticks
//   - integration health probes
//   - breaker cooldown sweep and history pruning
//   - coarse compliance and security review sweeps
//
// Each loop runs on its own independent ticker in its own goroutine. A sweep
// still running when its next tick fires coalesces with it rather than
// queueing - overlapping runs against the same state cannot happen.
func (m *Monitor) Run(ctx context.Context) {
	go m.queue.Run(ctx, m.cfg.Notifications.DrainInterval)
	go m.escalator.Run(ctx, m.cfg.Escalation.TickInterval)
	go m.prober.Run(ctx, m.cfg.Probes.Interval)

	go m.runEvery(ctx, m.cfg.Sweeps.PruneInterval, m.pruneSweep)
	go m.runEvery(ctx, m.cfg.Sweeps.ComplianceInterval, m.complianceSweep)
	go m.runEvery(ctx, m.cfg.Sweeps.SecurityInterval, m.securitySweep)

	<-ctx.Done()
}

// runEvery invokes fn on every tick until ctx is cancelled. Ticks that
// arrive while fn is still running coalesce.
func (m *Monitor) runEvery(ctx context.Context, interval time.Duration, fn func(now time.Time)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			fn(now)
		}
	}
}

// pruneSweep advances eligible breakers and bounds all history state.
func (m *Monitor) pruneSweep(now time.Time) {
	m.breakers.Sweep(now)

	cutoff := now.Add(-m.cfg.Alerts.Retention)
	if n := m.alerts.Prune(cutoff); n > 0 {
		slog.Debug("sweep: pruned retired alerts", "count", n)
	}
	if n := m.evaluator.Prune(cutoff); n > 0 {
		slog.Debug("sweep: pruned idle sample windows", "count", n)
	}
	if n := m.incidents.Prune(now.Add(-m.cfg.Incidents.Retention)); n > 0 {
		slog.Debug("sweep: pruned closed incidents", "count", n)
	}
}

// complianceSweep prunes the violations ledger and logs a severity summary
// for the audit trail.
func (m *Monitor) complianceSweep(now time.Time) {
	if n := m.bizrules.Prune(now.Add(-m.cfg.Business.ViolationRetention)); n > 0 {
		slog.Info("sweep: pruned expired violations", "count", n)
	}

	violations := m.bizrules.Violations("", event.SeverityInfo)
	bySeverity := make(map[event.Severity]int)
	for _, v := range violations {
		bySeverity[v.Severity]++
	}
	slog.Info("sweep: compliance review",
		"total", len(violations),
		"critical", bySeverity[event.SeverityCritical],
		"high", bySeverity[event.SeverityHigh],
	)
}

// securitySweep reviews outstanding security alerts and incidents. An open
// P1 security incident older than an hour gets one reminder notification so
// it cannot silently stall; later sweeps do not repeat it while the incident
// stays open.
func (m *Monitor) securitySweep(now time.Time) {
	active := 0
	for _, a := range m.alerts.Active() {
		if a.Category == event.CategorySecurity {
			active++
		}
	}

	stalled := 0
	stalledIDs := make(map[string]bool)
	for _, inc := range m.incidents.List("") {
		if inc.Category != event.CategorySecurity || inc.Status.Terminal() {
			continue
		}
		if inc.Priority != incident.PriorityP1 || now.Sub(inc.ReportedAt) <= time.Hour {
			continue
		}
		stalled++
		stalledIDs[inc.ID] = true
		if !m.markReminded(inc.ID) {
			continue
		}
		m.queue.EnqueueNotification(
			postMortemRecipients,
			"[security] P1 incident "+inc.ID+" still open",
			"incident "+inc.Title+" has been open for over an hour without resolution",
			event.SeverityHigh,
		)
	}

	// Markers for incidents that resolved or were pruned are dropped so the
	// set stays bounded by the open stalled incidents.
	m.remindMu.Lock()
	for id := range m.p1Reminded {
		if !stalledIDs[id] {
			delete(m.p1Reminded, id)
		}
	}
	m.remindMu.Unlock()

	slog.Info("sweep: security review",
		"active_alerts", active,
		"stalled_p1", stalled,
	)
}

// markReminded records the reminder marker for an incident, reporting true
// only the first time.
func (m *Monitor) markReminded(id string) bool {
	m.remindMu.Lock()
	defer m.remindMu.Unlock()
	if m.p1Reminded[id] {
		return false
	}
	m.p1Reminded[id] = true
	return true
}
