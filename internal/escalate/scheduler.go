package escalate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/clinicops/sentinel/internal/event"
	"github.com/clinicops/sentinel/internal/rules"
)

// ItemKind distinguishes tracked alerts from tracked incidents.
type ItemKind string

const (
	KindAlert    ItemKind = "alert"
	KindIncident ItemKind = "incident"
)

// PolicySource resolves escalation policies by id; the rule registry
// implements it.
type PolicySource interface {
	Policy(id string) (rules.EscalationPolicy, bool)
}

// TerminalFunc reports whether a tracked item has reached a status that ends
// escalation (resolved, closed, or acknowledged per policy).
type TerminalFunc func(kind ItemKind, id string) bool

// Notifier receives role notifications when an item escalates. The dispatch
// queue implements it.
type Notifier interface {
	EnqueueNotification(recipients []string, subject, body string, priority event.Severity) string
}

type tracked struct {
	kind      ItemKind
	id        string
	policyID  string
	title     string
	level     int
	enteredAt time.Time
}

// Scheduler holds the transient per-item escalation markers and advances
// them on each Tick.
//
// Scheduler is safe for concurrent use.
type Scheduler struct {
	policies PolicySource
	terminal TerminalFunc
	notifier Notifier

	mu    sync.Mutex
	items map[string]*tracked
	now   func() time.Time
}

// NewScheduler creates a Scheduler.
func NewScheduler(policies PolicySource, terminal TerminalFunc, notifier Notifier) *Scheduler {
	return &Scheduler{
		policies: policies,
		terminal: terminal,
		notifier: notifier,
		items:    make(map[string]*tracked),
		now:      time.Now,
	}
}

// Track starts escalation for an item at level 0. Tracking an already
// tracked item is a no-op, so re-firing rules do not reset the ladder.
func (s *Scheduler) Track(kind ItemKind, id, policyID, title string) {
	if policyID == "" {
		return
	}
	if _, ok := s.policies.Policy(policyID); !ok {
		slog.Error("escalate: unknown policy - item not tracked",
			"policy", policyID, "kind", kind, "id", id)
		return
	}

	key := string(kind) + ":" + id
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[key]; ok {
		return
	}
	s.items[key] = &tracked{
		kind:      kind,
		id:        id,
		policyID:  policyID,
		title:     title,
		enteredAt: s.now(),
	}
	slog.Info("escalate: tracking", "kind", kind, "id", id, "policy", policyID)
}

// Untrack stops escalation for an item.
func (s *Scheduler) Untrack(kind ItemKind, id string) {
	s.mu.Lock()
	delete(s.items, string(kind)+":"+id)
	s.mu.Unlock()
}

// Level returns the current escalation level for an item, if tracked.
func (s *Scheduler) Level(kind ItemKind, id string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.items[string(kind)+":"+id]
	if !ok {
		return 0, false
	}
	return t.level, true
}

// Tick advances every tracked item whose time-in-level has been exceeded.
//
// The terminal check runs first for each item so nothing is notified about
// an item that has already been resolved or acknowledged.
func (s *Scheduler) Tick(now time.Time) {
	s.mu.Lock()
	snapshot := make([]*tracked, 0, len(s.items))
	for _, t := range s.items {
		snapshot = append(snapshot, t)
	}
	s.mu.Unlock()

	for _, t := range snapshot {
		if s.terminal(t.kind, t.id) {
			s.Untrack(t.kind, t.id)
			slog.Debug("escalate: item reached terminal status", "kind", t.kind, "id", t.id)
			continue
		}

		policy, ok := s.policies.Policy(t.policyID)
		if !ok || t.level >= len(policy.Levels) {
			s.Untrack(t.kind, t.id)
			continue
		}

		s.mu.Lock()
		due := now.Sub(t.enteredAt) >= policy.Levels[t.level].TimeInLevel
		if due {
			t.level++
			t.enteredAt = now
		}
		level := t.level
		s.mu.Unlock()

		if !due {
			continue
		}
		if level >= len(policy.Levels) {
			// Ladder exhausted - final level already notified; stop tracking.
			s.Untrack(t.kind, t.id)
			slog.Warn("escalate: policy exhausted", "kind", t.kind, "id", t.id, "policy", t.policyID)
			continue
		}
		s.notify(t, policy.Levels[level], level)
	}
}

func (s *Scheduler) notify(t *tracked, level rules.EscalationLevel, n int) {
	subject := fmt.Sprintf("[escalation L%d] %s %s unattended", n, t.kind, t.id)
	body := fmt.Sprintf("%s - escalated to level %d, responsible: %v", t.title, n, level.Roles)
	s.notifier.EnqueueNotification(level.Roles, subject, body, event.SeverityHigh)
	slog.Warn("escalate: escalated",
		"kind", t.kind,
		"id", t.id,
		"level", n,
		"roles", level.Roles,
	)
}

// Run polls Tick at the given interval until ctx is cancelled. A tick that
// is still running when the next interval fires coalesces - ticks never
// queue behind each other.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Tick(now)
		}
	}
}
