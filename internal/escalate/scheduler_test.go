package escalate

import (
	"testing"
	"time"

	"github.com/clinicops/sentinel/internal/event"
	"github.com/clinicops/sentinel/internal/rules"
)

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

type policyMap map[string]rules.EscalationPolicy

func (m policyMap) Policy(id string) (rules.EscalationPolicy, bool) {
	p, ok := m[id]
	return p, ok
}

type notifySpy struct {
	sent []struct {
		recipients []string
		subject    string
	}
}

func (n *notifySpy) EnqueueNotification(recipients []string, subject, body string, priority event.Severity) string {
	n.sent = append(n.sent, struct {
		recipients []string
		subject    string
	}{recipients, subject})
	return "n-1"
}

// ladder is a three-rung policy. Level 0 is the initial responders - the
// firing rule's own notify action covers them - so the scheduler's first
// escalation notifies level 1.
func ladder() policyMap {
	return policyMap{
		"oncall-ladder": {
			ID: "oncall-ladder",
			Levels: []rules.EscalationLevel{
				{Roles: []string{"oncall"}, TimeInLevel: 15 * time.Minute},
				{Roles: []string{"team-lead"}, TimeInLevel: 30 * time.Minute},
				{Roles: []string{"engineering-manager"}, TimeInLevel: 60 * time.Minute},
			},
		},
	}
}

func neverTerminal(ItemKind, string) bool { return true }

func newTestScheduler(base time.Time, terminal TerminalFunc, spy *notifySpy) *Scheduler {
	s := NewScheduler(ladder(), terminal, spy)
	s.now = fixedClock(base)
	return s
}

func TestTrackUnknownPolicyIgnored(t *testing.T) {
	spy := &notifySpy{}
	s := newTestScheduler(time.Now(), func(ItemKind, string) bool { return false }, spy)

	s.Track(KindAlert, "a1", "no-such-policy", "title")
	if _, ok := s.Level(KindAlert, "a1"); ok {
		t.Fatal("item tracked under an unknown policy")
	}
}

func TestEscalatesAfterTimeInLevel(t *testing.T) {
	base := time.Now()
	spy := &notifySpy{}
	s := newTestScheduler(base, func(ItemKind, string) bool { return false }, spy)

	s.Track(KindAlert, "a1", "oncall-ladder", "Critical page load time")

	// Not yet due.
	s.Tick(base.Add(10 * time.Minute))
	if len(spy.sent) != 0 {
		t.Fatalf("early tick: %d notifications, want 0", len(spy.sent))
	}
	if lvl, _ := s.Level(KindAlert, "a1"); lvl != 0 {
		t.Fatalf("level after early tick: %d, want 0", lvl)
	}

	// Past the 15m level-0 dwell: escalate to level 1 and notify its roles.
	s.Tick(base.Add(16 * time.Minute))
	if len(spy.sent) != 1 {
		t.Fatalf("due tick: %d notifications, want 1", len(spy.sent))
	}
	if got := spy.sent[0].recipients[0]; got != "team-lead" {
		t.Fatalf("level 1 recipients: got %s, want team-lead", got)
	}
	if lvl, _ := s.Level(KindAlert, "a1"); lvl != 1 {
		t.Fatalf("level: %d, want 1", lvl)
	}
}

func TestLadderExhaustionUntracks(t *testing.T) {
	base := time.Now()
	spy := &notifySpy{}
	s := newTestScheduler(base, func(ItemKind, string) bool { return false }, spy)

	s.Track(KindIncident, "inc-1", "oncall-ladder", "DB outage")

	s.Tick(base.Add(16 * time.Minute)) // -> level 1, notify team-lead
	s.Tick(base.Add(47 * time.Minute)) // -> level 2, notify engineering-manager
	if len(spy.sent) != 2 {
		t.Fatalf("notifications: got %d, want 2", len(spy.sent))
	}
	if got := spy.sent[1].recipients[0]; got != "engineering-manager" {
		t.Fatalf("level 2 recipients: got %s, want engineering-manager", got)
	}

	// The final rung's dwell elapses with no further level - untracked
	// silently after its 60m.
	s.Tick(base.Add(3 * time.Hour))
	if _, ok := s.Level(KindIncident, "inc-1"); ok {
		t.Fatal("exhausted item still tracked")
	}
	if len(spy.sent) != 2 {
		t.Fatalf("notifications after exhaustion: got %d, want 2", len(spy.sent))
	}
}

func TestTerminalItemNeverNotified(t *testing.T) {
	base := time.Now()
	spy := &notifySpy{}
	s := newTestScheduler(base, neverTerminal, spy)

	s.Track(KindAlert, "a1", "oncall-ladder", "title")
	s.Tick(base.Add(time.Hour))

	if len(spy.sent) != 0 {
		t.Fatalf("terminal item notified %d times, want 0", len(spy.sent))
	}
	if _, ok := s.Level(KindAlert, "a1"); ok {
		t.Fatal("terminal item still tracked")
	}
}

func TestRetrackDoesNotResetLadder(t *testing.T) {
	base := time.Now()
	spy := &notifySpy{}
	s := newTestScheduler(base, func(ItemKind, string) bool { return false }, spy)

	s.Track(KindAlert, "a1", "oncall-ladder", "title")
	s.Tick(base.Add(16 * time.Minute))

	// A re-firing rule tracks the same alert again - the ladder must stay
	// at level 1.
	s.now = fixedClock(base.Add(17 * time.Minute))
	s.Track(KindAlert, "a1", "oncall-ladder", "title")
	if lvl, _ := s.Level(KindAlert, "a1"); lvl != 1 {
		t.Fatalf("level after retrack: %d, want 1", lvl)
	}
}

func TestUntrackStopsEscalation(t *testing.T) {
	base := time.Now()
	spy := &notifySpy{}
	s := newTestScheduler(base, func(ItemKind, string) bool { return false }, spy)

	s.Track(KindAlert, "a1", "oncall-ladder", "title")
	s.Untrack(KindAlert, "a1")
	s.Tick(base.Add(time.Hour))

	if len(spy.sent) != 0 {
		t.Fatalf("untracked item notified %d times, want 0", len(spy.sent))
	}
}

func TestAlertAndIncidentTrackedIndependently(t *testing.T) {
	base := time.Now()
	spy := &notifySpy{}
	s := newTestScheduler(base, func(ItemKind, string) bool { return false }, spy)

	s.Track(KindAlert, "x", "oncall-ladder", "alert x")
	s.Track(KindIncident, "x", "oncall-ladder", "incident x")

	s.Untrack(KindAlert, "x")
	if _, ok := s.Level(KindIncident, "x"); !ok {
		t.Fatal("untracking the alert removed the incident with the same id")
	}
}
