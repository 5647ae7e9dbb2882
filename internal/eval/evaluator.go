package eval

import (
	"sync"
	"time"

	"github.com/clinicops/sentinel/internal/event"
	"github.com/clinicops/sentinel/internal/rules"
)

// maxSamples bounds the per-(rule, metric) sample ring.
const maxSamples = 64

// Outcome is the result of evaluating one condition against one event.
type Outcome int

const (
	// Skipped means the event does not carry the condition's metric. The
	// condition is treated as not applicable, not as a failure.
	Skipped Outcome = iota

	// NotMet means the metric was present but the condition does not hold.
	NotMet

	// Met means the condition holds (including any sustained window).
	Met
)

type sample struct {
	at time.Time
	v  float64
}

// window tracks recent samples and the start of the current qualifying
// streak for one (ruleID, metric) pair.
type window struct {
	samples     []sample
	streakStart time.Time // zero when the latest sample failed the condition
}

// Evaluator evaluates conditions against events. For conditions with a
// sustained duration it keeps a short ring of recent samples per
// (ruleID, metric) pair and fires only once the condition has held
// continuously for the whole window.
//
// Evaluator is safe for concurrent use.
type Evaluator struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

// New returns a ready-to-use Evaluator.
func New() *Evaluator {
	return &Evaluator{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Evaluate tests one condition for one rule against an event.
//
// A zero Sustained duration means a single qualifying sample triggers.
// A positive Sustained duration requires an unbroken run of qualifying
// samples spanning at least the window - a lone spike never satisfies a
// duration condition, and any non-qualifying sample resets the run.
func (e *Evaluator) Evaluate(ruleID string, c rules.Condition, ev event.Event) Outcome {
	v, ok := ev.Metric(c.Metric)
	if !ok {
		return Skipped
	}

	if c.Sustained == 0 {
		if c.Op.Compare(v, c.Threshold) {
			return Met
		}
		return NotMet
	}

	now := e.now()
	key := ruleID + "|" + c.Metric

	e.mu.Lock()
	defer e.mu.Unlock()

	w := e.windows[key]
	if w == nil {
		w = &window{}
		e.windows[key] = w
	}

	w.samples = append(w.samples, sample{at: now, v: v})
	if len(w.samples) > maxSamples {
		w.samples = w.samples[len(w.samples)-maxSamples:]
	}

	if !c.Op.Compare(v, c.Threshold) {
		w.streakStart = time.Time{}
		return NotMet
	}
	if w.streakStart.IsZero() {
		w.streakStart = now
	}
	if now.Sub(w.streakStart) >= c.Sustained {
		return Met
	}
	return NotMet
}

// Recent returns copies of the recorded values for one (ruleID, metric)
// pair, oldest first. Used by dashboards to show what led up to an alert.
func (e *Evaluator) Recent(ruleID, metric string) []float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	w := e.windows[ruleID+"|"+metric]
	if w == nil {
		return nil
	}
	out := make([]float64, len(w.samples))
	for i, s := range w.samples {
		out[i] = s.v
	}
	return out
}

// Prune drops sample windows that have received nothing since cutoff.
// Called by the periodic pruning sweep to bound memory across rule churn.
func (e *Evaluator) Prune(cutoff time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	removed := 0
	for key, w := range e.windows {
		if len(w.samples) == 0 || !w.samples[len(w.samples)-1].at.After(cutoff) {
			delete(e.windows, key)
			removed++
		}
	}
	return removed
}
