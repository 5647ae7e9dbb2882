package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/clinicops/sentinel/internal/event"
)

// Status is the delivery state of one queue item.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Item is one outbound notification.
type Item struct {
	ID         string         `json:"id"`
	Recipients []string       `json:"recipients"`
	Subject    string         `json:"subject"`
	Body       string         `json:"body"`
	Priority   event.Severity `json:"priority"`
	Status     Status         `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
	SentAt     *time.Time     `json:"sent_at,omitempty"`
	Error      string         `json:"error,omitempty"`
	Attempts   int            `json:"attempts"`
}

// Deliverer hands a notification to the external transport (email, SMS,
// webhook). It is only ever called from the drain loop, never from the
// event-evaluation path.
type Deliverer interface {
	Deliver(ctx context.Context, item Item) error
}

// Queue is the FIFO dispatch queue.
//
// Queue is safe for concurrent use.
type Queue struct {
	deliverer Deliverer
	retention time.Duration

	mu    sync.Mutex
	items []*Item
	byID  map[string]*Item
	now   func() time.Time
	seq   int64
}

// NewQueue creates a Queue draining into the given deliverer.
func NewQueue(deliverer Deliverer, retention time.Duration) *Queue {
	return &Queue{
		deliverer: deliverer,
		retention: retention,
		byID:      make(map[string]*Item),
		now:       time.Now,
	}
}

// EnqueueNotification appends a pending item and returns its id. Enqueueing
// never blocks on delivery.
func (q *Queue) EnqueueNotification(recipients []string, subject, body string, priority event.Severity) string {
	now := q.now()

	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	it := &Item{
		ID:         fmt.Sprintf("n-%d-%d", now.Unix(), q.seq),
		Recipients: append([]string(nil), recipients...),
		Subject:    subject,
		Body:       body,
		Priority:   priority,
		Status:     StatusPending,
		CreatedAt:  now,
	}
	q.items = append(q.items, it)
	q.byID[it.ID] = it
	return it.ID
}

// Drain attempts delivery for every pending item in FIFO order. A failed
// delivery marks the item FAILED with its error captured; there is no
// automatic retry - Redeliver is the deliberate re-send path.
func (q *Queue) Drain(ctx context.Context) (sent, failed int) {
	q.mu.Lock()
	pending := make([]*Item, 0, len(q.items))
	for _, it := range q.items {
		if it.Status == StatusPending {
			pending = append(pending, it)
		}
	}
	q.mu.Unlock()

	for _, it := range pending {
		err := q.deliverer.Deliver(ctx, *it)
		now := q.now()

		q.mu.Lock()
		it.Attempts++
		if err != nil {
			it.Status = StatusFailed
			it.Error = err.Error()
			failed++
		} else {
			it.Status = StatusSent
			it.SentAt = &now
			it.Error = ""
			sent++
		}
		q.mu.Unlock()

		if err != nil {
			slog.Error("notify: delivery failed", "item", it.ID, "err", err)
		} else {
			slog.Debug("notify: delivered", "item", it.ID, "recipients", it.Recipients)
		}
	}
	return sent, failed
}

// Redeliver marks a failed item pending again so the next drain retries it.
func (q *Queue) Redeliver(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	it, ok := q.byID[id]
	if !ok {
		return fmt.Errorf("notify: item %s not found", id)
	}
	if it.Status != StatusFailed {
		return fmt.Errorf("notify: item %s is %s, only failed items can be redelivered", id, it.Status)
	}
	it.Status = StatusPending
	it.Error = ""
	return nil
}

// Purge drops items created before cutoff regardless of status, bounding
// queue memory. Returns the number removed.
func (q *Queue) Purge(cutoff time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.items[:0]
	removed := 0
	for _, it := range q.items {
		if it.CreatedAt.Before(cutoff) {
			delete(q.byID, it.ID)
			removed++
			continue
		}
		kept = append(kept, it)
	}
	q.items = kept
	return removed
}

// Items returns copies of queue items, optionally filtered by status.
func (q *Queue) Items(status Status) []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Item, 0, len(q.items))
	for _, it := range q.items {
		if status != "" && it.Status != status {
			continue
		}
		cp := *it
		cp.Recipients = append([]string(nil), it.Recipients...)
		out = append(out, cp)
	}
	return out
}

// Run drains and purges on the given interval until ctx is cancelled.
// A drain still in flight when the next tick fires coalesces with it;
// drains never overlap.
func (q *Queue) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			q.Drain(ctx)
			if n := q.Purge(now.Add(-q.retention)); n > 0 {
				slog.Debug("notify: purged old items", "count", n)
			}
		}
	}
}
