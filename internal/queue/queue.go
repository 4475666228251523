// Package queue buffers submitted content ahead of the interrupt stack and
// decides, one item at a time, when each may be admitted.
package queue

import (
	"errors"
	"fmt"
	"time"

	"github.com/bryanveloso/landale-sub014/internal/interrupt"
	"github.com/bryanveloso/landale-sub014/internal/model"
)

// Stack is the part of the interrupt stack admission needs.
type Stack interface {
	ActiveIn(band model.Priority) *interrupt.Entry
	Push(item *model.ContentItem, now time.Time) (*interrupt.Entry, error)
}

// EvictFunc frees one timer slot, reporting whether it did.
type EvictFunc func(now time.Time) bool

// Decision records the outcome of one admission.
type Decision struct {
	Item       *model.ContentItem
	Superseded *interrupt.Entry
	Err        error
}

func (d Decision) Admitted() bool { return d.Err == nil }

type waitSample struct {
	at   time.Time
	wait time.Duration
}

type Queue struct {
	pending       []*model.ContentItem
	active        map[string]*model.ContentItem
	waits         []waitSample
	window        time.Duration
	lastProcessed *time.Time
	processing    bool
	evict         EvictFunc
	metrics       model.QueueMetrics
}

func New(window time.Duration, evict EvictFunc) *Queue {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &Queue{
		active: make(map[string]*model.ContentItem),
		window: window,
		evict:  evict,
	}
}

// Enqueue appends a pending interrupt item.
func (q *Queue) Enqueue(item *model.ContentItem, now time.Time) error {
	if !item.Priority.IsInterrupt() {
		return fmt.Errorf("%w: %s items are not queued", model.ErrInvalidPriority, item.Priority)
	}
	if item.Status != model.StatusPending {
		return fmt.Errorf("enqueue %s: status is %q, want pending", item.ID, item.Status)
	}
	if q.Contains(item.ID) {
		return fmt.Errorf("%w: %s", model.ErrDuplicateItem, item.ID)
	}
	q.pending = append(q.pending, item)
	q.recompute(now)
	return nil
}

// Process admits pending items until none is admissible. Items are evaluated
// oldest first and one at a time. An item is admissible when its band has no
// active entry, or when it asks to preempt. Items whose band is busy keep
// waiting in arrival order; items the stack refuses are dropped. A call made
// while an admission is already in flight returns nil.
func (q *Queue) Process(stack Stack, now time.Time) []Decision {
	if q.processing {
		return nil
	}
	var decisions []Decision
	for {
		idx := q.nextAdmissible(stack)
		if idx < 0 {
			break
		}
		item := q.pending[idx]
		q.pending = append(q.pending[:idx], q.pending[idx+1:]...)

		q.processing = true
		d := q.admit(stack, item, now)
		q.processing = false

		decisions = append(decisions, d)
		q.recompute(now)
	}
	return decisions
}

func (q *Queue) admit(stack Stack, item *model.ContentItem, now time.Time) Decision {
	prev, err := stack.Push(item, now)
	if errors.Is(err, model.ErrCapacityExceeded) && q.evict != nil && q.evict(now) {
		prev, err = stack.Push(item, now)
	}
	if err != nil {
		if item.Status == model.StatusPending {
			_ = item.Transition(model.StatusRemoved, now)
		}
		return Decision{Item: item, Err: err}
	}

	q.active[item.ID] = item
	if item.StartedAt != nil {
		q.waits = append(q.waits, waitSample{at: now, wait: item.StartedAt.Sub(item.CreatedAt)})
	}
	if prev != nil {
		q.finish(prev.Item.ID, now)
	}
	return Decision{Item: item, Superseded: prev}
}

func (q *Queue) nextAdmissible(stack Stack) int {
	for i, item := range q.pending {
		if item.Preempt || stack.ActiveIn(item.Priority) == nil {
			return i
		}
	}
	return -1
}

// Complete records that an admitted item left the stack.
func (q *Queue) Complete(id string, now time.Time) bool {
	if !q.finish(id, now) {
		return false
	}
	q.recompute(now)
	return true
}

func (q *Queue) finish(id string, now time.Time) bool {
	if _, ok := q.active[id]; !ok {
		return false
	}
	delete(q.active, id)
	done := now
	q.lastProcessed = &done
	return true
}

// Withdraw removes a pending item before it is admitted.
func (q *Queue) Withdraw(id string, now time.Time) (*model.ContentItem, bool) {
	for i, item := range q.pending {
		if item.ID == id {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			_ = item.Transition(model.StatusRemoved, now)
			q.recompute(now)
			return item, true
		}
	}
	return nil, false
}

// Contains reports whether id is pending or admitted and still active.
func (q *Queue) Contains(id string) bool {
	if _, ok := q.active[id]; ok {
		return true
	}
	for _, item := range q.pending {
		if item.ID == id {
			return true
		}
	}
	return false
}

// Metrics returns the metrics computed by the last mutation.
func (q *Queue) Metrics() model.QueueMetrics {
	m := q.metrics
	if m.LastProcessed != nil {
		t := *m.LastProcessed
		m.LastProcessed = &t
	}
	return m
}

// Reset drops every pending and admitted item and forgets wait history.
func (q *Queue) Reset(now time.Time) {
	q.pending = nil
	q.active = make(map[string]*model.ContentItem)
	q.waits = nil
	q.processing = false
	q.recompute(now)
}

func (q *Queue) recompute(now time.Time) {
	cutoff := now.Add(-q.window)
	kept := q.waits[:0]
	var total time.Duration
	for _, s := range q.waits {
		if s.at.Before(cutoff) {
			continue
		}
		kept = append(kept, s)
		total += s.wait
	}
	q.waits = kept

	var avg time.Duration
	if len(kept) > 0 {
		avg = total / time.Duration(len(kept))
	}
	q.metrics = model.QueueMetrics{
		TotalItems:      len(q.pending) + len(q.active),
		PendingItems:    len(q.pending),
		ActiveItems:     len(q.active),
		AverageWaitTime: avg,
		LastProcessed:   q.lastProcessed,
	}
}
