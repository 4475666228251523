// Package timer tracks scheduled expirations for time-bounded content.
//
// A Registry is owned by a single goroutine (the orchestrator loop). Clock
// callbacks never touch registry state: they hand the Timer to the ExpireFunc,
// which is expected to enqueue it back onto the owning goroutine, where Fire
// decides whether the expiry still counts.
package timer

import (
	"fmt"
	"time"

	"github.com/bryanveloso/landale-sub014/internal/model"
)

// Timer is a scheduled expiration for one stack entry.
type Timer struct {
	ID       string
	FiresAt  time.Time
	Purpose  string
	TargetID string

	seq  uint64
	stop Stopper
}

// ExpireFunc receives a timer when its deadline passes.
type ExpireFunc func(Timer)

type Registry struct {
	clock    Clock
	max      int
	seq      uint64
	timers   map[string]*Timer
	onExpire ExpireFunc
}

func NewRegistry(clock Clock, maxTimers int, onExpire ExpireFunc) *Registry {
	if clock == nil {
		clock = RealClock{}
	}
	if maxTimers <= 0 {
		maxTimers = 100
	}
	return &Registry{
		clock:    clock,
		max:      maxTimers,
		timers:   make(map[string]*Timer),
		onExpire: onExpire,
	}
}

// Schedule registers a timer firing after d. It fails with
// model.ErrCapacityExceeded when the registry is full; the caller decides
// whether to deny or evict.
func (r *Registry) Schedule(purpose string, d time.Duration, targetID string) (string, error) {
	if len(r.timers) >= r.max {
		return "", fmt.Errorf("%w: %d/%d live timers", model.ErrCapacityExceeded, len(r.timers), r.max)
	}
	if d <= 0 {
		return "", fmt.Errorf("timer duration must be positive, got %v", d)
	}
	id, err := model.GenerateID(model.IDTypeTimer)
	if err != nil {
		return "", err
	}

	r.seq++
	t := &Timer{
		ID:       id,
		FiresAt:  r.clock.Now().Add(d),
		Purpose:  purpose,
		TargetID: targetID,
		seq:      r.seq,
	}
	fired := *t
	t.stop = r.clock.AfterFunc(d, func() {
		if r.onExpire != nil {
			r.onExpire(fired)
		}
	})
	r.timers[id] = t
	return id, nil
}

// Cancel stops a live timer. It reports whether the timer was still live.
func (r *Registry) Cancel(id string) bool {
	t, ok := r.timers[id]
	if !ok {
		return false
	}
	delete(r.timers, id)
	if t.stop != nil {
		t.stop.Stop()
	}
	return true
}

// Fire claims an expiry delivered through the ExpireFunc. It returns false if
// the timer was cancelled or already fired, so each timer is honoured at most
// once and never after cancellation.
func (r *Registry) Fire(id string) (Timer, bool) {
	t, ok := r.timers[id]
	if !ok {
		return Timer{}, false
	}
	delete(r.timers, id)
	return *t, true
}

// Replace schedules a timer in place of the live timer oldID, so the swap
// needs no free slot. If scheduling fails the old timer keeps running.
func (r *Registry) Replace(oldID, purpose string, d time.Duration, targetID string) (string, error) {
	old, ok := r.timers[oldID]
	if !ok {
		return r.Schedule(purpose, d, targetID)
	}
	delete(r.timers, oldID)
	id, err := r.Schedule(purpose, d, targetID)
	if err != nil {
		r.timers[oldID] = old
		return "", err
	}
	if old.stop != nil {
		old.stop.Stop()
	}
	return id, nil
}

// Oldest returns the earliest-scheduled live timer.
func (r *Registry) Oldest() (Timer, bool) {
	var oldest *Timer
	for _, t := range r.timers {
		if oldest == nil || t.seq < oldest.seq {
			oldest = t
		}
	}
	if oldest == nil {
		return Timer{}, false
	}
	return *oldest, true
}

func (r *Registry) Len() int { return len(r.timers) }

func (r *Registry) Cap() int { return r.max }

// CancelAll stops every live timer.
func (r *Registry) CancelAll() {
	for id := range r.timers {
		r.Cancel(id)
	}
}
