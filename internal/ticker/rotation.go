// Package ticker implements the cyclic background rotation.
//
// Items live in an indexed slice with a cursor; advancing wraps at the end.
package ticker

import (
	"fmt"
	"time"

	"github.com/bryanveloso/landale-sub014/internal/model"
)

type Rotation struct {
	items    []*model.ContentItem
	cursor   int
	interval time.Duration
}

func New(interval time.Duration) *Rotation {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Rotation{interval: interval}
}

func (r *Rotation) Interval() time.Duration { return r.interval }

// Add appends an item to the end of the rotation and marks it active. The
// item under the cursor does not change.
func (r *Rotation) Add(item *model.ContentItem, now time.Time) error {
	if item.Priority != model.PriorityTicker {
		return fmt.Errorf("%w: %s item %s cannot join the ticker rotation",
			model.ErrInvalidPriority, item.Priority, item.ID)
	}
	if r.index(item.ID) >= 0 {
		return fmt.Errorf("%w: %s", model.ErrDuplicateItem, item.ID)
	}
	if item.Status != model.StatusActive {
		if err := item.Transition(model.StatusActive, now); err != nil {
			return err
		}
	}
	r.items = append(r.items, item)
	return nil
}

// Remove drops an item. If it was under the cursor the rotation moves on to
// the next item immediately.
func (r *Rotation) Remove(id string, now time.Time) (*model.ContentItem, error) {
	idx := r.index(id)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s is not in the ticker rotation", model.ErrUnknownItem, id)
	}
	item := r.items[idx]
	r.items = append(r.items[:idx], r.items[idx+1:]...)

	if idx < r.cursor {
		r.cursor--
	}
	if r.cursor >= len(r.items) {
		r.cursor = 0
	}
	_ = item.Transition(model.StatusRemoved, now)
	return item, nil
}

// Advance moves the cursor one position, wrapping at the end. It reports
// whether the current item changed.
func (r *Rotation) Advance() bool {
	if len(r.items) < 2 {
		return false
	}
	r.cursor = (r.cursor + 1) % len(r.items)
	return true
}

// Current returns the item under the cursor, or nil when the rotation is empty.
func (r *Rotation) Current() *model.ContentItem {
	if len(r.items) == 0 {
		return nil
	}
	return r.items[r.cursor]
}

// Find returns a rotation item by id.
func (r *Rotation) Find(id string) *model.ContentItem {
	if idx := r.index(id); idx >= 0 {
		return r.items[idx]
	}
	return nil
}

// IDs returns item ids in rotation order.
func (r *Rotation) IDs() []string {
	ids := make([]string, len(r.items))
	for i, it := range r.items {
		ids[i] = it.ID
	}
	return ids
}

func (r *Rotation) Len() int { return len(r.items) }

// Rewind puts the cursor back on the first item.
func (r *Rotation) Rewind() {
	r.cursor = 0
}

func (r *Rotation) index(id string) int {
	for i, it := range r.items {
		if it.ID == id {
			return i
		}
	}
	return -1
}
