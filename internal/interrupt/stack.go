// Package interrupt holds the content currently interrupting the overlay,
// ordered by priority band and recency.
//
// Entries stay in the stack after they leave the active state so the
// snapshot can show recent history; Cleanup trims that history.
package interrupt

import (
	"fmt"
	"sort"
	"time"

	"github.com/bryanveloso/landale-sub014/internal/model"
)

// PurposeExpire tags timers that end an entry's display time.
const PurposeExpire = "content_expiry"

// Timers is the subset of the timer registry the stack drives.
type Timers interface {
	Schedule(purpose string, d time.Duration, targetID string) (string, error)
	Replace(oldID, purpose string, d time.Duration, targetID string) (string, error)
	Cancel(id string) bool
	Len() int
	Cap() int
}

type Entry struct {
	Item    *model.ContentItem
	TimerID string

	seq uint64
}

// Active reports whether the entry is the live item of its band.
func (e *Entry) Active() bool {
	return e.Item.Status == model.StatusActive
}

type Stack struct {
	timers    Timers
	entries   []*Entry // insertion order, oldest first
	seq       uint64
	maxSize   int
	keepCount int
}

func New(timers Timers, maxSize, keepCount int) *Stack {
	if maxSize <= 0 {
		maxSize = 50
	}
	if keepCount <= 0 || keepCount > maxSize {
		keepCount = maxSize / 2
	}
	return &Stack{
		timers:    timers,
		maxSize:   maxSize,
		keepCount: keepCount,
	}
}

// Push activates item in its band. An entry already active in the band is
// superseded: it ends as completed if it had reached its natural end and
// removed otherwise, and its timer is cancelled. The superseded entry is
// returned, or nil.
//
// On error nothing is mutated.
func (s *Stack) Push(item *model.ContentItem, now time.Time) (*Entry, error) {
	if !item.Priority.IsInterrupt() {
		return nil, fmt.Errorf("%w: %s cannot enter the interrupt stack", model.ErrInvalidPriority, item.Priority)
	}
	if s.Find(item.ID) != nil {
		return nil, fmt.Errorf("%w: %s", model.ErrDuplicateItem, item.ID)
	}
	if err := model.ValidateContentTransition(item.Status, model.StatusActive); err != nil {
		return nil, err
	}

	prev := s.ActiveIn(item.Priority)

	var timerID string
	if item.Bounded() {
		var (
			id  string
			err error
		)
		// Replacing a timed entry does not grow the live timer count.
		swap := prev != nil && prev.TimerID != "" && s.timers.Len() >= s.timers.Cap()
		if swap {
			id, err = s.timers.Replace(prev.TimerID, PurposeExpire, item.Duration, item.ID)
		} else {
			id, err = s.timers.Schedule(PurposeExpire, item.Duration, item.ID)
		}
		if err != nil {
			return nil, fmt.Errorf("schedule expiry for %s: %w", item.ID, err)
		}
		if swap {
			prev.TimerID = ""
		}
		timerID = id
	}

	if prev != nil {
		end := model.StatusRemoved
		if prev.Item.RanToCompletion(now) {
			end = model.StatusCompleted
		}
		s.finish(prev, end, now)
	}

	_ = item.Transition(model.StatusActive, now)
	s.seq++
	s.entries = append(s.entries, &Entry{Item: item, TimerID: timerID, seq: s.seq})

	if len(s.entries) > s.maxSize {
		s.Cleanup()
	}
	return prev, nil
}

// Pop ends the active entry with the given id, moving it to status end and
// cancelling its timer. Fails with model.ErrUnknownItem if no active entry
// has that id.
func (s *Stack) Pop(id string, end model.Status, now time.Time) (*Entry, error) {
	e := s.Find(id)
	if e == nil || !e.Active() {
		return nil, fmt.Errorf("%w: %s is not active in the interrupt stack", model.ErrUnknownItem, id)
	}
	if err := model.ValidateContentTransition(e.Item.Status, end); err != nil {
		return nil, err
	}
	s.finish(e, end, now)
	return e, nil
}

func (s *Stack) finish(e *Entry, end model.Status, now time.Time) {
	if e.TimerID != "" {
		s.timers.Cancel(e.TimerID)
		e.TimerID = ""
	}
	_ = e.Item.Transition(end, now)
}

// Cleanup trims the stack to the keep count, discarding the oldest finished
// entries first. Active entries are never discarded. It returns the number of
// entries removed.
func (s *Stack) Cleanup() int {
	excess := len(s.entries) - s.keepCount
	if excess <= 0 {
		return 0
	}
	kept := s.entries[:0]
	removed := 0
	for _, e := range s.entries {
		if removed < excess && !e.Active() {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(s.entries); i++ {
		s.entries[i] = nil
	}
	s.entries = kept
	return removed
}

// Reset cancels every timer and empties the stack.
func (s *Stack) Reset() {
	for _, e := range s.entries {
		if e.TimerID != "" {
			s.timers.Cancel(e.TimerID)
		}
	}
	s.entries = nil
}

// Find returns the entry holding id, active or not.
func (s *Stack) Find(id string) *Entry {
	for _, e := range s.entries {
		if e.Item.ID == id {
			return e
		}
	}
	return nil
}

// FindByTimer returns the entry owning a live timer.
func (s *Stack) FindByTimer(timerID string) *Entry {
	if timerID == "" {
		return nil
	}
	for _, e := range s.entries {
		if e.TimerID == timerID {
			return e
		}
	}
	return nil
}

// ActiveIn returns the active entry of a band, or nil.
func (s *Stack) ActiveIn(band model.Priority) *Entry {
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if e.Item.Priority == band && e.Active() {
			return e
		}
	}
	return nil
}

// Active returns the active entries, highest band first.
func (s *Stack) Active() []*Entry {
	var out []*Entry
	for _, band := range model.InterruptBands {
		if e := s.ActiveIn(band); e != nil {
			out = append(out, e)
		}
	}
	return out
}

// Ordered returns all entries by band (highest first), then most recent first.
func (s *Stack) Ordered() []*Entry {
	out := make([]*Entry, len(s.entries))
	copy(out, s.entries)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Item.Priority != out[j].Item.Priority {
			return out[i].Item.Priority > out[j].Item.Priority
		}
		return out[i].seq > out[j].seq
	})
	return out
}

func (s *Stack) Len() int { return len(s.entries) }
