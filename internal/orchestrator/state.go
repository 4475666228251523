package orchestrator

import (
	"time"

	"github.com/bryanveloso/landale-sub014/internal/events"
	"github.com/bryanveloso/landale-sub014/internal/layer"
	"github.com/bryanveloso/landale-sub014/internal/model"
	"github.com/bryanveloso/landale-sub014/internal/observability"
)

// mutation collects the effects of one command. A command that leaves
// changed false is not committed: no version bump, nothing published.
type mutation struct {
	changed bool
	msgs    []events.Message
}

func (m *mutation) touch() { m.changed = true }

func (m *mutation) emit(kind events.Kind, data map[string]any) {
	m.changed = true
	m.msgs = append(m.msgs, events.Message{Type: kind, Data: data})
}

func (m *mutation) interrupt(action string, item *model.ContentItem) {
	m.emit(events.KindInterrupt, map[string]any{
		"action": action,
		"band":   item.Priority.String(),
		"item":   item.Clone(),
	})
}

// commit bumps the version once, stores the new snapshot and publishes the
// command's messages followed by the stream_state for the same version. Store
// and publish happen as one step for the publisher, so a subscriber asking
// for state never gets version V ahead of V's other messages.
func (o *Orchestrator) commit(m *mutation, now time.Time) {
	o.version++
	snap := o.buildSnapshot(now)
	prev := o.current.Load()

	msgs := make([]events.Message, 0, len(m.msgs)+1)
	for _, msg := range m.msgs {
		msg.Version = o.version
		msg.Timestamp = now
		msgs = append(msgs, msg)
	}
	msgs = append(msgs, events.StateMessage(snap))
	store := func() { o.current.Store(snap) }
	if o.pub != nil {
		o.pub.Commit(store, msgs...)
	} else {
		store()
	}

	observability.SetVersion(o.version)
	observability.SetQueuePending(snap.Metrics.PendingItems)
	observability.SetLiveTimers(o.timers.Len())
	ev := o.logger.Debug().Uint64("version", o.version).Int("messages", len(msgs))
	if changed := layer.Changed(prev.Layers, snap.Layers); len(changed) > 0 {
		names := make([]string, len(changed))
		for i, l := range changed {
			names[i] = string(l)
		}
		ev = ev.Strs("layers", names)
	}
	ev.Msg("state committed")
}

func (o *Orchestrator) buildSnapshot(now time.Time) *model.Snapshot {
	var active []*model.ContentItem
	for _, e := range o.stack.Active() {
		active = append(active, e.Item.Clone())
	}
	current := o.ticker.Current().Clone()
	layers := layer.Assign(active, current)

	ordered := o.stack.Ordered()
	stack := make([]*model.ContentItem, 0, len(ordered))
	for _, e := range ordered {
		stack = append(stack, e.Item.Clone())
	}

	snap := &model.Snapshot{
		CurrentShow:    o.show,
		Layers:         layers,
		InterruptStack: stack,
		TickerRotation: o.ticker.IDs(),
		PriorityLevel:  model.PriorityTicker,
		Metrics:        o.queue.Metrics(),
		Version:        o.version,
		LastUpdated:    now,
	}
	if fg := layers.Foreground.Content; fg != nil {
		snap.ActiveContent = fg
		snap.PriorityLevel = fg.Priority
	} else if current != nil {
		snap.ActiveContent = current
	}
	return snap
}

// CurrentSnapshot returns the latest committed snapshot. It never blocks on
// the command loop and the result must not be modified.
func (o *Orchestrator) CurrentSnapshot() *model.Snapshot {
	return o.current.Load()
}

// Version returns the latest committed version.
func (o *Orchestrator) Version() uint64 {
	return o.current.Load().Version
}
