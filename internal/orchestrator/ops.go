package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bryanveloso/landale-sub014/internal/events"
	"github.com/bryanveloso/landale-sub014/internal/model"
	"github.com/bryanveloso/landale-sub014/internal/observability"
	"github.com/bryanveloso/landale-sub014/internal/queue"
	"github.com/bryanveloso/landale-sub014/internal/timer"
)

// Submit validates req and hands the item to admission. Interrupt items are
// queued and admitted when their band allows; ticker items join the rotation.
// The returned item reflects its status right after admission ran.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (*model.ContentItem, error) {
	item, err := buildItem(req, o.cfg, o.clock.Now())
	if err != nil {
		observability.RecordAdmission("unknown", "invalid")
		o.logger.Warn().Err(err).Str("id", req.ID).Str("type", req.Type).Str("band", req.Priority).
			Msg("submission rejected")
		return nil, err
	}

	var out *model.ContentItem
	err = o.call(ctx, "submit", func(m *mutation, now time.Time) error {
		if err := o.checkUnique(item.ID); err != nil {
			return err
		}
		if item.Priority == model.PriorityTicker {
			if err := o.ticker.Add(item, now); err != nil {
				return err
			}
			m.touch()
			out = item.Clone()
			return nil
		}

		if err := o.queue.Enqueue(item, now); err != nil {
			return err
		}
		for _, d := range o.admit(m, now) {
			if d.Item == item && !d.Admitted() {
				return d.Err
			}
		}
		m.touch()
		out = item.Clone()
		return nil
	})
	return out, err
}

// AddTickerItem submits an item straight into the ticker rotation.
func (o *Orchestrator) AddTickerItem(ctx context.Context, req SubmitRequest) (*model.ContentItem, error) {
	if req.Priority == "" {
		req.Priority = model.PriorityTicker.String()
	}
	if p, err := model.ParsePriority(req.Priority); err != nil || p != model.PriorityTicker {
		return nil, fmt.Errorf("%w: ticker items must have priority ticker, got %q", model.ErrInvalidPriority, req.Priority)
	}
	return o.Submit(ctx, req)
}

// Remove ends an active interrupt, withdraws a pending item or drops a ticker
// item. An unknown id is reported with model.ErrUnknownItem and changes nothing.
func (o *Orchestrator) Remove(ctx context.Context, id string) error {
	return o.call(ctx, "remove", func(m *mutation, now time.Time) error {
		if e := o.stack.Find(id); e != nil && e.Active() {
			if err := o.endInterrupt(m, now, id, model.StatusRemoved); err != nil {
				return err
			}
			o.admit(m, now)
			return nil
		}
		if item, ok := o.queue.Withdraw(id, now); ok {
			o.logger.Info().Str("id", item.ID).Str("band", item.Priority.String()).Msg("pending item withdrawn")
			m.touch()
			return nil
		}
		if o.ticker.Find(id) != nil {
			return o.removeTicker(m, now, id)
		}
		return o.unknown("remove", id)
	})
}

// RemoveTickerItem drops an item from the ticker rotation only.
func (o *Orchestrator) RemoveTickerItem(ctx context.Context, id string) error {
	return o.call(ctx, "ticker_remove", func(m *mutation, now time.Time) error {
		if o.ticker.Find(id) == nil {
			return o.unknown("ticker_remove", id)
		}
		return o.removeTicker(m, now, id)
	})
}

// UpdateContent replaces the payload of an active interrupt or ticker item.
// The payload is decoded against the item's existing type.
func (o *Orchestrator) UpdateContent(ctx context.Context, id string, payload json.RawMessage) error {
	return o.call(ctx, "update_content", func(m *mutation, now time.Time) error {
		var item *model.ContentItem
		if e := o.stack.Find(id); e != nil && e.Active() {
			item = e.Item
		} else if t := o.ticker.Find(id); t != nil {
			item = t
		}
		if item == nil {
			return o.unknown("update_content", id)
		}

		p, err := model.DecodePayload(item.Type, payload)
		if err != nil {
			o.logger.Warn().Err(err).Str("id", id).Str("type", item.Type).Msg("content update rejected")
			return err
		}
		item.Payload = p
		m.emit(events.KindContentUpdate, map[string]any{
			"id":      item.ID,
			"type":    item.Type,
			"band":    item.Priority.String(),
			"payload": p,
		})
		return nil
	})
}

// SetCategory maps an upstream game or category id onto a show and switches
// to it. It returns the resulting show; switching to the current show is a
// no-op.
func (o *Orchestrator) SetCategory(ctx context.Context, gameID string) (string, error) {
	var show string
	err := o.call(ctx, "set_category", func(m *mutation, now time.Time) error {
		show = o.cfg.ShowFor(gameID)
		if show == o.show {
			return nil
		}
		prev := o.show
		o.show = show
		o.logger.Info().Str("from", prev).Str("to", show).Str("game_id", gameID).Msg("show changed")
		m.emit(events.KindShowChanged, map[string]any{
			"previous": prev,
			"current":  show,
			"game_id":  gameID,
		})
		return nil
	})
	return show, err
}

// AdvanceTicker moves the rotation one position. Rotations with fewer than
// two items do not change.
func (o *Orchestrator) AdvanceTicker(ctx context.Context) error {
	return o.call(ctx, "ticker_advance", o.applyAdvance)
}

// Cleanup trims interrupt stack history and returns how many entries went.
func (o *Orchestrator) Cleanup(ctx context.Context) (int, error) {
	var n int
	err := o.call(ctx, "cleanup", func(m *mutation, now time.Time) error {
		n = o.cleanupStack(m)
		return nil
	})
	return n, err
}

func (o *Orchestrator) applyAdvance(m *mutation, _ time.Time) error {
	if o.ticker.Advance() {
		m.touch()
	}
	return nil
}

func (o *Orchestrator) applyCleanup(m *mutation, _ time.Time) error {
	o.cleanupStack(m)
	return nil
}

func (o *Orchestrator) cleanupStack(m *mutation) int {
	n := o.stack.Cleanup()
	if n > 0 {
		o.logger.Debug().Int("removed", n).Int("remaining", o.stack.Len()).Msg("interrupt stack trimmed")
		m.touch()
	}
	return n
}

func (o *Orchestrator) applyExpire(m *mutation, now time.Time, t timer.Timer) error {
	fired, ok := o.timers.Fire(t.ID)
	if !ok {
		o.logger.Debug().Str("timer", t.ID).Msg("stale expiry ignored")
		return nil
	}
	e := o.stack.Find(fired.TargetID)
	if e == nil || !e.Active() || e.TimerID != fired.ID {
		o.logger.Debug().Str("timer", fired.ID).Str("target", fired.TargetID).Msg("expiry target no longer active")
		return nil
	}
	if err := o.endInterrupt(m, now, e.Item.ID, model.StatusExpired); err != nil {
		return err
	}
	observability.RecordExpiration(e.Item.Priority.String())
	o.admit(m, now)
	return nil
}

// admit runs queue admission and records the outcome of every decision.
func (o *Orchestrator) admit(m *mutation, now time.Time) []queue.Decision {
	decisions := o.queue.Process(o.stack, now)
	for _, d := range decisions {
		band := d.Item.Priority.String()
		if !d.Admitted() {
			observability.RecordAdmission(band, "rejected")
			o.logger.Warn().Err(d.Err).Str("id", d.Item.ID).Str("type", d.Item.Type).Str("band", band).
				Msg("admission rejected")
			continue
		}
		observability.RecordAdmission(band, "admitted")
		if d.Superseded != nil {
			m.interrupt("superseded", d.Superseded.Item)
		}
		m.interrupt("pushed", d.Item)
	}
	return decisions
}

func (o *Orchestrator) endInterrupt(m *mutation, now time.Time, id string, end model.Status) error {
	e, err := o.stack.Pop(id, end, now)
	if err != nil {
		return err
	}
	o.queue.Complete(id, now)
	m.interrupt(string(end), e.Item)
	return nil
}

func (o *Orchestrator) removeTicker(m *mutation, now time.Time, id string) error {
	if _, err := o.ticker.Remove(id, now); err != nil {
		return err
	}
	m.touch()
	return nil
}

// evictFunc frees a timer slot by expiring the entry holding the oldest
// timer. It is nil under the deny policy.
func (o *Orchestrator) evictFunc() queue.EvictFunc {
	if o.cfg.Timers.CapacityPolicy != model.CapacityPolicyEvictOldest {
		return nil
	}
	return func(now time.Time) bool {
		t, ok := o.timers.Oldest()
		if !ok {
			return false
		}
		e := o.stack.FindByTimer(t.ID)
		if e == nil {
			return o.timers.Cancel(t.ID)
		}
		m := o.txn
		if m == nil {
			m = &mutation{}
		}
		if err := o.endInterrupt(m, now, e.Item.ID, model.StatusExpired); err != nil {
			return false
		}
		observability.RecordExpiration(e.Item.Priority.String())
		o.logger.Info().Str("id", e.Item.ID).Str("band", e.Item.Priority.String()).
			Msg("evicted oldest timer to make room")
		return true
	}
}

func (o *Orchestrator) checkUnique(id string) error {
	if o.stack.Find(id) != nil || o.queue.Contains(id) || o.ticker.Find(id) != nil {
		return fmt.Errorf("%w: %s", model.ErrDuplicateItem, id)
	}
	return nil
}

func (o *Orchestrator) unknown(op, id string) error {
	o.logger.Warn().Str("op", op).Str("id", id).Msg("unknown item")
	return fmt.Errorf("%w: %s", model.ErrUnknownItem, id)
}
