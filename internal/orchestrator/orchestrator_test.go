package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanveloso/landale-sub014/internal/events"
	"github.com/bryanveloso/landale-sub014/internal/model"
	"github.com/bryanveloso/landale-sub014/internal/timer"
)

var t0 = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

type harness struct {
	o     *Orchestrator
	clock *timer.ManualClock
	pub   *events.Publisher
	ctx   context.Context

	mu   sync.Mutex
	msgs []events.Message
}

func newHarness(t *testing.T, mutate func(*model.Config)) *harness {
	t.Helper()
	cfg := model.DefaultConfig()
	cfg.Ticker.Items = []model.TickerSeedItem{
		{ID: "tick-goals", Type: "stream_goals", Text: "goals"},
		{ID: "tick-emotes", Type: "emote_stats", Text: "emotes"},
	}
	// Keep the rotation still unless a test asks for a cadence.
	cfg.Ticker.IntervalSec = 3600
	if mutate != nil {
		mutate(&cfg)
	}

	h := &harness{clock: timer.NewManualClock(t0)}
	h.pub = events.NewPublisher(model.PublisherConfig{BufferSize: 256}, zerolog.Nop())
	h.pub.Subscribe(func(m events.Message) {
		h.mu.Lock()
		h.msgs = append(h.msgs, m)
		h.mu.Unlock()
	})

	o, err := New(cfg, h.pub, WithClock(h.clock))
	require.NoError(t, err)
	h.o = o

	ctx, cancel := context.WithCancel(context.Background())
	h.ctx = ctx
	go func() { _ = o.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-o.Done()
		h.pub.Close()
	})
	// Run has registered its periodic work once the first command is served.
	h.sync(t)
	return h
}

// sync waits until every command queued so far, including timer expiries
// fired by the manual clock, has been applied.
func (h *harness) sync(t *testing.T) {
	t.Helper()
	require.NoError(t, h.o.call(h.ctx, "sync", func(*mutation, time.Time) error { return nil }))
}

func (h *harness) submit(t *testing.T, typ, prio string, durationMs int64, payload string) *model.ContentItem {
	t.Helper()
	item, err := h.o.Submit(h.ctx, SubmitRequest{
		Type:       typ,
		Priority:   prio,
		DurationMs: &durationMs,
		Payload:    json.RawMessage(payload),
	})
	require.NoError(t, err)
	return item
}

// waitFor blocks until the subscriber has seen the stream_state for version v
// and returns every message received so far.
func (h *harness) waitFor(t *testing.T, v uint64) []events.Message {
	t.Helper()
	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		for _, m := range h.msgs {
			if m.Type == events.KindStreamState && m.Version == v {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]events.Message(nil), h.msgs...)
}

const (
	alertBody    = `{"title":"Cheer","username":"avalonstar","amount":500}`
	overrideBody = `{"title":"BRB"}`
	subTrainBody = `{"count":1,"latest_subscriber":"someone"}`
)

func TestNew_SeedsTickerAtVersionZero(t *testing.T) {
	h := newHarness(t, nil)
	snap := h.o.CurrentSnapshot()

	assert.Equal(t, uint64(0), snap.Version)
	assert.Equal(t, "variety", snap.CurrentShow)
	assert.Equal(t, []string{"tick-goals", "tick-emotes"}, snap.TickerRotation)
	assert.Equal(t, model.LayerStateHidden, snap.Layers.Foreground.State)
	assert.Equal(t, model.LayerStateHidden, snap.Layers.Midground.State)
	require.NotNil(t, snap.Layers.Background.Content)
	assert.Equal(t, "tick-goals", snap.Layers.Background.Content.ID)
	assert.Equal(t, model.PriorityTicker, snap.PriorityLevel)
}

func TestAlertOverManualOverride(t *testing.T) {
	h := newHarness(t, nil)

	override := h.submit(t, "manual_override", "manual_override", 30000, overrideBody)
	assert.Equal(t, model.StatusActive, override.Status)
	h.clock.Advance(5 * time.Second)
	require.Equal(t, uint64(1), h.o.Version())

	alert := h.submit(t, "cheer_alert", "alert", 10000, alertBody)
	snap := h.o.CurrentSnapshot()
	require.Equal(t, uint64(2), snap.Version)
	assert.Equal(t, alert.ID, snap.Layers.Foreground.Content.ID)
	assert.Equal(t, override.ID, snap.Layers.Midground.Content.ID)
	assert.Equal(t, "tick-goals", snap.Layers.Background.Content.ID)
	assert.Equal(t, model.PriorityAlert, snap.PriorityLevel)

	h.clock.Advance(10 * time.Second)
	h.sync(t)

	snap = h.o.CurrentSnapshot()
	assert.Equal(t, uint64(3), snap.Version)
	assert.Equal(t, override.ID, snap.Layers.Foreground.Content.ID)
	assert.Equal(t, model.LayerStateHidden, snap.Layers.Midground.State)
	assert.Equal(t, "tick-goals", snap.Layers.Background.Content.ID)

	var expired *model.ContentItem
	for _, it := range snap.InterruptStack {
		if it.ID == alert.ID {
			expired = it
		}
	}
	require.NotNil(t, expired)
	assert.Equal(t, model.StatusExpired, expired.Status)

	msgs := h.waitFor(t, 3)
	var versions []uint64
	for _, m := range msgs {
		if m.Type == events.KindStreamState {
			versions = append(versions, m.Version)
		}
	}
	assert.Equal(t, []uint64{1, 2, 3}, versions)
}

func TestMessagesPrecedeStateOfSameVersion(t *testing.T) {
	h := newHarness(t, nil)
	h.submit(t, "cheer_alert", "", 10000, alertBody)

	msgs := h.waitFor(t, 1)
	require.Len(t, msgs, 2)
	assert.Equal(t, events.KindInterrupt, msgs[0].Type)
	assert.Equal(t, uint64(1), msgs[0].Version)
	assert.Equal(t, "pushed", msgs[0].Data["action"])
	assert.Equal(t, events.KindStreamState, msgs[1].Type)
}

func TestRejectedOperationsKeepVersion(t *testing.T) {
	h := newHarness(t, nil)
	h.submit(t, "cheer_alert", "alert", 10000, alertBody)
	require.Equal(t, uint64(1), h.o.Version())

	_, err := h.o.Submit(h.ctx, SubmitRequest{Type: "cheer_alert", Priority: "urgent", Payload: json.RawMessage(alertBody)})
	assert.ErrorIs(t, err, model.ErrInvalidPriority)

	_, err = h.o.Submit(h.ctx, SubmitRequest{Type: "hologram", Payload: json.RawMessage(alertBody)})
	assert.ErrorIs(t, err, model.ErrInvalidPayload)

	_, err = h.o.Submit(h.ctx, SubmitRequest{ID: "tick-goals", Type: "ticker", Payload: json.RawMessage(`{"text":"x"}`)})
	assert.ErrorIs(t, err, model.ErrDuplicateItem)

	assert.ErrorIs(t, h.o.Remove(h.ctx, "cnt_missing"), model.ErrUnknownItem)
	assert.ErrorIs(t, h.o.UpdateContent(h.ctx, "cnt_missing", json.RawMessage(`{}`)), model.ErrUnknownItem)

	assert.Equal(t, uint64(1), h.o.Version())
}

func TestSubmitRejectsBandMismatch(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.o.Submit(h.ctx, SubmitRequest{Type: "cheer_alert", Priority: "ticker", Payload: json.RawMessage(alertBody)})
	assert.ErrorIs(t, err, model.ErrInvalidPriority)

	_, err = h.o.Submit(h.ctx, SubmitRequest{Type: "stream_goals", Priority: "alert", Payload: json.RawMessage(`{"text":"goals"}`)})
	assert.ErrorIs(t, err, model.ErrInvalidPriority)

	_, err = h.o.Submit(h.ctx, SubmitRequest{Type: "sub_train", Priority: "manual_override", Payload: json.RawMessage(subTrainBody)})
	assert.ErrorIs(t, err, model.ErrInvalidPriority)

	snap := h.o.CurrentSnapshot()
	assert.Equal(t, uint64(0), snap.Version)
	assert.Empty(t, snap.InterruptStack)
	assert.Equal(t, []string{"tick-goals", "tick-emotes"}, snap.TickerRotation)

	// The band is optional when it matches the type.
	item := h.submit(t, "raid_alert", "ALERT", 10000, `{"message":"raid","username":"avalonstar"}`)
	assert.Equal(t, model.PriorityAlert, item.Priority)
}

func TestSubmitRejectsOverflowingDuration(t *testing.T) {
	h := newHarness(t, nil)

	tooLong := maxDurationMs + 1
	_, err := h.o.Submit(h.ctx, SubmitRequest{Type: "cheer_alert", Payload: json.RawMessage(alertBody), DurationMs: &tooLong})
	assert.ErrorIs(t, err, model.ErrInvalidPayload)

	huge := int64(9223372036855)
	_, err = h.o.Submit(h.ctx, SubmitRequest{Type: "cheer_alert", Payload: json.RawMessage(alertBody), DurationMs: &huge})
	assert.ErrorIs(t, err, model.ErrInvalidPayload)
	assert.Equal(t, uint64(0), h.o.Version())

	longest := maxDurationMs
	item, err := h.o.Submit(h.ctx, SubmitRequest{Type: "cheer_alert", Payload: json.RawMessage(alertBody), DurationMs: &longest})
	require.NoError(t, err)
	assert.True(t, item.Bounded())
	assert.Positive(t, item.Duration)
}

func TestSubTrainsWaitInBand(t *testing.T) {
	h := newHarness(t, nil)

	first := h.submit(t, "sub_train", "sub_train", 300000, subTrainBody)
	second := h.submit(t, "sub_train", "sub_train", 300000, subTrainBody)
	h.submit(t, "sub_train", "sub_train", 300000, subTrainBody)

	m := h.o.CurrentSnapshot().Metrics
	assert.Equal(t, 2, m.PendingItems)
	assert.Equal(t, 1, m.ActiveItems)
	assert.Equal(t, 3, m.TotalItems)
	assert.Equal(t, time.Duration(0), m.AverageWaitTime)
	assert.Equal(t, model.StatusPending, second.Status)

	h.clock.Advance(2 * time.Second)
	require.NoError(t, h.o.Remove(h.ctx, first.ID))

	snap := h.o.CurrentSnapshot()
	assert.Equal(t, second.ID, snap.Layers.Foreground.Content.ID)
	assert.Equal(t, 1, snap.Metrics.PendingItems)
	assert.Equal(t, 1, snap.Metrics.ActiveItems)
	assert.Equal(t, time.Second, snap.Metrics.AverageWaitTime)
	require.NotNil(t, snap.Metrics.LastProcessed)
	assert.Equal(t, t0.Add(2*time.Second), *snap.Metrics.LastProcessed)
}

func TestPreemptSupersedesBand(t *testing.T) {
	h := newHarness(t, nil)
	first := h.submit(t, "sub_train", "", 300000, subTrainBody)

	dur := int64(300000)
	second, err := h.o.Submit(h.ctx, SubmitRequest{
		Type: "sub_train", Payload: json.RawMessage(`{"count":2}`), DurationMs: &dur, Preempt: true,
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, second.Status)

	snap := h.o.CurrentSnapshot()
	assert.Equal(t, second.ID, snap.Layers.Foreground.Content.ID)
	statuses := map[string]model.Status{}
	for _, it := range snap.InterruptStack {
		statuses[it.ID] = it.Status
	}
	assert.Equal(t, model.StatusRemoved, statuses[first.ID])
	assert.Equal(t, 1, h.o.timers.Len())
}

func TestTimerCapacityDeny(t *testing.T) {
	h := newHarness(t, func(c *model.Config) { c.Timers.MaxTimers = 1 })
	h.submit(t, "cheer_alert", "alert", 10000, alertBody)

	dur := int64(60000)
	_, err := h.o.Submit(h.ctx, SubmitRequest{Type: "sub_train", Payload: json.RawMessage(subTrainBody), DurationMs: &dur})
	assert.ErrorIs(t, err, model.ErrCapacityExceeded)
	assert.Equal(t, uint64(1), h.o.Version())
	assert.Equal(t, 0, h.o.CurrentSnapshot().Metrics.PendingItems)
}

func TestTimerCapacityEvictOldest(t *testing.T) {
	h := newHarness(t, func(c *model.Config) {
		c.Timers.MaxTimers = 1
		c.Timers.CapacityPolicy = model.CapacityPolicyEvictOldest
	})
	alert := h.submit(t, "cheer_alert", "alert", 10000, alertBody)
	train := h.submit(t, "sub_train", "sub_train", 60000, subTrainBody)

	snap := h.o.CurrentSnapshot()
	assert.Equal(t, uint64(2), snap.Version)
	assert.Equal(t, train.ID, snap.Layers.Foreground.Content.ID)
	for _, it := range snap.InterruptStack {
		if it.ID == alert.ID {
			assert.Equal(t, model.StatusExpired, it.Status)
		}
	}
}

func TestUnboundedItemNeedsNoTimer(t *testing.T) {
	h := newHarness(t, func(c *model.Config) { c.Timers.MaxTimers = 1 })
	h.submit(t, "cheer_alert", "alert", 10000, alertBody)
	h.submit(t, "manual_override", "manual_override", 0, overrideBody)

	snap := h.o.CurrentSnapshot()
	assert.Equal(t, uint64(2), snap.Version)
	assert.Equal(t, model.PriorityManualOverride, snap.Layers.Midground.Content.Priority)
}

func TestRemovedItemNeverExpires(t *testing.T) {
	h := newHarness(t, nil)
	alert := h.submit(t, "cheer_alert", "alert", 10000, alertBody)
	require.NoError(t, h.o.Remove(h.ctx, alert.ID))
	require.Equal(t, uint64(2), h.o.Version())

	h.clock.Advance(time.Minute)
	h.sync(t)
	assert.Equal(t, uint64(2), h.o.Version())
	assert.Equal(t, 0, h.clock.Pending())
}

func TestTickerRotation(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.o.AdvanceTicker(h.ctx))
	snap := h.o.CurrentSnapshot()
	assert.Equal(t, uint64(1), snap.Version)
	assert.Equal(t, "tick-emotes", snap.Layers.Background.Content.ID)

	require.NoError(t, h.o.AdvanceTicker(h.ctx))
	assert.Equal(t, "tick-goals", h.o.CurrentSnapshot().Layers.Background.Content.ID)

	require.NoError(t, h.o.RemoveTickerItem(h.ctx, "tick-goals"))
	snap = h.o.CurrentSnapshot()
	assert.Equal(t, uint64(3), snap.Version)
	assert.Equal(t, "tick-emotes", snap.Layers.Background.Content.ID)

	// A single item has nowhere to go.
	require.NoError(t, h.o.AdvanceTicker(h.ctx))
	assert.Equal(t, uint64(3), h.o.Version())

	added, err := h.o.AddTickerItem(h.ctx, SubmitRequest{Type: "recent_follows", Payload: json.RawMessage(`{"text":"follows"}`)})
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, added.Status)
	assert.Equal(t, []string{"tick-emotes", added.ID}, h.o.CurrentSnapshot().TickerRotation)

	_, err = h.o.AddTickerItem(h.ctx, SubmitRequest{Type: "cheer_alert", Priority: "alert", Payload: json.RawMessage(alertBody)})
	assert.ErrorIs(t, err, model.ErrInvalidPriority)
	assert.ErrorIs(t, h.o.RemoveTickerItem(h.ctx, "tick-goals"), model.ErrUnknownItem)
}

func TestTickerAdvancesOncePerInterval(t *testing.T) {
	h := newHarness(t, func(c *model.Config) { c.Ticker.IntervalSec = 15 })

	h.clock.Advance(14 * time.Second)
	h.sync(t)
	assert.Equal(t, uint64(0), h.o.Version())
	assert.Equal(t, "tick-goals", h.o.CurrentSnapshot().Layers.Background.Content.ID)

	h.clock.Advance(time.Second)
	h.sync(t)
	snap := h.o.CurrentSnapshot()
	assert.Equal(t, uint64(1), snap.Version)
	assert.Equal(t, "tick-emotes", snap.Layers.Background.Content.ID)

	h.clock.Advance(30 * time.Second)
	h.sync(t)
	snap = h.o.CurrentSnapshot()
	assert.Equal(t, uint64(3), snap.Version)
	assert.Equal(t, "tick-emotes", snap.Layers.Background.Content.ID)

	msgs := h.waitFor(t, 3)
	var versions []uint64
	for _, m := range msgs {
		if m.Type == events.KindStreamState {
			versions = append(versions, m.Version)
		}
	}
	assert.Equal(t, []uint64{1, 2, 3}, versions)
}

func TestCleanupRunsOnInterval(t *testing.T) {
	h := newHarness(t, func(c *model.Config) {
		c.Stack.CleanupIntervalSec = 60
		c.Stack.KeepCount = 2
	})
	var last *model.ContentItem
	unbounded := int64(0)
	for i := 0; i < 5; i++ {
		item, err := h.o.Submit(h.ctx, SubmitRequest{
			Type: "cheer_alert", Payload: json.RawMessage(alertBody), DurationMs: &unbounded, Preempt: true,
		})
		require.NoError(t, err)
		last = item
	}
	require.Len(t, h.o.CurrentSnapshot().InterruptStack, 5)
	v := h.o.Version()

	h.clock.Advance(59 * time.Second)
	h.sync(t)
	assert.Len(t, h.o.CurrentSnapshot().InterruptStack, 5)
	assert.Equal(t, v, h.o.Version())

	h.clock.Advance(time.Second)
	h.sync(t)
	snap := h.o.CurrentSnapshot()
	assert.Len(t, snap.InterruptStack, 2)
	assert.Equal(t, v+1, snap.Version)
	assert.Equal(t, last.ID, snap.Layers.Foreground.Content.ID)
}

func TestUpdateContent(t *testing.T) {
	h := newHarness(t, nil)
	alert := h.submit(t, "cheer_alert", "alert", 10000, alertBody)

	require.NoError(t, h.o.UpdateContent(h.ctx, alert.ID, json.RawMessage(`{"title":"Cheer","amount":1000}`)))
	snap := h.o.CurrentSnapshot()
	assert.Equal(t, uint64(2), snap.Version)
	assert.Equal(t, model.AlertPayload{Title: "Cheer", Amount: 1000}, snap.Layers.Foreground.Content.Payload)

	msgs := h.waitFor(t, 2)
	var update *events.Message
	for i := range msgs {
		if msgs[i].Type == events.KindContentUpdate {
			update = &msgs[i]
		}
	}
	require.NotNil(t, update)
	assert.Equal(t, alert.ID, update.Data["id"])

	err := h.o.UpdateContent(h.ctx, alert.ID, json.RawMessage(`{"count":3}`))
	assert.ErrorIs(t, err, model.ErrInvalidPayload)
	assert.Equal(t, uint64(2), h.o.Version())
}

func TestSetCategory(t *testing.T) {
	h := newHarness(t, func(c *model.Config) {
		c.Shows.Games = map[string]string{"490100": "ironmon"}
	})

	show, err := h.o.SetCategory(h.ctx, "490100")
	require.NoError(t, err)
	assert.Equal(t, "ironmon", show)
	assert.Equal(t, uint64(1), h.o.Version())

	show, err = h.o.SetCategory(h.ctx, "490100")
	require.NoError(t, err)
	assert.Equal(t, "ironmon", show)
	assert.Equal(t, uint64(1), h.o.Version())

	show, err = h.o.SetCategory(h.ctx, "509658")
	require.NoError(t, err)
	assert.Equal(t, "variety", show)
	assert.Equal(t, uint64(2), h.o.Version())

	msgs := h.waitFor(t, 2)
	var changes []string
	for _, m := range msgs {
		if m.Type == events.KindShowChanged {
			changes = append(changes, fmt.Sprint(m.Data["previous"], "->", m.Data["current"]))
		}
	}
	assert.Equal(t, []string{"variety->ironmon", "ironmon->variety"}, changes)
}

func TestCleanupKeepsActiveEntries(t *testing.T) {
	h := newHarness(t, nil)
	var last *model.ContentItem
	dur := int64(10000)
	for i := 0; i < 60; i++ {
		item, err := h.o.Submit(h.ctx, SubmitRequest{
			Type: "cheer_alert", Payload: json.RawMessage(alertBody), DurationMs: &dur, Preempt: true,
		})
		require.NoError(t, err)
		last = item
	}
	assert.Greater(t, len(h.o.CurrentSnapshot().InterruptStack), 25)

	n, err := h.o.Cleanup(h.ctx)
	require.NoError(t, err)
	assert.Positive(t, n)

	snap := h.o.CurrentSnapshot()
	assert.Len(t, snap.InterruptStack, 25)
	assert.Equal(t, last.ID, snap.Layers.Foreground.Content.ID)

	v := snap.Version
	n, err = h.o.Cleanup(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, v, h.o.Version())
}

func TestPanicResetsToSafeDefault(t *testing.T) {
	h := newHarness(t, func(c *model.Config) {
		c.Shows.Games = map[string]string{"490100": "ironmon"}
	})
	h.submit(t, "cheer_alert", "alert", 10000, alertBody)
	h.submit(t, "sub_train", "sub_train", 300000, subTrainBody)
	_, err := h.o.SetCategory(h.ctx, "490100")
	require.NoError(t, err)
	require.NoError(t, h.o.AdvanceTicker(h.ctx))
	require.Equal(t, uint64(4), h.o.Version())

	err = h.o.call(h.ctx, "explode", func(*mutation, time.Time) error { panic("boom") })
	require.ErrorIs(t, err, ErrPanic)

	snap := h.o.CurrentSnapshot()
	assert.Equal(t, uint64(5), snap.Version)
	assert.Empty(t, snap.InterruptStack)
	assert.Equal(t, "variety", snap.CurrentShow)
	assert.Equal(t, "tick-goals", snap.Layers.Background.Content.ID)
	assert.Equal(t, model.LayerStateHidden, snap.Layers.Foreground.State)
	assert.Equal(t, 0, h.o.timers.Len())
	assert.Equal(t, 0, h.clock.Pending())

	// The loop keeps serving commands.
	h.submit(t, "cheer_alert", "alert", 10000, alertBody)
	assert.Equal(t, uint64(6), h.o.Version())
}

func TestCallAfterStop(t *testing.T) {
	cfg := model.DefaultConfig()
	o, err := New(cfg, nil, WithClock(timer.NewManualClock(t0)))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = o.Run(ctx) }()
	cancel()
	<-o.Done()

	assert.ErrorIs(t, o.Remove(context.Background(), "x"), model.ErrClosed)
	assert.Error(t, o.Run(context.Background()))
}
