package timer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanveloso/landale-sub014/internal/model"
)

var epoch = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

type firedLog struct {
	timers []Timer
}

func (f *firedLog) record(t Timer) { f.timers = append(f.timers, t) }

func TestRegistry_ScheduleAndFire(t *testing.T) {
	clock := NewManualClock(epoch)
	var fired firedLog
	r := NewRegistry(clock, 10, fired.record)

	id, err := r.Schedule("expire", 10*time.Second, "cnt_a")
	require.NoError(t, err)
	assert.Equal(t, 1, r.Len())

	clock.Advance(9 * time.Second)
	assert.Empty(t, fired.timers)

	clock.Advance(time.Second)
	require.Len(t, fired.timers, 1)
	assert.Equal(t, id, fired.timers[0].ID)
	assert.Equal(t, epoch.Add(10*time.Second), fired.timers[0].FiresAt)
	assert.Equal(t, "cnt_a", fired.timers[0].TargetID)

	// Delivery is only a request; the registry honours it exactly once.
	got, ok := r.Fire(id)
	require.True(t, ok)
	assert.Equal(t, "expire", got.Purpose)
	_, ok = r.Fire(id)
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_CancelBeatsExpiry(t *testing.T) {
	clock := NewManualClock(epoch)
	var fired firedLog
	r := NewRegistry(clock, 10, fired.record)

	id, err := r.Schedule("expire", time.Second, "cnt_a")
	require.NoError(t, err)

	assert.True(t, r.Cancel(id))
	assert.False(t, r.Cancel(id))
	clock.Advance(time.Minute)
	assert.Empty(t, fired.timers)

	_, ok := r.Fire(id)
	assert.False(t, ok)
}

func TestRegistry_CancelAfterDeliveryBeforeFire(t *testing.T) {
	clock := NewManualClock(epoch)
	var fired firedLog
	r := NewRegistry(clock, 10, fired.record)

	id, err := r.Schedule("expire", time.Second, "cnt_a")
	require.NoError(t, err)

	clock.Advance(time.Second)
	require.Len(t, fired.timers, 1)

	// A cancel processed ahead of the queued expiry wins.
	require.True(t, r.Cancel(id))
	_, ok := r.Fire(fired.timers[0].ID)
	assert.False(t, ok)
}

func TestRegistry_Capacity(t *testing.T) {
	clock := NewManualClock(epoch)
	r := NewRegistry(clock, 2, nil)

	first, err := r.Schedule("expire", time.Second, "cnt_a")
	require.NoError(t, err)
	_, err = r.Schedule("expire", 2*time.Second, "cnt_b")
	require.NoError(t, err)

	_, err = r.Schedule("expire", time.Second, "cnt_c")
	require.ErrorIs(t, err, model.ErrCapacityExceeded)
	assert.Equal(t, 2, r.Len())

	oldest, ok := r.Oldest()
	require.True(t, ok)
	assert.Equal(t, first, oldest.ID)

	r.Cancel(first)
	_, err = r.Schedule("expire", time.Second, "cnt_c")
	assert.NoError(t, err)
}

func TestRegistry_RejectsNonPositiveDuration(t *testing.T) {
	r := NewRegistry(NewManualClock(epoch), 2, nil)
	_, err := r.Schedule("expire", 0, "cnt_a")
	assert.Error(t, err)
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_OldestAndCancelAll(t *testing.T) {
	clock := NewManualClock(epoch)
	r := NewRegistry(clock, 10, nil)

	first, _ := r.Schedule("expire", 30*time.Second, "cnt_late")
	_, _ = r.Schedule("expire", 5*time.Second, "cnt_early")

	oldest, ok := r.Oldest()
	require.True(t, ok)
	assert.Equal(t, first, oldest.ID)

	r.CancelAll()
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 0, clock.Pending())
}

func TestRegistry_ReplaceAtCapacity(t *testing.T) {
	clock := NewManualClock(epoch)
	var fired firedLog
	r := NewRegistry(clock, 1, fired.record)

	old, err := r.Schedule("expire", 10*time.Second, "cnt_a")
	require.NoError(t, err)

	id, err := r.Replace(old, "expire", 20*time.Second, "cnt_b")
	require.NoError(t, err)
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, 1, clock.Pending())

	clock.Advance(20 * time.Second)
	require.Len(t, fired.timers, 1)
	assert.Equal(t, id, fired.timers[0].ID)
	assert.Equal(t, "cnt_b", fired.timers[0].TargetID)
}

func TestRegistry_ReplaceFailureKeepsOldTimer(t *testing.T) {
	clock := NewManualClock(epoch)
	var fired firedLog
	r := NewRegistry(clock, 1, fired.record)

	old, err := r.Schedule("expire", 10*time.Second, "cnt_a")
	require.NoError(t, err)

	_, err = r.Replace(old, "expire", 0, "cnt_b")
	require.Error(t, err)
	assert.Equal(t, 1, r.Len())

	clock.Advance(10 * time.Second)
	require.Len(t, fired.timers, 1)
	assert.Equal(t, old, fired.timers[0].ID)
	_, ok := r.Fire(old)
	assert.True(t, ok)
}

func TestManualClock_Every(t *testing.T) {
	clock := NewManualClock(epoch)
	var ticks []time.Time
	stop := clock.Every(15*time.Second, func() { ticks = append(ticks, clock.Now()) })

	clock.Advance(14 * time.Second)
	assert.Empty(t, ticks)

	clock.Advance(time.Second)
	assert.Equal(t, []time.Time{epoch.Add(15 * time.Second)}, ticks)

	clock.Advance(30 * time.Second)
	assert.Equal(t, []time.Time{
		epoch.Add(15 * time.Second),
		epoch.Add(30 * time.Second),
		epoch.Add(45 * time.Second),
	}, ticks)
	assert.Equal(t, 0, clock.Pending())

	assert.True(t, stop.Stop())
	clock.Advance(time.Minute)
	assert.Len(t, ticks, 3)
}
