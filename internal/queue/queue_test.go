package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanveloso/landale-sub014/internal/interrupt"
	"github.com/bryanveloso/landale-sub014/internal/model"
	"github.com/bryanveloso/landale-sub014/internal/timer"
)

var epoch = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

func item(id string, band model.Priority, created time.Time) *model.ContentItem {
	return &model.ContentItem{
		ID:        id,
		Type:      band.String(),
		Priority:  band,
		Duration:  time.Minute,
		CreatedAt: created,
		Status:    model.StatusPending,
	}
}

func setup(t *testing.T, maxTimers int) (*Queue, *interrupt.Stack, *timer.Registry) {
	t.Helper()
	reg := timer.NewRegistry(timer.NewManualClock(epoch), maxTimers, nil)
	return New(5*time.Minute, nil), interrupt.New(reg, 50, 25), reg
}

func TestProcess_AdmitsIntoEmptyBand(t *testing.T) {
	q, stack, _ := setup(t, 10)

	require.NoError(t, q.Enqueue(item("a1", model.PriorityAlert, epoch), epoch))
	assert.Equal(t, 1, q.Metrics().PendingItems)

	decisions := q.Process(stack, epoch.Add(2*time.Second))
	require.Len(t, decisions, 1)
	assert.True(t, decisions[0].Admitted())

	m := q.Metrics()
	assert.Equal(t, 0, m.PendingItems)
	assert.Equal(t, 1, m.ActiveItems)
	assert.Equal(t, 1, m.TotalItems)
	assert.Equal(t, 2*time.Second, m.AverageWaitTime)
	assert.Nil(t, m.LastProcessed)
}

func TestProcess_SameBandWaitsInArrivalOrder(t *testing.T) {
	q, stack, _ := setup(t, 10)

	for _, id := range []string{"s1", "s2", "s3"} {
		require.NoError(t, q.Enqueue(item(id, model.PrioritySubTrain, epoch), epoch))
	}
	decisions := q.Process(stack, epoch.Add(time.Second))
	require.Len(t, decisions, 1)
	assert.Equal(t, "s1", decisions[0].Item.ID)

	m := q.Metrics()
	assert.Equal(t, 2, m.PendingItems)
	assert.Equal(t, 1, m.ActiveItems)
	assert.Equal(t, 3, m.TotalItems)
	// Only the one admission so far counts towards the average.
	assert.Equal(t, time.Second, m.AverageWaitTime)

	// Ending s1 frees the band for s2.
	_, err := stack.Pop("s1", model.StatusExpired, epoch.Add(61*time.Second))
	require.NoError(t, err)
	require.True(t, q.Complete("s1", epoch.Add(61*time.Second)))

	decisions = q.Process(stack, epoch.Add(61*time.Second))
	require.Len(t, decisions, 1)
	assert.Equal(t, "s2", decisions[0].Item.ID)

	m = q.Metrics()
	assert.Equal(t, 1, m.PendingItems)
	require.NotNil(t, m.LastProcessed)
	assert.Equal(t, epoch.Add(61*time.Second), *m.LastProcessed)
	assert.Equal(t, 31*time.Second, m.AverageWaitTime)
}

func TestProcess_OtherBandsAreNotBlocked(t *testing.T) {
	q, stack, _ := setup(t, 10)

	require.NoError(t, q.Enqueue(item("s1", model.PrioritySubTrain, epoch), epoch))
	require.NoError(t, q.Enqueue(item("s2", model.PrioritySubTrain, epoch), epoch))
	require.NoError(t, q.Enqueue(item("m1", model.PriorityManualOverride, epoch), epoch))

	decisions := q.Process(stack, epoch)
	require.Len(t, decisions, 2)
	assert.Equal(t, "s1", decisions[0].Item.ID)
	assert.Equal(t, "m1", decisions[1].Item.ID)
	assert.Equal(t, 1, q.Metrics().PendingItems)
	assert.True(t, q.Contains("s2"))
}

func TestProcess_PreemptSupersedes(t *testing.T) {
	q, stack, _ := setup(t, 10)

	require.NoError(t, q.Enqueue(item("m1", model.PriorityManualOverride, epoch), epoch))
	q.Process(stack, epoch)

	next := item("m2", model.PriorityManualOverride, epoch)
	next.Preempt = true
	require.NoError(t, q.Enqueue(next, epoch))

	decisions := q.Process(stack, epoch.Add(time.Second))
	require.Len(t, decisions, 1)
	require.NotNil(t, decisions[0].Superseded)
	assert.Equal(t, "m1", decisions[0].Superseded.Item.ID)
	assert.Equal(t, model.StatusRemoved, decisions[0].Superseded.Item.Status)

	m := q.Metrics()
	assert.Equal(t, 1, m.ActiveItems)
	require.NotNil(t, m.LastProcessed)
}

func TestProcess_CapacityDenyDropsItem(t *testing.T) {
	q, stack, _ := setup(t, 1)

	require.NoError(t, q.Enqueue(item("s1", model.PrioritySubTrain, epoch), epoch))
	require.NoError(t, q.Enqueue(item("a1", model.PriorityAlert, epoch), epoch))

	decisions := q.Process(stack, epoch)
	require.Len(t, decisions, 2)
	assert.True(t, decisions[0].Admitted())
	assert.ErrorIs(t, decisions[1].Err, model.ErrCapacityExceeded)
	assert.Equal(t, model.StatusRemoved, decisions[1].Item.Status)

	m := q.Metrics()
	assert.Equal(t, 0, m.PendingItems)
	assert.Equal(t, 1, m.ActiveItems)
}

func TestProcess_CapacityEvictRetries(t *testing.T) {
	reg := timer.NewRegistry(timer.NewManualClock(epoch), 1, nil)
	stack := interrupt.New(reg, 50, 25)
	var q *Queue
	q = New(time.Minute, func(now time.Time) bool {
		oldest, ok := reg.Oldest()
		if !ok {
			return false
		}
		e := stack.FindByTimer(oldest.ID)
		if _, err := stack.Pop(e.Item.ID, model.StatusExpired, now); err != nil {
			return false
		}
		q.finish(e.Item.ID, now)
		return true
	})

	require.NoError(t, q.Enqueue(item("s1", model.PrioritySubTrain, epoch), epoch))
	require.NoError(t, q.Enqueue(item("a1", model.PriorityAlert, epoch), epoch))

	decisions := q.Process(stack, epoch)
	require.Len(t, decisions, 2)
	assert.True(t, decisions[1].Admitted())
	assert.Equal(t, model.StatusExpired, stack.Find("s1").Item.Status)
	assert.Equal(t, 1, q.Metrics().ActiveItems)
}

func TestEnqueueRejects(t *testing.T) {
	q, _, _ := setup(t, 10)

	ticker := item("t1", model.PriorityTicker, epoch)
	assert.ErrorIs(t, q.Enqueue(ticker, epoch), model.ErrInvalidPriority)

	require.NoError(t, q.Enqueue(item("a1", model.PriorityAlert, epoch), epoch))
	assert.ErrorIs(t, q.Enqueue(item("a1", model.PriorityAlert, epoch), epoch), model.ErrDuplicateItem)
	assert.Equal(t, 1, q.Metrics().TotalItems)
}

func TestWithdraw(t *testing.T) {
	q, _, _ := setup(t, 10)
	require.NoError(t, q.Enqueue(item("a1", model.PriorityAlert, epoch), epoch))

	got, ok := q.Withdraw("a1", epoch)
	require.True(t, ok)
	assert.Equal(t, model.StatusRemoved, got.Status)
	assert.Equal(t, 0, q.Metrics().TotalItems)

	_, ok = q.Withdraw("a1", epoch)
	assert.False(t, ok)
}

func TestAverageWaitUsesTrailingWindow(t *testing.T) {
	q, stack, _ := setup(t, 10)

	require.NoError(t, q.Enqueue(item("a1", model.PriorityAlert, epoch), epoch))
	q.Process(stack, epoch.Add(4*time.Second))
	assert.Equal(t, 4*time.Second, q.Metrics().AverageWaitTime)

	// Ten minutes later the sample has left the five minute window.
	later := epoch.Add(10 * time.Minute)
	require.NoError(t, q.Enqueue(item("m1", model.PriorityManualOverride, later), later))
	assert.Equal(t, time.Duration(0), q.Metrics().AverageWaitTime)
}

func TestReset(t *testing.T) {
	q, stack, _ := setup(t, 10)
	require.NoError(t, q.Enqueue(item("a1", model.PriorityAlert, epoch), epoch))
	require.NoError(t, q.Enqueue(item("a2", model.PriorityAlert, epoch), epoch))
	q.Process(stack, epoch)

	q.Reset(epoch)
	m := q.Metrics()
	assert.Equal(t, 0, m.TotalItems)
	assert.False(t, q.Contains("a1"))
}

