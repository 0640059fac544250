package board

import (
	"context"
	"errors"
	"testing"
	"time"

	"cashier-board/internal/order"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wait = time.Second

func TestInitialLoadWindowsAndSorts(t *testing.T) {
	now := newFakeClock().Now()
	h := newHarness(t, []order.Patch{
		patchAt(1, now.Add(-72*time.Hour), "new"),
		patchAt(2, now.Add(-2*time.Hour), order.StateFinished),
		patchAt(3, now.Add(-3*time.Hour), "new"),
		patchAt(4, now.Add(-time.Hour), "new"),
	})

	assert.Equal(t, []int64{4, 3, 2}, h.ids())
	assert.Empty(t, h.notifier.ids())
	assert.Equal(t, StatusConnecting, h.sync.Status())
}

func TestPushUpdateMergesIntoExistingOrder(t *testing.T) {
	now := newFakeClock().Now()
	h := newHarness(t, []order.Patch{patchAt(1, now, "new")})
	h.connect()

	h.push(map[string]any{"id": 1, "state": "finish"})

	require.Eventually(t, func() bool {
		o, ok := h.sync.Order(1)
		return ok && o.Finished()
	}, wait, time.Millisecond)
	v := h.sync.Snapshot()
	require.Len(t, v.Orders, 1)
	assert.Equal(t, int64(1), v.Orders[0].ID)
	assert.Equal(t, "", v.Orders[0].Name)
	assert.True(t, v.Orders[0].CreatedAt.Equal(now))
}

func TestLaterBatchWinsFieldWise(t *testing.T) {
	now := newFakeClock().Now()
	name, phone := "Rami", "0999"
	first := patchAt(7, now.Add(-time.Hour), "new")
	first.Name, first.Phone = &name, &phone
	h := newHarness(t, []order.Patch{first})

	renamed := "Rami K."
	h.api.setList(func(*int64) ([]order.Patch, error) {
		return []order.Patch{{ID: 7, Name: &renamed}}, nil
	})
	h.connect()

	o, ok := h.sync.Order(7)
	require.True(t, ok)
	assert.Equal(t, "Rami K.", o.Name)
	assert.Equal(t, "0999", o.Phone)
	assert.Equal(t, order.State("new"), o.State)
}

func TestPushOlderThanWindowIsIgnored(t *testing.T) {
	h := newHarness(t, nil)
	h.connect()

	h.push(wire(11, h.clock.Now().Add(-72*time.Hour), "new"))
	h.push(wire(12, h.clock.Now(), "new"))

	require.Eventually(t, func() bool { _, ok := h.sync.Order(12); return ok }, wait, time.Millisecond)
	_, ok := h.sync.Order(11)
	assert.False(t, ok)
	assert.Equal(t, []int64{12}, h.ids())
}

func TestMalformedPushIsDiscarded(t *testing.T) {
	h := newHarness(t, nil)
	h.connect()

	h.channel.last().send(Event{Kind: EventMessage, Payload: []byte(`{"id":`)})
	h.channel.last().send(Event{Kind: EventMessage, Payload: []byte(`{"state":"finish"}`)})
	h.push(wire(3, h.clock.Now(), "new"))

	require.Eventually(t, func() bool { return len(h.ids()) == 1 }, wait, time.Millisecond)
	assert.Equal(t, StatusConnected, h.sync.Status())
	assert.Equal(t, 1, h.channel.opens())
}

func TestResyncCursor(t *testing.T) {
	now := newFakeClock().Now()
	cases := []struct {
		name    string
		initial []order.Patch
		want    *int64
	}{
		{name: "empty board fetches everything", initial: nil, want: nil},
		{
			name: "cursor is the highest id held",
			initial: []order.Patch{
				patchAt(40, now.Add(-time.Hour), "new"),
				patchAt(42, now.Add(-2*time.Hour), order.StateFinished),
				patchAt(41, now, "new"),
			},
			want: ptr(int64(42)),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, tc.initial)
			h.connect()

			calls := h.api.listCalls()
			require.Len(t, calls, 2)
			assert.Nil(t, calls[0])
			assert.Equal(t, tc.want, calls[1])
		})
	}
}

func TestDeleteRequiresFinished(t *testing.T) {
	now := newFakeClock().Now()
	h := newHarness(t, []order.Patch{patchAt(5, now, "new")})
	ctx := context.Background()

	err := h.sync.Delete(ctx, 5)
	assert.ErrorIs(t, err, ErrOrderNotFinished)
	_, ok := h.sync.Order(5)
	assert.True(t, ok)
	assert.Empty(t, h.api.deleteCalls())

	require.NoError(t, h.sync.Finish(ctx, 5))
	require.NoError(t, h.sync.Delete(ctx, 5))
	_, ok = h.sync.Order(5)
	assert.False(t, ok)
	require.Eventually(t, func() bool { return len(h.api.deleteCalls()) == 1 }, wait, time.Millisecond)
	assert.Equal(t, []int64{5}, h.api.deleteCalls())

	assert.ErrorIs(t, h.sync.Delete(ctx, 99), ErrOrderNotFound)
}

func TestDeleteFailureIsNotQueued(t *testing.T) {
	now := newFakeClock().Now()
	h := newHarness(t, []order.Patch{patchAt(5, now, order.StateFinished)})
	h.api.mu.Lock()
	h.api.deleteErr = errors.New("boom")
	h.api.mu.Unlock()

	require.NoError(t, h.sync.Delete(context.Background(), 5))
	require.Eventually(t, func() bool { return len(h.api.deleteCalls()) == 1 }, wait, time.Millisecond)
	items, _ := h.queue.snapshot()
	assert.Empty(t, items)
}

func TestFinishIsOptimisticAndResorts(t *testing.T) {
	now := newFakeClock().Now()
	h := newHarness(t, []order.Patch{
		patchAt(1, now.Add(-time.Hour), "new"),
		patchAt(2, now, "new"),
	})

	require.NoError(t, h.sync.Finish(context.Background(), 2))

	assert.Equal(t, []int64{1, 2}, h.ids())
	require.Eventually(t, func() bool { return len(h.api.patchCalls()) == 1 }, wait, time.Millisecond)
	assert.Equal(t, patchCall{id: 2, body: `{"state":"finish"}`}, h.api.patchCalls()[0])

	require.NoError(t, h.sync.Finish(context.Background(), 2))
	assert.ErrorIs(t, h.sync.Finish(context.Background(), 404), ErrOrderNotFound)
}

func TestFinishFailureIsQueued(t *testing.T) {
	now := newFakeClock().Now()
	h := newHarness(t, []order.Patch{patchAt(8, now, "new")})
	h.api.setPatchErr(errors.New("502"))

	require.NoError(t, h.sync.Finish(context.Background(), 8))

	o, _ := h.sync.Order(8)
	assert.True(t, o.Finished())
	require.Eventually(t, func() bool {
		items, _ := h.queue.snapshot()
		return len(items) == 1
	}, wait, time.Millisecond)
	items, _ := h.queue.snapshot()
	assert.Equal(t, int64(8), items[0].OrderID)
	assert.JSONEq(t, `{"state":"finish"}`, string(items[0].Body))
}

func TestOfflineFinishIsFlushedOnceAfterReconnect(t *testing.T) {
	now := newFakeClock().Now()
	h := newHarness(t, []order.Patch{patchAt(5, now, "new")})
	h.connect()

	h.probe.set(false)
	h.close()
	require.NoError(t, h.sync.Finish(context.Background(), 5))

	items, _ := h.queue.snapshot()
	require.Len(t, items, 1)
	assert.Empty(t, h.api.patchCalls())

	h.clock.Advance(10 * time.Second)
	assert.Equal(t, 1, h.channel.opens())

	h.probe.set(true)
	require.Equal(t, 2, h.channel.opens())
	h.connect()

	require.Eventually(t, func() bool {
		_, clears := h.queue.snapshot()
		return clears == 1
	}, wait, time.Millisecond)
	items, clears := h.queue.snapshot()
	assert.Empty(t, items)
	assert.Equal(t, 1, clears)
	assert.Equal(t, []patchCall{{id: 5, body: `{"state":"finish"}`}}, h.api.patchCalls())
}

func TestFlushRequeuesFailedReplays(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.queue.Append(ctx, mutation(1)))
	require.NoError(t, h.queue.Append(ctx, mutation(2)))
	h.api.setPatchErr(errors.New("503"))

	n, err := h.sync.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	items, clears := h.queue.snapshot()
	assert.Equal(t, 1, clears)
	require.Len(t, items, 2)
	assert.Equal(t, int64(1), items[0].OrderID)

	h.api.setPatchErr(nil)
	n, err = h.sync.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	items, _ = h.queue.snapshot()
	assert.Empty(t, items)

	n, err = h.sync.Flush(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReconnectAfterDelayWhenOnline(t *testing.T) {
	h := newHarness(t, nil)
	h.connect()
	first := h.channel.last()
	h.close()

	h.clock.Advance(4 * time.Second)
	assert.Equal(t, 1, h.channel.opens())
	h.clock.Advance(time.Second)
	assert.Equal(t, 2, h.channel.opens())
	assert.Equal(t, StatusConnecting, h.sync.Status())
	assert.Error(t, first.ctx.Err())

	h.connect()
	assert.Equal(t, 0, int(h.reloader.count.Load()))
}

func TestReconnectWaitsForNetwork(t *testing.T) {
	h := newHarness(t, nil)
	h.connect()
	h.close()

	h.probe.online.Store(false)
	h.clock.Advance(5 * time.Second)
	assert.Equal(t, 1, h.channel.opens())
	assert.Equal(t, StatusDisconnected, h.sync.Status())

	h.probe.set(true)
	assert.Equal(t, 2, h.channel.opens())
	assert.Equal(t, StatusConnecting, h.sync.Status())
}

func TestReloadFiresOnceAfterLongDisconnect(t *testing.T) {
	h := newHarness(t, nil)
	h.connect()
	h.probe.set(false)
	h.close()

	h.clock.Advance(29 * time.Second)
	assert.Zero(t, h.reloader.count.Load())
	h.clock.Advance(time.Second)
	assert.Equal(t, int32(1), h.reloader.count.Load())

	h.clock.Advance(5 * time.Minute)
	assert.Equal(t, int32(1), h.reloader.count.Load())
}

func TestReloadCancelledByReconnect(t *testing.T) {
	h := newHarness(t, nil)
	h.connect()
	h.close()

	h.clock.Advance(5 * time.Second)
	require.Equal(t, 2, h.channel.opens())
	h.connect()
	h.clock.Advance(time.Minute)

	assert.Zero(t, h.reloader.count.Load())
	assert.Equal(t, StatusConnected, h.sync.Status())
}

func TestStopCancelsTimersAndSkipsReconnect(t *testing.T) {
	h := newHarness(t, nil)
	h.connect()
	conn := h.channel.last()
	h.close()

	h.sync.Stop()
	assert.Error(t, conn.ctx.Err())

	h.clock.Advance(10 * time.Minute)
	assert.Equal(t, 1, h.channel.opens())
	assert.Zero(t, h.reloader.count.Load())
	assert.ErrorIs(t, h.sync.Finish(context.Background(), 1), ErrNotRunning)
}

func TestDeliberateCloseDoesNotReconnect(t *testing.T) {
	h := newHarness(t, nil)
	h.connect()
	conn := h.channel.last()

	h.sync.Stop()
	conn.events <- Event{Kind: EventClosed}

	h.clock.Advance(time.Minute)
	assert.Equal(t, 1, h.channel.opens())
	assert.Equal(t, StatusConnected, h.sync.Status())
}

func TestHourlySweepDropsAgedOrders(t *testing.T) {
	now := newFakeClock().Now()
	h := newHarness(t, []order.Patch{
		patchAt(1, now.Add(-47*time.Hour-30*time.Minute), "new"),
		patchAt(2, now.Add(-time.Hour), "new"),
	})
	assert.Equal(t, []int64{2, 1}, h.ids())

	h.clock.Advance(time.Hour)
	assert.Equal(t, []int64{2}, h.ids())

	h.clock.Advance(47 * time.Hour)
	assert.Empty(t, h.ids())
}

func TestNewOrderAlertAndHighlight(t *testing.T) {
	h := newHarness(t, nil)
	h.gate.granted.Store(true)
	h.connect()

	h.push(wire(21, h.clock.Now(), "new"))

	require.Eventually(t, func() bool { return len(h.notifier.ids()) == 1 }, wait, time.Millisecond)
	assert.Equal(t, []int64{21}, h.notifier.ids())
	v := h.sync.Snapshot()
	require.NotNil(t, v.NewOrderID)
	assert.Equal(t, int64(21), *v.NewOrderID)

	h.push(wire(21, h.clock.Now(), "finish"))
	require.Eventually(t, func() bool {
		o, _ := h.sync.Order(21)
		return o.Finished()
	}, wait, time.Millisecond)
	assert.Len(t, h.notifier.ids(), 1)

	h.clock.Advance(3 * time.Second)
	assert.Nil(t, h.sync.Snapshot().NewOrderID)
}

func TestAlertSuppressedWithoutPermission(t *testing.T) {
	h := newHarness(t, nil)
	h.connect()

	h.push(wire(21, h.clock.Now(), "new"))

	require.Eventually(t, func() bool { _, ok := h.sync.Order(21); return ok }, wait, time.Millisecond)
	assert.Nil(t, h.sync.Snapshot().NewOrderID)
	assert.Empty(t, h.notifier.ids())
}

func TestPushDuringResyncDoesNotAlert(t *testing.T) {
	h := newHarness(t, nil)
	h.gate.granted.Store(true)

	h.channel.last().send(Event{Kind: EventOpened})
	require.Eventually(t, func() bool { return len(h.api.listCalls()) == 2 }, wait, time.Millisecond)
	require.True(t, h.sync.Snapshot().Resyncing)

	h.push(wire(30, h.clock.Now(), "new"))
	require.Eventually(t, func() bool { _, ok := h.sync.Order(30); return ok }, wait, time.Millisecond)
	assert.Empty(t, h.notifier.ids())

	h.settle()
	h.push(wire(31, h.clock.Now(), "new"))
	require.Eventually(t, func() bool { return len(h.notifier.ids()) == 1 }, wait, time.Millisecond)
	assert.Equal(t, []int64{31}, h.notifier.ids())
}

func TestResyncAlertsAtMostOnce(t *testing.T) {
	h := newHarness(t, nil)
	h.gate.granted.Store(true)
	h.connect()
	h.close()

	now := h.clock.Now()
	h.api.setList(func(*int64) ([]order.Patch, error) {
		return []order.Patch{
			patchAt(50, now, "new"),
			patchAt(51, now, "new"),
			patchAt(52, now, "new"),
		}, nil
	})
	h.clock.Advance(5 * time.Second)
	h.connect()

	assert.Len(t, h.ids(), 3)
	require.Eventually(t, func() bool { return len(h.notifier.ids()) == 1 }, wait, time.Millisecond)
	assert.Equal(t, []int64{50}, h.notifier.ids())
}

func TestSnapshotReportsConnectivity(t *testing.T) {
	h := newHarness(t, nil)
	assert.True(t, h.sync.Snapshot().Online)

	before := h.sync.Snapshot().Revision
	h.probe.set(false)
	v := h.sync.Snapshot()
	assert.False(t, v.Online)
	assert.Greater(t, v.Revision, before)
}

func TestNewValidatesDeps(t *testing.T) {
	_, err := New(DefaultConfig(), Deps{})
	assert.Error(t, err)
}

func ptr[T any](v T) *T { return &v }
