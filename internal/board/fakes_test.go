package board

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cashier-board/internal/order"
	"cashier-board/internal/pending"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward, firing due timers in order on the calling
// goroutine.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.fired = true
		if next.at.After(c.now) {
			c.now = next.at
		}
		c.mu.Unlock()
		next.f()
	}
}

type fakeConn struct {
	ctx    context.Context
	events chan Event
}

func (c *fakeConn) send(ev Event) {
	c.events <- ev
}

type fakeChannel struct {
	mu    sync.Mutex
	conns []*fakeConn
}

func (c *fakeChannel) Open(ctx context.Context) <-chan Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	conn := &fakeConn{ctx: ctx, events: make(chan Event, 16)}
	c.conns = append(c.conns, conn)
	return conn.events
}

func (c *fakeChannel) opens() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.conns)
}

func (c *fakeChannel) last() *fakeConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conns[len(c.conns)-1]
}

type patchCall struct {
	id   int64
	body string
}

type fakeAPI struct {
	mu        sync.Mutex
	list      func(sinceID *int64) ([]order.Patch, error)
	cursors   []*int64
	patches   []patchCall
	patchErr  error
	deletes   []int64
	deleteErr error
}

func (a *fakeAPI) ListOrders(ctx context.Context, sinceID *int64) ([]order.Patch, error) {
	a.mu.Lock()
	var cursor *int64
	if sinceID != nil {
		v := *sinceID
		cursor = &v
	}
	a.cursors = append(a.cursors, cursor)
	fn := a.list
	a.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(sinceID)
}

func (a *fakeAPI) PatchOrder(ctx context.Context, id int64, body json.RawMessage) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.patches = append(a.patches, patchCall{id: id, body: string(body)})
	return a.patchErr
}

func (a *fakeAPI) DeleteOrder(ctx context.Context, id int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deletes = append(a.deletes, id)
	return a.deleteErr
}

func (a *fakeAPI) setList(fn func(sinceID *int64) ([]order.Patch, error)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.list = fn
}

func (a *fakeAPI) setPatchErr(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.patchErr = err
}

func (a *fakeAPI) listCalls() []*int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*int64(nil), a.cursors...)
}

func (a *fakeAPI) patchCalls() []patchCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]patchCall(nil), a.patches...)
}

func (a *fakeAPI) deleteCalls() []int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]int64(nil), a.deletes...)
}

type fakeQueue struct {
	mu     sync.Mutex
	items  []pending.Mutation
	clears int
}

func (q *fakeQueue) Append(ctx context.Context, m pending.Mutation) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, m)
	return nil
}

func (q *fakeQueue) Load(ctx context.Context) ([]pending.Mutation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]pending.Mutation(nil), q.items...), nil
}

func (q *fakeQueue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	q.clears++
	return nil
}

func (q *fakeQueue) snapshot() ([]pending.Mutation, int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]pending.Mutation(nil), q.items...), q.clears
}

type fakeProbe struct {
	online   atomic.Bool
	mu       sync.Mutex
	watchers map[int]func(bool)
	next     int
}

func newFakeProbe(online bool) *fakeProbe {
	p := &fakeProbe{watchers: make(map[int]func(bool))}
	p.online.Store(online)
	return p
}

func (p *fakeProbe) Online() bool { return p.online.Load() }

func (p *fakeProbe) Watch(fn func(bool)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.next
	p.next++
	p.watchers[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.watchers, id)
	}
}

func (p *fakeProbe) set(online bool) {
	p.online.Store(online)
	p.mu.Lock()
	fns := make([]func(bool), 0, len(p.watchers))
	for _, fn := range p.watchers {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(online)
	}
}

type fakeGate struct{ granted atomic.Bool }

func (g *fakeGate) Granted(context.Context) bool { return g.granted.Load() }

type fakeNotifier struct {
	mu     sync.Mutex
	alerts []int64
}

func (n *fakeNotifier) NewOrder(o order.Order) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, o.ID)
}

func (n *fakeNotifier) ids() []int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]int64(nil), n.alerts...)
}

type fakeReloader struct{ count atomic.Int32 }

func (r *fakeReloader) Reload(string) { r.count.Add(1) }

type harness struct {
	t        *testing.T
	sync     *Synchronizer
	clock    *fakeClock
	channel  *fakeChannel
	api      *fakeAPI
	queue    *fakeQueue
	probe    *fakeProbe
	gate     *fakeGate
	notifier *fakeNotifier
	reloader *fakeReloader
}

func newHarness(t *testing.T, initial []order.Patch) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		clock:    newFakeClock(),
		channel:  &fakeChannel{},
		api:      &fakeAPI{},
		queue:    &fakeQueue{},
		probe:    newFakeProbe(true),
		gate:     &fakeGate{},
		notifier: &fakeNotifier{},
		reloader: &fakeReloader{},
	}
	h.api.setList(func(*int64) ([]order.Patch, error) { return initial, nil })

	s, err := New(DefaultConfig(), Deps{
		API:          h.api,
		Channel:      h.channel,
		Queue:        h.queue,
		Connectivity: h.probe,
		Gate:         h.gate,
		Notifier:     h.notifier,
		Reloader:     h.reloader,
		Clock:        h.clock,
		Logger:       zap.NewNop(),
	})
	require.NoError(t, err)
	h.sync = s

	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.Stop)

	require.Eventually(t, func() bool { return len(h.api.listCalls()) == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return len(s.Snapshot().Orders) == countWindowed(h, initial) }, time.Second, time.Millisecond)
	return h
}

func countWindowed(h *harness, patches []order.Patch) int {
	now := h.clock.Now()
	w := DefaultConfig().Window
	n := 0
	for _, p := range patches {
		if p.CreatedAt != nil && w.Contains(*p.CreatedAt, now) {
			n++
		}
	}
	return n
}

// connect delivers EventOpened on the latest connection, waits for the
// resync fetch and lets its settle delay elapse.
func (h *harness) connect() {
	h.t.Helper()
	calls := len(h.api.listCalls())
	h.channel.last().send(Event{Kind: EventOpened})
	require.Eventually(h.t, func() bool { return h.sync.Status() == StatusConnected }, time.Second, time.Millisecond)
	require.Eventually(h.t, func() bool { return len(h.api.listCalls()) == calls+1 }, time.Second, time.Millisecond)
	h.settle()
}

func (h *harness) settle() {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		h.clock.Advance(DefaultConfig().ResyncSettle)
		return !h.sync.Snapshot().Resyncing
	}, time.Second, time.Millisecond)
}

func (h *harness) push(v any) {
	h.t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(h.t, err)
	h.channel.last().send(Event{Kind: EventMessage, Payload: raw})
}

func (h *harness) close() {
	h.t.Helper()
	h.channel.last().send(Event{Kind: EventClosed})
	require.Eventually(h.t, func() bool { return h.sync.Status() == StatusDisconnected }, time.Second, time.Millisecond)
}

func (h *harness) ids() []int64 {
	v := h.sync.Snapshot()
	out := make([]int64, 0, len(v.Orders))
	for _, o := range v.Orders {
		out = append(out, o.ID)
	}
	return out
}

func patchAt(id int64, created time.Time, state order.State) order.Patch {
	c := created
	s := state
	return order.Patch{ID: id, CreatedAt: &c, State: &s}
}

func wire(id int64, created time.Time, state string) map[string]any {
	return map[string]any{
		"id":          id,
		"created_at":  created.Format(time.RFC3339Nano),
		"state":       state,
		"items":       []any{},
		"total_price": "1000",
		"name":        "guest",
		"phone":       "0999",
	}
}

func mutation(id int64) pending.Mutation {
	return pending.NewMutation(id, json.RawMessage(`{"state":"finish"}`), time.Date(2026, 10, 19, 11, 0, 0, 0, time.UTC))
}
