// Package board keeps the cashier's live order board in sync with the
// storefront backend. It merges the initial fetch, reconnect resyncs and push
// messages into one windowed, sorted list, reconnects the push channel on its
// own and queues failed state changes for replay.
package board

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"cashier-board/internal/order"
	"cashier-board/internal/pending"

	"go.uber.org/zap"
)

type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

var finishBody = json.RawMessage(`{"state":"finish"}`)

type Config struct {
	Window         order.Window
	ReconnectDelay time.Duration
	ReloadAfter    time.Duration
	SweepInterval  time.Duration
	AlertDuration  time.Duration
	ResyncSettle   time.Duration
	RequestTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Window:         order.Window{Span: 2 * 24 * time.Hour},
		ReconnectDelay: 5 * time.Second,
		ReloadAfter:    30 * time.Second,
		SweepInterval:  time.Hour,
		AlertDuration:  3 * time.Second,
		ResyncSettle:   2 * time.Second,
		RequestTimeout: 15 * time.Second,
	}
}

type Deps struct {
	API          OrderAPI
	Channel      Channel
	Queue        DurableQueue
	Connectivity ConnectivityProbe
	Gate         NotificationGate
	Notifier     Notifier
	Listener     Listener
	Reloader     Reloader
	Clock        Clock
	Logger       *zap.Logger
}

type View struct {
	Status     Status        `json:"status"`
	Online     bool          `json:"online"`
	Resyncing  bool          `json:"resyncing"`
	Orders     []order.Order `json:"orders"`
	NewOrderID *int64        `json:"newOrderId,omitempty"`
	Revision   uint64        `json:"revision"`
	UpdatedAt  time.Time     `json:"updatedAt"`
}

type ingestMode int

const (
	ingestSilent ingestMode = iota
	ingestResync
	ingestPush
)

type Synchronizer struct {
	cfg      Config
	api      OrderAPI
	channel  Channel
	queue    DurableQueue
	probe    ConnectivityProbe
	gate     NotificationGate
	notifier Notifier
	listener Listener
	reloader Reloader
	clock    Clock
	logger   *zap.Logger

	mu        sync.Mutex
	orders    map[int64]order.Order
	sorted    []order.Order
	status    Status
	started   bool
	stopped   bool
	seeded    bool
	resyncing bool
	resyncSeq uint64
	offline   bool // disconnected and waiting for the network to come back
	reloaded  bool
	newOrder  *int64
	revision  uint64
	updatedAt time.Time

	ctx          context.Context
	cancel       context.CancelFunc
	attempt      uint64
	closeAttempt context.CancelFunc
	unwatch      func()

	reconnectTimer Timer
	reloadTimer    Timer
	sweepTimer     Timer
	alertTimer     Timer
	resyncTimer    Timer

	flushing atomic.Bool
	changed  chan struct{}
	wg       sync.WaitGroup
}

func New(cfg Config, deps Deps) (*Synchronizer, error) {
	if deps.API == nil || deps.Channel == nil || deps.Queue == nil {
		return nil, errors.New("board: api, channel and queue are required")
	}
	def := DefaultConfig()
	if cfg.Window.Span <= 0 {
		cfg.Window = def.Window
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = def.ReconnectDelay
	}
	if cfg.ReloadAfter <= 0 {
		cfg.ReloadAfter = def.ReloadAfter
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.AlertDuration <= 0 {
		cfg.AlertDuration = def.AlertDuration
	}
	if cfg.ResyncSettle <= 0 {
		cfg.ResyncSettle = def.ResyncSettle
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}

	s := &Synchronizer{
		cfg:      cfg,
		api:      deps.API,
		channel:  deps.Channel,
		queue:    deps.Queue,
		probe:    deps.Connectivity,
		gate:     deps.Gate,
		notifier: deps.Notifier,
		listener: deps.Listener,
		reloader: deps.Reloader,
		clock:    deps.Clock,
		logger:   deps.Logger,
		orders:   make(map[int64]order.Order),
		sorted:   []order.Order{},
		status:   StatusConnecting,
		changed:  make(chan struct{}, 1),
	}
	if s.probe == nil {
		s.probe = alwaysOnline{}
	}
	if s.gate == nil {
		s.gate = denyAll{}
	}
	if s.notifier == nil {
		s.notifier = Notifiers(nil)
	}
	if s.listener == nil {
		s.listener = Listeners(nil)
	}
	if s.reloader == nil {
		s.reloader = reloadFunc(func(string) {})
	}
	if s.clock == nil {
		s.clock = realClock{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s, nil
}

type reloadFunc func(reason string)

func (f reloadFunc) Reload(reason string) { f(reason) }

// Start runs the initial fetch, opens the push channel and arms the periodic
// sweep. Everything it starts is owned by the synchronizer until Stop.
func (s *Synchronizer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("board: already started")
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.updatedAt = s.clock.Now()

	s.wg.Add(2)
	go s.publishLoop()
	go s.initialLoad()

	s.connectLocked()
	s.armSweepLocked()
	s.mu.Unlock()

	unwatch := s.probe.Watch(s.onConnectivity)
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		unwatch()
		return nil
	}
	s.unwatch = unwatch
	s.mu.Unlock()
	return nil
}

// Stop closes the push channel without triggering a reconnect, cancels every
// timer and waits for in-flight work to drain.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	stopTimer(&s.reconnectTimer)
	stopTimer(&s.reloadTimer)
	stopTimer(&s.sweepTimer)
	stopTimer(&s.alertTimer)
	stopTimer(&s.resyncTimer)
	if s.closeAttempt != nil {
		s.closeAttempt()
	}
	unwatch := s.unwatch
	s.cancel()
	s.mu.Unlock()

	if unwatch != nil {
		unwatch()
	}
	s.wg.Wait()
}

func (s *Synchronizer) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *Synchronizer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Synchronizer) Order(id int64) (order.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	return o, ok
}

// Finish marks an order finished locally right away and sends the change in
// the background. When the host is offline, or the request fails, the change
// goes to the durable queue instead.
func (s *Synchronizer) Finish(ctx context.Context, id int64) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return ErrNotRunning
	}
	o, ok := s.orders[id]
	if !ok {
		s.mu.Unlock()
		return ErrOrderNotFound
	}
	if o.Finished() {
		s.mu.Unlock()
		return nil
	}

	o.State = order.StateFinished
	s.orders[id] = o
	s.pruneLocked(s.clock.Now())
	s.resortLocked()
	s.markChangedLocked()

	online := s.probe.Online()
	if online {
		s.wg.Add(1)
		go s.sendFinish(id)
	}
	s.mu.Unlock()

	if !online {
		s.logger.Info("offline; finish queued", zap.Int64("orderId", id))
		if err := s.enqueue(ctx, id, finishBody); err != nil {
			return fmt.Errorf("queue finish for order %d: %w", id, err)
		}
	}
	return nil
}

// Delete removes a finished order from the board and from the backend.
// Failures are logged and not retried.
func (s *Synchronizer) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.stopped {
		return ErrNotRunning
	}
	o, ok := s.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	if !o.Finished() {
		return ErrOrderNotFinished
	}

	delete(s.orders, id)
	s.resortLocked()
	s.markChangedLocked()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		reqCtx, cancel := context.WithTimeout(s.ctx, s.cfg.RequestTimeout)
		defer cancel()
		if err := s.api.DeleteOrder(reqCtx, id); err != nil {
			s.logger.Error("delete order failed", zap.Int64("orderId", id), zap.Error(err))
		}
	}()
	return nil
}

// Flush replays every queued mutation, clears the queue and re-queues the
// ones that failed again. It returns the number of mutations attempted.
func (s *Synchronizer) Flush(ctx context.Context) (int, error) {
	s.mu.Lock()
	running := s.started && !s.stopped
	s.mu.Unlock()
	if !running {
		return 0, ErrNotRunning
	}
	if !s.flushing.CompareAndSwap(false, true) {
		return 0, ErrFlushInProgress
	}
	defer s.flushing.Store(false)

	// Replays may be cut short by ctx; the queue itself must not be.
	durable := context.WithoutCancel(ctx)

	items, err := s.queue.Load(durable)
	if err != nil {
		return 0, fmt.Errorf("load pending mutations: %w", err)
	}
	if len(items) == 0 {
		return 0, nil
	}

	var failed []pending.Mutation
	for _, m := range items {
		reqCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
		err := s.api.PatchOrder(reqCtx, m.OrderID, m.Body)
		cancel()
		if err != nil {
			s.logger.Warn("pending mutation replay failed", zap.String("mutationId", m.ID), zap.Int64("orderId", m.OrderID), zap.Error(err))
			failed = append(failed, m)
		}
	}

	if err := s.queue.Clear(durable); err != nil {
		return len(items), fmt.Errorf("clear pending mutations: %w", err)
	}
	for _, m := range failed {
		if err := s.queue.Append(durable, m); err != nil {
			s.logger.Error("re-queue pending mutation failed", zap.String("mutationId", m.ID), zap.Int64("orderId", m.OrderID), zap.Error(err))
		}
	}

	s.logger.Info("pending mutations flushed", zap.Int("attempted", len(items)), zap.Int("requeued", len(failed)))
	return len(items), nil
}

func (s *Synchronizer) sendFinish(id int64) {
	defer s.wg.Done()
	reqCtx, cancel := context.WithTimeout(s.ctx, s.cfg.RequestTimeout)
	defer cancel()
	if err := s.api.PatchOrder(reqCtx, id, finishBody); err != nil {
		s.logger.Warn("finish order failed; queued for replay", zap.Int64("orderId", id), zap.Error(err))
		if err := s.enqueue(s.ctx, id, finishBody); err != nil {
			s.logger.Error("queue finish failed", zap.Int64("orderId", id), zap.Error(err))
		}
	}
}

func (s *Synchronizer) enqueue(ctx context.Context, id int64, body json.RawMessage) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.RequestTimeout)
	defer cancel()
	return s.queue.Append(ctx, pending.NewMutation(id, body, s.clock.Now()))
}

func (s *Synchronizer) initialLoad() {
	defer s.wg.Done()
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.RequestTimeout)
	defer cancel()

	patches, err := s.api.ListOrders(ctx, nil)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if err != nil {
		s.logger.Error("initial order fetch failed", zap.Error(err))
		return
	}
	s.ingestLocked(patches, ingestSilent)
	s.seeded = true
	s.logger.Info("board loaded", zap.Int("orders", len(s.orders)))
}

func (s *Synchronizer) publishLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.changed:
			s.listener.BoardChanged(s.Snapshot())
		}
	}
}

func (s *Synchronizer) connectLocked() {
	stopTimer(&s.reconnectTimer)
	if s.closeAttempt != nil {
		s.closeAttempt()
	}
	s.offline = false
	s.attempt++
	attempt := s.attempt

	ctx, cancel := context.WithCancel(s.ctx)
	s.closeAttempt = cancel
	s.setStatusLocked(StatusConnecting)

	events := s.channel.Open(ctx)
	s.wg.Add(1)
	go s.pump(ctx, attempt, events)
}

func (s *Synchronizer) pump(ctx context.Context, attempt uint64, events <-chan Event) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				s.handleEvent(attempt, Event{Kind: EventClosed})
				return
			}
			s.handleEvent(attempt, ev)
		}
	}
}

func (s *Synchronizer) handleEvent(attempt uint64, ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || attempt != s.attempt {
		return
	}

	switch ev.Kind {
	case EventOpened:
		s.onOpenedLocked()
	case EventMessage:
		s.onMessageLocked(ev.Payload)
	case EventError:
		s.logger.Warn("push channel error", zap.Error(ev.Err))
	case EventClosed:
		s.onClosedLocked()
	}
}

func (s *Synchronizer) onOpenedLocked() {
	if s.status == StatusConnected {
		return
	}
	stopTimer(&s.reconnectTimer)
	s.setStatusLocked(StatusConnected)
	s.startResyncLocked()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.Flush(s.ctx); err != nil && !errors.Is(err, ErrFlushInProgress) && !errors.Is(err, ErrNotRunning) {
			s.logger.Warn("pending flush failed", zap.Error(err))
		}
	}()
}

func (s *Synchronizer) onMessageLocked(payload []byte) {
	p, err := order.Decode(payload)
	if err != nil {
		s.logger.Warn("discarding malformed push payload", zap.Int("bytes", len(payload)), zap.Error(err))
		return
	}
	s.ingestLocked([]order.Patch{p}, ingestPush)
}

func (s *Synchronizer) onClosedLocked() {
	if s.status == StatusDisconnected {
		return
	}
	if s.closeAttempt != nil {
		s.closeAttempt()
		s.closeAttempt = nil
	}
	s.setStatusLocked(StatusDisconnected)

	if s.probe.Online() {
		s.scheduleReconnectLocked()
	} else {
		s.offline = true
		s.logger.Warn("push channel closed while offline; waiting for network")
	}
	s.armReloadLocked()
}

func (s *Synchronizer) scheduleReconnectLocked() {
	stopTimer(&s.reconnectTimer)
	attempt := s.attempt
	s.logger.Info("push channel closed; reconnect scheduled", zap.Duration("delay", s.cfg.ReconnectDelay))
	s.reconnectTimer = s.clock.AfterFunc(s.cfg.ReconnectDelay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.stopped || s.attempt != attempt || s.status != StatusDisconnected {
			return
		}
		s.reconnectTimer = nil
		if !s.probe.Online() {
			s.offline = true
			s.logger.Warn("reconnect skipped while offline; waiting for network")
			return
		}
		s.connectLocked()
	})
}

// armReloadLocked arms the last-resort reload. It fires at most once for the
// lifetime of the synchronizer and is cancelled when the status leaves
// disconnected.
func (s *Synchronizer) armReloadLocked() {
	if s.reloaded || s.reloadTimer != nil {
		return
	}
	attempt := s.attempt
	s.reloadTimer = s.clock.AfterFunc(s.cfg.ReloadAfter, func() {
		s.mu.Lock()
		if s.stopped || s.reloaded || s.attempt != attempt || s.status != StatusDisconnected {
			s.mu.Unlock()
			return
		}
		s.reloaded = true
		s.reloadTimer = nil
		s.mu.Unlock()

		s.logger.Error("push channel disconnected too long; reloading board", zap.Duration("after", s.cfg.ReloadAfter))
		s.reloader.Reload("disconnected for " + s.cfg.ReloadAfter.String())
	})
}

func (s *Synchronizer) onConnectivity(online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.markChangedLocked()
	if online && s.status == StatusDisconnected && s.offline {
		s.logger.Info("network restored; reconnecting push channel")
		s.connectLocked()
	}
}

func (s *Synchronizer) startResyncLocked() {
	var cursor *int64
	if len(s.orders) > 0 {
		var maxID int64
		for id := range s.orders {
			if id > maxID {
				maxID = id
			}
		}
		cursor = &maxID
	}
	mode := ingestSilent
	if s.seeded {
		mode = ingestResync
	}

	s.resyncSeq++
	seq := s.resyncSeq
	s.resyncing = true
	stopTimer(&s.resyncTimer)
	s.markChangedLocked()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.RequestTimeout)
		defer cancel()
		patches, err := s.api.ListOrders(ctx, cursor)

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.stopped {
			return
		}
		if err != nil {
			s.logger.Warn("resync fetch failed", zap.Error(err))
		} else {
			s.ingestLocked(patches, mode)
			s.seeded = true
		}
		s.settleResyncLocked(seq)
	}()
}

// settleResyncLocked keeps alerts muted a little longer than the fetch
// itself so push messages already in flight do not alert twice.
func (s *Synchronizer) settleResyncLocked(seq uint64) {
	if seq != s.resyncSeq {
		return
	}
	stopTimer(&s.resyncTimer)
	s.resyncTimer = s.clock.AfterFunc(s.cfg.ResyncSettle, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.stopped || seq != s.resyncSeq {
			return
		}
		s.resyncing = false
		s.resyncTimer = nil
		s.markChangedLocked()
	})
}

func (s *Synchronizer) armSweepLocked() {
	s.sweepTimer = s.clock.AfterFunc(s.cfg.SweepInterval, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.stopped {
			return
		}
		if s.pruneLocked(s.clock.Now()) {
			s.resortLocked()
			s.markChangedLocked()
		}
		s.armSweepLocked()
	})
}

func (s *Synchronizer) ingestLocked(patches []order.Patch, mode ingestMode) {
	now := s.clock.Now()
	changed := s.pruneLocked(now)

	var fresh []order.Order
	for _, p := range patches {
		existing, held := s.orders[p.ID]
		var merged order.Order
		if held {
			merged = existing.Apply(p)
		} else {
			var ok bool
			merged, ok = order.FromPatch(p)
			if !ok {
				s.logger.Debug("discarding order without created_at", zap.Int64("orderId", p.ID))
				continue
			}
		}

		if !s.cfg.Window.Contains(merged.CreatedAt, now) {
			if held {
				delete(s.orders, p.ID)
				changed = true
			}
			continue
		}

		s.orders[p.ID] = merged
		changed = true
		if !held {
			fresh = append(fresh, merged)
		}
	}

	if changed {
		s.resortLocked()
		s.markChangedLocked()
	}

	switch mode {
	case ingestPush:
		if s.resyncing {
			for _, o := range fresh {
				s.logger.Info("new order during resync; alert muted", zap.Int64("orderId", o.ID))
			}
			return
		}
		for _, o := range fresh {
			s.alertLocked(o)
		}
	case ingestResync:
		if len(fresh) > 0 {
			s.alertLocked(fresh[0])
		}
	}
}

func (s *Synchronizer) alertLocked(o order.Order) {
	if !s.gate.Granted(s.ctx) {
		s.logger.Info("new order alert suppressed; notifications not granted", zap.Int64("orderId", o.ID))
		return
	}

	id := o.ID
	s.newOrder = &id
	s.markChangedLocked()
	stopTimer(&s.alertTimer)
	s.alertTimer = s.clock.AfterFunc(s.cfg.AlertDuration, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.stopped || s.newOrder == nil || *s.newOrder != id {
			return
		}
		s.newOrder = nil
		s.alertTimer = nil
		s.markChangedLocked()
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.notifier.NewOrder(o)
	}()
}

func (s *Synchronizer) pruneLocked(now time.Time) bool {
	removed := false
	for id, o := range s.orders {
		if !s.cfg.Window.Contains(o.CreatedAt, now) {
			delete(s.orders, id)
			removed = true
		}
	}
	return removed
}

func (s *Synchronizer) resortLocked() {
	sorted := make([]order.Order, 0, len(s.orders))
	for _, o := range s.orders {
		sorted = append(sorted, o)
	}
	order.Sort(sorted)
	s.sorted = sorted
}

func (s *Synchronizer) setStatusLocked(status Status) {
	if s.status == status {
		return
	}
	if s.status == StatusDisconnected {
		stopTimer(&s.reloadTimer)
	}
	s.logger.Info("push channel status", zap.String("from", string(s.status)), zap.String("to", string(status)))
	s.status = status
	s.markChangedLocked()
}

func (s *Synchronizer) markChangedLocked() {
	s.revision++
	s.updatedAt = s.clock.Now()
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

func (s *Synchronizer) viewLocked() View {
	v := View{
		Status:    s.status,
		Online:    s.probe.Online(),
		Resyncing: s.resyncing,
		Orders:    append(make([]order.Order, 0, len(s.sorted)), s.sorted...),
		Revision:  s.revision,
		UpdatedAt: s.updatedAt,
	}
	if s.newOrder != nil {
		id := *s.newOrder
		v.NewOrderID = &id
	}
	return v
}

func stopTimer(t *Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
