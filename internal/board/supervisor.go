package board

import (
	"context"
	"errors"
	"sync"

	"cashier-board/internal/order"

	"go.uber.org/zap"
)

// Factory builds a fresh, unstarted synchronizer wired to reloader.
type Factory func(reloader Reloader) (*Synchronizer, error)

// Supervisor owns the live synchronizer and replaces it with a new instance
// whenever that instance asks for a reload.
type Supervisor struct {
	factory  Factory
	logger   *zap.Logger
	reloads  chan string
	OnReload func(reason string)

	mu      sync.RWMutex
	current *Synchronizer
}

func NewSupervisor(factory Factory, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		factory: factory,
		logger:  logger,
		reloads: make(chan string, 1),
	}
}

// Reload requests a rebuild. Requests made while one is already pending are
// merged into it.
func (s *Supervisor) Reload(reason string) {
	select {
	case s.reloads <- reason:
	default:
	}
}

// Run starts the first synchronizer and rebuilds it on every reload request
// until ctx is done.
func (s *Supervisor) Run(ctx context.Context) error {
	if s.factory == nil {
		return errors.New("board: supervisor needs a factory")
	}
	if err := s.swap(ctx); err != nil {
		return err
	}
	defer func() {
		s.mu.Lock()
		cur := s.current
		s.current = nil
		s.mu.Unlock()
		if cur != nil {
			cur.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case reason := <-s.reloads:
			s.logger.Warn("reloading board", zap.String("reason", reason))
			if err := s.swap(ctx); err != nil {
				s.logger.Error("board reload failed", zap.Error(err))
				continue
			}
			if s.OnReload != nil {
				s.OnReload(reason)
			}
		}
	}
}

func (s *Supervisor) swap(ctx context.Context) error {
	next, err := s.factory(s)
	if err != nil {
		return err
	}

	s.mu.Lock()
	prev := s.current
	s.current = nil
	s.mu.Unlock()
	if prev != nil {
		prev.Stop()
	}

	if err := next.Start(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.current = next
	s.mu.Unlock()
	return nil
}

func (s *Supervisor) live() *Synchronizer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *Supervisor) Snapshot() View {
	cur := s.live()
	if cur == nil {
		return View{Status: StatusConnecting, Orders: []order.Order{}}
	}
	return cur.Snapshot()
}

func (s *Supervisor) Order(id int64) (order.Order, bool) {
	cur := s.live()
	if cur == nil {
		return order.Order{}, false
	}
	return cur.Order(id)
}

func (s *Supervisor) Finish(ctx context.Context, id int64) error {
	cur := s.live()
	if cur == nil {
		return ErrNotRunning
	}
	return cur.Finish(ctx, id)
}

func (s *Supervisor) Delete(ctx context.Context, id int64) error {
	cur := s.live()
	if cur == nil {
		return ErrNotRunning
	}
	return cur.Delete(ctx, id)
}

func (s *Supervisor) Flush(ctx context.Context) (int, error) {
	cur := s.live()
	if cur == nil {
		return 0, ErrNotRunning
	}
	return cur.Flush(ctx)
}
