package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// broker is the part of Client that Conn drives.
type broker interface {
	PublishJSON(ctx context.Context, exchange, routingKey string, payload any) error
	ConsumeWithRetry(ctx context.Context, queue string, handler HandlerFunc, maxRetries int, retryDelay time.Duration, logger *zap.Logger) error
	IsClosed() bool
	Close() error
}

var errConsumerStopped = errors.New("consumer stopped")

// Conn keeps one broker connection and dials a new one after it breaks.
// Losing the broker only pauses publishing and consuming.
type Conn struct {
	MinBackoff time.Duration
	MaxBackoff time.Duration

	dial   func() (broker, error)
	logger *zap.Logger

	mu  sync.Mutex
	cur broker
}

// Open returns a lazy connection to url. Every new connection declares the
// board's exchange and command queue before it is used.
func Open(url, exchange, commandsQueue string, logger *zap.Logger) *Conn {
	return NewConn(func() (*Client, error) {
		qc, err := New(url)
		if err != nil {
			return nil, err
		}
		if err := EnsureTopology(qc, exchange, commandsQueue); err != nil {
			_ = qc.Close()
			return nil, err
		}
		return qc, nil
	}, logger)
}

func NewConn(dial func() (*Client, error), logger *zap.Logger) *Conn {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Conn{
		MinBackoff: time.Second,
		MaxBackoff: 30 * time.Second,
		dial: func() (broker, error) {
			qc, err := dial()
			if err != nil {
				return nil, err
			}
			return qc, nil
		},
		logger: logger,
	}
}

// Connect dials now instead of on first use.
func (c *Conn) Connect() error {
	_, err := c.session()
	return err
}

func (c *Conn) session() (broker, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur != nil {
		if !c.cur.IsClosed() {
			return c.cur, nil
		}
		_ = c.cur.Close()
		c.cur = nil
	}
	b, err := c.dial()
	if err != nil {
		return nil, err
	}
	c.cur = b
	return b, nil
}

func (c *Conn) drop(b broker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == b {
		_ = b.Close()
		c.cur = nil
	}
}

func (c *Conn) PublishJSON(ctx context.Context, exchange, routingKey string, payload any) error {
	b, err := c.session()
	if err != nil {
		return err
	}
	if err := b.PublishJSON(ctx, exchange, routingKey, payload); err != nil {
		if b.IsClosed() {
			c.drop(b)
		}
		return err
	}
	return nil
}

// Consume runs ConsumeWithRetry on the current connection and starts over on
// a fresh one whenever the consumer ends, waiting with capped exponential
// backoff between attempts. It returns nil once ctx is done.
func (c *Conn) Consume(ctx context.Context, queue string, handler HandlerFunc, maxRetries int, retryDelay time.Duration) error {
	backoff := c.MinBackoff
	for {
		b, err := c.session()
		if err == nil {
			started := time.Now()
			err = b.ConsumeWithRetry(ctx, queue, handler, maxRetries, retryDelay, c.logger)
			if ctx.Err() != nil {
				return nil
			}
			if err == nil {
				err = errConsumerStopped
			}
			c.drop(b)
			if time.Since(started) > c.MaxBackoff {
				backoff = c.MinBackoff
			}
		}
		if ctx.Err() != nil {
			return nil
		}

		c.logger.Warn("consumer stopped; reconnecting", zap.String("queue", queue), zap.Duration("backoff", backoff), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.MaxBackoff {
			backoff = c.MaxBackoff
		}
	}
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil {
		return nil
	}
	err := c.cur.Close()
	c.cur = nil
	return err
}
