package queue

import (
	"context"
	"time"

	"cashier-board/internal/order"

	"go.uber.org/zap"
)

type publisher interface {
	PublishJSON(ctx context.Context, exchange, routingKey string, payload any) error
}

type OrderEvent struct {
	Type       string      `json:"type"`
	OrderID    int64       `json:"orderId"`
	Order      order.Order `json:"order"`
	OccurredAt time.Time   `json:"occurredAt"`
}

type ReloadEvent struct {
	Type       string    `json:"type"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Events publishes board events to the topic exchange for kitchen screens and
// printers. Publishing is best effort.
type Events struct {
	pub      publisher
	exchange string
	timeout  time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

func NewEvents(pub publisher, exchange string, logger *zap.Logger) *Events {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Events{pub: pub, exchange: exchange, timeout: 5 * time.Second, logger: logger, now: time.Now}
}

func (e *Events) NewOrder(o order.Order) {
	e.publish(RoutingOrderNew, OrderEvent{
		Type:       RoutingOrderNew,
		OrderID:    o.ID,
		Order:      o,
		OccurredAt: e.now().UTC(),
	})
}

func (e *Events) BoardReloaded(reason string) {
	e.publish(RoutingBoardReloaded, ReloadEvent{
		Type:       RoutingBoardReloaded,
		Reason:     reason,
		OccurredAt: e.now().UTC(),
	})
}

func (e *Events) publish(routingKey string, payload any) {
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()
	if err := e.pub.PublishJSON(ctx, e.exchange, routingKey, payload); err != nil {
		e.logger.Warn("event publish failed", zap.String("routingKey", routingKey), zap.Error(err))
	}
}
