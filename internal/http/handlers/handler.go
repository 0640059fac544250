package handlers

import (
	"context"
	"encoding/json"

	"cashier-board/internal/board"
	"cashier-board/internal/config"
	"cashier-board/internal/notify"
	"cashier-board/internal/order"
	"cashier-board/internal/pending"

	"go.uber.org/zap"
)

type Board interface {
	Snapshot() board.View
	Order(id int64) (order.Order, bool)
	Finish(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
	Flush(ctx context.Context) (int, error)
}

type PendingReader interface {
	Load(ctx context.Context) ([]pending.Mutation, error)
}

type NotificationSettings interface {
	State(ctx context.Context) (notify.Permission, error)
	Set(ctx context.Context, p notify.Permission) error
}

type OrderCreator interface {
	CreateOrder(ctx context.Context, body json.RawMessage) (json.RawMessage, error)
}

type Handler struct {
	Board         Board
	Pending       PendingReader
	Notifications NotificationSettings
	Orders        OrderCreator
	Logger        *zap.Logger
	Config        config.Config
}
