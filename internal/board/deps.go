package board

import (
	"context"
	"encoding/json"
	"time"

	"cashier-board/internal/order"
	"cashier-board/internal/pending"
)

type OrderAPI interface {
	ListOrders(ctx context.Context, sinceID *int64) ([]order.Patch, error)
	PatchOrder(ctx context.Context, id int64, body json.RawMessage) error
	DeleteOrder(ctx context.Context, id int64) error
}

type EventKind int

const (
	EventOpened EventKind = iota + 1
	EventMessage
	EventError
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventOpened:
		return "opened"
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	case EventClosed:
		return "closed"
	}
	return "unknown"
}

type Event struct {
	Kind    EventKind
	Payload []byte
	Err     error
}

// Channel opens one push connection per call. The returned stream ends with
// EventClosed; cancelling ctx closes the connection deliberately.
type Channel interface {
	Open(ctx context.Context) <-chan Event
}

type DurableQueue interface {
	Append(ctx context.Context, m pending.Mutation) error
	Load(ctx context.Context) ([]pending.Mutation, error)
	Clear(ctx context.Context) error
}

type ConnectivityProbe interface {
	Online() bool
	Watch(fn func(online bool)) (cancel func())
}

type NotificationGate interface {
	Granted(ctx context.Context) bool
}

type Notifier interface {
	NewOrder(o order.Order)
}

type Listener interface {
	BoardChanged(v View)
}

type Reloader interface {
	Reload(reason string)
}

type Timer interface {
	Stop() bool
}

type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Notifiers fans one alert out to several sinks.
type Notifiers []Notifier

func (n Notifiers) NewOrder(o order.Order) {
	for _, sink := range n {
		if sink != nil {
			sink.NewOrder(o)
		}
	}
}

// Listeners fans snapshots out to several sinks.
type Listeners []Listener

func (l Listeners) BoardChanged(v View) {
	for _, sink := range l {
		if sink != nil {
			sink.BoardChanged(v)
		}
	}
}

type alwaysOnline struct{}

func (alwaysOnline) Online() bool { return true }

func (alwaysOnline) Watch(func(online bool)) func() { return func() {} }

type denyAll struct{}

func (denyAll) Granted(context.Context) bool { return false }
