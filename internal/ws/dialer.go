package ws

import (
	"context"
	"net/http"
	"time"

	"cashier-board/internal/board"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Dialer opens the backend order push channel. Each Open call is a single
// connection attempt; reconnecting is the caller's job.
type Dialer struct {
	URL       string
	Header    http.Header
	Heartbeat time.Duration
	Logger    *zap.Logger
	Dialer    *websocket.Dialer
}

func (d *Dialer) Open(ctx context.Context) <-chan board.Event {
	events := make(chan board.Event, 16)
	go d.run(ctx, events)
	return events
}

func (d *Dialer) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

func (d *Dialer) run(ctx context.Context, events chan<- board.Event) {
	defer close(events)

	emit := func(ev board.Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	dialer := d.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	conn, _, err := dialer.DialContext(ctx, d.URL, d.Header)
	if err != nil {
		if ctx.Err() == nil {
			d.logger().Warn("push channel dial failed", zap.String("url", d.URL), zap.Error(err))
			emit(board.Event{Kind: board.EventError, Err: err})
			emit(board.Event{Kind: board.EventClosed})
		}
		return
	}
	if !emit(board.Event{Kind: board.EventOpened}) {
		_ = conn.Close()
		return
	}

	heartbeat := d.Heartbeat
	if heartbeat > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(2 * heartbeat))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(2 * heartbeat))
		})
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		var tick <-chan time.Time
		if heartbeat > 0 {
			ticker := time.NewTicker(heartbeat)
			defer ticker.Stop()
			tick = ticker.C
		}
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				_ = conn.Close()
				return
			case <-tick:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(heartbeat)); err != nil {
					_ = conn.Close()
					return
				}
			}
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			if ctx.Err() != nil {
				return
			}
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				emit(board.Event{Kind: board.EventError, Err: err})
			}
			emit(board.Event{Kind: board.EventClosed})
			return
		}
		if !emit(board.Event{Kind: board.EventMessage, Payload: payload}) {
			_ = conn.Close()
			return
		}
	}
}
