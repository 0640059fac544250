package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cashier-board/internal/board"
)

const (
	CommandFinish = "finish"
	CommandDelete = "delete"
)

type Command struct {
	Type    string `json:"type"`
	OrderID int64  `json:"orderId"`
}

type Board interface {
	Finish(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
}

// CommandHandler applies remote finish/delete commands to the board.
// Commands that can never succeed are marked permanent so they skip retries.
func CommandHandler(b Board) HandlerFunc {
	return func(ctx context.Context, body []byte) error {
		var cmd Command
		if err := json.Unmarshal(body, &cmd); err != nil {
			return Permanent(fmt.Errorf("decode command: %w", err))
		}
		if cmd.OrderID <= 0 {
			return Permanent(errors.New("command has no orderId"))
		}

		var err error
		switch cmd.Type {
		case CommandFinish:
			err = b.Finish(ctx, cmd.OrderID)
		case CommandDelete:
			err = b.Delete(ctx, cmd.OrderID)
		default:
			return Permanent(fmt.Errorf("unknown command type %q", cmd.Type))
		}

		if errors.Is(err, board.ErrOrderNotFinished) || errors.Is(err, board.ErrOrderNotFound) {
			return Permanent(err)
		}
		return err
	}
}
