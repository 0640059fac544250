// Package pending keeps order state changes that could not reach the backend.
// The whole queue lives in one kv slot as a JSON list so it survives restarts.
package pending

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cashier-board/internal/kv"

	"github.com/google/uuid"
)

const Slot = "pending_mutations"

type Mutation struct {
	ID       string          `json:"id"`
	OrderID  int64           `json:"orderId"`
	Body     json.RawMessage `json:"body"`
	QueuedAt time.Time       `json:"queuedAt"`
}

func NewMutation(orderID int64, body json.RawMessage, now time.Time) Mutation {
	return Mutation{
		ID:       uuid.NewString(),
		OrderID:  orderID,
		Body:     body,
		QueuedAt: now.UTC(),
	}
}

type Queue struct {
	store kv.Store
	slot  string
}

func NewQueue(store kv.Store) *Queue {
	return &Queue{store: store, slot: Slot}
}

func (q *Queue) Append(ctx context.Context, m Mutation) error {
	return q.store.Update(ctx, q.slot, func(current []byte, found bool) ([]byte, error) {
		list, err := decode(current, found)
		if err != nil {
			return nil, err
		}
		list = append(list, m)
		return json.Marshal(list)
	})
}

func (q *Queue) Load(ctx context.Context) ([]Mutation, error) {
	raw, found, err := q.store.Get(ctx, q.slot)
	if err != nil {
		return nil, err
	}
	return decode(raw, found)
}

func (q *Queue) Clear(ctx context.Context) error {
	return q.store.Delete(ctx, q.slot)
}

func decode(raw []byte, found bool) ([]Mutation, error) {
	if !found || len(raw) == 0 {
		return nil, nil
	}
	var list []Mutation
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("decode %s: %w", Slot, err)
	}
	return list, nil
}
