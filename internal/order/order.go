package order

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// StateFinished is the only state the board treats as finished. Every other
// value the backend sends ("new", "pending", "") is an active order.
const StateFinished State = "finish"

type State string

func (s State) Finished() bool {
	return s == StateFinished
}

var ErrMissingID = errors.New("order payload has no id")

type Meal struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	ImageURL string `json:"image_url"`
}

type LineItem struct {
	ItemID   int64 `json:"id"`
	Meal     Meal  `json:"meal"`
	Quantity int   `json:"quantity"`
}

type Order struct {
	ID         int64           `json:"id"`
	CreatedAt  time.Time       `json:"created_at"`
	State      State           `json:"state"`
	Items      []LineItem      `json:"items"`
	TotalPrice decimal.Decimal `json:"total_price"`
	Name       string          `json:"name"`
	Phone      string          `json:"phone"`
	Location   *string         `json:"location,omitempty"`
	Note       *string         `json:"note,omitempty"`
}

func (o Order) Finished() bool {
	return o.State.Finished()
}

// Patch is an incoming order payload. Nil fields were absent on the wire and
// leave the held value untouched when applied.
type Patch struct {
	ID         int64            `json:"id"`
	CreatedAt  *time.Time       `json:"created_at,omitempty"`
	State      *State           `json:"state,omitempty"`
	Items      []LineItem       `json:"items,omitempty"`
	TotalPrice *decimal.Decimal `json:"total_price,omitempty"`
	Name       *string          `json:"name,omitempty"`
	Phone      *string          `json:"phone,omitempty"`
	Location   *string          `json:"location,omitempty"`
	Note       *string          `json:"note,omitempty"`
}

func Decode(raw []byte) (Patch, error) {
	var p Patch
	if err := json.Unmarshal(raw, &p); err != nil {
		return Patch{}, err
	}
	if p.ID <= 0 {
		return Patch{}, ErrMissingID
	}
	return p, nil
}

// DecodeList decodes a JSON array of patches. Elements that cannot be
// decoded are left out and reported in skipped; only a payload that is not
// an array fails as a whole.
func DecodeList(raw []byte) (patches []Patch, skipped []error, err error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, nil, err
	}
	patches = make([]Patch, 0, len(items))
	for i, item := range items {
		p, err := Decode(item)
		if err != nil {
			skipped = append(skipped, fmt.Errorf("element %d: %w", i, err))
			continue
		}
		patches = append(patches, p)
	}
	return patches, skipped, nil
}

// FromPatch builds a fresh order. An order without created_at cannot be placed
// in the time window, so it is rejected.
func FromPatch(p Patch) (Order, bool) {
	if p.ID <= 0 || p.CreatedAt == nil || p.CreatedAt.IsZero() {
		return Order{}, false
	}
	return Order{ID: p.ID}.Apply(p), true
}

func (o Order) Apply(p Patch) Order {
	out := o
	if p.CreatedAt != nil {
		out.CreatedAt = *p.CreatedAt
	}
	if p.State != nil {
		out.State = *p.State
	}
	if p.Items != nil {
		out.Items = append([]LineItem(nil), p.Items...)
	}
	if p.TotalPrice != nil {
		out.TotalPrice = *p.TotalPrice
	}
	if p.Name != nil {
		out.Name = *p.Name
	}
	if p.Phone != nil {
		out.Phone = *p.Phone
	}
	if p.Location != nil {
		v := *p.Location
		out.Location = &v
	}
	if p.Note != nil {
		v := *p.Note
		out.Note = &v
	}
	return out
}

// Window bounds the working set to orders created within Span before now.
// A non-zero Skew admits orders stamped slightly in the future by a backend
// clock that runs ahead of ours; zero rejects any future timestamp.
type Window struct {
	Span time.Duration
	Skew time.Duration
}

func (w Window) Contains(createdAt, now time.Time) bool {
	if createdAt.IsZero() {
		return false
	}
	age := now.Sub(createdAt)
	return age <= w.Span && age >= -w.Skew
}

// Sort orders active before finished, newest first inside each partition.
func Sort(orders []Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		a, b := orders[i], orders[j]
		if a.Finished() != b.Finished() {
			return !a.Finished()
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
}
