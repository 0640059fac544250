// Package notify holds the operator's choice about new-order alerts.
package notify

import (
	"context"
	"errors"
	"strings"
	"sync"

	"cashier-board/internal/kv"
)

const Slot = "notification_permission"

type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

var ErrInvalidPermission = errors.New("permission must be granted or denied")

func ParsePermission(value string) (Permission, error) {
	switch Permission(strings.ToLower(strings.TrimSpace(value))) {
	case PermissionGranted:
		return PermissionGranted, nil
	case PermissionDenied:
		return PermissionDenied, nil
	}
	return "", ErrInvalidPermission
}

// Gate answers whether alerts may fire. The stored value is read once and
// cached; Set writes through.
type Gate struct {
	store kv.Store

	mu     sync.RWMutex
	loaded bool
	state  Permission
}

func NewGate(store kv.Store) *Gate {
	return &Gate{store: store, state: PermissionDefault}
}

func (g *Gate) State(ctx context.Context) (Permission, error) {
	g.mu.RLock()
	if g.loaded {
		state := g.state
		g.mu.RUnlock()
		return state, nil
	}
	g.mu.RUnlock()

	raw, found, err := g.store.Get(ctx, Slot)
	if err != nil {
		return PermissionDefault, err
	}
	state := PermissionDefault
	if found {
		if p, err := ParsePermission(string(raw)); err == nil {
			state = p
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.loaded {
		g.state = state
		g.loaded = true
	}
	return g.state, nil
}

// Granted is false whenever the permission cannot be read.
func (g *Gate) Granted(ctx context.Context) bool {
	state, err := g.State(ctx)
	return err == nil && state == PermissionGranted
}

func (g *Gate) Set(ctx context.Context, p Permission) error {
	if p != PermissionGranted && p != PermissionDenied {
		return ErrInvalidPermission
	}
	if err := g.store.Put(ctx, Slot, []byte(p)); err != nil {
		return err
	}
	g.mu.Lock()
	g.state = p
	g.loaded = true
	g.mu.Unlock()
	return nil
}
