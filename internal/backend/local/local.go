// Package local serves the backend capabilities in-process, straight from a
// store and a hub. The HTTP server uses it, and so do tests that want a real
// backend without a network in between.
package local

import (
	"context"
	"fmt"

	"github.com/DoyleJ11/storefront-realtime/internal/backend"
	"github.com/DoyleJ11/storefront-realtime/internal/hub"
	"github.com/DoyleJ11/storefront-realtime/internal/record"
	"github.com/DoyleJ11/storefront-realtime/internal/store"
)

type Backend struct {
	*store.Store
	hub *hub.Hub
}

var _ backend.Backend = (*Backend)(nil)

func New(s *store.Store, h *hub.Hub) *Backend {
	return &Backend{Store: s, hub: h}
}

func (b *Backend) Subscribe(ctx context.Context, sub backend.Subscription) (backend.Stream, error) {
	if _, ok := record.Lookup(sub.Table); !ok {
		return nil, fmt.Errorf("%w: %q", backend.ErrUnknownTable, sub.Table)
	}
	s, err := b.hub.Subscribe(ctx, sub.Schema, sub.Table, sub.RowID)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", sub.Table, err)
	}
	return s, nil
}
