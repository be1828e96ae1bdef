package local

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoyleJ11/storefront-realtime/internal/backend"
	"github.com/DoyleJ11/storefront-realtime/internal/change"
	"github.com/DoyleJ11/storefront-realtime/internal/hub"
	"github.com/DoyleJ11/storefront-realtime/internal/store"
)

func TestLocal_WritesReachSubscribers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := store.Open(":memory:", zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	h := hub.NewHub(ctx, zap.NewNop())
	s.SetPublisher(h)
	b := New(s, h)

	stream, err := b.Subscribe(ctx, backend.Subscription{Table: "orders"})
	require.NoError(t, err)
	defer stream.Close()

	_, err = b.Insert(ctx, "orders", json.RawMessage(`{"id":"o1","user_id":"u1","status":"pending","total_amount":10}`))
	require.NoError(t, err)

	select {
	case ev := <-stream.Events():
		assert.Equal(t, change.KindInsert, ev.Kind)
		assert.Equal(t, "o1", ev.ID)
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for insert event")
	}

	_, err = b.Subscribe(ctx, backend.Subscription{Table: "users"})
	assert.ErrorIs(t, err, backend.ErrUnknownTable)
}
