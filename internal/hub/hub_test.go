package hub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoyleJ11/storefront-realtime/internal/change"
	"github.com/DoyleJ11/storefront-realtime/internal/topic"
)

func recvEvent(t *testing.T, ch <-chan change.Event, within time.Duration) change.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "subscription closed unexpectedly")
		return ev
	case <-time.After(within):
		t.Fatalf("timed out waiting for event")
		return change.Event{} // unreachable
	}
}

func waitClosed(t *testing.T, ch <-chan change.Event, within time.Duration) {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("expected subscription to close within %v", within)
		}
	}
}

func TestHub_EnsureGet_SamePointer(t *testing.T) {
	ctx := context.Background()
	h := NewHub(ctx, zap.NewNop())
	defer h.Shutdown()
	reply := make(chan *topic.Topic, 1)

	h.Inbox() <- EnsureTopic{Name: "public.products", Reply: reply}
	tp1 := <-reply

	h.Inbox() <- GetTopic{Name: "public.products", Reply: reply}
	tp2 := <-reply

	if tp1 == nil || tp2 == nil || tp1 != tp2 {
		t.Fatalf("expected same topic pointer")
	}

	h.Inbox() <- GetTopic{Name: "public.orders", Reply: reply}
	if tp := <-reply; tp != nil {
		t.Fatalf("expected no topic before anyone subscribed")
	}
}

func TestHub_SubscribePublish(t *testing.T) {
	ctx := context.Background()
	h := NewHub(ctx, zap.NewNop())
	defer h.Shutdown()

	sub, err := h.Subscribe(ctx, "", "carts", "")
	require.NoError(t, err)
	defer sub.Close()

	row := json.RawMessage(`{"id":"c1","user_id":"u1","product_id":"p1","quantity":1}`)
	require.NoError(t, h.Publish(ctx, change.Inserted("carts", row)))
	require.NoError(t, h.Publish(ctx, change.Inserted("products", json.RawMessage(`{"id":"p1"}`))))

	ev := recvEvent(t, sub.Events(), 100*time.Millisecond)
	assert.Equal(t, "c1", ev.ID)

	st, err := h.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Topics)
	assert.Equal(t, 1, st.Published)
	assert.Equal(t, 1, st.Dropped)
}

func TestHub_Close_IsCleanAndIdempotent(t *testing.T) {
	ctx := context.Background()
	h := NewHub(ctx, zap.NewNop())
	defer h.Shutdown()

	sub, err := h.Subscribe(ctx, "public", "orders", "o1")
	require.NoError(t, err)

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	waitClosed(t, sub.Events(), 100*time.Millisecond)
	assert.NoError(t, sub.Err())
}

func TestHub_SlowSubscriberReportsDropped(t *testing.T) {
	ctx := context.Background()
	h := NewHub(ctx, zap.NewNop())
	defer h.Shutdown()

	sub, err := h.Subscribe(ctx, "", "products", "")
	require.NoError(t, err)

	for i := 0; i <= DefaultBuffer; i++ {
		require.NoError(t, h.Publish(ctx, change.Updated("products", json.RawMessage(`{"id":"p1"}`))))
	}

	waitClosed(t, sub.Events(), time.Second)
	assert.ErrorIs(t, sub.Err(), ErrDropped)
}

func TestHub_Shutdown_EndsSubscriptions(t *testing.T) {
	ctx := context.Background()
	h := NewHub(ctx, zap.NewNop())

	sub, err := h.Subscribe(ctx, "", "products", "")
	require.NoError(t, err)

	h.Shutdown()
	waitClosed(t, sub.Events(), 200*time.Millisecond)
	assert.ErrorIs(t, sub.Err(), ErrClosed)

	_, err = h.Subscribe(ctx, "", "products", "")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestHub_Subscribers(t *testing.T) {
	ctx := context.Background()
	h := NewHub(ctx, zap.NewNop())
	defer h.Shutdown()

	n, err := h.Subscribers(ctx, "public", "orders")
	require.NoError(t, err)
	assert.Zero(t, n)

	a, err := h.Subscribe(ctx, "public", "orders", "")
	require.NoError(t, err)
	b, err := h.Subscribe(ctx, "", "orders", "o1")
	require.NoError(t, err)

	n, err = h.Subscribers(ctx, "public", "orders")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, a.Close())
	require.NoError(t, b.Close())
	n, err = h.Subscribers(ctx, "public", "orders")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestHub_ErrIsNilWhileLive(t *testing.T) {
	ctx := context.Background()
	h := NewHub(ctx, zap.NewNop())
	defer h.Shutdown()

	sub, err := h.Subscribe(ctx, "", "products", "")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, h.Publish(ctx, change.Inserted("products", json.RawMessage(`{"id":"p1"}`))))
	recvEvent(t, sub.Events(), time.Second)
	assert.NoError(t, sub.Err())
}

func TestHub_DropSubscribers(t *testing.T) {
	ctx := context.Background()
	h := NewHub(ctx, zap.NewNop())
	defer h.Shutdown()

	products, err := h.Subscribe(ctx, "", "products", "")
	require.NoError(t, err)
	carts, err := h.Subscribe(ctx, "", "carts", "")
	require.NoError(t, err)
	defer carts.Close()

	require.NoError(t, h.DropSubscribers(ctx, "public", "products"))
	waitClosed(t, products.Events(), time.Second)
	assert.ErrorIs(t, products.Err(), ErrDropped)
	assert.NoError(t, carts.Err())

	require.NoError(t, h.DropSubscribers(ctx, "", ""))
	waitClosed(t, carts.Events(), time.Second)
	assert.ErrorIs(t, carts.Err(), ErrDropped)

	// the topic survives and takes new subscribers
	again, err := h.Subscribe(ctx, "", "products", "")
	require.NoError(t, err)
	defer again.Close()
	require.NoError(t, h.Publish(ctx, change.Inserted("products", json.RawMessage(`{"id":"p2"}`))))
	assert.Equal(t, "p2", recvEvent(t, again.Events(), time.Second).ID)
}

func TestHub_SubscribersAfterShutdown(t *testing.T) {
	h := NewHub(context.Background(), zap.NewNop())
	h.Shutdown()

	done := make(chan error, 1)
	go func() {
		_, err := h.Subscribers(context.Background(), "public", "products")
		done <- err
	}()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatalf("Subscribers blocked after shutdown")
	}
}
