package hub

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/DoyleJ11/storefront-realtime/internal/change"
	"github.com/DoyleJ11/storefront-realtime/internal/topic"
)

var ErrClosed = errors.New("hub closed")
var ErrDropped = errors.New("subscription dropped by hub")

// DefaultBuffer is the outbox size handed to topics; a subscriber that falls
// further behind than this is dropped.
const DefaultBuffer = 64

// Subscription is one live listener on a topic.
type Subscription struct {
	id     string
	tp     *topic.Topic
	events chan change.Event
	gone   chan struct{}
	closed atomic.Bool
	once   sync.Once
}

func (s *Subscription) ID() string { return s.id }

// Events is closed when the subscription ends, either through Close or
// because the hub dropped it.
func (s *Subscription) Events() <-chan change.Event { return s.events }

// Err reports why the event channel closed. It is nil while the subscription is
// live and after a caller-initiated Close.
func (s *Subscription) Err() error {
	if s.closed.Load() {
		return nil
	}
	select {
	case <-s.gone:
	default:
		return nil
	}
	select {
	case <-s.tp.Done():
		return ErrClosed
	default:
	}
	return ErrDropped
}

// Close releases the subscription. Safe to call more than once.
func (s *Subscription) Close() error {
	s.once.Do(func() {
		s.closed.Store(true)
		select {
		case s.tp.Inbox() <- topic.Leave{SubscriberID: s.id}:
		case <-s.tp.Done():
		}
	})
	return nil
}

// Subscribe joins the schema.table topic. rowID narrows delivery to a single
// row when non-empty.
func (h *Hub) Subscribe(ctx context.Context, schema, table, rowID string) (*Subscription, error) {
	reply := make(chan *topic.Topic, 1)
	if err := h.send(ctx, EnsureTopic{Name: change.TopicOf(schema, table), Reply: reply}); err != nil {
		return nil, err
	}

	var tp *topic.Topic
	select {
	case tp = <-reply:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.Done():
		return nil, ErrClosed
	}

	sub := &Subscription{
		id:     uuid.NewString(),
		tp:     tp,
		events: make(chan change.Event, DefaultBuffer),
		gone:   make(chan struct{}),
	}
	select {
	case tp.Inbox() <- topic.Join{SubscriberID: sub.id, RowID: rowID, Outbox: sub.events, Gone: sub.gone}:
	case <-tp.Done():
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return sub, nil
}

// Publish hands an event to the hub for fan-out.
func (h *Hub) Publish(ctx context.Context, ev change.Event) error {
	return h.send(ctx, Publish{Event: ev})
}

func (h *Hub) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	if err := h.send(ctx, GetStats{Reply: reply}); err != nil {
		return Stats{}, err
	}
	select {
	case st := <-reply:
		return st, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	case <-h.Done():
		return Stats{}, ErrClosed
	}
}

// DropSubscribers ends every subscription on schema.table with ErrDropped, or
// on every topic when table is empty. Used when events may have been lost.
func (h *Hub) DropSubscribers(ctx context.Context, schema, table string) error {
	name := ""
	if table != "" {
		name = change.TopicOf(schema, table)
	}
	return h.send(ctx, DropTopic{Name: name})
}

func (h *Hub) Shutdown() {
	select {
	case h.inbox <- ShutdownHub{}:
	case <-h.Done():
	}
}

func (h *Hub) send(ctx context.Context, msg HubMsg) error {
	select {
	case h.inbox <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.Done():
		return ErrClosed
	}
}

// Subscribers reports how many listeners a topic has. Topics nobody has
// subscribed to yet report zero.
func (h *Hub) Subscribers(ctx context.Context, schema, table string) (int, error) {
	reply := make(chan *topic.Topic, 1)
	if err := h.send(ctx, GetTopic{Name: change.TopicOf(schema, table), Reply: reply}); err != nil {
		return 0, err
	}
	var tp *topic.Topic
	select {
	case tp = <-reply:
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-h.Done():
		return 0, ErrClosed
	}
	if tp == nil {
		return 0, nil
	}

	view := make(chan topic.View, 1)
	select {
	case tp.Inbox() <- topic.GetState{Reply: view}:
	case <-tp.Done():
		return 0, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case v := <-view:
		return v.NumSubscribers, nil
	case <-tp.Done():
		return 0, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}
