package topic

import (
	"context"

	"go.uber.org/zap"

	"github.com/DoyleJ11/storefront-realtime/internal/change"
)

type Msg interface{ isTopicMsg() }

type Join struct {
	SubscriberID string
	RowID        string            // optional: only deliver events for this row
	Outbox       chan change.Event // where this subscriber wants to receive events
	Gone         chan struct{}     // optional: closed just before Outbox when the topic removes the subscriber
}

func (Join) isTopicMsg() {}

// Leave removes a subscriber and closes its outbox.
type Leave struct{ SubscriberID string }

func (Leave) isTopicMsg() {}

type Publish struct {
	Event change.Event
}

func (Publish) isTopicMsg() {}

// DropAll removes every subscriber as if each had fallen behind. The topic
// keeps running.
type DropAll struct{}

func (DropAll) isTopicMsg() {}

type Shutdown struct{}

func (Shutdown) isTopicMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isTopicMsg() {}

type View struct {
	Name           string
	Published      int
	NumSubscribers int
}

type subscriber struct {
	rowID  string
	outbox chan change.Event
	gone   chan struct{}
}

func (s subscriber) close() {
	if s.gone != nil {
		close(s.gone)
	}
	close(s.outbox)
}

type Topic struct {
	name        string
	inbox       chan Msg
	published   int
	subscribers map[string]subscriber
	log         *zap.Logger
	ctx         context.Context
	cancel      context.CancelFunc
}

func NewTopic(parent context.Context, name string, log *zap.Logger) *Topic {
	ctx, cancel := context.WithCancel(parent)

	t := &Topic{
		name:        name,
		inbox:       make(chan Msg, 64),
		subscribers: make(map[string]subscriber),
		log:         log.With(zap.String("topic", name)),
		ctx:         ctx,
		cancel:      cancel,
	}

	go t.loop()
	return t
}

func (t *Topic) loop() {
	for {
		select {
		case <-t.ctx.Done():
			t.shutdown()
			return

		case m := <-t.inbox:
			switch msg := m.(type) {
			case Join:
				t.subscribers[msg.SubscriberID] = subscriber{rowID: msg.RowID, outbox: msg.Outbox, gone: msg.Gone}
				t.log.Debug("subscriber joined", zap.String("subscriber", msg.SubscriberID), zap.String("row", msg.RowID))

			case Leave:
				if sub, ok := t.subscribers[msg.SubscriberID]; ok {
					sub.close()
					delete(t.subscribers, msg.SubscriberID)
				}

			case Publish:
				t.published++
				t.broadcast(msg.Event)

			case DropAll:
				for id, sub := range t.subscribers {
					sub.close()
					delete(t.subscribers, id)
				}
				t.log.Warn("dropped all subscribers")

			case GetState:
				msg.Reply <- View{
					Name:           t.name,
					Published:      t.published,
					NumSubscribers: len(t.subscribers),
				}

			case Shutdown:
				t.shutdown()
				return
			}
		}
	}
}

func (t *Topic) shutdown() {
	// Done must be observable before any outbox closes so subscribers can tell
	// a shutdown from being dropped.
	t.cancel()
	for id, sub := range t.subscribers {
		sub.close()
		delete(t.subscribers, id)
	}
}

func (t *Topic) broadcast(ev change.Event) {
	for id, sub := range t.subscribers {
		if sub.rowID != "" && sub.rowID != ev.ID {
			continue
		}
		select {
		case sub.outbox <- ev:
			// ok
		default:
			// Subscriber is slow/full - drop them. Closing the outbox is how
			// they find out.
			t.log.Warn("dropping slow subscriber", zap.String("subscriber", id))
			sub.close()
			delete(t.subscribers, id)
		}
	}
}

// Inbox is exposed so the hub, the ws layer and tests can send messages.
func (t *Topic) Inbox() chan<- Msg { return t.inbox }

// Done is closed once the topic has stopped processing messages.
func (t *Topic) Done() <-chan struct{} { return t.ctx.Done() }

func (t *Topic) Name() string { return t.name }
