package hub

import (
	"context"

	"go.uber.org/zap"

	"github.com/DoyleJ11/storefront-realtime/internal/change"
	"github.com/DoyleJ11/storefront-realtime/internal/topic"
)

type HubMsg interface{ isHubMsg() }

// EnsureTopic returns the topic for Name, creating it if needed.
type EnsureTopic struct {
	Name  string
	Reply chan *topic.Topic
}

type GetTopic struct {
	Name  string
	Reply chan *topic.Topic
}

// Publish forwards an event to its topic. Events for topics nobody ever
// subscribed to are dropped.
type Publish struct {
	Event change.Event
}

type GetStats struct {
	Reply chan Stats
}

// DropTopic drops every subscriber of Name, or of all topics when Name is
// empty.
type DropTopic struct {
	Name string
}

type ShutdownHub struct{}

type Stats struct {
	Topics    int
	Published int
	Dropped   int
}

func (EnsureTopic) isHubMsg() {}
func (GetTopic) isHubMsg()    {}
func (Publish) isHubMsg()     {}
func (GetStats) isHubMsg()    {}
func (DropTopic) isHubMsg()   {}
func (ShutdownHub) isHubMsg() {}

type Hub struct {
	inbox     chan HubMsg
	topics    map[string]*topic.Topic
	published int
	dropped   int
	log       *zap.Logger
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewHub(parent context.Context, log *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:  make(chan HubMsg, 64),
		topics: make(map[string]*topic.Topic),
		log:    log.Named("hub"),
		ctx:    ctx,
		cancel: cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) Done() <-chan struct{} { return h.ctx.Done() }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case EnsureTopic:
				if tp := h.topics[msg.Name]; tp != nil {
					msg.Reply <- tp
					break
				}
				tp := topic.NewTopic(h.ctx, msg.Name, h.log)
				h.topics[msg.Name] = tp
				msg.Reply <- tp

			case GetTopic:
				msg.Reply <- h.topics[msg.Name] // May be nil

			case Publish:
				tp := h.topics[msg.Event.Topic()]
				if tp == nil {
					h.dropped++
					break
				}
				h.published++
				select {
				case tp.Inbox() <- topic.Publish{Event: msg.Event}:
				case <-tp.Done():
					delete(h.topics, msg.Event.Topic())
				}

			case DropTopic:
				for name, tp := range h.topics {
					if msg.Name != "" && name != msg.Name {
						continue
					}
					select {
					case tp.Inbox() <- topic.DropAll{}:
					case <-tp.Done():
						delete(h.topics, name)
					}
				}

			case GetStats:
				msg.Reply <- Stats{Topics: len(h.topics), Published: h.published, Dropped: h.dropped}

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) shutdown() {
	for name, tp := range h.topics {
		select {
		case tp.Inbox() <- topic.Shutdown{}:
		case <-tp.Done():
		}
		delete(h.topics, name)
	}
	h.cancel()
}
