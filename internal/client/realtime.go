package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/DoyleJ11/storefront-realtime/internal/backend"
	"github.com/DoyleJ11/storefront-realtime/internal/change"
	"github.com/DoyleJ11/storefront-realtime/internal/httpapi"
	"github.com/DoyleJ11/storefront-realtime/internal/ws"
)

// ErrDisconnected is what a stream reports when the server side went away.
var ErrDisconnected = errors.New("realtime connection lost")

const readLimit = 1 << 20

// Subscribe opens a realtime connection and returns once the server reports
// the subscription live.
func (c *Client) Subscribe(ctx context.Context, sub backend.Subscription) (backend.Stream, error) {
	// the websocket dialer refuses clients with a Timeout set
	hc := *c.http
	hc.Timeout = 0
	conn, resp, err := websocket.Dial(ctx, c.realtimeURL(sub), &websocket.DialOptions{HTTPClient: &hc})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("subscribe %s: %w", sub.Table, backend.ErrUnknownTable)
		}
		return nil, fmt.Errorf("subscribe %s: %w", sub.Table, err)
	}
	conn.SetReadLimit(readLimit)

	_, data, err := conn.Read(ctx)
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "no ready frame")
		return nil, fmt.Errorf("subscribe %s: %w", sub.Table, err)
	}
	var ready ws.Ready
	if err := json.Unmarshal(data, &ready); err != nil || ready.Type != ws.TypeReady {
		_ = conn.Close(websocket.StatusProtocolError, "expected ready frame")
		return nil, fmt.Errorf("subscribe %s: unexpected first frame %q", sub.Table, data)
	}

	readCtx, cancel := context.WithCancel(context.Background())
	s := &stream{
		conn:   conn,
		events: make(chan change.Event, 16),
		cancel: cancel,
		done:   make(chan struct{}),
		log:    c.log.With(zap.String("topic", ready.Topic)),
	}
	go s.read(readCtx)
	return s, nil
}

func (c *Client) realtimeURL(sub backend.Subscription) string {
	u := *c.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path += httpapi.RealtimePath

	q := url.Values{}
	q.Set("table", sub.Table)
	if sub.Schema != "" {
		q.Set("schema", sub.Schema)
	}
	if sub.RowID != "" {
		q.Set("id", sub.RowID)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

type stream struct {
	conn   *websocket.Conn
	events chan change.Event
	cancel context.CancelFunc
	done   chan struct{}
	log    *zap.Logger

	closed atomic.Bool
	once   sync.Once

	mu  sync.Mutex
	err error
}

func (s *stream) Events() <-chan change.Event { return s.events }

func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *stream) Close() error {
	s.once.Do(func() {
		s.closed.Store(true)
		_ = s.conn.Close(websocket.StatusNormalClosure, "")
		s.cancel()
	})
	<-s.done
	return nil
}

func (s *stream) read(ctx context.Context) {
	defer close(s.done)
	defer close(s.events)

	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			if !s.closed.Load() {
				s.fail(err)
			}
			return
		}

		// A frame that does not decode ends the stream: the caller's view of
		// the table can no longer be trusted.
		var ev change.Event
		if err := ev.UnmarshalJSON(data); err != nil {
			s.log.Warn("malformed realtime frame", zap.Error(err))
			s.setErr(fmt.Errorf("realtime frame: %w", err))
			_ = s.conn.Close(websocket.StatusUnsupportedData, "malformed event")
			return
		}
		select {
		case s.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func (s *stream) fail(err error) {
	if reason := closeReason(err); reason != "" {
		s.setErr(fmt.Errorf("%w: %s", ErrDisconnected, reason))
		return
	}
	s.setErr(fmt.Errorf("%w: %v", ErrDisconnected, err))
}

func (s *stream) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func closeReason(err error) string {
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Reason
	}
	return ""
}
