package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/DoyleJ11/storefront-realtime/internal/backend"
	"github.com/DoyleJ11/storefront-realtime/internal/change"
	"github.com/DoyleJ11/storefront-realtime/internal/hub"
)

// TypeReady marks the first frame on a realtime connection. It is sent once
// the subscription is live; every later frame is a change event.
const TypeReady = "READY"

// Close reasons the server uses when it ends a subscription.
const (
	ReasonDropped  = "subscription dropped"
	ReasonShutdown = "server shutting down"
)

const writeTimeout = 3 * time.Second

type Ready struct {
	Type  string `json:"type"`
	Topic string `json:"topic"`
}

// Handler streams change events for ?table=...&schema=...&id=... to a
// websocket client.
func Handler(sub backend.Subscriber, log *zap.Logger) http.HandlerFunc {
	log = log.Named("ws")
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		table := q.Get("table")
		if table == "" {
			http.Error(w, "missing table", http.StatusBadRequest)
			return
		}
		s := backend.Subscription{Schema: q.Get("schema"), Table: table, RowID: q.Get("id")}

		stream, err := sub.Subscribe(r.Context(), s)
		if err != nil {
			status := http.StatusServiceUnavailable
			if errors.Is(err, backend.ErrUnknownTable) {
				status = http.StatusNotFound
			}
			http.Error(w, err.Error(), status)
			return
		}
		defer stream.Close()

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			log.Debug("accept failed", zap.Error(err))
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		topic := change.TopicOf(s.Schema, s.Table)
		ready, _ := json.Marshal(Ready{Type: TypeReady, Topic: topic})
		if err := write(r.Context(), conn, ready); err != nil {
			return
		}
		log.Debug("subscribed", zap.String("topic", topic), zap.String("row", s.RowID))

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for ev := range stream.Events() {
				payload, err := json.Marshal(ev)
				if err != nil {
					log.Error("encode event", zap.Error(err))
					continue
				}
				if err := write(writeCtx, conn, payload); err != nil {
					_ = conn.Close(websocket.StatusGoingAway, "write failed")
					return
				}
			}
			if writeCtx.Err() != nil {
				return
			}
			reason := ReasonDropped
			if err := stream.Err(); err == nil || errors.Is(err, hub.ErrClosed) {
				reason = ReasonShutdown
			}
			log.Info("closing realtime connection", zap.String("topic", topic), zap.String("reason", reason))
			_ = conn.Close(websocket.StatusTryAgainLater, reason)
		}()

		// Reader loop. Clients have nothing to say; reading only notices the close.
		for {
			_, _, err := conn.Read(r.Context())
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					log.Debug("read ended", zap.String("topic", topic), zap.Error(err))
				}
				return
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, payload)
}
