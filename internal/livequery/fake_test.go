package livequery

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/storefront-realtime/internal/backend"
	"github.com/DoyleJ11/storefront-realtime/internal/change"
)

type fetchReply struct {
	rows []json.RawMessage
	err  error
}

// pendingFetch is one Fetch call the test resolves by hand.
type pendingFetch struct {
	q     backend.Query
	reply chan fetchReply
}

func (p *pendingFetch) resolve(rows ...string) {
	out := make([]json.RawMessage, 0, len(rows))
	for _, r := range rows {
		out = append(out, json.RawMessage(r))
	}
	p.reply <- fetchReply{rows: out}
}

func (p *pendingFetch) fail(err error) { p.reply <- fetchReply{err: err} }

type fakeStream struct {
	sub    backend.Subscription
	events chan change.Event
	closes atomic.Int32
	once   sync.Once
	mu     sync.Mutex
	err    error
}

func (s *fakeStream) Events() <-chan change.Event { return s.events }

func (s *fakeStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeStream) Close() error {
	s.closes.Add(1)
	s.once.Do(func() { close(s.events) })
	return nil
}

// drop ends the stream from the backend side.
func (s *fakeStream) drop(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.once.Do(func() { close(s.events) })
}

// push delivers an event and waits until the observer has taken it.
func (s *fakeStream) push(t *testing.T, ev change.Event) {
	t.Helper()
	s.events <- ev
	require.Eventually(t, func() bool { return len(s.events) == 0 }, time.Second, time.Millisecond)
}

type fakeBackend struct {
	fetches    chan *pendingFetch
	streams    chan *fakeStream
	fetchCalls atomic.Int32
	subCalls   atomic.Int32
	subErr     error
	// ignoreCtx makes Fetch resolve only when the test says so, even after
	// the observer cancelled it.
	ignoreCtx bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		fetches: make(chan *pendingFetch, 16),
		streams: make(chan *fakeStream, 16),
	}
}

func (b *fakeBackend) Fetch(ctx context.Context, q backend.Query) ([]json.RawMessage, error) {
	b.fetchCalls.Add(1)
	pf := &pendingFetch{q: q, reply: make(chan fetchReply, 1)}
	b.fetches <- pf
	if b.ignoreCtx {
		r := <-pf.reply
		return r.rows, r.err
	}
	select {
	case r := <-pf.reply:
		return r.rows, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *fakeBackend) Subscribe(_ context.Context, sub backend.Subscription) (backend.Stream, error) {
	b.subCalls.Add(1)
	if b.subErr != nil {
		return nil, b.subErr
	}
	s := &fakeStream{sub: sub, events: make(chan change.Event, 16)}
	b.streams <- s
	return s, nil
}

var errReadOnly = errors.New("fake backend is read-only")

func (b *fakeBackend) Insert(context.Context, string, json.RawMessage) (json.RawMessage, error) {
	return nil, errReadOnly
}

func (b *fakeBackend) Update(context.Context, string, string, json.RawMessage) (json.RawMessage, error) {
	return nil, errReadOnly
}

func (b *fakeBackend) Delete(context.Context, string, string) error { return errReadOnly }

func (b *fakeBackend) nextFetch(t *testing.T) *pendingFetch {
	t.Helper()
	select {
	case pf := <-b.fetches:
		return pf
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for fetch")
		return nil // unreachable
	}
}

func (b *fakeBackend) nextStream(t *testing.T) *fakeStream {
	t.Helper()
	select {
	case s := <-b.streams:
		return s
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for subscription")
		return nil // unreachable
	}
}
