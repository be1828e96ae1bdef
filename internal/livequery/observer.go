package livequery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DoyleJ11/storefront-realtime/internal/backend"
	"github.com/DoyleJ11/storefront-realtime/internal/change"
	"github.com/DoyleJ11/storefront-realtime/internal/record"
)

// maxPending bounds the events held while there is no baseline to apply
// them to. Past it the subscription is given up.
const maxPending = 1024

var errPendingOverflow = errors.New("too many events without a baseline")

type msg interface{ isObserverMsg() }

type fetched struct {
	gen, seq int
	rows     []json.RawMessage
	err      error
}

type subscribed struct {
	gen    int
	stream backend.Stream
	err    error
}

type reset struct {
	q     backend.Query
	rowID string
	idle  bool
}

type refetch struct{}

func (fetched) isObserverMsg()    {}
func (subscribed) isObserverMsg() {}
func (reset) isObserverMsg()      {}
func (refetch) isObserverMsg()    {}

// state is what an observer hands to its presenter after every change.
type state[T record.Record] struct {
	snap    *snapshot[T] // nil until a fetch has settled
	loading bool
	err     error
}

// observer owns one snapshot and its subscription. Everything below the
// "loop-owned" line is touched only by the loop goroutine.
type observer[T record.Record] struct {
	src     backend.Backend
	log     *zap.Logger
	table   string
	present func(state[T])
	finish  func()

	inbox  chan msg
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	// loop-owned
	q         backend.Query
	rowID     string
	idle      bool
	gen       int
	seq       int
	genCtx    context.Context
	genCancel context.CancelFunc
	stream    backend.Stream
	release   func()
	snap      *snapshot[T]
	pending   []change.Event
	loading   bool
	fetchErr  error
	subErr    error
	decodeErr error
}

func newObserver[T record.Record](parent context.Context, sess *Session, present func(state[T])) *observer[T] {
	var zero T
	ctx, cancel := context.WithCancel(parent)
	return &observer[T]{
		src:     sess.Backend,
		log:     sess.Log().Named("livequery"),
		table:   zero.TableName(),
		present: present,
		inbox:   make(chan msg), // unbuffered: nothing can be queued behind a stopped loop
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// start activates synchronously, so the first state is visible as soon as
// the constructor returns, then hands the observer to its loop.
func (o *observer[T]) start(first reset) {
	o.activate(first)
	go o.loop()
}

func (o *observer[T]) loop() {
	defer func() {
		if o.finish != nil {
			o.finish()
		}
		close(o.done)
	}()

	for {
		var events <-chan change.Event
		if o.stream != nil {
			events = o.stream.Events()
		}

		select {
		case <-o.ctx.Done():
			o.deactivate()
			return

		case m := <-o.inbox:
			switch m := m.(type) {
			case fetched:
				o.onFetched(m)
			case subscribed:
				o.onSubscribed(m)
			case reset:
				o.deactivate()
				o.activate(m)
			case refetch:
				o.onRefetch()
			}

		case ev, ok := <-events:
			if !ok {
				o.onStreamEnded()
				continue
			}
			o.onEvent(ev)
		}
	}
}

// send delivers a message to the loop unless the observer has stopped.
func (o *observer[T]) send(m msg) bool {
	select {
	case o.inbox <- m:
		return true
	case <-o.ctx.Done():
		return false
	}
}

func (o *observer[T]) stop() {
	o.once.Do(o.cancel)
	<-o.done
}

func (o *observer[T]) activate(r reset) {
	o.gen++
	o.q, o.rowID, o.idle = r.q, r.rowID, r.idle
	o.snap, o.pending = nil, nil
	o.fetchErr, o.subErr, o.decodeErr = nil, nil, nil

	if o.idle {
		o.loading = false
		o.emit()
		return
	}

	o.q.Schema = o.q.SchemaOrDefault()
	if o.q.Table == "" {
		o.q.Table = o.table
	}
	err := o.q.Validate()
	if err == nil && o.q.Table != o.table {
		err = fmt.Errorf("%w: %s rows cannot be read as %s", backend.ErrBadQuery, o.q.Table, o.table)
	}
	if err != nil {
		o.loading = false
		o.snap = newSnapshot[T](nil)
		o.fetchErr = fmt.Errorf("%w: %w", ErrFetch, err)
		o.emit()
		return
	}

	o.genCtx, o.genCancel = context.WithCancel(o.ctx)
	o.loading = true
	o.emit()

	o.log.Debug("activate", zap.String("table", o.q.Table), zap.String("row", o.rowID), zap.Int("gen", o.gen))
	go o.subscribe(o.genCtx, o.gen, backend.Subscription{Schema: o.q.Schema, Table: o.q.Table, RowID: o.rowID})
	o.startFetch()
}

// deactivate tears down the current generation. In-flight fetches and
// subscriptions from it are discarded when they report back.
func (o *observer[T]) deactivate() {
	if o.genCancel != nil {
		o.genCancel()
		o.genCtx, o.genCancel = nil, nil
	}
	if o.release != nil {
		o.release()
		o.release = nil
	}
	o.stream = nil
}

func (o *observer[T]) subscribe(ctx context.Context, gen int, sub backend.Subscription) {
	stream, err := o.src.Subscribe(ctx, sub)
	if !o.send(subscribed{gen: gen, stream: stream, err: err}) && stream != nil {
		_ = stream.Close()
	}
}

func (o *observer[T]) startFetch() {
	o.seq++
	ctx, gen, seq, q := o.genCtx, o.gen, o.seq, o.q
	go func() {
		rows, err := o.src.Fetch(ctx, q)
		o.send(fetched{gen: gen, seq: seq, rows: rows, err: err})
	}()
}

func (o *observer[T]) onSubscribed(m subscribed) {
	if m.gen != o.gen {
		if m.stream != nil {
			_ = m.stream.Close()
		}
		return
	}
	if m.err != nil {
		o.subErr = fmt.Errorf("%w: %w", ErrSubscription, m.err)
		o.log.Warn("subscribe failed", zap.String("table", o.q.Table), zap.Error(m.err))
		o.emit()
		return
	}

	var once sync.Once
	stream := m.stream
	o.stream = stream
	o.release = func() { once.Do(func() { _ = stream.Close() }) }
}

func (o *observer[T]) onStreamEnded() {
	err := o.stream.Err()
	if err == nil {
		err = errors.New("stream closed by backend")
	}
	o.release()
	o.release, o.stream = nil, nil
	o.subErr = fmt.Errorf("%w: %w", ErrSubscription, err)
	o.log.Warn("subscription ended", zap.String("table", o.q.Table), zap.Error(err))
	o.emit()
}

// overflow drops the buffered events and the stream they came from. The
// snapshot can no longer be brought up to date, so it is reported as a
// subscription failure.
func (o *observer[T]) overflow() {
	o.release()
	o.release, o.stream = nil, nil
	o.pending = nil
	o.subErr = fmt.Errorf("%w: %w", ErrSubscription, errPendingOverflow)
	o.log.Warn("pending events overflowed", zap.String("table", o.q.Table), zap.Int("limit", maxPending))
	o.emit()
}

func (o *observer[T]) onFetched(m fetched) {
	if m.gen != o.gen || m.seq != o.seq {
		o.log.Debug("discarding stale fetch", zap.Int("gen", m.gen), zap.Int("seq", m.seq))
		return
	}
	o.loading = false

	var items []T
	err := m.err
	if err == nil {
		items, err = record.DecodeAll[T](m.rows)
	}
	if err != nil {
		// Nothing partial: the snapshot stays empty and buffered events wait
		// for the next successful fetch.
		o.snap = newSnapshot[T](nil)
		o.fetchErr = fmt.Errorf("%w: %w", ErrFetch, err)
		o.emit()
		return
	}

	o.fetchErr = nil
	o.snap = newSnapshot(items)
	pending := o.pending
	o.pending = nil
	for _, ev := range pending {
		o.apply(ev)
	}
	o.emit()
}

func (o *observer[T]) onRefetch() {
	if o.idle || o.loading || o.genCtx == nil {
		return
	}
	o.loading = true
	o.fetchErr = nil
	o.snap = nil
	o.emit()
	o.startFetch()
}

func (o *observer[T]) onEvent(ev change.Event) {
	if ev.Table != o.q.Table || (o.rowID != "" && ev.ID != o.rowID) {
		return
	}
	if o.snap == nil || o.loading || o.fetchErr != nil {
		// No baseline yet: keep the event for replay.
		if len(o.pending) >= maxPending {
			o.overflow()
			return
		}
		o.pending = append(o.pending, ev)
		return
	}
	if o.apply(ev) {
		o.emit()
	}
}

// apply runs the upsert/delete rule against the current snapshot.
func (o *observer[T]) apply(ev change.Event) bool {
	switch ev.Kind {
	case change.KindDelete:
		return o.snap.remove(ev.ID)

	case change.KindInsert, change.KindUpdate:
		rec, err := record.Decode[T](ev.Row)
		if err != nil {
			o.decodeErr = err
			o.log.Warn("rejecting change event", zap.String("table", ev.Table), zap.String("id", ev.ID), zap.Error(err))
			return true
		}
		if !o.q.Filter.Match(ev.Row) {
			// the row no longer belongs to this result set
			return o.snap.remove(rec.RecordID())
		}
		return o.snap.upsert(rec)
	}
	return false
}

func (o *observer[T]) emit() {
	st := state[T]{snap: o.snap, loading: o.loading}
	if !o.loading {
		st.err = multierr.Combine(o.fetchErr, o.subErr, o.decodeErr)
	}
	o.present(st)
}
