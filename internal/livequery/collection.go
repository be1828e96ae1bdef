package livequery

import (
	"context"
	"sync"

	"github.com/DoyleJ11/storefront-realtime/internal/backend"
	"github.com/DoyleJ11/storefront-realtime/internal/record"
)

// Result is what a collection observer exposes. Data is nil while there is
// nothing to show (loading, idle) and an empty slice after a failed fetch.
// IsLoading and a non-nil Err never appear together.
type Result[T record.Record] struct {
	Data      []T
	IsLoading bool
	Err       error
}

// Collection keeps a local snapshot of every row matching a query in sync
// with the backend.
type Collection[T record.Record] struct {
	obs *observer[T]
	out *latest[Result[T]]
}

// Observe starts observing q. An empty q.Table means T's own table.
func Observe[T record.Record](ctx context.Context, sess *Session, q backend.Query) *Collection[T] {
	c := &Collection[T]{out: newLatest[Result[T]]()}
	c.obs = newObserver[T](ctx, sess, c.present)
	c.obs.finish = c.out.close
	c.obs.start(reset{q: q})
	return c
}

func (c *Collection[T]) present(st state[T]) {
	r := Result[T]{IsLoading: st.loading, Err: st.err}
	if st.snap != nil {
		r.Data = st.snap.records()
	}
	c.out.set(r)
}

// Results yields the latest result whenever it changes. Intermediate results
// may be skipped by a slow reader; the last one never is. The channel closes
// when the observer stops.
func (c *Collection[T]) Results() <-chan Result[T] { return c.out.ch }

func (c *Collection[T]) Current() Result[T] { return c.out.get() }

// Reset switches to a new query. The old subscription is released before the
// new one is opened and nothing from the old query reaches the new snapshot.
func (c *Collection[T]) Reset(q backend.Query) {
	c.obs.send(reset{q: q})
}

// Refetch retries the initial load, typically after ErrFetch.
func (c *Collection[T]) Refetch() {
	c.obs.send(refetch{})
}

// Close stops the observer. When it returns, the snapshot will not change
// again and the subscription has been released.
func (c *Collection[T]) Close() error {
	c.obs.stop()
	return nil
}

// latest is a single-slot mailbox that always holds the newest value.
type latest[R any] struct {
	mu     sync.Mutex
	cur    R
	ch     chan R
	closed bool
}

func newLatest[R any]() *latest[R] {
	return &latest[R]{ch: make(chan R, 1)}
}

// set must only be called from one goroutine.
func (l *latest[R]) set(r R) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.cur = r
	select {
	case <-l.ch:
	default:
	}
	l.ch <- r
}

func (l *latest[R]) get() R {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cur
}

func (l *latest[R]) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.ch)
	}
}
