package livequery

import (
	"context"

	"github.com/DoyleJ11/storefront-realtime/internal/backend"
	"github.com/DoyleJ11/storefront-realtime/internal/record"
)

// DocResult is the single-record counterpart of Result. Data is nil when the
// record is absent.
type DocResult[T record.Record] struct {
	Data      *T
	IsLoading bool
	Err       error
}

// Doc follows one record of T's table by id.
type Doc[T record.Record] struct {
	obs *observer[T]
	out *latest[DocResult[T]]
}

// ObserveDoc starts following id. An empty id is a valid idle state: the
// result is absent, not loading, and no backend call is made.
func ObserveDoc[T record.Record](ctx context.Context, sess *Session, id string) *Doc[T] {
	d := &Doc[T]{out: newLatest[DocResult[T]]()}
	d.obs = newObserver[T](ctx, sess, d.present)
	d.obs.finish = d.out.close
	d.obs.start(docReset(id))
	return d
}

func docReset(id string) reset {
	if id == "" {
		return reset{idle: true}
	}
	return reset{
		q:     backend.Query{Filter: &backend.Filter{Column: "id", Op: backend.OpEq, Value: id}},
		rowID: id,
	}
}

func (d *Doc[T]) present(st state[T]) {
	r := DocResult[T]{IsLoading: st.loading, Err: st.err}
	if st.snap != nil && st.snap.len() > 0 {
		rec := st.snap.items[0]
		r.Data = &rec
	}
	d.out.set(r)
}

func (d *Doc[T]) Results() <-chan DocResult[T] { return d.out.ch }

func (d *Doc[T]) Current() DocResult[T] { return d.out.get() }

// Reset follows a different id; empty goes idle.
func (d *Doc[T]) Reset(id string) {
	d.obs.send(docReset(id))
}

func (d *Doc[T]) Refetch() {
	d.obs.send(refetch{})
}

func (d *Doc[T]) Close() error {
	d.obs.stop()
	return nil
}
