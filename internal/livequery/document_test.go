package livequery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoyleJ11/storefront-realtime/internal/backend"
	"github.com/DoyleJ11/storefront-realtime/internal/change"
	"github.com/DoyleJ11/storefront-realtime/internal/record"
)

func waitDoc(t *testing.T, d *Doc[record.Product], ok func(DocResult[record.Product]) bool) DocResult[record.Product] {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case r, open := <-d.Results():
			require.True(t, open, "results closed before expected result")
			require.False(t, r.IsLoading && r.Err != nil, "loading and failed at once")
			if ok(r) {
				return r
			}
		case <-deadline:
			t.Fatalf("timed out waiting for doc result; current: %+v", d.Current())
			return DocResult[record.Product]{} // unreachable
		}
	}
}

func newTestDoc(t *testing.T, fb *fakeBackend, id string) *Doc[record.Product] {
	t.Helper()
	d := ObserveDoc[record.Product](context.Background(), NewSession("u1", fb, zap.NewNop()), id)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestDoc_EmptyIDIsIdleWithoutBackendCalls(t *testing.T) {
	fb := newFakeBackend()
	d := newTestDoc(t, fb, "")

	assert.Equal(t, DocResult[record.Product]{}, d.Current())

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, fb.fetchCalls.Load())
	assert.Zero(t, fb.subCalls.Load())

	// refetching nothing is still nothing
	d.Refetch()
	assert.Zero(t, fb.fetchCalls.Load())
}

func TestDoc_FollowsUpdatesAndDelete(t *testing.T) {
	fb := newFakeBackend()
	d := newTestDoc(t, fb, "1")
	pf, s := fb.nextFetch(t), fb.nextStream(t)

	assert.Equal(t, &backend.Filter{Column: "id", Op: backend.OpEq, Value: "1"}, pf.q.Filter)
	assert.Equal(t, "1", s.sub.RowID)
	assert.True(t, d.Current().IsLoading)

	pf.resolve(productRow("1", "A"))
	r := waitDoc(t, d, func(r DocResult[record.Product]) bool { return r.Data != nil })
	assert.Equal(t, "A", r.Data.Name)

	s.push(t, updated("1", "A2"))
	r = waitDoc(t, d, func(r DocResult[record.Product]) bool { return r.Data != nil && r.Data.Name == "A2" })
	assert.NoError(t, r.Err)

	// events for other rows never touch this doc
	s.push(t, updated("2", "B"))
	assert.Equal(t, "A2", d.Current().Data.Name)

	s.push(t, change.Deleted("products", "1"))
	r = waitDoc(t, d, func(r DocResult[record.Product]) bool { return r.Data == nil })
	assert.False(t, r.IsLoading)
	assert.NoError(t, r.Err)
}

func TestDoc_MissingRowIsAbsentNotError(t *testing.T) {
	fb := newFakeBackend()
	d := newTestDoc(t, fb, "404")

	fb.nextFetch(t).resolve()
	r := waitDoc(t, d, func(r DocResult[record.Product]) bool { return !r.IsLoading })
	assert.Nil(t, r.Data)
	assert.NoError(t, r.Err)
}

func TestDoc_ResetToEmptyReleasesSubscription(t *testing.T) {
	fb := newFakeBackend()
	d := newTestDoc(t, fb, "1")
	pf, s := fb.nextFetch(t), fb.nextStream(t)

	pf.resolve(productRow("1", "A"))
	waitDoc(t, d, func(r DocResult[record.Product]) bool { return r.Data != nil })
	s.push(t, updated("1", "A1"))

	d.Reset("")
	r := waitDoc(t, d, func(r DocResult[record.Product]) bool { return r.Data == nil })
	assert.False(t, r.IsLoading)
	assert.Equal(t, int32(1), s.closes.Load())
	assert.Equal(t, int32(1), fb.fetchCalls.Load())
	assert.Equal(t, int32(1), fb.subCalls.Load())
}
