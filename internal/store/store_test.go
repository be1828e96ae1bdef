package store

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoyleJ11/storefront-realtime/internal/backend"
	"github.com/DoyleJ11/storefront-realtime/internal/change"
	"github.com/DoyleJ11/storefront-realtime/internal/record"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []change.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev change.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) kinds() []change.Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := []change.Kind{}
	for _, ev := range p.events {
		out = append(out, ev.Kind)
	}
	return out
}

func openTestStore(t *testing.T) (*Store, *recordingPublisher) {
	t.Helper()
	s, err := Open(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	pub := &recordingPublisher{}
	s.SetPublisher(pub)
	return s, pub
}

func insertProduct(t *testing.T, s *Store, id, name string, price float64) {
	t.Helper()
	row, err := json.Marshal(record.Product{ID: id, Name: name, Price: price})
	require.NoError(t, err)
	_, err = s.Insert(context.Background(), "products", row)
	require.NoError(t, err)
}

func TestStore_InsertFetch_FilterAndOrder(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	insertProduct(t, s, "p1", "Mug", 12)
	insertProduct(t, s, "p2", "Plate", 4)
	insertProduct(t, s, "p3", "Bowl", 8)

	rows, err := s.Fetch(ctx, backend.Query{
		Table:  "products",
		Filter: &backend.Filter{Column: "price", Op: backend.OpGte, Value: "5"},
		Order:  &backend.Order{Column: "price", Ascending: false},
	})
	require.NoError(t, err)

	products, err := record.DecodeAll[record.Product](rows)
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, "p1", products[0].ID)
	assert.Equal(t, "p3", products[1].ID)
}

func TestStore_Fetch_EmptyIsNotNil(t *testing.T) {
	s, _ := openTestStore(t)

	rows, err := s.Fetch(context.Background(), backend.Query{Table: "orders"})
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
}

func TestStore_Fetch_RejectsUnknownTableAndColumn(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	_, err := s.Fetch(ctx, backend.Query{Table: "users"})
	assert.ErrorIs(t, err, backend.ErrUnknownTable)

	_, err = s.Fetch(ctx, backend.Query{
		Table:  "products",
		Filter: &backend.Filter{Column: "price; DROP TABLE products", Op: backend.OpEq, Value: "1"},
	})
	assert.ErrorIs(t, err, backend.ErrBadQuery)

	_, err = s.Fetch(ctx, backend.Query{Table: "products", Order: &backend.Order{Column: "nope"}})
	assert.ErrorIs(t, err, backend.ErrBadQuery)
}

func TestStore_Insert_GeneratesIDAndPublishes(t *testing.T) {
	s, pub := openTestStore(t)

	out, err := s.Insert(context.Background(), "wishlists", json.RawMessage(`{"user_id":"u1","product_id":"p1"}`))
	require.NoError(t, err)

	item, err := record.Decode[record.WishlistItem](out)
	require.NoError(t, err)
	assert.NotEmpty(t, item.ID)
	assert.Equal(t, []change.Kind{change.KindInsert}, pub.kinds())
}

func TestStore_Insert_RejectsBadRows(t *testing.T) {
	s, pub := openTestStore(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, "carts", json.RawMessage(`{"user_id":"u1","product_id":"p1","quantity":0}`))
	assert.ErrorIs(t, err, backend.ErrBadRow)

	_, err = s.Insert(ctx, "carts", json.RawMessage(`{"user_id":"u1","product_id":"p1","quantity":1,"coupon":"X"}`))
	assert.ErrorIs(t, err, backend.ErrBadRow)

	_, err = s.Insert(ctx, "carts", json.RawMessage(`not json`))
	assert.ErrorIs(t, err, backend.ErrBadRow)

	assert.Empty(t, pub.kinds())
}

func TestStore_Insert_DuplicateIDConflicts(t *testing.T) {
	s, _ := openTestStore(t)

	insertProduct(t, s, "p1", "Mug", 12)
	_, err := s.Insert(context.Background(), "products", json.RawMessage(`{"id":"p1","name":"Other"}`))
	assert.ErrorIs(t, err, backend.ErrConflict)
}

func TestStore_Update_MergesAndPublishes(t *testing.T) {
	s, pub := openTestStore(t)
	ctx := context.Background()
	insertProduct(t, s, "p1", "Mug", 12)

	out, err := s.Update(ctx, "products", "p1", json.RawMessage(`{"price":15,"stock":3}`))
	require.NoError(t, err)

	p, err := record.Decode[record.Product](out)
	require.NoError(t, err)
	assert.Equal(t, "Mug", p.Name)
	assert.Equal(t, 15.0, p.Price)
	assert.Equal(t, 3, p.Stock)
	assert.Equal(t, []change.Kind{change.KindInsert, change.KindUpdate}, pub.kinds())

	_, err = s.Update(ctx, "products", "p1", json.RawMessage(`{"id":"p2"}`))
	assert.ErrorIs(t, err, backend.ErrBadRow)

	_, err = s.Update(ctx, "products", "p1", json.RawMessage(`{"price":-1}`))
	assert.ErrorIs(t, err, backend.ErrBadRow)

	_, err = s.Update(ctx, "products", "missing", json.RawMessage(`{"price":1}`))
	assert.ErrorIs(t, err, backend.ErrNotFound)
}

func TestStore_Delete(t *testing.T) {
	s, pub := openTestStore(t)
	ctx := context.Background()
	insertProduct(t, s, "p1", "Mug", 12)

	require.NoError(t, s.Delete(ctx, "products", "p1"))
	assert.ErrorIs(t, s.Delete(ctx, "products", "p1"), backend.ErrNotFound)

	rows, err := s.Fetch(ctx, backend.Query{Table: "products"})
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Equal(t, []change.Kind{change.KindInsert, change.KindDelete}, pub.kinds())
}

func TestStore_FilterValuesFollowColumnType(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, "seller_profiles", json.RawMessage(`{"id":"s1","user_id":"u1","shop_name":"A","is_verified":true}`))
	require.NoError(t, err)
	_, err = s.Insert(ctx, "seller_profiles", json.RawMessage(`{"id":"s2","user_id":"u2","shop_name":"B"}`))
	require.NoError(t, err)

	rows, err := s.Fetch(ctx, backend.Query{
		Table:  "seller_profiles",
		Filter: &backend.Filter{Column: "is_verified", Op: backend.OpEq, Value: "true"},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	p, err := record.Decode[record.SellerProfile](rows[0])
	require.NoError(t, err)
	assert.Equal(t, "s1", p.ID)

	_, err = s.Fetch(ctx, backend.Query{
		Table:  "products",
		Filter: &backend.Filter{Column: "stock", Op: backend.OpGt, Value: "lots"},
	})
	assert.ErrorIs(t, err, backend.ErrBadQuery)
}

func TestStore_ColumnsMatchJSONNames(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, "addresses", json.RawMessage(`{"id":"a1","user_id":"u1","name":"Home","address_line_1":"1 Main St"}`))
	require.NoError(t, err)

	rows, err := s.Fetch(ctx, backend.Query{
		Table:  "addresses",
		Filter: &backend.Filter{Column: "address_line_1", Op: backend.OpEq, Value: "1 Main St"},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	a, err := record.Decode[record.Address](rows[0])
	require.NoError(t, err)
	assert.Equal(t, "a1", a.ID)
}
