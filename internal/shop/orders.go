package shop

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DoyleJ11/storefront-realtime/internal/backend"
	"github.com/DoyleJ11/storefront-realtime/internal/livequery"
	"github.com/DoyleJ11/storefront-realtime/internal/record"
)

// Line is one product in a new order.
type Line struct {
	ProductID string
	Quantity  int
}

type OrderDetails struct {
	Order record.Order
	Items []record.OrderItem
}

type Orders struct {
	sess *livequery.Session
	log  *zap.Logger
}

func NewOrders(sess *livequery.Session) *Orders {
	return &Orders{sess: sess, log: sess.Log().Named("orders")}
}

var newestFirst = &backend.Order{Column: "created_at", Ascending: false}

// Create writes a pending order and its items, priced from prices. Products
// missing from prices are charged at zero. addressID, when set, must be one
// of the user's addresses. If any item fails the order is
// deleted again. The cart is cleared afterwards; failing to clear it does not
// fail the order.
func (o *Orders) Create(ctx context.Context, lines []Line, prices map[string]float64, addressID string) (record.Order, error) {
	uid, err := userID(o.sess)
	if err != nil {
		return record.Order{}, err
	}
	if len(lines) == 0 {
		return record.Order{}, ErrEmptyOrder
	}
	if addressID != "" {
		if _, err := NewAddresses(o.sess).get(ctx, addressID); err != nil {
			return record.Order{}, wrap("create order", err)
		}
	}

	total := 0.0
	for _, l := range lines {
		total += prices[l.ProductID] * float64(l.Quantity)
	}

	order, err := insert(ctx, o.sess.Backend, record.Order{
		UserID:      uid,
		Status:      record.OrderPending,
		TotalAmount: total,
		AddressID:   addressID,
	})
	if err != nil {
		return record.Order{}, wrap("create order", err)
	}

	for _, l := range lines {
		_, err := insert(ctx, o.sess.Backend, record.OrderItem{
			OrderID:   order.ID,
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			Price:     prices[l.ProductID],
		})
		if err != nil {
			return record.Order{}, wrap("create order items", o.rollback(ctx, order.ID, err))
		}
	}

	if err := NewCart(o.sess).Clear(ctx); err != nil {
		o.log.Warn("clear cart after order", zap.String("order", order.ID), zap.Error(err))
	}
	return order, nil
}

// rollback removes a half-written order and whatever items made it in.
func (o *Orders) rollback(ctx context.Context, orderID string, cause error) error {
	errs := cause
	items, err := fetch[record.OrderItem](ctx, o.sess.Backend, backend.Query{
		Filter: &backend.Filter{Column: "order_id", Op: backend.OpEq, Value: orderID},
	})
	errs = multierr.Append(errs, err)
	for _, it := range items {
		errs = multierr.Append(errs, o.sess.Backend.Delete(ctx, it.TableName(), it.ID))
	}
	return multierr.Append(errs, o.sess.Backend.Delete(ctx, "orders", orderID))
}

// List returns the user's orders, newest first.
func (o *Orders) List(ctx context.Context) ([]record.Order, error) {
	uid, err := userID(o.sess)
	if err != nil {
		return nil, err
	}
	orders, err := fetch[record.Order](ctx, o.sess.Backend, backend.Query{Filter: byUser(uid), Order: newestFirst})
	return orders, wrap("list orders", err)
}

// get returns one of the user's orders; other users' orders are not found.
func (o *Orders) get(ctx context.Context, orderID string) (record.Order, error) {
	uid, err := userID(o.sess)
	if err != nil {
		return record.Order{}, err
	}
	found, err := fetch[record.Order](ctx, o.sess.Backend, backend.Query{
		Filter: &backend.Filter{Column: "id", Op: backend.OpEq, Value: orderID},
	})
	if err != nil {
		return record.Order{}, err
	}
	if len(found) == 0 || found[0].UserID != uid {
		return record.Order{}, fmt.Errorf("order %s: %w", orderID, backend.ErrNotFound)
	}
	return found[0], nil
}

func (o *Orders) Details(ctx context.Context, orderID string) (OrderDetails, error) {
	order, err := o.get(ctx, orderID)
	if err != nil {
		return OrderDetails{}, wrap("order details", err)
	}
	items, err := fetch[record.OrderItem](ctx, o.sess.Backend, backend.Query{
		Filter: &backend.Filter{Column: "order_id", Op: backend.OpEq, Value: orderID},
	})
	if err != nil {
		return OrderDetails{}, wrap("order details", err)
	}
	return OrderDetails{Order: order, Items: items}, nil
}

func (o *Orders) UpdateStatus(ctx context.Context, orderID, status string) (record.Order, error) {
	if _, err := o.get(ctx, orderID); err != nil {
		return record.Order{}, wrap("update order status", err)
	}
	order, err := update[record.Order](ctx, o.sess.Backend, orderID, map[string]any{"status": status})
	return order, wrap("update order status", err)
}

func (o *Orders) Cancel(ctx context.Context, orderID string) (record.Order, error) {
	cur, err := o.get(ctx, orderID)
	if err != nil {
		return record.Order{}, wrap("cancel order", err)
	}
	if cur.Status != record.OrderPending {
		return record.Order{}, fmt.Errorf("cancel order %s (%s): %w", orderID, cur.Status, ErrNotCancellable)
	}
	order, err := update[record.Order](ctx, o.sess.Backend, orderID, map[string]any{"status": record.OrderCancelled})
	return order, wrap("cancel order", err)
}

// Watch keeps the user's orders in sync. New orders are appended at the end
// regardless of the initial ordering.
func (o *Orders) Watch(ctx context.Context) (*livequery.Collection[record.Order], error) {
	return watchMine[record.Order](ctx, o.sess, newestFirst)
}
