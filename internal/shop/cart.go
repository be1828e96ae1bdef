package shop

import (
	"context"

	"go.uber.org/multierr"

	"github.com/DoyleJ11/storefront-realtime/internal/backend"
	"github.com/DoyleJ11/storefront-realtime/internal/livequery"
	"github.com/DoyleJ11/storefront-realtime/internal/record"
)

type Cart struct {
	sess *livequery.Session
}

func NewCart(sess *livequery.Session) *Cart {
	return &Cart{sess: sess}
}

func (c *Cart) Items(ctx context.Context) ([]record.CartItem, error) {
	uid, err := userID(c.sess)
	if err != nil {
		return nil, err
	}
	items, err := fetch[record.CartItem](ctx, c.sess.Backend, backend.Query{Filter: byUser(uid)})
	return items, wrap("cart items", err)
}

func (c *Cart) find(ctx context.Context, productID string) (*record.CartItem, error) {
	items, err := c.Items(ctx)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if items[i].ProductID == productID {
			return &items[i], nil
		}
	}
	return nil, nil
}

// Add puts quantity of a product in the cart, adding to any quantity already
// there.
func (c *Cart) Add(ctx context.Context, productID string, quantity int) (record.CartItem, error) {
	if quantity <= 0 {
		quantity = 1
	}
	cur, err := c.find(ctx, productID)
	if err != nil {
		return record.CartItem{}, err
	}
	if cur != nil {
		it, err := update[record.CartItem](ctx, c.sess.Backend, cur.ID, map[string]any{"quantity": cur.Quantity + quantity})
		return it, wrap("add to cart", err)
	}
	it, err := insert(ctx, c.sess.Backend, record.CartItem{UserID: c.sess.UserID, ProductID: productID, Quantity: quantity})
	return it, wrap("add to cart", err)
}

// Remove drops a product from the cart. Removing something that is not there
// is not an error.
func (c *Cart) Remove(ctx context.Context, productID string) error {
	cur, err := c.find(ctx, productID)
	if err != nil || cur == nil {
		return err
	}
	return wrap("remove from cart", c.sess.Backend.Delete(ctx, cur.TableName(), cur.ID))
}

// SetQuantity replaces a product's quantity; zero or less removes it.
func (c *Cart) SetQuantity(ctx context.Context, productID string, quantity int) error {
	if quantity <= 0 {
		return c.Remove(ctx, productID)
	}
	cur, err := c.find(ctx, productID)
	if err != nil {
		return err
	}
	if cur == nil {
		return wrap("set quantity", backend.ErrNotFound)
	}
	_, err = update[record.CartItem](ctx, c.sess.Backend, cur.ID, map[string]any{"quantity": quantity})
	return wrap("set quantity", err)
}

func (c *Cart) Clear(ctx context.Context) error {
	items, err := c.Items(ctx)
	if err != nil {
		return err
	}
	var errs error
	for _, it := range items {
		errs = multierr.Append(errs, c.sess.Backend.Delete(ctx, it.TableName(), it.ID))
	}
	return wrap("clear cart", errs)
}

// Count is the total quantity across the cart.
func (c *Cart) Count(ctx context.Context) (int, error) {
	items, err := c.Items(ctx)
	if err != nil {
		return 0, err
	}
	return CountItems(items), nil
}

func CountItems(items []record.CartItem) int {
	n := 0
	for _, it := range items {
		n += it.Quantity
	}
	return n
}

// Watch keeps the user's cart in sync.
func (c *Cart) Watch(ctx context.Context) (*livequery.Collection[record.CartItem], error) {
	return watchMine[record.CartItem](ctx, c.sess, nil)
}
