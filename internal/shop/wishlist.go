package shop

import (
	"context"
	"slices"

	"github.com/DoyleJ11/storefront-realtime/internal/backend"
	"github.com/DoyleJ11/storefront-realtime/internal/livequery"
	"github.com/DoyleJ11/storefront-realtime/internal/record"
)

type Wishlist struct {
	sess *livequery.Session
}

func NewWishlist(sess *livequery.Session) *Wishlist {
	return &Wishlist{sess: sess}
}

func (w *Wishlist) Items(ctx context.Context) ([]record.WishlistItem, error) {
	uid, err := userID(w.sess)
	if err != nil {
		return nil, err
	}
	items, err := fetch[record.WishlistItem](ctx, w.sess.Backend, backend.Query{Filter: byUser(uid)})
	return items, wrap("wishlist items", err)
}

// ProductIDs lists wished-for products in the order they were added.
func (w *Wishlist) ProductIDs(ctx context.Context) ([]string, error) {
	items, err := w.Items(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ProductID)
	}
	return ids, nil
}

func (w *Wishlist) Contains(ctx context.Context, productID string) (bool, error) {
	ids, err := w.ProductIDs(ctx)
	if err != nil {
		return false, err
	}
	return slices.Contains(ids, productID), nil
}

// Add is a no-op when the product is already on the list.
func (w *Wishlist) Add(ctx context.Context, productID string) error {
	ok, err := w.Contains(ctx, productID)
	if err != nil || ok {
		return err
	}
	_, err = insert(ctx, w.sess.Backend, record.WishlistItem{UserID: w.sess.UserID, ProductID: productID})
	return wrap("add to wishlist", err)
}

func (w *Wishlist) Remove(ctx context.Context, productID string) error {
	items, err := w.Items(ctx)
	if err != nil {
		return err
	}
	for _, it := range items {
		if it.ProductID != productID {
			continue
		}
		if err := w.sess.Backend.Delete(ctx, it.TableName(), it.ID); err != nil {
			return wrap("remove from wishlist", err)
		}
	}
	return nil
}

func (w *Wishlist) Watch(ctx context.Context) (*livequery.Collection[record.WishlistItem], error) {
	return watchMine[record.WishlistItem](ctx, w.sess, nil)
}
