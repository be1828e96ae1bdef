// Package shop holds the storefront's account-scoped services: cart,
// wishlist, orders, addresses, the user profile, seller profiles and search
// history. Every call acts on behalf of the session's user.
package shop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/DoyleJ11/storefront-realtime/internal/backend"
	"github.com/DoyleJ11/storefront-realtime/internal/livequery"
	"github.com/DoyleJ11/storefront-realtime/internal/record"
)

var ErrSignedOut = errors.New("not signed in")
var ErrEmptyOrder = errors.New("order has no items")
var ErrNotCancellable = errors.New("only pending orders can be cancelled")
var ErrSellerExists = errors.New("seller profile already exists")

func userID(sess *livequery.Session) (string, error) {
	if !sess.SignedIn() {
		return "", ErrSignedOut
	}
	return sess.UserID, nil
}

func byUser(uid string) *backend.Filter {
	return &backend.Filter{Column: "user_id", Op: backend.OpEq, Value: uid}
}

func fetch[T record.Record](ctx context.Context, f backend.Fetcher, q backend.Query) ([]T, error) {
	var zero T
	q.Table = zero.TableName()
	rows, err := f.Fetch(ctx, q)
	if err != nil {
		return nil, err
	}
	return record.DecodeAll[T](rows)
}

func insert[T record.Record](ctx context.Context, m backend.Mutator, rec T) (T, error) {
	var zero T
	body, err := json.Marshal(rec)
	if err != nil {
		return zero, err
	}
	row, err := m.Insert(ctx, rec.TableName(), body)
	if err != nil {
		return zero, err
	}
	return record.Decode[T](row)
}

func update[T record.Record](ctx context.Context, m backend.Mutator, id string, patch map[string]any) (T, error) {
	var zero T
	body, err := json.Marshal(patch)
	if err != nil {
		return zero, err
	}
	row, err := m.Update(ctx, zero.TableName(), id, body)
	if err != nil {
		return zero, err
	}
	return record.Decode[T](row)
}

// watchMine observes the user's rows of T's table.
func watchMine[T record.Record](ctx context.Context, sess *livequery.Session, order *backend.Order) (*livequery.Collection[T], error) {
	uid, err := userID(sess)
	if err != nil {
		return nil, err
	}
	return livequery.Observe[T](ctx, sess, backend.Query{Filter: byUser(uid), Order: order}), nil
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}
