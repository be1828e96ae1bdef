package shop

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/multierr"

	"github.com/DoyleJ11/storefront-realtime/internal/backend"
	"github.com/DoyleJ11/storefront-realtime/internal/livequery"
	"github.com/DoyleJ11/storefront-realtime/internal/record"
)

// Addresses manages the user's shipping addresses. At most one of them is the
// default.
type Addresses struct {
	sess *livequery.Session
}

func NewAddresses(sess *livequery.Session) *Addresses {
	return &Addresses{sess: sess}
}

// List returns the default address first, then the rest newest first.
func (a *Addresses) List(ctx context.Context) ([]record.Address, error) {
	uid, err := userID(a.sess)
	if err != nil {
		return nil, err
	}
	list, err := fetch[record.Address](ctx, a.sess.Backend, backend.Query{Filter: byUser(uid), Order: newestFirst})
	if err != nil {
		return nil, wrap("list addresses", err)
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].IsDefault && !list[j].IsDefault })
	return list, nil
}

// Default returns the default address, or nil when none is set.
func (a *Addresses) Default(ctx context.Context) (*record.Address, error) {
	list, err := a.List(ctx)
	if err != nil || len(list) == 0 || !list[0].IsDefault {
		return nil, err
	}
	return &list[0], nil
}

// Create adds an address. A new default replaces the old one.
func (a *Addresses) Create(ctx context.Context, addr record.Address) (record.Address, error) {
	uid, err := userID(a.sess)
	if err != nil {
		return record.Address{}, err
	}
	if addr.IsDefault {
		if err := a.clearDefault(ctx, ""); err != nil {
			return record.Address{}, wrap("create address", err)
		}
	}
	addr.ID, addr.UserID = "", uid
	out, err := insert(ctx, a.sess.Backend, addr)
	return out, wrap("create address", err)
}

func (a *Addresses) Update(ctx context.Context, id string, changes map[string]any) (record.Address, error) {
	if _, err := a.get(ctx, id); err != nil {
		return record.Address{}, wrap("update address", err)
	}
	for _, k := range []string{"id", "user_id", "created_at"} {
		if _, ok := changes[k]; ok {
			return record.Address{}, fmt.Errorf("update address: %w: %s is read-only", backend.ErrBadRow, k)
		}
	}
	if def, _ := changes["is_default"].(bool); def {
		if err := a.clearDefault(ctx, id); err != nil {
			return record.Address{}, wrap("update address", err)
		}
	}
	out, err := update[record.Address](ctx, a.sess.Backend, id, changes)
	return out, wrap("update address", err)
}

func (a *Addresses) Delete(ctx context.Context, id string) error {
	if _, err := a.get(ctx, id); err != nil {
		return wrap("delete address", err)
	}
	return wrap("delete address", a.sess.Backend.Delete(ctx, "addresses", id))
}

func (a *Addresses) SetDefault(ctx context.Context, id string) error {
	_, err := a.Update(ctx, id, map[string]any{"is_default": true})
	return err
}

// Watch keeps the user's addresses in sync, newest first. New addresses are
// appended at the end.
func (a *Addresses) Watch(ctx context.Context) (*livequery.Collection[record.Address], error) {
	return watchMine[record.Address](ctx, a.sess, newestFirst)
}

// get returns one of the user's addresses; other users' are not found.
func (a *Addresses) get(ctx context.Context, id string) (record.Address, error) {
	uid, err := userID(a.sess)
	if err != nil {
		return record.Address{}, err
	}
	found, err := fetch[record.Address](ctx, a.sess.Backend, backend.Query{
		Filter: &backend.Filter{Column: "id", Op: backend.OpEq, Value: id},
	})
	if err != nil {
		return record.Address{}, err
	}
	if len(found) == 0 || found[0].UserID != uid {
		return record.Address{}, fmt.Errorf("address %s: %w", id, backend.ErrNotFound)
	}
	return found[0], nil
}

// clearDefault unsets the default flag on every address except keep.
func (a *Addresses) clearDefault(ctx context.Context, keep string) error {
	list, err := a.List(ctx)
	if err != nil {
		return err
	}
	var errs error
	for _, addr := range list {
		if !addr.IsDefault || addr.ID == keep {
			continue
		}
		_, err := update[record.Address](ctx, a.sess.Backend, addr.ID, map[string]any{"is_default": false})
		errs = multierr.Append(errs, err)
	}
	return errs
}
