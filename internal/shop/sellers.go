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

type Sellers struct {
	sess *livequery.Session
}

func NewSellers(sess *livequery.Session) *Sellers {
	return &Sellers{sess: sess}
}

// Mine returns the user's seller profile, or nil if they have none.
func (s *Sellers) Mine(ctx context.Context) (*record.SellerProfile, error) {
	uid, err := userID(s.sess)
	if err != nil {
		return nil, err
	}
	found, err := fetch[record.SellerProfile](ctx, s.sess.Backend, backend.Query{Filter: byUser(uid)})
	if err != nil || len(found) == 0 {
		return nil, wrap("seller profile", err)
	}
	return &found[0], nil
}

func (s *Sellers) ByID(ctx context.Context, id string) (*record.SellerProfile, error) {
	found, err := fetch[record.SellerProfile](ctx, s.sess.Backend, backend.Query{
		Filter: &backend.Filter{Column: "id", Op: backend.OpEq, Value: id},
	})
	if err != nil || len(found) == 0 {
		return nil, wrap("seller profile", err)
	}
	return &found[0], nil
}

// Verified lists verified sellers by shop name.
func (s *Sellers) Verified(ctx context.Context) ([]record.SellerProfile, error) {
	found, err := fetch[record.SellerProfile](ctx, s.sess.Backend, backend.Query{
		Filter: &backend.Filter{Column: "is_verified", Op: backend.OpEq, Value: "true"},
		Order:  &backend.Order{Column: "shop_name", Ascending: true},
	})
	return found, wrap("verified sellers", err)
}

// Register creates the user's seller profile. A user has at most one.
func (s *Sellers) Register(ctx context.Context, p record.SellerProfile) (record.SellerProfile, error) {
	uid, err := userID(s.sess)
	if err != nil {
		return record.SellerProfile{}, err
	}
	cur, err := s.Mine(ctx)
	if err != nil {
		return record.SellerProfile{}, err
	}
	if cur != nil {
		return record.SellerProfile{}, fmt.Errorf("register seller: %w", ErrSellerExists)
	}

	p.ID, p.UserID, p.IsVerified = "", uid, false
	out, err := insert(ctx, s.sess.Backend, p)
	if errors.Is(err, backend.ErrConflict) {
		err = ErrSellerExists
	}
	return out, wrap("register seller", err)
}

// Update applies changes to the user's profile. Identity and verification
// cannot be changed this way.
func (s *Sellers) Update(ctx context.Context, changes map[string]any) (record.SellerProfile, error) {
	cur, err := s.Mine(ctx)
	if err != nil {
		return record.SellerProfile{}, err
	}
	if cur == nil {
		return record.SellerProfile{}, fmt.Errorf("update seller: %w", backend.ErrNotFound)
	}
	patch := make(map[string]any, len(changes))
	for k, v := range changes {
		switch k {
		case "id", "user_id", "is_verified", "created_at":
			return record.SellerProfile{}, fmt.Errorf("update seller: %w: %s is read-only", backend.ErrBadRow, k)
		}
		patch[k] = v
	}
	out, err := update[record.SellerProfile](ctx, s.sess.Backend, cur.ID, patch)
	return out, wrap("update seller", err)
}

// Verify marks a seller verified. Meant for administrative use.
func (s *Sellers) Verify(ctx context.Context, id string) error {
	_, err := s.sess.Backend.Update(ctx, "seller_profiles", id, json.RawMessage(`{"is_verified":true}`))
	return wrap("verify seller", err)
}
