package shop

import (
	"context"
	"fmt"

	"github.com/DoyleJ11/storefront-realtime/internal/backend"
	"github.com/DoyleJ11/storefront-realtime/internal/livequery"
	"github.com/DoyleJ11/storefront-realtime/internal/record"
)

// Profiles reads and edits the signed-in user's profile. The profile's id is
// the user id.
type Profiles struct {
	sess *livequery.Session
}

func NewProfiles(sess *livequery.Session) *Profiles {
	return &Profiles{sess: sess}
}

// Get returns the user's profile, or nil if it was never written.
func (p *Profiles) Get(ctx context.Context) (*record.UserProfile, error) {
	uid, err := userID(p.sess)
	if err != nil {
		return nil, err
	}
	found, err := fetch[record.UserProfile](ctx, p.sess.Backend, backend.Query{
		Filter: &backend.Filter{Column: "id", Op: backend.OpEq, Value: uid},
	})
	if err != nil || len(found) == 0 {
		return nil, wrap("get profile", err)
	}
	return &found[0], nil
}

// Update applies changes, creating the profile on first use.
func (p *Profiles) Update(ctx context.Context, changes map[string]any) (record.UserProfile, error) {
	for _, k := range []string{"id", "created_at"} {
		if _, ok := changes[k]; ok {
			return record.UserProfile{}, fmt.Errorf("update profile: %w: %s is read-only", backend.ErrBadRow, k)
		}
	}
	cur, err := p.Get(ctx)
	if err != nil {
		return record.UserProfile{}, err
	}
	if cur == nil {
		if _, err := insert(ctx, p.sess.Backend, record.UserProfile{ID: p.sess.UserID}); err != nil {
			return record.UserProfile{}, wrap("create profile", err)
		}
	}
	out, err := update[record.UserProfile](ctx, p.sess.Backend, p.sess.UserID, changes)
	return out, wrap("update profile", err)
}

func (p *Profiles) Watch(ctx context.Context) (*livequery.Doc[record.UserProfile], error) {
	uid, err := userID(p.sess)
	if err != nil {
		return nil, err
	}
	return livequery.ObserveDoc[record.UserProfile](ctx, p.sess, uid), nil
}
