package shop

import (
	"context"
	"strings"

	"go.uber.org/multierr"

	"github.com/DoyleJ11/storefront-realtime/internal/backend"
	"github.com/DoyleJ11/storefront-realtime/internal/livequery"
	"github.com/DoyleJ11/storefront-realtime/internal/record"
)

// MaxRecentSearches bounds Recent.
const MaxRecentSearches = 5

type SearchHistory struct {
	sess *livequery.Session
}

func NewSearchHistory(sess *livequery.Session) *SearchHistory {
	return &SearchHistory{sess: sess}
}

// Add records a search. Blank terms are ignored.
func (h *SearchHistory) Add(ctx context.Context, term string) error {
	uid, err := userID(h.sess)
	if err != nil {
		return err
	}
	term = strings.TrimSpace(term)
	if term == "" {
		return nil
	}
	_, err = insert(ctx, h.sess.Backend, record.SearchEntry{UserID: uid, Query: term})
	return wrap("add search", err)
}

// Recent returns the user's latest distinct searches, newest first. Terms
// differing only in case count once.
func (h *SearchHistory) Recent(ctx context.Context) ([]string, error) {
	entries, err := h.entries(ctx)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	out := []string{}
	for _, e := range entries {
		key := strings.ToLower(e.Query)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, e.Query)
		if len(out) == MaxRecentSearches {
			break
		}
	}
	return out, nil
}

func (h *SearchHistory) Clear(ctx context.Context) error {
	entries, err := h.entries(ctx)
	if err != nil {
		return err
	}
	var errs error
	for _, e := range entries {
		errs = multierr.Append(errs, h.sess.Backend.Delete(ctx, e.TableName(), e.ID))
	}
	return wrap("clear searches", errs)
}

func (h *SearchHistory) entries(ctx context.Context) ([]record.SearchEntry, error) {
	uid, err := userID(h.sess)
	if err != nil {
		return nil, err
	}
	entries, err := fetch[record.SearchEntry](ctx, h.sess.Backend, backend.Query{Filter: byUser(uid), Order: newestFirst})
	return entries, wrap("search history", err)
}
