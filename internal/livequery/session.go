package livequery

import (
	"errors"

	"go.uber.org/zap"

	"github.com/DoyleJ11/storefront-realtime/internal/backend"
)

var ErrFetch = errors.New("initial fetch failed")
var ErrSubscription = errors.New("subscription failed")

// Session carries everything an observer needs. It is passed in explicitly;
// nothing is looked up from globals.
type Session struct {
	// UserID is the canonical id of the signed-in user, empty when signed out.
	UserID  string
	Backend backend.Backend
	Logger  *zap.Logger
}

func NewSession(userID string, b backend.Backend, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{UserID: userID, Backend: b, Logger: log}
}

func (s *Session) SignedIn() bool { return s != nil && s.UserID != "" }

// Log never returns nil.
func (s *Session) Log() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
