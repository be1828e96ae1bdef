package backend

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/DoyleJ11/storefront-realtime/internal/change"
)

var ErrNotFound = errors.New("row not found")
var ErrUnknownTable = errors.New("unknown table")
var ErrBadQuery = errors.New("bad query")
var ErrBadRow = errors.New("bad row")
var ErrConflict = errors.New("conflicting row")

// Fetcher is the one-shot read path.
type Fetcher interface {
	Fetch(ctx context.Context, q Query) ([]json.RawMessage, error)
}

// Subscription scopes a change feed to a table, optionally to one row.
type Subscription struct {
	Schema string
	Table  string
	RowID  string
}

// Stream is a live change feed. Events is closed when the stream ends; Err
// then says whether that was a failure (nil after Close).
type Stream interface {
	Events() <-chan change.Event
	Err() error
	Close() error
}

type Subscriber interface {
	Subscribe(ctx context.Context, s Subscription) (Stream, error)
}

// Mutator is the one-shot write path. Insert and Update return the row as
// stored.
type Mutator interface {
	Insert(ctx context.Context, table string, row json.RawMessage) (json.RawMessage, error)
	Update(ctx context.Context, table, id string, patch json.RawMessage) (json.RawMessage, error)
	Delete(ctx context.Context, table, id string) error
}

type Backend interface {
	Fetcher
	Subscriber
	Mutator
}
