// Package pgfeed turns Postgres NOTIFY messages emitted by row triggers into
// change events on the hub. Notifications carry only the row key; the row
// itself is read back before publishing, so payload size never depends on row
// size.
package pgfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/storefront-realtime/internal/backend"
	"github.com/DoyleJ11/storefront-realtime/internal/change"
	"github.com/DoyleJ11/storefront-realtime/internal/record"
)

const DefaultChannel = "storefront_changes"

const notifyFunc = "storefront_notify_change"

var ErrPayload = errors.New("bad notification payload")

// Publisher is the hub side of the feed. DropSubscribers is called when
// events may have been missed, so observers know to start over.
type Publisher interface {
	Publish(ctx context.Context, ev change.Event) error
	DropSubscribers(ctx context.Context, schema, table string) error
}

type Feed struct {
	dsn     string
	channel string
	rows    backend.Fetcher
	pub     Publisher
	log     *zap.Logger

	// retry is the pause between reconnect attempts.
	retry time.Duration
}

func New(dsn, channel string, rows backend.Fetcher, pub Publisher, log *zap.Logger) *Feed {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Feed{
		dsn:     dsn,
		channel: channel,
		rows:    rows,
		pub:     pub,
		log:     log.Named("pgfeed"),
		retry:   2 * time.Second,
	}
}

// Install creates the notify function and a trigger on every registered
// table. It is safe to run on every start.
func (f *Feed) Install(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, f.dsn)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, FunctionSQL()); err != nil {
		return fmt.Errorf("install notify function: %w", err)
	}
	for _, tbl := range record.Tables() {
		for _, stmt := range TriggerSQL(tbl.Name, f.channel) {
			if _, err := conn.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("install trigger on %s: %w", tbl.Name, err)
			}
		}
	}
	f.log.Info("triggers installed", zap.Int("tables", len(record.Tables())), zap.String("channel", f.channel))
	return nil
}

// Run listens until ctx is done, reconnecting after connection loss.
// Subscribers are dropped on every reconnect since notifications sent while
// disconnected are gone.
func (f *Feed) Run(ctx context.Context) error {
	for resumed := false; ; resumed = true {
		err := f.listen(ctx, resumed)
		if ctx.Err() != nil {
			return nil
		}
		f.log.Warn("listen stopped, reconnecting", zap.Error(err), zap.Duration("after", f.retry))

		select {
		case <-time.After(f.retry):
		case <-ctx.Done():
			return nil
		}
	}
}

func (f *Feed) listen(ctx context.Context, resumed bool) error {
	conn, err := pgx.Connect(ctx, f.dsn)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{f.channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen %s: %w", f.channel, err)
	}
	f.log.Info("listening", zap.String("channel", f.channel), zap.Bool("resumed", resumed))
	if resumed {
		if err := f.pub.DropSubscribers(ctx, "", ""); err != nil {
			return fmt.Errorf("drop subscribers: %w", err)
		}
	}

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		if err := f.handle(ctx, n.Payload); err != nil {
			return err
		}
	}
}

// handle publishes the change one notification describes. A payload that
// cannot be decoded drops every subscriber rather than being skipped.
func (f *Feed) handle(ctx context.Context, payload string) error {
	n, err := Decode(payload)
	if err != nil {
		f.log.Error("malformed notification, dropping subscribers", zap.Error(err))
		if err := f.pub.DropSubscribers(ctx, "", ""); err != nil {
			return fmt.Errorf("drop subscribers: %w", err)
		}
		return nil
	}

	ev, ok, err := f.resolve(ctx, n)
	if err != nil {
		return fmt.Errorf("read %s %s: %w", n.Table, n.ID, err)
	}
	if !ok {
		// deleted before we got to it; its DELETE notification follows
		f.log.Debug("row gone", zap.String("table", n.Table), zap.String("id", n.ID))
		return nil
	}
	if err := f.pub.Publish(ctx, ev); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// resolve turns a notice into an event, reading the current row for inserts
// and updates. ok is false when the row no longer exists.
func (f *Feed) resolve(ctx context.Context, n Notice) (ev change.Event, ok bool, err error) {
	ev = change.Event{Kind: n.Kind, Schema: n.Schema, Table: n.Table, ID: n.ID, At: n.At}
	if n.Kind == change.KindDelete {
		return ev, true, nil
	}
	rows, err := f.rows.Fetch(ctx, backend.Query{
		Table:  n.Table,
		Schema: n.Schema,
		Filter: &backend.Filter{Column: "id", Op: backend.OpEq, Value: n.ID},
	})
	if err != nil || len(rows) == 0 {
		return change.Event{}, false, err
	}
	ev.Row = rows[0]
	return ev, true, nil
}

// Notice is one decoded trigger payload.
type Notice struct {
	Kind   change.Kind `json:"type"`
	Schema string      `json:"schema"`
	Table  string      `json:"table"`
	ID     string      `json:"id"`
	At     time.Time   `json:"commit_timestamp"`
}

func Decode(payload string) (Notice, error) {
	var n Notice
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return Notice{}, fmt.Errorf("%w: %w", ErrPayload, err)
	}
	switch n.Kind {
	case change.KindInsert, change.KindUpdate, change.KindDelete:
	default:
		return Notice{}, fmt.Errorf("%w: unknown kind %q", ErrPayload, n.Kind)
	}
	if _, ok := record.Lookup(n.Table); !ok {
		return Notice{}, fmt.Errorf("%w: unknown table %q", ErrPayload, n.Table)
	}
	if n.ID == "" {
		return Notice{}, fmt.Errorf("%w: missing id", ErrPayload)
	}
	if n.Schema == "" {
		n.Schema = change.DefaultSchema
	}
	return n, nil
}

// FunctionSQL renders the trigger function. The channel comes from the
// trigger's first argument so one function serves every table.
func FunctionSQL() string {
	return `CREATE OR REPLACE FUNCTION ` + notifyFunc + `() RETURNS trigger AS $$
BEGIN
  PERFORM pg_notify(TG_ARGV[0], json_build_object(
    'type', TG_OP,
    'schema', TG_TABLE_SCHEMA,
    'table', TG_TABLE_NAME,
    'id', CASE WHEN TG_OP = 'DELETE' THEN OLD.id ELSE NEW.id END,
    'commit_timestamp', now()
  )::text);
  RETURN NULL;
END;
$$ LANGUAGE plpgsql`
}

// TriggerSQL renders the statements that attach the notify function to table.
func TriggerSQL(table, channel string) []string {
	name := pgx.Identifier{table + "_changes"}.Sanitize()
	tbl := pgx.Identifier{table}.Sanitize()
	return []string{
		fmt.Sprintf("DROP TRIGGER IF EXISTS %s ON %s", name, tbl),
		fmt.Sprintf("CREATE TRIGGER %s AFTER INSERT OR UPDATE OR DELETE ON %s FOR EACH ROW EXECUTE FUNCTION %s(%s)",
			name, tbl, notifyFunc, quoteLiteral(channel)),
	}
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
