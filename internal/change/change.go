package change

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

var ErrMalformed = errors.New("malformed change event")

const DefaultSchema = "public"

type Kind string

const (
	KindInsert Kind = "INSERT"
	KindUpdate Kind = "UPDATE"
	KindDelete Kind = "DELETE"
)

// Event describes a single row change. Row holds the full new row for inserts
// and updates and is empty for deletes.
type Event struct {
	Kind   Kind
	Schema string
	Table  string
	ID     string
	Row    json.RawMessage
	At     time.Time
}

func Inserted(table string, row json.RawMessage) Event {
	return Event{Kind: KindInsert, Schema: DefaultSchema, Table: table, ID: rowID(row), Row: row, At: time.Now().UTC()}
}

func Updated(table string, row json.RawMessage) Event {
	return Event{Kind: KindUpdate, Schema: DefaultSchema, Table: table, ID: rowID(row), Row: row, At: time.Now().UTC()}
}

func Deleted(table, id string) Event {
	return Event{Kind: KindDelete, Schema: DefaultSchema, Table: table, ID: id, At: time.Now().UTC()}
}

// Topic is the fan-out key for an event: "schema.table".
func (e Event) Topic() string {
	return TopicOf(e.Schema, e.Table)
}

func TopicOf(schema, table string) string {
	if schema == "" {
		schema = DefaultSchema
	}
	return schema + "." + table
}

func (e Event) Validate() error {
	switch e.Kind {
	case KindInsert, KindUpdate:
		if len(e.Row) == 0 {
			return fmt.Errorf("%w: %s without row", ErrMalformed, e.Kind)
		}
	case KindDelete:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrMalformed, e.Kind)
	}
	if e.Table == "" {
		return fmt.Errorf("%w: missing table", ErrMalformed)
	}
	if e.ID == "" {
		return fmt.Errorf("%w: missing row id", ErrMalformed)
	}
	return nil
}

func rowID(row json.RawMessage) string {
	return gjson.GetBytes(row, "id").String()
}

type wireOld struct {
	ID string `json:"id"`
}

// wire mirrors the realtime payload shape clients already speak.
type wire struct {
	Type            Kind            `json:"type"`
	Schema          string          `json:"schema"`
	Table           string          `json:"table"`
	Record          json.RawMessage `json:"record,omitempty"`
	OldRecord       *wireOld        `json:"old_record,omitempty"`
	CommitTimestamp time.Time       `json:"commit_timestamp"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	w := wire{
		Type:            e.Kind,
		Schema:          e.Schema,
		Table:           e.Table,
		Record:          e.Row,
		CommitTimestamp: e.At,
	}
	if e.Kind != KindInsert {
		w.OldRecord = &wireOld{ID: e.ID}
	}
	return json.Marshal(w)
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	ev := Event{
		Kind:   w.Type,
		Schema: w.Schema,
		Table:  w.Table,
		At:     w.CommitTimestamp,
	}
	if ev.Schema == "" {
		ev.Schema = DefaultSchema
	}
	if w.Type != KindDelete {
		ev.Row = w.Record
		ev.ID = rowID(w.Record)
	} else if w.OldRecord != nil {
		ev.ID = w.OldRecord.ID
	}

	if err := ev.Validate(); err != nil {
		return err
	}
	*e = ev
	return nil
}
