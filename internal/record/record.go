package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrDecode = errors.New("record decode failed")
var ErrInvalid = errors.New("invalid record")

// Record is one row of a storefront table. The id field is the only identity;
// it never changes across updates.
type Record interface {
	RecordID() string
	TableName() string
	Validate() error
}

// Decode maps a raw transport payload onto a typed record. Unknown fields,
// malformed JSON and failed validation are all reported as ErrDecode.
func Decode[T Record](raw []byte) (T, error) {
	var rec T
	if len(bytes.TrimSpace(raw)) == 0 {
		return rec, fmt.Errorf("%w: empty payload", ErrDecode)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&rec); err != nil {
		return rec, fmt.Errorf("%w: %s: %v", ErrDecode, rec.TableName(), err)
	}
	if err := rec.Validate(); err != nil {
		return rec, fmt.Errorf("%w: %s: %w", ErrDecode, rec.TableName(), err)
	}
	return rec, nil
}

// DecodeAll decodes every row or none of them.
func DecodeAll[T Record](rows []json.RawMessage) ([]T, error) {
	out := make([]T, 0, len(rows))
	for i, raw := range rows {
		rec, err := Decode[T](raw)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func invalid(table, msg string) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalid, table, msg)
}
