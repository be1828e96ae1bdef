package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"

	"github.com/DoyleJ11/storefront-realtime/internal/backend"
	"github.com/DoyleJ11/storefront-realtime/internal/change"
	"github.com/DoyleJ11/storefront-realtime/internal/record"
)

var sqlOps = map[backend.Op]string{
	backend.OpEq:   "=",
	backend.OpNeq:  "<>",
	backend.OpGt:   ">",
	backend.OpGte:  ">=",
	backend.OpLt:   "<",
	backend.OpLte:  "<=",
	backend.OpLike: "LIKE",
}

func (s *Store) Fetch(ctx context.Context, q backend.Query) ([]json.RawMessage, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	tbl, sch, err := s.table(q.Table)
	if err != nil {
		return nil, err
	}

	tx := s.db.WithContext(ctx).Model(tbl.New())
	if f := q.Filter; f != nil {
		field, err := column(sch, f.Column)
		if err != nil {
			return nil, err
		}
		expr, err := filterExpr(field, f)
		if err != nil {
			return nil, err
		}
		tx = tx.Where(expr)
	}
	if o := q.Order; o != nil {
		field, err := column(sch, o.Column)
		if err != nil {
			return nil, err
		}
		tx = tx.Order(clause.OrderByColumn{Column: clause.Column{Name: field.DBName}, Desc: !o.Ascending})
	}

	rows := tbl.NewSlice()
	if err := tx.Find(rows).Error; err != nil {
		return nil, fmt.Errorf("fetch %s: %w", q.Table, err)
	}
	return toRaw(rows)
}

func filterExpr(field *schema.Field, f *backend.Filter) (clause.Expr, error) {
	c := clause.Column{Name: field.DBName}
	if f.Value == "null" {
		switch f.Op {
		case backend.OpEq:
			return clause.Expr{SQL: "? IS NULL", Vars: []any{c}}, nil
		case backend.OpNeq:
			return clause.Expr{SQL: "? IS NOT NULL", Vars: []any{c}}, nil
		}
	}
	if f.Op == backend.OpLike {
		return clause.Expr{SQL: "? LIKE ?", Vars: []any{c, f.Value}}, nil
	}
	v, err := filterValue(field, f.Value)
	if err != nil {
		return clause.Expr{}, err
	}
	return clause.Expr{SQL: "? " + sqlOps[f.Op] + " ?", Vars: []any{c, v}}, nil
}

// filterValue converts the textual filter value to the column's type so
// comparisons behave the same on every dialect.
func filterValue(field *schema.Field, v string) (any, error) {
	var (
		out any
		err error
	)
	switch field.DataType {
	case schema.Bool:
		out, err = strconv.ParseBool(v)
	case schema.Int, schema.Uint:
		out, err = strconv.ParseInt(v, 10, 64)
	case schema.Float:
		out, err = strconv.ParseFloat(v, 64)
	default:
		return v, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not a valid %s", backend.ErrBadQuery, v, field.DataType)
	}
	return out, nil
}

func toRaw(rows any) ([]json.RawMessage, error) {
	buf, err := json.Marshal(rows)
	if err != nil {
		return nil, err
	}
	var out []json.RawMessage
	if err := json.Unmarshal(buf, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []json.RawMessage{}
	}
	return out, nil
}

// decodeRow strictly decodes row into a fresh model of tbl and validates it.
func decodeRow(tbl record.Table, row []byte) (any, error) {
	model := tbl.New()
	dec := json.NewDecoder(bytes.NewReader(row))
	dec.DisallowUnknownFields()
	if err := dec.Decode(model); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", backend.ErrBadRow, tbl.Name, err)
	}
	if rec, ok := model.(record.Record); ok {
		if err := rec.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", backend.ErrBadRow, err)
		}
	}
	return model, nil
}

func translate(err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return backend.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return backend.ErrConflict
	}
	return err
}

// Insert stores a new row, generating its id when the caller left it out.
func (s *Store) Insert(ctx context.Context, table string, row json.RawMessage) (json.RawMessage, error) {
	tbl, _, err := s.table(table)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(row) {
		return nil, fmt.Errorf("%w: %s: invalid json", backend.ErrBadRow, table)
	}
	if gjson.GetBytes(row, "id").String() == "" {
		if row, err = sjson.SetBytes(row, "id", uuid.NewString()); err != nil {
			return nil, fmt.Errorf("%w: %v", backend.ErrBadRow, err)
		}
	}

	model, err := decodeRow(tbl, row)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return nil, fmt.Errorf("insert %s: %w", table, translate(err))
	}

	out, err := json.Marshal(model)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, change.Inserted(table, out))
	return out, nil
}

// Update merges patch over the stored row. The id cannot be changed.
func (s *Store) Update(ctx context.Context, table, id string, patch json.RawMessage) (json.RawMessage, error) {
	tbl, _, err := s.table(table)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(patch, &fields); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", backend.ErrBadRow, table, err)
	}
	if newID, ok := fields["id"]; ok && gjson.ParseBytes(newID).String() != id {
		return nil, fmt.Errorf("%w: %s: id is immutable", backend.ErrBadRow, table)
	}

	var out []byte
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cur := tbl.New()
		if err := tx.Where("id = ?", id).First(cur).Error; err != nil {
			return translate(err)
		}

		merged := map[string]json.RawMessage{}
		buf, err := json.Marshal(cur)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(buf, &merged); err != nil {
			return err
		}
		for k, v := range fields {
			merged[k] = v
		}
		if buf, err = json.Marshal(merged); err != nil {
			return err
		}

		next, err := decodeRow(tbl, buf)
		if err != nil {
			return err
		}
		if err := tx.Save(next).Error; err != nil {
			return translate(err)
		}
		out, err = json.Marshal(next)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("update %s/%s: %w", table, id, err)
	}

	s.publish(ctx, change.Updated(table, out))
	return out, nil
}

func (s *Store) Delete(ctx context.Context, table, id string) error {
	tbl, _, err := s.table(table)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(tbl.New())
	if res.Error != nil {
		return fmt.Errorf("delete %s/%s: %w", table, id, translate(res.Error))
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("delete %s/%s: %w", table, id, backend.ErrNotFound)
	}

	s.publish(ctx, change.Deleted(table, id))
	return nil
}
