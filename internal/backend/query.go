package backend

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/DoyleJ11/storefront-realtime/internal/change"
)

type Op string

const (
	OpEq   Op = "eq"
	OpNeq  Op = "neq"
	OpGt   Op = "gt"
	OpGte  Op = "gte"
	OpLt   Op = "lt"
	OpLte  Op = "lte"
	OpLike Op = "like"
)

var ops = map[Op]bool{OpEq: true, OpNeq: true, OpGt: true, OpGte: true, OpLt: true, OpLte: true, OpLike: true}

type Filter struct {
	Column string
	Op     Op
	Value  string
}

type Order struct {
	Column    string
	Ascending bool
}

// Query selects rows of one table. Filter and Order are optional.
type Query struct {
	Table  string
	Schema string
	Filter *Filter
	Order  *Order
}

func (q Query) Validate() error {
	if q.Table == "" {
		return fmt.Errorf("%w: missing table", ErrBadQuery)
	}
	if q.Filter != nil {
		if q.Filter.Column == "" {
			return fmt.Errorf("%w: filter without column", ErrBadQuery)
		}
		if !ops[q.Filter.Op] {
			return fmt.Errorf("%w: unknown operator %q", ErrBadQuery, q.Filter.Op)
		}
	}
	if q.Order != nil && q.Order.Column == "" {
		return fmt.Errorf("%w: order without column", ErrBadQuery)
	}
	return nil
}

func (q Query) SchemaOrDefault() string {
	if q.Schema == "" {
		return change.DefaultSchema
	}
	return q.Schema
}

// ParseFilter reads the "column=op.value" form used on the REST surface.
func ParseFilter(column, expr string) (*Filter, error) {
	op, value, ok := strings.Cut(expr, ".")
	if !ok || !ops[Op(op)] {
		return nil, fmt.Errorf("%w: bad filter %s=%s", ErrBadQuery, column, expr)
	}
	return &Filter{Column: column, Op: Op(op), Value: value}, nil
}

// String renders the filter back to "column=op.value".
func (f Filter) String() string {
	return f.Column + "=" + string(f.Op) + "." + f.Value
}

// ParseOrder reads "column.asc" or "column.desc"; a bare column sorts ascending.
func ParseOrder(expr string) (*Order, error) {
	col, dir, _ := strings.Cut(expr, ".")
	if col == "" {
		return nil, fmt.Errorf("%w: empty order", ErrBadQuery)
	}
	switch dir {
	case "", "asc":
		return &Order{Column: col, Ascending: true}, nil
	case "desc":
		return &Order{Column: col, Ascending: false}, nil
	}
	return nil, fmt.Errorf("%w: bad order direction %q", ErrBadQuery, dir)
}

func (o Order) String() string {
	if o.Ascending {
		return o.Column + ".asc"
	}
	return o.Column + ".desc"
}

// Values encodes q's filter and order as REST query parameters.
func (q Query) Values() url.Values {
	v := url.Values{}
	if q.Schema != "" {
		v.Set("schema", q.Schema)
	}
	if q.Filter != nil {
		v.Set(q.Filter.Column, string(q.Filter.Op)+"."+q.Filter.Value)
	}
	if q.Order != nil {
		v.Set("order", q.Order.String())
	}
	return v
}

// QueryFromValues is the inverse of Values. At most one filter column is
// accepted.
func QueryFromValues(table string, v url.Values) (Query, error) {
	q := Query{Table: table, Schema: v.Get("schema")}
	for key, vals := range v {
		switch key {
		case "schema":
			continue
		case "order":
			o, err := ParseOrder(v.Get("order"))
			if err != nil {
				return Query{}, err
			}
			q.Order = o
			continue
		}
		if q.Filter != nil || len(vals) != 1 {
			return Query{}, fmt.Errorf("%w: only one filter is supported", ErrBadQuery)
		}
		f, err := ParseFilter(key, vals[0])
		if err != nil {
			return Query{}, err
		}
		q.Filter = f
	}
	return q, q.Validate()
}

// Match reports whether a raw JSON row satisfies the filter. A nil filter
// matches everything; a missing column matches nothing.
func (f *Filter) Match(row json.RawMessage) bool {
	if f == nil {
		return true
	}
	v := gjson.GetBytes(row, f.Column)
	if !v.Exists() {
		return false
	}

	if f.Op == OpLike {
		return likePattern(f.Value).MatchString(v.String())
	}

	cmp, ok := compare(v, f.Value)
	if !ok {
		return false
	}
	switch f.Op {
	case OpEq:
		return cmp == 0
	case OpNeq:
		return cmp != 0
	case OpGt:
		return cmp > 0
	case OpGte:
		return cmp >= 0
	case OpLt:
		return cmp < 0
	case OpLte:
		return cmp <= 0
	}
	return false
}

func compare(v gjson.Result, want string) (int, bool) {
	switch v.Type {
	case gjson.Number:
		n, err := strconv.ParseFloat(want, 64)
		if err != nil {
			return 0, false
		}
		switch {
		case v.Num < n:
			return -1, true
		case v.Num > n:
			return 1, true
		}
		return 0, true
	case gjson.Null:
		if want == "null" {
			return 0, true
		}
		return 0, false
	}
	return strings.Compare(v.String(), want), true
}

func likePattern(p string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range p {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.MustCompile(b.String())
}
