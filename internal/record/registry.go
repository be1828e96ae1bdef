package record

import "sort"

// Table describes one storefront table well enough for the store to migrate,
// query and decode it without knowing the concrete type.
type Table struct {
	Name string
	// New returns a pointer to a zero record, usable as a gorm model.
	New func() any
	// NewSlice returns a pointer to an empty slice of records.
	NewSlice func() any
}

var registry = map[string]Table{}

func register[T Record]() {
	var zero T
	registry[zero.TableName()] = Table{
		Name:     zero.TableName(),
		New:      func() any { return new(T) },
		NewSlice: func() any { return &[]T{} },
	}
}

func init() {
	register[Product]()
	register[CartItem]()
	register[WishlistItem]()
	register[Order]()
	register[OrderItem]()
	register[SellerProfile]()
	register[SearchEntry]()
	register[Address]()
	register[UserProfile]()
}

func Lookup(name string) (Table, bool) {
	t, ok := registry[name]
	return t, ok
}

// Tables returns every registered table sorted by name.
func Tables() []Table {
	out := make([]Table, 0, len(registry))
	for _, t := range registry {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
