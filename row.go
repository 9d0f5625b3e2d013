package odbx

import (
	"fmt"
	"reflect"
	"strings"
)

// Row is one fetched result row. The column metadata is shared by every
// row of the same result set; only the values are per-row.
type Row struct {
	cols   []ColumnDesc
	values []interface{}
}

// Len returns the number of columns in the row.
func (r *Row) Len() int { return len(r.values) }

// At returns the value at position i. Negative positions count from the
// end, so At(-1) is the last column. Out-of-range positions panic, like
// slice indexing.
func (r *Row) At(i int) interface{} {
	return r.values[r.norm(i)]
}

// Value returns the value of the named column. Name matching follows
// the column names as described by the engine (after any configured
// case folding).
func (r *Row) Value(name string) (interface{}, bool) {
	for i := range r.cols {
		if r.cols[i].Name == name {
			return r.values[i], true
		}
	}
	return nil, false
}

// Slice returns the values in [i, j) as a view over the row's backing
// array, not a copy. Negative bounds count from the end.
func (r *Row) Slice(i, j int) []interface{} {
	lo := r.normBound(i)
	hi := r.normBound(j)
	return r.values[lo:hi]
}

// Values returns all column values as a view over the row's backing
// array.
func (r *Row) Values() []interface{} { return r.values }

// Columns returns the column names in result-set order.
func (r *Row) Columns() []string {
	names := make([]string, len(r.cols))
	for i := range r.cols {
		names[i] = r.cols[i].Name
	}
	return names
}

// Equal reports whether both rows hold equal values position by
// position. Column metadata is not compared.
func (r *Row) Equal(other *Row) bool {
	if other == nil || len(r.values) != len(other.values) {
		return false
	}
	for i := range r.values {
		if !valueEqual(r.values[i], other.values[i]) {
			return false
		}
	}
	return true
}

func (r *Row) String() string {
	parts := make([]string, len(r.values))
	for i, v := range r.values {
		switch x := v.(type) {
		case nil:
			parts[i] = "<null>"
		case string:
			parts[i] = fmt.Sprintf("%q", x)
		default:
			parts[i] = fmt.Sprintf("%v", x)
		}
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// norm maps a possibly negative index to a position in the row.
func (r *Row) norm(i int) int {
	if i < 0 {
		i += len(r.values)
	}
	if i < 0 || i >= len(r.values) {
		panic(fmt.Sprintf("odbx: row index %d out of range [0:%d]", i, len(r.values)))
	}
	return i
}

// normBound maps a possibly negative slice bound, clamping to the row.
func (r *Row) normBound(i int) int {
	if i < 0 {
		i += len(r.values)
	}
	if i < 0 {
		i = 0
	}
	if i > len(r.values) {
		i = len(r.values)
	}
	return i
}

func valueEqual(a, b interface{}) bool {
	if da, ok := a.(Decimal); ok {
		db, ok := b.(Decimal)
		return ok && da.Value.Equal(db.Value)
	}
	return reflect.DeepEqual(a, b)
}
