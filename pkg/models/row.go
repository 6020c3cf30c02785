// Package models provides the row and batch types moved between connectors.
package models

// Op tags what a row asks the destination to do with it. Reads always
// produce OpInsert; update and delete rows originate from callers that
// drive a destination directly.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Row is an ordered mapping from column name to a scalar value. Column order
// is carried explicitly because Go maps do not preserve it and destinations
// need stable column order for SQL placeholders and CSV output.
type Row struct {
	Columns []string
	Values  map[string]interface{}
	Op      Op
}

// NewRow creates an insert row with the given column order
func NewRow(columns []string) *Row {
	return &Row{
		Columns: columns,
		Values:  make(map[string]interface{}, len(columns)),
		Op:      OpInsert,
	}
}

// Set assigns a value, appending the column to the order if it is new
func (r *Row) Set(column string, value interface{}) {
	if _, ok := r.Values[column]; !ok {
		found := false
		for _, c := range r.Columns {
			if c == column {
				found = true
				break
			}
		}
		if !found {
			r.Columns = append(r.Columns, column)
		}
	}
	r.Values[column] = value
}

// Get returns the value for a column; nil if absent
func (r *Row) Get(column string) interface{} {
	return r.Values[column]
}

// OrderedValues returns values in column order
func (r *Row) OrderedValues() []interface{} {
	values := make([]interface{}, len(r.Columns))
	for i, col := range r.Columns {
		values[i] = r.Values[col]
	}
	return values
}

// Rename returns a copy of the row with columns renamed per mapping.
// Columns absent from the mapping pass through unchanged; order is kept.
func (r *Row) Rename(mapping map[string]string) *Row {
	out := &Row{
		Columns: make([]string, len(r.Columns)),
		Values:  make(map[string]interface{}, len(r.Values)),
		Op:      r.Op,
	}
	for i, col := range r.Columns {
		name := col
		if renamed, ok := mapping[col]; ok {
			name = renamed
		}
		out.Columns[i] = name
		out.Values[name] = r.Values[col]
	}
	return out
}

// Batch is a bounded, ordered sequence of rows. It is both the unit of
// transfer and the unit of failure: a write error fails the whole batch.
type Batch struct {
	Rows []*Row
}

// NewBatch creates a batch with capacity for size rows
func NewBatch(size int) *Batch {
	return &Batch{Rows: make([]*Row, 0, size)}
}

// Append adds a row to the batch
func (b *Batch) Append(row *Row) {
	b.Rows = append(b.Rows, row)
}

// Len returns the number of rows in the batch
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Rows)
}

// IsEmpty reports whether the batch carries no rows
func (b *Batch) IsEmpty() bool {
	return b.Len() == 0
}

// Rename applies a column rename mapping to every row, returning a new batch
func (b *Batch) Rename(mapping map[string]string) *Batch {
	if len(mapping) == 0 {
		return b
	}
	out := NewBatch(b.Len())
	for _, row := range b.Rows {
		out.Append(row.Rename(mapping))
	}
	return out
}
