package gtfs

import "sort"

// Header is the column list shared by every row of one table
type Header struct {
	columns []string
	index   map[string]int
	sorted  []int // column indices ordered by column name
}

// NewHeader builds a header from column names
func NewHeader(columns []string) *Header {
	h := &Header{
		columns: columns,
		index:   make(map[string]int, len(columns)),
		sorted:  make([]int, len(columns)),
	}
	for i, c := range columns {
		if _, dup := h.index[c]; !dup {
			h.index[c] = i
		}
		h.sorted[i] = i
	}
	sort.SliceStable(h.sorted, func(a, b int) bool {
		return columns[h.sorted[a]] < columns[h.sorted[b]]
	})
	return h
}

// Columns returns the column names in input order
func (h *Header) Columns() []string {
	if h == nil {
		return nil
	}
	return h.columns
}

// Has reports whether the header contains col
func (h *Header) Has(col string) bool {
	if h == nil {
		return false
	}
	_, ok := h.index[col]
	return ok
}

// Len is the number of columns
func (h *Header) Len() int {
	if h == nil {
		return 0
	}
	return len(h.columns)
}

// Row is one record of a table: the shared header plus this row's values
type Row struct {
	header *Header
	values []string
}

// NewRow pairs values with header; values must have header.Len() entries
func NewRow(header *Header, values []string) Row {
	return Row{header: header, values: values}
}

// Get returns the value of col, or "" when the column is absent
func (r Row) Get(col string) string {
	if r.header == nil {
		return ""
	}
	i, ok := r.header.index[col]
	if !ok {
		return ""
	}
	return r.values[i]
}

// Values returns the raw values in header order
func (r Row) Values() []string {
	return r.values
}

// Header returns the row's header
func (r Row) Header() *Header {
	return r.header
}
