package types

import "strconv"

// RawTradeRecord is one loosely-typed record produced by a parser. It lives
// for a single pipeline run and is never persisted.
type RawTradeRecord struct {
	// Index is the 1-based position of the record in its source: the data
	// row number for text files, the array position for webhook batches.
	Index int
	// Fields holds lower-cased, trimmed keys mapped to their raw values.
	Fields map[string]string
	// Invalid is set when the record could not be read at all.
	Invalid string
}

// RowLabel identifies the record by position
func (r RawTradeRecord) RowLabel() string {
	return "row " + strconv.Itoa(r.Index)
}
