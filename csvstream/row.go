// Package csvstream implements the delimited-text pipeline the worker feeds
// blob chunks through: single-row parsing with a strict column contract, and
// a chunked stream parser with bounded buffering and backpressure.
package csvstream

import (
	"strings"

	"github.com/pairworks/pairworker/common"
)

// Row is an ordered, immutable sequence of column values parsed from one
// delimited line.
type Row struct {
	columns []string
}

// BuildRow parses rawLine into exactly numCols columns. A line ending in the
// delimiter produces a trailing empty column; leading and interior empty
// columns are kept. With trimWhitespace set, each column has leading/trailing
// ASCII whitespace removed and interior runs collapsed to a single space.
func BuildRow(rawLine string, numCols int, trimWhitespace bool, delimiter byte) (Row, error) {
	if len(rawLine) == 0 {
		if numCols == 0 {
			return Row{}, nil
		}
		return Row{}, common.ErrCSVRowUnexpectedNumberOfColumns
	}

	cols := strings.Split(rawLine, string(delimiter))
	if trimWhitespace {
		for i, col := range cols {
			cols[i] = normalizeASCIIWhitespace(col)
		}
	}

	if len(cols) != numCols {
		return Row{}, common.ErrCSVRowUnexpectedNumberOfColumns
	}
	return Row{columns: cols}, nil
}

// Column returns the i-th column value.
func (r Row) Column(i int) (string, error) {
	if i < 0 || i >= len(r.columns) {
		return "", common.ErrCSVColIndexOutOfBounds
	}
	return r.columns[i], nil
}

// Len returns the number of columns.
func (r Row) Len() int {
	return len(r.columns)
}

func isASCIISpace(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\v', '\f', '\r':
		return true
	}
	return false
}

// normalizeASCIIWhitespace strips leading and trailing ASCII whitespace and
// collapses interior runs to one space. A column of only whitespace becomes
// the empty string.
func normalizeASCIIWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inRun := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isASCIISpace(c) {
			inRun = true
			continue
		}
		if inRun && b.Len() > 0 {
			b.WriteByte(' ')
		}
		inRun = false
		b.WriteByte(c)
	}
	return b.String()
}
