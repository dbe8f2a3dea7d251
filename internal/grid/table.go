package grid

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// WriteTable writes a row tree as tab-separated text: one header line of
// column names, then one line per row in Walk order. Nested rows are
// indented two spaces per depth in their first cell.
func (r *Renderer) WriteTable(ctx context.Context, w io.Writer, columns []Column, rows []*Row) error {
	cells := make([]string, len(columns))
	for i, c := range columns {
		cells[i] = c.Name
	}
	if _, err := fmt.Fprintln(w, strings.Join(cells, "\t")); err != nil {
		return fmt.Errorf("write table header: %w", err)
	}

	var err error
	Walk(rows, func(row *Row, depth int) {
		if err != nil {
			return
		}
		for i, c := range columns {
			cells[i] = r.Cell(ctx, row, c)
		}
		if len(cells) > 0 {
			cells[0] = strings.Repeat("  ", depth) + cells[0]
		}
		_, err = fmt.Fprintln(w, strings.Join(cells, "\t"))
	})
	if err != nil {
		return fmt.Errorf("write table row: %w", err)
	}
	return nil
}
