package postgres

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/koustreak/pgsafe/database/marshal"
)

// PrintOptions controls Result.Print.
type PrintOptions struct {
	Header   bool   // print column names
	Align    bool   // pad columns to a common width
	Expanded bool   // one "column | value" line per field, records separated
	Footer   bool   // print the "(N rows)" line
	FieldSep string // separator for unaligned output; "|" when empty
}

// DefaultPrintOptions matches psql's default aligned output.
func DefaultPrintOptions() PrintOptions {
	return PrintOptions{Header: true, Align: true, Footer: true, FieldSep: "|"}
}

// Print writes the result as a table. Results without rows print their
// command tag. NULL prints as an empty string.
func (r *Result) Print(w io.Writer, opts PrintOptions) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.check("Result.Print"); err != nil {
		return err
	}
	if opts.FieldSep == "" {
		opts.FieldSep = "|"
	}

	bw := bufio.NewWriter(w)
	if r.status != ExecTuplesOK {
		if r.tag != "" {
			fmt.Fprintln(bw, r.tag)
		}
		return bw.Flush()
	}

	cells, err := r.renderCells()
	if err != nil {
		return err
	}

	switch {
	case opts.Expanded:
		r.printExpanded(bw, cells, opts)
	case opts.Align:
		r.printAligned(bw, cells, opts)
	default:
		r.printUnaligned(bw, cells, opts)
	}
	if opts.Footer && (!opts.Expanded || len(r.rows) == 0) {
		fmt.Fprintln(bw, rowsFooter(len(r.rows)))
	}
	return bw.Flush()
}

// String renders the result with DefaultPrintOptions.
func (r *Result) String() string {
	var b strings.Builder
	if err := r.Print(&b, DefaultPrintOptions()); err != nil {
		return err.Error()
	}
	return b.String()
}

// renderCells converts every cell to its text form. Caller holds r.mu.
func (r *Result) renderCells() ([][]string, error) {
	var m *pgtype.Map
	if r.conn != nil {
		r.conn.typeMu.Lock()
		defer r.conn.typeMu.Unlock()
		m = r.conn.types
	}

	out := make([][]string, len(r.rows))
	for i, row := range r.rows {
		out[i] = make([]string, len(r.columns))
		for j, column := range r.columns {
			s, err := marshal.CellText(m, column, row[j])
			if err != nil {
				return nil, err
			}
			out[i][j] = s
		}
	}
	return out, nil
}

func (r *Result) printAligned(w io.Writer, cells [][]string, opts PrintOptions) {
	widths := make([]int, len(r.columns))
	for j, column := range r.columns {
		if opts.Header {
			widths[j] = utf8.RuneCountInString(column.Name)
		}
		for _, row := range cells {
			widths[j] = max(widths[j], utf8.RuneCountInString(row[j]))
		}
	}

	line := func(parts []string) {
		fmt.Fprintln(w, strings.TrimRight(" "+strings.Join(parts, " | "), " "))
	}

	if opts.Header {
		parts := make([]string, len(r.columns))
		dashes := make([]string, len(r.columns))
		for j, column := range r.columns {
			parts[j] = center(column.Name, widths[j])
			dashes[j] = strings.Repeat("-", widths[j]+2)
		}
		line(parts)
		fmt.Fprintln(w, strings.Join(dashes, "+"))
	}

	for _, row := range cells {
		parts := make([]string, len(row))
		for j, s := range row {
			if isNumeric(r.columns[j].OID) {
				parts[j] = padLeft(s, widths[j])
			} else {
				parts[j] = padRight(s, widths[j])
			}
		}
		line(parts)
	}
}

func (r *Result) printUnaligned(w io.Writer, cells [][]string, opts PrintOptions) {
	if opts.Header {
		names := make([]string, len(r.columns))
		for j, column := range r.columns {
			names[j] = column.Name
		}
		fmt.Fprintln(w, strings.Join(names, opts.FieldSep))
	}
	for _, row := range cells {
		fmt.Fprintln(w, strings.Join(row, opts.FieldSep))
	}
}

func (r *Result) printExpanded(w io.Writer, cells [][]string, opts PrintOptions) {
	nameWidth := 0
	for _, column := range r.columns {
		nameWidth = max(nameWidth, utf8.RuneCountInString(column.Name))
	}

	for i, row := range cells {
		if opts.Align {
			fmt.Fprintf(w, "-[ RECORD %d ]\n", i+1)
		} else if i > 0 {
			fmt.Fprintln(w)
		}
		for j, s := range row {
			name := r.columns[j].Name
			if opts.Align {
				fmt.Fprintln(w, strings.TrimRight(padRight(name, nameWidth)+" | "+s, " "))
			} else {
				fmt.Fprintln(w, name+opts.FieldSep+s)
			}
		}
	}
}

func rowsFooter(n int) string {
	if n == 1 {
		return "(1 row)"
	}
	return fmt.Sprintf("(%d rows)", n)
}

func isNumeric(oid uint32) bool {
	switch marshal.TypeOf(oid) {
	case marshal.TypeInt, marshal.TypeFloat:
		return true
	}
	return oid == pgtype.NumericOID
}

func padRight(s string, width int) string {
	if n := utf8.RuneCountInString(s); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s
}

func padLeft(s string, width int) string {
	if n := utf8.RuneCountInString(s); n < width {
		return strings.Repeat(" ", width-n) + s
	}
	return s
}

func center(s string, width int) string {
	n := utf8.RuneCountInString(s)
	if n >= width {
		return s
	}
	left := (width - n) / 2
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", width-n-left)
}
