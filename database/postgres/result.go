package postgres

import (
	"fmt"
	"sync"

	"github.com/koustreak/pgsafe/database/marshal"
	"github.com/koustreak/pgsafe/errs"
)

// Result is the materialized outcome of one statement. Its rows and columns
// never change. It stays tied to the connection that produced it: once that
// connection is closed, or once Release is called, every accessor fails with
// ErrKindUseAfterFree.
//
// A Result may be read from several goroutines at once.
type Result struct {
	mu       sync.RWMutex
	conn     *Conn
	released bool

	status       ExecStatus
	tag          string
	rowsAffected int64
	columns      []marshal.Column
	rows         [][][]byte
}

// Release drops the result's data. Calling it again is a no-op.
func (r *Result) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.released = true
	r.columns = nil
	r.rows = nil
}

// check must be called with r.mu held.
func (r *Result) check(op string) error {
	if r.released {
		return errs.Op(op, errs.ErrKindUseAfterFree, "result has been released")
	}
	if r.conn != nil && r.conn.closed.Load() {
		return errs.Op(op, errs.ErrKindUseAfterFree, "connection that produced the result is closed")
	}
	return nil
}

// checkCell must be called with r.mu held.
func (r *Result) checkCell(op string, row, col int) error {
	if err := r.check(op); err != nil {
		return err
	}
	if row < 0 || row >= len(r.rows) {
		return errs.Op(op, errs.ErrKindIndex, fmt.Sprintf("row %d out of range [0, %d)", row, len(r.rows)))
	}
	if col < 0 || col >= len(r.columns) {
		return errs.Op(op, errs.ErrKindIndex, fmt.Sprintf("column %d out of range [0, %d)", col, len(r.columns)))
	}
	return nil
}

// Status returns the execution status.
func (r *Result) Status() (ExecStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.check("Result.Status"); err != nil {
		return 0, err
	}
	return r.status, nil
}

// CommandStatus returns the command tag, e.g. "SELECT 3" or "INSERT 0 1".
func (r *Result) CommandStatus() (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.check("Result.CommandStatus"); err != nil {
		return "", err
	}
	return r.tag, nil
}

// RowsAffected returns the row count from the command tag.
func (r *Result) RowsAffected() (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.check("Result.RowsAffected"); err != nil {
		return 0, err
	}
	return r.rowsAffected, nil
}

func (r *Result) RowCount() (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.check("Result.RowCount"); err != nil {
		return 0, err
	}
	return len(r.rows), nil
}

func (r *Result) ColumnCount() (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.check("Result.ColumnCount"); err != nil {
		return 0, err
	}
	return len(r.columns), nil
}

// Columns returns a copy of the column descriptions.
func (r *Result) Columns() ([]marshal.Column, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.check("Result.Columns"); err != nil {
		return nil, err
	}
	return append([]marshal.Column(nil), r.columns...), nil
}

func (r *Result) column(op string, col int) (marshal.Column, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.check(op); err != nil {
		return marshal.Column{}, err
	}
	if col < 0 || col >= len(r.columns) {
		return marshal.Column{}, errs.Op(op, errs.ErrKindIndex,
			fmt.Sprintf("column %d out of range [0, %d)", col, len(r.columns)))
	}
	return r.columns[col], nil
}

func (r *Result) ColumnName(col int) (string, error) {
	c, err := r.column("Result.ColumnName", col)
	return c.Name, err
}

// ColumnType returns the data type OID of a column.
func (r *Result) ColumnType(col int) (uint32, error) {
	c, err := r.column("Result.ColumnType", col)
	return c.OID, err
}

// ColumnIndex returns the index of the first column called name.
func (r *Result) ColumnIndex(name string) (int, error) {
	const op = "Result.ColumnIndex"
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.check(op); err != nil {
		return -1, err
	}
	for i, c := range r.columns {
		if c.Name == name {
			return i, nil
		}
	}
	return -1, errs.Op(op, errs.ErrKindIndex, fmt.Sprintf("no column named %q", name))
}

func (r *Result) IsNull(row, col int) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.checkCell("Result.IsNull", row, col); err != nil {
		return false, err
	}
	return r.rows[row][col] == nil, nil
}

// Get decodes one cell as type as. It fails with ErrKindTypeMismatch when
// the column's type cannot be read as as, and with ErrKindNullValue when the
// cell is NULL. Use GetNullable to accept NULL.
func (r *Result) Get(row, col int, as marshal.Type) (marshal.Value, error) {
	return r.get("Result.Get", row, col, as, false)
}

// GetNullable is Get, except that a NULL cell yields marshal.Null().
func (r *Result) GetNullable(row, col int, as marshal.Type) (marshal.Value, error) {
	return r.get("Result.GetNullable", row, col, as, true)
}

func (r *Result) get(op string, row, col int, as marshal.Type, nullable bool) (marshal.Value, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.checkCell(op, row, col); err != nil {
		return marshal.Value{}, err
	}

	column := r.columns[col]
	if !marshal.Compatible(column.OID, as) {
		return marshal.Value{}, errs.Op(op, errs.ErrKindTypeMismatch,
			fmt.Sprintf("column %q of type OID %d cannot be read as %s", column.Name, column.OID, as))
	}
	src := r.rows[row][col]
	if src == nil {
		if nullable {
			return marshal.Null(), nil
		}
		return marshal.Value{}, errs.Op(op, errs.ErrKindNullValue,
			fmt.Sprintf("row %d column %q is NULL", row, column.Name))
	}
	return r.decode(column, src, as)
}

func (r *Result) decode(column marshal.Column, src []byte, as marshal.Type) (marshal.Value, error) {
	if r.conn == nil {
		return marshal.Decode(nil, column, src, as)
	}
	r.conn.typeMu.Lock()
	defer r.conn.typeMu.Unlock()
	return marshal.Decode(r.conn.types, column, src, as)
}

// Bool reads a non-NULL bool cell.
func (r *Result) Bool(row, col int) (bool, error) {
	v, err := r.get("Result.Bool", row, col, marshal.TypeBool, false)
	return v.Bool(), err
}

// Int reads a non-NULL int2, int4, int8 or oid cell.
func (r *Result) Int(row, col int) (int64, error) {
	v, err := r.get("Result.Int", row, col, marshal.TypeInt, false)
	return v.Int(), err
}

// Float reads a non-NULL float4 or float8 cell.
func (r *Result) Float(row, col int) (float64, error) {
	v, err := r.get("Result.Float", row, col, marshal.TypeFloat, false)
	return v.Float(), err
}

// Text reads a non-NULL textual cell.
func (r *Result) Text(row, col int) (string, error) {
	v, err := r.get("Result.Text", row, col, marshal.TypeText, false)
	return v.Text(), err
}

// Bytes reads a non-NULL bytea cell.
func (r *Result) Bytes(row, col int) ([]byte, error) {
	v, err := r.get("Result.Bytes", row, col, marshal.TypeBytes, false)
	return v.Bytes(), err
}

// Maps returns every row as a column name to value map. Values are decoded
// with marshal.TypeAny; NULL becomes nil. When several columns share a name
// the rightmost wins.
func (r *Result) Maps() ([]map[string]any, error) {
	const op = "Result.Maps"
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.check(op); err != nil {
		return nil, err
	}

	out := make([]map[string]any, 0, len(r.rows))
	for _, row := range r.rows {
		m := make(map[string]any, len(r.columns))
		for i, column := range r.columns {
			if row[i] == nil {
				m[column.Name] = nil
				continue
			}
			v, err := r.decode(column, row[i], marshal.TypeAny)
			if err != nil {
				return nil, err
			}
			m[column.Name] = v.Any()
		}
		out = append(out, m)
	}
	return out, nil
}
