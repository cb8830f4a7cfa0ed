package postgres

import (
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/koustreak/pgsafe/database/marshal"
	"github.com/koustreak/pgsafe/errs"
	"github.com/koustreak/pgsafe/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestConn returns a Conn with no native connection behind it. Anything
// that gets past the argument checks fails with ErrKindUseAfterFree.
func newTestConn() *Conn {
	return &Conn{
		types:  pgtype.NewMap(),
		log:    logger.Nop(),
		events: newEventSink(logger.Nop(), nil),
	}
}

func newTestResult(c *Conn) *Result {
	return &Result{
		conn:         c,
		status:       ExecTuplesOK,
		tag:          "SELECT 2",
		rowsAffected: 2,
		columns: []marshal.Column{
			{Name: "id", OID: pgtype.Int4OID, Format: marshal.FormatBinary},
			{Name: "name", OID: pgtype.TextOID, Format: marshal.FormatBinary},
			{Name: "active", OID: pgtype.BoolOID, Format: marshal.FormatText},
			{Name: "score", OID: pgtype.Float8OID, Format: marshal.FormatText},
			{Name: "blob", OID: pgtype.ByteaOID, Format: marshal.FormatText},
		},
		rows: [][][]byte{
			{{0, 0, 0, 1}, []byte("alice"), []byte("t"), []byte("1.5"), []byte(`\x0102`)},
			{{0, 0, 0, 2}, nil, []byte("f"), nil, []byte(`\x`)},
		},
	}
}

func TestResult_Counts(t *testing.T) {
	r := newTestResult(newTestConn())

	rows, err := r.RowCount()
	require.NoError(t, err)
	assert.Equal(t, 2, rows)

	cols, err := r.ColumnCount()
	require.NoError(t, err)
	assert.Equal(t, 5, cols)

	status, err := r.Status()
	require.NoError(t, err)
	assert.Equal(t, ExecTuplesOK, status)

	tag, err := r.CommandStatus()
	require.NoError(t, err)
	assert.Equal(t, "SELECT 2", tag)

	affected, err := r.RowsAffected()
	require.NoError(t, err)
	assert.Equal(t, int64(2), affected)
}

func TestResult_TypedGetters(t *testing.T) {
	r := newTestResult(newTestConn())

	id, err := r.Int(0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	name, err := r.Text(0, 1)
	require.NoError(t, err)
	assert.Equal(t, "alice", name)

	active, err := r.Bool(1, 2)
	require.NoError(t, err)
	assert.False(t, active)

	score, err := r.Float(0, 3)
	require.NoError(t, err)
	assert.Equal(t, 1.5, score)

	blob, err := r.Bytes(0, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, blob)

	empty, err := r.Bytes(1, 4)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	v, err := r.Get(1, 0, marshal.TypeAny)
	require.NoError(t, err)
	assert.Equal(t, marshal.Int(2), v)
}

func TestResult_Null(t *testing.T) {
	r := newTestResult(newTestConn())

	null, err := r.IsNull(1, 1)
	require.NoError(t, err)
	assert.True(t, null)

	null, err = r.IsNull(0, 1)
	require.NoError(t, err)
	assert.False(t, null)

	_, err = r.Get(1, 1, marshal.TypeText)
	assert.True(t, errs.IsNullValue(err))

	_, err = r.Float(1, 3)
	assert.True(t, errs.IsNullValue(err))

	v, err := r.GetNullable(1, 1, marshal.TypeText)
	require.NoError(t, err)
	assert.True(t, v.IsNull())

	v, err = r.GetNullable(0, 1, marshal.TypeText)
	require.NoError(t, err)
	assert.Equal(t, "alice", v.Text())
}

func TestResult_TypeMismatch(t *testing.T) {
	r := newTestResult(newTestConn())

	_, err := r.Get(0, 0, marshal.TypeText)
	assert.True(t, errs.IsTypeMismatch(err))

	_, err = r.Bool(0, 3)
	assert.True(t, errs.IsTypeMismatch(err))

	// The mismatch is checked before NULL.
	_, err = r.Int(1, 1)
	assert.True(t, errs.IsTypeMismatch(err))

	// The result is still usable.
	id, err := r.Int(0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
}

func TestResult_IndexOutOfRange(t *testing.T) {
	r := newTestResult(newTestConn())

	tests := []struct {
		name string
		call func() error
	}{
		{"row too large", func() error { _, err := r.IsNull(2, 0); return err }},
		{"negative row", func() error { _, err := r.Get(-1, 0, marshal.TypeInt); return err }},
		{"column too large", func() error { _, err := r.Get(0, 5, marshal.TypeInt); return err }},
		{"negative column", func() error { _, err := r.Text(0, -1); return err }},
		{"column name", func() error { _, err := r.ColumnName(9); return err }},
		{"column type", func() error { _, err := r.ColumnType(-1); return err }},
		{"unknown column", func() error { _, err := r.ColumnIndex("missing"); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)
			assert.True(t, errs.IsIndexOutOfRange(err))
		})
	}
}

func TestResult_Columns(t *testing.T) {
	r := newTestResult(newTestConn())

	idx, err := r.ColumnIndex("name")
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	name, err := r.ColumnName(0)
	require.NoError(t, err)
	assert.Equal(t, "id", name)

	oid, err := r.ColumnType(1)
	require.NoError(t, err)
	assert.Equal(t, uint32(pgtype.TextOID), oid)

	cols, err := r.Columns()
	require.NoError(t, err)
	require.Len(t, cols, 5)
	cols[0].Name = "changed"

	name, err = r.ColumnName(0)
	require.NoError(t, err)
	assert.Equal(t, "id", name, "Columns must return a copy")
}

func TestResult_Maps(t *testing.T) {
	r := newTestResult(newTestConn())

	maps, err := r.Maps()
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{
		{"id": int64(1), "name": "alice", "active": true, "score": 1.5, "blob": []byte{1, 2}},
		{"id": int64(2), "name": nil, "active": false, "score": nil, "blob": []byte{}},
	}, maps)
}

func TestResult_Release(t *testing.T) {
	r := newTestResult(newTestConn())

	r.Release()
	assert.NotPanics(t, r.Release, "second Release is a no-op")

	calls := map[string]func() error{
		"RowCount":      func() error { _, err := r.RowCount(); return err },
		"ColumnCount":   func() error { _, err := r.ColumnCount(); return err },
		"Status":        func() error { _, err := r.Status(); return err },
		"CommandStatus": func() error { _, err := r.CommandStatus(); return err },
		"RowsAffected":  func() error { _, err := r.RowsAffected(); return err },
		"Columns":       func() error { _, err := r.Columns(); return err },
		"ColumnIndex":   func() error { _, err := r.ColumnIndex("id"); return err },
		"IsNull":        func() error { _, err := r.IsNull(0, 0); return err },
		"Get":           func() error { _, err := r.Get(0, 0, marshal.TypeInt); return err },
		"Maps":          func() error { _, err := r.Maps(); return err },
	}
	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			assert.True(t, errs.IsUseAfterFree(call()))
		})
	}
}

func TestResult_ConnectionClosed(t *testing.T) {
	c := newTestConn()
	r := newTestResult(c)
	require.NoError(t, c.Close())

	_, err := r.Int(0, 0)
	assert.True(t, errs.IsUseAfterFree(err))

	_, err = r.RowCount()
	assert.True(t, errs.IsUseAfterFree(err))
}

func TestResult_ConcurrentReads(t *testing.T) {
	r := newTestResult(newTestConn())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				id, err := r.Int(j%2, 0)
				assert.NoError(t, err)
				assert.Equal(t, int64(j%2+1), id)
				_, err = r.Maps()
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
}
