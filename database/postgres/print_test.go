package postgres

import (
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/koustreak/pgsafe/database/marshal"
	"github.com/koustreak/pgsafe/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPrintResult() *Result {
	return &Result{
		conn:   newTestConn(),
		status: ExecTuplesOK,
		tag:    "SELECT 2",
		columns: []marshal.Column{
			{Name: "one", OID: pgtype.Int4OID},
			{Name: "two", OID: pgtype.TextOID},
		},
		rows: [][][]byte{
			{[]byte("1"), []byte("a")},
			{[]byte("10"), nil},
		},
	}
}

func TestPrint(t *testing.T) {
	tests := []struct {
		name string
		opts PrintOptions
		want string
	}{
		{
			name: "aligned",
			opts: DefaultPrintOptions(),
			want: " one | two\n" +
				"-----+-----\n" +
				"   1 | a\n" +
				"  10 |\n" +
				"(2 rows)\n",
		},
		{
			name: "aligned without header or footer",
			opts: PrintOptions{Align: true},
			want: "  1 | a\n" +
				" 10 |\n",
		},
		{
			name: "unaligned",
			opts: PrintOptions{Header: true, Footer: true, FieldSep: ","},
			want: "one,two\n" +
				"1,a\n" +
				"10,\n" +
				"(2 rows)\n",
		},
		{
			name: "unaligned default separator",
			opts: PrintOptions{},
			want: "1|a\n" +
				"10|\n",
		},
		{
			name: "expanded",
			opts: PrintOptions{Expanded: true, Align: true, Footer: true},
			want: "-[ RECORD 1 ]\n" +
				"one | 1\n" +
				"two | a\n" +
				"-[ RECORD 2 ]\n" +
				"one | 10\n" +
				"two |\n",
		},
		{
			name: "expanded unaligned",
			opts: PrintOptions{Expanded: true, FieldSep: "="},
			want: "one=1\n" +
				"two=a\n" +
				"\n" +
				"one=10\n" +
				"two=\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b strings.Builder
			require.NoError(t, newPrintResult().Print(&b, tt.opts))
			assert.Equal(t, tt.want, b.String())
		})
	}
}

func TestPrint_BinaryColumns(t *testing.T) {
	r := &Result{
		conn:   newTestConn(),
		status: ExecTuplesOK,
		columns: []marshal.Column{
			{Name: "n", OID: pgtype.Int8OID, Format: marshal.FormatBinary},
			{Name: "ok", OID: pgtype.BoolOID, Format: marshal.FormatBinary},
		},
		rows: [][][]byte{
			{{0, 0, 0, 0, 0, 0, 0, 42}, {1}},
		},
	}

	assert.Equal(t, " n  | ok\n----+----\n 42 | t\n(1 row)\n", r.String())
}

func TestPrint_NoRows(t *testing.T) {
	r := &Result{
		conn:    newTestConn(),
		status:  ExecTuplesOK,
		tag:     "SELECT 0",
		columns: []marshal.Column{{Name: "one", OID: pgtype.Int4OID}},
	}
	assert.Equal(t, " one\n-----\n(0 rows)\n", r.String())
}

func TestPrint_CommandResult(t *testing.T) {
	r := &Result{conn: newTestConn(), status: ExecCommandOK, tag: "INSERT 0 1", rowsAffected: 1}
	assert.Equal(t, "INSERT 0 1\n", r.String())

	empty := &Result{conn: newTestConn(), status: ExecEmptyQuery}
	assert.Equal(t, "", empty.String())
}

func TestPrint_Released(t *testing.T) {
	r := newPrintResult()
	r.Release()

	var b strings.Builder
	err := r.Print(&b, DefaultPrintOptions())
	assert.True(t, errs.IsUseAfterFree(err))
	assert.Empty(t, b.String())
	assert.Contains(t, r.String(), "use_after_free")
}
