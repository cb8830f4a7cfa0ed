package postgres

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/koustreak/pgsafe/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapError_Nil(t *testing.T) {
	assert.NoError(t, mapError("Execute", nil))
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKind errs.ErrKind
		wantCode string
	}{
		{"syntax error", &pgconn.PgError{Code: "42601", Message: `syntax error at or near "BAD"`}, errs.ErrKindQuery, "42601"},
		{"undefined table", &pgconn.PgError{Code: "42P01", Message: "relation does not exist"}, errs.ErrKindQuery, "42P01"},
		{"connection failure", &pgconn.PgError{Code: "08006", Message: "connection failure"}, errs.ErrKindConnection, "08006"},
		{"bad password", &pgconn.PgError{Code: "28P01", Message: "password authentication failed"}, errs.ErrKindConnection, "28P01"},
		{"admin shutdown", &pgconn.PgError{Code: "57P01", Message: "terminating connection"}, errs.ErrKindConnection, "57P01"},
		{"query canceled", &pgconn.PgError{Code: "57014", Message: "canceling statement"}, errs.ErrKindTimeout, "57014"},
		{"wrapped server error", fmt.Errorf("exec: %w", &pgconn.PgError{Code: "22012", Message: "division by zero"}), errs.ErrKindQuery, "22012"},
		{"deadline", context.DeadlineExceeded, errs.ErrKindTimeout, ""},
		{"canceled", fmt.Errorf("read: %w", context.Canceled), errs.ErrKindTimeout, ""},
		{"broken socket", io.ErrUnexpectedEOF, errs.ErrKindConnection, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mapError("Execute", tt.err)
			require.Error(t, err)

			var e *errs.Error
			require.True(t, errors.As(err, &e))
			assert.Equal(t, tt.wantKind, e.Kind)
			assert.Equal(t, "Execute", e.Op)
			assert.Equal(t, tt.wantCode, e.SQLState)
			assert.NotEmpty(t, e.Native)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestMapError_CarriesNativeMessage(t *testing.T) {
	pgErr := &pgconn.PgError{Severity: "ERROR", Code: "42601", Message: `syntax error at or near "BAD"`}
	err := mapError("Execute", pgErr)

	assert.True(t, errs.IsQueryFailed(err))
	assert.Equal(t,
		`[query_failed] Execute: statement failed: syntax error at or near "BAD" (SQLSTATE 42601)`,
		err.Error())

	var e *errs.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, "PGRES_FATAL_ERROR", e.Status)

	var got *pgconn.PgError
	require.True(t, errors.As(err, &got))
	assert.Same(t, pgErr, got)
}

func TestErrorField(t *testing.T) {
	pgErr := &pgconn.PgError{
		Severity:            "ERROR",
		SeverityUnlocalized: "ERROR",
		Code:                "23505",
		Message:             "duplicate key value violates unique constraint",
		Detail:              "Key (id)=(1) already exists.",
		Position:            12,
		SchemaName:          "public",
		TableName:           "users",
		ConstraintName:      "users_pkey",
		File:                "nbtinsert.c",
		Line:                666,
		Routine:             "_bt_check_unique",
	}
	err := mapError("Execute", pgErr)

	tests := []struct {
		field  DiagField
		want   string
		wantOK bool
	}{
		{DiagSeverity, "ERROR", true},
		{DiagSeverityNonlocalized, "ERROR", true},
		{DiagSQLState, "23505", true},
		{DiagMessagePrimary, "duplicate key value violates unique constraint", true},
		{DiagMessageDetail, "Key (id)=(1) already exists.", true},
		{DiagMessageHint, "", false},
		{DiagStatementPosition, "12", true},
		{DiagInternalPosition, "", false},
		{DiagSchemaName, "public", true},
		{DiagTableName, "users", true},
		{DiagColumnName, "", false},
		{DiagConstraintName, "users_pkey", true},
		{DiagSourceFile, "nbtinsert.c", true},
		{DiagSourceLine, "666", true},
		{DiagSourceFunction, "_bt_check_unique", true},
		{DiagField('?'), "", false},
	}

	for _, tt := range tests {
		t.Run(string(rune(tt.field)), func(t *testing.T) {
			got, ok := ErrorField(err, tt.field)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestErrorField_NotServerError(t *testing.T) {
	_, ok := ErrorField(errs.New(errs.ErrKindIndex, "out of range"), DiagSQLState)
	assert.False(t, ok)

	_, ok = ErrorField(nil, DiagSQLState)
	assert.False(t, ok)
}

func TestStatusStrings(t *testing.T) {
	assert.Equal(t, "CONNECTION_OK", StatusOK.String())
	assert.Equal(t, "CONNECTION_BAD", StatusBad.String())

	assert.Equal(t, "PGRES_EMPTY_QUERY", ExecEmptyQuery.String())
	assert.Equal(t, "PGRES_COMMAND_OK", ExecCommandOK.String())
	assert.Equal(t, "PGRES_TUPLES_OK", ExecTuplesOK.String())
	assert.Equal(t, "PGRES_FATAL_ERROR", ExecFatalError.String())
	assert.Equal(t, "ExecStatus(42)", ExecStatus(42).String())

	assert.Equal(t, TxIdle, txStatusFromByte('I'))
	assert.Equal(t, TxInTrans, txStatusFromByte('T'))
	assert.Equal(t, TxInError, txStatusFromByte('E'))
	assert.Equal(t, TxUnknown, txStatusFromByte(0))
	assert.Equal(t, "PQTRANS_INTRANS", TxInTrans.String())
}
