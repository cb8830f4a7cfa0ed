package postgres

import (
	"context"
	"errors"
	"net"
	"strconv"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/koustreak/pgsafe/errs"
)

// PostgreSQL SQLSTATE codes the wrapper looks at.
// Full list: https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	pgErrClassConnection = "08"
	pgErrClassAuth       = "28"
	pgErrAdminShutdown   = "57P01"
	pgErrCrashShutdown   = "57P02"
	pgErrCannotConnect   = "57P03"
	pgErrQueryCanceled   = "57014"
)

// mapError converts a pgconn error into a pgsafe *errs.Error, capturing the
// native message and SQLSTATE at the moment of failure.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return toError(op, err)
}

// toError is mapError for a non-nil err.
func toError(op string, err error) *errs.Error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		kind := errs.ErrKindQuery
		msg := "statement failed"
		switch {
		case isConnectionState(pgErr.Code):
			kind = errs.ErrKindConnection
			msg = "connection failed"
		case pgErr.Code == pgErrQueryCanceled:
			kind = errs.ErrKindTimeout
			msg = "statement canceled"
		}
		return &errs.Error{
			Kind:     kind,
			Op:       op,
			Message:  msg,
			Native:   pgErr.Message,
			Status:   ExecFatalError.String(),
			SQLState: pgErr.Code,
			Cause:    err,
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || pgconn.Timeout(err) {
		return &errs.Error{
			Kind:    errs.ErrKindTimeout,
			Op:      op,
			Message: "deadline exceeded or canceled",
			Native:  err.Error(),
			Cause:   err,
		}
	}

	// Everything else pgconn reports (dial failures, broken sockets, closed
	// or busy connections) means the connection itself is unusable.
	msg := "connection failed"
	var connErr *pgconn.ConnectError
	var netErr net.Error
	switch {
	case errors.As(err, &connErr):
		msg = "could not connect"
	case errors.As(err, &netErr):
		msg = "network error"
	}
	return &errs.Error{
		Kind:    errs.ErrKindConnection,
		Op:      op,
		Message: msg,
		Native:  err.Error(),
		Cause:   err,
	}
}

func isConnectionState(code string) bool {
	if len(code) < 2 {
		return false
	}
	switch code[:2] {
	case pgErrClassConnection, pgErrClassAuth:
		return true
	}
	switch code {
	case pgErrAdminShutdown, pgErrCrashShutdown, pgErrCannotConnect:
		return true
	}
	return false
}

// DiagField identifies one field of a server error or notice report. The
// values are the protocol's field type codes.
type DiagField byte

const (
	DiagSeverity             DiagField = 'S'
	DiagSeverityNonlocalized DiagField = 'V'
	DiagSQLState             DiagField = 'C'
	DiagMessagePrimary       DiagField = 'M'
	DiagMessageDetail        DiagField = 'D'
	DiagMessageHint          DiagField = 'H'
	DiagStatementPosition    DiagField = 'P'
	DiagInternalPosition     DiagField = 'p'
	DiagInternalQuery        DiagField = 'q'
	DiagContext              DiagField = 'W'
	DiagSchemaName           DiagField = 's'
	DiagTableName            DiagField = 't'
	DiagColumnName           DiagField = 'c'
	DiagDatatypeName         DiagField = 'd'
	DiagConstraintName       DiagField = 'n'
	DiagSourceFile           DiagField = 'F'
	DiagSourceLine           DiagField = 'L'
	DiagSourceFunction       DiagField = 'R'
)

// ErrorField returns one field of the server error report behind err.
// ok is false when err did not come from the server or the server left the
// field empty.
func ErrorField(err error, field DiagField) (value string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	value = diagField(pgErr, field)
	return value, value != ""
}

func diagField(e *pgconn.PgError, field DiagField) string {
	switch field {
	case DiagSeverity:
		return e.Severity
	case DiagSeverityNonlocalized:
		return e.SeverityUnlocalized
	case DiagSQLState:
		return e.Code
	case DiagMessagePrimary:
		return e.Message
	case DiagMessageDetail:
		return e.Detail
	case DiagMessageHint:
		return e.Hint
	case DiagStatementPosition:
		return positive(e.Position)
	case DiagInternalPosition:
		return positive(e.InternalPosition)
	case DiagInternalQuery:
		return e.InternalQuery
	case DiagContext:
		return e.Where
	case DiagSchemaName:
		return e.SchemaName
	case DiagTableName:
		return e.TableName
	case DiagColumnName:
		return e.ColumnName
	case DiagDatatypeName:
		return e.DataTypeName
	case DiagConstraintName:
		return e.ConstraintName
	case DiagSourceFile:
		return e.File
	case DiagSourceLine:
		return positive(e.Line)
	case DiagSourceFunction:
		return e.Routine
	}
	return ""
}

func positive(n int32) string {
	if n <= 0 {
		return ""
	}
	return strconv.Itoa(int(n))
}
