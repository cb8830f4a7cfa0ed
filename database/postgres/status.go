package postgres

import "fmt"

// ConnStatus is the last known state of a connection.
type ConnStatus int

const (
	StatusOK ConnStatus = iota
	StatusBad
)

func (s ConnStatus) String() string {
	if s == StatusOK {
		return "CONNECTION_OK"
	}
	return "CONNECTION_BAD"
}

// ExecStatus is the outcome of one statement. Only the success statuses are
// ever seen on a Result; failures are reported through *errs.Error, whose
// Status field carries the name of the failing status.
type ExecStatus int

const (
	ExecEmptyQuery ExecStatus = iota
	ExecCommandOK
	ExecTuplesOK
	ExecBadResponse
	ExecNonfatalError
	ExecFatalError
)

func (s ExecStatus) String() string {
	switch s {
	case ExecEmptyQuery:
		return "PGRES_EMPTY_QUERY"
	case ExecCommandOK:
		return "PGRES_COMMAND_OK"
	case ExecTuplesOK:
		return "PGRES_TUPLES_OK"
	case ExecBadResponse:
		return "PGRES_BAD_RESPONSE"
	case ExecNonfatalError:
		return "PGRES_NONFATAL_ERROR"
	case ExecFatalError:
		return "PGRES_FATAL_ERROR"
	default:
		return fmt.Sprintf("ExecStatus(%d)", int(s))
	}
}

// TxStatus is the server's transaction state as of the last completed round trip.
type TxStatus int

const (
	TxIdle TxStatus = iota
	TxInTrans
	TxInError
	TxUnknown
)

func (s TxStatus) String() string {
	switch s {
	case TxIdle:
		return "PQTRANS_IDLE"
	case TxInTrans:
		return "PQTRANS_INTRANS"
	case TxInError:
		return "PQTRANS_INERROR"
	default:
		return "PQTRANS_UNKNOWN"
	}
}

// txStatusFromByte maps the ReadyForQuery indicator byte.
func txStatusFromByte(b byte) TxStatus {
	switch b {
	case 'I':
		return TxIdle
	case 'T':
		return TxInTrans
	case 'E':
		return TxInError
	default:
		return TxUnknown
	}
}
