// Package postgres is the safe wrapper around a single native PostgreSQL
// connection.
//
// A Conn owns exactly one native connection. Every call that talks to the
// server takes the connection's lock for the whole round trip, so statements
// from different goroutines are serialized and never interleave on the wire.
// Results are fully read before Execute returns.
//
// Usage:
//
//	conn, err := postgres.Open(ctx, database.DefaultConfig(dsn))
//	if err != nil {
//	    return err
//	}
//	defer conn.Close()
//
//	res, err := conn.Execute(ctx, "SELECT $1::int4 + 1", marshal.Int(41))
//	if err != nil {
//	    return err
//	}
//	defer res.Release()
//	n, err := res.Int(0, 0)
package postgres

import (
	"context"
	"io"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/koustreak/pgsafe/database"
	"github.com/koustreak/pgsafe/errs"
	"github.com/koustreak/pgsafe/logger"
)

// closeTimeout bounds the Terminate message sent on Close.
const closeTimeout = 5 * time.Second

// Conn is an open connection. It is safe for use by multiple goroutines;
// calls are serialized.
type Conn struct {
	mu sync.Mutex // held for every round trip
	pg *pgconn.PgConn

	// types is not safe for concurrent use; Results decode through it too.
	typeMu sync.Mutex
	types  *pgtype.Map

	log    *logger.Logger
	events *eventSink
	pid    uint32

	// waitCancel interrupts a pending WaitForNotification so Close can take mu.
	waitMu     sync.Mutex
	waitCancel context.CancelFunc

	binaryResults bool
	queryTimeout  time.Duration

	closed  atomic.Bool
	bad     atomic.Bool
	lastErr atomic.Pointer[string]

	cleanup runtime.Cleanup
}

// Option configures Open.
type Option func(*options)

type options struct {
	log      *logger.Logger
	onNotice NoticeHandler
	types    *pgtype.Map
}

// WithLogger sets the logger used for connection events. The default is
// logger.Global(), which discards everything until logger.SetGlobal is called.
// A logger attached to the context passed to Execute takes precedence for
// that statement.
func WithLogger(l *logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithNoticeHandler installs fn as the initial notice handler.
func WithNoticeHandler(fn NoticeHandler) Option {
	return func(o *options) { o.onNotice = fn }
}

// WithTypeMap sets the type map used to encode Typed parameters and decode
// columns of extended types. Register custom types (enums, composites) on it
// before opening. The map must not be shared with another connection.
func WithTypeMap(m *pgtype.Map) Option {
	return func(o *options) { o.types = m }
}

// Open establishes a connection and blocks until the handshake and
// authentication finish. Any failure is reported as ErrKindConnection with
// the native message attached.
func Open(ctx context.Context, cfg *database.Config, opts ...Option) (*Conn, error) {
	const op = "Open"
	if cfg == nil {
		cfg = database.DefaultConfig("")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	connString, err := cfg.ConnString()
	if err != nil {
		return nil, err
	}

	o := options{log: logger.Global()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.types == nil {
		o.types = pgtype.NewMap()
	}

	pgCfg, err := nativeConfig(connString, cfg.ConnectTimeout)
	if err != nil {
		return nil, err
	}

	events := newEventSink(o.log, o.onNotice)
	pgCfg.OnNotice = events.notice
	pgCfg.OnNotification = events.notification

	start := time.Now()
	pg, err := pgconn.ConnectConfig(ctx, pgCfg)
	if err != nil {
		e := toError(op, err)
		e.Kind = errs.ErrKindConnection
		o.log.WarnWith("connect failed", e, map[string]interface{}{
			"host":     pgCfg.Host,
			"port":     pgCfg.Port,
			"database": pgCfg.Database,
		})
		return nil, e
	}

	log := o.log.With().
		Uint32("pid", pg.PID()).
		Str("database", pgCfg.Database).
		Logger()
	events.setLogger(log)

	c := &Conn{
		pg:            pg,
		types:         o.types,
		log:           log,
		events:        events,
		pid:           pg.PID(),
		binaryResults: cfg.BinaryResults(),
		queryTimeout:  cfg.QueryTimeout,
	}
	c.cleanup = runtime.AddCleanup(c, closeAbandoned, abandoned{pg: pg, log: log})

	c.log.DebugWith("connected", map[string]interface{}{
		"host":        pgCfg.Host,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return c, nil
}

// nativeConfig parses connString for the native library. A positive
// connectTimeout overrides the string's connect_timeout; when neither is set
// database.DefaultConnectTimeout applies.
func nativeConfig(connString string, connectTimeout time.Duration) (*pgconn.Config, error) {
	pgCfg, err := pgconn.ParseConfig(connString)
	if err != nil {
		return nil, &errs.Error{
			Kind:    errs.ErrKindConnection,
			Op:      "Open",
			Message: "invalid connection parameters",
			Native:  err.Error(),
			Cause:   err,
		}
	}
	switch {
	case connectTimeout > 0:
		pgCfg.ConnectTimeout = connectTimeout
	case pgCfg.ConnectTimeout == 0:
		pgCfg.ConnectTimeout = database.DefaultConnectTimeout
	}
	return pgCfg, nil
}

// abandoned is what the cleanup of an unreachable Conn needs. It must not
// reference the Conn itself.
type abandoned struct {
	pg  *pgconn.PgConn
	log *logger.Logger
}

// closeAbandoned releases the native connection of a Conn that became
// unreachable without Close.
func closeAbandoned(a abandoned) {
	a.log.WarnWith("connection released without Close", nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := a.pg.Close(ctx); err != nil {
		a.log.ErrorWith("close failed", err, nil)
	}
}

// Status reports the last known connection state without doing any I/O.
func (c *Conn) Status() ConnStatus {
	if c.closed.Load() || c.bad.Load() {
		return StatusBad
	}
	return StatusOK
}

// ErrorMessage returns the native error message of the most recent failed
// call, or "" if the most recent call succeeded.
func (c *Conn) ErrorMessage() string {
	if p := c.lastErr.Load(); p != nil {
		return *p
	}
	return ""
}

// Close releases the native connection. Calling it again is a no-op.
// Results obtained from the connection become unusable, and a pending
// WaitForNotification returns ErrKindUseAfterFree.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.waitMu.Lock()
	if c.waitCancel != nil {
		c.waitCancel()
	}
	c.waitMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pg == nil {
		return nil
	}
	c.cleanup.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	err := c.pg.Close(ctx)
	c.bad.Store(true)
	if err != nil {
		c.log.ErrorWith("close failed", err, nil)
		return mapError("Close", err)
	}
	c.log.DebugWith("connection closed", nil)
	return nil
}

// PID returns the server process ID serving this connection, or 0 once closed.
func (c *Conn) PID() uint32 {
	if c.closed.Load() || c.pg == nil {
		return 0
	}
	return c.pg.PID()
}

// ParameterStatus returns a server parameter reported at startup or since,
// such as "server_version", "client_encoding" or "TimeZone".
func (c *Conn) ParameterStatus(key string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() || c.pg == nil {
		return ""
	}
	return c.pg.ParameterStatus(key)
}

// ServerVersion returns the server version as an integer, e.g. 160002 for
// 16.2 and 90624 for 9.6.24, or 0 when unknown.
func (c *Conn) ServerVersion() int {
	return parseServerVersion(c.ParameterStatus("server_version"))
}

func parseServerVersion(s string) int {
	if i := strings.IndexFunc(s, func(r rune) bool { return r != '.' && (r < '0' || r > '9') }); i >= 0 {
		s = s[:i]
	}
	parts := strings.Split(s, ".")
	nums := make([]int, 3)
	for i := 0; i < len(parts) && i < 3; i++ {
		n, err := strconv.Atoi(parts[i])
		if err != nil {
			return 0
		}
		nums[i] = n
	}
	if nums[0] >= 10 {
		return nums[0]*10000 + nums[1]
	}
	return nums[0]*10000 + nums[1]*100 + nums[2]
}

// TxStatus returns the transaction state reported by the last round trip.
func (c *Conn) TxStatus() TxStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() || c.pg == nil || c.pg.IsClosed() {
		return TxUnknown
	}
	return txStatusFromByte(c.pg.TxStatus())
}

// Trace writes every protocol message exchanged on the connection to w
// until Untrace is called.
func (c *Conn) Trace(w io.Writer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen("Trace"); err != nil {
		return err
	}
	if c.pg != nil {
		c.pg.Frontend().Trace(w, pgproto3.TracerOptions{SuppressTimestamps: true})
	}
	return nil
}

// Untrace stops tracing.
func (c *Conn) Untrace() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed.Load() && c.pg != nil {
		c.pg.Frontend().Untrace()
	}
}

// Ping checks that the server still answers.
func (c *Conn) Ping(ctx context.Context) error {
	const op = "Ping"
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(op); err != nil {
		return err
	}
	if c.pg == nil {
		return errs.Op(op, errs.ErrKindUseAfterFree, "connection is not open")
	}

	ctx, cancel := c.withQueryTimeout(ctx)
	defer cancel()
	err := c.pg.Ping(ctx)
	c.afterRoundTrip(err)
	return mapError(op, err)
}

func (c *Conn) checkOpen(op string) error {
	if c.closed.Load() {
		return errs.Op(op, errs.ErrKindUseAfterFree, "connection is closed")
	}
	return nil
}

// afterRoundTrip records the outcome of a native call. Caller holds c.mu.
func (c *Conn) afterRoundTrip(err error) {
	if err != nil {
		msg := toError("", err).Native
		c.lastErr.Store(&msg)
	} else {
		c.lastErr.Store(nil)
	}
	c.bad.Store(c.pg.IsClosed())
}

// logFor returns the logger attached to ctx, tagged with this connection's
// pid, or the connection's own logger.
func (c *Conn) logFor(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l.With().Uint32("pid", c.pid).Logger()
	}
	return c.log
}

func (c *Conn) withQueryTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || c.queryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.queryTimeout)
}
