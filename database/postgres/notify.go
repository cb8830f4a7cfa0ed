package postgres

import (
	"context"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/koustreak/pgsafe/database/marshal"
	"github.com/koustreak/pgsafe/errs"
	"github.com/koustreak/pgsafe/logger"
)

// Notice is a non-error message from the server (NOTICE, WARNING, INFO, ...),
// for example the output of RAISE NOTICE.
type Notice struct {
	Severity string
	Code     string // SQLSTATE
	Message  string
	Detail   string
	Hint     string
}

// String renders the notice the way the native library's default notice
// processor prints it, e.g. "NOTICE:  Hello,\n".
func (n *Notice) String() string {
	var b strings.Builder
	b.WriteString(n.Severity)
	b.WriteString(":  ")
	b.WriteString(n.Message)
	b.WriteByte('\n')
	if n.Detail != "" {
		b.WriteString("DETAIL:  ")
		b.WriteString(n.Detail)
		b.WriteByte('\n')
	}
	if n.Hint != "" {
		b.WriteString("HINT:  ")
		b.WriteString(n.Hint)
		b.WriteByte('\n')
	}
	return b.String()
}

// NoticeHandler receives server notices. It runs on the goroutine that is
// executing the statement which produced the notice and must not call back
// into the connection.
type NoticeHandler func(*Notice)

// Notification is a LISTEN/NOTIFY message.
type Notification struct {
	PID     uint32 // backend that sent it
	Channel string
	Payload string
}

// eventSink receives asynchronous server messages. The native connection
// holds a reference to it through its callbacks, so it must never point back
// at the Conn or the abandoned-connection cleanup could not run.
type eventSink struct {
	mu       sync.Mutex
	log      *logger.Logger
	onNotice NoticeHandler
	pending  []*Notification
}

func newEventSink(log *logger.Logger, onNotice NoticeHandler) *eventSink {
	return &eventSink{log: log, onNotice: onNotice}
}

func (s *eventSink) notice(_ *pgconn.PgConn, n *pgconn.Notice) {
	notice := &Notice{
		Severity: n.Severity,
		Code:     n.Code,
		Message:  n.Message,
		Detail:   n.Detail,
		Hint:     n.Hint,
	}
	s.mu.Lock()
	log, fn := s.log, s.onNotice
	s.mu.Unlock()

	log.InfoWith("server notice", map[string]interface{}{
		"severity": notice.Severity,
		"sqlstate": notice.Code,
		"message":  notice.Message,
	})
	if fn != nil {
		fn(notice)
	}
}

func (s *eventSink) notification(_ *pgconn.PgConn, n *pgconn.Notification) {
	s.mu.Lock()
	s.pending = append(s.pending, &Notification{PID: n.PID, Channel: n.Channel, Payload: n.Payload})
	log := s.log
	s.mu.Unlock()
	log.DebugWith("notification received", map[string]interface{}{
		"channel": n.Channel,
		"pid":     n.PID,
	})
}

func (s *eventSink) setLogger(log *logger.Logger) {
	s.mu.Lock()
	s.log = log
	s.mu.Unlock()
}

func (s *eventSink) setNoticeHandler(fn NoticeHandler) NoticeHandler {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.onNotice
	s.onNotice = fn
	return prev
}

func (s *eventSink) drain() []*Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pending
	s.pending = nil
	return out
}

func (s *eventSink) pop() *Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil
	}
	n := s.pending[0]
	s.pending = s.pending[1:]
	return n
}

// SetNoticeHandler replaces the notice handler and returns the previous one.
// A nil handler leaves notices to the connection's logger only.
func (c *Conn) SetNoticeHandler(fn NoticeHandler) NoticeHandler {
	return c.events.setNoticeHandler(fn)
}

// Listen subscribes the connection to channel.
func (c *Conn) Listen(ctx context.Context, channel string) error {
	return c.execDiscard(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize())
}

// Unlisten removes the subscription to channel. An empty channel or "*"
// removes all subscriptions.
func (c *Conn) Unlisten(ctx context.Context, channel string) error {
	if channel == "" || channel == "*" {
		return c.execDiscard(ctx, "UNLISTEN *")
	}
	return c.execDiscard(ctx, "UNLISTEN "+pgx.Identifier{channel}.Sanitize())
}

// Notify sends payload on channel.
func (c *Conn) Notify(ctx context.Context, channel, payload string) error {
	res, err := c.Execute(ctx, "SELECT pg_notify($1, $2)", marshal.Text(channel), marshal.Text(payload))
	if err != nil {
		return err
	}
	res.Release()
	return nil
}

// Notifies returns the notifications received so far and clears the queue.
// It never blocks or touches the network; notifications are picked up by
// whatever round trip happens to read them.
func (c *Conn) Notifies() []*Notification {
	return c.events.drain()
}

// WaitForNotification returns the oldest queued notification, or blocks
// until the server sends one or ctx is done. The connection is held for the
// whole wait, so other calls on it block until this one returns. Close
// interrupts the wait.
func (c *Conn) WaitForNotification(ctx context.Context) (*Notification, error) {
	const op = "WaitForNotification"
	if n := c.events.pop(); n != nil {
		return n, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Registered before the closed check: Close marks the conn closed before
	// it cancels, so a wait that misses the cancel sees closed instead.
	ctx, done := c.beginWait(ctx)
	defer done()
	if err := c.checkOpen(op); err != nil {
		return nil, err
	}
	if c.pg == nil {
		return nil, errs.Op(op, errs.ErrKindUseAfterFree, "connection is not open")
	}

	err := c.pg.WaitForNotification(ctx)
	c.afterRoundTrip(err)
	if err != nil {
		if c.closed.Load() {
			return nil, errs.Op(op, errs.ErrKindUseAfterFree, "connection closed while waiting")
		}
		return nil, mapError(op, err)
	}
	if n := c.events.pop(); n != nil {
		return n, nil
	}
	return nil, errs.Op(op, errs.ErrKindConnection, "notification was not queued")
}

// beginWait derives a context that Close cancels. done must be called when
// the wait ends.
func (c *Conn) beginWait(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	c.waitMu.Lock()
	c.waitCancel = cancel
	c.waitMu.Unlock()
	return ctx, func() {
		c.waitMu.Lock()
		c.waitCancel = nil
		c.waitMu.Unlock()
		cancel()
	}
}
