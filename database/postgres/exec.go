package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/koustreak/pgsafe/database/marshal"
	"github.com/koustreak/pgsafe/errs"
)

// Execute runs one statement and returns its fully materialized result.
//
// Without params the statement goes through the simple query protocol: sql
// may hold several statements separated by semicolons, the result of the
// last one is returned, and columns come back in text format. With params,
// sql must be a single statement whose $1..$N placeholders match params
// exactly; columns come back in the configured result format.
//
// The placeholder count and every parameter are checked before anything is
// sent. When the server rejects the statement no Result is returned and
// nothing is left for the caller to release.
func (c *Conn) Execute(ctx context.Context, sql string, params ...marshal.Value) (*Result, error) {
	const op = "Execute"
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkOpen(op); err != nil {
		return nil, err
	}
	if err := checkSQL(sql); err != nil {
		return nil, err
	}
	if n := countPlaceholders(sql); n != len(params) {
		return nil, errs.Op(op, errs.ErrKindParameterCount,
			fmt.Sprintf("statement has %d placeholders but %d parameters were supplied", n, len(params)))
	}

	var enc *marshal.Encoded
	if len(params) > 0 {
		var err error
		c.typeMu.Lock()
		enc, err = marshal.EncodeAll(c.types, params)
		c.typeMu.Unlock()
		if err != nil {
			return nil, err
		}
	}
	if c.pg == nil {
		return nil, errs.Op(op, errs.ErrKindUseAfterFree, "connection is not open")
	}

	ctx, cancel := c.withQueryTimeout(ctx)
	defer cancel()

	start := time.Now()
	var (
		res *Result
		err error
	)
	if enc == nil {
		res, err = c.execSimple(ctx, sql)
	} else {
		res, err = c.execParams(ctx, sql, enc)
	}
	c.afterRoundTrip(err)

	log := c.logFor(ctx)
	if err != nil {
		e := toError(op, err)
		log.WarnWith("statement failed", e, map[string]interface{}{
			"sqlstate":    e.SQLState,
			"params":      len(params),
			"duration_ms": time.Since(start).Milliseconds(),
		})
		return nil, e
	}

	log.DebugWith("statement complete", map[string]interface{}{
		"status":      res.status.String(),
		"command":     res.tag,
		"rows":        len(res.rows),
		"params":      len(params),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return res, nil
}

// execDiscard runs sql for its side effect only.
func (c *Conn) execDiscard(ctx context.Context, sql string) error {
	res, err := c.Execute(ctx, sql)
	if err != nil {
		return err
	}
	res.Release()
	return nil
}

func (c *Conn) execSimple(ctx context.Context, sql string) (*Result, error) {
	mrr := c.pg.Exec(ctx, sql)

	var last *Result
	for mrr.NextResult() {
		res, err := c.materialize(mrr.ResultReader())
		if err != nil {
			_ = mrr.Close()
			return nil, err
		}
		last = res
	}
	if err := mrr.Close(); err != nil {
		return nil, err
	}

	if last == nil {
		last = &Result{conn: c, status: ExecEmptyQuery}
	}
	return last, nil
}

func (c *Conn) execParams(ctx context.Context, sql string, enc *marshal.Encoded) (*Result, error) {
	resultFormat := int16(pgtype.TextFormatCode)
	if c.binaryResults {
		resultFormat = pgtype.BinaryFormatCode
	}
	rr := c.pg.ExecParams(ctx, sql, enc.Values, enc.OIDs, enc.Formats, []int16{resultFormat})
	return c.materialize(rr)
}

// materialize reads every row of rr and closes it. The reader's buffers are
// reused by the next read, so each row is copied.
func (c *Conn) materialize(rr *pgconn.ResultReader) (*Result, error) {
	fields := rr.FieldDescriptions()
	columns := make([]marshal.Column, len(fields))
	for i, f := range fields {
		columns[i] = marshal.Column{
			Name:         f.Name,
			OID:          f.DataTypeOID,
			Format:       marshal.Format(f.Format),
			TypeSize:     f.DataTypeSize,
			TypeModifier: f.TypeModifier,
			TableOID:     f.TableOID,
			TableColumn:  f.TableAttributeNumber,
		}
	}

	var rows [][][]byte
	for rr.NextRow() {
		rows = append(rows, marshal.CloneRow(rr.Values()))
	}
	tag, err := rr.Close()
	if err != nil {
		return nil, err
	}

	status := ExecCommandOK
	switch {
	case fields != nil || tag.Select():
		status = ExecTuplesOK
	case tag.String() == "":
		status = ExecEmptyQuery
	}

	return &Result{
		conn:         c,
		status:       status,
		tag:          tag.String(),
		rowsAffected: tag.RowsAffected(),
		columns:      columns,
		rows:         rows,
	}, nil
}
