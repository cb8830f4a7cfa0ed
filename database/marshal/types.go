// Package marshal converts between PostgreSQL wire representations and host
// values.
//
// It is the only place in pgsafe that interprets raw cell or parameter
// bytes. Every function is stateless apart from the *pgtype.Map it is handed,
// which belongs to a connection and carries that connection's registered
// types. Failures are reported as *errs.Error with ErrKindEncoding or
// ErrKindTypeMismatch.
package marshal

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
)

// Type is the host-side semantic type of a value.
type Type int

const (
	TypeNull Type = iota
	TypeBool
	TypeInt
	TypeFloat
	TypeText
	TypeBytes
	TypeAny // whatever the column holds, decoded through the connection's type map
)

func (t Type) String() string {
	switch t {
	case TypeNull:
		return "null"
	case TypeBool:
		return "bool"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeText:
		return "text"
	case TypeBytes:
		return "bytes"
	case TypeAny:
		return "any"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// Format is a wire format code. The numbering matches the protocol.
type Format int16

const (
	FormatText   Format = pgtype.TextFormatCode
	FormatBinary Format = pgtype.BinaryFormatCode
)

func (f Format) String() string {
	if f == FormatBinary {
		return "binary"
	}
	return "text"
}

// Value is a host value tagged with its semantic type. The zero Value is NULL.
//
// When a Value is used as a statement parameter its declared wire type is
// taken from OID, or inferred from its Type when OID is zero.
type Value struct {
	typ Type
	oid uint32

	b   bool
	i   int64
	f   float64
	s   string
	raw []byte
	any any
}

func Null() Value           { return Value{} }
func Bool(b bool) Value     { return Value{typ: TypeBool, b: b} }
func Int(i int64) Value     { return Value{typ: TypeInt, i: i} }
func Float(f float64) Value { return Value{typ: TypeFloat, f: f} }
func Text(s string) Value   { return Value{typ: TypeText, s: s} }

// Bytes wraps b without copying it; b must not be modified while the Value is in use.
func Bytes(b []byte) Value {
	if b == nil {
		b = []byte{}
	}
	return Value{typ: TypeBytes, raw: b}
}

// Typed wraps an arbitrary Go value that the connection's pgtype.Map knows
// how to encode as oid, e.g. Typed(pgtype.TimestamptzOID, time.Now()).
func Typed(oid uint32, v any) Value {
	if v == nil {
		return Value{oid: oid}
	}
	return Value{typ: TypeAny, oid: oid, any: v}
}

// WithOID returns a copy of v declared as the given wire type. For example
// Int(7).WithOID(pgtype.Int4OID) is sent as a four byte integer.
func (v Value) WithOID(oid uint32) Value {
	v.oid = oid
	return v
}

func (v Value) Type() Type   { return v.typ }
func (v Value) IsNull() bool { return v.typ == TypeNull }

// OID returns the declared wire type, inferring it from the Type when unset.
// NULL without an explicit OID returns 0 and lets the server decide.
func (v Value) OID() uint32 {
	if v.oid != 0 {
		return v.oid
	}
	switch v.typ {
	case TypeBool:
		return pgtype.BoolOID
	case TypeInt:
		return pgtype.Int8OID
	case TypeFloat:
		return pgtype.Float8OID
	case TypeText:
		return pgtype.TextOID
	case TypeBytes:
		return pgtype.ByteaOID
	default:
		return 0
	}
}

// Accessors return the zero value when v holds a different type.
func (v Value) Bool() bool     { return v.b }
func (v Value) Int() int64     { return v.i }
func (v Value) Float() float64 { return v.f }
func (v Value) Text() string   { return v.s }
func (v Value) Bytes() []byte  { return v.raw }

// Any returns v as a plain Go value: nil, bool, int64, float64, string,
// []byte, or whatever the type map decoded for TypeAny.
func (v Value) Any() any {
	switch v.typ {
	case TypeBool:
		return v.b
	case TypeInt:
		return v.i
	case TypeFloat:
		return v.f
	case TypeText:
		return v.s
	case TypeBytes:
		return v.raw
	case TypeAny:
		return v.any
	default:
		return nil
	}
}

func (v Value) String() string {
	if v.typ == TypeNull {
		return "NULL"
	}
	return fmt.Sprint(v.Any())
}

// Column describes one result column as reported by the server.
type Column struct {
	Name         string
	OID          uint32 // data type OID
	Format       Format
	TypeSize     int16
	TypeModifier int32
	TableOID     uint32
	TableColumn  uint16
}

// TypeOf returns the host type a column of the given OID decodes to by default.
func TypeOf(oid uint32) Type {
	switch oid {
	case pgtype.BoolOID:
		return TypeBool
	case pgtype.Int2OID, pgtype.Int4OID, pgtype.Int8OID, pgtype.OIDOID:
		return TypeInt
	case pgtype.Float4OID, pgtype.Float8OID:
		return TypeFloat
	case pgtype.TextOID, pgtype.VarcharOID, pgtype.BPCharOID, pgtype.NameOID,
		pgtype.UnknownOID, pgtype.JSONOID, pgtype.JSONBOID, pgtype.XMLOID:
		return TypeText
	case pgtype.ByteaOID:
		return TypeBytes
	default:
		return TypeAny
	}
}

// Compatible reports whether a column of the given OID can be extracted as t.
func Compatible(oid uint32, t Type) bool {
	switch t {
	case TypeAny:
		return true
	case TypeNull:
		return false
	default:
		return TypeOf(oid) == t
	}
}
