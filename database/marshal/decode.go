package marshal

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/koustreak/pgsafe/errs"
)

// Decode converts the raw bytes of one cell of col into a Value of type as.
// A nil src is NULL and decodes to Null() for every type; callers decide
// whether NULL is acceptable.
func Decode(m *pgtype.Map, col Column, src []byte, as Type) (Value, error) {
	if !Compatible(col.OID, as) {
		return Value{}, errs.Op("Decode", errs.ErrKindTypeMismatch,
			fmt.Sprintf("column %q of type OID %d cannot be read as %s", col.Name, col.OID, as))
	}
	if src == nil {
		return Null(), nil
	}
	if as == TypeAny {
		as = TypeOf(col.OID)
		if as == TypeAny {
			return decodeAny(m, col, src)
		}
	}

	switch as {
	case TypeBool:
		return decodeBool(col, src)
	case TypeInt:
		return decodeInt(col, src)
	case TypeFloat:
		return decodeFloat(col, src)
	case TypeText:
		return decodeText(col, src)
	case TypeBytes:
		return decodeBytes(col, src)
	}
	return Value{}, decodeError(col, "unsupported target type %s", as)
}

func decodeBool(col Column, src []byte) (Value, error) {
	if col.Format == FormatBinary {
		if len(src) != 1 {
			return Value{}, decodeError(col, "bool needs 1 byte, got %d", len(src))
		}
		return Bool(src[0] != 0), nil
	}
	switch string(src) {
	case "t", "true":
		return Bool(true), nil
	case "f", "false":
		return Bool(false), nil
	}
	return Value{}, decodeError(col, "invalid bool text %q", src)
}

func decodeInt(col Column, src []byte) (Value, error) {
	if col.Format == FormatText {
		i, err := strconv.ParseInt(string(src), 10, 64)
		if err != nil {
			return Value{}, decodeError(col, "invalid integer text %q", src)
		}
		return Int(i), nil
	}

	switch col.OID {
	case pgtype.Int2OID:
		if len(src) == 2 {
			return Int(int64(int16(binary.BigEndian.Uint16(src)))), nil
		}
	case pgtype.Int4OID:
		if len(src) == 4 {
			return Int(int64(int32(binary.BigEndian.Uint32(src)))), nil
		}
	case pgtype.OIDOID:
		if len(src) == 4 {
			return Int(int64(binary.BigEndian.Uint32(src))), nil
		}
	case pgtype.Int8OID:
		if len(src) == 8 {
			return Int(int64(binary.BigEndian.Uint64(src))), nil
		}
	}
	return Value{}, decodeError(col, "invalid length %d for integer type OID %d", len(src), col.OID)
}

func decodeFloat(col Column, src []byte) (Value, error) {
	if col.Format == FormatText {
		f, err := strconv.ParseFloat(string(src), 64)
		if err != nil {
			return Value{}, decodeError(col, "invalid float text %q", src)
		}
		return Float(f), nil
	}

	switch {
	case col.OID == pgtype.Float4OID && len(src) == 4:
		return Float(float64(math.Float32frombits(binary.BigEndian.Uint32(src)))), nil
	case col.OID == pgtype.Float8OID && len(src) == 8:
		return Float(math.Float64frombits(binary.BigEndian.Uint64(src))), nil
	}
	return Value{}, decodeError(col, "invalid length %d for float type OID %d", len(src), col.OID)
}

func decodeText(col Column, src []byte) (Value, error) {
	// Binary jsonb carries a one byte version prefix ahead of the text.
	if col.OID == pgtype.JSONBOID && col.Format == FormatBinary {
		if len(src) == 0 || src[0] != 1 {
			return Value{}, decodeError(col, "unknown jsonb version")
		}
		src = src[1:]
	}
	if !utf8.Valid(src) {
		return Value{}, decodeError(col, "text is not valid UTF-8")
	}
	return Text(string(src)), nil
}

func decodeBytes(col Column, src []byte) (Value, error) {
	if col.Format == FormatBinary {
		return Bytes(append([]byte{}, src...)), nil
	}
	if len(src) >= 2 && src[0] == '\\' && src[1] == 'x' {
		out := make([]byte, hex.DecodedLen(len(src)-2))
		if _, err := hex.Decode(out, src[2:]); err != nil {
			return Value{}, decodeError(col, "invalid bytea hex text")
		}
		return Bytes(out), nil
	}
	out, err := unescapeBytea(src)
	if err != nil {
		return Value{}, decodeError(col, "%s", err.Error())
	}
	return Bytes(out), nil
}

// unescapeBytea decodes the legacy bytea escape output format, where
// non-printable bytes appear as \ooo and backslash as \\.
func unescapeBytea(src []byte) ([]byte, error) {
	out := make([]byte, 0, len(src))
	for i := 0; i < len(src); i++ {
		if src[i] != '\\' {
			out = append(out, src[i])
			continue
		}
		switch {
		case i+1 < len(src) && src[i+1] == '\\':
			out = append(out, '\\')
			i++
		case i+3 < len(src) && isOctal(src[i+1]) && isOctal(src[i+2]) && isOctal(src[i+3]):
			out = append(out, (src[i+1]-'0')<<6|(src[i+2]-'0')<<3|(src[i+3]-'0'))
			i += 3
		default:
			return nil, fmt.Errorf("invalid bytea escape at offset %d", i)
		}
	}
	return out, nil
}

func isOctal(b byte) bool { return b >= '0' && b <= '7' }

func decodeAny(m *pgtype.Map, col Column, src []byte) (Value, error) {
	if m == nil {
		m = pgtype.NewMap()
	}
	typ, ok := m.TypeForOID(col.OID)
	if !ok {
		// Unregistered type (enum, domain over an unknown base, ...).
		// Text format is readable as is; binary stays opaque.
		if col.Format == FormatText && utf8.Valid(src) {
			return Text(string(src)), nil
		}
		return Bytes(append([]byte{}, src...)), nil
	}
	v, err := typ.Codec.DecodeValue(m, col.OID, int16(col.Format), src)
	if err != nil {
		return Value{}, &errs.Error{
			Kind:    errs.ErrKindEncoding,
			Op:      "Decode",
			Message: fmt.Sprintf("column %q: cannot decode type %s", col.Name, typ.Name),
			Cause:   err,
		}
	}
	return Typed(col.OID, v), nil
}

// CellText renders one cell the way the server's text output would show it.
// NULL renders as the empty string.
func CellText(m *pgtype.Map, col Column, src []byte) (string, error) {
	if src == nil {
		return "", nil
	}
	if col.Format == FormatText {
		return string(src), nil
	}
	v, err := Decode(m, col, src, TypeAny)
	if err != nil {
		return "", err
	}
	switch v.typ {
	case TypeBool:
		if v.b {
			return "t", nil
		}
		return "f", nil
	case TypeFloat:
		return formatFloat(v.f), nil
	case TypeBytes:
		return `\x` + hex.EncodeToString(v.raw), nil
	case TypeAny:
		if m == nil {
			m = pgtype.NewMap()
		}
		if buf, err := m.Encode(col.OID, pgtype.TextFormatCode, v.any, nil); err == nil {
			return string(buf), nil
		}
	}
	return v.String(), nil
}

// CloneRow copies a row of cell buffers handed out by the native reader,
// which reuses them on the next row. NULL cells stay nil and empty cells
// stay non-nil.
func CloneRow(src [][]byte) [][]byte {
	row := make([][]byte, len(src))
	for i, cell := range src {
		if cell != nil {
			row[i] = append([]byte{}, cell...)
		}
	}
	return row
}

func decodeError(col Column, format string, args ...any) *errs.Error {
	msg := fmt.Sprintf(format, args...)
	return errs.Op("Decode", errs.ErrKindEncoding, fmt.Sprintf("column %q: %s", col.Name, strings.TrimSpace(msg)))
}
