package marshal

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/koustreak/pgsafe/errs"
)

// Encoded holds statement parameters in the shape the extended protocol
// expects. A nil entry in Values is a NULL parameter.
type Encoded struct {
	Values  [][]byte
	OIDs    []uint32
	Formats []int16
}

// EncodeAll encodes every parameter in order. It stops at the first value
// that cannot be encoded and reports its 1-based placeholder number.
func EncodeAll(m *pgtype.Map, params []Value) (*Encoded, error) {
	enc := &Encoded{
		Values:  make([][]byte, len(params)),
		OIDs:    make([]uint32, len(params)),
		Formats: make([]int16, len(params)),
	}
	for i, p := range params {
		buf, oid, format, err := Encode(m, p)
		if err != nil {
			if e, ok := err.(*errs.Error); ok {
				e.Message = fmt.Sprintf("parameter $%d: %s", i+1, e.Message)
			}
			return nil, err
		}
		enc.Values[i] = buf
		enc.OIDs[i] = oid
		enc.Formats[i] = int16(format)
	}
	return enc, nil
}

// Encode converts v into the bytes sent for one parameter slot, together
// with its declared type OID and the format of the bytes. NULL encodes as a
// nil slice.
func Encode(m *pgtype.Map, v Value) (buf []byte, oid uint32, format Format, err error) {
	oid = v.OID()

	switch v.typ {
	case TypeNull:
		return nil, oid, FormatBinary, nil

	case TypeBool:
		if oid != pgtype.BoolOID {
			return []byte(strconv.FormatBool(v.b)), oid, FormatText, nil
		}
		if v.b {
			return []byte{1}, oid, FormatBinary, nil
		}
		return []byte{0}, oid, FormatBinary, nil

	case TypeInt:
		buf, err := encodeInt(v.i, oid)
		if err != nil {
			return nil, 0, 0, err
		}
		if buf == nil {
			return []byte(strconv.FormatInt(v.i, 10)), oid, FormatText, nil
		}
		return buf, oid, FormatBinary, nil

	case TypeFloat:
		switch oid {
		case pgtype.Float8OID:
			return binary.BigEndian.AppendUint64(nil, math.Float64bits(v.f)), oid, FormatBinary, nil
		case pgtype.Float4OID:
			if !math.IsInf(v.f, 0) && !math.IsNaN(v.f) && math.Abs(v.f) > math.MaxFloat32 {
				return nil, 0, 0, encodingError("float %g overflows float4", v.f)
			}
			return binary.BigEndian.AppendUint32(nil, math.Float32bits(float32(v.f))), oid, FormatBinary, nil
		default:
			return []byte(formatFloat(v.f)), oid, FormatText, nil
		}

	case TypeText:
		b, err := TextBytes(v.s)
		if err != nil {
			return nil, 0, 0, err
		}
		return b, oid, FormatText, nil

	case TypeBytes:
		if oid != pgtype.ByteaOID {
			return nil, 0, 0, encodingError("bytes cannot be declared as type OID %d", oid)
		}
		return v.raw, oid, FormatBinary, nil

	case TypeAny:
		if oid == 0 {
			return nil, 0, 0, encodingError("typed value %T needs a type OID", v.any)
		}
		if m == nil {
			m = pgtype.NewMap()
		}
		buf, err := m.Encode(oid, pgtype.BinaryFormatCode, v.any, nil)
		if err != nil {
			return nil, 0, 0, &errs.Error{
				Kind:    errs.ErrKindEncoding,
				Op:      "Encode",
				Message: fmt.Sprintf("cannot encode %T as type OID %d", v.any, oid),
				Cause:   err,
			}
		}
		if buf == nil {
			return nil, oid, FormatBinary, nil
		}
		return buf, oid, FormatBinary, nil
	}

	return nil, 0, 0, encodingError("unsupported value type %s", v.typ)
}

// TextBytes validates s for the text transport: it must be valid UTF-8 and
// must not contain NUL, which the server cannot store in any text type.
func TextBytes(s string) ([]byte, error) {
	if i := strings.IndexByte(s, 0); i >= 0 {
		return nil, encodingError("text contains a NUL byte at offset %d", i)
	}
	if !utf8.ValidString(s) {
		return nil, encodingError("text is not valid UTF-8")
	}
	return []byte(s), nil
}

// encodeInt returns the binary form of i for an integer OID, or nil when oid
// is not an integer type and the caller should fall back to text.
func encodeInt(i int64, oid uint32) ([]byte, error) {
	switch oid {
	case pgtype.Int8OID:
		return binary.BigEndian.AppendUint64(nil, uint64(i)), nil
	case pgtype.Int4OID:
		if i < math.MinInt32 || i > math.MaxInt32 {
			return nil, encodingError("integer %d overflows int4", i)
		}
		return binary.BigEndian.AppendUint32(nil, uint32(int32(i))), nil
	case pgtype.Int2OID:
		if i < math.MinInt16 || i > math.MaxInt16 {
			return nil, encodingError("integer %d overflows int2", i)
		}
		return binary.BigEndian.AppendUint16(nil, uint16(int16(i))), nil
	case pgtype.OIDOID:
		if i < 0 || i > math.MaxUint32 {
			return nil, encodingError("integer %d overflows oid", i)
		}
		return binary.BigEndian.AppendUint32(nil, uint32(i)), nil
	}
	return nil, nil
}

func formatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case math.IsNaN(f):
		return "NaN"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func encodingError(format string, args ...any) *errs.Error {
	return errs.Op("Encode", errs.ErrKindEncoding, fmt.Sprintf(format, args...))
}
