package types

import (
	"encoding/binary"
	"encoding/hex"
	"math"
	"strconv"
	"time"

	"github.com/lib/pq/oid"
)

func registerBuiltins(r *Registry) {
	r.Register(oid.T_bool, boolCodec{})
	r.Register(oid.T_int2, intCodec{id: oid.T_int2, size: 2})
	r.Register(oid.T_int4, intCodec{id: oid.T_int4, size: 4})
	r.Register(oid.T_int8, intCodec{id: oid.T_int8, size: 8})
	r.Register(oid.T_float4, float4Codec{})
	r.Register(oid.T_float8, float8Codec{})
	r.Register(oid.T_text, textCodec{id: oid.T_text})
	r.Register(oid.T_varchar, textCodec{id: oid.T_varchar})
	r.Register(oid.T_bpchar, textCodec{id: oid.T_bpchar})
	r.Register(oid.T_name, textCodec{id: oid.T_name})
	r.Register(oid.T_unknown, textCodec{id: oid.T_unknown})
	r.Register(oid.T_bytea, byteaCodec{})
	r.Register(oid.T_date, dateCodec{})
	r.Register(oid.T_timestamp, timestampCodec{id: oid.T_timestamp, withZone: false})
	r.Register(oid.T_timestamptz, timestampCodec{id: oid.T_timestamptz, withZone: true})
}

// pgEpoch is the zero point of the binary date and timestamp formats.
var pgEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

type boolCodec struct{}

func (boolCodec) desc(f Format) TypeDesc { return TypeDesc{ID: oid.T_bool, Format: f} }

func (c boolCodec) Encode(v interface{}, f Format) ([]byte, error) {
	b, ok := v.(bool)
	if !ok {
		return nil, mismatchf(c.desc(f), "cannot encode %T as bool", v)
	}
	if f == BinaryFormat {
		if b {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	}
	if b {
		return []byte("t"), nil
	}
	return []byte("f"), nil
}

func (c boolCodec) Decode(raw []byte, f Format) (interface{}, error) {
	if f == BinaryFormat {
		if len(raw) != 1 {
			return nil, convErrf(c.desc(f), "expected 1 byte, got %d", len(raw))
		}
		return raw[0] != 0, nil
	}
	switch string(raw) {
	case "t", "true":
		return true, nil
	case "f", "false":
		return false, nil
	}
	return nil, convErrf(c.desc(f), "invalid bool literal %q", raw)
}

// intCodec handles int2, int4 and int8. The native Go types are int16, int32
// and int64 respectively; plain int is also accepted when it fits, since
// integer literals are by far the most common bound parameter.
type intCodec struct {
	id   oid.Oid
	size int
}

func (c intCodec) desc(f Format) TypeDesc { return TypeDesc{ID: c.id, Format: f} }

func (c intCodec) value(v interface{}, f Format) (int64, error) {
	var n int64
	switch t := v.(type) {
	case int16:
		if c.size != 2 {
			return 0, mismatchf(c.desc(f), "cannot encode %T as %s", v, oid.TypeName[c.id])
		}
		n = int64(t)
	case int32:
		if c.size != 4 {
			return 0, mismatchf(c.desc(f), "cannot encode %T as %s", v, oid.TypeName[c.id])
		}
		n = int64(t)
	case int64:
		if c.size != 8 {
			return 0, mismatchf(c.desc(f), "cannot encode %T as %s", v, oid.TypeName[c.id])
		}
		n = t
	case int:
		n = int64(t)
	default:
		return 0, mismatchf(c.desc(f), "cannot encode %T as %s", v, oid.TypeName[c.id])
	}

	bits := c.size * 8
	if c.size < 8 && (n < -(1<<(bits-1)) || n > 1<<(bits-1)-1) {
		return 0, convErrf(c.desc(f), "%d out of range for %s", n, oid.TypeName[c.id])
	}
	return n, nil
}

func (c intCodec) Encode(v interface{}, f Format) ([]byte, error) {
	n, err := c.value(v, f)
	if err != nil {
		return nil, err
	}
	if f == TextFormat {
		return strconv.AppendInt(nil, n, 10), nil
	}
	buf := make([]byte, c.size)
	switch c.size {
	case 2:
		binary.BigEndian.PutUint16(buf, uint16(n))
	case 4:
		binary.BigEndian.PutUint32(buf, uint32(n))
	default:
		binary.BigEndian.PutUint64(buf, uint64(n))
	}
	return buf, nil
}

func (c intCodec) Decode(raw []byte, f Format) (interface{}, error) {
	var n int64
	if f == BinaryFormat {
		if len(raw) != c.size {
			return nil, convErrf(c.desc(f), "expected %d bytes, got %d", c.size, len(raw))
		}
		switch c.size {
		case 2:
			n = int64(int16(binary.BigEndian.Uint16(raw)))
		case 4:
			n = int64(int32(binary.BigEndian.Uint32(raw)))
		default:
			n = int64(binary.BigEndian.Uint64(raw))
		}
	} else {
		var err error
		n, err = strconv.ParseInt(string(raw), 10, c.size*8)
		if err != nil {
			return nil, convErrf(c.desc(f), "invalid integer literal %q", raw)
		}
	}

	switch c.size {
	case 2:
		return int16(n), nil
	case 4:
		return int32(n), nil
	default:
		return n, nil
	}
}

type float4Codec struct{}

func (float4Codec) desc(f Format) TypeDesc { return TypeDesc{ID: oid.T_float4, Format: f} }

func (c float4Codec) Encode(v interface{}, f Format) ([]byte, error) {
	n, ok := v.(float32)
	if !ok {
		return nil, mismatchf(c.desc(f), "cannot encode %T as float4", v)
	}
	if f == BinaryFormat {
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, math.Float32bits(n))
		return buf, nil
	}
	return strconv.AppendFloat(nil, float64(n), 'g', -1, 32), nil
}

func (c float4Codec) Decode(raw []byte, f Format) (interface{}, error) {
	if f == BinaryFormat {
		if len(raw) != 4 {
			return nil, convErrf(c.desc(f), "expected 4 bytes, got %d", len(raw))
		}
		return math.Float32frombits(binary.BigEndian.Uint32(raw)), nil
	}
	n, err := strconv.ParseFloat(string(raw), 32)
	if err != nil {
		return nil, convErrf(c.desc(f), "invalid float literal %q", raw)
	}
	return float32(n), nil
}

type float8Codec struct{}

func (float8Codec) desc(f Format) TypeDesc { return TypeDesc{ID: oid.T_float8, Format: f} }

func (c float8Codec) Encode(v interface{}, f Format) ([]byte, error) {
	n, ok := v.(float64)
	if !ok {
		return nil, mismatchf(c.desc(f), "cannot encode %T as float8", v)
	}
	if f == BinaryFormat {
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, math.Float64bits(n))
		return buf, nil
	}
	return strconv.AppendFloat(nil, n, 'g', -1, 64), nil
}

func (c float8Codec) Decode(raw []byte, f Format) (interface{}, error) {
	if f == BinaryFormat {
		if len(raw) != 8 {
			return nil, convErrf(c.desc(f), "expected 8 bytes, got %d", len(raw))
		}
		return math.Float64frombits(binary.BigEndian.Uint64(raw)), nil
	}
	n, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return nil, convErrf(c.desc(f), "invalid float literal %q", raw)
	}
	return n, nil
}

// textCodec handles the character types, whose wire representation is the
// bytes themselves in both formats.
type textCodec struct {
	id oid.Oid
}

func (c textCodec) Encode(v interface{}, f Format) ([]byte, error) {
	s, ok := v.(string)
	if !ok {
		return nil, mismatchf(TypeDesc{ID: c.id, Format: f}, "cannot encode %T as %s", v, oid.TypeName[c.id])
	}
	return []byte(s), nil
}

func (c textCodec) Decode(raw []byte, f Format) (interface{}, error) {
	return string(raw), nil
}

type byteaCodec struct{}

func (byteaCodec) desc(f Format) TypeDesc { return TypeDesc{ID: oid.T_bytea, Format: f} }

func (c byteaCodec) Encode(v interface{}, f Format) ([]byte, error) {
	b, ok := v.([]byte)
	if !ok {
		return nil, mismatchf(c.desc(f), "cannot encode %T as bytea", v)
	}
	if f == BinaryFormat {
		return b, nil
	}
	buf := make([]byte, 2+hex.EncodedLen(len(b)))
	copy(buf, `\x`)
	hex.Encode(buf[2:], b)
	return buf, nil
}

func (c byteaCodec) Decode(raw []byte, f Format) (interface{}, error) {
	if f == BinaryFormat {
		out := make([]byte, len(raw))
		copy(out, raw)
		return out, nil
	}
	if len(raw) < 2 || raw[0] != '\\' || raw[1] != 'x' {
		return nil, convErrf(c.desc(f), "expected hex-escaped literal")
	}
	out := make([]byte, hex.DecodedLen(len(raw)-2))
	_, err := hex.Decode(out, raw[2:])
	if err != nil {
		return nil, convErrf(c.desc(f), "invalid hex literal: %v", err)
	}
	return out, nil
}

type dateCodec struct{}

func (dateCodec) desc(f Format) TypeDesc { return TypeDesc{ID: oid.T_date, Format: f} }

func (c dateCodec) Encode(v interface{}, f Format) ([]byte, error) {
	t, ok := v.(time.Time)
	if !ok {
		return nil, mismatchf(c.desc(f), "cannot encode %T as date", v)
	}
	if f == BinaryFormat {
		days := int32(t.UTC().Truncate(24*time.Hour).Sub(pgEpoch).Hours() / 24)
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, uint32(days))
		return buf, nil
	}
	return []byte(t.Format("2006-01-02")), nil
}

func (c dateCodec) Decode(raw []byte, f Format) (interface{}, error) {
	if f == BinaryFormat {
		if len(raw) != 4 {
			return nil, convErrf(c.desc(f), "expected 4 bytes, got %d", len(raw))
		}
		days := int32(binary.BigEndian.Uint32(raw))
		return pgEpoch.AddDate(0, 0, int(days)), nil
	}
	t, err := time.Parse("2006-01-02", string(raw))
	if err != nil {
		return nil, convErrf(c.desc(f), "invalid date literal %q", raw)
	}
	return t, nil
}

// timestampCodec handles timestamp and timestamptz. Values are normalized to
// UTC on the way in; the binary format is microseconds since 2000-01-01.
type timestampCodec struct {
	id       oid.Oid
	withZone bool
}

var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
}

var timestamptzLayouts = []string{
	"2006-01-02 15:04:05.999999-07",
	"2006-01-02 15:04:05.999999-07:00",
	"2006-01-02 15:04:05-07",
	"2006-01-02 15:04:05-07:00",
}

func (c timestampCodec) desc(f Format) TypeDesc { return TypeDesc{ID: c.id, Format: f} }

func (c timestampCodec) Encode(v interface{}, f Format) ([]byte, error) {
	t, ok := v.(time.Time)
	if !ok {
		return nil, mismatchf(c.desc(f), "cannot encode %T as %s", v, oid.TypeName[c.id])
	}
	t = t.UTC()
	if f == BinaryFormat {
		us := t.Sub(pgEpoch).Microseconds()
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(us))
		return buf, nil
	}
	if c.withZone {
		return []byte(t.Format("2006-01-02 15:04:05.999999-07")), nil
	}
	return []byte(t.Format("2006-01-02 15:04:05.999999")), nil
}

func (c timestampCodec) Decode(raw []byte, f Format) (interface{}, error) {
	if f == BinaryFormat {
		if len(raw) != 8 {
			return nil, convErrf(c.desc(f), "expected 8 bytes, got %d", len(raw))
		}
		us := int64(binary.BigEndian.Uint64(raw))
		return pgEpoch.Add(time.Duration(us) * time.Microsecond), nil
	}

	layouts := timestampLayouts
	if c.withZone {
		layouts = timestamptzLayouts
	}
	for _, l := range layouts {
		if t, err := time.Parse(l, string(raw)); err == nil {
			return t.UTC(), nil
		}
	}
	return nil, convErrf(c.desc(f), "invalid %s literal %q", oid.TypeName[c.id], raw)
}
