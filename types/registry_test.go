package types

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq/oid"
	"github.com/stretchr/testify/require"
)

func desc(id oid.Oid, f Format) TypeDesc {
	return TypeDesc{ID: id, Format: f}
}

func TestRegistry_RoundTrip(t *testing.T) {
	ts := time.Date(2024, 6, 1, 12, 30, 45, 123456000, time.UTC)

	cases := []struct {
		name string
		id   oid.Oid
		val  interface{}
	}{
		{"bool true", oid.T_bool, true},
		{"bool false", oid.T_bool, false},
		{"int2", oid.T_int2, int16(-7)},
		{"int4", oid.T_int4, int32(100000)},
		{"int8", oid.T_int8, int64(-1 << 40)},
		{"float4", oid.T_float4, float32(1.5)},
		{"float8", oid.T_float8, 3.141592653589793},
		{"text", oid.T_text, "héllo, wörld"},
		{"varchar", oid.T_varchar, "abc"},
		{"empty text", oid.T_text, ""},
		{"bytea", oid.T_bytea, []byte{0x00, 0xff, 0x10}},
		{"date", oid.T_date, time.Date(1999, 12, 31, 0, 0, 0, 0, time.UTC)},
		{"timestamp", oid.T_timestamp, ts},
		{"timestamptz", oid.T_timestamptz, ts},
		{"uuid", oid.T_uuid, uuid.MustParse("c1f9a3f2-5599-4dcb-9a0c-66b02dcf4b32")},
	}

	for _, tc := range cases {
		for _, format := range []Format{TextFormat, BinaryFormat} {
			t.Run(fmt.Sprintf("%s/%v", tc.name, format), func(t *testing.T) {
				d := desc(tc.id, format)

				raw, err := Default.Encode(tc.val, d)
				require.NoError(t, err)
				require.NotNil(t, raw)

				back, err := Default.Decode(d, raw)
				require.NoError(t, err)

				if want, ok := tc.val.(time.Time); ok {
					require.True(t, want.Equal(back.(time.Time)), "want %v, got %v", want, back)
					return
				}
				require.Equal(t, tc.val, back)
			})
		}
	}
}

func TestRegistry_EncodeMismatch(t *testing.T) {
	cases := []struct {
		id  oid.Oid
		val interface{}
	}{
		{oid.T_int4, "42"},        // string into integer
		{oid.T_int4, int64(1)},    // wrong width
		{oid.T_int8, int32(1)},    // wrong width
		{oid.T_text, 42},          // integer into text
		{oid.T_bool, 1},           // integer into bool
		{oid.T_bytea, "raw"},      // string into bytea
		{oid.T_uuid, "not-typed"}, // string into uuid
		{oid.T_timestamp, "2024-01-01"},
	}

	for _, tc := range cases {
		t.Run(fmt.Sprintf("%v into %s", tc.val, oid.TypeName[tc.id]), func(t *testing.T) {
			_, err := Default.Encode(tc.val, desc(tc.id, TextFormat))
			require.Error(t, err)
			require.IsType(t, &MismatchError{}, err)
		})
	}
}

func TestRegistry_IntSubset(t *testing.T) {
	t.Run("plain int binds where it fits", func(t *testing.T) {
		raw, err := Default.Encode(18, desc(oid.T_int2, TextFormat))
		require.NoError(t, err)
		require.Equal(t, []byte("18"), raw)
	})

	t.Run("plain int out of range", func(t *testing.T) {
		_, err := Default.Encode(1 << 20, desc(oid.T_int2, TextFormat))
		require.Error(t, err)
		require.IsType(t, &ConversionError{}, err)
	})
}

func TestRegistry_DecodeErrors(t *testing.T) {
	t.Run("unregistered oid", func(t *testing.T) {
		_, err := Default.Decode(desc(oid.T_point, TextFormat), []byte("(1,2)"))
		require.Error(t, err)
		require.IsType(t, &MismatchError{}, err)
	})

	t.Run("malformed integer", func(t *testing.T) {
		_, err := Default.Decode(desc(oid.T_int4, TextFormat), []byte("twelve"))
		require.Error(t, err)
		require.IsType(t, &ConversionError{}, err)
	})

	t.Run("malformed binary width", func(t *testing.T) {
		_, err := Default.Decode(desc(oid.T_int8, BinaryFormat), []byte{0, 0, 1})
		require.Error(t, err)
		require.IsType(t, &ConversionError{}, err)
	})

	t.Run("malformed bool", func(t *testing.T) {
		_, err := Default.Decode(desc(oid.T_bool, TextFormat), []byte("yes"))
		require.Error(t, err)
		require.IsType(t, &ConversionError{}, err)
	})

	t.Run("malformed uuid", func(t *testing.T) {
		_, err := Default.Decode(desc(oid.T_uuid, TextFormat), []byte("zz"))
		require.Error(t, err)
		require.IsType(t, &ConversionError{}, err)
	})
}

func TestRegistry_Null(t *testing.T) {
	t.Run("nil encodes as NULL", func(t *testing.T) {
		raw, err := Default.Encode(nil, desc(oid.T_int4, TextFormat))
		require.NoError(t, err)
		require.Nil(t, raw)
	})

	t.Run("empty Nullable encodes as NULL", func(t *testing.T) {
		raw, err := Default.Encode(Nullable[int32]{}, desc(oid.T_int4, TextFormat))
		require.NoError(t, err)
		require.Nil(t, raw)
	})

	t.Run("valid Nullable encodes its inner value", func(t *testing.T) {
		raw, err := Default.Encode(NewNullable(int32(5)), desc(oid.T_int4, TextFormat))
		require.NoError(t, err)
		require.Equal(t, []byte("5"), raw)
	})

	t.Run("Nullable of a mismatched inner type still fails", func(t *testing.T) {
		_, err := Default.Encode(NewNullable("x"), desc(oid.T_int4, TextFormat))
		require.Error(t, err)
		require.IsType(t, &MismatchError{}, err)
	})

	t.Run("NULL decodes to nil", func(t *testing.T) {
		v, err := Default.Decode(desc(oid.T_int4, TextFormat), nil)
		require.NoError(t, err)
		require.Nil(t, v)
	})
}

func TestNullable(t *testing.T) {
	t.Run("set and get", func(t *testing.T) {
		var n Nullable[string]
		_, ok := n.Get()
		require.False(t, ok)

		require.NoError(t, n.Set("hi"))
		v, ok := n.Get()
		require.True(t, ok)
		require.Equal(t, "hi", v)

		n.SetNull()
		_, ok = n.Get()
		require.False(t, ok)
	})

	t.Run("set of the wrong type fails", func(t *testing.T) {
		var n Nullable[int64]
		require.Error(t, n.Set("not an int"))
	})
}

// pointCodec is the kind of codec an extension package would register for a
// type the core has never heard of.
type pointCodec struct{}

func (pointCodec) Encode(v interface{}, f Format) ([]byte, error) {
	p, ok := v.([2]float64)
	if !ok {
		return nil, &MismatchError{Desc: TypeDesc{ID: oid.T_point, Format: f}, Reason: "not a point"}
	}
	return []byte(fmt.Sprintf("(%g,%g)", p[0], p[1])), nil
}

func (pointCodec) Decode(raw []byte, f Format) (interface{}, error) {
	var p [2]float64
	_, err := fmt.Sscanf(string(raw), "(%g,%g)", &p[0], &p[1])
	if err != nil {
		return nil, &ConversionError{Desc: TypeDesc{ID: oid.T_point, Format: f}, Reason: err.Error()}
	}
	return p, nil
}

func TestRegistry_Extension(t *testing.T) {
	r := NewRegistry()
	_, err := r.Encode([2]float64{1, 2}, desc(oid.T_point, TextFormat))
	require.IsType(t, &MismatchError{}, err)

	r.Register(oid.T_point, pointCodec{})

	raw, err := r.Encode([2]float64{1.5, -2}, desc(oid.T_point, TextFormat))
	require.NoError(t, err)
	require.Equal(t, []byte("(1.5,-2)"), raw)

	back, err := r.Decode(desc(oid.T_point, TextFormat), raw)
	require.NoError(t, err)
	require.Equal(t, [2]float64{1.5, -2}, back)
}
