package types

import (
	"github.com/google/uuid"
	"github.com/lib/pq/oid"
)

// UUIDCodec converts between uuid.UUID and the uuid server type. It is
// registered the same way an out-of-tree extension type would be, through
// Registry.Register rather than anything the registry knows about up front.
type UUIDCodec struct{}

func init() {
	Default.Register(oid.T_uuid, UUIDCodec{})
}

func (UUIDCodec) desc(f Format) TypeDesc { return TypeDesc{ID: oid.T_uuid, Format: f} }

func (c UUIDCodec) Encode(v interface{}, f Format) ([]byte, error) {
	u, ok := v.(uuid.UUID)
	if !ok {
		return nil, mismatchf(c.desc(f), "cannot encode %T as uuid", v)
	}
	if f == BinaryFormat {
		b := make([]byte, 16)
		copy(b, u[:])
		return b, nil
	}
	return []byte(u.String()), nil
}

func (c UUIDCodec) Decode(raw []byte, f Format) (interface{}, error) {
	if f == BinaryFormat {
		u, err := uuid.FromBytes(raw)
		if err != nil {
			return nil, convErrf(c.desc(f), "%v", err)
		}
		return u, nil
	}
	u, err := uuid.Parse(string(raw))
	if err != nil {
		return nil, convErrf(c.desc(f), "%v", err)
	}
	return u, nil
}
