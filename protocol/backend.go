package protocol

import (
	"bytes"
	"encoding/binary"
	"strconv"
	"strings"

	"github.com/lib/pq/oid"
)

// transaction status bytes reported by ReadyForQuery
const (
	StatusIdle          = 'I'
	StatusInTransaction = 'T'
	StatusFailedTx      = 'E'
)

// ReadyStatus returns the transaction status byte of a ReadyForQuery message.
func (m Message) ReadyStatus() (byte, error) {
	if m.Type() != ReadyForQuery {
		return 0, errf("expected ready for query, got %q", m.Type())
	}
	p := m.payload()
	if len(p) != 1 {
		return 0, errf("malformed ready for query: %d bytes", len(p))
	}
	switch p[0] {
	case StatusIdle, StatusInTransaction, StatusFailedTx:
		return p[0], nil
	}
	return 0, errf("unknown transaction status %q", p[0])
}

// Columns returns the result column descriptors of a RowDescription message.
func (m Message) Columns() ([]ColumnDesc, error) {
	if m.Type() != RowDescription {
		return nil, errf("expected row description, got %q", m.Type())
	}
	p := m.payload()
	if len(p) < 2 {
		return nil, errf("row description too short: %d bytes", len(p))
	}
	count := int(binary.BigEndian.Uint16(p))
	p = p[2:]

	cols := make([]ColumnDesc, count)
	for i := 0; i < count; i++ {
		idx := bytes.IndexByte(p, 0)
		if idx == -1 {
			return nil, errf("unterminated column name in row description")
		}
		name := string(p[:idx])
		p = p[idx+1:]
		if len(p) < 18 {
			return nil, errf("truncated column descriptor for %q", name)
		}
		cols[i] = ColumnDesc{
			Name:    name,
			TableID: binary.BigEndian.Uint32(p[0:4]),
			AttrNum: int16(binary.BigEndian.Uint16(p[4:6])),
			TypeID:  oid.Oid(binary.BigEndian.Uint32(p[6:10])),
			Size:    int16(binary.BigEndian.Uint16(p[10:12])),
			TypeMod: int32(binary.BigEndian.Uint32(p[12:16])),
			Format:  int16(binary.BigEndian.Uint16(p[16:18])),
		}
		p = p[18:]
	}
	return cols, nil
}

// ParameterTypes returns the parameter type OIDs of a ParameterDescription
// message, one per statement placeholder, in placeholder order.
func (m Message) ParameterTypes() ([]oid.Oid, error) {
	if m.Type() != ParameterDescription {
		return nil, errf("expected parameter description, got %q", m.Type())
	}
	p := m.payload()
	if len(p) < 2 {
		return nil, errf("parameter description too short: %d bytes", len(p))
	}
	count := int(binary.BigEndian.Uint16(p))
	p = p[2:]
	if len(p) != count*4 {
		return nil, errf("parameter description declares %d types in %d bytes", count, len(p))
	}

	oids := make([]oid.Oid, count)
	for i := range oids {
		oids[i] = oid.Oid(binary.BigEndian.Uint32(p[i*4:]))
	}
	return oids, nil
}

// Values returns the column values of a DataRow message. A nil slice element
// denotes SQL NULL, as opposed to an empty non-nil element for a zero-length
// value.
func (m Message) Values() ([][]byte, error) {
	if m.Type() != DataRow {
		return nil, errf("expected data row, got %q", m.Type())
	}
	p := m.payload()
	if len(p) < 2 {
		return nil, errf("data row too short: %d bytes", len(p))
	}
	count := int(binary.BigEndian.Uint16(p))
	p = p[2:]

	vals := make([][]byte, count)
	for i := 0; i < count; i++ {
		if len(p) < 4 {
			return nil, errf("truncated data row at column %d", i)
		}
		size := int32(binary.BigEndian.Uint32(p))
		p = p[4:]
		if size == -1 {
			continue
		}
		if size < 0 || int(size) > len(p) {
			return nil, errf("data row column %d declares %d bytes, %d available", i, size, len(p))
		}
		vals[i] = p[:size:size]
		p = p[size:]
	}
	if len(p) != 0 {
		return nil, errf("data row carries %d trailing bytes", len(p))
	}
	return vals, nil
}

// Tag returns the command tag of a CommandComplete message, e.g. "SELECT 2"
// or "INSERT 0 1".
func (m Message) Tag() (string, error) {
	if m.Type() != CommandComplete {
		return "", errf("expected command complete, got %q", m.Type())
	}
	p := m.payload()
	if len(p) == 0 || p[len(p)-1] != 0 {
		return "", errf("unterminated command tag")
	}
	return string(p[:len(p)-1]), nil
}

// AffectedRows extracts the row count from a command tag. Tags without a
// count (BEGIN, COMMIT, ...) report zero.
func AffectedRows(tag string) int64 {
	idx := strings.LastIndexByte(tag, ' ')
	if idx == -1 {
		return 0
	}
	n, err := strconv.ParseInt(tag[idx+1:], 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// Fields returns the field map of an ErrorResponse or NoticeResponse
// message, keyed by the single-byte field codes of
// https://www.postgresql.org/docs/current/protocol-error-fields.html
func (m Message) Fields() (map[byte]string, error) {
	if !m.IsError() && !m.IsNotice() {
		return nil, errf("expected error or notice response, got %q", m.Type())
	}
	fields := make(map[byte]string)
	p := m.payload()
	for len(p) > 0 && p[0] != 0 {
		code := p[0]
		p = p[1:]
		idx := bytes.IndexByte(p, 0)
		if idx == -1 {
			return nil, errf("unterminated field %q in error response", code)
		}
		fields[code] = string(p[:idx])
		p = p[idx+1:]
	}
	return fields, nil
}

// Notification returns the origin process id, channel and payload of a
// NotificationResponse message delivered by LISTEN/NOTIFY.
func (m Message) Notification() (pid uint32, channel, payload string, err error) {
	if m.Type() != NotificationResponse {
		return 0, "", "", errf("expected notification response, got %q", m.Type())
	}
	p := m.payload()
	if len(p) < 4 {
		return 0, "", "", errf("notification response too short: %d bytes", len(p))
	}
	pid = binary.BigEndian.Uint32(p)
	p = p[4:]
	idx := bytes.IndexByte(p, 0)
	if idx == -1 {
		return 0, "", "", errf("unterminated notification channel")
	}
	channel = string(p[:idx])
	p = p[idx+1:]
	idx = bytes.IndexByte(p, 0)
	if idx == -1 {
		return 0, "", "", errf("unterminated notification payload")
	}
	return pid, channel, string(p[:idx]), nil
}
