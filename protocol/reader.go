package protocol

import (
	"encoding/binary"
	"io"
)

// maxMessageLen bounds the declared length of a single backend message. The
// server never legitimately sends frames this large outside of COPY, which
// this reader does not handle.
const maxMessageLen = 1 << 26

// backendTypes is the set of message types the backend may legally send
// during the startup and extended-query flows.
var backendTypes = [256]bool{
	Authentication:       true,
	BackendKeyData:       true,
	BindComplete:         true,
	CloseComplete:        true,
	CommandComplete:      true,
	DataRow:              true,
	EmptyQueryResponse:   true,
	ErrorResponse:        true,
	NoData:               true,
	NoticeResponse:       true,
	NotificationResponse: true,
	ParameterDescription: true,
	ParameterStatus:      true,
	ParseComplete:        true,
	PortalSuspended:      true,
	ReadyForQuery:        true,
	RowDescription:       true,
}

// NewReader creates a Reader decoding backend messages from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Reader decodes the backend side of the wire protocol from a byte stream.
// It performs no buffering of its own beyond the current message and no
// retries; any I/O failure is surfaced immediately to the caller.
type Reader struct {
	r io.Reader
}

// Next reads and returns the next typed message from the stream.
//
// The message is validated against the framing rules only: the type byte must
// belong to the known backend set and the declared length must be consistent
// with the bytes that follow. Interpreting the payload is left to the
// per-message accessors on Message.
func (r *Reader) Next() (Message, error) {
	header := make([]byte, 5)
	_, err := io.ReadFull(r.r, header)
	if err != nil {
		return nil, err
	}

	if !backendTypes[header[0]] {
		return nil, errf("unexpected message type %q", header[0])
	}

	// length is inclusive of itself but not of the type byte
	length := int(binary.BigEndian.Uint32(header[1:]))
	if length < 4 {
		return nil, errf("message %q declares length %d, minimum is 4", header[0], length)
	}
	if length > maxMessageLen {
		return nil, errf("message %q declares length %d, exceeding the %d limit", header[0], length, maxMessageLen)
	}

	msg := make(Message, length+1)
	copy(msg, header)
	_, err = io.ReadFull(r.r, msg[5:])
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, errf("message %q truncated: declared %d bytes, stream ended early", header[0], length)
		}
		return nil, err
	}
	return msg, nil
}

// ReadSSLResponse reads the single-byte answer to an SSLRequest. It is the
// only unframed byte the backend ever sends.
func (r *Reader) ReadSSLResponse() (byte, error) {
	b := make([]byte, 1)
	_, err := io.ReadFull(r.r, b)
	if err != nil {
		return 0, err
	}
	if b[0] != 'S' && b[0] != 'N' {
		return 0, errf("invalid SSL response %q", b[0])
	}
	return b[0], nil
}
