package protocol

import "fmt"

// backend message types
const (
	Authentication       = 'R'
	BackendKeyData       = 'K'
	BindComplete         = '2'
	CloseComplete        = '3'
	CommandComplete      = 'C'
	DataRow              = 'D'
	EmptyQueryResponse   = 'I'
	ErrorResponse        = 'E'
	NoData               = 'n'
	NoticeResponse       = 'N'
	NotificationResponse = 'A'
	ParameterDescription = 't'
	ParameterStatus      = 'S'
	ParseComplete        = '1'
	PortalSuspended      = 's'
	ReadyForQuery        = 'Z'
	RowDescription       = 'T'
)

// frontend message types
const (
	msgBind      = 'B'
	msgClose     = 'C'
	msgDescribe  = 'D'
	msgExecute   = 'E'
	msgParse     = 'P'
	msgPassword  = 'p'
	msgSync      = 'S'
	msgTerminate = 'X'
)

// Message is just an alias for a slice of bytes that exposes common operations
// on Postgres' client-server protocol messages. A typed message holds its
// single-byte type at position 0, the 4-byte big-endian length (inclusive of
// itself) at positions 1-4, and the payload from position 5 onwards. Untyped
// messages (startup, SSL request, cancel request) start with the length.
// see: https://www.postgresql.org/docs/current/protocol-message-formats.html
// for the postgres specific list of message formats
type Message []byte

// Type returns a single-char byte representing the message type. The full
// list of available types is available in the aforementioned documentation.
func (m Message) Type() byte {
	var b byte
	if len(m) > 0 {
		b = m[0]
	}
	return b
}

// IsError determines if the message is an ErrorResponse
func (m Message) IsError() bool {
	return m.Type() == ErrorResponse
}

// IsNotice determines if the message is a NoticeResponse
func (m Message) IsNotice() bool {
	return m.Type() == NoticeResponse
}

// payload returns the message content following the type and length header.
func (m Message) payload() []byte {
	if len(m) < 5 {
		return nil
	}
	return m[5:]
}

// Error reports wire data that violates the protocol framing or arrives in a
// context where it is not valid. It is fatal to the connection that
// received it.
type Error struct {
	Reason string
}

func (e *Error) Error() string {
	return "protocol violation: " + e.Reason
}

func errf(format string, args ...interface{}) *Error {
	return &Error{Reason: fmt.Sprintf(format, args...)}
}
