package protocol

import (
	"bytes"
	"encoding/binary"

	"github.com/jackc/pgio"
)

// Version is the only protocol version spoken here, 3.0, encoded as two
// consecutive 2-byte integers (major, minor).
const Version = 196608

// special startup-packet version numbers that are requests rather than
// protocol versions
const (
	sslRequestCode    = 80877103
	cancelRequestCode = 80877102
)

// authentication method codes carried by an Authentication ('R') message
const (
	AuthOK                = 0
	AuthCleartextPassword = 3
	AuthMD5Password       = 5
	AuthSASL              = 10
	AuthSASLContinue      = 11
	AuthSASLFinal         = 12
)

// StartupMessage builds the untyped message that opens every session. args
// carries at minimum the "user" key, plus "database" and any run-time
// parameter defaults (client_encoding, application_name, ...).
func StartupMessage(args map[string]string) Message {
	res := pgio.AppendInt32(nil, -1)
	res = pgio.AppendUint32(res, Version)
	for k, v := range args {
		res = append(res, k...)
		res = append(res, 0)
		res = append(res, v...)
		res = append(res, 0)
	}
	res = append(res, 0)
	pgio.SetInt32(res, int32(len(res)))
	return Message(res)
}

// SSLRequest builds the untyped message asking the backend to switch the
// stream to TLS. The backend answers with a single 'S' or 'N' byte.
func SSLRequest() Message {
	res := pgio.AppendInt32(nil, 8)
	res = pgio.AppendUint32(res, sslRequestCode)
	return Message(res)
}

// CancelRequest builds the untyped message that asks the backend to cancel
// the query running on another session, identified by the process id and
// secret key that session received in BackendKeyData.
func CancelRequest(pid, secret uint32) Message {
	res := pgio.AppendInt32(nil, 16)
	res = pgio.AppendUint32(res, cancelRequestCode)
	res = pgio.AppendUint32(res, pid)
	res = pgio.AppendUint32(res, secret)
	return Message(res)
}

// PasswordMessage builds the response to a cleartext or MD5 password
// request. For MD5 the caller passes the already-hashed credential.
func PasswordMessage(password string) Message {
	res := []byte{msgPassword}
	res = pgio.AppendInt32(res, int32(4+len(password)+1))
	res = append(res, password...)
	res = append(res, 0)
	return Message(res)
}

// SASLInitialResponse builds the first client message of a SASL exchange,
// naming the selected mechanism and carrying the mechanism-specific payload.
func SASLInitialResponse(mechanism string, data []byte) Message {
	res := []byte{msgPassword}
	sp := len(res)
	res = pgio.AppendInt32(res, -1)
	res = append(res, mechanism...)
	res = append(res, 0)
	res = pgio.AppendInt32(res, int32(len(data)))
	res = append(res, data...)
	pgio.SetInt32(res[sp:], int32(len(res[sp:])))
	return Message(res)
}

// SASLResponse builds a continuation message of a SASL exchange.
func SASLResponse(data []byte) Message {
	res := []byte{msgPassword}
	res = pgio.AppendInt32(res, int32(4+len(data)))
	res = append(res, data...)
	return Message(res)
}

// AuthType returns the authentication method code requested by an
// Authentication message.
func (m Message) AuthType() (uint32, error) {
	if m.Type() != Authentication {
		return 0, errf("expected authentication message, got %q", m.Type())
	}
	p := m.payload()
	if len(p) < 4 {
		return 0, errf("authentication message too short: %d bytes", len(p))
	}
	return binary.BigEndian.Uint32(p), nil
}

// AuthSalt returns the 4-byte salt of an AuthenticationMD5Password message.
func (m Message) AuthSalt() ([]byte, error) {
	code, err := m.AuthType()
	if err != nil {
		return nil, err
	}
	if code != AuthMD5Password {
		return nil, errf("authentication method %d carries no salt", code)
	}
	p := m.payload()
	if len(p) != 8 {
		return nil, errf("malformed md5 authentication message: %d bytes", len(p))
	}
	return p[4:8], nil
}

// AuthMechanisms returns the SASL mechanism names offered by an
// AuthenticationSASL message, in the server's order of preference.
func (m Message) AuthMechanisms() ([]string, error) {
	code, err := m.AuthType()
	if err != nil {
		return nil, err
	}
	if code != AuthSASL {
		return nil, errf("authentication method %d offers no SASL mechanisms", code)
	}

	var names []string
	buff := m.payload()[4:]
	for len(buff) > 0 && buff[0] != 0 {
		idx := bytes.IndexByte(buff, 0)
		if idx == -1 {
			return nil, errf("unterminated SASL mechanism name")
		}
		names = append(names, string(buff[:idx]))
		buff = buff[idx+1:]
	}
	return names, nil
}

// AuthSASLData returns the mechanism payload of an AuthenticationSASLContinue
// or AuthenticationSASLFinal message.
func (m Message) AuthSASLData() ([]byte, error) {
	code, err := m.AuthType()
	if err != nil {
		return nil, err
	}
	if code != AuthSASLContinue && code != AuthSASLFinal {
		return nil, errf("authentication method %d carries no SASL data", code)
	}
	return m.payload()[4:], nil
}

// KeyData returns the process id and secret key delivered in a
// BackendKeyData message, to be replayed verbatim in a CancelRequest.
func (m Message) KeyData() (pid, secret uint32, err error) {
	if m.Type() != BackendKeyData {
		return 0, 0, errf("expected backend key data, got %q", m.Type())
	}
	p := m.payload()
	if len(p) != 8 {
		return 0, 0, errf("malformed backend key data: %d bytes", len(p))
	}
	return binary.BigEndian.Uint32(p[:4]), binary.BigEndian.Uint32(p[4:]), nil
}

// ParameterPair returns the name and value of a ParameterStatus message.
// The backend reports its initial run-time settings this way during startup
// and re-reports any that later change.
func (m Message) ParameterPair() (name, value string, err error) {
	if m.Type() != ParameterStatus {
		return "", "", errf("expected parameter status, got %q", m.Type())
	}
	p := m.payload()
	idx := bytes.IndexByte(p, 0)
	if idx == -1 {
		return "", "", errf("unterminated parameter status name")
	}
	name = string(p[:idx])
	p = p[idx+1:]
	idx = bytes.IndexByte(p, 0)
	if idx == -1 {
		return "", "", errf("unterminated parameter status value")
	}
	return name, string(p[:idx]), nil
}
