package protocol

import (
	"bytes"
	"io"
	"testing"

	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/stretchr/testify/require"
)

func TestStartupMessage(t *testing.T) {
	t.Run("decodes with the reference implementation", func(t *testing.T) {
		m := StartupMessage(map[string]string{
			"user":     "postgres",
			"database": "app",
		})

		backend := pgproto3.NewBackend(bytes.NewReader(m), io.Discard)
		decoded, err := backend.ReceiveStartupMessage()
		require.NoError(t, err)

		startup, ok := decoded.(*pgproto3.StartupMessage)
		require.True(t, ok)
		require.Equal(t, uint32(Version), startup.ProtocolVersion)
		require.Equal(t, "postgres", startup.Parameters["user"])
		require.Equal(t, "app", startup.Parameters["database"])
	})

	t.Run("length covers the whole message", func(t *testing.T) {
		m := StartupMessage(map[string]string{"user": "u"})
		require.Equal(t, []byte{0, 0, 0, byte(len(m))}, []byte(m[:4]))
	})
}

func TestSSLRequest(t *testing.T) {
	require.Equal(t, []byte{0, 0, 0, 8, 0x04, 0xd2, 0x16, 0x2f}, []byte(SSLRequest()))
}

func TestCancelRequest(t *testing.T) {
	m := CancelRequest(0x01020304, 0x0a0b0c0d)
	require.Equal(t, []byte{
		0, 0, 0, 16,
		0x04, 0xd2, 0x16, 0x2e,
		0x01, 0x02, 0x03, 0x04,
		0x0a, 0x0b, 0x0c, 0x0d,
	}, []byte(m))
}

func TestPasswordMessage(t *testing.T) {
	m := PasswordMessage("secret")
	require.Equal(t, []byte{'p', 0, 0, 0, 11, 's', 'e', 'c', 'r', 'e', 't', 0}, []byte(m))

	backend := pgproto3.NewBackend(bytes.NewReader(m), io.Discard)
	require.NoError(t, backend.SetAuthType(pgproto3.AuthTypeCleartextPassword))
	decoded, err := backend.Receive()
	require.NoError(t, err)
	require.Equal(t, "secret", decoded.(*pgproto3.PasswordMessage).Password)
}

func TestSASLMessages(t *testing.T) {
	t.Run("initial response", func(t *testing.T) {
		m := SASLInitialResponse("SCRAM-SHA-256", []byte("n,,n=,r=abc"))

		backend := pgproto3.NewBackend(bytes.NewReader(m), io.Discard)
		require.NoError(t, backend.SetAuthType(pgproto3.AuthTypeSASL))
		decoded, err := backend.Receive()
		require.NoError(t, err)

		init, ok := decoded.(*pgproto3.SASLInitialResponse)
		require.True(t, ok)
		require.Equal(t, "SCRAM-SHA-256", init.AuthMechanism)
		require.Equal(t, []byte("n,,n=,r=abc"), init.Data)
	})

	t.Run("continuation response", func(t *testing.T) {
		m := SASLResponse([]byte("c=biws,r=abc,p=cHJvb2Y="))

		backend := pgproto3.NewBackend(bytes.NewReader(m), io.Discard)
		require.NoError(t, backend.SetAuthType(pgproto3.AuthTypeSASLContinue))
		decoded, err := backend.Receive()
		require.NoError(t, err)
		require.Equal(t, []byte("c=biws,r=abc,p=cHJvb2Y="), decoded.(*pgproto3.SASLResponse).Data)
	})
}

func TestMessage_AuthAccessors(t *testing.T) {
	t.Run("auth ok", func(t *testing.T) {
		m := Message([]byte{'R', 0, 0, 0, 8, 0, 0, 0, 0})
		code, err := m.AuthType()
		require.NoError(t, err)
		require.Equal(t, uint32(AuthOK), code)
	})

	t.Run("md5 salt", func(t *testing.T) {
		m := Message([]byte{'R', 0, 0, 0, 12, 0, 0, 0, 5, 1, 2, 3, 4})
		salt, err := m.AuthSalt()
		require.NoError(t, err)
		require.Equal(t, []byte{1, 2, 3, 4}, salt)
	})

	t.Run("salt from non-md5 request", func(t *testing.T) {
		m := Message([]byte{'R', 0, 0, 0, 8, 0, 0, 0, 3})
		_, err := m.AuthSalt()
		require.Error(t, err)
	})

	t.Run("sasl mechanisms", func(t *testing.T) {
		payload := []byte{'R', 0, 0, 0, 0, 0, 0, 0, 10}
		payload = append(payload, "SCRAM-SHA-256-PLUS"...)
		payload = append(payload, 0)
		payload = append(payload, "SCRAM-SHA-256"...)
		payload = append(payload, 0, 0)
		payload[4] = byte(len(payload) - 1)

		names, err := Message(payload).AuthMechanisms()
		require.NoError(t, err)
		require.Equal(t, []string{"SCRAM-SHA-256-PLUS", "SCRAM-SHA-256"}, names)
	})

	t.Run("wrong message type", func(t *testing.T) {
		m := Message([]byte{'Z', 0, 0, 0, 5, 'I'})
		_, err := m.AuthType()
		require.Error(t, err)
	})
}

func TestMessage_KeyData(t *testing.T) {
	m := Message([]byte{'K', 0, 0, 0, 12, 0, 0, 0, 42, 0, 0, 1, 0})
	pid, secret, err := m.KeyData()
	require.NoError(t, err)
	require.Equal(t, uint32(42), pid)
	require.Equal(t, uint32(256), secret)
}

func TestMessage_ParameterPair(t *testing.T) {
	raw, err := (&pgproto3.ParameterStatus{Name: "server_version", Value: "16.3"}).Encode(nil)
	require.NoError(t, err)

	name, value, err := Message(raw).ParameterPair()
	require.NoError(t, err)
	require.Equal(t, "server_version", name)
	require.Equal(t, "16.3", value)
}
