package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessage_Type(t *testing.T) {
	t.Run("regular message", func(t *testing.T) {
		m := Message([]byte{'E', 0, 0, 0, 4})
		require.Equal(t, byte('E'), m.Type())
	})
	t.Run("empty message", func(t *testing.T) {
		m := Message([]byte{})
		require.Equal(t, byte(0), m.Type())
	})
}

func TestMessage_IsError(t *testing.T) {
	require.True(t, Message([]byte{'E', 0, 0, 0, 4}).IsError())
	require.False(t, Message([]byte{'Z', 0, 0, 0, 5, 'I'}).IsError())
}

func TestMessage_IsNotice(t *testing.T) {
	require.True(t, Message([]byte{'N', 0, 0, 0, 4}).IsNotice())
	require.False(t, Message([]byte{'E', 0, 0, 0, 4}).IsNotice())
}
