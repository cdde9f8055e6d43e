package pgfe

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pgfe/pgfe/protocol"
	"github.com/pgfe/pgfe/types"
)

func TestKindOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"driver error", newErr(KindAuth, "nope"), KindAuth},
		{"wrapped driver error", fmt.Errorf("connecting: %w", newErr(KindConnect, "refused")), KindConnect},
		{"server error", &DbError{Code: "23505"}, KindDb},
		{"wire violation", &protocol.Error{Reason: "bad frame"}, KindProtocol},
		{"type mismatch", &types.MismatchError{Reason: "no codec"}, KindTypeMismatch},
		{"conversion", &types.ConversionError{Reason: "bad bytes"}, KindConversion},
		{"foreign error", errors.New("something else"), Kind(0)},
		{"nil", nil, Kind(0)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, KindOf(tc.err))
		})
	}
}

func TestError_Message(t *testing.T) {
	err := newErr(KindInvalidState, "connection is closed")
	require.Equal(t, "invalid state: connection is closed", err.Error())

	wrapped := wrapErr(KindConnect, errors.New("connection refused"), "dialing db:5432")
	require.Equal(t, "connect: dialing db:5432: connection refused", wrapped.Error())
	require.Equal(t, "connection refused", errors.Unwrap(wrapped).Error())
}

func TestDbError(t *testing.T) {
	err := dbErrorFromFields(map[byte]string{
		'S': "ERROR",
		'C': "23505",
		'M': `duplicate key value violates unique constraint "uk_foo_name"`,
		'D': "Key (name)=(bob) already exists.",
		'P': "15",
		's': "public",
		't': "foo",
		'n': "uk_foo_name",
	})

	require.Equal(t, "23505", err.Code)
	require.Equal(t, "23", err.CodeClass())
	require.Equal(t, 15, err.Position)
	require.Equal(t, "public", err.Schema)
	require.Equal(t, "foo", err.Table)
	require.Equal(t, "uk_foo_name", err.Constraint)
	require.Contains(t, err.Error(), "SQLSTATE 23505")
}

func TestIsUniqueViolation(t *testing.T) {
	unique := &DbError{Severity: "ERROR", Code: CodeUniqueViolation, Constraint: "uk_foo_name"}
	require.True(t, IsUniqueViolation(unique))
	require.True(t, IsUniqueViolation(fmt.Errorf("inserting: %w", unique)))

	require.False(t, IsUniqueViolation(&DbError{Code: CodeCheckViolation}))
	require.False(t, IsUniqueViolation(errors.New("not a db error")))
	require.False(t, IsUniqueViolation(nil))
}
