package pgfe

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/pgfe/pgfe/protocol"
	"github.com/pgfe/pgfe/types"
)

// Kind classifies every error this package returns, so callers can branch on
// failure category without matching message text.
type Kind int

const (
	// KindConnect covers transport or startup failures before the session
	// reached ready state.
	KindConnect Kind = iota + 1

	// KindAuth covers rejected or unsupported authentication.
	KindAuth

	// KindProtocol covers malformed or unexpected wire data. It is fatal to
	// the connection that observed it.
	KindProtocol

	// KindDb covers errors reported by the server itself.
	KindDb

	// KindParamCount covers a bind with the wrong number of parameters,
	// detected before anything is sent.
	KindParamCount

	// KindTypeMismatch covers values bound or scanned against incompatible
	// types, detected before anything is sent where possible.
	KindTypeMismatch

	// KindConversion covers wire bytes malformed for a compatible type.
	KindConversion

	// KindInvalidState covers operations attempted while the connection or
	// transaction cannot accept them.
	KindInvalidState
)

var kindNames = map[Kind]string{
	KindConnect:      "connect",
	KindAuth:         "auth",
	KindProtocol:     "protocol",
	KindDb:           "db",
	KindParamCount:   "param count",
	KindTypeMismatch: "type mismatch",
	KindConversion:   "conversion",
	KindInvalidState: "invalid state",
}

// Error is the concrete error type for every driver-side failure. Server
// failures travel as *DbError instead.
type Error struct {
	Kind Kind
	Msg  string
	Err  error // wrapped cause, if any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", kindNames[e.Kind], e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", kindNames[e.Kind], e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func wrapErr(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: cause}
}

// KindOf returns the failure category of any error returned by this package,
// or zero for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var db *DbError
	if errors.As(err, &db) {
		return KindDb
	}
	var pe *protocol.Error
	if errors.As(err, &pe) {
		return KindProtocol
	}
	var mm *types.MismatchError
	if errors.As(err, &mm) {
		return KindTypeMismatch
	}
	var ce *types.ConversionError
	if errors.As(err, &ce) {
		return KindConversion
	}
	return 0
}

// DbError is an error reported by the server through an ErrorResponse
// message. Code is the five-character SQLSTATE; the remaining detail fields
// are present when the server sent them.
type DbError struct {
	Severity   string
	Code       string
	Message    string
	Detail     string
	Hint       string
	Position   int
	Schema     string
	Table      string
	Column     string
	Constraint string
}

func (e *DbError) Error() string {
	return fmt.Sprintf("%s: %s (SQLSTATE %s)", e.Severity, e.Message, e.Code)
}

// CodeClass returns the first two characters of the SQLSTATE, identifying
// the error class (e.g. "23" for integrity constraint violations).
func (e *DbError) CodeClass() string {
	if len(e.Code) < 2 {
		return e.Code
	}
	return e.Code[:2]
}

// dbErrorFromFields builds a DbError from the field map of an ErrorResponse
// or NoticeResponse message.
func dbErrorFromFields(fields map[byte]string) *DbError {
	pos, _ := strconv.Atoi(fields['P'])
	return &DbError{
		Severity:   fields['S'],
		Code:       fields['C'],
		Message:    fields['M'],
		Detail:     fields['D'],
		Hint:       fields['H'],
		Position:   pos,
		Schema:     fields['s'],
		Table:      fields['t'],
		Column:     fields['c'],
		Constraint: fields['n'],
	}
}

// SQLSTATE codes callers most commonly branch on.
const (
	CodeUniqueViolation     = "23505"
	CodeForeignKeyViolation = "23503"
	CodeNotNullViolation    = "23502"
	CodeCheckViolation      = "23514"
)

// IsUniqueViolation reports whether err is a server error for a violated
// unique constraint. The constraint name is available on the DbError itself.
func IsUniqueViolation(err error) bool {
	var db *DbError
	return errors.As(err, &db) && db.Code == CodeUniqueViolation
}
