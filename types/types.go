// Package types implements the value conversion layer between Go values and
// the Postgres wire representation. Conversions are strict: a value encodes
// only through a codec registered for the exact server type it is bound to,
// and SQL NULL decodes only into destinations that can represent it.
package types

import (
	"fmt"

	"github.com/lib/pq/oid"
)

// Format selects between the two wire representations of a value.
type Format int16

const (
	TextFormat   Format = 0
	BinaryFormat Format = 1
)

// TypeDesc pairs a server type with a wire format. It is the key under which
// conversion happens: RowDescription and ParameterDescription report the
// OID, the session decides the format.
type TypeDesc struct {
	ID     oid.Oid
	Format Format
}

func (d TypeDesc) String() string {
	f := "text"
	if d.Format == BinaryFormat {
		f = "binary"
	}
	return fmt.Sprintf("%s/%s", oid.TypeName[d.ID], f)
}

// Codec converts values of one server type in both directions. Encode
// rejects Go values it was not declared for rather than coercing them;
// Decode rejects bytes that are malformed for the type.
type Codec interface {
	Encode(v interface{}, format Format) ([]byte, error)
	Decode(raw []byte, format Format) (interface{}, error)
}

// MismatchError reports a Go value bound to a server type no codec accepts
// it for, or a server type no codec is registered for. It is detected before
// anything is sent to the backend.
type MismatchError struct {
	Desc   TypeDesc
	Reason string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("type mismatch for %s: %s", e.Desc, e.Reason)
}

// ConversionError reports wire bytes that are malformed for an
// otherwise-compatible type.
type ConversionError struct {
	Desc   TypeDesc
	Reason string
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("cannot convert %s value: %s", e.Desc, e.Reason)
}

func mismatchf(d TypeDesc, format string, args ...interface{}) *MismatchError {
	return &MismatchError{Desc: d, Reason: fmt.Sprintf(format, args...)}
}

func convErrf(d TypeDesc, format string, args ...interface{}) *ConversionError {
	return &ConversionError{Desc: d, Reason: fmt.Sprintf(format, args...)}
}

// Nullable wraps a value type with a NULL state. It is compatible with any
// server type its inner type is compatible with; SQL NULL decodes into it as
// the empty value where decoding into the bare inner type fails.
type Nullable[T any] struct {
	V     T
	Valid bool
}

// NewNullable returns a non-NULL Nullable holding v.
func NewNullable[T any](v T) Nullable[T] {
	return Nullable[T]{V: v, Valid: true}
}

// Get returns the inner value and whether it is present.
func (n Nullable[T]) Get() (T, bool) {
	return n.V, n.Valid
}

// SetNull makes n the empty value.
func (n *Nullable[T]) SetNull() {
	var zero T
	n.V, n.Valid = zero, false
}

// Set stores v, which must hold the inner type exactly.
func (n *Nullable[T]) Set(v interface{}) error {
	t, ok := v.(T)
	if !ok {
		return fmt.Errorf("cannot assign %T to %T", v, *n)
	}
	n.V, n.Valid = t, true
	return nil
}

func (n Nullable[T]) optionalValue() (interface{}, bool) {
	return n.V, n.Valid
}

// optional is the unwrapping contract Nullable satisfies; the registry uses
// it to translate the empty value to SQL NULL before codec lookup.
type optional interface {
	optionalValue() (interface{}, bool)
}

// NullTarget is implemented by scan destinations that can represent SQL
// NULL, Nullable among them.
type NullTarget interface {
	SetNull()
	Set(v interface{}) error
}
