package types

import (
	"sync"

	"github.com/lib/pq/oid"
)

// Registry maps server type OIDs to their codecs. Lookup is by OID rather
// than by type name, which stays unambiguous across schemas. Registration of
// additional pairs is how extension types (geometric, key-value, ...) are
// supported; nothing here enumerates a closed set.
//
// A Registry is safe for concurrent use: it is read-mostly after setup and
// may be shared between any number of connections.
type Registry struct {
	mu     sync.RWMutex
	codecs map[oid.Oid]Codec
}

// NewRegistry returns a Registry pre-populated with the built-in codecs.
func NewRegistry() *Registry {
	r := &Registry{codecs: make(map[oid.Oid]Codec)}
	registerBuiltins(r)
	return r
}

// Default is the registry connections use unless configured otherwise.
var Default = NewRegistry()

// Register adds or replaces the codec for a server type.
func (r *Registry) Register(id oid.Oid, c Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[id] = c
}

// Lookup returns the codec registered for a server type.
func (r *Registry) Lookup(id oid.Oid) (Codec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.codecs[id]
	return c, ok
}

// Encode converts a Go value to the wire representation of the target type.
// nil and empty Nullable values become SQL NULL (a nil result with no
// error). A value whose type is not declared for the target fails with
// MismatchError before anything touches the wire.
func (r *Registry) Encode(v interface{}, d TypeDesc) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	if opt, ok := v.(optional); ok {
		inner, valid := opt.optionalValue()
		if !valid {
			return nil, nil
		}
		v = inner
	}

	c, ok := r.Lookup(d.ID)
	if !ok {
		return nil, mismatchf(d, "no codec registered for oid %d", d.ID)
	}
	return c.Encode(v, d.Format)
}

// Decode converts a wire value to a Go value. SQL NULL (nil raw) decodes to
// a nil interface value; the strict NULL rules for concrete destinations are
// applied where the value is assigned, since only there is the destination
// type known.
func (r *Registry) Decode(d TypeDesc, raw []byte) (interface{}, error) {
	if raw == nil {
		return nil, nil
	}
	c, ok := r.Lookup(d.ID)
	if !ok {
		return nil, mismatchf(d, "no codec registered for oid %d", d.ID)
	}
	return c.Decode(raw, d.Format)
}
