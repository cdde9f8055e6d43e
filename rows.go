package pgfe

import (
	"reflect"

	"github.com/pgfe/pgfe/protocol"
	"github.com/pgfe/pgfe/types"
)

// Rows streams the result of a query. Rows are pulled from the stream
// lazily, one DataRow message per Next; the session cannot start another
// command until the cursor is fully consumed or closed. Close drains
// whatever the backend still has queued, so an early break out of a Next
// loop is fine as long as Close runs; dropping the cursor without Close and
// then reusing the connection is a programming error that faults the
// connection.
type Rows struct {
	conn *Conn
	cols []protocol.ColumnDesc

	current [][]byte
	tag     string
	err     error
	done    bool
	closed  bool
}

// Next advances to the next row, returning false when the rows are
// exhausted or the stream failed; Err distinguishes the two.
func (r *Rows) Next() bool {
	if r.done || r.closed || r.err != nil {
		return false
	}

	c := r.conn
	for {
		m, err := c.read()
		if err != nil {
			r.err = err
			r.finish()
			return false
		}

		switch m.Type() {
		case protocol.DataRow:
			r.current, err = m.Values()
			if err != nil {
				c.fault()
				r.err = wrapErr(KindProtocol, err, "decoding data row")
				r.finish()
				return false
			}
			if len(r.current) != len(r.cols) {
				c.fault()
				r.err = newErr(KindProtocol, "row has %d values for %d described columns", len(r.current), len(r.cols))
				r.finish()
				return false
			}
			return true
		case protocol.CommandComplete:
			r.tag, _ = m.Tag()
		case protocol.EmptyQueryResponse, protocol.PortalSuspended:
		case protocol.ErrorResponse:
			dbErr := c.dbError(m)
			if err := c.syncAfterError(); err != nil {
				r.err = err
			} else {
				r.err = dbErr
			}
			r.finish()
			return false
		case protocol.ReadyForQuery:
			if err := c.applyReady(m); err != nil {
				r.err = err
			}
			r.finish()
			return false
		default:
			c.fault()
			r.err = newErr(KindProtocol, "unexpected message %q while streaming rows", m.Type())
			r.finish()
			return false
		}
	}
}

// Err returns the error that ended the stream early, if any.
func (r *Rows) Err() error {
	return r.err
}

// Columns returns the result column names in order.
func (r *Rows) Columns() []string {
	names := make([]string, len(r.cols))
	for i, col := range r.cols {
		names[i] = col.Name
	}
	return names
}

// CommandTag returns the completion tag, available once the stream is
// exhausted.
func (r *Rows) CommandTag() string {
	return r.tag
}

// Close drains any rows the backend still has queued and releases the
// session for the next command. It is safe to call at any point and more
// than once.
func (r *Rows) Close() error {
	if r.closed || r.done {
		return nil
	}
	r.closed = true

	c := r.conn
	if c.status == statusClosed || c.status == statusFaulted {
		r.finish()
		return nil
	}
	for {
		m, err := c.read()
		if err != nil {
			r.finish()
			return err
		}
		switch m.Type() {
		case protocol.DataRow, protocol.CommandComplete, protocol.EmptyQueryResponse,
			protocol.PortalSuspended, protocol.ErrorResponse:
		case protocol.ReadyForQuery:
			err := c.applyReady(m)
			r.finish()
			return err
		default:
			c.fault()
			r.finish()
			return newErr(KindProtocol, "unexpected message %q while draining rows", m.Type())
		}
	}
}

func (r *Rows) finish() {
	r.done = true
	if r.conn.rows == r {
		r.conn.rows = nil
	}
}

func (r *Rows) finished() bool {
	return r.done
}

// Get returns the value of column i of the current row, decoded through the
// connection's registry. SQL NULL decodes to nil.
func (r *Rows) Get(i int) (interface{}, error) {
	if r.current == nil {
		return nil, newErr(KindInvalidState, "no current row")
	}
	if i < 0 || i >= len(r.cols) {
		return nil, newErr(KindInvalidState, "column index %d out of range (%d columns)", i, len(r.cols))
	}
	desc := types.TypeDesc{ID: r.cols[i].TypeID, Format: types.TextFormat}
	return r.conn.registry.Decode(desc, r.current[i])
}

// GetByName returns the value of the named column of the current row.
func (r *Rows) GetByName(name string) (interface{}, error) {
	for i, col := range r.cols {
		if col.Name == name {
			return r.Get(i)
		}
	}
	return nil, newErr(KindInvalidState, "no column named %q", name)
}

// Scan decodes the current row into dest, one destination per column, in
// column order. A destination is either a pointer to the exact Go type the
// column's codec produces, or a NullTarget (e.g. *types.Nullable[T]) when
// the column may be NULL. Scanning NULL into a bare pointer fails.
func (r *Rows) Scan(dest ...interface{}) error {
	if r.current == nil {
		return newErr(KindInvalidState, "no current row")
	}
	if len(dest) != len(r.cols) {
		return newErr(KindParamCount, "row has %d columns, %d scan destinations", len(r.cols), len(dest))
	}
	for i, d := range dest {
		v, err := r.Get(i)
		if err != nil {
			return err
		}
		if err := assign(d, v, r.cols[i].Name); err != nil {
			return err
		}
	}
	return nil
}

func assign(dest, value interface{}, col string) error {
	if t, ok := dest.(types.NullTarget); ok {
		if value == nil {
			t.SetNull()
			return nil
		}
		if err := t.Set(value); err != nil {
			return wrapErr(KindTypeMismatch, err, "column %q", col)
		}
		return nil
	}

	if p, ok := dest.(*interface{}); ok {
		*p = value
		return nil
	}

	if value == nil {
		return newErr(KindTypeMismatch, "column %q is NULL, destination %T cannot represent it", col, dest)
	}

	rv := reflect.ValueOf(dest)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return newErr(KindTypeMismatch, "destination for column %q must be a non-nil pointer, got %T", col, dest)
	}
	if rv.Type().Elem() != reflect.TypeOf(value) {
		return newErr(KindTypeMismatch, "column %q decodes to %T, destination is %T", col, value, dest)
	}
	rv.Elem().Set(reflect.ValueOf(value))
	return nil
}
