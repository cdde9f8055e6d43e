package pgfe

import (
	"fmt"

	"github.com/lib/pq/oid"
	"github.com/pgfe/pgfe/protocol"
	"github.com/pgfe/pgfe/types"
)

func stmtName(n int) string {
	return fmt.Sprintf("s_%d", n)
}

// Stmt is a query parsed and planned server-side, reusable across
// executions with different parameter sets. It borrows its Conn and must
// not be used after the Conn closes.
type Stmt struct {
	conn   *Conn
	name   string
	query  string
	params []oid.Oid
	cols   []protocol.ColumnDesc
	closed bool
}

// prepare runs Parse+Describe+Sync and builds the statement from the
// backend's metadata responses.
func (c *Conn) prepare(name, query string) (*Stmt, error) {
	err := c.write(
		protocol.Parse(name, query),
		protocol.Describe(protocol.DescribeStatement, name),
		protocol.Sync(),
	)
	if err != nil {
		return nil, err
	}

	s := &Stmt{conn: c, name: name, query: query}
	for {
		m, err := c.read()
		if err != nil {
			return nil, err
		}

		switch m.Type() {
		case protocol.ParseComplete:
		case protocol.ParameterDescription:
			s.params, err = m.ParameterTypes()
			if err != nil {
				c.fault()
				return nil, wrapErr(KindProtocol, err, "decoding parameter description")
			}
		case protocol.RowDescription:
			s.cols, err = m.Columns()
			if err != nil {
				c.fault()
				return nil, wrapErr(KindProtocol, err, "decoding row description")
			}
		case protocol.NoData:
			s.cols = nil
		case protocol.ErrorResponse:
			dbErr := c.dbError(m)
			if err := c.syncAfterError(); err != nil {
				return nil, err
			}
			return nil, dbErr
		case protocol.ReadyForQuery:
			if err := c.applyReady(m); err != nil {
				return nil, err
			}
			c.log.Debug("statement prepared", "name", s.name, "params", len(s.params))
			return s, nil
		default:
			c.fault()
			return nil, newErr(KindProtocol, "unexpected message %q while preparing", m.Type())
		}
	}
}

// Columns returns the result column descriptors, nil for statements that
// return no rows.
func (s *Stmt) Columns() []protocol.ColumnDesc {
	return s.cols
}

// ParameterTypes returns the parameter type OIDs the backend inferred, in
// placeholder order.
func (s *Stmt) ParameterTypes() []oid.Oid {
	return s.params
}

// Exec binds args, runs the statement and returns the number of rows the
// command affected. Result rows, if the statement produces any, are drained
// and discarded.
func (s *Stmt) Exec(args ...interface{}) (int64, error) {
	if err := s.start(args); err != nil {
		return 0, err
	}

	c := s.conn
	var affected int64
	for {
		m, err := c.read()
		if err != nil {
			return 0, err
		}
		switch m.Type() {
		case protocol.BindComplete, protocol.DataRow, protocol.EmptyQueryResponse:
		case protocol.CommandComplete:
			tag, err := m.Tag()
			if err != nil {
				c.fault()
				return 0, wrapErr(KindProtocol, err, "decoding command tag")
			}
			affected = protocol.AffectedRows(tag)
		case protocol.ErrorResponse:
			dbErr := c.dbError(m)
			if err := c.syncAfterError(); err != nil {
				return 0, err
			}
			return 0, dbErr
		case protocol.ReadyForQuery:
			if err := c.applyReady(m); err != nil {
				return 0, err
			}
			return affected, nil
		default:
			c.fault()
			return 0, newErr(KindProtocol, "unexpected message %q while executing", m.Type())
		}
	}
}

// Query binds args, runs the statement and returns a cursor streaming its
// result rows. The cursor holds the session until it is fully consumed or
// closed.
func (s *Stmt) Query(args ...interface{}) (*Rows, error) {
	if err := s.start(args); err != nil {
		return nil, err
	}

	c := s.conn
	// the portal is created (or the command failed) before any rows stream
	for {
		m, err := c.read()
		if err != nil {
			return nil, err
		}
		switch m.Type() {
		case protocol.BindComplete:
			r := &Rows{conn: c, cols: s.cols}
			c.rows = r
			return r, nil
		case protocol.ErrorResponse:
			dbErr := c.dbError(m)
			if err := c.syncAfterError(); err != nil {
				return nil, err
			}
			return nil, dbErr
		default:
			c.fault()
			return nil, newErr(KindProtocol, "unexpected message %q while binding", m.Type())
		}
	}
}

// Close deallocates the statement server-side. Closing an already-closed
// statement, or one whose connection is gone, is a no-op.
func (s *Stmt) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	c := s.conn
	if c.status == statusClosed || c.status == statusFaulted {
		// the backend dropped it (or will) along with the session
		return nil
	}
	if err := c.ready(); err != nil {
		return err
	}
	err := c.write(
		protocol.Close(protocol.DescribeStatement, s.name),
		protocol.Sync(),
	)
	if err != nil {
		return err
	}
	for {
		m, err := c.read()
		if err != nil {
			return err
		}
		switch m.Type() {
		case protocol.CloseComplete:
		case protocol.ErrorResponse:
			dbErr := c.dbError(m)
			if err := c.syncAfterError(); err != nil {
				return err
			}
			return dbErr
		case protocol.ReadyForQuery:
			return c.applyReady(m)
		default:
			c.fault()
			return newErr(KindProtocol, "unexpected message %q while closing statement", m.Type())
		}
	}
}

// start validates the bind against the statement's metadata, encodes the
// parameters and sends Bind+Execute+Sync. Validation failures happen before
// anything is written to the stream.
func (s *Stmt) start(args []interface{}) error {
	c := s.conn
	if s.closed {
		return newErr(KindInvalidState, "statement %q is closed", s.name)
	}
	if err := c.ready(); err != nil {
		return err
	}
	if len(args) != len(s.params) {
		return newErr(KindParamCount, "statement %q takes %d parameters, %d bound", s.name, len(s.params), len(args))
	}

	values := make([][]byte, len(args))
	for i, arg := range args {
		desc := types.TypeDesc{ID: s.params[i], Format: types.TextFormat}
		v, err := c.registry.Encode(arg, desc)
		if err != nil {
			return err
		}
		values[i] = v
	}

	return c.write(
		protocol.Bind("", s.name, values, int16(types.TextFormat)),
		protocol.Execute("", 0),
		protocol.Sync(),
	)
}
