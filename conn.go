// Package pgfe is a native client for the PostgreSQL frontend/backend
// protocol, version 3. It speaks the extended query flow directly over a
// byte stream: no libpq, no database/sql layer in between.
package pgfe

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/pgfe/pgfe/protocol"
	"github.com/pgfe/pgfe/types"
)

type connStatus int

const (
	statusIdle connStatus = iota
	statusInTx
	statusFaulted
	statusClosed
)

// Notification is a message delivered by LISTEN/NOTIFY.
type Notification struct {
	PID     uint32
	Channel string
	Payload string
}

// Conn is a single session with a backend. It owns its stream exclusively
// and supports exactly one in-flight operation at a time; callers sharing a
// Conn across goroutines must serialize access themselves. Independent
// Conns are fully concurrent.
type Conn struct {
	cfg      *Config
	stream   io.ReadWriteCloser
	reader   *protocol.Reader
	log      *slog.Logger
	registry *types.Registry

	status connStatus
	pid    uint32
	secret uint32
	params map[string]string

	stmtSeq       int
	rows          *Rows
	tx            *Tx
	notifications []Notification
}

// Connect parses the connection string, dials the target and performs the
// startup and authentication exchange. It returns only after ReadyForQuery.
func Connect(ctx context.Context, dsn string) (*Conn, error) {
	cfg, err := ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	return ConnectConfig(ctx, cfg)
}

// ConnectConfig dials the configured target, negotiates TLS per sslmode and
// performs the startup exchange.
func ConnectConfig(ctx context.Context, cfg *Config) (*Conn, error) {
	stream, err := dial(ctx, cfg)
	if err != nil {
		return nil, err
	}
	c, err := ConnectStream(ctx, stream, cfg)
	if err != nil {
		stream.Close()
		return nil, err
	}
	return c, nil
}

// ConnectStream performs the startup exchange over an established stream.
// The stream is treated as ready for protocol traffic: when TLS is wanted,
// the caller completes the negotiation first (ConnectConfig does both).
func ConnectStream(ctx context.Context, stream io.ReadWriteCloser, cfg *Config) (*Conn, error) {
	c := &Conn{
		cfg:      cfg,
		stream:   stream,
		reader:   protocol.NewReader(stream),
		log:      cfg.logger(),
		registry: cfg.registry(),
		params:   make(map[string]string),
	}

	restore, err := applyDeadline(ctx, stream)
	if err != nil {
		return nil, err
	}
	defer restore()

	if err := c.startup(); err != nil {
		c.status = statusFaulted
		return nil, err
	}
	c.log.Debug("session established", "pid", c.pid, "encoding", c.params["client_encoding"])
	return c, nil
}

func dial(ctx context.Context, cfg *Config) (io.ReadWriteCloser, error) {
	network, address := cfg.addr()
	d := net.Dialer{Timeout: cfg.ConnectTimeout}
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, wrapErr(KindConnect, err, "dialing %s", address)
	}

	tlsConfig := cfg.tlsClientConfig()
	if tlsConfig == nil || network == "unix" {
		return conn, nil
	}

	// ask the backend to switch the stream to TLS before anything else
	if _, err := conn.Write(protocol.SSLRequest()); err != nil {
		conn.Close()
		return nil, wrapErr(KindConnect, err, "sending SSL request")
	}
	answer, err := protocol.NewReader(conn).ReadSSLResponse()
	if err != nil {
		conn.Close()
		return nil, wrapErr(KindConnect, err, "reading SSL response")
	}
	if answer == 'N' {
		if cfg.sslRequired() {
			conn.Close()
			return nil, newErr(KindConnect, "server refused TLS and sslmode=%s requires it", cfg.SSLMode)
		}
		return conn, nil
	}

	tlsConn := tls.Client(conn, tlsConfig)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, wrapErr(KindConnect, err, "TLS handshake")
	}
	return tlsConn, nil
}

// startup drives the startup message and whatever authentication exchange
// the backend chooses, then collects the session key data and parameter
// settings until the backend reports ready.
func (c *Conn) startup() error {
	err := c.write(protocol.StartupMessage(c.cfg.startupParams()))
	if err != nil {
		return wrapErr(KindConnect, err, "sending startup message")
	}

	for {
		m, err := c.read()
		if err != nil {
			return err
		}

		switch m.Type() {
		case protocol.Authentication:
			if err := c.authenticate(m); err != nil {
				return err
			}
		case protocol.BackendKeyData:
			c.pid, c.secret, err = m.KeyData()
			if err != nil {
				return err
			}
		case protocol.ReadyForQuery:
			status, err := m.ReadyStatus()
			if err != nil {
				return err
			}
			if status != protocol.StatusIdle {
				return newErr(KindProtocol, "backend ready with status %q after startup", status)
			}
			c.status = statusIdle
			return nil
		case protocol.ErrorResponse:
			dbErr := c.dbError(m)
			if dbErr.CodeClass() == "28" {
				return wrapErr(KindAuth, dbErr, "authentication failed for user %q", c.cfg.User)
			}
			return wrapErr(KindConnect, dbErr, "startup rejected")
		default:
			return newErr(KindProtocol, "unexpected message %q during startup", m.Type())
		}
	}
}

// Close terminates the session and releases the stream. It is the only
// operation permitted on a faulted connection, and is safe to call more
// than once.
func (c *Conn) Close() error {
	if c.status == statusClosed {
		return nil
	}
	if c.status != statusFaulted {
		// best effort: the backend cleans up regardless once the stream goes
		_ = c.write(protocol.Terminate())
	}
	c.status = statusClosed
	c.log.Debug("session closed", "pid", c.pid)
	return c.stream.Close()
}

// Prepare sends the query for server-side parsing and planning and returns
// a reusable statement handle carrying the parameter and result metadata
// the backend reported.
func (c *Conn) Prepare(query string) (*Stmt, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	c.stmtSeq++
	return c.prepare(stmtName(c.stmtSeq), query)
}

// Exec parses, binds and runs a one-shot query through the unnamed
// statement and returns the number of rows the command affected.
func (c *Conn) Exec(query string, args ...interface{}) (int64, error) {
	if err := c.ready(); err != nil {
		return 0, err
	}
	s, err := c.prepare("", query)
	if err != nil {
		return 0, err
	}
	return s.Exec(args...)
}

// Query parses, binds and runs a one-shot query through the unnamed
// statement and returns a cursor over its result rows.
func (c *Conn) Query(query string, args ...interface{}) (*Rows, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	s, err := c.prepare("", query)
	if err != nil {
		return nil, err
	}
	return s.Query(args...)
}

// BackendPID returns the process id of the backend serving this session.
func (c *Conn) BackendPID() uint32 {
	return c.pid
}

// Parameter returns the last value the backend reported for a run-time
// setting such as server_version or client_encoding.
func (c *Conn) Parameter(name string) string {
	return c.params[name]
}

// Notifications drains and returns the LISTEN/NOTIFY messages received so
// far. The backend only delivers them between commands, so an idle
// connection must run a command (any command) to pick fresh ones up.
func (c *Conn) Notifications() []Notification {
	n := c.notifications
	c.notifications = nil
	return n
}

// ready guards every operation that starts a new command cycle.
func (c *Conn) ready() error {
	switch c.status {
	case statusClosed:
		return newErr(KindInvalidState, "connection is closed")
	case statusFaulted:
		return newErr(KindInvalidState, "connection is faulted; only Close is permitted")
	}
	if c.rows != nil && !c.rows.finished() {
		// a command was issued while a cursor still held the session;
		// interleaving would corrupt the message stream
		c.fault()
		return newErr(KindInvalidState, "previous result cursor was abandoned without Close")
	}
	if c.tx != nil && c.tx.aborted {
		return newErr(KindInvalidState, "transaction is aborted; only Finish (rollback) is permitted")
	}
	return nil
}

func (c *Conn) fault() {
	if c.status != statusClosed {
		c.status = statusFaulted
		c.log.Debug("session faulted", "pid", c.pid)
	}
}

// write sends one or more frontend messages as a single stream write. Any
// I/O failure faults the connection.
func (c *Conn) write(msgs ...protocol.Message) error {
	var buf []byte
	for _, m := range msgs {
		buf = append(buf, m...)
	}
	if _, err := c.stream.Write(buf); err != nil {
		c.fault()
		return wrapErr(KindProtocol, err, "writing to stream")
	}
	return nil
}

// read returns the next message the caller must act on, transparently
// folding in the asynchronous ones (parameter updates, notices,
// notifications) the backend may interleave at almost any point.
func (c *Conn) read() (protocol.Message, error) {
	for {
		m, err := c.reader.Next()
		if err != nil {
			c.fault()
			var pe *protocol.Error
			if errors.As(err, &pe) {
				return nil, wrapErr(KindProtocol, err, "decoding backend message")
			}
			return nil, wrapErr(KindProtocol, err, "reading from stream")
		}

		switch m.Type() {
		case protocol.ParameterStatus:
			name, value, err := m.ParameterPair()
			if err != nil {
				c.fault()
				return nil, wrapErr(KindProtocol, err, "decoding parameter status")
			}
			c.params[name] = value
		case protocol.NoticeResponse:
			if c.cfg.OnNotice != nil {
				fields, err := m.Fields()
				if err != nil {
					c.fault()
					return nil, wrapErr(KindProtocol, err, "decoding notice")
				}
				c.cfg.OnNotice(dbErrorFromFields(fields))
			}
		case protocol.NotificationResponse:
			pid, channel, payload, err := m.Notification()
			if err != nil {
				c.fault()
				return nil, wrapErr(KindProtocol, err, "decoding notification")
			}
			c.notifications = append(c.notifications, Notification{PID: pid, Channel: channel, Payload: payload})
		default:
			return m, nil
		}
	}
}

// dbError decodes an ErrorResponse. A malformed one is a protocol violation
// and faults the connection instead.
func (c *Conn) dbError(m protocol.Message) *DbError {
	fields, err := m.Fields()
	if err != nil {
		c.fault()
		return &DbError{Severity: "FATAL", Code: "08P01", Message: "malformed error response"}
	}
	return dbErrorFromFields(fields)
}

// syncAfterError drains the remainder of the current command cycle after an
// ErrorResponse, through the closing ReadyForQuery. The backend discards
// everything up to the Sync that is already on the wire.
func (c *Conn) syncAfterError() error {
	for {
		m, err := c.read()
		if err != nil {
			return err
		}
		if m.Type() != protocol.ReadyForQuery {
			continue
		}
		return c.applyReady(m)
	}
}

// applyReady folds a ReadyForQuery message into the session state.
func (c *Conn) applyReady(m protocol.Message) error {
	status, err := m.ReadyStatus()
	if err != nil {
		c.fault()
		return wrapErr(KindProtocol, err, "decoding ready for query")
	}
	switch status {
	case protocol.StatusIdle:
		c.status = statusIdle
	case protocol.StatusInTransaction:
		c.status = statusInTx
	case protocol.StatusFailedTx:
		c.status = statusInTx
		if c.tx != nil {
			c.tx.aborted = true
		}
	}
	return nil
}

func applyDeadline(ctx context.Context, stream io.ReadWriteCloser) (restore func(), err error) {
	nc, ok := stream.(net.Conn)
	if !ok {
		return func() {}, nil
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		return func() {}, nil
	}
	if err := nc.SetDeadline(deadline); err != nil {
		return nil, wrapErr(KindConnect, err, "setting deadline")
	}
	return func() { _ = nc.SetDeadline(time.Time{}) }, nil
}
