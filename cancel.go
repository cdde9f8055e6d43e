package pgfe

import (
	"context"
	"io"
	"net"

	"github.com/pgfe/pgfe/protocol"
)

// Cancel asks the backend to abandon the query currently running on this
// session. The protocol has no in-band cancellation, so this opens a
// second, short-lived connection to the same target and sends a
// CancelRequest carrying the process id and secret key issued at startup.
// Delivery is best-effort: the backend acknowledges nothing, it just closes
// the stream, and the cancelled session sees a query-canceled error if the
// request landed in time.
func (c *Conn) Cancel(ctx context.Context) error {
	if c.status == statusClosed {
		return newErr(KindInvalidState, "connection is closed")
	}

	network, address := c.cfg.addr()
	d := net.Dialer{Timeout: c.cfg.ConnectTimeout}
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return wrapErr(KindConnect, err, "dialing %s for cancel", address)
	}
	defer conn.Close()

	if restore, err := applyDeadline(ctx, conn); err != nil {
		return err
	} else {
		defer restore()
	}

	if _, err := conn.Write(protocol.CancelRequest(c.pid, c.secret)); err != nil {
		return wrapErr(KindConnect, err, "sending cancel request")
	}

	// the backend closes the stream without answering; wait for the EOF so
	// the request is known to have been read
	_, err = conn.Read(make([]byte, 1))
	if err != nil && err != io.EOF {
		return wrapErr(KindConnect, err, "awaiting cancel acknowledgement")
	}
	c.log.Debug("cancel requested", "pid", c.pid)
	return nil
}
