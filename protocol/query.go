package protocol

import (
	"github.com/jackc/pgio"
	"github.com/lib/pq/oid"
)

// object kinds addressed by Describe and Close
const (
	DescribeStatement = 'S'
	DescribePortal    = 'P'
)

// Parse builds the message that asks the backend to parse and plan a query
// under the given statement name. The empty name denotes the unnamed
// statement, which is overwritten by the next Parse. Parameter types are
// left for the backend to infer; Describe reports what it chose.
func Parse(name, query string) Message {
	res := []byte{msgParse}
	sp := len(res)
	res = pgio.AppendInt32(res, -1)
	res = append(res, name...)
	res = append(res, 0)
	res = append(res, query...)
	res = append(res, 0)
	res = pgio.AppendUint16(res, 0)
	pgio.SetInt32(res[sp:], int32(len(res[sp:])))
	return Message(res)
}

// Bind builds the message that creates a portal from a prepared statement
// and a set of parameter values. A nil value denotes SQL NULL. format
// applies uniformly to all parameters and to all result columns.
func Bind(portal, statement string, params [][]byte, format int16) Message {
	res := []byte{msgBind}
	sp := len(res)
	res = pgio.AppendInt32(res, -1)
	res = append(res, portal...)
	res = append(res, 0)
	res = append(res, statement...)
	res = append(res, 0)

	res = pgio.AppendUint16(res, 1)
	res = pgio.AppendInt16(res, format)

	res = pgio.AppendUint16(res, uint16(len(params)))
	for _, p := range params {
		if p == nil {
			res = pgio.AppendInt32(res, -1)
			continue
		}
		res = pgio.AppendInt32(res, int32(len(p)))
		res = append(res, p...)
	}

	res = pgio.AppendUint16(res, 1)
	res = pgio.AppendInt16(res, format)

	pgio.SetInt32(res[sp:], int32(len(res[sp:])))
	return Message(res)
}

// Describe builds the message requesting the parameter and result metadata
// of a prepared statement (kind 'S') or the result metadata of a portal
// (kind 'P').
func Describe(kind byte, name string) Message {
	res := []byte{msgDescribe}
	res = pgio.AppendInt32(res, int32(4+1+len(name)+1))
	res = append(res, kind)
	res = append(res, name...)
	res = append(res, 0)
	return Message(res)
}

// Execute builds the message that runs a bound portal. maxRows zero requests
// all rows; a positive value makes the backend pause with PortalSuspended
// after that many.
func Execute(portal string, maxRows int32) Message {
	res := []byte{msgExecute}
	sp := len(res)
	res = pgio.AppendInt32(res, -1)
	res = append(res, portal...)
	res = append(res, 0)
	res = pgio.AppendInt32(res, maxRows)
	pgio.SetInt32(res[sp:], int32(len(res[sp:])))
	return Message(res)
}

// Close builds the message that deallocates a named statement or portal
// server-side.
func Close(kind byte, name string) Message {
	res := []byte{msgClose}
	res = pgio.AppendInt32(res, int32(4+1+len(name)+1))
	res = append(res, kind)
	res = append(res, name...)
	res = append(res, 0)
	return Message(res)
}

// Sync closes the current extended-query batch. The backend answers the
// batch, then sends ReadyForQuery.
func Sync() Message {
	return Message([]byte{msgSync, 0, 0, 0, 4})
}

// Terminate announces an orderly shutdown of the session. No response is
// sent; the client just closes the stream afterwards.
func Terminate() Message {
	return Message([]byte{msgTerminate, 0, 0, 0, 4})
}

// ColumnDesc describes a single result column as reported by RowDescription.
type ColumnDesc struct {
	Name    string
	TableID uint32
	AttrNum int16
	TypeID  oid.Oid
	Size    int16
	TypeMod int32
	Format  int16
}
