package pgfe

// Tx scopes a sequence of statements to a database transaction that rolls
// back unless explicitly marked for commit. The intended shape is
//
//	tx, err := conn.Begin()
//	if err != nil { ... }
//	defer tx.Finish()
//	... work ...
//	tx.SetCommit()
//
// so that every exit path, early failures included, finishes the
// transaction exactly once, and only the path that reached SetCommit
// commits.
type Tx struct {
	conn    *Conn
	commit  bool
	done    bool
	aborted bool
}

// Begin opens a transaction. The connection must be idle: transactions do
// not nest, and opening one while another is in progress fails with an
// invalid-state error.
func (c *Conn) Begin() (*Tx, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	if c.tx != nil && !c.tx.done {
		return nil, newErr(KindInvalidState, "transaction already open")
	}
	if c.status == statusInTx {
		return nil, newErr(KindInvalidState, "session is inside a manually opened transaction")
	}

	s, err := c.prepare("", "BEGIN")
	if err != nil {
		return nil, err
	}
	if _, err := s.Exec(); err != nil {
		return nil, err
	}

	t := &Tx{conn: c}
	c.tx = t
	c.log.Debug("transaction opened", "pid", c.pid)
	return t, nil
}

// SetCommit marks the transaction to commit when it finishes. Without it,
// Finish rolls back.
func (t *Tx) SetCommit() {
	t.commit = true
}

// Finish ends the transaction: COMMIT when SetCommit was called and no
// statement failed, ROLLBACK otherwise. Exactly one of the two is sent, and
// only once; calling Finish again is an invalid-state error that sends
// nothing.
func (t *Tx) Finish() error {
	if t.done {
		return newErr(KindInvalidState, "transaction already finished")
	}
	t.done = true

	c := t.conn
	if c.tx == t {
		// detach first so the closing statement is not blocked by the
		// aborted-transaction guard
		c.tx = nil
	}
	if c.status == statusClosed || c.status == statusFaulted {
		return newErr(KindInvalidState, "connection is gone; transaction cannot be finished")
	}

	action := "ROLLBACK"
	if t.commit && !t.aborted {
		action = "COMMIT"
	}
	s, err := c.prepare("", action)
	if err != nil {
		return err
	}
	if _, err := s.Exec(); err != nil {
		return err
	}
	c.log.Debug("transaction finished", "action", action)

	if t.commit && t.aborted {
		return newErr(KindInvalidState, "transaction was aborted by a failed statement; rolled back instead of committing")
	}
	return nil
}

// Aborted reports whether a failed statement put the transaction in the
// aborted state, where the backend accepts nothing but ROLLBACK.
func (t *Tx) Aborted() bool {
	return t.aborted
}

// Exec runs a one-shot command inside the transaction.
func (t *Tx) Exec(query string, args ...interface{}) (int64, error) {
	if err := t.usable(); err != nil {
		return 0, err
	}
	return t.conn.Exec(query, args...)
}

// Query runs a one-shot query inside the transaction.
func (t *Tx) Query(query string, args ...interface{}) (*Rows, error) {
	if err := t.usable(); err != nil {
		return nil, err
	}
	return t.conn.Query(query, args...)
}

// Prepare prepares a statement inside the transaction.
func (t *Tx) Prepare(query string) (*Stmt, error) {
	if err := t.usable(); err != nil {
		return nil, err
	}
	return t.conn.Prepare(query)
}

// usable rejects statements on a finished or aborted transaction before
// anything reaches the wire.
func (t *Tx) usable() error {
	if t.done {
		return newErr(KindInvalidState, "transaction already finished")
	}
	if t.aborted {
		return newErr(KindInvalidState, "transaction is aborted; only Finish (rollback) is permitted")
	}
	return nil
}
