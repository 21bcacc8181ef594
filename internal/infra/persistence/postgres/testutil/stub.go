// Package testutil provides a database/sql driver that emulates the state
// table of the postgres snapshot store in memory.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
)

var stubSeq atomic.Uint64

// Failure toggles.
var (
	ErrPing   = errors.New("stub: ping failed")
	ErrExec   = errors.New("stub: exec failed")
	ErrQuery  = errors.New("stub: query failed")
	ErrBegin  = errors.New("stub: begin failed")
	ErrCommit = errors.New("stub: commit failed")
)

// StubConn records statements and holds committed state rows.
type StubConn struct {
	mu sync.Mutex

	Execs []string
	// Rows maps bucket to payload for committed upserts.
	Rows map[string][]byte

	FailPing   bool
	FailExec   bool
	FailQuery  bool
	FailBegin  bool
	FailCommit bool
	// FailBucket makes the upsert of that bucket fail.
	FailBucket string

	pending map[string][]byte
}

// NewStubDB registers a fresh driver and returns a sql.DB bound to it.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{Rows: make(map[string][]byte)}
	name := fmt.Sprintf("stubpg%d", stubSeq.Add(1))
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	db.SetMaxOpenConns(1)
	return db, conn
}

// Committed returns a copy of the committed rows.
func (c *StubConn) Committed() map[string][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string][]byte, len(c.Rows))
	for k, v := range c.Rows {
		out[k] = slices.Clone(v)
	}
	return out
}

type stubDriver struct {
	conn *StubConn
}

func (d *stubDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

// Prepare implements driver.Conn.
func (c *StubConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("stub: prepare not supported") }

// Close implements driver.Conn.
func (c *StubConn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *StubConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// Ping implements driver.Pinger.
func (c *StubConn) Ping(context.Context) error {
	if c.FailPing {
		return ErrPing
	}
	return nil
}

// BeginTx implements driver.ConnBeginTx.
func (c *StubConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailBegin {
		return nil, ErrBegin
	}
	c.pending = make(map[string][]byte)
	return &stubTx{conn: c}, nil
}

// ExecContext implements driver.ExecerContext. CREATE statements are only
// recorded; upserts into state are staged until commit, or applied
// directly outside a transaction.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Execs = append(c.Execs, query)
	if c.FailExec {
		return nil, ErrExec
	}
	upper := strings.ToUpper(strings.TrimSpace(query))
	if !strings.HasPrefix(upper, "INSERT INTO STATE") {
		return driver.RowsAffected(0), nil
	}
	if len(args) != 2 {
		return nil, fmt.Errorf("stub: expected 2 args, got %d", len(args))
	}
	bucket, _ := args[0].Value.(string)
	payload, _ := args[1].Value.([]byte)
	if bucket == c.FailBucket {
		return nil, fmt.Errorf("%w for bucket %s", ErrExec, bucket)
	}
	target := c.Rows
	if c.pending != nil {
		target = c.pending
	}
	target[bucket] = slices.Clone(payload)
	return driver.RowsAffected(1), nil
}

// QueryContext implements driver.QueryerContext for SELECT bucket, payload.
func (c *StubConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailQuery {
		return nil, ErrQuery
	}
	if !strings.Contains(strings.ToLower(query), "from state") {
		return nil, fmt.Errorf("stub: unsupported query %q", query)
	}
	keys := make([]string, 0, len(c.Rows))
	for k := range c.Rows {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	rows := &stubRows{}
	for _, k := range keys {
		rows.values = append(rows.values, []driver.Value{k, slices.Clone(c.Rows[k])})
	}
	return rows, nil
}

type stubTx struct {
	conn *StubConn
}

func (t *stubTx) Commit() error {
	c := t.conn
	c.mu.Lock()
	defer c.mu.Unlock()
	pending := c.pending
	c.pending = nil
	if c.FailCommit {
		return ErrCommit
	}
	for k, v := range pending {
		c.Rows[k] = v
	}
	return nil
}

func (t *stubTx) Rollback() error {
	t.conn.mu.Lock()
	defer t.conn.mu.Unlock()
	t.conn.pending = nil
	return nil
}

type stubRows struct {
	values [][]driver.Value
	idx    int
}

func (r *stubRows) Columns() []string { return []string{"bucket", "payload"} }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.idx])
	r.idx++
	return nil
}
