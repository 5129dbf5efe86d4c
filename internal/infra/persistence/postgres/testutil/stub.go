// Package testutil provides a stub database/sql driver that understands the
// state-table statements issued by the postgres store.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

var driverSeq atomic.Int64

// ErrInjected is returned by operations configured to fail.
var ErrInjected = errors.New("stub: injected failure")

// StateConn keeps the state table in memory and records every statement.
type StateConn struct {
	mu         sync.Mutex
	Execs      []string
	Buckets    map[string][]byte
	Commits    int
	Rollbacks  int
	FailPing   bool
	FailBegin  bool
	FailCommit bool
	FailQuery  bool
	FailBucket string

	pending map[string][]byte
}

// NewStateDB registers a uniquely named driver and opens a sql.DB over it.
func NewStateDB() (*sql.DB, *StateConn) {
	conn := &StateConn{Buckets: map[string][]byte{}}
	name := fmt.Sprintf("stubstate%d", driverSeq.Add(1))
	sql.Register(name, stateDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	db.SetMaxOpenConns(1)
	return db, conn
}

// Statements returns a copy of the recorded statements.
func (c *StateConn) Statements() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.Execs...)
}

// Bucket returns the committed payload for bucket.
func (c *StateConn) Bucket(bucket string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.Buckets[bucket]
	return data, ok
}

type stateDriver struct{ conn *StateConn }

func (d stateDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

// Prepare implements driver.Conn.
func (c *StateConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("stub: prepare unsupported")
}

// Close implements driver.Conn.
func (c *StateConn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *StateConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// Ping implements driver.Pinger.
func (c *StateConn) Ping(context.Context) error {
	if c.FailPing {
		return ErrInjected
	}
	return nil
}

// BeginTx implements driver.ConnBeginTx.
func (c *StateConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailBegin {
		return nil, ErrInjected
	}
	c.pending = map[string][]byte{}
	return stateTx{conn: c}, nil
}

// ExecContext implements driver.ExecerContext.
func (c *StateConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	normalized := strings.Join(strings.Fields(query), " ")
	c.Execs = append(c.Execs, normalized)
	upper := strings.ToUpper(normalized)
	switch {
	case strings.HasPrefix(upper, "CREATE TABLE"):
		return driver.RowsAffected(0), nil
	case strings.HasPrefix(upper, "INSERT INTO STATE"):
		if len(args) != 2 {
			return nil, fmt.Errorf("stub: expected 2 args, got %d", len(args))
		}
		bucket, _ := args[0].Value.(string)
		if bucket == c.FailBucket && bucket != "" {
			return nil, ErrInjected
		}
		payload, _ := args[1].Value.([]byte)
		target := c.pending
		if target == nil {
			target = c.Buckets
		}
		target[bucket] = append([]byte(nil), payload...)
		return driver.RowsAffected(1), nil
	default:
		return nil, fmt.Errorf("stub: unsupported statement %q", normalized)
	}
}

// QueryContext implements driver.QueryerContext.
func (c *StateConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailQuery {
		return nil, ErrInjected
	}
	normalized := strings.Join(strings.Fields(query), " ")
	if !strings.EqualFold(normalized, "SELECT bucket, payload FROM state") {
		return nil, fmt.Errorf("stub: unsupported query %q", normalized)
	}
	names := make([]string, 0, len(c.Buckets))
	for name := range c.Buckets {
		names = append(names, name)
	}
	sort.Strings(names)
	rows := &stateRows{}
	for _, name := range names {
		rows.data = append(rows.data, [2]any{name, append([]byte(nil), c.Buckets[name]...)})
	}
	return rows, nil
}

type stateTx struct{ conn *StateConn }

func (t stateTx) Commit() error {
	c := t.conn
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailCommit {
		c.pending = nil
		return ErrInjected
	}
	for bucket, payload := range c.pending {
		c.Buckets[bucket] = payload
	}
	c.pending = nil
	c.Commits++
	return nil
}

func (t stateTx) Rollback() error {
	c := t.conn
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = nil
	c.Rollbacks++
	return nil
}

type stateRows struct {
	data [][2]any
	pos  int
}

func (r *stateRows) Columns() []string { return []string{"bucket", "payload"} }

func (r *stateRows) Close() error { return nil }

func (r *stateRows) Next(dest []driver.Value) error {
	if r.pos >= len(r.data) {
		return io.EOF
	}
	dest[0] = r.data[r.pos][0]
	dest[1] = r.data[r.pos][1]
	r.pos++
	return nil
}
