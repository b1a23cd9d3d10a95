package dal

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
)

type fakeRow struct {
	value bool
	err   error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if b, ok := dest[0].(*bool); ok {
		*b = r.value
	}
	return nil
}

// fakeLockConn scripts the advisory lock queries and records which session
// each statement ran on.
type fakeLockConn struct {
	results  []fakeRow
	queries  []string
	released int
}

func (c *fakeLockConn) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	c.queries = append(c.queries, sql)
	r := c.results[0]
	c.results = c.results[1:]
	return r
}

func (c *fakeLockConn) Release() {
	c.released++
}

func TestAcquireRunLockHoldsConnection(t *testing.T) {
	conn := &fakeLockConn{results: []fakeRow{{value: true}}}

	lock, acquired, err := acquireRunLock(context.Background(), conn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !acquired || lock == nil {
		t.Fatal("expected the lock to be acquired")
	}
	if conn.released != 0 {
		t.Error("connection must stay checked out while the lock is held")
	}

	conn.results = []fakeRow{{value: true}}
	lock.Release(context.Background())

	if len(conn.queries) != 2 {
		t.Fatalf("queries: got %d, want lock then unlock", len(conn.queries))
	}
	if conn.queries[0] != "SELECT pg_try_advisory_lock($1)" {
		t.Errorf("first query: %q", conn.queries[0])
	}
	if conn.queries[1] != "SELECT pg_advisory_unlock($1)" {
		t.Errorf("unlock must run on the same session: %q", conn.queries[1])
	}
	if conn.released != 1 {
		t.Errorf("connection released %d times, want 1", conn.released)
	}
}

func TestAcquireRunLockContended(t *testing.T) {
	conn := &fakeLockConn{results: []fakeRow{{value: false}}}

	lock, acquired, err := acquireRunLock(context.Background(), conn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if acquired || lock != nil {
		t.Fatal("contended lock must not be acquired")
	}
	if conn.released != 1 {
		t.Errorf("contended acquire must return the connection, released %d times", conn.released)
	}
}

func TestAcquireRunLockQueryFailure(t *testing.T) {
	queryErr := errors.New("connection reset")
	conn := &fakeLockConn{results: []fakeRow{{err: queryErr}}}

	lock, acquired, err := acquireRunLock(context.Background(), conn)
	if !errors.Is(err, queryErr) {
		t.Fatalf("got %v, want wrapped query error", err)
	}
	if acquired || lock != nil {
		t.Fatal("failed acquire must not return a lock")
	}
	if conn.released != 1 {
		t.Errorf("failed acquire must return the connection, released %d times", conn.released)
	}
}

func TestRunLockReleaseIdempotent(t *testing.T) {
	conn := &fakeLockConn{results: []fakeRow{{value: true}, {value: true}}}

	lock, _, err := acquireRunLock(context.Background(), conn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lock.Release(context.Background())
	lock.Release(context.Background())

	if conn.released != 1 {
		t.Errorf("double release must release the connection once, got %d", conn.released)
	}
	if len(conn.queries) != 2 {
		t.Errorf("double release must not re-issue the unlock, got %d queries", len(conn.queries))
	}
}

func TestRunLockReleaseAfterUnlockError(t *testing.T) {
	conn := &fakeLockConn{results: []fakeRow{{value: true}, {err: errors.New("connection reset")}}}

	lock, _, err := acquireRunLock(context.Background(), conn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lock.Release(context.Background())
	if conn.released != 1 {
		t.Error("connection must be returned even when the unlock fails")
	}
}
