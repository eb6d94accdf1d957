package testutil

import (
	"context"
	"database/sql/driver"
	"testing"
)

func TestStubDBStoresAndQueriesRows(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()

	if err := conn.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	_, err := conn.ExecContext(ctx, "INSERT INTO state(bucket,payload) VALUES($1,$2) ON CONFLICT(bucket) DO UPDATE SET payload=EXCLUDED.payload", []driver.NamedValue{
		{Value: "records"},
		{Value: []byte("{}")},
	})
	if err != nil {
		t.Fatalf("ExecContext insert: %v", err)
	}
	_, err = conn.ExecContext(ctx, "INSERT INTO state(bucket,payload) VALUES($1,$2) ON CONFLICT(bucket) DO UPDATE SET payload=EXCLUDED.payload", []driver.NamedValue{
		{Value: "records"},
		{Value: []byte(`{"a":{}}`)},
	})
	if err != nil {
		t.Fatalf("ExecContext upsert: %v", err)
	}
	if got := conn.Rows("state"); len(got) != 1 {
		t.Fatalf("expected upsert to keep one row, got %v", got)
	}

	conn.SetRows("state", append(conn.Rows("state"), map[string]any{"bucket": "other", "payload": []byte("[]")}))
	rows, err := conn.QueryContext(ctx, "SELECT payload FROM state WHERE bucket = $1", []driver.NamedValue{{Value: "records"}})
	if err != nil {
		t.Fatalf("QueryContext: %v", err)
	}
	defer func() { _ = rows.Close() }()

	dest := make([]driver.Value, 1)
	if err := rows.Next(dest); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if string(dest[0].([]byte)) != `{"a":{}}` {
		t.Fatalf("unexpected row values: %v", dest)
	}
	if err := rows.Next(dest); err == nil {
		t.Fatalf("expected filtered result to hold a single row")
	}

	if _, err := conn.ExecContext(ctx, "DELETE FROM state WHERE bucket=$1", []driver.NamedValue{{Value: "other"}}); err != nil {
		t.Fatalf("ExecContext delete: %v", err)
	}
	if got := conn.Rows("state"); len(got) != 1 {
		t.Fatalf("expected delete to remove one row, got %v", got)
	}
}

func TestStubTransactionsStageWrites(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()
	insert := "INSERT INTO state(bucket,payload) VALUES($1,$2)"

	tx, err := conn.BeginTx(ctx, driver.TxOptions{})
	if err != nil {
		t.Fatalf("BeginTx: %v", err)
	}
	if _, err := conn.ExecContext(ctx, insert, []driver.NamedValue{{Value: "a"}, {Value: []byte("1")}}); err != nil {
		t.Fatalf("exec: %v", err)
	}
	if len(conn.Rows("state")) != 0 {
		t.Fatalf("staged write visible before commit")
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if len(conn.Rows("state")) != 0 {
		t.Fatalf("rolled back write became visible")
	}

	conn.FailCommit = true
	tx, _ = conn.BeginTx(ctx, driver.TxOptions{})
	_, _ = conn.ExecContext(ctx, insert, []driver.NamedValue{{Value: "b"}, {Value: []byte("2")}})
	if err := tx.Commit(); err == nil {
		t.Fatalf("expected commit failure")
	}
	if len(conn.Rows("state")) != 0 {
		t.Fatalf("failed commit applied writes")
	}

	conn.FailCommit = false
	tx, _ = conn.BeginTx(ctx, driver.TxOptions{})
	_, _ = conn.ExecContext(ctx, insert, []driver.NamedValue{{Value: "c"}, {Value: []byte("3")}})
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if len(conn.Rows("state")) != 1 {
		t.Fatalf("expected committed row")
	}
}

func TestStubFailureFlags(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()
	conn.FailPing = true
	if err := conn.Ping(ctx); err == nil {
		t.Fatalf("expected ping failure")
	}
	conn.FailBegin = true
	if _, err := conn.BeginTx(ctx, driver.TxOptions{}); err == nil {
		t.Fatalf("expected begin failure")
	}
	conn.FailTables = map[string]bool{"state": true}
	if _, err := conn.QueryContext(ctx, "SELECT payload FROM state", nil); err == nil {
		t.Fatalf("expected query failure")
	}
	if _, err := conn.QueryContext(ctx, "UPDATE state", nil); err == nil {
		t.Fatalf("expected parse failure")
	}
	conn.FailExec = true
	if _, err := conn.ExecContext(ctx, "CREATE TABLE x (a int)", nil); err == nil {
		t.Fatalf("expected exec failure")
	}
}
