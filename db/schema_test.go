// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package db

import (
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T, name string) *sql.DB {
	t.Helper()
	conn, err := sql.Open("sqlite", "file:"+name+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	conn.SetMaxOpenConns(1)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestCreateSchemaIdempotent(t *testing.T) {
	conn := openTestDB(t, "schema_idempotent")

	for i := 0; i < 2; i++ {
		if err := CreateSchema(conn); err != nil {
			t.Fatalf("CreateSchema run %d failed: %v", i+1, err)
		}
	}

	for _, table := range Tables {
		var name string
		err := conn.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = $1`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestSchemaConstraints(t *testing.T) {
	conn := openTestDB(t, "schema_constraints")
	if err := CreateSchema(conn); err != nil {
		t.Fatal(err)
	}

	mustExec := func(query string, args ...any) {
		t.Helper()
		if _, err := conn.Exec(query, args...); err != nil {
			t.Fatalf("setup failed: %v", err)
		}
	}
	mustExec(`INSERT INTO chat (id, name, proposing_duration_seconds, rating_duration_seconds, created_at)
		VALUES ('c', 'Chat', 60, 60, '2025-03-01 12:00:00')`)
	mustExec(`INSERT INTO cycle (id, chat_id, created_at) VALUES ('cy', 'c', '2025-03-01 12:00:00')`)
	mustExec(`INSERT INTO round (id, cycle_id, sequence_number, phase) VALUES ('r1', 'cy', 1, 'waiting')`)

	testCases := []struct {
		name  string
		query string
	}{
		{"duplicate sequence number", `INSERT INTO round (id, cycle_id, sequence_number, phase) VALUES ('r2', 'cy', 1, 'waiting')`},
		{"unknown phase", `INSERT INTO round (id, cycle_id, sequence_number, phase) VALUES ('r3', 'cy', 3, 'voting')`},
		{"unknown start mode", `INSERT INTO chat (id, name, proposing_duration_seconds, rating_duration_seconds, start_mode, created_at)
			VALUES ('c2', 'Chat', 60, 60, 'sometimes', '2025-03-01 12:00:00')`},
		{"unknown sweep status", `INSERT INTO sweep_run (id, started_at, status) VALUES ('s', '2025-03-01 12:00:00', 'failed')`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := conn.Exec(tc.query); err == nil {
				t.Error("expected the insert to be rejected")
			}
		})
	}
}
