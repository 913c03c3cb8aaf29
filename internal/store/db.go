package store

import (
	"database/sql"
	"fmt"
	"sync/atomic"

	"github.com/matheus3301/slk/internal/bus"
	sqlite3 "github.com/mattn/go-sqlite3"
)

// Tracked table names as they appear in change events.
const (
	TableSettings      = "settings"
	TableConversations = "conversations"
	TableUsers         = "users"
	TableMessages      = "messages"
	TableRoster        = "roster"
)

// trackedTables filters the update hook. Mutations elsewhere
// (schema_migrations, sqlite internals) never reach the queue.
var trackedTables = map[string]bool{
	TableSettings:      true,
	TableConversations: true,
	TableUsers:         true,
	TableMessages:      true,
	TableRoster:        true,
}

var opKinds = map[int]bus.Op{
	sqlite3.SQLITE_INSERT: bus.OpInsert,
	sqlite3.SQLITE_UPDATE: bus.OpUpdate,
	sqlite3.SQLITE_DELETE: bus.OpDelete,
}

// DB wraps a SQLite database connection for the app-owned slk.db.
type DB struct {
	*sql.DB
}

// driverSeq distinguishes driver registrations: database/sql panics on a
// duplicate name, and each Open needs its own ConnectHook.
var driverSeq atomic.Int64

// Open creates a new SQLite connection with WAL mode and recommended
// pragmas. Every committed row mutation on a tracked table is pushed onto
// queue, one event per row, including rows touched by bulk INSERT, UPDATE
// and DELETE statements. (A WHERE-less DELETE is truncate-optimized past
// the hook, which is why the full-replace helpers carry a WHERE clause.)
// A nil queue disables change tracking.
//
// The pool is capped at a single connection so events reach the queue in
// commit order and the hook fires on the connection doing the writes.
func Open(path string, queue *bus.Queue) (*DB, error) {
	name := fmt.Sprintf("sqlite3_slk_%d", driverSeq.Add(1))
	sql.Register(name, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			if queue == nil {
				return nil
			}
			conn.RegisterUpdateHook(func(op int, dbName, table string, rowid int64) {
				kind, ok := opKinds[op]
				if !ok || !trackedTables[table] {
					return
				}
				queue.Push(bus.Event{Op: kind, Table: table, RowID: rowid})
			})
			return nil
		},
	})

	db, err := sql.Open(name, path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	// Verify connection.
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{db}, nil
}
