package engine

import (
	"database/sql"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // register pure-Go SQLite driver
)

// Memory is the DSN of a private in-memory database.
const Memory = ":memory:"

const filePragmas = "_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"

var registerOnce sync.Once
var registerErr error

// Open opens a SQLite database, registering the scalar functions first so
// every pooled connection sees them.
//
// File databases get a busy timeout and WAL journaling so readers observe
// either the pre- or post-commit state of a writer. An in-memory database is
// private to a connection, so the pool is pinned to one.
func Open(dsn string) (*sql.DB, error) {
	registerOnce.Do(func() { registerErr = RegisterFunctions() })
	if registerErr != nil {
		return nil, registerErr
	}
	memory := dsn == Memory || strings.Contains(dsn, "mode=memory")
	if !memory && !strings.Contains(dsn, "_pragma") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + filePragmas
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if memory {
		db.SetMaxOpenConns(1)
	}
	return db, nil
}
