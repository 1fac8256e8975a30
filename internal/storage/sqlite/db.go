// Package sqlite persists usage records and rollups with modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"runtime"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// dsnPragmas enables WAL and a busy timeout so the single writer and the
// read pool coexist without SQLITE_BUSY errors.
const dsnPragmas = "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)"

// Store is the SQLite-backed usage store. Writes go through a dedicated
// single-connection pool; reads use a wider pool.
type Store struct {
	write *sql.DB
	read  *sql.DB
}

// New opens the database at dsn, applies pending migrations, and returns
// the store. ":memory:" opens a shared-cache in-memory database so both
// pools see the same data.
func New(dsn string) (*Store, error) {
	var uri string
	if dsn == ":memory:" {
		uri = "file::memory:?mode=memory&cache=shared&" + dsnPragmas
	} else {
		uri = "file:" + dsn + "?" + dsnPragmas
	}

	write, err := sql.Open("sqlite", uri)
	if err != nil {
		return nil, fmt.Errorf("open write db: %w", err)
	}
	write.SetMaxOpenConns(1)

	read, err := sql.Open("sqlite", uri)
	if err != nil {
		write.Close()
		return nil, fmt.Errorf("open read db: %w", err)
	}
	read.SetMaxOpenConns(max(4, runtime.NumCPU()))

	if err := migrate(write); err != nil {
		write.Close()
		read.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	return &Store{write: write, read: read}, nil
}

// migrate applies the embedded goose migrations. fs.Sub strips the
// "migrations/" prefix so goose sees the SQL files at the FS root.
func migrate(db *sql.DB) error {
	fsys, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("sub fs: %w", err)
	}
	p, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}
	_, err = p.Up(context.Background())
	return err
}

// Ping checks connectivity on the read pool.
func (s *Store) Ping(ctx context.Context) error {
	return s.read.PingContext(ctx)
}

// Close closes both pools.
func (s *Store) Close() error {
	return errors.Join(s.write.Close(), s.read.Close())
}
