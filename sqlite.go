// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package comm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/glebarez/go-sqlite"
	"github.com/rs/xid"
)

func init() {
	registerTransport(TransportSQLite, createSQLite, resolveSQLite)
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS queues (
	name TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS frames (
	id    INTEGER PRIMARY KEY AUTOINCREMENT,
	queue TEXT NOT NULL,
	data  BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS frames_queue ON frames(queue, id);
`

// sqliteStore keeps a queue as rows of a sqlite file shared by every
// process that opens the same path. The address is <path>#<queue>.
type sqliteStore struct {
	db       *sql.DB
	path     string
	queue    string
	capacity int
}

func openSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema in %s: %w", path, err)
	}
	return db, nil
}

func createSQLite(s *Session, o *options) (Transport, error) {
	path := s.cfg.SQLite.Path
	db, err := openSQLite(path)
	if err != nil {
		return nil, err
	}

	queue := xid.New().String()
	addr := path + "#" + queue
	if !s.reserve(TransportSQLite, addr) {
		db.Close()
		return nil, fmt.Errorf("sqlite queue %s handed out twice", addr)
	}
	if _, err := db.Exec(`INSERT INTO queues(name) VALUES (?)`, queue); err != nil {
		db.Close()
		return nil, fmt.Errorf("create queue %s: %w", queue, err)
	}
	store := &sqliteStore{db: db, path: path, queue: queue, capacity: s.cfg.SQLite.Capacity}
	return newQueueTransport(s, o, addr, s.cfg.SQLite.MaxMsgSize, store), nil
}

func resolveSQLite(s *Session, o *options) (Transport, error) {
	i := strings.LastIndexByte(o.address, '#')
	if i <= 0 || i == len(o.address)-1 {
		return nil, fmt.Errorf("%w: sqlite address %q is not <path>#<queue>", ErrMissingAddress, o.address)
	}
	path, queue := o.address[:i], o.address[i+1:]

	db, err := openSQLite(path)
	if err != nil {
		return nil, err
	}
	store := &sqliteStore{db: db, path: path, queue: queue, capacity: s.cfg.SQLite.Capacity}
	ok, err := store.exists(context.Background())
	if err != nil {
		db.Close()
		return nil, err
	}
	if !ok {
		db.Close()
		return nil, fmt.Errorf("%w: no sqlite queue %q in %s", ErrMissingAddress, queue, path)
	}
	return newQueueTransport(s, o, o.address, s.cfg.SQLite.MaxMsgSize, store), nil
}

func (q *sqliteStore) exists(ctx context.Context) (bool, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queues WHERE name = ?`, q.queue).Scan(&n)
	if err != nil {
		return false, q.wrap("look up queue", err)
	}
	return n > 0, nil
}

func (q *sqliteStore) put(ctx context.Context, frame []byte) error {
	if frame == nil {
		frame = []byte{}
	}
	capacity := q.capacity
	if capacity <= 0 {
		capacity = -1
	}
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO frames(queue, data)
		SELECT ?, ?
		WHERE EXISTS (SELECT 1 FROM queues WHERE name = ?)
		  AND (? < 0 OR (SELECT COUNT(*) FROM frames WHERE queue = ?) < ?)`,
		q.queue, frame, q.queue, capacity, q.queue, capacity)
	if err != nil {
		return q.wrap("insert frame", err)
	}
	if n, err := res.RowsAffected(); err != nil || n == 1 {
		return err
	}

	ok, err := q.exists(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: sqlite queue %s removed", ErrClosed, q.queue)
	}
	return transient("sqlite queue %s full", q.queue)
}

func (q *sqliteStore) take(ctx context.Context, _ int) ([]byte, error) {
	var frame []byte
	err := q.db.QueryRowContext(ctx, `
		DELETE FROM frames
		WHERE id = (SELECT id FROM frames WHERE queue = ? ORDER BY id LIMIT 1)
		RETURNING data`, q.queue).Scan(&frame)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, transient("sqlite queue %s empty", q.queue)
	}
	if err != nil {
		return nil, q.wrap("take frame", err)
	}
	return frame, nil
}

func (q *sqliteStore) count(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM frames WHERE queue = ?`, q.queue).Scan(&n)
	if err != nil {
		return 0, q.wrap("count frames", err)
	}
	return n, nil
}

func (q *sqliteStore) release(remove bool) error {
	var errs []error
	if remove {
		if _, err := q.db.Exec(`DELETE FROM frames WHERE queue = ?`, q.queue); err != nil {
			errs = append(errs, q.wrap("drop frames", err))
		}
		if _, err := q.db.Exec(`DELETE FROM queues WHERE name = ?`, q.queue); err != nil {
			errs = append(errs, q.wrap("drop queue", err))
		}
	}
	if err := q.db.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// wrap marks lock contention from another process as transient.
func (q *sqliteStore) wrap(op string, err error) error {
	msg := err.Error()
	if strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked") {
		return transient("%s on %s: %v", op, q.queue, err)
	}
	return fmt.Errorf("%s on sqlite queue %s: %w", op, q.queue, err)
}
