// Package sqlkv implements kv.Store on top of database/sql. Scalars, counters
// and sets each live in their own table; dialect differences are limited to
// placeholders, column types and set ordering.
package sqlkv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"kvorm/pkg/kv"
)

var (
	_ kv.Store   = (*Store)(nil)
	_ kv.Dumper  = (*Store)(nil)
	_ kv.Clearer = (*Store)(nil)
)

// Dialect captures what differs between SQL engines.
type Dialect struct {
	Name string
	// Numbered selects $1-style placeholders instead of ?.
	Numbered bool
	// CounterType is the column type of counter values.
	CounterType string
	// MemberOrder is appended to ORDER BY member so that sets sort bytewise.
	MemberOrder string
}

// SQLite is the dialect of modernc.org/sqlite.
var SQLite = Dialect{Name: "sqlite", CounterType: "INTEGER"}

// Postgres is the dialect of pgx through database/sql.
var Postgres = Dialect{Name: "postgres", Numbered: true, CounterType: "BIGINT", MemberOrder: ` COLLATE "C"`}

// Rebind rewrites ? placeholders for the dialect.
func (d Dialect) Rebind(query string) string {
	if !d.Numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d Dialect) schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS kv_scalar (
			name TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS kv_counter (
			name TEXT PRIMARY KEY,
			value %s NOT NULL
		)`, d.CounterType),
		`CREATE TABLE IF NOT EXISTS kv_set (
			name TEXT NOT NULL,
			member TEXT NOT NULL,
			PRIMARY KEY (name, member)
		)`,
	}
}

type statements struct {
	get, put, del                           string
	counterGet, counterSet, counterInc      string
	counterDel                              string
	setAdd, setRem, setMembers, setIsMember string
	setDel                                  string
}

func (d Dialect) statements() statements {
	return statements{
		get:         d.Rebind(`SELECT value FROM kv_scalar WHERE name = ?`),
		put:         d.Rebind(`INSERT INTO kv_scalar(name, value) VALUES(?, ?) ON CONFLICT(name) DO UPDATE SET value = excluded.value`),
		del:         d.Rebind(`DELETE FROM kv_scalar WHERE name = ?`),
		counterGet:  d.Rebind(`SELECT value FROM kv_counter WHERE name = ?`),
		counterSet:  d.Rebind(`INSERT INTO kv_counter(name, value) VALUES(?, ?) ON CONFLICT(name) DO UPDATE SET value = excluded.value`),
		counterInc:  d.Rebind(`INSERT INTO kv_counter(name, value) VALUES(?, 1) ON CONFLICT(name) DO UPDATE SET value = kv_counter.value + 1 RETURNING value`),
		counterDel:  d.Rebind(`DELETE FROM kv_counter WHERE name = ?`),
		setAdd:      d.Rebind(`INSERT INTO kv_set(name, member) VALUES(?, ?) ON CONFLICT(name, member) DO NOTHING`),
		setRem:      d.Rebind(`DELETE FROM kv_set WHERE name = ? AND member = ?`),
		setMembers:  d.Rebind(`SELECT member FROM kv_set WHERE name = ? ORDER BY member` + d.MemberOrder),
		setIsMember: d.Rebind(`SELECT 1 FROM kv_set WHERE name = ? AND member = ?`),
		setDel:      d.Rebind(`DELETE FROM kv_set WHERE name = ?`),
	}
}

// Store is a kv.Store over a *sql.DB.
type Store struct {
	db      *sql.DB
	dialect Dialect
	stmts   statements
	closed  atomic.Bool
}

// New ensures the kv tables exist and returns a store over db. The store owns
// db and closes it on Close.
func New(ctx context.Context, db *sql.DB, d Dialect) (*Store, error) {
	for _, ddl := range d.schema() {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return nil, fmt.Errorf("%s: ensure kv tables: %w", d.Name, err)
		}
	}
	return &Store{db: db, dialect: d, stmts: d.statements()}, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Dialect returns the store's dialect.
func (s *Store) Dialect() Dialect { return s.dialect }

func (s *Store) check(key string) error {
	if s.closed.Load() {
		return kv.ErrStoreClosed
	}
	return kv.ValidKey(key)
}

func (s *Store) exec(ctx context.Context, key, query string, args ...any) error {
	if err := s.check(key); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%s: %w", s.dialect.Name, err)
	}
	return nil
}

// Get implements kv.Store.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	if err := s.check(key); err != nil {
		return "", false, err
	}
	var v string
	err := s.db.QueryRowContext(ctx, s.stmts.get, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%s: get %s: %w", s.dialect.Name, key, err)
	}
	return v, true, nil
}

// Put implements kv.Store.
func (s *Store) Put(ctx context.Context, key, value string) error {
	return s.exec(ctx, key, s.stmts.put, key, value)
}

// Delete implements kv.Store.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.exec(ctx, key, s.stmts.del, key)
}

// CounterGet implements kv.Store.
func (s *Store) CounterGet(ctx context.Context, key string) (int64, error) {
	if err := s.check(key); err != nil {
		return 0, err
	}
	var n int64
	err := s.db.QueryRowContext(ctx, s.stmts.counterGet, key).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%s: counter get %s: %w", s.dialect.Name, key, err)
	}
	return n, nil
}

// CounterSet implements kv.Store.
func (s *Store) CounterSet(ctx context.Context, key string, value int64) error {
	return s.exec(ctx, key, s.stmts.counterSet, key, value)
}

// CounterIncrement implements kv.Store with a single upsert, so concurrent
// increments never hand out the same value.
func (s *Store) CounterIncrement(ctx context.Context, key string) (int64, error) {
	if err := s.check(key); err != nil {
		return 0, err
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, s.stmts.counterInc, key).Scan(&n); err != nil {
		return 0, fmt.Errorf("%s: counter increment %s: %w", s.dialect.Name, key, err)
	}
	return n, nil
}

// CounterDelete implements kv.Store.
func (s *Store) CounterDelete(ctx context.Context, key string) error {
	return s.exec(ctx, key, s.stmts.counterDel, key)
}

// SetAdd implements kv.Store.
func (s *Store) SetAdd(ctx context.Context, key string, members ...string) error {
	return s.eachMember(ctx, key, s.stmts.setAdd, members)
}

// SetRemove implements kv.Store.
func (s *Store) SetRemove(ctx context.Context, key string, members ...string) error {
	return s.eachMember(ctx, key, s.stmts.setRem, members)
}

func (s *Store) eachMember(ctx context.Context, key, query string, members []string) error {
	if err := s.check(key); err != nil {
		return err
	}
	switch len(members) {
	case 0:
		return nil
	case 1:
		return s.exec(ctx, key, query, key, members[0])
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, m := range members {
			if _, err := tx.ExecContext(ctx, query, key, m); err != nil {
				return err
			}
		}
		return nil
	})
}

// SetMembers implements kv.Store.
func (s *Store) SetMembers(ctx context.Context, key string) ([]string, error) {
	if err := s.check(key); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, s.stmts.setMembers, key)
	if err != nil {
		return nil, fmt.Errorf("%s: members %s: %w", s.dialect.Name, key, err)
	}
	defer func() { _ = rows.Close() }()
	members := []string{}
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("%s: scan member: %w", s.dialect.Name, err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: iterate members: %w", s.dialect.Name, err)
	}
	return members, nil
}

// SetIsMember implements kv.Store.
func (s *Store) SetIsMember(ctx context.Context, key, member string) (bool, error) {
	if err := s.check(key); err != nil {
		return false, err
	}
	var one int
	err := s.db.QueryRowContext(ctx, s.stmts.setIsMember, key, member).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%s: ismember %s: %w", s.dialect.Name, key, err)
	}
	return true, nil
}

// SetDelete implements kv.Store.
func (s *Store) SetDelete(ctx context.Context, key string) error {
	return s.exec(ctx, key, s.stmts.setDel, key)
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) (retErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin tx: %w", s.dialect.Name, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return fmt.Errorf("%s: %w", s.dialect.Name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", s.dialect.Name, err)
	}
	committed = true
	return nil
}

// Dump reads all three tables.
func (s *Store) Dump(ctx context.Context) (kv.Snapshot, error) {
	if s.closed.Load() {
		return kv.Snapshot{}, kv.ErrStoreClosed
	}
	snap := kv.Snapshot{
		Scalars:  make(map[string]string),
		Counters: make(map[string]int64),
		Sets:     make(map[string][]string),
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := scanRows(ctx, tx, `SELECT name, value FROM kv_scalar`, func(rows *sql.Rows) error {
			var k, v string
			if err := rows.Scan(&k, &v); err != nil {
				return err
			}
			snap.Scalars[k] = v
			return nil
		}); err != nil {
			return fmt.Errorf("dump scalars: %w", err)
		}
		if err := scanRows(ctx, tx, `SELECT name, value FROM kv_counter`, func(rows *sql.Rows) error {
			var k string
			var n int64
			if err := rows.Scan(&k, &n); err != nil {
				return err
			}
			snap.Counters[k] = n
			return nil
		}); err != nil {
			return fmt.Errorf("dump counters: %w", err)
		}
		if err := scanRows(ctx, tx, `SELECT name, member FROM kv_set ORDER BY name, member`+s.dialect.MemberOrder, func(rows *sql.Rows) error {
			var k, m string
			if err := rows.Scan(&k, &m); err != nil {
				return err
			}
			snap.Sets[k] = append(snap.Sets[k], m)
			return nil
		}); err != nil {
			return fmt.Errorf("dump sets: %w", err)
		}
		return nil
	})
	if err != nil {
		return kv.Snapshot{}, err
	}
	return snap, nil
}

func scanRows(ctx context.Context, tx *sql.Tx, query string, fn func(*sql.Rows) error) error {
	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Restore replaces the contents of all three tables with the snapshot.
func (s *Store) Restore(ctx context.Context, snap kv.Snapshot) error {
	if s.closed.Load() {
		return kv.ErrStoreClosed
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := truncate(ctx, tx); err != nil {
			return err
		}
		for k, v := range snap.Scalars {
			if _, err := tx.ExecContext(ctx, s.stmts.put, k, v); err != nil {
				return fmt.Errorf("restore scalar %s: %w", k, err)
			}
		}
		for k, n := range snap.Counters {
			if _, err := tx.ExecContext(ctx, s.stmts.counterSet, k, n); err != nil {
				return fmt.Errorf("restore counter %s: %w", k, err)
			}
		}
		for k, members := range snap.Sets {
			for _, m := range members {
				if _, err := tx.ExecContext(ctx, s.stmts.setAdd, k, m); err != nil {
					return fmt.Errorf("restore set %s: %w", k, err)
				}
			}
		}
		return nil
	})
}

// Clear deletes every row.
func (s *Store) Clear(ctx context.Context) error {
	if s.closed.Load() {
		return kv.ErrStoreClosed
	}
	return s.inTx(ctx, func(tx *sql.Tx) error { return truncate(ctx, tx) })
}

func truncate(ctx context.Context, tx *sql.Tx) error {
	for _, table := range []string{"kv_scalar", "kv_counter", "kv_set"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}
