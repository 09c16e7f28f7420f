package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/glebarez/go-sqlite"
)

const sqliteFileName = "offline-agent.db"

// NewSQLiteStorage 将所有命名缓存放进同一个 sqlite 文件。path 为空时使用共享内存库。
// path 指向目录时在目录下创建 offline-agent.db。
func NewSQLiteStorage(path string) (Storage, error) {
	dsn := "file::memory:?cache=shared"
	if path != "" {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			path = filepath.Join(path, sqliteFileName)
		} else if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create storage path: %w", err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// 单连接即可满足按键原子写入，也避免 sqlite 的并发写锁冲突。
	db.SetMaxOpenConns(1)

	statements := []string{
		`CREATE TABLE IF NOT EXISTS stores (
			seq  INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS entries (
			store   TEXT NOT NULL,
			key     TEXT NOT NULL,
			payload BLOB NOT NULL,
			PRIMARY KEY (store, key)
		)`,
	}
	if path != "" {
		statements = append(statements, "PRAGMA journal_mode=WAL")
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init sqlite: %w", err)
		}
	}
	return &sqliteStorage{db: db}, nil
}

type sqliteStorage struct {
	db *sql.DB
}

type sqliteStore struct {
	db   *sql.DB
	name string
}

func (s *sqliteStorage) Open(ctx context.Context, name string) (Store, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, "INSERT OR IGNORE INTO stores (name) VALUES (?)", name); err != nil {
		return nil, fmt.Errorf("create cache %s: %w", name, err)
	}
	return &sqliteStore{db: s.db, name: name}, nil
}

func (s *sqliteStorage) Has(ctx context.Context, name string) (bool, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, "SELECT seq FROM stores WHERE name = ?", name).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *sqliteStorage) Delete(ctx context.Context, name string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, "DELETE FROM stores WHERE name = ?", name)
	if err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE store = ?", name); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (s *sqliteStorage) Names(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM stores ORDER BY seq ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *sqliteStorage) Match(ctx context.Context, desc Descriptor) (Snapshot, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT e.payload FROM entries e
		JOIN stores s ON s.name = e.store
		WHERE e.key = ?
		ORDER BY s.seq ASC LIMIT 1`, desc.Key()).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, err
	}
	_, snap, err := decodeEntry(payload)
	return snap, err
}

func (s *sqliteStorage) Close() error {
	return s.db.Close()
}

func (s *sqliteStore) Name() string {
	return s.name
}

func (s *sqliteStore) Match(ctx context.Context, desc Descriptor) (Snapshot, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, "SELECT payload FROM entries WHERE store = ? AND key = ?", s.name, desc.Key()).
		Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, err
	}
	_, snap, err := decodeEntry(payload)
	return snap, err
}

func (s *sqliteStore) Put(ctx context.Context, desc Descriptor, snap Snapshot) error {
	if !desc.Cacheable() {
		return ErrMethodNotCacheable
	}
	payload, err := encodeEntry(desc, snap)
	if err != nil {
		return err
	}
	// 仅在缓存仍然存在时写入，避免后台写入复活已被清理的旧版本缓存。
	result, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO entries (store, key, payload)
		SELECT ?, ?, ? WHERE EXISTS (SELECT 1 FROM stores WHERE name = ?)`,
		s.name, desc.Key(), payload, s.name)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrStoreDeleted
	}
	return nil
}

func (s *sqliteStore) Keys(ctx context.Context) ([]Descriptor, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key FROM entries WHERE store = ? ORDER BY key ASC", s.name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []Descriptor
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		desc, err := parseDescriptor(key)
		if err != nil {
			continue
		}
		keys = append(keys, desc)
	}
	return keys, rows.Err()
}
