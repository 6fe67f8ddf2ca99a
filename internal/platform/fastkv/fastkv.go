// Package fastkv is the shared fast store used for gameplay-time mutual
// exclusion: locks, card ownership, presence markers, and draw state. It is
// backed by a single SQLite file shared by every server process, with
// IMMEDIATE transactions providing the single-writer ordering that cross-key
// atomic operations rely on. Values are strings; keys may carry an expiry,
// and an expired key behaves exactly like an absent one.
package fastkv

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store provides atomic key-value primitives over a shared SQLite file.
type Store struct {
	sqlDB *sql.DB
	clock func() time.Time
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS kv (
    k TEXT PRIMARY KEY,
    v TEXT NOT NULL,
    expires_at INTEGER
);
CREATE TABLE IF NOT EXISTS kv_sets (
    k TEXT NOT NULL,
    member TEXT NOT NULL,
    PRIMARY KEY (k, member)
);
CREATE TABLE IF NOT EXISTS kv_hashes (
    k TEXT NOT NULL,
    field TEXT NOT NULL,
    v TEXT NOT NULL,
    PRIMARY KEY (k, field)
);
CREATE TABLE IF NOT EXISTS kv_lists (
    k TEXT NOT NULL,
    pos INTEGER NOT NULL,
    v TEXT NOT NULL,
    PRIMARY KEY (k, pos)
);
`

// Open opens the shared store file and ensures its schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("store path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open shared store: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping shared store: %w", err)
	}
	if _, err := sqlDB.Exec(schemaSQL); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ensure shared store schema: %w", err)
	}
	return &Store{sqlDB: sqlDB, clock: time.Now}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) now() time.Time {
	if s.clock == nil {
		return time.Now()
	}
	return s.clock()
}

func (s *Store) nowMilli() int64 {
	return s.now().UTC().UnixMilli()
}

func expiry(now int64, ttl time.Duration) any {
	if ttl <= 0 {
		return nil
	}
	return now + ttl.Milliseconds()
}

// Get returns the live value for key. The second return is false when the
// key is absent or expired.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	var value string
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT v FROM kv WHERE k = ? AND (expires_at IS NULL OR expires_at > ?)
`, key, s.nowMilli())
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return value, true, nil
}

// Set writes key to value, replacing any previous value. A ttl of zero means
// no expiry.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := s.nowMilli()
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO kv (k, v, expires_at) VALUES (?, ?, ?)
ON CONFLICT (k) DO UPDATE SET v = excluded.v, expires_at = excluded.expires_at
`, key, value, expiry(now, ttl))
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// SetNX writes key only if it is absent or expired. It reports whether the
// write happened. This is the lock-acquisition primitive: the value is the
// owner token and the ttl bounds how long a crashed owner can wedge the lock.
func (s *Store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	now := s.nowMilli()
	res, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO kv (k, v, expires_at) VALUES (?, ?, ?)
ON CONFLICT (k) DO UPDATE SET v = excluded.v, expires_at = excluded.expires_at
WHERE kv.expires_at IS NOT NULL AND kv.expires_at <= ?
`, key, value, expiry(now, ttl), now)
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", key, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("setnx %s rows: %w", key, err)
	}
	return affected > 0, nil
}

// CompareAndDelete removes key only when it still holds value. Used to
// release a lock without stomping on a successor's acquisition.
func (s *Store) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	res, err := s.sqlDB.ExecContext(ctx, `DELETE FROM kv WHERE k = ? AND v = ?`, key, value)
	if err != nil {
		return false, fmt.Errorf("compare-and-delete %s: %w", key, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("compare-and-delete %s rows: %w", key, err)
	}
	return affected > 0, nil
}

// Del removes keys across every kind (plain, set, hash, list).
func (s *Store) Del(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("del begin: %w", err)
	}
	for _, key := range keys {
		for _, table := range []string{"kv", "kv_sets", "kv_hashes", "kv_lists"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE k = ?`, key); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("del %s: %w", key, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("del commit: %w", err)
	}
	return nil
}

// DelPrefix removes every key with the prefix across all kinds. Round-scoped
// cleanup uses this to drop all "…:<roundID>" state in one call.
func (s *Store) DelPrefix(ctx context.Context, prefix string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if prefix == "" {
		return fmt.Errorf("prefix is required")
	}
	pattern := prefix + "%"
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("del prefix begin: %w", err)
	}
	for _, table := range []string{"kv", "kv_sets", "kv_hashes", "kv_lists"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE k LIKE ?`, pattern); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("del prefix %s: %w", prefix, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("del prefix commit: %w", err)
	}
	return nil
}

// CountPrefix counts live plain keys sharing a prefix. Presence tracking
// uses this to count a player's unexpired connection markers.
func (s *Store) CountPrefix(ctx context.Context, prefix string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if prefix == "" {
		return 0, fmt.Errorf("prefix is required")
	}
	var count int64
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT COUNT(*) FROM kv WHERE k LIKE ? AND (expires_at IS NULL OR expires_at > ?)
`, prefix+"%", s.nowMilli())
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count prefix %s: %w", prefix, err)
	}
	return count, nil
}

// Incr increments the integer value at key, creating it at 1.
func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("incr begin: %w", err)
	}
	value, err := incrTx(ctx, tx, key)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("incr commit: %w", err)
	}
	return value, nil
}

// SAdd adds a member to the set at key.
func (s *Store) SAdd(ctx context.Context, key, member string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT OR IGNORE INTO kv_sets (k, member) VALUES (?, ?)`, key, member)
	if err != nil {
		return fmt.Errorf("sadd %s: %w", key, err)
	}
	return nil
}

// SRem removes a member from the set at key.
func (s *Store) SRem(ctx context.Context, key, member string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.sqlDB.ExecContext(ctx, `
DELETE FROM kv_sets WHERE k = ? AND member = ?`, key, member)
	if err != nil {
		return fmt.Errorf("srem %s: %w", key, err)
	}
	return nil
}

// SIsMember reports whether member is in the set at key.
func (s *Store) SIsMember(ctx context.Context, key, member string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var one int
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT 1 FROM kv_sets WHERE k = ? AND member = ?`, key, member)
	if err := row.Scan(&one); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("sismember %s: %w", key, err)
	}
	return true, nil
}

// SMembers returns every member of the set at key, sorted.
func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT member FROM kv_sets WHERE k = ? ORDER BY member`, key)
	if err != nil {
		return nil, fmt.Errorf("smembers %s: %w", key, err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var member string
		if err := rows.Scan(&member); err != nil {
			return nil, fmt.Errorf("smembers %s scan: %w", key, err)
		}
		members = append(members, member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("smembers %s rows: %w", key, err)
	}
	return members, nil
}

// SCard returns the cardinality of the set at key.
func (s *Store) SCard(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var count int64
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT COUNT(*) FROM kv_sets WHERE k = ?`, key)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("scard %s: %w", key, err)
	}
	return count, nil
}

// HSet writes a hash field.
func (s *Store) HSet(ctx context.Context, key, field, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO kv_hashes (k, field, v) VALUES (?, ?, ?)
ON CONFLICT (k, field) DO UPDATE SET v = excluded.v`, key, field, value)
	if err != nil {
		return fmt.Errorf("hset %s: %w", key, err)
	}
	return nil
}

// HGet reads a hash field. The second return is false when absent.
func (s *Store) HGet(ctx context.Context, key, field string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	var value string
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT v FROM kv_hashes WHERE k = ? AND field = ?`, key, field)
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("hget %s: %w", key, err)
	}
	return value, true, nil
}

// HDel removes a hash field.
func (s *Store) HDel(ctx context.Context, key, field string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.sqlDB.ExecContext(ctx, `
DELETE FROM kv_hashes WHERE k = ? AND field = ?`, key, field)
	if err != nil {
		return fmt.Errorf("hdel %s: %w", key, err)
	}
	return nil
}

// RPush appends a value to the list at key and returns the new length.
func (s *Store) RPush(ctx context.Context, key, value string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("rpush begin: %w", err)
	}
	length, err := rpushTx(ctx, tx, key, value)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("rpush commit: %w", err)
	}
	return length, nil
}

// LRange returns list values in push order.
func (s *Store) LRange(ctx context.Context, key string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT v FROM kv_lists WHERE k = ? ORDER BY pos`, key)
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", key, err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("lrange %s scan: %w", key, err)
		}
		values = append(values, value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lrange %s rows: %w", key, err)
	}
	return values, nil
}

// DeleteExpired sweeps expired plain keys. The read paths already fence
// expired values, so this is housekeeping, not correctness.
func (s *Store) DeleteExpired(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.sqlDB.ExecContext(ctx, `
DELETE FROM kv WHERE expires_at IS NOT NULL AND expires_at <= ?`, s.nowMilli())
	if err != nil {
		return fmt.Errorf("delete expired: %w", err)
	}
	return nil
}

func incrTx(ctx context.Context, tx *sql.Tx, key string) (int64, error) {
	if _, err := tx.ExecContext(ctx, `
INSERT INTO kv (k, v, expires_at) VALUES (?, '0', NULL)
ON CONFLICT (k) DO NOTHING`, key); err != nil {
		return 0, fmt.Errorf("incr %s seed: %w", key, err)
	}
	if _, err := tx.ExecContext(ctx, `
UPDATE kv SET v = CAST(CAST(v AS INTEGER) + 1 AS TEXT), expires_at = NULL
WHERE k = ?`, key); err != nil {
		return 0, fmt.Errorf("incr %s: %w", key, err)
	}
	var value int64
	row := tx.QueryRowContext(ctx, `SELECT CAST(v AS INTEGER) FROM kv WHERE k = ?`, key)
	if err := row.Scan(&value); err != nil {
		return 0, fmt.Errorf("incr %s read: %w", key, err)
	}
	return value, nil
}

func rpushTx(ctx context.Context, tx *sql.Tx, key, value string) (int64, error) {
	if _, err := tx.ExecContext(ctx, `
INSERT INTO kv_lists (k, pos, v)
VALUES (?, COALESCE((SELECT MAX(pos) FROM kv_lists WHERE k = ?), -1) + 1, ?)`,
		key, key, value); err != nil {
		return 0, fmt.Errorf("rpush %s: %w", key, err)
	}
	var length int64
	row := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM kv_lists WHERE k = ?`, key)
	if err := row.Scan(&length); err != nil {
		return 0, fmt.Errorf("rpush %s len: %w", key, err)
	}
	return length, nil
}
