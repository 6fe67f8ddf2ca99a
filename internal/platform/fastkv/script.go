package fastkv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Shopify/go-lua"
)

// ScriptError is a failure raised from inside a script via error(...). The
// whole transaction the script ran in is rolled back before it is returned.
type ScriptError struct {
	Message string
}

func (e *ScriptError) Error() string {
	return e.Message
}

// ScriptFailed reports whether err is a script failure whose message carries
// the given marker. Scripts signal expected outcomes (a colliding card id, a
// lost lock race) as error("MARKER:detail") strings.
func ScriptFailed(err error, marker string) bool {
	var scriptErr *ScriptError
	if !errors.As(err, &scriptErr) {
		return false
	}
	return strings.Contains(scriptErr.Message, marker)
}

// ScriptDetail extracts the detail following "MARKER:" from a script failure.
func ScriptDetail(err error, marker string) string {
	var scriptErr *ScriptError
	if !errors.As(err, &scriptErr) {
		return ""
	}
	idx := strings.Index(scriptErr.Message, marker+":")
	if idx == -1 {
		return ""
	}
	detail := scriptErr.Message[idx+len(marker)+1:]
	if cut := strings.IndexAny(detail, " \t\n'\""); cut != -1 {
		detail = detail[:cut]
	}
	return detail
}

// Eval runs a Lua script inside one IMMEDIATE transaction against the shared
// store. The script sees KEYS and ARGV as 1-indexed tables and a `store`
// table with get/set/setnx/del/sadd/srem/sismember/smembers/scard/hget/hset/
// hdel/rpush/incr bindings, all operating inside the same transaction. The
// script's return values are flattened to strings; raising error(...) rolls
// the transaction back and surfaces a *ScriptError.
func (s *Store) Eval(ctx context.Context, script string, keys, args []string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(script) == "" {
		return nil, fmt.Errorf("script is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("eval begin: %w", err)
	}

	l := lua.NewState()
	lua.OpenLibraries(l)

	env := &scriptEnv{ctx: ctx, tx: tx, now: s.nowMilli()}
	registerStoreBindings(l, env)
	pushStringTable(l, keys)
	l.SetGlobal("KEYS")
	pushStringTable(l, args)
	l.SetGlobal("ARGV")

	if err := lua.DoString(l, script); err != nil {
		_ = tx.Rollback()
		if env.failure != nil {
			return nil, fmt.Errorf("eval: %w", env.failure)
		}
		return nil, fmt.Errorf("eval: %w", &ScriptError{Message: err.Error()})
	}

	results := collectResults(l)
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("eval commit: %w", err)
	}
	return results, nil
}

type scriptEnv struct {
	ctx context.Context
	tx  *sql.Tx
	now int64
	// failure holds a Go-side error raised while executing a binding so it
	// survives the trip through the Lua error machinery.
	failure error
}

func registerStoreBindings(l *lua.State, env *scriptEnv) {
	l.NewTable()

	bind := func(name string, fn lua.Function) {
		l.PushGoFunction(fn)
		l.SetField(-2, name)
	}

	bind("get", func(l *lua.State) int {
		key := lua.CheckString(l, 1)
		var value string
		row := env.tx.QueryRowContext(env.ctx, `
SELECT v FROM kv WHERE k = ? AND (expires_at IS NULL OR expires_at > ?)`, key, env.now)
		if err := row.Scan(&value); err != nil {
			if err == sql.ErrNoRows {
				l.PushNil()
				return 1
			}
			env.fail(l, "get %s: %v", key, err)
		}
		l.PushString(value)
		return 1
	})

	bind("set", func(l *lua.State) int {
		key := lua.CheckString(l, 1)
		value := lua.CheckString(l, 2)
		ttlMillis := lua.OptInteger(l, 3, 0)
		var expires any
		if ttlMillis > 0 {
			expires = env.now + int64(ttlMillis)
		}
		if _, err := env.tx.ExecContext(env.ctx, `
INSERT INTO kv (k, v, expires_at) VALUES (?, ?, ?)
ON CONFLICT (k) DO UPDATE SET v = excluded.v, expires_at = excluded.expires_at`,
			key, value, expires); err != nil {
			env.fail(l, "set %s: %v", key, err)
		}
		return 0
	})

	bind("setnx", func(l *lua.State) int {
		key := lua.CheckString(l, 1)
		value := lua.CheckString(l, 2)
		ttlMillis := lua.CheckInteger(l, 3)
		var expires any
		if ttlMillis > 0 {
			expires = env.now + int64(ttlMillis)
		}
		res, err := env.tx.ExecContext(env.ctx, `
INSERT INTO kv (k, v, expires_at) VALUES (?, ?, ?)
ON CONFLICT (k) DO UPDATE SET v = excluded.v, expires_at = excluded.expires_at
WHERE kv.expires_at IS NOT NULL AND kv.expires_at <= ?`,
			key, value, expires, env.now)
		if err != nil {
			env.fail(l, "setnx %s: %v", key, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			env.fail(l, "setnx %s rows: %v", key, err)
		}
		l.PushBoolean(affected > 0)
		return 1
	})

	bind("del", func(l *lua.State) int {
		key := lua.CheckString(l, 1)
		for _, table := range []string{"kv", "kv_sets", "kv_hashes", "kv_lists"} {
			if _, err := env.tx.ExecContext(env.ctx, `DELETE FROM `+table+` WHERE k = ?`, key); err != nil {
				env.fail(l, "del %s: %v", key, err)
			}
		}
		return 0
	})

	bind("sadd", func(l *lua.State) int {
		key := lua.CheckString(l, 1)
		member := lua.CheckString(l, 2)
		if _, err := env.tx.ExecContext(env.ctx, `
INSERT OR IGNORE INTO kv_sets (k, member) VALUES (?, ?)`, key, member); err != nil {
			env.fail(l, "sadd %s: %v", key, err)
		}
		return 0
	})

	bind("srem", func(l *lua.State) int {
		key := lua.CheckString(l, 1)
		member := lua.CheckString(l, 2)
		if _, err := env.tx.ExecContext(env.ctx, `
DELETE FROM kv_sets WHERE k = ? AND member = ?`, key, member); err != nil {
			env.fail(l, "srem %s: %v", key, err)
		}
		return 0
	})

	bind("sismember", func(l *lua.State) int {
		key := lua.CheckString(l, 1)
		member := lua.CheckString(l, 2)
		var one int
		row := env.tx.QueryRowContext(env.ctx, `
SELECT 1 FROM kv_sets WHERE k = ? AND member = ?`, key, member)
		if err := row.Scan(&one); err != nil {
			if err == sql.ErrNoRows {
				l.PushBoolean(false)
				return 1
			}
			env.fail(l, "sismember %s: %v", key, err)
		}
		l.PushBoolean(true)
		return 1
	})

	bind("smembers", func(l *lua.State) int {
		key := lua.CheckString(l, 1)
		rows, err := env.tx.QueryContext(env.ctx, `
SELECT member FROM kv_sets WHERE k = ? ORDER BY member`, key)
		if err != nil {
			env.fail(l, "smembers %s: %v", key, err)
		}
		defer rows.Close()
		var members []string
		for rows.Next() {
			var member string
			if err := rows.Scan(&member); err != nil {
				env.fail(l, "smembers %s scan: %v", key, err)
			}
			members = append(members, member)
		}
		if err := rows.Err(); err != nil {
			env.fail(l, "smembers %s rows: %v", key, err)
		}
		pushStringTable(l, members)
		return 1
	})

	bind("scard", func(l *lua.State) int {
		key := lua.CheckString(l, 1)
		var count int64
		row := env.tx.QueryRowContext(env.ctx, `SELECT COUNT(*) FROM kv_sets WHERE k = ?`, key)
		if err := row.Scan(&count); err != nil {
			env.fail(l, "scard %s: %v", key, err)
		}
		l.PushInteger(int(count))
		return 1
	})

	bind("hget", func(l *lua.State) int {
		key := lua.CheckString(l, 1)
		field := lua.CheckString(l, 2)
		var value string
		row := env.tx.QueryRowContext(env.ctx, `
SELECT v FROM kv_hashes WHERE k = ? AND field = ?`, key, field)
		if err := row.Scan(&value); err != nil {
			if err == sql.ErrNoRows {
				l.PushNil()
				return 1
			}
			env.fail(l, "hget %s: %v", key, err)
		}
		l.PushString(value)
		return 1
	})

	bind("hset", func(l *lua.State) int {
		key := lua.CheckString(l, 1)
		field := lua.CheckString(l, 2)
		value := lua.CheckString(l, 3)
		if _, err := env.tx.ExecContext(env.ctx, `
INSERT INTO kv_hashes (k, field, v) VALUES (?, ?, ?)
ON CONFLICT (k, field) DO UPDATE SET v = excluded.v`, key, field, value); err != nil {
			env.fail(l, "hset %s: %v", key, err)
		}
		return 0
	})

	bind("hdel", func(l *lua.State) int {
		key := lua.CheckString(l, 1)
		field := lua.CheckString(l, 2)
		if _, err := env.tx.ExecContext(env.ctx, `
DELETE FROM kv_hashes WHERE k = ? AND field = ?`, key, field); err != nil {
			env.fail(l, "hdel %s: %v", key, err)
		}
		return 0
	})

	bind("rpush", func(l *lua.State) int {
		key := lua.CheckString(l, 1)
		value := lua.CheckString(l, 2)
		length, err := rpushTx(env.ctx, env.tx, key, value)
		if err != nil {
			env.fail(l, "rpush %s: %v", key, err)
		}
		l.PushInteger(int(length))
		return 1
	})

	bind("incr", func(l *lua.State) int {
		key := lua.CheckString(l, 1)
		value, err := incrTx(env.ctx, env.tx, key)
		if err != nil {
			env.fail(l, "incr %s: %v", key, err)
		}
		l.PushInteger(int(value))
		return 1
	})

	l.SetGlobal("store")
}

// fail records the Go-side error and raises a Lua error, aborting the script.
func (env *scriptEnv) fail(l *lua.State, format string, args ...any) {
	env.failure = &ScriptError{Message: fmt.Sprintf(format, args...)}
	lua.Errorf(l, "%s", env.failure.Error())
}

func pushStringTable(l *lua.State, values []string) {
	l.NewTable()
	for i, value := range values {
		l.PushString(value)
		l.RawSetInt(-2, i+1)
	}
}

// collectResults flattens the script's return values into strings. Tables
// are expanded in array order; nils are skipped.
func collectResults(l *lua.State) []string {
	var results []string
	top := l.Top()
	for i := 1; i <= top; i++ {
		switch l.TypeOf(i) {
		case lua.TypeString:
			if value, ok := l.ToString(i); ok {
				results = append(results, value)
			}
		case lua.TypeNumber:
			if value, ok := l.ToNumber(i); ok {
				results = append(results, strconv.FormatInt(int64(value), 10))
			}
		case lua.TypeBoolean:
			results = append(results, strconv.FormatBool(l.ToBoolean(i)))
		case lua.TypeTable:
			length := l.RawLength(i)
			for n := 1; n <= length; n++ {
				l.RawGetInt(i, n)
				if value, ok := l.ToString(-1); ok {
					results = append(results, value)
				}
				l.Pop(1)
			}
		}
	}
	return results
}
