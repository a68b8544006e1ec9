package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/louloulin/lumos.ai-sub002/pkg/types"
)

// inMemoryDSN 内存索引
const inMemoryDSN = ":memory:"

// Index 本地记忆索引
//
// 只保存可过滤的列与 id -> CID 映射，条目正文在内容存储中。
type Index struct {
	db *sql.DB
}

// indexEntry 索引中的一行
type indexEntry struct {
	ID        string
	CID       types.CID
	UpdatedAt time.Time
	Version   uint64
}

// OpenIndex 打开或创建索引，path 为 ":memory:" 时不落盘
func OpenIndex(path string) (*Index, error) {
	dsn := inMemoryDSN
	if path != inMemoryDSN {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create index dir: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	if path == inMemoryDSN {
		// 每个连接各有一份内存库，只能用一个连接
		db.SetMaxOpenConns(1)
		if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}

	x := &Index{db: db}
	if err := x.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate index: %w", err)
	}
	return x, nil
}

func (x *Index) migrate() error {
	_, err := x.db.Exec(`
	CREATE TABLE IF NOT EXISTS memories (
		id          TEXT PRIMARY KEY,
		cid         TEXT NOT NULL,
		kind        TEXT NOT NULL,
		content     TEXT NOT NULL,
		thread_id   TEXT NOT NULL DEFAULT '',
		resource_id TEXT NOT NULL DEFAULT '',
		importance  REAL NOT NULL DEFAULT 0,
		metadata    TEXT,
		created_at  INTEGER NOT NULL,
		updated_at  INTEGER NOT NULL,
		version     INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_memories_updated ON memories(updated_at DESC);
	CREATE INDEX IF NOT EXISTS idx_memories_thread ON memories(thread_id);
	CREATE INDEX IF NOT EXISTS idx_memories_resource ON memories(resource_id);
	CREATE INDEX IF NOT EXISTS idx_memories_kind ON memories(kind);

	CREATE TABLE IF NOT EXISTS memory_tags (
		memory_id TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
		tag       TEXT NOT NULL,
		PRIMARY KEY (memory_id, tag)
	);
	CREATE INDEX IF NOT EXISTS idx_tags_tag ON memory_tags(tag);
	`)
	return err
}

// Put 写入条目；已有同 ID 且不旧于 m 的版本时不覆盖，返回 false
func (x *Index) Put(ctx context.Context, m *MemoryItem, c types.CID) (bool, error) {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var updated, version int64
	err = tx.QueryRowContext(ctx, `SELECT updated_at, version FROM memories WHERE id = ?`, m.ID).Scan(&updated, &version)
	switch {
	case err == nil:
		existing := &MemoryItem{UpdatedAt: time.Unix(0, updated), Version: uint64(version)}
		if !m.NewerThan(existing) {
			return false, nil
		}
	case errors.Is(err, sql.ErrNoRows):
	default:
		return false, fmt.Errorf("lookup %s: %w", m.ID, err)
	}

	var meta *string
	if len(m.Metadata) > 0 {
		b, err := json.Marshal(m.Metadata)
		if err != nil {
			return false, err
		}
		s := string(b)
		meta = &s
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO memories (id, cid, kind, content, thread_id, resource_id, importance, metadata, created_at, updated_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			cid = excluded.cid, kind = excluded.kind, content = excluded.content,
			thread_id = excluded.thread_id, resource_id = excluded.resource_id,
			importance = excluded.importance, metadata = excluded.metadata,
			created_at = excluded.created_at, updated_at = excluded.updated_at,
			version = excluded.version`,
		m.ID, c.String(), string(m.Kind), m.Content, m.ThreadID, m.ResourceID, m.Importance, meta,
		m.CreatedAt.UnixNano(), m.UpdatedAt.UnixNano(), int64(m.Version))
	if err != nil {
		return false, fmt.Errorf("upsert %s: %w", m.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_tags WHERE memory_id = ?`, m.ID); err != nil {
		return false, err
	}
	for _, tag := range m.Tags {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO memory_tags (memory_id, tag) VALUES (?, ?)`, m.ID, tag); err != nil {
			return false, fmt.Errorf("insert tag: %w", err)
		}
	}
	return true, tx.Commit()
}

// Lookup 按 ID 查 CID，不存在返回 ErrNotFound
func (x *Index) Lookup(ctx context.Context, id string) (indexEntry, error) {
	row := x.db.QueryRowContext(ctx, `SELECT id, cid, updated_at, version FROM memories WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return indexEntry{}, fmt.Errorf("%w: memory %s", types.ErrNotFound, id)
	}
	return e, err
}

// Delete 删除条目，返回是否存在
func (x *Index) Delete(ctx context.Context, id string) (bool, error) {
	res, err := x.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Query 按条件查询，最近更新的在前
func (x *Index) Query(ctx context.Context, f Filter, limit int) ([]indexEntry, error) {
	where, args := buildWhere(f)
	q := `SELECT id, cid, updated_at, version FROM memories m`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, ` AND `)
	}
	q += ` ORDER BY updated_at DESC, id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := x.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}
	defer rows.Close()

	var out []indexEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CIDs 所有条目当前版本的 CID
func (x *Index) CIDs(ctx context.Context) ([]types.CID, error) {
	rows, err := x.db.QueryContext(ctx, `SELECT cid FROM memories`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.CID
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		c, err := types.ParseCID(s)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Count 条目数
func (x *Index) Count(ctx context.Context) (int, error) {
	var n int
	err := x.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&n)
	return n, err
}

// Close 关闭数据库
func (x *Index) Close() error {
	return x.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (indexEntry, error) {
	var (
		e       indexEntry
		cidStr  string
		updated int64
		version int64
	)
	if err := s.Scan(&e.ID, &cidStr, &updated, &version); err != nil {
		return indexEntry{}, err
	}
	c, err := types.ParseCID(cidStr)
	if err != nil {
		return indexEntry{}, fmt.Errorf("corrupt index row %s: %w", e.ID, err)
	}
	e.CID = c
	e.UpdatedAt = time.Unix(0, updated).UTC()
	e.Version = uint64(version)
	return e, nil
}

// buildWhere 把 Filter 翻译成 SQL 条件，语义与 Filter.Match 一致
func buildWhere(f Filter) ([]string, []any) {
	var (
		where []string
		args  []any
	)
	in := func(col string, vals []string) {
		marks := strings.TrimSuffix(strings.Repeat("?,", len(vals)), ",")
		where = append(where, col+` IN (`+marks+`)`)
		for _, v := range vals {
			args = append(args, v)
		}
	}

	if len(f.IDs) > 0 {
		in("id", f.IDs)
	}
	if f.Text != "" {
		where = append(where, `instr(lower(content), lower(?)) > 0`)
		args = append(args, f.Text)
	}
	for _, tag := range f.Tags {
		where = append(where, `EXISTS (SELECT 1 FROM memory_tags t WHERE t.memory_id = m.id AND t.tag = ?)`)
		args = append(args, tag)
	}
	if len(f.Kinds) > 0 {
		kinds := make([]string, len(f.Kinds))
		for i, k := range f.Kinds {
			kinds[i] = string(k)
		}
		in("kind", kinds)
	}
	if f.ThreadID != "" {
		where = append(where, `thread_id = ?`)
		args = append(args, f.ThreadID)
	}
	if f.ResourceID != "" {
		where = append(where, `resource_id = ?`)
		args = append(args, f.ResourceID)
	}
	if !f.Since.IsZero() {
		where = append(where, `updated_at >= ?`)
		args = append(args, f.Since.UnixNano())
	}
	if !f.Until.IsZero() {
		where = append(where, `updated_at <= ?`)
		args = append(args, f.Until.UnixNano())
	}
	if f.MinImportance != 0 {
		where = append(where, `importance >= ?`)
		args = append(args, f.MinImportance)
	}
	for k, v := range f.Metadata {
		where = append(where, `EXISTS (SELECT 1 FROM json_each(m.metadata) j WHERE j.key = ? AND j.value = ?)`)
		args = append(args, k, v)
	}
	return where, args
}
