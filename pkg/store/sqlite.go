package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/easyops/contextcore-go/pkg/model"
)

// SQLiteItemStore SQLite 条目存储
//
// 基于 SQLite 的持久化条目存储，适用于生产环境。
// 克隆落库走事务，保证原子性。
type SQLiteItemStore struct {
	db *sql.DB
}

// NewSQLiteItemStore 创建 SQLite 条目存储
func NewSQLiteItemStore(dbPath string) (*SQLiteItemStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteItemStore{db: db}

	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	return store, nil
}

// initSchema 初始化表结构
func (s *SQLiteItemStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS contexts (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		name TEXT NOT NULL,
		parent_id TEXT,
		is_active INTEGER NOT NULL DEFAULT 1,
		settings TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_contexts_project ON contexts(project_id);

	CREATE TABLE IF NOT EXISTS content_items (
		id TEXT PRIMARY KEY,
		content_type TEXT NOT NULL,
		tokens INTEGER NOT NULL DEFAULT 0,
		payload_ref TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		tags TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS context_items (
		context_id TEXT NOT NULL,
		content_id TEXT NOT NULL,
		relevance_score REAL NOT NULL DEFAULT 0.5,
		position INTEGER NOT NULL DEFAULT 0,
		selected INTEGER NOT NULL DEFAULT 0,
		pending_selected INTEGER,
		attached_at INTEGER NOT NULL,
		PRIMARY KEY (context_id, content_id)
	);
	CREATE INDEX IF NOT EXISTS idx_context_items_context ON context_items(context_id, position);
	`

	_, err := s.db.Exec(query)
	return err
}

// PutContext 存储上下文
func (s *SQLiteItemStore) PutContext(ctx context.Context, c *model.Context) error {
	if c == nil || c.ID == "" {
		return ErrInvalidInput
	}
	return putContextTx(ctx, s.db, c)
}

// execer 同时覆盖 *sql.DB 和 *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func putContextTx(ctx context.Context, db execer, c *model.Context) error {
	settings, err := json.Marshal(c.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	query := `
	INSERT INTO contexts (id, project_id, name, parent_id, is_active, settings, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		project_id = excluded.project_id,
		name = excluded.name,
		parent_id = excluded.parent_id,
		is_active = excluded.is_active,
		settings = excluded.settings,
		updated_at = excluded.updated_at
	`

	_, err = db.ExecContext(ctx, query,
		c.ID, c.ProjectID, c.Name, nullString(c.ParentID), boolToInt(c.IsActive),
		string(settings), c.CreatedAt.UnixMilli(), time.Now().UnixMilli())
	return err
}

// GetContext 获取上下文
func (s *SQLiteItemStore) GetContext(ctx context.Context, id string) (*model.Context, error) {
	query := `SELECT id, project_id, name, parent_id, is_active, settings, created_at, updated_at
	FROM contexts WHERE id = ?`

	return scanContext(s.db.QueryRowContext(ctx, query, id))
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanContext(row rowScanner) (*model.Context, error) {
	var c model.Context
	var parentID sql.NullString
	var isActive int
	var settingsStr sql.NullString
	var createdAt, updatedAt int64

	err := row.Scan(&c.ID, &c.ProjectID, &c.Name, &parentID, &isActive, &settingsStr, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	c.ParentID = parentID.String
	c.IsActive = isActive != 0
	if settingsStr.Valid && settingsStr.String != "" {
		if err := json.Unmarshal([]byte(settingsStr.String), &c.Settings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
		}
	}
	c.CreatedAt = time.UnixMilli(createdAt)
	c.UpdatedAt = time.UnixMilli(updatedAt)

	return &c, nil
}

// ListContexts 列出项目下的全部上下文
func (s *SQLiteItemStore) ListContexts(ctx context.Context, projectID string) ([]*model.Context, error) {
	query := `SELECT id, project_id, name, parent_id, is_active, settings, created_at, updated_at
	FROM contexts WHERE project_id = ? ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*model.Context
	for rows.Next() {
		c, err := scanContext(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}

	return result, rows.Err()
}

// DeleteContext 删除上下文及其全部条目
func (s *SQLiteItemStore) DeleteContext(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM contexts WHERE id = ?`, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM context_items WHERE context_id = ?`, id); err != nil {
		return err
	}

	return tx.Commit()
}

// PutContentItem 存储内容条目
func (s *SQLiteItemStore) PutContentItem(ctx context.Context, item *model.ContentItem) error {
	if item == nil || item.ID == "" {
		return ErrInvalidInput
	}

	tags, err := json.Marshal(item.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	query := `
	INSERT INTO content_items (id, content_type, tokens, payload_ref, version, tags, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		content_type = excluded.content_type,
		tokens = excluded.tokens,
		payload_ref = excluded.payload_ref,
		version = excluded.version,
		tags = excluded.tags,
		updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		item.ID, string(item.Type), item.Tokens, item.PayloadRef, item.Version,
		string(tags), item.CreatedAt.UnixMilli(), time.Now().UnixMilli())
	return err
}

// GetContentItem 获取内容条目
func (s *SQLiteItemStore) GetContentItem(ctx context.Context, id string) (*model.ContentItem, error) {
	query := `SELECT id, content_type, tokens, payload_ref, version, tags, created_at, updated_at
	FROM content_items WHERE id = ?`

	var item model.ContentItem
	var contentType string
	var payloadRef, tagsStr sql.NullString
	var createdAt, updatedAt int64

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&item.ID, &contentType, &item.Tokens, &payloadRef, &item.Version,
		&tagsStr, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	item.Type = model.ContentType(contentType)
	item.PayloadRef = payloadRef.String
	if tagsStr.Valid && tagsStr.String != "" {
		if err := json.Unmarshal([]byte(tagsStr.String), &item.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}
	item.CreatedAt = time.UnixMilli(createdAt)
	item.UpdatedAt = time.UnixMilli(updatedAt)

	return &item, nil
}

// PutContextItem 存储上下文条目
func (s *SQLiteItemStore) PutContextItem(ctx context.Context, item *model.ContextItem) error {
	if item == nil || item.ContextID == "" || item.ContentID == "" {
		return ErrInvalidInput
	}
	return putContextItemTx(ctx, s.db, item)
}

func putContextItemTx(ctx context.Context, db execer, item *model.ContextItem) error {
	var pending sql.NullInt64
	if item.PendingSelected != nil {
		pending = sql.NullInt64{Int64: int64(boolToInt(*item.PendingSelected)), Valid: true}
	}

	query := `
	INSERT INTO context_items (context_id, content_id, relevance_score, position, selected, pending_selected, attached_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(context_id, content_id) DO UPDATE SET
		relevance_score = excluded.relevance_score,
		position = excluded.position,
		selected = excluded.selected,
		pending_selected = excluded.pending_selected
	`

	_, err := db.ExecContext(ctx, query,
		item.ContextID, item.ContentID, item.RelevanceScore, item.Position,
		boolToInt(item.Selected), pending, item.AttachedAt.UnixMilli())
	return err
}

// GetContextItem 获取上下文条目
func (s *SQLiteItemStore) GetContextItem(ctx context.Context, contextID, contentID string) (*model.ContextItem, error) {
	query := `SELECT context_id, content_id, relevance_score, position, selected, pending_selected, attached_at
	FROM context_items WHERE context_id = ? AND content_id = ?`

	return scanContextItem(s.db.QueryRowContext(ctx, query, contextID, contentID))
}

func scanContextItem(row rowScanner) (*model.ContextItem, error) {
	var item model.ContextItem
	var selected int
	var pending sql.NullInt64
	var attachedAt int64

	err := row.Scan(&item.ContextID, &item.ContentID, &item.RelevanceScore,
		&item.Position, &selected, &pending, &attachedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	item.Selected = selected != 0
	if pending.Valid {
		b := pending.Int64 != 0
		item.PendingSelected = &b
	}
	item.AttachedAt = time.UnixMilli(attachedAt)

	return &item, nil
}

// ListContextItems 列出上下文的全部条目
func (s *SQLiteItemStore) ListContextItems(ctx context.Context, contextID string) ([]*model.ContextItem, error) {
	query := `SELECT context_id, content_id, relevance_score, position, selected, pending_selected, attached_at
	FROM context_items WHERE context_id = ? ORDER BY position, content_id`

	rows, err := s.db.QueryContext(ctx, query, contextID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*model.ContextItem
	for rows.Next() {
		item, err := scanContextItem(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, item)
	}

	return result, rows.Err()
}

// DeleteContextItem 硬删除上下文条目
func (s *SQLiteItemStore) DeleteContextItem(ctx context.Context, contextID, contentID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM context_items WHERE context_id = ? AND content_id = ?`, contextID, contentID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// ApplyClone 原子落库一次克隆
//
// 整个批次在单个事务中提交；任何一步失败都回滚，
// 不留下部分克隆产物。
func (s *SQLiteItemStore) ApplyClone(ctx context.Context, batch *CloneBatch) error {
	if batch == nil || len(batch.Contexts) == 0 {
		return ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, c := range batch.Contexts {
		if c == nil || c.ID == "" {
			return ErrInvalidInput
		}
		// 克隆目标必须是新 ID，存量冲突整体拒绝
		var exists int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM contexts WHERE id = ?`, c.ID).Scan(&exists); err != nil {
			return err
		}
		if exists > 0 {
			return ErrInvalidInput
		}
		if err := putContextTx(ctx, tx, c); err != nil {
			return err
		}
	}

	for _, item := range batch.Items {
		if item == nil || item.ContextID == "" || item.ContentID == "" {
			return ErrInvalidInput
		}
		if err := putContextItemTx(ctx, tx, item); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Close 关闭连接
func (s *SQLiteItemStore) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// Compile-time interface check
var _ ItemStore = (*SQLiteItemStore)(nil)
