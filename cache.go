package popchat

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

// Cache keeps the last known conversation list across restarts so the list
// can be shown before the first refresh completes.
type Cache interface {
	Load(ctx context.Context) ([]*Conversation, error)
	Save(ctx context.Context, list []*Conversation) error
}

// ============================================================================
// MemoryCache
// ============================================================================

// MemoryCache is a goroutine-safe in-memory Cache.
type MemoryCache struct {
	mu   sync.RWMutex
	list []*Conversation
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{}
}

func (c *MemoryCache) Load(_ context.Context) ([]*Conversation, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneList(c.list), nil
}

func (c *MemoryCache) Save(_ context.Context, list []*Conversation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.list = cloneList(list)
	return nil
}

func cloneList(list []*Conversation) []*Conversation {
	if list == nil {
		return nil
	}
	out := make([]*Conversation, len(list))
	for i, c := range list {
		out[i] = c.Clone()
	}
	return out
}

// ============================================================================
// SQLiteCache
// ============================================================================

//go:embed migrations/*.sql
var migrations embed.FS

// goose keeps its configuration in package state.
var migrateMu sync.Mutex

// SQLiteOptions tunes the sqlite DSN.
type SQLiteOptions struct {
	// Mode can be ro | rw | rwc | memory
	Mode string
	// Cache can be shared | private
	Cache string
	// JournalMode can be DELETE | TRUNCATE | PERSIST | MEMORY | WAL | OFF
	JournalMode string
}

func (o *SQLiteOptions) dsn(file string) string {
	var sb strings.Builder
	sb.WriteString("file:")
	sb.WriteString(file)
	if o == nil {
		return sb.String()
	}

	var params []string
	if o.Mode != "" {
		params = append(params, "mode="+o.Mode)
	}
	if o.Cache != "" {
		params = append(params, "cache="+o.Cache)
	}
	if o.JournalMode != "" {
		params = append(params, "_journal_mode="+o.JournalMode)
	}
	if len(params) > 0 {
		sb.WriteString("?")
		sb.WriteString(strings.Join(params, "&"))
	}
	return sb.String()
}

// SQLiteCache stores the conversation list in a sqlite database. Each
// conversation is one row holding its JSON encoding.
type SQLiteCache struct {
	db *sql.DB
}

// OpenSQLiteCache opens the database at file and migrates it to the latest
// schema.
func OpenSQLiteCache(file string, opts *SQLiteOptions) (*SQLiteCache, error) {
	db, err := sql.Open("sqlite3", opts.dsn(file))
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteCache{db: db}, nil
}

func migrate(db *sql.DB) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(migrations)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// Close closes the database.
func (c *SQLiteCache) Close() error {
	return c.db.Close()
}

// Load returns the saved list in its saved order.
func (c *SQLiteCache) Load(ctx context.Context) ([]*Conversation, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT body, unread_count FROM conversations ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var list []*Conversation
	for rows.Next() {
		var (
			body   string
			unread int
		)
		if err := rows.Scan(&body, &unread); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		var conv Conversation
		if err := json.Unmarshal([]byte(body), &conv); err != nil {
			return nil, fmt.Errorf("decode conversation: %w", err)
		}
		conv.UnreadCount = unread
		list = append(list, &conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return list, nil
}

// Save replaces the saved list with list.
func (c *SQLiteCache) Save(ctx context.Context, list []*Conversation) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations`); err != nil {
		return fmt.Errorf("clear conversations: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO conversations (id, kind, position, unread_count, last_message_at, body)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, conv := range list {
		if conv.ID == "" {
			continue
		}
		body, err := json.Marshal(conv)
		if err != nil {
			return fmt.Errorf("encode conversation %s: %w", conv.ID, err)
		}
		var lastAt sql.NullString
		if conv.LastMessage != nil {
			lastAt = sql.NullString{String: conv.LastMessage.When.UTC().Format(time.RFC3339Nano), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, conv.ID, string(conv.Kind), i, conv.UnreadCount, lastAt, string(body)); err != nil {
			return fmt.Errorf("insert conversation %s: %w", conv.ID, err)
		}
	}
	return tx.Commit()
}
