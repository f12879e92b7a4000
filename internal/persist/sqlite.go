package persist

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/conneroisu/pagecraft/internal/errors"
	"github.com/conneroisu/pagecraft/internal/store"
)

// SQLite is a Store backed by a single SQLite file.
type SQLite struct {
	conn *sql.DB
}

// OpenSQLite opens (or creates) the database at path. The special path
// ":memory:" keeps everything in memory.
func OpenSQLite(path string) (*SQLite, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.NewStorageError("create database directory", err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.NewStorageError("open sqlite", err)
	}
	// SQLite has a single writer; one connection also keeps :memory: shared.
	conn.SetMaxOpenConns(1)

	db := &SQLite{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, errors.NewStorageError("migrate", err)
	}
	return db, nil
}

func (db *SQLite) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS pages (
			project_id TEXT NOT NULL,
			id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			style_json TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			deleted_at DATETIME,
			PRIMARY KEY (project_id, id)
		)`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			project_id TEXT NOT NULL,
			page_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			snapshot_json TEXT NOT NULL,
			saved_at DATETIME NOT NULL,
			PRIMARY KEY (project_id, page_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pages_project ON pages(project_id)`,
	}
	for _, m := range migrations {
		if _, err := db.conn.Exec(m); err != nil {
			return fmt.Errorf("%s: %w", strings.SplitN(strings.TrimSpace(m), "(", 2)[0], err)
		}
	}
	return nil
}

func (db *SQLite) CreatePage(ctx context.Context, page Page) error {
	if err := checkPage(page); err != nil {
		return err
	}
	if page.CreatedAt.IsZero() {
		page.CreatedAt = time.Now().UTC()
	}
	styles, err := json.Marshal(page.Styles)
	if err != nil {
		return errors.NewStorageError("encode page styles", err)
	}

	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO pages (project_id, id, title, style_json, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT DO NOTHING`,
		page.ProjectID, page.ID, page.Title, string(styles), page.CreatedAt, page.CreatedAt)
	if err != nil {
		return errors.NewStorageError("insert page", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewDuplicateID(page.ID).WithPage(page.ID)
	}
	return nil
}

func (db *SQLite) DeletePage(ctx context.Context, projectID, pageID string, at time.Time) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewStorageError("begin", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE pages SET deleted_at = ?, updated_at = ?
		 WHERE project_id = ? AND id = ? AND deleted_at IS NULL`,
		at, at, projectID, pageID)
	if err != nil {
		return errors.NewStorageError("tombstone page", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewPageUnavailable(pageID)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM snapshots WHERE project_id = ? AND page_id = ?`, projectID, pageID); err != nil {
		return errors.NewStorageError("drop snapshot", err)
	}
	if err := tx.Commit(); err != nil {
		return errors.NewStorageError("commit", err)
	}
	return nil
}

const pageColumns = `project_id, id, title, style_json, created_at, updated_at, deleted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPage(row rowScanner) (Page, error) {
	var (
		page    Page
		styles  string
		deleted sql.NullTime
	)
	if err := row.Scan(&page.ProjectID, &page.ID, &page.Title, &styles,
		&page.CreatedAt, &page.UpdatedAt, &deleted); err != nil {
		return page, err
	}
	if err := json.Unmarshal([]byte(styles), &page.Styles); err != nil {
		return page, err
	}
	if deleted.Valid {
		at := deleted.Time
		page.DeletedAt = &at
	}
	return page, nil
}

func (db *SQLite) Page(ctx context.Context, projectID, pageID string) (Page, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+pageColumns+` FROM pages WHERE project_id = ? AND id = ?`, projectID, pageID)
	page, err := scanPage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Page{}, errors.NewPageUnavailable(pageID)
	}
	if err != nil {
		return Page{}, errors.NewStorageError("load page", err)
	}
	return page, nil
}

func (db *SQLite) ListPages(ctx context.Context, projectID string) ([]Page, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+pageColumns+` FROM pages WHERE project_id = ? ORDER BY id`, projectID)
	if err != nil {
		return nil, errors.NewStorageError("list pages", err)
	}
	defer rows.Close()

	var out []Page
	for rows.Next() {
		page, err := scanPage(rows)
		if err != nil {
			return nil, errors.NewStorageError("scan page", err)
		}
		out = append(out, page)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorageError("list pages", err)
	}
	return out, nil
}

// SaveSnapshot touches the live page row and upserts its snapshot in one
// transaction, so a save racing DeletePage never leaves a snapshot behind a
// tombstone.
func (db *SQLite) SaveSnapshot(ctx context.Context, projectID string, snap *store.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return errors.NewStorageError("encode snapshot", err)
	}

	now := time.Now().UTC()
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewStorageError("begin", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE pages SET updated_at = ?
		 WHERE project_id = ? AND id = ? AND deleted_at IS NULL`,
		now, projectID, snap.PageID)
	if err != nil {
		return errors.NewStorageError("touch page", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return errors.NewStorageError("touch page", err)
	} else if n == 0 {
		return errors.NewPageUnavailable(snap.PageID)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO snapshots (project_id, page_id, seq, snapshot_json, saved_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (project_id, page_id) DO UPDATE SET
		   seq = excluded.seq, snapshot_json = excluded.snapshot_json, saved_at = excluded.saved_at`,
		projectID, snap.PageID, int64(snap.Seq), string(data), now); err != nil {
		return errors.NewStorageError("save snapshot", err)
	}
	if err := tx.Commit(); err != nil {
		return errors.NewStorageError("commit", err)
	}
	return nil
}

func (db *SQLite) LoadSnapshot(ctx context.Context, projectID, pageID string) (*store.Snapshot, error) {
	var data string
	err := db.conn.QueryRowContext(ctx,
		`SELECT snapshot_json FROM snapshots WHERE project_id = ? AND page_id = ?`,
		projectID, pageID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewStorageError("load snapshot", err)
	}

	var snap store.Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, errors.NewStorageError("decode snapshot", err)
	}
	return &snap, nil
}

// Close closes the database.
func (db *SQLite) Close() error {
	return db.conn.Close()
}
