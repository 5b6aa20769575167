package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/vsifs/vsifs-go/internal/storage/types"
)

// PostgresBackend stores objects as rows of a single table, namespaced by
// a bucket column.
type PostgresBackend struct {
	db     *sql.DB
	table  string
	bucket string
}

// NewPostgresBackend connects and creates the table if needed.
func NewPostgresBackend(connStr, table, bucket string) (*PostgresBackend, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	backend := newWithDB(db, table, bucket)
	if err := backend.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return backend, nil
}

func newWithDB(db *sql.DB, table, bucket string) *PostgresBackend {
	return &PostgresBackend{db: db, table: table, bucket: bucket}
}

func (p *PostgresBackend) initSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			path VARCHAR(4096) NOT NULL,
			bucket VARCHAR(255) NOT NULL,
			data BYTEA,
			size BIGINT NOT NULL DEFAULT 0,
			mode INTEGER NOT NULL DEFAULT 420,
			uid INTEGER NOT NULL DEFAULT 0,
			gid INTEGER NOT NULL DEFAULT 0,
			mtime TIMESTAMP NOT NULL DEFAULT NOW(),
			metadata JSONB,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
			PRIMARY KEY (bucket, path)
		);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_prefix ON %[1]s(bucket, path text_pattern_ops);
	`, p.table)

	_, err := p.db.ExecContext(ctx, query)
	return err
}

func (p *PostgresBackend) Read(ctx context.Context, path string) ([]byte, error) {
	return p.ReadRange(ctx, path, 0, -1)
}

// ReadRange lets the server slice the bytea so only the range is sent.
func (p *PostgresBackend) ReadRange(ctx context.Context, path string, offset, length int64) ([]byte, error) {
	if offset < 0 {
		offset = 0
	}
	var (
		query string
		args  []any
	)
	if length < 0 {
		query = fmt.Sprintf("SELECT substring(data FROM $3::bigint + 1) FROM %s WHERE path = $1 AND bucket = $2", p.table)
		args = []any{path, p.bucket, offset}
	} else {
		query = fmt.Sprintf("SELECT substring(data FROM $3::bigint + 1 FOR $4::bigint) FROM %s WHERE path = $1 AND bucket = $2", p.table)
		args = []any{path, p.bucket, offset, length}
	}

	var data []byte
	err := p.db.QueryRowContext(ctx, query, args...).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NotFound(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

func (p *PostgresBackend) Write(ctx context.Context, path string, data []byte) error {
	return p.WriteWithMetadata(ctx, path, data, nil)
}

func (p *PostgresBackend) WriteWithMetadata(ctx context.Context, path string, data []byte, metadata map[string]string) error {
	attr := types.AttrFromMetadata(metadata, int64(len(data)), time.Now())

	var meta []byte
	if len(metadata) > 0 {
		var err error
		if meta, err = json.Marshal(metadata); err != nil {
			return fmt.Errorf("failed to encode metadata: %w", err)
		}
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (path, bucket, data, size, mode, uid, gid, mtime, metadata, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (bucket, path)
		DO UPDATE SET
			data = EXCLUDED.data,
			size = EXCLUDED.size,
			mode = EXCLUDED.mode,
			uid = EXCLUDED.uid,
			gid = EXCLUDED.gid,
			mtime = EXCLUDED.mtime,
			metadata = EXCLUDED.metadata,
			updated_at = NOW()
	`, p.table)

	_, err := p.db.ExecContext(ctx, query, path, p.bucket, data, len(data),
		int(attr.Mode), int(attr.Uid), int(attr.Gid), attr.Mtime, nullJSON(meta))
	if err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

func nullJSON(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}

func (p *PostgresBackend) Delete(ctx context.Context, path string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE path = $1 AND bucket = $2", p.table)
	result, err := p.db.ExecContext(ctx, query, path, p.bucket)
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return types.NotFound(path)
	}
	return nil
}

// List lists keys with the given prefix.
func (p *PostgresBackend) List(ctx context.Context, prefix string) ([]string, error) {
	query := fmt.Sprintf(`SELECT path FROM %s WHERE bucket = $1 AND path LIKE $2 ESCAPE '\' ORDER BY path`, p.table)
	rows, err := p.db.QueryContext(ctx, query, p.bucket, likePrefix(prefix))
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, rows.Err()
}

// likePrefix escapes LIKE wildcards so the prefix matches literally.
func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}

func (p *PostgresBackend) GetAttr(ctx context.Context, path string) (*types.Attr, error) {
	query := fmt.Sprintf("SELECT size, mode, uid, gid, mtime FROM %s WHERE path = $1 AND bucket = $2", p.table)
	var (
		size     int64
		mode     int
		uid, gid int64
		mtime    time.Time
	)
	err := p.db.QueryRowContext(ctx, query, path, p.bucket).Scan(&size, &mode, &uid, &gid, &mtime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NotFound(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attributes: %w", err)
	}
	return &types.Attr{
		Size:  size,
		Mode:  uint32(mode),
		Uid:   uint32(uid),
		Gid:   uint32(gid),
		Mtime: mtime,
	}, nil
}

// GetMetadata returns the metadata stored with an object.
func (p *PostgresBackend) GetMetadata(ctx context.Context, path string) (map[string]string, error) {
	query := fmt.Sprintf("SELECT metadata FROM %s WHERE path = $1 AND bucket = $2", p.table)
	var raw []byte
	err := p.db.QueryRowContext(ctx, query, path, p.bucket).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NotFound(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get metadata: %w", err)
	}
	metadata := make(map[string]string)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}
	return metadata, nil
}

func (p *PostgresBackend) Rename(ctx context.Context, oldPath, newPath string) error {
	query := fmt.Sprintf("UPDATE %s SET path = $1, updated_at = NOW() WHERE path = $2 AND bucket = $3", p.table)
	result, err := p.db.ExecContext(ctx, query, newPath, oldPath, p.bucket)
	if err != nil {
		return fmt.Errorf("failed to rename: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return types.NotFound(oldPath)
	}
	return nil
}

func (p *PostgresBackend) Exists(ctx context.Context, path string) (bool, error) {
	query := fmt.Sprintf("SELECT 1 FROM %s WHERE path = $1 AND bucket = $2 LIMIT 1", p.table)
	var exists int
	err := p.db.QueryRowContext(ctx, query, path, p.bucket).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Close closes the database connection
func (p *PostgresBackend) Close() error {
	return p.db.Close()
}
