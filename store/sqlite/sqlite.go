// Package sqlite implements academick.ChunkStore and academick.JobStore
// on pure-Go SQLite. Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/academick/academick"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store. When set, the store
// emits debug logs for every operation with timing and row counts.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store is backed by a local SQLite file. Embeddings are stored as JSON
// text; scoring happens in the search engine, not in SQL.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var (
	_ academick.ChunkStore = (*Store)(nil)
	_ academick.JobStore   = (*Store)(nil)
)

// New creates a Store using a local SQLite file at dbPath.
// All goroutines serialize through one connection, which also makes the
// guarded job updates and chapter publishes atomic with respect to each
// other.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: academick.NopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates all required tables and indexes. It is idempotent.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	ddl := []string{
		`PRAGMA journal_mode=WAL`,
		`CREATE TABLE IF NOT EXISTS chunks (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			book TEXT NOT NULL,
			chapter TEXT NOT NULL,
			topic TEXT NOT NULL,
			content TEXT NOT NULL,
			is_introduction INTEGER NOT NULL DEFAULT 0,
			dense TEXT NOT NULL,
			sparse TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_book ON chunks(book)`,
		`CREATE TABLE IF NOT EXISTS jobs (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			filename TEXT NOT NULL,
			book TEXT NOT NULL,
			source TEXT NOT NULL,
			status TEXT NOT NULL,
			stage TEXT NOT NULL,
			strategy TEXT NOT NULL DEFAULT '',
			chapters_total INTEGER NOT NULL DEFAULT 0,
			chapters_processed INTEGER NOT NULL DEFAULT 0,
			warnings TEXT NOT NULL DEFAULT '[]',
			error TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			finished_at INTEGER NOT NULL DEFAULT 0,
			dismissed INTEGER NOT NULL DEFAULT 0,
			cancel_requested INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status, seq)`,
	}
	for _, q := range ddl {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	s.logger.Info("sqlite: init completed", "duration", time.Since(start))
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.logger.Debug("sqlite: closing store")
	err := s.db.Close()
	if err != nil {
		s.logger.Error("sqlite: close failed", "error", err)
	}
	return err
}

// --- chunks ---

// PublishChapter inserts all chunks of one chapter in a single transaction.
func (s *Store) PublishChapter(ctx context.Context, chunks []academick.ChunkRecord) error {
	if len(chunks) == 0 {
		return nil
	}
	start := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (id, book, chapter, topic, content, is_introduction, dense, sparse)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		dense, err := json.Marshal(c.Dense)
		if err != nil {
			return fmt.Errorf("encode dense %s: %w", c.ID, err)
		}
		var sparse *string
		if len(c.Sparse) > 0 {
			data, err := json.Marshal(c.Sparse)
			if err != nil {
				return fmt.Errorf("encode sparse %s: %w", c.ID, err)
			}
			v := string(data)
			sparse = &v
		}
		if _, err := stmt.ExecContext(ctx, c.ID, c.Book, c.Chapter, c.Topic, c.Text,
			boolToInt(c.IsIntroduction), string(dense), sparse); err != nil {
			s.logger.Error("sqlite: insert chunk failed", "chunk_id", c.ID, "book", c.Book, "error", err)
			return fmt.Errorf("insert chunk: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	s.logger.Debug("sqlite: chapter published", "book", chunks[0].Book, "chapter", chunks[0].Chapter,
		"chunks", len(chunks), "duration", time.Since(start))
	return nil
}

// ScanChunks returns chunks in insertion order, optionally for one book.
func (s *Store) ScanChunks(ctx context.Context, book string) ([]academick.ChunkRecord, error) {
	start := time.Now()
	q := `SELECT seq, id, book, chapter, topic, content, is_introduction, dense, sparse FROM chunks`
	var args []any
	if book != "" {
		q += ` WHERE book = ?`
		args = append(args, book)
	}
	q += ` ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("scan chunks: %w", err)
	}
	defer rows.Close()

	var out []academick.ChunkRecord
	for rows.Next() {
		var (
			c      academick.ChunkRecord
			intro  int
			dense  string
			sparse sql.NullString
		)
		if err := rows.Scan(&c.Seq, &c.ID, &c.Book, &c.Chapter, &c.Topic, &c.Text, &intro, &dense, &sparse); err != nil {
			return nil, fmt.Errorf("scan chunk row: %w", err)
		}
		c.IsIntroduction = intro != 0
		if err := json.Unmarshal([]byte(dense), &c.Dense); err != nil {
			return nil, fmt.Errorf("decode dense %s: %w", c.ID, err)
		}
		if sparse.Valid && sparse.String != "" {
			if err := json.Unmarshal([]byte(sparse.String), &c.Sparse); err != nil {
				return nil, fmt.Errorf("decode sparse %s: %w", c.ID, err)
			}
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	s.logger.Debug("sqlite: chunks scanned", "book", book, "count", len(out), "duration", time.Since(start))
	return out, nil
}

// ListBooks returns every book with its chunk count, by name.
func (s *Store) ListBooks(ctx context.Context) ([]academick.BookInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT book, COUNT(*) FROM chunks GROUP BY book ORDER BY book`)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	defer rows.Close()
	var out []academick.BookInfo
	for rows.Next() {
		var b academick.BookInfo
		if err := rows.Scan(&b.Name, &b.Chunks); err != nil {
			return nil, fmt.Errorf("scan book row: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// DeleteBook removes every chunk of book.
func (s *Store) DeleteBook(ctx context.Context, book string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE book = ?`, book)
	if err != nil {
		return 0, fmt.Errorf("delete book: %w", err)
	}
	n, _ := res.RowsAffected()
	s.logger.Info("sqlite: book deleted", "book", book, "chunks", n)
	return int(n), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
