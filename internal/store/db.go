package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")

// Store owns the reviewer and document tables.
type Store struct {
	db  *bun.DB
	now func() time.Time
}

// Open opens (creating if needed) the sqlite database at path and applies
// the schema. ":memory:" and "file:" DSNs are passed through untouched.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := path
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
		dsn = "file:" + path
	}
	if strings.Contains(dsn, "?") {
		dsn += "&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	} else {
		dsn += "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// sqlite serializes writers; one connection avoids SQLITE_BUSY churn
	// and keeps ":memory:" databases alive across queries.
	sqlDB.SetMaxOpenConns(1)
	return New(ctx, bun.NewDB(sqlDB, sqlitedialect.New()))
}

// New wraps an existing bun database and applies the schema.
func New(ctx context.Context, db *bun.DB) (*Store, error) {
	s := &Store{db: db, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping is used by readiness checks.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// DB exposes the bun handle for tests and maintenance.
func (s *Store) DB() *bun.DB { return s.db }

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := ExecRaw(ctx, s.db, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// execRawProvider accepts either *bun.DB or bun.Tx.
type execRawProvider interface {
	NewRaw(query string, args ...interface{}) *bun.RawQuery
}

func ExecRaw(ctx context.Context, exec execRawProvider, query string, args ...interface{}) (sql.Result, error) {
	return exec.NewRaw(query, args...).Exec(ctx)
}

func QueryRawInto(ctx context.Context, exec execRawProvider, dest interface{}, query string, args ...interface{}) error {
	return exec.NewRaw(query, args...).Scan(ctx, dest)
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func mustAffect(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func setInsertedID(res sql.Result, id *int64) {
	if *id != 0 {
		return
	}
	if n, err := res.LastInsertId(); err == nil {
		*id = n
	}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS reviewer_tutorials (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		git_url TEXT NOT NULL UNIQUE,
		local_path TEXT,
		description TEXT,
		branch TEXT DEFAULT 'main',
		enable_search BOOLEAN DEFAULT TRUE,
		max_search_rounds INTEGER DEFAULT 2,
		total_chapters INTEGER DEFAULT 0,
		total_issues INTEGER DEFAULT 0,
		high_issues INTEGER DEFAULT 0,
		medium_issues INTEGER DEFAULT 0,
		low_issues INTEGER DEFAULT 0,
		resolved_issues INTEGER DEFAULT 0,
		avg_depth_score REAL DEFAULT 0,
		avg_quality_score REAL DEFAULT 0,
		avg_readability_score REAL DEFAULT 0,
		overall_score REAL DEFAULT 0,
		readability_distribution TEXT,
		status TEXT DEFAULT 'pending',
		error_message TEXT,
		last_evaluated TIMESTAMP,
		evaluation_duration INTEGER,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reviewer_tutorials_status ON reviewer_tutorials(status)`,
	`CREATE TABLE IF NOT EXISTS reviewer_chapters (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tutorial_id INTEGER NOT NULL REFERENCES reviewer_tutorials(id) ON DELETE CASCADE,
		file_path TEXT NOT NULL,
		file_name TEXT NOT NULL,
		title TEXT,
		chapter_order INTEGER DEFAULT 0,
		word_count INTEGER DEFAULT 0,
		content_hash TEXT,
		raw_content TEXT,
		image_count INTEGER DEFAULT 0,
		content_type TEXT,
		summary_topic TEXT,
		summary_core_points TEXT,
		summary_key_terms TEXT,
		summary_fact_claims TEXT,
		depth_score INTEGER DEFAULT 0,
		quality_score INTEGER DEFAULT 0,
		readability_score INTEGER DEFAULT 0,
		readability_level TEXT,
		overall_score INTEGER DEFAULT 0,
		logic_score INTEGER DEFAULT 0,
		accuracy_score INTEGER DEFAULT 0,
		completeness_score INTEGER DEFAULT 0,
		vocabulary_score INTEGER DEFAULT 0,
		syntax_score INTEGER DEFAULT 0,
		discourse_score INTEGER DEFAULT 0,
		surface_score INTEGER DEFAULT 0,
		total_issues INTEGER DEFAULT 0,
		high_issues INTEGER DEFAULT 0,
		medium_issues INTEGER DEFAULT 0,
		low_issues INTEGER DEFAULT 0,
		status TEXT DEFAULT 'pending',
		error_message TEXT,
		evaluated_at TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reviewer_chapters_tutorial_id ON reviewer_chapters(tutorial_id)`,
	`CREATE TABLE IF NOT EXISTS reviewer_issues (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		chapter_id INTEGER NOT NULL REFERENCES reviewer_chapters(id) ON DELETE CASCADE,
		tutorial_id INTEGER NOT NULL REFERENCES reviewer_tutorials(id) ON DELETE CASCADE,
		category TEXT NOT NULL,
		issue_type TEXT NOT NULL,
		severity TEXT NOT NULL,
		location TEXT,
		description TEXT NOT NULL,
		suggestion TEXT,
		reference TEXT,
		priority INTEGER DEFAULT 5,
		estimated_effort TEXT DEFAULT 'medium',
		is_resolved BOOLEAN DEFAULT FALSE,
		resolved_at TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reviewer_issues_chapter_id ON reviewer_issues(chapter_id)`,
	`CREATE INDEX IF NOT EXISTS idx_reviewer_issues_tutorial_id ON reviewer_issues(tutorial_id)`,
	`CREATE INDEX IF NOT EXISTS idx_reviewer_issues_severity ON reviewer_issues(severity)`,
	`CREATE TABLE IF NOT EXISTS reviewer_images (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		chapter_id INTEGER NOT NULL REFERENCES reviewer_chapters(id) ON DELETE CASCADE,
		tutorial_id INTEGER NOT NULL REFERENCES reviewer_tutorials(id) ON DELETE CASCADE,
		image_path TEXT NOT NULL,
		image_url TEXT,
		alt_text TEXT,
		position INTEGER DEFAULT 0,
		description TEXT,
		detected_text TEXT,
		image_type TEXT,
		relevance_score REAL,
		quality_score INTEGER DEFAULT 0,
		issues TEXT,
		suggestions TEXT,
		status TEXT DEFAULT 'pending',
		error_message TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reviewer_images_chapter_id ON reviewer_images(chapter_id)`,
	`CREATE TABLE IF NOT EXISTS reviewer_search_references (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		chapter_id INTEGER NOT NULL REFERENCES reviewer_chapters(id) ON DELETE CASCADE,
		search_round INTEGER NOT NULL,
		search_query TEXT NOT NULL,
		search_purpose TEXT,
		source_url TEXT,
		source_title TEXT,
		source_domain TEXT,
		snippet TEXT,
		relevance_score REAL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reviewer_search_references_chapter_id ON reviewer_search_references(chapter_id)`,
	`CREATE TABLE IF NOT EXISTS reviewer_evaluation_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tutorial_id INTEGER NOT NULL REFERENCES reviewer_tutorials(id) ON DELETE CASCADE,
		total_chapters INTEGER,
		total_issues INTEGER,
		high_issues INTEGER,
		medium_issues INTEGER,
		low_issues INTEGER,
		resolved_issues INTEGER,
		overall_score REAL,
		avg_depth_score REAL,
		avg_quality_score REAL,
		avg_readability_score REAL,
		readability_distribution TEXT,
		result_summary TEXT,
		chapters_snapshot TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reviewer_evaluation_history_tutorial_id ON reviewer_evaluation_history(tutorial_id)`,
	`CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		file_name TEXT NOT NULL,
		file_path TEXT,
		file_size INTEGER DEFAULT 0,
		status TEXT DEFAULT 'pending',
		error_message TEXT,
		markdown_content TEXT,
		summary TEXT,
		images TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS document_chunks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		chunk_index INTEGER NOT NULL,
		title TEXT,
		content TEXT NOT NULL,
		start_pos INTEGER DEFAULT 0,
		end_pos INTEGER DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_document_chunks_document_id ON document_chunks(document_id)`,
}
