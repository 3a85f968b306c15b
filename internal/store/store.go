// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package store persists paper records in SQLite and publishes immutable
// snapshots of the table to readers.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/paper-search/internal/table"
	"github.com/pdiddy/paper-search/pkg/types"
)

// ErrNotFound is returned when a key is not in the store.
var ErrNotFound = errors.New("paper not found")

// Store manages the papers table. Writes are serialised by an internal
// mutex; every committed write republishes the snapshot.
type Store struct {
	db       *sql.DB
	writeMu  sync.Mutex
	snapshot atomic.Pointer[Snapshot]
}

// Open opens or creates the database at cfg.DBPath and loads the initial
// snapshot. Use ":memory:" for a private in-memory store.
func Open(ctx context.Context, cfg types.StoreConfig) (*Store, error) {
	dsn := cfg.DBPath
	if dsn == "" {
		dsn = ":memory:"
	}
	if dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
		dsn += "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection keeps ":memory:" databases shared and makes write
	// ordering trivial.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.createSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	if err := s.refresh(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS papers (
			key TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			authors TEXT,
			date TEXT,
			abstract TEXT,
			link TEXT,
			download_links TEXT,
			local_file_path TEXT,
			scrape_error TEXT,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_papers_date ON papers(date)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// UpsertSummary counts the outcome of an Upsert.
type UpsertSummary struct {
	Inserted int
	Updated  int
}

// Upsert writes records in one transaction. A known key updates the row;
// it never adds a duplicate.
func (s *Store) Upsert(ctx context.Context, recs []types.PaperRecord) (UpsertSummary, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var summary UpsertSummary
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return summary, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	exists, err := tx.PrepareContext(ctx, `SELECT 1 FROM papers WHERE key = ?`)
	if err != nil {
		return summary, fmt.Errorf("preparing lookup: %w", err)
	}
	defer exists.Close()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO papers (key, title, authors, date, abstract, link, download_links, local_file_path, scrape_error, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
			title=excluded.title, authors=excluded.authors, date=excluded.date,
			abstract=excluded.abstract, link=excluded.link,
			download_links=excluded.download_links, local_file_path=excluded.local_file_path,
			scrape_error=excluded.scrape_error, updated_at=excluded.updated_at`)
	if err != nil {
		return summary, fmt.Errorf("preparing upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, r := range recs {
		r.EnsureKey()

		var one int
		switch err := exists.QueryRowContext(ctx, r.Key).Scan(&one); {
		case errors.Is(err, sql.ErrNoRows):
			summary.Inserted++
		case err != nil:
			return UpsertSummary{}, fmt.Errorf("looking up %s: %w", r.Key, err)
		default:
			summary.Updated++
		}

		linksJSON, _ := json.Marshal(r.DownloadLinks)
		if _, err := stmt.ExecContext(ctx,
			r.Key, r.Title, r.AuthorsString(), r.DateString(), r.Abstract, r.Link,
			string(linksJSON), r.LocalFilePath, r.ScrapeError, now,
		); err != nil {
			return UpsertSummary{}, fmt.Errorf("upserting %s: %w", r.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return UpsertSummary{}, fmt.Errorf("committing: %w", err)
	}
	if err := s.refresh(ctx); err != nil {
		return summary, err
	}
	return summary, nil
}

// ImportCSV upserts every record of the table at path.
func (s *Store) ImportCSV(ctx context.Context, path string) (UpsertSummary, error) {
	recs, err := table.Read(path)
	if err != nil {
		return UpsertSummary{}, fmt.Errorf("reading %s: %w", path, err)
	}
	return s.Upsert(ctx, recs)
}

// Get returns the record with the given key from the current snapshot.
func (s *Store) Get(key string) (types.PaperRecord, error) {
	rec, ok := s.Snapshot().Get(key)
	if !ok {
		return types.PaperRecord{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return rec, nil
}

// Count returns the number of records in the current snapshot.
func (s *Store) Count() int {
	return s.Snapshot().Len()
}

// Snapshot returns the most recently published snapshot. It never
// changes after publication.
func (s *Store) Snapshot() *Snapshot {
	return s.snapshot.Load()
}

// refresh reads the whole table and publishes a new snapshot.
func (s *Store) refresh(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, title, authors, date, abstract, link, download_links, local_file_path, scrape_error
		 FROM papers ORDER BY key`)
	if err != nil {
		return fmt.Errorf("querying papers: %w", err)
	}
	defer rows.Close()

	var recs []types.PaperRecord
	for rows.Next() {
		var (
			r                                    types.PaperRecord
			authors, date, abstract, link        sql.NullString
			linksJSON, localPath, scrapeErrorCol sql.NullString
		)
		if err := rows.Scan(&r.Key, &r.Title, &authors, &date, &abstract, &link,
			&linksJSON, &localPath, &scrapeErrorCol); err != nil {
			return fmt.Errorf("scanning row: %w", err)
		}
		r.Authors = types.SplitAuthors(authors.String)
		r.Date = types.ParseDate(date.String)
		r.Abstract = abstract.String
		r.Link = link.String
		r.LocalFilePath = localPath.String
		r.ScrapeError = scrapeErrorCol.String
		if linksJSON.Valid && linksJSON.String != "" {
			if err := json.Unmarshal([]byte(linksJSON.String), &r.DownloadLinks); err != nil {
				return fmt.Errorf("decoding download_links for %s: %w", r.Key, err)
			}
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("reading papers: %w", err)
	}

	s.snapshot.Store(NewSnapshot(recs))
	return nil
}

// Snapshot is an immutable, key-ordered view of the papers table.
type Snapshot struct {
	records []types.PaperRecord
	byKey   map[string]int
}

// NewSnapshot builds a snapshot from recs. Records are copied and sorted
// by key; a later duplicate key replaces an earlier one.
func NewSnapshot(recs []types.PaperRecord) *Snapshot {
	acc := table.NewAccumulator(recs...)
	sorted := acc.Records()
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	byKey := make(map[string]int, len(sorted))
	for i, r := range sorted {
		byKey[r.Key] = i
	}
	return &Snapshot{records: sorted, byKey: byKey}
}

// Len returns the number of records.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.records)
}

// Get returns the record with the given key.
func (s *Snapshot) Get(key string) (types.PaperRecord, bool) {
	if s == nil {
		return types.PaperRecord{}, false
	}
	i, ok := s.byKey[key]
	if !ok {
		return types.PaperRecord{}, false
	}
	return s.records[i], true
}

// Records returns a copy of the records in key order.
func (s *Snapshot) Records() []types.PaperRecord {
	if s == nil {
		return nil
	}
	out := make([]types.PaperRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Keys returns the record keys in order.
func (s *Snapshot) Keys() []string {
	if s == nil {
		return nil
	}
	keys := make([]string, len(s.records))
	for i, r := range s.records {
		keys[i] = r.Key
	}
	return keys
}
