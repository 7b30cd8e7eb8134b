// Package storage owns the local SQLite database: cache entries and
// saved sales analyses.
package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for cache entries and saved
// analyses.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used by
// tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "salespanel.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Cache entries ---

// GetCacheValue returns the JSON value and update time for key.
func (s *Store) GetCacheValue(key string) (string, time.Time, error) {
	var value string
	var updatedAt int64
	err := s.db.QueryRow("SELECT value_json, updated_at FROM cache_entries WHERE key = ?", key).
		Scan(&value, &updatedAt)
	if err == sql.ErrNoRows {
		return "", time.Time{}, ErrNotFound
	}
	if err != nil {
		return "", time.Time{}, err
	}
	return value, time.UnixMilli(updatedAt), nil
}

// SetCacheValue upserts key with the given JSON value, stamped at updatedAt.
func (s *Store) SetCacheValue(key, valueJSON string, updatedAt time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO cache_entries (key, value_json, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value_json = excluded.value_json, updated_at = excluded.updated_at`,
		key, valueJSON, updatedAt.UnixMilli(),
	)
	return err
}

// DeleteCacheValue removes key. Missing keys are not an error.
func (s *Store) DeleteCacheValue(key string) error {
	_, err := s.db.Exec("DELETE FROM cache_entries WHERE key = ?", key)
	return err
}

// DeleteCacheValuesOlderThan removes every cache entry last updated before
// cutoff and returns the number removed.
func (s *Store) DeleteCacheValuesOlderThan(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec("DELETE FROM cache_entries WHERE updated_at < ?", cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ClearCache removes every cache entry regardless of age.
func (s *Store) ClearCache() error {
	_, err := s.db.Exec("DELETE FROM cache_entries")
	return err
}

// --- Saved analyses ---

const savedColumns = `id, user_id, domain, url, content_hash, title, description,
	what_they_do, target_customer, value_proposition, sales_angle,
	sales_readiness_score, best_persona, best_persona_reason,
	outreach_persona, outreach_goal, outreach_angle, outreach_message,
	created_at, last_analyzed_at`

// CreateSavedAnalysis inserts a new record. A (user_id, domain) collision
// returns ErrDuplicate.
func (s *Store) CreateSavedAnalysis(a SavedAnalysis) error {
	_, err := s.db.Exec(`
		INSERT INTO saved_analyses (`+savedColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.Domain, a.URL, a.ContentHash, a.Title, a.Description,
		a.WhatTheyDo, a.TargetCustomer, a.ValueProposition, a.SalesAngle,
		a.SalesReadinessScore, a.BestPersona, a.BestPersonaReason,
		a.OutreachPersona, a.OutreachGoal, a.OutreachAngle, a.OutreachMessage,
		a.CreatedAt.UTC().Format(time.RFC3339), a.LastAnalyzedAt.UTC().Format(time.RFC3339),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrDuplicate
	}
	return err
}

// GetSavedAnalysis returns a record by id.
func (s *Store) GetSavedAnalysis(id string) (SavedAnalysis, error) {
	row := s.db.QueryRow("SELECT "+savedColumns+" FROM saved_analyses WHERE id = ?", id)
	return scanSaved(row)
}

// GetSavedAnalysisByDomain returns the record for (userID, domain), the
// application-level uniqueness key.
func (s *Store) GetSavedAnalysisByDomain(userID, domain string) (SavedAnalysis, error) {
	row := s.db.QueryRow("SELECT "+savedColumns+" FROM saved_analyses WHERE user_id = ? AND domain = ?", userID, domain)
	return scanSaved(row)
}

// UpdateSavedAnalysis overwrites the analysis fields and last_analyzed_at of
// an existing record, leaving id, user, domain, and created_at alone.
func (s *Store) UpdateSavedAnalysis(a SavedAnalysis) error {
	res, err := s.db.Exec(`
		UPDATE saved_analyses SET
			url = ?, content_hash = ?, title = ?, description = ?,
			what_they_do = ?, target_customer = ?, value_proposition = ?, sales_angle = ?,
			sales_readiness_score = ?, best_persona = ?, best_persona_reason = ?,
			outreach_persona = ?, outreach_goal = ?, outreach_angle = ?, outreach_message = ?,
			last_analyzed_at = ?
		WHERE id = ?`,
		a.URL, a.ContentHash, a.Title, a.Description,
		a.WhatTheyDo, a.TargetCustomer, a.ValueProposition, a.SalesAngle,
		a.SalesReadinessScore, a.BestPersona, a.BestPersonaReason,
		a.OutreachPersona, a.OutreachGoal, a.OutreachAngle, a.OutreachMessage,
		a.LastAnalyzedAt.UTC().Format(time.RFC3339), a.ID,
	)
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

// DeleteSavedAnalysis removes a record by id, scoped to its owner.
func (s *Store) DeleteSavedAnalysis(userID, id string) error {
	res, err := s.db.Exec("DELETE FROM saved_analyses WHERE user_id = ? AND id = ?", userID, id)
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

// CountSavedAnalyses returns the number of records owned by userID.
func (s *Store) CountSavedAnalyses(userID string) (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM saved_analyses WHERE user_id = ?", userID).Scan(&n)
	return n, err
}

// sortColumns maps ListFilter.SortBy values to real columns. Anything else
// falls back to created_at.
var sortColumns = map[string]string{
	"created_at":       "created_at",
	"last_analyzed_at": "last_analyzed_at",
	"score":            "sales_readiness_score",
	"title":            "title",
}

// ListSavedAnalyses returns one page of userID's records matching f.
func (s *Store) ListSavedAnalyses(userID string, f ListFilter) ([]SavedAnalysis, error) {
	query := "SELECT " + savedColumns + " FROM saved_analyses WHERE user_id = ?"
	args := []any{userID}

	if f.ScoreMin != nil {
		query += " AND sales_readiness_score >= ?"
		args = append(args, *f.ScoreMin)
	}
	if f.ScoreMax != nil {
		query += " AND sales_readiness_score <= ?"
		args = append(args, *f.ScoreMax)
	}
	if f.Persona != "" {
		query += " AND best_persona = ?"
		args = append(args, f.Persona)
	}
	if f.Search != "" {
		query += " AND (title LIKE ? ESCAPE '\\' OR domain LIKE ? ESCAPE '\\' OR description LIKE ? ESCAPE '\\')"
		pattern := "%" + escapeLike(f.Search) + "%"
		args = append(args, pattern, pattern, pattern)
	}

	col, ok := sortColumns[f.SortBy]
	if !ok {
		col = "created_at"
	}
	dir := "ASC"
	if f.SortDesc {
		dir = "DESC"
	}
	query += fmt.Sprintf(" ORDER BY %s %s LIMIT ? OFFSET ?", col, dir)

	page := f.Page
	if page < 0 {
		page = 0
	}
	args = append(args, PageSize, page*PageSize)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SavedAnalysis
	for rows.Next() {
		a, err := scanSavedRows(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, a)
	}
	return results, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSavedFrom(sc rowScanner) (SavedAnalysis, error) {
	var a SavedAnalysis
	var createdAt, lastAnalyzedAt string
	err := sc.Scan(
		&a.ID, &a.UserID, &a.Domain, &a.URL, &a.ContentHash, &a.Title, &a.Description,
		&a.WhatTheyDo, &a.TargetCustomer, &a.ValueProposition, &a.SalesAngle,
		&a.SalesReadinessScore, &a.BestPersona, &a.BestPersonaReason,
		&a.OutreachPersona, &a.OutreachGoal, &a.OutreachAngle, &a.OutreachMessage,
		&createdAt, &lastAnalyzedAt,
	)
	if err == sql.ErrNoRows {
		return SavedAnalysis{}, ErrNotFound
	}
	if err != nil {
		return SavedAnalysis{}, err
	}
	if a.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return SavedAnalysis{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if a.LastAnalyzedAt, err = time.Parse(time.RFC3339, lastAnalyzedAt); err != nil {
		return SavedAnalysis{}, fmt.Errorf("parsing last_analyzed_at: %w", err)
	}
	return a, nil
}

func scanSaved(row *sql.Row) (SavedAnalysis, error)      { return scanSavedFrom(row) }
func scanSavedRows(rows *sql.Rows) (SavedAnalysis, error) { return scanSavedFrom(rows) }
