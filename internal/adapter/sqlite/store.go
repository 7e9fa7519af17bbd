// Package sqlite persists the canonical crime series. Writes are atomic at
// the file level: each run builds a fresh staging database and renames it
// over the live path, so readers only ever see a complete snapshot.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	"github.com/boroughwatch/london-crime-etl/internal/domain"
)

// Table names mirror the published dataset's own naming so downstream
// consumers can swap sources without query changes.
const (
	combinedTable = "crime_borough_combined"
	dateLayout    = "2006-01-02"
)

// auditTableByKind maps source kinds to their per-granularity audit tables.
var auditTableByKind = map[domain.SourceKind]string{
	domain.KindBorough: "crime_borough_historical",
	domain.KindWard:    "crime_ward",
	domain.KindLSOA:    "crime_lsoa",
}

// Store reads and writes the crime database at a fixed path. A file lock next
// to the database serialises concurrent runs on the same path.
type Store struct {
	path   string
	lock   *flock.Flock
	logger *slog.Logger
}

// New creates a Store for the given database path. The file need not exist
// yet; the first write creates it.
func New(path string, logger *slog.Logger) *Store {
	return &Store{
		path:   path,
		lock:   flock.New(path + ".lock"),
		logger: logger,
	}
}

// Path returns the live database path.
func (s *Store) Path() string { return s.path }

// Lock acquires the run lock, blocking until it is free or the context is
// cancelled. Callers must Unlock when the run finishes.
func (s *Store) Lock(ctx context.Context) error {
	ok, err := s.lock.TryLockContext(ctx, 500*time.Millisecond)
	if err != nil {
		return &domain.StoreError{Path: s.path, Op: "lock", Err: err}
	}
	if !ok {
		return &domain.StoreError{Path: s.path, Op: "lock", Err: fmt.Errorf("lock not acquired")}
	}
	return nil
}

// Unlock releases the run lock.
func (s *Store) Unlock() error {
	return s.lock.Unlock()
}

// ReadCombined loads the existing combined series. A missing database file
// yields an empty table, which is the normal first-run state.
func (s *Store) ReadCombined(ctx context.Context) (*domain.CombinedTable, error) {
	table := domain.NewCombinedTable()

	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		return table, nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return nil, &domain.StoreError{Path: s.path, Op: "open", Err: err}
	}
	defer db.Close()

	if exists, err := tableExists(ctx, db, combinedTable); err != nil {
		return nil, &domain.StoreError{Path: s.path, Op: "read", Err: err}
	} else if !exists {
		return table, nil
	}

	rows, err := db.QueryContext(ctx,
		`SELECT boroughname, majortext, minortext, date, count, vintage FROM `+combinedTable)
	if err != nil {
		return nil, &domain.StoreError{Path: s.path, Op: "read", Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		var row domain.CombinedRow
		var date, vintage string
		if err := rows.Scan(&row.Borough, &row.Major, &row.Minor, &date, &row.Count, &vintage); err != nil {
			return nil, &domain.StoreError{Path: s.path, Op: "read", Err: err}
		}
		if row.Date, err = time.ParseInLocation(dateLayout, date, time.UTC); err != nil {
			return nil, &domain.StoreError{Path: s.path, Op: "read", Err: fmt.Errorf("bad date %q: %w", date, err)}
		}
		if row.Vintage, err = time.Parse(time.RFC3339, vintage); err != nil {
			return nil, &domain.StoreError{Path: s.path, Op: "read", Err: fmt.Errorf("bad vintage %q: %w", vintage, err)}
		}
		table.Put(row)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StoreError{Path: s.path, Op: "read", Err: err}
	}
	return table, nil
}

// Write publishes the combined table and the per-granularity audit records.
// The database is built in a staging file next to the live path and renamed
// into place, so a failed run never corrupts the published data.
func (s *Store) Write(ctx context.Context, table *domain.CombinedTable, audit map[domain.SourceKind][]domain.CanonicalRecord) error {
	staging := s.path + ".staging"
	if err := s.buildStaging(ctx, staging, table, audit); err != nil {
		_ = os.Remove(staging)
		return err
	}

	if err := os.Rename(staging, s.path); err != nil {
		_ = os.Remove(staging)
		return &domain.StoreError{Path: s.path, Op: "publish", Err: err}
	}

	s.logger.Info("database published", "path", s.path, "combined_rows", table.Len())
	return nil
}

func (s *Store) buildStaging(ctx context.Context, staging string, table *domain.CombinedTable, audit map[domain.SourceKind][]domain.CanonicalRecord) error {
	if err := os.MkdirAll(filepath.Dir(staging), 0o755); err != nil {
		return &domain.StoreError{Path: staging, Op: "create", Err: err}
	}
	_ = os.Remove(staging)

	db, err := sql.Open("sqlite", staging)
	if err != nil {
		return &domain.StoreError{Path: staging, Op: "open", Err: err}
	}
	defer db.Close()

	if err := createSchema(ctx, db); err != nil {
		return &domain.StoreError{Path: staging, Op: "schema", Err: err}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return &domain.StoreError{Path: staging, Op: "begin", Err: err}
	}
	defer tx.Rollback()

	if err := insertCombined(ctx, tx, table); err != nil {
		return &domain.StoreError{Path: staging, Op: "write", Err: err}
	}
	for _, kind := range sortedKinds(audit) {
		if err := insertAudit(ctx, tx, auditTableByKind[kind], audit[kind]); err != nil {
			return &domain.StoreError{Path: staging, Op: "write", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &domain.StoreError{Path: staging, Op: "commit", Err: err}
	}
	return nil
}

func createSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE ` + combinedTable + ` (
			boroughname TEXT NOT NULL,
			majortext   TEXT NOT NULL,
			minortext   TEXT NOT NULL,
			date        TEXT NOT NULL,
			count       INTEGER NOT NULL,
			vintage     TEXT NOT NULL,
			PRIMARY KEY (boroughname, majortext, minortext, date)
		)`,
	}
	for _, name := range auditTableByKind {
		stmts = append(stmts, `CREATE TABLE `+name+` (
			boroughname TEXT NOT NULL,
			geography   TEXT NOT NULL,
			majortext   TEXT NOT NULL,
			minortext   TEXT NOT NULL,
			date        TEXT NOT NULL,
			count       INTEGER NOT NULL
		)`)
	}
	stmts = append(stmts,
		`CREATE INDEX idx_combined_borough_date ON `+combinedTable+` (boroughname, date)`)

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", firstWords(stmt), err)
		}
	}
	return nil
}

func insertCombined(ctx context.Context, tx *sql.Tx, table *domain.CombinedTable) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO `+combinedTable+` (boroughname, majortext, minortext, date, count, vintage)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, row := range table.Rows() {
		_, err := stmt.ExecContext(ctx,
			row.Borough, row.Major, row.Minor,
			row.Date.Format(dateLayout), row.Count,
			row.Vintage.UTC().Format(time.RFC3339))
		if err != nil {
			return err
		}
	}
	return nil
}

func insertAudit(ctx context.Context, tx *sql.Tx, name string, records []domain.CanonicalRecord) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO `+name+` (boroughname, geography, majortext, minortext, date, count)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		_, err := stmt.ExecContext(ctx,
			r.Borough, r.Geography, r.Major, r.Minor, r.Date.Format(dateLayout), r.Count)
		if err != nil {
			return err
		}
	}
	return nil
}

func tableExists(ctx context.Context, db *sql.DB, name string) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func sortedKinds(audit map[domain.SourceKind][]domain.CanonicalRecord) []domain.SourceKind {
	kinds := make([]domain.SourceKind, 0, len(audit))
	for kind := range audit {
		if _, ok := auditTableByKind[kind]; ok {
			kinds = append(kinds, kind)
		}
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

func firstWords(stmt string) string {
	if len(stmt) > 40 {
		return stmt[:40]
	}
	return stmt
}
