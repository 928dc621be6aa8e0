package runs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"wptspec/internal/logging"
	"wptspec/internal/productspec"
)

const schema = `
CREATE TABLE IF NOT EXISTS test_runs (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	browser_name       TEXT NOT NULL,
	browser_version    TEXT NOT NULL DEFAULT '',
	os_name            TEXT NOT NULL DEFAULT '',
	os_version         TEXT NOT NULL DEFAULT '',
	revision           TEXT NOT NULL DEFAULT '',
	full_revision_hash TEXT NOT NULL DEFAULT '',
	results_url        TEXT NOT NULL DEFAULT '',
	raw_results_url    TEXT NOT NULL DEFAULT '',
	created_at         INTEGER NOT NULL DEFAULT 0,
	time_start         INTEGER NOT NULL DEFAULT 0,
	time_end           INTEGER NOT NULL DEFAULT 0,
	labels             TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_test_runs_browser_start ON test_runs(browser_name, time_start DESC);
CREATE INDEX IF NOT EXISTS idx_test_runs_revision ON test_runs(revision);
`

const runColumns = `id, browser_name, browser_version, os_name, os_version, revision,
	full_revision_hash, results_url, raw_results_url, created_at, time_start, time_end, labels`

// Store persists test runs in SQLite.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex // serializes writes
	dbPath string
}

// Query selects runs from the store.
type Query struct {
	// Products to match; each product contributes up to MaxCount runs.
	Products productspec.ProductSpecs
	// MaxCount caps the runs returned per product; 0 means no cap.
	MaxCount int
	// Optional bounds on TimeStart.
	From, To time.Time
}

// Open initializes the SQLite database at path, creating it if needed.
func Open(path string, busyTimeout time.Duration) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "runs.Open")
	defer timer.Stop()

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	applyPragmas(db, busyTimeout)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logging.Store("opened run store at %s", path)
	return &Store{db: db, dbPath: path}, nil
}

// applyPragmas sets the connection pragmas. Failures are logged and the store
// keeps working with SQLite's defaults.
func applyPragmas(db *sql.DB, busyTimeout time.Duration) {
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout.Milliseconds())); err != nil {
		logging.StoreError("failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreError("failed to set sqlite journal_mode=WAL, concurrent readers will block: %v", err)
	}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put inserts run and sets its ID.
func (s *Store) Put(ctx context.Context, run *TestRun) error {
	if err := validate(run); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return insert(ctx, s.db, run)
}

// PutAll inserts runs in one transaction and sets their IDs. Either every run
// is stored or none is.
func (s *Store) PutAll(ctx context.Context, runs []TestRun) error {
	for i := range runs {
		if err := validate(&runs[i]); err != nil {
			return fmt.Errorf("run %d: %w", i, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	ids := make([]int64, len(runs))
	for i := range runs {
		run := runs[i]
		if err := insert(ctx, tx, &run); err != nil {
			tx.Rollback()
			return fmt.Errorf("run %d: %w", i, err)
		}
		ids[i] = run.ID
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit runs: %w", err)
	}
	for i := range runs {
		runs[i].ID = ids[i]
	}
	return nil
}

func validate(run *TestRun) error {
	if run.BrowserName == "" {
		return fmt.Errorf("test run has no browser name")
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func insert(ctx context.Context, db execer, run *TestRun) error {
	labels, err := json.Marshal(nonNil(run.Labels))
	if err != nil {
		return fmt.Errorf("failed to encode labels: %w", err)
	}
	res, err := db.ExecContext(ctx, `INSERT INTO test_runs (
		browser_name, browser_version, os_name, os_version, revision,
		full_revision_hash, results_url, raw_results_url, created_at, time_start, time_end, labels
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.BrowserName, run.BrowserVersion, run.OSName, run.OSVersion, run.Revision,
		run.FullRevisionHash, run.ResultsURL, run.RawResultsURL,
		unixNano(run.CreatedAt), unixNano(run.TimeStart), unixNano(run.TimeEnd), string(labels))
	if err != nil {
		return fmt.Errorf("failed to insert test run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read test run id: %w", err)
	}
	run.ID = id
	logging.StoreDebug("stored run %d (%s)", id, run.Spec())
	return nil
}

// Get loads one run by ID. It returns sql.ErrNoRows (wrapped) when absent.
func (s *Store) Get(ctx context.Context, id int64) (TestRun, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM test_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err != nil {
		return TestRun{}, fmt.Errorf("failed to load run %d: %w", id, err)
	}
	return run, nil
}

// Count returns the number of stored runs.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM test_runs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count runs: %w", err)
	}
	return n, nil
}

// List returns runs matching q, newest first within each product, products in
// the order given. A run matching several products is returned once per product.
func (s *Store) List(ctx context.Context, q Query) ([]TestRun, error) {
	var out []TestRun
	for _, spec := range q.Products {
		matched, err := s.matching(ctx, spec, q)
		if err != nil {
			return nil, err
		}
		out = append(out, matched...)
	}
	return out, nil
}

func (s *Store) matching(ctx context.Context, spec productspec.ProductSpec, q Query) ([]TestRun, error) {
	where := []string{"browser_name = ?"}
	args := []interface{}{spec.BrowserName}
	if !productspec.IsLatest(spec.Revision) {
		where = append(where, "revision = ?")
		args = append(args, spec.Revision)
	}
	if !q.From.IsZero() {
		where = append(where, "time_start >= ?")
		args = append(args, unixNano(q.From))
	}
	if !q.To.IsZero() {
		where = append(where, "time_start < ?")
		args = append(args, unixNano(q.To))
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM test_runs WHERE `+strings.Join(where, " AND ")+
			` ORDER BY time_start DESC, id DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs for %s: %w", spec, err)
	}
	defer rows.Close()

	var out []TestRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		// Labels and version prefixes are matched here rather than in SQL.
		if !Matches(spec, run) {
			continue
		}
		out = append(out, run)
		if q.MaxCount > 0 && len(out) >= q.MaxCount {
			break
		}
	}
	return out, rows.Err()
}

// Versions returns the distinct browser versions of runs matching spec with
// its version ignored, highest version first.
func (s *Store) Versions(ctx context.Context, spec productspec.ProductSpec) ([]string, error) {
	runs, err := s.matching(ctx, spec.WithoutVersion(), Query{})
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var versions []string
	for _, r := range runs {
		if r.BrowserVersion == "" || seen[r.BrowserVersion] {
			continue
		}
		seen[r.BrowserVersion] = true
		versions = append(versions, r.BrowserVersion)
	}
	sort.SliceStable(versions, func(i, j int) bool {
		return compareVersions(versions[i], versions[j]) > 0
	})
	return versions, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(sc scanner) (TestRun, error) {
	var (
		run                        TestRun
		created, started, finished int64
		labels                     string
	)
	err := sc.Scan(&run.ID, &run.BrowserName, &run.BrowserVersion, &run.OSName, &run.OSVersion,
		&run.Revision, &run.FullRevisionHash, &run.ResultsURL, &run.RawResultsURL,
		&created, &started, &finished, &labels)
	if err != nil {
		return TestRun{}, err
	}
	run.CreatedAt = fromUnixNano(created)
	run.TimeStart = fromUnixNano(started)
	run.TimeEnd = fromUnixNano(finished)
	if err := json.Unmarshal([]byte(labels), &run.Labels); err != nil {
		return TestRun{}, fmt.Errorf("run %d has corrupt labels: %w", run.ID, err)
	}
	return run, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func nonNil(labels []string) []string {
	if labels == nil {
		return []string{}
	}
	return labels
}

// compareVersions compares dot-separated versions numerically where both
// parts are numbers and lexically otherwise.
func compareVersions(a, b string) int {
	pa, pb := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(pa) && i < len(pb); i++ {
		na, errA := strconv.Atoi(pa[i])
		nb, errB := strconv.Atoi(pb[i])
		switch {
		case errA == nil && errB == nil:
			if na != nb {
				if na < nb {
					return -1
				}
				return 1
			}
		case pa[i] != pb[i]:
			return strings.Compare(pa[i], pb[i])
		}
	}
	return len(pa) - len(pb)
}
