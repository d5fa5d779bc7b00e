// Package results keeps every fit run and its per-object rows in a local
// SQLite database so past runs can be inspected, exported, and compared.
package results

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const (
	writeRetries    = 5
	writeRetryDelay = 10 * time.Millisecond
)

// Run is one fit run's record in the runs table.
type Run struct {
	ID             string     `json:"id"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"` // nil while the run is going
	ConfigSnapshot string     `json:"config_snapshot,omitempty"`
	EngineVersion  string     `json:"engine_version,omitempty"`
	Total          int        `json:"total"`
	Fitted         int        `json:"fitted"`
	Skipped        int        `json:"skipped"`
	Failed         int        `json:"failed"`
}

// ShortID returns the first eight hex digits of the run UUID, which is
// what the results listing prints and what users paste back in.
func (r *Run) ShortID() string {
	if len(r.ID) > 8 {
		return r.ID[:8]
	}
	return r.ID
}

// SuccessRate returns the fraction of attempted inputs that fitted.
// Skipped inputs are not attempts.
func (r *Run) SuccessRate() float64 {
	attempted := r.Fitted + r.Failed
	if attempted == 0 {
		return 0
	}
	return float64(r.Fitted) / float64(attempted)
}

// RunCounts carries the final tallies written back when a run finishes.
type RunCounts struct {
	Total   int
	Fitted  int
	Skipped int
	Failed  int
}

// FitResult is one fitted object's row in the fit_results table.
type FitResult struct {
	ID           int64     `json:"-"`
	RunID        string    `json:"run_id"`
	InputFile    string    `json:"input_file"`
	TargetID     string    `json:"targetid"`
	Vrad         float64   `json:"vrad"`
	VradErr      float64   `json:"vrad_err"`
	Teff         float64   `json:"teff"`
	Logg         float64   `json:"logg"`
	Feh          float64   `json:"feh"`
	Alpha        float64   `json:"alpha"`
	Vsini        float64   `json:"vsini"`
	Chisq        float64   `json:"chisq"`
	SN           float64   `json:"sn"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"error_message,omitempty"`
	DurationSecs float64   `json:"duration_seconds"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store manages the SQLite results database
type Store struct {
	db     *sql.DB
	dbPath string
}

// Open creates a Store and initializes the database schema
func Open(dbPath string) (*Store, error) {
	// Handle in-memory database
	if dbPath == ":memory:" {
		return openAndInitStore(dbPath)
	}

	// Ensure parent directory exists for file-based databases
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	return openAndInitStore(dbPath)
}

// openAndInitStore opens the database connection and initializes schema
func openAndInitStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Configure SQLite for concurrent workers recording into the same
	// database file. busy_timeout must come first so the later pragmas
	// themselves wait on locks instead of failing.
	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=-64000", // 64MB cache
	}

	for _, pragma := range pragmas {
		if err := execWithRetry(db, pragma, writeRetries, writeRetryDelay); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	store := &Store{
		db:     db,
		dbPath: dbPath,
	}

	if err := store.ApplyMigrations(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	return store, nil
}

// execWithRetry executes a SQL statement with exponential backoff retry on lock errors.
func execWithRetry(db *sql.DB, sqlStr string, maxRetries int, baseDelay time.Duration) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		_, err := db.Exec(sqlStr)
		if err == nil {
			return nil
		}

		// Only retry on "database is locked" errors
		if !strings.Contains(err.Error(), "database is locked") {
			return err
		}

		lastErr = err
		delay := baseDelay * time.Duration(1<<attempt)
		time.Sleep(delay)
	}
	return lastErr
}

// retryExec is the write path: exponential backoff on lock errors from
// concurrent fit processes sharing the database file.
func (s *Store) retryExec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	var lastErr error
	for attempt := 0; attempt < writeRetries; attempt++ {
		result, err := s.db.ExecContext(ctx, query, args...)
		if err == nil {
			return result, nil
		}
		if !strings.Contains(err.Error(), "database is locked") {
			return nil, err
		}
		lastErr = err
		time.Sleep(writeRetryDelay * time.Duration(1<<attempt))
	}
	return nil, lastErr
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// tableExists checks if a table exists in the database
func (s *Store) tableExists(tableName string) (bool, error) {
	var count int
	query := `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`
	err := s.db.QueryRow(query, tableName).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check table existence: %w", err)
	}
	return count > 0, nil
}

// indexExists checks if an index exists in the database
func (s *Store) indexExists(indexName string) (bool, error) {
	var count int
	query := `SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?`
	err := s.db.QueryRow(query, indexName).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check index existence: %w", err)
	}
	return count > 0, nil
}

// BeginRun inserts a new run row and returns it. The snapshot is the
// effective config serialized at launch; the engine version comes from
// preflight.
func (s *Store) BeginRun(ctx context.Context, configSnapshot, engineVersion string) (*Run, error) {
	run := &Run{
		ID:             uuid.New().String(),
		StartedAt:      time.Now().UTC(),
		ConfigSnapshot: configSnapshot,
		EngineVersion:  engineVersion,
	}

	query := `INSERT INTO runs (id, started_at, config_snapshot, engine_version)
		VALUES (?, ?, ?, ?)`
	if _, err := s.retryExec(ctx, query, run.ID, run.StartedAt, run.ConfigSnapshot, run.EngineVersion); err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}

	return run, nil
}

// FinishRun stamps the run's end time and final tallies.
func (s *Store) FinishRun(ctx context.Context, runID string, counts RunCounts) error {
	query := `UPDATE runs SET finished_at = ?, total = ?, fitted = ?, skipped = ?, failed = ?
		WHERE id = ?`
	result, err := s.retryExec(ctx, query,
		time.Now().UTC(), counts.Total, counts.Fitted, counts.Skipped, counts.Failed, runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

// RecordRows inserts the fit rows for one input in a single transaction.
func (s *Store) RecordRows(ctx context.Context, results []*FitResult) error {
	if len(results) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO fit_results
		(run_id, input_file, targetid, vrad, vrad_err, teff, logg, feh, alpha, vsini, chisq, sn, success, error_message, duration_seconds)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare fit result statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range results {
		result, err := stmt.ExecContext(ctx,
			r.RunID,
			r.InputFile,
			r.TargetID,
			r.Vrad,
			r.VradErr,
			r.Teff,
			r.Logg,
			r.Feh,
			r.Alpha,
			r.Vsini,
			r.Chisq,
			r.SN,
			r.Success,
			r.ErrorMessage,
			r.DurationSecs,
		)
		if err != nil {
			return fmt.Errorf("insert fit result: %w", err)
		}

		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("get last insert id: %w", err)
		}
		r.ID = id
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit fit results: %w", err)
	}
	return nil
}

const runColumns = `id, started_at, finished_at, config_snapshot, engine_version, total, fitted, skipped, failed`

// RecentRuns returns the newest runs first, up to limit (0 means all).
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	return scanRuns(rows)
}

// FindRun looks a run up by its full UUID or a unique prefix of it.
func (s *Store) FindRun(ctx context.Context, idOrPrefix string) (*Run, error) {
	if idOrPrefix == "" {
		return nil, fmt.Errorf("empty run ID")
	}

	query := `SELECT ` + runColumns + ` FROM runs WHERE id = ? OR id LIKE ? ORDER BY started_at DESC`
	rows, err := s.db.QueryContext(ctx, query, idOrPrefix, idOrPrefix+"%")
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}
	defer rows.Close()

	runs, err := scanRuns(rows)
	if err != nil {
		return nil, err
	}

	switch len(runs) {
	case 0:
		return nil, fmt.Errorf("run %s not found", idOrPrefix)
	case 1:
		return runs[0], nil
	default:
		return nil, fmt.Errorf("run ID %s is ambiguous (%d matches)", idOrPrefix, len(runs))
	}
}

func scanRuns(rows *sql.Rows) ([]*Run, error) {
	var runs []*Run
	for rows.Next() {
		run := &Run{}
		var finishedAt sql.NullTime
		var configSnapshot, engineVersion sql.NullString

		if err := rows.Scan(
			&run.ID,
			&run.StartedAt,
			&finishedAt,
			&configSnapshot,
			&engineVersion,
			&run.Total,
			&run.Fitted,
			&run.Skipped,
			&run.Failed,
		); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}

		if finishedAt.Valid {
			run.FinishedAt = &finishedAt.Time
		}
		if configSnapshot.Valid {
			run.ConfigSnapshot = configSnapshot.String
		}
		if engineVersion.Valid {
			run.EngineVersion = engineVersion.String
		}

		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run rows: %w", err)
	}
	return runs, nil
}

const fitResultColumns = `id, run_id, input_file, targetid, vrad, vrad_err, teff, logg, feh, alpha, vsini, chisq, sn, success, error_message, duration_seconds, created_at`

// RunResults returns the rows of one run in insertion order.
func (s *Store) RunResults(ctx context.Context, runID string) ([]*FitResult, error) {
	query := `SELECT ` + fitResultColumns + ` FROM fit_results WHERE run_id = ? ORDER BY id ASC`
	return s.queryResults(ctx, query, runID)
}

// TargetResults returns one target's fit history across runs, oldest
// first.
func (s *Store) TargetResults(ctx context.Context, targetID string) ([]*FitResult, error) {
	query := `SELECT ` + fitResultColumns + ` FROM fit_results WHERE targetid = ? ORDER BY id ASC`
	return s.queryResults(ctx, query, targetID)
}

// AllResults returns every recorded row in insertion order.
func (s *Store) AllResults(ctx context.Context) ([]*FitResult, error) {
	query := `SELECT ` + fitResultColumns + ` FROM fit_results ORDER BY id ASC`
	return s.queryResults(ctx, query)
}

func (s *Store) queryResults(ctx context.Context, query string, args ...interface{}) ([]*FitResult, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query fit results: %w", err)
	}
	defer rows.Close()

	var results []*FitResult
	for rows.Next() {
		r := &FitResult{}
		var targetID, errorMessage sql.NullString
		var duration sql.NullFloat64

		if err := rows.Scan(
			&r.ID,
			&r.RunID,
			&r.InputFile,
			&targetID,
			&r.Vrad,
			&r.VradErr,
			&r.Teff,
			&r.Logg,
			&r.Feh,
			&r.Alpha,
			&r.Vsini,
			&r.Chisq,
			&r.SN,
			&r.Success,
			&errorMessage,
			&duration,
			&r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan fit result row: %w", err)
		}

		if targetID.Valid {
			r.TargetID = targetID.String
		}
		if errorMessage.Valid {
			r.ErrorMessage = errorMessage.String
		}
		if duration.Valid {
			r.DurationSecs = duration.Float64
		}

		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fit result rows: %w", err)
	}
	return results, nil
}

// Failure pattern labels for results stats.
const (
	PatternTimeout         = "timeouts"
	PatternMissingTemplate = "missing templates"
	PatternEngineExit      = "engine exits"
	PatternOther           = "other failures"
)

// ClassifyFailure buckets an error message into a failure pattern label.
func ClassifyFailure(msg string) string {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "timeout"):
		return PatternTimeout
	case strings.Contains(lower, "template"):
		return PatternMissingTemplate
	case strings.Contains(lower, "exited with code"):
		return PatternEngineExit
	default:
		return PatternOther
	}
}

// Stats summarizes the whole results database.
type Stats struct {
	Runs             int
	Results          int
	Succeeded        int
	Failed           int
	SuccessRate      float64        // fraction of recorded rows that fitted
	MeanDurationSecs float64        // mean fit time of successful rows
	MeanChisq        float64        // mean chi-square of successful rows
	FailurePatterns  map[string]int // pattern label -> count
}

// GetStats computes the aggregate statistics behind `results stats`.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	query := `SELECT
		(SELECT COUNT(*) FROM runs),
		COUNT(*),
		COUNT(CASE WHEN success = 1 THEN 1 END),
		COUNT(CASE WHEN success = 0 THEN 1 END),
		AVG(CASE WHEN success = 1 THEN duration_seconds END),
		AVG(CASE WHEN success = 1 THEN chisq END)
		FROM fit_results`

	stats := &Stats{FailurePatterns: make(map[string]int)}
	var meanDuration, meanChisq sql.NullFloat64

	err := s.db.QueryRowContext(ctx, query).Scan(
		&stats.Runs,
		&stats.Results,
		&stats.Succeeded,
		&stats.Failed,
		&meanDuration,
		&meanChisq,
	)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}

	if stats.Results > 0 {
		stats.SuccessRate = float64(stats.Succeeded) / float64(stats.Results)
	}
	if meanDuration.Valid {
		stats.MeanDurationSecs = meanDuration.Float64
	}
	if meanChisq.Valid {
		stats.MeanChisq = meanChisq.Float64
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT error_message FROM fit_results WHERE success = 0 AND error_message IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("query failure messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var msg string
		if err := rows.Scan(&msg); err != nil {
			return nil, fmt.Errorf("scan failure message: %w", err)
		}
		stats.FailurePatterns[ClassifyFailure(msg)]++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate failure messages: %w", err)
	}

	return stats, nil
}

// ClearRun deletes one run and its rows. Accepts ID prefixes the way
// FindRun does. Returns the number of fit rows removed.
func (s *Store) ClearRun(ctx context.Context, idOrPrefix string) (int64, error) {
	run, err := s.FindRun(ctx, idOrPrefix)
	if err != nil {
		return 0, err
	}

	result, err := s.retryExec(ctx, `DELETE FROM fit_results WHERE run_id = ?`, run.ID)
	if err != nil {
		return 0, fmt.Errorf("delete fit results: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}

	if _, err := s.retryExec(ctx, `DELETE FROM runs WHERE id = ?`, run.ID); err != nil {
		return 0, fmt.Errorf("delete run: %w", err)
	}

	return deleted, nil
}

// ClearAll wipes every run and row. Returns the number of fit rows
// removed.
func (s *Store) ClearAll(ctx context.Context) (int64, error) {
	result, err := s.retryExec(ctx, `DELETE FROM fit_results`)
	if err != nil {
		return 0, fmt.Errorf("delete fit results: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}

	if _, err := s.retryExec(ctx, `DELETE FROM runs`); err != nil {
		return 0, fmt.Errorf("delete runs: %w", err)
	}

	return deleted, nil
}

// PruneRuns keeps the newest keep runs and deletes the rest with their
// rows. keep <= 0 means keep everything. Returns the number of runs
// removed.
func (s *Store) PruneRuns(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}

	keepQuery := `SELECT id FROM runs ORDER BY started_at DESC LIMIT ?`

	if _, err := s.retryExec(ctx,
		`DELETE FROM fit_results WHERE run_id NOT IN (`+keepQuery+`)`, keep); err != nil {
		return 0, fmt.Errorf("prune fit results: %w", err)
	}

	result, err := s.retryExec(ctx,
		`DELETE FROM runs WHERE id NOT IN (`+keepQuery+`)`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return deleted, nil
}
