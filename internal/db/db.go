// Package db is the SQLite run store: one row per processed video in
// lane_runs and one row per frame in lane_samples. The schema is owned by
// the embedded migrations.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"time"

	"github.com/banshee-data/lane.report/internal/lane/l4distance"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var (
	// ErrRunNotFound is returned when a run id has no row in lane_runs.
	ErrRunNotFound = errors.New("run not found")

	// ErrStoreNotFound is returned by OpenExisting when path does not exist.
	ErrStoreNotFound = errors.New("run store not found")
)

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA temp_store=MEMORY",
	"PRAGMA foreign_keys=ON",
}

type DB struct {
	*sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// connection PRAGMAs. It does not migrate; call MigrateUp.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	// PRAGMAs are per connection; a single connection keeps them in force.
	sqlDB.SetMaxOpenConns(1)

	for _, pragma := range pragmas {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return &DB{sqlDB}, nil
}

// OpenAndMigrate opens the database and brings the schema up to date.
func OpenAndMigrate(path string) (*DB, error) {
	database, err := Open(path)
	if err != nil {
		return nil, err
	}
	if err := database.MigrateUp(); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}

// OpenExisting opens and migrates a store that must already exist. Readers
// use it so a mistyped path fails instead of creating an empty database.
func OpenExisting(path string) (*DB, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrStoreNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat database %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("database %s is a directory", path)
	}
	return OpenAndMigrate(path)
}

// Run is one processed video.
type Run struct {
	RunID         string `json:"run_id"`
	VideoPath     string `json:"video_path"`
	ConfigJSON    string `json:"config_json,omitempty"`
	StartedAtNs   int64  `json:"started_at_ns"`
	FinishedAtNs  *int64 `json:"finished_at_ns,omitempty"`
	FrameCount    int    `json:"frame_count"`
	DetectedCount int    `json:"detected_count"`
}

// StartedAt returns the start time in UTC.
func (r *Run) StartedAt() time.Time {
	return time.Unix(0, r.StartedAtNs).UTC()
}

// Finished reports whether FinishRun has been recorded.
func (r *Run) Finished() bool {
	return r.FinishedAtNs != nil
}

// DetectionRate is the fraction of frames with a defined distance.
func (r *Run) DetectionRate() float64 {
	if r.FrameCount == 0 {
		return 0
	}
	return float64(r.DetectedCount) / float64(r.FrameCount)
}

func (r *Run) String() string {
	status := "running"
	if r.Finished() {
		status = "finished"
	}
	return fmt.Sprintf("%s %s %s frames=%d detected=%d (%s)",
		r.RunID, r.StartedAt().Format(time.RFC3339), r.VideoPath, r.FrameCount, r.DetectedCount, status)
}

// CreateRun inserts a new run with a fresh UUID and returns it.
func (db *DB) CreateRun(ctx context.Context, videoPath, configJSON string, startedAt time.Time) (*Run, error) {
	run := &Run{
		RunID:       uuid.New().String(),
		VideoPath:   videoPath,
		ConfigJSON:  configJSON,
		StartedAtNs: startedAt.UnixNano(),
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO lane_runs (run_id, video_path, config_json, started_at_ns)
		VALUES (?, ?, ?, ?)`,
		run.RunID, run.VideoPath, nullString(run.ConfigJSON), run.StartedAtNs,
	)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// InsertSamples writes a batch of samples in one transaction. Undefined
// distances are stored as NULL.
func (db *DB) InsertSamples(ctx context.Context, runID string, samples []l4distance.Sample) error {
	if len(samples) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin sample batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO lane_samples (run_id, frame_index, seconds, distance_cm)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare sample insert: %w", err)
	}
	defer stmt.Close()

	for _, s := range samples {
		if _, err := stmt.ExecContext(ctx, runID, s.FrameIndex, s.TimestampSeconds, nullDistance(s.DistanceCM)); err != nil {
			return fmt.Errorf("insert sample %d: %w", s.FrameIndex, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sample batch: %w", err)
	}
	return nil
}

// FinishRun records the end time and frame counters of a run.
func (db *DB) FinishRun(ctx context.Context, runID string, finishedAt time.Time, frames, detected int) error {
	res, err := db.ExecContext(ctx, `
		UPDATE lane_runs
		SET finished_at_ns = ?, frame_count = ?, detected_count = ?
		WHERE run_id = ?`,
		finishedAt.UnixNano(), frames, detected, runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

const runColumns = `run_id, video_path, config_json, started_at_ns, finished_at_ns, frame_count, detected_count`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var configJSON sql.NullString
	var finishedAtNs sql.NullInt64

	if err := row.Scan(
		&run.RunID,
		&run.VideoPath,
		&configJSON,
		&run.StartedAtNs,
		&finishedAtNs,
		&run.FrameCount,
		&run.DetectedCount,
	); err != nil {
		return nil, err
	}

	if configJSON.Valid {
		run.ConfigJSON = configJSON.String
	}
	if finishedAtNs.Valid {
		v := finishedAtNs.Int64
		run.FinishedAtNs = &v
	}
	return &run, nil
}

// GetRun retrieves a run by id.
func (db *DB) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM lane_runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns all runs, most recently started first.
func (db *DB) ListRuns(ctx context.Context) ([]*Run, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+runColumns+` FROM lane_runs ORDER BY started_at_ns DESC, run_id`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Samples returns the samples of a run ordered by frame index. NULL
// distances come back as NaN.
func (db *DB) Samples(ctx context.Context, runID string) ([]l4distance.Sample, error) {
	if _, err := db.GetRun(ctx, runID); err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT frame_index, seconds, distance_cm
		FROM lane_samples
		WHERE run_id = ?
		ORDER BY frame_index`, runID)
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	var samples []l4distance.Sample
	for rows.Next() {
		var s l4distance.Sample
		var distance sql.NullFloat64
		if err := rows.Scan(&s.FrameIndex, &s.TimestampSeconds, &distance); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		s.DistanceCM = math.NaN()
		if distance.Valid {
			s.DistanceCM = distance.Float64
		}
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullDistance(d float64) sql.NullFloat64 {
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: d, Valid: true}
}
