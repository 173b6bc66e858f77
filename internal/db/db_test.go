package db

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/banshee-data/lane.report/internal/lane/l4distance"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	database, err := OpenAndMigrate(filepath.Join(t.TempDir(), "lane.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func TestPragmasApplied(t *testing.T) {
	database := setupTestDB(t)

	var journalMode string
	require.NoError(t, database.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var busyTimeout int
	require.NoError(t, database.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
	assert.Equal(t, 5000, busyTimeout)

	var foreignKeys int
	require.NoError(t, database.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys))
	assert.Equal(t, 1, foreignKeys)
}

func TestOpenExisting(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "typo.db")

	_, err := OpenExisting(missing)
	assert.ErrorIs(t, err, ErrStoreNotFound)
	_, statErr := os.Stat(missing)
	assert.True(t, os.IsNotExist(statErr), "no file should be created")

	_, err = OpenExisting(dir)
	assert.ErrorContains(t, err, "is a directory")

	path := filepath.Join(dir, "lane.db")
	created, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, created.Close())

	// An existing store is brought up to date.
	database, err := OpenExisting(path)
	require.NoError(t, err)
	defer database.Close()
	runs, err := database.ListRuns(context.Background())
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestMigrateVersion(t *testing.T) {
	database, err := Open(filepath.Join(t.TempDir(), "fresh.db"))
	require.NoError(t, err)
	defer database.Close()

	version, dirty, err := database.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)
	assert.False(t, dirty)

	require.NoError(t, database.MigrateUp())
	version, dirty, err = database.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	// Re-running is a no-op.
	require.NoError(t, database.MigrateUp())

	require.NoError(t, database.MigrateDown())
	version, _, err = database.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	var n int
	require.NoError(t, database.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='lane_samples'`).Scan(&n))
	assert.Equal(t, 0, n)
}

func TestRunLifecycle(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()
	started := time.Date(2024, 5, 4, 10, 30, 0, 0, time.UTC)

	run, err := database.CreateRun(ctx, "/videos/drive.mkv", `{"workers":2}`, started)
	require.NoError(t, err)
	assert.Len(t, run.RunID, 36)
	assert.False(t, run.Finished())

	got, err := database.GetRun(ctx, run.RunID)
	require.NoError(t, err)
	if diff := cmp.Diff(run, got); diff != "" {
		t.Errorf("GetRun mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, started, got.StartedAt())

	finished := started.Add(90 * time.Second)
	require.NoError(t, database.FinishRun(ctx, run.RunID, finished, 2700, 2400))

	got, err = database.GetRun(ctx, run.RunID)
	require.NoError(t, err)
	require.True(t, got.Finished())
	assert.Equal(t, finished.UnixNano(), *got.FinishedAtNs)
	assert.Equal(t, 2700, got.FrameCount)
	assert.Equal(t, 2400, got.DetectedCount)
	assert.InDelta(t, 2400.0/2700.0, got.DetectionRate(), 1e-12)
	assert.Contains(t, got.String(), "finished")
}

func TestRunNotFound(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	_, err := database.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)

	err = database.FinishRun(ctx, "missing", time.Now(), 1, 1)
	assert.ErrorIs(t, err, ErrRunNotFound)

	_, err = database.Samples(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestSamplesRoundTripNaN(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	run, err := database.CreateRun(ctx, "clip.mp4", "", time.Unix(1700000000, 0))
	require.NoError(t, err)

	in := []l4distance.Sample{
		{FrameIndex: 0, TimestampSeconds: 0, DistanceCM: 34.31},
		{FrameIndex: 1, TimestampSeconds: 0.033, DistanceCM: math.NaN()},
		{FrameIndex: 2, TimestampSeconds: 0.067, DistanceCM: 35.04},
	}
	// Two batches, delivered out of order.
	require.NoError(t, database.InsertSamples(ctx, run.RunID, in[2:]))
	require.NoError(t, database.InsertSamples(ctx, run.RunID, in[:2]))
	require.NoError(t, database.InsertSamples(ctx, run.RunID, nil))

	var nulls int
	require.NoError(t, database.QueryRow(
		`SELECT COUNT(*) FROM lane_samples WHERE distance_cm IS NULL`).Scan(&nulls))
	assert.Equal(t, 1, nulls)

	got, err := database.Samples(ctx, run.RunID)
	require.NoError(t, err)
	if diff := cmp.Diff(in, got, cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("Samples mismatch (-want +got):\n%s", diff)
	}
}

func TestInsertSamplesBatchIsAtomic(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	run, err := database.CreateRun(ctx, "clip.mp4", "", time.Unix(0, 0))
	require.NoError(t, err)

	// Duplicate frame index violates the primary key and rolls back the batch.
	err = database.InsertSamples(ctx, run.RunID, []l4distance.Sample{
		{FrameIndex: 0, DistanceCM: 1},
		{FrameIndex: 0, DistanceCM: 2},
	})
	require.Error(t, err)

	got, err := database.Samples(ctx, run.RunID)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestInsertSamplesUnknownRun(t *testing.T) {
	database := setupTestDB(t)
	err := database.InsertSamples(context.Background(), "nope", []l4distance.Sample{{FrameIndex: 0}})
	assert.Error(t, err)
}

func TestListRunsNewestFirst(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	older, err := database.CreateRun(ctx, "a.mkv", "", base)
	require.NoError(t, err)
	newer, err := database.CreateRun(ctx, "b.mkv", "", base.Add(time.Hour))
	require.NoError(t, err)

	runs, err := database.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, newer.RunID, runs[0].RunID)
	assert.Equal(t, older.RunID, runs[1].RunID)
}
