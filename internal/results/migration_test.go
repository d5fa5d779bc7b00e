package results

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsApplied(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	defer store.Close()

	versions, err := store.GetAppliedVersions()
	require.NoError(t, err)
	require.Len(t, versions, len(migrations))
	for i, v := range versions {
		assert.Equal(t, i+1, v.Version)
		assert.False(t, v.AppliedAt.IsZero())
	}

	applied, err := store.IsMigrationApplied(2)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = store.IsMigrationApplied(99)
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestMigrationsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "results.db")

	store, err := Open(dbPath)
	require.NoError(t, err)

	ctx := context.Background()
	run, err := store.BeginRun(ctx, "snapshot", "rvsfit 1.4.2")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// Reopening replays ApplyMigrations against an up-to-date schema.
	store, err = Open(dbPath)
	require.NoError(t, err)
	defer store.Close()

	version, err := store.GetLatestVersion()
	require.NoError(t, err)
	assert.Equal(t, 3, version)

	found, err := store.FindRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "rvsfit 1.4.2", found.EngineVersion, "engine_version column survives reopen")
	assert.Equal(t, "snapshot", found.ConfigSnapshot)
}

func TestAddColumnTolerated(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	defer store.Close()

	// Column already exists after the v2 migration; a second attempt is a no-op.
	ctx := context.Background()
	tx, err := store.db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback() // no-op if committed

	require.NoError(t, addColumnIfNotExistsTx(ctx, tx, "runs", "engine_version", "TEXT"))
	require.NoError(t, tx.Commit())
}
