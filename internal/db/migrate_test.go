// Package db tests for database migration management.
package db

import (
	"context"
	"database/sql"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

// TestParseMigrationName verifies filename parsing.
func TestParseMigrationName(t *testing.T) {
	tests := []struct {
		in      string
		version int
		desc    string
		ok      bool
	}{
		{"V1__queued_actions", 1, "queued_actions", true},
		{"V12__add__index", 12, "add__index", true},
		{"V0__zero", 0, "", false},
		{"Vx__bad", 0, "", false},
		{"V3", 0, "", false},
		{"V4__", 0, "", false},
	}
	for _, tt := range tests {
		version, desc, ok := parseMigrationName(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.version, version, tt.in)
		assert.Equal(t, tt.desc, desc, tt.in)
	}
}

// TestCurrentVersion_beforeInitialize verifies the table must exist first.
func TestCurrentVersion_beforeInitialize(t *testing.T) {
	m := NewMigrator(memoryDB(t), fstest.MapFS{})
	_, err := m.CurrentVersion(context.Background())
	assert.Error(t, err)
}

// TestUpDown verifies ordering, idempotence, checksums and rollback.
func TestUpDown(t *testing.T) {
	ctx := context.Background()
	db := memoryDB(t)
	files := fstest.MapFS{
		"V2__second.up.sql":   {Data: []byte("CREATE TABLE second (id INTEGER);")},
		"V2__second.down.sql": {Data: []byte("DROP TABLE second;")},
		"V1__first.up.sql":    {Data: []byte("CREATE TABLE first (id INTEGER);")},
		"V1__first.down.sql":  {Data: []byte("DROP TABLE first;")},
		"README.md":           {Data: []byte("ignored")},
		"Vbad__skip.up.sql":   {Data: []byte("THIS IS NOT SQL")},
	}
	m := NewMigrator(db, files)

	require.NoError(t, m.Initialize(ctx))
	require.NoError(t, m.Up(ctx))
	require.NoError(t, m.Up(ctx), "second Up must be a no-op")

	version, err := m.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	applied, err := m.GetAppliedMigrations(ctx)
	require.NoError(t, err)
	require.Len(t, applied, 2)
	assert.Equal(t, "first", applied[0].Description)
	assert.Len(t, applied[0].Checksum, 64)

	require.NoError(t, m.Down(ctx))
	version, err = m.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, version)

	_, err = db.Exec("INSERT INTO second (id) VALUES (1)")
	assert.Error(t, err, "table second should be dropped")
}

// TestDown_nothingApplied verifies rollback on an empty schema fails.
func TestDown_nothingApplied(t *testing.T) {
	ctx := context.Background()
	m := NewMigrator(memoryDB(t), fstest.MapFS{})
	require.NoError(t, m.Initialize(ctx))
	assert.Error(t, m.Down(ctx))
}

// TestUp_badSQL verifies a failing migration is not recorded.
func TestUp_badSQL(t *testing.T) {
	ctx := context.Background()
	m := NewMigrator(memoryDB(t), fstest.MapFS{
		"V1__broken.up.sql": {Data: []byte("CREATE TABLE (;")},
	})
	require.NoError(t, m.Initialize(ctx))
	assert.Error(t, m.Up(ctx))

	version, err := m.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, version)
}

// TestMigrations_embedded verifies the shipped migrations are discoverable.
func TestMigrations_embedded(t *testing.T) {
	files, err := NewMigrator(nil, Migrations()).upFiles()
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "queued_actions", files[0].description)
	assert.Equal(t, "daily_cycles", files[1].description)
}
