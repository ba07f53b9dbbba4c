package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDatabaseCreatesSchema(t *testing.T) {
	db, err := NewDatabase(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)

	for _, table := range []string{"broker_connections", "journal_entries", "import_history"} {
		assert.True(t, db.Migrator().HasTable(table), table)
	}

	var count int64
	err = db.Raw(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = 'idx_journal_dedup'`).Scan(&count).Error
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestNewDatabaseIsReentrant(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	_, err := NewDatabase(path)
	require.NoError(t, err)
	_, err = NewDatabase(path)
	assert.NoError(t, err)
}
