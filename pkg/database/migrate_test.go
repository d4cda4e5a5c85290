package database

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationNamesSorted(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/002_indexes.sql": {Data: []byte("SELECT 1")},
		"migrations/001_schema.sql":  {Data: []byte("SELECT 1")},
		"migrations/README.md":       {Data: []byte("notes")},
	}
	names, err := migrationNames(fsys)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_schema.sql", "002_indexes.sql"}, names)
}

func TestEmbeddedSchemaPresent(t *testing.T) {
	names, err := migrationNames(migrationsFS)
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "001_schema.sql", names[0])
}
