package migrations

import (
	"testing"
	"testing/fstest"

	dbmigrations "filecollection/db/migrations"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMigrationFiles_SortedUpOnly(t *testing.T) {
	fsys := fstest.MapFS{
		"0002_b.up.sql":   {Data: []byte("SELECT 2;")},
		"0001_a.up.sql":   {Data: []byte("SELECT 1;")},
		"0001_a.down.sql": {Data: []byte("SELECT 0;")},
		"README.md":       {Data: []byte("docs")},
	}

	files, err := loadMigrationFiles(fsys)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "0001_a.up.sql", files[0].Name)
	assert.Equal(t, "SELECT 2;", files[1].SQL)
}

func TestPending_SkipsApplied(t *testing.T) {
	files := []migrationFile{{Name: "0001_a.up.sql"}, {Name: "0002_b.up.sql"}}
	out := pending(files, map[string]bool{"0001_a.up.sql": true})
	require.Len(t, out, 1)
	assert.Equal(t, "0002_b.up.sql", out[0].Name)
}

func TestEmbeddedMigrationsCreateFilesTable(t *testing.T) {
	files, err := loadMigrationFiles(dbmigrations.UpFiles)
	require.NoError(t, err)
	require.NotEmpty(t, files)
	assert.Contains(t, files[0].SQL, "CREATE TABLE")
	assert.Contains(t, files[0].SQL, "files")
}
