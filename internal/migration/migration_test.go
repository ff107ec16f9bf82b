package migration

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/smallbiznis/stockline/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunAutoMigratesSqlite(t *testing.T) {
	db := dbtest.Open(t)
	require.NoError(t, Run(db))
	require.NoError(t, Run(db))

	for _, table := range []string{"queue_items", "queue_batches", "devices", "sku_match_results", "device_inspections", "inventory_rollups", "master_skus", "archived_records", "data_logs", "audit_logs"} {
		assert.True(t, db.Migrator().HasTable(table), table)
	}
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	require.NoError(t, err)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}
	require.NotEmpty(t, ups)
	assert.Equal(t, ups, downs)
}

func TestRunRejectsNilHandle(t *testing.T) {
	assert.Error(t, Run(nil))
	assert.Error(t, RunMigrations(nil))
}
