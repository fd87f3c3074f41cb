package schemasync

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"gateway-fleet-backend/internal/db"
	"gateway-fleet-backend/internal/model"
)

func newTestSynchronizer(t *testing.T) (*Synchronizer, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	testDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(testDB))
	return NewSynchronizer(testDB), testDB
}

func seedSchema(t *testing.T, testDB *gorm.DB, tenantID int64, version string, tables []TableDef, active bool) {
	t.Helper()
	raw, err := json.Marshal(tables)
	require.NoError(t, err)
	require.NoError(t, testDB.Create(&model.SchemaVersion{
		TenantID: tenantID,
		Version:  version,
		Tables:   string(raw),
		Active:   active,
	}).Error)
}

func TestSyncNoOpOnMatchingVersion(t *testing.T) {
	sync, testDB := newTestSynchronizer(t)
	seedSchema(t, testDB, 1, "v3", []TableDef{{Name: "readings"}}, true)

	plan, err := sync.Sync(context.Background(), 1, Report{CurrentVersion: "v3", KnownTables: []string{"readings"}})
	require.NoError(t, err)
	assert.Equal(t, "v3", plan.SchemaVersion)
	assert.Empty(t, plan.Operations)
}

func TestSyncFallsBackToDefaultSchema(t *testing.T) {
	sync, _ := newTestSynchronizer(t)

	plan, err := sync.Sync(context.Background(), 1, Report{CurrentVersion: "", KnownTables: nil})
	require.NoError(t, err)
	assert.Equal(t, DefaultVersion, plan.SchemaVersion)
	require.Len(t, plan.Operations, 1)
	assert.Equal(t, OpCreateTable, plan.Operations[0].Kind)
	assert.Equal(t, "telemetry_local", plan.Operations[0].Table)
	require.NotNil(t, plan.Operations[0].Def)
	assert.Equal(t, 7, plan.Operations[0].Def.RetentionDays)
}

func TestSyncIgnoresInactiveVersions(t *testing.T) {
	sync, testDB := newTestSynchronizer(t)
	seedSchema(t, testDB, 1, "v9", []TableDef{{Name: "custom"}}, false)

	plan, err := sync.Sync(context.Background(), 1, Report{CurrentVersion: "v9", KnownTables: []string{"custom"}})
	require.NoError(t, err)
	assert.Equal(t, DefaultVersion, plan.SchemaVersion)
}

func TestDiff(t *testing.T) {
	defined := []TableDef{
		{
			Name:    "readings",
			Columns: []ColumnDef{{Name: "id", Type: "INTEGER"}},
			Indexes: []IndexDef{{Name: "idx_readings_ts", Columns: []string{"ts"}}},
		},
		{Name: "events", Columns: []ColumnDef{{Name: "id", Type: "INTEGER"}}},
	}

	// Gateway knows "readings" and an obsolete "legacy" table.
	ops := Diff(defined, []string{"readings", "legacy"})

	kinds := make(map[string][]string)
	for _, op := range ops {
		kinds[op.Kind] = append(kinds[op.Kind], op.Table)
	}
	assert.Equal(t, []string{"events"}, kinds[OpCreateTable])
	assert.Equal(t, []string{"readings"}, kinds[OpCreateIndex])
	assert.Equal(t, []string{"legacy"}, kinds[OpDropTable])

	// CREATE_TABLE ships the full definition, never a column diff.
	for _, op := range ops {
		if op.Kind == OpCreateTable {
			require.NotNil(t, op.Def)
			assert.NotEmpty(t, op.Def.Columns)
		}
	}
}

func TestDiffEmptyInventoryCreatesEverything(t *testing.T) {
	defined := DefaultTables()
	ops := Diff(defined, nil)
	require.Len(t, ops, 1)
	assert.Equal(t, OpCreateTable, ops[0].Kind)
}
