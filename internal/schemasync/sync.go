package schemasync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"gateway-fleet-backend/internal/model"
)

// Operation kinds emitted by the planner. Operations are declarative: each
// carries the full table definition so a gateway can apply them idempotently.
const (
	OpCreateTable = "CREATE_TABLE"
	OpCreateIndex = "CREATE_INDEX"
	OpDropTable   = "DROP_TABLE"
)

// ColumnDef describes one column of a gateway-local table.
type ColumnDef struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable,omitempty"`
}

// IndexDef describes one index of a gateway-local table.
type IndexDef struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique,omitempty"`
}

// TableDef is the authoritative definition of one gateway-local table.
type TableDef struct {
	Name          string      `json:"name"`
	Columns       []ColumnDef `json:"columns"`
	Indexes       []IndexDef  `json:"indexes,omitempty"`
	RetentionDays int         `json:"retentionDays,omitempty"`
}

// Operation is one convergence step for the gateway to apply.
type Operation struct {
	Kind  string    `json:"kind"`
	Table string    `json:"table"`
	Def   *TableDef `json:"def,omitempty"`
	Index *IndexDef `json:"index,omitempty"`
}

// Report is what a gateway says about its local storage.
type Report struct {
	CurrentVersion string   `json:"currentVersion"`
	KnownTables    []string `json:"knownTables"`
}

// Plan is the convergence result returned to the gateway.
type Plan struct {
	SchemaVersion string      `json:"schemaVersion"`
	Operations    []Operation `json:"operations"`
}

// DefaultVersion identifies the fallback layout used for tenants that have
// no custom schema.
const DefaultVersion = "default-v1"

// DefaultTables is the single-table fallback layout.
func DefaultTables() []TableDef {
	return []TableDef{{
		Name: "telemetry_local",
		Columns: []ColumnDef{
			{Name: "point_id", Type: "INTEGER"},
			{Name: "value", Type: "REAL"},
			{Name: "quality", Type: "TEXT"},
			{Name: "ts", Type: "INTEGER"},
		},
		Indexes: []IndexDef{
			{Name: "idx_telemetry_local_point_ts", Columns: []string{"point_id", "ts"}},
		},
		RetentionDays: 7,
	}}
}

// Synchronizer diffs a gateway's reported table inventory against the
// tenant's active schema version.
type Synchronizer struct {
	db *gorm.DB
}

// NewSynchronizer creates a schema synchronizer on the given database.
func NewSynchronizer(db *gorm.DB) *Synchronizer {
	return &Synchronizer{db: db}
}

// ActiveSchema loads the tenant's active schema version, or the default
// layout when the tenant has none.
func (s *Synchronizer) ActiveSchema(ctx context.Context, tenantID int64) (string, []TableDef, error) {
	var row model.SchemaVersion
	err := s.db.WithContext(ctx).
		First(&row, "tenant_id = ? AND active = ?", tenantID, true).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return DefaultVersion, DefaultTables(), nil
	}
	if err != nil {
		return "", nil, fmt.Errorf("failed to load active schema: %w", err)
	}

	var tables []TableDef
	if err := json.Unmarshal([]byte(row.Tables), &tables); err != nil {
		return "", nil, fmt.Errorf("failed to decode schema %s: %w", row.Version, err)
	}
	return row.Version, tables, nil
}

// Sync computes the operations a gateway must apply to converge on the
// active schema. A matching version yields an empty operation list.
func (s *Synchronizer) Sync(ctx context.Context, tenantID int64, report Report) (*Plan, error) {
	version, tables, err := s.ActiveSchema(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if report.CurrentVersion == version {
		return &Plan{SchemaVersion: version, Operations: []Operation{}}, nil
	}
	return &Plan{SchemaVersion: version, Operations: Diff(tables, report.KnownTables)}, nil
}

// Diff computes convergence operations between the defined tables and the
// gateway's known table names. Pure function.
func Diff(defined []TableDef, knownTables []string) []Operation {
	known := make(map[string]bool, len(knownTables))
	for _, name := range knownTables {
		known[name] = true
	}

	var ops []Operation
	active := make(map[string]bool, len(defined))
	for i := range defined {
		def := defined[i]
		active[def.Name] = true
		if !known[def.Name] {
			ops = append(ops, Operation{Kind: OpCreateTable, Table: def.Name, Def: &def})
			continue
		}
		// The gateway has the table; re-issue indexes declaratively so a
		// missing one gets created. CREATE_INDEX is idempotent on the agent.
		for j := range def.Indexes {
			ops = append(ops, Operation{Kind: OpCreateIndex, Table: def.Name, Index: &def.Indexes[j]})
		}
	}

	for _, name := range knownTables {
		if !active[name] {
			ops = append(ops, Operation{Kind: OpDropTable, Table: name})
		}
	}
	return ops
}
