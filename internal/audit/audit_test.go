package audit

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// A helper function to create a mock database connection.
func newTestDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock
}

func TestRecordInsertsEvent(t *testing.T) {
	gormDB, mock := newTestDB(t)
	recorder := NewRecorder(gormDB)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "audit_events"`).
		WithArgs(ActionActivate, true, int64(1), int64(10), "gw-1", "10.0.0.1", `{"code_prefix":"HERC-AAA"}`, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	recorder.Record(context.Background(), Event{
		Action:    ActionActivate,
		Success:   true,
		UserID:    1,
		TenantID:  10,
		GatewayID: "gw-1",
		SourceIP:  "10.0.0.1",
		Metadata:  map[string]any{"code_prefix": "HERC-AAA"},
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordSwallowsWriteFailure(t *testing.T) {
	gormDB, mock := newTestDB(t)
	recorder := NewRecorder(gormDB)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "audit_events"`).
		WillReturnError(gorm.ErrInvalidDB)
	mock.ExpectRollback()

	// Must not panic or propagate; audit failures never break the caller.
	recorder.Record(context.Background(), Event{Action: ActionRefresh})

	require.NoError(t, mock.ExpectationsWereMet())
}
