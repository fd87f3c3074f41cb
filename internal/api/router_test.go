package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"gateway-fleet-backend/config"
	"gateway-fleet-backend/internal/activation"
	"gateway-fleet-backend/internal/audit"
	"gateway-fleet-backend/internal/auth"
	"gateway-fleet-backend/internal/command"
	"gateway-fleet-backend/internal/db"
	"gateway-fleet-backend/internal/live"
	"gateway-fleet-backend/internal/model"
	"gateway-fleet-backend/internal/schemasync"
	"gateway-fleet-backend/internal/telemetry"
)

type testEnv struct {
	db     *gorm.DB
	router *gin.Engine
	creds  *auth.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	testDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(testDB))

	cfg := &config.Config{}
	cfg.ApplyDefaults()
	// Wide open so test traffic never trips the per-IP throttle.
	cfg.Server.RateLimitPerSec = 10000

	auditor := audit.NewRecorder(testDB)
	creds := auth.NewService("test-secret", cfg.Auth.TokenTTL)
	activationSvc := activation.NewService(activation.NewGormStore(testDB), creds, auditor, &cfg.Activation)

	latest := telemetry.NewCache(cfg.Telemetry.Staleness, cfg.Telemetry.Sweep)
	pipeline := telemetry.NewPipeline(latest, telemetry.NewGormPointStore(testDB), nil,
		cfg.Telemetry.IngestRatePerSec, cfg.Telemetry.IngestBurst, cfg.Telemetry.MaxBatchSize)

	queue := command.NewQueue(testDB)
	hub := live.NewHub(creds, pipeline, auditor)
	schemas := schemasync.NewSynchronizer(testDB)

	handler := NewHandler(cfg, testDB, activationSvc, creds, pipeline, queue, hub, schemas, auditor)
	return &testEnv{db: testDB, router: NewRouter(handler), creds: creds}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func seedCode(t *testing.T, testDB *gorm.DB, code string) {
	t.Helper()
	require.NoError(t, testDB.Create(&model.ActivationCode{
		Code:      code,
		Status:    model.CodeStatusIssued,
		UserID:    1,
		TenantID:  10,
		ExpiresAt: time.Now().Add(time.Hour),
	}).Error)
}

// activate runs a full activation and returns the issued token and gateway id.
func (e *testEnv) activate(t *testing.T, code, machineID string) (token, gatewayID string) {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/activate", "", gin.H{"code": code, "machineId": machineID})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	return body["token"].(string), body["gatewayId"].(string)
}

const testCode = "HERC-AAAA-BBBB-CCCC-DDDD"

func TestActivateLifecycle(t *testing.T) {
	env := newTestEnv(t)
	seedCode(t, env.db, testCode)

	_, first := env.activate(t, testCode, "m1")

	// Same machine replay is idempotent.
	_, again := env.activate(t, testCode, "m1")
	assert.Equal(t, first, again)

	var count int64
	env.db.Model(&model.Gateway{}).Count(&count)
	assert.Equal(t, int64(1), count)

	// A different machine is refused and the binding is untouched.
	w := env.do(t, http.MethodPost, "/api/activate", "", gin.H{"code": testCode, "machineId": "m2"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "MACHINE_MISMATCH", decode(t, w)["code"])
}

func TestActivateLegacyAliases(t *testing.T) {
	env := newTestEnv(t)
	seedCode(t, env.db, testCode)

	w := env.do(t, http.MethodPost, "/api/activate", "", gin.H{
		"activationCode":    testCode,
		"deviceFingerprint": "m1",
	})
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestActivateMissingMachineID(t *testing.T) {
	env := newTestEnv(t)
	seedCode(t, env.db, testCode)

	w := env.do(t, http.MethodPost, "/api/activate", "", gin.H{"code": testCode})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "MACHINE_ID_MISSING", decode(t, w)["code"])
}

func TestVersionedPrefixRewrite(t *testing.T) {
	env := newTestEnv(t)
	seedCode(t, env.db, testCode)

	w := env.do(t, http.MethodPost, "/api/v1/activate", "", gin.H{"code": testCode, "machineId": "m1"})
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestAuthenticatedEndpointsRejectMissingToken(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/heartbeat", "", gin.H{})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "TOKEN_MISSING", decode(t, w)["code"])

	w = env.do(t, http.MethodGet, "/api/config", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "TOKEN_INVALID", decode(t, w)["code"])
}

func TestPostDataCountsAddUp(t *testing.T) {
	env := newTestEnv(t)
	seedCode(t, env.db, testCode)
	token, gwID := env.activate(t, testCode, "m1")

	scale := 2.0
	require.NoError(t, env.db.Create(&model.Device{ID: 1, TenantID: 10, GatewayID: gwID, Name: "plc-1"}).Error)
	require.NoError(t, env.db.Create(&model.MonitoredPoint{
		ID: 1, DeviceID: 1, TenantID: 10, Name: "temp", DataType: model.DataTypeFloat,
		ScaleFactor: scale, Offset: 1, Enabled: true,
	}).Error)

	w := env.do(t, http.MethodPost, "/api/data", token, gin.H{
		"batchId": "b-1",
		"data": []gin.H{
			{"tagId": "temp", "value": 75.5, "quality": 192},
			{"tagId": "nope", "value": 1},
		},
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, float64(1), body["acceptedCount"])
	assert.Equal(t, float64(1), body["rejectedCount"])
}

func TestHeartbeatDeliversAndSettlesCommands(t *testing.T) {
	env := newTestEnv(t)
	seedCode(t, env.db, testCode)
	token, _ := env.activate(t, testCode, "m1")

	w := env.do(t, http.MethodPost, "/api/commands", token, gin.H{
		"commandType": "restart_agent",
		"parameters":  `{"delay":5}`,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	cmdID := decode(t, w)["commandId"].(string)

	// First heartbeat pulls the command and asks for fast polling.
	w = env.do(t, http.MethodPost, "/api/heartbeat", token, gin.H{"status": "ok"})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	cmds := body["commands"].([]any)
	require.Len(t, cmds, 1)
	assert.Equal(t, cmdID, cmds[0].(map[string]any)["id"])
	assert.Equal(t, float64(5000), body["nextHeartbeatMs"])

	// Second heartbeat reports completion; nothing left to deliver.
	w = env.do(t, http.MethodPost, "/api/heartbeat", token, gin.H{
		"status": "ok",
		"commandResults": []gin.H{
			{"commandId": cmdID, "status": model.CommandStatusCompleted},
		},
	})
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Empty(t, body["commands"])
	assert.Equal(t, float64(30000), body["nextHeartbeatMs"])

	var cmd model.GatewayCommand
	require.NoError(t, env.db.First(&cmd, "id = ?", cmdID).Error)
	assert.Equal(t, model.CommandStatusCompleted, cmd.Status)
}

func TestGetConfigReturnsPointsAndSchema(t *testing.T) {
	env := newTestEnv(t)
	seedCode(t, env.db, testCode)
	token, gwID := env.activate(t, testCode, "m1")

	require.NoError(t, env.db.Create(&model.Device{ID: 1, TenantID: 10, GatewayID: gwID, Name: "plc-1"}).Error)
	require.NoError(t, env.db.Create(&model.MonitoredPoint{
		ID: 1, DeviceID: 1, TenantID: 10, Name: "temp", DataType: model.DataTypeFloat, Enabled: true,
	}).Error)

	w := env.do(t, http.MethodGet, "/api/config", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)

	assert.Equal(t, schemasync.DefaultVersion, body["schemaVersion"])
	devices := body["devices"].([]any)
	require.Len(t, devices, 1)
	points := devices[0].(map[string]any)["points"].([]any)
	require.Len(t, points, 1)
	assert.Equal(t, "temp", points[0].(map[string]any)["name"])
}

func TestTableSyncReturnsPlan(t *testing.T) {
	env := newTestEnv(t)
	seedCode(t, env.db, testCode)
	token, _ := env.activate(t, testCode, "m1")

	w := env.do(t, http.MethodPost, "/api/tables/sync", token, gin.H{
		"currentVersion": "",
		"knownTables":    []string{},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, schemasync.DefaultVersion, body["schemaVersion"])
	ops := body["operations"].([]any)
	require.NotEmpty(t, ops)
	assert.Equal(t, schemasync.OpCreateTable, ops[0].(map[string]any)["kind"])
}

func TestTableStatusEnqueuesMaintenance(t *testing.T) {
	env := newTestEnv(t)
	seedCode(t, env.db, testCode)
	token, gwID := env.activate(t, testCode, "m1")

	w := env.do(t, http.MethodPost, "/api/tables/status", token, gin.H{
		"tables": []gin.H{
			{"name": "telemetry_local", "rowCount": 5_000_000, "sizeBytes": 1 << 20},
			{"name": "small", "rowCount": 10, "sizeBytes": 1024},
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	recs := decode(t, w)["recommendations"].([]any)
	require.Len(t, recs, 1)
	rec := recs[0].(map[string]any)
	assert.Equal(t, "cleanup", rec["action"])
	assert.NotEmpty(t, rec["commandId"])

	var cmd model.GatewayCommand
	require.NoError(t, env.db.First(&cmd, "id = ?", rec["commandId"]).Error)
	assert.Equal(t, gwID, cmd.GatewayID)
	assert.Equal(t, "cleanup", cmd.Type)
}

func TestRefreshRotatesToken(t *testing.T) {
	env := newTestEnv(t)
	seedCode(t, env.db, testCode)
	token, gwID := env.activate(t, testCode, "m1")

	w := env.do(t, http.MethodPost, "/api/refresh", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	fresh := decode(t, w)["token"].(string)
	require.NotEmpty(t, fresh)

	claims, err := env.creds.Verify(fresh)
	require.NoError(t, err)
	assert.Equal(t, gwID, claims.GatewayID)
}
